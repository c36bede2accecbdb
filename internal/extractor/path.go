package extractor

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

// ErrInvalidPath is returned by ParsePath for unsupported syntax.
var ErrInvalidPath = errors.New("invalid element path")

// TokenKind identifies one step of an element path.
type TokenKind int

const (
	// AnyDescendant makes the following step match at any depth.
	AnyDescendant TokenKind = iota
	// ChildByName matches every child element with the given tag.
	ChildByName
	// ChildByID matches the single descendant with the given id.
	ChildByID
	// Indexed matches the n-th (1-based) child element with the given tag.
	Indexed
)

// Token is one parsed path step.
type Token struct {
	Kind  TokenKind
	Name  string
	ID    string
	Index int
}

func (t Token) String() string {
	switch t.Kind {
	case AnyDescendant:
		return "//"
	case ChildByID:
		return fmt.Sprintf(`*[@id=%q]`, t.ID)
	case Indexed:
		return fmt.Sprintf("%s[%d]", t.Name, t.Index)
	default:
		return t.Name
	}
}

var (
	namedStep = regexp.MustCompile(`^(\w+)(?:\[(\d+)\])?$`)
	idStep    = regexp.MustCompile(`^\*\[@id="([^"]+)"\]$`)
)

// ParsePath turns an element path like //div[@id="x"]/div[2]/p into tokens.
// Leading html and body steps are dropped because paths are applied from
// the document body.
func ParsePath(path string) ([]Token, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidPath)
	}
	// //*[@id="x"] contains no inner slash, so splitting on / is safe.
	segments := strings.Split(path, "/")
	var tokens []Token
	leading := true
	for i, seg := range segments {
		if seg == "" {
			// A leading "/" separates nothing; "//" anywhere means descendant.
			if i > 0 && i < len(segments)-1 && (len(tokens) == 0 || tokens[len(tokens)-1].Kind != AnyDescendant) {
				tokens = append(tokens, Token{Kind: AnyDescendant})
			}
			continue
		}
		if leading && (seg == "html" || seg == "body") {
			tokens = tokens[:0]
			continue
		}
		leading = false

		if m := idStep.FindStringSubmatch(seg); m != nil {
			tokens = append(tokens, Token{Kind: ChildByID, ID: m[1]})
			continue
		}
		m := namedStep.FindStringSubmatch(seg)
		if m == nil {
			return nil, fmt.Errorf("%w: step %q in %q", ErrInvalidPath, seg, path)
		}
		name := strings.ToLower(m[1])
		if m[2] == "" {
			tokens = append(tokens, Token{Kind: ChildByName, Name: name})
			continue
		}
		idx, err := strconv.Atoi(m[2])
		if err != nil || idx < 1 {
			return nil, fmt.Errorf("%w: index in %q", ErrInvalidPath, seg)
		}
		tokens = append(tokens, Token{Kind: Indexed, Name: name, Index: idx})
	}
	if len(tokens) == 0 || tokens[len(tokens)-1].Kind == AnyDescendant {
		return nil, fmt.Errorf("%w: %q selects nothing", ErrInvalidPath, path)
	}
	return tokens, nil
}

// Match evaluates tokens from root and returns the matched nodes in
// document order without duplicates.
func Match(root *html.Node, tokens []Token) []*html.Node {
	if root == nil || len(tokens) == 0 {
		return nil
	}
	current := []*html.Node{root}
	for i := 0; i < len(tokens); i++ {
		tok := tokens[i]
		descendant := false
		if tok.Kind == AnyDescendant {
			if i+1 == len(tokens) {
				break
			}
			descendant = true
			i++
			tok = tokens[i]
		}
		var next []*html.Node
		for _, n := range current {
			next = append(next, step(n, tok, descendant)...)
		}
		current = dedupe(next)
		if len(current) == 0 {
			return nil
		}
	}
	return current
}

func step(n *html.Node, tok Token, descendant bool) []*html.Node {
	if tok.Kind == ChildByID {
		// An id is looked up in the whole subtree and must be unique.
		found := findAll(n, func(c *html.Node) bool { return attr(c, "id") == tok.ID })
		if len(found) != 1 {
			return nil
		}
		return found
	}
	matched := children(n, tok)
	if !descendant {
		return matched
	}
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(p *html.Node) {
		out = append(out, children(p, tok)...)
		for c := p.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				walk(c)
			}
		}
	}
	walk(n)
	return out
}

// children returns the element children of n selected by a named or
// indexed token.
func children(n *html.Node, tok Token) []*html.Node {
	var out []*html.Node
	seen := 0
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode || c.Data != tok.Name {
			continue
		}
		seen++
		if tok.Kind == Indexed {
			if seen == tok.Index {
				return []*html.Node{c}
			}
			continue
		}
		out = append(out, c)
	}
	return out
}

func findAll(n *html.Node, pred func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(p *html.Node) {
		for c := p.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if pred(c) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(n)
	return out
}

func dedupe(nodes []*html.Node) []*html.Node {
	seen := make(map[*html.Node]struct{}, len(nodes))
	out := nodes[:0]
	for _, n := range nodes {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if a.Key == key {
			return true
		}
	}
	return false
}
