package extractor

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Parser turns markup into a node tree.
type Parser struct {
	Name  string
	Parse func(string) (*html.Node, error)
}

// DefaultParsers are tried in order until one yields content.
func DefaultParsers() []Parser {
	return []Parser{
		{Name: "permissive", Parse: parsePermissive},
		{Name: "html5", Parse: parseHTML5},
		{Name: "lenient-xml", Parse: parseLenientXML},
	}
}

// parsePermissive parses with scripting disabled so <noscript> fallbacks
// (often the only real <img> on lazy-loading pages) become elements.
func parsePermissive(s string) (*html.Node, error) {
	return html.ParseWithOptions(strings.NewReader(s), html.ParseOptionEnableScripting(false))
}

func parseHTML5(s string) (*html.Node, error) {
	return html.Parse(strings.NewReader(s))
}

// parseLenientXML reads the markup as non-strict XML with HTML auto-closing
// and entities, building the same node type the HTML parsers produce.
func parseLenientXML(s string) (*html.Node, error) {
	dec := xml.NewDecoder(strings.NewReader(s))
	dec.Strict = false
	dec.AutoClose = xml.HTMLAutoClose
	dec.Entity = xml.HTMLEntity

	doc := &html.Node{Type: html.DocumentNode}
	stack := []*html.Node{doc}
	top := func() *html.Node { return stack[len(stack)-1] }

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if doc.FirstChild == nil {
				return nil, fmt.Errorf("lenient xml: %w", err)
			}
			// Keep whatever was read before the syntax error.
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			name := xmlName(t.Name)
			n := &html.Node{Type: html.ElementNode, Data: name, DataAtom: atom.Lookup([]byte(name))}
			for _, a := range t.Attr {
				n.Attr = append(n.Attr, html.Attribute{Key: xmlName(a.Name), Val: a.Value})
			}
			top().AppendChild(n)
			stack = append(stack, n)
		case xml.EndElement:
			name := xmlName(t.Name)
			for i := len(stack) - 1; i > 0; i-- {
				if stack[i].Data == name {
					stack = stack[:i]
					break
				}
			}
		case xml.CharData:
			top().AppendChild(&html.Node{Type: html.TextNode, Data: string(t)})
		case xml.Comment:
			top().AppendChild(&html.Node{Type: html.CommentNode, Data: string(t)})
		}
	}
	return doc, nil
}

func xmlName(n xml.Name) string {
	local := strings.ToLower(n.Local)
	if n.Space == "" || strings.Contains(n.Space, "/") {
		return local
	}
	return strings.ToLower(n.Space) + ":" + local
}

// body returns the <body> element of doc, or the first element when the
// tree has none.
func body(doc *html.Node) *html.Node {
	var first, found *html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil && found == nil; c = c.NextSibling {
			if c.Type != html.ElementNode {
				continue
			}
			if first == nil {
				first = c
			}
			if c.Data == "body" {
				found = c
				return
			}
			walk(c)
		}
	}
	walk(doc)
	if found != nil {
		return found
	}
	return first
}
