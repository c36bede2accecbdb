// Package extractor turns a fetched article page into the normalized HTML
// fragment cached for each feed item.
package extractor

import (
	"errors"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/feedconf"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
)

// Preamble opens every extracted fragment.
const Preamble = `<meta http-equiv="Content-Type" content="text/html; charset=UTF-8"/>
<meta name="viewport" content="width=device-width, initial-scale=1.0, maximum-scale=1.0, minimum-scale=1.0, user-scalable=no"/>
<style>img { max-width: 100%; margin-top: 0; margin-bottom: 0; padding-top: 0; padding-bottom: 0; } table { border-width: thin; border-style: dashed; }</style>

`

// Header is what an extraction starts with. A fragment no longer than this
// carries no content.
const Header = Preamble + "\n"

// Extractor selects configured elements and normalizes them.
type Extractor struct {
	parsers []Parser
	log     logger.Logger
}

// New creates an Extractor using DefaultParsers.
func New(log logger.Logger) *Extractor {
	if log == nil {
		log = logger.NewNop()
	}
	return &Extractor{parsers: DefaultParsers(), log: log}
}

// Extract returns Header followed by the normalized content selected from
// rawHTML. Relative URLs are resolved against itemURL. An empty input
// yields an empty string.
func (e *Extractor) Extract(rawHTML, itemURL string, sel feedconf.Selectors) string {
	if rawHTML == "" {
		return ""
	}
	content := Sanitize(rawHTML)
	paths := e.parsePaths(sel.Paths)
	t := &traverser{itemURL: itemURL}

	var out string
	var last *html.Node
	for _, p := range e.parsers {
		doc, err := p.Parse(content)
		if err != nil {
			e.log.Debug("Parser failed", logger.String("parser", p.Name), logger.Error(err))
			continue
		}
		last = doc
		out = e.selectAll(t, doc, sel, paths)
		if strings.TrimSpace(out) != "" {
			break
		}
		e.log.Debug("Parser selected nothing", logger.String("parser", p.Name), logger.String("url", itemURL))
	}

	// With every selector kind configured the whole body is appended as well.
	if len(sel.Classes) > 0 && len(sel.IDs) > 0 && len(sel.Paths) > 0 && last != nil {
		if b := body(last); b != nil {
			out += t.render(b)
		}
	}
	return Header + out
}

func (e *Extractor) parsePaths(paths []string) [][]Token {
	out := make([][]Token, 0, len(paths))
	for _, p := range paths {
		tokens, err := ParsePath(p)
		if err != nil {
			e.log.Warn("Ignoring element path", logger.String("path", p), logger.Error(err))
			continue
		}
		out = append(out, tokens)
	}
	return out
}

func (e *Extractor) selectAll(t *traverser, doc *html.Node, sel feedconf.Selectors, paths [][]Token) string {
	var b strings.Builder
	for _, n := range selectNodes(doc, sel.Classes, sel.IDs, paths) {
		b.WriteString(t.render(n))
	}
	return b.String()
}

// Select returns the nodes of doc matched by sel, classes first, then ids,
// then paths. An unparsable path is reported after the others are applied.
func Select(doc *html.Node, sel feedconf.Selectors) ([]*html.Node, error) {
	var errs []error
	paths := make([][]Token, 0, len(sel.Paths))
	for _, p := range sel.Paths {
		tokens, err := ParsePath(p)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		paths = append(paths, tokens)
	}
	return selectNodes(doc, sel.Classes, sel.IDs, paths), errors.Join(errs...)
}

func selectNodes(doc *html.Node, classes, ids []string, paths [][]Token) []*html.Node {
	var out []*html.Node
	all := goquery.NewDocumentFromNode(doc).Find("*")

	for _, class := range classes {
		out = append(out, all.FilterFunction(func(_ int, s *goquery.Selection) bool {
			v, ok := s.Attr("class")
			return ok && (v == class || slices.Contains(strings.Fields(v), class))
		}).Nodes...)
	}
	for _, id := range ids {
		out = append(out, all.FilterFunction(func(_ int, s *goquery.Selection) bool {
			v, ok := s.Attr("id")
			return ok && v == id
		}).Nodes...)
	}
	if root := body(doc); root != nil {
		for _, tokens := range paths {
			out = append(out, Match(root, tokens)...)
		}
	}
	return out
}
