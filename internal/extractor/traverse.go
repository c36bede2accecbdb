package extractor

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/net/html"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/urlutil"
)

var (
	hiddenStyle = regexp.MustCompile(`display\s*:\s*none|visibility\s*:\s*hidden`)
	blankText   = regexp.MustCompile(`^(\s*|html)$`)
	absoluteRef = regexp.MustCompile(`(https?:)?//`)
	absoluteImg = regexp.MustCompile(`((https?:)?//|data:image/png;)`)
)

// imageSourceAttrs are consulted in order before src.
var imageSourceAttrs = []string{"data-lazy-src", "lazy-src", "lazysrc", "data-src", "data-original", "o_src", "src"}

var flashMarkers = []string{".swf", "video_player.nhn", "getCommonPlayer.nhn"}

// skipped elements are dropped with their subtree.
var skipped = map[string]bool{
	"script":          true,
	"style":           true,
	"st1:personname":  true,
	"st1:time":        true,
	"o:p":             true,
	"v:shapetype":     true,
	"qksdmssnfl":      true,
	"qksdmssnfl<span": true,
}

var voidElements = map[string]bool{"br": true, "hr": true, "wbr": true}

var textEscaper = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&#x27;")

var attrEscaper = strings.NewReplacer("&", "&amp;", "'", "&#39;")

type traverser struct {
	itemURL string
}

func (t *traverser) render(n *html.Node) string {
	var b strings.Builder
	t.node(&b, n, false)
	return b.String()
}

func (t *traverser) resolve(ref string, pattern *regexp.Regexp) string {
	if pattern.MatchString(ref) {
		return ref
	}
	return urlutil.Join(t.itemURL, ref)
}

func (t *traverser) children(b *strings.Builder, n *html.Node) {
	// Tags are written with a trailing newline, so a text node opening a
	// container or following an element loses one leading newline. This keeps
	// a second pass over the output from growing it.
	afterTag := true
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		t.node(b, c, afterTag)
		afterTag = c.Type == html.ElementNode
	}
}

func (t *traverser) node(b *strings.Builder, n *html.Node, afterTag bool) {
	switch n.Type {
	case html.TextNode:
		t.text(b, n.Data, afterTag)
		return
	case html.DocumentNode:
		t.children(b, n)
		return
	case html.ElementNode:
	default:
		return
	}

	if hiddenStyle.MatchString(attr(n, "style")) || skipped[n.Data] {
		return
	}

	switch n.Data {
	case "p":
		b.WriteString("<p>\n")
		t.children(b, n)
		b.WriteString("</p>\n")
	case "img":
		if src := t.imageSource(n); src != "" {
			writeImg(b, src, n)
		}
	case "input":
		if hasClass(n, "origin_src") && hasAttr(n, "value") {
			writeImg(b, t.resolve(attr(n, "value"), absoluteRef), nil)
		}
	case "canvas":
		src := attr(n, "data-original")
		if src == "" {
			src = attr(n, "data-src")
		}
		if src != "" {
			writeImg(b, src, n)
		}
		t.children(b, n)
	case "a":
		if !hasAttr(n, "href") {
			t.children(b, n)
			return
		}
		b.WriteString("<a href='" + attrEscaper.Replace(t.resolve(attr(n, "href"), absoluteRef)) + "'")
		if hasAttr(n, "target") {
			b.WriteString(" target='" + attrEscaper.Replace(attr(n, "target")) + "'")
		}
		b.WriteString(">")
		t.children(b, n)
		b.WriteString("</a>\n")
	case "iframe", "embed":
		src := attr(n, "src")
		if src != "" && isFlash(src) {
			b.WriteString("<" + n.Data + " src='" + attrEscaper.Replace(src) + "'></" + n.Data + "><br/>\n")
			writeLink(b, src)
			return
		}
		writeVerbatim(b, n)
	case "object":
		if src := flashParam(n); src != "" {
			writeVideo(b, src)
			return
		}
		t.children(b, n)
	case "param":
		if attr(n, "name") == "Src" && strings.Contains(attr(n, "value"), ".swf") {
			writeVideo(b, attr(n, "value"))
		}
	case "map":
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type != html.ElementNode || c.Data != "area" {
				continue
			}
			href, title := "#", "empty link title"
			if hasAttr(c, "href") {
				href = attr(c, "href")
			}
			if hasAttr(c, "alt") {
				title = attr(c, "alt")
			}
			b.WriteString("<br/><br/><strong><a href='" + attrEscaper.Replace(href) + "'>" + textEscaper.Replace(title) + "</a></strong><br/><br/>\n")
		}
	case "pre":
		writeVerbatim(b, n)
		b.WriteString("\n")
	default:
		if voidElements[n.Data] {
			b.WriteString("<" + n.Data + "/>\n")
			return
		}
		b.WriteString("<" + n.Data + ">\n")
		t.children(b, n)
		b.WriteString("</" + n.Data + ">\n")
	}
}

func (t *traverser) text(b *strings.Builder, s string, afterTag bool) {
	if blankText.MatchString(s) {
		return
	}
	if afterTag {
		s = strings.TrimPrefix(s, "\n")
	}
	if utf8.ValidString(s) {
		b.WriteString(textEscaper.Replace(s))
		return
	}
	// Undecodable words are dropped, the rest of the text survives.
	for _, word := range strings.Split(s, " ") {
		if utf8.ValidString(word) {
			b.WriteString(" " + textEscaper.Replace(word))
		}
	}
}

func (t *traverser) imageSource(n *html.Node) string {
	for _, key := range imageSourceAttrs {
		v := attr(n, key)
		if v == "" {
			continue
		}
		src := t.resolve(v, absoluteImg)
		if strings.HasPrefix(src, "//") {
			src = "https:" + src
		}
		return src
	}
	return ""
}

func writeImg(b *strings.Builder, src string, n *html.Node) {
	b.WriteString("<img src='" + attrEscaper.Replace(src) + "'")
	if n != nil && hasAttr(n, "width") {
		b.WriteString(" width='" + attrEscaper.Replace(attr(n, "width")) + "'")
	}
	b.WriteString("/>\n")
}

func writeLink(b *strings.Builder, src string) {
	b.WriteString("<a href='" + attrEscaper.Replace(src) + "'>" + textEscaper.Replace(src) + "</a><br/>\n")
}

func writeVideo(b *strings.Builder, src string) {
	b.WriteString("<video src='" + attrEscaper.Replace(src) + "'></video><br/>\n")
	writeLink(b, src)
}

func writeVerbatim(b *strings.Builder, n *html.Node) {
	_ = html.Render(b, n)
}

func flashParam(n *html.Node) string {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.Data == "param" &&
			attr(c, "name") == "Src" && strings.Contains(attr(c, "value"), ".swf") {
			return attr(c, "value")
		}
	}
	return ""
}

func isFlash(src string) bool {
	for _, m := range flashMarkers {
		if strings.Contains(src, m) {
			return true
		}
	}
	return false
}

func hasClass(n *html.Node, class string) bool {
	for _, c := range strings.Fields(attr(n, "class")) {
		if c == class {
			return true
		}
	}
	return false
}
