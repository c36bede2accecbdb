package listcollector

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
	"golang.org/x/net/html"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/extractor"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/feedconf"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/urlutil"
)

var skippedHrefPrefixes = []string{"#", "javascript:", "mailto:", "tel:"}

// captureBuiltin lists links without a capture script. Syndication
// documents yield their entries; HTML pages yield every titled anchor,
// restricted to the configured elements when there are any.
func captureBuiltin(body []byte, pageURL string, sel feedconf.Selectors) ([]Item, error) {
	if looksLikeFeed(body) {
		if feed, err := gofeed.NewParser().Parse(bytes.NewReader(body)); err == nil {
			items := make([]Item, 0, len(feed.Items))
			for _, it := range feed.Items {
				link := strings.TrimSpace(it.Link)
				title := collapse(it.Title)
				if link == "" || title == "" {
					continue
				}
				items = append(items, Item{Link: urlutil.Join(pageURL, link), Title: title})
			}
			return items, nil
		}
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	scopes := []*html.Node{doc.Get(0)}
	if !sel.Empty() {
		// Bad paths are dropped; the remaining selectors still apply.
		scopes, _ = extractor.Select(doc.Get(0), sel)
	}

	var items []Item
	for _, scope := range scopes {
		goquery.NewDocumentFromNode(scope).Find("a[href]").Each(func(_ int, a *goquery.Selection) {
			href := strings.TrimSpace(a.AttrOr("href", ""))
			title := collapse(a.Text())
			if title == "" {
				title = collapse(a.AttrOr("title", ""))
			}
			if href == "" || title == "" || skippedHref(href) {
				return
			}
			items = append(items, Item{Link: urlutil.Join(pageURL, href), Title: title})
		})
	}
	return items, nil
}

func looksLikeFeed(body []byte) bool {
	head := body
	if len(head) > 1024 {
		head = head[:1024]
	}
	s := strings.ToLower(string(head))
	return strings.Contains(s, "<rss") || strings.Contains(s, "<feed") || strings.Contains(s, "<rdf:rdf")
}

func skippedHref(href string) bool {
	lower := strings.ToLower(href)
	for _, p := range skippedHrefPrefixes {
		if strings.HasPrefix(lower, p) {
			return true
		}
	}
	return false
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func renderItems(items []Item) []byte {
	var b bytes.Buffer
	for _, it := range items {
		b.WriteString(it.Line())
		b.WriteByte('\n')
	}
	return b.Bytes()
}
