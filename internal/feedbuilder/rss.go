package feedbuilder

import (
	"bufio"
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"os"
	"time"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/feedconf"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/listcollector"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/timeutil"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/urlutil"
)

// MaxContentLength bounds an item description.
const MaxContentLength = 64 * 1024

// TooLongWarning is prepended to a truncated description.
const TooLongWarning = "<strong>The article is too long to include in full. Please refer to the original URL.</strong><br/>"

const defaultGenerator = "feedmaker"

type rssDocument struct {
	XMLName xml.Name   `xml:"rss"`
	Version string     `xml:"version,attr"`
	Channel rssChannel `xml:"channel"`
}

type rssChannel struct {
	Title         string    `xml:"title"`
	Link          string    `xml:"link"`
	Description   string    `xml:"description"`
	Language      string    `xml:"language,omitempty"`
	Copyright     string    `xml:"copyright,omitempty"`
	LastBuildDate string    `xml:"lastBuildDate"`
	Generator     string    `xml:"generator"`
	Docs          string    `xml:"docs"`
	Items         []rssItem `xml:"item"`
}

type rssItem struct {
	Title       string  `xml:"title"`
	Link        string  `xml:"link"`
	Description string  `xml:"description,omitempty"`
	GUID        rssGUID `xml:"guid"`
	PubDate     string  `xml:"pubDate"`
}

type rssGUID struct {
	IsPermaLink string `xml:"isPermaLink,attr,omitempty"`
	Value       string `xml:",chardata"`
}

// RenderRSS builds the RSS 2.0 document for items, in order, reading each
// description from its cached snippet. Every element sits on its own line so
// the date lines can be told apart when comparing two documents.
func RenderRSS(feedDir string, conf feedconf.RSS, items []listcollector.Item, now time.Time) ([]byte, error) {
	date := timeutil.RSSDate(now)
	generator := conf.Generator
	if generator == "" {
		generator = defaultGenerator
	}
	doc := rssDocument{
		Version: "2.0",
		Channel: rssChannel{
			Title:         conf.Title,
			Link:          conf.Link,
			Description:   conf.Description,
			Language:      conf.Language,
			Copyright:     conf.Copyright,
			LastBuildDate: date,
			Generator:     generator,
			Docs:          "https://cyber.harvard.edu/rss/rss.html",
		},
	}

	for _, it := range items {
		item := rssItem{
			Title:   it.Title,
			Link:    it.Link,
			GUID:    guid(conf, it.Link),
			PubDate: date,
		}
		if !conf.NoItemDesc {
			content, err := readDescription(HTMLPath(feedDir, it.Link))
			if err != nil {
				return nil, err
			}
			item.Description = content
		}
		doc.Channel.Items = append(doc.Channel.Items, item)
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", " ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("encode rss: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func guid(conf feedconf.RSS, link string) rssGUID {
	if conf.URLPrefixForGUID != "" {
		return rssGUID{IsPermaLink: "false", Value: conf.URLPrefixForGUID + urlutil.Path(link)}
	}
	return rssGUID{Value: link}
}

// readDescription returns the snippet, cut at the first line boundary past
// MaxContentLength with TooLongWarning in front.
func readDescription(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("read snippet: %w", err)
	}
	defer f.Close()

	var content []byte
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		content = append(content, line...)
		if len(content) >= MaxContentLength {
			return TooLongWarning + string(content), nil
		}
		if err != nil {
			break
		}
	}
	return string(content), nil
}

// writeAndRotate renders the artifact into a dated temp file and rotates it
// into place. A cancelled context before the rotation discards the temp file.
func (b *Builder) writeAndRotate(
	ctx context.Context,
	feedDir, name string,
	conf feedconf.RSS,
	items []listcollector.Item,
	now time.Time,
	log logger.Logger,
) (bool, error) {
	log.Info("Generating rss feed file", logger.Int("items", len(items)))
	data, err := RenderRSS(feedDir, conf, items, now)
	if err != nil {
		return false, err
	}

	artifact := ArtifactPath(feedDir)
	tmp := TempArtifactPath(artifact, now)
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return false, fmt.Errorf("write rss: %w", err)
	}
	if err := ctx.Err(); err != nil {
		_ = os.Remove(tmp)
		return false, err
	}

	changed, err := Rotate(tmp, artifact)
	if err != nil {
		return false, err
	}
	if changed {
		log.Info("Replaced rss feed file", logger.String("path", b.env.Short(artifact)))
	} else {
		log.Info("No change in rss feed file", logger.String("path", b.env.Short(artifact)))
	}
	return changed, nil
}
