package accesslog

import (
	"regexp"
	"time"
)

// Kind tells an access of the feed document from a view of one of its items.
type Kind string

const (
	KindAccess Kind = "access"
	KindView   Kind = "view"
)

const logTimeLayout = "02/Jan/2006:15:04:05 -0700"

var (
	requestLine = regexp.MustCompile(`\[(?P<time>[^\]]+)\] "GET (?P<uri>[^ ]+) HTTP[^"]+" (?P<status>\d+)`)
	feedURI     = regexp.MustCompile(`/xml/(?P<feed>.+)\.xml`)
	pixelURI    = regexp.MustCompile(`/img/1x1\.jpg\?feed=(?P<feed>[^&]+)\.xml&item=`)
)

// Event is one successful request for a feed or its tracking pixel.
type Event struct {
	Kind Kind
	Feed string
	Time time.Time
}

// ParseLine extracts the event of a combined-log request line. Feed
// requests count with status 200 or 304, pixel requests only with 200.
func ParseLine(line string) (Event, bool) {
	m := requestLine.FindStringSubmatch(line)
	if m == nil {
		return Event{}, false
	}
	ts, uri, status := m[1], m[2], m[3]
	if status != "200" && status != "304" {
		return Event{}, false
	}
	t, err := time.Parse(logTimeLayout, ts)
	if err != nil {
		return Event{}, false
	}
	if pm := pixelURI.FindStringSubmatch(uri); pm != nil {
		if status != "200" {
			return Event{}, false
		}
		return Event{Kind: KindView, Feed: pm[1], Time: t}, true
	}
	if fm := feedURI.FindStringSubmatch(uri); fm != nil {
		return Event{Kind: KindAccess, Feed: fm[1], Time: t}, true
	}
	return Event{}, false
}
