// Package timeutil formats the timestamps written into list files, RSS
// documents, and catalog columns.
package timeutil

import "time"

const (
	// RSSLayout is RFC 1123 with a numeric zone, as RSS 2.0 readers expect.
	RSSLayout = "Mon, 02 Jan 2006 15:04:05 -0700"
	// ShortLayout names the per-day list files.
	ShortLayout = "20060102"
	// DBLayout is the text form of catalog timestamps.
	DBLayout = "2006-01-02 15:04:05"
)

// RSSDate formats t for pubDate and lastBuildDate.
func RSSDate(t time.Time) string { return t.Format(RSSLayout) }

// ShortDate formats t as YYYYMMDD.
func ShortDate(t time.Time) string { return t.Format(ShortLayout) }

// ISO formats t as RFC 3339 with second precision.
func ISO(t time.Time) string { return t.Format(time.RFC3339) }

// DBTime formats t as "YYYY-MM-DD HH:MM:SS".
func DBTime(t time.Time) string { return t.Format(DBLayout) }

// ParseShortDate parses a YYYYMMDD file stem in loc.
func ParseShortDate(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(ShortLayout, s, loc)
}

// StartOfDay truncates t to local midnight.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
