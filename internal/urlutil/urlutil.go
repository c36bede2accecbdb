// Package urlutil holds the URL helpers shared by the fetcher, the extractor,
// and the feed builder. The string-slicing helpers keep working on URLs that
// net/url refuses to parse, which list pages produce more often than one
// would like.
package urlutil

import (
	"crypto/md5" //nolint:gosec // fingerprint, not a security boundary
	"encoding/hex"
	"net/url"
	"strings"
)

const (
	schemeSeparator   = "://"
	fingerprintLength = 7
)

// Fingerprint returns the first seven hex digits of md5(s). Snippet files and
// cached images are named by it.
func Fingerprint(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec // see import
	return hex.EncodeToString(sum[:])[:fingerprintLength]
}

// Scheme returns "http" for "http://naver.com/api/items?page_no=3".
func Scheme(u string) string {
	if i := strings.Index(u, schemeSeparator); i >= 0 {
		return u[:i]
	}
	return ""
}

func hostStart(u string) int {
	if i := strings.Index(u, schemeSeparator); i >= 0 {
		return i + len(schemeSeparator)
	}
	return 0
}

// Domain returns "naver.com" for "http://naver.com/api/items?page_no=3".
func Domain(u string) string {
	h := hostStart(u)
	rest := u[h:]
	if i := strings.Index(rest, "/"); i >= 0 {
		return rest[:i]
	}
	return rest
}

// Path returns "/api/items?page_no=3" for "http://naver.com/api/items?page_no=3".
func Path(u string) string {
	h := hostStart(u)
	if i := strings.Index(u[h:], "/"); i >= 0 {
		return u[h+i:]
	}
	return ""
}

// Prefix returns "http://naver.com/api/" for "http://naver.com/api/items?page_no=3".
func Prefix(u string) string {
	h := hostStart(u)
	if i := strings.LastIndex(u[h:], "/"); i >= 0 {
		return u[:h+i+1]
	}
	return ""
}

// WithoutQuery drops everything from the first '?'.
func WithoutQuery(u string) string {
	if i := strings.Index(u, "?"); i >= 0 {
		return u[:i]
	}
	return u
}

// Join resolves ref against base the way a browser would. A trailing '?' on
// ref survives, so "view.nhn?" joined onto a list page still ends in '?'.
func Join(base, ref string) string {
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	result := b.ResolveReference(r).String()
	if strings.HasSuffix(ref, "?") && !strings.HasSuffix(result, "?") {
		result += "?"
	}
	return result
}

// Encode percent-escapes the path and query of u. Only '/' in the path and
// '=' in the query are left as they are, so '&' is escaped too.
func Encode(u string) string {
	parsed, err := url.Parse(u)
	if err != nil {
		return u
	}
	out := parsed.Scheme + schemeSeparator + parsed.Host + quote(parsed.Path, "/")
	if parsed.RawQuery != "" {
		out += "?" + quote(parsed.RawQuery, "=")
	}
	return out
}

func quote(s, safe string) string {
	const hexDigits = "0123456789ABCDEF"
	var b strings.Builder
	for i := range len(s) {
		c := s[i]
		if isUnreserved(c) || strings.IndexByte(safe, c) >= 0 {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(hexDigits[c>>4])
		b.WriteByte(hexDigits[c&0x0f])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-' || c == '.' || c == '_' || c == '~':
		return true
	}
	return false
}

// HasScheme reports whether u starts with "<scheme>://" or is protocol-relative.
func HasScheme(u string) bool {
	return strings.HasPrefix(u, "//") || Scheme(u) != ""
}
