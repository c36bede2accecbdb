package fetcher

import (
	"fmt"
	"html"
	"mime"
	"regexp"
	"strings"
)

var ogURLPattern = regexp.MustCompile(`<meta\s+property="og:url"\s+content="[^"]+"\s*/?>`)

// EnsureOGURL adds <meta property="og:url"> pointing at pageURL when body
// has none. The tag goes right before the first </head>, or at the very
// start when the document has no head.
func EnsureOGURL(body, pageURL string) string {
	if ogURLPattern.MatchString(body) {
		return body
	}
	meta := fmt.Sprintf(`<meta property="og:url" content="%s"/>`, html.EscapeString(pageURL))
	if strings.Contains(body, "</head>") {
		return strings.Replace(body, "</head>", meta+"\n</head>", 1)
	}
	return meta + "\n" + body
}

// isBinary reports whether a Content-Type names non-markup content.
func isBinary(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	switch {
	case strings.HasPrefix(mediaType, "text/"):
		return false
	case strings.HasSuffix(mediaType, "+xml"), strings.HasSuffix(mediaType, "/xml"):
		return false
	case mediaType == "application/json", mediaType == "application/javascript",
		mediaType == "application/xhtml+xml":
		return false
	}
	return strings.HasPrefix(mediaType, "image/") ||
		strings.HasPrefix(mediaType, "audio/") ||
		strings.HasPrefix(mediaType, "video/") ||
		strings.HasPrefix(mediaType, "application/")
}
