package extractor

import (
	"regexp"
	"strings"
)

var (
	altWithBreak = regexp.MustCompile(`alt="(.*)<br>(.*)"`)
	xmlDecl      = regexp.MustCompile(`<\?xml[^>]+>`)
	controlBytes = strings.NewReplacer("\x01", "", "\x08", "")
)

// Sanitize prepares raw markup for parsing: alt texts lose their line breaks,
// bare <br> tags are closed, stray control bytes and XML declarations go.
func Sanitize(s string) string {
	s = altWithBreak.ReplaceAllString(s, `alt="$1 $2"`)
	s = strings.ReplaceAll(s, "<br>", "<br/>")
	s = controlBytes.Replace(s)
	return xmlDecl.ReplaceAllString(s, "")
}
