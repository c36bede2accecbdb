package fetcher

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding/htmlindex"
)

// decodeBody converts raw bytes in the named charset to UTF-8. Invalid
// sequences become U+FFFD.
func decodeBody(raw []byte, charset string) ([]byte, error) {
	if charset == "" {
		charset = "utf-8"
	}
	enc, err := htmlindex.Get(strings.ToLower(strings.TrimSpace(charset)))
	if err != nil {
		return nil, fmt.Errorf("unknown encoding %q: %w", charset, err)
	}
	out, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", charset, err)
	}
	return out, nil
}
