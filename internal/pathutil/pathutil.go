// Package pathutil shortens absolute paths for log output.
package pathutil

import (
	"path/filepath"
	"strings"
)

// Shortener renders paths relative to the work dir or the public feeds dir.
type Shortener struct {
	roots []string
}

// NewShortener returns a Shortener for the given roots, tried in order. Empty roots are ignored.
func NewShortener(roots ...string) Shortener {
	s := Shortener{}
	for _, r := range roots {
		if r == "" {
			continue
		}
		if abs, err := filepath.Abs(r); err == nil {
			s.roots = append(s.roots, abs)
		}
	}
	return s
}

// Short returns p relative to the first root containing it, or p unchanged.
// Symlinks are not resolved.
func (s Shortener) Short(p string) string {
	if p == "" {
		return ""
	}
	abs, err := filepath.Abs(p)
	if err != nil {
		return p
	}
	for _, root := range s.roots {
		if abs == root || strings.HasPrefix(abs, root+string(filepath.Separator)) {
			if rel, relErr := filepath.Rel(root, abs); relErr == nil {
				return rel
			}
		}
	}
	return p
}
