package feedbuilder

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/timeutil"
)

// OldSuffix marks the previous artifact kept after a rotation.
const OldSuffix = ".old"

var volatileMarkers = [][]byte{[]byte("<pubDate>"), []byte("<lastBuildDate>")}

// TempArtifactPath is the dated scratch name the new artifact is written to.
func TempArtifactPath(artifact string, now time.Time) string {
	return artifact + "." + timeutil.ShortDate(now)
}

// Rotate installs tmp as artifact unless they differ only in build dates,
// in which case tmp is removed. The replaced artifact is kept as
// artifact+".old". It reports whether artifact changed.
func Rotate(tmp, artifact string) (bool, error) {
	fresh, err := os.ReadFile(tmp)
	if err != nil {
		return false, fmt.Errorf("rotate: %w", err)
	}
	current, err := os.ReadFile(artifact)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		current = nil
	case err != nil:
		return false, fmt.Errorf("rotate: %w", err)
	}

	if current != nil && SameContent(fresh, current) {
		if err := os.Remove(tmp); err != nil {
			return false, fmt.Errorf("rotate: %w", err)
		}
		return false, nil
	}

	if current != nil {
		if err := os.Rename(artifact, artifact+OldSuffix); err != nil {
			return false, fmt.Errorf("rotate: keep old artifact: %w", err)
		}
	}
	if err := os.Rename(tmp, artifact); err != nil {
		return false, fmt.Errorf("rotate: install artifact: %w", err)
	}
	return true, nil
}

// SameContent compares two RSS documents line by line, skipping the XML
// declaration and the pubDate and lastBuildDate lines.
func SameContent(a, b []byte) bool {
	la, lb := stableLines(a), stableLines(b)
	if len(la) != len(lb) {
		return false
	}
	for i := range la {
		if !bytes.Equal(la[i], lb[i]) {
			return false
		}
	}
	return true
}

func stableLines(data []byte) [][]byte {
	var out [][]byte
	for _, line := range bytes.Split(data, []byte("\n")) {
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 || bytes.HasPrefix(trimmed, []byte("<?xml")) || volatile(trimmed) {
			continue
		}
		out = append(out, trimmed)
	}
	return out
}

func volatile(line []byte) bool {
	for _, m := range volatileMarkers {
		if bytes.HasPrefix(line, m) {
			return true
		}
	}
	return false
}
