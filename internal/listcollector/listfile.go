package listcollector

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/timeutil"
)

// ListDirName is the per-feed directory of daily list files.
const ListDirName = "newlist"

// MaxNumDays is how far back a running feed looks for its previous list.
const MaxNumDays = 7

// ErrMalformedLine is returned for a captured line without link or title.
var ErrMalformedLine = errors.New("malformed list line")

// Item is one captured entry.
type Item struct {
	Link  string
	Title string
}

// Line renders the item as stored in list files, without the newline.
func (i Item) Line() string {
	return i.Link + "\t" + i.Title
}

// Dedupe keeps the first item for each link.
func Dedupe(items []Item) []Item {
	seen := make(map[string]struct{}, len(items))
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if _, ok := seen[it.Link]; ok {
			continue
		}
		seen[it.Link] = struct{}{}
		out = append(out, it)
	}
	return out
}

// ListDir returns the list directory of a feed.
func ListDir(feedDir string) string {
	return filepath.Join(feedDir, ListDirName)
}

// ListFilePath returns the list file of day.
func ListFilePath(feedDir string, day time.Time) string {
	return filepath.Join(ListDir(feedDir), timeutil.ShortDate(day)+".txt")
}

// ParseLines reads captured output. Comment and blank lines are skipped;
// the first tab-separated field is the link and the rest form the title.
func ParseLines(data []byte) ([]Item, error) {
	var items []Item
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), " \t\r")
		if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.Split(line, "\t")
		link := strings.TrimSpace(fields[0])
		title := strings.TrimSpace(strings.Join(fields[1:], " "))
		if link == "" || title == "" {
			return nil, fmt.Errorf("%w: %q", ErrMalformedLine, line)
		}
		items = append(items, Item{Link: link, Title: title})
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read captured lines: %w", err)
	}
	return items, nil
}

// ReadListFile reads one list file. Lines without a tab are skipped.
func ReadListFile(path string) ([]Item, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []Item
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimRight(line, "\r")
		link, title, ok := strings.Cut(line, "\t")
		if !ok || link == "" {
			continue
		}
		items = append(items, Item{Link: link, Title: title})
	}
	return items, nil
}

// WriteListFile replaces path with items, one per line.
func WriteListFile(path string, items []Item) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create list dir: %w", err)
	}
	var b strings.Builder
	for _, it := range items {
		b.WriteString(it.Line())
		b.WriteByte('\n')
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write list file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write list file: %w", err)
	}
	return nil
}

// ListFiles returns the list files of a feed ordered by name, which is
// chronological. Dotfiles are skipped.
func ListFiles(feedDir string) ([]string, error) {
	entries, err := os.ReadDir(ListDir(feedDir))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read list dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".txt") {
			continue
		}
		files = append(files, filepath.Join(ListDir(feedDir), name))
	}
	sort.Strings(files)
	return files, nil
}

// LatestList returns the items of the newest non-empty list file dated
// within MaxNumDays of now, and its path. No such file yields no items.
func LatestList(feedDir string, now time.Time) ([]Item, string, error) {
	for i := 0; i < MaxNumDays; i++ {
		path := ListFilePath(feedDir, now.AddDate(0, 0, -i))
		items, err := ReadListFile(path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, "", fmt.Errorf("read list file: %w", err)
		}
		if len(items) > 0 {
			return items, path, nil
		}
	}
	return nil, "", nil
}

// AllLists returns the union of every list file, deduplicated by link in
// chronological order.
func AllLists(feedDir string) ([]Item, error) {
	files, err := ListFiles(feedDir)
	if err != nil {
		return nil, err
	}
	var all []Item
	for _, f := range files {
		items, err := ReadListFile(f)
		if err != nil {
			return nil, fmt.Errorf("read list file: %w", err)
		}
		all = append(all, items...)
	}
	return Dedupe(all), nil
}
