// Package window releases the backlog of a completed feed a few items at a
// time, advancing a persisted start index with the days elapsed.
package window

import (
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/listcollector"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
)

const (
	// StateFileName holds "<start_index>\t<mtime>" for a feed.
	StateFileName = "start_idx.txt"
	// DefaultSize is the number of items released per run.
	DefaultSize = 25

	unmatchedKey = "999999999"
	keyWidth     = 9
)

var stateLine = regexp.MustCompile(`^(\d+)\t(\S+)`)

// State is the persisted window position.
type State struct {
	StartIndex int
	MTime      time.Time
}

// Scheduler owns the state file of one feed.
type Scheduler struct {
	path           string
	unitSizePerDay float64
	log            logger.Logger
}

// NewScheduler returns a Scheduler for feedDir.
func NewScheduler(feedDir string, unitSizePerDay float64, log logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewNop()
	}
	return &Scheduler{path: StatePath(feedDir), unitSizePerDay: unitSizePerDay, log: log}
}

// StatePath returns the state file of feedDir.
func StatePath(feedDir string) string {
	return filepath.Join(feedDir, StateFileName)
}

// ReadState parses a state file. ok is false when it is missing or holds
// no state line.
func ReadState(path string, loc *time.Location) (State, bool, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("read window state: %w", err)
	}
	m := stateLine.FindStringSubmatch(strings.TrimSpace(string(data)))
	if m == nil {
		return State{}, false, nil
	}
	idx, err := strconv.Atoi(m[1])
	if err != nil {
		return State{}, false, nil
	}
	mtime, err := parseMTime(m[2], loc)
	if err != nil {
		return State{}, false, nil
	}
	return State{StartIndex: idx, MTime: mtime}, true, nil
}

// parseMTime accepts epoch seconds and the ISO-8601 form older files carry.
func parseMTime(s string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	if epoch, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(epoch, 0).In(loc), nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	return time.ParseInLocation("2006-01-02T15:04:05.999999999", s, loc)
}

// WriteState replaces path atomically.
func WriteState(path string, st State) error {
	tmp := path + ".tmp"
	line := fmt.Sprintf("%d\t%d\n", st.StartIndex, st.MTime.Unix())
	if err := os.WriteFile(tmp, []byte(line), 0o644); err != nil {
		return fmt.Errorf("write window state: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write window state: %w", err)
	}
	return nil
}

// Advance moves the window by the whole items earned since the last move
// and returns the state to emit with. The first call writes (0, now).
func (s *Scheduler) Advance(now time.Time) (State, error) {
	st, ok, err := ReadState(s.path, now.Location())
	if err != nil {
		return State{}, err
	}
	if !ok {
		st = State{StartIndex: 0, MTime: now}
		if err := WriteState(s.path, st); err != nil {
			return State{}, err
		}
		s.log.Info("Initialized window", logger.Int("start_index", 0))
		return st, nil
	}

	elapsed := now.Sub(st.MTime).Seconds()
	increment := int(math.Floor(elapsed * s.unitSizePerDay / 86400))
	if increment <= 0 {
		return st, nil
	}
	next := State{StartIndex: st.StartIndex + increment, MTime: now}
	if err := WriteState(s.path, next); err != nil {
		return State{}, err
	}
	s.log.Info("Advanced window",
		logger.Int("from", st.StartIndex),
		logger.Int("to", next.StartIndex),
		logger.Int("increment", increment),
	)
	return next, nil
}

// Sort orders items by the key pattern extracts from "link\ttitle". Entries
// it does not match sort last. When no more than half the entries match, the
// input order is kept and sorted is false.
func Sort(items []listcollector.Item, pattern string) (out []listcollector.Item, sorted bool, err error) {
	if strings.TrimSpace(pattern) == "" {
		return items, false, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return items, false, fmt.Errorf("sort_field_pattern: %w", err)
	}

	type keyed struct {
		item listcollector.Item
		key  string
	}
	list := make([]keyed, 0, len(items))
	matched := 0
	for _, it := range items {
		key := unmatchedKey
		if m := re.FindStringSubmatch(it.Line()); m != nil {
			matched++
			key = sortKey(m)
		}
		list = append(list, keyed{item: it, key: key})
	}
	if matched*2 <= len(items) {
		return items, false, nil
	}
	sort.SliceStable(list, func(i, j int) bool { return list[i].key < list[j].key })
	out = make([]listcollector.Item, len(list))
	for i, k := range list {
		out[i] = k.item
	}
	return out, true, nil
}

func sortKey(m []string) string {
	if len(m) == 1 {
		return pad(m[0])
	}
	key := pad(m[1])
	if len(m) > 2 && m[2] != "" {
		key += pad(m[2])
	}
	return key
}

func pad(s string) string {
	if len(s) >= keyWidth {
		return s
	}
	return strings.Repeat("0", keyWidth-len(s)) + s
}

// Slice returns items[start : start+size], clamped to the list.
func Slice(items []listcollector.Item, st State, size int) []listcollector.Item {
	if size <= 0 {
		size = DefaultSize
	}
	start := st.StartIndex
	if start >= len(items) || start < 0 {
		return nil
	}
	end := start + size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}
