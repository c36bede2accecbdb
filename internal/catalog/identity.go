package catalog

import (
	"path/filepath"
	"strings"
)

const disabledPrefix = "_"

// ignoredDirs are never catalogued, whether as a group or as a feed.
var ignoredDirs = map[string]struct{}{".mypy_cache": {}, ".git": {}, "test": {}}

// FeedIdentity names the row a feed directory maps to. A leading "_" on
// the group or the feed marks it disabled and is stripped from the names.
type FeedIdentity struct {
	Feed   string
	Group  string
	Active bool
}

// IdentifyFeed maps <group>/<feed> to its identity. ok is false for
// directories that are never catalogued.
func IdentifyFeed(feedDir string) (FeedIdentity, bool) {
	feed := filepath.Base(feedDir)
	group := filepath.Base(filepath.Dir(feedDir))
	if ignored(feed) || ignored(group) {
		return FeedIdentity{}, false
	}
	id := FeedIdentity{Feed: feed, Group: group, Active: true}
	if strings.HasPrefix(id.Group, disabledPrefix) {
		id.Group = strings.TrimPrefix(id.Group, disabledPrefix)
		id.Active = false
	}
	if strings.HasPrefix(id.Feed, disabledPrefix) {
		id.Feed = strings.TrimPrefix(id.Feed, disabledPrefix)
		id.Active = false
	}
	return id, true
}

func ignored(name string) bool {
	_, ok := ignoredDirs[name]
	return ok
}

// toggled flips the disabled prefix of name.
func toggled(name string) (string, bool) {
	if strings.HasPrefix(name, disabledPrefix) {
		return strings.TrimPrefix(name, disabledPrefix), true
	}
	return disabledPrefix + name, false
}
