package feedbuilder_test

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/app"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/feedbuilder"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/feedconf"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/fetcher"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/listcollector"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/notifier"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/testutils/mocks"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/urlutil"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/window"
)

const (
	listURL     = "https://news.example.com/list"
	imagePrefix = "https://img.example.com"
)

var start = time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

const listPage = `<html><body>
<div class="list">
  <a href="/p/1">First post</a>
  <a href="/p/2">Empty post</a>
</div></body></html>`

func article(text string) string {
	return `<html><body><div class="content"><p>` + text + `</p></div></body></html>`
}

type fixture struct {
	workDir  string
	feedsDir string
	feedDir  string
	pages    map[string]string
	fetches  atomic.Int32
	now      time.Time
}

func newFixture(t *testing.T, conf map[string]any) *fixture {
	t.Helper()
	work := t.TempDir()
	f := &fixture{
		workDir:  work,
		feedsDir: filepath.Join(t.TempDir(), "xml"),
		feedDir:  filepath.Join(work, "news", "sample"),
		now:      start,
		pages: map[string]string{
			listURL:                         listPage,
			"https://news.example.com/p/1": article("Hello from the first article"),
			"https://news.example.com/p/2": `<html><body><div class="other">nothing</div></body></html>`,
		},
	}
	require.NoError(t, os.MkdirAll(f.feedDir, 0o755))
	data, err := json.Marshal(map[string]any{"configuration": conf})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(f.feedDir, feedconf.FileName), data, 0o644))
	return f
}

func defaultConf() map[string]any {
	return map[string]any{
		"collection": map[string]any{
			"list_url_list":       []string{listURL},
			"item_capture_script": "",
			"element_class_list":  []string{"list"},
		},
		"extraction": map[string]any{
			"element_class_list": []string{"content"},
		},
		"rss": map[string]any{
			"title":       "Sample News::news",
			"link":        "https://news.example.com/",
			"description": "Sample feed",
		},
	}
}

func (f *fixture) fetcher(ctrl *gomock.Controller) *mocks.MockPageFetcher {
	m := mocks.NewMockPageFetcher(ctrl)
	m.EXPECT().Get(gomock.Any(), gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, url string, _ fetcher.Options) (*fetcher.Response, error) {
			f.fetches.Add(1)
			body, ok := f.pages[url]
			if !ok {
				return nil, &fetcher.Error{Kind: fetcher.KindStatus, StatusCode: 404, URL: url}
			}
			return &fetcher.Response{Body: []byte(body), StatusCode: 200, URL: url}, nil
		}).AnyTimes()
	return m
}

func (f *fixture) builder(t *testing.T, n notifier.Notifier) *feedbuilder.Builder {
	t.Helper()
	ctrl := gomock.NewController(t)
	env := app.New(f.workDir, f.feedsDir, filepath.Join(f.workDir, "img"), imagePrefix, time.UTC, logger.NewNop())
	return feedbuilder.New(feedbuilder.Config{
		Env:               env,
		Fetcher:           f.fetcher(ctrl),
		Notifier:          n,
		ItemRetryDelay:    time.Millisecond,
		CollectRetryDelay: time.Millisecond,
		ListRetryDelay:    time.Millisecond,
		ArticleDelay:      time.Millisecond,
		Now:               func() time.Time { return f.now },
	})
}

func parseArtifact(t *testing.T, path string) *gofeed.Feed {
	t.Helper()
	fh, err := os.Open(path)
	require.NoError(t, err)
	defer fh.Close()
	feed, err := gofeed.NewParser().Parse(fh)
	require.NoError(t, err)
	return feed
}

func TestMake_ExcludesEmptySnippet(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConf())
	res, err := f.builder(t, nil).Make(context.Background(), f.feedDir, feedbuilder.MakeOptions{})
	require.NoError(t, err)

	first := listcollector.Item{Link: "https://news.example.com/p/1", Title: "First post"}
	empty := listcollector.Item{Link: "https://news.example.com/p/2", Title: "Empty post"}
	assert.Equal(t, []listcollector.Item{first}, res.Items)
	assert.Equal(t, []listcollector.Item{empty}, res.Excluded)
	assert.True(t, res.Changed)
	assert.True(t, res.Published)

	feed := parseArtifact(t, feedbuilder.ArtifactPath(f.feedDir))
	assert.Equal(t, "Sample News::news", feed.Title)
	require.Len(t, feed.Items, 1)
	assert.Equal(t, first.Link, feed.Items[0].Link)
	assert.Equal(t, first.Link, feed.Items[0].GUID)
	assert.Contains(t, feed.Items[0].Description, "Hello from the first article")

	snippet, err := os.ReadFile(feedbuilder.HTMLPath(f.feedDir, first.Link))
	require.NoError(t, err)
	pixel := feedbuilder.PixelTag(imagePrefix, "sample", urlutil.Fingerprint(first.Link))
	assert.Equal(t, 1, strings.Count(string(snippet), pixel))
	assert.Contains(t, pixel, "1x1.jpg?feed=sample.xml&item="+urlutil.Fingerprint(first.Link))

	emptySnippet, err := os.Stat(feedbuilder.HTMLPath(f.feedDir, empty.Link))
	require.NoError(t, err)
	assert.LessOrEqual(t, emptySnippet.Size(), feedbuilder.EmptyThreshold)

	_, err = os.Stat(filepath.Join(f.feedsDir, "sample.xml"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(f.feedDir, listcollector.ListDirName, "20240310.txt"))
	require.NoError(t, err)
}

func TestMake_SecondRunKeepsArtifact(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConf())
	b := f.builder(t, nil)
	artifact := feedbuilder.ArtifactPath(f.feedDir)

	_, err := b.Make(context.Background(), f.feedDir, feedbuilder.MakeOptions{})
	require.NoError(t, err)
	before, err := os.ReadFile(artifact)
	require.NoError(t, err)

	f.now = start.Add(30 * time.Minute)
	res, err := b.Make(context.Background(), f.feedDir, feedbuilder.MakeOptions{})
	require.NoError(t, err)
	assert.False(t, res.Changed)
	assert.Equal(t, 0, res.NewCount)
	assert.Equal(t, 2, res.OldCount)

	after, err := os.ReadFile(artifact)
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.NoFileExists(t, artifact+feedbuilder.OldSuffix)
	assert.NoFileExists(t, feedbuilder.TempArtifactPath(artifact, f.now))
}

func TestMake_NewItemsComeFirst(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConf())
	b := f.builder(t, nil)
	_, err := b.Make(context.Background(), f.feedDir, feedbuilder.MakeOptions{})
	require.NoError(t, err)

	f.pages[listURL] = `<div class="list"><a href="/p/3">Third</a><a href="/p/4">Fourth</a><a href="/p/1">First post</a></div>`
	f.pages["https://news.example.com/p/3"] = article("third")
	f.pages["https://news.example.com/p/4"] = article("fourth")
	f.now = start.Add(time.Hour)

	res, err := b.Make(context.Background(), f.feedDir, feedbuilder.MakeOptions{})
	require.NoError(t, err)
	links := make([]string, 0, len(res.Items))
	for _, it := range res.Items {
		links = append(links, it.Link)
	}
	assert.Equal(t, []string{
		"https://news.example.com/p/4",
		"https://news.example.com/p/3",
		"https://news.example.com/p/1",
	}, links)
	assert.True(t, res.Changed)
	assert.FileExists(t, feedbuilder.ArtifactPath(f.feedDir)+feedbuilder.OldSuffix)
}

func TestMake_ForceCollectOnly(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConf())
	res, err := f.builder(t, nil).Make(context.Background(), f.feedDir, feedbuilder.MakeOptions{ForceCollectOnly: true})
	require.NoError(t, err)
	assert.Len(t, res.Recent, 2)
	assert.Equal(t, int32(1), f.fetches.Load())
	assert.NoFileExists(t, feedbuilder.ArtifactPath(f.feedDir))
	assert.NoDirExists(t, feedbuilder.HTMLDir(f.feedDir))
}

func TestMake_ForceCollectSkipsArtifact(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConf())
	res, err := f.builder(t, nil).Make(context.Background(), f.feedDir, feedbuilder.MakeOptions{ForceCollect: true})
	require.NoError(t, err)
	assert.Len(t, res.Items, 1)
	assert.FileExists(t, feedbuilder.HTMLPath(f.feedDir, "https://news.example.com/p/1"))
	assert.NoFileExists(t, feedbuilder.ArtifactPath(f.feedDir))
	assert.False(t, res.Published)
}

func TestMake_ArchivedFeedEmitsWindow(t *testing.T) {
	t.Parallel()

	conf := defaultConf()
	coll := conf["collection"].(map[string]any)
	coll["is_completed"] = true
	coll["unit_size_per_day"] = 1
	coll["window_size"] = 2
	f := newFixture(t, conf)

	var items []listcollector.Item
	for i := 1; i <= 5; i++ {
		link := fmt.Sprintf("https://news.example.com/e/%d", i)
		items = append(items, listcollector.Item{Link: link, Title: fmt.Sprintf("Episode %d", i)})
		f.pages[link] = article(fmt.Sprintf("episode %d", i))
	}
	require.NoError(t, listcollector.WriteListFile(listcollector.ListFilePath(f.feedDir, start.AddDate(0, 0, -30)), items))
	require.NoError(t, window.WriteState(window.StatePath(f.feedDir), window.State{StartIndex: 1, MTime: start.Add(-24 * time.Hour)}))

	res, err := f.builder(t, nil).Make(context.Background(), f.feedDir, feedbuilder.MakeOptions{})
	require.NoError(t, err)
	assert.True(t, res.Archived)
	assert.Equal(t, []listcollector.Item{items[3], items[2]}, res.Items)

	st, ok, err := window.ReadState(window.StatePath(f.feedDir), time.UTC)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 2, st.StartIndex)

	// No list page is fetched for an archived feed.
	assert.Equal(t, int32(2), f.fetches.Load())
}

func TestMake_WindowSizeOverride(t *testing.T) {
	t.Parallel()

	conf := defaultConf()
	conf["collection"].(map[string]any)["is_completed"] = true
	f := newFixture(t, conf)

	var items []listcollector.Item
	for i := 1; i <= 4; i++ {
		link := fmt.Sprintf("https://news.example.com/e/%d", i)
		items = append(items, listcollector.Item{Link: link, Title: fmt.Sprintf("Episode %d", i)})
		f.pages[link] = article(fmt.Sprintf("episode %d", i))
	}
	require.NoError(t, listcollector.WriteListFile(listcollector.ListFilePath(f.feedDir, start), items))

	res, err := f.builder(t, nil).Make(context.Background(), f.feedDir, feedbuilder.MakeOptions{WindowSize: 3})
	require.NoError(t, err)
	assert.Equal(t, []listcollector.Item{items[2], items[1], items[0]}, res.Items)
}

func TestMake_NotifiesRecentItems(t *testing.T) {
	t.Parallel()

	conf := defaultConf()
	conf["notification"] = map[string]any{
		"email": map[string]any{"recipient": "reader@example.com", "subject": "sample updated"},
	}
	f := newFixture(t, conf)

	ctrl := gomock.NewController(t)
	n := mocks.NewMockNotifier(ctrl)
	n.EXPECT().Send(gomock.Any(), notifier.Message{
		Recipients: []string{"reader@example.com"},
		Subject:    "sample updated",
		Body:       "https://news.example.com/p/1\tFirst post\nhttps://news.example.com/p/2\tEmpty post\n",
	}).Return(nil).Times(1)

	res, err := f.builder(t, n).Make(context.Background(), f.feedDir, feedbuilder.MakeOptions{})
	require.NoError(t, err)
	assert.True(t, res.Notified)

	// Unchanged artifact: no second mail.
	f.now = start.Add(time.Minute)
	res, err = f.builder(t, n).Make(context.Background(), f.feedDir, feedbuilder.MakeOptions{})
	require.NoError(t, err)
	assert.False(t, res.Notified)
}

func TestMake_NoRecentItems(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConf())
	f.pages[listURL] = `<html><body><div class="list"></div></body></html>`
	_, err := f.builder(t, nil).Make(context.Background(), f.feedDir, feedbuilder.MakeOptions{})
	require.ErrorIs(t, err, feedbuilder.ErrNoRecentItems)
	assert.NoFileExists(t, feedbuilder.ArtifactPath(f.feedDir))
}

func TestMake_MissingConfig(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConf())
	require.NoError(t, os.Remove(filepath.Join(f.feedDir, feedconf.FileName)))
	_, err := f.builder(t, nil).Make(context.Background(), f.feedDir, feedbuilder.MakeOptions{})
	require.ErrorIs(t, err, feedconf.ErrConfigMissing)
}

func TestMake_CancelledBeforeItems(t *testing.T) {
	t.Parallel()

	conf := defaultConf()
	conf["collection"].(map[string]any)["is_completed"] = true
	f := newFixture(t, conf)
	require.NoError(t, listcollector.WriteListFile(listcollector.ListFilePath(f.feedDir, start),
		[]listcollector.Item{{Link: "https://news.example.com/p/1", Title: "First post"}}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.builder(t, nil).Make(ctx, f.feedDir, feedbuilder.MakeOptions{})
	require.ErrorIs(t, err, context.Canceled)
	assert.NoFileExists(t, feedbuilder.ArtifactPath(f.feedDir))
	assert.NoFileExists(t, feedbuilder.TempArtifactPath(feedbuilder.ArtifactPath(f.feedDir), start))
}

func TestMake_ReusesCachedSnippet(t *testing.T) {
	t.Parallel()

	f := newFixture(t, defaultConf())
	b := f.builder(t, nil)
	_, err := b.Make(context.Background(), f.feedDir, feedbuilder.MakeOptions{})
	require.NoError(t, err)
	afterFirst := f.fetches.Load()

	f.now = start.Add(time.Minute)
	_, err = b.Make(context.Background(), f.feedDir, feedbuilder.MakeOptions{})
	require.NoError(t, err)

	// One list fetch plus the rebuild of the empty snippet.
	assert.Equal(t, afterFirst+2, f.fetches.Load())
}
