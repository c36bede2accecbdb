package runner_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/app"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/feedbuilder"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/feedconf"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/listcollector"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/metrics"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/notifier"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/runner"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/testutils/mocks"
)

type call struct {
	feed string
	opts feedbuilder.MakeOptions
	lock runner.Status
}

// fakeMaker records calls and fails the feeds listed in fail.
type fakeMaker struct {
	mu    sync.Mutex
	calls []call
	fail  map[string]bool
}

func (m *fakeMaker) Make(_ context.Context, feedDir string, opts feedbuilder.MakeOptions) (feedbuilder.Result, error) {
	name := feedbuilder.FeedName(feedDir)
	m.mu.Lock()
	m.calls = append(m.calls, call{feed: name, opts: opts, lock: runner.ProbeLock(runner.LockPath(feedDir))})
	m.mu.Unlock()
	if m.fail[name] {
		return feedbuilder.Result{FeedName: name}, errors.New("boom")
	}
	return feedbuilder.Result{FeedName: name, Items: []listcollector.Item{{}}}, nil
}

func (m *fakeMaker) feeds() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.calls))
	for _, c := range m.calls {
		out = append(out, c.feed)
	}
	return out
}

func writeConf(t *testing.T, feedDir string, completed bool) {
	t.Helper()
	conf := map[string]any{"configuration": map[string]any{
		"collection": map[string]any{"list_url_list": []string{"https://example.com/"}, "is_completed": completed},
		"extraction": map[string]any{},
		"rss":        map[string]any{"title": "t", "link": "https://example.com/"},
	}}
	data, err := json.Marshal(conf)
	require.NoError(t, err)
	writeFile(t, filepath.Join(feedDir, feedconf.FileName), string(data))
}

func newRunner(t *testing.T, workDir string, maker runner.FeedMaker, n notifier.Notifier, m *metrics.Metrics) *runner.Runner {
	t.Helper()
	env := app.New(workDir, "", t.TempDir(), "https://img.example.com", time.UTC, logger.NewNop())
	return runner.New(runner.Config{
		Env:         env,
		Maker:       maker,
		Notifier:    n,
		Metrics:     m,
		LockTimeout: 150 * time.Millisecond,
		Concurrency: 2,
		Shuffle:     func([]string) {},
	})
}

func TestMakeSingleFeed_HoldsLockAndCleansUp(t *testing.T) {
	t.Parallel()

	work := t.TempDir()
	feedDir := filepath.Join(work, "news", "sample")
	writeConf(t, feedDir, false)
	writeFile(t, filepath.Join(feedDir, "temp.html"), "scratch")
	snippet := filepath.Join(feedbuilder.HTMLDir(feedDir), "old.html")
	writeFile(t, snippet, "cached")

	maker := &fakeMaker{}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	r := newRunner(t, work, maker, nil, m)

	res, err := r.MakeSingleFeed(context.Background(), feedDir, runner.Options{RemoveAll: true, WindowSize: 7})
	require.NoError(t, err)
	assert.Equal(t, "sample", res.FeedName)

	require.Len(t, maker.calls, 1)
	assert.Equal(t, runner.StatusRunning, maker.calls[0].lock)
	assert.Equal(t, feedbuilder.MakeOptions{WindowSize: 7}, maker.calls[0].opts)
	assert.False(t, exists(snippet))
	assert.False(t, exists(filepath.Join(feedDir, "temp.html")))
	assert.Equal(t, runner.StatusIdle, r.CheckRunning("news", "sample"))
	assert.InDelta(t, 1, testutil.ToFloat64(m.FeedRunsTotal.WithLabelValues(metrics.ResultSuccess)), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.FeedsRunning), 0)
}

func TestMakeSingleFeed_Busy(t *testing.T) {
	t.Parallel()

	work := t.TempDir()
	feedDir := filepath.Join(work, "news", "sample")
	writeConf(t, feedDir, false)
	held, err := runner.AcquireLock(context.Background(), runner.LockPath(feedDir), time.Second)
	require.NoError(t, err)
	defer held.Release()

	maker := &fakeMaker{}
	m := metrics.New(prometheus.NewRegistry())
	r := newRunner(t, work, maker, nil, m)

	assert.Equal(t, runner.StatusRunning, r.CheckRunning("news", "sample"))
	_, err = r.MakeSingleFeed(context.Background(), feedDir, runner.Options{})
	require.ErrorIs(t, err, runner.ErrBusy)
	assert.Empty(t, maker.calls)
	assert.InDelta(t, 1, testutil.ToFloat64(m.FeedRunsTotal.WithLabelValues(metrics.ResultBusy)), 0)
}

func TestRunFeed_ArchivedFeedCollectsFirst(t *testing.T) {
	t.Parallel()

	work := t.TempDir()
	feedDir := filepath.Join(work, "news", "archive")
	writeConf(t, feedDir, true)

	maker := &fakeMaker{}
	r := newRunner(t, work, maker, nil, nil)

	_, err := r.RunFeed(context.Background(), feedDir, runner.Options{WindowSize: 3})
	require.NoError(t, err)
	require.Len(t, maker.calls, 2)
	assert.Equal(t, feedbuilder.MakeOptions{ForceCollect: true, WindowSize: 3}, maker.calls[0].opts)
	assert.Equal(t, feedbuilder.MakeOptions{WindowSize: 3}, maker.calls[1].opts)

	maker.calls = nil
	_, err = r.RunFeed(context.Background(), feedDir, runner.Options{CollectOnly: true})
	require.NoError(t, err)
	assert.Len(t, maker.calls, 1)
}

func TestRunFeed_ForcedCollectionFailureStops(t *testing.T) {
	t.Parallel()

	work := t.TempDir()
	feedDir := filepath.Join(work, "news", "archive")
	writeConf(t, feedDir, true)

	maker := &fakeMaker{fail: map[string]bool{"archive": true}}
	r := newRunner(t, work, maker, nil, nil)

	_, err := r.RunFeed(context.Background(), feedDir, runner.Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "forced collection")
	assert.Len(t, maker.calls, 1)
}

func TestFeedDirs_SkipsDisabled(t *testing.T) {
	t.Parallel()

	work := t.TempDir()
	writeConf(t, filepath.Join(work, "news", "a"), false)
	writeConf(t, filepath.Join(work, "news", "_off"), false)
	writeConf(t, filepath.Join(work, "_group", "b"), false)
	writeConf(t, filepath.Join(work, "test", "c"), false)
	writeConf(t, filepath.Join(work, "blog", "d"), false)
	require.NoError(t, os.MkdirAll(filepath.Join(work, "blog", "noconf"), 0o755))

	r := newRunner(t, work, &fakeMaker{}, nil, nil)
	dirs, err := r.FeedDirs()
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(work, "blog", "d"), filepath.Join(work, "news", "a")}, dirs)
}

func TestMakeAllFeeds_ReportsFailures(t *testing.T) {
	t.Parallel()

	work := t.TempDir()
	for _, name := range []string{"a", "b", "c"} {
		writeConf(t, filepath.Join(work, "news", name), false)
	}

	ctrl := gomock.NewController(t)
	n := mocks.NewMockNotifier(ctrl)
	n.EXPECT().Send(gomock.Any(), notifier.Message{Subject: runner.FailureSubject, Body: "news/b"}).Return(nil).Times(1)

	maker := &fakeMaker{fail: map[string]bool{"b": true}}
	m := metrics.New(prometheus.NewRegistry())
	r := newRunner(t, work, maker, n, m)

	res, err := r.MakeAllFeeds(context.Background(), runner.BatchOptions{})
	require.NoError(t, err)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 3, res.Feeds)
	assert.Equal(t, []string{"news/b"}, res.Failed)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, maker.feeds())
	assert.InDelta(t, 1, testutil.ToFloat64(m.BatchFailedFeeds), 0)
}

func TestMakeAllFeeds_CapsFeedCount(t *testing.T) {
	t.Parallel()

	work := t.TempDir()
	for _, name := range []string{"a", "b", "c"} {
		writeConf(t, filepath.Join(work, "news", name), false)
	}
	ctrl := gomock.NewController(t)
	n := mocks.NewMockNotifier(ctrl)

	maker := &fakeMaker{}
	r := newRunner(t, work, maker, n, nil)

	res, err := r.MakeAllFeeds(context.Background(), runner.BatchOptions{NumFeeds: 2, Concurrency: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Feeds)
	assert.Empty(t, res.Failed)
	assert.Equal(t, []string{"a", "b"}, maker.feeds())
}

func TestMakeAllFeeds_Cancelled(t *testing.T) {
	t.Parallel()

	work := t.TempDir()
	writeConf(t, filepath.Join(work, "news", "a"), false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	maker := &fakeMaker{}
	r := newRunner(t, work, maker, nil, nil)

	res, err := r.MakeAllFeeds(ctx, runner.BatchOptions{})
	require.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, res.Feeds, 1)
}
