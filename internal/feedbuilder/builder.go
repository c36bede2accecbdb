// Package feedbuilder runs the per-feed pipeline: collect or window the item
// list, build the cached snippet of every item, write the RSS artifact,
// rotate it against the previous one and publish it.
package feedbuilder

//go:generate mockgen -destination=../testutils/mocks/page_fetcher_mock.go -package=mocks github.com/jonesrussell/north-cloud/feedmaker/internal/feedbuilder PageFetcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/app"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/extractor"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/feedconf"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/fetcher"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/listcollector"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/notifier"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/retry"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/window"
)

const (
	// DefaultItemRetryDelay is the wait before rebuilding a failed snippet.
	DefaultItemRetryDelay = 5 * time.Second
	// DefaultCollectRetryDelay is the wait before collecting again after an empty result.
	DefaultCollectRetryDelay = 5 * time.Second
	// DefaultArticleDelay is the pause after each build when force_sleep_between_articles is set.
	DefaultArticleDelay = 1 * time.Second
)

var (
	// ErrExtractorEmpty means the snippet holds nothing beyond the preamble.
	ErrExtractorEmpty = errors.New("extracted snippet is empty")
	// ErrNoRecentItems means no list URL produced any item.
	ErrNoRecentItems = errors.New("no recent items")
)

// PageFetcher downloads list and article pages. *fetcher.Client satisfies it.
type PageFetcher interface {
	Get(ctx context.Context, url string, opts fetcher.Options) (*fetcher.Response, error)
}

// Config configures a Builder. Zero delays select the defaults.
type Config struct {
	Env      *app.Env
	Fetcher  PageFetcher
	Notifier notifier.Notifier

	ItemRetryDelay    time.Duration
	CollectRetryDelay time.Duration
	ListRetryDelay    time.Duration
	ArticleDelay      time.Duration
	Now               func() time.Time
}

// MakeOptions are the per-run switches from the command line.
type MakeOptions struct {
	// ForceCollectOnly stops after the recent list is written.
	ForceCollectOnly bool
	// ForceCollect collects and builds snippets but never writes the artifact.
	ForceCollect bool
	// WindowSize overrides the per-feed window size of an archived feed.
	WindowSize int
}

// Result summarizes one Make call.
type Result struct {
	FeedName string
	Archived bool
	// Recent is the freshly collected list. Empty for archived feeds.
	Recent []listcollector.Item
	// NewCount and OldCount size the two halves of the working set.
	NewCount int
	OldCount int
	// Items are the working-set entries that made it into the artifact, in order.
	Items []listcollector.Item
	// Excluded are working-set entries dropped for an empty or failed snippet.
	Excluded []listcollector.Item
	// Changed reports that the artifact was replaced.
	Changed   bool
	Published bool
	Notified  bool
}

// Builder is safe for concurrent use on different feed directories.
type Builder struct {
	env       *app.Env
	fetcher   PageFetcher
	notifier  notifier.Notifier
	collector *listcollector.Collector
	extractor *extractor.Extractor
	log       logger.Logger

	itemRetryDelay    time.Duration
	collectRetryDelay time.Duration
	articleDelay      time.Duration
	now               func() time.Time
}

// New creates a Builder.
func New(cfg Config) *Builder {
	if cfg.Env == nil {
		cfg.Env = app.New("", "", "", "", nil, nil)
	}
	log := cfg.Env.Logger
	if cfg.Notifier == nil {
		cfg.Notifier = notifier.NewLogNotifier(log)
	}
	if cfg.ItemRetryDelay == 0 {
		cfg.ItemRetryDelay = DefaultItemRetryDelay
	}
	if cfg.CollectRetryDelay == 0 {
		cfg.CollectRetryDelay = DefaultCollectRetryDelay
	}
	if cfg.ArticleDelay == 0 {
		cfg.ArticleDelay = DefaultArticleDelay
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Builder{
		env:      cfg.Env,
		fetcher:  cfg.Fetcher,
		notifier: cfg.Notifier,
		collector: listcollector.New(listcollector.Config{
			Fetcher:    cfg.Fetcher,
			Logger:     log,
			RetryDelay: cfg.ListRetryDelay,
		}),
		extractor:         extractor.New(log),
		log:               log,
		itemRetryDelay:    cfg.ItemRetryDelay,
		collectRetryDelay: cfg.CollectRetryDelay,
		articleDelay:      cfg.ArticleDelay,
		now:               cfg.Now,
	}
}

// ArtifactPath returns <feedDir>/<feed>.xml.
func ArtifactPath(feedDir string) string {
	return filepath.Join(feedDir, FeedName(feedDir)+".xml")
}

// FeedName is the base name of the feed directory.
func FeedName(feedDir string) string {
	return filepath.Base(filepath.Clean(feedDir))
}

// Make runs the pipeline once for feedDir.
func (b *Builder) Make(ctx context.Context, feedDir string, opts MakeOptions) (Result, error) {
	name := FeedName(feedDir)
	log := logger.FromContext(ctx, b.log).With(logger.String("feed", name))
	res := Result{FeedName: name}

	conf, err := feedconf.Load(feedDir)
	if err != nil {
		return res, err
	}
	coll := conf.Collection
	if opts.ForceCollect || opts.ForceCollectOnly {
		coll.IsCompleted = false
	}
	res.Archived = coll.IsCompleted
	now := b.now().In(b.env.Location)

	// The old list is read before collecting so today's list file is not
	// mistaken for it.
	var old []listcollector.Item
	if !opts.ForceCollectOnly {
		old, err = b.readOld(feedDir, coll.IsCompleted, now, log)
		if err != nil {
			return res, err
		}
	}

	var working []listcollector.Item
	if coll.IsCompleted {
		items, err := b.fetchWindow(feedDir, coll, old, opts.WindowSize, now, log)
		if err != nil {
			return res, err
		}
		res.NewCount = len(items)
		working = reversed(items)
	} else {
		recent, err := b.collectRecent(ctx, feedDir, coll, now, log)
		if err != nil {
			return res, err
		}
		res.Recent = recent
		if opts.ForceCollectOnly {
			log.Info("Collected recent list only", logger.Int("items", len(recent)))
			return res, nil
		}

		fresh := recent
		if coll.IgnoreOldList {
			old = nil
		} else {
			fresh = difference(recent, old)
		}
		res.NewCount, res.OldCount = len(fresh), len(old)
		log.Info("Computed working set", logger.Int("new", len(fresh)), logger.Int("old", len(old)))
		working = append(reversed(fresh), reversed(old)...)
	}

	res.Items, res.Excluded, err = b.buildItems(ctx, feedDir, name, conf.Extraction, working, log)
	if err != nil {
		return res, err
	}
	if len(res.Items) == 0 {
		log.Info("No items for the feed")
	}

	if opts.ForceCollect {
		return res, nil
	}

	artifact := ArtifactPath(feedDir)
	res.Changed, err = b.writeAndRotate(ctx, feedDir, name, conf.RSS, res.Items, now, log)
	if err != nil {
		return res, err
	}

	res.Published, err = Publish(artifact, b.env.FeedsDir, res.Changed)
	if err != nil {
		return res, err
	}
	if res.Published {
		log.Info("Published feed", logger.String("dir", b.env.Short(b.env.FeedsDir)))
	}

	if res.Changed && conf.Notification.Email != nil {
		res.Notified = b.notify(ctx, name, conf.Notification, res.Recent, log)
	}
	return res, nil
}

func (b *Builder) readOld(feedDir string, archived bool, now time.Time, log logger.Logger) ([]listcollector.Item, error) {
	var (
		old  []listcollector.Item
		path string
		err  error
	)
	if archived {
		old, err = listcollector.AllLists(feedDir)
	} else {
		old, path, err = listcollector.LatestList(feedDir, now)
	}
	if err != nil {
		return nil, fmt.Errorf("read old list: %w", err)
	}
	if len(old) == 0 {
		log.Warn("Can't read old list from files")
	} else if path != "" {
		log.Debug("Read old list", logger.String("path", b.env.Short(path)), logger.Int("items", len(old)))
	}
	return old, nil
}

func (b *Builder) fetchWindow(
	feedDir string,
	coll feedconf.Collection,
	all []listcollector.Item,
	override int,
	now time.Time,
	log logger.Logger,
) ([]listcollector.Item, error) {
	size := windowSize(override, coll.WindowSize)
	st, err := window.NewScheduler(feedDir, coll.UnitSizePerDay, log).Advance(now)
	if err != nil {
		return nil, err
	}

	sorted, ok, err := window.Sort(all, coll.SortFieldPattern)
	if err != nil {
		log.Warn("Invalid sort pattern, keeping list order", logger.Error(err))
	} else if !ok && strings.TrimSpace(coll.SortFieldPattern) != "" {
		log.Warn("Too few entries match the sort pattern, keeping list order")
	}

	items := window.Slice(sorted, st, size)
	log.Info("Emitting window",
		logger.Int("start_index", st.StartIndex),
		logger.Int("size", size),
		logger.Int("total", len(all)),
		logger.Int("items", len(items)),
	)
	return items, nil
}

// windowSize prefers the command line, then conf.json, then the default.
func windowSize(override, configured int) int {
	switch {
	case override > 0:
		return override
	case configured > 0:
		return configured
	default:
		return window.DefaultSize
	}
}

func (b *Builder) collectRecent(
	ctx context.Context,
	feedDir string,
	coll feedconf.Collection,
	now time.Time,
	log logger.Logger,
) ([]listcollector.Item, error) {
	cfg := retry.Fixed(2, b.collectRetryDelay)
	cfg.IsRetryable = func(err error) bool { return !errors.Is(err, context.Canceled) }
	cfg.OnRetry = func(_ int, err error, wait time.Duration) {
		log.Warn("No recent list, retrying", logger.Duration("wait", wait), logger.Error(err))
	}

	var recent []listcollector.Item
	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		items, err := b.collector.Collect(ctx, feedDir, coll, now)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return ErrNoRecentItems
		}
		recent = items
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect recent list: %w", err)
	}
	return recent, nil
}

func (b *Builder) buildItems(
	ctx context.Context,
	feedDir, name string,
	ext feedconf.Extraction,
	working []listcollector.Item,
	log logger.Logger,
) (kept, excluded []listcollector.Item, err error) {
	for _, item := range working {
		if err := ctx.Err(); err != nil {
			return kept, excluded, err
		}
		_, err := b.makeSnippet(ctx, feedDir, name, item, ext, log)
		switch {
		case err == nil:
			kept = append(kept, item)
		case errors.Is(err, context.Canceled):
			return kept, excluded, err
		default:
			log.Warn("Excluding item",
				logger.String("link", item.Link),
				logger.String("title", item.Title),
				logger.Error(err),
			)
			excluded = append(excluded, item)
		}
	}
	return kept, excluded, nil
}

func (b *Builder) notify(
	ctx context.Context,
	name string,
	conf feedconf.Notification,
	recent []listcollector.Item,
	log logger.Logger,
) bool {
	if len(recent) == 0 {
		return false
	}
	var body strings.Builder
	for _, it := range recent {
		body.WriteString(it.Line())
		body.WriteByte('\n')
	}
	subject := conf.Email.Subject
	if subject == "" {
		subject = "[feedmaker] " + name + " updated"
	}
	msg := notifier.Message{Subject: subject, Body: body.String()}
	if conf.Email.Recipient != "" {
		msg.Recipients = []string{conf.Email.Recipient}
	}
	if err := b.notifier.Send(ctx, msg); err != nil {
		log.Warn("Can't send notification", logger.Error(err))
		return false
	}
	return true
}

func difference(recent, old []listcollector.Item) []listcollector.Item {
	seen := make(map[string]struct{}, len(old))
	for _, it := range old {
		seen[it.Link] = struct{}{}
	}
	var out []listcollector.Item
	for _, it := range recent {
		if _, ok := seen[it.Link]; !ok {
			out = append(out, it)
		}
	}
	return out
}

func reversed(items []listcollector.Item) []listcollector.Item {
	out := make([]listcollector.Item, len(items))
	for i, it := range items {
		out[len(items)-1-i] = it
	}
	return out
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
