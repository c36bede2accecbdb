// Package problem refreshes the catalog from the feed tree, the public
// directory and the access logs, and answers which feeds need attention.
package problem

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/accesslog"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/catalog"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/metrics"
)

// LoadOptions bounds a full refresh. Zero limits mean no limit.
type LoadOptions struct {
	MaxFeeds       int
	MaxPublicFeeds int
	MaxDays        int
}

// Manager coordinates catalog refreshes. Ingestor may be nil, in which
// case access logs are not read.
type Manager struct {
	catalog  *catalog.Catalog
	ingestor *accesslog.Ingestor
	metrics  *metrics.Metrics
	log      logger.Logger
}

// NewManager creates a Manager.
func NewManager(c *catalog.Catalog, ing *accesslog.Ingestor, m *metrics.Metrics, log logger.Logger) *Manager {
	if log == nil {
		log = logger.NewNop()
	}
	return &Manager{catalog: c, ingestor: ing, metrics: m, log: log}
}

type loadStep struct {
	name string
	run  func(ctx context.Context) error
}

// LoadAll rebuilds every fact class of the catalog under the refresh lock.
// It returns catalog.ErrBusy without touching anything when another
// refresh holds a fresh lock.
func (m *Manager) LoadAll(ctx context.Context, opts LoadOptions) error {
	start := time.Now()
	if opts.MaxDays <= 0 {
		opts.MaxDays = accesslog.DefaultMaxDays
	}

	if err := m.catalog.AcquireLoadLock(ctx); err != nil {
		if errors.Is(err, catalog.ErrBusy) {
			m.log.Info("Catalog refresh already in progress, aborting")
			m.metrics.ObserveCatalogRefresh(metrics.ResultBusy, time.Since(start))
		}
		return err
	}
	defer func() {
		if err := m.catalog.ReleaseLoadLock(context.WithoutCancel(ctx)); err != nil {
			m.log.Error("Failed to release catalog lock", logger.Error(err))
		}
	}()

	m.log.Info("Catalog refresh started")
	steps := []loadStep{
		{"config", func(ctx context.Context) error {
			_, err := m.catalog.LoadAllConfigFiles(ctx, opts.MaxFeeds)
			return err
		}},
		{"rss", func(ctx context.Context) error {
			_, err := m.catalog.LoadAllRssFiles(ctx, opts.MaxFeeds)
			return err
		}},
		{"public feeds", func(ctx context.Context) error {
			_, err := m.catalog.LoadAllPublicFeedFiles(ctx, opts.MaxPublicFeeds)
			return err
		}},
		{"progress", func(ctx context.Context) error {
			_, err := m.catalog.LoadAllProgressInfo(ctx, opts.MaxFeeds)
			return err
		}},
		{"access logs", func(ctx context.Context) error {
			if m.ingestor == nil {
				m.log.Debug("No access log source configured, skipping")
				return nil
			}
			_, err := m.ingestor.LoadAllAccessInfo(ctx, opts.MaxDays)
			return err
		}},
		{"html files", func(ctx context.Context) error {
			_, err := m.catalog.LoadAllHTMLFiles(ctx, opts.MaxFeeds)
			return err
		}},
	}

	var errs []error
	for _, step := range steps {
		if err := step.run(ctx); err != nil {
			m.log.Warn("Catalog refresh step failed", logger.String("step", step.name), logger.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", step.name, err))
			if ctx.Err() != nil {
				break
			}
		}
	}

	err := errors.Join(errs...)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultFailure
	}
	m.metrics.ObserveCatalogRefresh(result, time.Since(start))
	m.log.Info("Catalog refresh finished",
		logger.String("result", result),
		logger.Duration("elapsed", time.Since(start)),
	)
	return err
}

// UpdateFeedInfo replaces the catalog facts of feedDir with those of
// newFeedDir, which defaults to feedDir. Facts are removed for the old
// directory first, so a rename leaves no stale columns behind.
func (m *Manager) UpdateFeedInfo(ctx context.Context, feedDir, newFeedDir string) error {
	if newFeedDir == "" {
		newFeedDir = feedDir
	}
	if !isDir(feedDir) && !isDir(newFeedDir) {
		m.log.Warn("Feed directory not found",
			logger.String("feed_dir", feedDir), logger.String("new_feed_dir", newFeedDir))
	}
	oldID, _ := catalog.IdentifyFeed(feedDir)
	newID, _ := catalog.IdentifyFeed(newFeedDir)

	removals := []func() error{
		func() error { return m.catalog.RemoveConfig(ctx, feedDir, false) },
		func() error { return m.catalog.RemoveRss(ctx, feedDir, false) },
		func() error { return m.catalog.RemovePublicFeed(ctx, m.catalog.PublicFeedPath(oldID.Feed), false) },
		func() error { return m.catalog.RemoveProgress(ctx, feedDir, false) },
		func() error { return m.catalog.RemoveAccessInfo(ctx, oldID.Feed) },
		func() error { return m.catalog.RemoveHTMLFiles(ctx, catalog.ByFeedDir, feedDir, false) },
	}
	for _, remove := range removals {
		if err := remove(); err != nil {
			return fmt.Errorf("update feed info: %w", err)
		}
	}

	additions := []func() error{
		func() error { return m.catalog.UpsertConfig(ctx, newFeedDir, nil) },
		func() error { return m.catalog.UpsertRss(ctx, newFeedDir) },
		func() error {
			path := m.catalog.PublicFeedPath(newID.Feed)
			if _, err := os.Stat(path); err != nil {
				return nil
			}
			_, err := m.catalog.UpsertPublicFeed(ctx, path)
			return err
		},
		func() error { return m.catalog.UpsertProgress(ctx, newFeedDir) },
		func() error {
			if m.ingestor == nil {
				return nil
			}
			_, err := m.ingestor.AddNewAccessInfo(ctx)
			return err
		},
		func() error {
			_, err := m.catalog.AddHTMLFiles(ctx, newFeedDir)
			return err
		},
	}
	for _, add := range additions {
		if err := add(); err != nil {
			return fmt.Errorf("update feed info: %w", err)
		}
	}

	m.log.Info("Updated feed info", logger.String("feed", newID.Feed))
	return nil
}

// GetProblemView returns the feeds an operator should look at.
func (m *Manager) GetProblemView(ctx context.Context) ([]catalog.FeedInfo, error) {
	return m.catalog.GetProblemView(ctx)
}

func isDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}
