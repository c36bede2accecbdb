package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jonesrussell/north-cloud/feedmaker/cmd/common"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/catalog"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/metrics"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/problem"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/runner"
)

// ErrFeedsFailed is returned by a batch run in which some feeds failed.
var ErrFeedsFailed = errors.New("some feeds failed")

type runOptions struct {
	All          bool
	RemoveAll    bool
	ForceCollect bool
	CollectOnly  bool
	NumFeeds     int
	WindowSize   int
	FeedDir      string
}

func runFeeds(ctx context.Context, deps common.CommandDeps, opts runOptions) error {
	log := deps.Logger
	// One-shot runs keep their metrics private; only the daemon exports them.
	m := metrics.New(prometheus.NewRegistry())

	r, closeFetcher := common.NewRunner(deps, m)
	defer closeFetcher()

	mgr, closeDB := openProblemManager(deps, m)
	defer closeDB()

	if opts.All {
		res, err := r.MakeAllFeeds(ctx, runner.BatchOptions{NumFeeds: opts.NumFeeds, WindowSize: opts.WindowSize})
		if mgr != nil {
			if loadErr := mgr.LoadAll(ctx, problem.LoadOptions{}); loadErr != nil && !errors.Is(loadErr, catalog.ErrBusy) {
				log.Error("Catalog refresh failed", logger.Error(loadErr))
			}
		}
		if err != nil {
			return err
		}
		if len(res.Failed) > 0 {
			return fmt.Errorf("%w: %d of %d", ErrFeedsFailed, len(res.Failed), res.Feeds)
		}
		return nil
	}

	feedDir, err := resolveFeedDir(opts.FeedDir)
	if err != nil {
		return err
	}
	_, runErr := r.RunFeed(ctx, feedDir, runner.Options{
		RemoveAll:    opts.RemoveAll,
		ForceCollect: opts.ForceCollect,
		CollectOnly:  opts.CollectOnly,
		WindowSize:   opts.WindowSize,
	})
	if mgr != nil {
		if err := mgr.UpdateFeedInfo(ctx, feedDir, ""); err != nil {
			log.Error("Failed to update feed info", logger.String("feed_dir", feedDir), logger.Error(err))
		}
	}
	return runErr
}

// openProblemManager returns a nil manager when the catalog is not
// configured or unreachable. Feed builds do not depend on it.
func openProblemManager(deps common.CommandDeps, m *metrics.Metrics) (*problem.Manager, func()) {
	c, closeDB, err := common.OpenCatalog(deps)
	switch {
	case errors.Is(err, common.ErrNoDatabase):
		deps.Logger.Debug("Catalog disabled")
		return nil, func() {}
	case err != nil:
		deps.Logger.Warn("Catalog unavailable, feed info will not be updated", logger.Error(err))
		return nil, func() {}
	}
	return common.NewProblemManager(deps, c, m), closeDB
}

func resolveFeedDir(arg string) (string, error) {
	if arg == "" {
		return os.Getwd()
	}
	dir, err := filepath.Abs(arg)
	if err != nil {
		return "", fmt.Errorf("resolve feed dir %s: %w", arg, err)
	}
	return dir, nil
}
