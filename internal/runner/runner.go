// Package runner drives feed builds: one feed under its advisory lock, or
// every feed of the work directory as a batch.
package runner

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/app"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/feedbuilder"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/feedconf"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/metrics"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/notifier"
)

// FailureSubject is the subject of the end-of-batch failure report.
const FailureSubject = "Errors of FeedMaker"

// disabledTopDirs are never treated as feed groups.
var disabledTopDirs = map[string]struct{}{".mypy_cache": {}, ".git": {}, "test": {}}

// FeedMaker builds one feed. *feedbuilder.Builder satisfies it.
type FeedMaker interface {
	Make(ctx context.Context, feedDir string, opts feedbuilder.MakeOptions) (feedbuilder.Result, error)
}

// Options are the single-feed switches.
type Options struct {
	RemoveAll    bool
	ForceCollect bool
	CollectOnly  bool
	WindowSize   int
}

func (o Options) makeOptions() feedbuilder.MakeOptions {
	return feedbuilder.MakeOptions{
		ForceCollect:     o.ForceCollect,
		ForceCollectOnly: o.CollectOnly,
		WindowSize:       o.WindowSize,
	}
}

// BatchOptions configure MakeAllFeeds. Zero Concurrency uses the runner default.
type BatchOptions struct {
	NumFeeds    int
	WindowSize  int
	Concurrency int
}

// BatchResult summarizes MakeAllFeeds.
type BatchResult struct {
	RunID   string
	Feeds   int
	Failed  []string
	Elapsed time.Duration
}

// Config configures a Runner.
type Config struct {
	Env         *app.Env
	Maker       FeedMaker
	Notifier    notifier.Notifier
	Metrics     *metrics.Metrics
	LockTimeout time.Duration
	Concurrency int
	// Shuffle reorders the batch. Nil uses math/rand.
	Shuffle func([]string)
}

// Runner is safe for concurrent use.
type Runner struct {
	env         *app.Env
	maker       FeedMaker
	notifier    notifier.Notifier
	metrics     *metrics.Metrics
	log         logger.Logger
	lockTimeout time.Duration
	concurrency int
	shuffle     func([]string)
}

// New creates a Runner.
func New(cfg Config) *Runner {
	if cfg.Env == nil {
		cfg.Env = app.New("", "", "", "", nil, nil)
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notifier.NewLogNotifier(cfg.Env.Logger)
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = DefaultLockTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.Shuffle == nil {
		cfg.Shuffle = func(s []string) {
			rand.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
		}
	}
	return &Runner{
		env:         cfg.Env,
		maker:       cfg.Maker,
		notifier:    cfg.Notifier,
		metrics:     cfg.Metrics,
		log:         cfg.Env.Logger,
		lockTimeout: cfg.LockTimeout,
		concurrency: cfg.Concurrency,
		shuffle:     cfg.Shuffle,
	}
}

// LockPath returns the lock file of feedDir.
func LockPath(feedDir string) string {
	return filepath.Join(feedDir, LockFileName)
}

// MakeSingleFeed builds feedDir once under its lock. ErrBusy means another
// run holds the lock.
func (r *Runner) MakeSingleFeed(ctx context.Context, feedDir string, opts Options) (feedbuilder.Result, error) {
	name := feedbuilder.FeedName(feedDir)
	log := logger.ForFeed(logger.FromContext(ctx, r.log), feedDir)
	start := time.Now()

	lock, err := AcquireLock(ctx, LockPath(feedDir), r.lockTimeout)
	if err != nil {
		if errors.Is(err, ErrBusy) {
			log.Error("Can't run multiple feed makers concurrently")
			r.metrics.ObserveFeedRun(metrics.ResultBusy, time.Since(start), 0, 0)
		}
		return feedbuilder.Result{FeedName: name}, err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Warn("Can't release feed lock", logger.Error(err))
		}
	}()
	r.metrics.FeedStarted()
	defer r.metrics.FeedFinished()

	log.Info("Making feed", logger.String("dir", r.env.Short(feedDir)))
	if opts.RemoveAll {
		if err := RemoveAllArtifacts(feedDir, log); err != nil {
			return feedbuilder.Result{FeedName: name}, err
		}
	}
	r.cleanImages(feedDir, name, log)

	res, err := r.maker.Make(logger.WithContext(ctx, log), feedDir, opts.makeOptions())
	RemoveScratchFiles(feedDir, log)

	end := time.Now()
	log.Info("Running time analysis",
		logger.String("start", start.Format(time.RFC3339)),
		logger.String("end", end.Format(time.RFC3339)),
		logger.Duration("elapsed", end.Sub(start)),
	)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultFailure
	}
	r.metrics.ObserveFeedRun(result, end.Sub(start), len(res.Items), len(res.Excluded))
	return res, err
}

func (r *Runner) cleanImages(feedDir, name string, log logger.Logger) {
	imageDir := r.env.FeedImageDir(name)
	RemoveZeroSizeImages(imageDir, log)

	threshold := 0
	if conf, err := feedconf.Load(feedDir); err == nil {
		threshold = conf.Extraction.IncompleteImageThreshold
	}
	checker := NewImageChecker(r.env.ImageURLPrefix, imageDir)
	RemoveIncompleteSnippets(feedDir, checker, threshold, log)
}

// RunFeed builds feedDir the way a scheduled run does: an archived feed is
// first refreshed with a forced collection, then built with opts.
func (r *Runner) RunFeed(ctx context.Context, feedDir string, opts Options) (feedbuilder.Result, error) {
	conf, err := feedconf.Load(feedDir)
	if err != nil {
		return feedbuilder.Result{FeedName: feedbuilder.FeedName(feedDir)}, err
	}
	if conf.IsCompleted() && !opts.CollectOnly && !opts.ForceCollect {
		first := Options{ForceCollect: true, RemoveAll: opts.RemoveAll, WindowSize: opts.WindowSize}
		if res, err := r.MakeSingleFeed(ctx, feedDir, first); err != nil {
			return res, fmt.Errorf("forced collection: %w", err)
		}
		opts.RemoveAll = false
	}
	return r.MakeSingleFeed(ctx, feedDir, opts)
}

// FeedDirs lists <work_dir>/<group>/<feed> directories holding conf.json,
// skipping names that start with "_" or ".".
func (r *Runner) FeedDirs() ([]string, error) {
	groups, err := os.ReadDir(r.env.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("read work dir: %w", err)
	}
	var dirs []string
	for _, g := range groups {
		if !g.IsDir() || skippedName(g.Name()) {
			continue
		}
		if _, ok := disabledTopDirs[g.Name()]; ok {
			continue
		}
		groupDir := filepath.Join(r.env.WorkDir, g.Name())
		feeds, err := os.ReadDir(groupDir)
		if err != nil {
			r.log.Warn("Can't read group", logger.String("group", g.Name()), logger.Error(err))
			continue
		}
		for _, f := range feeds {
			if !f.IsDir() || skippedName(f.Name()) {
				continue
			}
			feedDir := filepath.Join(groupDir, f.Name())
			if _, err := os.Stat(filepath.Join(feedDir, feedconf.FileName)); err != nil {
				continue
			}
			dirs = append(dirs, feedDir)
		}
	}
	sort.Strings(dirs)
	return dirs, nil
}

func skippedName(name string) bool {
	return strings.HasPrefix(name, "_") || strings.HasPrefix(name, ".")
}

// MakeAllFeeds runs every feed in random order, at most opts.NumFeeds of
// them when positive. Failures are collected and reported once at the end.
func (r *Runner) MakeAllFeeds(ctx context.Context, opts BatchOptions) (BatchResult, error) {
	runID := uuid.NewString()
	log := r.log.With(logger.String("run_id", runID))
	ctx = logger.WithContext(ctx, log)
	start := time.Now()
	res := BatchResult{RunID: runID}

	dirs, err := r.FeedDirs()
	if err != nil {
		return res, err
	}
	r.shuffle(dirs)
	if opts.NumFeeds > 0 && len(dirs) > opts.NumFeeds {
		dirs = dirs[:opts.NumFeeds]
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = r.concurrency
	}
	log.Info("Generating feeds", logger.Int("feeds", len(dirs)), logger.Int("concurrency", concurrency))

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		failed []string
	)
	sem := make(chan struct{}, concurrency)

loop:
	for _, dir := range dirs {
		select {
		case <-ctx.Done():
			break loop
		case sem <- struct{}{}:
		}
		res.Feeds++
		wg.Add(1)
		go func(dir string) {
			defer func() {
				<-sem
				wg.Done()
			}()
			if _, err := r.RunFeed(ctx, dir, Options{WindowSize: opts.WindowSize}); err != nil {
				id := filepath.Base(filepath.Dir(dir)) + "/" + filepath.Base(dir)
				log.Warn("Can't make feed", logger.String("feed", id), logger.Error(err))
				mu.Lock()
				failed = append(failed, id)
				mu.Unlock()
			}
		}(dir)
	}
	wg.Wait()

	sort.Strings(failed)
	res.Failed = failed
	res.Elapsed = time.Since(start)
	log.Info("Running time analysis",
		logger.String("start", start.Format(time.RFC3339)),
		logger.Duration("elapsed", res.Elapsed),
		logger.Int("feeds", res.Feeds),
		logger.Int("failed", len(failed)),
	)
	r.metrics.ObserveBatch(len(failed))

	if len(failed) > 0 {
		msg := notifier.Message{Subject: FailureSubject, Body: strings.Join(failed, ", ")}
		if err := r.notifier.Send(ctx, msg); err != nil {
			log.Warn("Can't send failure report", logger.Error(err))
		}
	}
	return res, ctx.Err()
}

// CheckRunning probes the lock of <work_dir>/<group>/<feed>.
func (r *Runner) CheckRunning(group, feed string) Status {
	return ProbeLock(LockPath(filepath.Join(r.env.WorkDir, group, feed)))
}
