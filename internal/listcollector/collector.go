// Package listcollector captures the (link, title) list of a feed from its
// list pages and keeps the per-day list files.
package listcollector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/feedconf"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/fetcher"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/retry"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/script"
)

// DefaultRetryDelay is the wait before the second try of a list URL.
const DefaultRetryDelay = 10 * time.Second

// fetchAttempts is the in-pipeline fetch retry count for list pages.
const fetchAttempts = 2

// PageFetcher is the part of fetcher.Client the collector needs.
type PageFetcher interface {
	Get(ctx context.Context, url string, opts fetcher.Options) (*fetcher.Response, error)
}

// Config configures a Collector.
type Config struct {
	Fetcher    PageFetcher
	Logger     logger.Logger
	RetryDelay time.Duration
}

// Collector runs list capture for one feed at a time. It is safe for
// concurrent use across feeds.
type Collector struct {
	fetcher    PageFetcher
	log        logger.Logger
	retryDelay time.Duration
}

// New creates a Collector.
func New(cfg Config) *Collector {
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	return &Collector{fetcher: cfg.Fetcher, log: cfg.Logger, retryDelay: cfg.RetryDelay}
}

// Collect captures every list URL of conf, deduplicates by link and, when
// anything was found, writes the result to the list file of now.
func (c *Collector) Collect(ctx context.Context, feedDir string, conf feedconf.Collection, now time.Time) ([]Item, error) {
	runner := script.NewRunner(feedDir, c.log)
	var all []Item
	for _, u := range conf.ListURLList {
		items, err := c.collectURL(ctx, runner, feedDir, u, conf)
		if err != nil {
			return nil, fmt.Errorf("collect %s: %w", u, err)
		}
		c.log.Debug("Collected list page", logger.String("url", u), logger.Int("items", len(items)))
		all = append(all, items...)
	}

	all = Dedupe(all)
	if len(all) == 0 {
		return nil, nil
	}
	path := ListFilePath(feedDir, now)
	if err := WriteListFile(path, all); err != nil {
		return nil, err
	}
	c.log.Info("Saved new list", logger.String("path", path), logger.Int("items", len(all)))
	return all, nil
}

func (c *Collector) collectURL(ctx context.Context, runner *script.Runner, feedDir, listURL string, conf feedconf.Collection) ([]Item, error) {
	cfg := retry.Fixed(2, c.retryDelay)
	cfg.IsRetryable = func(err error) bool {
		return !errors.Is(err, ErrMalformedLine) && !errors.Is(err, context.Canceled)
	}
	cfg.OnRetry = func(_ int, err error, wait time.Duration) {
		c.log.Warn("List capture failed, retrying",
			logger.String("url", listURL), logger.Duration("wait", wait), logger.Error(err))
	}

	var items []Item
	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		opts := fetcher.FromConfig(conf.Fetch, feedDir)
		opts.NumRetries = fetchAttempts
		resp, err := c.fetcher.Get(ctx, listURL, opts)
		if err != nil {
			return err
		}

		var captured []byte
		if line, ok := c.captureScript(feedDir, conf.ItemCaptureScript); ok {
			captured, err = runner.Run(ctx, line, resp.Body)
			if err != nil {
				return fmt.Errorf("capture script: %w", err)
			}
		} else {
			found, err := captureBuiltin(resp.Body, resp.URL, conf.Selectors)
			if err != nil {
				return fmt.Errorf("capture links: %w", err)
			}
			captured = renderItems(found)
		}

		steps := make([]script.Transform, 0, len(conf.PostProcessScriptList))
		for _, line := range conf.PostProcessScriptList {
			steps = append(steps, runner.Step(line))
		}
		out, err := script.Pipeline(ctx, captured, steps...)
		if err != nil {
			return fmt.Errorf("post-process: %w", err)
		}
		items, err = ParseLines(out)
		return err
	})
	return items, err
}

// captureScript decides whether a capture script runs. An empty setting, or
// the default script when the feed does not ship one, selects the built-in
// link capture.
func (c *Collector) captureScript(feedDir, line string) (string, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}
	if line == feedconf.DefaultItemCaptureScript {
		if _, err := script.Resolve(line, feedDir); err != nil {
			c.log.Debug("Default capture script absent, using built-in capture")
			return "", false
		}
	}
	return line, true
}
