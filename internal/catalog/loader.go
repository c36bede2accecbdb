package catalog

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
)

// FeedDirs lists every <work_dir>/<group>/<feed> directory, disabled ones
// included, up to limit when positive.
func (c *Catalog) FeedDirs(limit int) ([]string, error) {
	groups, err := os.ReadDir(c.env.WorkDir)
	if err != nil {
		return nil, fmt.Errorf("read work dir: %w", err)
	}
	var dirs []string
	for _, g := range groups {
		if !g.IsDir() || ignored(g.Name()) {
			continue
		}
		feeds, err := os.ReadDir(filepath.Join(c.env.WorkDir, g.Name()))
		if err != nil {
			continue
		}
		for _, f := range feeds {
			if !f.IsDir() || ignored(f.Name()) {
				continue
			}
			dirs = append(dirs, filepath.Join(c.env.WorkDir, g.Name(), f.Name()))
		}
	}
	sort.Strings(dirs)
	if limit > 0 && len(dirs) > limit {
		dirs = dirs[:limit]
	}
	return dirs, nil
}

// forEachFeed applies fn to every feed dir, continuing past failures.
func (c *Catalog) forEachFeed(ctx context.Context, op string, limit int, fn func(feedDir string) error) (int, error) {
	start := time.Now()
	dirs, err := c.FeedDirs(limit)
	if err != nil {
		return 0, err
	}
	var errs []error
	done := 0
	for _, dir := range dirs {
		if err := ctx.Err(); err != nil {
			return done, err
		}
		if err := fn(dir); err != nil {
			c.log.Warn("Can't load feed", logger.String("op", op), logger.String("feed", c.env.Short(dir)), logger.Error(err))
			errs = append(errs, err)
			continue
		}
		done++
	}
	c.log.Info("Loaded catalog facts",
		logger.String("op", op), logger.Int("feeds", done), logger.Duration("elapsed", time.Since(start)))
	return done, errors.Join(errs...)
}

// LoadAllConfigFiles upserts every conf.json and replaces the element name counts.
func (c *Catalog) LoadAllConfigFiles(ctx context.Context, limit int) (int, error) {
	counts := map[string]int{}
	n, err := c.forEachFeed(ctx, "config", limit, func(dir string) error {
		return c.UpsertConfig(ctx, dir, counts)
	})
	if ctx.Err() != nil {
		return n, err
	}
	if rerr := c.ReplaceElementNameCounts(ctx, counts); rerr != nil {
		err = errors.Join(err, rerr)
	}
	return n, err
}

// LoadAllRssFiles upserts the artifact state of every feed.
func (c *Catalog) LoadAllRssFiles(ctx context.Context, limit int) (int, error) {
	return c.forEachFeed(ctx, "rss", limit, func(dir string) error {
		return c.UpsertRss(ctx, dir)
	})
}

// LoadAllProgressInfo upserts the release progress of every feed.
func (c *Catalog) LoadAllProgressInfo(ctx context.Context, limit int) (int, error) {
	return c.forEachFeed(ctx, "progress", limit, func(dir string) error {
		return c.UpsertProgress(ctx, dir)
	})
}

// LoadAllHTMLFiles records the flagged snippets of every feed.
func (c *Catalog) LoadAllHTMLFiles(ctx context.Context, limit int) (int, error) {
	total := 0
	_, err := c.forEachFeed(ctx, "html", limit, func(dir string) error {
		n, err := c.AddHTMLFiles(ctx, dir)
		total += n
		return err
	})
	return total, err
}

// LoadAllPublicFeedFiles upserts every <feeds_dir>/*.xml, up to limit when
// positive, and returns the total item count.
func (c *Catalog) LoadAllPublicFeedFiles(ctx context.Context, limit int) (int, error) {
	if c.env.FeedsDir == "" {
		return 0, nil
	}
	start := time.Now()
	files, err := filepath.Glob(filepath.Join(c.env.FeedsDir, "*.xml"))
	if err != nil {
		return 0, fmt.Errorf("list public feeds: %w", err)
	}
	sort.Strings(files)
	if limit > 0 && len(files) > limit {
		files = files[:limit]
	}
	var errs []error
	items := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return items, err
		}
		n, err := c.UpsertPublicFeed(ctx, f)
		if err != nil {
			c.log.Warn("Can't load public feed", logger.String("file", c.env.Short(f)), logger.Error(err))
			errs = append(errs, err)
			continue
		}
		items += n
	}
	c.log.Info("Loaded public feeds",
		logger.Int("files", len(files)), logger.Int("items", items), logger.Duration("elapsed", time.Since(start)))
	return items, errors.Join(errs...)
}
