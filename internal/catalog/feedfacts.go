package catalog

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/feedbuilder"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/feedconf"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/listcollector"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/window"
)

// progressOffset is added to the window start when estimating progress.
const progressOffset = 4

// ConfigFacts are the catalog columns derived from conf.json.
type ConfigFacts struct {
	Title          string
	Config         string
	ModifyDate     time.Time
	URLListCount   int
	IsCompleted    bool
	UnitSizePerDay float64
	ElementNames   []string
}

// ReadConfigFacts loads conf.json of feedDir.
func ReadConfigFacts(feedDir string) (ConfigFacts, error) {
	conf, err := feedconf.Load(feedDir)
	if err != nil {
		return ConfigFacts{}, err
	}
	return ConfigFacts{
		Title:          conf.RSS.DisplayTitle(),
		Config:         conf.CompactJSON(),
		ModifyDate:     conf.ModTime.UTC(),
		URLListCount:   conf.URLListCount(),
		IsCompleted:    conf.IsCompleted(),
		UnitSizePerDay: conf.Collection.UnitSizePerDay,
		ElementNames:   conf.ElementNames(),
	}, nil
}

// UpsertConfig stores the conf.json facts of feedDir. When counts is not
// nil, the configured element names are added to it. A disabled feed only
// records its group and inactive state; an active one without conf.json is
// skipped.
func (c *Catalog) UpsertConfig(ctx context.Context, feedDir string, counts map[string]int) error {
	id, ok := IdentifyFeed(feedDir)
	if !ok {
		return nil
	}
	if !id.Active {
		return c.withTx(ctx, "upsert config", func(tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO feed_info (feed_name, group_name, is_active) VALUES ($1, $2, FALSE)
				ON CONFLICT (feed_name) DO UPDATE SET group_name = EXCLUDED.group_name, is_active = FALSE`,
				id.Feed, id.Group)
			return err
		})
	}

	facts, err := ReadConfigFacts(feedDir)
	if errors.Is(err, feedconf.ErrConfigMissing) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("upsert config: %w", err)
	}
	if counts != nil {
		for _, name := range facts.ElementNames {
			counts[name]++
		}
	}
	return c.withTx(ctx, "upsert config", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO feed_info (feed_name, group_name, feed_title, is_active, config,
				config_modify_date, url_list_count, is_completed, unit_size_per_day)
			VALUES ($1, $2, $3, TRUE, $4, $5, $6, $7, $8)
			ON CONFLICT (feed_name) DO UPDATE SET
				group_name = EXCLUDED.group_name, feed_title = EXCLUDED.feed_title, is_active = TRUE,
				config = EXCLUDED.config, config_modify_date = EXCLUDED.config_modify_date,
				url_list_count = EXCLUDED.url_list_count, is_completed = EXCLUDED.is_completed,
				unit_size_per_day = EXCLUDED.unit_size_per_day`,
			id.Feed, id.Group, facts.Title, facts.Config, facts.ModifyDate,
			facts.URLListCount, facts.IsCompleted, facts.UnitSizePerDay)
		return err
	})
}

// RemoveConfig clears the conf.json columns of feedDir, deleting the file
// too when removeFile is set.
func (c *Catalog) RemoveConfig(ctx context.Context, feedDir string, removeFile bool) error {
	if removeFile {
		if err := removeIfExists(filepath.Join(feedDir, feedconf.FileName)); err != nil {
			return err
		}
	}
	return c.clearColumns(ctx, "remove config", feedDir, `
		UPDATE feed_info SET is_active = NULL, feed_title = NULL, config = NULL,
			config_modify_date = NULL, url_list_count = NULL
		WHERE feed_name = $1`)
}

// UpsertRss records whether <feed>.xml exists in feedDir and when it changed.
func (c *Catalog) UpsertRss(ctx context.Context, feedDir string) error {
	id, ok := IdentifyFeed(feedDir)
	if !ok {
		return nil
	}
	made := false
	var updated *time.Time
	if id.Active {
		info, err := os.Stat(feedbuilder.ArtifactPath(feedDir))
		switch {
		case err == nil && info.Mode().IsRegular():
			made = true
			t := info.ModTime().UTC()
			updated = &t
		case err != nil && !errors.Is(err, fs.ErrNotExist):
			return fmt.Errorf("upsert rss: %w", err)
		}
	}
	return c.withTx(ctx, "upsert rss", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO feed_info (feed_name, group_name, feedmaker, rss_update_date) VALUES ($1, $2, $3, $4)
			ON CONFLICT (feed_name) DO UPDATE SET
				feedmaker = EXCLUDED.feedmaker, rss_update_date = EXCLUDED.rss_update_date`,
			id.Feed, id.Group, made, updated)
		return err
	})
}

// RemoveRss clears the artifact columns of feedDir.
func (c *Catalog) RemoveRss(ctx context.Context, feedDir string, removeFile bool) error {
	if removeFile {
		if err := removeIfExists(feedbuilder.ArtifactPath(feedDir)); err != nil {
			return err
		}
	}
	return c.clearColumns(ctx, "remove rss", feedDir,
		`UPDATE feed_info SET feedmaker = NULL, rss_update_date = NULL WHERE feed_name = $1`)
}

// PublicFeedPath returns the published copy of feedName.
func (c *Catalog) PublicFeedPath(feedName string) string {
	return filepath.Join(c.env.FeedsDir, feedName+".xml")
}

// CountItems counts "<item>" occurrences in an RSS document.
func CountItems(data []byte) int {
	return bytes.Count(data, []byte("<item>"))
}

// UpsertPublicFeed records a published feed file and returns its item count.
func (c *Catalog) UpsertPublicFeed(ctx context.Context, path string) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("upsert public feed: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("upsert public feed: %w", err)
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	numItems := CountItems(data)
	uploaded := info.ModTime().UTC()

	err = c.withTx(ctx, "upsert public feed", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO feed_info (feed_name, public_html, public_feed_file_path, file_size, num_items, upload_date)
			VALUES ($1, TRUE, $2, $3, $4, $5)
			ON CONFLICT (feed_name) DO UPDATE SET
				public_html = TRUE, public_feed_file_path = EXCLUDED.public_feed_file_path,
				file_size = EXCLUDED.file_size, num_items = EXCLUDED.num_items,
				upload_date = EXCLUDED.upload_date`,
			name, c.env.Short(path), info.Size(), numItems, uploaded)
		return err
	})
	return numItems, err
}

// RemovePublicFeed clears the published-file columns for the feed at path.
func (c *Catalog) RemovePublicFeed(ctx context.Context, path string, removeFile bool) error {
	if removeFile {
		if err := removeIfExists(path); err != nil {
			return err
		}
	}
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	return c.withTx(ctx, "remove public feed", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			UPDATE feed_info SET public_html = NULL, public_feed_file_path = NULL,
				file_size = NULL, num_items = NULL, upload_date = NULL
			WHERE feed_name = $1`, name)
		return err
	})
}

// ProgressFacts are the release progress columns of a feed.
type ProgressFacts struct {
	IsCompleted    bool
	CurrentIndex   int
	TotalItemCount int
	ProgressRatio  float64
	DueDate        *time.Time
	CollectDate    *time.Time
}

// Progress estimates how far the window has come through total items and
// when it reaches the end at unitSizePerDay items a day. due is nil when
// the rate is not positive.
func Progress(currentIndex, total int, unitSizePerDay float64, now time.Time) (ratio float64, due *time.Time) {
	ratio = math.Trunc(float64((currentIndex+progressOffset)*100) / float64(total+1))
	if unitSizePerDay <= 0 {
		return ratio, nil
	}
	remainder := total - (currentIndex + progressOffset)
	days := int(math.Ceil(float64(remainder) / unitSizePerDay))
	t := now.AddDate(0, 0, days).UTC()
	return ratio, &t
}

// ReadProgressFacts inspects the list files and window state of feedDir.
// The collect date is the newest list file mtime for every feed; the other
// columns are only computed for completed feeds.
func ReadProgressFacts(feedDir string, now time.Time, loc *time.Location) (ProgressFacts, error) {
	var facts ProgressFacts
	files, err := listcollector.ListFiles(feedDir)
	if err != nil {
		return facts, err
	}
	for _, f := range files {
		info, err := os.Stat(f)
		if err != nil {
			continue
		}
		if t := info.ModTime().UTC(); facts.CollectDate == nil || t.After(*facts.CollectDate) {
			facts.CollectDate = &t
		}
	}

	conf, err := feedconf.Load(feedDir)
	if errors.Is(err, feedconf.ErrConfigMissing) {
		return facts, nil
	}
	if err != nil {
		return facts, err
	}
	if !conf.IsCompleted() {
		return facts, nil
	}
	facts.IsCompleted = true
	st, _, err := window.ReadState(window.StatePath(feedDir), loc)
	if err != nil {
		return facts, err
	}
	facts.CurrentIndex = st.StartIndex
	items, err := listcollector.AllLists(feedDir)
	if err != nil {
		return facts, err
	}
	facts.TotalItemCount = len(items)
	facts.ProgressRatio, facts.DueDate = Progress(facts.CurrentIndex, facts.TotalItemCount, conf.Collection.UnitSizePerDay, now)
	return facts, nil
}

// UpsertProgress stores the release progress of feedDir. Disabled feeds are skipped.
func (c *Catalog) UpsertProgress(ctx context.Context, feedDir string) error {
	id, ok := IdentifyFeed(feedDir)
	if !ok || !id.Active {
		return nil
	}
	facts, err := ReadProgressFacts(feedDir, c.now(), c.env.Location)
	if err != nil {
		return fmt.Errorf("upsert progress: %w", err)
	}
	if facts.IsCompleted {
		c.log.Debug("Feed progress",
			logger.String("feed", id.Feed),
			logger.Int("current_index", facts.CurrentIndex),
			logger.Int("total_item_count", facts.TotalItemCount),
			logger.Float64("progress_ratio", facts.ProgressRatio),
		)
	}
	return c.withTx(ctx, "upsert progress", func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO feed_info (feed_name, group_name, collect_date, is_completed, current_index,
				total_item_count, progress_ratio, due_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (feed_name) DO UPDATE SET
				collect_date = EXCLUDED.collect_date, is_completed = EXCLUDED.is_completed,
				current_index = EXCLUDED.current_index, total_item_count = EXCLUDED.total_item_count,
				progress_ratio = EXCLUDED.progress_ratio, due_date = EXCLUDED.due_date`,
			id.Feed, id.Group, facts.CollectDate, facts.IsCompleted, facts.CurrentIndex,
			facts.TotalItemCount, facts.ProgressRatio, facts.DueDate)
		return err
	})
}

// RemoveProgress clears the progress columns of feedDir, deleting the
// window state file too when removeFile is set.
func (c *Catalog) RemoveProgress(ctx context.Context, feedDir string, removeFile bool) error {
	if removeFile {
		if err := removeIfExists(window.StatePath(feedDir)); err != nil {
			return err
		}
	}
	return c.clearColumns(ctx, "remove progress", feedDir, `
		UPDATE feed_info SET collect_date = NULL, is_completed = NULL, current_index = NULL,
			total_item_count = NULL, unit_size_per_day = NULL, progress_ratio = NULL, due_date = NULL
		WHERE feed_name = $1`)
}

func (c *Catalog) clearColumns(ctx context.Context, op, feedDir, query string) error {
	id, ok := IdentifyFeed(feedDir)
	if !ok {
		return nil
	}
	return c.withTx(ctx, op, func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, query, id.Feed)
		return err
	})
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", filepath.Base(path), err)
	}
	return nil
}
