package catalog

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/feedbuilder"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
)

const (
	// SmallHTMLMin and SmallHTMLMax bound the "small size" view. Snippets in
	// between hold little more than the preamble and the tracking pixel.
	SmallHTMLMin = 124
	SmallHTMLMax = 434

	pixelMarker       = "1x1.jpg"
	imageNotFoundName = "image-not-found.png"
)

// HTMLFileKey selects which column RemoveHTMLFiles matches.
type HTMLFileKey int

const (
	ByFeedDir HTMLFileKey = iota
	ByFilePath
)

// AnalyzeHTMLFile inspects one snippet. flagged is false when it is healthy
// and needs no row.
func (c *Catalog) AnalyzeHTMLFile(path string) (row HTMLFileInfo, flagged bool, err error) {
	info, err := os.Stat(path)
	if err != nil {
		return HTMLFileInfo{}, false, err
	}
	f, err := os.Open(path)
	if err != nil {
		return HTMLFileInfo{}, false, err
	}
	defer f.Close()

	pixels, notFound := 0, 0
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.Contains(line, pixelMarker) {
			pixels++
		}
		if strings.Contains(line, imageNotFoundName) {
			notFound++
		}
	}
	if err := sc.Err(); err != nil {
		return HTMLFileInfo{}, false, err
	}

	feedDir := filepath.Dir(filepath.Dir(path))
	updated := info.ModTime().UTC()
	row = HTMLFileInfo{
		FilePath:    c.env.Short(path),
		FileName:    filepath.Base(feedDir) + "/" + feedbuilder.HTMLDirName + "/" + filepath.Base(path),
		FeedDirPath: c.env.Short(feedDir),
		Size:        info.Size(),
		UpdateDate:  &updated,
	}
	if pixels > 1 {
		row.CountWithManyImageTag = 1
	}
	if pixels == 0 {
		row.CountWithoutImageTag = 1
	}
	if notFound > 0 {
		row.CountWithImageNotFound = 1
	}
	flagged = row.Size < SmallHTMLMax || row.CountWithManyImageTag > 0 ||
		row.CountWithoutImageTag > 0 || row.CountWithImageNotFound > 0
	return row, flagged, nil
}

// AddHTMLFiles records the flagged snippets of feedDir and returns how many
// snippets were inspected. Disabled feeds are skipped.
func (c *Catalog) AddHTMLFiles(ctx context.Context, feedDir string) (int, error) {
	id, ok := IdentifyFeed(feedDir)
	if !ok || !id.Active {
		return 0, nil
	}
	entries, err := os.ReadDir(feedbuilder.HTMLDir(feedDir))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("add html files: %w", err)
	}

	var rows []HTMLFileInfo
	inspected := 0
	for _, e := range entries {
		if !e.Type().IsRegular() || filepath.Ext(e.Name()) != ".html" {
			continue
		}
		inspected++
		row, flagged, err := c.AnalyzeHTMLFile(filepath.Join(feedbuilder.HTMLDir(feedDir), e.Name()))
		if err != nil {
			c.log.Warn("Can't inspect snippet", logger.String("file", e.Name()), logger.Error(err))
			continue
		}
		if flagged {
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		return inspected, nil
	}
	err = c.withTx(ctx, "add html files", func(tx *sqlx.Tx) error {
		for _, r := range rows {
			if _, err := tx.NamedExecContext(ctx, `
				INSERT INTO html_file_info (file_path, file_name, feed_dir_path, size,
					count_with_many_image_tag, count_without_image_tag, count_with_image_not_found, update_date)
				VALUES (:file_path, :file_name, :feed_dir_path, :size,
					:count_with_many_image_tag, :count_without_image_tag, :count_with_image_not_found, :update_date)
				ON CONFLICT (file_path) DO UPDATE SET
					file_name = EXCLUDED.file_name, feed_dir_path = EXCLUDED.feed_dir_path, size = EXCLUDED.size,
					count_with_many_image_tag = EXCLUDED.count_with_many_image_tag,
					count_without_image_tag = EXCLUDED.count_without_image_tag,
					count_with_image_not_found = EXCLUDED.count_with_image_not_found,
					update_date = EXCLUDED.update_date`, r); err != nil {
				return err
			}
		}
		return nil
	})
	return inspected, err
}

// RemoveHTMLFiles deletes snippet rows under a feed directory or for one
// file. With removeFile the snippets themselves are deleted too.
func (c *Catalog) RemoveHTMLFiles(ctx context.Context, key HTMLFileKey, path string, removeFile bool) error {
	short := c.env.Short(path)
	return c.withTx(ctx, "remove html files", func(tx *sqlx.Tx) error {
		switch key {
		case ByFeedDir:
			if removeFile {
				var files []string
				if err := tx.SelectContext(ctx, &files,
					`SELECT file_path FROM html_file_info WHERE feed_dir_path = $1`, short); err != nil {
					return err
				}
				for _, f := range files {
					if err := removeIfExists(c.resolve(f)); err != nil {
						return err
					}
				}
			}
			_, err := tx.ExecContext(ctx, `DELETE FROM html_file_info WHERE feed_dir_path = $1`, short)
			return err
		case ByFilePath:
			if _, err := tx.ExecContext(ctx, `DELETE FROM html_file_info WHERE file_path = $1`, short); err != nil {
				return err
			}
			if removeFile {
				return removeIfExists(path)
			}
			return nil
		default:
			return fmt.Errorf("unknown html file key %d", key)
		}
	})
}

// resolve turns a stored work-dir-relative path back into a real one.
func (c *Catalog) resolve(stored string) string {
	if filepath.IsAbs(stored) || c.env.WorkDir == "" {
		return stored
	}
	return filepath.Join(c.env.WorkDir, stored)
}

func (c *Catalog) selectHTMLFiles(ctx context.Context, op, where string, args ...any) ([]HTMLFileInfo, error) {
	var out []HTMLFileInfo
	query := `SELECT ` + htmlFileInfoColumns + ` FROM html_file_info WHERE ` + where + ` ORDER BY file_path`
	if err := c.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return out, nil
}

// GetSmallHTMLFiles returns snippets barely larger than their boilerplate.
func (c *Catalog) GetSmallHTMLFiles(ctx context.Context) ([]HTMLFileInfo, error) {
	return c.selectHTMLFiles(ctx, "get small html files", `size > $1 AND size < $2`, SmallHTMLMin, SmallHTMLMax)
}

// GetHTMLFilesWithManyImageTags returns snippets carrying more than one tracking pixel.
func (c *Catalog) GetHTMLFilesWithManyImageTags(ctx context.Context) ([]HTMLFileInfo, error) {
	return c.selectHTMLFiles(ctx, "get html files with many image tags", `count_with_many_image_tag > 0`)
}

// GetHTMLFilesWithoutImageTag returns snippets missing the tracking pixel.
func (c *Catalog) GetHTMLFilesWithoutImageTag(ctx context.Context) ([]HTMLFileInfo, error) {
	return c.selectHTMLFiles(ctx, "get html files without image tag", `count_without_image_tag > 0`)
}

// GetHTMLFilesWithImageNotFound returns snippets referring to the placeholder image.
func (c *Catalog) GetHTMLFilesWithImageNotFound(ctx context.Context) ([]HTMLFileInfo, error) {
	return c.selectHTMLFiles(ctx, "get html files with image not found", `count_with_image_not_found > 0`)
}
