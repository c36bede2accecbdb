package feedbuilder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/extractor"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/feedconf"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/fetcher"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/listcollector"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/retry"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/script"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/urlutil"
)

// HTMLDirName holds the cached snippets of a feed.
const HTMLDirName = "html"

// itemFetchAttempts is the in-pipeline retry count for article pages.
const itemFetchAttempts = 2

// HTMLDir returns <feedDir>/html.
func HTMLDir(feedDir string) string {
	return filepath.Join(feedDir, HTMLDirName)
}

// HTMLPath returns the cached snippet path of link.
func HTMLPath(feedDir, link string) string {
	return filepath.Join(HTMLDir(feedDir), urlutil.Fingerprint(link)+".html")
}

// PixelTag is the tracking image appended to every snippet of a feed.
func PixelTag(imageURLPrefix, feedName, fingerprint string) string {
	prefix := strings.TrimRight(imageURLPrefix, "/")
	return fmt.Sprintf("\n<img src='%s/1x1.jpg?feed=%s.xml&item=%s'/>\n", prefix, feedName, fingerprint)
}

// ReuseThreshold is the size a cached snippet must exceed to be reused
// without rebuilding: the preamble plus the tracking pixel.
func ReuseThreshold(pixel string) int64 {
	return int64(len(extractor.Preamble) + 1 + len(pixel))
}

// EmptyThreshold is the largest snippet size that still counts as empty.
const EmptyThreshold = int64(len(extractor.Header))

// makeSnippet makes sure html/<fp>.html holds a usable snippet for item and
// returns its path. A snippet no larger than EmptyThreshold is left on disk
// and reported as ErrExtractorEmpty.
func (b *Builder) makeSnippet(
	ctx context.Context,
	feedDir, feedName string,
	item listcollector.Item,
	ext feedconf.Extraction,
	log logger.Logger,
) (string, error) {
	path := HTMLPath(feedDir, item.Link)
	pixel := PixelTag(b.env.ImageURLPrefix, feedName, urlutil.Fingerprint(item.Link))

	if info, err := os.Stat(path); err == nil && info.Size() > ReuseThreshold(pixel) {
		log.Debug("Reusing snippet", logger.String("link", item.Link), logger.Int64("size", info.Size()))
		return path, nil
	}

	cfg := retry.Fixed(2, b.itemRetryDelay)
	cfg.IsRetryable = func(err error) bool {
		var fe *fetcher.Error
		if errors.As(err, &fe) && fe.Permanent() {
			return false
		}
		return !errors.Is(err, context.Canceled)
	}
	cfg.OnRetry = func(_ int, err error, wait time.Duration) {
		log.Warn("Snippet build failed, retrying",
			logger.String("link", item.Link), logger.Duration("wait", wait), logger.Error(err))
	}
	var content []byte
	err := retry.Do(ctx, cfg, func(ctx context.Context) error {
		var err error
		content, err = b.renderSnippet(ctx, feedDir, item.Link, ext)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("build snippet: %w", err)
	}

	if int64(len(content)) > EmptyThreshold && !bytes.Contains(content, []byte(pixel)) {
		content = append(content, pixel...)
	}
	if err := writeFileAtomic(path, content); err != nil {
		return "", err
	}

	if ext.ForceSleepBetweenArticles {
		if err := sleep(ctx, b.articleDelay); err != nil {
			return "", err
		}
	}

	if int64(len(content)) <= EmptyThreshold {
		return path, fmt.Errorf("%w: %d bytes", ErrExtractorEmpty, len(content))
	}
	log.Info("Built snippet",
		logger.String("title", item.Title),
		logger.String("path", b.env.Short(path)),
		logger.Int("size", len(content)),
	)
	return path, nil
}

// renderSnippet fetches link, extracts the article and runs the configured
// post-process scripts, each getting the link as its argument.
func (b *Builder) renderSnippet(ctx context.Context, feedDir, link string, ext feedconf.Extraction) ([]byte, error) {
	opts := fetcher.FromConfig(ext.Fetch, feedDir)
	opts.NumRetries = itemFetchAttempts
	resp, err := b.fetcher.Get(ctx, link, opts)
	if err != nil {
		return nil, err
	}

	body := resp.Body
	if !ext.BypassElementExtraction {
		body = []byte(b.extractor.Extract(string(resp.Body), link, ext.Selectors))
	}
	if len(ext.PostProcessScriptList) == 0 {
		return body, nil
	}

	runner := script.NewRunner(feedDir, b.log)
	steps := make([]script.Transform, 0, len(ext.PostProcessScriptList))
	for _, line := range ext.PostProcessScriptList {
		steps = append(steps, runner.Step(line, link))
	}
	out, err := script.Pipeline(ctx, body, steps...)
	if err != nil {
		return nil, fmt.Errorf("post-process: %w", err)
	}
	return out, nil
}

func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create dir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
