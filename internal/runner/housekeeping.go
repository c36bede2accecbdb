package runner

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/feedbuilder"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/listcollector"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/window"
)

// ImageNotFound is the placeholder image name snippets carry for a failed download.
const ImageNotFound = "image-not-found.png"

// ScratchFiles are left behind by capture and debugging scripts.
var ScratchFiles = []string{"nohup.out", "temp.html", "x.html"}

// RemoveScratchFiles deletes ScratchFiles from feedDir.
func RemoveScratchFiles(feedDir string, log logger.Logger) {
	for _, name := range ScratchFiles {
		path := filepath.Join(feedDir, name)
		if err := os.Remove(path); err == nil {
			log.Debug("Removed scratch file", logger.String("path", path))
		}
	}
}

// RemoveAllArtifacts deletes snippets, list files, the artifact and its
// previous copy, the window state and the scratch files.
func RemoveAllArtifacts(feedDir string, log logger.Logger) error {
	for _, dir := range []string{feedbuilder.HTMLDir(feedDir), listcollector.ListDir(feedDir)} {
		if err := removeDirContents(dir); err != nil {
			return err
		}
	}
	artifact := feedbuilder.ArtifactPath(feedDir)
	for _, path := range []string{artifact, artifact + feedbuilder.OldSuffix, window.StatePath(feedDir)} {
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", filepath.Base(path), err)
		}
	}
	RemoveScratchFiles(feedDir, log)
	log.Info("Removed all generated files")
	return nil
}

func removeDirContents(dir string) error {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read %s: %w", dir, err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("remove %s: %w", e.Name(), err)
		}
	}
	return nil
}

// RemoveZeroSizeImages deletes empty files from a feed's image directory.
func RemoveZeroSizeImages(imageDir string, log logger.Logger) int {
	entries, err := os.ReadDir(imageDir)
	if err != nil {
		return 0
	}
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.Size() != 0 {
			continue
		}
		if os.Remove(filepath.Join(imageDir, e.Name())) == nil {
			removed++
		}
	}
	if removed > 0 {
		log.Info("Removed empty images", logger.Int("count", removed))
	}
	return removed
}

// ImageChecker finds the cached images a snippet refers to that are missing.
type ImageChecker struct {
	imageDir string
	pattern  *regexp.Regexp
}

// NewImageChecker matches <img src> values under imageURLPrefix/<feed>/ and
// resolves them in imageDir, the per-feed image directory.
func NewImageChecker(imageURLPrefix, imageDir string) *ImageChecker {
	c := &ImageChecker{imageDir: imageDir}
	prefix := strings.TrimRight(imageURLPrefix, "/")
	if prefix != "" {
		quoted := regexp.QuoteMeta(prefix)
		quoted = strings.Replace(quoted, "https", "https?", 1)
		c.pattern = regexp.MustCompile(`<img src=["']` + quoted + `/[^/]+/(\S+)["']`)
	}
	return c
}

// Incomplete lists placeholder images and cached images that are missing or empty.
func (c *ImageChecker) Incomplete(snippetPath string) ([]string, error) {
	f, err := os.Open(snippetPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var missing []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if strings.Contains(line, ImageNotFound) {
			missing = append(missing, ImageNotFound)
		}
		if c.pattern == nil {
			continue
		}
		m := c.pattern.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		info, err := os.Stat(filepath.Join(c.imageDir, m[1]))
		if err != nil || info.Size() == 0 {
			missing = append(missing, m[1])
		}
	}
	return missing, sc.Err()
}

// RemoveIncompleteSnippets deletes snippets with more missing images than
// threshold so the next run rebuilds them. A negative threshold disables it.
func RemoveIncompleteSnippets(feedDir string, checker *ImageChecker, threshold int, log logger.Logger) int {
	if threshold < 0 {
		return 0
	}
	entries, err := os.ReadDir(feedbuilder.HTMLDir(feedDir))
	if err != nil {
		return 0
	}
	removed := 0
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(feedbuilder.HTMLDir(feedDir), e.Name())
		missing, err := checker.Incomplete(path)
		if err != nil {
			log.Warn("Can't inspect snippet", logger.String("path", path), logger.Error(err))
			continue
		}
		if len(missing) > threshold && os.Remove(path) == nil {
			log.Info("Removed snippet with missing images",
				logger.String("file", e.Name()), logger.Strings("missing", missing))
			removed++
		}
	}
	return removed
}
