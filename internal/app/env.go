// Package app holds the process-wide values built once at startup and
// passed to every component.
package app

import (
	"path/filepath"
	"time"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/pathutil"
)

// Env is read-only after construction.
type Env struct {
	// WorkDir holds <group>/<feed> directories.
	WorkDir string
	// FeedsDir receives published <feed>.xml copies.
	FeedsDir string
	// ImageDir holds cached images, one subdirectory per feed.
	ImageDir string
	// ImageURLPrefix is the public URL of ImageDir. The tracking pixel lives at its root.
	ImageURLPrefix string
	Location       *time.Location
	Logger         logger.Logger
	Paths          pathutil.Shortener
}

// New fills Paths from the directories and defaults Location and Logger.
func New(workDir, feedsDir, imageDir, imageURLPrefix string, loc *time.Location, log logger.Logger) *Env {
	if loc == nil {
		loc = time.Local
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Env{
		WorkDir:        filepath.Clean(workDir),
		FeedsDir:       feedsDir,
		ImageDir:       imageDir,
		ImageURLPrefix: imageURLPrefix,
		Location:       loc,
		Logger:         log,
		Paths:          pathutil.NewShortener(workDir, feedsDir),
	}
}

// FeedImageDir returns the cached image directory for one feed.
func (e *Env) FeedImageDir(feedName string) string {
	return filepath.Join(e.ImageDir, feedName)
}

// Short shortens p for logging.
func (e *Env) Short(p string) string {
	return e.Paths.Short(p)
}
