package logger

import (
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

func String(key, val string) Field                 { return zap.String(key, val) }
func Strings(key string, val []string) Field       { return zap.Strings(key, val) }
func Int(key string, val int) Field                { return zap.Int(key, val) }
func Int64(key string, val int64) Field            { return zap.Int64(key, val) }
func Float64(key string, val float64) Field        { return zap.Float64(key, val) }
func Bool(key string, val bool) Field              { return zap.Bool(key, val) }
func Duration(key string, val time.Duration) Field { return zap.Duration(key, val) }
func Time(key string, val time.Time) Field         { return zap.Time(key, val) }
func Any(key string, val any) Field                { return zap.Any(key, val) }

// Error uses the key "error".
func Error(err error) Field { return zap.Error(err) }

// ForFeed scopes l to the feed living in feedDir (<work_dir>/<group>/<feed>).
func ForFeed(l Logger, feedDir string) Logger {
	feedDir = filepath.Clean(feedDir)
	return l.With(
		zap.String("group", filepath.Base(filepath.Dir(feedDir))),
		zap.String("feed", filepath.Base(feedDir)),
	)
}
