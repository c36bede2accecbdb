package runner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// LockFileName is the per-feed advisory lock file.
	LockFileName = ".feed_maker_runner.lock"
	// DefaultLockTimeout bounds the wait for a busy feed.
	DefaultLockTimeout = 5 * time.Second
	// StaleLockAge is the age after which a held lock may be taken over.
	StaleLockAge = 24 * time.Hour

	lockPollInterval = 100 * time.Millisecond
	reclaimSuffix    = ".reclaim"
)

// ErrBusy means another run holds the feed lock.
var ErrBusy = errors.New("feed is busy")

var errHeld = errors.New("lock held")

// Status is the result of a non-destructive lock probe.
type Status int

const (
	StatusUnknown Status = iota
	StatusIdle
	StatusRunning
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	default:
		return "unknown"
	}
}

// FileLock is an exclusive flock on a lock file. The file itself is left in
// place on release; its mtime records the last acquisition.
type FileLock struct {
	path string
	f    *os.File
}

// AcquireLock takes the lock at path, polling until timeout. A lock held
// for longer than StaleLockAge is taken over.
func AcquireLock(ctx context.Context, path string, timeout time.Duration) (*FileLock, error) {
	if timeout <= 0 {
		timeout = DefaultLockTimeout
	}
	deadline := time.Now().Add(timeout)
	for {
		l, err := tryLock(path)
		if err == nil {
			return l, nil
		}
		if !errors.Is(err, errHeld) {
			return nil, err
		}
		if !time.Now().Before(deadline) {
			return nil, ErrBusy
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

func tryLock(path string) (*FileLock, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			if err := reclaimStale(path); err != nil {
				return nil, err
			}
			return nil, errHeld
		}
		return nil, fmt.Errorf("lock: %w", err)
	}

	// A reclaimer may have replaced the file between open and flock.
	held, err1 := f.Stat()
	current, err2 := os.Stat(path)
	if err1 != nil || err2 != nil || !os.SameFile(held, current) {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		f.Close()
		return nil, errHeld
	}

	stamp := strconv.Itoa(os.Getpid()) + " " + time.Now().Format(time.RFC3339) + "\n"
	if err := f.Truncate(0); err == nil {
		_, _ = f.WriteAt([]byte(stamp), 0)
	}
	now := time.Now()
	_ = os.Chtimes(path, now, now)
	return &FileLock{path: path, f: f}, nil
}

// reclaimStale unlinks a lock file older than StaleLockAge. Reclaimers
// serialize on a guard lock so the age check and the unlink see the same file.
func reclaimStale(path string) error {
	info, err := os.Stat(path)
	if err != nil || time.Since(info.ModTime()) <= StaleLockAge {
		return nil
	}

	guard, err := os.OpenFile(path+reclaimSuffix, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("open reclaim guard: %w", err)
	}
	// Closing the guard releases its lock.
	defer guard.Close()
	if err := unix.Flock(int(guard.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("reclaim guard: %w", err)
	}

	again, err := os.Stat(path)
	if err != nil || !os.SameFile(info, again) || time.Since(again.ModTime()) <= StaleLockAge {
		return nil
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale lock: %w", err)
	}
	return nil
}

// Release drops the lock.
func (l *FileLock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	err := unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	if cerr := l.f.Close(); err == nil {
		err = cerr
	}
	l.f = nil
	return err
}

// ProbeLock reports whether path is currently locked without creating it.
func ProbeLock(path string) Status {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if errors.Is(err, os.ErrNotExist) {
		return StatusIdle
	}
	if err != nil {
		return StatusUnknown
	}
	defer f.Close()

	err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	switch {
	case err == nil:
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		return StatusIdle
	case errors.Is(err, unix.EWOULDBLOCK):
		return StatusRunning
	default:
		return StatusUnknown
	}
}
