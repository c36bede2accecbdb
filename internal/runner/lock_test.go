package runner_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/runner"
)

func TestAcquireLock_BusyWhileHeld(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), runner.LockFileName)
	held, err := runner.AcquireLock(context.Background(), path, time.Second)
	require.NoError(t, err)

	started := time.Now()
	_, err = runner.AcquireLock(context.Background(), path, 200*time.Millisecond)
	require.ErrorIs(t, err, runner.ErrBusy)
	assert.GreaterOrEqual(t, time.Since(started), 200*time.Millisecond)

	require.NoError(t, held.Release())
	again, err := runner.AcquireLock(context.Background(), path, time.Second)
	require.NoError(t, err)
	require.NoError(t, again.Release())

	_, err = os.Stat(path)
	assert.NoError(t, err, "lock file stays in place after release")
}

func TestAcquireLock_ContextCancelled(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), runner.LockFileName)
	held, err := runner.AcquireLock(context.Background(), path, time.Second)
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = runner.AcquireLock(ctx, path, 5*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAcquireLock_ReclaimsStaleLock(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), runner.LockFileName)
	stale, err := runner.AcquireLock(context.Background(), path, time.Second)
	require.NoError(t, err)
	defer stale.Release()

	old := time.Now().Add(-25 * time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	fresh, err := runner.AcquireLock(context.Background(), path, time.Second)
	require.NoError(t, err)
	defer fresh.Release()

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now(), info.ModTime(), time.Minute)
}

func TestProbeLock(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), runner.LockFileName)
	assert.Equal(t, runner.StatusIdle, runner.ProbeLock(path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "probe must not create the lock file")

	held, err := runner.AcquireLock(context.Background(), path, time.Second)
	require.NoError(t, err)
	assert.Equal(t, runner.StatusRunning, runner.ProbeLock(path))
	assert.Equal(t, "running", runner.ProbeLock(path).String())

	require.NoError(t, held.Release())
	assert.Equal(t, runner.StatusIdle, runner.ProbeLock(path))

	assert.Equal(t, runner.StatusUnknown, runner.ProbeLock(filepath.Join(path, "nested")))
}
