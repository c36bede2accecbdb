package script_test

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/script"
)

func writeScript(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("#!/bin/sh\n"+body+"\n"), 0o755))
}

func TestResolve(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeScript(t, dir, "capture.sh", "cat")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plain.txt"), []byte("x"), 0o644))

	cmd, err := script.Resolve("./capture.sh -n 3", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "capture.sh"), cmd.Path)
	assert.Equal(t, []string{"-n", "3"}, cmd.Args)

	cmd, err = script.Resolve("sh -c true", dir)
	require.NoError(t, err)
	assert.True(t, filepath.IsAbs(cmd.Path))

	_, err = script.Resolve("./plain.txt", dir)
	require.ErrorIs(t, err, script.ErrNotFound)

	_, err = script.Resolve("./absent.sh", dir)
	require.ErrorIs(t, err, script.ErrNotFound)

	_, err = script.Resolve("   ", dir)
	require.ErrorIs(t, err, script.ErrNotFound)
}

func TestRunner_RunPipesStdinAndArgs(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeScript(t, dir, "upper.sh", `tr a-z A-Z; echo "$1"`)

	r := script.NewRunner(dir, logger.NewNop())
	out, err := r.Run(context.Background(), "./upper.sh", []byte("hello\n"), "https://example.com/item/1")
	require.NoError(t, err)
	assert.Equal(t, "HELLO\nhttps://example.com/item/1\n", string(out))
}

func TestRunner_Failures(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeScript(t, dir, "exit1.sh", "exit 1")
	writeScript(t, dir, "stderr.sh", `echo "Error: page not parsed" >&2; echo partial`)
	writeScript(t, dir, "warn.sh", `echo "deprecated option" >&2; echo fine`)
	writeScript(t, dir, "slow.sh", "sleep 10")

	r := script.NewRunner(dir, logger.NewNop())
	ctx := context.Background()

	_, err := r.Run(ctx, "./exit1.sh", nil)
	require.ErrorIs(t, err, script.ErrFailed)

	_, err = r.Run(ctx, "./stderr.sh", nil)
	require.ErrorIs(t, err, script.ErrFailed)

	out, err := r.Run(ctx, "./warn.sh", nil)
	require.NoError(t, err)
	assert.Equal(t, "fine\n", string(out))

	r.Timeout = 100 * time.Millisecond
	_, err = r.Run(ctx, "./slow.sh", nil)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestPipeline(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	writeScript(t, dir, "rev.sh", "tr abc cba")
	r := script.NewRunner(dir, logger.NewNop())

	trim := func(_ context.Context, in []byte) ([]byte, error) {
		return []byte(strings.TrimSpace(string(in))), nil
	}
	out, err := script.Pipeline(context.Background(), []byte("abc\n"), r.Step("./rev.sh"), nil, trim)
	require.NoError(t, err)
	assert.Equal(t, "cba", string(out))
}
