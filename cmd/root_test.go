package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootFlags_Shorthands(t *testing.T) {
	for short, long := range map[string]string{
		"a": "all", "r": "remove-all", "c": "force-collect", "l": "collect-only", "n": "num-feeds", "w": "window-size",
	} {
		f := rootCmd.Flags().ShorthandLookup(short)
		require.NotNil(t, f, short)
		assert.Equal(t, long, f.Name)
	}
}

func TestRootCommand_Subcommands(t *testing.T) {
	names := map[string]bool{}
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"catalog", "schedule", "migrate", "fetch", "extract", "version"} {
		assert.True(t, names[want], want)
	}
}

func TestResolveFeedDir(t *testing.T) {
	cwd, err := os.Getwd()
	require.NoError(t, err)

	got, err := resolveFeedDir("")
	require.NoError(t, err)
	assert.Equal(t, cwd, got)

	got, err = resolveFeedDir(filepath.Join("news", "daily"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cwd, "news", "daily"), got)
}
