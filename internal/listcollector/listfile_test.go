package listcollector_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/listcollector"
)

func TestParseLines(t *testing.T) {
	t.Parallel()

	items, err := listcollector.ParseLines([]byte("# header\n\nhttps://a/1\tOne\r\n  \nhttps://a/2\tTwo\tB\n"))
	require.NoError(t, err)
	assert.Equal(t, []listcollector.Item{
		{Link: "https://a/1", Title: "One"},
		{Link: "https://a/2", Title: "Two B"},
	}, items)

	_, err = listcollector.ParseLines([]byte("\tno link\n"))
	assert.ErrorIs(t, err, listcollector.ErrMalformedLine)
}

func TestDedupeKeepsFirst(t *testing.T) {
	t.Parallel()

	got := listcollector.Dedupe([]listcollector.Item{
		{Link: "a", Title: "1"}, {Link: "b", Title: "2"}, {Link: "a", Title: "3"},
	})
	assert.Equal(t, []listcollector.Item{{Link: "a", Title: "1"}, {Link: "b", Title: "2"}}, got)
}

func TestLatestList(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	old := []listcollector.Item{{Link: "https://a/old", Title: "Old"}}
	recent := []listcollector.Item{{Link: "https://a/new", Title: "New"}}
	require.NoError(t, listcollector.WriteListFile(listcollector.ListFilePath(dir, today.AddDate(0, 0, -9)), old))
	require.NoError(t, listcollector.WriteListFile(listcollector.ListFilePath(dir, today.AddDate(0, 0, -2)), recent))

	items, path, err := listcollector.LatestList(dir, today)
	require.NoError(t, err)
	assert.Equal(t, recent, items)
	assert.Equal(t, filepath.Join(dir, "newlist", "20240308.txt"), path)

	items, _, err = listcollector.LatestList(dir, today.AddDate(0, 0, 10))
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestAllLists(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, listcollector.WriteListFile(listcollector.ListFilePath(dir, today), []listcollector.Item{
		{Link: "https://a/2", Title: "Two"}, {Link: "https://a/1", Title: "One later"},
	}))
	require.NoError(t, listcollector.WriteListFile(listcollector.ListFilePath(dir, today.AddDate(0, 0, -1)), []listcollector.Item{
		{Link: "https://a/1", Title: "One"},
	}))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "newlist", ".hidden.txt"), []byte("https://a/h\tH\n"), 0o644))

	items, err := listcollector.AllLists(dir)
	require.NoError(t, err)
	assert.Equal(t, []listcollector.Item{
		{Link: "https://a/1", Title: "One"},
		{Link: "https://a/2", Title: "Two"},
	}, items)
}
