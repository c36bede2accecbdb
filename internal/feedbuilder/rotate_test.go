package feedbuilder_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/feedbuilder"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/feedconf"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/listcollector"
)

const docA = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
 <channel>
  <title>t</title>
  <lastBuildDate>Sun, 10 Mar 2024 09:00:00 +0000</lastBuildDate>
  <item>
   <title>one</title>
   <pubDate>Sun, 10 Mar 2024 09:00:00 +0000</pubDate>
  </item>
 </channel>
</rss>
`

func TestSameContent(t *testing.T) {
	t.Parallel()

	redated := strings.ReplaceAll(docA, "09:00:00", "11:30:00")
	assert.True(t, feedbuilder.SameContent([]byte(docA), []byte(redated)))

	otherDecl := strings.Replace(docA, `encoding="UTF-8"`, `encoding="utf-8"`, 1)
	assert.True(t, feedbuilder.SameContent([]byte(docA), []byte(otherDecl)))

	retitled := strings.Replace(docA, "<title>one</title>", "<title>two</title>", 1)
	assert.False(t, feedbuilder.SameContent([]byte(docA), []byte(retitled)))
}

func TestRotate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	artifact := filepath.Join(dir, "sample.xml")
	tmp := feedbuilder.TempArtifactPath(artifact, start)
	assert.Equal(t, artifact+".20240310", tmp)

	write := func(content string) {
		require.NoError(t, os.WriteFile(tmp, []byte(content), 0o644))
	}

	write(docA)
	changed, err := feedbuilder.Rotate(tmp, artifact)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.NoFileExists(t, artifact+feedbuilder.OldSuffix)

	write(strings.ReplaceAll(docA, "09:00:00", "10:00:00"))
	changed, err = feedbuilder.Rotate(tmp, artifact)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.NoFileExists(t, tmp)
	assert.NoFileExists(t, artifact+feedbuilder.OldSuffix)

	write(strings.Replace(docA, "one", "two", 1))
	changed, err = feedbuilder.Rotate(tmp, artifact)
	require.NoError(t, err)
	assert.True(t, changed)
	old, err := os.ReadFile(artifact + feedbuilder.OldSuffix)
	require.NoError(t, err)
	assert.Equal(t, docA, string(old))
	current, err := os.ReadFile(artifact)
	require.NoError(t, err)
	assert.Contains(t, string(current), "<title>two</title>")
}

func TestRenderRSS(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	short := listcollector.Item{Link: "https://ex.com/a/1?x=1", Title: "Short & sweet"}
	long := listcollector.Item{Link: "https://ex.com/a/2", Title: "Long"}
	require.NoError(t, os.MkdirAll(feedbuilder.HTMLDir(dir), 0o755))
	require.NoError(t, os.WriteFile(feedbuilder.HTMLPath(dir, short.Link), []byte("<p>hi</p>\n"), 0o644))
	line := strings.Repeat("x", 1023) + "\n"
	require.NoError(t, os.WriteFile(feedbuilder.HTMLPath(dir, long.Link), []byte(strings.Repeat(line, 100)), 0o644))

	conf := feedconf.RSS{Title: "T", Link: "https://ex.com/", Description: "D", URLPrefixForGUID: "https://guid.example.com"}
	data, err := feedbuilder.RenderRSS(dir, conf, []listcollector.Item{short, long}, start)
	require.NoError(t, err)
	doc := string(data)

	assert.True(t, strings.HasPrefix(doc, `<?xml version="1.0" encoding="UTF-8"?>`))
	assert.Contains(t, doc, `<rss version="2.0">`)
	assert.Contains(t, doc, "<lastBuildDate>Sun, 10 Mar 2024 09:00:00 +0000</lastBuildDate>")
	assert.Contains(t, doc, "<title>Short &amp; sweet</title>")
	assert.Contains(t, doc, `<guid isPermaLink="false">https://guid.example.com/a/1?x=1</guid>`)
	assert.Equal(t, 2, strings.Count(doc, "<item>"))
	assert.Less(t, strings.Index(doc, "Short"), strings.Index(doc, "<title>Long</title>"))

	// 64 lines of 1 KiB reach the limit.
	assert.Contains(t, doc, "&lt;strong&gt;The article is too long")
	assert.Equal(t, 64, strings.Count(doc, strings.Repeat("x", 1023)))

	conf.NoItemDesc = true
	data, err = feedbuilder.RenderRSS(dir, conf, []listcollector.Item{short}, start)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "<description>&lt;p&gt;")
}

func TestRenderRSS_MissingSnippet(t *testing.T) {
	t.Parallel()

	_, err := feedbuilder.RenderRSS(t.TempDir(), feedconf.RSS{}, []listcollector.Item{{Link: "https://ex.com/x", Title: "x"}}, time.Now())
	require.Error(t, err)
}

func TestPublish(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	feeds := filepath.Join(t.TempDir(), "xml")
	artifact := filepath.Join(dir, "sample.xml")
	require.NoError(t, os.WriteFile(artifact, []byte(docA), 0o644))

	published, err := feedbuilder.Publish(artifact, "", true)
	require.NoError(t, err)
	assert.False(t, published)

	published, err = feedbuilder.Publish(artifact, feeds, false)
	require.NoError(t, err)
	assert.True(t, published, "missing public copy is published")

	published, err = feedbuilder.Publish(artifact, feeds, false)
	require.NoError(t, err)
	assert.False(t, published)

	require.NoError(t, os.WriteFile(artifact, []byte("changed"), 0o644))
	published, err = feedbuilder.Publish(artifact, feeds, true)
	require.NoError(t, err)
	assert.True(t, published)
	got, err := os.ReadFile(filepath.Join(feeds, "sample.xml"))
	require.NoError(t, err)
	assert.Equal(t, "changed", string(got))
}

func TestPixelTagAndThresholds(t *testing.T) {
	t.Parallel()

	pixel := feedbuilder.PixelTag("https://img.example.com/", "sample", "abc1234")
	assert.Equal(t, "\n<img src='https://img.example.com/1x1.jpg?feed=sample.xml&item=abc1234'/>\n", pixel)
	assert.Equal(t, int64(359), feedbuilder.EmptyThreshold)
	assert.Equal(t, int64(358+1+len(pixel)), feedbuilder.ReuseThreshold(pixel))
}
