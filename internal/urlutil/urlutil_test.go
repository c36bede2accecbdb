package urlutil_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/urlutil"
)

func TestFingerprint(t *testing.T) {
	t.Parallel()

	fp := urlutil.Fingerprint("https://m.blog.naver.com/PostView.nhn?blogId=naver&logNo=1")
	assert.Len(t, fp, 7)
	assert.Equal(t, fp, urlutil.Fingerprint("https://m.blog.naver.com/PostView.nhn?blogId=naver&logNo=1"))
	assert.Equal(t, "5d41402", urlutil.Fingerprint("hello"))
	assert.NotEqual(t, fp, urlutil.Fingerprint("https://m.blog.naver.com/PostView.nhn?blogId=naver&logNo=2"))
}

func TestSlicingHelpers(t *testing.T) {
	t.Parallel()

	const u = "http://naver.com/api/items?page_no=3"

	assert.Equal(t, "http", urlutil.Scheme(u))
	assert.Equal(t, "naver.com", urlutil.Domain(u))
	assert.Equal(t, "/api/items?page_no=3", urlutil.Path(u))
	assert.Equal(t, "http://naver.com/api/", urlutil.Prefix(u))
	assert.Equal(t, "http://naver.com/api/items", urlutil.WithoutQuery(u))

	assert.Empty(t, urlutil.Scheme("naver.com/api"))
	assert.Equal(t, "naver.com", urlutil.Domain("https://naver.com"))
	assert.Empty(t, urlutil.Path("https://naver.com"))
}

func TestJoin(t *testing.T) {
	t.Parallel()

	tests := []struct {
		base, ref, want string
	}{
		{"http://naver.com/api", "/data", "http://naver.com/data"},
		{"http://naver.com/api/", "data", "http://naver.com/api/data"},
		{"http://naver.com/api", "data", "http://naver.com/data"},
		{"http://naver.com/api/view.nhn?page_no=3", "#", "http://naver.com/api/view.nhn?page_no=3"},
		{"http://naver.com/api/list", "view.nhn?", "http://naver.com/api/view.nhn?"},
		{"https://a.com/x", "//cdn.b.com/i.png", "https://cdn.b.com/i.png"},
		{"https://a.com/x", "https://c.com/y", "https://c.com/y"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, urlutil.Join(tt.base, tt.ref), "%s + %s", tt.base, tt.ref)
	}
}

func TestEncode(t *testing.T) {
	t.Parallel()

	assert.Equal(t,
		"https://example.com/a%20b/%ED%95%9C?q=%EA%B8%80%26x=1",
		urlutil.Encode("https://example.com/a b/한?q=글&x=1"))
}
