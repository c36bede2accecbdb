package fetcher_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/korean"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/fetcher"
)

func newClient(r fetcher.Renderer) *fetcher.Client {
	return fetcher.NewClient(fetcher.ClientConfig{RetryDelay: time.Millisecond, Renderer: r})
}

func TestGet_InjectsOGURL(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html><head><title>x</title></head><body>hi</body></html>"))
	}))
	defer srv.Close()

	resp, err := newClient(nil).Get(context.Background(), srv.URL+"/a", fetcher.Options{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(resp.Body), `<meta property="og:url" content="`+srv.URL+`/a"/>`+"\n</head>")
}

func TestGet_SendsHeaders(t *testing.T) {
	t.Parallel()

	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	_, err := newClient(nil).Get(context.Background(), srv.URL, fetcher.Options{
		UserAgent: "feedmaker-test",
		Headers:   map[string]string{"X-Extra": "1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "feedmaker-test", got.Get("User-Agent"))
	assert.Equal(t, "*/*", got.Get("Accept"))
	assert.Equal(t, "1", got.Get("X-Extra"))
}

func TestGet_PermanentStatusIsNotRetried(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := newClient(nil).Get(context.Background(), srv.URL, fetcher.Options{NumRetries: 3})
	require.Error(t, err)

	var fe *fetcher.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, fetcher.KindStatus, fe.Kind)
	assert.Equal(t, http.StatusNotFound, fe.StatusCode)
	assert.True(t, fe.Permanent())
	assert.Equal(t, int32(1), hits.Load())
}

func TestGet_RetriesServerErrors(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("<p>done</p>"))
	}))
	defer srv.Close()

	resp, err := newClient(nil).Get(context.Background(), srv.URL, fetcher.Options{NumRetries: 3})
	require.NoError(t, err)
	assert.Contains(t, string(resp.Body), "<p>done</p>")
	assert.Equal(t, int32(3), hits.Load())
}

func TestGet_TimeoutKind(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	_, err := newClient(nil).Get(context.Background(), srv.URL, fetcher.Options{Timeout: 50 * time.Millisecond})
	var fe *fetcher.Error
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, fetcher.KindTimeout, fe.Kind)
	assert.True(t, fe.Retryable())
}

func TestGet_CancelledKind(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("x"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newClient(nil).Get(ctx, srv.URL, fetcher.Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestGet_PersistsCookies(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var lastCookie atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastCookie.Store(r.Header.Get("Cookie"))
		http.SetCookie(w, &http.Cookie{Name: "sid", Value: "abc"})
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := newClient(nil)
	opts := fetcher.Options{CookieDir: dir}
	_, err := c.Get(context.Background(), srv.URL, opts)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(dir, fetcher.CookieFileHTTP))

	_, err = c.Get(context.Background(), srv.URL, opts)
	require.NoError(t, err)
	assert.Equal(t, "sid=abc", lastCookie.Load())
}

func TestGet_RefererPrimesCookies(t *testing.T) {
	t.Parallel()

	var referer, cookie string
	mux := http.NewServeMux()
	mux.HandleFunc("/ref", func(w http.ResponseWriter, _ *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "visited", Value: "1"})
	})
	mux.HandleFunc("/item", func(w http.ResponseWriter, r *http.Request) {
		referer = r.Header.Get("Referer")
		cookie = r.Header.Get("Cookie")
		_, _ = w.Write([]byte("item"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	_, err := newClient(nil).Get(context.Background(), srv.URL+"/item", fetcher.Options{
		Referer:   srv.URL + "/ref",
		CookieDir: t.TempDir(),
	})
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/ref", referer)
	assert.Equal(t, "visited=1", cookie)
}

func TestGet_DecodesEncoding(t *testing.T) {
	t.Parallel()

	encoded, err := korean.EUCKR.NewEncoder().String("<p>안녕하세요</p>")
	require.NoError(t, err)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(encoded))
	}))
	defer srv.Close()

	resp, err := newClient(nil).Get(context.Background(), srv.URL, fetcher.Options{Encoding: "euc-kr"})
	require.NoError(t, err)
	assert.Contains(t, string(resp.Body), "<p>안녕하세요</p>")
}

func TestGet_BinaryBodyUntouched(t *testing.T) {
	t.Parallel()

	payload := []byte{0x89, 'P', 'N', 'G', 0x00, 0x01}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	resp, err := newClient(nil).Get(context.Background(), srv.URL, fetcher.Options{})
	require.NoError(t, err)
	assert.Equal(t, payload, resp.Body)
}

func TestHead_ReturnsStatusWithoutError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("X-Probe", "yes")
		w.WriteHeader(http.StatusGone)
	}))
	defer srv.Close()

	resp, err := newClient(nil).Head(context.Background(), srv.URL, fetcher.Options{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusGone, resp.StatusCode)
	assert.Equal(t, "yes", resp.Header.Get("X-Probe"))
	assert.Empty(t, resp.Body)
}

func TestDownload_WritesFile(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("z", 4096)))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "img.jpg")
	before := time.Now().Add(-time.Second)
	status, err := newClient(nil).Download(context.Background(), srv.URL, dest, fetcher.Options{})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)

	info, err := os.Stat(dest)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), info.Size())
	assert.True(t, info.ModTime().After(before))
}

func TestDownload_StatusError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "img.jpg")
	status, err := newClient(nil).Download(context.Background(), srv.URL, dest, fetcher.Options{})
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, status)
	assert.NoFileExists(t, dest)
}

type fakeRenderer struct {
	got fetcher.RenderRequest
}

func (f *fakeRenderer) Render(_ context.Context, req fetcher.RenderRequest) (*fetcher.RenderResult, error) {
	f.got = req
	return &fetcher.RenderResult{
		HTML:    "<html><head></head><body>rendered</body></html>",
		URL:     req.URL + "#final",
		Cookies: []fetcher.StoredCookie{{Name: "b", Value: "2", Domain: "example.com"}},
	}, nil
}

func TestGet_RenderJSUsesRenderer(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	r := &fakeRenderer{}
	resp, err := newClient(r).Get(context.Background(), "https://example.com/p", fetcher.Options{
		RenderJS:          true,
		SimulateScrolling: true,
		CookieDir:         dir,
	})
	require.NoError(t, err)
	assert.True(t, r.got.SimulateScrolling)
	assert.True(t, r.got.Headless)
	assert.Equal(t, fetcher.DefaultUserAgent, r.got.UserAgent)
	assert.Contains(t, string(resp.Body), `content="https://example.com/p#final"`)

	stored := fetcher.CookieStore{Dir: dir, File: fetcher.CookieFileBrowser}.Load()
	require.Len(t, stored, 1)
	assert.Equal(t, "example.com", stored[0].Domain)
}

func TestGet_RenderJSWithoutRenderer(t *testing.T) {
	t.Parallel()

	_, err := newClient(nil).Get(context.Background(), "https://example.com", fetcher.Options{RenderJS: true, NumRetries: 3})
	require.ErrorIs(t, err, fetcher.ErrNoRenderer)
}
