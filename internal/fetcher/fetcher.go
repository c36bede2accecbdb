// Package fetcher retrieves pages for the feed pipeline over plain HTTP or
// through a headless browser, with retries, per-feed cookie files and
// og:url injection.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/httpclient"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/retry"
	"github.com/jonesrussell/north-cloud/feedmaker/internal/urlutil"
)

// DefaultRetryDelay is the wait between attempts.
const DefaultRetryDelay = 5 * time.Second

// DefaultUserAgent is sent when neither the options nor the client set one.
const DefaultUserAgent = "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36"

// Response is a fetched page. Body is UTF-8 for Get.
type Response struct {
	Body       []byte
	Header     http.Header
	StatusCode int
	URL        string
}

// ClientConfig configures a Client.
type ClientConfig struct {
	UserAgent  string
	RetryDelay time.Duration
	// Renderer serves RenderJS requests. Nil makes them fail.
	Renderer Renderer
	Logger   logger.Logger
}

// Client fetches URLs. It is safe for concurrent use; the two underlying
// HTTP clients share one connection pool each for the whole process.
type Client struct {
	secure     *http.Client
	insecure   *http.Client
	renderer   Renderer
	userAgent  string
	retryDelay time.Duration
	log        logger.Logger
}

// NewClient creates a Client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewNop()
	}
	// Per-attempt deadlines come from the request context.
	return &Client{
		secure:     httpclient.New(httpclient.Config{Timeout: -1}),
		insecure:   httpclient.New(httpclient.Config{Timeout: -1, InsecureSkipVerify: true}),
		renderer:   cfg.Renderer,
		userAgent:  cfg.UserAgent,
		retryDelay: cfg.RetryDelay,
		log:        cfg.Logger,
	}
}

// Get fetches url and returns its decoded body. A non-200 status is an
// *Error of KindStatus.
func (c *Client) Get(ctx context.Context, url string, opts Options) (*Response, error) {
	var resp *Response
	err := c.withRetry(ctx, url, opts, func(attemptCtx context.Context) error {
		var err error
		if opts.RenderJS {
			resp, err = c.render(attemptCtx, url, opts)
		} else {
			resp, err = c.get(attemptCtx, url, opts)
		}
		if err != nil {
			return classify(ctx, err, url)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Head returns the status and headers of url. Any HTTP status is a
// successful result; only transport failures are errors.
func (c *Client) Head(ctx context.Context, url string, opts Options) (*Response, error) {
	var resp *Response
	err := c.withRetry(ctx, url, opts, func(attemptCtx context.Context) error {
		req, err := c.newRequest(attemptCtx, http.MethodHead, url, opts)
		if err != nil {
			return err
		}
		r, err := c.httpClient(opts).Do(req)
		if err != nil {
			return classify(ctx, err, url)
		}
		defer r.Body.Close()
		resp = &Response{Header: r.Header, StatusCode: r.StatusCode, URL: r.Request.URL.String()}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return resp, nil
}

// Download streams url into destPath and stamps it with the current time.
// The file is replaced atomically.
func (c *Client) Download(ctx context.Context, url, destPath string, opts Options) (int, error) {
	status := 0
	err := c.withRetry(ctx, url, opts, func(attemptCtx context.Context) error {
		code, err := c.download(attemptCtx, url, destPath, opts)
		status = code
		if err != nil {
			return classify(ctx, err, url)
		}
		return nil
	})
	return status, err
}

func (c *Client) withRetry(ctx context.Context, url string, opts Options, fn func(context.Context) error) error {
	cfg := retry.Fixed(opts.attempts(), c.retryDelay)
	cfg.IsRetryable = IsRetryable
	cfg.OnRetry = func(attempt int, err error, wait time.Duration) {
		c.log.Warn("Fetch failed, retrying",
			logger.String("url", url),
			logger.Int("attempt", attempt),
			logger.Duration("wait", wait),
			logger.Error(err),
		)
	}
	return retry.Do(ctx, cfg, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, opts.timeout())
		defer cancel()
		return fn(attemptCtx)
	})
}

func (c *Client) httpClient(opts Options) *http.Client {
	if opts.VerifySSL {
		return c.secure
	}
	return c.insecure
}

func (c *Client) newRequest(ctx context.Context, method, url string, opts Options) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	ua := opts.UserAgent
	if ua == "" {
		ua = c.userAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept", "*/*")
	if opts.Referer != "" {
		req.Header.Set("Referer", urlutil.Encode(opts.Referer))
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

func (c *Client) get(ctx context.Context, url string, opts Options) (*Response, error) {
	store := CookieStore{Dir: opts.CookieDir, File: CookieFileHTTP}
	cookies := store.Load()

	if opts.Referer != "" {
		primed, err := c.prime(ctx, opts, cookies)
		if err != nil {
			c.log.Debug("Referer request failed", logger.String("referer", opts.Referer), logger.Error(err))
		} else {
			cookies = primed
		}
	}

	req, err := c.newRequest(ctx, http.MethodGet, url, opts)
	if err != nil {
		return nil, err
	}
	if len(cookies) > 0 {
		req.Header.Set("Cookie", cookieHeader(cookies))
	}

	resp, err := c.httpClient(opts).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if saveErr := store.Save(mergeResponseCookies(cookies, resp.Cookies())); saveErr != nil {
		c.log.Warn("Failed to save cookies", logger.Error(saveErr))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, statusError(resp.StatusCode, url)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	finalURL := resp.Request.URL.String()
	body := raw
	if !isBinary(resp.Header.Get("Content-Type")) {
		body, err = decodeBody(raw, opts.Encoding)
		if err != nil {
			return nil, err
		}
		body = []byte(EnsureOGURL(string(body), finalURL))
	}
	return &Response{Body: body, Header: resp.Header, StatusCode: resp.StatusCode, URL: finalURL}, nil
}

// prime requests the referer so the target sees the cookies a browser
// would have collected on the way there.
func (c *Client) prime(ctx context.Context, opts Options, cookies []StoredCookie) ([]StoredCookie, error) {
	refOpts := opts
	refOpts.Referer = ""
	req, err := c.newRequest(ctx, http.MethodGet, opts.Referer, refOpts)
	if err != nil {
		return nil, err
	}
	if len(cookies) > 0 {
		req.Header.Set("Cookie", cookieHeader(cookies))
	}
	resp, err := c.httpClient(opts).Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return mergeResponseCookies(cookies, resp.Cookies()), nil
}

func (c *Client) download(ctx context.Context, url, destPath string, opts Options) (int, error) {
	req, err := c.newRequest(ctx, http.MethodGet, url, opts)
	if err != nil {
		return 0, err
	}
	resp, err := c.httpClient(opts).Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return resp.StatusCode, statusError(resp.StatusCode, url)
	}

	tmp, err := os.CreateTemp(filepath.Dir(destPath), "."+filepath.Base(destPath)+".*")
	if err != nil {
		return resp.StatusCode, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	_, copyErr := io.Copy(tmp, resp.Body)
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		_ = os.Remove(tmpName)
		return resp.StatusCode, err
	}
	if err := os.Rename(tmpName, destPath); err != nil {
		_ = os.Remove(tmpName)
		return resp.StatusCode, fmt.Errorf("move download into place: %w", err)
	}
	now := time.Now()
	if err := os.Chtimes(destPath, now, now); err != nil {
		return resp.StatusCode, fmt.Errorf("touch %s: %w", destPath, err)
	}
	return resp.StatusCode, nil
}

func (c *Client) render(ctx context.Context, url string, opts Options) (*Response, error) {
	if c.renderer == nil {
		return nil, &Error{Kind: KindNetwork, URL: url, Cause: ErrNoRenderer}
	}
	store := CookieStore{Dir: opts.CookieDir, File: CookieFileBrowser}
	ua := opts.UserAgent
	if ua == "" {
		ua = c.userAgent
	}
	result, err := c.renderer.Render(ctx, RenderRequest{
		URL:                  url,
		UserAgent:            ua,
		Referer:              opts.Referer,
		Headers:              opts.Headers,
		Cookies:              store.Load(),
		CopyImagesFromCanvas: opts.CopyImagesFromCanvas,
		SimulateScrolling:    opts.SimulateScrolling,
		BlobToDataURL:        opts.BlobToDataURL,
		Headless:             !opts.DisableHeadless,
	})
	if err != nil {
		return nil, err
	}
	if saveErr := store.Save(result.Cookies); saveErr != nil {
		c.log.Warn("Failed to save cookies", logger.Error(saveErr))
	}
	finalURL := result.URL
	if finalURL == "" {
		finalURL = url
	}
	body := EnsureOGURL(result.HTML, finalURL)
	return &Response{Body: []byte(body), Header: http.Header{}, StatusCode: http.StatusOK, URL: finalURL}, nil
}
