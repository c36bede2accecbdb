package fetcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/logger"
)

// ErrNoRenderer is returned for RenderJS requests on a Client without one.
var ErrNoRenderer = errors.New("no browser renderer configured")

// DefaultMarkerWait bounds the wait for each post-load script.
const DefaultMarkerWait = 60 * time.Second

// RenderRequest describes one browser render.
type RenderRequest struct {
	URL                  string
	UserAgent            string
	Referer              string
	Headers              map[string]string
	Cookies              []StoredCookie
	CopyImagesFromCanvas bool
	SimulateScrolling    bool
	BlobToDataURL        bool
	Headless             bool
}

// RenderResult is the rendered document and the cookies the page ended with.
type RenderResult struct {
	HTML    string
	URL     string
	Cookies []StoredCookie
}

// Renderer loads a page in a JavaScript-capable backend.
type Renderer interface {
	Render(ctx context.Context, req RenderRequest) (*RenderResult, error)
}

// RodRenderer renders with a Chromium controlled through go-rod. One browser
// is launched lazily per headless mode and reused; each render gets its own
// incognito context.
type RodRenderer struct {
	bin        string
	markerWait time.Duration
	log        logger.Logger

	mu        sync.Mutex
	browsers  map[bool]*rod.Browser
	launchers map[bool]*launcher.Launcher
}

// NewRodRenderer creates a renderer. bin may be empty to let rod locate or
// download a browser.
func NewRodRenderer(bin string, markerWait time.Duration, log logger.Logger) *RodRenderer {
	if markerWait <= 0 {
		markerWait = DefaultMarkerWait
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &RodRenderer{
		bin:        bin,
		markerWait: markerWait,
		log:        log,
		browsers:   make(map[bool]*rod.Browser),
		launchers:  make(map[bool]*launcher.Launcher),
	}
}

func (r *RodRenderer) browser(headless bool) (*rod.Browser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.browsers[headless]; ok {
		return b, nil
	}

	l := launcher.New().
		Headless(headless).
		Set("window-size", "1920,1080").
		Set("lang", "ko_KR").
		Set("disable-blink-features", "AutomationControlled")
	if r.bin != "" {
		l = l.Bin(r.bin)
	}
	u, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch browser: %w", err)
	}
	b := rod.New().ControlURL(u)
	if err := b.Connect(); err != nil {
		l.Cleanup()
		return nil, fmt.Errorf("connect browser: %w", err)
	}
	r.browsers[headless] = b
	r.launchers[headless] = l
	r.log.Info("Launched browser", logger.Bool("headless", headless))
	return b, nil
}

// Render loads req.URL and returns the document after the post-load scripts ran.
func (r *RodRenderer) Render(ctx context.Context, req RenderRequest) (*RenderResult, error) {
	root, err := r.browser(req.Headless)
	if err != nil {
		return nil, err
	}
	b, err := root.Incognito()
	if err != nil {
		return nil, fmt.Errorf("open browser context: %w", err)
	}
	defer func() { _ = b.Close() }()

	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	defer func() { _ = page.Close() }()
	page = page.Context(ctx)

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{UserAgent: req.UserAgent}); err != nil {
		return nil, fmt.Errorf("set user agent: %w", err)
	}
	if len(req.Headers) > 0 {
		dict := make([]string, 0, len(req.Headers)*2)
		for k, v := range req.Headers {
			if k == "User-Agent" {
				continue
			}
			dict = append(dict, k, v)
		}
		if _, err := page.SetExtraHeaders(dict); err != nil {
			return nil, fmt.Errorf("set headers: %w", err)
		}
	}
	if len(req.Cookies) > 0 {
		if err := page.SetCookies(cookieParams(req.Cookies, req.URL)); err != nil {
			r.log.Warn("Failed to restore cookies", logger.Error(err))
		}
	}

	if req.Referer != "" {
		if err := r.load(page, req.Referer); err != nil {
			r.log.Warn("Referer load failed", logger.String("referer", req.Referer), logger.Error(err))
		}
	}
	if err := r.load(page, req.URL); err != nil {
		return nil, err
	}
	r.waitChallenge(page)

	for _, s := range postLoadScripts(req) {
		if _, err := page.Eval(s.Source); err != nil {
			r.log.Warn("Post-load script failed", logger.String("script", s.Name), logger.Error(err))
			continue
		}
		if s.Marker == "" {
			continue
		}
		if _, err := page.Timeout(r.markerWait).Element("#" + s.Marker); err != nil {
			r.log.Warn("Timed out waiting for completion marker",
				logger.String("marker", s.Marker), logger.Error(err))
		}
	}

	res, err := page.Eval(outerHTMLScript)
	if err != nil {
		return nil, fmt.Errorf("read document: %w", err)
	}
	result := &RenderResult{HTML: res.Value.Str(), URL: req.URL}
	if info, err := page.Info(); err == nil && info.URL != "" {
		result.URL = info.URL
	}
	if cookies, err := page.Cookies(nil); err == nil {
		result.Cookies = storedCookies(cookies)
	}
	return result, nil
}

func (r *RodRenderer) load(page *rod.Page, url string) error {
	if err := page.Navigate(url); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	if err := page.WaitLoad(); err != nil {
		return fmt.Errorf("wait load %s: %w", url, err)
	}
	return nil
}

// waitChallenge gives an interstitial bot check time to go away.
func (r *RodRenderer) waitChallenge(page *rod.Page) {
	has, el, err := page.Has("#cf-content")
	if err != nil || !has {
		return
	}
	if err := el.Timeout(r.markerWait).WaitInvisible(); err != nil {
		r.log.Debug("Challenge element still visible", logger.Error(err))
	}
}

// Close shuts every launched browser down.
func (r *RodRenderer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for mode, b := range r.browsers {
		errs = append(errs, b.Close())
		if l, ok := r.launchers[mode]; ok {
			l.Cleanup()
		}
	}
	r.browsers = make(map[bool]*rod.Browser)
	r.launchers = make(map[bool]*launcher.Launcher)
	return errors.Join(errs...)
}

func cookieParams(cookies []StoredCookie, pageURL string) []*proto.NetworkCookieParam {
	params := make([]*proto.NetworkCookieParam, 0, len(cookies))
	for _, c := range cookies {
		p := &proto.NetworkCookieParam{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
		}
		if p.Domain == "" {
			p.URL = pageURL
		}
		params = append(params, p)
	}
	return params
}

func storedCookies(cookies []*proto.NetworkCookie) []StoredCookie {
	out := make([]StoredCookie, 0, len(cookies))
	for _, c := range cookies {
		expiry := float64(c.Expires)
		out = append(out, StoredCookie{
			Name:     c.Name,
			Value:    c.Value,
			Domain:   c.Domain,
			Path:     c.Path,
			Secure:   c.Secure,
			HTTPOnly: c.HTTPOnly,
			Expiry:   &expiry,
		})
	}
	return out
}
