package fetcher

import (
	"time"

	"github.com/jonesrussell/north-cloud/feedmaker/internal/feedconf"
)

// DefaultTimeout bounds one attempt when Options.Timeout is zero.
const DefaultTimeout = 60 * time.Second

// Options control one fetch.
type Options struct {
	RenderJS             bool
	VerifySSL            bool
	UserAgent            string
	Referer              string
	Encoding             string
	Headers              map[string]string
	Timeout              time.Duration
	NumRetries           int
	CopyImagesFromCanvas bool
	SimulateScrolling    bool
	DisableHeadless      bool
	BlobToDataURL        bool

	// CookieDir holds the cookie files. Empty disables cookie persistence.
	CookieDir string
}

// FromConfig converts a feed's fetch section. Retries are the total number
// of attempts; feed config stores them the same way.
func FromConfig(f feedconf.Fetch, cookieDir string) Options {
	return Options{
		RenderJS:             f.RenderJS,
		VerifySSL:            f.VerifySSL,
		UserAgent:            f.UserAgent,
		Referer:              f.Referer,
		Encoding:             f.Encoding,
		Headers:              f.Headers,
		Timeout:              time.Duration(f.Timeout) * time.Second,
		NumRetries:           f.NumRetries,
		CopyImagesFromCanvas: f.CopyImagesFromCanvas,
		SimulateScrolling:    f.SimulateScrolling,
		DisableHeadless:      f.DisableHeadless,
		BlobToDataURL:        f.BlobToDataURL,
		CookieDir:            cookieDir,
	}
}

func (o Options) attempts() int {
	if o.NumRetries < 1 {
		return 1
	}
	return o.NumRetries
}

func (o Options) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}
