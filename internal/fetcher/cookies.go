package fetcher

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

// Cookie files live in the feed directory, one per backend.
const (
	CookieFileHTTP    = "cookies.requestsclient.json"
	CookieFileBrowser = "cookies.headlessbrowser.json"
)

// StoredCookie is one persisted cookie. The browser backend fills every
// field; the HTTP backend only keeps name and value.
type StoredCookie struct {
	Name     string   `json:"name"`
	Value    string   `json:"value"`
	Domain   string   `json:"domain,omitempty"`
	Path     string   `json:"path,omitempty"`
	Secure   bool     `json:"secure,omitempty"`
	HTTPOnly bool     `json:"httpOnly,omitempty"`
	Expiry   *float64 `json:"expiry,omitempty"`
}

// CookieStore reads and writes one cookie file. A zero Dir disables persistence.
type CookieStore struct {
	Dir  string
	File string
}

func (s CookieStore) path() string {
	return filepath.Join(s.Dir, s.File)
}

// Load returns the stored cookies. A missing or corrupt file yields none.
func (s CookieStore) Load() []StoredCookie {
	if s.Dir == "" {
		return nil
	}
	data, err := os.ReadFile(s.path())
	if err != nil {
		return nil
	}
	var cookies []StoredCookie
	if json.Unmarshal(data, &cookies) != nil {
		return nil
	}
	for i := range cookies {
		cookies[i].Expiry = nil
	}
	return cookies
}

// Save replaces the file content with cookies.
func (s CookieStore) Save(cookies []StoredCookie) error {
	if s.Dir == "" {
		return nil
	}
	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cookies: %w", err)
	}
	tmp := s.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write cookies: %w", err)
	}
	if err := os.Rename(tmp, s.path()); err != nil {
		return fmt.Errorf("write cookies: %w", err)
	}
	return nil
}

// Remove deletes the file.
func (s CookieStore) Remove() error {
	if s.Dir == "" {
		return nil
	}
	if err := os.Remove(s.path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Header renders cookies as a Cookie request header value.
func cookieHeader(cookies []StoredCookie) string {
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

// mergeResponseCookies overlays Set-Cookie values onto stored by name.
func mergeResponseCookies(stored []StoredCookie, received []*http.Cookie) []StoredCookie {
	if len(received) == 0 {
		return stored
	}
	index := make(map[string]int, len(stored))
	out := append([]StoredCookie{}, stored...)
	for i, c := range out {
		index[c.Name] = i
	}
	for _, c := range received {
		sc := StoredCookie{Name: c.Name, Value: c.Value}
		if i, ok := index[c.Name]; ok {
			out[i] = sc
			continue
		}
		index[c.Name] = len(out)
		out = append(out, sc)
	}
	return out
}
