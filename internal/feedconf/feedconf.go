// Package feedconf loads a feed's conf.json.
package feedconf

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
)

// FileName is the per-feed configuration file.
const FileName = "conf.json"

const (
	DefaultEncoding          = "utf-8"
	DefaultTimeoutSeconds    = 60
	DefaultNumRetries        = 1
	DefaultUnitSizePerDay    = 1.0
	DefaultItemCaptureScript = "./capture_item_link_title.py"
	titleSeparator           = "::"
)

var (
	// ErrConfigMissing means conf.json does not exist.
	ErrConfigMissing = errors.New("feed config missing")
	// ErrConfigInvalid means conf.json exists but cannot be used.
	ErrConfigInvalid = errors.New("feed config invalid")
)

// Error carries the offending path. It unwraps to ErrConfigMissing or
// ErrConfigInvalid and to the underlying cause.
type Error struct {
	Path  string
	Kind  error
	Cause error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %v", e.Path, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Path, e.Kind, e.Cause)
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Selectors picks the article body out of a page.
type Selectors struct {
	IDs     []string `mapstructure:"element_id_list"`
	Classes []string `mapstructure:"element_class_list"`
	Paths   []string `mapstructure:"element_path_list"`
}

// Empty reports whether no selector is configured.
func (s Selectors) Empty() bool {
	return len(s.IDs) == 0 && len(s.Classes) == 0 && len(s.Paths) == 0
}

// Fetch holds the settings shared by the collection and extraction stages.
type Fetch struct {
	RenderJS             bool              `mapstructure:"render_js"`
	VerifySSL            bool              `mapstructure:"verify_ssl"`
	CopyImagesFromCanvas bool              `mapstructure:"copy_images_from_canvas"`
	SimulateScrolling    bool              `mapstructure:"simulate_scrolling"`
	DisableHeadless      bool              `mapstructure:"disable_headless"`
	BlobToDataURL        bool              `mapstructure:"blob_to_dataurl"`
	UserAgent            string            `mapstructure:"user_agent"`
	Encoding             string            `mapstructure:"encoding"`
	Referer              string            `mapstructure:"referer"`
	Timeout              int               `mapstructure:"timeout"`
	NumRetries           int               `mapstructure:"num_retries"`
	Headers              map[string]string `mapstructure:"headers"`
}

// Collection configures list collection.
type Collection struct {
	Fetch                 `mapstructure:",squash"`
	Selectors             `mapstructure:",squash"`
	ListURLList           []string `mapstructure:"list_url_list"`
	ItemCaptureScript     string   `mapstructure:"item_capture_script"`
	IgnoreOldList         bool     `mapstructure:"ignore_old_list"`
	IsCompleted           bool     `mapstructure:"is_completed"`
	SortFieldPattern      string   `mapstructure:"sort_field_pattern"`
	UnitSizePerDay        float64  `mapstructure:"unit_size_per_day"`
	WindowSize            int      `mapstructure:"window_size"`
	PostProcessScriptList []string `mapstructure:"post_process_script_list"`
}

// Extraction configures per-item snippet building.
type Extraction struct {
	Fetch                     `mapstructure:",squash"`
	Selectors                 `mapstructure:",squash"`
	BypassElementExtraction   bool     `mapstructure:"bypass_element_extraction"`
	ForceSleepBetweenArticles bool     `mapstructure:"force_sleep_between_articles"`
	IncompleteImageThreshold  int      `mapstructure:"threshold_to_remove_html_with_incomplete_image"`
	PostProcessScriptList     []string `mapstructure:"post_process_script_list"`
}

// RSS configures the channel of the published artifact.
type RSS struct {
	Title            string `mapstructure:"title"`
	Description      string `mapstructure:"description"`
	Generator        string `mapstructure:"generator"`
	Copyright        string `mapstructure:"copyright"`
	Link             string `mapstructure:"link"`
	Language         string `mapstructure:"language"`
	NoItemDesc       bool   `mapstructure:"no_item_desc"`
	URLPrefixForGUID string `mapstructure:"url_prefix_for_guid"`
	IgnoreBrokenLink string `mapstructure:"ignore_broken_link"`
}

// DisplayTitle is the part of Title before "::".
func (r RSS) DisplayTitle() string {
	title, _, _ := strings.Cut(r.Title, titleSeparator)
	return strings.TrimSpace(title)
}

// Email names the recipient of new-item notifications.
type Email struct {
	Recipient string `mapstructure:"recipient"`
	Subject   string `mapstructure:"subject"`
}

// Notification is optional.
type Notification struct {
	Email *Email `mapstructure:"email"`
}

// Config is a decoded conf.json.
type Config struct {
	Collection   Collection
	Extraction   Extraction
	RSS          RSS
	Notification Notification

	// Path is the conf.json that was read.
	Path string
	// ModTime is its modification time.
	ModTime time.Time
	// Raw is the verbatim "configuration" object.
	Raw json.RawMessage

	sections map[string]map[string]any
}

type document struct {
	Configuration json.RawMessage `json:"configuration"`
}

// Load reads <feedDir>/conf.json.
func Load(feedDir string) (*Config, error) {
	return LoadFile(filepath.Join(feedDir, FileName))
}

// LoadFile reads and decodes one configuration file.
func LoadFile(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, &Error{Path: path, Kind: ErrConfigMissing}
		}
		return nil, &Error{Path: path, Kind: ErrConfigInvalid, Cause: err}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Path: path, Kind: ErrConfigInvalid, Cause: err}
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, &Error{Path: path, Kind: ErrConfigInvalid, Cause: err}
	}
	cfg.Path = path
	cfg.ModTime = info.ModTime()
	return cfg, nil
}

// Parse decodes conf.json content. The collection, extraction and rss
// sections are required.
func Parse(data []byte) (*Config, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode json: %w", err)
	}
	if len(doc.Configuration) == 0 || string(doc.Configuration) == "null" {
		return nil, errors.New(`missing "configuration"`)
	}

	var sections map[string]map[string]any
	if err := json.Unmarshal(doc.Configuration, &sections); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}

	cfg := defaults()
	cfg.Raw = doc.Configuration
	cfg.sections = sections

	targets := []struct {
		name     string
		required bool
		out      any
	}{
		{"collection", true, &cfg.Collection},
		{"extraction", true, &cfg.Extraction},
		{"rss", true, &cfg.RSS},
		{"notification", false, &cfg.Notification},
	}
	for _, target := range targets {
		section, ok := sections[target.name]
		if !ok || section == nil {
			if target.required {
				return nil, fmt.Errorf("missing %q section", target.name)
			}
			continue
		}
		if err := decode(section, target.out); err != nil {
			return nil, fmt.Errorf("decode %s: %w", target.name, err)
		}
	}
	return cfg, nil
}

func defaults() *Config {
	fetch := Fetch{
		VerifySSL:  true,
		Encoding:   DefaultEncoding,
		Timeout:    DefaultTimeoutSeconds,
		NumRetries: DefaultNumRetries,
	}
	return &Config{
		Collection: Collection{
			Fetch:             fetch,
			ItemCaptureScript: DefaultItemCaptureScript,
			UnitSizePerDay:    DefaultUnitSizePerDay,
		},
		Extraction: Extraction{Fetch: fetch},
	}
}

func decode(input map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.DecodeHookFuncType(emailFromString),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// emailFromString accepts "email": "someone@example.com" as shorthand.
func emailFromString(from, to reflect.Type, data any) (any, error) {
	if from.Kind() == reflect.String && to == reflect.TypeOf(Email{}) {
		return map[string]any{"recipient": data}, nil
	}
	return data, nil
}

// CompactJSON returns the "configuration" object without insignificant whitespace.
func (c *Config) CompactJSON() string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, c.Raw); err != nil {
		return string(c.Raw)
	}
	return buf.String()
}

// ElementNames lists every configured key, prefixed "c." for collection,
// "e." for extraction and "r." for rss, sorted.
func (c *Config) ElementNames() []string {
	prefixes := map[string]string{"collection": "c.", "extraction": "e.", "rss": "r."}
	var names []string
	for section, prefix := range prefixes {
		for key := range c.sections[section] {
			names = append(names, prefix+key)
		}
	}
	sort.Strings(names)
	return names
}

// IsCompleted reports whether the feed is archived and released through the window.
func (c *Config) IsCompleted() bool {
	return c.Collection.IsCompleted
}

// URLListCount is the number of list pages the feed collects from.
func (c *Config) URLListCount() int {
	return len(c.Collection.ListURLList)
}
