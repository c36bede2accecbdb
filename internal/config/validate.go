package config

import (
	"fmt"
	"net/url"
	"time"
)

// ValidationError reports one invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Validate checks the fields every command depends on.
func (c *Config) Validate() error {
	if c.App.WorkDir == "" {
		return &ValidationError{Field: "app.work_dir", Message: "is required"}
	}
	if c.App.Timezone != "" {
		if _, err := time.LoadLocation(c.App.Timezone); err != nil {
			return &ValidationError{Field: "app.timezone", Message: err.Error()}
		}
	}
	if c.Database.Port < 1 || c.Database.Port > 65535 {
		return &ValidationError{Field: "database.port", Message: "must be between 1 and 65535"}
	}
	if c.Loki.URL != "" {
		if u, err := url.Parse(c.Loki.URL); err != nil || u.Scheme == "" || u.Host == "" {
			return &ValidationError{Field: "loki.url", Message: "must be an absolute URL"}
		}
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "warning", "error", "fatal":
	default:
		return &ValidationError{Field: "logging.level", Message: "must be one of: debug, info, warn, error, fatal"}
	}
	return nil
}

// Location returns the configured time zone, or time.Local.
func (c *Config) Location() *time.Location {
	if c.App.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
