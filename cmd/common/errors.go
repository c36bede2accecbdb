package common

import "errors"

// Validate failures. NewCommandDeps wraps them in ErrInvalidDeps.
var (
	ErrInvalidDeps    = errors.New("invalid command dependencies")
	ErrConfigRequired = errors.New("missing config")
	ErrLoggerRequired = errors.New("missing logger")
	ErrEnvRequired    = errors.New("missing app environment")
)

// ErrNoDatabase is returned by commands that need the catalog when no
// database host is configured.
var ErrNoDatabase = errors.New("no catalog database configured (set FM_DB_HOST)")
