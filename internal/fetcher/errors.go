package fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Kind classifies a fetch failure.
type Kind string

const (
	KindTimeout   Kind = "timeout"
	KindNetwork   Kind = "network"
	KindStatus    Kind = "status"
	KindCancelled Kind = "cancelled"
)

// permanentStatuses are never retried.
var permanentStatuses = map[int]struct{}{
	http.StatusUnauthorized:     {},
	http.StatusForbidden:        {},
	http.StatusNotFound:         {},
	http.StatusMethodNotAllowed: {},
	http.StatusGone:             {},
}

// Error is returned by every Client operation.
type Error struct {
	Kind       Kind
	StatusCode int
	URL        string
	Cause      error
}

func (e *Error) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("fetch %s: HTTP %d for %s", e.Kind, e.StatusCode, e.URL)
	}
	return fmt.Sprintf("fetch %s: %v for %s", e.Kind, e.Cause, e.URL)
}

func (e *Error) Unwrap() error { return e.Cause }

// Permanent reports whether the failure will not go away by retrying.
func (e *Error) Permanent() bool {
	switch e.Kind {
	case KindStatus:
		_, ok := permanentStatuses[e.StatusCode]
		return ok
	case KindCancelled:
		return true
	default:
		return errors.Is(e.Cause, ErrNoRenderer)
	}
}

// Retryable is the inverse of Permanent.
func (e *Error) Retryable() bool { return !e.Permanent() }

// IsRetryable reports whether err is a retryable *Error.
func IsRetryable(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Retryable()
	}
	return false
}

// PermanentStatus reports whether code is in the non-retryable set.
func PermanentStatus(code int) bool {
	_, ok := permanentStatuses[code]
	return ok
}

func statusError(code int, url string) *Error {
	return &Error{Kind: KindStatus, StatusCode: code, URL: url, Cause: fmt.Errorf("HTTP %d", code)}
}

// classify turns a transport error into an *Error. parent is the caller's
// context; a per-attempt deadline expiring is a timeout, the caller
// cancelling is a cancellation.
func classify(parent context.Context, err error, url string) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}
	if parent.Err() != nil {
		return &Error{Kind: KindCancelled, URL: url, Cause: parent.Err()}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: KindTimeout, URL: url, Cause: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &Error{Kind: KindTimeout, URL: url, Cause: err}
	}
	return &Error{Kind: KindNetwork, URL: url, Cause: err}
}
