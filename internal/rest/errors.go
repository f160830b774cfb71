package rest

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/anthem-core/internal/session"
)

// Domain-specific errors for REST operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrDeviceNotFound is returned when the API responds 404.
	ErrDeviceNotFound = errors.New("rest: device not found")

	// ErrAuthorization is returned when the API rejects a freshly refreshed token.
	ErrAuthorization = errors.New("rest: not authorized")

	// ErrRateLimited is returned (wrapped in *RateLimitedError) on 429.
	ErrRateLimited = errors.New("rest: rate limited")

	// ErrTransientNetwork is returned for network failures and 5xx responses.
	ErrTransientNetwork = errors.New("rest: transient network failure")

	// ErrProtocol is returned when a response body cannot be understood.
	ErrProtocol = errors.New("rest: unexpected response")

	// ErrTimeout is returned when the caller's deadline or the client's
	// per-request timeout elapses. errors.Is also matches it against
	// session.ErrTimeout.
	ErrTimeout error = timeoutError{}

	// ErrInvalidArgument is returned when a required identifier is empty.
	ErrInvalidArgument = errors.New("rest: invalid argument")

	// errUnauthorized marks a 401/403 before the single re-authentication retry.
	errUnauthorized = errors.New("rest: unauthorized")
)

// timeoutError is ErrTimeout. Token waits and API requests share
// session.ErrTimeout as their common timeout.
type timeoutError struct{}

func (timeoutError) Error() string { return "rest: request timed out" }

func (timeoutError) Is(target error) bool { return target == session.ErrTimeout }

// APIError is an unexpected non-2xx response.
type APIError struct {
	StatusCode int
	Method     string
	Path       string
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("rest: %s %s: API error %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Unwrap classifies server errors as transient.
func (e *APIError) Unwrap() error {
	if e.StatusCode >= http.StatusInternalServerError {
		return ErrTransientNetwork
	}
	return nil
}

// RateLimitedError is returned on HTTP 429.
type RateLimitedError struct {
	// RetryAfter is the server's requested delay, zero if not provided.
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rest: rate limited, retry after %v", e.RetryAfter)
	}
	return "rest: rate limited"
}

// Unwrap allows errors.Is(err, ErrRateLimited).
func (e *RateLimitedError) Unwrap() error {
	return ErrRateLimited
}

// RetryAfter returns the server-requested delay carried by err, if any.
func RetryAfter(err error) (time.Duration, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || isNetTimeout(err)
}

// isNetTimeout reports whether err carries a transport timeout, such as
// http.Client.Timeout expiring.
func isNetTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}

// parseRetryAfter reads a Retry-After header in either seconds or HTTP-date form.
func parseRetryAfter(v string, now time.Time) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil && at.After(now) {
		return at.Sub(now)
	}
	return 0
}
