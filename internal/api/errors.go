package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/nerrad567/anthem-core/anthem"
)

// Error represents a structured error response.
type Error struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Common error codes.
const (
	ErrCodeBadRequest   = "bad_request"
	ErrCodeNotFound     = "not_found"
	ErrCodeUnauthorized = "unauthorised"
	ErrCodeRateLimited  = "rate_limited"
	ErrCodeUpstreamAuth = "upstream_auth_failed"
	ErrCodeUnavailable  = "unavailable"
	ErrCodeTimeout      = "timeout"
	ErrCodeInternal     = "internal_error"
)

// writeJSON writes a JSON response with the given status code and payload.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		//nolint:errcheck // Best-effort write to response; connection may be closed
		json.NewEncoder(w).Encode(v)
	}
}

// writeError writes a structured error response.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, Error{
		Status:  status,
		Code:    code,
		Message: message,
	})
}

// writeBadRequest writes a 400 error response.
func writeBadRequest(w http.ResponseWriter, message string) {
	writeError(w, http.StatusBadRequest, ErrCodeBadRequest, message)
}

// writeUnauthorized writes a 401 error response.
func writeUnauthorized(w http.ResponseWriter, message string) {
	writeError(w, http.StatusUnauthorized, ErrCodeUnauthorized, message)
}

// writeInternalError writes a 500 error response.
func writeInternalError(w http.ResponseWriter, message string) {
	writeError(w, http.StatusInternalServerError, ErrCodeInternal, message)
}

// writeClientError maps an anthem client error to an HTTP response.
func writeClientError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, anthem.ErrDeviceNotFound), errors.Is(err, anthem.ErrUnknownDevice):
		writeError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, anthem.ErrEncoding),
		errors.Is(err, anthem.ErrUnknownOutlet),
		errors.Is(err, anthem.ErrInvalidArgument):
		writeBadRequest(w, err.Error())
	case errors.Is(err, anthem.ErrRateLimited):
		if d, ok := anthem.RetryAfter(err); ok && d > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.Seconds()))))
		}
		writeError(w, http.StatusTooManyRequests, ErrCodeRateLimited, err.Error())
	case errors.Is(err, anthem.ErrAuthentication), errors.Is(err, anthem.ErrAuthorization):
		writeError(w, http.StatusBadGateway, ErrCodeUpstreamAuth, err.Error())
	case errors.Is(err, anthem.ErrNotOpen), errors.Is(err, anthem.ErrClosed), errors.Is(err, anthem.ErrNoTenant):
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, err.Error())
	case anthem.IsTimeout(err):
		writeError(w, http.StatusGatewayTimeout, ErrCodeTimeout, err.Error())
	default:
		writeInternalError(w, err.Error())
	}
}
