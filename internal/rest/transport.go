package rest

import (
	"net/http"
	"time"
)

// LoggingTransport wraps an http.RoundTripper and logs each request with its
// status and duration. Headers are never logged.
type LoggingTransport struct {
	Base   http.RoundTripper
	Logger Logger
}

// RoundTrip implements http.RoundTripper.
func (t *LoggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	start := time.Now()
	resp, err := base.RoundTrip(req)
	duration := time.Since(start)

	if err != nil {
		t.Logger.Warn("api request failed",
			"method", req.Method,
			"path", req.URL.Path,
			"duration", duration,
			"error", err,
		)
		return nil, err
	}

	args := []any{
		"method", req.Method,
		"path", req.URL.Path,
		"status", resp.StatusCode,
		"duration", duration,
	}
	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		t.Logger.Error("api request", args...)
	case resp.StatusCode >= http.StatusBadRequest:
		t.Logger.Warn("api request", args...)
	default:
		t.Logger.Debug("api request", args...)
	}
	return resp, nil
}

// WithRequestLogging wraps the Gateway's transport in a LoggingTransport
// that writes to the Gateway's logger. Apply it after WithHTTPClient and
// WithLogger.
func WithRequestLogging() Option {
	return func(g *Gateway) {
		client := *g.httpClient
		client.Transport = &LoggingTransport{Base: client.Transport, Logger: g.logger}
		g.httpClient = &client
	}
}
