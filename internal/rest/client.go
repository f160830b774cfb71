package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nerrad567/anthem-core/internal/session"
)

// Gateway defaults.
const (
	// DefaultTimeout bounds a single HTTP round trip.
	DefaultTimeout = 30 * time.Second

	// maxResponseSize caps how much of a response body is read.
	maxResponseSize = 4 << 20

	// maxErrorMessage caps how much of an error body is kept in APIError.
	maxErrorMessage = 512
)

// TokenSource supplies bearer tokens. *session.Manager implements it.
type TokenSource interface {
	EnsureToken(ctx context.Context) (session.Token, error)
	Invalidate()
	SubscriptionKey() string
}

// RetryConfig configures retries of transient GET failures.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first (default 3).
	MaxAttempts int
	// InitialBackoff is the delay before the second attempt (default 250ms).
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between attempts (default 4s).
	MaxBackoff time.Duration
	// Multiplier grows the delay after each attempt (default 2).
	Multiplier float64
}

// DefaultRetryConfig returns the GET retry policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     4 * time.Second,
		Multiplier:     2.0,
	}
}

// Logger is the logging interface used by the Gateway.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger discards all log output.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Gateway issues authenticated requests to the cloud API.
// It is safe for concurrent use.
type Gateway struct {
	baseURL    string
	httpClient *http.Client
	tokens     TokenSource
	retry      RetryConfig
	logger     Logger
	now        func() time.Time
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithBaseURL sets the API base URL.
func WithBaseURL(baseURL string) Option {
	return func(g *Gateway) {
		g.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Gateway) {
		g.httpClient = client
	}
}

// WithTimeout sets the per-request timeout on the HTTP client.
// This option can be applied in any order relative to WithHTTPClient.
func WithTimeout(timeout time.Duration) Option {
	return func(g *Gateway) {
		if g.httpClient == nil {
			g.httpClient = &http.Client{}
		}
		g.httpClient.Timeout = timeout
	}
}

// WithRetry sets the GET retry policy.
func WithRetry(cfg RetryConfig) Option {
	return func(g *Gateway) {
		g.retry = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gateway) {
		g.now = now
	}
}

// New creates a Gateway that authenticates through tokens.
func New(tokens TokenSource, opts ...Option) *Gateway {
	g := &Gateway{
		baseURL: DefaultBaseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		tokens: tokens,
		retry:  DefaultRetryConfig(),
		logger: noopLogger{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.retry.MaxAttempts < 1 {
		g.retry.MaxAttempts = 1
	}
	if g.retry.Multiplier < 1 {
		g.retry.Multiplier = 1
	}
	return g
}

// CloseIdleConnections releases pooled connections.
func (g *Gateway) CloseIdleConnections() {
	g.httpClient.CloseIdleConnections()
}

// get performs a GET with transient-failure retries and decodes into out.
func (g *Gateway) get(ctx context.Context, path string, out any) error {
	backoff := g.retry.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= g.retry.MaxAttempts; attempt++ {
		err := g.doAuthorized(ctx, http.MethodGet, path, nil, out)
		if err == nil {
			return nil
		}
		if !isRetryable(err) {
			return err
		}
		lastErr = err

		if attempt == g.retry.MaxAttempts {
			break
		}
		g.logger.Debug("retrying GET", "path", path, "attempt", attempt, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return contextError(ctx.Err())
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * g.retry.Multiplier)
		if g.retry.MaxBackoff > 0 && backoff > g.retry.MaxBackoff {
			backoff = g.retry.MaxBackoff
		}
	}

	return lastErr
}

// post performs a POST without transient-failure retries.
func (g *Gateway) post(ctx context.Context, path string, body, out any) error {
	return g.doAuthorized(ctx, http.MethodPost, path, body, out)
}

// doAuthorized performs a request, refreshing the token and retrying once
// if the API rejects it.
func (g *Gateway) doAuthorized(ctx context.Context, method, path string, body, out any) error {
	err := g.do(ctx, method, path, body, out)
	if !errors.Is(err, errUnauthorized) {
		return err
	}

	g.logger.Info("API rejected token, re-authenticating", "method", method, "path", path)
	g.tokens.Invalidate()

	err = g.do(ctx, method, path, body, out)
	if errors.Is(err, errUnauthorized) {
		return fmt.Errorf("%w: %s %s", ErrAuthorization, method, path)
	}
	return err
}

// do performs a single HTTP request.
func (g *Gateway) do(ctx context.Context, method, path string, body, out any) error {
	tok, err := g.tokens.EnsureToken(ctx)
	if err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("rest: marshalling request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("rest: creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
	req.Header.Set("Ocp-Apim-Subscription-Key", g.tokens.SubscriptionKey())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return contextError(ctxErr)
		}
		if isNetTimeout(err) {
			return fmt.Errorf("%w: %s %s: %w", ErrTimeout, method, path, err)
		}
		return fmt.Errorf("%w: %s %s: %w", ErrTransientNetwork, method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return contextError(ctxErr)
		}
		if isNetTimeout(err) {
			return fmt.Errorf("%w: reading response: %w", ErrTimeout, err)
		}
		return fmt.Errorf("%w: reading response: %w", ErrTransientNetwork, err)
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return g.handleError(method, path, resp, respBody)
	}

	if out == nil {
		return nil
	}
	if len(bytes.TrimSpace(respBody)) == 0 {
		return fmt.Errorf("%w: %s %s: empty body", ErrProtocol, method, path)
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("%w: %s %s: %w", ErrProtocol, method, path, err)
	}
	return nil
}

// handleError converts HTTP error responses to package errors.
func (g *Gateway) handleError(method, path string, resp *http.Response, body []byte) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errUnauthorized
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", ErrDeviceNotFound, path)
	case http.StatusTooManyRequests:
		return &RateLimitedError{RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), g.now())}
	default:
		msg := string(bytes.TrimSpace(body))
		if len(msg) > maxErrorMessage {
			msg = msg[:maxErrorMessage]
		}
		return &APIError{
			StatusCode: resp.StatusCode,
			Method:     method,
			Path:       path,
			Message:    msg,
		}
	}
}

// isRetryable reports whether a GET failure is worth retrying.
func isRetryable(err error) bool {
	if errors.Is(err, ErrTimeout) {
		return false
	}
	return errors.Is(err, ErrTransientNetwork)
}

// contextError maps a context failure to the package's error vocabulary.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}
	return err
}
