package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Session defaults.
const (
	// DefaultExpiryMargin is how long before expiry a token stops being handed out.
	DefaultExpiryMargin = 5 * time.Minute

	// DefaultRequestTimeout bounds a single token-endpoint round trip
	// including retries.
	DefaultRequestTimeout = 30 * time.Second

	// maxTokenResponseSize caps how much of a token response is read.
	maxTokenResponseSize = 1 << 20

	// flightKey is the single-flight key for token refreshes.
	flightKey = "token"
)

// RetryConfig configures retries of transient token-endpoint failures.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first (default 3).
	MaxAttempts int
	// InitialBackoff is the delay before the second attempt (default 200ms).
	InitialBackoff time.Duration
	// MaxBackoff caps the delay between attempts (default 5s).
	MaxBackoff time.Duration
	// Multiplier grows the delay after each attempt (default 2).
	Multiplier float64
}

// DefaultRetryConfig returns the retry policy used when none is configured.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     5 * time.Second,
		Multiplier:     2.0,
	}
}

// Logger is the logging interface used by the Manager.
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

// Manager owns the OAuth session for one user.
type Manager struct {
	creds          Credentials
	tokenURL       string
	httpClient     *http.Client
	margin         time.Duration
	requestTimeout time.Duration
	retry          RetryConfig
	now            func() time.Time
	logger         Logger

	mu          sync.RWMutex
	token       *Token
	invalidated bool

	flight singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithHTTPClient sets the HTTP client used for token requests.
func WithHTTPClient(client *http.Client) Option {
	return func(m *Manager) {
		m.httpClient = client
	}
}

// WithTokenURL overrides the token endpoint derived from the credentials.
func WithTokenURL(tokenURL string) Option {
	return func(m *Manager) {
		m.tokenURL = tokenURL
	}
}

// WithExpiryMargin sets how long before expiry a token is considered stale.
func WithExpiryMargin(margin time.Duration) Option {
	return func(m *Manager) {
		m.margin = margin
	}
}

// WithRequestTimeout bounds each refresh, including retries.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(m *Manager) {
		m.requestTimeout = timeout
	}
}

// WithRetry sets the transient failure retry policy.
func WithRetry(cfg RetryConfig) Option {
	return func(m *Manager) {
		m.retry = cfg
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

// New creates a Manager. No network traffic happens until the first
// EnsureToken call.
//
// Parameters:
//   - creds: User and application credentials
//   - opts: Optional configuration
//
// Returns:
//   - *Manager: Ready for use
//   - error: ErrMissingCredentials if required fields are empty
func New(creds Credentials, opts ...Option) (*Manager, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	creds = creds.withDefaults()

	m := &Manager{
		creds:          creds,
		tokenURL:       creds.TokenURL(),
		httpClient:     &http.Client{Timeout: DefaultRequestTimeout},
		margin:         DefaultExpiryMargin,
		requestTimeout: DefaultRequestTimeout,
		retry:          DefaultRetryConfig(),
		now:            time.Now,
		logger:         noopLogger{},
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.retry.MaxAttempts < 1 {
		m.retry.MaxAttempts = 1
	}
	if m.retry.Multiplier < 1 {
		m.retry.Multiplier = 1
	}
	return m, nil
}

// Credentials returns the credentials the Manager was created with.
func (m *Manager) Credentials() Credentials {
	return m.creds
}

// SubscriptionKey returns the APIM subscription key sent on REST calls.
func (m *Manager) SubscriptionKey() string {
	return m.creds.APIMSubscriptionKey
}

// Current returns the held token without refreshing it.
// The boolean is false when no token has been issued yet.
func (m *Manager) Current() (Token, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == nil {
		return Token{}, false
	}
	return *m.token, true
}

// Invalidate forces the next EnsureToken call to refresh, even if the held
// token has not reached its expiry margin. It is used after the API rejects
// a token with 401/403.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.invalidated = true
	m.mu.Unlock()
	m.logger.Debug("session token invalidated")
}

// EnsureToken returns a token that is valid for at least the expiry margin,
// refreshing it first if necessary.
//
// Concurrent callers that need a refresh share a single token-endpoint
// request. A caller whose context ends while waiting gets ErrTimeout (or
// context.Canceled); the shared refresh continues for the other waiters.
//
// Returns:
//   - Token: A usable token
//   - error: ErrAuthentication, ErrTransientAuth or ErrTimeout
func (m *Manager) EnsureToken(ctx context.Context) (Token, error) {
	if tok, ok := m.usableToken(); ok {
		return tok, nil
	}

	ch := m.flight.DoChan(flightKey, func() (any, error) {
		// Another flight may have finished between the fast-path check and
		// this one starting.
		if tok, ok := m.usableToken(); ok {
			return tok, nil
		}
		refreshCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), m.requestTimeout)
		defer cancel()
		return m.refresh(refreshCtx)
	})

	select {
	case <-ctx.Done():
		return Token{}, contextError(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Token{}, res.Err
		}
		return res.Val.(Token), nil
	}
}

// usableToken returns the held token if it is valid and not invalidated.
func (m *Manager) usableToken() (Token, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.token == nil || m.invalidated {
		return Token{}, false
	}
	if !m.token.ValidAt(m.now(), m.margin) {
		return Token{}, false
	}
	return *m.token, true
}

// refresh obtains a new token, preferring the refresh_token grant.
func (m *Manager) refresh(ctx context.Context) (Token, error) {
	m.mu.RLock()
	var refreshToken string
	if m.token != nil {
		refreshToken = m.token.RefreshToken
	}
	m.mu.RUnlock()

	var (
		tok Token
		err error
	)
	if refreshToken != "" {
		tok, err = m.requestWithRetry(ctx, m.refreshForm(refreshToken))
		if errors.Is(err, ErrAuthentication) {
			m.logger.Info("refresh token rejected, falling back to password grant", "error", err)
			refreshToken = ""
			tok, err = m.requestWithRetry(ctx, m.passwordForm())
		}
	} else {
		tok, err = m.requestWithRetry(ctx, m.passwordForm())
	}
	if err != nil {
		m.logger.Warn("token refresh failed", "error", err)
		return Token{}, err
	}

	m.mu.Lock()
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	m.token = &tok
	m.invalidated = false
	m.mu.Unlock()

	m.logger.Debug("session token refreshed", "expires_at", tok.ExpiresAt)
	return tok, nil
}

func (m *Manager) passwordForm() url.Values {
	return url.Values{
		"grant_type": {"password"},
		"client_id":  {m.creds.ClientID},
		"username":   {m.creds.Username},
		"password":   {m.creds.Password},
		"scope":      {m.creds.Scope()},
	}
}

func (m *Manager) refreshForm(refreshToken string) url.Values {
	return url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {m.creds.ClientID},
		"refresh_token": {refreshToken},
		"scope":         {m.creds.Scope()},
	}
}

// requestWithRetry performs a grant, retrying transient failures with
// capped exponential backoff.
func (m *Manager) requestWithRetry(ctx context.Context, form url.Values) (Token, error) {
	backoff := m.retry.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= m.retry.MaxAttempts; attempt++ {
		tok, err := m.requestToken(ctx, form)
		if err == nil {
			return tok, nil
		}
		if !errors.Is(err, ErrTransientAuth) {
			return Token{}, err
		}
		lastErr = err

		if attempt == m.retry.MaxAttempts {
			break
		}
		m.logger.Debug("retrying token request", "attempt", attempt, "backoff", backoff, "error", err)
		select {
		case <-ctx.Done():
			return Token{}, contextError(ctx.Err())
		case <-time.After(backoff):
		}
		backoff = time.Duration(float64(backoff) * m.retry.Multiplier)
		if m.retry.MaxBackoff > 0 && backoff > m.retry.MaxBackoff {
			backoff = m.retry.MaxBackoff
		}
	}

	return Token{}, lastErr
}

// requestToken performs one POST to the token endpoint.
func (m *Manager) requestToken(ctx context.Context, form url.Values) (Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return Token{}, fmt.Errorf("%w: creating token request: %w", ErrAuthentication, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return Token{}, contextError(ctxErr)
		}
		if isNetTimeout(err) {
			return Token{}, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
		return Token{}, fmt.Errorf("%w: %w", ErrTransientAuth, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		if isNetTimeout(err) {
			return Token{}, fmt.Errorf("%w: reading token response: %w", ErrTimeout, err)
		}
		return Token{}, fmt.Errorf("%w: reading token response: %w", ErrTransientAuth, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError:
		return Token{}, fmt.Errorf("%w: token endpoint returned %d", ErrTransientAuth, resp.StatusCode)
	default:
		return Token{}, fmt.Errorf("%w: %s", ErrAuthentication, describeRejection(resp.StatusCode, body))
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return Token{}, fmt.Errorf("%w: parsing token response: %w", ErrAuthentication, err)
	}
	if tr.AccessToken == "" {
		return Token{}, fmt.Errorf("%w: token response missing access_token", ErrAuthentication)
	}
	return tr.toToken(m.now()), nil
}

// describeRejection extracts the identity provider's reason for a rejected grant.
func describeRejection(status int, body []byte) string {
	var er errorResponse
	if err := json.Unmarshal(body, &er); err == nil {
		if er.ErrorDescription != "" {
			return fmt.Sprintf("status %d: %s", status, er.ErrorDescription)
		}
		if er.Error != "" {
			return fmt.Sprintf("status %d: %s", status, er.Error)
		}
	}
	return fmt.Sprintf("status %d: unknown error", status)
}
