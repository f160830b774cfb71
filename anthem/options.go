package anthem

import (
	"net/http"
	"time"

	"github.com/nerrad567/anthem-core/internal/realtime"
	"github.com/nerrad567/anthem-core/internal/rest"
	"github.com/nerrad567/anthem-core/internal/session"
	"github.com/nerrad567/anthem-core/internal/valve"
)

// DefaultFreshness is how old cached state may be before GetDeviceState polls.
const DefaultFreshness = 30 * time.Second

// DefaultDiscoveryConcurrency bounds parallel state polls during discovery.
const DefaultDiscoveryConcurrency = 4

// Logger is the logging interface used by the Client.
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

type options struct {
	httpClient     *http.Client
	baseURL        string
	tokenURL       string
	customerID     string
	timeout        time.Duration
	restRetry      *rest.RetryConfig
	sessionRetry   *session.RetryConfig
	expiryMargin   time.Duration
	freshness      time.Duration
	concurrency    int
	requestLogging bool
	realtime       realtime.Config
	dialer         realtime.Dialer
	outletValves   map[valve.Outlet]int
	logger         Logger
	now            func() time.Time
}

func defaultOptions() options {
	return options{
		timeout:      rest.DefaultTimeout,
		freshness:    DefaultFreshness,
		concurrency:  DefaultDiscoveryConcurrency,
		outletValves: make(map[valve.Outlet]int),
		logger:       noopLogger{},
		now:          time.Now,
	}
}

// Option configures a Client.
type Option func(*options)

// WithHTTPClient sets the HTTP client used for token and API requests.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) {
		o.httpClient = client
	}
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(baseURL string) Option {
	return func(o *options) {
		o.baseURL = baseURL
	}
}

// WithTokenURL overrides the identity provider token endpoint.
func WithTokenURL(tokenURL string) Option {
	return func(o *options) {
		o.tokenURL = tokenURL
	}
}

// WithCustomerID sets the customer (tenant) id. Without it the id is read
// from the id_token issued at Open.
func WithCustomerID(id string) Option {
	return func(o *options) {
		o.customerID = id
	}
}

// WithTimeout bounds each HTTP round trip.
func WithTimeout(timeout time.Duration) Option {
	return func(o *options) {
		if timeout > 0 {
			o.timeout = timeout
		}
	}
}

// WithRetry sets the retry policy for API reads.
func WithRetry(cfg rest.RetryConfig) Option {
	return func(o *options) {
		o.restRetry = &cfg
	}
}

// WithTokenRetry sets the retry policy for token requests.
func WithTokenRetry(cfg session.RetryConfig) Option {
	return func(o *options) {
		o.sessionRetry = &cfg
	}
}

// WithExpiryMargin sets how long before expiry a token is replaced.
func WithExpiryMargin(margin time.Duration) Option {
	return func(o *options) {
		o.expiryMargin = margin
	}
}

// WithFreshness sets how old cached state may be before GetDeviceState
// polls the API. Zero polls on every call.
func WithFreshness(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.freshness = d
		}
	}
}

// WithDiscoveryConcurrency bounds parallel state polls in DiscoverDevices.
func WithDiscoveryConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithRequestLogging logs every API round trip at debug level.
func WithRequestLogging() Option {
	return func(o *options) {
		o.requestLogging = true
	}
}

// WithRealtimeConfig sets the realtime channel configuration. TenantID is
// filled in from the client when empty.
func WithRealtimeConfig(cfg realtime.Config) Option {
	return func(o *options) {
		o.realtime = cfg
	}
}

// WithRealtimeDialer replaces the broker dialer, for tests.
func WithRealtimeDialer(d realtime.Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

// WithOutletValve drives secondary valve n (1-7) alongside the primary
// valve whenever outlet is turned on.
func WithOutletValve(outlet Outlet, n int) Option {
	return func(o *options) {
		o.outletValves[outlet] = n
	}
}

// WithLogger sets the logger shared by all components.
func WithLogger(logger Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// OutletOption adjusts a single outlet command.
type OutletOption func(*outletRequest)

type outletRequest struct {
	flow      float64
	secondary int
}

// WithFlow sets the flow percentage (default 100).
func WithFlow(percent float64) OutletOption {
	return func(r *outletRequest) {
		r.flow = percent
	}
}

// WithSecondary also drives secondary valve n (1-7) with the same settings,
// overriding any WithOutletValve mapping for this call.
func WithSecondary(n int) OutletOption {
	return func(r *outletRequest) {
		r.secondary = n
	}
}
