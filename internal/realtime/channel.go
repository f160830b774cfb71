package realtime

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/nerrad567/anthem-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/anthem-core/internal/rest"
	"github.com/nerrad567/anthem-core/internal/state"
)

// Channel defaults.
const (
	DefaultInitialBackoff         = time.Second
	DefaultMaxBackoff             = 2 * time.Minute
	DefaultBackoffMultiplier      = 2.0
	DefaultJitter                 = 0.2
	DefaultMaxConsecutiveFailures = 10
	DefaultCredentialMargin       = 5 * time.Minute
	DefaultQoS                    = 1

	// registrationTimeout bounds one credential registration call.
	registrationTimeout = 30 * time.Second

	// minCredentialLifetime is the shortest remaining lifetime a freshly
	// issued SAS token may have. Shorter tokens count as a failed attempt.
	minCredentialLifetime = time.Minute

	// minRotationInterval is the shortest session after which a credential
	// rotation reconnects without backing off.
	minRotationInterval = 30 * time.Second
)

// State is the Channel's connection state.
type State int32

// Channel states.
const (
	StateDisconnected State = iota
	StateConnecting
	StateSubscribed
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateSubscribed:
		return "subscribed"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Broker is a connected MQTT session. *mqtt.Client implements it.
type Broker interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte) error
	SetOnDisconnect(callback func(err error))
	Close() error
}

// Dialer opens a broker session with the given credentials.
type Dialer func(ctx context.Context, creds Credentials) (Broker, error)

// CredentialSource issues broker credentials. *rest.Gateway implements it.
type CredentialSource interface {
	RegisterMobileDevice(ctx context.Context, tenantID, mobileDeviceID string) (*rest.IoTHubSettings, error)
}

// Sink receives parsed telemetry. *state.Store implements it.
type Sink interface {
	ApplyRealtimeFragment(deviceID string, f state.Fragment, ts time.Time) bool
}

// MessageListener observes every raw message the Channel receives.
type MessageListener func(topic string, payload []byte)

// Logger is the logging interface used by the Channel.
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

// Config configures a Channel.
type Config struct {
	// TenantID is the customer id used for registration. Required.
	TenantID string

	// MobileDeviceID identifies this client to the cloud. It is generated
	// once when empty and reused for every registration.
	MobileDeviceID string

	// DefaultDeviceID is the device a message is attributed to when it
	// names none. Useful for single-shower accounts.
	DefaultDeviceID string

	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	// Jitter is the fraction (0-1) by which each backoff is randomised.
	// Negative disables jitter.
	Jitter float64

	// MaxConsecutiveFailures is how many failed connection attempts in a
	// row close the Channel. Zero or negative retries forever.
	MaxConsecutiveFailures int

	// CredentialMargin is how long before SAS expiry credentials are replaced.
	CredentialMargin time.Duration

	QoS byte
}

func (c Config) withDefaults() Config {
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = DefaultInitialBackoff
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = DefaultMaxBackoff
	}
	if c.BackoffMultiplier < 1 {
		c.BackoffMultiplier = DefaultBackoffMultiplier
	}
	switch {
	case c.Jitter == 0 || c.Jitter > 1:
		c.Jitter = DefaultJitter
	case c.Jitter < 0:
		c.Jitter = 0
	}
	if c.CredentialMargin <= 0 {
		c.CredentialMargin = DefaultCredentialMargin
	}
	if c.QoS == 0 {
		c.QoS = DefaultQoS
	}
	if c.MobileDeviceID == "" {
		c.MobileDeviceID = rest.NewMobileDeviceID()
	}
	return c
}

// Channel is the realtime telemetry connection.
// It is safe for concurrent use.
type Channel struct {
	cfg    Config
	source CredentialSource
	sink   Sink
	dial   Dialer
	logger Logger
	now    func() time.Time
	sleep  func(ctx context.Context, d time.Duration) error
	after  func(d time.Duration) <-chan time.Time
	topics mqtt.Topics

	mu      sync.Mutex
	started bool
	state   State
	creds   *Credentials
	broker  Broker
	err     error
	lastTS  time.Time
	cancel  context.CancelFunc

	listenerMu sync.RWMutex
	listeners  []MessageListener
	stateHooks []func(State)

	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Channel.
type Option func(*Channel)

// WithDialer replaces the MQTT dialer, for tests.
func WithDialer(d Dialer) Option {
	return func(c *Channel) {
		c.dial = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger Logger) Option {
	return func(c *Channel) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(c *Channel) {
		c.now = now
	}
}

// WithCredentials seeds the Channel with previously issued credentials.
func WithCredentials(creds Credentials) Option {
	return func(c *Channel) {
		c.creds = &creds
	}
}

// MQTTDialer returns a Dialer backed by the paho client.
func MQTTDialer(logger mqtt.Logger) Dialer {
	return func(ctx context.Context, creds Credentials) (Broker, error) {
		client, err := mqtt.Connect(ctx, creds.settings())
		if err != nil {
			return nil, err
		}
		if logger != nil {
			client.SetLogger(logger)
		}
		return client, nil
	}
}

// New creates a Channel. Nothing connects until Start.
//
// Parameters:
//   - cfg: Channel configuration; TenantID is required
//   - source: Issues broker credentials
//   - sink: Receives parsed telemetry
//   - opts: Optional configuration
//
// Returns:
//   - *Channel: Ready to start
//   - error: If required arguments are missing
func New(cfg Config, source CredentialSource, sink Sink, opts ...Option) (*Channel, error) {
	if cfg.TenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrInvalidCredentials)
	}
	if source == nil || sink == nil {
		return nil, errors.New("realtime: credential source and sink are required")
	}

	c := &Channel{
		cfg:    cfg.withDefaults(),
		source: source,
		sink:   sink,
		logger: noopLogger{},
		now:    time.Now,
		sleep:  sleepContext,
		after:  time.After,
		state:  StateDisconnected,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dial == nil {
		c.dial = MQTTDialer(c.logger)
	}
	return c, nil
}

// OnMessage registers a listener for raw messages.
func (c *Channel) OnMessage(l MessageListener) {
	c.listenerMu.Lock()
	c.listeners = append(c.listeners, l)
	c.listenerMu.Unlock()
}

// OnStateChange registers a hook called after every state transition.
func (c *Channel) OnStateChange(hook func(State)) {
	c.listenerMu.Lock()
	c.stateHooks = append(c.stateHooks, hook)
	c.listenerMu.Unlock()
}

// State returns the current connection state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns why the Channel closed itself, or nil.
func (c *Channel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Done is closed when the Channel reaches StateClosed.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Credentials returns the credentials currently in use, if any.
func (c *Channel) Credentials() (Credentials, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.creds == nil {
		return Credentials{}, false
	}
	return *c.creds, true
}

// Start launches the connection supervisor. It returns immediately; the
// first connection happens in the background.
//
// Returns:
//   - error: ErrAlreadyStarted or ErrClosed
func (c *Channel) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.started = true
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.mu.Unlock()

	go c.run(runCtx)
	return nil
}

// Close stops the supervisor, unsubscribes and disconnects. In-flight
// publishes are abandoned. It is safe to call more than once.
func (c *Channel) Close() error {
	c.mu.Lock()
	cancel := c.cancel
	started := c.started
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if !started {
		c.finish(nil)
		return nil
	}
	<-c.done
	return nil
}

// run is the supervisor loop.
//
// The backoff grows across failed attempts and across sessions that drop
// soon after subscribing. It returns to InitialBackoff only once a session
// has stayed up for MaxBackoff.
func (c *Channel) run(ctx context.Context) {
	failures := 0
	backoff := c.cfg.InitialBackoff

	// pause sleeps for the current backoff and grows it.
	pause := func() bool {
		if err := c.sleep(ctx, c.jitter(backoff)); err != nil {
			return false
		}
		backoff = c.nextBackoff(backoff)
		return true
	}

	for {
		if ctx.Err() != nil {
			c.finish(nil)
			return
		}

		c.setState(StateConnecting)
		broker, lost, err := c.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.finish(nil)
				return
			}
			failures++
			c.logger.Warn("realtime connection failed",
				"attempt", failures,
				"error", err,
			)
			if c.cfg.MaxConsecutiveFailures > 0 && failures >= c.cfg.MaxConsecutiveFailures {
				c.finish(fmt.Errorf("%w: %d consecutive failures: %w", ErrBrokerConnection, failures, err))
				return
			}
			c.setState(StateDisconnected)
			if !pause() {
				c.finish(nil)
				return
			}
			continue
		}

		failures = 0
		connectedAt := c.now()
		c.setState(StateSubscribed)

		reason := c.hold(ctx, lost)
		c.teardown(broker)

		uptime := c.now().Sub(connectedAt)
		if uptime >= c.cfg.MaxBackoff {
			backoff = c.cfg.InitialBackoff
		}

		switch reason {
		case exitClosed:
			c.finish(nil)
			return
		case exitLost:
			c.setState(StateDisconnected)
			if !pause() {
				c.finish(nil)
				return
			}
		case exitRotate:
			c.logger.Info("rotating realtime credentials", "session", uptime)
			c.mu.Lock()
			c.creds = nil
			c.mu.Unlock()
			c.setState(StateDisconnected)
			if uptime < minRotationInterval && !pause() {
				c.finish(nil)
				return
			}
		}
	}
}

type exitReason int

const (
	exitClosed exitReason = iota
	exitLost
	exitRotate
)

// hold waits while the session is healthy.
func (c *Channel) hold(ctx context.Context, lost <-chan error) exitReason {
	var rotate <-chan time.Time
	if creds, ok := c.Credentials(); ok {
		if exp, ok := creds.ExpiresAt(); ok {
			wait := exp.Add(-c.margin(creds)).Sub(c.now())
			if wait < 0 {
				wait = 0
			}
			rotate = c.after(wait)
		}
	}

	select {
	case <-ctx.Done():
		return exitClosed
	case err := <-lost:
		c.logger.Warn("realtime connection lost", "error", err)
		return exitLost
	case <-rotate:
		return exitRotate
	}
}

// margin returns how long before expiry creds are replaced: the configured
// CredentialMargin, capped at half the token's issued lifetime.
func (c *Channel) margin(creds Credentials) time.Duration {
	m := c.cfg.CredentialMargin
	exp, ok := creds.ExpiresAt()
	if !ok || creds.IssuedAt.IsZero() {
		return m
	}
	if half := exp.Sub(creds.IssuedAt) / 2; half < m {
		m = half
	}
	return m
}

// connect ensures credentials, dials, and subscribes.
func (c *Channel) connect(ctx context.Context) (Broker, <-chan error, error) {
	creds, err := c.ensureCredentials(ctx)
	if err != nil {
		return nil, nil, err
	}

	broker, err := c.dial(ctx, creds)
	if err != nil {
		// The token may have been revoked; register again next time.
		c.mu.Lock()
		c.creds = nil
		c.mu.Unlock()
		return nil, nil, err
	}

	lost := make(chan error, 1)
	broker.SetOnDisconnect(func(err error) {
		select {
		case lost <- err:
		default:
		}
	})

	c.mu.Lock()
	c.broker = broker
	c.mu.Unlock()

	for _, topic := range []string{c.topics.DeviceBound(creds.ClientID), c.topics.DirectMethods()} {
		if err := broker.Subscribe(topic, c.cfg.QoS, c.handle); err != nil {
			c.teardown(broker)
			return nil, nil, err
		}
	}

	c.logger.Info("realtime channel subscribed", "host", creds.Host, "mqtt_client_id", creds.ClientID)
	return broker, lost, nil
}

// ensureCredentials returns usable credentials, registering for new ones
// when the held ones are missing or near expiry.
func (c *Channel) ensureCredentials(ctx context.Context) (Credentials, error) {
	c.mu.Lock()
	held := c.creds
	c.mu.Unlock()
	if held != nil && held.UsableAt(c.now(), c.margin(*held)) {
		return *held, nil
	}

	regCtx, cancel := context.WithTimeout(ctx, registrationTimeout)
	defer cancel()

	settings, err := c.source.RegisterMobileDevice(regCtx, c.cfg.TenantID, c.cfg.MobileDeviceID)
	if err != nil {
		return Credentials{}, fmt.Errorf("registering for realtime credentials: %w", err)
	}
	now := c.now()
	creds := CredentialsFromSettings(*settings, now)
	if !creds.Valid() {
		return Credentials{}, ErrInvalidCredentials
	}
	if exp, ok := creds.ExpiresAt(); ok && exp.Sub(now) < minCredentialLifetime {
		return Credentials{}, fmt.Errorf("%w: token expires in %s", ErrInvalidCredentials, exp.Sub(now))
	}

	c.mu.Lock()
	c.creds = &creds
	c.mu.Unlock()

	if exp, ok := creds.ExpiresAt(); ok {
		c.logger.Debug("realtime credentials issued", "expires_at", exp)
	}
	return creds, nil
}

// teardown unsubscribes and closes a broker session.
func (c *Channel) teardown(broker Broker) {
	c.mu.Lock()
	if c.broker == broker {
		c.broker = nil
	}
	c.mu.Unlock()

	broker.SetOnDisconnect(nil)
	if creds, ok := c.Credentials(); ok {
		_ = broker.Unsubscribe(c.topics.DeviceBound(creds.ClientID))
	}
	_ = broker.Unsubscribe(c.topics.DirectMethods())
	if err := broker.Close(); err != nil {
		c.logger.Debug("closing broker session", "error", err)
	}
}

// handle processes one message. It runs on paho's handler goroutines.
func (c *Channel) handle(topic string, payload []byte) error {
	if req, ok := c.topics.ParseMethodRequest(topic); ok {
		c.acknowledge(req)
	}

	c.listenerMu.RLock()
	listeners := c.listeners
	c.listenerMu.RUnlock()
	for _, l := range listeners {
		l(topic, payload)
	}

	u, err := parseTelemetry(payload, c.cfg.DefaultDeviceID)
	if err != nil {
		return err
	}
	if u.fragment.Empty() {
		c.logger.Debug("realtime message carried no state", "topic", topic)
		return nil
	}

	ts := c.nextTimestamp()
	if c.sink.ApplyRealtimeFragment(u.deviceID, u.fragment, ts) {
		c.logger.Debug("realtime update applied", "device_id", u.deviceID)
	}
	return nil
}

// acknowledge replies to a direct-method request.
func (c *Channel) acknowledge(req mqtt.MethodRequest) {
	c.mu.Lock()
	broker := c.broker
	c.mu.Unlock()
	if broker == nil {
		return
	}
	topic := c.topics.MethodResponse(200, req.RequestID)
	if err := broker.Publish(topic, methodAck, c.cfg.QoS); err != nil {
		c.logger.Warn("direct method reply failed", "method", req.Name, "error", err)
	}
}

// nextTimestamp returns a receive time strictly after the previous one.
func (c *Channel) nextTimestamp() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	ts := c.now()
	if !ts.After(c.lastTS) {
		ts = c.lastTS.Add(time.Nanosecond)
	}
	c.lastTS = ts
	return ts
}

// setState records a transition and notifies hooks.
func (c *Channel) setState(s State) {
	c.mu.Lock()
	if c.state == s || c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	c.state = s
	c.mu.Unlock()

	c.logger.Debug("realtime state changed", "state", s.String())
	c.listenerMu.RLock()
	hooks := c.stateHooks
	c.listenerMu.RUnlock()
	for _, h := range hooks {
		h(s)
	}
}

// finish moves the Channel to StateClosed exactly once.
func (c *Channel) finish(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		c.setState(StateClosed)
		if err != nil {
			c.logger.Error("realtime channel closed", "error", err)
		}
		close(c.done)
	})
}

func (c *Channel) nextBackoff(d time.Duration) time.Duration {
	next := time.Duration(float64(d) * c.cfg.BackoffMultiplier)
	if next > c.cfg.MaxBackoff {
		next = c.cfg.MaxBackoff
	}
	return next
}

// jitter spreads d by ±Jitter.
func (c *Channel) jitter(d time.Duration) time.Duration {
	if c.cfg.Jitter == 0 || d <= 0 {
		return d
	}
	spread := float64(d) * c.cfg.Jitter
	return time.Duration(float64(d) - spread + rand.Float64()*2*spread)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
