package anthem

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/anthem-core/internal/realtime"
	"github.com/nerrad567/anthem-core/internal/rest"
	"github.com/nerrad567/anthem-core/internal/session"
	"github.com/nerrad567/anthem-core/internal/state"
)

// deviceInfo is what commands need to address a device.
type deviceInfo struct {
	tenantID string
	sku      string
}

// Client is a session with the vendor cloud.
// It is safe for concurrent use.
type Client struct {
	opts       options
	httpClient *http.Client
	session    *session.Manager
	gateway    *rest.Gateway
	store      *state.Store
	logger     Logger

	// life is cancelled by Close; reads derive from it.
	life   context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	opened   bool
	closed   bool
	tenantID string
	devices  map[string]deviceInfo
	channel  *realtime.Channel

	commands sync.WaitGroup
}

// New creates a Client. No network traffic happens until Open.
//
// Parameters:
//   - creds: User and application credentials
//   - opts: Optional configuration
//
// Returns:
//   - *Client: Ready to open
//   - error: ErrMissingCredentials if required fields are empty
func New(creds Credentials, opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	httpClient := o.httpClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: o.timeout,
			Transport: &http.Transport{
				Proxy:               http.ProxyFromEnvironment,
				MaxIdleConns:        20,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		}
	}

	sessOpts := []session.Option{
		session.WithHTTPClient(httpClient),
		session.WithLogger(o.logger),
		session.WithClock(o.now),
	}
	if o.tokenURL != "" {
		sessOpts = append(sessOpts, session.WithTokenURL(o.tokenURL))
	}
	if o.expiryMargin > 0 {
		sessOpts = append(sessOpts, session.WithExpiryMargin(o.expiryMargin))
	}
	if o.sessionRetry != nil {
		sessOpts = append(sessOpts, session.WithRetry(*o.sessionRetry))
	}
	sess, err := session.New(creds, sessOpts...)
	if err != nil {
		return nil, err
	}

	gwOpts := []rest.Option{
		rest.WithHTTPClient(httpClient),
		rest.WithLogger(o.logger),
		rest.WithClock(o.now),
	}
	if o.baseURL != "" {
		gwOpts = append(gwOpts, rest.WithBaseURL(o.baseURL))
	}
	if o.restRetry != nil {
		gwOpts = append(gwOpts, rest.WithRetry(*o.restRetry))
	}
	if o.requestLogging {
		gwOpts = append(gwOpts, rest.WithRequestLogging())
	}

	store := state.NewStore()
	store.SetLogger(o.logger)

	life, cancel := context.WithCancel(context.Background())
	return &Client{
		opts:       o,
		httpClient: httpClient,
		session:    sess,
		gateway:    rest.New(sess, gwOpts...),
		store:      store,
		logger:     o.logger,
		life:       life,
		cancel:     cancel,
		tenantID:   o.customerID,
		devices:    make(map[string]deviceInfo),
	}, nil
}

// Open authenticates and readies the Client. Calling Open on an open
// Client is a no-op.
//
// Returns:
//   - error: ErrClosed, ErrAuthentication, ErrTransientAuth or a timeout
func (c *Client) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.opened {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	ctx, done := c.readContext(ctx)
	defer done()

	if _, err := c.session.EnsureToken(ctx); err != nil {
		return fmt.Errorf("anthem: opening session: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.tenantID == "" {
		id, err := c.session.CustomerID()
		if err != nil {
			c.logger.Debug("customer id not available from id_token", "error", err)
		} else {
			c.tenantID = id
		}
	}
	c.opened = true
	c.logger.Info("anthem session opened", "customer_id", c.tenantID)
	return nil
}

// Close stops the realtime channel, cancels pending reads, waits for
// in-flight commands and releases pooled connections. It is safe to call
// more than once.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	ch := c.channel
	c.mu.Unlock()

	c.cancel()

	var errs []error
	if ch != nil {
		if err := ch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing realtime channel: %w", err))
		}
	}

	c.commands.Wait()
	c.httpClient.CloseIdleConnections()

	c.logger.Info("anthem session closed")
	return errors.Join(errs...)
}

// CustomerID returns the customer (tenant) id in use, or "" if unknown.
func (c *Client) CustomerID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tenantID
}

// Store returns the state store, for registering change listeners.
func (c *Client) Store() *Store {
	return c.store
}

// checkLocked reports whether the Client may be used. Caller holds c.mu.
func (c *Client) checkLocked() error {
	if c.closed {
		return ErrClosed
	}
	if !c.opened {
		return ErrNotOpen
	}
	return nil
}

func (c *Client) check() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.checkLocked()
}

// readContext derives a context that also ends when the Client closes.
func (c *Client) readContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(ctx)
	stop := context.AfterFunc(c.life, func() {
		cancel(ErrClosed)
	})
	return ctx, func() {
		stop()
		cancel(nil)
	}
}

// closedError reports ErrClosed when err came from the Client closing
// underneath a read.
func (c *Client) closedError(ctx context.Context, err error) error {
	if err != nil && errors.Is(context.Cause(ctx), ErrClosed) {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return err
}

// remember records a device's addressing details.
func (c *Client) remember(deviceID, tenantID, sku string) {
	if deviceID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	info := c.devices[deviceID]
	if tenantID != "" {
		info.tenantID = tenantID
	}
	if sku != "" {
		info.sku = sku
	}
	c.devices[deviceID] = info
}

// target builds the command address for a device.
func (c *Client) target(deviceID string) (rest.Target, error) {
	c.mu.Lock()
	info := c.devices[deviceID]
	tenant := c.tenantID
	c.mu.Unlock()

	if info.tenantID != "" {
		tenant = info.tenantID
	}
	if tenant == "" {
		return rest.Target{}, ErrNoTenant
	}
	t := rest.Target{TenantID: tenant, DeviceID: deviceID, SKU: info.sku}
	if err := t.Validate(); err != nil {
		return rest.Target{}, err
	}
	return t, nil
}

// GetCustomer fetches the customer's homes and devices and registers every
// device with the state store. An empty customerID uses the Client's
// customer id.
//
// Returns:
//   - *Customer: The account snapshot
//   - error: ErrNoTenant, ErrDeviceNotFound or a transport error
func (c *Client) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	if err := c.check(); err != nil {
		return nil, err
	}
	if customerID == "" {
		customerID = c.CustomerID()
		if customerID == "" {
			return nil, ErrNoTenant
		}
	}

	ctx, done := c.readContext(ctx)
	defer done()

	cust, err := c.gateway.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, c.closedError(ctx, err)
	}

	c.mu.Lock()
	if c.tenantID == "" {
		c.tenantID = cust.TenantID
	}
	c.mu.Unlock()

	for _, d := range cust.Devices() {
		c.remember(d.DeviceID, cust.TenantID, d.SKU)
		c.store.Observe(d.DeviceID)
	}
	return cust, nil
}

// DiscoverDevices lists the customer's devices and polls each one's state
// so the store holds a baseline for all of them.
//
// Returns:
//   - []Device: Every device across all homes
//   - error: The first discovery or poll failure
func (c *Client) DiscoverDevices(ctx context.Context) ([]Device, error) {
	cust, err := c.GetCustomer(ctx, "")
	if err != nil {
		return nil, err
	}
	devices := cust.Devices()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.concurrency)
	for _, d := range devices {
		g.Go(func() error {
			_, err := c.poll(gctx, d.DeviceID)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	c.logger.Info("devices discovered", "count", len(devices))
	return devices, nil
}

// GetDeviceState returns the merged state of a device. The API is polled
// only when the cached state is older than the freshness threshold or no
// state has been seen yet.
//
// Returns:
//   - DeviceState: A copy of the merged state
//   - error: ErrDeviceNotFound, ErrProtocol or a transport error
func (c *Client) GetDeviceState(ctx context.Context, deviceID string) (DeviceState, error) {
	if err := c.check(); err != nil {
		return DeviceState{}, err
	}
	if deviceID == "" {
		return DeviceState{}, fmt.Errorf("%w: device id is required", ErrInvalidArgument)
	}

	if age, ok := c.store.Age(deviceID, c.opts.now()); ok && age <= c.opts.freshness {
		return c.store.Get(deviceID)
	}
	return c.poll(ctx, deviceID)
}

// RefreshDeviceState polls the API regardless of how fresh the cache is.
func (c *Client) RefreshDeviceState(ctx context.Context, deviceID string) (DeviceState, error) {
	if err := c.check(); err != nil {
		return DeviceState{}, err
	}
	return c.poll(ctx, deviceID)
}

// poll fetches the device's state and merges it at the time the request
// was issued, so a push that arrived during the round trip wins.
func (c *Client) poll(ctx context.Context, deviceID string) (DeviceState, error) {
	ctx, done := c.readContext(ctx)
	defer done()

	issued := c.opts.now()
	status, err := c.gateway.GetDeviceState(ctx, deviceID)
	if err != nil {
		return DeviceState{}, c.closedError(ctx, err)
	}

	c.remember(deviceID, status.TenantID, status.SKU)
	c.store.ApplyRestState(deviceID, status.State, issued)
	return c.store.Get(deviceID)
}

// GetPresets lists the presets and experiences stored on a device.
func (c *Client) GetPresets(ctx context.Context, deviceID string) (*PresetList, error) {
	if err := c.check(); err != nil {
		return nil, err
	}

	ctx, done := c.readContext(ctx)
	defer done()

	list, err := c.gateway.GetPresets(ctx, deviceID)
	if err != nil {
		return nil, c.closedError(ctx, err)
	}
	c.remember(deviceID, list.TenantID, list.SKU)
	return list, nil
}
