package anthem

import (
	"context"
	"fmt"

	"github.com/nerrad567/anthem-core/internal/realtime"
)

// StartRealtime connects the realtime channel so pushed state changes are
// merged into the store. The channel reconnects on its own and runs until
// ctx is cancelled or the Client closes.
//
// Returns:
//   - error: ErrNotOpen, ErrClosed, ErrNoTenant or realtime.ErrAlreadyStarted
func (c *Client) StartRealtime(ctx context.Context) error {
	c.mu.Lock()
	if err := c.checkLocked(); err != nil {
		c.mu.Unlock()
		return err
	}
	if c.channel != nil {
		c.mu.Unlock()
		return realtime.ErrAlreadyStarted
	}

	cfg := c.opts.realtime
	if cfg.TenantID == "" {
		cfg.TenantID = c.tenantID
	}
	if cfg.TenantID == "" {
		c.mu.Unlock()
		return ErrNoTenant
	}
	if cfg.DefaultDeviceID == "" && len(c.devices) == 1 {
		for id := range c.devices {
			cfg.DefaultDeviceID = id
		}
	}

	opts := []realtime.Option{
		realtime.WithLogger(c.logger),
		realtime.WithClock(c.opts.now),
	}
	if c.opts.dialer != nil {
		opts = append(opts, realtime.WithDialer(c.opts.dialer))
	}
	ch, err := realtime.New(cfg, c.gateway, c.store, opts...)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("anthem: creating realtime channel: %w", err)
	}
	c.channel = ch
	c.mu.Unlock()

	runCtx, stop := c.readContext(ctx)
	go func() {
		<-ch.Done()
		stop()
	}()
	if err := ch.Start(runCtx); err != nil {
		stop()
		return err
	}
	c.logger.Info("realtime channel started", "customer_id", cfg.TenantID)
	return nil
}

// RealtimeState returns the realtime channel's state, or
// RealtimeDisconnected if it was never started.
func (c *Client) RealtimeState() RealtimeState {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		return RealtimeDisconnected
	}
	return ch.State()
}

// RealtimeErr returns why the realtime channel gave up, or nil.
func (c *Client) RealtimeErr() error {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch == nil {
		return nil
	}
	return ch.Err()
}

// OnRealtimeMessage registers a listener for raw realtime messages.
// It has no effect before StartRealtime.
func (c *Client) OnRealtimeMessage(l func(topic string, payload []byte)) {
	c.mu.Lock()
	ch := c.channel
	c.mu.Unlock()
	if ch != nil {
		ch.OnMessage(l)
	}
}
