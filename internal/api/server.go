// Package api provides the local bridge HTTP API and WebSocket server.
//
// It exposes an Anthem client to LAN automation: device discovery, cached
// state, presets, and shower commands, plus a WebSocket channel that
// pushes every merged state change.
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/nerrad567/anthem-core/anthem"
	"github.com/nerrad567/anthem-core/internal/auth"
	"github.com/nerrad567/anthem-core/internal/infrastructure/config"
	"github.com/nerrad567/anthem-core/internal/infrastructure/logging"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight requests
// to complete during shutdown.
const gracefulShutdownTimeout = 10 * time.Second

// WebSocket defaults applied when the configuration leaves them unset.
const (
	defaultWSPath       = "/api/v1/ws"
	defaultPingInterval = 30
	defaultPongTimeout  = 10
)

// Controller is the part of *anthem.Client the API drives.
type Controller interface {
	Store() *anthem.Store
	GetCustomer(ctx context.Context, customerID string) (*anthem.Customer, error)
	GetDeviceState(ctx context.Context, deviceID string) (anthem.DeviceState, error)
	RefreshDeviceState(ctx context.Context, deviceID string) (anthem.DeviceState, error)
	GetPresets(ctx context.Context, deviceID string) (*anthem.PresetList, error)
	TurnOnOutlet(ctx context.Context, deviceID string, outlet anthem.Outlet, temperatureCelsius float64, opts ...anthem.OutletOption) (anthem.CommandResult, error)
	TurnOff(ctx context.Context, deviceID string) (anthem.CommandResult, error)
	Pause(ctx context.Context, deviceID string) (anthem.CommandResult, error)
	SetTemperature(ctx context.Context, deviceID string, temperatureCelsius float64) (anthem.CommandResult, error)
	SetFlow(ctx context.Context, deviceID string, flowPercent float64) (anthem.CommandResult, error)
	StartPreset(ctx context.Context, deviceID, presetID string) (anthem.CommandResult, error)
	StopPreset(ctx context.Context, deviceID, presetID string) (anthem.CommandResult, error)
	StartWarmup(ctx context.Context, deviceID, presetID string) (anthem.CommandResult, error)
	StopWarmup(ctx context.Context, deviceID, presetID string) (anthem.CommandResult, error)
	RealtimeState() anthem.RealtimeState
}

var _ Controller = (*anthem.Client)(nil)

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config     config.APIConfig
	WS         config.WebSocketConfig
	Logger     *logging.Logger
	Controller Controller
	Version    string
}

// Server is the local bridge HTTP server.
//
// It manages the HTTP listener, routes, middleware, and WebSocket hub.
// The server is created with New() and started with Start().
type Server struct {
	cfg      config.APIConfig
	wsCfg    config.WebSocketConfig
	logger   *logging.Logger
	ctrl     Controller
	verifier *auth.Verifier
	version  string
	hub      *Hub
	handler  http.Handler

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
	cancel   context.CancelFunc
}

// New creates a new API server and subscribes its WebSocket hub to the
// controller's state changes.
//
// The server is not started until Start() is called.
//
// Returns:
//   - *Server: Configured server ready to start
//   - error: If a dependency is missing or the API key hash is invalid
func New(deps Deps) (*Server, error) {
	if deps.Logger == nil {
		return nil, fmt.Errorf("logger is required")
	}
	if deps.Controller == nil {
		return nil, fmt.Errorf("controller is required")
	}
	verifier, err := auth.NewVerifier(deps.Config.APIKeyHash)
	if err != nil {
		return nil, fmt.Errorf("api key hash: %w", err)
	}

	ws := deps.WS
	if ws.Path == "" {
		ws.Path = defaultWSPath
	}
	if ws.PingInterval <= 0 {
		ws.PingInterval = defaultPingInterval
	}
	if ws.PongTimeout <= 0 {
		ws.PongTimeout = defaultPongTimeout
	}

	s := &Server{
		cfg:      deps.Config,
		wsCfg:    ws,
		logger:   deps.Logger,
		ctrl:     deps.Controller,
		verifier: verifier,
		version:  deps.Version,
		hub:      NewHub(deps.Logger, deps.Controller.Store()),
	}
	s.handler = s.buildRouter()

	deps.Controller.Store().OnChange(s.hub.BroadcastState)

	return s, nil
}

// Handler returns the server's router.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start begins listening for HTTP connections on the configured address.
// The listener runs in a background goroutine until Close.
//
// Returns:
//   - error: If the address cannot be bound
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}

	srvCtx, cancel := context.WithCancel(ctx)
	go s.hub.Run(srvCtx)

	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       config.Seconds(s.cfg.Timeouts.Read),
		ReadHeaderTimeout: config.Seconds(s.cfg.Timeouts.Read),
		WriteTimeout:      config.Seconds(s.cfg.Timeouts.Write),
		IdleTimeout:       config.Seconds(s.cfg.Timeouts.Idle),
	}

	s.mu.Lock()
	s.server = srv
	s.listener = ln
	s.cancel = cancel
	s.mu.Unlock()

	s.logger.Info("API server listening", "address", ln.Addr().String())
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("API server error", "error", err)
		}
	}()

	return nil
}

// Addr returns the bound listener address, or "" before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Close disconnects WebSocket clients and gracefully shuts down the
// listener, waiting up to 10 seconds for in-flight requests.
//
// Returns:
//   - error: If shutdown encounters an error
func (s *Server) Close() error {
	s.mu.Lock()
	srv, cancel := s.server, s.cancel
	s.server, s.cancel = nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.hub.closeAll()

	if srv == nil {
		return nil
	}

	ctx, shutdownCancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer shutdownCancel()

	s.logger.Info("API server shutting down")
	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutting down API server: %w", err)
	}
	return nil
}
