// Anthem Bridge - Kohler Anthem digital shower cloud bridge
//
// This is the main entry point for the Anthem bridge daemon. It signs in to
// the vendor cloud, discovers the account's showers, keeps their state
// current through the realtime channel and periodic polling, and optionally:
//   - Serves a local HTTP API and WebSocket feed for home automation
//   - Exports every state change to InfluxDB
//
// Usage:
//
//	anthem              run the bridge (config from ANTHEM_CONFIG)
//	anthem hash-key [k] print an API key and its argon2id hash
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/anthem-core/anthem"
	"github.com/nerrad567/anthem-core/internal/api"
	"github.com/nerrad567/anthem-core/internal/auth"
	"github.com/nerrad567/anthem-core/internal/infrastructure/config"
	"github.com/nerrad567/anthem-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/anthem-core/internal/infrastructure/logging"
	"github.com/nerrad567/anthem-core/internal/realtime"
	"github.com/nerrad567/anthem-core/internal/rest"
	"github.com/nerrad567/anthem-core/internal/session"
	"github.com/nerrad567/anthem-core/internal/valve"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// backoffMultiplier grows retry delays for every configured retry policy.
const backoffMultiplier = 2.0

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-key" {
		if err := hashKey(os.Args[2:], os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// hashKey prints an API key and the hash to put in api.api_key_hash.
// A fresh key is generated when none is given.
func hashKey(args []string, w io.Writer) error {
	if len(args) > 1 {
		return errors.New("usage: anthem hash-key [key]")
	}

	var key string
	if len(args) == 1 {
		key = args[0]
	} else {
		generated, err := auth.GenerateKey()
		if err != nil {
			return err
		}
		key = generated
	}

	hash, err := auth.HashKey(key)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "api key:      %s\napi_key_hash: %s\n", key, hash)
	return nil
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default()
	log.Info("starting Anthem bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := config.PathFromEnv()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	opts, err := clientOptions(cfg, log.Component("anthem"))
	if err != nil {
		return err
	}
	client, err := anthem.New(credentials(cfg.Anthem), opts...)
	if err != nil {
		return fmt.Errorf("creating client: %w", err)
	}
	defer func() {
		log.Info("closing Anthem client")
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error closing Anthem client", "error", closeErr)
		}
	}()

	if openErr := client.Open(ctx); openErr != nil {
		return fmt.Errorf("signing in: %w", openErr)
	}
	log.Info("signed in", "customer_id", client.CustomerID())

	// Connect to InfluxDB (optional) before discovery so the first
	// snapshots are exported.
	if cfg.InfluxDB.Enabled {
		influxClient, influxErr := influxdb.Connect(ctx, cfg.InfluxDB)
		if influxErr != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", influxErr)
		}
		defer func() {
			log.Info("closing InfluxDB")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		client.Store().OnChange(influxdb.NewExporter(influxClient).Listener())
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	}

	devices, err := client.DiscoverDevices(ctx)
	if err != nil {
		return fmt.Errorf("discovering devices: %w", err)
	}
	log.Info("devices discovered", "count", len(devices))

	if cfg.Realtime.Enabled {
		if rtErr := client.StartRealtime(ctx); rtErr != nil {
			log.Warn("realtime channel not started, relying on polling", "error", rtErr)
		} else {
			log.Info("realtime channel started")
		}
	}

	if cfg.State.PollInterval > 0 {
		go pollDevices(ctx, client, config.Seconds(cfg.State.PollInterval), log.Component("poller"))
	}

	if cfg.API.Enabled {
		server, apiErr := api.New(api.Deps{
			Config:     cfg.API,
			WS:         cfg.WebSocket,
			Logger:     log.Component("api"),
			Controller: client,
			Version:    version,
		})
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := server.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
	}

	log.Info("Anthem bridge started")

	<-ctx.Done()

	log.Info("shutting down Anthem bridge")
	return nil
}

// credentials maps the account section of the configuration.
func credentials(cfg config.AnthemConfig) anthem.Credentials {
	return anthem.Credentials{
		Username:            cfg.Username,
		Password:            cfg.Password,
		ClientID:            cfg.ClientID,
		APIMSubscriptionKey: cfg.APIMSubscriptionKey,
		APIResource:         cfg.APIResource,
		AuthTenant:          cfg.AuthTenant,
		AuthPolicy:          cfg.AuthPolicy,
	}
}

// clientOptions translates the configuration into client options.
//
// Returns:
//   - []anthem.Option: Options for anthem.New
//   - error: If an outlet_valves key names no known outlet
func clientOptions(cfg *config.Config, logger anthem.Logger) ([]anthem.Option, error) {
	opts := []anthem.Option{
		anthem.WithLogger(logger),
		anthem.WithTimeout(config.Seconds(cfg.REST.Timeout)),
		anthem.WithExpiryMargin(config.Seconds(cfg.Session.ExpiryMargin)),
		anthem.WithFreshness(config.Seconds(cfg.State.Freshness)),
		anthem.WithDiscoveryConcurrency(cfg.State.DiscoveryConcurrency),
		anthem.WithRetry(rest.RetryConfig{
			MaxAttempts:    cfg.REST.Retry.MaxAttempts,
			InitialBackoff: config.Milliseconds(cfg.REST.Retry.InitialBackoff),
			MaxBackoff:     config.Milliseconds(cfg.REST.Retry.MaxBackoff),
			Multiplier:     backoffMultiplier,
		}),
		anthem.WithTokenRetry(session.RetryConfig{
			MaxAttempts:    cfg.Session.Retry.MaxAttempts,
			InitialBackoff: config.Milliseconds(cfg.Session.Retry.InitialBackoff),
			MaxBackoff:     config.Milliseconds(cfg.Session.Retry.MaxBackoff),
			Multiplier:     backoffMultiplier,
		}),
		anthem.WithRealtimeConfig(realtime.Config{
			MobileDeviceID:         cfg.Realtime.MobileDeviceID,
			DefaultDeviceID:        cfg.Realtime.DefaultDeviceID,
			InitialBackoff:         config.Seconds(cfg.Realtime.Reconnect.InitialDelay),
			MaxBackoff:             config.Seconds(cfg.Realtime.Reconnect.MaxDelay),
			BackoffMultiplier:      backoffMultiplier,
			MaxConsecutiveFailures: cfg.Realtime.Reconnect.MaxAttempts,
			CredentialMargin:       config.Seconds(cfg.Realtime.CredentialMargin),
			QoS:                    byte(cfg.Realtime.QoS), // #nosec G115 -- Validate bounds QoS to 0-2
		}),
	}

	if cfg.Anthem.CustomerID != "" {
		opts = append(opts, anthem.WithCustomerID(cfg.Anthem.CustomerID))
	}
	if cfg.Anthem.BaseURL != "" {
		opts = append(opts, anthem.WithBaseURL(cfg.Anthem.BaseURL))
	}
	if cfg.Anthem.TokenURL != "" {
		opts = append(opts, anthem.WithTokenURL(cfg.Anthem.TokenURL))
	}
	if cfg.REST.RequestLogging {
		opts = append(opts, anthem.WithRequestLogging())
	}

	for name, n := range cfg.Anthem.OutletValves {
		outlet, err := valve.ParseOutlet(name)
		if err != nil {
			return nil, fmt.Errorf("anthem.outlet_valves: %w", err)
		}
		opts = append(opts, anthem.WithOutletValve(outlet, n))
	}

	return opts, nil
}

// refresher is the part of *anthem.Client the poller drives.
type refresher interface {
	Store() *anthem.Store
	RefreshDeviceState(ctx context.Context, deviceID string) (anthem.DeviceState, error)
}

// pollDevices refreshes every known device each interval until ctx is
// cancelled. Failures are logged and retried on the next tick.
func pollDevices(ctx context.Context, r refresher, interval time.Duration, log *logging.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range r.Store().Devices() {
				if _, err := r.RefreshDeviceState(ctx, id); err != nil {
					if ctx.Err() != nil {
						return
					}
					log.Warn("polling device state failed", "device_id", id, "error", err)
				}
			}
		}
	}
}
