package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is used when ANTHEM_CONFIG is not set.
const DefaultPath = "configs/config.yaml"

// Config is the root configuration structure for the Anthem bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Anthem    AnthemConfig    `yaml:"anthem"`
	Session   SessionConfig   `yaml:"session"`
	REST      RESTConfig      `yaml:"rest"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	State     StateConfig     `yaml:"state"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AnthemConfig contains the cloud account and application credentials.
type AnthemConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`

	// ClientID, APIMSubscriptionKey and APIResource are the values the
	// vendor's mobile app uses.
	ClientID            string `yaml:"client_id"`
	APIMSubscriptionKey string `yaml:"apim_subscription_key"`
	APIResource         string `yaml:"api_resource"`

	// AuthTenant and AuthPolicy fall back to the vendor defaults when empty.
	AuthTenant string `yaml:"auth_tenant"`
	AuthPolicy string `yaml:"auth_policy"`

	// CustomerID is read from the id_token when empty.
	CustomerID string `yaml:"customer_id"`

	BaseURL  string `yaml:"base_url"`
	TokenURL string `yaml:"token_url"`

	// OutletValves drives a secondary valve (1-7) whenever the named outlet
	// is turned on, e.g. {tub_filler: 2}.
	OutletValves map[string]int `yaml:"outlet_valves"`
}

// RetryConfig contains retry settings for transient failures.
type RetryConfig struct {
	MaxAttempts    int `yaml:"max_attempts"`
	InitialBackoff int `yaml:"initial_backoff_ms"`
	MaxBackoff     int `yaml:"max_backoff_ms"`
}

// SessionConfig contains OAuth session settings.
type SessionConfig struct {
	// ExpiryMargin is how many seconds before expiry a token is replaced.
	ExpiryMargin int         `yaml:"expiry_margin"`
	Retry        RetryConfig `yaml:"retry"`
}

// RESTConfig contains cloud API client settings.
type RESTConfig struct {
	// Timeout bounds each HTTP round trip in seconds.
	Timeout        int         `yaml:"timeout"`
	Retry          RetryConfig `yaml:"retry"`
	RequestLogging bool        `yaml:"request_logging"`
}

// RealtimeConfig contains realtime channel settings.
type RealtimeConfig struct {
	Enabled bool `yaml:"enabled"`

	// MobileDeviceID is generated when empty. Setting it keeps the same
	// registration across restarts.
	MobileDeviceID  string                  `yaml:"mobile_device_id"`
	DefaultDeviceID string                  `yaml:"default_device_id"`
	QoS             int                     `yaml:"qos"`
	Reconnect       RealtimeReconnectConfig `yaml:"reconnect"`

	// CredentialMargin is how many seconds before SAS expiry credentials are replaced.
	CredentialMargin int `yaml:"credential_margin"`
}

// RealtimeReconnectConfig contains reconnection settings.
type RealtimeReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	// MaxAttempts is the consecutive failure threshold; 0 retries forever.
	MaxAttempts int `yaml:"max_attempts"`
}

// StateConfig contains state cache settings.
type StateConfig struct {
	// Freshness is how many seconds cached state is served before polling.
	Freshness int `yaml:"freshness"`

	// PollInterval polls every device this often in seconds; 0 disables
	// background polling.
	PollInterval int `yaml:"poll_interval"`

	DiscoveryConcurrency int `yaml:"discovery_concurrency"`
}

// APIConfig contains local HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`

	// APIKeyHash is the argon2id PHC hash of the bearer key clients must
	// present. Generate it with "anthem hash-key".
	APIKeyHash string `yaml:"api_key_hash"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ANTHEM_KEY
// For example: ANTHEM_USERNAME, ANTHEM_APIM_SUBSCRIPTION_KEY
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// PathFromEnv returns ANTHEM_CONFIG, or DefaultPath when it is unset.
func PathFromEnv() string {
	if v := os.Getenv("ANTHEM_CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Session: SessionConfig{
			ExpiryMargin: 300,
			Retry: RetryConfig{
				MaxAttempts:    3,
				InitialBackoff: 200,
				MaxBackoff:     5000,
			},
		},
		REST: RESTConfig{
			Timeout: 30,
			Retry: RetryConfig{
				MaxAttempts:    3,
				InitialBackoff: 250,
				MaxBackoff:     4000,
			},
		},
		Realtime: RealtimeConfig{
			Enabled: true,
			QoS:     1,
			Reconnect: RealtimeReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     120,
				MaxAttempts:  10,
			},
			CredentialMargin: 300,
		},
		State: StateConfig{
			Freshness:            30,
			PollInterval:         300,
			DiscoveryConcurrency: 4,
		},
		API: APIConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/api/v1/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "anthem",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Secrets should always be supplied this way rather than in the file.
func applyEnvOverrides(cfg *Config) {
	overrides := []struct {
		env    string
		target *string
	}{
		{"ANTHEM_USERNAME", &cfg.Anthem.Username},
		{"ANTHEM_PASSWORD", &cfg.Anthem.Password},
		{"ANTHEM_CLIENT_ID", &cfg.Anthem.ClientID},
		{"ANTHEM_APIM_SUBSCRIPTION_KEY", &cfg.Anthem.APIMSubscriptionKey},
		{"ANTHEM_API_RESOURCE", &cfg.Anthem.APIResource},
		{"ANTHEM_CUSTOMER_ID", &cfg.Anthem.CustomerID},
		{"ANTHEM_API_KEY_HASH", &cfg.API.APIKeyHash},
		{"ANTHEM_INFLUXDB_TOKEN", &cfg.InfluxDB.Token},
		{"ANTHEM_LOG_LEVEL", &cfg.Logging.Level},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Credentials
	required := []struct {
		name  string
		value string
	}{
		{"anthem.username", c.Anthem.Username},
		{"anthem.password", c.Anthem.Password},
		{"anthem.client_id", c.Anthem.ClientID},
		{"anthem.apim_subscription_key", c.Anthem.APIMSubscriptionKey},
		{"anthem.api_resource", c.Anthem.APIResource},
	}
	for _, r := range required {
		if r.value == "" {
			errs = append(errs, r.name+" is required")
		}
	}
	for outlet, n := range c.Anthem.OutletValves {
		if n < 1 || n > 7 {
			errs = append(errs, fmt.Sprintf("anthem.outlet_valves.%s must be between 1 and 7", outlet))
		}
	}

	// Realtime
	if c.Realtime.QoS < 0 || c.Realtime.QoS > 2 {
		errs = append(errs, "realtime.qos must be 0, 1, or 2")
	}

	// State
	if c.State.Freshness < 0 {
		errs = append(errs, "state.freshness must not be negative")
	}

	// API
	if c.API.Enabled {
		if c.API.Port < 1 || c.API.Port > 65535 {
			errs = append(errs, "api.port must be between 1 and 65535")
		}
		// The API controls physical valves; it never runs unauthenticated.
		if c.API.APIKeyHash == "" {
			errs = append(errs, "api.api_key_hash is required when the API is enabled (set ANTHEM_API_KEY_HASH)")
		}
	}

	// InfluxDB
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when InfluxDB is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// Seconds converts a whole-second setting to a Duration.
func Seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Milliseconds converts a millisecond setting to a Duration.
func Milliseconds(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
