package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// validAnthem returns credentials that pass validation.
func validAnthem() AnthemConfig {
	return AnthemConfig{
		Username:            "user@example.com",
		Password:            "secret",
		ClientID:            "client-123",
		APIMSubscriptionKey: "apim-key",
		APIResource:         "api-resource",
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
anthem:
  username: "user@example.com"
  password: "secret"
  client_id: "client-123"
  apim_subscription_key: "apim-key"
  api_resource: "api-resource"
  outlet_valves:
    tub_filler: 2
realtime:
  enabled: false
  mobile_device_id: "abc123"
state:
  freshness: 10
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Anthem.Username != "user@example.com" {
		t.Errorf("Anthem.Username = %q, want %q", cfg.Anthem.Username, "user@example.com")
	}
	if cfg.Anthem.OutletValves["tub_filler"] != 2 {
		t.Errorf("Anthem.OutletValves[tub_filler] = %d, want 2", cfg.Anthem.OutletValves["tub_filler"])
	}
	if cfg.Realtime.Enabled {
		t.Error("Realtime.Enabled = true, want false from file")
	}
	if cfg.Realtime.MobileDeviceID != "abc123" {
		t.Errorf("Realtime.MobileDeviceID = %q, want %q", cfg.Realtime.MobileDeviceID, "abc123")
	}
	if cfg.State.Freshness != 10 {
		t.Errorf("State.Freshness = %d, want 10", cfg.State.Freshness)
	}
	// Untouched sections keep their defaults.
	if cfg.REST.Timeout != 30 {
		t.Errorf("REST.Timeout = %d, want default 30", cfg.REST.Timeout)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	configPath := writeConfig(t, `
anthem:
  username: "user@example.com"
`)

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Load() expected validation error for missing credentials, got nil")
	}
	for _, field := range []string{"anthem.password", "anthem.client_id", "anthem.apim_subscription_key", "anthem.api_resource"} {
		if !strings.Contains(err.Error(), field) {
			t.Errorf("Load() error = %v, want mention of %s", err, field)
		}
	}
}

func TestLoad_EnvSuppliesSecrets(t *testing.T) {
	configPath := writeConfig(t, `
anthem:
  username: "user@example.com"
  client_id: "client-123"
  api_resource: "api-resource"
`)
	t.Setenv("ANTHEM_PASSWORD", "from-env")
	t.Setenv("ANTHEM_APIM_SUBSCRIPTION_KEY", "key-from-env")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Anthem.Password != "from-env" {
		t.Errorf("Anthem.Password = %q, want %q", cfg.Anthem.Password, "from-env")
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing username",
			mutate:  func(c *Config) { c.Anthem.Username = "" },
			wantErr: true,
		},
		{
			name:    "missing subscription key",
			mutate:  func(c *Config) { c.Anthem.APIMSubscriptionKey = "" },
			wantErr: true,
		},
		{
			name:    "outlet valve out of range",
			mutate:  func(c *Config) { c.Anthem.OutletValves = map[string]int{"tub_filler": 8} },
			wantErr: true,
		},
		{
			name:    "invalid QoS",
			mutate:  func(c *Config) { c.Realtime.QoS = 3 },
			wantErr: true,
		},
		{
			name:    "negative freshness",
			mutate:  func(c *Config) { c.State.Freshness = -1 },
			wantErr: true,
		},
		{
			name: "api enabled without key hash",
			mutate: func(c *Config) {
				c.API.Enabled = true
			},
			wantErr: true,
		},
		{
			name: "api enabled with invalid port",
			mutate: func(c *Config) {
				c.API.Enabled = true
				c.API.APIKeyHash = "$argon2id$v=19$m=65536,t=3,p=4$c2FsdA$aGFzaA"
				c.API.Port = 70000
			},
			wantErr: true,
		},
		{
			name: "api enabled",
			mutate: func(c *Config) {
				c.API.Enabled = true
				c.API.APIKeyHash = "$argon2id$v=19$m=65536,t=3,p=4$c2FsdA$aGFzaA"
			},
			wantErr: false,
		},
		{
			name: "api disabled ignores port",
			mutate: func(c *Config) {
				c.API.Port = 0
			},
			wantErr: false,
		},
		{
			name:    "influxdb enabled without url",
			mutate:  func(c *Config) { c.InfluxDB.Enabled = true },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			cfg.Anthem = validAnthem()
			tt.mutate(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := defaultConfig()

	t.Setenv("ANTHEM_USERNAME", "env-user")
	t.Setenv("ANTHEM_PASSWORD", "env-pass")
	t.Setenv("ANTHEM_CLIENT_ID", "env-client")
	t.Setenv("ANTHEM_APIM_SUBSCRIPTION_KEY", "env-key")
	t.Setenv("ANTHEM_API_RESOURCE", "env-resource")
	t.Setenv("ANTHEM_CUSTOMER_ID", "env-customer")
	t.Setenv("ANTHEM_API_KEY_HASH", "env-hash")
	t.Setenv("ANTHEM_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("ANTHEM_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	checks := []struct {
		name string
		got  string
		want string
	}{
		{"Anthem.Username", cfg.Anthem.Username, "env-user"},
		{"Anthem.Password", cfg.Anthem.Password, "env-pass"},
		{"Anthem.ClientID", cfg.Anthem.ClientID, "env-client"},
		{"Anthem.APIMSubscriptionKey", cfg.Anthem.APIMSubscriptionKey, "env-key"},
		{"Anthem.APIResource", cfg.Anthem.APIResource, "env-resource"},
		{"Anthem.CustomerID", cfg.Anthem.CustomerID, "env-customer"},
		{"API.APIKeyHash", cfg.API.APIKeyHash, "env-hash"},
		{"InfluxDB.Token", cfg.InfluxDB.Token, "secret-token"},
		{"Logging.Level", cfg.Logging.Level, "debug"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %q, want %q", c.name, c.got, c.want)
		}
	}
}

func TestPathFromEnv(t *testing.T) {
	t.Setenv("ANTHEM_CONFIG", "")
	if got := PathFromEnv(); got != DefaultPath {
		t.Errorf("PathFromEnv() = %q, want %q", got, DefaultPath)
	}

	t.Setenv("ANTHEM_CONFIG", "/etc/anthem.yaml")
	if got := PathFromEnv(); got != "/etc/anthem.yaml" {
		t.Errorf("PathFromEnv() = %q, want %q", got, "/etc/anthem.yaml")
	}
}

func TestDefaultConfig(t *testing.T) {
	cfg := defaultConfig()

	if !cfg.Realtime.Enabled {
		t.Error("defaultConfig should enable realtime")
	}

	if cfg.State.Freshness != 30 {
		t.Errorf("defaultConfig State.Freshness = %d, want 30", cfg.State.Freshness)
	}

	if cfg.API.Enabled {
		t.Error("defaultConfig should leave the API disabled")
	}

	if cfg.API.Port != 8080 {
		t.Errorf("defaultConfig API.Port = %d, want 8080", cfg.API.Port)
	}
}

func TestDurationHelpers(t *testing.T) {
	if got := Seconds(30); got != 30*time.Second {
		t.Errorf("Seconds(30) = %v, want 30s", got)
	}
	if got := Milliseconds(250); got != 250*time.Millisecond {
		t.Errorf("Milliseconds(250) = %v, want 250ms", got)
	}
}
