package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Connection constants.
const (
	// DefaultPort is the IoT Hub MQTT-over-TLS port.
	DefaultPort = 8883

	// defaultConnectTimeout is the maximum time to wait for a connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// protocolVersion selects MQTT 3.1.1, the only version IoT Hub accepts.
	protocolVersion = 4

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Settings describe one broker connection.
type Settings struct {
	// Host is the broker hostname.
	Host string
	// Port defaults to DefaultPort.
	Port int
	// ClientID must match the IoT Hub device id.
	ClientID string
	Username string
	Password string

	// Insecure disables TLS. Only for local test brokers.
	Insecure bool

	// KeepAlive defaults to 60s.
	KeepAlive time.Duration
	// ConnectTimeout defaults to 10s.
	ConnectTimeout time.Duration
}

// Validate checks the settings name a broker and client.
func (s Settings) Validate() error {
	if s.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidSettings)
	}
	if s.ClientID == "" {
		return fmt.Errorf("%w: client id is required", ErrInvalidSettings)
	}
	if s.Port < 0 || s.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidSettings, s.Port)
	}
	return nil
}

// BrokerURL returns the paho broker URL for the settings.
func (s Settings) BrokerURL() string {
	scheme := "ssl"
	if s.Insecure {
		scheme = "tcp"
	}
	port := s.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("%s://%s:%d", scheme, s.Host, port)
}

// buildClientOptions creates paho MQTT options from Settings.
//
// This configures:
//   - Broker URL (ssl:// unless Insecure)
//   - Client ID and credentials
//   - MQTT 3.1.1 with a clean session
//   - No automatic reconnection (the SAS password expires)
//   - Unordered delivery so slow handlers never block the keepalive
func buildClientOptions(s Settings) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()
	opts.AddBroker(s.BrokerURL())

	opts.SetClientID(s.ClientID)
	if s.Username != "" {
		opts.SetUsername(s.Username)
		opts.SetPassword(s.Password)
	}

	opts.SetProtocolVersion(protocolVersion)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)
	opts.SetOrderMatters(false)

	connectTimeout := s.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	opts.SetConnectTimeout(connectTimeout)

	keepAlive := s.KeepAlive
	if keepAlive <= 0 {
		keepAlive = defaultKeepAlive
	}
	opts.SetKeepAlive(keepAlive)

	if !s.Insecure {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
			ServerName: s.Host,
		})
	}

	return opts
}
