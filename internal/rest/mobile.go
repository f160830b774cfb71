package rest

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Registration constants sent with the mobile settings request.
const (
	mobileUsername       = "HomeAssistant"
	mobileOS             = "Android"
	mobileDevicePlatform = "FirebaseCloudMessagingV1"
	mobileHandlePrefix   = "ha_"
	mobileTag            = "FirmwareUpdate"

	// mobileDeviceIDLength is the length of generated mobile device ids.
	mobileDeviceIDLength = 16
)

// IoTHubSettings are the broker credentials issued to a registered client.
type IoTHubSettings struct {
	// Host is the IoT Hub hostname.
	Host string `json:"host"`
	// DeviceID is the MQTT client id.
	DeviceID         string `json:"device_id"`
	ConnectionString string `json:"-"`
	Username         string `json:"username"`
	// Password is a SAS token with an se= expiry.
	Password string `json:"-"`
}

// Valid reports whether the settings carry everything needed to connect.
func (s IoTHubSettings) Valid() bool {
	return s.Host != "" && s.DeviceID != "" && s.Username != "" && s.Password != ""
}

type mobileSettingsBody struct {
	TenantID       string   `json:"tenantId"`
	MobileDeviceID string   `json:"mobileDeviceId"`
	Username       string   `json:"username"`
	OS             string   `json:"os"`
	DevicePlatform string   `json:"devicePlatform"`
	DeviceHandle   string   `json:"deviceHandle"`
	Tags           []string `json:"tags"`
}

type mobileSettingsWire struct {
	IoTHubSettings *struct {
		IoTHub           string `json:"ioTHub"`
		DeviceID         string `json:"deviceId"`
		ConnectionString string `json:"connectionString"`
		Username         string `json:"username"`
		Password         string `json:"password"`
	} `json:"ioTHubSettings"`
}

// NewMobileDeviceID generates an identifier for RegisterMobileDevice.
func NewMobileDeviceID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:mobileDeviceIDLength]
}

// RegisterMobileDevice registers this client for push updates and returns
// the IoT Hub credentials for the realtime channel.
//
// Registration is a write and is not retried on transient failures.
//
// Parameters:
//   - ctx: Context for cancellation and deadline
//   - tenantID: The customer id
//   - mobileDeviceID: Client identifier; generated when empty
//
// Returns:
//   - *IoTHubSettings: Broker host and credentials
//   - error: ErrProtocol if the response has no usable settings
func (g *Gateway) RegisterMobileDevice(ctx context.Context, tenantID, mobileDeviceID string) (*IoTHubSettings, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", ErrInvalidArgument)
	}
	if mobileDeviceID == "" {
		mobileDeviceID = NewMobileDeviceID()
	}

	body := mobileSettingsBody{
		TenantID:       tenantID,
		MobileDeviceID: mobileDeviceID,
		Username:       mobileUsername,
		OS:             mobileOS,
		DevicePlatform: mobileDevicePlatform,
		DeviceHandle:   mobileHandlePrefix + mobileDeviceID,
		Tags:           []string{mobileTag},
	}

	var w mobileSettingsWire
	if err := g.post(ctx, pathMobileSettings, body, &w); err != nil {
		return nil, err
	}
	if w.IoTHubSettings == nil {
		return nil, fmt.Errorf("%w: mobile settings response has no ioTHubSettings", ErrProtocol)
	}

	s := &IoTHubSettings{
		Host:             w.IoTHubSettings.IoTHub,
		DeviceID:         w.IoTHubSettings.DeviceID,
		ConnectionString: w.IoTHubSettings.ConnectionString,
		Username:         w.IoTHubSettings.Username,
		Password:         w.IoTHubSettings.Password,
	}
	if !s.Valid() {
		return nil, fmt.Errorf("%w: incomplete IoT Hub settings", ErrProtocol)
	}
	g.logger.Info("registered for realtime updates", "host", s.Host, "mqtt_client_id", s.DeviceID)
	return s, nil
}
