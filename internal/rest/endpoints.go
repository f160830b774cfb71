package rest

import (
	"fmt"
	"net/url"
)

// DefaultBaseURL is the vendor's US API front door.
const DefaultBaseURL = "https://api-kohler-us.kohler.io"

// DefaultSKU is the product code sent with commands when the device's own
// SKU is unknown.
const DefaultSKU = "GCS"

// API paths. Placeholders are filled by the helpers below.
const (
	pathCustomerDevices = "/devices/api/v1/device-management/customer-device/%s"
	pathDeviceState     = "/devices/api/v1/device-management/gcs-state/gcsadvancestate/%s"
	pathPresets         = "/devices/api/v1/device-management/gcs-preset/%s"
	pathMobileSettings  = "/platform/api/v1/mobile/settings"
	pathPresetControl   = "/platform/api/v1/commands/gcs/controlpresetorexperience"
	pathValveControl    = "/platform/api/v1/commands/gcs/solowritesystem"
	pathWarmup          = "/platform/api/v1/commands/gcs/warmup"
)

func customerDevicesPath(customerID string) string {
	return fmt.Sprintf(pathCustomerDevices, url.PathEscape(customerID))
}

func deviceStatePath(deviceID string) string {
	return fmt.Sprintf(pathDeviceState, url.PathEscape(deviceID))
}

func presetsPath(deviceID string) string {
	return fmt.Sprintf(pathPresets, url.PathEscape(deviceID))
}
