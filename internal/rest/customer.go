package rest

import (
	"context"
	"fmt"
)

// Device is a shower controller registered to a customer.
type Device struct {
	DeviceID      string `json:"device_id"`
	LogicalName   string `json:"logical_name"`
	SKU           string `json:"sku"`
	SerialNumber  string `json:"serial_number,omitempty"`
	IsActive      bool   `json:"is_active"`
	IsProvisioned bool   `json:"is_provisioned"`
}

// Home groups devices installed at one address.
type Home struct {
	HomeID   string   `json:"home_id"`
	HomeName string   `json:"home_name"`
	Devices  []Device `json:"devices"`
}

// Customer is the account snapshot returned by discovery.
type Customer struct {
	ID              string `json:"id"`
	TenantID        string `json:"tenant_id"`
	TemperatureUnit string `json:"temperature_unit"`
	WaterUnits      string `json:"water_units"`
	IsActive        bool   `json:"is_active"`
	Homes           []Home `json:"homes"`
}

// Devices returns every device across all homes, in home order.
func (c *Customer) Devices() []Device {
	var out []Device
	for _, h := range c.Homes {
		out = append(out, h.Devices...)
	}
	return out
}

// Device returns the device with the given id.
func (c *Customer) Device(deviceID string) (Device, bool) {
	for _, h := range c.Homes {
		for _, d := range h.Devices {
			if d.DeviceID == deviceID {
				return d, true
			}
		}
	}
	return Device{}, false
}

type customerWire struct {
	ID              flexString `json:"id"`
	TenantID        flexString `json:"tenantId"`
	TemperatureUnit string     `json:"temperatureUnit"`
	WaterUnits      string     `json:"waterUnits"`
	IsActive        *flexBool  `json:"isActive"`
	CustomerHome    []struct {
		HomeID   flexString `json:"homeId"`
		HomeName string     `json:"homeName"`
		Devices  []struct {
			DeviceID      flexString `json:"deviceId"`
			LogicalName   string     `json:"logicalName"`
			SKU           string     `json:"sku"`
			SerialNumber  flexString `json:"serialNumber"`
			IsActive      *flexBool  `json:"isActive"`
			IsProvisioned flexBool   `json:"isProvisioned"`
		} `json:"devices"`
	} `json:"customerHome"`
}

func (w customerWire) toCustomer() *Customer {
	c := &Customer{
		ID:              string(w.ID),
		TenantID:        string(w.TenantID),
		TemperatureUnit: w.TemperatureUnit,
		WaterUnits:      w.WaterUnits,
		IsActive:        w.IsActive == nil || bool(*w.IsActive),
		Homes:           make([]Home, 0, len(w.CustomerHome)),
	}
	for _, h := range w.CustomerHome {
		home := Home{
			HomeID:   string(h.HomeID),
			HomeName: h.HomeName,
			Devices:  make([]Device, 0, len(h.Devices)),
		}
		for _, d := range h.Devices {
			sku := d.SKU
			if sku == "" {
				sku = DefaultSKU
			}
			home.Devices = append(home.Devices, Device{
				DeviceID:      string(d.DeviceID),
				LogicalName:   d.LogicalName,
				SKU:           sku,
				SerialNumber:  string(d.SerialNumber),
				IsActive:      d.IsActive == nil || bool(*d.IsActive),
				IsProvisioned: bool(d.IsProvisioned),
			})
		}
		c.Homes = append(c.Homes, home)
	}
	return c
}

// GetCustomer returns the customer's homes and devices.
//
// Parameters:
//   - ctx: Context for cancellation and deadline
//   - customerID: The customer (tenant) id from the login token
//
// Returns:
//   - *Customer: Read-only snapshot
//   - error: ErrDeviceNotFound if the customer is unknown, or a transport error
func (g *Gateway) GetCustomer(ctx context.Context, customerID string) (*Customer, error) {
	if customerID == "" {
		return nil, fmt.Errorf("%w: customer id is required", ErrInvalidArgument)
	}
	var w customerWire
	if err := g.get(ctx, customerDevicesPath(customerID), &w); err != nil {
		return nil, err
	}
	if w.TenantID == "" {
		w.TenantID = flexString(customerID)
	}
	return w.toCustomer(), nil
}
