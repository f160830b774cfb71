package state

import "errors"

// Domain-specific errors for the state store.
var (
	// ErrUnknownDevice is returned when no state has been observed for a device.
	ErrUnknownDevice = errors.New("state: unknown device")
)
