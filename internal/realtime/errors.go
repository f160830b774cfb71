package realtime

import "errors"

// Domain-specific errors for the realtime channel.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrBrokerConnection is returned when the broker could not be reached
	// after the configured number of consecutive attempts.
	ErrBrokerConnection = errors.New("realtime: broker connection failed")

	// ErrClosed is returned when using a Channel after Close.
	ErrClosed = errors.New("realtime: channel closed")

	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("realtime: channel already started")

	// ErrInvalidCredentials is returned when registration yields unusable credentials.
	ErrInvalidCredentials = errors.New("realtime: invalid broker credentials")

	// ErrInvalidMessage is returned for payloads that are not telemetry.
	ErrInvalidMessage = errors.New("realtime: invalid message")
)
