package valve

import "errors"

// Domain-specific errors for valve command encoding.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrEncoding is returned when a command cannot be represented on the wire
	// (out-of-range temperature or flow, invalid selector, unknown mode) or
	// when a wire payload cannot be decoded.
	ErrEncoding = errors.New("valve: encoding error")

	// ErrUnknownOutlet is returned when an outlet name is not recognised.
	ErrUnknownOutlet = errors.New("valve: unknown outlet")
)
