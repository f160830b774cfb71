// Package rest is the HTTP gateway to the Anthem cloud API.
//
// A Gateway turns typed calls into authenticated HTTPS requests against the
// vendor's API Management front door and maps responses back into domain
// types:
//
//   - Every request carries the session's bearer token and the APIM
//     subscription key.
//   - GET requests are retried on transient failures (network errors and
//     5xx) up to three attempts with exponential backoff.
//   - POST requests are never retried on transient failures: commands are
//     not idempotent on the device side.
//   - A 401 or 403 invalidates the session token and the request is retried
//     exactly once with a fresh token; a second rejection is ErrAuthorization.
//   - 404 maps to ErrDeviceNotFound and 429 to *RateLimitedError.
//
// The Gateway never writes device state. GetDeviceState returns a snapshot
// that callers apply to a state.Store themselves.
//
// # Wire Format
//
// The API is loosely typed: booleans arrive as true, "true", "1" or 1 and
// numbers frequently arrive as strings. The unexported flex* types in
// wire.go absorb those variations so domain types stay strongly typed.
package rest
