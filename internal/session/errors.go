package session

import (
	"context"
	"errors"
)

// Domain-specific errors for session management.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrAuthentication is returned when the identity provider rejects the
	// credentials. It is terminal and never retried automatically.
	ErrAuthentication = errors.New("session: authentication failed")

	// ErrTransientAuth is returned when the identity provider could not be
	// reached or failed server-side after all retry attempts.
	ErrTransientAuth = errors.New("session: transient authentication failure")

	// ErrTimeout is returned when the caller's deadline or the token
	// request timeout elapsed before a token could be obtained.
	ErrTimeout = errors.New("session: timed out waiting for token")

	// ErrMissingCredentials is returned by New when required credential
	// fields are empty.
	ErrMissingCredentials = errors.New("session: missing credentials")

	// ErrNoIDToken is returned by Claims when the identity provider has not
	// issued an id_token.
	ErrNoIDToken = errors.New("session: no id_token available")
)

// contextError maps a context failure to the package's error vocabulary.
func contextError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrTimeout, err)
	}
	return err
}

// isNetTimeout reports whether err carries a transport timeout.
func isNetTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	return errors.As(err, &netErr) && netErr.Timeout()
}
