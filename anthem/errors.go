package anthem

import (
	"errors"
	"time"

	"github.com/nerrad567/anthem-core/internal/realtime"
	"github.com/nerrad567/anthem-core/internal/rest"
	"github.com/nerrad567/anthem-core/internal/session"
	"github.com/nerrad567/anthem-core/internal/state"
	"github.com/nerrad567/anthem-core/internal/valve"
)

// Errors returned by Client methods. Errors from the underlying components
// are wrapped, so errors.Is works against these values.
var (
	// ErrAuthentication means the identity provider rejected the credentials.
	ErrAuthentication = session.ErrAuthentication

	// ErrTransientAuth means the identity provider was unreachable after retries.
	ErrTransientAuth = session.ErrTransientAuth

	// ErrMissingCredentials is returned by New when credentials are incomplete.
	ErrMissingCredentials = session.ErrMissingCredentials

	// ErrTransientNetwork means the API was unreachable or failed server-side.
	ErrTransientNetwork = rest.ErrTransientNetwork

	// ErrAuthorization means the API rejected a freshly refreshed token.
	ErrAuthorization = rest.ErrAuthorization

	// ErrDeviceNotFound means the cloud does not know the device.
	ErrDeviceNotFound = rest.ErrDeviceNotFound

	// ErrRateLimited means the API throttled the request. See RetryAfter.
	ErrRateLimited = rest.ErrRateLimited

	// ErrProtocol means a response could not be understood.
	ErrProtocol = rest.ErrProtocol

	// ErrInvalidArgument means a required identifier was empty.
	ErrInvalidArgument = rest.ErrInvalidArgument

	// ErrUnknownDevice means no state has been observed for the device.
	ErrUnknownDevice = state.ErrUnknownDevice

	// ErrEncoding means a valve command is outside the controller's limits.
	ErrEncoding = valve.ErrEncoding

	// ErrUnknownOutlet means an outlet name is not recognised.
	ErrUnknownOutlet = valve.ErrUnknownOutlet

	// ErrBrokerConnection means the realtime channel gave up reconnecting.
	ErrBrokerConnection = realtime.ErrBrokerConnection

	// ErrTimeout means the caller's deadline or a request timeout elapsed,
	// whether waiting for a token or for the API.
	ErrTimeout = session.ErrTimeout

	// ErrNotOpen is returned when a Client is used before Open.
	ErrNotOpen = errors.New("anthem: client not open")

	// ErrClosed is returned when a Client is used after Close.
	ErrClosed = errors.New("anthem: client closed")

	// ErrNoTenant is returned when an operation needs the customer id and
	// none was configured or found in the id_token.
	ErrNoTenant = errors.New("anthem: customer id unknown")
)

// IsTimeout reports whether err is a deadline or network timeout from any
// component.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout) || rest.IsTimeout(err)
}

// RetryAfter returns the delay requested by a rate-limited response.
func RetryAfter(err error) (time.Duration, bool) {
	return rest.RetryAfter(err)
}
