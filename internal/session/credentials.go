package session

import (
	"fmt"
	"strings"
)

// Identity provider defaults used by the vendor's mobile app.
const (
	DefaultAuthTenant = "konnectkohler.onmicrosoft.com"
	DefaultAuthPolicy = "B2C_1_ROPC_Auth"
)

// Credentials are the static values needed to authenticate a user.
// They are supplied once at construction and never change.
type Credentials struct {
	Username string
	Password string

	// ClientID is the B2C application id of the vendor's mobile app.
	ClientID string

	// APIMSubscriptionKey is sent on every REST call as
	// Ocp-Apim-Subscription-Key.
	APIMSubscriptionKey string

	// APIResource is the B2C API resource name used to build the scope.
	APIResource string

	// AuthTenant and AuthPolicy default to DefaultAuthTenant and
	// DefaultAuthPolicy when empty.
	AuthTenant string
	AuthPolicy string
}

// withDefaults fills in the optional identity provider settings.
func (c Credentials) withDefaults() Credentials {
	if c.AuthTenant == "" {
		c.AuthTenant = DefaultAuthTenant
	}
	if c.AuthPolicy == "" {
		c.AuthPolicy = DefaultAuthPolicy
	}
	return c
}

// Validate reports every missing required field.
func (c Credentials) Validate() error {
	var missing []string
	if c.Username == "" {
		missing = append(missing, "username")
	}
	if c.Password == "" {
		missing = append(missing, "password")
	}
	if c.ClientID == "" {
		missing = append(missing, "client_id")
	}
	if c.APIMSubscriptionKey == "" {
		missing = append(missing, "apim_subscription_key")
	}
	if c.APIResource == "" {
		missing = append(missing, "api_resource")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, strings.Join(missing, ", "))
	}
	return nil
}

// TokenURL returns the B2C token endpoint for the configured tenant and policy.
//
// Example: https://konnectkohler.b2clogin.com/tfp/konnectkohler.onmicrosoft.com/B2C_1_ROPC_Auth/oauth2/v2.0/token
func (c Credentials) TokenURL() string {
	c = c.withDefaults()
	prefix, _, _ := strings.Cut(c.AuthTenant, ".")
	return fmt.Sprintf("https://%s.b2clogin.com/tfp/%s/%s/oauth2/v2.0/token", prefix, c.AuthTenant, c.AuthPolicy)
}

// Scope returns the OAuth scope requested on every grant.
func (c Credentials) Scope() string {
	c = c.withDefaults()
	return fmt.Sprintf("openid offline_access https://%s/%s/apiaccess", c.AuthTenant, c.APIResource)
}

// String implements fmt.Stringer without exposing secrets.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Username: %q, ClientID: %q, Password: [redacted]}", c.Username, c.ClientID)
}
