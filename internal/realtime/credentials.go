package realtime

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nerrad567/anthem-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/anthem-core/internal/rest"
)

// sasPrefix starts every SAS token password.
const sasPrefix = "SharedAccessSignature "

// Credentials are the broker credentials issued by registration.
type Credentials struct {
	Host             string
	Port             int
	ClientID         string
	Username         string
	Password         string
	ConnectionString string
	IssuedAt         time.Time
}

// CredentialsFromSettings converts a registration response.
func CredentialsFromSettings(s rest.IoTHubSettings, issuedAt time.Time) Credentials {
	return Credentials{
		Host:             s.Host,
		Port:             mqtt.DefaultPort,
		ClientID:         s.DeviceID,
		Username:         s.Username,
		Password:         s.Password,
		ConnectionString: s.ConnectionString,
		IssuedAt:         issuedAt,
	}
}

// Valid reports whether the credentials can be used to connect.
func (c Credentials) Valid() bool {
	return c.Host != "" && c.ClientID != "" && c.Password != ""
}

// ExpiresAt returns the expiry encoded in the SAS token's se= field.
// The boolean is false when the password carries no expiry.
func (c Credentials) ExpiresAt() (time.Time, bool) {
	fields := strings.TrimPrefix(c.Password, sasPrefix)
	values, err := url.ParseQuery(fields)
	if err != nil {
		return time.Time{}, false
	}
	se := values.Get("se")
	if se == "" {
		return time.Time{}, false
	}
	secs, err := strconv.ParseInt(se, 10, 64)
	if err != nil || secs <= 0 {
		return time.Time{}, false
	}
	return time.Unix(secs, 0), true
}

// UsableAt reports whether the credentials are valid and will not expire
// within margin of now. Credentials without an expiry never expire.
func (c Credentials) UsableAt(now time.Time, margin time.Duration) bool {
	if !c.Valid() {
		return false
	}
	exp, ok := c.ExpiresAt()
	if !ok {
		return true
	}
	return now.Add(margin).Before(exp)
}

// settings converts the credentials into broker connection settings.
func (c Credentials) settings() mqtt.Settings {
	return mqtt.Settings{
		Host:     c.Host,
		Port:     c.Port,
		ClientID: c.ClientID,
		Username: c.Username,
		Password: c.Password,
	}
}

// String implements fmt.Stringer without the password.
func (c Credentials) String() string {
	return "realtime.Credentials{Host:" + c.Host + " ClientID:" + c.ClientID + " Password:[redacted]}"
}
