package session

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// defaultExpiresIn applies when the identity provider omits expires_in.
const defaultExpiresIn = 3600

// Token is an issued OAuth token set. It is replaced wholesale on refresh.
type Token struct {
	AccessToken  string
	RefreshToken string
	IDToken      string
	TokenType    string
	IssuedAt     time.Time
	ExpiresAt    time.Time
}

// ValidAt reports whether the token may be used at now, treating it as
// expired margin before ExpiresAt.
func (t Token) ValidAt(now time.Time, margin time.Duration) bool {
	if t.AccessToken == "" {
		return false
	}
	return now.Before(t.ExpiresAt.Add(-margin))
}

// tokenResponse is the JSON body returned by the token endpoint.
type tokenResponse struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	IDToken      string    `json:"id_token"`
	TokenType    string    `json:"token_type"`
	ExpiresIn    expiresIn `json:"expires_in"`
}

// toToken converts the response into a Token issued at now.
func (r tokenResponse) toToken(now time.Time) Token {
	seconds := int(r.ExpiresIn)
	if seconds <= 0 {
		seconds = defaultExpiresIn
	}
	return Token{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		IDToken:      r.IDToken,
		TokenType:    r.TokenType,
		IssuedAt:     now,
		ExpiresAt:    now.Add(time.Duration(seconds) * time.Second),
	}
}

// errorResponse is the JSON body of a rejected grant.
type errorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// expiresIn accepts expires_in as either a JSON number or a quoted string.
type expiresIn int

// UnmarshalJSON implements json.Unmarshaler.
func (e *expiresIn) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*e = 0
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*e = 0
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("expires_in %q: %w", s, err)
		}
		*e = expiresIn(n)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	v, err := n.Int64()
	if err != nil {
		f, ferr := n.Float64()
		if ferr != nil {
			return fmt.Errorf("expires_in %s: %w", n, err)
		}
		v = int64(f)
	}
	*e = expiresIn(v)
	return nil
}
