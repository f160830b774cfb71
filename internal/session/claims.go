package session

import (
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// customerIDClaims lists id_token claims that carry the customer id, in
// order of preference. B2C puts the user's object id in "oid"; "sub" holds
// the same value when the policy maps it there.
var customerIDClaims = []string{"oid", "sub"}

// Claims returns the claims of the current id_token.
//
// The signature is not verified; only identifiers are read from it.
func (m *Manager) Claims() (jwt.MapClaims, error) {
	tok, ok := m.Current()
	if !ok || tok.IDToken == "" {
		return nil, ErrNoIDToken
	}
	return parseClaims(tok.IDToken)
}

// CustomerID returns the customer (tenant) id embedded in the id_token.
func (m *Manager) CustomerID() (string, error) {
	claims, err := m.Claims()
	if err != nil {
		return "", err
	}
	for _, name := range customerIDClaims {
		if v, ok := claims[name].(string); ok && v != "" {
			return v, nil
		}
	}
	return "", fmt.Errorf("%w: id_token carries no customer id claim", ErrNoIDToken)
}

func parseClaims(raw string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, claims); err != nil {
		return nil, fmt.Errorf("session: parsing id_token: %w", err)
	}
	return claims, nil
}
