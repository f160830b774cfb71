package auth

import "errors"

// Sentinel errors for API key handling.
var (
	// ErrInvalidHash indicates a stored hash is not an Argon2id PHC string.
	ErrInvalidHash = errors.New("auth: invalid key hash")

	// ErrEmptyKey indicates an empty key was offered for hashing.
	ErrEmptyKey = errors.New("auth: empty key")
)
