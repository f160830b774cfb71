package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestHashKey_RoundTrip(t *testing.T) {
	key := "correct-horse-battery-staple"

	hash, err := HashKey(key)
	if err != nil {
		t.Fatalf("HashKey() error = %v", err)
	}

	if !strings.HasPrefix(hash, "$argon2id$") {
		t.Errorf("hash should start with $argon2id$, got %q", hash)
	}

	ok, err := VerifyKey(key, hash)
	if err != nil {
		t.Fatalf("VerifyKey() error = %v", err)
	}
	if !ok {
		t.Error("VerifyKey() should return true for correct key")
	}
}

func TestHashKey_WrongKey(t *testing.T) {
	hash, err := HashKey("correct-key")
	if err != nil {
		t.Fatalf("HashKey() error = %v", err)
	}

	ok, err := VerifyKey("wrong-key", hash)
	if err != nil {
		t.Fatalf("VerifyKey() error = %v", err)
	}
	if ok {
		t.Error("VerifyKey() should return false for wrong key")
	}
}

func TestHashKey_Empty(t *testing.T) {
	if _, err := HashKey(""); !errors.Is(err, ErrEmptyKey) {
		t.Errorf("HashKey(\"\") error = %v, want ErrEmptyKey", err)
	}
}

func TestHashKey_UniqueSalts(t *testing.T) {
	hash1, err := HashKey("same-key")
	if err != nil {
		t.Fatalf("HashKey() error = %v", err)
	}
	hash2, err := HashKey("same-key")
	if err != nil {
		t.Fatalf("HashKey() error = %v", err)
	}

	if hash1 == hash2 {
		t.Error("two hashes of the same key should have different salts")
	}
}

func TestHashKey_PHCFormat(t *testing.T) {
	hash, err := HashKey("test")
	if err != nil {
		t.Fatalf("HashKey() error = %v", err)
	}

	parts := strings.Split(hash, "$")
	if len(parts) != 6 {
		t.Fatalf("PHC format should have 6 $-delimited parts, got %d: %q", len(parts), hash)
	}
	if parts[1] != "argon2id" {
		t.Errorf("algorithm should be argon2id, got %q", parts[1])
	}
	if parts[2] != "v=19" {
		t.Errorf("version should be v=19, got %q", parts[2])
	}
	if parts[3] != "m=65536,t=3,p=1" {
		t.Errorf("params should be m=65536,t=3,p=1, got %q", parts[3])
	}
}

func TestVerifyKey_InvalidFormat(t *testing.T) {
	tests := []struct {
		name string
		hash string
	}{
		{"empty", ""},
		{"not PHC", "plaintext"},
		{"wrong algorithm", "$bcrypt$v=19$m=65536,t=3,p=1$salt$hash"},
		{"too few parts", "$argon2id$v=19$m=65536,t=3,p=1"},
		{"wrong version", "$argon2id$v=16$m=65536,t=3,p=1$c2FsdA$aGFzaA"},
		{"zero iterations", "$argon2id$v=19$m=65536,t=0,p=1$c2FsdA$aGFzaA"},
		{"bad salt", "$argon2id$v=19$m=65536,t=3,p=1$!!!$aGFzaA"},
		{"empty hash", "$argon2id$v=19$m=65536,t=3,p=1$c2FsdA$"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := VerifyKey("key", tt.hash)
			if !errors.Is(err, ErrInvalidHash) {
				t.Errorf("VerifyKey() error = %v, want ErrInvalidHash", err)
			}
		})
	}
}

func TestGenerateKey(t *testing.T) {
	k1, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	k2, err := GenerateKey()
	if err != nil {
		t.Fatalf("GenerateKey() error = %v", err)
	}
	if k1 == k2 {
		t.Error("GenerateKey() returned the same key twice")
	}
	if len(k1) != 43 {
		t.Errorf("len(GenerateKey()) = %d, want 43", len(k1))
	}
}

// =============================================================================
// Verifier Tests
// =============================================================================

func TestVerifier(t *testing.T) {
	hash, err := HashKey("bridge-key")
	if err != nil {
		t.Fatalf("HashKey() error = %v", err)
	}
	v, err := NewVerifier(hash)
	if err != nil {
		t.Fatalf("NewVerifier() error = %v", err)
	}

	tests := []struct {
		key  string
		want bool
	}{
		{"bridge-key", true},
		{"bridge-key", true}, // served from the accepted digest
		{"other-key", false},
		{"", false},
		{"bridge-key", true},
	}
	for _, tt := range tests {
		if got := v.Verify(tt.key); got != tt.want {
			t.Errorf("Verify(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestNewVerifier_InvalidHash(t *testing.T) {
	if _, err := NewVerifier("plaintext"); !errors.Is(err, ErrInvalidHash) {
		t.Errorf("NewVerifier() error = %v, want ErrInvalidHash", err)
	}
}
