package pii

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// ErrHashSecretMissing indicates no hash secret was configured.
var ErrHashSecretMissing = errors.New("hash secret not configured")

// Hasher produces keyed hashes of personal fields. Equal inputs under the
// same secret hash equally, enabling equality joins without storing raw
// values. Rotating the secret invalidates every previously stored hash.
type Hasher struct {
	secret []byte
}

// NewHasher creates a hasher over the server-side secret.
func NewHasher(secret string) (*Hasher, error) {
	if secret == "" {
		return nil, ErrHashSecretMissing
	}
	return &Hasher{secret: []byte(secret)}, nil
}

// Hash returns the fixed-length hex HMAC-SHA256 of value.
func (h *Hasher) Hash(value string) string {
	mac := hmac.New(sha256.New, h.secret)
	mac.Write([]byte(value))
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether value hashes to expected, in constant time.
func (h *Hasher) Verify(value, expected string) bool {
	return hmac.Equal([]byte(h.Hash(value)), []byte(expected))
}
