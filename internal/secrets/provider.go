package secrets

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"

	"github.com/veldt-lab/veldt/internal/pii"
)

// Postures recognized by Materialize.
const (
	PostureProduction  = "production"
	PostureDevelopment = "development"
)

// Env var names for key material. Secrets stay out of the config file.
const (
	EnvEncryptionKey = "VELDT_ENCRYPTION_KEY"
	EnvHashSecret    = "VELDT_HASH_SECRET"
)

// Provider supplies PII key material.
type Provider interface {
	// EncryptionKey returns the raw master key bytes.
	EncryptionKey() ([]byte, error)
	// HashSecret returns the keyed-hash secret.
	HashSecret() (string, error)
}

// EnvProvider reads key material from the process environment. The
// encryption key is base64-encoded.
type EnvProvider struct{}

func (EnvProvider) EncryptionKey() ([]byte, error) {
	raw := os.Getenv(EnvEncryptionKey)
	if raw == "" {
		return nil, pii.ErrEncryptionKeyMissing
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", EnvEncryptionKey, err)
	}
	return key, nil
}

func (EnvProvider) HashSecret() (string, error) {
	secret := os.Getenv(EnvHashSecret)
	if secret == "" {
		return "", pii.ErrHashSecretMissing
	}
	return secret, nil
}

// Materialize builds the PII primitives for the given posture. Missing or
// malformed key material is fatal under the production posture; under the
// development posture it degrades with a warning (hashing falls back to a
// fixed development secret, encryption is disabled).
func Materialize(p Provider, posture string) (*pii.Hasher, *pii.Codec, error) {
	switch posture {
	case PostureProduction, PostureDevelopment:
	default:
		return nil, nil, fmt.Errorf("unknown privacy posture %q", posture)
	}
	strict := posture == PostureProduction

	var hasher *pii.Hasher
	secret, err := p.HashSecret()
	if err != nil {
		if strict {
			return nil, nil, fmt.Errorf("hash secret: %w", err)
		}
		slog.Warn("[Secrets] Hash secret missing, using development fallback",
			"posture", posture, "error", err)
		secret = "veldt-development-hash-secret"
	}
	hasher, err = pii.NewHasher(secret)
	if err != nil {
		return nil, nil, fmt.Errorf("hash secret: %w", err)
	}

	key, err := p.EncryptionKey()
	if err != nil {
		if strict {
			return nil, nil, fmt.Errorf("encryption key: %w", err)
		}
		slog.Warn("[Secrets] Encryption key missing, PII encryption disabled",
			"posture", posture, "error", err)
		return hasher, nil, nil // nil Codec is the degraded passthrough
	}

	codec, err := pii.NewCodec(key)
	if err != nil {
		// A present-but-invalid key is a configuration error in every
		// posture: silently degrading would mask a rotation mistake.
		return nil, nil, fmt.Errorf("encryption key: %w", err)
	}

	return hasher, codec, nil
}
