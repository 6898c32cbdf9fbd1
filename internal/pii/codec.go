package pii

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const (
	// envelopeVersion prefixes every ciphertext envelope.
	envelopeVersion = "v1"

	// minKeyBytes is the minimum master key entropy (256 bits).
	minKeyBytes = 32

	// hkdfContext separates PII encryption keys from any other use of the
	// master key.
	hkdfContext = "veldt-pii-encryption"

	gcmTagSize = 16
)

var (
	// ErrEncryptionKeyMissing indicates no encryption key was configured.
	ErrEncryptionKeyMissing = errors.New("encryption key not configured")

	// ErrKeyTooShort indicates the master key carries too little entropy.
	ErrKeyTooShort = fmt.Errorf("encryption key must be at least %d bytes", minKeyBytes)

	// ErrDecryptionFailed indicates authentication or decryption failed.
	// Tampered or truncated envelopes always surface this, never garbage
	// plaintext.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrInvalidEnvelope indicates the envelope is malformed.
	ErrInvalidEnvelope = errors.New("invalid ciphertext envelope")
)

// Codec provides authenticated symmetric encryption (AES-256-GCM) for
// personal fields. Each Encrypt call draws a fresh random nonce; the
// envelope is self-describing, carrying version, nonce, ciphertext and
// authentication tag with no implicit state.
//
// A nil Codec is the degraded development fallback: Encrypt and Decrypt
// pass values through unchanged. Production wiring must never construct
// one (see secrets.Provider).
type Codec struct {
	aead cipher.AEAD
}

// NewCodec derives the AEAD key from the master key via HKDF-SHA256 and
// readies AES-256-GCM. The master key must carry at least 256 bits.
func NewCodec(masterKey []byte) (*Codec, error) {
	if len(masterKey) == 0 {
		return nil, ErrEncryptionKeyMissing
	}
	if len(masterKey) < minKeyBytes {
		return nil, ErrKeyTooShort
	}

	derived := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, masterKey, nil, []byte(hkdfContext)), derived); err != nil {
		return nil, fmt.Errorf("derive encryption key: %w", err)
	}

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("create AES cipher: %w", err)
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM cipher: %w", err)
	}

	return &Codec{aead: aead}, nil
}

// Encrypt seals plaintext into an envelope of the form
// "v1:<nonce-b64>:<ciphertext-b64>:<tag-b64>". Empty input stays empty.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	if c == nil || c.aead == nil {
		return plaintext, nil // degraded fallback, encryption disabled
	}
	if plaintext == "" {
		return "", nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	ct, tag := sealed[:len(sealed)-gcmTagSize], sealed[len(sealed)-gcmTagSize:]

	enc := base64.StdEncoding
	return strings.Join([]string{
		envelopeVersion,
		enc.EncodeToString(nonce),
		enc.EncodeToString(ct),
		enc.EncodeToString(tag),
	}, ":"), nil
}

// Decrypt opens an envelope produced by Encrypt. It fails closed: any
// tampered, truncated or malformed envelope yields an error, never
// corrupted plaintext.
func (c *Codec) Decrypt(envelope string) (string, error) {
	if envelope == "" {
		return "", nil
	}
	if c == nil || c.aead == nil {
		if strings.HasPrefix(envelope, envelopeVersion+":") {
			return "", ErrEncryptionKeyMissing
		}
		return envelope, nil // degraded fallback stored plaintext
	}

	parts := strings.Split(envelope, ":")
	if len(parts) != 4 || parts[0] != envelopeVersion {
		return "", ErrInvalidEnvelope
	}

	enc := base64.StdEncoding
	nonce, err := enc.DecodeString(parts[1])
	if err != nil || len(nonce) != c.aead.NonceSize() {
		return "", ErrInvalidEnvelope
	}
	ct, err := enc.DecodeString(parts[2])
	if err != nil {
		return "", ErrInvalidEnvelope
	}
	tag, err := enc.DecodeString(parts[3])
	if err != nil || len(tag) != gcmTagSize {
		return "", ErrInvalidEnvelope
	}

	plaintext, err := c.aead.Open(nil, nonce, append(ct, tag...), nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}
