package pii

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPseudonymizeIP(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "ipv4", input: "192.168.1.100", want: "192.168.1.0"},
		{name: "ipv4 already masked", input: "10.0.0.0", want: "10.0.0.0"},
		{name: "ipv4 with whitespace", input: " 203.0.113.7 ", want: "203.0.113.0"},
		{name: "ipv6 full form", input: "2001:0db8:85a3:0000:0000:8a2e:0370:7334", want: "2001:db8:85a3::"},
		{name: "ipv6 compressed", input: "2001:db8:85a3:1::1", want: "2001:db8:85a3:1::"},
		{name: "garbage", input: "not-an-ip", want: UnknownIP},
		{name: "empty", input: "", want: UnknownIP},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, PseudonymizeIP(tc.input))
		})
	}
}

func TestPseudonymizeIP_Deterministic(t *testing.T) {
	require.Equal(t, PseudonymizeIP("192.168.1.100"), PseudonymizeIP("192.168.1.100"))
	// Distinct hosts in one /24 collapse together: not reversible.
	require.Equal(t, PseudonymizeIP("192.168.1.1"), PseudonymizeIP("192.168.1.254"))
}

func TestHasher(t *testing.T) {
	h, err := NewHasher("server-secret")
	require.NoError(t, err)

	a := h.Hash("visitor-42")
	b := h.Hash("visitor-42")
	require.Equal(t, a, b)
	require.Len(t, a, 64) // sha256 hex

	require.NotEqual(t, a, h.Hash("visitor-43"))
	require.True(t, h.Verify("visitor-42", a))
	require.False(t, h.Verify("visitor-43", a))
}

func TestHasher_SecretRotationInvalidates(t *testing.T) {
	h1, err := NewHasher("secret-1")
	require.NoError(t, err)
	h2, err := NewHasher("secret-2")
	require.NoError(t, err)

	require.NotEqual(t, h1.Hash("visitor-42"), h2.Hash("visitor-42"))
}

func TestNewHasher_EmptySecret(t *testing.T) {
	_, err := NewHasher("")
	require.ErrorIs(t, err, ErrHashSecretMissing)
}

func testKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef") // 32 bytes
}

func TestCodec_RoundTrip(t *testing.T) {
	c, err := NewCodec(testKey())
	require.NoError(t, err)

	for _, plaintext := range []string{
		"x",
		"alice@example.com",
		"a longer value with spaces and unicode: héllo 世界",
		strings.Repeat("z", 4096),
	} {
		env, err := c.Encrypt(plaintext)
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(env, "v1:"))

		got, err := c.Decrypt(env)
		require.NoError(t, err)
		require.Equal(t, plaintext, got)
	}
}

func TestCodec_FreshNoncePerCall(t *testing.T) {
	c, err := NewCodec(testKey())
	require.NoError(t, err)

	a, err := c.Encrypt("same input")
	require.NoError(t, err)
	b, err := c.Encrypt("same input")
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

func TestCodec_TamperedEnvelopeFailsClosed(t *testing.T) {
	c, err := NewCodec(testKey())
	require.NoError(t, err)

	env, err := c.Encrypt("sensitive")
	require.NoError(t, err)
	parts := strings.Split(env, ":")
	require.Len(t, parts, 4)

	// Flip one ciphertext byte.
	ct, err := base64.StdEncoding.DecodeString(parts[2])
	require.NoError(t, err)
	ct[0] ^= 0xFF
	parts[2] = base64.StdEncoding.EncodeToString(ct)

	_, err = c.Decrypt(strings.Join(parts, ":"))
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestCodec_MalformedEnvelopes(t *testing.T) {
	c, err := NewCodec(testKey())
	require.NoError(t, err)

	env, err := c.Encrypt("sensitive")
	require.NoError(t, err)
	parts := strings.Split(env, ":")

	tests := []struct {
		name     string
		envelope string
	}{
		{name: "wrong version", envelope: "v9:" + strings.Join(parts[1:], ":")},
		{name: "truncated tag", envelope: strings.Join(parts[:3], ":")},
		{name: "not base64", envelope: "v1:!!!:" + parts[2] + ":" + parts[3]},
		{name: "empty sections", envelope: "v1:::"},
		{name: "plain junk", envelope: "junk"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Decrypt(tc.envelope)
			require.Error(t, err)
		})
	}
}

func TestCodec_SwappedTagFails(t *testing.T) {
	c, err := NewCodec(testKey())
	require.NoError(t, err)

	envA, err := c.Encrypt("value A")
	require.NoError(t, err)
	envB, err := c.Encrypt("value B")
	require.NoError(t, err)

	a := strings.Split(envA, ":")
	b := strings.Split(envB, ":")

	// Graft B's tag onto A's ciphertext.
	_, err = c.Decrypt(strings.Join([]string{a[0], a[1], a[2], b[3]}, ":"))
	require.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestCodec_KeyValidation(t *testing.T) {
	_, err := NewCodec(nil)
	require.ErrorIs(t, err, ErrEncryptionKeyMissing)

	_, err = NewCodec([]byte("short"))
	require.ErrorIs(t, err, ErrKeyTooShort)
}

func TestCodec_DegradedFallback(t *testing.T) {
	var c *Codec // development posture without a key

	env, err := c.Encrypt("plain")
	require.NoError(t, err)
	require.Equal(t, "plain", env)

	got, err := c.Decrypt("plain")
	require.NoError(t, err)
	require.Equal(t, "plain", got)

	// A real envelope cannot be opened without the key.
	_, err = c.Decrypt("v1:abc:def:ghi")
	require.ErrorIs(t, err, ErrEncryptionKeyMissing)
}

func TestCodec_EmptyPlaintext(t *testing.T) {
	c, err := NewCodec(testKey())
	require.NoError(t, err)

	env, err := c.Encrypt("")
	require.NoError(t, err)
	require.Equal(t, "", env)

	got, err := c.Decrypt("")
	require.NoError(t, err)
	require.Equal(t, "", got)
}
