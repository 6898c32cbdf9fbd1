package secrets

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/veldt-lab/veldt/internal/pii"
)

type fakeProvider struct {
	key    []byte
	keyErr error
	secret string
	secErr error
}

func (f fakeProvider) EncryptionKey() ([]byte, error) { return f.key, f.keyErr }
func (f fakeProvider) HashSecret() (string, error)    { return f.secret, f.secErr }

func TestMaterialize_ProductionRequiresAll(t *testing.T) {
	_, _, err := Materialize(fakeProvider{secErr: pii.ErrHashSecretMissing}, PostureProduction)
	require.ErrorIs(t, err, pii.ErrHashSecretMissing)

	_, _, err = Materialize(fakeProvider{secret: "s", keyErr: pii.ErrEncryptionKeyMissing}, PostureProduction)
	require.ErrorIs(t, err, pii.ErrEncryptionKeyMissing)
}

func TestMaterialize_ProductionComplete(t *testing.T) {
	hasher, codec, err := Materialize(fakeProvider{
		secret: "s",
		key:    []byte("0123456789abcdef0123456789abcdef"),
	}, PostureProduction)
	require.NoError(t, err)
	require.NotNil(t, hasher)
	require.NotNil(t, codec)

	env, err := codec.Encrypt("x")
	require.NoError(t, err)
	got, err := codec.Decrypt(env)
	require.NoError(t, err)
	require.Equal(t, "x", got)
}

func TestMaterialize_DevelopmentDegrades(t *testing.T) {
	hasher, codec, err := Materialize(fakeProvider{
		secErr: pii.ErrHashSecretMissing,
		keyErr: pii.ErrEncryptionKeyMissing,
	}, PostureDevelopment)
	require.NoError(t, err)
	require.NotNil(t, hasher)
	require.Nil(t, codec)

	// The nil codec passes through rather than failing the request path.
	env, err := codec.Encrypt("x")
	require.NoError(t, err)
	require.Equal(t, "x", env)
}

func TestMaterialize_InvalidKeyFatalEverywhere(t *testing.T) {
	_, _, err := Materialize(fakeProvider{secret: "s", key: []byte("short")}, PostureDevelopment)
	require.ErrorIs(t, err, pii.ErrKeyTooShort)
}

func TestMaterialize_UnknownPosture(t *testing.T) {
	_, _, err := Materialize(fakeProvider{}, "staging")
	require.Error(t, err)
}

func TestEnvProvider(t *testing.T) {
	key := []byte("0123456789abcdef0123456789abcdef")
	t.Setenv(EnvEncryptionKey, base64.StdEncoding.EncodeToString(key))
	t.Setenv(EnvHashSecret, "env-secret")

	p := EnvProvider{}
	got, err := p.EncryptionKey()
	require.NoError(t, err)
	require.Equal(t, key, got)

	secret, err := p.HashSecret()
	require.NoError(t, err)
	require.Equal(t, "env-secret", secret)
}

func TestEnvProvider_Missing(t *testing.T) {
	t.Setenv(EnvEncryptionKey, "")
	t.Setenv(EnvHashSecret, "")

	p := EnvProvider{}
	_, err := p.EncryptionKey()
	require.ErrorIs(t, err, pii.ErrEncryptionKeyMissing)

	_, err = p.HashSecret()
	require.ErrorIs(t, err, pii.ErrHashSecretMissing)
}

func TestEnvProvider_BadBase64(t *testing.T) {
	t.Setenv(EnvEncryptionKey, "not-base64!!!")

	_, err := EnvProvider{}.EncryptionKey()
	require.Error(t, err)
}
