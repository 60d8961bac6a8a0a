package crypto_test

import (
	"path/filepath"
	"testing"

	"github.com/bdgt-sh/bdgt/pkg/crypto"
	"github.com/bdgt-sh/bdgt/pkg/crypto/providertest"
	"github.com/bdgt-sh/bdgt/pkg/types"
	"github.com/stretchr/testify/require"
)

func TestEngineCreateOpenRoundTrip(t *testing.T) {
	dir := t.TempDir()
	provider := providertest.New()
	_, err := provider.AddKey("user@example.com")
	require.NoError(t, err)

	creator := crypto.New(provider)
	handle, err := creator.LookupKey("user@example.com")
	require.NoError(t, err)
	require.NoError(t, creator.Create(dir, handle))

	plaintext := []byte("checking account")
	ct, err := creator.Encrypt(handle, plaintext)
	require.NoError(t, err)

	opener := crypto.New(provider)
	require.NoError(t, opener.Open(dir))
	pt, err := opener.Decrypt(handle, ct.Bytes())
	require.NoError(t, err)
	require.Equal(t, plaintext, pt.Bytes())
}

func TestEngineMissingSecretKey(t *testing.T) {
	provider := providertest.New()
	e := crypto.New(provider)
	_, err := e.LookupKey("nobody")
	require.ErrorIs(t, err, types.ErrMissingSecretKey)
}

func TestEngineKeyUnsuitable(t *testing.T) {
	provider := providertest.New()
	_, err := provider.AddKey("revoked")
	require.NoError(t, err)
	provider.Disable("revoked")

	e := crypto.New(provider)
	_, err = e.LookupKey("revoked")
	require.ErrorIs(t, err, types.ErrKeyUnsuitable)
}

func TestDummyEngineRejectsOperations(t *testing.T) {
	e := crypto.NewDummy()
	_, err := e.Encrypt(crypto.KeyHandle{}, []byte("x"))
	require.ErrorIs(t, err, types.ErrInvalidEngineState)
}

func TestDecryptTamperedCiphertextFails(t *testing.T) {
	dir := t.TempDir()
	provider := providertest.New()
	_, err := provider.AddKey("user@example.com")
	require.NoError(t, err)

	e := crypto.New(provider)
	handle, err := e.LookupKey("user@example.com")
	require.NoError(t, err)
	require.NoError(t, e.Create(dir, handle))

	ct, err := e.Encrypt(handle, []byte("secret"))
	require.NoError(t, err)

	tampered := append([]byte(nil), ct.Bytes()...)
	tampered[len(tampered)-1] ^= 0xFF
	_, err = e.Decrypt(handle, tampered)
	require.ErrorIs(t, err, types.ErrDecryption)
}

func TestSymmetricEnvelopeRequiresExactKeyLength(t *testing.T) {
	e := crypto.NewDummy()
	_, err := e.EncryptSymmetric(make([]byte, 16), []byte("x"))
	require.ErrorIs(t, err, types.ErrInvalidSymmetricKey)
}

func TestDeriveKeyIsDeterministic(t *testing.T) {
	salt := []byte("some-salt-bytes!")
	k1, err := crypto.DeriveKey([]byte("hunter2"), salt, 32)
	require.NoError(t, err)
	k2, err := crypto.DeriveKey([]byte("hunter2"), salt, 32)
	require.NoError(t, err)
	require.Equal(t, k1.Bytes(), k2.Bytes())

	k3, err := crypto.DeriveKey([]byte("different"), salt, 32)
	require.NoError(t, err)
	require.NotEqual(t, k1.Bytes(), k3.Bytes())
}

func TestEnvelopeFileLayout(t *testing.T) {
	dir := t.TempDir()
	provider := providertest.New()
	_, err := provider.AddKey("k")
	require.NoError(t, err)
	e := crypto.New(provider)
	handle, err := e.LookupKey("k")
	require.NoError(t, err)
	require.NoError(t, e.Create(dir, handle))
	require.FileExists(t, filepath.Join(dir, "symm"))
}
