package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEphemeralKeyExchangeProducesSharedSecret(t *testing.T) {
	alice, err := NewEphemeralKeyPair()
	require.NoError(t, err)
	bob, err := NewEphemeralKeyPair()
	require.NoError(t, err)

	aliceSecret, err := alice.SharedSecret(bob.PublicKey)
	require.NoError(t, err)
	bobSecret, err := bob.SharedSecret(alice.PublicKey)
	require.NoError(t, err)

	require.Equal(t, aliceSecret, bobSecret)
}

func TestDeriveSessionKeysIsDeterministicAndDistinct(t *testing.T) {
	secret := []byte("shared secret bytes for testing")

	a := DeriveSessionKeys(secret)
	b := DeriveSessionKeys(secret)

	require.Equal(t, a, b, "same shared secret must derive identical keys on both sides")
	require.NotEqual(t, a.EncryptionKey, a.AuthKey, "encryption and auth keys must be independent")
}

func TestDeriveSessionKeysDiffersPerSecret(t *testing.T) {
	a := DeriveSessionKeys([]byte("secret-one"))
	b := DeriveSessionKeys([]byte("secret-two"))

	require.NotEqual(t, a.EncryptionKey, b.EncryptionKey)
}
