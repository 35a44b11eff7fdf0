package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentitySignVerifyRoundTrip(t *testing.T) {
	id, err := NewIdentity()
	require.NoError(t, err)

	msg := []byte("agentmesh handshake payload")
	sig := id.Sign(msg)
	require.True(t, Verify(id.PublicKey, msg, sig))
}

func TestVerifyRejectsTamperedMessage(t *testing.T) {
	id, err := NewIdentity()
	require.NoError(t, err)

	sig := id.Sign([]byte("original"))
	require.False(t, Verify(id.PublicKey, []byte("tampered"), sig))
}

func TestFromPrivateKeyRestoresPublicKey(t *testing.T) {
	id, err := NewIdentity()
	require.NoError(t, err)

	restored, err := FromPrivateKey(id.PrivateKey)
	require.NoError(t, err)
	require.Equal(t, id.PublicKey, restored.PublicKey)
}

func TestPublicKeyHexRoundTrip(t *testing.T) {
	id, err := NewIdentity()
	require.NoError(t, err)

	raw, err := PublicKeyFromHex(id.PublicKeyHex())
	require.NoError(t, err)
	require.Equal(t, []byte(id.PublicKey), raw)
}
