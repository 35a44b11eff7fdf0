package message

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshcore/agentmesh/internal/identity"
)

func TestPayloadEncryptDecryptRoundTrip(t *testing.T) {
	keys := identity.DeriveSessionKeys([]byte("shared secret"))
	aad := []byte(`{"msg_type":"ping"}`)

	cp, err := EncryptPayload(keys.EncryptionKey, []byte("hello mesh"), aad)
	require.NoError(t, err)

	plaintext, err := DecryptPayload(keys.EncryptionKey, cp, aad)
	require.NoError(t, err)
	require.Equal(t, "hello mesh", string(plaintext))
}

func TestPayloadDecryptFailsWithWrongKey(t *testing.T) {
	keys := identity.DeriveSessionKeys([]byte("shared secret"))
	wrongKeys := identity.DeriveSessionKeys([]byte("different secret"))
	aad := []byte(`{}`)

	cp, err := EncryptPayload(keys.EncryptionKey, []byte("hello mesh"), aad)
	require.NoError(t, err)

	_, err = DecryptPayload(wrongKeys.EncryptionKey, cp, aad)
	require.Error(t, err)
}

func TestPayloadDecryptFailsOnTamperedAAD(t *testing.T) {
	keys := identity.DeriveSessionKeys([]byte("shared secret"))

	cp, err := EncryptPayload(keys.EncryptionKey, []byte("hello mesh"), []byte(`{"msg_type":"ping"}`))
	require.NoError(t, err)

	_, err = DecryptPayload(keys.EncryptionKey, cp, []byte(`{"msg_type":"pong"}`))
	require.Error(t, err)
}

func TestEnvelopeEncryptDecryptPayloadRoundTrip(t *testing.T) {
	keys := identity.DeriveSessionKeys([]byte("shared secret"))
	env, err := NewEnvelope("task_delegate", "alice", "bob", map[string]string{})
	require.NoError(t, err)

	require.NoError(t, env.EncryptEnvelopePayload(keys.EncryptionKey, []byte("secret task")))
	plaintext, err := env.DecryptEnvelopePayload(keys.EncryptionKey)
	require.NoError(t, err)
	require.Equal(t, "secret task", string(plaintext))
}
