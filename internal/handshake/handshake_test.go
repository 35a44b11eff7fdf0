package handshake

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/meshcore/agentmesh/internal/identity"
	"github.com/meshcore/agentmesh/internal/session"
)

// TestSixStepHandshakeProducesMatchingSessionKeys drives the full
// handshake between two independent engines and asserts both sides end
// READY with identical derived session keys, per SPEC_FULL.md §4.8.
func TestSixStepHandshakeProducesMatchingSessionKeys(t *testing.T) {
	aliceID, err := identity.NewIdentity()
	require.NoError(t, err)
	bobID, err := identity.NewIdentity()
	require.NoError(t, err)

	alice := NewEngine(aliceID, "alice")
	bob := NewEngine(bobID, "bob")

	aliceSess, err := session.NewSession("alice", "bob", 3600)
	require.NoError(t, err)

	// Step 1: A -> B
	step1, err := alice.CreateInit(aliceSess)
	require.NoError(t, err)

	bobSess, err := session.NewSession("bob", "alice", 3600)
	require.NoError(t, err)
	bobSess.ID = step1.SessionID // responder adopts initiator's session id

	// Step 2: B -> A
	step2, err := bob.HandleInit(bobSess, step1)
	require.NoError(t, err)

	// Step 3: A -> B
	step3, err := alice.HandleInitAck(aliceSess, step2)
	require.NoError(t, err)

	// Step 4: B -> A
	step4, err := bob.HandleChallengeResponse(bobSess, step3)
	require.NoError(t, err)

	// Step 5: A -> B
	step5, err := alice.HandleSessionEstablished(aliceSess, step4)
	require.NoError(t, err)

	// Step 6: B -> A (implicit ready)
	step6, err := bob.HandleSessionConfirm(bobSess, step5)
	require.NoError(t, err)

	require.NoError(t, alice.HandleReady(aliceSess, step6))

	require.True(t, aliceSess.Ready(nowUTC()))
	require.True(t, bobSess.Ready(nowUTC()))
	require.Equal(t, *aliceSess.SessionKeys, *bobSess.SessionKeys)
}

func TestChallengeResponseRejectsForgedSignature(t *testing.T) {
	aliceID, err := identity.NewIdentity()
	require.NoError(t, err)
	bobID, err := identity.NewIdentity()
	require.NoError(t, err)
	mallory, err := identity.NewIdentity()
	require.NoError(t, err)

	alice := NewEngine(aliceID, "alice")
	bob := NewEngine(bobID, "bob")

	aliceSess, err := session.NewSession("alice", "bob", 3600)
	require.NoError(t, err)
	step1, err := alice.CreateInit(aliceSess)
	require.NoError(t, err)

	bobSess, err := session.NewSession("bob", "alice", 3600)
	require.NoError(t, err)
	bobSess.ID = step1.SessionID
	step2, err := bob.HandleInit(bobSess, step1)
	require.NoError(t, err)

	step3, err := alice.HandleInitAck(aliceSess, step2)
	require.NoError(t, err)

	// Tamper: claim the challenge was signed by a different identity.
	bobSess.RemoteIdentityPublic = mallory.PublicKey

	_, err = bob.HandleChallengeResponse(bobSess, step3)
	require.ErrorIs(t, err, ErrChallengeInvalid)
	require.Equal(t, session.StateError, bobSess.State)
}
