package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/meshcore/agentmesh/internal/identity"
)

func readySession(t *testing.T) *Session {
	t.Helper()
	sess, err := NewSession("alice", "bob", 3600)
	require.NoError(t, err)

	now := time.Now().UTC()
	require.True(t, sess.Transition(StateHandshakeInitSent, now))
	require.True(t, sess.Transition(StateHandshakeAckReceived, now))
	require.True(t, sess.Transition(StateChallengeResponseSent, now))
	require.True(t, sess.Transition(StateSessionEstablishedRecvd, now))
	require.True(t, sess.Transition(StateSessionConfirmedSent, now))
	require.True(t, sess.Transition(StateReady, now))
	return sess
}

func TestSessionHandshakeTransitionsInOrder(t *testing.T) {
	sess := readySession(t)
	require.True(t, sess.Ready(time.Now().UTC()))
}

func TestSessionOutOfOrderTransitionGoesToError(t *testing.T) {
	sess, err := NewSession("alice", "bob", 3600)
	require.NoError(t, err)

	ok := sess.Transition(StateReady, time.Now().UTC())
	require.False(t, ok)
	require.Equal(t, StateError, sess.State)
}

func TestSessionKeysNonNilOnlyAfterDerivation(t *testing.T) {
	sess := readySession(t)
	require.Nil(t, sess.SessionKeys)

	sess.SetSessionKeys(identity.DeriveSessionKeys([]byte("shared-secret")))
	require.NotNil(t, sess.SessionKeys)
}

func TestOutboundSequenceIsMonotonicAndWraps(t *testing.T) {
	sess, err := NewSession("alice", "bob", 3600)
	require.NoError(t, err)

	require.Equal(t, uint32(0), sess.NextOutboundSequence())
	require.Equal(t, uint32(1), sess.NextOutboundSequence())

	sess.localSequence = 2147483647 // SequenceMax
	require.Equal(t, uint32(2147483647), sess.NextOutboundSequence())
	require.Equal(t, uint32(0), sess.NextOutboundSequence())
}

func TestInboundSequenceAcceptsForwardGap(t *testing.T) {
	sess, err := NewSession("alice", "bob", 3600)
	require.NoError(t, err)

	require.NoError(t, sess.AcceptInboundSequence(0))
	require.NoError(t, sess.AcceptInboundSequence(5)) // gap tolerated
	require.Equal(t, uint32(6), sess.expectedSequence)
}

func TestInboundSequenceRejectsRegression(t *testing.T) {
	sess, err := NewSession("alice", "bob", 3600)
	require.NoError(t, err)

	require.NoError(t, sess.AcceptInboundSequence(10))
	err = sess.AcceptInboundSequence(3)
	require.ErrorIs(t, err, ErrSequenceError)
}

func TestInboundSequenceAcceptsWraparound(t *testing.T) {
	sess, err := NewSession("alice", "bob", 3600)
	require.NoError(t, err)
	sess.expectedSequence = 2147483647 - 10 // within wrap window of SequenceMax

	require.NoError(t, sess.AcceptInboundSequence(2147483647-10))
	require.NoError(t, sess.AcceptInboundSequence(5)) // wrapped around to near zero
}

func TestSessionIdleTimeoutMarksExpired(t *testing.T) {
	sess, err := NewSession("alice", "bob", 1)
	require.NoError(t, err)
	sess.LastActivity = time.Now().UTC().Add(-2 * time.Second)

	require.False(t, sess.Ready(time.Now().UTC()))
}
