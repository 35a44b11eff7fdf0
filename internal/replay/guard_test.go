package replay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGuardAcceptsFreshNonceOnce(t *testing.T) {
	g := NewGuardWithWindows(60*time.Second, 120*time.Second)
	now := time.Now().UTC()

	require.True(t, g.Accept("nonce-1", now, now))
	require.False(t, g.Accept("nonce-1", now, now), "second presentation of the same nonce must be rejected")
}

func TestGuardRejectsStaleTimestamp(t *testing.T) {
	g := NewGuardWithWindows(60*time.Second, 120*time.Second)
	now := time.Now().UTC()
	stale := now.Add(-90 * time.Second)

	require.False(t, g.Accept("nonce-2", stale, now))
}

func TestGuardAcceptsDistinctNoncesWithinWindow(t *testing.T) {
	g := NewGuardWithWindows(60*time.Second, 120*time.Second)
	now := time.Now().UTC()

	require.True(t, g.Accept("nonce-a", now, now))
	require.True(t, g.Accept("nonce-b", now, now))
	require.Equal(t, 2, g.Len())
}

func TestGuardSweepsEntriesOlderThanGCWindow(t *testing.T) {
	g := NewGuardWithWindows(60*time.Second, 10*time.Millisecond)
	now := time.Now().UTC()
	require.True(t, g.Accept("nonce-c", now, now))

	later := now.Add(time.Second)
	// A distinct nonce triggers the sweep; the old entry is long past gcAfter.
	require.True(t, g.Accept("nonce-d", later, later))
	require.Equal(t, 1, g.Len())
}

func TestGuardRejectsFutureClockSkewBeyondWindow(t *testing.T) {
	g := NewGuardWithWindows(60*time.Second, 120*time.Second)
	now := time.Now().UTC()
	future := now.Add(90 * time.Second)

	require.False(t, g.Accept("nonce-e", future, now))
}
