package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLimiterAllowsWithinBurst(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 3, ViolationsToBlock: 100})
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		d := l.Allow("peer-1", now)
		require.True(t, d.Allowed)
	}
}

func TestLimiterRejectsBeyondBurstAndReturnsRetryAfter(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 2, ViolationsToBlock: 100})
	now := time.Now().UTC()

	require.True(t, l.Allow("peer-1", now).Allowed)
	require.True(t, l.Allow("peer-1", now).Allowed)
	decision := l.Allow("peer-1", now)
	require.False(t, decision.Allowed)
	require.Greater(t, decision.RetryAfter, time.Duration(0))
}

func TestLimiterBlocksAfterRepeatedViolations(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 1, ViolationsToBlock: 2, BlockDuration: 5 * time.Minute})
	now := time.Now().UTC()

	require.True(t, l.Allow("peer-1", now).Allowed) // consumes the only burst token
	require.False(t, l.Allow("peer-1", now).Allowed) // violation 1
	blocked := l.Allow("peer-1", now)                 // violation 2 -> blocks
	require.False(t, blocked.Allowed)
	require.False(t, blocked.BlockedUntil.IsZero())
}

func TestLimiterRefusesWithoutAccountingWhileBlocked(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 1, ViolationsToBlock: 1, BlockDuration: time.Hour})
	now := time.Now().UTC()

	require.True(t, l.Allow("peer-1", now).Allowed)
	first := l.Allow("peer-1", now)
	require.False(t, first.Allowed)
	require.False(t, first.BlockedUntil.IsZero())

	later := now.Add(time.Second)
	second := l.Allow("peer-1", later)
	require.False(t, second.Allowed)
	require.Equal(t, first.BlockedUntil, second.BlockedUntil)
}

func TestLimiterDistinctPeersAreIndependent(t *testing.T) {
	l := New(Config{RequestsPerMinute: 60, BurstSize: 1, ViolationsToBlock: 100})
	now := time.Now().UTC()

	require.True(t, l.Allow("peer-1", now).Allowed)
	require.False(t, l.Allow("peer-1", now).Allowed)
	require.True(t, l.Allow("peer-2", now).Allowed)
}
