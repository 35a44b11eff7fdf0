package heartbeat

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMonitorMarksUnhealthyAfterThreshold(t *testing.T) {
	m := NewMonitor(Config{FailureThreshold: 2}, func(ctx context.Context, peerID string) bool {
		return false
	})
	m.Register("peer-1")

	now := time.Now().UTC()
	m.record("peer-1", false, now)
	health, ok := m.HealthOf("peer-1")
	require.True(t, ok)
	require.Equal(t, HealthHealthy, health)

	m.record("peer-1", false, now)
	health, ok = m.HealthOf("peer-1")
	require.True(t, ok)
	require.Equal(t, HealthUnhealthy, health)
}

func TestMonitorSuccessResetsFailureCount(t *testing.T) {
	m := NewMonitor(Config{FailureThreshold: 2}, nil)
	m.Register("peer-1")
	now := time.Now().UTC()

	m.record("peer-1", false, now)
	m.record("peer-1", true, now)
	m.record("peer-1", false, now)

	health, _ := m.HealthOf("peer-1")
	require.Equal(t, HealthHealthy, health, "a success must reset the consecutive-failure streak")
}

func TestHealthyPeersSnapshot(t *testing.T) {
	m := NewMonitor(Config{FailureThreshold: 1}, nil)
	m.Register("peer-1")
	m.Register("peer-2")
	now := time.Now().UTC()
	m.record("peer-2", false, now)

	healthy := m.HealthyPeers()
	require.Contains(t, healthy, "peer-1")
	require.NotContains(t, healthy, "peer-2")
}

func TestMonitorProbeAllInvokesPingerForRegisteredPeers(t *testing.T) {
	var calls int32
	m := NewMonitor(Config{FailureThreshold: 1, Interval: 10 * time.Millisecond}, func(ctx context.Context, peerID string) bool {
		atomic.AddInt32(&calls, 1)
		return true
	})
	m.Register("peer-1")

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	cancel()
	m.Stop()

	require.GreaterOrEqual(t, atomic.LoadInt32(&calls), int32(1))
}
