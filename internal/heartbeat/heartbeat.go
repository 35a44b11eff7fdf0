// Package heartbeat implements fixed-interval peer liveness probing
// (§4.12): each registered peer is pinged on a timer; consecutive
// failures past a threshold mark it UNHEALTHY, any success restores it.
package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/meshcore/agentmesh/internal/meshwire"
	"github.com/meshcore/agentmesh/internal/ratelimit"
)

// Health is a peer's current liveness classification.
type Health string

const (
	HealthHealthy   Health = "HEALTHY"
	HealthUnhealthy Health = "UNHEALTHY"
)

// Pinger sends a liveness probe to peerID and reports whether it
// succeeded. Implementations wrap the DHT/session transport.
type Pinger func(ctx context.Context, peerID string) bool

type peerState struct {
	health          Health
	consecutiveFail int
	lastChecked     time.Time
}

// Monitor drives the heartbeat loop against every registered peer. Self
// pings go through limiter so application traffic is never starved by
// liveness checks (§4.12's MUST).
type Monitor struct {
	mu               sync.RWMutex
	peers            map[string]*peerState
	failureThreshold int
	interval         time.Duration
	ping             Pinger
	limiter          *ratelimit.Limiter

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type Config struct {
	Interval         time.Duration
	FailureThreshold int
	Limiter          *ratelimit.Limiter
}

func (c *Config) normalize() {
	if c.Interval <= 0 {
		c.Interval = meshwire.DefaultHeartbeatInterval
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = meshwire.DefaultHeartbeatFailureLimit
	}
}

func NewMonitor(cfg Config, ping Pinger) *Monitor {
	cfg.normalize()
	return &Monitor{
		peers:            make(map[string]*peerState),
		failureThreshold: cfg.FailureThreshold,
		interval:         cfg.Interval,
		ping:             ping,
		limiter:          cfg.Limiter,
	}
}

// Register adds peerID to the monitored set, starting HEALTHY.
func (m *Monitor) Register(peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.peers[peerID]; !ok {
		m.peers[peerID] = &peerState{health: HealthHealthy, lastChecked: time.Now().UTC()}
	}
}

func (m *Monitor) Unregister(peerID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.peers, peerID)
}

// HealthyPeers is a snapshot of the currently-healthy peer set.
func (m *Monitor) HealthyPeers() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.peers))
	for id, st := range m.peers {
		if st.health == HealthHealthy {
			out = append(out, id)
		}
	}
	return out
}

func (m *Monitor) HealthOf(peerID string) (Health, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.peers[peerID]
	if !ok {
		return "", false
	}
	return st.health, true
}

// Start launches the background probing loop; Stop cancels it.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.wg.Add(1)
	go m.loop(ctx)
}

func (m *Monitor) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.probeAll(ctx)
		}
	}
}

func (m *Monitor) probeAll(ctx context.Context) {
	m.mu.RLock()
	ids := make([]string, 0, len(m.peers))
	for id := range m.peers {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	now := time.Now().UTC()
	for _, id := range ids {
		if m.limiter != nil && !m.limiter.Allow("heartbeat:"+id, now).Allowed {
			continue
		}
		ok := m.ping != nil && m.ping(ctx, id)
		m.record(id, ok, now)
	}
}

func (m *Monitor) record(peerID string, success bool, now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.peers[peerID]
	if !ok {
		return
	}
	st.lastChecked = now
	if success {
		st.consecutiveFail = 0
		st.health = HealthHealthy
		return
	}
	st.consecutiveFail++
	if st.consecutiveFail >= m.failureThreshold {
		st.health = HealthUnhealthy
	}
}
