package peer

import (
	"time"

	"github.com/meshcore/agentmesh/pkg/models"
)

// PeerRecords lists every address-registered target (§3's PeerRecord),
// cross-referencing the session table for liveness, supplementing
// original_source's E2ECryptoManager.list_sessions with address info
// the Python session manager never tracked.
func (p *PeerService) PeerRecords(now time.Time) []models.PeerRecord {
	p.mu.RLock()
	addrs := make(map[string]string, len(p.addresses))
	for k, v := range p.addresses {
		addrs[k] = v
	}
	p.mu.RUnlock()

	out := make([]models.PeerRecord, 0, len(addrs))
	for entityID, addr := range addrs {
		rec := models.PeerRecord{EntityID: entityID, Address: addr}
		if sess, ok := p.sessions.ForPeer(entityID); ok {
			rec.Healthy = sess.Ready(now)
			rec.LastSeen = sess.LastActivity
		}
		out = append(out, rec)
	}
	return out
}

// Stats renders the operability snapshot for the stats endpoint,
// supplementing original_source's E2ECryptoManager.get_stats.
func (p *PeerService) Stats(now time.Time) models.MetricsSnapshot {
	sessions := p.sessions.List()
	ready := 0
	for _, s := range sessions {
		if s.Ready {
			ready++
		}
	}

	p.mu.RLock()
	errorCounters := make(map[string]int, len(p.errorCounters))
	for k, v := range p.errorCounters {
		errorCounters[k] = v
	}
	retryAttempts := p.retryAttempts
	p.mu.RUnlock()

	return models.MetricsSnapshot{
		SessionCount:       len(sessions),
		ReadySessionCount:  ready,
		ErrorCounters:      errorCounters,
		RetryAttemptsTotal: retryAttempts,
		LastUpdatedAt:      now,
	}
}
