// Package models holds the DTOs shared across package boundaries:
// peer diagnostics and the operability snapshot surfaced by the stats
// endpoint (§4.14, §5's supplemented diagnostics).
package models

import "time"

// PeerRecord mirrors spec.md §3's PeerRecord: what the peer service
// knows about one remote entity, independent of whether a session with
// it is currently open.
type PeerRecord struct {
	EntityID        string    `json:"entity_id"`
	Address         string    `json:"address"`
	IdentityPublic  []byte    `json:"identity_public,omitempty"`
	EphemeralPublic []byte    `json:"ephemeral_public,omitempty"`
	Healthy         bool      `json:"healthy"`
	LastSeen        time.Time `json:"last_seen"`
}

// NetworkStatus is the coarse network-health summary a diagnostics
// caller polls for (peer count, last successful DHT round).
type NetworkStatus struct {
	Status    string    `json:"status"`
	PeerCount int       `json:"peer_count"`
	LastSync  time.Time `json:"last_sync"`
}

// MetricsSnapshot is a point-in-time operability view, supplementing
// original_source's E2ECryptoManager.get_stats/list_sessions with a
// mesh-wide rollup instead of just session counts.
type MetricsSnapshot struct {
	SessionCount       int                        `json:"session_count"`
	ReadySessionCount  int                        `json:"ready_session_count"`
	PendingQueueSize   int                        `json:"pending_queue_size"`
	ErrorCounters      map[string]int             `json:"error_counters"`
	OperationStats     map[string]OperationMetric `json:"operation_stats"`
	RetryAttemptsTotal int                        `json:"retry_attempts_total"`
	LastUpdatedAt      time.Time                  `json:"last_updated_at"`
}

// OperationMetric tracks one named operation's call volume and latency,
// used as the value type in MetricsSnapshot.OperationStats.
type OperationMetric struct {
	Count         int   `json:"count"`
	Errors        int   `json:"errors"`
	AvgLatencyMs  int64 `json:"avg_latency_ms"`
	MaxLatencyMs  int64 `json:"max_latency_ms"`
	LastLatencyMs int64 `json:"last_latency_ms"`
}
