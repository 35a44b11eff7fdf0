package peer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "agentmesh"

// Registry is the Prometheus registry all mesh-core metrics are
// registered against; cmd/meshnode exposes it on /metrics.
var Registry = prometheus.NewRegistry()

var (
	MessagesProcessed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "processed_total",
			Help:      "Total number of envelopes processed by msg_type and direction",
		},
		[]string{"msg_type", "direction"}, // inbound, outbound
	)

	MessagesRejected = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "rejected_total",
			Help:      "Total number of inbound envelopes rejected by reason",
		},
		[]string{"reason"}, // session, a meshwire error code, unknown, decrypt, no_handler
	)

	HandshakesInitiated = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handshakes",
			Name:      "initiated_total",
			Help:      "Total number of handshakes initiated by role",
		},
		[]string{"role"}, // initiator, responder
	)

	HandshakesCompleted = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handshakes",
			Name:      "completed_total",
			Help:      "Total number of handshakes reaching READY",
		},
		[]string{"role"},
	)

	HandshakesFailed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "handshakes",
			Name:      "failed_total",
			Help:      "Total number of handshakes that aborted into the error state",
		},
		[]string{"step"},
	)

	SessionsActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Number of sessions currently tracked by the session manager",
		},
	)

	ChunkTransfersCompleted = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chunks",
			Name:      "transfers_completed_total",
			Help:      "Total number of chunked transfers fully reassembled",
		},
	)

	ChunkTransfersFailed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chunks",
			Name:      "transfers_failed_total",
			Help:      "Total number of chunked transfers that failed reassembly",
		},
		[]string{"reason"}, // decode, checksum, index_range
	)

	RateLimitRejections = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ratelimit",
			Name:      "rejected_total",
			Help:      "Total number of requests rejected by the rate limiter",
		},
		[]string{"peer_id"},
	)

	SendRetries = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "send_retries_total",
			Help:      "Total number of outbound send attempts beyond the first",
		},
	)

	MessageProcessingDuration = promauto.With(Registry).NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "processing_duration_seconds",
			Help:      "Inbound envelope processing duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"msg_type"},
	)
)
