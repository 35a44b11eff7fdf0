package meshwire

import "time"

// ProtocolVersion is the only handshake form this core speaks: the
// six-step v1.1 sequence. There is no v1.0 fallback.
const ProtocolVersion = "1.1"

// Recognized msg_type tags. Anything else is still accepted by the codec
// and routed through the application handler registry.
const (
	MsgHandshakeInit     = "handshake_init"
	MsgHandshakeInitAck  = "handshake_init_ack"
	MsgChallengeResponse = "challenge_response"
	MsgSessionEstablished = "session_established"
	MsgSessionConfirm    = "session_confirm"
	MsgReady             = "ready"
	MsgChunk             = "chunk"
	MsgPing              = "ping"
	MsgHeartbeat         = "heartbeat"
	MsgStatusReport      = "status_report"
	MsgTaskDelegate      = "task_delegate"
	MsgCapabilityQuery   = "capability_query"
	MsgError             = "error"
)

// Default timeouts, all overridable through internal/config.
const (
	DefaultRPCTimeout            = 5 * time.Second
	DefaultHandshakeStepTimeout  = 10 * time.Second
	DefaultSessionIdleTimeout    = 3600 * time.Second
	DefaultReplayWindow          = 60 * time.Second
	DefaultReplayGCInterval      = 120 * time.Second
	DefaultHeartbeatInterval     = 30 * time.Second
	DefaultHeartbeatFailureLimit = 3
	DefaultBucketRefreshInterval = 3600 * time.Second
	DefaultValueTTL              = 86400 * time.Second
	DefaultRandomWalkInterval    = 5 * time.Minute
	DefaultAutoChunkThreshold    = 10 * 1024
	DefaultChunkSize             = 32 * 1024
	DefaultChunkStaleAfter       = time.Hour
	DefaultMaxRetries            = 3
	DefaultRetryBaseDelay        = 250 * time.Millisecond
)

// Kademlia parameters.
const (
	KeyBits           = 160
	KeyBytes          = KeyBits / 8
	BucketSize        = 20 // k
	Alpha             = 3
	ReplicationFactor = 3
)

// SequenceMax is the wraparound boundary for session sequence numbers.
const SequenceMax uint32 = 1<<31 - 1

// SequenceWrapWindow bounds how far past zero a wrapped sequence number
// may land and still be accepted as "the next one after SequenceMax".
const SequenceWrapWindow uint32 = 1000
