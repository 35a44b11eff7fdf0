// Package peer implements the PeerService façade (§4.14): send_message
// orchestration over sessions, handshakes, chunking and encryption, and
// the inbound dispatch pipeline every received envelope runs through.
package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/meshcore/agentmesh/internal/chunk"
	"github.com/meshcore/agentmesh/internal/handshake"
	"github.com/meshcore/agentmesh/internal/identity"
	"github.com/meshcore/agentmesh/internal/message"
	"github.com/meshcore/agentmesh/internal/meshwire"
	"github.com/meshcore/agentmesh/internal/queue"
	"github.com/meshcore/agentmesh/internal/ratelimit"
	"github.com/meshcore/agentmesh/internal/replay"
	"github.com/meshcore/agentmesh/internal/session"
)

var (
	ErrUnknownTarget  = errors.New("peer: no known address for target")
	ErrNoReadySession = errors.New("peer: no ready session for target")
)

// Config tunes one PeerService. EntityID is this node's logical address
// on the mesh, distinct from its DHT NodeID.
type Config struct {
	EntityID           string
	AutoChunkThreshold int
	ChunkSize          int
	Retry              queue.Config
	RateLimit          ratelimit.Config
	Logger             *slog.Logger
}

func (c *Config) normalize() {
	if c.AutoChunkThreshold <= 0 {
		c.AutoChunkThreshold = meshwire.DefaultAutoChunkThreshold
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = meshwire.DefaultChunkSize
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// SendOptions controls how send_message treats one outgoing payload.
type SendOptions struct {
	// Encrypt requires a READY session and AEAD-seals the payload. The
	// zero value (false) sends in the clear, which is only meaningful
	// for pre-handshake bootstrap messages; application code should
	// normally set this true.
	Encrypt bool
	// AutoChunk splits payloads over the configured threshold into
	// chunk envelopes. Ignored for msg_type "chunk" itself.
	AutoChunk bool
}

// PeerService owns one local identity's whole messaging surface: the
// session table, the handshake engine, replay and rate-limit guards,
// chunk reassembly, the outbound retry policy, and the application
// handler registry.
type PeerService struct {
	self     *identity.Identity
	entityID string

	sessions  *session.Manager
	engine    *handshake.Engine
	chunks    *chunk.Reassembler
	replay    *replay.Guard
	limiter   *ratelimit.Limiter
	handlers  *HandlerRegistry
	transport Transport
	retryCfg  queue.Config
	logger    *slog.Logger

	autoChunkThreshold int
	chunkSize          int

	mu            sync.RWMutex
	addresses     map[string]string
	errorCounters map[string]int
	retryAttempts int
}

func NewPeerService(cfg Config, self *identity.Identity, transport Transport) *PeerService {
	cfg.normalize()
	return &PeerService{
		self:               self,
		entityID:           cfg.EntityID,
		sessions:           session.NewManager(),
		engine:             handshake.NewEngine(self, cfg.EntityID),
		chunks:             chunk.NewReassembler(),
		replay:             replay.NewGuard(),
		limiter:            ratelimit.New(cfg.RateLimit),
		handlers:           NewHandlerRegistry(),
		transport:          transport,
		retryCfg:           cfg.Retry,
		logger:             cfg.Logger,
		autoChunkThreshold: cfg.AutoChunkThreshold,
		chunkSize:          cfg.ChunkSize,
		addresses:          make(map[string]string),
		errorCounters:      make(map[string]int),
	}
}

// RegisterHandler exposes the application handler registry.
func (p *PeerService) RegisterHandler(msgType string, h Handler) {
	p.handlers.Register(msgType, h)
}

// RegisterPeerAddress records where target can be reached for envelope
// delivery (learned from discovery or configuration, independent of the
// DHT's own routing table).
func (p *PeerService) RegisterPeerAddress(target, addr string) {
	p.mu.Lock()
	p.addresses[target] = addr
	p.mu.Unlock()
}

func (p *PeerService) addressOf(target string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	addr, ok := p.addresses[target]
	return addr, ok
}

// handshakeExempt msg_types never carry an encrypted payload: the six
// steps establish the keys encryption itself depends on, and a chunk
// envelope's payload is chunk metadata, not application data.
func handshakeExempt(msgType string) bool {
	switch msgType {
	case meshwire.MsgHandshakeInit, meshwire.MsgHandshakeInitAck, meshwire.MsgChallengeResponse,
		meshwire.MsgSessionEstablished, meshwire.MsgSessionConfirm, meshwire.MsgReady, meshwire.MsgChunk:
		return true
	}
	return false
}

// InitiateHandshake runs the full six-step exchange with target at addr,
// blocking until the local session reaches READY or a step fails.
func (p *PeerService) InitiateHandshake(ctx context.Context, target, addr string) (*session.Session, error) {
	p.RegisterPeerAddress(target, addr)
	sess, err := p.sessions.Create(p.entityID, target, 0)
	if err != nil {
		return nil, err
	}
	HandshakesInitiated.WithLabelValues("initiator").Inc()

	step1, err := p.engine.CreateInit(sess)
	if err != nil {
		return nil, p.failHandshake("init", err)
	}
	step2, _, err := p.transport.Exchange(ctx, addr, step1)
	if err != nil {
		return nil, p.failHandshake("init_ack", err)
	}
	if err := p.verifyInbound(sess, step2, time.Now().UTC()); err != nil {
		return nil, p.failHandshake("init_ack", err)
	}
	step3, err := p.engine.HandleInitAck(sess, step2)
	if err != nil {
		return nil, p.failHandshake("challenge_response", err)
	}

	step4, _, err := p.transport.Exchange(ctx, addr, step3)
	if err != nil {
		return nil, p.failHandshake("session_established", err)
	}
	if err := p.verifyInbound(sess, step4, time.Now().UTC()); err != nil {
		return nil, p.failHandshake("session_established", err)
	}
	step5, err := p.engine.HandleSessionEstablished(sess, step4)
	if err != nil {
		return nil, p.failHandshake("session_confirm", err)
	}

	step6, _, err := p.transport.Exchange(ctx, addr, step5)
	if err != nil {
		return nil, p.failHandshake("ready", err)
	}
	if step6 != nil {
		if err := p.verifyInbound(sess, step6, time.Now().UTC()); err != nil {
			return nil, p.failHandshake("ready", err)
		}
		if err := p.engine.HandleReady(sess, step6); err != nil {
			return nil, p.failHandshake("ready", err)
		}
	}

	HandshakesCompleted.WithLabelValues("initiator").Inc()
	SessionsActive.Set(float64(p.sessions.Len()))
	return sess, nil
}

func (p *PeerService) failHandshake(step string, err error) error {
	HandshakesFailed.WithLabelValues(step).Inc()
	return fmt.Errorf("peer: handshake failed at %s: %w", step, err)
}

// SendMessage implements §4.14's send_message: resolve target, encrypt
// under the session keys if requested, chunk if oversized, and deliver
// with the outbound retry policy.
func (p *PeerService) SendMessage(ctx context.Context, target, msgType string, payload any, opts SendOptions) error {
	addr, ok := p.addressOf(target)
	if !ok {
		return ErrUnknownTarget
	}

	var sess *session.Session
	if s, ok := p.sessions.ForPeer(target); ok {
		sess = s
	}
	if opts.Encrypt && (sess == nil || !sess.Ready(time.Now().UTC())) {
		return ErrNoReadySession
	}

	plaintext, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	wire := plaintext
	if opts.Encrypt && !handshakeExempt(msgType) {
		cipher, err := message.EncryptPayload(sess.SessionKeys.EncryptionKey, plaintext, payloadAAD(sess.ID, target, p.entityID, msgType))
		if err != nil {
			return err
		}
		wire, err = json.Marshal(cipher)
		if err != nil {
			return err
		}
	}

	if opts.AutoChunk && msgType != meshwire.MsgChunk && len(wire) > p.autoChunkThreshold {
		return p.sendChunked(ctx, target, addr, sess, msgType, wire)
	}
	return p.sendSingle(ctx, target, addr, sess, msgType, json.RawMessage(wire))
}

func (p *PeerService) sendSingle(ctx context.Context, target, addr string, sess *session.Session, msgType string, wire json.RawMessage) error {
	env, err := message.NewEnvelope(msgType, p.entityID, target, wire)
	if err != nil {
		return err
	}
	if sess != nil {
		env.SessionID = sess.ID
		seq := sess.NextOutboundSequence()
		env.SequenceNum = &seq
	}
	if err := env.Sign(p.self); err != nil {
		return err
	}
	MessagesProcessed.WithLabelValues(msgType, "outbound").Inc()
	return p.deliverWithRetry(ctx, target, addr, env)
}

type chunkWire struct {
	TransferID   string `json:"transfer_id"`
	ChunkIndex   int    `json:"chunk_index"`
	TotalChunks  int    `json:"total_chunks"`
	Data         []byte `json:"data"`
	Checksum     string `json:"checksum"`
	InnerMsgType string `json:"inner_msg_type"`
}

func (p *PeerService) sendChunked(ctx context.Context, target, addr string, sess *session.Session, innerMsgType string, wire []byte) error {
	pieces := chunk.Split(wire, p.chunkSize)
	for _, c := range pieces {
		payload := chunkWire{
			TransferID:   c.TransferID,
			ChunkIndex:   c.ChunkIndex,
			TotalChunks:  c.TotalChunks,
			Data:         c.Data,
			Checksum:     c.Checksum,
			InnerMsgType: innerMsgType,
		}
		raw, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if err := p.sendSingle(ctx, target, addr, sess, meshwire.MsgChunk, raw); err != nil {
			return err
		}
	}
	return nil
}

func (p *PeerService) deliverWithRetry(ctx context.Context, target, addr string, env *message.Envelope) error {
	outbound := queue.NewOutbound(p.retryCfg, p.logger)
	attempt := 0
	return outbound.Run(ctx, queue.Job{
		PeerID: target,
		Send: func(ctx context.Context) (queue.FailureKind, error) {
			attempt++
			if attempt > 1 {
				SendRetries.Inc()
				p.mu.Lock()
				p.retryAttempts++
				p.mu.Unlock()
			}
			return p.transport.Deliver(ctx, addr, env)
		},
	})
}

// payloadAAD binds encrypted application payloads to their logical
// routing context independent of the outer chunk/non-chunk envelope
// that eventually carries them.
func payloadAAD(sessionID, recipientID, senderID, msgType string) []byte {
	raw, _ := json.Marshal(struct {
		SessionID   string `json:"session_id"`
		RecipientID string `json:"recipient_id"`
		SenderID    string `json:"sender_id"`
		MsgType     string `json:"msg_type"`
	}{sessionID, recipientID, senderID, msgType})
	return raw
}

// HandleInbound runs one received envelope through the full dispatch
// pipeline (§7): version and replay checks, signature verification,
// session/sequence tracking, decryption, chunk reassembly, handshake
// routing, and finally the application handler registry. It returns a
// reply envelope when the step produces one synchronously (handshake
// acks), or nil for fire-and-forget messages.
func (p *PeerService) HandleInbound(ctx context.Context, env *message.Envelope) (*message.Envelope, error) {
	now := time.Now().UTC()

	if d := p.limiter.Allow(env.SenderID, now); !d.Allowed {
		RateLimitRejections.WithLabelValues(env.SenderID).Inc()
		return p.errorEnvelope(env, meshwire.CodeRateLimited), nil
	}

	sess, err := p.sessionFor(env)
	if err != nil {
		MessagesRejected.WithLabelValues("session").Inc()
		return p.errorEnvelope(env, meshwire.CodeSessionExpired), nil
	}

	if err := p.verifyInbound(sess, env, now); err != nil {
		p.rejectReason(err)
		return p.errorEnvelopeFor(env, err), nil
	}

	MessagesProcessed.WithLabelValues(env.MsgType, "inbound").Inc()

	switch env.MsgType {
	case meshwire.MsgHandshakeInit:
		HandshakesInitiated.WithLabelValues("responder").Inc()
		reply, err := p.engine.HandleInit(sess, env)
		if err != nil {
			return nil, p.failHandshake("init_ack", err)
		}
		return reply, nil
	case meshwire.MsgHandshakeInitAck:
		reply, err := p.engine.HandleInitAck(sess, env)
		if err != nil {
			return nil, p.failHandshake("challenge_response", err)
		}
		return reply, nil
	case meshwire.MsgChallengeResponse:
		reply, err := p.engine.HandleChallengeResponse(sess, env)
		if err != nil {
			return nil, p.failHandshake("session_established", err)
		}
		return reply, nil
	case meshwire.MsgSessionEstablished:
		reply, err := p.engine.HandleSessionEstablished(sess, env)
		if err != nil {
			return nil, p.failHandshake("session_confirm", err)
		}
		return reply, nil
	case meshwire.MsgSessionConfirm:
		reply, err := p.engine.HandleSessionConfirm(sess, env)
		if err != nil {
			return nil, p.failHandshake("ready", err)
		}
		HandshakesCompleted.WithLabelValues("responder").Inc()
		SessionsActive.Set(float64(p.sessions.Len()))
		return reply, nil
	case meshwire.MsgReady:
		if err := p.engine.HandleReady(sess, env); err != nil {
			return nil, p.failHandshake("ready", err)
		}
		return nil, nil
	case meshwire.MsgChunk:
		return nil, p.handleChunk(sess, env, now)
	default:
		return nil, p.dispatchApplication(sess, env, env.MsgType, []byte(env.Payload))
	}
}

func (p *PeerService) handleChunk(sess *session.Session, env *message.Envelope, now time.Time) error {
	var in chunkWire
	if err := json.Unmarshal(env.Payload, &in); err != nil {
		ChunkTransfersFailed.WithLabelValues("decode").Inc()
		return err
	}
	c := chunk.Chunk{
		TransferID: in.TransferID, ChunkIndex: in.ChunkIndex, TotalChunks: in.TotalChunks,
		Data: in.Data, Checksum: in.Checksum,
	}
	payload, done, err := p.chunks.Accept(c, env.SenderID, env.RecipientID, in.InnerMsgType, now)
	if err != nil {
		reason := "checksum"
		if errors.Is(err, chunk.ErrIndexOutOfRange) {
			reason = "index_range"
		}
		ChunkTransfersFailed.WithLabelValues(reason).Inc()
		return err
	}
	if !done {
		return nil
	}
	ChunkTransfersCompleted.Inc()
	return p.dispatchApplication(sess, env, in.InnerMsgType, payload)
}

func (p *PeerService) dispatchApplication(sess *session.Session, env *message.Envelope, innerMsgType string, wire []byte) error {
	plaintext := wire
	if sess != nil && sess.SessionKeys != nil && !handshakeExempt(innerMsgType) {
		var cipher message.CipherPayload
		if err := json.Unmarshal(wire, &cipher); err != nil {
			MessagesRejected.WithLabelValues("decrypt").Inc()
			return err
		}
		aad := payloadAAD(env.SessionID, env.RecipientID, env.SenderID, innerMsgType)
		pt, err := message.DecryptPayload(sess.SessionKeys.EncryptionKey, cipher, aad)
		if err != nil {
			MessagesRejected.WithLabelValues("decrypt").Inc()
			return err
		}
		plaintext = pt
	}

	h, ok := p.handlers.Lookup(innerMsgType)
	if !ok {
		MessagesRejected.WithLabelValues("no_handler").Inc()
		return nil
	}
	h(env, plaintext)
	return nil
}

func (p *PeerService) sessionFor(env *message.Envelope) (*session.Session, error) {
	if env.SessionID == "" {
		return nil, nil
	}
	sess, err := p.sessions.Get(env.SessionID, time.Now().UTC())
	if err == nil {
		return sess, nil
	}
	if errors.Is(err, session.ErrSessionNotFound) && env.MsgType == meshwire.MsgHandshakeInit {
		newSess, cerr := session.NewSession(p.entityID, env.SenderID, 0)
		if cerr != nil {
			return nil, cerr
		}
		newSess.ID = env.SessionID
		p.sessions.Adopt(newSess)
		return newSess, nil
	}
	return nil, err
}

type identityPeek struct {
	IdentityKey string `json:"identity_key"`
}

func peekIdentityKey(env *message.Envelope) ([]byte, error) {
	var peek identityPeek
	if err := json.Unmarshal(env.Payload, &peek); err != nil {
		return nil, err
	}
	return identity.PublicKeyFromHex(peek.IdentityKey)
}

// resolveVerifyKey finds the public key env's signature should be
// checked against: the session's already-proven remote identity once
// known, or the self-asserted key carried in a handshake_init/init_ack
// payload before it is. The challenge-response step (§4.8 step 3/4) is
// what actually proves possession of that asserted key; this step only
// rejects an envelope whose signature does not match what it claims.
func (p *PeerService) resolveVerifyKey(sess *session.Session, env *message.Envelope) ([]byte, error) {
	if sess != nil && sess.RemoteIdentityPublic != nil {
		return sess.RemoteIdentityPublic, nil
	}
	if env.MsgType == meshwire.MsgHandshakeInit || env.MsgType == meshwire.MsgHandshakeInitAck {
		return peekIdentityKey(env)
	}
	return nil, meshwire.NewProtocolError(meshwire.CodeUnknownSender, "no known identity key for sender")
}

func (p *PeerService) verifyInbound(sess *session.Session, env *message.Envelope, now time.Time) error {
	if env.Version != meshwire.ProtocolVersion {
		return meshwire.NewProtocolError(meshwire.CodeUnsupportedVersion, env.Version)
	}
	ts, err := time.Parse(time.RFC3339, env.Timestamp)
	if err != nil {
		return meshwire.AsProtocolError(meshwire.CodeUnsupportedVersion, err)
	}
	if !p.replay.Accept(env.Nonce, ts, now) {
		return meshwire.NewProtocolError(meshwire.CodeReplayDetected, "")
	}
	key, err := p.resolveVerifyKey(sess, env)
	if err != nil {
		return err
	}
	if !env.Verify(key) {
		return meshwire.NewProtocolError(meshwire.CodeUnknownSender, "signature mismatch")
	}
	if sess != nil && env.SequenceNum != nil {
		if err := sess.AcceptInboundSequence(*env.SequenceNum); err != nil {
			return meshwire.NewProtocolError(meshwire.CodeSequenceError, "")
		}
	}
	return nil
}

func (p *PeerService) rejectReason(err error) {
	var perr *meshwire.ProtocolError
	reason := "unknown"
	if errors.As(err, &perr) {
		reason = string(perr.Code)
	}
	MessagesRejected.WithLabelValues(reason).Inc()
	p.mu.Lock()
	p.errorCounters[reason]++
	p.mu.Unlock()
}

// errorEnvelope builds a signed error reply for code, addressed back to
// env's sender (§7: "respond with a signed error envelope").
func (p *PeerService) errorEnvelope(env *message.Envelope, code meshwire.Code) *message.Envelope {
	return p.errorEnvelopeFor(env, meshwire.NewProtocolError(code, ""))
}

func (p *PeerService) errorEnvelopeFor(env *message.Envelope, cause error) *message.Envelope {
	var perr *meshwire.ProtocolError
	if !errors.As(cause, &perr) {
		perr = meshwire.AsProtocolError(meshwire.CodeUnknownSender, cause)
	}
	payload := struct {
		ErrorCode string `json:"error_code"`
		Message   string `json:"message"`
	}{string(perr.Code), perr.Message}

	reply, err := message.NewEnvelope(meshwire.MsgError, p.entityID, env.SenderID, payload)
	if err != nil {
		return nil
	}
	reply.SessionID = env.SessionID
	if err := reply.Sign(p.self); err != nil {
		return nil
	}
	return reply
}
