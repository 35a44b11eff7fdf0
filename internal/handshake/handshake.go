// Package handshake drives the six-step secure session handshake
// (§4.8): HANDSHAKE_INIT -> HANDSHAKE_INIT_ACK -> CHALLENGE_RESPONSE ->
// SESSION_ESTABLISHED -> SESSION_CONFIRM -> READY. Both the initiator
// and responder sides are engines over the same session object; the
// wire messages they produce are signed message.Envelopes.
package handshake

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"

	"github.com/meshcore/agentmesh/internal/identity"
	"github.com/meshcore/agentmesh/internal/message"
	"github.com/meshcore/agentmesh/internal/meshwire"
	"github.com/meshcore/agentmesh/internal/session"
)

var (
	ErrUnexpectedStep   = errors.New("handshake: message received out of sequence")
	ErrChallengeInvalid = errors.New("handshake: challenge signature invalid")
	ErrUnknownPeerKey   = errors.New("handshake: missing remote identity key")
)

// Engine drives both sides of the handshake for a single local identity.
// It holds no per-peer state itself; all of that lives on the Session.
type Engine struct {
	self     *identity.Identity
	entityID string
}

func NewEngine(self *identity.Identity, entityID string) *Engine {
	return &Engine{self: self, entityID: entityID}
}

type initPayload struct {
	Step                int      `json:"step"`
	HandshakeVersion    string   `json:"handshake_version"`
	EphemeralPublicKey  string   `json:"ephemeral_public_key"`
	IdentityKey         string   `json:"identity_key"`
	SupportedVersions   []string `json:"supported_versions"`
	Capabilities        []string `json:"capabilities"`
}

type ackPayload struct {
	Step               int    `json:"step"`
	HandshakeVersion   string `json:"handshake_version"`
	EphemeralPublicKey string `json:"ephemeral_public_key"`
	IdentityKey        string `json:"identity_key"`
	Challenge          string `json:"challenge"`
	AcceptedVersion    string `json:"accepted_version"`
}

type challengeResponsePayload struct {
	Step               int    `json:"step"`
	ChallengeSignature string `json:"challenge_signature"`
	SessionIDAck       string `json:"session_id_ack"`
}

type establishedPayload struct {
	Step             int            `json:"step"`
	SessionID        string         `json:"session_id"`
	Established      bool           `json:"established"`
	EncryptionReady  bool           `json:"encryption_ready"`
	SessionParams    map[string]any `json:"session_params"`
}

type confirmPayload struct {
	Step      int    `json:"step"`
	SessionID string `json:"session_id"`
	Confirmed bool   `json:"confirmed"`
	Ready     bool   `json:"ready"`
}

type readyPayload struct {
	Step      int    `json:"step"`
	SessionID string `json:"session_id"`
}

var capabilities = []string{"e2e_encryption", "aes_256_gcm", "x25519", "6step_handshake"}

// Step 1 (A -> B): CreateInit starts a fresh session and returns the
// signed handshake_init envelope.
func (e *Engine) CreateInit(sess *session.Session) (*message.Envelope, error) {
	challenge, err := randomChallenge()
	if err != nil {
		return nil, err
	}
	sess.Challenge = challenge
	sess.Transition(session.StateHandshakeInitSent, nowUTC())

	payload := initPayload{
		Step:               1,
		HandshakeVersion:   meshwire.ProtocolVersion,
		EphemeralPublicKey: base64.StdEncoding.EncodeToString(sess.EphemeralKeys.PublicKey[:]),
		IdentityKey:        e.self.PublicKeyHex(),
		SupportedVersions:  []string{meshwire.ProtocolVersion},
		Capabilities:       capabilities,
	}
	return e.buildStepEnvelope(meshwire.MsgHandshakeInit, sess, payload)
}

// Step 2 (B -> A): HandleInit verifies B's side of the exchange, derives
// session keys from ECDH, and returns the handshake_init_ack envelope.
func (e *Engine) HandleInit(sess *session.Session, env *message.Envelope) (*message.Envelope, error) {
	var in initPayload
	if err := json.Unmarshal(env.Payload, &in); err != nil {
		return nil, err
	}
	remoteEphemeral, err := decodeEphemeralKey(in.EphemeralPublicKey)
	if err != nil {
		return nil, err
	}
	remoteIdentity, err := identity.PublicKeyFromHex(in.IdentityKey)
	if err != nil {
		return nil, err
	}
	sess.RemoteIdentityPublic = remoteIdentity
	sess.RemoteEphemeralPublic = remoteEphemeral

	if err := deriveAndInstallKeys(sess); err != nil {
		return nil, err
	}

	challenge, err := randomChallenge()
	if err != nil {
		return nil, err
	}
	sess.Challenge = challenge
	sess.Transition(session.StateHandshakeAckReceived, nowUTC())

	payload := ackPayload{
		Step:               2,
		HandshakeVersion:   meshwire.ProtocolVersion,
		EphemeralPublicKey: base64.StdEncoding.EncodeToString(sess.EphemeralKeys.PublicKey[:]),
		IdentityKey:        e.self.PublicKeyHex(),
		Challenge:          base64.StdEncoding.EncodeToString(challenge),
		AcceptedVersion:    meshwire.ProtocolVersion,
	}
	return e.buildStepEnvelope(meshwire.MsgHandshakeInitAck, sess, payload)
}

// Step 3 (A -> B): HandleInitAck derives A's session keys and signs B's
// challenge to prove possession of the identity key.
func (e *Engine) HandleInitAck(sess *session.Session, env *message.Envelope) (*message.Envelope, error) {
	var in ackPayload
	if err := json.Unmarshal(env.Payload, &in); err != nil {
		return nil, err
	}
	remoteEphemeral, err := decodeEphemeralKey(in.EphemeralPublicKey)
	if err != nil {
		return nil, err
	}
	remoteIdentity, err := identity.PublicKeyFromHex(in.IdentityKey)
	if err != nil {
		return nil, err
	}
	remoteChallenge, err := base64.StdEncoding.DecodeString(in.Challenge)
	if err != nil {
		return nil, err
	}
	sess.RemoteIdentityPublic = remoteIdentity
	sess.RemoteEphemeralPublic = remoteEphemeral

	if err := deriveAndInstallKeys(sess); err != nil {
		return nil, err
	}

	hash := sha256.Sum256(remoteChallenge)
	sig := e.self.Sign(hash[:])
	sess.Transition(session.StateChallengeResponseSent, nowUTC())

	payload := challengeResponsePayload{
		Step:                3,
		ChallengeSignature:  base64.StdEncoding.EncodeToString(sig),
		SessionIDAck:        sess.ID,
	}
	return e.buildStepEnvelope(meshwire.MsgChallengeResponse, sess, payload)
}

// Step 4 (B -> A): HandleChallengeResponse verifies A proved possession
// of its identity key over B's original challenge.
func (e *Engine) HandleChallengeResponse(sess *session.Session, env *message.Envelope) (*message.Envelope, error) {
	var in challengeResponsePayload
	if err := json.Unmarshal(env.Payload, &in); err != nil {
		return nil, err
	}
	sig, err := base64.StdEncoding.DecodeString(in.ChallengeSignature)
	if err != nil {
		return nil, err
	}
	if sess.RemoteIdentityPublic == nil {
		return nil, ErrUnknownPeerKey
	}
	hash := sha256.Sum256(sess.Challenge)
	if !identity.Verify(sess.RemoteIdentityPublic, hash[:], sig) {
		sess.Transition(session.StateError, nowUTC())
		return nil, ErrChallengeInvalid
	}

	sess.Transition(session.StateSessionEstablishedRecvd, nowUTC())

	payload := establishedPayload{
		Step:            4,
		SessionID:       sess.ID,
		Established:     true,
		EncryptionReady: true,
		SessionParams: map[string]any{
			"algorithm":       "AES-256-GCM",
			"key_exchange":    "X25519",
			"forward_secrecy": true,
		},
	}
	return e.buildStepEnvelope(meshwire.MsgSessionEstablished, sess, payload)
}

// Step 5 (A -> B): HandleSessionEstablished acknowledges B confirmed the
// challenge and moves A toward readiness.
func (e *Engine) HandleSessionEstablished(sess *session.Session, env *message.Envelope) (*message.Envelope, error) {
	var in establishedPayload
	if err := json.Unmarshal(env.Payload, &in); err != nil {
		return nil, err
	}
	if !in.Established {
		sess.Transition(session.StateError, nowUTC())
		return nil, ErrUnexpectedStep
	}

	sess.Transition(session.StateSessionConfirmedSent, nowUTC())

	payload := confirmPayload{Step: 5, SessionID: sess.ID, Confirmed: true, Ready: true}
	return e.buildStepEnvelope(meshwire.MsgSessionConfirm, sess, payload)
}

// Step 6 (B -> A, implicit): HandleSessionConfirm marks B's side READY
// and returns the final ready envelope.
func (e *Engine) HandleSessionConfirm(sess *session.Session, env *message.Envelope) (*message.Envelope, error) {
	var in confirmPayload
	if err := json.Unmarshal(env.Payload, &in); err != nil {
		return nil, err
	}
	if !in.Confirmed {
		sess.Transition(session.StateError, nowUTC())
		return nil, ErrUnexpectedStep
	}

	sess.Transition(session.StateReady, nowUTC())

	payload := readyPayload{Step: 6, SessionID: sess.ID}
	return e.buildStepEnvelope(meshwire.MsgReady, sess, payload)
}

// HandleReady marks A's side READY on receipt of B's closing message.
func (e *Engine) HandleReady(sess *session.Session, env *message.Envelope) error {
	var in readyPayload
	if err := json.Unmarshal(env.Payload, &in); err != nil {
		return err
	}
	if in.SessionID != sess.ID {
		sess.Transition(session.StateError, nowUTC())
		return ErrUnexpectedStep
	}
	sess.Transition(session.StateReady, nowUTC())
	return nil
}

func (e *Engine) buildStepEnvelope(msgType string, sess *session.Session, payload any) (*message.Envelope, error) {
	env, err := message.NewEnvelope(msgType, e.entityID, sess.RemoteEntityID, payload)
	if err != nil {
		return nil, err
	}
	env.SessionID = sess.ID
	seq := sess.NextOutboundSequence()
	env.SequenceNum = &seq
	if err := env.Sign(e.self); err != nil {
		return nil, err
	}
	return env, nil
}

func deriveAndInstallKeys(sess *session.Session) error {
	shared, err := sess.EphemeralKeys.SharedSecret(sess.RemoteEphemeralPublic)
	if err != nil {
		return err
	}
	sess.SetSessionKeys(identity.DeriveSessionKeys(shared))
	return nil
}

func decodeEphemeralKey(encoded string) ([32]byte, error) {
	var out [32]byte
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return out, err
	}
	if len(raw) != 32 {
		return out, errors.New("handshake: ephemeral key must be 32 bytes")
	}
	copy(out[:], raw)
	return out, nil
}

func randomChallenge() ([]byte, error) {
	buf := make([]byte, 32)
	if _, err := readRandom(buf); err != nil {
		return nil, err
	}
	return buf, nil
}
