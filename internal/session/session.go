// Package session implements the per-peer session state machine: the
// six-step-handshake lifecycle, monotonic sequence tracking with
// wraparound, idle expiry, and the session map that owns all of it.
package session

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/meshcore/agentmesh/internal/identity"
	"github.com/meshcore/agentmesh/internal/meshwire"
)

// State names the session's position in the handshake/liveness lifecycle.
type State string

const (
	StateInitial                  State = "INITIAL"
	StateHandshakeInitSent        State = "HANDSHAKE_INIT_SENT"
	StateHandshakeAckReceived     State = "HANDSHAKE_ACK_RECEIVED"
	StateChallengeResponseSent    State = "CHALLENGE_RESPONSE_SENT"
	StateSessionEstablishedRecvd  State = "SESSION_ESTABLISHED_RECEIVED"
	StateSessionConfirmedSent     State = "SESSION_CONFIRMED_SENT"
	StateReady                    State = "READY"
	StateExpired                  State = "EXPIRED"
	StateClosed                   State = "CLOSED"
	StateError                    State = "ERROR"
)

var (
	ErrSessionNotFound = errors.New("session: not found")
	ErrSessionExpired  = errors.New("session: expired")
	ErrSequenceError   = errors.New("session: sequence regression")
)

// Session is one peer-to-peer secure channel. All mutation goes through
// its own lock; the owning Manager also takes that lock when it checks
// expiry or marks a session EXPIRED or CLOSED.
type Session struct {
	mu sync.Mutex

	ID               string
	LocalEntityID    string
	RemoteEntityID   string
	State            State
	CreatedAt        time.Time
	LastActivity     time.Time
	TimeoutSeconds   int

	EphemeralKeys         *identity.EphemeralKeyPair
	RemoteIdentityPublic  []byte
	RemoteEphemeralPublic [32]byte
	SessionKeys           *identity.SessionKeys
	Challenge             []byte

	localSequence    uint32
	expectedSequence uint32
}

// NewSession starts a fresh session in INITIAL state, generating the
// ephemeral keypair used for this session's forward secrecy.
func NewSession(localEntityID, remoteEntityID string, timeoutSeconds int) (*Session, error) {
	keys, err := identity.NewEphemeralKeyPair()
	if err != nil {
		return nil, err
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = int(meshwire.DefaultSessionIdleTimeout.Seconds())
	}
	now := time.Now().UTC()
	return &Session{
		ID:             uuid.NewString(),
		LocalEntityID:  localEntityID,
		RemoteEntityID: remoteEntityID,
		State:          StateInitial,
		CreatedAt:      now,
		LastActivity:   now,
		TimeoutSeconds: timeoutSeconds,
		EphemeralKeys:  keys,
	}, nil
}

// touch refreshes last_activity; called on any valid send or receive.
func (s *Session) touch(now time.Time) {
	s.LastActivity = now
}

// isExpiredLocked reports whether the session has exceeded its idle
// timeout as of now. Callers must hold s.mu.
func (s *Session) isExpiredLocked(now time.Time) bool {
	return now.Sub(s.LastActivity) > time.Duration(s.TimeoutSeconds)*time.Second
}

// Transition moves the session to a new state after a valid handshake
// step, refreshing last_activity. An out-of-order call (target state
// not reachable from the current one) moves the session to ERROR
// instead and returns false.
func (s *Session) Transition(to State, now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !validTransition(s.State, to) {
		s.State = StateError
		return false
	}
	s.State = to
	s.touch(now)
	return true
}

// validTransition encodes the transitions each side of the six-step
// handshake actually drives (internal/handshake.Engine): the initiator
// (A) walks Initial -> HandshakeInitSent -> ChallengeResponseSent ->
// SessionConfirmedSent -> Ready, the responder (B) walks Initial ->
// HandshakeAckReceived -> SessionEstablishedRecvd -> Ready.
func validTransition(from, to State) bool {
	allowed := map[State][]State{
		StateInitial:                 {StateHandshakeInitSent, StateHandshakeAckReceived},
		StateHandshakeInitSent:       {StateChallengeResponseSent},
		StateHandshakeAckReceived:    {StateSessionEstablishedRecvd},
		StateChallengeResponseSent:   {StateSessionConfirmedSent},
		StateSessionEstablishedRecvd: {StateReady},
		StateSessionConfirmedSent:    {StateReady},
	}
	for _, next := range allowed[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SetSessionKeys installs the derived keys once ECDH + KDF complete.
// Per §4, session_keys is non-null only once the session has reached
// one of the three post-ECDH states.
func (s *Session) SetSessionKeys(keys identity.SessionKeys) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SessionKeys = &keys
}

// Ready reports whether the session is currently usable for application
// payloads: state READY and not expired as of now.
func (s *Session) Ready(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State != StateReady {
		return false
	}
	return !s.isExpiredLocked(now)
}

// NextOutboundSequence allocates the next local sequence number,
// wrapping from SequenceMax back to 0.
func (s *Session) NextOutboundSequence() uint32 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seq := s.localSequence
	if s.localSequence >= meshwire.SequenceMax {
		s.localSequence = 0
	} else {
		s.localSequence++
	}
	return seq
}

// AcceptInboundSequence validates an inbound sequence number against
// expected_sequence (§4.7):
//
//   - seq == expected: accept, advance expected to seq+1.
//   - seq > expected: accept a forward gap, advance expected to seq+1.
//   - seq < expected: reject as SEQUENCE_ERROR, UNLESS this is a
//     wraparound — expected is within SequenceWrapWindow of SequenceMax
//     and seq is within SequenceWrapWindow of 0 — in which case it is
//     treated as the continuation after wraparound and accepted.
func (s *Session) AcceptInboundSequence(seq uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq >= s.expectedSequence {
		s.expectedSequence = nextExpected(seq)
		return nil
	}
	if s.expectedSequence > meshwire.SequenceMax-meshwire.SequenceWrapWindow && seq < meshwire.SequenceWrapWindow {
		s.expectedSequence = nextExpected(seq)
		return nil
	}
	return ErrSequenceError
}

func nextExpected(seq uint32) uint32 {
	if seq >= meshwire.SequenceMax {
		return 0
	}
	return seq + 1
}

// Snapshot is a read-only diagnostic view of a session, used by Manager.List.
type Snapshot struct {
	ID             string
	RemoteEntityID string
	State          State
	LastActivity   time.Time
	Ready          bool
}

func (s *Session) snapshot(now time.Time) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	ready := s.State == StateReady && !s.isExpiredLocked(now)
	return Snapshot{ID: s.ID, RemoteEntityID: s.RemoteEntityID, State: s.State, LastActivity: s.LastActivity, Ready: ready}
}
