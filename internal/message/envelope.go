// Package message implements the secure envelope format (§6): canonical
// JSON serialization, Ed25519 signing, and AES-256-GCM AEAD encryption
// of the payload field.
package message

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/meshcore/agentmesh/internal/identity"
	"github.com/meshcore/agentmesh/internal/meshwire"
)

var (
	ErrUnsupportedVersion = errors.New("message: unsupported version")
	ErrInvalidSignature   = errors.New("message: invalid signature")
)

// Envelope is the wire-exact secure message. SessionID and SequenceNum
// are only present outside the handshake/ready exchange, hence pointers.
type Envelope struct {
	Version      string          `json:"version"`
	MsgType      string          `json:"msg_type"`
	SenderID     string          `json:"sender_id"`
	RecipientID  string          `json:"recipient_id"`
	Payload      json.RawMessage `json:"payload"`
	Timestamp    string          `json:"timestamp"`
	Nonce        string          `json:"nonce"`
	Signature    string          `json:"signature"`
	SessionID    string          `json:"session_id,omitempty"`
	SequenceNum  *uint32         `json:"sequence_num,omitempty"`
}

// NewEnvelope builds an unsigned envelope with a fresh 128-bit nonce and
// the current UTC timestamp in RFC-3339 form.
func NewEnvelope(msgType, senderID, recipientID string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, 16)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return &Envelope{
		Version:     meshwire.ProtocolVersion,
		MsgType:     msgType,
		SenderID:    senderID,
		RecipientID: recipientID,
		Payload:     raw,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Nonce:       hex.EncodeToString(nonce),
	}, nil
}

// canonicalBytes serializes the envelope with signature cleared (not
// removed) and members sorted lexicographically, the exact bytes both
// signing and verification operate over.
func (e *Envelope) canonicalBytes() ([]byte, error) {
	clone := *e
	clone.Signature = ""

	raw, err := json.Marshal(clone)
	if err != nil {
		return nil, err
	}
	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, err
	}
	// json.Marshal on a map sorts its keys, yielding the canonical form.
	return json.Marshal(asMap)
}

// Sign computes the envelope's signature using the sender's identity key.
func (e *Envelope) Sign(id *identity.Identity) error {
	canonical, err := e.canonicalBytes()
	if err != nil {
		return err
	}
	sig := id.Sign(canonical)
	e.Signature = base64.StdEncoding.EncodeToString(sig)
	return nil
}

// Verify checks the envelope's signature against the sender's known
// public key.
func (e *Envelope) Verify(senderPublicKey []byte) bool {
	sigBytes, err := base64.StdEncoding.DecodeString(e.Signature)
	if err != nil {
		return false
	}
	canonical, err := e.canonicalBytes()
	if err != nil {
		return false
	}
	return identity.Verify(senderPublicKey, canonical, sigBytes)
}

// associatedData is the AEAD additional-data input: the envelope's
// routing fields, canonicalized, independent of payload confidentiality.
func (e *Envelope) associatedData() ([]byte, error) {
	aad := struct {
		Version     string  `json:"version"`
		MsgType     string  `json:"msg_type"`
		SenderID    string  `json:"sender_id"`
		RecipientID string  `json:"recipient_id"`
		SessionID   string  `json:"session_id,omitempty"`
		SequenceNum *uint32 `json:"sequence_num,omitempty"`
	}{e.Version, e.MsgType, e.SenderID, e.RecipientID, e.SessionID, e.SequenceNum}

	raw, err := json.Marshal(aad)
	if err != nil {
		return nil, err
	}
	var asMap map[string]json.RawMessage
	if err := json.Unmarshal(raw, &asMap); err != nil {
		return nil, err
	}
	return json.Marshal(asMap)
}
