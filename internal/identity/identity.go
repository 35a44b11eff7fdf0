// Package identity holds the core's key material: the long-lived
// Ed25519 signing identity, the per-session ephemeral X25519 keypair
// factory, and the SessionKeys derivation that turns an ECDH shared
// secret into the encryption and authentication keys used by a session.
package identity

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"errors"
)

var (
	ErrInvalidSignature = errors.New("identity: invalid signature")
	ErrInvalidPublicKey = errors.New("identity: invalid public key length")
)

// Identity is a node's long-lived signing keypair. It never rotates for
// the lifetime of the entity it names.
type Identity struct {
	PublicKey  ed25519.PublicKey
	PrivateKey ed25519.PrivateKey
}

// NewIdentity generates a fresh Ed25519 identity keypair.
func NewIdentity() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, err
	}
	return &Identity{PublicKey: pub, PrivateKey: priv}, nil
}

// FromPrivateKey restores an Identity from a 64-byte Ed25519 private key.
func FromPrivateKey(priv []byte) (*Identity, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, ErrInvalidPublicKey
	}
	pk := ed25519.PrivateKey(append([]byte(nil), priv...))
	pub := pk.Public().(ed25519.PublicKey)
	return &Identity{PublicKey: pub, PrivateKey: pk}, nil
}

// Sign produces a 64-byte signature over msg.
func (id *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(id.PrivateKey, msg)
}

// Verify checks a signature against an arbitrary public key, so a node
// can verify messages from peers without instantiating their Identity.
func Verify(pub []byte, msg, sig []byte) bool {
	if len(pub) != ed25519.PublicKeySize || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(pub, msg, sig)
}

// PublicKeyHex is the canonical wire form for a signing public key.
func (id *Identity) PublicKeyHex() string {
	return hex.EncodeToString(id.PublicKey)
}

func PublicKeyFromHex(s string) ([]byte, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(raw) != ed25519.PublicKeySize {
		return nil, ErrInvalidPublicKey
	}
	return raw, nil
}
