package identity

import (
	"crypto/rand"
	"crypto/sha256"

	"golang.org/x/crypto/curve25519"
)

// EphemeralKeyPair is a per-session X25519 keypair used only for the
// handshake's key exchange; it is discarded once the session ends, so a
// compromise of a long-lived Identity does not expose past traffic.
type EphemeralKeyPair struct {
	PrivateKey [32]byte
	PublicKey  [32]byte
}

// NewEphemeralKeyPair generates a fresh X25519 keypair.
func NewEphemeralKeyPair() (*EphemeralKeyPair, error) {
	var priv [32]byte
	if _, err := rand.Read(priv[:]); err != nil {
		return nil, err
	}
	pub, err := curve25519.X25519(priv[:], curve25519.Basepoint)
	if err != nil {
		return nil, err
	}
	kp := &EphemeralKeyPair{PrivateKey: priv}
	copy(kp.PublicKey[:], pub)
	return kp, nil
}

// SharedSecret performs the ECDH step of the handshake, combining this
// side's ephemeral private key with the peer's ephemeral public key.
func (kp *EphemeralKeyPair) SharedSecret(peerPublic [32]byte) ([]byte, error) {
	return curve25519.X25519(kp.PrivateKey[:], peerPublic[:])
}

// SessionKeys are the two 32-byte keys a handshake produces: one for
// AES-256-GCM payload encryption, one for message authentication.
type SessionKeys struct {
	EncryptionKey [32]byte
	AuthKey       [32]byte
}

// DeriveSessionKeys implements the fixed two-label SHA-256 construction:
// PRK = SHA-256(shared_secret); enc_key = SHA-256(PRK || "encryption");
// auth_key = SHA-256(PRK || "authentication"). This is deliberately not
// HKDF — it matches the handshake's wire-exact derivation so both sides
// of a session compute identical keys from the same ECDH result.
func DeriveSessionKeys(sharedSecret []byte) SessionKeys {
	prk := sha256.Sum256(sharedSecret)

	encInput := append(append([]byte(nil), prk[:]...), []byte("encryption")...)
	authInput := append(append([]byte(nil), prk[:]...), []byte("authentication")...)

	return SessionKeys{
		EncryptionKey: sha256.Sum256(encInput),
		AuthKey:       sha256.Sum256(authInput),
	}
}
