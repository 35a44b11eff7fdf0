package message

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// CipherPayload is the on-wire shape of an AES-256-GCM-sealed payload
// (§4.5): ciphertext and tag concatenated, then nonce, both base64.
type CipherPayload struct {
	Data  string `json:"data"`
	Nonce string `json:"nonce"`
}

// EncryptPayload seals plaintext under key (32 bytes) with a fresh
// 96-bit nonce, binding additionalData (the envelope's routing fields)
// as AEAD associated data.
func EncryptPayload(key [32]byte, plaintext, additionalData []byte) (CipherPayload, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return CipherPayload{}, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return CipherPayload{}, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return CipherPayload{}, err
	}
	sealed := gcm.Seal(nil, nonce, plaintext, additionalData)
	return CipherPayload{
		Data:  base64.StdEncoding.EncodeToString(sealed),
		Nonce: base64.StdEncoding.EncodeToString(nonce),
	}, nil
}

// DecryptPayload reverses EncryptPayload, returning DECRYPTION_FAILED
// semantics via a plain error (the session layer maps it to the
// protocol error code).
func DecryptPayload(key [32]byte, payload CipherPayload, additionalData []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce, err := base64.StdEncoding.DecodeString(payload.Nonce)
	if err != nil {
		return nil, fmt.Errorf("message: invalid nonce encoding: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(payload.Data)
	if err != nil {
		return nil, fmt.Errorf("message: invalid ciphertext encoding: %w", err)
	}
	return gcm.Open(nil, nonce, sealed, additionalData)
}

// EncryptEnvelopePayload replaces e.Payload with the AEAD-sealed form
// of plaintext, using the envelope's routing fields as associated data.
func (e *Envelope) EncryptEnvelopePayload(key [32]byte, plaintext []byte) error {
	aad, err := e.associatedData()
	if err != nil {
		return err
	}
	cp, err := EncryptPayload(key, plaintext, aad)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(cp)
	if err != nil {
		return err
	}
	e.Payload = raw
	return nil
}

// DecryptEnvelopePayload recovers the plaintext payload, verifying the
// AEAD tag against the envelope's routing fields.
func (e *Envelope) DecryptEnvelopePayload(key [32]byte) ([]byte, error) {
	var cp CipherPayload
	if err := json.Unmarshal(e.Payload, &cp); err != nil {
		return nil, err
	}
	aad, err := e.associatedData()
	if err != nil {
		return nil, err
	}
	return DecryptPayload(key, cp, aad)
}
