// Package meshwire holds the wire-level vocabulary shared by every core
// component: error codes, protocol version, and default timeouts.
package meshwire

import "fmt"

// Code identifies a protocol-level failure mode. Values match the
// error-code enum carried in an envelope's payload.error_code field.
type Code string

const (
	CodeDecryptionFailed   Code = "DECRYPTION_FAILED"
	CodeSessionExpired     Code = "SESSION_EXPIRED"
	CodeSequenceError      Code = "SEQUENCE_ERROR"
	CodeReplayDetected     Code = "REPLAY_DETECTED"
	CodeChecksumFailed     Code = "CHECKSUM_FAILED"
	CodeUnsupportedVersion Code = "UNSUPPORTED_VERSION"
	CodeUnknownSender      Code = "UNKNOWN_SENDER"
	CodeSendFailed         Code = "SEND_FAILED"
	CodeRateLimited        Code = "RATE_LIMITED"
)

// ProtocolError is the typed error surfaced at the peer-service dispatch
// boundary; it round-trips through payload.error_code on the wire.
type ProtocolError struct {
	Code    Code
	Message string
}

func (e *ProtocolError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func NewProtocolError(code Code, message string) *ProtocolError {
	return &ProtocolError{Code: code, Message: message}
}

// AsProtocolError wraps any error with a protocol error code so inbound
// dispatch can always respond with a well-formed error envelope.
func AsProtocolError(code Code, err error) *ProtocolError {
	if err == nil {
		return &ProtocolError{Code: code}
	}
	return &ProtocolError{Code: code, Message: err.Error()}
}
