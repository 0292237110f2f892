package handshake

import "errors"

// Errors returned by handshake operations. All of them are terminal for
// the session they occur on: the state machine moves to Failed and rejects
// further input.
var (
	// ErrInvalidState is returned when an operation does not match the
	// session's role or current state.
	ErrInvalidState = errors.New("handshake: invalid state for operation")

	// ErrUnsupportedVersion is returned when version negotiation fails.
	ErrUnsupportedVersion = errors.New("handshake: unsupported protocol version")

	// ErrUnsupportedSuite is returned when no proposed cipher suite is
	// permitted by local policy.
	ErrUnsupportedSuite = errors.New("handshake: no acceptable cipher suite")

	// ErrUntrustedPeer is returned when the peer's identity is valid but
	// absent from the local trust policy.
	ErrUntrustedPeer = errors.New("handshake: peer identity not trusted")

	// ErrOutOfOrderMessage is returned when a message kind is not valid in
	// the current state.
	ErrOutOfOrderMessage = errors.New("handshake: message out of order")

	// ErrReplayDetected is returned when a message arrives on a session
	// that already completed.
	ErrReplayDetected = errors.New("handshake: message replayed against completed session")

	// ErrKeyConfirmationMismatch is returned when the peer's confirmation
	// tag does not match the locally derived keys.
	ErrKeyConfirmationMismatch = errors.New("handshake: key confirmation mismatch")

	// ErrHandshakeFailed guards a session already in the Failed state.
	ErrHandshakeFailed = errors.New("handshake: session already failed")
)
