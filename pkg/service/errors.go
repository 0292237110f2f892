package service

import "errors"

// Errors returned by the service facade.
var (
	// ErrBadEnvelope is returned when a request is too short to carry the
	// reference header.
	ErrBadEnvelope = errors.New("service: malformed request envelope")

	// ErrUnknownSessionRef is returned when the request references a
	// handshake context that does not exist.
	ErrUnknownSessionRef = errors.New("service: unknown session reference")

	// ErrSessionBusy is returned when a request arrives for a context
	// that is still processing a previous request. Steps on one context
	// are never interleaved.
	ErrSessionBusy = errors.New("service: session busy")

	// ErrTooManyHandshakes is returned when the in-flight handshake cap
	// is reached.
	ErrTooManyHandshakes = errors.New("service: too many handshakes in flight")
)
