package session

import "errors"

// Errors returned by the session store.
var (
	// ErrDuplicateSession is returned by Put when a live entry already
	// exists under the same session ID.
	ErrDuplicateSession = errors.New("session: duplicate session ID")

	// ErrSessionNotFound is returned when no entry exists for the
	// session ID.
	ErrSessionNotFound = errors.New("session: session not found")

	// ErrSessionExpired is returned when the entry exists but its
	// inactivity window has elapsed. The entry is removed as a side
	// effect; subsequent lookups report not found.
	ErrSessionExpired = errors.New("session: session expired")

	// ErrStoreFull is returned by Put when the live-session cap is
	// reached.
	ErrStoreFull = errors.New("session: store full")

	// ErrInvalidKeys is returned by Put when the key record is
	// malformed.
	ErrInvalidKeys = errors.New("session: invalid key record")
)
