// Package session stores the keys of established sessions between the end
// of a handshake and their hand-off to whatever protects application
// traffic.
//
// Entries live until explicitly invalidated or until they sit unused past
// the configured inactivity window. Expiry removes entries rather than
// flagging them; an expired entry observed during an access is scrubbed on
// the spot and the access reports ErrSessionExpired exactly once.
package session

import (
	"sync"
	"time"

	"github.com/backkem/authgraph/pkg/crypto"
	"github.com/backkem/authgraph/pkg/wire"
)

const (
	// DefaultMaxSessions caps the number of live entries.
	DefaultMaxSessions = 64

	// DefaultInactivityWindow is how long an untouched entry stays live.
	DefaultInactivityWindow = 5 * time.Minute
)

// Keys is the key record of one established session.
type Keys struct {
	// SessionID identifies the session; both parties hold the same value.
	SessionID []byte

	// SourceToSink protects traffic from source to sink.
	SourceToSink []byte

	// SinkToSource protects traffic from sink to source.
	SinkToSource []byte

	// Version is the negotiated protocol version.
	Version uint8

	// Suite is the negotiated cipher suite.
	Suite wire.Suite

	// PeerIdentity is the peer's verified identity public key.
	PeerIdentity []byte
}

// clone deep-copies the record so the store and the caller never share
// backing arrays; either side can be scrubbed independently.
func (k *Keys) clone() *Keys {
	return &Keys{
		SessionID:    append([]byte(nil), k.SessionID...),
		SourceToSink: append([]byte(nil), k.SourceToSink...),
		SinkToSource: append([]byte(nil), k.SinkToSource...),
		Version:      k.Version,
		Suite:        k.Suite,
		PeerIdentity: append([]byte(nil), k.PeerIdentity...),
	}
}

// zeroize scrubs all key material in place.
func (k *Keys) zeroize() {
	crypto.Zeroize(k.SourceToSink)
	crypto.Zeroize(k.SinkToSource)
}

// StoreConfig configures a Store.
type StoreConfig struct {
	// MaxSessions caps live entries. Zero means DefaultMaxSessions.
	MaxSessions int

	// InactivityWindow is how long an entry may go untouched before it
	// expires. Zero means DefaultInactivityWindow.
	InactivityWindow time.Duration

	// Now is the clock. Defaults to time.Now. Injectable for tests.
	Now func() time.Time
}

type entry struct {
	keys     *Keys
	lastUsed time.Time
}

// Store is a mutex-guarded table of established sessions keyed by session
// ID. Get refreshes the entry's inactivity timer.
type Store struct {
	mu      sync.Mutex
	config  StoreConfig
	entries map[string]*entry
}

// NewStore creates an empty Store.
func NewStore(config StoreConfig) *Store {
	if config.MaxSessions == 0 {
		config.MaxSessions = DefaultMaxSessions
	}
	if config.InactivityWindow == 0 {
		config.InactivityWindow = DefaultInactivityWindow
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &Store{
		config:  config,
		entries: make(map[string]*entry),
	}
}

// Put stores the keys of a newly established session. The record is copied;
// the caller keeps ownership of its own buffers.
func (s *Store) Put(keys *Keys) error {
	if keys == nil || len(keys.SessionID) == 0 {
		return ErrInvalidKeys
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.config.Now()
	id := string(keys.SessionID)

	if old, ok := s.entries[id]; ok {
		if !s.expired(old, now) {
			return ErrDuplicateSession
		}
		// The previous session under this ID already timed out; scrub it
		// and let the fresh one take the slot.
		s.remove(id)
	}

	s.sweepLocked(now)
	if len(s.entries) >= s.config.MaxSessions {
		return ErrStoreFull
	}

	s.entries[id] = &entry{keys: keys.clone(), lastUsed: now}
	return nil
}

// Get returns a copy of the session's key record and refreshes its
// inactivity timer. An entry past its window is removed and reported as
// expired.
func (s *Store) Get(sessionID []byte) (*Keys, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[string(sessionID)]
	if !ok {
		return nil, ErrSessionNotFound
	}

	now := s.config.Now()
	if s.expired(e, now) {
		s.remove(string(sessionID))
		return nil, ErrSessionExpired
	}

	e.lastUsed = now
	return e.keys.clone(), nil
}

// Invalidate scrubs and removes the session.
func (s *Store) Invalidate(sessionID []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[string(sessionID)]; !ok {
		return ErrSessionNotFound
	}
	s.remove(string(sessionID))
	return nil
}

// Sweep removes every entry whose inactivity window elapsed before now and
// returns how many were removed.
func (s *Store) Sweep(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sweepLocked(now)
}

// Len returns the number of live entries, counting entries that expired but
// have not been observed yet.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

func (s *Store) expired(e *entry, now time.Time) bool {
	return now.Sub(e.lastUsed) > s.config.InactivityWindow
}

// remove scrubs and deletes; caller holds the lock.
func (s *Store) remove(id string) {
	if e, ok := s.entries[id]; ok {
		e.keys.zeroize()
		delete(s.entries, id)
	}
}

func (s *Store) sweepLocked(now time.Time) int {
	removed := 0
	for id, e := range s.entries {
		if s.expired(e, now) {
			s.remove(id)
			removed++
		}
	}
	return removed
}
