package identity

import (
	"sync"

	"github.com/backkem/authgraph/pkg/crypto"
	"github.com/backkem/authgraph/pkg/wire"
)

// PolicyStore holds the local identity plus the set of peer public keys the
// local party trusts, and the protocol versions and cipher suites it will
// negotiate.
//
// Reads (trust checks, version/suite queries) take the read lock so
// concurrent handshakes proceed in parallel; administrative mutation takes
// the write lock.
type PolicyStore struct {
	mu sync.RWMutex

	own     *Identity
	trusted map[[crypto.P256PublicKeySize]byte]struct{}

	minVersion uint8
	maxVersion uint8
	suites     []wire.Suite
}

// PolicyConfig configures a PolicyStore.
type PolicyConfig struct {
	// Identity is the local long-term identity. Required.
	Identity *Identity

	// MinVersion and MaxVersion bound the accepted protocol versions.
	// Zero values default to version 1.
	MinVersion uint8
	MaxVersion uint8

	// Suites lists the permitted cipher suites in preference order.
	// Empty defaults to both defined suites, AES-GCM preferred.
	Suites []wire.Suite
}

// NewPolicyStore creates a PolicyStore with no trusted peers.
func NewPolicyStore(config PolicyConfig) (*PolicyStore, error) {
	if config.Identity == nil {
		return nil, ErrNoIdentity
	}
	if config.MinVersion == 0 {
		config.MinVersion = 1
	}
	if config.MaxVersion == 0 {
		config.MaxVersion = 1
	}
	if len(config.Suites) == 0 {
		config.Suites = []wire.Suite{wire.SuiteP256AESGCM, wire.SuiteP256ChaCha20}
	}

	return &PolicyStore{
		own:        config.Identity,
		trusted:    make(map[[crypto.P256PublicKeySize]byte]struct{}),
		minVersion: config.MinVersion,
		maxVersion: config.MaxVersion,
		suites:     append([]wire.Suite(nil), config.Suites...),
	}, nil
}

// OwnIdentity returns the local identity.
func (p *PolicyStore) OwnIdentity() *Identity {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.own
}

// IsTrusted reports whether the peer public key is in the trust set.
// Side-effect free; safe to call from concurrent handshakes.
func (p *PolicyStore) IsTrusted(peerPublicKey []byte) bool {
	key, ok := trustKey(peerPublicKey)
	if !ok {
		return false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	_, trusted := p.trusted[key]
	return trusted
}

// SupportsVersion reports whether v is within the accepted version range.
func (p *PolicyStore) SupportsVersion(v uint8) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return v >= p.minVersion && v <= p.maxVersion
}

// MaxVersion returns the highest accepted protocol version.
func (p *PolicyStore) MaxVersion() uint8 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.maxVersion
}

// SupportsSuite reports whether s is a permitted cipher suite.
func (p *PolicyStore) SupportsSuite(s wire.Suite) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, have := range p.suites {
		if have == s {
			return true
		}
	}
	return false
}

// Suites returns the permitted cipher suites in preference order.
func (p *PolicyStore) Suites() []wire.Suite {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]wire.Suite(nil), p.suites...)
}

// SelectSuite picks the first locally permitted suite from a peer's
// proposal list, in local preference order. Returns false if there is no
// overlap.
func (p *PolicyStore) SelectSuite(proposed []wire.Suite) (wire.Suite, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, local := range p.suites {
		for _, remote := range proposed {
			if local == remote {
				return local, true
			}
		}
	}
	return 0, false
}

// AddTrusted adds a peer public key to the trust set. Administrative
// operation; takes exclusive access.
func (p *PolicyStore) AddTrusted(peerPublicKey []byte) error {
	key, ok := trustKey(peerPublicKey)
	if !ok {
		return ErrInvalidEvidence
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.trusted[key] = struct{}{}
	return nil
}

// RemoveTrusted removes a peer public key from the trust set. Removing an
// unknown key is not an error.
func (p *PolicyStore) RemoveTrusted(peerPublicKey []byte) {
	key, ok := trustKey(peerPublicKey)
	if !ok {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.trusted, key)
}

// TrustedCount returns the number of trusted peers.
func (p *PolicyStore) TrustedCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.trusted)
}

// ReplaceIdentity swaps the local identity. Administrative operation; must
// not run concurrently with handshakes that already captured the old
// identity.
func (p *PolicyStore) ReplaceIdentity(id *Identity) error {
	if id == nil {
		return ErrNoIdentity
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.own = id
	return nil
}

func trustKey(peerPublicKey []byte) ([crypto.P256PublicKeySize]byte, bool) {
	var key [crypto.P256PublicKeySize]byte
	if len(peerPublicKey) != crypto.P256PublicKeySize {
		return key, false
	}
	copy(key[:], peerPublicKey)
	return key, true
}
