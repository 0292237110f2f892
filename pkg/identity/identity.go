// Package identity holds a party's long-term signing identity and the trust
// policy that decides which peers it will establish sessions with.
//
// Trust lookups on the handshake path are read-only; administrative updates
// (replacing the local identity, adding or removing trusted peers) take
// exclusive access and must not run concurrently with an in-flight
// handshake that depends on them.
package identity

import (
	"errors"
	"fmt"

	"github.com/backkem/authgraph/pkg/crypto"
)

// Errors returned by identity operations.
var (
	// ErrNoIdentity is returned when no local identity has been loaded.
	ErrNoIdentity = errors.New("identity: no local identity loaded")

	// ErrInvalidEvidence is returned when peer identity evidence cannot be
	// parsed into a public key.
	ErrInvalidEvidence = errors.New("identity: invalid identity evidence")
)

// Identity is a long-term P-256 signing identity: the private half is held
// only by the local party, the evidence form is what peers see on the wire.
// An Identity is immutable once created.
type Identity struct {
	signer   *crypto.P256KeyPair
	evidence []byte
}

// New creates an Identity from a signing key pair. The identity evidence is
// currently the raw uncompressed public key; a certificate chain form can
// replace it without changing the handshake, which treats evidence as
// opaque bytes bound into the transcript.
func New(signer *crypto.P256KeyPair) (*Identity, error) {
	if signer == nil {
		return nil, ErrNoIdentity
	}
	pub := signer.PublicKey()
	if err := crypto.ValidateP256PublicKey(pub); err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	return &Identity{signer: signer, evidence: pub}, nil
}

// Generate creates a fresh Identity with a newly generated signing key.
func Generate() (*Identity, error) {
	kp, err := crypto.GenerateP256KeyPair()
	if err != nil {
		return nil, err
	}
	return New(kp)
}

// Evidence returns the identity evidence presented to peers. Callers must
// not modify the returned slice.
func (id *Identity) Evidence() []byte {
	return id.evidence
}

// PublicKey returns the uncompressed signing public key.
func (id *Identity) PublicKey() []byte {
	return id.evidence
}

// Sign signs msg with the identity's private key.
func (id *Identity) Sign(msg []byte) ([]byte, error) {
	return crypto.P256Sign(id.signer, msg)
}

// VerifyEvidence checks that evidence parses as a valid public key and
// returns that key. The trust decision is separate; see PolicyStore.IsTrusted.
func VerifyEvidence(evidence []byte) ([]byte, error) {
	if err := crypto.ValidateP256PublicKey(evidence); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEvidence, err)
	}
	return evidence, nil
}
