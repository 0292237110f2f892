package handshake

import (
	"hash"

	"github.com/backkem/authgraph/pkg/crypto"
)

// Transcript is the append-only, order-preserving record of the handshake.
// It maintains a running SHA-256 over the exact bytes contributed by each
// protocol step; every derived key and every signature is bound to a
// transcript hash, so tampering with an earlier message invalidates later
// verification steps.
type Transcript struct {
	h hash.Hash
}

// NewTranscript returns an empty transcript.
func NewTranscript() *Transcript {
	return &Transcript{h: crypto.NewSHA256()}
}

// Append mixes data into the transcript. Order matters; both parties must
// append identical byte sequences in identical order.
func (t *Transcript) Append(data []byte) {
	// hash.Hash.Write never returns an error.
	t.h.Write(data)
}

// Hash returns the digest over everything appended so far. Appending may
// continue afterwards.
func (t *Transcript) Hash() [crypto.SHA256Size]byte {
	var out [crypto.SHA256Size]byte
	copy(out[:], t.h.Sum(nil))
	return out
}
