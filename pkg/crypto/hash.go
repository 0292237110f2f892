// Package crypto provides the cryptographic primitives for the AuthGraph
// key exchange protocol: P-256 key agreement and signatures, HKDF-SHA256
// key derivation, HMAC-SHA256 confirmation tags, and the AEAD ciphers of
// the two supported cipher suites.
//
// All secret key material handed out by this package should be released
// with Zeroize once it is no longer needed.
package crypto

import (
	"crypto/sha256"
	"hash"
)

// SHA256Size is the SHA-256 output length in bytes.
const SHA256Size = 32

// SHA256 computes the SHA-256 digest of msg.
func SHA256(msg []byte) [SHA256Size]byte {
	return sha256.Sum256(msg)
}

// NewSHA256 returns a hash.Hash computing SHA-256 incrementally.
// Used for the running handshake transcript hash.
func NewSHA256() hash.Hash {
	return sha256.New()
}
