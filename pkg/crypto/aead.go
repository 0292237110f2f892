// AEAD ciphers for the two AuthGraph cipher suites. The handshake derives
// one 32-byte key per direction; traffic protection on an established
// session uses one of these ciphers depending on the negotiated suite.

package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"errors"

	"golang.org/x/crypto/chacha20poly1305"
)

// AEAD sizes shared by both suites.
const (
	// AEADKeySize is the symmetric key length (AES-256 and ChaCha20 both
	// take 32-byte keys).
	AEADKeySize = 32

	// AEADNonceSize is the nonce length (96 bits for both ciphers).
	AEADNonceSize = 12

	// AEADTagSize is the authentication tag length.
	AEADTagSize = 16
)

// Errors returned by AEAD operations.
var (
	ErrAEADInvalidKeySize   = errors.New("crypto: AEAD key must be 32 bytes")
	ErrAEADInvalidNonceSize = errors.New("crypto: AEAD nonce must be 12 bytes")
	ErrAEADAuthFailed       = errors.New("crypto: AEAD authentication failed")
)

// NewAESGCM returns an AES-256-GCM AEAD for the given key (cipher suite 1).
func NewAESGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != AEADKeySize {
		return nil, ErrAEADInvalidKeySize
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// NewChaCha20Poly1305 returns a ChaCha20-Poly1305 AEAD for the given key
// (cipher suite 2).
func NewChaCha20Poly1305(key []byte) (cipher.AEAD, error) {
	if len(key) != AEADKeySize {
		return nil, ErrAEADInvalidKeySize
	}
	return chacha20poly1305.New(key)
}

// AEADSeal encrypts and authenticates plaintext with the given AEAD.
// Returns ciphertext || tag.
func AEADSeal(aead cipher.AEAD, nonce, plaintext, aad []byte) ([]byte, error) {
	if len(nonce) != AEADNonceSize {
		return nil, ErrAEADInvalidNonceSize
	}
	return aead.Seal(nil, nonce, plaintext, aad), nil
}

// AEADOpen decrypts and verifies ciphertext || tag produced by AEADSeal.
// Returns ErrAEADAuthFailed if the tag does not verify.
func AEADOpen(aead cipher.AEAD, nonce, ciphertext, aad []byte) ([]byte, error) {
	if len(nonce) != AEADNonceSize {
		return nil, ErrAEADInvalidNonceSize
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAEADAuthFailed
	}
	return plaintext, nil
}
