package crypto

import (
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
)

// P-256 sizes.
const (
	// P256ScalarSize is the group scalar size in bytes.
	P256ScalarSize = 32

	// P256PublicKeySize is the uncompressed public key size:
	// 0x04 || X (32 bytes) || Y (32 bytes).
	P256PublicKeySize = 65

	// P256SignatureSize is the fixed signature size (r || s).
	P256SignatureSize = 64
)

// Errors returned by P-256 operations.
var (
	// ErrInvalidPeerKey is returned when a peer public key is malformed
	// or not a valid point on the P-256 curve.
	ErrInvalidPeerKey = errors.New("crypto: peer public key is not a valid P-256 point")

	// ErrSignatureInvalid is returned when signature verification fails.
	ErrSignatureInvalid = errors.New("crypto: signature verification failed")
)

// P256KeyPair holds a P-256 key pair used both for ECDH key agreement
// (ephemeral handshake keys) and ECDSA signing (long-term identity keys).
type P256KeyPair struct {
	ecdhPrivate  *ecdh.PrivateKey
	ecdsaPrivate *ecdsa.PrivateKey
}

// GenerateP256KeyPair generates a key pair using crypto/rand.
func GenerateP256KeyPair() (*P256KeyPair, error) {
	return GenerateP256KeyPairFrom(rand.Reader)
}

// GenerateP256KeyPairFrom generates a key pair reading randomness from rng.
// The handshake state machine injects its random source here so tests can
// run deterministically.
func GenerateP256KeyPairFrom(rng io.Reader) (*P256KeyPair, error) {
	ecdhPriv, err := ecdh.P256().GenerateKey(rng)
	if err != nil {
		return nil, fmt.Errorf("crypto: P-256 key generation failed: %w", err)
	}
	ecdsaPriv, err := ecdhToECDSA(ecdhPriv)
	if err != nil {
		return nil, err
	}
	return &P256KeyPair{ecdhPrivate: ecdhPriv, ecdsaPrivate: ecdsaPriv}, nil
}

// P256KeyPairFromPrivateKey restores a key pair from a 32-byte scalar.
// Used when loading a long-term identity key from storage.
func P256KeyPairFromPrivateKey(privateKey []byte) (*P256KeyPair, error) {
	if len(privateKey) != P256ScalarSize {
		return nil, fmt.Errorf("crypto: private key must be %d bytes, got %d", P256ScalarSize, len(privateKey))
	}
	ecdhPriv, err := ecdh.P256().NewPrivateKey(privateKey)
	if err != nil {
		return nil, fmt.Errorf("crypto: invalid private key: %w", err)
	}
	ecdsaPriv, err := ecdhToECDSA(ecdhPriv)
	if err != nil {
		return nil, err
	}
	return &P256KeyPair{ecdhPrivate: ecdhPriv, ecdsaPrivate: ecdsaPriv}, nil
}

// PublicKey returns the public key in uncompressed form (65 bytes).
func (kp *P256KeyPair) PublicKey() []byte {
	return kp.ecdhPrivate.PublicKey().Bytes()
}

// PrivateKeyBytes returns the private scalar. The caller owns the returned
// slice and must Zeroize it after use.
func (kp *P256KeyPair) PrivateKeyBytes() []byte {
	return kp.ecdhPrivate.Bytes()
}

// Zeroize clears the scalar copies this key pair holds. The key pair must
// not be used afterwards.
//
// The crypto/ecdh private key itself is opaque and cannot be scrubbed from
// here; dropping the last reference is the best Go allows.
func (kp *P256KeyPair) Zeroize() {
	if kp.ecdsaPrivate != nil {
		kp.ecdsaPrivate.D.SetInt64(0)
	}
	kp.ecdhPrivate = nil
	kp.ecdsaPrivate = nil
}

// ecdhToECDSA derives the ECDSA view of an ECDH private key so the same
// scalar can be used for signing.
func ecdhToECDSA(ecdhKey *ecdh.PrivateKey) (*ecdsa.PrivateKey, error) {
	pubBytes := ecdhKey.PublicKey().Bytes()
	if len(pubBytes) != P256PublicKeySize || pubBytes[0] != 0x04 {
		return nil, errors.New("crypto: unexpected public key format")
	}
	return &ecdsa.PrivateKey{
		PublicKey: ecdsa.PublicKey{
			Curve: elliptic.P256(),
			X:     new(big.Int).SetBytes(pubBytes[1:33]),
			Y:     new(big.Int).SetBytes(pubBytes[33:65]),
		},
		D: new(big.Int).SetBytes(ecdhKey.Bytes()),
	}, nil
}

// P256Sign signs msg with ECDSA/SHA-256 and returns a fixed 64-byte
// signature (r || s, each component zero-padded to 32 bytes).
func P256Sign(kp *P256KeyPair, msg []byte) ([]byte, error) {
	digest := SHA256(msg)
	r, s, err := ecdsa.Sign(rand.Reader, kp.ecdsaPrivate, digest[:])
	if err != nil {
		return nil, fmt.Errorf("crypto: ECDSA sign failed: %w", err)
	}

	sig := make([]byte, P256SignatureSize)
	rb, sb := r.Bytes(), s.Bytes()
	copy(sig[P256ScalarSize-len(rb):P256ScalarSize], rb)
	copy(sig[P256SignatureSize-len(sb):], sb)
	return sig, nil
}

// P256Verify verifies a 64-byte signature over msg against an uncompressed
// public key. Returns ErrSignatureInvalid on any mismatch and
// ErrInvalidPeerKey if the public key is not a valid curve point.
func P256Verify(publicKey, msg, signature []byte) error {
	pub, err := parseP256PublicKey(publicKey)
	if err != nil {
		return err
	}
	if len(signature) != P256SignatureSize {
		return ErrSignatureInvalid
	}

	r := new(big.Int).SetBytes(signature[:P256ScalarSize])
	s := new(big.Int).SetBytes(signature[P256ScalarSize:])
	digest := SHA256(msg)
	if !ecdsa.Verify(pub, digest[:], r, s) {
		return ErrSignatureInvalid
	}
	return nil
}

// P256ECDH computes the ECDH shared secret between our private key and the
// peer's uncompressed public key. Returns ErrInvalidPeerKey if the peer key
// is malformed or off-curve. The caller owns the returned secret and must
// Zeroize it after key derivation.
func P256ECDH(kp *P256KeyPair, peerPublicKey []byte) ([]byte, error) {
	if len(peerPublicKey) != P256PublicKeySize || peerPublicKey[0] != 0x04 {
		return nil, ErrInvalidPeerKey
	}
	peerPub, err := ecdh.P256().NewPublicKey(peerPublicKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPeerKey, err)
	}
	secret, err := kp.ecdhPrivate.ECDH(peerPub)
	if err != nil {
		return nil, fmt.Errorf("crypto: ECDH computation failed: %w", err)
	}
	return secret, nil
}

// ValidateP256PublicKey checks that publicKey is a well-formed uncompressed
// point on the P-256 curve.
func ValidateP256PublicKey(publicKey []byte) error {
	_, err := parseP256PublicKey(publicKey)
	return err
}

func parseP256PublicKey(publicKey []byte) (*ecdsa.PublicKey, error) {
	if len(publicKey) != P256PublicKeySize || publicKey[0] != 0x04 {
		return nil, ErrInvalidPeerKey
	}
	x := new(big.Int).SetBytes(publicKey[1:33])
	y := new(big.Int).SetBytes(publicKey[33:65])
	if !elliptic.P256().IsOnCurve(x, y) {
		return nil, ErrInvalidPeerKey
	}
	return &ecdsa.PublicKey{Curve: elliptic.P256(), X: x, Y: y}, nil
}
