package crypto

import (
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDFSHA256 derives key material using HKDF-SHA256 (RFC 5869).
//
// Parameters:
//   - inputKey: input keying material, typically the ECDH shared secret
//   - salt: optional salt, the handshake uses the transcript hash here
//   - info: context label separating the derived keys from each other
//   - length: number of bytes to derive
//
// The output is deterministic for identical inputs; both handshake parties
// rely on this to derive matching session keys independently.
func HKDFSHA256(inputKey, salt, info []byte, length int) ([]byte, error) {
	r := hkdf.New(sha256.New, inputKey, salt, info)
	out := make([]byte, length)
	if _, err := io.ReadFull(r, out); err != nil {
		return nil, err
	}
	return out, nil
}
