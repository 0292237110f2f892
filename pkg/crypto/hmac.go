package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
)

// HMACSHA256 computes the HMAC-SHA256 of msg under key.
// Key-confirmation tags in the handshake are HMAC-SHA256 values.
func HMACSHA256(key, msg []byte) [SHA256Size]byte {
	h := hmac.New(sha256.New, key)
	h.Write(msg)
	var out [SHA256Size]byte
	copy(out[:], h.Sum(nil))
	return out
}

// HMACEqual compares two MACs in constant time.
// Always use this instead of bytes.Equal when comparing tags.
func HMACEqual(a, b []byte) bool {
	return hmac.Equal(a, b)
}
