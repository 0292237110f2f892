package crypto

import "crypto/subtle"

// Zeroize overwrites b with zeros. Call it on every buffer that held
// secret key material before the buffer goes out of scope, including
// early-return failure paths.
func Zeroize(b []byte) {
	if len(b) == 0 {
		return
	}
	zero := make([]byte, len(b))
	subtle.ConstantTimeCopy(1, b, zero)
}
