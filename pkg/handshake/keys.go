package handshake

import (
	"encoding/binary"

	"github.com/backkem/authgraph/pkg/crypto"
	"github.com/backkem/authgraph/pkg/wire"
)

// keySchedule holds the key material derived from one handshake. The
// session ID and directional keys are promoted into the Result on success;
// the confirmation key never leaves the state machine.
type keySchedule struct {
	sessionID    []byte
	sourceToSink []byte
	sinkToSource []byte
	confirmation []byte
}

// deriveKeySchedule runs the KDF over the ECDH shared secret and the
// transcript hash. Both parties call this with identical inputs and rely on
// HKDF determinism to arrive at the same keys independently.
func deriveKeySchedule(sharedSecret []byte, transcriptHash [crypto.SHA256Size]byte) (*keySchedule, error) {
	ks := &keySchedule{}
	for _, d := range []struct {
		dst  *[]byte
		info []byte
		size int
	}{
		{&ks.sessionID, sessionIDInfo, SessionIDSize},
		{&ks.sourceToSink, sourceToSinkInfo, SessionKeySize},
		{&ks.sinkToSource, sinkToSourceInfo, SessionKeySize},
		{&ks.confirmation, confirmationInfo, ConfirmationKeySize},
	} {
		out, err := crypto.HKDFSHA256(sharedSecret, transcriptHash[:], d.info, d.size)
		if err != nil {
			ks.zeroize()
			return nil, err
		}
		*d.dst = out
	}
	return ks, nil
}

// zeroize scrubs all derived material. Safe on partially filled schedules.
func (ks *keySchedule) zeroize() {
	crypto.Zeroize(ks.sessionID)
	crypto.Zeroize(ks.sourceToSink)
	crypto.Zeroize(ks.sinkToSource)
	crypto.Zeroize(ks.confirmation)
}

// respondTBS builds the byte sequence the sink signs in Respond: a domain
// label, the transcript hash after Init, and the Respond fields excluding
// the signature and confirmation tag themselves. The identity is length
// prefixed so field boundaries are unambiguous.
func respondTBS(initHash [crypto.SHA256Size]byte, m *wire.Respond) []byte {
	out := make([]byte, 0, len(respondSigLabel)+crypto.SHA256Size+2+wire.EphemeralKeySize+wire.NonceSize+2+len(m.Identity))
	out = append(out, respondSigLabel...)
	out = append(out, initHash[:]...)
	out = append(out, m.Version, uint8(m.Suite))
	out = append(out, m.EphemeralKey[:]...)
	out = append(out, m.Nonce[:]...)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(m.Identity)))
	out = append(out, m.Identity...)
	return out
}

// finishTBS builds the byte sequence the source signs in Finish. The
// transcript hash at this point covers Init, the Respond fields and the
// sink's signature, so the source's signature binds the entire exchange.
func finishTBS(transcriptHash [crypto.SHA256Size]byte) []byte {
	out := make([]byte, 0, len(finishSigLabel)+crypto.SHA256Size)
	out = append(out, finishSigLabel...)
	out = append(out, transcriptHash[:]...)
	return out
}

// confirmationTag computes a key-confirmation MAC over the transcript hash
// under the derived confirmation key. The label separates the sink's tag
// from the source's so the tags cannot be reflected.
func confirmationTag(confirmationKey, label []byte, transcriptHash [crypto.SHA256Size]byte) [wire.ConfirmationSize]byte {
	msg := make([]byte, 0, len(label)+crypto.SHA256Size)
	msg = append(msg, label...)
	msg = append(msg, transcriptHash[:]...)
	return crypto.HMACSHA256(confirmationKey, msg)
}
