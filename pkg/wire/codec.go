package wire

import (
	"encoding/binary"
	"fmt"
)

// Wire layout (all multi-byte integers little-endian):
//
//	Init:    type(1) version(1) suiteCount(1) suites(n) ephKey(65) nonce(16) idLen(2) id
//	Respond: type(1) version(1) suite(1) ephKey(65) nonce(16) idLen(2) id sigLen(2) sig conf(32)
//	Finish:  type(1) sigLen(2) sig conf(32)

// Encode serializes m to its canonical byte sequence. It returns
// ErrInvalidMessage if a variable field violates the format bounds.
func Encode(m Message) ([]byte, error) {
	switch msg := m.(type) {
	case *Init:
		return encodeInit(msg)
	case *Respond:
		return encodeRespond(msg)
	case *Finish:
		return encodeFinish(msg)
	default:
		return nil, fmt.Errorf("%w: unsupported message %T", ErrInvalidMessage, m)
	}
}

func encodeInit(m *Init) ([]byte, error) {
	if len(m.Suites) == 0 || len(m.Suites) > MaxSuites {
		return nil, fmt.Errorf("%w: %d suites", ErrInvalidMessage, len(m.Suites))
	}
	for _, s := range m.Suites {
		if !s.Valid() {
			return nil, fmt.Errorf("%w: suite %d", ErrInvalidMessage, s)
		}
	}
	if err := checkIdentity(m.Identity); err != nil {
		return nil, err
	}

	w := newWriter(3 + len(m.Suites) + EphemeralKeySize + NonceSize + 2 + len(m.Identity))
	w.u8(uint8(TypeInit))
	w.u8(m.Version)
	w.u8(uint8(len(m.Suites)))
	for _, s := range m.Suites {
		w.u8(uint8(s))
	}
	w.raw(m.EphemeralKey[:])
	w.raw(m.Nonce[:])
	w.vec(m.Identity)
	return w.buf, nil
}

func encodeRespond(m *Respond) ([]byte, error) {
	if !m.Suite.Valid() {
		return nil, fmt.Errorf("%w: suite %d", ErrInvalidMessage, m.Suite)
	}
	if err := checkIdentity(m.Identity); err != nil {
		return nil, err
	}
	if err := checkSignature(m.Signature); err != nil {
		return nil, err
	}

	w := newWriter(3 + EphemeralKeySize + NonceSize + 2 + len(m.Identity) + 2 + len(m.Signature) + ConfirmationSize)
	w.u8(uint8(TypeRespond))
	w.u8(m.Version)
	w.u8(uint8(m.Suite))
	w.raw(m.EphemeralKey[:])
	w.raw(m.Nonce[:])
	w.vec(m.Identity)
	w.vec(m.Signature)
	w.raw(m.Confirmation[:])
	return w.buf, nil
}

func encodeFinish(m *Finish) ([]byte, error) {
	if err := checkSignature(m.Signature); err != nil {
		return nil, err
	}

	w := newWriter(1 + 2 + len(m.Signature) + ConfirmationSize)
	w.u8(uint8(TypeFinish))
	w.vec(m.Signature)
	w.raw(m.Confirmation[:])
	return w.buf, nil
}

func checkIdentity(id []byte) error {
	if len(id) == 0 {
		return fmt.Errorf("%w: identity", ErrInvalidMessage)
	}
	if len(id) > MaxIdentitySize {
		return fmt.Errorf("%w: identity %d bytes", ErrInvalidMessage, len(id))
	}
	return nil
}

func checkSignature(sig []byte) error {
	if len(sig) == 0 {
		return fmt.Errorf("%w: signature", ErrInvalidMessage)
	}
	if len(sig) > MaxSignatureSize {
		return fmt.Errorf("%w: signature %d bytes", ErrInvalidMessage, len(sig))
	}
	return nil
}

// Decode parses a canonical byte sequence into a handshake message. All
// failures wrap ErrDecode. Decode never reads past the supplied buffer and
// allocates only up to the range-checked field lengths.
func Decode(data []byte) (Message, error) {
	if len(data) > MaxMessageSize {
		return nil, decodeErr(ErrMessageTooLarge)
	}
	r := &reader{buf: data}

	t, err := r.u8()
	if err != nil {
		return nil, err
	}

	var m Message
	switch MsgType(t) {
	case TypeInit:
		m, err = decodeInit(r)
	case TypeRespond:
		m, err = decodeRespond(r)
	case TypeFinish:
		m, err = decodeFinish(r)
	default:
		return nil, decodeErr(fmt.Errorf("%w: %d", ErrUnknownMessageType, t))
	}
	if err != nil {
		return nil, err
	}
	if r.remaining() != 0 {
		return nil, decodeErr(fmt.Errorf("%w: %d bytes", ErrTrailingBytes, r.remaining()))
	}
	return m, nil
}

func decodeInit(r *reader) (*Init, error) {
	m := &Init{}
	var err error

	if m.Version, err = r.u8(); err != nil {
		return nil, err
	}

	count, err := r.u8()
	if err != nil {
		return nil, err
	}
	if count == 0 {
		return nil, decodeErr(fmt.Errorf("%w: suite list", ErrFieldEmpty))
	}
	if int(count) > MaxSuites {
		return nil, decodeErr(fmt.Errorf("%w: %d suites", ErrFieldTooLarge, count))
	}
	m.Suites = make([]Suite, 0, count)
	for i := 0; i < int(count); i++ {
		v, err := r.u8()
		if err != nil {
			return nil, err
		}
		s := Suite(v)
		if !s.Valid() {
			return nil, decodeErr(fmt.Errorf("%w: %d", ErrInvalidSuite, v))
		}
		m.Suites = append(m.Suites, s)
	}

	if err := r.fixed(m.EphemeralKey[:]); err != nil {
		return nil, err
	}
	if err := r.fixed(m.Nonce[:]); err != nil {
		return nil, err
	}
	if m.Identity, err = r.vec(MaxIdentitySize); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeRespond(r *reader) (*Respond, error) {
	m := &Respond{}
	var err error

	if m.Version, err = r.u8(); err != nil {
		return nil, err
	}
	v, err := r.u8()
	if err != nil {
		return nil, err
	}
	m.Suite = Suite(v)
	if !m.Suite.Valid() {
		return nil, decodeErr(fmt.Errorf("%w: %d", ErrInvalidSuite, v))
	}

	if err := r.fixed(m.EphemeralKey[:]); err != nil {
		return nil, err
	}
	if err := r.fixed(m.Nonce[:]); err != nil {
		return nil, err
	}
	if m.Identity, err = r.vec(MaxIdentitySize); err != nil {
		return nil, err
	}
	if m.Signature, err = r.vec(MaxSignatureSize); err != nil {
		return nil, err
	}
	if err := r.fixed(m.Confirmation[:]); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeFinish(r *reader) (*Finish, error) {
	m := &Finish{}
	var err error

	if m.Signature, err = r.vec(MaxSignatureSize); err != nil {
		return nil, err
	}
	if err := r.fixed(m.Confirmation[:]); err != nil {
		return nil, err
	}
	return m, nil
}

func decodeErr(err error) error {
	return fmt.Errorf("%w: %w", ErrDecode, err)
}

// reader is a bounds-checked cursor over the input buffer.
type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) u8() (uint8, error) {
	if r.remaining() < 1 {
		return 0, decodeErr(ErrTruncated)
	}
	v := r.buf[r.off]
	r.off++
	return v, nil
}

func (r *reader) u16() (uint16, error) {
	if r.remaining() < 2 {
		return 0, decodeErr(ErrTruncated)
	}
	v := binary.LittleEndian.Uint16(r.buf[r.off:])
	r.off += 2
	return v, nil
}

// fixed fills dst from the buffer, failing if not enough bytes remain.
func (r *reader) fixed(dst []byte) error {
	if r.remaining() < len(dst) {
		return decodeErr(ErrTruncated)
	}
	copy(dst, r.buf[r.off:])
	r.off += len(dst)
	return nil
}

// vec reads a u16 length prefix and the following bytes. The length is
// checked against both max and the remaining buffer before allocating.
func (r *reader) vec(max int) ([]byte, error) {
	n, err := r.u16()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, decodeErr(ErrFieldEmpty)
	}
	if int(n) > max {
		return nil, decodeErr(fmt.Errorf("%w: %d > %d", ErrFieldTooLarge, n, max))
	}
	if r.remaining() < int(n) {
		return nil, decodeErr(ErrTruncated)
	}
	out := make([]byte, n)
	copy(out, r.buf[r.off:])
	r.off += int(n)
	return out, nil
}

// writer appends fields to a pre-sized buffer.
type writer struct {
	buf []byte
}

func newWriter(size int) *writer {
	return &writer{buf: make([]byte, 0, size)}
}

func (w *writer) u8(v uint8) { w.buf = append(w.buf, v) }

func (w *writer) raw(b []byte) { w.buf = append(w.buf, b...) }

func (w *writer) vec(b []byte) {
	var l [2]byte
	binary.LittleEndian.PutUint16(l[:], uint16(len(b)))
	w.buf = append(w.buf, l[:]...)
	w.buf = append(w.buf, b...)
}
