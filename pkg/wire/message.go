// Package wire defines the AuthGraph handshake messages and their canonical
// byte encoding.
//
// Decoding is strict: unknown message kinds, out-of-range enumerated values,
// truncated buffers, length-field mismatches and trailing bytes all fail
// with a typed error. No input byte sequence may cause a panic or an
// allocation larger than the range-checked field lengths; this package is
// the primary target of the adversarial fuzz corpus.
package wire

import "github.com/backkem/authgraph/pkg/crypto"

// Size limits for the wire encoding.
const (
	// NonceSize is the size of the per-handshake freshness nonce.
	NonceSize = 16

	// EphemeralKeySize is the size of an uncompressed P-256 public key.
	EphemeralKeySize = crypto.P256PublicKeySize

	// ConfirmationSize is the size of a key-confirmation tag (HMAC-SHA256).
	ConfirmationSize = 32

	// MaxIdentitySize bounds the identity evidence field.
	MaxIdentitySize = 1024

	// MaxSignatureSize bounds the signature field.
	MaxSignatureSize = 128

	// MaxSuites bounds the proposed cipher suite list in Init.
	MaxSuites = 8

	// MaxMessageSize bounds a complete encoded handshake message.
	MaxMessageSize = 4096
)

// MsgType identifies a handshake message kind on the wire.
type MsgType uint8

const (
	// TypeInit is the first message, source to sink.
	TypeInit MsgType = 1
	// TypeRespond is the second message, sink to source.
	TypeRespond MsgType = 2
	// TypeFinish is the third message, source to sink.
	TypeFinish MsgType = 3
)

// String returns the message kind name.
func (t MsgType) String() string {
	switch t {
	case TypeInit:
		return "Init"
	case TypeRespond:
		return "Respond"
	case TypeFinish:
		return "Finish"
	default:
		return "Unknown"
	}
}

// Suite identifies a cipher suite.
type Suite uint8

const (
	// SuiteP256AESGCM is ECDH P-256 / ECDSA P-256 / HKDF-SHA256 / AES-256-GCM.
	SuiteP256AESGCM Suite = 1

	// SuiteP256ChaCha20 is ECDH P-256 / ECDSA P-256 / HKDF-SHA256 / ChaCha20-Poly1305.
	SuiteP256ChaCha20 Suite = 2
)

// Valid reports whether s is a defined cipher suite.
func (s Suite) Valid() bool {
	return s == SuiteP256AESGCM || s == SuiteP256ChaCha20
}

// String returns the suite name.
func (s Suite) String() string {
	switch s {
	case SuiteP256AESGCM:
		return "P256-HKDF-AESGCM256"
	case SuiteP256ChaCha20:
		return "P256-HKDF-CHACHA20POLY1305"
	default:
		return "Unknown"
	}
}

// Message is the closed set of handshake message variants. Exactly Init,
// Respond and Finish implement it; the codec and the state machine switch
// exhaustively over the concrete types.
type Message interface {
	// Type returns the wire kind of the message.
	Type() MsgType

	isMessage()
}

// Init is the first handshake message, sent by the source. It proposes a
// protocol version and cipher suites and carries the source's ephemeral
// key, freshness nonce and identity evidence.
type Init struct {
	Version      uint8
	Suites       []Suite
	EphemeralKey [EphemeralKeySize]byte
	Nonce        [NonceSize]byte
	Identity     []byte
}

// Type implements Message.
func (*Init) Type() MsgType { return TypeInit }

func (*Init) isMessage() {}

// Respond is the second handshake message, sent by the sink. It fixes the
// negotiated version and suite, and carries the sink's ephemeral key,
// nonce, identity evidence, a signature over the transcript prefix, and
// the sink's key-confirmation tag.
type Respond struct {
	Version      uint8
	Suite        Suite
	EphemeralKey [EphemeralKeySize]byte
	Nonce        [NonceSize]byte
	Identity     []byte
	Signature    []byte
	Confirmation [ConfirmationSize]byte
}

// Type implements Message.
func (*Respond) Type() MsgType { return TypeRespond }

func (*Respond) isMessage() {}

// Finish is the third handshake message, sent by the source. It carries the
// source's signature over the full transcript and the source's
// key-confirmation tag.
type Finish struct {
	Signature    []byte
	Confirmation [ConfirmationSize]byte
}

// Type implements Message.
func (*Finish) Type() MsgType { return TypeFinish }

func (*Finish) isMessage() {}
