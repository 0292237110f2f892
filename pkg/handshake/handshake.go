// Package handshake implements the AuthGraph mutual-authentication key
// exchange state machine.
//
// Two roles take part: the source initiates the exchange and the sink
// responds. The three-message flow is:
//
//	Init    (source -> sink): version + suite proposal, ephemeral key,
//	        nonce, identity evidence
//	Respond (sink -> source): negotiated version + suite, ephemeral key,
//	        nonce, identity evidence, transcript signature, confirmation tag
//	Finish  (source -> sink): transcript signature, confirmation tag
//
// Every derived key is bound to the full ordered transcript of the
// exchange, so tampering with any earlier message surfaces as a signature
// or key-confirmation failure rather than a silent key mismatch. All
// validation failures are terminal for the session; the caller starts a new
// handshake.
package handshake

// Handshake sizes.
const (
	// NonceSize is the per-handshake freshness nonce size.
	NonceSize = 16

	// SessionIDSize is the derived session identifier size.
	SessionIDSize = 32

	// SessionKeySize is the size of each directional session key. Both
	// cipher suites take 256-bit keys.
	SessionKeySize = 32

	// ConfirmationKeySize is the size of the derived confirmation key.
	ConfirmationKeySize = 32
)

// Key derivation info labels. Distinct labels separate the keys derived
// from one shared secret; both parties must use identical values.
var (
	sessionIDInfo    = []byte("authgraph session id")
	sourceToSinkInfo = []byte("authgraph key source to sink")
	sinkToSourceInfo = []byte("authgraph key sink to source")
	confirmationInfo = []byte("authgraph key confirmation")
)

// Signature and confirmation domain-separation labels.
var (
	respondSigLabel    = []byte("authgraph respond signature")
	finishSigLabel     = []byte("authgraph finish signature")
	sinkConfirmLabel   = []byte("authgraph sink confirm")
	sourceConfirmLabel = []byte("authgraph source confirm")
)

// Role distinguishes the two handshake participants.
type Role int

const (
	// RoleSource initiates the exchange.
	RoleSource Role = iota
	// RoleSink responds to the exchange.
	RoleSink
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleSource:
		return "Source"
	case RoleSink:
		return "Sink"
	default:
		return "Unknown"
	}
}

// State is the handshake state machine state.
type State int

const (
	// StateIdle is the source's state before it produces Init.
	StateIdle State = iota
	// StateAwaitingPeerInit is the sink's state before Init arrives.
	StateAwaitingPeerInit
	// StateAwaitingPeerResponse is the source's state after sending Init.
	StateAwaitingPeerResponse
	// StateAwaitingFinish is the sink's state after sending Respond.
	StateAwaitingFinish
	// StateEstablished is the terminal success state.
	StateEstablished
	// StateFailed is the terminal failure state, reachable from any
	// non-terminal state.
	StateFailed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateAwaitingPeerInit:
		return "AwaitingPeerInit"
	case StateAwaitingPeerResponse:
		return "AwaitingPeerResponse"
	case StateAwaitingFinish:
		return "AwaitingFinish"
	case StateEstablished:
		return "Established"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether s is a terminal state.
func (s State) Terminal() bool {
	return s == StateEstablished || s == StateFailed
}
