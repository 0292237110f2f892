package handshake

import (
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"io"
	"sync"

	"github.com/backkem/authgraph/pkg/crypto"
	"github.com/backkem/authgraph/pkg/identity"
	"github.com/backkem/authgraph/pkg/wire"
)

// Config configures a handshake session.
type Config struct {
	// Policy provides the local identity and the peer trust policy.
	// Required. The same store may back many concurrent sessions.
	Policy *identity.PolicyStore

	// Rand is the randomness source for nonces and ephemeral keys.
	// Defaults to crypto/rand. Injectable for tests.
	Rand io.Reader
}

// Result is the outcome of a successful handshake. The directional keys
// are handed to the caller exactly once; the state machine keeps no copy.
type Result struct {
	// SessionID identifies the established session; both parties derive
	// the same value.
	SessionID []byte

	// SourceToSink protects traffic from source to sink.
	SourceToSink []byte

	// SinkToSource protects traffic from sink to source.
	SinkToSource []byte

	// Version is the negotiated protocol version.
	Version uint8

	// Suite is the negotiated cipher suite.
	Suite wire.Suite

	// PeerIdentity is the peer's verified identity public key.
	PeerIdentity []byte
}

// Session is one party's state for a single handshake. A Session advances
// strictly forward: each entry point consumes or produces exactly one
// protocol message, and any validation failure moves the session to the
// terminal Failed state.
//
// Source flow:
//
//	s, _ := handshake.NewSource(cfg)
//	init, _ := s.Start()
//	finish, result, _ := s.HandleRespond(respondBytes)
//
// Sink flow:
//
//	k, _ := handshake.NewSink(cfg)
//	respond, _ := k.HandleInit(initBytes)
//	result, _ := k.HandleFinish(finishBytes)
//
// Methods on one Session must not be called concurrently; the transcript
// is order-dependent. Callers that multiplex sessions serialize per
// session (see pkg/service).
type Session struct {
	role   Role
	state  State
	policy *identity.PolicyStore
	rand   io.Reader

	// Negotiated parameters.
	version uint8
	suite   wire.Suite

	// Local ephemeral key pair; zeroized once the shared secret exists.
	ephKey *crypto.P256KeyPair

	// Peer's verified identity key (sink: learned from Init; source:
	// learned from Respond).
	peerIdentityKey []byte

	transcript *Transcript
	keys       *keySchedule

	failure error

	mu sync.Mutex
}

// NewSource creates the initiating party of a handshake.
func NewSource(config Config) (*Session, error) {
	return newSession(RoleSource, StateIdle, config)
}

// NewSink creates the responding party of a handshake.
func NewSink(config Config) (*Session, error) {
	return newSession(RoleSink, StateAwaitingPeerInit, config)
}

func newSession(role Role, initial State, config Config) (*Session, error) {
	if config.Policy == nil {
		return nil, identity.ErrNoIdentity
	}
	if config.Rand == nil {
		config.Rand = rand.Reader
	}
	return &Session{
		role:       role,
		state:      initial,
		policy:     config.Policy,
		rand:       config.Rand,
		transcript: NewTranscript(),
	}, nil
}

// Role returns the session's role.
func (s *Session) Role() Role {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.role
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the failure that moved the session to Failed, or nil.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failure
}

// Abort moves a session that will never complete to the terminal Failed
// state and scrubs its key material. Aborting a terminal session is a
// no-op.
func (s *Session) Abort() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Terminal() {
		return
	}
	s.fail(ErrHandshakeFailed)
}

// Start produces the Init message (source only) and moves the session to
// AwaitingPeerResponse. Each call to Start on a fresh session draws a new
// nonce and a new ephemeral key, so repeated handshakes from one identity
// never share freshness material.
func (s *Session) Start() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.role != RoleSource {
		return nil, fmt.Errorf("%w: Start is source only", ErrInvalidState)
	}
	if s.state != StateIdle {
		return nil, fmt.Errorf("%w: expected Idle, got %s", ErrInvalidState, s.state)
	}

	msg := &wire.Init{
		Version:  s.policy.MaxVersion(),
		Suites:   s.policy.Suites(),
		Identity: s.policy.OwnIdentity().Evidence(),
	}
	if _, err := io.ReadFull(s.rand, msg.Nonce[:]); err != nil {
		return nil, s.fail(fmt.Errorf("handshake: nonce generation failed: %w", err))
	}

	var err error
	s.ephKey, err = crypto.GenerateP256KeyPairFrom(s.rand)
	if err != nil {
		return nil, s.fail(err)
	}
	copy(msg.EphemeralKey[:], s.ephKey.PublicKey())

	encoded, err := wire.Encode(msg)
	if err != nil {
		return nil, s.fail(err)
	}

	s.version = msg.Version
	s.transcript.Append(encoded)
	s.state = StateAwaitingPeerResponse
	return encoded, nil
}

// HandleInit consumes an Init message (sink only), negotiates version and
// suite, and produces the Respond message. The sink derives its session
// keys here; they are released by HandleFinish once the source has proven
// key confirmation.
func (s *Session) HandleInit(data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.role != RoleSink {
		return nil, fmt.Errorf("%w: HandleInit is sink only", ErrInvalidState)
	}

	msg, next, err := s.consume(data, wire.TypeInit)
	if err != nil {
		return nil, err
	}
	init := msg.(*wire.Init)

	// Version negotiation: take the highest version both sides support.
	version := init.Version
	if max := s.policy.MaxVersion(); version > max {
		version = max
	}
	if !s.policy.SupportsVersion(version) {
		return nil, s.fail(fmt.Errorf("%w: peer proposed %d", ErrUnsupportedVersion, init.Version))
	}

	suite, ok := s.policy.SelectSuite(init.Suites)
	if !ok {
		return nil, s.fail(fmt.Errorf("%w: proposed %v", ErrUnsupportedSuite, init.Suites))
	}

	// The source's identity carries no signature at this point; it is
	// validated for well-formedness and trust now, and its signature over
	// the transcript is checked when Finish arrives.
	peerKey, err := identity.VerifyEvidence(init.Identity)
	if err != nil {
		return nil, s.fail(err)
	}
	if !s.policy.IsTrusted(peerKey) {
		return nil, s.fail(ErrUntrustedPeer)
	}

	s.transcript.Append(data)
	s.version = version
	s.suite = suite
	s.peerIdentityKey = append([]byte(nil), peerKey...)

	resp := &wire.Respond{
		Version:  version,
		Suite:    suite,
		Identity: s.policy.OwnIdentity().Evidence(),
	}
	if _, err := io.ReadFull(s.rand, resp.Nonce[:]); err != nil {
		return nil, s.fail(fmt.Errorf("handshake: nonce generation failed: %w", err))
	}
	s.ephKey, err = crypto.GenerateP256KeyPairFrom(s.rand)
	if err != nil {
		return nil, s.fail(err)
	}
	copy(resp.EphemeralKey[:], s.ephKey.PublicKey())

	sharedSecret, err := crypto.P256ECDH(s.ephKey, init.EphemeralKey[:])
	if err != nil {
		return nil, s.fail(err)
	}
	defer crypto.Zeroize(sharedSecret)
	s.ephKey.Zeroize()
	s.ephKey = nil

	// Sign the transcript prefix plus our Respond fields.
	tbs := respondTBS(s.transcript.Hash(), resp)
	resp.Signature, err = s.policy.OwnIdentity().Sign(tbs)
	if err != nil {
		return nil, s.fail(err)
	}

	s.transcript.Append(tbs)
	s.transcript.Append(resp.Signature)

	keysHash := s.transcript.Hash()
	s.keys, err = deriveKeySchedule(sharedSecret, keysHash)
	if err != nil {
		return nil, s.fail(err)
	}
	resp.Confirmation = confirmationTag(s.keys.confirmation, sinkConfirmLabel, keysHash)

	encoded, err := wire.Encode(resp)
	if err != nil {
		return nil, s.fail(err)
	}

	s.state = next // AwaitingFinish
	return encoded, nil
}

// HandleRespond consumes a Respond message (source only), verifies the
// sink's signature, trust and key confirmation, and produces the Finish
// message together with the handshake Result. A non-nil Result means the
// source side of the session is established.
func (s *Session) HandleRespond(data []byte) ([]byte, *Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.role != RoleSource {
		return nil, nil, fmt.Errorf("%w: HandleRespond is source only", ErrInvalidState)
	}

	msg, next, err := s.consume(data, wire.TypeRespond)
	if err != nil {
		return nil, nil, err
	}
	resp := msg.(*wire.Respond)

	// The sink may negotiate down but never up, and the result must still
	// be within our policy.
	if resp.Version > s.version || !s.policy.SupportsVersion(resp.Version) {
		return nil, nil, s.fail(fmt.Errorf("%w: peer selected %d", ErrUnsupportedVersion, resp.Version))
	}
	if !s.policy.SupportsSuite(resp.Suite) {
		return nil, nil, s.fail(fmt.Errorf("%w: peer selected %v", ErrUnsupportedSuite, resp.Suite))
	}

	peerKey, err := identity.VerifyEvidence(resp.Identity)
	if err != nil {
		return nil, nil, s.fail(err)
	}

	// Signature first, then trust: an untrusted-peer verdict is only
	// meaningful for a message that provably came from that peer.
	tbs := respondTBS(s.transcript.Hash(), resp)
	if err := crypto.P256Verify(peerKey, tbs, resp.Signature); err != nil {
		return nil, nil, s.fail(err)
	}
	if !s.policy.IsTrusted(peerKey) {
		return nil, nil, s.fail(ErrUntrustedPeer)
	}

	sharedSecret, err := crypto.P256ECDH(s.ephKey, resp.EphemeralKey[:])
	if err != nil {
		return nil, nil, s.fail(err)
	}
	defer crypto.Zeroize(sharedSecret)
	s.ephKey.Zeroize()
	s.ephKey = nil

	s.transcript.Append(tbs)
	s.transcript.Append(resp.Signature)

	keysHash := s.transcript.Hash()
	s.keys, err = deriveKeySchedule(sharedSecret, keysHash)
	if err != nil {
		return nil, nil, s.fail(err)
	}

	want := confirmationTag(s.keys.confirmation, sinkConfirmLabel, keysHash)
	if subtle.ConstantTimeCompare(want[:], resp.Confirmation[:]) != 1 {
		return nil, nil, s.fail(ErrKeyConfirmationMismatch)
	}

	s.version = resp.Version
	s.suite = resp.Suite
	s.peerIdentityKey = append([]byte(nil), peerKey...)

	// Produce Finish: sign the full transcript, then confirm under the
	// source label over the transcript including that signature.
	finish := &wire.Finish{}
	finish.Signature, err = s.policy.OwnIdentity().Sign(finishTBS(keysHash))
	if err != nil {
		return nil, nil, s.fail(err)
	}
	s.transcript.Append(finish.Signature)
	finish.Confirmation = confirmationTag(s.keys.confirmation, sourceConfirmLabel, s.transcript.Hash())

	encoded, err := wire.Encode(finish)
	if err != nil {
		return nil, nil, s.fail(err)
	}

	s.state = next // Established
	return encoded, s.takeResult(), nil
}

// HandleFinish consumes the Finish message (sink only) and completes the
// handshake. A non-nil Result means the sink verified the source's
// transcript signature and key confirmation.
func (s *Session) HandleFinish(data []byte) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.role != RoleSink {
		return nil, fmt.Errorf("%w: HandleFinish is sink only", ErrInvalidState)
	}

	msg, next, err := s.consume(data, wire.TypeFinish)
	if err != nil {
		return nil, err
	}
	finish := msg.(*wire.Finish)

	// keysHash is the transcript state the keys were derived from; the
	// source signed exactly that hash.
	keysHash := s.transcript.Hash()
	if err := crypto.P256Verify(s.peerIdentityKey, finishTBS(keysHash), finish.Signature); err != nil {
		return nil, s.fail(err)
	}

	s.transcript.Append(finish.Signature)
	want := confirmationTag(s.keys.confirmation, sourceConfirmLabel, s.transcript.Hash())
	if subtle.ConstantTimeCompare(want[:], finish.Confirmation[:]) != 1 {
		return nil, s.fail(ErrKeyConfirmationMismatch)
	}

	s.state = next // Established
	return s.takeResult(), nil
}

// consume decodes an incoming message and checks it against the transition
// table. Wrong-kind and replayed messages are terminal like every other
// validation failure.
func (s *Session) consume(data []byte, want wire.MsgType) (wire.Message, State, error) {
	// Terminal states never advance and never regress; anything delivered
	// to them is reported without touching the session.
	if s.state == StateFailed {
		return nil, s.state, ErrHandshakeFailed
	}
	if s.state == StateEstablished {
		return nil, s.state, ErrReplayDetected
	}

	msg, err := wire.Decode(data)
	if err != nil {
		return nil, s.state, s.fail(err)
	}

	next, err := nextState(s.state, msg.Type())
	if err != nil {
		return nil, s.state, s.fail(err)
	}
	if msg.Type() != want {
		return nil, s.state, s.fail(ErrOutOfOrderMessage)
	}
	return msg, next, nil
}

// fail moves the session to the terminal Failed state, scrubs secret
// material, and returns the error for propagation.
func (s *Session) fail(err error) error {
	if s.state == StateFailed {
		return err
	}
	s.state = StateFailed
	s.failure = err
	if s.ephKey != nil {
		s.ephKey.Zeroize()
		s.ephKey = nil
	}
	if s.keys != nil {
		s.keys.zeroize()
		s.keys = nil
	}
	return err
}

// takeResult hands the derived keys to the caller and drops the state
// machine's references. The confirmation key stays behind only long enough
// to be zeroized.
func (s *Session) takeResult() *Result {
	res := &Result{
		SessionID:    s.keys.sessionID,
		SourceToSink: s.keys.sourceToSink,
		SinkToSource: s.keys.sinkToSource,
		Version:      s.version,
		Suite:        s.suite,
		PeerIdentity: s.peerIdentityKey,
	}
	crypto.Zeroize(s.keys.confirmation)
	s.keys = nil
	return res
}
