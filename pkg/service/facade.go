// Package service exposes the handshake engine behind a single byte-level
// entry point, the way the protocol sits behind a service boundary on a
// device: callers hand in opaque request bytes, the facade routes them to
// the right in-flight handshake, advances it exactly one step, and promotes
// the derived keys into the session store on completion.
//
// Request envelope: one reference byte followed by a handshake message. A
// zero reference starts a new responder-side handshake and must carry an
// Init message; the response allocates the reference the caller uses for
// the rest of the exchange.
//
// Response envelope: the reference byte, a flags byte, then, when FlagDone
// is set, the 32-byte session ID, then any outbound handshake message.
package service

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pion/logging"

	"github.com/backkem/authgraph/pkg/handshake"
	"github.com/backkem/authgraph/pkg/identity"
	"github.com/backkem/authgraph/pkg/session"
)

const (
	// FlagDone marks a response whose handshake completed; the payload
	// opens with the session ID.
	FlagDone = 0x01

	// RefNew is the request reference that opens a new handshake.
	RefNew = 0x00

	// DefaultMaxHandshakes caps concurrently in-flight handshakes.
	DefaultMaxHandshakes = 16

	// DefaultHandshakeTimeout is how long an in-flight handshake may go
	// without a step before its slot is reclaimed.
	DefaultHandshakeTimeout = time.Minute
)

// FacadeConfig configures a Facade.
type FacadeConfig struct {
	// Policy provides the local identity and peer trust policy. Required.
	Policy *identity.PolicyStore

	// Store receives the keys of completed handshakes. If nil, a store
	// with default limits is created.
	Store *session.Store

	// MaxHandshakes caps in-flight handshakes. Zero means
	// DefaultMaxHandshakes.
	MaxHandshakes int

	// HandshakeTimeout bounds how long an abandoned handshake holds its
	// slot. Zero means DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration

	// Now is the clock. Defaults to time.Now. Injectable for tests.
	Now func() time.Time

	// Rand is the randomness source for handshakes. Defaults to
	// crypto/rand.
	Rand io.Reader

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// handshakeContext is one in-flight handshake. Its mutex serializes steps;
// a step that finds it held is rejected rather than queued. lastStep is
// only touched under the mutex.
type handshakeContext struct {
	mu       sync.Mutex
	session  *handshake.Session
	lastStep time.Time
}

// Facade routes request bytes to handshake contexts. Independent contexts
// advance in parallel; steps on one context never interleave.
type Facade struct {
	mu       sync.Mutex
	config   FacadeConfig
	store    *session.Store
	contexts map[uint8]*handshakeContext
	nextRef  uint8

	log logging.LeveledLogger
}

// NewFacade creates a Facade.
func NewFacade(config FacadeConfig) (*Facade, error) {
	if config.Policy == nil {
		return nil, identity.ErrNoIdentity
	}
	if config.MaxHandshakes == 0 {
		config.MaxHandshakes = DefaultMaxHandshakes
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if config.Now == nil {
		config.Now = time.Now
	}

	store := config.Store
	if store == nil {
		store = session.NewStore(session.StoreConfig{})
	}

	f := &Facade{
		config:   config,
		store:    store,
		contexts: make(map[uint8]*handshakeContext),
	}
	if config.LoggerFactory != nil {
		f.log = config.LoggerFactory.NewLogger("service")
	}
	return f, nil
}

// Store returns the session store completed handshakes are promoted into.
func (f *Facade) Store() *session.Store {
	return f.store
}

// InFlight returns the number of in-flight handshake contexts.
func (f *Facade) InFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.contexts)
}

// StartHandshake opens an initiator-side handshake and returns its
// reference together with the first message to deliver to the peer. The
// peer's reply is fed back through Handle under the same reference.
func (f *Facade) StartHandshake() (uint8, []byte, error) {
	sess, err := handshake.NewSource(handshake.Config{
		Policy: f.config.Policy,
		Rand:   f.config.Rand,
	})
	if err != nil {
		return 0, nil, err
	}

	initMsg, err := sess.Start()
	if err != nil {
		return 0, nil, err
	}

	ref, err := f.addContext(&handshakeContext{session: sess, lastStep: f.config.Now()})
	if err != nil {
		return 0, nil, err
	}

	if f.log != nil {
		f.log.Debugf("handshake %d: started as source", ref)
	}
	return ref, initMsg, nil
}

// Handle advances one handshake by one step. The request envelope selects
// the context; a zero reference opens a new responder-side handshake. Any
// handshake failure tears the context down and is returned typed; other
// contexts are unaffected.
func (f *Facade) Handle(request []byte) ([]byte, error) {
	if len(request) < 2 {
		return nil, ErrBadEnvelope
	}
	ref, payload := request[0], request[1:]

	if ref == RefNew {
		return f.handleNew(payload)
	}

	f.mu.Lock()
	ctx, ok := f.contexts[ref]
	f.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownSessionRef, ref)
	}

	if !ctx.mu.TryLock() {
		return nil, fmt.Errorf("%w: %d", ErrSessionBusy, ref)
	}
	defer ctx.mu.Unlock()
	ctx.lastStep = f.config.Now()

	switch ctx.session.Role() {
	case handshake.RoleSource:
		return f.stepSource(ref, ctx, payload)
	default:
		return f.stepSink(ref, ctx, payload)
	}
}

// handleNew starts a responder-side handshake from an Init message.
func (f *Facade) handleNew(payload []byte) ([]byte, error) {
	sess, err := handshake.NewSink(handshake.Config{
		Policy: f.config.Policy,
		Rand:   f.config.Rand,
	})
	if err != nil {
		return nil, err
	}

	// Reserve the slot before the crypto so the in-flight cap holds even
	// while steps run concurrently. The context mutex is held across the
	// first step so a racing request sees it busy, not half-stepped.
	ctx := &handshakeContext{session: sess, lastStep: f.config.Now()}
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	ref, err := f.addContext(ctx)
	if err != nil {
		return nil, err
	}

	respond, err := sess.HandleInit(payload)
	if err != nil {
		f.removeContext(ref)
		if f.log != nil {
			f.log.Warnf("handshake rejected: %v", err)
		}
		return nil, err
	}

	if f.log != nil {
		f.log.Debugf("handshake %d: responding as sink", ref)
	}
	return envelope(ref, 0, nil, respond), nil
}

// stepSource consumes the peer's Respond, completing the initiator side.
func (f *Facade) stepSource(ref uint8, ctx *handshakeContext, payload []byte) ([]byte, error) {
	finish, result, err := ctx.session.HandleRespond(payload)
	if err != nil {
		f.removeContext(ref)
		if f.log != nil {
			f.log.Warnf("handshake %d failed: %v", ref, err)
		}
		return nil, err
	}

	if err := f.promote(ref, result); err != nil {
		return nil, err
	}
	return envelope(ref, FlagDone, result.SessionID, finish), nil
}

// stepSink consumes the peer's Finish, completing the responder side.
func (f *Facade) stepSink(ref uint8, ctx *handshakeContext, payload []byte) ([]byte, error) {
	result, err := ctx.session.HandleFinish(payload)
	if err != nil {
		f.removeContext(ref)
		if f.log != nil {
			f.log.Warnf("handshake %d failed: %v", ref, err)
		}
		return nil, err
	}

	if err := f.promote(ref, result); err != nil {
		return nil, err
	}
	return envelope(ref, FlagDone, result.SessionID, nil), nil
}

// promote moves a completed handshake's keys into the session store and
// frees the context.
func (f *Facade) promote(ref uint8, result *handshake.Result) error {
	f.removeContext(ref)

	err := f.store.Put(&session.Keys{
		SessionID:    result.SessionID,
		SourceToSink: result.SourceToSink,
		SinkToSource: result.SinkToSource,
		Version:      result.Version,
		Suite:        result.Suite,
		PeerIdentity: result.PeerIdentity,
	})
	if err != nil {
		if f.log != nil {
			f.log.Warnf("handshake %d: key promotion failed: %v", ref, err)
		}
		return err
	}

	if f.log != nil {
		f.log.Infof("handshake %d: session established", ref)
	}
	return nil
}

// addContext allocates a reference for a new context, reclaiming stale
// slots first so abandoned handshakes cannot hold the table forever.
func (f *Facade) addContext(ctx *handshakeContext) (uint8, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.sweepLocked(f.config.Now())
	if len(f.contexts) >= f.config.MaxHandshakes {
		return 0, ErrTooManyHandshakes
	}

	// References cycle through 1..255; zero stays reserved for opening.
	for i := 0; i < 255; i++ {
		f.nextRef++
		if f.nextRef == RefNew {
			f.nextRef++
		}
		if _, used := f.contexts[f.nextRef]; !used {
			f.contexts[f.nextRef] = ctx
			return f.nextRef, nil
		}
	}
	return 0, ErrTooManyHandshakes
}

func (f *Facade) removeContext(ref uint8) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.contexts, ref)
}

// sweepLocked drops every context whose last step is older than the
// handshake timeout. Contexts mid-step are skipped; their slot is
// reconsidered on the next sweep. Caller holds f.mu.
func (f *Facade) sweepLocked(now time.Time) {
	for ref, ctx := range f.contexts {
		if !ctx.mu.TryLock() {
			continue
		}
		stale := now.Sub(ctx.lastStep) > f.config.HandshakeTimeout
		ctx.mu.Unlock()
		if !stale {
			continue
		}
		ctx.session.Abort()
		delete(f.contexts, ref)
		if f.log != nil {
			f.log.Debugf("handshake %d: reclaimed after inactivity", ref)
		}
	}
}

// envelope builds a response: reference, flags, session ID when done, then
// any outbound message.
func envelope(ref uint8, flags byte, sessionID, msg []byte) []byte {
	out := make([]byte, 0, 2+len(sessionID)+len(msg))
	out = append(out, ref, flags)
	if flags&FlagDone != 0 {
		out = append(out, sessionID...)
	}
	return append(out, msg...)
}

// ParseResponse splits a response envelope produced by Handle or a peer
// facade. done reports whether the handshake completed; sessionID is only
// set when it did.
func ParseResponse(response []byte) (ref uint8, done bool, sessionID, msg []byte, err error) {
	if len(response) < 2 {
		return 0, false, nil, nil, ErrBadEnvelope
	}
	ref, flags := response[0], response[1]
	rest := response[2:]
	if flags&FlagDone != 0 {
		if len(rest) < handshake.SessionIDSize {
			return 0, false, nil, nil, ErrBadEnvelope
		}
		sessionID, rest = rest[:handshake.SessionIDSize], rest[handshake.SessionIDSize:]
		done = true
	}
	return ref, done, sessionID, rest, nil
}
