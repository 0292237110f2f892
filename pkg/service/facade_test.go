package service

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/backkem/authgraph/pkg/handshake"
	"github.com/backkem/authgraph/pkg/identity"
	"github.com/backkem/authgraph/pkg/session"
	"github.com/backkem/authgraph/pkg/wire"
)

// fakeClock is a manually advanced clock for timeout tests.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.now = c.now.Add(d)
}

// newTrustedPolicies returns two policy stores that trust each other.
func newTrustedPolicies(t *testing.T) (*identity.PolicyStore, *identity.PolicyStore) {
	t.Helper()

	a := newPolicy(t)
	b := newPolicy(t)
	if err := a.AddTrusted(b.OwnIdentity().PublicKey()); err != nil {
		t.Fatal(err)
	}
	if err := b.AddTrusted(a.OwnIdentity().PublicKey()); err != nil {
		t.Fatal(err)
	}
	return a, b
}

func newPolicy(t *testing.T) *identity.PolicyStore {
	t.Helper()
	id, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	p, err := identity.NewPolicyStore(identity.PolicyConfig{Identity: id})
	if err != nil {
		t.Fatal(err)
	}
	return p
}

func newFacade(t *testing.T, policy *identity.PolicyStore, config FacadeConfig) *Facade {
	t.Helper()
	config.Policy = policy
	f, err := NewFacade(config)
	if err != nil {
		t.Fatalf("NewFacade: %v", err)
	}
	return f
}

// request prefixes a handshake message with its context reference.
func request(ref uint8, msg []byte) []byte {
	return append([]byte{ref}, msg...)
}

// runExchange drives a full handshake between two facades and returns the
// agreed session ID.
func runExchange(t *testing.T, source, sink *Facade) []byte {
	t.Helper()

	srcRef, initMsg, err := source.StartHandshake()
	if err != nil {
		t.Fatalf("StartHandshake: %v", err)
	}

	resp, err := sink.Handle(request(RefNew, initMsg))
	if err != nil {
		t.Fatalf("sink Handle(Init): %v", err)
	}
	sinkRef, done, _, respondMsg, err := ParseResponse(resp)
	if err != nil {
		t.Fatalf("ParseResponse(Respond): %v", err)
	}
	if done {
		t.Fatal("sink reported done after Init")
	}

	resp, err = source.Handle(request(srcRef, respondMsg))
	if err != nil {
		t.Fatalf("source Handle(Respond): %v", err)
	}
	_, done, srcSessionID, finishMsg, err := ParseResponse(resp)
	if err != nil {
		t.Fatalf("ParseResponse(Finish): %v", err)
	}
	if !done {
		t.Fatal("source not done after Respond")
	}

	resp, err = sink.Handle(request(sinkRef, finishMsg))
	if err != nil {
		t.Fatalf("sink Handle(Finish): %v", err)
	}
	_, done, sinkSessionID, trailing, err := ParseResponse(resp)
	if err != nil {
		t.Fatalf("ParseResponse(final): %v", err)
	}
	if !done {
		t.Fatal("sink not done after Finish")
	}
	if len(trailing) != 0 {
		t.Errorf("final response carries %d unexpected message bytes", len(trailing))
	}

	if !bytes.Equal(srcSessionID, sinkSessionID) {
		t.Fatal("session IDs differ between facades")
	}
	return srcSessionID
}

func TestFacade_FullExchange(t *testing.T) {
	aPolicy, bPolicy := newTrustedPolicies(t)
	source := newFacade(t, aPolicy, FacadeConfig{})
	sink := newFacade(t, bPolicy, FacadeConfig{})

	sessionID := runExchange(t, source, sink)

	// Both stores hold the session and agree on the directional keys.
	srcKeys, err := source.Store().Get(sessionID)
	if err != nil {
		t.Fatalf("source store Get: %v", err)
	}
	sinkKeys, err := sink.Store().Get(sessionID)
	if err != nil {
		t.Fatalf("sink store Get: %v", err)
	}
	if !bytes.Equal(srcKeys.SourceToSink, sinkKeys.SourceToSink) ||
		!bytes.Equal(srcKeys.SinkToSource, sinkKeys.SinkToSource) {
		t.Error("promoted keys differ between facades")
	}

	// Completed handshakes release their contexts.
	if n := source.InFlight(); n != 0 {
		t.Errorf("source in-flight = %d, want 0", n)
	}
	if n := sink.InFlight(); n != 0 {
		t.Errorf("sink in-flight = %d, want 0", n)
	}
}

func TestFacade_Envelope(t *testing.T) {
	policy, _ := newTrustedPolicies(t)
	f := newFacade(t, policy, FacadeConfig{})

	for _, req := range [][]byte{nil, {}, {RefNew}} {
		if _, err := f.Handle(req); !errors.Is(err, ErrBadEnvelope) {
			t.Errorf("Handle(%v): got %v, want ErrBadEnvelope", req, err)
		}
	}

	if _, err := f.Handle([]byte{7, byte(wire.TypeFinish), 0, 0}); !errors.Is(err, ErrUnknownSessionRef) {
		t.Errorf("unknown ref: got %v, want ErrUnknownSessionRef", err)
	}

	// A new-handshake request must open with a decodable Init.
	if _, err := f.Handle([]byte{RefNew, 0xFF, 0xFF}); !errors.Is(err, wire.ErrDecode) {
		t.Errorf("garbage init: got %v, want a decode error", err)
	}
	if n := f.InFlight(); n != 0 {
		t.Errorf("in-flight after rejected init = %d, want 0", n)
	}
}

func TestFacade_FailureIsolation(t *testing.T) {
	aPolicy, bPolicy := newTrustedPolicies(t)
	source := newFacade(t, aPolicy, FacadeConfig{})
	sink := newFacade(t, bPolicy, FacadeConfig{})

	// Poison one context with garbage; a parallel handshake must still
	// complete.
	ref, _, err := source.StartHandshake()
	if err != nil {
		t.Fatalf("StartHandshake: %v", err)
	}
	if _, err := source.Handle(request(ref, []byte{0xFF, 0xFF})); err == nil {
		t.Fatal("garbage respond accepted")
	}
	if _, err := source.Handle(request(ref, []byte{0xFF, 0xFF})); !errors.Is(err, ErrUnknownSessionRef) {
		t.Errorf("failed context still routable: %v", err)
	}

	runExchange(t, source, sink)
}

func TestFacade_SessionBusy(t *testing.T) {
	policy, _ := newTrustedPolicies(t)
	f := newFacade(t, policy, FacadeConfig{})

	ref, _, err := f.StartHandshake()
	if err != nil {
		t.Fatalf("StartHandshake: %v", err)
	}

	// Hold the context's step lock the way an in-progress step would.
	f.mu.Lock()
	ctx := f.contexts[ref]
	f.mu.Unlock()
	ctx.mu.Lock()
	defer ctx.mu.Unlock()

	if _, err := f.Handle(request(ref, []byte{byte(wire.TypeRespond)})); !errors.Is(err, ErrSessionBusy) {
		t.Errorf("got %v, want ErrSessionBusy", err)
	}
}

func TestFacade_HandshakeCap(t *testing.T) {
	policy, _ := newTrustedPolicies(t)
	f := newFacade(t, policy, FacadeConfig{MaxHandshakes: 2})

	for i := 0; i < 2; i++ {
		if _, _, err := f.StartHandshake(); err != nil {
			t.Fatalf("StartHandshake %d: %v", i, err)
		}
	}
	if _, _, err := f.StartHandshake(); !errors.Is(err, ErrTooManyHandshakes) {
		t.Errorf("got %v, want ErrTooManyHandshakes", err)
	}
}

// Abandoned handshakes must not hold their slots past the handshake
// timeout: a full table of half-open exchanges is reclaimed and fresh
// handshakes proceed.
func TestFacade_StaleHandshakeReclaimed(t *testing.T) {
	const cap = 2

	ownPolicy, peerPolicy := newTrustedPolicies(t)
	clock := &fakeClock{now: time.Unix(1000, 0)}
	f := newFacade(t, ownPolicy, FacadeConfig{
		MaxHandshakes:    cap,
		HandshakeTimeout: time.Minute,
		Now:              clock.Now,
	})

	// openInit delivers a valid Init and abandons the exchange.
	openInit := func() error {
		t.Helper()
		src, err := handshake.NewSource(handshake.Config{Policy: peerPolicy})
		if err != nil {
			t.Fatal(err)
		}
		initMsg, err := src.Start()
		if err != nil {
			t.Fatal(err)
		}
		_, err = f.Handle(request(RefNew, initMsg))
		return err
	}

	for i := 0; i < cap; i++ {
		if err := openInit(); err != nil {
			t.Fatalf("open handshake %d: %v", i, err)
		}
	}

	// Within the window the table is genuinely full.
	if err := openInit(); !errors.Is(err, ErrTooManyHandshakes) {
		t.Fatalf("at cap: got %v, want ErrTooManyHandshakes", err)
	}
	if _, _, err := f.StartHandshake(); !errors.Is(err, ErrTooManyHandshakes) {
		t.Fatalf("StartHandshake at cap: got %v, want ErrTooManyHandshakes", err)
	}

	// Past the window the abandoned slots are reclaimed.
	clock.Advance(2 * time.Minute)
	if err := openInit(); err != nil {
		t.Fatalf("open after reclaim: %v", err)
	}
	if n := f.InFlight(); n != 1 {
		t.Errorf("in-flight after reclaim = %d, want 1", n)
	}
	if _, _, err := f.StartHandshake(); err != nil {
		t.Errorf("StartHandshake after reclaim: %v", err)
	}
}

// The sweep reclaims only stale exchanges; one still inside its window
// survives and completes normally.
func TestFacade_SweepKeepsLiveHandshake(t *testing.T) {
	ownPolicy, peerPolicy := newTrustedPolicies(t)
	clock := &fakeClock{now: time.Unix(1000, 0)}
	f := newFacade(t, ownPolicy, FacadeConfig{
		MaxHandshakes:    3,
		HandshakeTimeout: time.Minute,
		Now:              clock.Now,
	})

	open := func() (*handshake.Session, uint8, []byte) {
		t.Helper()
		src, err := handshake.NewSource(handshake.Config{Policy: peerPolicy})
		if err != nil {
			t.Fatal(err)
		}
		initMsg, err := src.Start()
		if err != nil {
			t.Fatal(err)
		}
		resp, err := f.Handle(request(RefNew, initMsg))
		if err != nil {
			t.Fatalf("Handle(Init): %v", err)
		}
		ref, _, _, respondMsg, err := ParseResponse(resp)
		if err != nil {
			t.Fatal(err)
		}
		return src, ref, respondMsg
	}

	// Stale after 90s, live after 45s; the third open triggers the sweep.
	_, staleRef, _ := open()
	clock.Advance(45 * time.Second)
	live, liveRef, liveRespond := open()
	clock.Advance(45 * time.Second)
	_, _, _ = open()

	if n := f.InFlight(); n != 2 {
		t.Errorf("in-flight after sweep = %d, want 2", n)
	}
	if _, err := f.Handle(request(staleRef, []byte{byte(wire.TypeFinish), 0, 0})); !errors.Is(err, ErrUnknownSessionRef) {
		t.Errorf("stale ref: got %v, want ErrUnknownSessionRef", err)
	}

	// The surviving exchange still completes.
	finishMsg, result, err := live.HandleRespond(liveRespond)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := f.Handle(request(liveRef, finishMsg))
	if err != nil {
		t.Fatalf("Handle(Finish) on live exchange: %v", err)
	}
	_, done, sessionID, _, err := ParseResponse(resp)
	if err != nil || !done {
		t.Fatalf("live exchange did not complete: %v", err)
	}
	if !bytes.Equal(sessionID, result.SessionID) {
		t.Error("session IDs differ after sweep")
	}
}

// Many initiators against one responder facade at once; every handshake
// must complete with a distinct session ID.
func TestFacade_ParallelSink(t *testing.T) {
	const parallel = 8

	aPolicy, bPolicy := newTrustedPolicies(t)
	sink := newFacade(t, bPolicy, FacadeConfig{
		MaxHandshakes: parallel,
		Store:         session.NewStore(session.StoreConfig{MaxSessions: parallel}),
	})

	ids := make(chan []byte, parallel)
	var wg sync.WaitGroup
	for i := 0; i < parallel; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			id, err := driveSourceAgainst(sink, aPolicy)
			if err != nil {
				t.Errorf("parallel handshake: %v", err)
				return
			}
			ids <- id
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[string(id)] {
			t.Error("duplicate session ID across parallel handshakes")
		}
		seen[string(id)] = true
	}
	if len(seen) != parallel {
		t.Errorf("completed %d handshakes, want %d", len(seen), parallel)
	}
	if n := sink.Store().Len(); n != parallel {
		t.Errorf("sink store holds %d sessions, want %d", n, parallel)
	}
}

// One initiator facade running many handshakes at once against independent
// responders.
func TestFacade_ParallelSource(t *testing.T) {
	const parallel = 8

	aPolicy, bPolicy := newTrustedPolicies(t)
	source := newFacade(t, aPolicy, FacadeConfig{
		MaxHandshakes: parallel,
		Store:         session.NewStore(session.StoreConfig{MaxSessions: parallel}),
	})

	var wg sync.WaitGroup
	for i := 0; i < parallel; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := driveSinkAgainst(source, bPolicy); err != nil {
				t.Errorf("parallel handshake: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := source.Store().Len(); n != parallel {
		t.Errorf("source store holds %d sessions, want %d", n, parallel)
	}
}

// driveSourceAgainst runs a bare initiator state machine through a full
// exchange with the facade's responder side.
func driveSourceAgainst(sink *Facade, policy *identity.PolicyStore) ([]byte, error) {
	src, err := handshake.NewSource(handshake.Config{Policy: policy})
	if err != nil {
		return nil, err
	}
	initMsg, err := src.Start()
	if err != nil {
		return nil, err
	}

	resp, err := sink.Handle(request(RefNew, initMsg))
	if err != nil {
		return nil, err
	}
	ref, _, _, respondMsg, err := ParseResponse(resp)
	if err != nil {
		return nil, err
	}

	finishMsg, result, err := src.HandleRespond(respondMsg)
	if err != nil {
		return nil, err
	}

	resp, err = sink.Handle(request(ref, finishMsg))
	if err != nil {
		return nil, err
	}
	_, done, sinkID, _, err := ParseResponse(resp)
	if err != nil {
		return nil, err
	}
	if !done || !bytes.Equal(sinkID, result.SessionID) {
		return nil, fmt.Errorf("responder disagrees on session ID")
	}
	return result.SessionID, nil
}

// driveSinkAgainst runs a bare responder state machine through a full
// exchange with the facade's initiator side.
func driveSinkAgainst(source *Facade, policy *identity.PolicyStore) error {
	snk, err := handshake.NewSink(handshake.Config{Policy: policy})
	if err != nil {
		return err
	}

	ref, initMsg, err := source.StartHandshake()
	if err != nil {
		return err
	}
	respondMsg, err := snk.HandleInit(initMsg)
	if err != nil {
		return err
	}

	resp, err := source.Handle(request(ref, respondMsg))
	if err != nil {
		return err
	}
	_, done, srcID, finishMsg, err := ParseResponse(resp)
	if err != nil {
		return err
	}
	if !done {
		return fmt.Errorf("initiator not done after Respond")
	}

	result, err := snk.HandleFinish(finishMsg)
	if err != nil {
		return err
	}
	if !bytes.Equal(result.SessionID, srcID) {
		return fmt.Errorf("initiator disagrees on session ID")
	}
	return nil
}

// FuzzHandle feeds arbitrary request bytes through one facade and checks
// that nothing panics, the context table stays bounded, and no session is
// ever established without a complete valid handshake.
func FuzzHandle(f *testing.F) {
	ownID, err := identity.Generate()
	if err != nil {
		f.Fatal(err)
	}
	peerID, err := identity.Generate()
	if err != nil {
		f.Fatal(err)
	}
	policy, err := identity.NewPolicyStore(identity.PolicyConfig{Identity: ownID})
	if err != nil {
		f.Fatal(err)
	}
	if err := policy.AddTrusted(peerID.PublicKey()); err != nil {
		f.Fatal(err)
	}
	facade, err := NewFacade(FacadeConfig{Policy: policy})
	if err != nil {
		f.Fatal(err)
	}

	// Seed with a well-formed opening request from the trusted peer.
	peerPolicy, err := identity.NewPolicyStore(identity.PolicyConfig{Identity: peerID})
	if err != nil {
		f.Fatal(err)
	}
	src, err := handshake.NewSource(handshake.Config{Policy: peerPolicy})
	if err != nil {
		f.Fatal(err)
	}
	initMsg, err := src.Start()
	if err != nil {
		f.Fatal(err)
	}
	f.Add(request(RefNew, initMsg))
	f.Add(request(RefNew, []byte{byte(wire.TypeInit)}))
	f.Add(request(1, []byte{byte(wire.TypeFinish), 0, 0}))
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		resp, err := facade.Handle(data)
		if err == nil {
			if _, _, _, _, perr := ParseResponse(resp); perr != nil {
				t.Errorf("Handle returned unparseable response: %v", perr)
			}
		}
		if n := facade.InFlight(); n > DefaultMaxHandshakes {
			t.Errorf("in-flight handshakes %d exceed cap", n)
		}
		// Completing a handshake requires the peer's signature over the
		// live transcript; random bytes must never get there.
		if n := facade.Store().Len(); n != 0 {
			t.Errorf("fuzzer established %d sessions", n)
		}
	})
}
