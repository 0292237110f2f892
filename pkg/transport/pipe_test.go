package transport

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/backkem/authgraph/pkg/identity"
	"github.com/backkem/authgraph/pkg/service"
)

func newTestPipe(t *testing.T) *Pipe {
	t.Helper()
	p := NewPipe(PipeConfig{Seed: 1})
	t.Cleanup(func() { p.Close() })
	return p
}

func TestPipe_FrameRoundTrip(t *testing.T) {
	p := newTestPipe(t)
	a, b := p.Endpoint0(), p.Endpoint1()

	frames := [][]byte{
		{0x01},
		bytes.Repeat([]byte{0xAB}, 200),
		bytes.Repeat([]byte{0x00}, MaxFrameSize),
	}
	for _, frame := range frames {
		if err := a.WriteFrame(frame); err != nil {
			t.Fatalf("WriteFrame(%d bytes): %v", len(frame), err)
		}
		b.SetReadDeadline(time.Now().Add(time.Second))
		got, err := b.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		if !bytes.Equal(got, frame) {
			t.Errorf("frame of %d bytes corrupted in transit", len(frame))
		}
	}
}

func TestPipe_FrameTooLarge(t *testing.T) {
	p := newTestPipe(t)
	a := p.Endpoint0()

	err := a.WriteFrame(make([]byte, MaxFrameSize+1))
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("got %v, want ErrFrameTooLarge", err)
	}
}

func TestPipe_Drop(t *testing.T) {
	p := newTestPipe(t)
	p.SetCondition(Condition{DropRate: 1.0})
	a, b := p.Endpoint0(), p.Endpoint1()

	if err := a.WriteFrame([]byte("lost")); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}
	b.SetReadDeadline(time.Now().Add(50 * time.Millisecond))
	if _, err := b.ReadFrame(); err == nil {
		t.Error("read succeeded despite full drop rate")
	}
}

func TestPipe_Duplicate(t *testing.T) {
	p := newTestPipe(t)
	p.SetCondition(Condition{DuplicateRate: 1.0})
	a, b := p.Endpoint0(), p.Endpoint1()

	frame := []byte("twice")
	if err := a.WriteFrame(frame); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	for i := 0; i < 2; i++ {
		b.SetReadDeadline(time.Now().Add(time.Second))
		got, err := b.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame %d: %v", i, err)
		}
		if !bytes.Equal(got, frame) {
			t.Errorf("copy %d corrupted", i)
		}
	}
}

func newFacadePair(t *testing.T) (*service.Facade, *service.Facade) {
	t.Helper()

	aID, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	bID, err := identity.Generate()
	if err != nil {
		t.Fatal(err)
	}
	aPolicy, err := identity.NewPolicyStore(identity.PolicyConfig{Identity: aID})
	if err != nil {
		t.Fatal(err)
	}
	bPolicy, err := identity.NewPolicyStore(identity.PolicyConfig{Identity: bID})
	if err != nil {
		t.Fatal(err)
	}
	if err := aPolicy.AddTrusted(bID.PublicKey()); err != nil {
		t.Fatal(err)
	}
	if err := bPolicy.AddTrusted(aID.PublicKey()); err != nil {
		t.Fatal(err)
	}

	a, err := service.NewFacade(service.FacadeConfig{Policy: aPolicy})
	if err != nil {
		t.Fatal(err)
	}
	b, err := service.NewFacade(service.FacadeConfig{Policy: bPolicy})
	if err != nil {
		t.Fatal(err)
	}
	return a, b
}

// Full handshake between two facades over the pipe: the responder side
// answers every frame it can, the initiator drives the exchange.
func TestPipe_EndToEndHandshake(t *testing.T) {
	p := newTestPipe(t)
	src, snk := newFacadePair(t)

	// Responder: read a frame, step the engine, answer.
	done := make(chan struct{})
	go func() {
		defer close(done)
		end := p.Endpoint1()
		for i := 0; i < 2; i++ {
			end.SetReadDeadline(time.Now().Add(2 * time.Second))
			frame, err := end.ReadFrame()
			if err != nil {
				t.Errorf("responder read %d: %v", i, err)
				return
			}
			resp, err := snk.Handle(frame)
			if err != nil {
				t.Errorf("responder step %d: %v", i, err)
				return
			}
			if err := end.WriteFrame(resp); err != nil {
				t.Errorf("responder write %d: %v", i, err)
				return
			}
		}
	}()

	end := p.Endpoint0()
	srcRef, initMsg, err := src.StartHandshake()
	if err != nil {
		t.Fatalf("StartHandshake: %v", err)
	}
	if err := end.WriteFrame(append([]byte{service.RefNew}, initMsg...)); err != nil {
		t.Fatalf("send init: %v", err)
	}

	end.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err := end.ReadFrame()
	if err != nil {
		t.Fatalf("read respond: %v", err)
	}
	peerRef, _, _, respondMsg, err := service.ParseResponse(frame)
	if err != nil {
		t.Fatalf("parse respond: %v", err)
	}

	resp, err := src.Handle(append([]byte{srcRef}, respondMsg...))
	if err != nil {
		t.Fatalf("consume respond: %v", err)
	}
	_, srcDone, srcSessionID, finishMsg, err := service.ParseResponse(resp)
	if err != nil || !srcDone {
		t.Fatalf("initiator not done: %v", err)
	}
	if err := end.WriteFrame(append([]byte{peerRef}, finishMsg...)); err != nil {
		t.Fatalf("send finish: %v", err)
	}

	end.SetReadDeadline(time.Now().Add(2 * time.Second))
	frame, err = end.ReadFrame()
	if err != nil {
		t.Fatalf("read final ack: %v", err)
	}
	_, snkDone, snkSessionID, _, err := service.ParseResponse(frame)
	if err != nil || !snkDone {
		t.Fatalf("responder not done: %v", err)
	}
	if !bytes.Equal(srcSessionID, snkSessionID) {
		t.Error("session IDs differ across the pipe")
	}

	<-done

	// Both engines promoted the same session.
	if _, err := src.Store().Get(srcSessionID); err != nil {
		t.Errorf("initiator store: %v", err)
	}
	if _, err := snk.Store().Get(snkSessionID); err != nil {
		t.Errorf("responder store: %v", err)
	}
}

// A replayed handshake frame must not create a second established session.
func TestPipe_ReplayedFrame(t *testing.T) {
	p := newTestPipe(t)
	src, snk := newFacadePair(t)
	end0, end1 := p.Endpoint0(), p.Endpoint1()

	srcRef, initMsg, err := src.StartHandshake()
	if err != nil {
		t.Fatal(err)
	}

	send := func(from, to *Endpoint, frame []byte) []byte {
		t.Helper()
		if err := from.WriteFrame(frame); err != nil {
			t.Fatal(err)
		}
		to.SetReadDeadline(time.Now().Add(2 * time.Second))
		got, err := to.ReadFrame()
		if err != nil {
			t.Fatal(err)
		}
		return got
	}

	initFrame := append([]byte{service.RefNew}, initMsg...)
	resp, err := snk.Handle(send(end0, end1, initFrame))
	if err != nil {
		t.Fatal(err)
	}
	peerRef, _, _, respondMsg, err := service.ParseResponse(resp)
	if err != nil {
		t.Fatal(err)
	}
	out, err := src.Handle(append([]byte{srcRef}, respondMsg...))
	if err != nil {
		t.Fatal(err)
	}
	_, _, _, finishMsg, err := service.ParseResponse(out)
	if err != nil {
		t.Fatal(err)
	}
	finishFrame := append([]byte{peerRef}, finishMsg...)
	if _, err := snk.Handle(send(end0, end1, finishFrame)); err != nil {
		t.Fatal(err)
	}

	if n := snk.Store().Len(); n != 1 {
		t.Fatalf("responder store holds %d sessions, want 1", n)
	}

	// Replaying Finish: the context is gone, the frame is rejected.
	if _, err := snk.Handle(send(end0, end1, finishFrame)); !errors.Is(err, service.ErrUnknownSessionRef) {
		t.Errorf("finish replay: got %v, want ErrUnknownSessionRef", err)
	}

	// Replaying Init opens a fresh attempt, never a second session.
	if _, err := snk.Handle(send(end0, end1, initFrame)); err != nil {
		t.Errorf("init replay rejected at envelope: %v", err)
	}
	if n := snk.Store().Len(); n != 1 {
		t.Errorf("responder store holds %d sessions after replays, want 1", n)
	}
}
