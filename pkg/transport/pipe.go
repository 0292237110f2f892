// Package transport carries request and response frames between two
// parties in one process. The protocol engine treats the transport as an
// opaque byte boundary; this package exists so conformance and adversarial
// tests can run a real two-party exchange without network I/O.
//
// A Pipe wraps pion's test.Bridge and delivers frames in order. Drop and
// duplicate knobs simulate a misbehaving carrier for the replay and
// loss tests.
package transport

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"

	"github.com/backkem/authgraph/pkg/wire"
)

const (
	// MaxFrameSize bounds one frame: a handshake message plus the service
	// envelope around it.
	MaxFrameSize = wire.MaxMessageSize + 64

	// DefaultDeliverInterval is how often queued frames are delivered.
	DefaultDeliverInterval = time.Millisecond
)

// Errors returned by pipe endpoints.
var (
	// ErrFrameTooLarge is returned when a frame exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("transport: frame exceeds maximum size")

	// ErrShortFrame is returned when a delivered frame is shorter than
	// its length prefix claims.
	ErrShortFrame = errors.New("transport: truncated frame")
)

// Condition simulates a misbehaving carrier. Rates are probabilities in
// [0, 1] applied per frame.
type Condition struct {
	// DropRate is the probability a frame is silently discarded.
	DropRate float64

	// DuplicateRate is the probability a frame is delivered twice.
	DuplicateRate float64
}

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// DeliverInterval is how often the delivery goroutine moves queued
	// frames across. Zero means DefaultDeliverInterval.
	DeliverInterval time.Duration

	// Seed seeds the condition randomness. Zero means time-based.
	Seed int64
}

// Pipe is a bidirectional in-memory frame carrier between two endpoints.
// Frames are delivered in order by a background goroutine.
type Pipe struct {
	bridge *test.Bridge

	mu        sync.Mutex
	condition Condition
	rng       *rand.Rand
	closed    bool

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewPipe creates a Pipe and starts its delivery goroutine.
func NewPipe(config PipeConfig) *Pipe {
	if config.DeliverInterval == 0 {
		config.DeliverInterval = DefaultDeliverInterval
	}
	if config.Seed == 0 {
		config.Seed = time.Now().UnixNano()
	}

	p := &Pipe{
		bridge: test.NewBridge(),
		rng:    rand.New(rand.NewSource(config.Seed)),
		stopCh: make(chan struct{}),
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(config.DeliverInterval)
		defer ticker.Stop()
		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.bridge.Tick()
			}
		}
	}()

	return p
}

// SetCondition configures carrier misbehavior for both directions.
func (p *Pipe) SetCondition(cond Condition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.condition = cond
}

// Endpoint0 returns the frame endpoint for party 0.
func (p *Pipe) Endpoint0() *Endpoint {
	return &Endpoint{conn: p.bridge.GetConn0(), pipe: p}
}

// Endpoint1 returns the frame endpoint for party 1.
func (p *Pipe) Endpoint1() *Endpoint {
	return &Endpoint{conn: p.bridge.GetConn1(), pipe: p}
}

// Close stops delivery and closes both endpoints.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.stopCh)
	p.mu.Unlock()

	p.wg.Wait()

	err0 := p.bridge.GetConn0().Close()
	err1 := p.bridge.GetConn1().Close()
	if err0 != nil {
		return err0
	}
	return err1
}

// Endpoint is one side of a Pipe. Each frame is one bridge packet with a
// little-endian length prefix so truncation is detectable on read.
type Endpoint struct {
	conn net.Conn
	pipe *Pipe
}

// WriteFrame sends one frame, subject to the pipe's condition knobs.
func (e *Endpoint) WriteFrame(frame []byte) error {
	if len(frame) > MaxFrameSize {
		return fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, len(frame))
	}

	e.pipe.mu.Lock()
	cond := e.pipe.condition
	roll := e.pipe.rng.Float64()
	dupRoll := e.pipe.rng.Float64()
	e.pipe.mu.Unlock()

	if cond.DropRate > 0 && roll < cond.DropRate {
		return nil
	}

	packet := make([]byte, 2+len(frame))
	binary.LittleEndian.PutUint16(packet, uint16(len(frame)))
	copy(packet[2:], frame)

	if cond.DuplicateRate > 0 && dupRoll < cond.DuplicateRate {
		if _, err := e.conn.Write(packet); err != nil {
			return err
		}
	}
	_, err := e.conn.Write(packet)
	return err
}

// ReadFrame blocks until one frame arrives or the read deadline expires.
func (e *Endpoint) ReadFrame() ([]byte, error) {
	buf := make([]byte, 2+MaxFrameSize)
	n, err := e.conn.Read(buf)
	if err != nil {
		return nil, err
	}
	if n < 2 {
		return nil, ErrShortFrame
	}
	size := int(binary.LittleEndian.Uint16(buf))
	if size > n-2 {
		return nil, fmt.Errorf("%w: prefix %d, payload %d", ErrShortFrame, size, n-2)
	}
	return append([]byte(nil), buf[2:2+size]...), nil
}

// SetReadDeadline bounds the next ReadFrame.
func (e *Endpoint) SetReadDeadline(t time.Time) error {
	return e.conn.SetReadDeadline(t)
}

// Close closes this side of the pipe.
func (e *Endpoint) Close() error {
	return e.conn.Close()
}
