package handshake

import "github.com/backkem/authgraph/pkg/wire"

// transitions is the receive-side state machine table: for each
// non-terminal state, which message kind may be consumed and which state a
// successful step leads to. Everything not listed here is rejected, which
// keeps every reachable transition in one auditable place.
//
// The produce-side transitions (source emitting Init, sink emitting
// Respond, source emitting Finish) are the same rows read in reverse; they
// are enforced by the per-role entry points in session.go.
var transitions = map[State]map[wire.MsgType]State{
	StateAwaitingPeerInit: {
		wire.TypeInit: StateAwaitingFinish,
	},
	StateAwaitingPeerResponse: {
		wire.TypeRespond: StateEstablished,
	},
	StateAwaitingFinish: {
		wire.TypeFinish: StateEstablished,
	},
}

// nextState returns the state a message kind leads to from the current
// state. A message on a completed session is a replay; anything else not in
// the table is out of order.
func nextState(current State, t wire.MsgType) (State, error) {
	if current == StateEstablished {
		return current, ErrReplayDetected
	}
	if current == StateFailed {
		return current, ErrHandshakeFailed
	}
	row, ok := transitions[current]
	if !ok {
		return current, ErrOutOfOrderMessage
	}
	next, ok := row[t]
	if !ok {
		return current, ErrOutOfOrderMessage
	}
	return next, nil
}
