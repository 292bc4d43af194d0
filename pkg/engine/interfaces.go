package engine

import (
	"fmt"
	"time"
)

// Frame is one opaque payload exchanged with the transport. The core
// never inspects Data; Binary only selects the wire encoding.
type Frame struct {
	Data   []byte
	Binary bool
}

// Engine is the protocol-engine boundary the connection supervisor
// drives. The engine owns request/response correlation, serialization
// and probe mechanics; the supervisor owns when frames may flow.
//
// An Engine starts paused. The supervisor resumes it when a session
// opens and pauses it again when the session closes, so outbound frames
// queue across outages instead of being lost.
type Engine interface {
	// Pause gates outbound frame emission. Calls made while paused are
	// queued.
	Pause()

	// Resume reopens outbound flow and flushes queued frames in order.
	Resume()

	// OnOutbound registers the sink receiving outbound frames. Exactly
	// one sink is supported; the supervisor registers itself.
	OnOutbound(fn func(Frame))

	// HandleInbound consumes one inbound frame. A malformed frame is
	// reported as a plain error and does not end the session; an error
	// wrapped in *InternalError signals an engine fault that must end
	// the session.
	HandleInbound(data []byte, binary bool) error

	// Probe performs one liveness round-trip and resolves fn with the
	// measured delay, or with an error on timeout or remote failure.
	Probe(fn func(rtt time.Duration, err error))
}

// InternalError marks an unexpected engine-internal failure, as opposed
// to a malformed inbound frame. The supervisor closes the session when
// HandleInbound returns one.
type InternalError struct {
	Err error
}

func (e *InternalError) Error() string {
	return fmt.Sprintf("engine internal error: %v", e.Err)
}

func (e *InternalError) Unwrap() error {
	return e.Err
}
