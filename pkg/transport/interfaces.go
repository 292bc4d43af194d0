package transport

import "errors"

// Transport errors.
var (
	// ErrNotOpen is returned by Send when the transport is not open.
	ErrNotOpen = errors.New("transport not open")

	// ErrClosed is returned by operations on a closed transport.
	ErrClosed = errors.New("transport closed")
)

// Well-known close codes.
const (
	// CloseNormal indicates a normal, intentional closure.
	CloseNormal = 1000

	// CloseAbnormal indicates the link dropped without a close exchange.
	// Never sent on the wire; reported when the peer vanishes.
	CloseAbnormal = 1006
)

// ReadyState describes the transport readiness.
type ReadyState uint8

const (
	// StateConnecting indicates the transport is not yet open.
	StateConnecting ReadyState = iota

	// StateOpen indicates the transport is usable.
	StateOpen

	// StateClosed indicates the transport is closed.
	StateClosed
)

// String returns a human-readable state name.
func (s ReadyState) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Handlers carries the event callbacks a transport reports into.
// Handlers are bound once, at creation, so no event can fire unobserved.
// Nil entries are allowed and skipped.
type Handlers struct {
	// OnOpen fires once when the transport becomes usable.
	OnOpen func()

	// OnError reports a transport-level fault. It carries no lifecycle
	// decision; a close notification always follows separately.
	OnError func(err error)

	// OnClose fires exactly once when the transport is done, from
	// either side. remote is true when the peer initiated the closure.
	OnClose func(code int, reason string, remote bool)

	// OnMessage delivers an inbound payload. binary distinguishes
	// binary from text encoding; content is untouched either way.
	OnMessage func(data []byte, binary bool)
}

// Transport is one attempt at a connected link. A Transport begins
// connecting when created and is exclusively owned by a single session;
// it is never reused after close.
type Transport interface {
	// Send transmits one opaque frame. Fails with ErrNotOpen unless the
	// transport is open.
	Send(data []byte, binary bool) error

	// Close closes the transport with the given code and reason.
	// Safe to call in any state, any number of times.
	Close(code int, reason string) error

	// State returns the current readiness state.
	State() ReadyState
}

// Factory opens a new transport to the given address with the given
// event handlers already subscribed. The returned transport is
// connecting; OnOpen or OnClose will follow asynchronously.
type Factory func(address string, h Handlers) (Transport, error)

// Compile-time interface satisfaction check.
var _ Transport = (*WebSocket)(nil)
