package connection

import "time"

// Event is one lifecycle event emitted by the supervisor. The set of
// variants is closed: every event is one of the concrete types below,
// so a listener can switch exhaustively.
type Event interface {
	event()
}

// ConnectingEvent fires when a connect attempt begins.
type ConnectingEvent struct {
	// Address is the target address being connected to.
	Address string
}

// OpenEvent fires when the transport becomes usable.
type OpenEvent struct{}

// TransportErrorEvent reports a non-fatal transport fault. It carries
// no lifecycle decision; if the fault killed the link, a CloseEvent
// follows separately.
type TransportErrorEvent struct {
	Err error
}

// CloseEvent fires exactly once per session when it ends.
type CloseEvent struct {
	// Code is the close code the session ended with.
	Code int

	// Reason is the close reason.
	Reason string

	// ClosedByRemote is true when the peer initiated the closure.
	ClosedByRemote bool

	// Reconnect is true when a new connect attempt has been scheduled.
	Reconnect bool

	// ReconnectDelay is the scheduled delay. Only meaningful when
	// Reconnect is true.
	ReconnectDelay time.Duration
}

// ProbeSuccessEvent reports a successful liveness probe.
type ProbeSuccessEvent struct {
	// RTT is the measured probe round-trip time.
	RTT time.Duration
}

// ProbeFailureEvent reports a failed liveness probe.
type ProbeFailureEvent struct {
	// Consecutive is the consecutive-failure count including this one.
	Consecutive int

	// Err is the causing error.
	Err error
}

// ErrorEvent reports a generic supervisor-level error, including
// recovered panics from caller-supplied callbacks.
type ErrorEvent struct {
	Err error
}

// ProtocolErrorEvent reports a malformed inbound frame. The session
// stays up.
type ProtocolErrorEvent struct {
	Err error
}

func (ConnectingEvent) event()     {}
func (OpenEvent) event()           {}
func (TransportErrorEvent) event() {}
func (CloseEvent) event()          {}
func (ProbeSuccessEvent) event()   {}
func (ProbeFailureEvent) event()   {}
func (ErrorEvent) event()          {}
func (ProtocolErrorEvent) event()  {}

// Listener receives lifecycle events. Listeners are invoked
// synchronously from supervisor operations; a panicking listener is
// recovered and re-surfaced as an ErrorEvent.
type Listener func(Event)
