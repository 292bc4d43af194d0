package connection

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tether-protocol/tether-go/pkg/engine"
	"github.com/tether-protocol/tether-go/pkg/timer"
	"github.com/tether-protocol/tether-go/pkg/transport"
)

// Supervisor errors.
var (
	// ErrAlreadyStarted is returned by Start on a started supervisor.
	ErrAlreadyStarted = errors.New("supervisor already started")
)

// State represents the supervisor state.
type State uint8

const (
	// StateIdle indicates the supervisor is not started.
	StateIdle State = iota

	// StateConnecting indicates a transport has been requested but is
	// not yet open.
	StateConnecting

	// StateOpen indicates an open, monitored session.
	StateOpen

	// StateReconnecting indicates the supervisor is waiting out a
	// backoff delay before the next connect attempt.
	StateReconnecting
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateReconnecting:
		return "RECONNECTING"
	default:
		return "UNKNOWN"
	}
}

// session is one connect attempt, from transport request to close
// handled. At most one session exists at a time; its identity token
// makes callbacks from superseded sessions inert.
type session struct {
	id           uuid.UUID
	tr           transport.Transport
	open         bool
	pendingOpen  bool
	closeHandled bool
	connectTimer timer.Handle
}

// Supervisor coordinates transport lifecycle: connect attempts,
// connect-timeout enforcement, liveness monitoring, and reconnection
// with adaptive backoff. It owns the protocol engine's pause state so
// outbound calls queue across outages.
type Supervisor struct {
	cfg     *Config
	sched   timer.Scheduler
	eng     engine.Engine
	monitor *Monitor

	mu             sync.Mutex
	started        bool
	sess           *session
	counter        int
	reconnectTimer timer.Handle
	listeners      []Listener
}

// NewSupervisor creates a supervisor over the given configuration and
// protocol engine. A nil scheduler selects the real-time scheduler.
// The engine is paused until a session opens.
func NewSupervisor(cfg *Config, eng engine.Engine, sched timer.Scheduler) *Supervisor {
	if sched == nil {
		sched = timer.NewScheduler()
	}

	s := &Supervisor{
		cfg:   cfg,
		sched: sched,
		eng:   eng,
	}
	s.monitor = NewMonitor(sched, eng, cfg.ProbeInterval, cfg.ProbeFailThreshold, MonitorCallbacks{
		OnSuccess:   s.onProbeSuccess,
		OnFailure:   s.onProbeFailure,
		OnThreshold: s.onProbeThreshold,
	})

	eng.Pause()
	eng.OnOutbound(s.transmit)

	return s
}

// OnEvent registers a lifecycle event listener.
func (s *Supervisor) OnEvent(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Started reports whether the supervisor is started.
func (s *Supervisor) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// Connected reports whether an open, usable session exists.
func (s *Supervisor) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess != nil && s.sess.open && !s.sess.closeHandled
}

// ReconnectCounter returns the current reconnect counter.
func (s *Supervisor) ReconnectCounter() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case !s.started:
		return StateIdle
	case s.sess != nil && s.sess.open:
		return StateOpen
	case s.sess != nil:
		return StateConnecting
	default:
		return StateReconnecting
	}
}

// Start begins the first connect attempt immediately. It fails if the
// supervisor is already started.
func (s *Supervisor) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.counter = 0
	s.mu.Unlock()

	s.connect()
	return nil
}

// Stop stops the supervisor: cancels any pending reconnect, stops
// liveness monitoring, and closes the active session (if any) with the
// given code and reason. Zero code and empty reason select the normal
// closure defaults. Idempotent.
func (s *Supervisor) Stop(code int, reason string) {
	// Zero selects the default; an invalid code must never reach the
	// wire, so it falls back to normal closure too.
	if code == 0 || !ValidCloseCode(code) {
		code = transport.CloseNormal
	}
	if reason == "" {
		reason = DefaultCloseReason
	}

	s.mu.Lock()
	s.started = false
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	var sid uuid.UUID
	hasSession := s.sess != nil
	if hasSession {
		sid = s.sess.id
	}
	s.mu.Unlock()

	s.monitor.Stop()

	if hasSession {
		s.sessionClosed(sid, code, reason, false, true)
	} else {
		s.eng.Pause()
	}
}

// CloseConnection closes the currently active session with the given
// code and reason, then - if still started and reconnect is enabled -
// schedules a new connect attempt per the backoff policy. Returns
// whether a session existed.
func (s *Supervisor) CloseConnection(code int, reason string) (bool, error) {
	if !ValidCloseCode(code) {
		return false, fmt.Errorf("close code %d: %w", code, ErrInvalidCloseCode)
	}

	s.mu.Lock()
	if s.sess == nil {
		s.mu.Unlock()
		return false, nil
	}
	sid := s.sess.id
	s.mu.Unlock()

	s.sessionClosed(sid, code, reason, false, true)
	return true, nil
}

// connect begins a new session: requests a transport from the factory,
// arms the connect-timeout timer, and leaves the rest to transport
// events. All event callbacks carry the session identity and become
// inert once the session is superseded.
func (s *Supervisor) connect() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	sid := uuid.New()
	s.sess = &session{id: sid}
	s.mu.Unlock()

	address := s.cfg.Address()
	timeout := s.cfg.ConnectTimeout()

	s.emit(ConnectingEvent{Address: address})

	tr, err := s.openTransport(address, sid)

	s.mu.Lock()
	if s.sess == nil || s.sess.id != sid {
		// Superseded while the factory ran (e.g. Stop).
		s.mu.Unlock()
		if tr != nil {
			tr.Close(transport.CloseNormal, DefaultCloseReason)
		}
		return
	}

	if err != nil {
		s.mu.Unlock()
		s.emit(ErrorEvent{Err: err})
		s.sessionClosed(sid, s.cfg.InternalCloseCode(), fmt.Sprintf("transport factory failed: %v", err), false, false)
		return
	}

	s.sess.tr = tr
	if s.sess.pendingOpen {
		// The open signal won the race against the factory return;
		// finish the open now that the transport is recorded.
		s.completeOpen()
		return
	}
	if !s.sess.closeHandled && !s.sess.open {
		s.sess.connectTimer = s.sched.AfterFunc(timeout, func() {
			s.onConnectTimeout(sid, timeout)
		})
	}
	s.mu.Unlock()
}

// openTransport invokes the caller-supplied factory with panic
// containment.
func (s *Supervisor) openTransport(address string, sid uuid.UUID) (tr transport.Transport, err error) {
	defer func() {
		if p := recover(); p != nil {
			tr, err = nil, fmt.Errorf("transport factory panic: %v", p)
		}
	}()

	return s.cfg.Factory()(address, transport.Handlers{
		OnOpen:    func() { s.onOpen(sid) },
		OnError:   func(err error) { s.onTransportError(sid, err) },
		OnClose:   func(code int, reason string, remote bool) { s.sessionClosed(sid, code, reason, remote, false) },
		OnMessage: func(data []byte, binary bool) { s.onMessage(sid, data, binary) },
	})
}

// onOpen handles the transport becoming usable. The transport may
// signal open before the factory call returns; the session is not
// usable until connect has recorded the transport, so in that case the
// open completion is deferred to connect.
func (s *Supervisor) onOpen(sid uuid.UUID) {
	s.mu.Lock()
	if s.sess == nil || s.sess.id != sid || s.sess.closeHandled {
		s.mu.Unlock()
		return
	}
	if s.sess.tr == nil {
		s.sess.pendingOpen = true
		s.mu.Unlock()
		return
	}
	s.completeOpen()
}

// completeOpen marks the session open and brings up everything that
// depends on a usable transport: the engine resumes (flushing queued
// outbound frames) and liveness monitoring starts. Called with mu held;
// releases it before invoking callbacks.
func (s *Supervisor) completeOpen() {
	s.sess.open = true
	s.sess.pendingOpen = false
	if s.sess.connectTimer != nil {
		s.sess.connectTimer.Stop()
		s.sess.connectTimer = nil
	}
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.mu.Unlock()

	s.eng.Resume()
	// First probe fires immediately so the fresh session is validated
	// without waiting a full interval.
	s.monitor.Start(0)

	s.emit(OpenEvent{})
}

// onTransportError surfaces a transport fault. Never a lifecycle
// decision: only a close notification ends the session, which avoids
// double-closing on transports that emit both for one failure.
func (s *Supervisor) onTransportError(sid uuid.UUID, err error) {
	s.mu.Lock()
	stale := s.sess == nil || s.sess.id != sid || s.sess.closeHandled
	s.mu.Unlock()
	if stale {
		return
	}
	s.emit(TransportErrorEvent{Err: err})
}

// onMessage forwards an inbound frame to the protocol engine.
func (s *Supervisor) onMessage(sid uuid.UUID, data []byte, binary bool) {
	s.mu.Lock()
	stale := s.sess == nil || s.sess.id != sid || s.sess.closeHandled
	s.mu.Unlock()
	if stale {
		return
	}

	err := s.eng.HandleInbound(data, binary)
	if err == nil {
		return
	}

	var internal *engine.InternalError
	if errors.As(err, &internal) {
		s.emit(ErrorEvent{Err: err})
		s.sessionClosed(sid, s.cfg.InternalCloseCode(), fmt.Sprintf("protocol engine error: %v", internal.Err), false, true)
		return
	}

	// Malformed frame: report, keep the session.
	s.emit(ProtocolErrorEvent{Err: err})
}

// onConnectTimeout fires when the connect-timeout timer elapses.
func (s *Supervisor) onConnectTimeout(sid uuid.UUID, timeout time.Duration) {
	s.mu.Lock()
	stale := s.sess == nil || s.sess.id != sid || s.sess.closeHandled || s.sess.open
	s.mu.Unlock()
	if stale {
		return
	}

	reason := fmt.Sprintf("connect timed out after %s", timeout)
	s.sessionClosed(sid, s.cfg.TimeoutCloseCode(), reason, false, true)
}

// transmit is the protocol engine's outbound sink. The engine is
// resumed only while a session is open, so a miss here indicates a
// wiring fault rather than a normal race.
func (s *Supervisor) transmit(f engine.Frame) {
	s.mu.Lock()
	if s.sess == nil || !s.sess.open || s.sess.closeHandled || s.sess.tr == nil {
		s.mu.Unlock()
		s.emit(ErrorEvent{Err: errors.New("outbound frame with no open session")})
		return
	}
	tr := s.sess.tr
	s.mu.Unlock()

	if err := tr.Send(f.Data, f.Binary); err != nil {
		s.emit(TransportErrorEvent{Err: err})
	}
}

// onProbeSuccess decays the reconnect counter on confirmed health.
// A resolution racing the session close must not undo the bump that
// close just applied, so the session is re-checked here.
func (s *Supervisor) onProbeSuccess(rtt time.Duration) {
	s.mu.Lock()
	if s.sess == nil || !s.sess.open || s.sess.closeHandled {
		s.mu.Unlock()
		return
	}
	s.counter = decayCounter(s.counter)
	s.mu.Unlock()

	s.emit(ProbeSuccessEvent{RTT: rtt})
}

func (s *Supervisor) onProbeFailure(consecutive int, err error) {
	s.emit(ProbeFailureEvent{Consecutive: consecutive, Err: err})
}

// onProbeThreshold ends the session once consecutive probe failures
// reach the configured threshold.
func (s *Supervisor) onProbeThreshold(consecutive int) {
	s.mu.Lock()
	if s.sess == nil {
		s.mu.Unlock()
		return
	}
	sid := s.sess.id
	s.mu.Unlock()

	reason := fmt.Sprintf("liveness probe failed %d times consecutively", consecutive)
	s.sessionClosed(sid, s.cfg.TimeoutCloseCode(), reason, false, true)
}

// sessionClosed is the single close-handling path for a session, fed by
// transport close notifications and internal decisions alike. The
// session's closeHandled flag guarantees the first caller wins; any
// later close signal for the same session is a no-op.
//
// closeTransport is set for internal decisions, which must actively
// close the transport; notifications from the transport itself arrive
// with it already closed.
func (s *Supervisor) sessionClosed(sid uuid.UUID, code int, reason string, remote bool, closeTransport bool) {
	s.mu.Lock()
	if s.sess == nil || s.sess.id != sid || s.sess.closeHandled {
		s.mu.Unlock()
		return
	}
	s.sess.closeHandled = true
	if s.sess.connectTimer != nil {
		s.sess.connectTimer.Stop()
		s.sess.connectTimer = nil
	}
	tr := s.sess.tr
	s.sess = nil

	reconnect := s.started && s.cfg.Reconnect()
	var delay time.Duration
	var delayErr error
	if reconnect {
		delay, delayErr = s.computeDelay(s.counter)
		s.counter = bumpCounter(s.counter, s.cfg.MaxCounter())
		s.reconnectTimer = s.sched.AfterFunc(delay, s.reconnectFired)
	} else {
		s.started = false
	}
	s.mu.Unlock()

	s.monitor.Stop()
	s.eng.Pause()

	if closeTransport && tr != nil {
		tr.Close(code, reason)
	}

	if delayErr != nil {
		s.emit(ErrorEvent{Err: delayErr})
	}
	s.emit(CloseEvent{
		Code:           code,
		Reason:         reason,
		ClosedByRemote: remote,
		Reconnect:      reconnect,
		ReconnectDelay: delay,
	})
}

// reconnectFired begins the next connect attempt after a backoff wait.
func (s *Supervisor) reconnectFired() {
	s.mu.Lock()
	s.reconnectTimer = nil
	started := s.started
	s.mu.Unlock()

	if started {
		s.connect()
	}
}

// computeDelay evaluates the caller-supplied backoff policy with panic
// containment; a panicking policy falls back to the default for this
// attempt and is re-surfaced as an error event.
func (s *Supervisor) computeDelay(counter int) (d time.Duration, err error) {
	defer func() {
		if p := recover(); p != nil {
			d = DefaultDelay(counter)
			err = fmt.Errorf("reconnect delay func panic: %v", p)
		}
	}()

	d = s.cfg.Delay()(counter)
	if d < 0 {
		d = 0
	}
	return d, nil
}

// emit delivers an event to all listeners, recovering listener panics
// so a misbehaving caller handler cannot take down the supervisor.
func (s *Supervisor) emit(e Event) {
	s.mu.Lock()
	listeners := make([]Listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	for _, l := range listeners {
		s.dispatch(l, e)
	}
}

func (s *Supervisor) dispatch(l Listener, e Event) {
	defer func() {
		if p := recover(); p != nil {
			if _, isErr := e.(ErrorEvent); isErr {
				// Do not recurse on a panicking error listener.
				return
			}
			s.emit(ErrorEvent{Err: fmt.Errorf("event listener panic: %v", p)})
		}
	}()

	l(e)
}
