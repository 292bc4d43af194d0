package connection

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tether-protocol/tether-go/pkg/engine"
	"github.com/tether-protocol/tether-go/pkg/timer"
	"github.com/tether-protocol/tether-go/pkg/transport"
)

// fakeTransport is a test transport driven directly by the test: it
// records Send/Close calls and fires its bound handlers on demand.
type fakeTransport struct {
	mu     sync.Mutex
	h      transport.Handlers
	state  transport.ReadyState
	sent   [][]byte
	closes []struct {
		code   int
		reason string
	}
}

func (f *fakeTransport) Send(data []byte, binary bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state != transport.StateOpen {
		return transport.ErrNotOpen
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeTransport) Close(code int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = transport.StateClosed
	f.closes = append(f.closes, struct {
		code   int
		reason string
	}{code, reason})
	return nil
}

func (f *fakeTransport) State() transport.ReadyState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeTransport) open() {
	f.mu.Lock()
	f.state = transport.StateOpen
	f.mu.Unlock()
	f.h.OnOpen()
}

func (f *fakeTransport) remoteClose(code int, reason string) {
	f.mu.Lock()
	f.state = transport.StateClosed
	f.mu.Unlock()
	f.h.OnClose(code, reason, true)
}

// dialFail mimics a failed connection attempt: error notification
// followed by an abnormal local close, the shape the WebSocket
// transport produces when the dial fails.
func (f *fakeTransport) dialFail(err error) {
	f.mu.Lock()
	f.state = transport.StateClosed
	f.mu.Unlock()
	f.h.OnError(err)
	f.h.OnClose(transport.CloseAbnormal, err.Error(), false)
}

func (f *fakeTransport) lastClose(t *testing.T) (int, string) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.closes) == 0 {
		t.Fatal("transport was never closed")
	}
	c := f.closes[len(f.closes)-1]
	return c.code, c.reason
}

type fakeFactory struct {
	mu         sync.Mutex
	transports []*fakeTransport
	err        error
	panicky    bool
}

func (ff *fakeFactory) new(address string, h transport.Handlers) (transport.Transport, error) {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if ff.panicky {
		panic("factory exploded")
	}
	if ff.err != nil {
		return nil, ff.err
	}
	ft := &fakeTransport{h: h, state: transport.StateConnecting}
	ff.transports = append(ff.transports, ft)
	return ft, nil
}

func (ff *fakeFactory) count() int {
	ff.mu.Lock()
	defer ff.mu.Unlock()
	return len(ff.transports)
}

func (ff *fakeFactory) last(t *testing.T) *fakeTransport {
	t.Helper()
	ff.mu.Lock()
	defer ff.mu.Unlock()
	if len(ff.transports) == 0 {
		t.Fatal("factory was never called")
	}
	return ff.transports[len(ff.transports)-1]
}

// stubEngine implements engine.Engine with test-controlled behavior.
type stubEngine struct {
	mu         sync.Mutex
	paused     bool
	resumes    int
	pauses     int
	outbound   func(engine.Frame)
	inbound    [][]byte
	inboundErr error
	probes     []func(rtt time.Duration, err error)
}

func (e *stubEngine) Pause() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = true
	e.pauses++
}

func (e *stubEngine) Resume() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.paused = false
	e.resumes++
}

func (e *stubEngine) OnOutbound(fn func(engine.Frame)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outbound = fn
}

func (e *stubEngine) HandleInbound(data []byte, _ bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inbound = append(e.inbound, data)
	return e.inboundErr
}

func (e *stubEngine) Probe(fn func(rtt time.Duration, err error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.probes = append(e.probes, fn)
}

func (e *stubEngine) resolveProbe(t *testing.T, i int, rtt time.Duration, err error) {
	t.Helper()
	e.mu.Lock()
	if i >= len(e.probes) {
		e.mu.Unlock()
		t.Fatalf("no probe %d issued (got %d)", i, len(e.probes))
	}
	fn := e.probes[i]
	e.mu.Unlock()
	fn(rtt, err)
}

func (e *stubEngine) probeCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.probes)
}

func (e *stubEngine) isPaused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *stubEngine) inboundCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.inbound)
}

// eventRecorder collects emitted events.
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) listen(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) closeEvents() []CloseEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []CloseEvent
	for _, e := range r.events {
		if ce, ok := e.(CloseEvent); ok {
			out = append(out, ce)
		}
	}
	return out
}

func (r *eventRecorder) errorEvents() []ErrorEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []ErrorEvent
	for _, e := range r.events {
		if ee, ok := e.(ErrorEvent); ok {
			out = append(out, ee)
		}
	}
	return out
}

func (r *eventRecorder) countType(sample Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if fmt.Sprintf("%T", e) == fmt.Sprintf("%T", sample) {
			n++
		}
	}
	return n
}

type harness struct {
	cfg   *Config
	sched *timer.Manual
	eng   *stubEngine
	ff    *fakeFactory
	sup   *Supervisor
	rec   *eventRecorder
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	ff := &fakeFactory{}
	cfg, err := NewConfig("ws://peer:8443/t", ff.new)
	if err != nil {
		t.Fatal(err)
	}
	cfg.SetConnectTimeout(10 * time.Second)
	cfg.SetProbeInterval(30 * time.Second)

	eng := &stubEngine{}
	sched := timer.NewManual()
	sup := NewSupervisor(cfg, eng, sched)

	rec := &eventRecorder{}
	sup.OnEvent(rec.listen)

	return &harness{cfg: cfg, sched: sched, eng: eng, ff: ff, sup: sup, rec: rec}
}

// openSession starts the supervisor (if needed) and opens the current
// transport.
func (h *harness) openSession(t *testing.T) *fakeTransport {
	t.Helper()
	if !h.sup.Started() {
		if err := h.sup.Start(); err != nil {
			t.Fatal(err)
		}
	}
	ft := h.ff.last(t)
	ft.open()
	return ft
}

func TestStartConnectsImmediately(t *testing.T) {
	h := newHarness(t)

	if err := h.sup.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	if h.ff.count() != 1 {
		t.Fatalf("factory calls = %d, want 1", h.ff.count())
	}
	if got := h.rec.countType(ConnectingEvent{}); got != 1 {
		t.Errorf("connecting events = %d, want 1", got)
	}
	if h.sup.State() != StateConnecting {
		t.Errorf("State() = %v, want CONNECTING", h.sup.State())
	}
}

func TestStartWhileStartedFails(t *testing.T) {
	h := newHarness(t)

	if err := h.sup.Start(); err != nil {
		t.Fatal(err)
	}
	if err := h.sup.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
}

func TestOpenSession(t *testing.T) {
	h := newHarness(t)
	h.openSession(t)

	if !h.sup.Connected() {
		t.Error("Connected() = false after open")
	}
	if h.sup.State() != StateOpen {
		t.Errorf("State() = %v, want OPEN", h.sup.State())
	}
	if h.eng.isPaused() {
		t.Error("engine still paused after open")
	}
	if got := h.rec.countType(OpenEvent{}); got != 1 {
		t.Errorf("open events = %d, want 1", got)
	}

	// First probe fires immediately, not after a full interval.
	h.sched.Advance(0)
	if h.eng.probeCount() != 1 {
		t.Errorf("probe count = %d right after open, want 1", h.eng.probeCount())
	}
}

func TestConnectTimeout(t *testing.T) {
	h := newHarness(t)

	if err := h.sup.Start(); err != nil {
		t.Fatal(err)
	}
	ft := h.ff.last(t)

	h.sched.Advance(10 * time.Second)

	code, reason := ft.lastClose(t)
	if code != DefaultTimeoutCloseCode {
		t.Errorf("transport closed with code %d, want %d", code, DefaultTimeoutCloseCode)
	}
	if !strings.Contains(reason, "10s") {
		t.Errorf("close reason %q does not mention the timeout duration", reason)
	}

	closes := h.rec.closeEvents()
	if len(closes) != 1 {
		t.Fatalf("close events = %d, want 1", len(closes))
	}
	if closes[0].Code != DefaultTimeoutCloseCode || closes[0].ClosedByRemote || !closes[0].Reconnect {
		t.Errorf("close event = %+v, want timeout code, local, reconnect", closes[0])
	}
	if h.rec.countType(OpenEvent{}) != 0 {
		t.Error("open event fired for a timed-out connect")
	}
	if h.sup.ReconnectCounter() != 1 {
		t.Errorf("ReconnectCounter() = %d, want 1", h.sup.ReconnectCounter())
	}
}

func TestConnectTimeoutIgnoredAfterOpen(t *testing.T) {
	h := newHarness(t)
	h.openSession(t)

	h.sched.Advance(10 * time.Second)

	if len(h.rec.closeEvents()) != 0 {
		t.Error("connect timeout closed an already-open session")
	}
	if !h.sup.Connected() {
		t.Error("Connected() = false after timeout on open session")
	}
}

func TestReconnectBackoffSequence(t *testing.T) {
	h := newHarness(t)
	h.cfg.SetDelay(func(c int) time.Duration {
		return time.Duration(c+1) * 1111 * time.Millisecond
	})

	if err := h.sup.Start(); err != nil {
		t.Fatal(err)
	}

	wantDelays := []time.Duration{
		1111 * time.Millisecond,
		2222 * time.Millisecond,
		3333 * time.Millisecond,
	}
	for i, want := range wantDelays {
		h.ff.last(t).dialFail(errors.New("connection refused"))

		closes := h.rec.closeEvents()
		if len(closes) != i+1 {
			t.Fatalf("close events = %d after failure %d, want %d", len(closes), i+1, i+1)
		}
		ce := closes[i]
		if !ce.Reconnect || ce.ReconnectDelay != want {
			t.Errorf("failure %d: delay = %v, want %v", i+1, ce.ReconnectDelay, want)
		}
		if got := h.sup.ReconnectCounter(); got != i+1 {
			t.Errorf("failure %d: counter = %d, want %d", i+1, got, i+1)
		}

		h.sched.Advance(want)
		if h.ff.count() != i+2 {
			t.Fatalf("factory calls = %d after delay %d, want %d", h.ff.count(), i+1, i+2)
		}
	}
}

func TestCounterClampedAtMax(t *testing.T) {
	h := newHarness(t)
	h.cfg.SetMaxCounter(3)
	h.cfg.SetDelay(func(int) time.Duration { return time.Millisecond })

	if err := h.sup.Start(); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 8; i++ {
		h.ff.last(t).dialFail(errors.New("refused"))
		if got := h.sup.ReconnectCounter(); got > 3 {
			t.Fatalf("counter = %d, exceeded max 3", got)
		}
		h.sched.Advance(time.Millisecond)
	}
	if got := h.sup.ReconnectCounter(); got != 3 {
		t.Errorf("counter = %d after 8 failures with max 3, want 3", got)
	}
}

func TestProbeSuccessDecaysCounter(t *testing.T) {
	h := newHarness(t)
	h.cfg.SetDelay(func(int) time.Duration { return time.Millisecond })

	if err := h.sup.Start(); err != nil {
		t.Fatal(err)
	}

	// Drive the counter to 5 with five failed attempts.
	for i := 0; i < 5; i++ {
		h.ff.last(t).dialFail(errors.New("refused"))
		h.sched.Advance(time.Millisecond)
	}
	if h.sup.ReconnectCounter() != 5 {
		t.Fatalf("counter = %d after 5 failures, want 5", h.sup.ReconnectCounter())
	}

	h.ff.last(t).open()
	h.sched.Advance(0)

	// Six consecutive probe successes: 4, 3, 2, 1, 0, 0.
	want := []int{4, 3, 2, 1, 0, 0}
	for i, w := range want {
		h.eng.resolveProbe(t, i, 5*time.Millisecond, nil)
		if got := h.sup.ReconnectCounter(); got != w {
			t.Fatalf("counter = %d after success %d, want %d", got, i+1, w)
		}
		h.sched.Advance(30 * time.Second)
	}
}

func TestProbeThresholdClosesSession(t *testing.T) {
	h := newHarness(t)
	ft := h.openSession(t)
	h.sched.Advance(0)

	probeErr := errors.New("probe timed out")
	for i := 0; i < 3; i++ {
		h.eng.resolveProbe(t, i, 0, probeErr)
		h.sched.Advance(30 * time.Second)
	}

	if got := h.rec.countType(ProbeFailureEvent{}); got != 3 {
		t.Errorf("probe failure events = %d, want 3", got)
	}

	code, reason := ft.lastClose(t)
	if code != DefaultTimeoutCloseCode {
		t.Errorf("closed with code %d, want timeout code %d", code, DefaultTimeoutCloseCode)
	}
	if !strings.Contains(reason, "3 times") {
		t.Errorf("close reason %q does not mention the failure count", reason)
	}

	closes := h.rec.closeEvents()
	if len(closes) != 1 || !closes[0].Reconnect {
		t.Fatalf("close events = %+v, want one with reconnect", closes)
	}
}

func TestSingleCloseEventPerSession(t *testing.T) {
	h := newHarness(t)
	ft := h.openSession(t)

	existed, err := h.sup.CloseConnection(4002, "going away")
	if err != nil || !existed {
		t.Fatalf("CloseConnection() = %v, %v; want true, nil", existed, err)
	}

	// Late close signals for the same session are no-ops.
	ft.h.OnClose(1000, "remote close", true)
	ft.h.OnClose(1006, "abnormal", true)

	closes := h.rec.closeEvents()
	if len(closes) != 1 {
		t.Fatalf("close events = %d, want exactly 1", len(closes))
	}
	if closes[0].Code != 4002 || closes[0].Reason != "going away" || closes[0].ClosedByRemote {
		t.Errorf("close event = %+v, want local 4002 'going away'", closes[0])
	}
}

func TestRemoteCloseFlag(t *testing.T) {
	h := newHarness(t)
	ft := h.openSession(t)

	ft.remoteClose(1000, "server shutdown")

	closes := h.rec.closeEvents()
	if len(closes) != 1 || !closes[0].ClosedByRemote {
		t.Fatalf("close events = %+v, want one remote close", closes)
	}
}

func TestCloseConnectionValidation(t *testing.T) {
	h := newHarness(t)

	if _, err := h.sup.CloseConnection(2000, "nope"); !errors.Is(err, ErrInvalidCloseCode) {
		t.Errorf("CloseConnection(2000) error = %v, want ErrInvalidCloseCode", err)
	}

	existed, err := h.sup.CloseConnection(4000, "no session")
	if err != nil {
		t.Fatalf("CloseConnection() error: %v", err)
	}
	if existed {
		t.Error("CloseConnection() = true with no session")
	}
}

func TestStopIdempotent(t *testing.T) {
	h := newHarness(t)
	ft := h.openSession(t)

	h.sup.Stop(0, "")
	h.sup.Stop(0, "")

	closes := h.rec.closeEvents()
	if len(closes) != 1 {
		t.Fatalf("close events = %d after double stop, want 1", len(closes))
	}
	if closes[0].Code != transport.CloseNormal || closes[0].Reason != DefaultCloseReason {
		t.Errorf("close event = %+v, want normal closure defaults", closes[0])
	}
	if closes[0].Reconnect {
		t.Error("stop scheduled a reconnect")
	}

	code, reason := ft.lastClose(t)
	if code != transport.CloseNormal || reason != DefaultCloseReason {
		t.Errorf("transport closed with %d %q, want normal closure defaults", code, reason)
	}

	if h.sup.Started() {
		t.Error("Started() = true after Stop")
	}
	if !h.eng.isPaused() {
		t.Error("engine not paused after Stop")
	}

	// A full restart is allowed.
	if err := h.sup.Start(); err != nil {
		t.Errorf("Start() after Stop error: %v", err)
	}
	if h.sup.ReconnectCounter() != 0 {
		t.Errorf("counter = %d after restart, want 0", h.sup.ReconnectCounter())
	}
}

func TestStopCancelsPendingReconnect(t *testing.T) {
	h := newHarness(t)
	h.cfg.SetDelay(func(int) time.Duration { return time.Second })

	if err := h.sup.Start(); err != nil {
		t.Fatal(err)
	}
	h.ff.last(t).dialFail(errors.New("refused"))

	h.sup.Stop(0, "")
	h.sched.Advance(time.Minute)

	if h.ff.count() != 1 {
		t.Errorf("factory calls = %d after stop, want 1 (no reconnect)", h.ff.count())
	}
	// Only the failure's close event; stopping without a session emits
	// nothing further.
	if got := len(h.rec.closeEvents()); got != 1 {
		t.Errorf("close events = %d, want 1", got)
	}
}

func TestReconnectDisabled(t *testing.T) {
	h := newHarness(t)
	h.cfg.SetReconnect(false)
	ft := h.openSession(t)

	ft.remoteClose(1006, "gone")

	closes := h.rec.closeEvents()
	if len(closes) != 1 || closes[0].Reconnect {
		t.Fatalf("close events = %+v, want one without reconnect", closes)
	}
	if h.sup.Started() {
		t.Error("Started() = true after close with reconnect disabled")
	}
}

func TestTransportErrorDoesNotClose(t *testing.T) {
	h := newHarness(t)
	ft := h.openSession(t)

	ft.h.OnError(errors.New("tls hiccup"))

	if got := h.rec.countType(TransportErrorEvent{}); got != 1 {
		t.Errorf("transport error events = %d, want 1", got)
	}
	if len(h.rec.closeEvents()) != 0 {
		t.Error("transport error closed the session")
	}
	if !h.sup.Connected() {
		t.Error("Connected() = false after non-fatal transport error")
	}
}

func TestStaleSessionEventsIgnored(t *testing.T) {
	h := newHarness(t)
	ft := h.openSession(t)

	if _, err := h.sup.CloseConnection(4000, "rotating"); err != nil {
		t.Fatal(err)
	}

	before := h.eng.inboundCount()
	ft.h.OnMessage([]byte("late"), false)
	ft.h.OnError(errors.New("late error"))

	if h.eng.inboundCount() != before {
		t.Error("stale message reached the engine")
	}
	if got := h.rec.countType(TransportErrorEvent{}); got != 0 {
		t.Errorf("stale transport error emitted %d events", got)
	}
}

func TestInboundFrameForwarding(t *testing.T) {
	h := newHarness(t)
	ft := h.openSession(t)

	ft.h.OnMessage([]byte("hello"), false)
	ft.h.OnMessage([]byte{0x01, 0x02}, true)

	if h.eng.inboundCount() != 2 {
		t.Fatalf("engine received %d frames, want 2", h.eng.inboundCount())
	}
}

func TestMalformedFrameReportsProtocolError(t *testing.T) {
	h := newHarness(t)
	ft := h.openSession(t)

	h.eng.inboundErr = errors.New("malformed frame: bad cbor")
	ft.h.OnMessage([]byte("junk"), false)

	if got := h.rec.countType(ProtocolErrorEvent{}); got != 1 {
		t.Errorf("protocol error events = %d, want 1", got)
	}
	if !h.sup.Connected() {
		t.Error("malformed frame closed the session")
	}
}

func TestEngineInternalErrorClosesSession(t *testing.T) {
	h := newHarness(t)
	ft := h.openSession(t)

	h.eng.inboundErr = &engine.InternalError{Err: errors.New("dispatch corrupted")}
	ft.h.OnMessage([]byte("frame"), false)

	code, _ := ft.lastClose(t)
	if code != DefaultInternalCloseCode {
		t.Errorf("closed with code %d, want internal code %d", code, DefaultInternalCloseCode)
	}
	closes := h.rec.closeEvents()
	if len(closes) != 1 || !closes[0].Reconnect {
		t.Fatalf("close events = %+v, want one with reconnect", closes)
	}
}

func TestOutboundFrameDelivery(t *testing.T) {
	h := newHarness(t)
	ft := h.openSession(t)

	h.eng.outbound(engine.Frame{Data: []byte("payload"), Binary: true})

	ft.mu.Lock()
	sent := len(ft.sent)
	ft.mu.Unlock()
	if sent != 1 {
		t.Fatalf("transport sent %d frames, want 1", sent)
	}
}

func TestOutboundWithoutSessionIsError(t *testing.T) {
	h := newHarness(t)

	h.eng.outbound(engine.Frame{Data: []byte("too early")})

	if got := len(h.rec.errorEvents()); got != 1 {
		t.Errorf("error events = %d, want 1", got)
	}
}

func TestFactoryErrorSchedulesReconnect(t *testing.T) {
	h := newHarness(t)
	h.ff.err = errors.New("no route to host")

	if err := h.sup.Start(); err != nil {
		t.Fatal(err)
	}

	if got := len(h.rec.errorEvents()); got != 1 {
		t.Fatalf("error events = %d, want 1", got)
	}
	closes := h.rec.closeEvents()
	if len(closes) != 1 || closes[0].Code != DefaultInternalCloseCode || !closes[0].Reconnect {
		t.Fatalf("close events = %+v, want internal-code close with reconnect", closes)
	}
	if h.sup.ReconnectCounter() != 1 {
		t.Errorf("counter = %d, want 1", h.sup.ReconnectCounter())
	}
}

func TestFactoryPanicRecovered(t *testing.T) {
	h := newHarness(t)
	h.ff.panicky = true

	if err := h.sup.Start(); err != nil {
		t.Fatal(err)
	}

	errs := h.rec.errorEvents()
	if len(errs) != 1 || !strings.Contains(errs[0].Err.Error(), "panic") {
		t.Fatalf("error events = %+v, want one recovered panic", errs)
	}
	if len(h.rec.closeEvents()) != 1 {
		t.Error("panicking factory did not resolve into a close event")
	}
}

func TestDelayFuncPanicFallsBack(t *testing.T) {
	h := newHarness(t)
	h.cfg.SetDelay(func(int) time.Duration { panic("bad policy") })

	if err := h.sup.Start(); err != nil {
		t.Fatal(err)
	}
	h.ff.last(t).dialFail(errors.New("refused"))

	errs := h.rec.errorEvents()
	if len(errs) != 1 || !strings.Contains(errs[0].Err.Error(), "panic") {
		t.Fatalf("error events = %+v, want one recovered panic", errs)
	}
	closes := h.rec.closeEvents()
	if len(closes) != 1 || !closes[0].Reconnect {
		t.Fatal("close did not schedule reconnect after delay func panic")
	}
	// Fallback default delay for counter 0 lies in [50ms, 100ms].
	if d := closes[0].ReconnectDelay; d < 50*time.Millisecond || d > 100*time.Millisecond {
		t.Errorf("fallback delay = %v, want default policy range", d)
	}
}

func TestListenerPanicSurfacedAsErrorEvent(t *testing.T) {
	h := newHarness(t)
	h.sup.OnEvent(func(e Event) {
		if _, ok := e.(OpenEvent); ok {
			panic("listener bug")
		}
	})

	h.openSession(t)

	errs := h.rec.errorEvents()
	if len(errs) != 1 || !strings.Contains(errs[0].Err.Error(), "listener panic") {
		t.Fatalf("error events = %+v, want one listener panic", errs)
	}
	if !h.sup.Connected() {
		t.Error("listener panic broke the session")
	}
}

func TestOpenSignalBeforeFactoryReturns(t *testing.T) {
	ff := &fakeFactory{}
	eager := func(address string, h transport.Handlers) (transport.Transport, error) {
		tr, err := ff.new(address, h)
		if err != nil {
			return nil, err
		}
		ft := tr.(*fakeTransport)
		ft.mu.Lock()
		ft.state = transport.StateOpen
		ft.mu.Unlock()
		// Open signal fires before the factory has returned the
		// transport, like a dial goroutine winning the race.
		h.OnOpen()
		return tr, nil
	}

	cfg, err := NewConfig("ws://peer:8443/t", eager)
	if err != nil {
		t.Fatal(err)
	}
	eng := &stubEngine{}
	sched := timer.NewManual()
	sup := NewSupervisor(cfg, eng, sched)
	rec := &eventRecorder{}
	sup.OnEvent(rec.listen)

	if err := sup.Start(); err != nil {
		t.Fatal(err)
	}

	if !sup.Connected() {
		t.Fatal("Connected() = false after early open signal")
	}
	if got := rec.countType(OpenEvent{}); got != 1 {
		t.Errorf("open events = %d, want 1", got)
	}
	if eng.isPaused() {
		t.Error("engine still paused after open completed")
	}

	// Outbound frames queued through the outage must reach the
	// transport, not be dropped for a missing session.
	eng.outbound(engine.Frame{Data: []byte("queued")})
	ft := ff.last(t)
	ft.mu.Lock()
	sent := len(ft.sent)
	ft.mu.Unlock()
	if sent != 1 {
		t.Fatalf("transport sent %d frames, want 1", sent)
	}
	if errs := rec.errorEvents(); len(errs) != 0 {
		t.Errorf("error events = %+v, want none", errs)
	}

	// Liveness started with the accelerated first probe, and no
	// connect timer was left armed.
	sched.Advance(0)
	if eng.probeCount() != 1 {
		t.Errorf("probe count = %d, want 1", eng.probeCount())
	}
	if got := sched.PendingCount(); got != 0 {
		t.Errorf("pending timers = %d, want 0", got)
	}
}

func TestStopClampsInvalidCode(t *testing.T) {
	h := newHarness(t)
	ft := h.openSession(t)

	h.sup.Stop(2500, "going offline")

	code, reason := ft.lastClose(t)
	if code != transport.CloseNormal || reason != "going offline" {
		t.Errorf("transport closed with %d %q, want clamped normal closure", code, reason)
	}
	closes := h.rec.closeEvents()
	if len(closes) != 1 || closes[0].Code != transport.CloseNormal {
		t.Fatalf("close events = %+v, want one with code %d", closes, transport.CloseNormal)
	}
}

func TestProbeSuccessAfterCloseKeepsCounter(t *testing.T) {
	h := newHarness(t)
	h.openSession(t)
	h.sched.Advance(0)

	if _, err := h.sup.CloseConnection(4000, "rotating"); err != nil {
		t.Fatal(err)
	}
	if h.sup.ReconnectCounter() != 1 {
		t.Fatalf("counter = %d after close, want 1", h.sup.ReconnectCounter())
	}

	// A success resolution that was already in flight while the close
	// ran must not decay the counter the close just bumped.
	h.sup.onProbeSuccess(3 * time.Millisecond)

	if h.sup.ReconnectCounter() != 1 {
		t.Errorf("counter = %d after stale probe success, want 1", h.sup.ReconnectCounter())
	}
	if got := h.rec.countType(ProbeSuccessEvent{}); got != 0 {
		t.Errorf("probe success events = %d, want 0", got)
	}
}

func TestOpenCancelsPendingTimers(t *testing.T) {
	h := newHarness(t)
	h.openSession(t)
	h.sched.Advance(0) // first probe

	// Nothing but the probe interval timer may remain armed.
	if got := h.sched.PendingCount(); got != 0 {
		t.Errorf("pending timers = %d after open and first probe, want 0", got)
	}
}
