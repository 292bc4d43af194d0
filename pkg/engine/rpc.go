package engine

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"

	"github.com/tether-protocol/tether-go/pkg/timer"
)

// RPC engine defaults.
const (
	// DefaultCallTimeout is the default timeout for a single call.
	DefaultCallTimeout = 10 * time.Second

	// DefaultProbeTimeout is the default timeout for a liveness probe.
	DefaultProbeTimeout = 5 * time.Second

	// DefaultProbeMethod is the method name used for liveness probes.
	DefaultProbeMethod = "ping"
)

// RPC engine errors.
var (
	// ErrCallTimeout is resolved into a call's callback when no
	// response arrives in time.
	ErrCallTimeout = errors.New("call timed out")
)

// ResultFunc receives the outcome of a call: the raw CBOR result on
// success, or a non-nil error.
type ResultFunc func(result cbor.RawMessage, err error)

// RequestFunc handles an inbound call and returns a result value to be
// CBOR-encoded, or an error sent back to the caller.
type RequestFunc func(method string, params cbor.RawMessage) (any, error)

// RPCConfig configures the reference RPC engine.
type RPCConfig struct {
	// Scheduler drives call and probe timeouts. Nil uses the real
	// scheduler.
	Scheduler timer.Scheduler

	// CallTimeout bounds each outbound call (default: 10s).
	CallTimeout time.Duration

	// ProbeTimeout bounds each liveness probe (default: 5s).
	ProbeTimeout time.Duration

	// ProbeMethod is the method name for liveness probes
	// (default: "ping"). The engine answers inbound probe calls itself.
	ProbeMethod string
}

// RPC is a reference protocol engine: CBOR-encoded call/result/notify
// messages with ID correlation, per-call timeouts, and a ping probe.
// It satisfies the Engine boundary so the supervisor can be exercised
// end to end; it is deliberately small and not a full RPC system.
type RPC struct {
	cfg RPCConfig

	mu        sync.Mutex
	paused    bool
	queue     []Frame
	outbound  func(Frame)
	pending   map[string]*pendingCall
	onRequest RequestFunc
	onNotify  func(method string, params cbor.RawMessage)
}

type pendingCall struct {
	cb      ResultFunc
	timeout timer.Handle
	sentAt  time.Time
}

// NewRPC creates a reference RPC engine. The engine starts paused.
func NewRPC(cfg RPCConfig) *RPC {
	if cfg.Scheduler == nil {
		cfg.Scheduler = timer.NewScheduler()
	}
	if cfg.CallTimeout == 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.ProbeMethod == "" {
		cfg.ProbeMethod = DefaultProbeMethod
	}

	return &RPC{
		cfg:     cfg,
		paused:  true,
		pending: make(map[string]*pendingCall),
	}
}

// Wire message types.
type msgType uint8

const (
	msgCall msgType = iota + 1
	msgResult
	msgNotify
)

// message is the CBOR wire envelope.
type message struct {
	Type   msgType         `cbor:"t"`
	ID     string          `cbor:"id,omitempty"`
	Method string          `cbor:"m,omitempty"`
	Params cbor.RawMessage `cbor:"p,omitempty"`
	Result cbor.RawMessage `cbor:"r,omitempty"`
	Error  *wireError      `cbor:"e,omitempty"`
}

// wireError carries a remote failure inside a result message.
type wireError struct {
	Code    int    `cbor:"c"`
	Message string `cbor:"m"`
}

// RemoteError is a failure reported by the peer for a call.
type RemoteError struct {
	Code    int
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error %d: %s", e.Code, e.Message)
}

// OnOutbound registers the outbound frame sink.
func (r *RPC) OnOutbound(fn func(Frame)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outbound = fn
}

// OnRequest registers the handler for inbound calls. Without one, every
// non-probe call is answered with a method-not-found error.
func (r *RPC) OnRequest(fn RequestFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRequest = fn
}

// OnNotify registers the handler for inbound notifications.
func (r *RPC) OnNotify(fn func(method string, params cbor.RawMessage)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onNotify = fn
}

// Pause gates outbound flow. Frames produced while paused are queued.
func (r *RPC) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.paused = true
}

// Resume reopens outbound flow and flushes the queue in order.
func (r *RPC) Resume() {
	r.mu.Lock()
	r.paused = false
	flush := r.queue
	r.queue = nil
	sink := r.outbound
	r.mu.Unlock()

	if sink == nil {
		return
	}
	for _, f := range flush {
		sink(f)
	}
}

// Call issues an outbound call. cb resolves exactly once: with the
// result, a RemoteError, or ErrCallTimeout. While no session is open
// the frame queues; the timeout still runs, so a call queued through a
// long outage resolves as timed out rather than dangling.
func (r *RPC) Call(method string, params any, cb ResultFunc) error {
	return r.call(method, params, cb, r.cfg.CallTimeout)
}

// Notify issues an outbound notification. No response is expected.
func (r *RPC) Notify(method string, params any) error {
	msg := message{Type: msgNotify, Method: method}
	if err := msg.encodeParams(params); err != nil {
		return err
	}
	return r.emit(msg)
}

// Probe issues one liveness round-trip using the configured probe
// method and resolves fn with the measured delay.
func (r *RPC) Probe(fn func(rtt time.Duration, err error)) {
	start := time.Now()
	err := r.call(r.cfg.ProbeMethod, nil, func(_ cbor.RawMessage, err error) {
		fn(time.Since(start), err)
	}, r.cfg.ProbeTimeout)
	if err != nil {
		fn(0, err)
	}
}

func (r *RPC) call(method string, params any, cb ResultFunc, timeout time.Duration) error {
	msg := message{Type: msgCall, ID: uuid.NewString(), Method: method}
	if err := msg.encodeParams(params); err != nil {
		return err
	}

	pc := &pendingCall{cb: cb, sentAt: time.Now()}
	id := msg.ID

	r.mu.Lock()
	r.pending[id] = pc
	r.mu.Unlock()

	th := r.cfg.Scheduler.AfterFunc(timeout, func() {
		r.resolve(id, nil, ErrCallTimeout)
	})

	// The timer may have fired and resolved the call already; only
	// record the handle while the call is still pending, and under the
	// lock resolve reads it through.
	r.mu.Lock()
	if _, live := r.pending[id]; live {
		pc.timeout = th
		th = nil
	}
	r.mu.Unlock()
	if th != nil {
		th.Stop()
	}

	return r.emit(msg)
}

// HandleInbound consumes one inbound frame.
func (r *RPC) HandleInbound(data []byte, _ bool) error {
	var msg message
	if err := cbor.Unmarshal(data, &msg); err != nil {
		return fmt.Errorf("malformed frame: %w", err)
	}

	switch msg.Type {
	case msgResult:
		if msg.Error != nil {
			r.resolve(msg.ID, nil, &RemoteError{Code: msg.Error.Code, Message: msg.Error.Message})
		} else {
			r.resolve(msg.ID, msg.Result, nil)
		}
		return nil

	case msgCall:
		return r.handleCall(msg)

	case msgNotify:
		r.mu.Lock()
		fn := r.onNotify
		r.mu.Unlock()
		if fn != nil {
			fn(msg.Method, msg.Params)
		}
		return nil

	default:
		return fmt.Errorf("malformed frame: unknown message type %d", msg.Type)
	}
}

// handleCall answers an inbound call. Probe calls are answered by the
// engine itself; everything else goes through the request handler. A
// panicking handler is an engine fault, not a protocol error.
func (r *RPC) handleCall(msg message) (err error) {
	reply := message{Type: msgResult, ID: msg.ID}

	r.mu.Lock()
	handler := r.onRequest
	r.mu.Unlock()

	switch {
	case msg.Method == r.cfg.ProbeMethod:
		// Pong carries no payload.

	case handler == nil:
		reply.Error = &wireError{Code: 404, Message: "method not found: " + msg.Method}

	default:
		defer func() {
			if p := recover(); p != nil {
				err = &InternalError{Err: fmt.Errorf("request handler panic: %v", p)}
			}
		}()
		result, herr := handler(msg.Method, msg.Params)
		if herr != nil {
			reply.Error = &wireError{Code: 500, Message: herr.Error()}
		} else if result != nil {
			raw, merr := cbor.Marshal(result)
			if merr != nil {
				return &InternalError{Err: fmt.Errorf("encode result: %w", merr)}
			}
			reply.Result = raw
		}
	}

	return r.emit(reply)
}

// resolve completes a pending call exactly once.
func (r *RPC) resolve(id string, result cbor.RawMessage, err error) {
	r.mu.Lock()
	pc, ok := r.pending[id]
	var th timer.Handle
	if ok {
		delete(r.pending, id)
		th = pc.timeout
	}
	r.mu.Unlock()

	if !ok {
		// Stale or duplicate response.
		return
	}
	if th != nil {
		th.Stop()
	}
	pc.cb(result, err)
}

// PendingCalls returns the number of calls awaiting a response.
func (r *RPC) PendingCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

// emit encodes and emits one frame, or queues it while paused.
func (r *RPC) emit(msg message) error {
	data, err := cbor.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}
	frame := Frame{Data: data, Binary: true}

	r.mu.Lock()
	if r.paused || r.outbound == nil {
		r.queue = append(r.queue, frame)
		r.mu.Unlock()
		return nil
	}
	sink := r.outbound
	r.mu.Unlock()

	sink(frame)
	return nil
}

func (m *message) encodeParams(params any) error {
	if params == nil {
		return nil
	}
	raw, err := cbor.Marshal(params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}
	m.Params = raw
	return nil
}

// Compile-time interface satisfaction check.
var _ Engine = (*RPC)(nil)
