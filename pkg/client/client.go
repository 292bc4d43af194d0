package client

import (
	"errors"

	"github.com/fxamacker/cbor/v2"

	"github.com/tether-protocol/tether-go/pkg/connection"
	"github.com/tether-protocol/tether-go/pkg/engine"
	"github.com/tether-protocol/tether-go/pkg/log"
	"github.com/tether-protocol/tether-go/pkg/timer"
	"github.com/tether-protocol/tether-go/pkg/transport"
)

// Client errors.
var (
	// ErrExternalEngine is returned by Call and Notify when the client
	// was built around a caller-supplied protocol engine; calls must
	// then go through that engine directly.
	ErrExternalEngine = errors.New("client uses an external protocol engine")
)

// Config configures a tether client.
type Config struct {
	// Address is the target address (e.g. "wss://peer.example:8443/t").
	Address string

	// Factory opens transports. Nil selects the WebSocket transport
	// with default settings.
	Factory transport.Factory

	// WebSocket tunes the default WebSocket factory. Ignored when
	// Factory is set.
	WebSocket transport.WebSocketConfig

	// Engine is the protocol engine. Nil selects the reference RPC
	// engine, reachable through Call/Notify.
	Engine engine.Engine

	// RPC tunes the reference engine. Ignored when Engine is set.
	RPC engine.RPCConfig

	// Scheduler drives all timers. Nil selects the real-time
	// scheduler; tests inject timer.Manual.
	Scheduler timer.Scheduler

	// Logger, when set, receives all lifecycle events.
	Logger log.Logger
}

// Client is the public facade over the connection supervisor and
// protocol engine: one resilient logical connection to a remote peer.
type Client struct {
	conf *connection.Config
	sup  *connection.Supervisor
	rpc  *engine.RPC
}

// New creates a client. Connection behavior (timeouts, backoff, close
// codes, probe policy) is tuned through Conn() before or after Start.
func New(cfg Config) (*Client, error) {
	factory := cfg.Factory
	if factory == nil {
		factory = transport.NewWebSocketFactory(cfg.WebSocket)
	}

	conf, err := connection.NewConfig(cfg.Address, factory)
	if err != nil {
		return nil, err
	}

	var rpc *engine.RPC
	eng := cfg.Engine
	if eng == nil {
		rpcCfg := cfg.RPC
		if rpcCfg.Scheduler == nil {
			rpcCfg.Scheduler = cfg.Scheduler
		}
		rpc = engine.NewRPC(rpcCfg)
		eng = rpc
	}

	c := &Client{
		conf: conf,
		sup:  connection.NewSupervisor(conf, eng, cfg.Scheduler),
		rpc:  rpc,
	}

	if cfg.Logger != nil {
		c.sup.OnEvent(log.Listener(cfg.Logger))
	}

	return c, nil
}

// Conn returns the connection configuration for tuning: address,
// connect timeout, reconnect policy, probe policy, close codes.
func (c *Client) Conn() *connection.Config {
	return c.conf
}

// RPC returns the reference engine, or nil when the client was built
// around an external engine.
func (c *Client) RPC() *engine.RPC {
	return c.rpc
}

// OnEvent registers a lifecycle event listener.
func (c *Client) OnEvent(l connection.Listener) {
	c.sup.OnEvent(l)
}

// Start connects to the peer. Fails if already started.
func (c *Client) Start() error {
	return c.sup.Start()
}

// Stop stops the client, closing any active session with the given
// code and reason. Zero code and empty reason select 1000 / "Normal
// Closure". Idempotent.
func (c *Client) Stop(code int, reason string) {
	c.sup.Stop(code, reason)
}

// Close stops the client with the normal closure defaults.
func (c *Client) Close() {
	c.sup.Stop(0, "")
}

// CloseConnection closes the current session; reconnection follows per
// policy if the client is started and reconnect is enabled. Returns
// whether a session existed.
func (c *Client) CloseConnection(code int, reason string) (bool, error) {
	return c.sup.CloseConnection(code, reason)
}

// Call issues an outbound call through the reference engine. During an
// outage the call queues and is transmitted once a session reopens, or
// resolves as timed out, whichever comes first.
func (c *Client) Call(method string, params any, cb engine.ResultFunc) error {
	if c.rpc == nil {
		return ErrExternalEngine
	}
	return c.rpc.Call(method, params, cb)
}

// Notify issues an outbound notification through the reference engine.
func (c *Client) Notify(method string, params any) error {
	if c.rpc == nil {
		return ErrExternalEngine
	}
	return c.rpc.Notify(method, params)
}

// OnRequest registers the handler for inbound calls on the reference
// engine.
func (c *Client) OnRequest(fn engine.RequestFunc) error {
	if c.rpc == nil {
		return ErrExternalEngine
	}
	c.rpc.OnRequest(fn)
	return nil
}

// OnNotify registers the handler for inbound notifications on the
// reference engine.
func (c *Client) OnNotify(fn func(method string, params cbor.RawMessage)) error {
	if c.rpc == nil {
		return ErrExternalEngine
	}
	c.rpc.OnNotify(fn)
	return nil
}

// Started reports whether the client is started.
func (c *Client) Started() bool {
	return c.sup.Started()
}

// Connected reports whether an open, usable session exists.
func (c *Client) Connected() bool {
	return c.sup.Connected()
}

// ReconnectCounter returns the current reconnect counter.
func (c *Client) ReconnectCounter() int {
	return c.sup.ReconnectCounter()
}

// State returns the supervisor lifecycle state.
func (c *Client) State() connection.State {
	return c.sup.State()
}
