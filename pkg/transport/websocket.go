package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// WebSocket transport defaults.
const (
	// DefaultHandshakeTimeout bounds the WebSocket handshake. The
	// supervisor enforces its own connect timeout on top of this.
	DefaultHandshakeTimeout = 45 * time.Second

	// DefaultWriteTimeout bounds a single frame write.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultMaxMessageSize is the maximum inbound message size.
	DefaultMaxMessageSize = 1 << 20
)

// WebSocketConfig configures the WebSocket transport.
type WebSocketConfig struct {
	// Dialer is the gorilla dialer to use. Nil uses a default dialer
	// with DefaultHandshakeTimeout.
	Dialer *websocket.Dialer

	// RequestHeader is sent with the handshake request (e.g. for
	// authorization or subprotocol negotiation).
	RequestHeader http.Header

	// WriteTimeout bounds a single frame write (default: 10s).
	WriteTimeout time.Duration

	// MaxMessageSize is the maximum inbound message size in bytes
	// (default: 1MB).
	MaxMessageSize int64
}

// NewWebSocketFactory returns a Factory producing WebSocket transports.
func NewWebSocketFactory(cfg WebSocketConfig) Factory {
	return func(address string, h Handlers) (Transport, error) {
		return DialWebSocket(address, h, cfg)
	}
}

// DialWebSocket starts a WebSocket connection attempt to address.
// The attempt itself is asynchronous: the caller observes the outcome
// through h.OnOpen or h.OnClose.
func DialWebSocket(address string, h Handlers, cfg WebSocketConfig) (*WebSocket, error) {
	if address == "" {
		return nil, fmt.Errorf("websocket: empty address")
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = DefaultWriteTimeout
	}
	if cfg.MaxMessageSize == 0 {
		cfg.MaxMessageSize = DefaultMaxMessageSize
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: DefaultHandshakeTimeout}
	}

	ctx, cancel := context.WithCancel(context.Background())
	ws := &WebSocket{
		address:  address,
		handlers: h,
		cfg:      cfg,
		state:    StateConnecting,
		cancel:   cancel,
	}

	go ws.dial(ctx, dialer)

	return ws, nil
}

// WebSocket is a Transport over a gorilla WebSocket connection.
type WebSocket struct {
	address  string
	handlers Handlers
	cfg      WebSocketConfig
	cancel   context.CancelFunc

	mu    sync.Mutex
	state ReadyState
	conn  *websocket.Conn

	closeOnce sync.Once
	writeMu   sync.Mutex
}

// State returns the current readiness state.
func (ws *WebSocket) State() ReadyState {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	return ws.state
}

// Send transmits one frame as a text or binary message.
func (ws *WebSocket) Send(data []byte, binary bool) error {
	ws.mu.Lock()
	if ws.state == StateClosed {
		ws.mu.Unlock()
		return ErrClosed
	}
	if ws.state != StateOpen {
		ws.mu.Unlock()
		return ErrNotOpen
	}
	conn := ws.conn
	ws.mu.Unlock()

	msgType := websocket.TextMessage
	if binary {
		msgType = websocket.BinaryMessage
	}

	ws.writeMu.Lock()
	defer ws.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(ws.cfg.WriteTimeout))
	if err := conn.WriteMessage(msgType, data); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

// Close closes the transport with the given code and reason. If still
// connecting, the handshake is aborted. The close notification fires at
// most once no matter how often Close is called.
func (ws *WebSocket) Close(code int, reason string) error {
	ws.closeOnce.Do(func() {
		ws.cancel()

		ws.mu.Lock()
		conn := ws.conn
		ws.state = StateClosed
		ws.mu.Unlock()

		if conn != nil {
			// Best-effort close handshake, then drop the socket.
			msg := websocket.FormatCloseMessage(code, reason)
			ws.writeMu.Lock()
			_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(ws.cfg.WriteTimeout))
			ws.writeMu.Unlock()
			_ = conn.Close()
		}

		ws.emitClose(code, reason, false)
	})
	return nil
}

// dial performs the handshake and, on success, runs the read loop.
func (ws *WebSocket) dial(ctx context.Context, dialer *websocket.Dialer) {
	conn, resp, err := dialer.DialContext(ctx, ws.address, ws.cfg.RequestHeader)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		ws.emitError(fmt.Errorf("websocket dial %s: %w", ws.address, err))
		ws.closeOnce.Do(func() {
			ws.mu.Lock()
			ws.state = StateClosed
			ws.mu.Unlock()
			ws.emitClose(CloseAbnormal, fmt.Sprintf("dial failed: %v", err), false)
		})
		return
	}

	conn.SetReadLimit(ws.cfg.MaxMessageSize)

	ws.mu.Lock()
	if ws.state != StateConnecting {
		// Close raced the handshake; the close event already fired.
		ws.mu.Unlock()
		conn.Close()
		return
	}
	ws.conn = conn
	ws.state = StateOpen
	ws.mu.Unlock()

	if ws.handlers.OnOpen != nil {
		ws.handlers.OnOpen()
	}

	ws.readLoop(conn)
}

// readLoop pumps inbound messages until the connection dies. The read
// error determines the close code reported for remote closures.
func (ws *WebSocket) readLoop(conn *websocket.Conn) {
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			ws.handleReadError(conn, err)
			return
		}
		if ws.handlers.OnMessage != nil {
			ws.handlers.OnMessage(data, msgType == websocket.BinaryMessage)
		}
	}
}

func (ws *WebSocket) handleReadError(conn *websocket.Conn, err error) {
	code := CloseAbnormal
	reason := err.Error()
	if ce, ok := err.(*websocket.CloseError); ok {
		code = ce.Code
		reason = ce.Text
	} else {
		// Not a close frame: the link failed underneath us.
		ws.emitError(fmt.Errorf("websocket read: %w", err))
	}

	ws.closeOnce.Do(func() {
		ws.mu.Lock()
		ws.state = StateClosed
		ws.mu.Unlock()
		conn.Close()
		ws.emitClose(code, reason, true)
	})
}

func (ws *WebSocket) emitError(err error) {
	if ws.handlers.OnError != nil {
		ws.handlers.OnError(err)
	}
}

func (ws *WebSocket) emitClose(code int, reason string, remote bool) {
	if ws.handlers.OnClose != nil {
		ws.handlers.OnClose(code, reason, remote)
	}
}
