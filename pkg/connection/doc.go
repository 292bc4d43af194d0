// Package connection implements the tether core: a supervisor that
// keeps a logical connection alive over an unreliable, session-oriented
// transport.
//
// The supervisor owns the transport lifecycle. Each connect attempt is
// one session, identified by a token; asynchronous callbacks (transport
// events, timer firings, probe resolutions) verify the token before
// acting, so events from a superseded session are discarded rather than
// double-handled. A session ends through exactly one close-handling
// execution, whichever close signal arrives first.
//
// # Reconnection
//
// Session-ending failures bump a reconnect counter (clamped to a
// maximum); each successful liveness probe decays it (floored at zero).
// The delay before a reconnect attempt is computed by a caller-
// replaceable backoff policy from the pre-increment counter. The
// default policy is exponential with jitter:
//
//	delay = 2^counter * 100ms * uniform(0.5, 1.0)
//
// # Liveness
//
// While a session is open, the Monitor probes the peer through the
// protocol engine. The first probe after open fires immediately;
// subsequent probes follow the configured interval. Consecutive
// failures beyond the threshold end the session with the timeout close
// code, and reconnection proceeds per policy.
//
// # Outbound flow
//
// The protocol engine is paused whenever no session is open, so calls
// made during an outage queue instead of failing; the supervisor
// resumes the engine on open and the queue drains through the new
// transport.
package connection
