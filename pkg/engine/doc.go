// Package engine defines the protocol-engine boundary between the
// connection supervisor and the remote-call protocol, and provides a
// small reference implementation.
//
// The supervisor treats the engine as opaque: it forwards inbound
// frames in, forwards outbound frames to the transport, pauses the
// engine while no session is open, and asks it to probe peer liveness.
// Everything else - correlation, serialization, dispatch, probe
// mechanics - lives behind the Engine interface.
//
// The reference RPC engine speaks CBOR-encoded call/result/notify
// envelopes with UUID correlation and answers "ping" probes itself.
package engine
