// Package transport defines the session-oriented transport boundary the
// connection supervisor drives, plus a production WebSocket
// implementation over gorilla/websocket.
//
// A Transport represents exactly one connection attempt. It is created
// by a Factory with its event handlers already bound, so open, error,
// close and message notifications cannot be missed. Error notifications
// are informational only; every transport terminates with exactly one
// close notification, from whichever side ends it first.
package transport
