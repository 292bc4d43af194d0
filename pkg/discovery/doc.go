// Package discovery resolves tether peers on the local network via
// mDNS/DNS-SD.
//
// Peers announce themselves under the "_tether._tcp" service type with
// TXT records describing the WebSocket endpoint (path, TLS, protocol
// version). Browse streams discovered peers; Find resolves a specific
// instance to a Service whose URL() feeds directly into the client's
// address configuration.
package discovery
