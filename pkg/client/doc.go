// Package client is the public entry point for tether-go.
//
// A Client bundles the connection supervisor, a transport factory
// (WebSocket by default) and a protocol engine (the reference RPC
// engine by default) into one resilient logical connection:
//
//	c, err := client.New(client.Config{
//		Address: "wss://peer.example:8443/tether",
//	})
//	if err != nil {
//		...
//	}
//	c.OnEvent(func(e connection.Event) { ... })
//	if err := c.Start(); err != nil {
//		...
//	}
//	c.Call("status", nil, func(result cbor.RawMessage, err error) { ... })
//
// The client reconnects automatically with adaptive backoff, probes
// peer liveness, and queues outbound calls across outages.
package client
