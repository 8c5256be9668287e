// Package transport provides the wire transport layer for flowsock.
//
// The transport layer handles:
//   - TCP and TLS dialing (ws:// and wss:// schemes)
//   - The RFC 6455 opening handshake (HTTP/1.1 upgrade) with
//     subprotocol negotiation
//   - Frame serialization with client-side masking
//   - Control frames: automatic pong replies, the closing handshake,
//     optional keep-alive pings
//
// # Protocol stack
//
//	┌────────────────────────────────┐
//	│   Messages (pkg/stream)        │
//	├────────────────────────────────┤
//	│   RFC 6455 frames              │
//	├────────────────────────────────┤
//	│   TLS 1.2+ (wss only)          │
//	├────────────────────────────────┤
//	│   TCP                          │
//	└────────────────────────────────┘
//
// Consumers interact with the Transport interface only; WSTransport is the
// production implementation. Tests substitute their own Transport to drive
// connections without a network.
//
// Data frames are delivered through the OnFragment callback on the
// transport's read goroutine. The callback is allowed to block; while it
// does, no further frames are read from the socket, which is how consumer
// backpressure reaches the peer's TCP send buffer. Control frames never
// reach the callback.
package transport
