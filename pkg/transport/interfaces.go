package transport

import (
	"context"
	"net/url"

	"github.com/flowsock/flowsock-go/pkg/wire"
)

// Request describes the opening handshake to perform.
type Request struct {
	// URL is the target, scheme ws or wss. Required.
	URL *url.URL

	// Protocols is the ordered list of subprotocols to offer.
	// The server selects at most one.
	Protocols []string
}

// Result carries what the opening handshake negotiated.
type Result struct {
	// Protocol is the subprotocol the server selected (empty if none).
	Protocol string

	// Extensions is the raw Sec-WebSocket-Extensions response header.
	// Informational only; no extensions are offered or applied.
	Extensions string
}

// Frame is one outgoing wire frame.
type Frame struct {
	// Final is the FIN bit.
	Final bool

	// Kind is the frame opcode.
	Kind wire.Opcode

	// Payload is the frame payload. For close frames, use
	// wire.EncodeClosePayload to build it.
	Payload []byte
}

// Fragment is one incoming data fragment. Control frames are handled
// inside the transport and never surface as fragments.
type Fragment struct {
	// Final is the FIN bit.
	Final bool

	// Kind is OpcodeText or OpcodeBinary for the first fragment of a
	// message and OpcodeContinuation for the rest.
	Kind wire.Opcode

	// Payload is the fragment payload. The slice is owned by the receiver.
	Payload []byte
}

// CloseInfo carries the peer's close frame contents for a clean close.
type CloseInfo struct {
	// Code is the close status code (CodeNoStatusReceived when the peer's
	// close frame carried no payload).
	Code int

	// Reason is the close reason, possibly empty.
	Reason string
}

// Transport is the collaborator the connection core depends on. It hides
// socket I/O, TLS, and frame parsing. These five operations are the
// complete contract.
//
// OnFragment and OnClosed must be registered before Handshake is called.
type Transport interface {
	// Handshake performs the opening handshake. It blocks until the
	// connection is established or fails, honoring ctx cancellation.
	// On success the transport starts delivering fragments.
	// On failure the returned error is a *HandshakeError, or the ctx error
	// when the attempt was cancelled.
	Handshake(ctx context.Context, req Request) (Result, error)

	// SendFrame writes one frame to the peer. Safe for concurrent use.
	// Returns ErrTransportClosed once the connection is down.
	SendFrame(f Frame) error

	// OnFragment registers the callback receiving incoming data fragments.
	// The callback runs on the read goroutine and may block to exert
	// backpressure.
	OnFragment(fn func(Fragment))

	// OnClosed registers the callback invoked exactly once when the
	// connection terminates. info is non-nil for a clean close (peer close
	// frame observed); otherwise cause carries the unclean cause.
	OnClosed(fn func(info *CloseInfo, cause error))

	// AbortHandshake cancels an in-flight opening handshake. After the
	// handshake has completed it forcibly tears down the connection
	// without a closing handshake.
	AbortHandshake()
}

// Compile-time interface satisfaction checks.
var _ Transport = (*WSTransport)(nil)
