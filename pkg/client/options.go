package client

import (
	"crypto/tls"
	"time"

	"github.com/flowsock/flowsock-go/pkg/log"
	"github.com/flowsock/flowsock-go/pkg/stream"
	"github.com/flowsock/flowsock-go/pkg/transport"
)

// Options configures a connection. The zero value is usable; Dial fills
// in defaults.
type Options struct {
	// Protocols is the ordered list of subprotocols to offer.
	Protocols []string

	// InboundBuffer bounds the inbound message channel
	// (default: stream.DefaultInboundCapacity). While the buffer is full
	// the transport stops reading the socket.
	InboundBuffer int

	// OutboundBuffer bounds the outbound message channel
	// (default: stream.DefaultOutboundCapacity). While the buffer is full
	// Write blocks.
	OutboundBuffer int

	// MaxMessageSize caps the assembled inbound message size
	// (default: stream.DefaultMaxMessageSize). A larger message is a
	// protocol failure.
	MaxMessageSize int64

	// HandshakeTimeout bounds the opening handshake when the Dial context
	// has no deadline (default: 30s).
	HandshakeTimeout time.Duration

	// KeepAlive configures client-initiated pings. The defaults enable
	// them at a 30s interval.
	KeepAlive transport.KeepAliveConfig

	// TLSConfig contains TLS settings for wss targets (nil = defaults).
	TLSConfig *tls.Config

	// Logger receives protocol events. Nil disables logging.
	Logger log.Logger

	// Transport overrides the production transport. Nil means RFC 6455
	// over TCP/TLS; tests inject fakes here.
	Transport transport.Transport
}

// DefaultOptions returns the defaults Dial applies to zero fields.
func DefaultOptions() Options {
	return Options{
		InboundBuffer:    stream.DefaultInboundCapacity,
		OutboundBuffer:   stream.DefaultOutboundCapacity,
		MaxMessageSize:   stream.DefaultMaxMessageSize,
		HandshakeTimeout: 30 * time.Second,
		KeepAlive:        transport.DefaultKeepAliveConfig(),
	}
}
