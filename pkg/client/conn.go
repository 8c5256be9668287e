package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/flowsock/flowsock-go/pkg/log"
	"github.com/flowsock/flowsock-go/pkg/stream"
	"github.com/flowsock/flowsock-go/pkg/transport"
	"github.com/flowsock/flowsock-go/pkg/wire"
)

// Errors returned by the client layer.
var (
	// ErrAborted indicates the opening handshake was abandoned before it
	// completed: the Dial context was cancelled or the attempt was aborted.
	ErrAborted = transport.ErrHandshakeAborted
)

// Conn is an established connection. Read and Write move whole messages;
// both block to exert backpressure and serve concurrent callers in
// arrival order.
type Conn struct {
	id        string
	transport transport.Transport
	logger    log.Logger

	assembler *stream.Assembler
	in        *stream.Inbound
	out       *stream.Outbound
	closer    *stream.Closer

	result transport.Result
}

// Dial connects to rawURL (scheme ws or wss), performs the opening
// handshake, and returns the established connection. Cancelling ctx
// aborts only the handshake; once Dial returned, the context no longer
// affects the connection.
func Dial(ctx context.Context, rawURL string, opts Options) (*Conn, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}

	def := DefaultOptions()
	if opts.InboundBuffer <= 0 {
		opts.InboundBuffer = def.InboundBuffer
	}
	if opts.OutboundBuffer <= 0 {
		opts.OutboundBuffer = def.OutboundBuffer
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = def.MaxMessageSize
	}
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = def.HandshakeTimeout
	}

	c := &Conn{
		id:        uuid.NewString(),
		logger:    opts.Logger,
		assembler: stream.NewAssembler(opts.MaxMessageSize),
		in:        stream.NewInbound(opts.InboundBuffer),
		closer:    stream.NewCloser(),
	}

	tr := opts.Transport
	if tr == nil {
		tr = transport.NewWSTransport(transport.Config{
			TLSConfig:        opts.TLSConfig,
			HandshakeTimeout: opts.HandshakeTimeout,
			KeepAlive:        opts.KeepAlive,
			Logger:           opts.Logger,
			ConnID:           c.id,
		})
	}
	c.transport = tr
	c.out = stream.NewOutbound(opts.OutboundBuffer, tr.SendFrame, func(err error) {
		c.closer.SettleUnclean(err)
	})
	c.closer.Bind(c.in, c.out)

	tr.OnFragment(c.handleFragment)
	tr.OnClosed(c.handleTransportClosed)

	c.logState(log.EntityHandshake, "IDLE", "CONNECTING", "")
	result, err := tr.Handshake(ctx, transport.Request{URL: u, Protocols: opts.Protocols})
	if err != nil {
		// Cancelling the Dial context while connecting is an abort, not a
		// handshake failure.
		if ctx.Err() != nil && !errors.Is(err, ErrAborted) {
			err = fmt.Errorf("%w: %w", ErrAborted, ctx.Err())
		}
		c.logState(log.EntityHandshake, "CONNECTING", "FAILED", err.Error())
		c.closer.SettleUnclean(err)
		return nil, err
	}
	c.result = result
	c.logState(log.EntityHandshake, "CONNECTING", "OPEN", "")

	return c, nil
}

// ID returns the connection identifier used in log events.
func (c *Conn) ID() string {
	return c.id
}

// Subprotocol returns the subprotocol the server selected (empty if none).
func (c *Conn) Subprotocol() string {
	return c.result.Protocol
}

// Extensions returns the raw Sec-WebSocket-Extensions response header.
func (c *Conn) Extensions() string {
	return c.result.Extensions
}

// Read returns the next message, blocking until one arrives. Messages are
// returned in wire order; concurrent Read calls are served in arrival
// order. After a clean close the buffered messages drain first and Read
// then returns io.EOF; after a failure it returns the cause.
func (c *Conn) Read(ctx context.Context) (stream.Message, error) {
	return c.in.Read(ctx)
}

// Write queues msg for sending, blocking while the outbound buffer is
// full, and returns once the transport accepted the frame. Concurrent
// Write calls reach the wire in arrival order.
func (c *Conn) Write(ctx context.Context, msg stream.Message) error {
	err := c.out.Write(ctx, msg)
	if err == nil {
		c.logMessage(log.DirectionOut, msg, 1)
	}
	return err
}

// WriteText sends a text message.
func (c *Conn) WriteText(ctx context.Context, text string) error {
	return c.Write(ctx, stream.TextMessage(text))
}

// WriteBinary sends a binary message.
func (c *Conn) WriteBinary(ctx context.Context, data []byte) error {
	return c.Write(ctx, stream.BinaryMessage(data))
}

// WriteValue sends v as a text message. []byte goes out as binary;
// everything else is converted with fmt.Sprint, so the same value always
// produces the same message.
func (c *Conn) WriteValue(ctx context.Context, v any) error {
	switch data := v.(type) {
	case stream.Message:
		return c.Write(ctx, data)
	case []byte:
		return c.Write(ctx, stream.BinaryMessage(data))
	case string:
		return c.Write(ctx, stream.TextMessage(data))
	default:
		return c.Write(ctx, stream.TextMessage(fmt.Sprint(v)))
	}
}

// Close starts the closing handshake with the given code and reason and
// blocks until the connection settled or ctx is cancelled. Pending writes
// drain before the close frame goes out. The code must be 1000 or in
// 3000-4999 and the reason at most 123 UTF-8 bytes; violations are
// returned without touching the connection.
//
// If the connection already settled (peer close, failure, or an earlier
// Close), Close reports that outcome instead of starting anything.
func (c *Conn) Close(ctx context.Context, code int, reason string) error {
	if err := wire.ValidateClose(code, reason); err != nil {
		return err
	}

	if !c.closer.Settled() {
		err := c.out.Close(code, reason)
		if err != nil && !errors.Is(err, stream.ErrConnectionClosed) {
			return err
		}
		// ErrConnectionClosed here means another terminal event won the
		// race; fall through and report its outcome.
	}

	_, err := c.closer.Wait(ctx)
	return err
}

// CloseDefault closes with code 1000 and no reason.
func (c *Conn) CloseDefault(ctx context.Context) error {
	return c.Close(ctx, wire.CodeNormalClosure, "")
}

// Closed blocks until the connection settled and returns the outcome: the
// close status for a clean close, or the failure cause.
func (c *Conn) Closed(ctx context.Context) (stream.CloseStatus, error) {
	return c.closer.Wait(ctx)
}

// Done is closed once the connection reached its terminal outcome.
func (c *Conn) Done() <-chan struct{} {
	return c.closer.Done()
}

// handleFragment runs on the transport read goroutine. Blocking in
// Deliver is the inbound backpressure mechanism.
func (c *Conn) handleFragment(frag transport.Fragment) {
	complete, err := c.assembler.Push(frag)
	if err != nil {
		c.protocolViolation(err)
		return
	}
	if complete == nil {
		return
	}
	c.logMessage(log.DirectionIn, complete.Msg, complete.Fragments)
	c.in.Deliver(complete.Msg)
}

// handleTransportClosed runs exactly once when the transport terminates.
func (c *Conn) handleTransportClosed(info *transport.CloseInfo, cause error) {
	if info != nil {
		c.logState(log.EntityConnection, "OPEN", "CLOSED",
			fmt.Sprintf("close code %d", info.Code))
		c.closer.SettleClean(stream.CloseStatus{Code: info.Code, Reason: info.Reason})
		return
	}
	c.logState(log.EntityConnection, "OPEN", "ERRORED", cause.Error())
	c.closer.SettleUnclean(cause)
}

// protocolViolation fails the connection on a malformed inbound message:
// tell the peer, settle unclean, tear the transport down.
func (c *Conn) protocolViolation(cause error) {
	code := wire.CodeProtocolError
	switch {
	case errors.Is(cause, stream.ErrTextNotUTF8):
		code = wire.CodeInvalidFramePayload
	case errors.Is(cause, stream.ErrMessageTooLarge):
		code = wire.CodeMessageTooBig
	}
	_ = c.transport.SendFrame(transport.Frame{
		Final:   true,
		Kind:    wire.OpcodeClose,
		Payload: wire.EncodeClosePayload(code, ""),
	})

	c.logError(log.LayerStream, cause, "inbound message assembly")
	c.closer.SettleUnclean(cause)
	c.transport.AbortHandshake()
}

func (c *Conn) logState(entity log.StateEntity, from, to, reason string) {
	if c.logger == nil {
		return
	}
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Layer:        log.LayerClient,
		Category:     log.CategoryState,
		Subprotocol:  c.result.Protocol,
		StateChange: &log.StateChangeEvent{
			Entity:   entity,
			OldState: from,
			NewState: to,
			Reason:   reason,
		},
	})
}

func (c *Conn) logMessage(direction log.Direction, msg stream.Message, fragments int) {
	if c.logger == nil {
		return
	}
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Direction:    direction,
		Layer:        log.LayerStream,
		Category:     log.CategoryMessage,
		Message: &log.MessageEvent{
			Kind:      msg.Kind.Opcode(),
			Size:      len(msg.Data),
			Fragments: fragments,
		},
	})
}

func (c *Conn) logError(layer log.Layer, err error, context string) {
	if c.logger == nil {
		return
	}
	c.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: c.id,
		Layer:        layer,
		Category:     log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Context: context,
		},
	})
}
