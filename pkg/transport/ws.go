package transport

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flowsock/flowsock-go/pkg/log"
	"github.com/flowsock/flowsock-go/pkg/wire"
)

// Config configures a WSTransport.
type Config struct {
	// TLSConfig contains TLS settings for wss targets (nil = defaults).
	TLSConfig *tls.Config

	// MaxPayloadSize is the maximum frame payload size
	// (default: DefaultMaxPayloadSize).
	MaxPayloadSize int64

	// HandshakeTimeout bounds the opening handshake when the caller's
	// context has no deadline (default: 30s).
	HandshakeTimeout time.Duration

	// KeepAlive configures client-initiated pings.
	KeepAlive KeepAliveConfig

	// Logger receives transport events. Nil disables logging.
	Logger log.Logger

	// ConnID correlates log events; usually set by the client layer.
	ConnID string
}

// WSTransport is the production Transport: RFC 6455 over TCP/TLS.
//
// Lifecycle: NewWSTransport → OnFragment/OnClosed → Handshake → frames flow
// until the closing handshake or a failure, at which point the OnClosed
// callback fires exactly once.
type WSTransport struct {
	config Config

	onFragment func(Fragment)
	onClosed   func(*CloseInfo, error)

	mu     sync.Mutex
	conn   net.Conn
	writer *FrameWriter
	reader *FrameReader

	keepAlive *KeepAlive

	handshook atomic.Bool
	sentClose atomic.Bool

	abortOnce sync.Once
	abortCh   chan struct{}

	closeOnce sync.Once
	closedCh  chan struct{}
}

// NewWSTransport creates a transport (not yet connected).
func NewWSTransport(config Config) *WSTransport {
	if config.MaxPayloadSize == 0 {
		config.MaxPayloadSize = DefaultMaxPayloadSize
	}
	if config.HandshakeTimeout == 0 {
		config.HandshakeTimeout = 30 * time.Second
	}

	return &WSTransport{
		config:   config,
		abortCh:  make(chan struct{}),
		closedCh: make(chan struct{}),
	}
}

// OnFragment registers the data fragment callback.
// Must be called before Handshake.
func (t *WSTransport) OnFragment(fn func(Fragment)) {
	t.onFragment = fn
}

// OnClosed registers the termination callback.
// Must be called before Handshake.
func (t *WSTransport) OnClosed(fn func(info *CloseInfo, cause error)) {
	t.onClosed = fn
}

// Handshake dials the target and performs the opening handshake.
func (t *WSTransport) Handshake(ctx context.Context, req Request) (Result, error) {
	if req.URL == nil {
		return Result{}, handshakeErr(FailureTransport, errors.New("nil URL"))
	}
	if req.URL.Scheme != "ws" && req.URL.Scheme != "wss" {
		return Result{}, handshakeErr(FailureTransport,
			fmt.Errorf("unsupported scheme %q", req.URL.Scheme))
	}

	// Apply timeout from config if context doesn't have one
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.config.HandshakeTimeout)
		defer cancel()
	}

	// Dial TCP connection
	dialer := &net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", hostPort(req.URL))
	if err != nil {
		return Result{}, t.abortedOr(ctx, handshakeErr(FailureTransport, err))
	}

	// TLS handshake for wss
	if req.URL.Scheme == "wss" {
		tlsConf := t.config.TLSConfig
		if tlsConf == nil {
			tlsConf = &tls.Config{}
		}
		if tlsConf.ServerName == "" {
			tlsConf = tlsConf.Clone()
			tlsConf.ServerName = req.URL.Hostname()
		}
		tlsConn := tls.Client(conn, tlsConf)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return Result{}, t.abortedOr(ctx, handshakeErr(FailureTransport, err))
		}
		conn = tlsConn
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	// Unblock the upgrade exchange when the context is cancelled or
	// AbortHandshake is called while we are reading the response.
	handshakeDone := make(chan struct{})
	defer close(handshakeDone)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-t.abortCh:
			conn.Close()
		case <-handshakeDone:
		}
	}()

	key, err := generateChallengeKey()
	if err != nil {
		conn.Close()
		return Result{}, handshakeErr(FailureTransport, err)
	}

	hr, err := buildHandshakeRequest(req, key)
	if err != nil {
		conn.Close()
		return Result{}, handshakeErr(FailureTransport, err)
	}
	if err := hr.Write(conn); err != nil {
		conn.Close()
		return Result{}, t.abortedOr(ctx, handshakeErr(FailureTransport, err))
	}

	// The buffered reader is kept: bytes the server sends after the 101
	// response are the first frames.
	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, hr)
	if err != nil {
		conn.Close()
		return Result{}, t.abortedOr(ctx, handshakeErr(FailureTransport, err))
	}
	resp.Body.Close()

	result, err := verifyHandshakeResponse(resp, key, req.Protocols)
	if err != nil {
		conn.Close()
		return Result{}, t.abortedOr(ctx, err)
	}

	t.mu.Lock()
	t.reader = NewFrameReaderWithMaxSize(br, t.config.MaxPayloadSize)
	t.writer = NewFrameWriterWithMaxSize(conn, t.config.MaxPayloadSize)
	if t.config.Logger != nil {
		t.reader.SetLogger(t.config.Logger, t.config.ConnID)
		t.writer.SetLogger(t.config.Logger, t.config.ConnID)
	}
	t.mu.Unlock()

	t.handshook.Store(true)

	if t.config.KeepAlive.Enabled {
		t.keepAlive = NewKeepAlive(t.config.KeepAlive, t.sendPing, t.keepAliveTimeout)
		t.keepAlive.Start(context.Background())
	}

	go t.readLoop()

	return result, nil
}

// abortedOr maps a handshake failure to the abort cause when the attempt
// was cancelled rather than genuinely failing.
func (t *WSTransport) abortedOr(ctx context.Context, err error) error {
	select {
	case <-t.abortCh:
		return ErrHandshakeAborted
	default:
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// SendFrame writes one frame to the peer.
func (t *WSTransport) SendFrame(f Frame) error {
	if !t.handshook.Load() {
		return ErrHandshakeNotDone
	}
	select {
	case <-t.closedCh:
		return ErrTransportClosed
	default:
	}

	if f.Kind == wire.OpcodeClose {
		t.sentClose.Store(true)
	}

	t.mu.Lock()
	writer := t.writer
	t.mu.Unlock()

	if err := writer.WriteFrame(f); err != nil {
		return err
	}

	if f.Kind.IsControl() {
		t.logControl(log.DirectionOut, f)
	}
	return nil
}

// AbortHandshake cancels an in-flight handshake, or forcibly tears down an
// established connection without a closing handshake.
func (t *WSTransport) AbortHandshake() {
	t.abortOnce.Do(func() {
		close(t.abortCh)
	})
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// RemoteAddr returns the remote network address, or nil before the dial.
func (t *WSTransport) RemoteAddr() net.Addr {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn == nil {
		return nil
	}
	return t.conn.RemoteAddr()
}

// readLoop reads frames until the connection terminates, dispatching data
// fragments to the consumer and handling control frames inline. Fragment
// delivery intentionally blocks while the consumer is full; the socket is
// simply not read in the meantime.
func (t *WSTransport) readLoop() {
	for {
		f, err := t.reader.ReadFrame()
		if err != nil {
			t.terminate(nil, readCause(err))
			return
		}

		switch {
		case f.Kind.IsData():
			if t.onFragment != nil {
				t.onFragment(Fragment{Final: f.Final, Kind: f.Kind, Payload: f.Payload})
			}

		case f.Kind == wire.OpcodePing:
			t.logControl(log.DirectionIn, f)
			// Answer with the same payload. Failure here surfaces via the
			// read loop shortly after.
			_ = t.SendFrame(Frame{Final: true, Kind: wire.OpcodePong, Payload: f.Payload})

		case f.Kind == wire.OpcodePong:
			t.logControl(log.DirectionIn, f)
			if t.keepAlive != nil {
				if seq, ok := pingSeq(f.Payload); ok {
					t.keepAlive.PongReceived(seq)
				}
			}

		case f.Kind == wire.OpcodeClose:
			t.handleCloseFrame(f)
			return
		}
	}
}

// handleCloseFrame completes the closing handshake for a peer-initiated
// close, or finishes a locally initiated one.
func (t *WSTransport) handleCloseFrame(f Frame) {
	t.logControl(log.DirectionIn, f)

	code, reason, err := wire.DecodeClosePayload(f.Payload)
	if err != nil {
		// Malformed close frame: answer 1002 and report unclean.
		_ = t.SendFrame(Frame{
			Final:   true,
			Kind:    wire.OpcodeClose,
			Payload: wire.EncodeClosePayload(wire.CodeProtocolError, ""),
		})
		t.terminate(nil, err)
		return
	}

	// Echo the close if the peer initiated; RFC 6455 says to echo the
	// received status code.
	if !t.sentClose.Load() {
		echo := []byte(nil)
		if code != wire.CodeNoStatusReceived {
			echo = wire.EncodeClosePayload(code, "")
		}
		_ = t.SendFrame(Frame{Final: true, Kind: wire.OpcodeClose, Payload: echo})
	}

	t.terminate(&CloseInfo{Code: code, Reason: reason}, nil)
}

// readCause maps a read error to a termination cause.
func readCause(err error) error {
	switch {
	case errors.Is(err, net.ErrClosed):
		// Local teardown (abort or already terminating).
		return ErrTransportClosed
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return fmt.Errorf("%w: %v", ErrPeerClosed, err)
	default:
		return err
	}
}

// terminate finishes the connection exactly once and notifies the consumer.
func (t *WSTransport) terminate(info *CloseInfo, cause error) {
	t.closeOnce.Do(func() {
		close(t.closedCh)

		if t.keepAlive != nil {
			t.keepAlive.Stop()
		}

		t.mu.Lock()
		conn := t.conn
		t.mu.Unlock()
		if conn != nil {
			conn.Close()
		}

		if t.onClosed != nil {
			t.onClosed(info, cause)
		}
	})
}

// sendPing is the keep-alive ping hook.
func (t *WSTransport) sendPing(seq uint32) error {
	return t.SendFrame(Frame{Final: true, Kind: wire.OpcodePing, Payload: pingPayload(seq)})
}

// keepAliveTimeout is the keep-alive failure hook.
func (t *WSTransport) keepAliveTimeout() {
	t.terminate(nil, ErrKeepAliveTimeout)
}

// logControl emits a control frame event.
func (t *WSTransport) logControl(direction log.Direction, f Frame) {
	if t.config.Logger == nil {
		return
	}

	ev := log.Event{
		Timestamp:    time.Now(),
		ConnectionID: t.config.ConnID,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryControl,
		Control:      &log.ControlEvent{Type: f.Kind},
	}
	if f.Kind == wire.OpcodeClose {
		if code, reason, err := wire.DecodeClosePayload(f.Payload); err == nil {
			ev.Control.Code = &code
			ev.Control.Reason = reason
		}
	}
	t.config.Logger.Log(ev)
}
