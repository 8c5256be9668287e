package client

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flowsock/flowsock-go/pkg/stream"
	"github.com/flowsock/flowsock-go/pkg/transport"
	"github.com/flowsock/flowsock-go/pkg/wire"
)

// fakeTransport is an in-memory Transport for driving the connection core
// without sockets.
type fakeTransport struct {
	mu      sync.Mutex
	frames  []transport.Frame
	aborted bool

	onFragment func(transport.Fragment)
	onClosed   func(*transport.CloseInfo, error)

	handshakeErr error
	result       transport.Result
	sendErr      error

	// stallHandshake makes Handshake hang until the context is done,
	// like a server that never answers the upgrade.
	stallHandshake bool

	// echoClose makes the fake behave like a well-mannered peer: a sent
	// close frame is answered by the matching clean termination.
	echoClose bool

	closeOnce sync.Once
}

func (f *fakeTransport) Handshake(ctx context.Context, req transport.Request) (transport.Result, error) {
	if f.stallHandshake {
		<-ctx.Done()
		return transport.Result{}, ctx.Err()
	}
	if f.handshakeErr != nil {
		return transport.Result{}, f.handshakeErr
	}
	return f.result, nil
}

func (f *fakeTransport) SendFrame(fr transport.Frame) error {
	f.mu.Lock()
	if f.sendErr != nil {
		err := f.sendErr
		f.mu.Unlock()
		return err
	}
	f.frames = append(f.frames, fr)
	echo := f.echoClose && fr.Kind == wire.OpcodeClose
	f.mu.Unlock()

	if echo {
		code, reason, err := wire.DecodeClosePayload(fr.Payload)
		if err != nil {
			code, reason = wire.CodeNoStatusReceived, ""
		}
		go f.peerClose(code, reason)
	}
	return nil
}

func (f *fakeTransport) OnFragment(fn func(transport.Fragment)) { f.onFragment = fn }

func (f *fakeTransport) OnClosed(fn func(*transport.CloseInfo, error)) { f.onClosed = fn }

func (f *fakeTransport) AbortHandshake() {
	f.mu.Lock()
	f.aborted = true
	f.mu.Unlock()
	f.fail(transport.ErrTransportClosed)
}

// deliver pushes one inbound fragment through the registered callback.
func (f *fakeTransport) deliver(final bool, kind wire.Opcode, payload []byte) {
	f.onFragment(transport.Fragment{Final: final, Kind: kind, Payload: payload})
}

// peerClose simulates a completed closing handshake.
func (f *fakeTransport) peerClose(code int, reason string) {
	f.closeOnce.Do(func() {
		f.onClosed(&transport.CloseInfo{Code: code, Reason: reason}, nil)
	})
}

// fail simulates an unclean transport termination.
func (f *fakeTransport) fail(cause error) {
	f.closeOnce.Do(func() {
		f.onClosed(nil, cause)
	})
}

func (f *fakeTransport) sent() []transport.Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]transport.Frame(nil), f.frames...)
}

func dialFake(t *testing.T, f *fakeTransport, opts Options) *Conn {
	t.Helper()
	opts.Transport = f
	c, err := Dial(context.Background(), "ws://example.test/chat", opts)
	require.NoError(t, err)
	return c
}

func TestDialHandshakeFailure(t *testing.T) {
	f := &fakeTransport{
		handshakeErr: &transport.HandshakeError{
			Failure:    transport.FailureRejected,
			StatusCode: 403,
			Err:        errors.New("forbidden"),
		},
	}

	_, err := Dial(context.Background(), "ws://example.test/chat", Options{Transport: f})
	require.Error(t, err)

	var hsErr *transport.HandshakeError
	require.ErrorAs(t, err, &hsErr)
	assert.Equal(t, 403, hsErr.StatusCode)
}

func TestDialCancelAborts(t *testing.T) {
	f := &fakeTransport{stallHandshake: true}

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := Dial(ctx, "ws://example.test/chat", Options{Transport: f})
		errCh <- err
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrAborted)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("Dial did not return after cancellation")
	}
}

func TestDialDeadlineAborts(t *testing.T) {
	f := &fakeTransport{stallHandshake: true}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Dial(ctx, "ws://example.test/chat", Options{Transport: f})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAborted)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDialNegotiatesSubprotocol(t *testing.T) {
	f := &fakeTransport{result: transport.Result{Protocol: "chat.v2"}}
	c := dialFake(t, f, Options{Protocols: []string{"chat.v2", "chat.v1"}})

	assert.Equal(t, "chat.v2", c.Subprotocol())
	assert.NotEmpty(t, c.ID())
}

func TestReadAssemblesFragmentedMessage(t *testing.T) {
	f := &fakeTransport{}
	c := dialFake(t, f, Options{})

	go func() {
		f.deliver(false, wire.OpcodeText, []byte("hel"))
		f.deliver(false, wire.OpcodeContinuation, []byte("lo "))
		f.deliver(true, wire.OpcodeContinuation, []byte("world"))
	}()

	msg, err := c.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, stream.KindText, msg.Kind)
	assert.Equal(t, "hello world", msg.Text())
}

func TestWriteSendsFramesInOrder(t *testing.T) {
	f := &fakeTransport{}
	c := dialFake(t, f, Options{})

	require.NoError(t, c.WriteText(context.Background(), "first"))
	require.NoError(t, c.WriteBinary(context.Background(), []byte{1, 2, 3}))

	frames := f.sent()
	require.Len(t, frames, 2)
	assert.Equal(t, wire.OpcodeText, frames[0].Kind)
	assert.Equal(t, "first", string(frames[0].Payload))
	assert.Equal(t, wire.OpcodeBinary, frames[1].Kind)
	assert.True(t, frames[1].Final)
}

func TestWriteValueConversion(t *testing.T) {
	f := &fakeTransport{}
	c := dialFake(t, f, Options{})

	require.NoError(t, c.WriteValue(context.Background(), "plain string"))
	require.NoError(t, c.WriteValue(context.Background(), 42))
	require.NoError(t, c.WriteValue(context.Background(), []byte{0xFF}))
	require.NoError(t, c.WriteValue(context.Background(), stream.BinaryMessage([]byte{1})))

	frames := f.sent()
	require.Len(t, frames, 4)
	assert.Equal(t, wire.OpcodeText, frames[0].Kind)
	assert.Equal(t, "plain string", string(frames[0].Payload))
	assert.Equal(t, wire.OpcodeText, frames[1].Kind)
	assert.Equal(t, "42", string(frames[1].Payload))
	assert.Equal(t, wire.OpcodeBinary, frames[2].Kind)
	assert.Equal(t, wire.OpcodeBinary, frames[3].Kind)
}

func TestInboundBackpressure(t *testing.T) {
	f := &fakeTransport{}
	c := dialFake(t, f, Options{InboundBuffer: 2})

	// The fake's read goroutine: three messages, the third must block
	// until the application reads one.
	third := make(chan struct{})
	go func() {
		f.deliver(true, wire.OpcodeText, []byte("1"))
		f.deliver(true, wire.OpcodeText, []byte("2"))
		f.deliver(true, wire.OpcodeText, []byte("3"))
		close(third)
	}()

	time.Sleep(30 * time.Millisecond)
	select {
	case <-third:
		t.Fatal("delivery did not block on a full inbound buffer")
	default:
	}

	msg, err := c.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1", msg.Text())

	select {
	case <-third:
	case <-time.After(time.Second):
		t.Fatal("delivery still blocked after a read")
	}
}

func TestLocalCloseCleanHandshake(t *testing.T) {
	f := &fakeTransport{echoClose: true}
	c := dialFake(t, f, Options{})

	require.NoError(t, c.WriteText(context.Background(), "goodbye"))
	require.NoError(t, c.Close(context.Background(), 1000, "done"))

	// The close frame went out after the pending write.
	frames := f.sent()
	require.Len(t, frames, 2)
	assert.Equal(t, wire.OpcodeClose, frames[1].Kind)
	code, reason, err := wire.DecodeClosePayload(frames[1].Payload)
	require.NoError(t, err)
	assert.Equal(t, 1000, code)
	assert.Equal(t, "done", reason)

	status, err := c.Closed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1000, status.Code)

	// Both directions are shut.
	_, err = c.Read(context.Background())
	assert.Equal(t, io.EOF, err)
	err = c.WriteText(context.Background(), "late")
	assert.ErrorIs(t, err, stream.ErrConnectionClosed)
}

func TestCloseValidatesLocally(t *testing.T) {
	f := &fakeTransport{}
	c := dialFake(t, f, Options{})

	tests := []struct {
		name   string
		code   int
		reason string
		want   error
	}{
		{"reserved code", 1002, "", wire.ErrInvalidCloseCode},
		{"registry band", 2999, "", wire.ErrInvalidCloseCode},
		{"reason too long", 1000, string(make([]byte, 124)), wire.ErrReasonTooLong},
		{"reason not utf-8", 4000, "\xff", wire.ErrReasonNotUTF8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Close(context.Background(), tt.code, tt.reason)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	// Validation failures leave the connection untouched.
	assert.Empty(t, f.sent())
	require.NoError(t, c.WriteText(context.Background(), "still open"))
}

func TestPeerInitiatedClose(t *testing.T) {
	f := &fakeTransport{}
	c := dialFake(t, f, Options{})

	go func() {
		f.deliver(true, wire.OpcodeText, []byte("parting words"))
		f.peerClose(1001, "going away")
	}()

	msg, err := c.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "parting words", msg.Text())

	status, err := c.Closed(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1001, status.Code)
	assert.Equal(t, "going away", status.Reason)

	// A Close after settlement reports the existing outcome.
	require.NoError(t, c.Close(context.Background(), 1000, ""))

	err = c.WriteText(context.Background(), "too late")
	assert.ErrorIs(t, err, stream.ErrConnectionClosed)
}

func TestTransportFailure(t *testing.T) {
	f := &fakeTransport{}
	c := dialFake(t, f, Options{})

	cause := errors.New("connection reset by peer")
	f.fail(cause)

	_, err := c.Closed(context.Background())
	assert.ErrorIs(t, err, cause)

	_, err = c.Read(context.Background())
	assert.ErrorIs(t, err, cause)

	err = c.WriteText(context.Background(), "x")
	assert.ErrorIs(t, err, cause)

	// Close on a failed connection reports the failure.
	err = c.Close(context.Background(), 1000, "")
	assert.ErrorIs(t, err, cause)
}

func TestProtocolViolationFailsConnection(t *testing.T) {
	f := &fakeTransport{}
	c := dialFake(t, f, Options{})

	// Continuation with no message in progress.
	go f.deliver(true, wire.OpcodeContinuation, []byte("stray"))

	_, err := c.Closed(context.Background())
	assert.ErrorIs(t, err, stream.ErrUnexpectedContinuation)

	// The peer was told before the teardown.
	frames := f.sent()
	require.Len(t, frames, 1)
	assert.Equal(t, wire.OpcodeClose, frames[0].Kind)
	code, _, decodeErr := wire.DecodeClosePayload(frames[0].Payload)
	require.NoError(t, decodeErr)
	assert.Equal(t, wire.CodeProtocolError, code)

	f.mu.Lock()
	aborted := f.aborted
	f.mu.Unlock()
	assert.True(t, aborted)
}

func TestOversizedMessageFailsConnection(t *testing.T) {
	f := &fakeTransport{}
	c := dialFake(t, f, Options{MaxMessageSize: 8})

	go f.deliver(true, wire.OpcodeBinary, make([]byte, 16))

	_, err := c.Closed(context.Background())
	assert.ErrorIs(t, err, stream.ErrMessageTooLarge)

	frames := f.sent()
	require.Len(t, frames, 1)
	code, _, decodeErr := wire.DecodeClosePayload(frames[0].Payload)
	require.NoError(t, decodeErr)
	assert.Equal(t, wire.CodeMessageTooBig, code)
}

func TestConcurrentWritersKeepMessageOrder(t *testing.T) {
	f := &fakeTransport{}
	c := dialFake(t, f, Options{OutboundBuffer: 2})

	const n = 10
	var wg sync.WaitGroup
	errs := make([]error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = c.WriteBinary(context.Background(), []byte{byte(i)})
		}(i)
		// Stagger starts so arrival order is deterministic.
		time.Sleep(5 * time.Millisecond)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "write %d", i)
	}
	frames := f.sent()
	require.Len(t, frames, n)
	for i, fr := range frames {
		assert.Equal(t, byte(i), fr.Payload[0], "frame %d", i)
	}
}

func TestDoneChannel(t *testing.T) {
	f := &fakeTransport{}
	c := dialFake(t, f, Options{})

	select {
	case <-c.Done():
		t.Fatal("Done closed before settlement")
	default:
	}

	f.peerClose(1000, "")

	select {
	case <-c.Done():
	case <-time.After(time.Second):
		t.Fatal("Done not closed after settlement")
	}
}
