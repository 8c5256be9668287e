package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/flowsock/flowsock-go/pkg/wire"
)

// testServer accepts one connection and hands it to script on its own
// goroutine. The listener address is exposed as a ws URL.
type testServer struct {
	ln  net.Listener
	url string
}

func startTestServer(t *testing.T, script func(conn net.Conn, br *bufio.Reader)) *testServer {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		script(conn, bufio.NewReader(conn))
	}()

	return &testServer{
		ln:  ln,
		url: "ws://" + ln.Addr().String() + "/stream",
	}
}

// acceptUpgrade performs the server side of the opening handshake,
// selecting the given subprotocol (empty = none).
func acceptUpgrade(t *testing.T, conn net.Conn, br *bufio.Reader, protocol string) {
	t.Helper()

	req, err := http.ReadRequest(br)
	if err != nil {
		t.Errorf("ReadRequest: %v", err)
		return
	}
	key := req.Header.Get("Sec-WebSocket-Key")

	fmt.Fprintf(conn, "HTTP/1.1 101 Switching Protocols\r\n")
	fmt.Fprintf(conn, "Upgrade: websocket\r\nConnection: Upgrade\r\n")
	fmt.Fprintf(conn, "Sec-WebSocket-Accept: %s\r\n", acceptKey(key))
	if protocol != "" {
		fmt.Fprintf(conn, "Sec-WebSocket-Protocol: %s\r\n", protocol)
	}
	fmt.Fprintf(conn, "\r\n")
}

type closedResult struct {
	info  *CloseInfo
	cause error
}

// newTestTransport wires a WSTransport with fragment and closed channels.
func newTestTransport(config Config) (*WSTransport, chan Fragment, chan closedResult) {
	tr := NewWSTransport(config)
	fragments := make(chan Fragment, 16)
	closed := make(chan closedResult, 1)
	tr.OnFragment(func(f Fragment) { fragments <- f })
	tr.OnClosed(func(info *CloseInfo, cause error) { closed <- closedResult{info, cause} })
	return tr, fragments, closed
}

func TestWSTransportHandshakeAndFrames(t *testing.T) {
	serverGotText := make(chan []byte, 1)

	srv := startTestServer(t, func(conn net.Conn, br *bufio.Reader) {
		acceptUpgrade(t, conn, br, "chatv2")

		// Fragmented text message: "Hel" + "lo".
		conn.Write(serverFrame(false, wire.OpcodeText, []byte("Hel")))
		conn.Write(serverFrame(true, wire.OpcodeContinuation, []byte("lo")))

		// Read one client data frame.
		f := parseClientFrame(t, br)
		serverGotText <- f.Payload

		// Clean close from the server.
		conn.Write(serverFrame(true, wire.OpcodeClose, wire.EncodeClosePayload(1000, "bye")))
		// Wait for the echoed close.
		parseClientFrame(t, br)
	})

	tr, fragments, closed := newTestTransport(Config{})
	result, err := tr.Handshake(context.Background(), Request{
		URL:       mustParseURL(t, srv.url),
		Protocols: []string{"chat", "chatv2"},
	})
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if result.Protocol != "chatv2" {
		t.Errorf("negotiated protocol = %q, want chatv2", result.Protocol)
	}

	f1 := <-fragments
	if f1.Final || f1.Kind != wire.OpcodeText || string(f1.Payload) != "Hel" {
		t.Errorf("fragment 1 = %+v", f1)
	}
	f2 := <-fragments
	if !f2.Final || f2.Kind != wire.OpcodeContinuation || string(f2.Payload) != "lo" {
		t.Errorf("fragment 2 = %+v", f2)
	}

	if err := tr.SendFrame(Frame{Final: true, Kind: wire.OpcodeText, Payload: []byte("hi")}); err != nil {
		t.Fatalf("SendFrame: %v", err)
	}
	if got := <-serverGotText; string(got) != "hi" {
		t.Errorf("server got %q, want \"hi\"", got)
	}

	select {
	case res := <-closed:
		if res.cause != nil {
			t.Fatalf("unexpected unclean close: %v", res.cause)
		}
		if res.info == nil || res.info.Code != 1000 || res.info.Reason != "bye" {
			t.Errorf("close info = %+v, want {1000 bye}", res.info)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close")
	}

	// Sending after termination fails.
	if err := tr.SendFrame(Frame{Final: true, Kind: wire.OpcodeText}); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("SendFrame after close = %v, want ErrTransportClosed", err)
	}
}

func TestWSTransportRejectedByServer(t *testing.T) {
	srv := startTestServer(t, func(conn net.Conn, br *bufio.Reader) {
		if _, err := http.ReadRequest(br); err != nil {
			return
		}
		fmt.Fprintf(conn, "HTTP/1.1 403 Forbidden\r\nContent-Length: 0\r\n\r\n")
	})

	tr, _, _ := newTestTransport(Config{})
	_, err := tr.Handshake(context.Background(), Request{URL: mustParseURL(t, srv.url)})

	var he *HandshakeError
	if !errors.As(err, &he) || he.Failure != FailureRejected || he.StatusCode != 403 {
		t.Fatalf("Handshake = %v, want rejection with status 403", err)
	}
}

func TestWSTransportHandshakeContextCancel(t *testing.T) {
	stall := make(chan struct{})
	srv := startTestServer(t, func(conn net.Conn, br *bufio.Reader) {
		// Swallow the request and never answer.
		http.ReadRequest(br)
		<-stall
	})
	defer close(stall)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	tr, _, _ := newTestTransport(Config{})
	_, err := tr.Handshake(ctx, Request{URL: mustParseURL(t, srv.url)})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Handshake = %v, want context.Canceled", err)
	}
}

func TestWSTransportAbortHandshake(t *testing.T) {
	stall := make(chan struct{})
	srv := startTestServer(t, func(conn net.Conn, br *bufio.Reader) {
		http.ReadRequest(br)
		<-stall
	})
	defer close(stall)

	tr, _, _ := newTestTransport(Config{})
	go func() {
		time.Sleep(50 * time.Millisecond)
		tr.AbortHandshake()
	}()

	_, err := tr.Handshake(context.Background(), Request{URL: mustParseURL(t, srv.url)})
	if !errors.Is(err, ErrHandshakeAborted) {
		t.Fatalf("Handshake = %v, want ErrHandshakeAborted", err)
	}
}

func TestWSTransportAnswersPing(t *testing.T) {
	pong := make(chan Frame, 1)
	srv := startTestServer(t, func(conn net.Conn, br *bufio.Reader) {
		acceptUpgrade(t, conn, br, "")
		conn.Write(serverFrame(true, wire.OpcodePing, []byte("marco")))
		pong <- parseClientFrame(t, br)
	})

	tr, _, _ := newTestTransport(Config{})
	if _, err := tr.Handshake(context.Background(), Request{URL: mustParseURL(t, srv.url)}); err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	select {
	case f := <-pong:
		if f.Kind != wire.OpcodePong || string(f.Payload) != "marco" {
			t.Errorf("got %v %q, want pong \"marco\"", f.Kind, f.Payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for pong")
	}
}

func TestWSTransportAbruptDisconnect(t *testing.T) {
	srv := startTestServer(t, func(conn net.Conn, br *bufio.Reader) {
		acceptUpgrade(t, conn, br, "")
		conn.Close()
	})

	tr, _, closed := newTestTransport(Config{})
	if _, err := tr.Handshake(context.Background(), Request{URL: mustParseURL(t, srv.url)}); err != nil {
		t.Fatalf("Handshake: %v", err)
	}

	select {
	case res := <-closed:
		if res.info != nil {
			t.Fatalf("expected unclean close, got info %+v", res.info)
		}
		if !errors.Is(res.cause, ErrPeerClosed) {
			t.Errorf("cause = %v, want ErrPeerClosed", res.cause)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for close")
	}
}

func TestWSTransportUnsupportedScheme(t *testing.T) {
	tr, _, _ := newTestTransport(Config{})
	_, err := tr.Handshake(context.Background(), Request{URL: mustParseURL(t, "http://example.com")})

	var he *HandshakeError
	if !errors.As(err, &he) || he.Failure != FailureTransport {
		t.Fatalf("Handshake = %v, want transport failure", err)
	}
}
