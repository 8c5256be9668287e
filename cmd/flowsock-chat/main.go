// Command flowsock-chat is an interactive WebSocket client.
//
// It dials a server, then reads lines from the terminal and sends each as
// a text message while printing everything the server sends back. Useful
// for poking at WebSocket endpoints and for watching backpressure and
// close behavior interactively.
//
// Usage:
//
//	flowsock-chat -url ws://localhost:8080/chat
//	flowsock-chat -profile chat.yaml
//	flowsock-chat -url wss://example.com/feed -protocols chat.v2,chat.v1 -event-log events.cbor
//
// Inside the session:
//
//	/bin <hex>    send a binary message
//	/status       show connection state
//	/quit [code [reason]]   close and exit (default 1000)
package main

import (
	"context"
	"flag"
	"fmt"
	stdlog "log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/flowsock/flowsock-go/cmd/flowsock-chat/interactive"
	"github.com/flowsock/flowsock-go/pkg/client"
	"github.com/flowsock/flowsock-go/pkg/log"
)

func main() {
	stdlog.SetFlags(stdlog.Ltime | stdlog.Lmicroseconds)

	var (
		profilePath string
		urlFlag     string
		protocols   string
		eventLog    string
		inBuf       int
		outBuf      int
		timeout     time.Duration
	)
	flag.StringVar(&profilePath, "profile", "", "YAML profile path")
	flag.StringVar(&urlFlag, "url", "", "Target URL (ws:// or wss://)")
	flag.StringVar(&protocols, "protocols", "", "Comma-separated subprotocols to offer")
	flag.StringVar(&eventLog, "event-log", "", "Write CBOR protocol events to this file")
	flag.IntVar(&inBuf, "inbound-buffer", 0, "Inbound message buffer bound (0 = default)")
	flag.IntVar(&outBuf, "outbound-buffer", 0, "Outbound message buffer bound (0 = default)")
	flag.DurationVar(&timeout, "timeout", 30*time.Second, "Handshake timeout")
	flag.Parse()

	profile := DefaultProfile()
	if profilePath != "" {
		loaded, err := LoadProfile(profilePath)
		if err != nil {
			stdlog.Fatalf("Failed to load profile: %v", err)
		}
		profile = loaded
	}

	// Flags override the profile.
	if urlFlag != "" {
		profile.URL = urlFlag
	}
	if protocols != "" {
		profile.Protocols = strings.Split(protocols, ",")
	}
	if eventLog != "" {
		profile.EventLog = eventLog
	}
	if inBuf > 0 {
		profile.InboundBuffer = inBuf
	}
	if outBuf > 0 {
		profile.OutboundBuffer = outBuf
	}

	if profile.URL == "" {
		fmt.Fprintln(os.Stderr, "flowsock-chat: no target URL (use -url or a profile)")
		flag.Usage()
		os.Exit(2)
	}

	var logger log.Logger
	if profile.EventLog != "" {
		fl, err := log.NewFileLogger(profile.EventLog)
		if err != nil {
			stdlog.Fatalf("Failed to open event log: %v", err)
		}
		defer fl.Close()
		logger = fl
	}

	opts := client.Options{
		Protocols:        profile.Protocols,
		InboundBuffer:    profile.InboundBuffer,
		OutboundBuffer:   profile.OutboundBuffer,
		HandshakeTimeout: timeout,
		Logger:           logger,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stdlog.Printf("Dialing %s ...", profile.URL)
	conn, err := client.Dial(ctx, profile.URL, opts)
	if err != nil {
		stdlog.Fatalf("Dial failed: %v", err)
	}
	if p := conn.Subprotocol(); p != "" {
		stdlog.Printf("Connected (subprotocol %q)", p)
	} else {
		stdlog.Printf("Connected")
	}

	chat, err := interactive.New(conn)
	if err != nil {
		stdlog.Fatalf("Failed to start terminal: %v", err)
	}

	// Ctrl-C outside the prompt tears the session down.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	if err := chat.Run(ctx); err != nil {
		stdlog.Fatalf("Session failed: %v", err)
	}
}
