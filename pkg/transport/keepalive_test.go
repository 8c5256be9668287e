package transport

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestKeepAlivePingPongCycle(t *testing.T) {
	var mu sync.Mutex
	var sent []uint32

	cfg := KeepAliveConfig{
		Enabled:        true,
		PingInterval:   20 * time.Millisecond,
		PongTimeout:    10 * time.Millisecond,
		MaxMissedPongs: 3,
	}

	var ka *KeepAlive
	ka = NewKeepAlive(cfg, func(seq uint32) error {
		mu.Lock()
		sent = append(sent, seq)
		mu.Unlock()
		// Answer every ping promptly.
		go ka.PongReceived(seq)
		return nil
	}, func() {
		t.Error("unexpected keep-alive timeout")
	})

	ka.Start(context.Background())
	defer ka.Stop()

	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	n := len(sent)
	mu.Unlock()
	if n < 2 {
		t.Fatalf("sent %d pings, want at least 2", n)
	}

	stats := ka.Stats()
	if stats.MissedPongs != 0 {
		t.Errorf("MissedPongs = %d, want 0", stats.MissedPongs)
	}
	if stats.LastPongTime.IsZero() {
		t.Error("LastPongTime not recorded")
	}
}

func TestKeepAliveTimeout(t *testing.T) {
	timedOut := make(chan struct{}, 1)

	cfg := KeepAliveConfig{
		Enabled:        true,
		PingInterval:   10 * time.Millisecond,
		PongTimeout:    5 * time.Millisecond,
		MaxMissedPongs: 2,
	}

	// Never answer pings.
	ka := NewKeepAlive(cfg, func(uint32) error { return nil }, func() {
		select {
		case timedOut <- struct{}{}:
		default:
		}
	})

	ka.Start(context.Background())
	defer ka.Stop()

	select {
	case <-timedOut:
	case <-time.After(time.Second):
		t.Fatal("keep-alive never reported timeout")
	}
}

func TestKeepAliveStartStop(t *testing.T) {
	ka := NewKeepAlive(DefaultKeepAliveConfig(), func(uint32) error { return nil }, nil)

	ka.Start(context.Background())
	if !ka.IsRunning() {
		t.Error("IsRunning = false after Start")
	}

	// Second Start is a no-op.
	ka.Start(context.Background())

	ka.Stop()
	if ka.IsRunning() {
		t.Error("IsRunning = true after Stop")
	}

	// Second Stop is a no-op.
	ka.Stop()
}

func TestKeepAlivePingPayloadRoundTrip(t *testing.T) {
	p := pingPayload(42)
	seq, ok := pingSeq(p)
	if !ok || seq != 42 {
		t.Fatalf("pingSeq(pingPayload(42)) = (%d, %v)", seq, ok)
	}

	if _, ok := pingSeq([]byte("not ours")); ok {
		t.Error("pingSeq accepted a foreign payload")
	}
}

func TestDetectionDelay(t *testing.T) {
	cfg := KeepAliveConfig{PingInterval: 30 * time.Second, PongTimeout: 5 * time.Second, MaxMissedPongs: 3}
	if got, want := cfg.DetectionDelay(), 95*time.Second; got != want {
		t.Errorf("DetectionDelay = %v, want %v", got, want)
	}
}
