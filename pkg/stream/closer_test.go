package stream

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/flowsock/flowsock-go/pkg/transport"
)

func newBoundCloser(t *testing.T) (*Closer, *Inbound, *Outbound) {
	t.Helper()
	in := NewInbound(4)
	out := NewOutbound(4, func(transport.Frame) error { return nil }, nil)
	c := NewCloser()
	c.Bind(in, out)
	return c, in, out
}

func TestCloserSettleClean(t *testing.T) {
	c, in, out := newBoundCloser(t)
	in.Deliver(TextMessage("buffered"))

	c.SettleClean(CloseStatus{Code: 1000, Reason: "bye"})

	if !c.Settled() {
		t.Fatal("Settled = false after SettleClean")
	}
	status, err := c.Outcome()
	if err != nil || status.Code != 1000 || status.Reason != "bye" {
		t.Errorf("Outcome = (%+v, %v)", status, err)
	}

	// Clean settlement drains inbound, then EOF.
	msg, err := in.Read(context.Background())
	if err != nil || msg.Text() != "buffered" {
		t.Fatalf("Read = (%q, %v)", msg.Text(), err)
	}
	if _, err := in.Read(context.Background()); err != io.EOF {
		t.Errorf("drained Read = %v, want io.EOF", err)
	}

	// Outbound closed without a cause.
	if err := out.Write(context.Background(), TextMessage("x")); !errors.Is(err, ErrConnectionClosed) {
		t.Errorf("Write = %v, want ErrConnectionClosed", err)
	}
}

func TestCloserSettleUnclean(t *testing.T) {
	c, in, out := newBoundCloser(t)
	in.Deliver(TextMessage("discarded"))

	cause := errors.New("transport torn down")
	c.SettleUnclean(cause)

	if _, err := in.Read(context.Background()); !errors.Is(err, cause) {
		t.Errorf("Read = %v, want %v", err, cause)
	}
	if err := out.Write(context.Background(), TextMessage("x")); !errors.Is(err, cause) {
		t.Errorf("Write = %v, want %v", err, cause)
	}
	if _, err := c.Outcome(); !errors.Is(err, cause) {
		t.Errorf("Outcome err = %v", err)
	}
}

func TestCloserFirstSettlementWins(t *testing.T) {
	c, in, _ := newBoundCloser(t)

	c.SettleClean(CloseStatus{Code: 1000})
	c.SettleUnclean(errors.New("too late"))
	c.SettleClean(CloseStatus{Code: 4000, Reason: "also too late"})

	status, err := c.Outcome()
	if err != nil || status.Code != 1000 {
		t.Errorf("Outcome = (%+v, %v), want clean 1000", status, err)
	}
	if in.State() != StateClosed {
		t.Errorf("inbound State = %v, want CLOSED", in.State())
	}
}

func TestCloserConcurrentSettlement(t *testing.T) {
	c, _, _ := newBoundCloser(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			c.SettleClean(CloseStatus{Code: 1000})
		}()
		go func() {
			defer wg.Done()
			c.SettleUnclean(errors.New("raced"))
		}()
	}
	wg.Wait()

	// Exactly one outcome, and it is internally consistent.
	status, err := c.Outcome()
	if err == nil {
		if status.Code != 1000 {
			t.Errorf("clean outcome with code %d", status.Code)
		}
	} else {
		if status != (CloseStatus{}) {
			t.Errorf("unclean outcome carries status %+v", status)
		}
	}
}

func TestCloserWait(t *testing.T) {
	c, _, _ := newBoundCloser(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		status, err := c.Wait(context.Background())
		if err != nil || status.Code != 4001 {
			t.Errorf("Wait = (%+v, %v)", status, err)
		}
	}()

	time.Sleep(10 * time.Millisecond)
	c.SettleClean(CloseStatus{Code: 4001, Reason: "app"})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Wait never returned")
	}
}

func TestCloserWaitContextCancel(t *testing.T) {
	c, _, _ := newBoundCloser(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait = %v, want context.Canceled", err)
	}
	if c.Settled() {
		t.Error("cancelled Wait settled the resolver")
	}
}
