package stream

import (
	"context"
	"sync"
)

// CloseStatus is the terminal outcome of a connection that closed via the
// close handshake.
type CloseStatus struct {
	// Code is the close code, 1005 when the peer's close frame carried no
	// payload.
	Code int

	// Reason is the close reason, possibly empty.
	Reason string
}

// Closer folds every termination path into exactly one terminal outcome.
//
// Local close, a peer close frame, a transport error, and a protocol
// violation all race to settle; the first one wins and the rest are
// no-ops. On settlement the bound channels are closed or failed and
// everyone waiting on Done or Wait is released.
type Closer struct {
	once sync.Once
	done chan struct{}

	in  *Inbound
	out *Outbound

	// Written once, under once, before done is closed.
	status CloseStatus
	cause  error
}

// NewCloser creates an unsettled resolver.
func NewCloser() *Closer {
	return &Closer{done: make(chan struct{})}
}

// Bind attaches the channels the resolver closes or fails on settlement.
// Must be called before the transport can produce events.
func (c *Closer) Bind(in *Inbound, out *Outbound) {
	c.in = in
	c.out = out
}

// SettleClean records a completed close handshake. First settlement wins;
// later calls are no-ops. Buffered inbound messages stay readable.
func (c *Closer) SettleClean(status CloseStatus) {
	c.once.Do(func() {
		c.status = status
		if c.in != nil {
			c.in.CloseClean()
		}
		if c.out != nil {
			c.out.ForceClose()
		}
		close(c.done)
	})
}

// SettleUnclean records an abnormal termination. First settlement wins;
// later calls are no-ops. Both channels fail with cause.
func (c *Closer) SettleUnclean(cause error) {
	c.once.Do(func() {
		c.cause = cause
		if c.in != nil {
			c.in.Fail(cause)
		}
		if c.out != nil {
			c.out.Fail(cause)
		}
		close(c.done)
	})
}

// Done is closed once the connection settled.
func (c *Closer) Done() <-chan struct{} {
	return c.done
}

// Settled reports whether the connection reached its terminal outcome.
func (c *Closer) Settled() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Outcome returns the terminal outcome. Valid only after Done is closed;
// err is nil for a clean close.
func (c *Closer) Outcome() (CloseStatus, error) {
	return c.status, c.cause
}

// Wait blocks until the connection settled and returns the outcome, or
// ctx.Err() if ctx is cancelled first.
func (c *Closer) Wait(ctx context.Context) (CloseStatus, error) {
	select {
	case <-c.done:
		return c.status, c.cause
	case <-ctx.Done():
		return CloseStatus{}, ctx.Err()
	}
}
