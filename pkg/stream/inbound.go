package stream

import (
	"context"
	"io"
	"sync"

	"github.com/eapache/queue"
)

// DefaultInboundCapacity is the default inbound buffer bound.
const DefaultInboundCapacity = 16

// readWaiter is one blocked Read call, queued in arrival order.
type readWaiter struct {
	ready chan struct{}

	// Owned by the channel mutex.
	msg       Message
	err       error
	cancelled bool
}

// Inbound is the bounded inbound message channel.
//
// The transport read goroutine calls Deliver; application goroutines call
// Read. Deliver blocks while the buffer is full, which stalls the read
// goroutine and pushes backpressure down to the socket. Concurrent Read
// calls are served strictly in arrival order.
//
// After CloseClean the buffered messages drain normally and further reads
// return io.EOF. After Fail the buffer is discarded and reads return the
// failure cause.
type Inbound struct {
	mu      sync.Mutex
	notFull *sync.Cond

	capacity int
	msgs     *queue.Queue // of Message
	waiters  *queue.Queue // of *readWaiter

	state State
	cause error
}

// NewInbound creates an inbound channel with the given capacity
// (0 = DefaultInboundCapacity).
func NewInbound(capacity int) *Inbound {
	if capacity <= 0 {
		capacity = DefaultInboundCapacity
	}
	in := &Inbound{
		capacity: capacity,
		msgs:     queue.New(),
		waiters:  queue.New(),
		state:    StateOpen,
	}
	in.notFull = sync.NewCond(&in.mu)
	return in
}

// Deliver hands one assembled message to the channel, blocking while the
// buffer is full. Returns false when the channel terminated while the
// message was pending; the message is then discarded.
//
// Only the transport read goroutine calls Deliver, so blocking here is
// exactly the backpressure mechanism.
func (in *Inbound) Deliver(msg Message) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	for {
		if in.state.terminal() {
			return false
		}
		// A waiting reader means the buffer is empty: hand over directly,
		// preserving arrival order.
		if w := in.frontWaiter(); w != nil {
			in.waiters.Remove()
			w.msg = msg
			close(w.ready)
			return true
		}
		if in.msgs.Length() < in.capacity {
			in.msgs.Add(msg)
			return true
		}
		in.notFull.Wait()
	}
}

// Read returns the next message in arrival order, blocking until one is
// available. Returns io.EOF once the channel closed cleanly and drained,
// or the failure cause after an error. Cancelling ctx abandons only this
// call.
func (in *Inbound) Read(ctx context.Context) (Message, error) {
	in.mu.Lock()
	in.pruneWaiters()

	// Fast path: buffered message and no reader queued ahead of us.
	if in.waiters.Length() == 0 && in.msgs.Length() > 0 {
		msg := in.msgs.Remove().(Message)
		in.notFull.Signal()
		in.mu.Unlock()
		return msg, nil
	}
	if in.waiters.Length() == 0 && in.state.terminal() {
		err := in.terminalErr()
		in.mu.Unlock()
		return Message{}, err
	}

	w := &readWaiter{ready: make(chan struct{})}
	in.waiters.Add(w)
	in.mu.Unlock()

	select {
	case <-w.ready:
		if w.err != nil {
			return Message{}, w.err
		}
		return w.msg, nil
	case <-ctx.Done():
		in.mu.Lock()
		select {
		case <-w.ready:
			// Lost the race: a message was already handed to us.
			in.mu.Unlock()
			if w.err != nil {
				return Message{}, w.err
			}
			return w.msg, nil
		default:
		}
		w.cancelled = true
		in.pruneWaiters()
		in.mu.Unlock()
		return Message{}, ctx.Err()
	}
}

// CloseClean marks the channel cleanly closed. Buffered messages remain
// readable; once drained, reads return io.EOF. Idempotent; a no-op after
// Fail.
func (in *Inbound) CloseClean() {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.state.terminal() {
		return
	}
	in.state = StateClosed
	in.releaseWaiters()
	in.notFull.Broadcast()
}

// Fail marks the channel errored. Buffered messages are discarded and all
// reads, current and future, fail with cause. Idempotent; the first
// terminal transition wins.
func (in *Inbound) Fail(cause error) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.state.terminal() {
		return
	}
	in.state = StateErrored
	in.cause = cause
	for in.msgs.Length() > 0 {
		in.msgs.Remove()
	}
	in.releaseWaiters()
	in.notFull.Broadcast()
}

// State returns the current channel state.
func (in *Inbound) State() State {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.state
}

// Buffered returns the number of messages waiting to be read.
func (in *Inbound) Buffered() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return in.msgs.Length()
}

// terminalErr is the error drained reads see. Caller holds the mutex.
func (in *Inbound) terminalErr() error {
	if in.state == StateErrored {
		return in.cause
	}
	return io.EOF
}

// frontWaiter prunes cancelled waiters and returns the first live one,
// or nil. Caller holds the mutex.
func (in *Inbound) frontWaiter() *readWaiter {
	for in.waiters.Length() > 0 {
		w := in.waiters.Peek().(*readWaiter)
		if !w.cancelled {
			return w
		}
		in.waiters.Remove()
	}
	return nil
}

// pruneWaiters drops cancelled waiters from the front of the queue.
// Caller holds the mutex.
func (in *Inbound) pruneWaiters() {
	in.frontWaiter()
}

// releaseWaiters resolves every queued reader against the terminal state,
// in order. Caller holds the mutex.
func (in *Inbound) releaseWaiters() {
	for {
		w := in.frontWaiter()
		if w == nil {
			return
		}
		in.waiters.Remove()
		if in.msgs.Length() > 0 {
			w.msg = in.msgs.Remove().(Message)
		} else {
			w.err = in.terminalErr()
		}
		close(w.ready)
	}
}
