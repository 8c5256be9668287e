package stream

import (
	"context"
	"fmt"
	"sync"

	"github.com/eapache/queue"

	"github.com/flowsock/flowsock-go/pkg/transport"
	"github.com/flowsock/flowsock-go/pkg/wire"
)

// DefaultOutboundCapacity is the default outbound buffer bound.
const DefaultOutboundCapacity = 16

// SendFunc hands one frame to the transport.
type SendFunc func(f transport.Frame) error

// writeRequest is one accepted write travelling through the channel.
type writeRequest struct {
	frame   transport.Frame
	isClose bool

	// done receives the send result exactly once.
	done chan error
}

// admitWaiter is one Write call blocked on a full buffer, queued in
// arrival order.
type admitWaiter struct {
	admitted chan error

	// Owned by the channel mutex.
	cancelled bool
}

// Outbound is the bounded outbound message channel.
//
// Write blocks while the buffer is at capacity; concurrent writers are
// admitted strictly in arrival order. A single loop goroutine drains the
// buffer to the transport, so frames reach the wire in admission order
// and each Write learns its individual send result.
//
// Close enqueues a close frame behind the pending writes: everything
// accepted before Close still goes out, everything after is rejected.
type Outbound struct {
	mu       sync.Mutex
	notEmpty *sync.Cond

	capacity int
	pending  *queue.Queue // of *writeRequest
	admits   *queue.Queue // of *admitWaiter
	reserved int          // slots held by admitted-but-not-yet-enqueued writers

	state State
	cause error

	send    SendFunc
	onError func(error)

	loopDone chan struct{}
}

// NewOutbound creates an outbound channel draining to send
// (capacity 0 = DefaultOutboundCapacity). onError is invoked once, off the
// caller's goroutine, when a send fails; it may be nil.
func NewOutbound(capacity int, send SendFunc, onError func(error)) *Outbound {
	if capacity <= 0 {
		capacity = DefaultOutboundCapacity
	}
	out := &Outbound{
		capacity: capacity,
		pending:  queue.New(),
		admits:   queue.New(),
		state:    StateOpen,
		send:     send,
		onError:  onError,
		loopDone: make(chan struct{}),
	}
	out.notEmpty = sync.NewCond(&out.mu)
	go out.loop()
	return out
}

// Write queues one message for sending, blocking while the buffer is at
// capacity, then blocks until the transport accepted the frame. Returns
// nil once the frame was handed to the transport. Cancelling ctx abandons
// only this call; a message already accepted is still sent.
func (out *Outbound) Write(ctx context.Context, msg Message) error {
	frame := transport.Frame{
		Final:   true,
		Kind:    msg.Kind.Opcode(),
		Payload: msg.Data,
	}
	req, err := out.enqueue(ctx, frame, false)
	if err != nil {
		return err
	}
	// The frame is committed; the send result arrives regardless of ctx.
	return <-req.done
}

// Close enqueues a close frame with the given code and reason and
// transitions the channel to closing. Pending writes drain first. Returns
// wire validation errors immediately; otherwise blocks until the close
// frame was handed to the transport.
func (out *Outbound) Close(code int, reason string) error {
	if err := wire.ValidateClose(code, reason); err != nil {
		return err
	}
	frame := transport.Frame{
		Final:   true,
		Kind:    wire.OpcodeClose,
		Payload: wire.EncodeClosePayload(code, reason),
	}
	req, err := out.enqueue(context.Background(), frame, true)
	if err != nil {
		return err
	}
	return <-req.done
}

// enqueue admits one request, waiting for buffer space in FIFO order.
func (out *Outbound) enqueue(ctx context.Context, frame transport.Frame, isClose bool) (*writeRequest, error) {
	out.mu.Lock()

	if err := out.admitErr(); err != nil {
		out.mu.Unlock()
		return nil, err
	}

	if out.pending.Length()+out.reserved >= out.capacity || out.liveAdmits() > 0 {
		w := &admitWaiter{admitted: make(chan error, 1)}
		out.admits.Add(w)
		out.mu.Unlock()

		select {
		case err := <-w.admitted:
			if err != nil {
				return nil, err
			}
			out.mu.Lock()
		case <-ctx.Done():
			out.mu.Lock()
			select {
			case err := <-w.admitted:
				// Admitted just before cancellation: proceed.
				if err != nil {
					out.mu.Unlock()
					return nil, err
				}
			default:
				w.cancelled = true
				out.mu.Unlock()
				return nil, ctx.Err()
			}
		}
		// An admission carries a reserved slot; release it whatever happens
		// next.
		out.reserved--
		if err := out.admitErr(); err != nil {
			out.admitNext()
			out.mu.Unlock()
			return nil, err
		}
	}

	req := &writeRequest{frame: frame, isClose: isClose, done: make(chan error, 1)}
	out.pending.Add(req)
	if isClose {
		out.state = StateClosing
		out.rejectAdmits(out.terminalErrLocked())
	}
	out.notEmpty.Signal()
	out.mu.Unlock()
	return req, nil
}

// loop drains pending requests to the transport in order.
func (out *Outbound) loop() {
	defer close(out.loopDone)
	for {
		out.mu.Lock()
		for out.pending.Length() == 0 {
			if out.state.terminal() {
				out.mu.Unlock()
				return
			}
			out.notEmpty.Wait()
		}
		req := out.pending.Remove().(*writeRequest)
		out.admitNext()
		out.mu.Unlock()

		err := out.send(req.frame)
		req.done <- err

		if err != nil {
			out.fail(fmt.Errorf("%w: send failed: %w", ErrConnectionClosed, err))
			if out.onError != nil {
				out.onError(err)
			}
			return
		}
		if req.isClose {
			out.mu.Lock()
			if !out.state.terminal() {
				out.state = StateClosed
			}
			out.drainPending(out.terminalErrLocked())
			out.notEmpty.Broadcast()
			out.mu.Unlock()
			return
		}
	}
}

// Fail marks the channel errored: every unsettled write, pending or
// future, fails with a terminal error wrapping cause. Idempotent.
func (out *Outbound) Fail(cause error) {
	out.fail(fmt.Errorf("%w: %w", ErrConnectionClosed, cause))
}

// ForceClose marks the channel closed without sending anything further.
// Unsettled writes fail with ErrConnectionClosed. Used when the peer's
// close won the race or the transport is already gone.
func (out *Outbound) ForceClose() {
	out.mu.Lock()
	defer out.mu.Unlock()
	if out.state.terminal() {
		return
	}
	out.state = StateClosed
	out.drainPending(out.terminalErrLocked())
	out.rejectAdmits(out.terminalErrLocked())
	out.notEmpty.Broadcast()
}

// State returns the current channel state.
func (out *Outbound) State() State {
	out.mu.Lock()
	defer out.mu.Unlock()
	return out.state
}

// Done is closed once the writer loop exited.
func (out *Outbound) Done() <-chan struct{} {
	return out.loopDone
}

func (out *Outbound) fail(terminal error) {
	out.mu.Lock()
	defer out.mu.Unlock()
	if out.state.terminal() {
		return
	}
	out.state = StateErrored
	out.cause = terminal
	out.drainPending(terminal)
	out.rejectAdmits(terminal)
	out.notEmpty.Broadcast()
}

// admitErr is the rejection writes see once the channel left the open
// state. Caller holds the mutex.
func (out *Outbound) admitErr() error {
	if out.state == StateOpen {
		return nil
	}
	return out.terminalErrLocked()
}

func (out *Outbound) terminalErrLocked() error {
	if out.state == StateErrored && out.cause != nil {
		return out.cause
	}
	return ErrConnectionClosed
}

// liveAdmits counts waiters still in line. Caller holds the mutex.
func (out *Outbound) liveAdmits() int {
	n := 0
	for i := 0; i < out.admits.Length(); i++ {
		if !out.admits.Get(i).(*admitWaiter).cancelled {
			n++
		}
	}
	return n
}

// admitNext wakes the first live waiter, if buffer space opened up, and
// reserves the slot for it. Caller holds the mutex.
func (out *Outbound) admitNext() {
	if out.pending.Length()+out.reserved >= out.capacity {
		return
	}
	for out.admits.Length() > 0 {
		w := out.admits.Remove().(*admitWaiter)
		if w.cancelled {
			continue
		}
		out.reserved++
		w.admitted <- nil
		return
	}
}

// rejectAdmits fails every queued waiter. Caller holds the mutex.
func (out *Outbound) rejectAdmits(err error) {
	for out.admits.Length() > 0 {
		w := out.admits.Remove().(*admitWaiter)
		if w.cancelled {
			continue
		}
		w.admitted <- err
	}
}

// drainPending settles every queued request with err. Caller holds the
// mutex.
func (out *Outbound) drainPending(err error) {
	for out.pending.Length() > 0 {
		req := out.pending.Remove().(*writeRequest)
		req.done <- err
	}
}
