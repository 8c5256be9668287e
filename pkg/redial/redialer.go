// Package redial keeps a flowsock connection alive: it dials, watches the
// connection's terminal outcome, and redials with exponential backoff when
// the connection fails. A clean local stop ends the loop.
package redial

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/flowsock/flowsock-go/pkg/client"
)

// Redialer errors.
var (
	// ErrStopped indicates the redialer was stopped.
	ErrStopped = errors.New("redialer stopped")
)

// State is the redialer state.
type State uint8

const (
	// StateIdle indicates Run has not been called yet.
	StateIdle State = iota

	// StateDialing indicates a dial attempt is in progress.
	StateDialing

	// StateConnected indicates an established connection.
	StateConnected

	// StateWaiting indicates the redialer is backing off before the next
	// attempt.
	StateWaiting

	// StateStopped indicates the redialer was stopped.
	StateStopped
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateDialing:
		return "DIALING"
	case StateConnected:
		return "CONNECTED"
	case StateWaiting:
		return "WAITING"
	case StateStopped:
		return "STOPPED"
	default:
		return "UNKNOWN"
	}
}

// DialFunc establishes one connection attempt.
type DialFunc func(ctx context.Context) (*client.Conn, error)

// Config configures a Redialer. The zero value is usable.
type Config struct {
	// Backoff customizes the delay between attempts.
	Backoff BackoffConfig

	// DialTimeout bounds each dial attempt (default: 30s).
	DialTimeout time.Duration

	// MaxAttempts limits consecutive failed attempts before the redialer
	// gives up (0 = unlimited).
	MaxAttempts int

	// OnConnected is invoked after each successful dial. May be nil.
	OnConnected func(conn *client.Conn)

	// OnDisconnected is invoked when an established connection terminates,
	// with its terminal error (nil for a clean close). May be nil.
	OnDisconnected func(err error)

	// OnRedialing is invoked before each backoff wait. May be nil.
	OnRedialing func(attempt int, delay time.Duration)
}

// Redialer maintains one live connection, replacing it whenever it
// terminates. Conn hands out the current connection, blocking through
// redial gaps.
type Redialer struct {
	dial    DialFunc
	config  Config
	backoff *Backoff

	mu      sync.Mutex
	state   State
	conn    *client.Conn
	connCh  chan struct{} // closed and replaced on every connection change
	lastErr error

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New creates a redialer that dials url with opts on every attempt.
func New(url string, opts client.Options, cfg Config) *Redialer {
	return NewWithDialFunc(func(ctx context.Context) (*client.Conn, error) {
		return client.Dial(ctx, url, opts)
	}, cfg)
}

// NewWithDialFunc creates a redialer around a custom dial function.
func NewWithDialFunc(dial DialFunc, cfg Config) *Redialer {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	return &Redialer{
		dial:    dial,
		config:  cfg,
		backoff: NewBackoff(cfg.Backoff),
		state:   StateIdle,
		connCh:  make(chan struct{}),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run starts the dial loop. It returns when Stop is called, when ctx is
// cancelled, or when MaxAttempts consecutive dials failed (returning the
// last dial error).
func (r *Redialer) Run(ctx context.Context) error {
	defer close(r.done)
	defer r.setState(StateStopped, nil)

	for {
		r.setState(StateDialing, nil)

		dialCtx, cancel := context.WithTimeout(ctx, r.config.DialTimeout)
		conn, err := r.dial(dialCtx)
		cancel()

		if err != nil {
			r.setState(StateWaiting, nil)
			r.mu.Lock()
			r.lastErr = err
			r.mu.Unlock()

			attempts := r.backoff.Attempts() + 1
			if r.config.MaxAttempts > 0 && attempts > r.config.MaxAttempts {
				return err
			}
			delay := r.backoff.Next()
			if r.config.OnRedialing != nil {
				r.config.OnRedialing(attempts, delay)
			}
			select {
			case <-time.After(delay):
				continue
			case <-ctx.Done():
				return ctx.Err()
			case <-r.stopCh:
				return nil
			}
		}

		r.backoff.Reset()
		r.setState(StateConnected, conn)
		if r.config.OnConnected != nil {
			r.config.OnConnected(conn)
		}

		select {
		case <-conn.Done():
			_, terminalErr := conn.Closed(context.Background())
			r.setState(StateWaiting, nil)
			if r.config.OnDisconnected != nil {
				r.config.OnDisconnected(terminalErr)
			}
			// A clean close ends the loop; only failures are redialed.
			if terminalErr == nil {
				return nil
			}
		case <-ctx.Done():
			r.closeConn(conn)
			return ctx.Err()
		case <-r.stopCh:
			r.closeConn(conn)
			return nil
		}
	}
}

// closeConn closes conn cleanly, giving the peer a bounded window to
// answer the close frame.
func (r *Redialer) closeConn(conn *client.Conn) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = conn.CloseDefault(ctx)
}

// Stop ends the dial loop and closes the current connection cleanly.
// Blocks until Run returned.
func (r *Redialer) Stop() {
	r.stopOnce.Do(func() {
		close(r.stopCh)
	})
	<-r.done
}

// Conn returns the current connection, blocking through redial gaps until
// one is established, the redialer stops, or ctx is cancelled.
func (r *Redialer) Conn(ctx context.Context) (*client.Conn, error) {
	for {
		r.mu.Lock()
		if r.state == StateStopped {
			r.mu.Unlock()
			return nil, ErrStopped
		}
		if r.conn != nil {
			conn := r.conn
			r.mu.Unlock()
			return conn, nil
		}
		ch := r.connCh
		r.mu.Unlock()

		select {
		case <-ch:
		case <-r.done:
			return nil, ErrStopped
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// State returns the current redialer state.
func (r *Redialer) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// LastError returns the most recent dial failure.
func (r *Redialer) LastError() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastErr
}

func (r *Redialer) setState(state State, conn *client.Conn) {
	r.mu.Lock()
	r.state = state
	r.conn = conn
	// Wake anyone blocked in Conn; they re-check under the lock.
	close(r.connCh)
	r.connCh = make(chan struct{})
	r.mu.Unlock()
}
