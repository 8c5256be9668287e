package stream

import "errors"

// State is the lifecycle state of one channel direction.
// Closed and Errored are sticky.
type State uint8

const (
	// StateOpen indicates the channel accepts traffic.
	StateOpen State = iota

	// StateClosing indicates a graceful shutdown is draining the channel.
	StateClosing

	// StateClosed indicates the channel finished cleanly.
	StateClosed

	// StateErrored indicates the channel failed.
	StateErrored
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	case StateErrored:
		return "ERRORED"
	default:
		return "UNKNOWN"
	}
}

// terminal reports whether the state is sticky.
func (s State) terminal() bool {
	return s == StateClosed || s == StateErrored
}

// Channel errors.
var (
	// ErrConnectionClosed indicates an operation on a channel that is
	// closing, closed, or errored.
	ErrConnectionClosed = errors.New("connection closed")

	// ErrMessageTooLarge indicates an assembled message exceeding the
	// configured maximum size.
	ErrMessageTooLarge = errors.New("message exceeds maximum size")

	// ErrKindConflict indicates a fragment whose kind conflicts with the
	// message being assembled.
	ErrKindConflict = errors.New("protocol violation: interleaved message kinds")

	// ErrUnexpectedContinuation indicates a continuation fragment with no
	// message in progress.
	ErrUnexpectedContinuation = errors.New("protocol violation: continuation without message start")

	// ErrTextNotUTF8 indicates a completed text message that is not valid
	// UTF-8.
	ErrTextNotUTF8 = errors.New("protocol violation: text message is not valid UTF-8")
)
