package transport

import (
	"errors"
	"fmt"
)

// Transport errors.
var (
	// ErrTransportClosed indicates the connection is down.
	ErrTransportClosed = errors.New("transport closed")

	// ErrHandshakeNotDone indicates an operation requiring an established
	// connection was attempted before the handshake completed.
	ErrHandshakeNotDone = errors.New("handshake not completed")

	// ErrMaskedServerFrame indicates the server sent a masked frame.
	ErrMaskedServerFrame = errors.New("protocol violation: masked server frame")

	// ErrReservedBits indicates nonzero RSV bits without a negotiated extension.
	ErrReservedBits = errors.New("protocol violation: reserved bits set")

	// ErrUnknownOpcode indicates a reserved opcode.
	ErrUnknownOpcode = errors.New("protocol violation: unknown opcode")

	// ErrControlTooLong indicates a control frame payload over 125 bytes.
	ErrControlTooLong = errors.New("protocol violation: oversize control frame")

	// ErrFragmentedControl indicates a control frame without the FIN bit.
	ErrFragmentedControl = errors.New("protocol violation: fragmented control frame")

	// ErrFrameTooLarge indicates a frame payload over the configured maximum.
	ErrFrameTooLarge = errors.New("frame payload exceeds maximum size")

	// ErrPeerClosed indicates the peer dropped the connection without a
	// closing handshake.
	ErrPeerClosed = errors.New("peer closed connection without close frame")

	// ErrHandshakeAborted indicates AbortHandshake was called while the
	// opening handshake was in flight.
	ErrHandshakeAborted = errors.New("handshake aborted")

	// ErrKeepAliveTimeout indicates the peer stopped answering pings.
	ErrKeepAliveTimeout = errors.New("keep-alive timeout")
)

// HandshakeFailure classifies why the opening handshake failed.
type HandshakeFailure uint8

const (
	// FailureTransport indicates dial, TLS, or I/O failure.
	FailureTransport HandshakeFailure = 0

	// FailureProtocol indicates the server's response violated RFC 6455
	// (bad Accept key, missing upgrade headers, unoffered subprotocol).
	FailureProtocol HandshakeFailure = 1

	// FailureRejected indicates the server answered with a non-101 status.
	FailureRejected HandshakeFailure = 2
)

// String returns the failure class name.
func (f HandshakeFailure) String() string {
	switch f {
	case FailureTransport:
		return "TRANSPORT_FAILURE"
	case FailureProtocol:
		return "PROTOCOL_VIOLATION"
	case FailureRejected:
		return "REJECTED_BY_SERVER"
	default:
		return "UNKNOWN"
	}
}

// HandshakeError reports a failed opening handshake.
type HandshakeError struct {
	// Failure classifies the error.
	Failure HandshakeFailure

	// StatusCode is the HTTP status the server answered with
	// (FailureRejected only).
	StatusCode int

	// Err is the underlying cause, possibly nil.
	Err error
}

// Error returns the error text.
func (e *HandshakeError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("handshake failed (%s): server answered %d", e.Failure, e.StatusCode)
	}
	if e.Err != nil {
		return fmt.Sprintf("handshake failed (%s): %v", e.Failure, e.Err)
	}
	return fmt.Sprintf("handshake failed (%s)", e.Failure)
}

// Unwrap returns the underlying cause.
func (e *HandshakeError) Unwrap() error {
	return e.Err
}

func handshakeErr(failure HandshakeFailure, err error) *HandshakeError {
	return &HandshakeError{Failure: failure, Err: err}
}
