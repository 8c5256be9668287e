package log

import (
	"time"

	"github.com/flowsock/flowsock-go/pkg/wire"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates event flow relative to the local endpoint.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// RemoteAddr is the peer address (host:port).
	RemoteAddr string `cbor:"6,keyasint,omitempty"`

	// Subprotocol is the negotiated subprotocol (populated after the handshake).
	Subprotocol string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (exactly one of these is set).
	Frame       *FrameEvent       `cbor:"8,keyasint,omitempty"`  // Transport layer
	Message     *MessageEvent     `cbor:"9,keyasint,omitempty"`  // Stream layer (assembled)
	StateChange *StateChangeEvent `cbor:"10,keyasint,omitempty"` // Lifecycle
	Control     *ControlEvent     `cbor:"11,keyasint,omitempty"` // Ping/pong/close
	Error       *ErrorEventData   `cbor:"12,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of event flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming frame or message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing frame or message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the framing layer (raw frames on the wire).
	LayerTransport Layer = 0
	// LayerStream is the message layer (assembled messages, channel state).
	LayerStream Layer = 1
	// LayerClient is the connection lifecycle layer (handshake, close).
	LayerClient Layer = 2
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerStream:
		return "STREAM"
	case LayerClient:
		return "CLIENT"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryFrame indicates a raw data frame.
	CategoryFrame Category = 0
	// CategoryMessage indicates a complete assembled message.
	CategoryMessage Category = 1
	// CategoryControl indicates a control frame (ping/pong/close).
	CategoryControl Category = 2
	// CategoryState indicates a state change.
	CategoryState Category = 3
	// CategoryError indicates an error event.
	CategoryError Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryFrame:
		return "FRAME"
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures one data frame at the transport layer.
type FrameEvent struct {
	// Opcode is the frame opcode.
	Opcode wire.Opcode `cbor:"1,keyasint"`

	// Final indicates the FIN bit.
	Final bool `cbor:"2,keyasint"`

	// Size is the payload size in bytes.
	Size int `cbor:"3,keyasint"`

	// Data is the raw payload (may be truncated for large frames).
	Data []byte `cbor:"4,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"5,keyasint,omitempty"`
}

// MessageEvent captures a complete message at the stream layer.
type MessageEvent struct {
	// Kind is the message kind (text or binary opcode).
	Kind wire.Opcode `cbor:"1,keyasint"`

	// Size is the total payload size in bytes.
	Size int `cbor:"2,keyasint"`

	// Fragments is the number of wire fragments the message arrived in
	// (1 for unfragmented messages, 0 when unknown).
	Fragments int `cbor:"3,keyasint,omitempty"`
}

// StateChangeEvent captures lifecycle transitions.
type StateChangeEvent struct {
	// Entity whose state changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state name.
	OldState string `cbor:"2,keyasint"`

	// NewState is the new state name.
	NewState string `cbor:"3,keyasint"`

	// Reason optionally explains the transition.
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity identifies which state machine changed.
type StateEntity uint8

const (
	// EntityHandshake is the opening handshake state machine.
	EntityHandshake StateEntity = 0
	// EntityInbound is the inbound message channel.
	EntityInbound StateEntity = 1
	// EntityOutbound is the outbound message channel.
	EntityOutbound StateEntity = 2
	// EntityConnection is the overall connection (close resolution).
	EntityConnection StateEntity = 3
)

// String returns the entity name.
func (e StateEntity) String() string {
	switch e {
	case EntityHandshake:
		return "HANDSHAKE"
	case EntityInbound:
		return "INBOUND"
	case EntityOutbound:
		return "OUTBOUND"
	case EntityConnection:
		return "CONNECTION"
	default:
		return "UNKNOWN"
	}
}

// ControlEvent captures a control frame.
type ControlEvent struct {
	// Type is the control opcode (close, ping, pong).
	Type wire.Opcode `cbor:"1,keyasint"`

	// Code is the close status code (close frames only).
	Code *int `cbor:"2,keyasint,omitempty"`

	// Reason is the close reason (close frames only).
	Reason string `cbor:"3,keyasint,omitempty"`
}

// ErrorEventData captures an error at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error text.
	Message string `cbor:"2,keyasint"`

	// Context describes what was happening when the error occurred.
	Context string `cbor:"3,keyasint,omitempty"`
}
