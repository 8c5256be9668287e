package stream

import (
	"github.com/flowsock/flowsock-go/pkg/wire"
)

// Kind is the message kind: text or binary.
type Kind uint8

const (
	// KindText is a UTF-8 text message.
	KindText Kind = 1

	// KindBinary is a binary message.
	KindBinary Kind = 2
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "TEXT"
	case KindBinary:
		return "BINARY"
	default:
		return "UNKNOWN"
	}
}

// Opcode returns the wire opcode that starts a message of this kind.
func (k Kind) Opcode() wire.Opcode {
	if k == KindBinary {
		return wire.OpcodeBinary
	}
	return wire.OpcodeText
}

// KindFromOpcode maps a data opcode to a message kind.
// Returns false for continuation and control opcodes.
func KindFromOpcode(op wire.Opcode) (Kind, bool) {
	switch op {
	case wire.OpcodeText:
		return KindText, true
	case wire.OpcodeBinary:
		return KindBinary, true
	default:
		return 0, false
	}
}

// Message is one complete logical unit received from or sent to the peer,
// reassembled from one or more wire fragments. Immutable once produced.
type Message struct {
	// Kind is text or binary.
	Kind Kind

	// Data is the message payload. For text messages this is UTF-8.
	Data []byte
}

// TextMessage builds a text message from a string.
func TextMessage(s string) Message {
	return Message{Kind: KindText, Data: []byte(s)}
}

// BinaryMessage builds a binary message. The channel takes ownership of
// the slice once the message is written.
func BinaryMessage(b []byte) Message {
	return Message{Kind: KindBinary, Data: b}
}

// Text returns the payload as a string.
func (m Message) Text() string {
	return string(m.Data)
}

// IsText reports whether the message is a text message.
func (m Message) IsText() bool {
	return m.Kind == KindText
}
