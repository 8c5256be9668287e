package wire

// Opcode identifies the frame type per RFC 6455 section 5.2.
type Opcode byte

const (
	// OpcodeContinuation continues a fragmented data message.
	OpcodeContinuation Opcode = 0x0

	// OpcodeText starts a UTF-8 text message.
	OpcodeText Opcode = 0x1

	// OpcodeBinary starts a binary message.
	OpcodeBinary Opcode = 0x2

	// OpcodeClose initiates or acknowledges the closing handshake.
	OpcodeClose Opcode = 0x8

	// OpcodePing requests a pong from the peer.
	OpcodePing Opcode = 0x9

	// OpcodePong answers a ping.
	OpcodePong Opcode = 0xA
)

// IsControl reports whether the opcode is a control opcode.
// Control frames must not be fragmented and carry at most 125 payload bytes.
func (o Opcode) IsControl() bool {
	return o >= OpcodeClose
}

// IsData reports whether the opcode starts or continues a data message.
func (o Opcode) IsData() bool {
	return o == OpcodeContinuation || o == OpcodeText || o == OpcodeBinary
}

// Known reports whether the opcode is defined by RFC 6455.
// Reserved opcodes (0x3-0x7, 0xB-0xF) are a protocol violation.
func (o Opcode) Known() bool {
	return o.IsData() || (o >= OpcodeClose && o <= OpcodePong)
}

// String returns the opcode name.
func (o Opcode) String() string {
	switch o {
	case OpcodeContinuation:
		return "CONTINUATION"
	case OpcodeText:
		return "TEXT"
	case OpcodeBinary:
		return "BINARY"
	case OpcodeClose:
		return "CLOSE"
	case OpcodePing:
		return "PING"
	case OpcodePong:
		return "PONG"
	default:
		return "RESERVED"
	}
}
