package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"unicode/utf8"
)

// Close status codes per RFC 6455 section 7.4.1.
const (
	// CodeNormalClosure indicates a normal, purposeful closure.
	CodeNormalClosure = 1000

	// CodeGoingAway indicates the endpoint is going away (shutdown, navigation).
	CodeGoingAway = 1001

	// CodeProtocolError indicates a protocol violation by the peer.
	CodeProtocolError = 1002

	// CodeUnsupportedData indicates a data type the endpoint cannot accept.
	CodeUnsupportedData = 1003

	// CodeNoStatusReceived is reported when the peer's close frame carried
	// no status code. Never sent on the wire.
	CodeNoStatusReceived = 1005

	// CodeAbnormalClosure is reported when the connection dropped without a
	// close frame. Never sent on the wire.
	CodeAbnormalClosure = 1006

	// CodeInvalidFramePayload indicates inconsistent payload data
	// (for example non-UTF-8 bytes in a text message).
	CodeInvalidFramePayload = 1007

	// CodePolicyViolation indicates a generic policy violation.
	CodePolicyViolation = 1008

	// CodeMessageTooBig indicates a message too large to process.
	CodeMessageTooBig = 1009

	// CodeMandatoryExtension indicates a required extension was not negotiated.
	CodeMandatoryExtension = 1010

	// CodeInternalError indicates an unexpected condition at the peer.
	CodeInternalError = 1011

	// CodeTLSHandshake is reported when the TLS handshake failed.
	// Never sent on the wire.
	CodeTLSHandshake = 1015
)

// MaxReasonBytes is the maximum close reason length. A close frame payload is
// capped at 125 bytes, two of which carry the status code.
const MaxReasonBytes = 123

// Close validation and codec errors.
var (
	// ErrInvalidCloseCode indicates a close code outside the range an
	// application may send (1000 or 3000-4999).
	ErrInvalidCloseCode = errors.New("invalid close code")

	// ErrReasonTooLong indicates a close reason exceeding 123 UTF-8 bytes.
	ErrReasonTooLong = errors.New("close reason exceeds 123 bytes")

	// ErrReasonNotUTF8 indicates a close reason that is not valid UTF-8.
	ErrReasonNotUTF8 = errors.New("close reason is not valid UTF-8")

	// ErrInvalidClosePayload indicates a malformed close frame payload.
	ErrInvalidClosePayload = errors.New("invalid close frame payload")
)

// ValidateClose checks a locally requested close code and reason.
// Applications may send 1000 or a code from the private range 3000-4999;
// the band 1001-2999 is reserved for the protocol and its registry, and
// 1005/1006/1015 exist only as reported statuses. Violations are local
// validation errors and never reach the peer.
func ValidateClose(code int, reason string) error {
	if code != CodeNormalClosure && (code < 3000 || code > 4999) {
		return fmt.Errorf("%w: %d", ErrInvalidCloseCode, code)
	}
	if len(reason) > MaxReasonBytes {
		return fmt.Errorf("%w: %d bytes", ErrReasonTooLong, len(reason))
	}
	if !utf8.ValidString(reason) {
		return ErrReasonNotUTF8
	}
	return nil
}

// ValidReceivedCloseCode reports whether a close code received from the peer
// is acceptable: anything in [1000,4999] except the codes that must never
// appear on the wire.
func ValidReceivedCloseCode(code int) bool {
	switch code {
	case CodeNoStatusReceived, CodeAbnormalClosure, CodeTLSHandshake:
		return false
	case 1004: // reserved, no defined meaning
		return false
	}
	return code >= 1000 && code <= 4999
}

// EncodeClosePayload builds a close frame payload: a 2-byte big-endian
// status code followed by the UTF-8 reason. The caller is expected to have
// validated code and reason.
func EncodeClosePayload(code int, reason string) []byte {
	p := make([]byte, 2+len(reason))
	binary.BigEndian.PutUint16(p[:2], uint16(code))
	copy(p[2:], reason)
	return p
}

// DecodeClosePayload parses a close frame payload received from the peer.
// An empty payload is valid and decodes as CodeNoStatusReceived. A 1-byte
// payload, an unacceptable code, or a non-UTF-8 reason is a protocol
// violation.
func DecodeClosePayload(p []byte) (code int, reason string, err error) {
	if len(p) == 0 {
		return CodeNoStatusReceived, "", nil
	}
	if len(p) == 1 {
		return 0, "", fmt.Errorf("%w: 1-byte payload", ErrInvalidClosePayload)
	}
	code = int(binary.BigEndian.Uint16(p[:2]))
	if !ValidReceivedCloseCode(code) {
		return 0, "", fmt.Errorf("%w: code %d", ErrInvalidClosePayload, code)
	}
	if !utf8.Valid(p[2:]) {
		return 0, "", fmt.Errorf("%w: reason is not valid UTF-8", ErrInvalidClosePayload)
	}
	return code, string(p[2:]), nil
}
