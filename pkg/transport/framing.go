package transport

import (
	"bufio"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/flowsock/flowsock-go/pkg/log"
	"github.com/flowsock/flowsock-go/pkg/wire"
)

// Framing constants.
const (
	// DefaultMaxPayloadSize is the default maximum frame payload size (1 MiB).
	DefaultMaxPayloadSize = 1 << 20

	// MaxControlPayload is the maximum control frame payload per RFC 6455.
	MaxControlPayload = 125

	// MaxLogFrameDataSize is the maximum frame payload to include in log
	// events (4 KB). Larger payloads are truncated in the event.
	MaxLogFrameDataSize = 4096

	finBit  = 0x80
	rsvMask = 0x70
	maskBit = 0x80
)

// FrameWriter writes client frames to an underlying writer.
// All frames are masked with a fresh random key, as RFC 6455 requires
// for the client-to-server direction.
type FrameWriter struct {
	w              io.Writer
	maxPayloadSize int64
	mu             sync.Mutex

	// Logging support (optional)
	logger log.Logger
	connID string
}

// NewFrameWriter creates a frame writer with the default payload cap.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return NewFrameWriterWithMaxSize(w, DefaultMaxPayloadSize)
}

// NewFrameWriterWithMaxSize creates a frame writer with a custom payload cap.
func NewFrameWriterWithMaxSize(w io.Writer, maxSize int64) *FrameWriter {
	return &FrameWriter{
		w:              w,
		maxPayloadSize: maxSize,
	}
}

// SetLogger configures logging for this writer.
// Pass nil to disable logging.
func (fw *FrameWriter) SetLogger(logger log.Logger, connID string) {
	fw.logger = logger
	fw.connID = connID
}

// WriteFrame writes one masked frame.
// Thread-safe: can be called from multiple goroutines.
func (fw *FrameWriter) WriteFrame(f Frame) error {
	if f.Kind.IsControl() {
		if !f.Final {
			return ErrFragmentedControl
		}
		if len(f.Payload) > MaxControlPayload {
			return ErrControlTooLong
		}
	} else if int64(len(f.Payload)) > fw.maxPayloadSize {
		return fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, len(f.Payload), fw.maxPayloadSize)
	}

	buf, err := appendFrame(nil, f)
	if err != nil {
		return err
	}

	fw.mu.Lock()
	defer fw.mu.Unlock()

	// Single Write keeps frames contiguous on the wire even if the
	// underlying writer is shared.
	if _, err := fw.w.Write(buf); err != nil {
		return fmt.Errorf("failed to write frame: %w", err)
	}

	if fw.logger != nil && f.Kind.IsData() {
		fw.logger.Log(makeFrameEvent(fw.connID, log.DirectionOut, f))
	}

	return nil
}

// appendFrame serializes a masked client frame into buf.
func appendFrame(buf []byte, f Frame) ([]byte, error) {
	b0 := byte(f.Kind)
	if f.Final {
		b0 |= finBit
	}
	buf = append(buf, b0)

	n := len(f.Payload)
	switch {
	case n < 126:
		buf = append(buf, maskBit|byte(n))
	case n <= 0xFFFF:
		buf = append(buf, maskBit|126)
		buf = binary.BigEndian.AppendUint16(buf, uint16(n))
	default:
		buf = append(buf, maskBit|127)
		buf = binary.BigEndian.AppendUint64(buf, uint64(n))
	}

	var key [4]byte
	if _, err := rand.Read(key[:]); err != nil {
		return nil, fmt.Errorf("failed to generate mask key: %w", err)
	}
	buf = append(buf, key[:]...)

	// Masked copy; the caller keeps ownership of f.Payload.
	start := len(buf)
	buf = append(buf, f.Payload...)
	maskBytes(buf[start:], key, 0)

	return buf, nil
}

// maskBytes applies the RFC 6455 masking algorithm in place.
// offset is the payload position of p[0] within the frame.
func maskBytes(p []byte, key [4]byte, offset int) {
	for i := range p {
		p[i] ^= key[(offset+i)&3]
	}
}

// FrameReader reads server frames from an underlying reader.
// Server-to-client frames must not be masked.
type FrameReader struct {
	r              *bufio.Reader
	maxPayloadSize int64

	// Logging support (optional)
	logger log.Logger
	connID string
}

// NewFrameReader creates a frame reader with the default payload cap.
func NewFrameReader(r io.Reader) *FrameReader {
	return NewFrameReaderWithMaxSize(r, DefaultMaxPayloadSize)
}

// NewFrameReaderWithMaxSize creates a frame reader with a custom payload cap.
func NewFrameReaderWithMaxSize(r io.Reader, maxSize int64) *FrameReader {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &FrameReader{
		r:              br,
		maxPayloadSize: maxSize,
	}
}

// SetLogger configures logging for this reader.
// Pass nil to disable logging.
func (fr *FrameReader) SetLogger(logger log.Logger, connID string) {
	fr.logger = logger
	fr.connID = connID
}

// ReadFrame reads and validates one frame.
// Not safe for concurrent use; the transport owns a single read goroutine.
func (fr *FrameReader) ReadFrame() (Frame, error) {
	var hdr [2]byte
	if _, err := io.ReadFull(fr.r, hdr[:]); err != nil {
		return Frame{}, err
	}

	if hdr[0]&rsvMask != 0 {
		return Frame{}, ErrReservedBits
	}

	f := Frame{
		Final: hdr[0]&finBit != 0,
		Kind:  wire.Opcode(hdr[0] & 0x0F),
	}
	if !f.Kind.Known() {
		return Frame{}, fmt.Errorf("%w: 0x%x", ErrUnknownOpcode, byte(f.Kind))
	}
	if hdr[1]&maskBit != 0 {
		return Frame{}, ErrMaskedServerFrame
	}

	payloadLen := int64(hdr[1] & 0x7F)
	switch payloadLen {
	case 126:
		var ext [2]byte
		if _, err := io.ReadFull(fr.r, ext[:]); err != nil {
			return Frame{}, err
		}
		payloadLen = int64(binary.BigEndian.Uint16(ext[:]))
	case 127:
		var ext [8]byte
		if _, err := io.ReadFull(fr.r, ext[:]); err != nil {
			return Frame{}, err
		}
		v := binary.BigEndian.Uint64(ext[:])
		if v > 1<<62 {
			return Frame{}, fmt.Errorf("%w: %d", ErrFrameTooLarge, v)
		}
		payloadLen = int64(v)
	}

	if f.Kind.IsControl() {
		if !f.Final {
			return Frame{}, ErrFragmentedControl
		}
		if payloadLen > MaxControlPayload {
			return Frame{}, ErrControlTooLong
		}
	}
	if payloadLen > fr.maxPayloadSize {
		return Frame{}, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, payloadLen, fr.maxPayloadSize)
	}

	if payloadLen > 0 {
		f.Payload = make([]byte, payloadLen)
		if _, err := io.ReadFull(fr.r, f.Payload); err != nil {
			return Frame{}, err
		}
	}

	if fr.logger != nil && f.Kind.IsData() {
		fr.logger.Log(makeFrameEvent(fr.connID, log.DirectionIn, f))
	}

	return f, nil
}

// makeFrameEvent creates a log event for a data frame.
func makeFrameEvent(connID string, direction log.Direction, f Frame) log.Event {
	data := f.Payload
	truncated := false
	if len(data) > MaxLogFrameDataSize {
		data = data[:MaxLogFrameDataSize]
		truncated = true
	}

	return log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryFrame,
		Frame: &log.FrameEvent{
			Opcode:    f.Kind,
			Final:     f.Final,
			Size:      len(f.Payload),
			Data:      data,
			Truncated: truncated,
		},
	}
}
