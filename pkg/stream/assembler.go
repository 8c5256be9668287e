package stream

import (
	"fmt"
	"unicode/utf8"

	"github.com/flowsock/flowsock-go/pkg/transport"
	"github.com/flowsock/flowsock-go/pkg/wire"
)

// DefaultMaxMessageSize is the default maximum assembled message size (8 MiB).
const DefaultMaxMessageSize = 8 << 20

// Complete is an assembled message together with how it arrived.
type Complete struct {
	// Msg is the assembled message.
	Msg Message

	// Fragments is the number of wire fragments the message spanned.
	Fragments int
}

// Assembler reassembles consecutive wire fragments into complete messages.
//
// Fragments belonging to one message must arrive consecutively: a message
// starts with a text or binary fragment and is continued by continuation
// fragments (or further fragments of the same kind) until one carries the
// FIN bit. A fragment of a conflicting kind mid-message is a protocol
// violation; so is a continuation with no message in progress. Once Push
// returns an error the assembler is poisoned and keeps returning it.
//
// Not safe for concurrent use; the transport delivers fragments from a
// single goroutine.
type Assembler struct {
	maxMessageSize int64

	inProgress bool
	kind       Kind
	buf        []byte
	fragments  int

	err error
}

// NewAssembler creates an assembler with the given message size cap
// (0 = DefaultMaxMessageSize).
func NewAssembler(maxMessageSize int64) *Assembler {
	if maxMessageSize == 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	return &Assembler{maxMessageSize: maxMessageSize}
}

// Push feeds one fragment. Returns the completed message when frag carried
// the FIN bit, nil while the message is still accumulating, or an error on
// protocol violation.
func (a *Assembler) Push(frag transport.Fragment) (*Complete, error) {
	if a.err != nil {
		return nil, a.err
	}

	if !a.inProgress {
		kind, ok := KindFromOpcode(frag.Kind)
		if !ok {
			return nil, a.poison(fmt.Errorf("%w: %s", ErrUnexpectedContinuation, frag.Kind))
		}
		a.inProgress = true
		a.kind = kind
		a.buf = nil
		a.fragments = 0
	} else if frag.Kind != wire.OpcodeContinuation {
		// Mid-message, only continuations or fragments of the same kind
		// may appear.
		kind, ok := KindFromOpcode(frag.Kind)
		if !ok || kind != a.kind {
			return nil, a.poison(fmt.Errorf("%w: %s inside %s message", ErrKindConflict, frag.Kind, a.kind))
		}
	}

	if int64(len(a.buf))+int64(len(frag.Payload)) > a.maxMessageSize {
		return nil, a.poison(fmt.Errorf("%w: over %d bytes", ErrMessageTooLarge, a.maxMessageSize))
	}
	a.buf = append(a.buf, frag.Payload...)
	a.fragments++

	if !frag.Final {
		return nil, nil
	}

	if a.kind == KindText && !utf8.Valid(a.buf) {
		return nil, a.poison(ErrTextNotUTF8)
	}

	complete := &Complete{
		Msg:       Message{Kind: a.kind, Data: a.buf},
		Fragments: a.fragments,
	}
	a.inProgress = false
	a.buf = nil
	a.fragments = 0
	return complete, nil
}

// poison records a permanent assembly failure.
func (a *Assembler) poison(err error) error {
	a.err = err
	a.inProgress = false
	a.buf = nil
	return err
}
