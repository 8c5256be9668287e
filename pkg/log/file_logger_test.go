package log

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/flowsock/flowsock-go/pkg/wire"
)

func writeTestEvents(t *testing.T, path string, events []Event) {
	t.Helper()

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	for _, ev := range events {
		logger.Log(ev)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestFileLoggerRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.cbor")

	events := []Event{
		{
			Timestamp:    time.Now().UTC(),
			ConnectionID: "conn-a",
			Direction:    DirectionOut,
			Layer:        LayerTransport,
			Category:     CategoryFrame,
			Frame:        &FrameEvent{Opcode: wire.OpcodeText, Final: true, Size: 2, Data: []byte("hi")},
		},
		{
			Timestamp:    time.Now().UTC(),
			ConnectionID: "conn-b",
			Direction:    DirectionIn,
			Layer:        LayerStream,
			Category:     CategoryMessage,
			Message:      &MessageEvent{Kind: wire.OpcodeBinary, Size: 3, Fragments: 1},
		},
	}
	writeTestEvents(t, path, events)

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer reader.Close()

	got, err := reader.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(got) != len(events) {
		t.Fatalf("read %d events, want %d", len(got), len(events))
	}
	for i := range got {
		if got[i].ConnectionID != events[i].ConnectionID {
			t.Errorf("event %d: ConnectionID = %q, want %q", i, got[i].ConnectionID, events[i].ConnectionID)
		}
	}
}

func TestFileLoggerAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.cbor")

	ev := Event{Timestamp: time.Now().UTC(), ConnectionID: "conn-a", Category: CategoryState,
		StateChange: &StateChangeEvent{Entity: EntityConnection, OldState: "ACTIVE", NewState: "SETTLED"}}

	writeTestEvents(t, path, []Event{ev})
	writeTestEvents(t, path, []Event{ev})

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer reader.Close()

	got, err := reader.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("read %d events after two sessions, want 2", len(got))
	}
}

func TestFileLoggerLogAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.cbor")

	logger, err := NewFileLogger(path)
	if err != nil {
		t.Fatalf("NewFileLogger: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	// Must not panic, and must not write.
	logger.Log(Event{ConnectionID: "late"})
	if err := logger.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	reader, err := NewReader(path)
	if err != nil {
		t.Fatalf("NewReader: %v", err)
	}
	defer reader.Close()

	if _, err := reader.Next(); err != io.EOF {
		t.Fatalf("Next = %v, want io.EOF", err)
	}
}

func TestFilteredReader(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.cbor")

	events := []Event{
		{Timestamp: time.Now().UTC(), ConnectionID: "conn-a", Layer: LayerTransport, Category: CategoryFrame,
			Frame: &FrameEvent{Opcode: wire.OpcodeText, Final: true, Size: 1}},
		{Timestamp: time.Now().UTC(), ConnectionID: "conn-b", Layer: LayerStream, Category: CategoryMessage,
			Message: &MessageEvent{Kind: wire.OpcodeText, Size: 1}},
		{Timestamp: time.Now().UTC(), ConnectionID: "conn-a", Layer: LayerClient, Category: CategoryState,
			StateChange: &StateChangeEvent{Entity: EntityHandshake, OldState: "CONNECTING", NewState: "OPEN"}},
	}
	writeTestEvents(t, path, events)

	reader, err := NewFilteredReader(path, Filter{ConnectionID: "conn-a"})
	if err != nil {
		t.Fatalf("NewFilteredReader: %v", err)
	}
	defer reader.Close()

	got, err := reader.All()
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("filter matched %d events, want 2", len(got))
	}
	for _, ev := range got {
		if ev.ConnectionID != "conn-a" {
			t.Errorf("filter leaked event for %q", ev.ConnectionID)
		}
	}
}
