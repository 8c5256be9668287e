package log

// Logger receives protocol events from the transport, stream, and client
// layers.
//
// Events are emitted on connection goroutines, so implementations must be
// safe for concurrent use, and a Log call that blocks stalls the
// connection it came from. Queue or write quickly.
type Logger interface {
	Log(event Event)
}

// NoopLogger drops every event. The zero value is ready to use.
type NoopLogger struct{}

// Log discards the event.
func (NoopLogger) Log(Event) {}

var _ Logger = NoopLogger{}
