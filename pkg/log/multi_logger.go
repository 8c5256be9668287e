package log

// MultiLogger fans each event out to several loggers in order, typically
// an SlogAdapter for the console next to a FileLogger for later replay.
// Nil entries are skipped.
type MultiLogger struct {
	sinks []Logger
}

// NewMultiLogger combines loggers into one.
func NewMultiLogger(loggers ...Logger) *MultiLogger {
	return &MultiLogger{sinks: loggers}
}

// Log hands the event to every sink.
func (m *MultiLogger) Log(event Event) {
	for _, s := range m.sinks {
		if s != nil {
			s.Log(event)
		}
	}
}

var _ Logger = (*MultiLogger)(nil)
