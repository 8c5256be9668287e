// Package log provides structured protocol event logging for flowsock.
//
// Events are captured at three layers: transport (raw frames, control
// frames), stream (assembled messages, channel state), and client
// (handshake and connection lifecycle). Applications receive events
// through the Logger interface and decide how to persist or display them.
//
// Included implementations:
//   - NoopLogger: discards everything (the default)
//   - SlogAdapter: forwards events to a log/slog logger
//   - FileLogger: appends CBOR-encoded events to a file
//   - MultiLogger: fans out to several loggers
//
// The CBOR encoding uses integer keys and is stable across versions, so
// recorded event files can be replayed later with Reader.
package log
