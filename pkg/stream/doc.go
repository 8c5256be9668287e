// Package stream implements the message layer of a flowsock connection:
// reassembly of wire fragments into messages, the two bounded
// backpressure channels the application reads and writes, and the
// resolver that folds every termination path into one terminal outcome.
//
// # Backpressure
//
// Both channels are bounded queues. Inbound holds at most its capacity in
// assembled messages; while it is full, Deliver blocks, which stops the
// transport read goroutine and ultimately stops reading the socket.
// Outbound holds at most its capacity in accepted writes; while it is
// full, Write blocks the producer. Neither side ever drops a message or
// grows without bound.
//
// # Termination
//
// All terminal events (local close, peer close frame, transport error,
// protocol violation, handshake failure) funnel into Closer. The first
// event wins and determines the outcome; the resolver then closes or
// fails both channels and releases everyone waiting on the outcome.
package stream
