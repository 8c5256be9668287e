// Package client is the public surface of flowsock: Dial performs the
// opening handshake and returns a Conn whose Read and Write calls move
// whole messages through bounded, backpressure-exerting channels.
//
// A Conn terminates exactly once. Local close, a peer close frame, a
// transport error, and a protocol violation race to settle the outcome;
// the first event wins. Closed reports the terminal outcome, Done is
// closed when it is reached.
package client
