// Package wire defines the RFC 6455 wire-level vocabulary shared by the
// transport and stream layers: frame opcodes, close status codes, and the
// close-frame payload codec.
//
// The package is deliberately free of I/O. Frame serialization lives in
// pkg/transport; message semantics live in pkg/stream.
package wire
