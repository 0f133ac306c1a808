// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Defines the transport socket abstraction (NetConn) so the endpoint state
// machine can drive a reactor-backed fd or a plain net.Conn identically.

package api

// NetConn abstracts a full-duplex network connection that may or may not be
// backed by Go's net.Conn.
type NetConn interface {
	// Read reads into a preallocated buffer.
	Read(p []byte) (n int, err error)

	// Write writes buffer contents into the connection.
	Write(p []byte) (n int, err error)

	// CloseWrite shuts down the outbound half only, e.g. after sending a
	// CLOSE frame while still draining the peer's own CLOSE.
	CloseWrite() error

	// CloseRead shuts down the inbound half only.
	CloseRead() error

	// Close shuts down both halves of the connection.
	Close() error

	// RawFD returns the underlying OS-level file descriptor.
	RawFD() uintptr
}
