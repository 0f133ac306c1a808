// File: endpoint/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package endpoint implements the WebSocket endpoint state machine: it owns
// a socket after HTTP upgrade, wires protocol.Parser output to an
// api.Application, compiles and queues outbound frames via protocol.Compiler
// and its own two-priority writer, and drives the close handshake and
// heartbeat off a single 1 Hz ticker. It depends only on the host calling it
// back when readable, when writable, and once a second — never on a
// concrete reactor.
package endpoint
