// File: protocol/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Package protocol implements the RFC 6455 wire format: frame constants, a
// streaming frame parser, and a masked frame compiler with a pluggable
// builder pipeline. It has no knowledge of sockets, reactors, or the
// application callback surface — see package endpoint for the state
// machine that wires this package to a live connection.
package protocol
