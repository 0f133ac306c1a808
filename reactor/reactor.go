// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral event reactor interface for cross-platform IO
// multiplexing, built around per-fd interest toggling rather than a single
// blocking Wait loop: a connection that has nothing queued to write
// deregisters write-readiness instead of the reactor busy-polling it.

package reactor

import "time"

// FDEventType is a bitmask of the readiness conditions a Reactor reports.
type FDEventType uint8

const (
	// FDReadable indicates the fd has data available to read.
	FDReadable FDEventType = 1 << iota
	// FDWritable indicates the fd can accept a write without blocking.
	FDWritable
	// FDHup indicates the peer closed its side of the connection.
	FDHup
	// FDError indicates the fd entered an error state.
	FDError
)

// FDCallback is invoked with the readiness bits observed for a registered fd
// on each Poll call that reports activity for it.
type FDCallback func(fd uintptr, events FDEventType)

// Reactor multiplexes readiness notification across many file descriptors.
// Register/Unregister/SetInterest are not safe for concurrent use from
// multiple goroutines without external synchronization, but Poll may run
// concurrently with them.
type Reactor interface {
	// Register begins watching fd for the given initial interest, invoking cb
	// whenever Poll observes activity on it.
	Register(fd uintptr, interest FDEventType, cb FDCallback) error

	// SetInterest replaces the readiness bits fd is watched for. Endpoints
	// arm FDWritable only while their outbound queue is non-empty, and
	// disarm it once drained.
	SetInterest(fd uintptr, interest FDEventType) error

	// Unregister stops watching fd. It is not an error to unregister an fd
	// that was already removed, e.g. because the peer closed it.
	Unregister(fd uintptr) error

	// Poll blocks up to timeout waiting for readiness events and dispatches
	// each registered fd's callback for the events observed. A negative
	// timeout blocks indefinitely.
	Poll(timeout time.Duration) error

	// Close releases the reactor's underlying OS resources.
	Close() error
}
