// File: endpoint/writer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The two-priority write queue and writability-gated pump: control frames
// overtake queued data frames but never preempt a partially-drained
// writeBuffer. The two queues are backed by github.com/eapache/queue, a
// ring-buffer FIFO.

package endpoint

import (
	"sync"
	"time"

	"github.com/eapache/queue"

	"github.com/momentics/wsendpoint/api"
	"github.com/momentics/wsendpoint/protocol"
)

type writeEntry struct {
	frame   []byte
	control bool
	resolve func(error)
}

// pumpResult tells the caller what to do after one pump call.
type pumpResult int

const (
	// pumpArmed means more bytes remain; keep the write watcher armed.
	pumpArmed pumpResult = iota
	// pumpIdle means the writer has nothing left; disarm the watcher.
	pumpIdle
	// pumpTeardown means the socket failed (a write error, or a zero-byte
	// write while closing); unload.
	pumpTeardown
	// pumpShutdownWrite means the close frame fully drained and no more
	// control frames remain; shut down the write half and disarm.
	pumpShutdownWrite
)

// writer owns writeBuffer and the two priority queues. It is driven only
// from the endpoint's single task, so it needs no internal locking for that
// path; the mutex guards enqueue, which may be called from Application code
// running on the same task but reentrantly via EndpointHandle.Send.
type writer struct {
	mu sync.Mutex

	control *queue.Queue
	data    *queue.Queue

	writeBuffer   []byte
	bufIsControl  bool
	writeDeferred func(error)
}

func newWriter() *writer {
	return &writer{control: queue.New(), data: queue.New()}
}

// enqueue places a compiled frame on the appropriate priority queue, or
// directly into writeBuffer if the writer was idle, and returns a completion
// handle resolved once the frame leaves the socket.
func (w *writer) enqueue(frame []byte, opcode byte) api.Future {
	fut, resolve := api.NewFuture()
	isControl := protocol.IsControlOpcode(opcode)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writeBuffer == nil {
		w.writeBuffer = frame
		w.bufIsControl = isControl
		w.writeDeferred = resolve
		return fut
	}
	entry := &writeEntry{frame: frame, control: isControl, resolve: resolve}
	if isControl {
		w.control.Add(entry)
	} else {
		w.data.Add(entry)
	}
	return fut
}

func (w *writer) popNext() *writeEntry {
	if w.control.Length() > 0 {
		return w.control.Remove().(*writeEntry)
	}
	if w.data.Length() > 0 {
		return w.data.Remove().(*writeEntry)
	}
	return nil
}

// pending reports whether there is anything queued or in flight.
func (w *writer) pending() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeBuffer != nil
}

// pump performs one write attempt against conn. closing indicates closedAt
// has been set (local close already initiated). stats and now receive the
// resulting byte/frame/timestamp bookkeeping.
func (w *writer) pump(conn api.NetConn, closing bool, stats *Stats, now time.Time) pumpResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.writeBuffer == nil {
		return pumpIdle
	}

	n, err := conn.Write(w.writeBuffer)
	if n > 0 {
		stats.addBytesSent(int64(n), now)
	}
	if err != nil {
		w.failLocked(err)
		return pumpTeardown
	}
	if n == 0 && closing {
		w.failLocked(api.ErrTransportClosed)
		return pumpTeardown
	}
	if n < len(w.writeBuffer) {
		w.writeBuffer = w.writeBuffer[n:]
		return pumpArmed
	}

	// writeBuffer fully drained.
	resolve := w.writeDeferred
	wasControl := w.bufIsControl
	w.writeBuffer, w.writeDeferred = nil, nil
	if resolve != nil {
		resolve(nil)
	}
	stats.incFramesSent()
	if !wasControl {
		stats.markDataSent(now)
	}

	// Once the control queue has drained during a close, no further data
	// frame may reach the wire even if one is already queued: RFC 6455
	// forbids sending anything after the local CLOSE frame. Drop what's
	// left of the data queue and shut the write half down instead of
	// picking it up.
	if closing && w.control.Length() == 0 {
		for w.data.Length() > 0 {
			w.data.Remove().(*writeEntry).resolve(api.ErrTransportClosed)
		}
		return pumpShutdownWrite
	}

	next := w.popNext()
	if next == nil {
		return pumpIdle
	}
	w.writeBuffer = next.frame
	w.bufIsControl = next.control
	w.writeDeferred = next.resolve
	return pumpArmed
}

// failAll fails writeBuffer (if any) and every queued entry with err. Called
// once, from unload.
func (w *writer) failAll(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failLocked(err)
	for w.control.Length() > 0 {
		w.control.Remove().(*writeEntry).resolve(err)
	}
	for w.data.Length() > 0 {
		w.data.Remove().(*writeEntry).resolve(err)
	}
}

func (w *writer) failLocked(err error) {
	if w.writeDeferred != nil {
		w.writeDeferred(err)
		w.writeDeferred = nil
	}
	w.writeBuffer = nil
}
