// File: endpoint/message.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// The lazy per-message handle: created on the first DATA emission of a
// logical message, fed one chunk per parser emission, closed on fin, and
// failed on teardown. Its internal queue is unbounded by design: a slow
// Application throttles itself by not draining Chunks(), it never blocks the
// endpoint's own read path.

package endpoint

import (
	"sync"

	"github.com/momentics/wsendpoint/api"
)

type message struct {
	opcode byte
	out    chan api.Chunk

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []api.Chunk
	closed bool
	err    error
}

func newMessage(opcode byte) *message {
	m := &message{opcode: opcode, out: make(chan api.Chunk)}
	m.cond = sync.NewCond(&m.mu)
	go m.pump()
	return m
}

// pump relays the unbounded internal queue onto the bounded api.Chunk
// channel Application code reads from, one goroutine per in-flight message.
func (m *message) pump() {
	for {
		m.mu.Lock()
		for len(m.queue) == 0 && !m.closed {
			m.cond.Wait()
		}
		if len(m.queue) == 0 {
			m.mu.Unlock()
			close(m.out)
			return
		}
		c := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()
		m.out <- c
	}
}

func (m *message) push(data []byte) {
	m.mu.Lock()
	m.queue = append(m.queue, api.Chunk{Data: data})
	m.cond.Signal()
	m.mu.Unlock()
}

// finish enqueues the final chunk; the stream closes once it's delivered.
func (m *message) finish(data []byte) {
	m.mu.Lock()
	m.queue = append(m.queue, api.Chunk{Data: data, Fin: true})
	m.closed = true
	m.cond.Signal()
	m.mu.Unlock()
}

// fail aborts the stream early, e.g. on endpoint teardown mid-message.
func (m *message) fail(err error) {
	m.mu.Lock()
	m.err = err
	m.closed = true
	m.cond.Signal()
	m.mu.Unlock()
}

func (m *message) Opcode() byte             { return m.opcode }
func (m *message) Chunks() <-chan api.Chunk { return m.out }

func (m *message) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}
