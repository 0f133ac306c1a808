// File: pool/bufferpool.go
// Author: momentics <momentics@gmail.com>
//
// A single-size-class BufferPool backed by a lock-free MPMC free-list: the
// common case (one receive/send buffer per frame) never touches the
// allocator after warmup, and an oversize request simply falls back to a
// plain make([]byte) that is never pooled.

package pool

import (
	"sync/atomic"

	"github.com/momentics/wsendpoint/api"
	"github.com/momentics/wsendpoint/internal/concurrency"
)

const defaultBufferSize = 4096

// Pool is an api.BufferPool implementation.
type Pool struct {
	free     *concurrency.LockFreeQueue[*buffer]
	bufSize  int
	allocs   int64
	inUse    int64
	overflow int64
}

// NewPool creates a Pool whose free-list holds up to capacity buffers of
// bufSize bytes each; buffers are allocated on demand by Get and kept on Put.
// A bufSize <= 0 uses defaultBufferSize.
func NewPool(capacity, bufSize int) *Pool {
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}
	return &Pool{
		free:    concurrency.NewLockFreeQueue[*buffer](capacity),
		bufSize: bufSize,
	}
}

// Get returns a buffer of at least size bytes, reused from the free-list
// when possible.
func (p *Pool) Get(size int) api.Buffer {
	if size <= p.bufSize {
		if b, ok := p.free.Dequeue(); ok {
			b.data = b.data[:size]
			atomic.AddInt64(&p.inUse, 1)
			return b
		}
	}
	atomic.AddInt64(&p.allocs, 1)
	atomic.AddInt64(&p.inUse, 1)
	cap := size
	if cap < p.bufSize {
		cap = p.bufSize
	}
	data := make([]byte, size, cap)
	return &buffer{data: data, pool: p}
}

// Put returns b to the pool. Buffers not owned by this pool, or already
// exhausted sub-slices of one, are silently dropped.
func (p *Pool) Put(b api.Buffer) {
	bb, ok := b.(*buffer)
	if !ok || bb.pool != p {
		return
	}
	atomic.AddInt64(&p.inUse, -1)
	if cap(bb.data) > p.bufSize {
		return
	}
	bb.data = bb.data[:0]
	if !p.free.Enqueue(bb) {
		atomic.AddInt64(&p.overflow, 1)
	}
}

// Stats returns a point-in-time snapshot of pool accounting.
func (p *Pool) Stats() api.BufferPoolStats {
	return api.BufferPoolStats{
		TotalAlloc: atomic.LoadInt64(&p.allocs),
		TotalFree:  atomic.LoadInt64(&p.overflow),
		InUse:      atomic.LoadInt64(&p.inUse),
		FreeListed: p.free.Len(),
	}
}
