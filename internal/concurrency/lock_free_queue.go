// File: internal/concurrency/lock_free_queue.go
// Package concurrency provides the buffer pool's lock-free free-list.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Bounded MPMC queue (Vyukov's algorithm): each slot carries its own
// sequence number so producers and consumers claim slots with a single CAS
// instead of a global lock, and stay correct under multiple concurrent
// producers and consumers — the buffer pool is shared by every endpoint.
// enqueuePos and dequeuePos sit on separate cache lines: under the buffer
// pool's load every Get contends on dequeuePos while every Put contends on
// enqueuePos, and without the padding those two independent contention
// points would bounce the same cache line between cores on every access.

package concurrency

import "sync/atomic"

const cacheLinePad = 64

type cell[T any] struct {
	sequence uint64
	data     T
}

// LockFreeQueue is a fixed-capacity, multi-producer/multi-consumer ring.
type LockFreeQueue[T any] struct {
	buffer []cell[T]
	mask   uint64

	enqueuePos uint64
	_          [cacheLinePad - 8]byte
	dequeuePos uint64
	_          [cacheLinePad - 8]byte
}

// NewLockFreeQueue creates a queue with capacity rounded up to a power of two.
func NewLockFreeQueue[T any](capacity int) *LockFreeQueue[T] {
	size := 1
	for size < capacity {
		size <<= 1
	}
	buf := make([]cell[T], size)
	for i := range buf {
		buf[i].sequence = uint64(i)
	}
	return &LockFreeQueue[T]{buffer: buf, mask: uint64(size - 1)}
}

// Len returns a point-in-time estimate of the number of queued items. It is
// only approximate under concurrent Enqueue/Dequeue, which is sufficient for
// pool.Pool's free-list depth gauge.
func (q *LockFreeQueue[T]) Len() int {
	enq := atomic.LoadUint64(&q.enqueuePos)
	deq := atomic.LoadUint64(&q.dequeuePos)
	if enq < deq {
		return 0
	}
	return int(enq - deq)
}

// Enqueue adds val; returns false if the queue is full.
func (q *LockFreeQueue[T]) Enqueue(val T) bool {
	pos := atomic.LoadUint64(&q.enqueuePos)
	var c *cell[T]
	for {
		c = &q.buffer[pos&q.mask]
		seq := atomic.LoadUint64(&c.sequence)
		diff := int64(seq) - int64(pos)
		switch {
		case diff == 0:
			if atomic.CompareAndSwapUint64(&q.enqueuePos, pos, pos+1) {
				c.data = val
				atomic.StoreUint64(&c.sequence, pos+1)
				return true
			}
		case diff < 0:
			return false
		default:
			pos = atomic.LoadUint64(&q.enqueuePos)
		}
	}
}

// Dequeue removes and returns an item; ok is false if the queue is empty.
func (q *LockFreeQueue[T]) Dequeue() (item T, ok bool) {
	pos := atomic.LoadUint64(&q.dequeuePos)
	var c *cell[T]
	for {
		c = &q.buffer[pos&q.mask]
		seq := atomic.LoadUint64(&c.sequence)
		diff := int64(seq) - int64(pos+1)
		switch {
		case diff == 0:
			if atomic.CompareAndSwapUint64(&q.dequeuePos, pos, pos+1) {
				item = c.data
				var zero T
				c.data = zero
				atomic.StoreUint64(&c.sequence, pos+q.mask+1)
				return item, true
			}
		case diff < 0:
			return item, false
		default:
			pos = atomic.LoadUint64(&q.dequeuePos)
		}
	}
}
