// File: pool/buffer.go
// Author: momentics <momentics@gmail.com>
//
// The concrete api.Buffer handed out by Pool.

package pool

import "github.com/momentics/wsendpoint/api"

// buffer is a pooled, resliceable memory region.
type buffer struct {
	data []byte
	pool *Pool // nil for a Slice()d view: it does not own the backing array
}

func (b *buffer) Bytes() []byte { return b.data }

func (b *buffer) Slice(from, to int) api.Buffer {
	return &buffer{data: b.data[from:to]}
}

func (b *buffer) Copy() []byte {
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}

func (b *buffer) Release() {
	if b.pool != nil {
		b.pool.Put(b)
	}
}
