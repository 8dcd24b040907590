// Package chunk defines the immutable, reference-counted byte buffer shared
// across a broadcaster's subscribers.
package chunk

import (
	"sync/atomic"

	"github.com/mirakutu/tunerd/internal/bufpool"
)

// Chunk is an immutable, reference-countable byte buffer. Cloning a Chunk
// is cheap: it shares the underlying storage rather than copying it, so N
// subscribers can hold the same data for the cost of one allocation.
type Chunk struct {
	data []byte
	refs *int32
}

// New wraps data as a Chunk holding a single reference. Ownership of data
// transfers to the Chunk; callers must not mutate it afterwards.
func New(data []byte) Chunk {
	refs := int32(1)
	return Chunk{data: data, refs: &refs}
}

// Bytes returns the chunk's contents. The slice must not be mutated or
// retained past the chunk's lifetime.
func (c Chunk) Bytes() []byte { return c.data }

// Len returns the number of bytes in the chunk.
func (c Chunk) Len() int { return len(c.data) }

// Clone returns a cheap copy of c sharing the same backing storage,
// incrementing the shared reference count.
func (c Chunk) Clone() Chunk {
	if c.refs != nil {
		atomic.AddInt32(c.refs, 1)
	}
	return c
}

// Release decrements the shared reference count, returning the backing
// buffer to the pool once the last reference has been released. Release is
// safe to call on a zero-value Chunk.
func (c Chunk) Release() {
	if c.refs == nil {
		return
	}
	if atomic.AddInt32(c.refs, -1) == 0 {
		bufpool.Put(c.data)
	}
}
