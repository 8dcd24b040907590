package broadcaster

import (
	"context"
	"sync"

	"github.com/mirakutu/tunerd/internal/chunk"
)

// Stream is the per-subscriber handle returned by Subscribe: a lazy
// sequence of Chunks bounded by MaxInFlight. It terminates (Next returns
// false) when the broadcaster drops its sender, or when the holder calls
// Close — covering both ends of C3's lifecycle contract. The stream never
// produces errors of its own; transport errors are reflected only as
// end-of-sequence, with the cause logged by the broadcaster.
type Stream struct {
	ch      chan chunk.Chunk
	closeFn func()
	once    sync.Once
}

// Next blocks until a chunk arrives, the stream ends, or ctx is cancelled.
func (s *Stream) Next(ctx context.Context) (chunk.Chunk, bool) {
	select {
	case c, ok := <-s.ch:
		return c, ok
	case <-ctx.Done():
		return chunk.Chunk{}, false
	}
}

// Close unsubscribes the stream from its broadcaster. Safe to call more
// than once and safe to call even after the broadcaster has already
// stopped.
func (s *Stream) Close() {
	s.once.Do(func() {
		if s.closeFn != nil {
			s.closeFn()
		}
	})
}
