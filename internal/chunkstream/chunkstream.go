// Package chunkstream re-chunks an arbitrary byte source into fixed-size
// Chunks, the leaf adapter the broadcaster reads its source through.
package chunkstream

import (
	"context"
	"io"

	"github.com/mirakutu/tunerd/internal/bufpool"
	"github.com/mirakutu/tunerd/internal/chunk"
	tunerderrors "github.com/mirakutu/tunerd/internal/errors"
)

// Stream adapts src into a lazy sequence of Chunks of exactly size bytes,
// except for a possibly shorter final chunk emitted immediately before
// end-of-stream. No internal buffering beyond the in-progress chunk.
type Stream struct {
	src  io.Reader
	size int
	err  error
	done bool
}

// New returns a Stream reading target-size chunks from src.
func New(src io.Reader, size int) *Stream {
	return &Stream{src: src, size: size}
}

type readResult struct {
	buf []byte
	n   int
	err error
}

// Next blocks until a chunk is available, the source reports an error, ctx
// is cancelled, or the stream has ended. It returns (chunk, true) on
// success and (zero Chunk, false) once exhausted; call Err to find out
// whether exhaustion was due to a read error.
func (s *Stream) Next(ctx context.Context) (chunk.Chunk, bool) {
	if s.done {
		return chunk.Chunk{}, false
	}

	buf := bufpool.Get(s.size)
	resCh := make(chan readResult, 1)
	go func() {
		n, err := io.ReadFull(s.src, buf)
		resCh <- readResult{buf: buf, n: n, err: err}
	}()

	select {
	case <-ctx.Done():
		s.done = true
		s.err = ctx.Err()
		return chunk.Chunk{}, false
	case res := <-resCh:
		switch {
		case res.err == nil:
			return chunk.New(res.buf[:res.n]), true
		case res.err == io.ErrUnexpectedEOF && res.n > 0:
			// Final, short chunk before end-of-stream.
			s.done = true
			return chunk.New(res.buf[:res.n]), true
		case res.err == io.EOF:
			s.done = true
			bufpool.Put(res.buf)
			return chunk.Chunk{}, false
		default:
			s.done = true
			s.err = tunerderrors.NewStreamError("chunkstream.read", res.err)
			bufpool.Put(res.buf)
			return chunk.Chunk{}, false
		}
	}
}

// Err returns the error that ended the stream, if any. A nil Err after Next
// returns false means the source reached a clean end-of-stream.
func (s *Stream) Err() error { return s.err }
