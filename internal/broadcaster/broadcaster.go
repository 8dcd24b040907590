// Package broadcaster implements the per-tuner-session fan-out actor (C2)
// and the per-subscriber stream handle (C3) it hands out.
package broadcaster

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mirakutu/tunerd/internal/chunk"
	"github.com/mirakutu/tunerd/internal/chunkstream"
	tunerderrors "github.com/mirakutu/tunerd/internal/errors"
	"github.com/mirakutu/tunerd/internal/logger"
	"github.com/mirakutu/tunerd/internal/metrics"
)

// ChunkSize is the target frame size every broadcaster chunks its source
// into. Fixed at 32 KiB to bound per-chunk delivery latency to roughly
// 10 ms at typical broadcast bit rates while keeping per-chunk overhead
// small.
const ChunkSize = 32 * 1024

// MaxInFlight is the bounded capacity of each subscriber's outbox. At
// ChunkSize this permits roughly 32 MiB, about 10 seconds, of buffering for
// a slow consumer before chunks are dropped.
const MaxInFlight = 1000

// Id identifies the tuner session a Broadcaster owns. Opaque outside of
// logging and equality.
type Id string

// SubscriberId identifies one downstream consumer of a Broadcaster.
// Equality defines unsubscription; duplicates are permitted (see
// Subscribe) and are not an error.
type SubscriberId string

// errStopped is the cause Subscribe reports once the broadcaster has
// already stopped.
var errStopped = errors.New("broadcaster: stopped")

type subscriber struct {
	id     SubscriberId
	outbox chan chunk.Chunk
}

type subscribeRequest struct {
	id   SubscriberId
	resp chan *Stream
}

type streamEvent struct {
	c  chunk.Chunk
	ok bool
}

// Broadcaster is a per-tuner-session fan-out actor: it owns a chunk stream,
// a list of subscribers, and a watchdog timer. Inbound chunks, Subscribe,
// Unsubscribe, and watchdog ticks are all serialised through a single run
// loop so no two events interleave.
type Broadcaster struct {
	id        Id
	channel   string
	timeLimit time.Duration

	subscribeCh   chan subscribeRequest
	unsubscribeCh chan SubscriberId
	stopped       chan struct{}

	lastReceived atomic.Int64 // UnixNano; updated after every fan-out

	log *slog.Logger
	met *metrics.Registry
}

// New constructs a Broadcaster that chunks src into chunkSize frames and
// starts fanning them out immediately. It self-terminates when src ends,
// errors, goes silent for longer than timeLimit, or ctx is cancelled.
// Production callers should pass ChunkSize; tests pass a smaller size so
// fixtures don't need to manufacture 32 KiB of input per chunk.
func New(ctx context.Context, id Id, channel string, src io.Reader, chunkSize int, timeLimit time.Duration, met *metrics.Registry) *Broadcaster {
	b := &Broadcaster{
		id:            id,
		channel:       channel,
		timeLimit:     timeLimit,
		subscribeCh:   make(chan subscribeRequest),
		unsubscribeCh: make(chan SubscriberId),
		stopped:       make(chan struct{}),
		log:           logger.WithBroadcaster(logger.Logger(), string(id), channel),
		met:           met,
	}
	b.lastReceived.Store(time.Now().UnixNano())
	go b.run(ctx, chunkstream.New(src, chunkSize))
	return b
}

// Subscribe allocates a bounded outbox and returns a Stream wrapping its
// receiving end. No deduplication is performed: callers choose ids, and
// duplicates simply become two independent subscriptions.
func (b *Broadcaster) Subscribe(ctx context.Context, id SubscriberId) (*Stream, error) {
	resp := make(chan *Stream, 1)
	select {
	case b.subscribeCh <- subscribeRequest{id: id, resp: resp}:
	case <-b.stopped:
		return nil, tunerderrors.NewStreamError("broadcaster.subscribe", errStopped)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case st := <-resp:
		st.closeFn = func() { b.Unsubscribe(id) }
		return st, nil
	case <-b.stopped:
		return nil, tunerderrors.NewStreamError("broadcaster.subscribe", errStopped)
	}
}

// Unsubscribe removes every subscriber with a matching id. A missing id is
// logged and otherwise a no-op. Once stopped, Unsubscribe is itself a
// no-op: every subscriber has already been dropped.
func (b *Broadcaster) Unsubscribe(id SubscriberId) {
	select {
	case b.unsubscribeCh <- id:
	case <-b.stopped:
	}
}

// LastReceived reports the last time a chunk fan-out completed. It is
// non-decreasing for the life of the Broadcaster.
func (b *Broadcaster) LastReceived() time.Time {
	return time.Unix(0, b.lastReceived.Load())
}

// Done is closed once the broadcaster has stopped and every subscriber
// stream has terminated.
func (b *Broadcaster) Done() <-chan struct{} { return b.stopped }

func (b *Broadcaster) run(ctx context.Context, stream *chunkstream.Stream) {
	defer close(b.stopped)

	subs := make([]subscriber, 0, 4)
	chunkCh := make(chan streamEvent)

	streamCtx, cancelStream := context.WithCancel(ctx)
	defer cancelStream()

	go func() {
		for {
			c, ok := stream.Next(streamCtx)
			select {
			case chunkCh <- streamEvent{c: c, ok: ok}:
			case <-streamCtx.Done():
				return
			}
			if !ok {
				return
			}
		}
	}()

	watchdog := time.NewTicker(b.timeLimit)
	defer watchdog.Stop()

	b.log.Info("broadcaster started", "time_limit", b.timeLimit)

	stopReason := "end of stream"
	defer func() {
		for _, s := range subs {
			close(s.outbox)
			if b.met != nil {
				b.met.Subscribers.Dec()
			}
		}
		b.log.Info("broadcaster stopped", "reason", stopReason)
	}()

runLoop:
	for {
		select {
		case ev := <-chunkCh:
			if !ev.ok {
				if err := stream.Err(); err != nil {
					stopReason = "stream error: " + err.Error()
					b.log.Error("broadcaster stream error", "error", err)
				} else {
					stopReason = "end of stream"
					b.log.Info("broadcaster observed end of stream")
				}
				break runLoop
			}
			b.fanOut(subs, ev.c)
			b.lastReceived.Store(time.Now().UnixNano())

		case req := <-b.subscribeCh:
			outbox := make(chan chunk.Chunk, MaxInFlight)
			subs = append(subs, subscriber{id: req.id, outbox: outbox})
			if b.met != nil {
				b.met.Subscribers.Inc()
			}
			req.resp <- &Stream{ch: outbox}

		case id := <-b.unsubscribeCh:
			found := false
			kept := subs[:0]
			for _, s := range subs {
				if s.id == id {
					close(s.outbox)
					found = true
					if b.met != nil {
						b.met.Subscribers.Dec()
					}
					continue
				}
				kept = append(kept, s)
			}
			subs = kept
			if !found {
				b.log.Debug("unsubscribe: unknown subscriber id", "subscriber_id", id)
			}

		case <-watchdog.C:
			if time.Since(b.LastReceived()) > b.timeLimit {
				stopReason = "watchdog timeout"
				b.log.Warn("broadcaster watchdog expired", "time_limit", b.timeLimit)
				break runLoop
			}

		case <-ctx.Done():
			stopReason = "context cancelled"
			break runLoop
		}
	}
}

// fanOut attempts a non-blocking delivery of c to every subscriber in
// insertion order. The fan-out loop never suspends: a full outbox drops
// the chunk for that subscriber only, leaving every other subscriber and
// the producer unaffected.
func (b *Broadcaster) fanOut(subs []subscriber, c chunk.Chunk) {
	for i, s := range subs {
		pos := fmt.Sprintf("%d/%d", i+1, len(subs))
		cc := c.Clone()
		select {
		case s.outbox <- cc:
			b.log.Debug("chunk delivered", "subscriber_id", s.id, "position", pos)
			if b.met != nil {
				b.met.ChunksFannedOut.Inc()
			}
		default:
			cc.Release()
			b.log.Warn("dropping chunk for slow subscriber", "subscriber_id", s.id, "position", pos)
			if b.met != nil {
				b.met.ChunksDropped.Inc()
			}
		}
	}
	c.Release()
}
