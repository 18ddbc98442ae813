package audio

import (
	"context"
	"sync/atomic"
	"time"
)

// Ring is a bounded chunk channel. Push never blocks: when the ring is full
// the incoming chunk is dropped and the buffered ones are kept.
type Ring struct {
	ch      chan Chunk
	pushed  atomic.Uint64
	dropped atomic.Uint64
}

func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = DefaultRingCapacity
	}
	return &Ring{ch: make(chan Chunk, capacity)}
}

func (r *Ring) Push(c Chunk) bool {
	select {
	case r.ch <- c:
		r.pushed.Add(1)
		return true
	default:
		r.dropped.Add(1)
		return false
	}
}

// Pop waits up to timeout for the next chunk. It reports false on timeout or
// when ctx is done.
func (r *Ring) Pop(ctx context.Context, timeout time.Duration) (Chunk, bool) {
	select {
	case c := <-r.ch:
		return c, true
	default:
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case c := <-r.ch:
		return c, true
	case <-t.C:
		return Chunk{}, false
	case <-ctx.Done():
		return Chunk{}, false
	}
}

func (r *Ring) Len() int        { return len(r.ch) }
func (r *Ring) Cap() int        { return cap(r.ch) }
func (r *Ring) Pushed() uint64  { return r.pushed.Load() }
func (r *Ring) Dropped() uint64 { return r.dropped.Load() }
