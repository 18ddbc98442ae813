package audio

import (
	"sync"
	"sync/atomic"
)

type subscriber struct {
	id   string
	ring *Ring
}

// Fanout copies every chunk to one Ring per subscriber. Push reads an
// immutable snapshot of the subscriber list and takes no lock, so it is safe
// to call from the audio driver's callback.
type Fanout struct {
	mu   sync.Mutex
	subs atomic.Pointer[[]subscriber]
}

func NewFanout() *Fanout {
	f := &Fanout{}
	f.subs.Store(&[]subscriber{})
	return f
}

// Subscribe registers a new ring under id, replacing any previous one.
func (f *Fanout) Subscribe(id string, capacity int) *Ring {
	r := NewRing(capacity)
	f.mu.Lock()
	defer f.mu.Unlock()

	cur := *f.subs.Load()
	next := make([]subscriber, 0, len(cur)+1)
	for _, s := range cur {
		if s.id != id {
			next = append(next, s)
		}
	}
	next = append(next, subscriber{id: id, ring: r})
	f.subs.Store(&next)
	return r
}

func (f *Fanout) Unsubscribe(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	cur := *f.subs.Load()
	next := make([]subscriber, 0, len(cur))
	for _, s := range cur {
		if s.id != id {
			next = append(next, s)
		}
	}
	f.subs.Store(&next)
}

// Push delivers c to every subscriber. Subscribers share the sample slice,
// which nobody writes after capture. It reports false if any subscriber
// dropped the chunk.
func (f *Fanout) Push(c Chunk) bool {
	ok := true
	for _, s := range *f.subs.Load() {
		if !s.ring.Push(c) {
			ok = false
		}
	}
	return ok
}

func (f *Fanout) Len() int {
	return len(*f.subs.Load())
}
