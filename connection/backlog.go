package connection

import (
	"sync"

	"strzcam.com/camstream/frame"
)

// backlog holds the most recent frames, replacing the oldest at capacity.
type backlog struct {
	mu   sync.Mutex
	data []*frame.Frame
	head int
	size int
}

func newBacklog(capacity int) *backlog {
	return &backlog{data: make([]*frame.Frame, capacity)}
}

func (b *backlog) Add(f *frame.Frame) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) == 0 {
		return
	}
	b.data[b.head] = f
	b.head = (b.head + 1) % len(b.data)
	if b.size < len(b.data) {
		b.size++
	}
}

// All returns the held frames oldest first.
func (b *backlog) All() []*frame.Frame {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.size == 0 {
		return nil
	}
	out := make([]*frame.Frame, b.size)
	if b.size < len(b.data) {
		copy(out, b.data[:b.size])
	} else {
		n := copy(out, b.data[b.head:])
		copy(out[n:], b.data[:b.head])
	}
	return out
}

func (b *backlog) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

func (b *backlog) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.data {
		b.data[i] = nil
	}
	b.size = 0
	b.head = 0
}
