package frame

import (
	"sync"
	"sync/atomic"
	"time"
)

type Format int8

const (
	FormatBGR24 Format = iota
	FormatJPEG
)

func (f Format) String() string {
	switch f {
	case FormatBGR24:
		return "bgr24"
	case FormatJPEG:
		return "jpeg"
	default:
		return "unknown"
	}
}

// Kind selects which representation of a capture tick is stored or read.
type Kind int8

const (
	Raw Kind = iota
	Encoded
)

func (k Kind) String() string {
	if k == Encoded {
		return "encoded"
	}
	return "raw"
}

// Frame is one captured image. It is never mutated after it has been published.
type Frame struct {
	Data     []byte
	Format   Format
	Width    int
	Height   int
	Seq      uint64
	Captured time.Time
}

// Source is anything frames can be read from: a Slot, or a camera manager
// delegating to the slot of the engine that is currently live.
type Source interface {
	Read(kind Kind) (*Frame, bool)
}

// Sequence hands out capture tick numbers. Sharing one Sequence between
// successive engines keeps the order non-decreasing across a source swap.
type Sequence struct {
	n atomic.Uint64
}

func (s *Sequence) Next() uint64 {
	return s.n.Add(1)
}

type SlotStats struct {
	RawPublished     uint64
	EncodedPublished uint64
}

// Slot keeps the latest raw and the latest encoded frame. The lock only
// covers the pointer swap.
type Slot struct {
	mu        sync.RWMutex
	frames    [2]*Frame
	published [2]uint64
}

func NewSlot() *Slot {
	return &Slot{}
}

func (s *Slot) Publish(kind Kind, f *Frame) {
	if f == nil || (kind != Raw && kind != Encoded) {
		return
	}
	s.mu.Lock()
	s.frames[kind] = f
	s.published[kind]++
	s.mu.Unlock()
}

func (s *Slot) Read(kind Kind) (*Frame, bool) {
	if kind != Raw && kind != Encoded {
		return nil, false
	}
	s.mu.RLock()
	f := s.frames[kind]
	s.mu.RUnlock()
	return f, f != nil
}

func (s *Slot) Stats() SlotStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SlotStats{
		RawPublished:     s.published[Raw],
		EncodedPublished: s.published[Encoded],
	}
}
