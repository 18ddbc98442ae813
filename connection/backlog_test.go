package connection

import (
	"testing"

	"strzcam.com/camstream/frame"
)

func seqs(frames []*frame.Frame) []uint64 {
	out := make([]uint64, len(frames))
	for i, f := range frames {
		out[i] = f.Seq
	}
	return out
}

func TestBacklog(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		add      int
		want     []uint64
	}{
		{name: "empty", capacity: 3, add: 0, want: []uint64{}},
		{name: "partial", capacity: 3, add: 2, want: []uint64{1, 2}},
		{name: "full", capacity: 3, add: 3, want: []uint64{1, 2, 3}},
		{name: "wrapped", capacity: 3, add: 5, want: []uint64{3, 4, 5}},
		{name: "disabled", capacity: 0, add: 4, want: []uint64{}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			b := newBacklog(tc.capacity)
			for i := 1; i <= tc.add; i++ {
				b.Add(&frame.Frame{Seq: uint64(i)})
			}
			got := seqs(b.All())
			if len(got) != len(tc.want) {
				t.Fatalf("All() = %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Fatalf("All() = %v, want %v", got, tc.want)
				}
			}
			if b.Len() != len(tc.want) {
				t.Fatalf("Len() = %d", b.Len())
			}
		})
	}
}

func TestBacklogClear(t *testing.T) {
	b := newBacklog(3)
	for i := 1; i <= 3; i++ {
		b.Add(&frame.Frame{Seq: uint64(i)})
	}
	b.Clear()
	if b.Len() != 0 || b.All() != nil {
		t.Fatal("backlog not empty after Clear")
	}
	b.Add(&frame.Frame{Seq: 9})
	if got := seqs(b.All()); len(got) != 1 || got[0] != 9 {
		t.Fatalf("All() = %v", got)
	}
}
