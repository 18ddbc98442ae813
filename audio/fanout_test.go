package audio

import (
	"context"
	"testing"
	"time"
)

func TestFanoutDeliversToEverySubscriber(t *testing.T) {
	f := NewFanout()
	a := f.Subscribe("a", 4)
	b := f.Subscribe("b", 4)

	if !f.Push(chunkWithTS(1)) {
		t.Fatal("Push reported a drop")
	}
	for name, r := range map[string]*Ring{"a": a, "b": b} {
		c, ok := r.Pop(context.Background(), time.Millisecond)
		if !ok || c.Timestamp != 1 {
			t.Errorf("subscriber %s got %d, %v", name, c.Timestamp, ok)
		}
	}
}

func TestFanoutSlowSubscriberDoesNotStarveOthers(t *testing.T) {
	f := NewFanout()
	slow := f.Subscribe("slow", 1)
	fast := f.Subscribe("fast", 8)

	for i := uint64(0); i < 5; i++ {
		f.Push(chunkWithTS(i))
		if c, ok := fast.Pop(context.Background(), time.Millisecond); !ok || c.Timestamp != i {
			t.Fatalf("fast subscriber got %d, %v; want %d", c.Timestamp, ok, i)
		}
	}
	if slow.Len() != 1 || slow.Dropped() != 4 {
		t.Errorf("slow subscriber len=%d dropped=%d", slow.Len(), slow.Dropped())
	}
}

func TestFanoutUnsubscribe(t *testing.T) {
	f := NewFanout()
	r := f.Subscribe("peer", 4)
	f.Subscribe("other", 4)
	f.Unsubscribe("peer")
	f.Unsubscribe("missing")

	if f.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", f.Len())
	}
	f.Push(chunkWithTS(1))
	if r.Len() != 0 {
		t.Error("unsubscribed ring still receives chunks")
	}
}

func TestFanoutResubscribeReplaces(t *testing.T) {
	f := NewFanout()
	old := f.Subscribe("peer", 4)
	fresh := f.Subscribe("peer", 4)
	f.Push(chunkWithTS(1))
	if f.Len() != 1 || old.Len() != 0 || fresh.Len() != 1 {
		t.Errorf("len=%d old=%d fresh=%d", f.Len(), old.Len(), fresh.Len())
	}
}
