package web_rtc

import (
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
)

type countingPeer struct {
	closed atomic.Int32
	err    error
}

func (p *countingPeer) Close() error {
	p.closed.Add(1)
	return p.err
}

func testSession(id string, peer *countingPeer) *Session {
	s := newSession(id, "127.0.0.1:5000", slog.Default())
	s.peer = peer
	return s
}

func TestRegistryRemoveClosesOnce(t *testing.T) {
	r := NewRegistry(nil)
	peer := &countingPeer{}
	cleaned := 0
	s := testSession("a", peer)
	s.onClose(func() { cleaned++ })
	r.Add(s)

	if r.Len() != 1 {
		t.Fatalf("Len() = %d", r.Len())
	}
	if !r.Remove("a") {
		t.Fatal("Remove(a) = false")
	}
	if r.Remove("a") {
		t.Fatal("second Remove(a) = true")
	}
	s.Close()
	if peer.closed.Load() != 1 || cleaned != 1 {
		t.Errorf("peer closed %d times, cleanup ran %d times", peer.closed.Load(), cleaned)
	}
}

func TestRegistryAddReplacesSameID(t *testing.T) {
	r := NewRegistry(nil)
	old, fresh := &countingPeer{}, &countingPeer{}
	r.Add(testSession("x", old))
	r.Add(testSession("x", fresh))

	if r.Len() != 1 {
		t.Fatalf("Len() = %d", r.Len())
	}
	if old.closed.Load() != 1 || fresh.closed.Load() != 0 {
		t.Errorf("old closed=%d fresh closed=%d", old.closed.Load(), fresh.closed.Load())
	}
}

func TestRegistryCloseAllSwallowsErrors(t *testing.T) {
	r := NewRegistry(nil)
	peers := []*countingPeer{{err: errors.New("already closed")}, {}, {}}
	for i, p := range peers {
		r.Add(testSession(string(rune('a'+i)), p))
	}
	if got := len(r.List()); got != 3 {
		t.Fatalf("List() has %d entries", got)
	}
	r.CloseAll()
	if r.Len() != 0 {
		t.Errorf("Len() after CloseAll = %d", r.Len())
	}
	for i, p := range peers {
		if p.closed.Load() != 1 {
			t.Errorf("peer %d closed %d times", i, p.closed.Load())
		}
	}
}
