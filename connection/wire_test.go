package connection

import (
	"errors"
	"testing"
	"time"
)

func TestTimestampedRoundTrip(t *testing.T) {
	ts := time.UnixMicro(1_700_000_000_123_456)
	msg := PutTimestamped(ts, []byte{0xFF, 0xD8, 1, 2})
	if len(msg) != 12 {
		t.Fatalf("len = %d", len(msg))
	}
	got, img, err := SplitTimestamped(msg)
	if err != nil {
		t.Fatalf("SplitTimestamped: %v", err)
	}
	if !got.Equal(ts) {
		t.Fatalf("ts = %v, want %v", got, ts)
	}
	if string(img) != string([]byte{0xFF, 0xD8, 1, 2}) {
		t.Fatalf("img = %v", img)
	}
}

func TestSplitTimestampedShort(t *testing.T) {
	for _, n := range []int{0, 7, 8} {
		if _, _, err := SplitTimestamped(make([]byte, n)); !errors.Is(err, ErrShortMessage) {
			t.Fatalf("len %d: err = %v", n, err)
		}
	}
}
