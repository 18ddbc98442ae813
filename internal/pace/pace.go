// Package pace holds the timing helpers shared by the capture and send loops.
package pace

import (
	"context"
	"sync/atomic"
	"time"
)

// Sleep waits for d or until ctx is done, returning ctx.Err() in the latter
// case. A non-positive d only checks ctx.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// ShouldLog lets one caller through per period. last holds the unix nano
// time of the last accepted call.
func ShouldLog(last *atomic.Int64, period time.Duration) bool {
	now := time.Now().UnixNano()
	for {
		prev := last.Load()
		if prev != 0 && time.Duration(now-prev) < period {
			return false
		}
		if last.CompareAndSwap(prev, now) {
			return true
		}
	}
}
