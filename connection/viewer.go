package connection

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"strzcam.com/camstream/frame"
)

const (
	DefaultRetryInterval = time.Second
	maxRetryInterval     = 30 * time.Second
)

// Viewer receives frames from a Provider and republishes them locally. Its
// Slot can back a stream.Broadcaster like a camera would.
type Viewer struct {
	url   string
	slot  *frame.Slot
	seq   frame.Sequence
	retry time.Duration
	log   *slog.Logger

	lastCaptured time.Time
	received     atomic.Uint64
	stale        atomic.Uint64
	connected    atomic.Bool
}

func NewViewer(url string, retry time.Duration, logger *slog.Logger) *Viewer {
	if retry <= 0 {
		retry = DefaultRetryInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Viewer{
		url:   url,
		slot:  frame.NewSlot(),
		retry: retry,
		log:   logger.With("component", "relay-viewer", "provider", url),
	}
}

func (v *Viewer) Read(kind frame.Kind) (*frame.Frame, bool) { return v.slot.Read(kind) }

func (v *Viewer) Received() uint64 { return v.received.Load() }

func (v *Viewer) Connected() bool { return v.connected.Load() }

// Run keeps a connection to the provider open until ctx is done,
// reconnecting with exponential backoff.
func (v *Viewer) Run(ctx context.Context) error {
	wait := v.retry
	for {
		err := v.session(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		v.log.Warn("relay: connection lost", "error", err, "retry_in", wait)
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		if err == nil {
			wait = v.retry
		} else {
			wait = min(wait*2, maxRetryInterval)
		}
	}
}

func (v *Viewer) session(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, v.url, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()
	v.connected.Store(true)
	defer v.connected.Store(false)
	v.log.Info("relay: connected")

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if kind != websocket.BinaryMessage {
			continue
		}
		if err := v.handle(msg); err != nil {
			v.log.Debug("relay: bad message", "error", err)
		}
	}
}

// handle publishes one message. Frames captured before the last published
// one are dropped.
func (v *Viewer) handle(msg []byte) error {
	ts, data, err := SplitTimestamped(msg)
	if err != nil {
		return err
	}
	if ts.Before(v.lastCaptured) {
		v.stale.Add(1)
		return nil
	}
	f := &frame.Frame{
		Data:     data,
		Format:   frame.FormatJPEG,
		Seq:      v.seq.Next(),
		Captured: ts,
	}
	if c, err := jpeg.DecodeConfig(bytes.NewReader(data)); err == nil {
		f.Width, f.Height = c.Width, c.Height
	}
	v.lastCaptured = ts
	v.slot.Publish(frame.Encoded, f)
	v.received.Add(1)
	return nil
}
