package web_rtc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"strzcam.com/camstream/internal/pace"
)

type encoder interface {
	Read() ([]byte, func(), error)
	Close() error
}

// Track pumps encoded samples from an encoder into a local WebRTC track.
// Paced tracks pull one sample per interval; unpaced tracks are paced by their
// source (the audio ring fills at the capture rate).
type Track struct {
	kind     string
	local    *webrtc.TrackLocalStaticSample
	enc      encoder
	interval time.Duration
	paced    bool
	log      *slog.Logger

	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started atomic.Bool
	once    sync.Once

	samples atomic.Uint64
	lastLog atomic.Int64
}

func newTrack(kind string, local *webrtc.TrackLocalStaticSample, enc encoder, interval time.Duration, paced bool,
	ctx context.Context, cancel context.CancelFunc, logger *slog.Logger) *Track {
	if logger == nil {
		logger = slog.Default()
	}
	return &Track{
		kind:     kind,
		local:    local,
		enc:      enc,
		interval: interval,
		paced:    paced,
		log:      logger.With("track", kind),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

func (t *Track) Local() *webrtc.TrackLocalStaticSample { return t.local }

func (t *Track) Kind() string { return t.kind }

func (t *Track) Samples() uint64 { return t.samples.Load() }

// Start launches the pump. It is a no-op on a started or stopped track.
func (t *Track) Start() {
	if t.ctx.Err() != nil || !t.started.CompareAndSwap(false, true) {
		return
	}
	go t.run()
}

func (t *Track) run() {
	defer close(t.done)

	var ticker *time.Ticker
	if t.paced {
		ticker = time.NewTicker(t.interval)
		defer ticker.Stop()
	}
	for {
		if ticker != nil {
			select {
			case <-t.ctx.Done():
				return
			case <-ticker.C:
			}
		} else if t.ctx.Err() != nil {
			return
		}

		data, release, err := t.enc.Read()
		if err != nil {
			if t.ctx.Err() != nil {
				return
			}
			if pace.ShouldLog(&t.lastLog, time.Second) {
				t.log.Warn("webrtc: encoder read failed", "error", err)
			}
			if pace.Sleep(t.ctx, t.interval) != nil {
				return
			}
			continue
		}
		if len(data) > 0 {
			err = t.local.WriteSample(media.Sample{Data: data, Duration: t.interval})
			if err != nil && !errors.Is(err, io.ErrClosedPipe) && pace.ShouldLog(&t.lastLog, time.Second) {
				t.log.Warn("webrtc: write sample failed", "error", err)
			}
			t.samples.Add(1)
		}
		if release != nil {
			release()
		}
	}
}

// Stop ends the pump and closes the encoder. Safe to call more than once and
// on a track that was never started.
func (t *Track) Stop() {
	t.once.Do(func() {
		t.cancel()
		if t.started.Load() {
			select {
			case <-t.done:
			case <-time.After(time.Second):
				t.log.Warn("webrtc: track pump did not stop in time")
			}
		}
		logClose(t.log, t.kind+" encoder", t.enc)
	})
}
