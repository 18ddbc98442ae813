package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"strzcam.com/camstream/frame"
	"strzcam.com/camstream/internal/pace"
)

const (
	DefaultJPEGQuality = 80
	DefaultReadBackoff = 50 * time.Millisecond
	DefaultStopTimeout = time.Second
)

var (
	ErrOpen           = errors.New("camera: cannot open device")
	ErrAlreadyStarted = errors.New("camera: engine already started")
	ErrNotRunning     = errors.New("camera: engine not running")
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	}
	return "unknown"
}

type Options struct {
	Encoder     Encoder
	Sequence    *frame.Sequence
	ReadBackoff time.Duration
	StopTimeout time.Duration
	Logger      *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Encoder == nil {
		o.Encoder = JPEGEncoder{Quality: DefaultJPEGQuality}
	}
	if o.Sequence == nil {
		o.Sequence = &frame.Sequence{}
	}
	if o.ReadBackoff <= 0 {
		o.ReadBackoff = DefaultReadBackoff
	}
	if o.StopTimeout <= 0 {
		o.StopTimeout = DefaultStopTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

type Stats struct {
	Source       Source
	State        State
	Captured     uint64
	ReadErrors   uint64
	EncodeErrors uint64
	LastFrame    time.Time
}

// run is the state of one Start..Stop cycle.
type run struct {
	dev     Device
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	first   chan struct{}
	firstMu sync.Once
	release sync.Once
}

// Engine owns one capture device and the loop that reads it. Every tick is
// published into the engine's Slot as a raw frame and a JPEG frame.
type Engine struct {
	src  Source
	open Opener
	opts Options
	log  *slog.Logger
	slot *frame.Slot

	mu    sync.Mutex
	state atomic.Int32
	run   *run

	captured     atomic.Uint64
	readErrors   atomic.Uint64
	encodeErrors atomic.Uint64
	lastFrame    atomic.Int64
	lastReadLog  atomic.Int64
	lastEncLog   atomic.Int64
}

func NewEngine(src Source, open Opener, opts Options) *Engine {
	opts = opts.withDefaults()
	return &Engine{
		src:  src,
		open: open,
		opts: opts,
		log:  opts.Logger.With("component", "camera", "source", src.Device),
		slot: frame.NewSlot(),
	}
}

func (e *Engine) Source() Source { return e.src }

func (e *Engine) State() State { return State(e.state.Load()) }

func (e *Engine) Read(kind frame.Kind) (*frame.Frame, bool) {
	return e.slot.Read(kind)
}

// Start opens the device, applies the requested parameters and spawns the
// capture loop. Parameters the device refuses are logged and ignored.
func (e *Engine) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run != nil {
		return ErrAlreadyStarted
	}
	e.state.Store(int32(StateStarting))

	dev, err := e.open(e.src)
	if err != nil {
		e.state.Store(int32(StateStopped))
		return fmt.Errorf("%w %s: %w", ErrOpen, e.src.Device, err)
	}
	e.tune(dev)

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{
		dev:    dev,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		first:  make(chan struct{}),
	}
	e.run = r
	e.state.Store(int32(StateRunning))
	go e.loop(r)

	e.log.Info("camera: capture started", "interval", e.src.FrameInterval())
	return nil
}

func (e *Engine) tune(dev Device) {
	t, ok := dev.(Tunable)
	if !ok {
		return
	}
	params := []struct {
		p Property
		v float64
	}{
		{PropWidth, float64(e.src.Width)},
		{PropHeight, float64(e.src.Height)},
		{PropFPS, e.src.FPS},
	}
	for _, param := range params {
		if param.v <= 0 {
			continue
		}
		if err := t.Set(param.p, param.v); err != nil {
			e.log.Warn("camera: parameter not applied", "property", param.p, "value", param.v, "error", err)
		}
	}
}

// WaitFirstFrame blocks until the current run has published a frame, the
// timeout elapses or the engine stops. It reports whether a frame arrived.
func (e *Engine) WaitFirstFrame(timeout time.Duration) bool {
	e.mu.Lock()
	r := e.run
	e.mu.Unlock()
	if r == nil {
		return false
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-r.first:
		return true
	case <-r.done:
		return false
	case <-t.C:
		return false
	}
}

func (e *Engine) loop(r *run) {
	defer close(r.done)

	interval := e.src.FrameInterval()
	for {
		started := time.Now()
		if r.ctx.Err() != nil {
			return
		}

		raw, err := r.dev.Read()
		if err != nil {
			n := e.readErrors.Add(1)
			if pace.ShouldLog(&e.lastReadLog, time.Second) {
				e.log.Warn("camera: frame read failed", "error", err, "read_errors", n)
			}
			if pace.Sleep(r.ctx, e.opts.ReadBackoff) != nil {
				return
			}
			continue
		}

		e.publish(raw)
		r.firstMu.Do(func() { close(r.first) })

		if pace.Sleep(r.ctx, interval-time.Since(started)) != nil {
			return
		}
	}
}

func (e *Engine) publish(raw *frame.Frame) {
	now := time.Now()
	raw.Format = frame.FormatBGR24
	raw.Seq = e.opts.Sequence.Next()
	raw.Captured = now

	data, err := e.opts.Encoder.Encode(raw)
	if err != nil {
		n := e.encodeErrors.Add(1)
		if pace.ShouldLog(&e.lastEncLog, time.Second) {
			e.log.Warn("camera: jpeg encode failed", "error", err, "encode_errors", n)
		}
	} else {
		e.slot.Publish(frame.Encoded, &frame.Frame{
			Data:     data,
			Format:   frame.FormatJPEG,
			Width:    raw.Width,
			Height:   raw.Height,
			Seq:      raw.Seq,
			Captured: now,
		})
	}
	e.slot.Publish(frame.Raw, raw)

	e.captured.Add(1)
	e.lastFrame.Store(now.UnixNano())
}

// Stop asks the loop to exit, waits for it up to StopTimeout and releases the
// device. A loop stuck in a device read releases the device itself once the
// read returns. Stop is idempotent.
func (e *Engine) Stop() {
	e.mu.Lock()
	defer e.mu.Unlock()

	r := e.run
	if r == nil {
		return
	}
	e.state.Store(int32(StateStopping))
	r.cancel()

	select {
	case <-r.done:
		e.releaseDevice(r)
	case <-time.After(e.opts.StopTimeout):
		e.log.Warn("camera: stop timeout exceeded, device released when the pending read returns",
			"timeout", e.opts.StopTimeout)
		go func() {
			<-r.done
			e.releaseDevice(r)
		}()
	}

	e.run = nil
	e.state.Store(int32(StateStopped))
	e.log.Info("camera: capture stopped",
		"captured", e.captured.Load(),
		"read_errors", e.readErrors.Load(),
		"encode_errors", e.encodeErrors.Load())
}

func (e *Engine) releaseDevice(r *run) {
	r.release.Do(func() { logClose(e.log, "device", r.dev) })
}

func (e *Engine) Stats() Stats {
	st := Stats{
		Source:       e.src,
		State:        e.State(),
		Captured:     e.captured.Load(),
		ReadErrors:   e.readErrors.Load(),
		EncodeErrors: e.encodeErrors.Load(),
	}
	if ns := e.lastFrame.Load(); ns != 0 {
		st.LastFrame = time.Unix(0, ns)
	}
	return st
}
