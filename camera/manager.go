package camera

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"strzcam.com/camstream/frame"
)

const DefaultWarmup = 2 * time.Second

var ErrNoEngine = errors.New("camera: no active engine")

// Manager holds the engine that is currently live. Readers go through Read,
// which always resolves to exactly one engine; SwitchSource replaces it with
// an atomic pointer swap.
type Manager struct {
	open   Opener
	opts   Options
	warmup time.Duration
	log    *slog.Logger
	seq    frame.Sequence

	switchMu sync.Mutex
	active   atomic.Pointer[Engine]
}

// NewManager builds a manager whose engines share one sequence, so frame
// order stays non-decreasing across swaps. warmup bounds how long a swap
// waits for the new device to deliver its first frame.
func NewManager(open Opener, opts Options, warmup time.Duration) *Manager {
	m := &Manager{open: open, warmup: warmup}
	if m.warmup <= 0 {
		m.warmup = DefaultWarmup
	}
	opts.Sequence = &m.seq
	m.opts = opts.withDefaults()
	m.log = m.opts.Logger.With("component", "camera-manager")
	return m
}

func (m *Manager) Start(src Source) error {
	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	if m.active.Load() != nil {
		return ErrAlreadyStarted
	}
	e := NewEngine(src, m.open, m.opts)
	if err := e.Start(); err != nil {
		return err
	}
	m.active.Store(e)
	return nil
}

// SwitchSource starts an engine on src and only once it runs retires the
// current one. If the new device cannot be opened the current engine keeps
// serving and the error is returned.
func (m *Manager) SwitchSource(src Source) error {
	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	next := NewEngine(src, m.open, m.opts)
	if err := next.Start(); err != nil {
		m.log.Warn("camera-manager: switch failed, keeping current source", "source", src.Device, "error", err)
		return err
	}
	if !next.WaitFirstFrame(m.warmup) {
		m.log.Warn("camera-manager: new source produced no frame during warmup", "source", src.Device, "warmup", m.warmup)
	}

	old := m.active.Swap(next)
	if old != nil {
		old.Stop()
	}
	m.log.Info("camera-manager: source switched", "source", src.Device)
	return nil
}

func (m *Manager) Read(kind frame.Kind) (*frame.Frame, bool) {
	e := m.active.Load()
	if e == nil {
		return nil, false
	}
	return e.Read(kind)
}

func (m *Manager) Source() (Source, bool) {
	e := m.active.Load()
	if e == nil {
		return Source{}, false
	}
	return e.Source(), true
}

func (m *Manager) Stats() (Stats, error) {
	e := m.active.Load()
	if e == nil {
		return Stats{}, ErrNoEngine
	}
	return e.Stats(), nil
}

func (m *Manager) Stop() {
	m.switchMu.Lock()
	defer m.switchMu.Unlock()

	if e := m.active.Swap(nil); e != nil {
		e.Stop()
	}
}
