package audio

import (
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

type MicStats struct {
	Chunks  uint64
	Dropped uint64
	Frames  uint64
}

// Mic captures signed 16-bit audio from the default input device and pushes
// fixed-size chunks into a Sink, whatever period size the driver uses.
type Mic struct {
	format Format
	sink   Sink
	log    *slog.Logger

	mu  sync.Mutex
	ctx *malgo.AllocatedContext
	dev *malgo.Device

	// touched only by the driver callback
	pending []int16
	filled  int

	frames  atomic.Uint64
	chunks  atomic.Uint64
	dropped atomic.Uint64
}

func NewMic(format Format, sink Sink, logger *slog.Logger) *Mic {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Mic{
		format: format,
		sink:   sink,
		log:    logger.With("component", "mic"),
	}
	m.pending = make([]int16, m.chunkFrames()*m.channels())
	return m
}

func (m *Mic) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dev != nil {
		return nil
	}

	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		m.log.Debug("mic: backend", "msg", msg)
	})
	if err != nil {
		return fmt.Errorf("mic: init context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(m.format.Channels)
	cfg.SampleRate = uint32(m.format.SampleRate)
	cfg.PeriodSizeInFrames = uint32(m.chunkFrames())
	cfg.Alsa.NoMMap = 1

	dev, err := malgo.InitDevice(ctx.Context, cfg, malgo.DeviceCallbacks{Data: m.onData})
	if err != nil {
		m.releaseContext(ctx)
		return fmt.Errorf("mic: init device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		m.releaseContext(ctx)
		return fmt.Errorf("mic: start device: %w", err)
	}

	m.ctx, m.dev = ctx, dev
	m.log.Info("mic: capture started",
		"sample_rate", m.format.SampleRate,
		"channels", m.format.Channels,
		"chunk_frames", m.chunkFrames())
	return nil
}

// onData runs on the driver's realtime thread. The driver picks the period
// size, so samples are collected in pending and pushed only as whole chunks of
// format.ChunkFrames. input is only valid until it returns. It never blocks or
// logs.
func (m *Mic) onData(_, input []byte, frameCount uint32) {
	n := int(frameCount) * m.channels()
	if len(input) < n*2 {
		n = len(input) / 2
	}
	// whole frames only
	n -= n % m.channels()
	m.frames.Add(uint64(n / m.channels()))

	for i := 0; i < n; {
		take := min(n-i, len(m.pending)-m.filled)
		for j := 0; j < take; j++ {
			m.pending[m.filled+j] = int16(binary.LittleEndian.Uint16(input[2*(i+j):]))
		}
		m.filled += take
		i += take
		if m.filled < len(m.pending) {
			break
		}

		samples := make([]int16, len(m.pending))
		copy(samples, m.pending)
		m.filled = 0
		ts := m.chunks.Add(1) - 1
		c := Chunk{Samples: samples, Format: m.format, Timestamp: ts * uint64(m.chunkFrames())}
		if !m.sink.Push(c) {
			m.dropped.Add(1)
		}
	}
}

func (m *Mic) chunkFrames() int {
	if m.format.ChunkFrames <= 0 {
		return DefaultChunkFrames
	}
	return m.format.ChunkFrames
}

func (m *Mic) channels() int {
	if m.format.Channels <= 0 {
		return 1
	}
	return m.format.Channels
}

// Stop halts and releases the device. It is safe to call when Start was
// never called or failed.
func (m *Mic) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dev != nil {
		if err := m.dev.Stop(); err != nil {
			m.log.Warn("mic: stop device failed", "error", err)
		}
		m.dev.Uninit()
		m.dev = nil
		// a partial chunk never reaches the sink
		m.filled = 0
	}
	if m.ctx != nil {
		m.releaseContext(m.ctx)
		m.ctx = nil
	}
	st := m.Stats()
	m.log.Info("mic: capture stopped", "chunks", st.Chunks, "dropped", st.Dropped)
}

func (m *Mic) releaseContext(ctx *malgo.AllocatedContext) {
	if err := ctx.Uninit(); err != nil {
		m.log.Warn("mic: release context failed", "error", err)
	}
	ctx.Free()
}

func (m *Mic) Stats() MicStats {
	return MicStats{
		Chunks:  m.chunks.Load(),
		Dropped: m.dropped.Load(),
		Frames:  m.frames.Load(),
	}
}
