package web_rtc

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/io/audio"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/mediadevices/pkg/wave"
	"github.com/pion/webrtc/v4"

	camaudio "strzcam.com/camstream/audio"
	"strzcam.com/camstream/internal/pace"
)

// AudioSource adapts one peer's ring to its encoder. A nil ring means there is
// no microphone: the source then produces silence at the chunk cadence.
type AudioSource struct {
	ring   *camaudio.Ring
	format camaudio.Format
	ctx    context.Context

	ts       uint64
	silences atomic.Uint64
}

func NewAudioSource(ring *camaudio.Ring, format camaudio.Format) *AudioSource {
	return &AudioSource{ring: ring, format: format, ctx: context.Background()}
}

// Next returns the next chunk, or silence when the ring stays empty for four
// chunk durations. Timestamps count every emitted sample frame, silence included.
// Next is not safe for concurrent use.
func (a *AudioSource) Next(ctx context.Context) (camaudio.Chunk, error) {
	var c camaudio.Chunk
	if a.ring == nil {
		if err := pace.Sleep(ctx, a.format.ChunkDuration()); err != nil {
			return camaudio.Chunk{}, err
		}
		c = camaudio.Silence(a.format)
		a.silences.Add(1)
	} else {
		got, ok := a.ring.Pop(ctx, 4*a.format.ChunkDuration())
		if err := ctx.Err(); err != nil {
			return camaudio.Chunk{}, err
		}
		if ok {
			c = got
		} else {
			c = camaudio.Silence(a.format)
			a.silences.Add(1)
		}
	}
	c.Timestamp = a.ts
	a.ts += uint64(c.Frames())
	return c, nil
}

// Read implements the mediadevices audio.Reader contract.
func (a *AudioSource) Read() (wave.Audio, func(), error) {
	c, err := a.Next(a.ctx)
	if err != nil {
		return nil, func() {}, err
	}
	channels := c.Format.Channels
	if channels <= 0 {
		channels = 1
	}
	w := wave.NewInt16Interleaved(wave.ChunkInfo{
		Len:          c.Frames(),
		Channels:     channels,
		SamplingRate: c.Format.SampleRate,
	})
	copy(w.Data, c.Samples)
	return w, func() {}, nil
}

func (a *AudioSource) Silences() uint64 { return a.silences.Load() }

type AudioOptions struct {
	Format  camaudio.Format
	BitRate int
}

// NewAudioTrack builds an Opus track fed by ring, which may be nil.
func NewAudioTrack(id string, ring *camaudio.Ring, opts AudioOptions, logger *slog.Logger) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"camstream-audio-"+id,
	)
	if err != nil {
		return nil, err
	}

	source := NewAudioSource(ring, opts.Format)
	ctx, cancel := context.WithCancel(context.Background())
	source.ctx = ctx

	params, err := opus.NewParams()
	if err != nil {
		cancel()
		return nil, err
	}
	if opts.BitRate > 0 {
		params.BitRate = opts.BitRate
	}

	enc, err := params.BuildAudioEncoder(audio.Reader(source), prop.Media{
		Audio: prop.Audio{
			SampleRate:   opts.Format.SampleRate,
			ChannelCount: opts.Format.Channels,
		},
	})
	if err != nil {
		cancel()
		return nil, err
	}
	return newTrack("audio", local, enc, opts.Format.ChunkDuration(), false, ctx, cancel, logger), nil
}
