package web_rtc

import (
	"context"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/io/video"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	"strzcam.com/camstream/frame"
	"strzcam.com/camstream/internal/pace"
)

const (
	DefaultFillerWidth  = 640
	DefaultFillerHeight = 480
	DefaultVideoFPS     = 30
)

type VideoFrame struct {
	Image  image.Image
	PTS    time.Duration
	Seq    uint64
	Filler bool
}

// VideoSource adapts the shared raw frame to one peer's encoder. It never
// fails for lack of data: a missing frame becomes a black filler image.
type VideoSource struct {
	src      frame.Source
	interval time.Duration
	fillerW  int
	fillerH  int
	now      func() time.Time
	ctx      context.Context

	mu      sync.Mutex
	start   time.Time
	lastPTS time.Duration
	filler  *image.YCbCr

	fillers atomic.Uint64
}

func NewVideoSource(src frame.Source, fps, fillerW, fillerH int) *VideoSource {
	if fps <= 0 {
		fps = DefaultVideoFPS
	}
	if fillerW <= 0 || fillerH <= 0 {
		fillerW, fillerH = DefaultFillerWidth, DefaultFillerHeight
	}
	return &VideoSource{
		src:      src,
		interval: time.Second / time.Duration(fps),
		fillerW:  fillerW,
		fillerH:  fillerH,
		now:      time.Now,
		ctx:      context.Background(),
	}
}

// Next returns the latest raw frame as YCbCr. When none is available it waits
// one frame interval, tries again, and then falls back to the filler.
func (v *VideoSource) Next(ctx context.Context) (VideoFrame, error) {
	f, ok := v.src.Read(frame.Raw)
	if !ok {
		if err := pace.Sleep(ctx, v.interval); err != nil {
			return VideoFrame{}, err
		}
		f, ok = v.src.Read(frame.Raw)
	}

	out := VideoFrame{}
	if ok {
		if img, err := frame.ToYCbCr(f); err == nil {
			out.Image, out.Seq = img, f.Seq
		}
	}
	if out.Image == nil {
		out.Image = v.fillerImage()
		out.Filler = true
		v.fillers.Add(1)
	}
	out.PTS = v.nextPTS()
	return out, nil
}

func (v *VideoSource) fillerImage() *image.YCbCr {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.filler == nil {
		v.filler, _ = frame.ToYCbCr(frame.Black(v.fillerW, v.fillerH))
	}
	return v.filler
}

// nextPTS measures time since the first frame on the source's own clock and
// keeps it strictly increasing.
func (v *VideoSource) nextPTS() time.Duration {
	v.mu.Lock()
	defer v.mu.Unlock()
	now := v.now()
	if v.start.IsZero() {
		v.start = now
		v.lastPTS = 0
		return 0
	}
	pts := now.Sub(v.start)
	if pts <= v.lastPTS {
		pts = v.lastPTS + time.Microsecond
	}
	v.lastPTS = pts
	return pts
}

// Read implements the mediadevices video.Reader contract.
func (v *VideoSource) Read() (image.Image, func(), error) {
	f, err := v.Next(v.ctx)
	if err != nil {
		return nil, func() {}, err
	}
	return f.Image, func() {}, nil
}

func (v *VideoSource) Fillers() uint64 { return v.fillers.Load() }

type VideoOptions struct {
	FPS              int
	BitRate          int
	KeyFrameInterval int
	FillerWidth      int
	FillerHeight     int
}

// NewVideoTrack builds a VP8 track fed by src and paced at opts.FPS.
func NewVideoTrack(id string, src frame.Source, opts VideoOptions, logger *slog.Logger) (*Track, error) {
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
		"video",
		"camstream-video-"+id,
	)
	if err != nil {
		return nil, err
	}

	source := NewVideoSource(src, opts.FPS, opts.FillerWidth, opts.FillerHeight)
	ctx, cancel := context.WithCancel(context.Background())
	source.ctx = ctx

	params, err := vpx.NewVP8Params()
	if err != nil {
		cancel()
		return nil, err
	}
	params.BitRate = opts.BitRate
	params.KeyFrameInterval = opts.KeyFrameInterval

	enc, err := params.BuildVideoEncoder(video.Reader(source), prop.Media{
		Video: prop.Video{
			Width:     source.fillerW,
			Height:    source.fillerH,
			FrameRate: float32(time.Second / source.interval),
		},
	})
	if err != nil {
		cancel()
		return nil, err
	}
	return newTrack("video", local, enc, source.interval, true, ctx, cancel, logger), nil
}
