package audio

import "time"

const (
	DefaultSampleRate   = 48000
	DefaultChannels     = 1
	DefaultChunkFrames  = 960
	DefaultRingCapacity = 10
)

// Format describes the shape of every chunk on a capture path.
type Format struct {
	SampleRate  int `yaml:"sample_rate"`
	Channels    int `yaml:"channels"`
	ChunkFrames int `yaml:"chunk_samples"`
}

func DefaultFormat() Format {
	return Format{SampleRate: DefaultSampleRate, Channels: DefaultChannels, ChunkFrames: DefaultChunkFrames}
}

// ChunkDuration is the wall time covered by one full chunk.
func (f Format) ChunkDuration() time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(f.ChunkFrames) * time.Second / time.Duration(f.SampleRate)
}

// Chunk is a block of interleaved signed 16-bit samples. Timestamp counts
// sample frames since the start of the stream it belongs to.
type Chunk struct {
	Samples   []int16
	Format    Format
	Timestamp uint64
}

// Frames is the number of samples per channel.
func (c Chunk) Frames() int {
	if c.Format.Channels <= 0 {
		return len(c.Samples)
	}
	return len(c.Samples) / c.Format.Channels
}

func (c Chunk) Duration() time.Duration {
	if c.Format.SampleRate <= 0 {
		return 0
	}
	return time.Duration(c.Frames()) * time.Second / time.Duration(c.Format.SampleRate)
}

// Silence returns a zeroed chunk of the format's full size.
func Silence(f Format) Chunk {
	ch := f.Channels
	if ch <= 0 {
		ch = 1
	}
	return Chunk{Samples: make([]int16, f.ChunkFrames*ch), Format: f}
}

// Sink accepts chunks without blocking; false means the chunk was dropped.
type Sink interface {
	Push(c Chunk) bool
}
