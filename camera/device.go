package camera

import (
	"bytes"
	"image/jpeg"

	"strzcam.com/camstream/frame"
)

// Device is an open capture handle. Read returns one BGR24 frame per call and
// may block until the hardware delivers it.
type Device interface {
	Read() (*frame.Frame, error)
	Close() error
}

type Property int8

const (
	PropWidth Property = iota
	PropHeight
	PropFPS
)

func (p Property) String() string {
	switch p {
	case PropWidth:
		return "width"
	case PropHeight:
		return "height"
	case PropFPS:
		return "fps"
	}
	return "unknown"
}

// Tunable devices accept acquisition parameters after opening.
type Tunable interface {
	Set(p Property, v float64) error
}

type Opener func(src Source) (Device, error)

type Encoder interface {
	Encode(raw *frame.Frame) ([]byte, error)
}

// JPEGEncoder encodes with image/jpeg. Backends with a native encoder
// provide their own Encoder.
type JPEGEncoder struct {
	Quality int
}

func (e JPEGEncoder) Encode(raw *frame.Frame) ([]byte, error) {
	img, err := frame.ToYCbCr(raw)
	if err != nil {
		return nil, err
	}
	q := e.Quality
	if q <= 0 {
		q = DefaultJPEGQuality
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: q}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
