// Package opencv binds camera.Device and camera.Encoder to OpenCV through gocv.
package opencv

import (
	"errors"
	"fmt"
	"math"
	"sync"

	"gocv.io/x/gocv"

	"strzcam.com/camstream/camera"
	"strzcam.com/camstream/frame"
)

var errEmptyFrame = errors.New("opencv: empty frame")

type Device struct {
	mu  sync.Mutex
	cap *gocv.VideoCapture
	img gocv.Mat
}

// Open opens a numeric camera index or any URI/path VideoCapture accepts.
func Open(src camera.Source) (camera.Device, error) {
	var target interface{} = src.Device
	if n, ok := src.Index(); ok {
		target = n
	}
	vc, err := gocv.OpenVideoCapture(target)
	if err != nil {
		return nil, err
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("opencv: %s not opened", src.Device)
	}
	return &Device{cap: vc, img: gocv.NewMat()}, nil
}

func (d *Device) Read() (*frame.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if ok := d.cap.Read(&d.img); !ok || d.img.Empty() {
		return nil, errEmptyFrame
	}
	if d.img.Channels() != 3 {
		return nil, fmt.Errorf("opencv: unexpected %d channels", d.img.Channels())
	}
	return &frame.Frame{
		Data:   d.img.ToBytes(),
		Format: frame.FormatBGR24,
		Width:  d.img.Cols(),
		Height: d.img.Rows(),
	}, nil
}

// Set applies a capture property and reads it back; drivers silently ignore
// values they do not support.
func (d *Device) Set(p camera.Property, v float64) error {
	prop, ok := properties[p]
	if !ok {
		return fmt.Errorf("opencv: unsupported property %s", p)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cap.Set(prop, v)
	if got := d.cap.Get(prop); math.Abs(got-v) > 0.5 {
		return fmt.Errorf("opencv: %s requested %g, device reports %g", p, v, got)
	}
	return nil
}

var properties = map[camera.Property]gocv.VideoCaptureProperties{
	camera.PropWidth:  gocv.VideoCaptureFrameWidth,
	camera.PropHeight: gocv.VideoCaptureFrameHeight,
	camera.PropFPS:    gocv.VideoCaptureFPS,
}

func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	imgErr := d.img.Close()
	return errors.Join(d.cap.Close(), imgErr)
}

// Encoder produces JPEG with OpenCV's encoder.
type Encoder struct {
	Quality int
}

func (e Encoder) Encode(raw *frame.Frame) ([]byte, error) {
	if raw == nil || raw.Format != frame.FormatBGR24 {
		return nil, frame.ErrNotRaw
	}
	mat, err := gocv.NewMatFromBytes(raw.Height, raw.Width, gocv.MatTypeCV8UC3, raw.Data)
	if err != nil {
		return nil, err
	}
	defer mat.Close()

	q := e.Quality
	if q <= 0 {
		q = camera.DefaultJPEGQuality
	}
	buf, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, mat, []int{gocv.IMWriteJpegQuality, q})
	if err != nil {
		return nil, err
	}
	defer buf.Close()

	b := buf.GetBytes()
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}
