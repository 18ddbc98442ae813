package camera

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

const DefaultFPS = 30

// Source identifies a capture device and the parameters requested from it.
// Device is either a numeric index ("0") or a URI/path understood by the device backend.
type Source struct {
	Device string  `yaml:"device"`
	Width  int     `yaml:"width"`
	Height int     `yaml:"height"`
	FPS    float64 `yaml:"fps"`
}

// Index reports the numeric device index, if Device is one.
func (s Source) Index() (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(s.Device))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// FrameInterval is the capture pacing period: zero fps means DefaultFPS and
// anything below 1 fps is clamped to 1 fps.
func (s Source) FrameInterval() time.Duration {
	fps := s.FPS
	if fps == 0 {
		fps = DefaultFPS
	}
	if fps < 1 {
		fps = 1
	}
	return time.Duration(float64(time.Second) / fps)
}

func (s Source) WithDevice(device string) Source {
	s.Device = device
	return s
}

func (s Source) String() string {
	return fmt.Sprintf("%s@%dx%d/%gfps", s.Device, s.Width, s.Height, s.FPS)
}
