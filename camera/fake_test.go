package camera

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"strzcam.com/camstream/frame"
)

// fakeDevice produces 4x2 frames whose first byte is the device tag.
type fakeDevice struct {
	tag      byte
	failures atomic.Int32
	reads    atomic.Int64
	closed   atomic.Int32

	mu  sync.Mutex
	set map[Property]float64
	bad Property
}

func newFakeDevice(tag byte) *fakeDevice {
	return &fakeDevice{tag: tag, set: map[Property]float64{}, bad: -1}
}

func (d *fakeDevice) Read() (*frame.Frame, error) {
	d.reads.Add(1)
	if d.failures.Load() > 0 {
		d.failures.Add(-1)
		return nil, errors.New("no frame")
	}
	data := make([]byte, 4*2*3)
	data[0] = d.tag
	return &frame.Frame{Data: data, Format: frame.FormatBGR24, Width: 4, Height: 2}, nil
}

func (d *fakeDevice) Close() error {
	d.closed.Add(1)
	return nil
}

func (d *fakeDevice) Set(p Property, v float64) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if p == d.bad {
		return errors.New("unsupported")
	}
	d.set[p] = v
	return nil
}

type fakeOpener struct {
	mu      sync.Mutex
	devices map[string]*fakeDevice
	fail    map[string]bool
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{devices: map[string]*fakeDevice{}, fail: map[string]bool{}}
}

func (o *fakeOpener) open(src Source) (Device, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.fail[src.Device] {
		return nil, errors.New("device busy")
	}
	d, ok := o.devices[src.Device]
	if !ok {
		tag := byte(0)
		if n, ok := src.Index(); ok {
			tag = byte(n)
		}
		d = newFakeDevice(tag)
		o.devices[src.Device] = d
	}
	return d, nil
}

func (o *fakeOpener) device(name string) *fakeDevice {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.devices[name]
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(2 * time.Millisecond)
	}
}
