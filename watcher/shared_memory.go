// Package watcher reads frames that another process drops into a shared
// memory file. Each write replaces the whole file with one record:
//
//	byte 0     detection class as int8, -1 when nothing was detected
//	bytes 1-4  payload length, little endian uint32
//	bytes 5-   JPEG payload
//
// A Receiver is a camera.Device, so "shm:<name>" works anywhere a camera
// index or URL does.
package watcher

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"image/jpeg"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"strzcam.com/camstream/camera"
	"strzcam.com/camstream/frame"
	"strzcam.com/camstream/internal/pace"
)

const (
	SourcePrefix       = "shm:"
	DefaultDir         = "/dev/shm"
	DefaultWaitTimeout = 500 * time.Millisecond
	headerSize         = 5
)

var (
	ErrNoFrame    = errors.New("watcher: no valid shared memory file found")
	ErrShortFrame = errors.New("watcher: invalid frame data: too short")
	ErrClosed     = errors.New("watcher: receiver closed")
)

// Name reports the shared memory name of an "shm:<name>" device string.
func Name(device string) (string, bool) {
	name, ok := strings.CutPrefix(device, SourcePrefix)
	if !ok || name == "" {
		return "", false
	}
	return name, true
}

// ParseRecord splits one shared memory record into its payload and
// detection class.
func ParseRecord(data []byte) ([]byte, int, error) {
	if len(data) < headerSize {
		return nil, -1, ErrShortFrame
	}
	detected := int(int8(data[0]))
	n := binary.LittleEndian.Uint32(data[1:headerSize])
	if uint64(n) > uint64(len(data)-headerSize) {
		return nil, -1, fmt.Errorf("%w: header says %d bytes, have %d", ErrShortFrame, n, len(data)-headerSize)
	}
	return data[headerSize : headerSize+int(n)], detected, nil
}

// Opener routes "shm:" sources to a Receiver rooted at dir and everything
// else to next.
func Opener(dir string, next camera.Opener, logger *slog.Logger) camera.Opener {
	return func(src camera.Source) (camera.Device, error) {
		name, ok := Name(src.Device)
		if !ok {
			if next == nil {
				return nil, fmt.Errorf("watcher: no opener for %q", src.Device)
			}
			return next(src)
		}
		r, err := NewReceiver(dir, name, logger)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
}

type Receiver struct {
	path    string
	timeout time.Duration
	watcher *fsnotify.Watcher
	log     *slog.Logger

	changed   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	last       []byte
	frames     atomic.Uint64
	detections atomic.Uint64
	lastErrLog atomic.Int64
}

// NewReceiver watches dir for writes to name. The first Read returns
// whatever the file holds; later reads wait for the next write.
func NewReceiver(dir, name string, logger *slog.Logger) (*Receiver, error) {
	if dir == "" {
		dir = DefaultDir
	}
	if logger == nil {
		logger = slog.Default()
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, fmt.Errorf("watcher: watch %s: %w", dir, err)
	}
	r := &Receiver{
		path:    filepath.Join(dir, name),
		timeout: DefaultWaitTimeout,
		watcher: w,
		log:     logger.With("component", "shm", "path", filepath.Join(dir, name)),
		changed: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	r.changed <- struct{}{}

	r.wg.Add(1)
	go r.watch()
	return r, nil
}

func (r *Receiver) watch() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			return
		case ev, ok := <-r.watcher.Events:
			if !ok {
				return
			}
			if ev.Name != r.path || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			select {
			case r.changed <- struct{}{}:
			default:
			}
		case err, ok := <-r.watcher.Errors:
			if !ok {
				return
			}
			if pace.ShouldLog(&r.lastErrLog, time.Second) {
				r.log.Warn("shm: watcher error", "error", err)
			}
		}
	}
}

func (r *Receiver) readRecord() ([]byte, int, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, -1, ErrNoFrame
	}
	if err != nil {
		return nil, -1, err
	}
	return ParseRecord(data)
}

// Read waits for the producer to write a new record and decodes it. Writes
// that repeat the previous payload are skipped, since one write often fires
// more than one event. A record caught mid-write is retried on the next
// event.
func (r *Receiver) Read() (*frame.Frame, error) {
	t := time.NewTimer(r.timeout)
	defer t.Stop()
	var lastErr error
	for {
		select {
		case <-r.done:
			return nil, ErrClosed
		case <-t.C:
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, fmt.Errorf("%w within %v", ErrNoFrame, r.timeout)
		case <-r.changed:
		}

		// the producer may still be writing
		time.Sleep(time.Millisecond)
		f, err := r.decode()
		if err != nil {
			lastErr = err
			continue
		}
		if f != nil {
			return f, nil
		}
	}
}

// decode returns nil without error when the payload has not changed.
func (r *Receiver) decode() (*frame.Frame, error) {
	payload, detected, err := r.readRecord()
	if err != nil {
		return nil, err
	}
	if bytes.Equal(payload, r.last) {
		return nil, nil
	}
	img, err := jpeg.Decode(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("watcher: decode frame: %w", err)
	}
	r.last = payload
	r.frames.Add(1)
	if detected != -1 {
		r.detections.Add(1)
		r.log.Debug("shm: frame with detection", "class", detected, "bytes", len(payload))
	}
	return frame.FromImage(img), nil
}

// Detections counts frames whose record carried a detection class.
func (r *Receiver) Detections() uint64 { return r.detections.Load() }

func (r *Receiver) Frames() uint64 { return r.frames.Load() }

func (r *Receiver) Close() error {
	var err error
	r.closeOnce.Do(func() {
		close(r.done)
		err = r.watcher.Close()
		r.wg.Wait()
	})
	return err
}
