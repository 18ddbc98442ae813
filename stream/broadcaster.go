// Package stream serves the latest encoded frame to HTTP viewers as a
// multipart/x-mixed-replace (MJPEG) stream.
package stream

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"sync/atomic"
	"time"

	"strzcam.com/camstream/frame"
	"strzcam.com/camstream/internal/pace"
)

const (
	Boundary            = "frame"
	DefaultPollInterval = 10 * time.Millisecond
)

type Broadcaster struct {
	src          frame.Source
	pollInterval time.Duration
	minInterval  time.Duration
	log          *slog.Logger

	viewers atomic.Int64
	served  atomic.Uint64
}

// New returns a broadcaster reading encoded frames from src. minInterval is
// the shortest gap between two parts sent to one viewer; zero disables it.
func New(src frame.Source, pollInterval, minInterval time.Duration, logger *slog.Logger) *Broadcaster {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		src:          src,
		pollInterval: pollInterval,
		minInterval:  minInterval,
		log:          logger.With("component", "stream"),
	}
}

// Feed is one viewer's cursor over the frame source.
type Feed struct {
	b        *Broadcaster
	lastSeq  uint64
	lastSent time.Time
	closed   bool
}

func (b *Broadcaster) Subscribe() *Feed {
	b.viewers.Add(1)
	return &Feed{b: b}
}

// Next blocks until an encoded frame newer than the last one returned is
// available, then returns it. It only fails when ctx is done.
func (f *Feed) Next(ctx context.Context) (*frame.Frame, error) {
	if f.b.minInterval > 0 && !f.lastSent.IsZero() {
		if wait := f.b.minInterval - time.Since(f.lastSent); wait > 0 {
			if err := pace.Sleep(ctx, wait); err != nil {
				return nil, err
			}
		}
	}
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		fr, ok := f.b.src.Read(frame.Encoded)
		if ok && fr.Seq != f.lastSeq {
			f.lastSeq = fr.Seq
			f.lastSent = time.Now()
			return fr, nil
		}
		if err := pace.Sleep(ctx, f.b.pollInterval); err != nil {
			return nil, err
		}
	}
}

func (f *Feed) Close() {
	if f.closed {
		return
	}
	f.closed = true
	f.b.viewers.Add(-1)
}

func (b *Broadcaster) Viewers() int64 { return b.viewers.Load() }

func (b *Broadcaster) FramesServed() uint64 { return b.served.Load() }

// Serve writes parts to w until ctx is done or a write fails. flush, if not
// nil, is called after every part.
func (b *Broadcaster) Serve(ctx context.Context, w io.Writer, flush func()) error {
	feed := b.Subscribe()
	defer feed.Close()

	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(Boundary); err != nil {
		return err
	}
	for {
		fr, err := feed.Next(ctx)
		if err != nil {
			return err
		}
		if err := writeJPEGFrame(mw, fr.Data); err != nil {
			return err
		}
		if flush != nil {
			flush()
		}
		b.served.Add(1)
	}
}

func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+Boundary)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusOK)

	var flush func()
	if flusher, ok := w.(http.Flusher); ok {
		flush = flusher.Flush
	}

	b.log.Debug("stream: viewer connected", "remote", r.RemoteAddr, "viewers", b.Viewers()+1)
	err := b.Serve(r.Context(), w, flush)
	if err != nil && r.Context().Err() == nil {
		b.log.Info("stream: viewer write failed", "remote", r.RemoteAddr, "error", err)
	}
	b.log.Debug("stream: viewer disconnected", "remote", r.RemoteAddr, "viewers", b.Viewers())
}

func writeJPEGFrame(mw *multipart.Writer, data []byte) error {
	header := textproto.MIMEHeader{}
	header.Set("Content-Type", "image/jpeg")
	header.Set("Content-Length", strconv.Itoa(len(data)))

	part, err := mw.CreatePart(header)
	if err != nil {
		return fmt.Errorf("stream: create part: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("stream: write part: %w", err)
	}
	return nil
}
