// Package server exposes the camera over HTTP: the MJPEG stream, source
// switching, operator messages and commands, and WebRTC signaling.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"strzcam.com/camstream/camera"
	"strzcam.com/camstream/control"
	"strzcam.com/camstream/frame"
	"strzcam.com/camstream/stream"
	"strzcam.com/camstream/web_rtc"
)

const DefaultShutdownTimeout = 5 * time.Second

// Camera is the handle request handlers use to reach the active capture
// engine. camera.Manager implements it.
type Camera interface {
	frame.Source
	SwitchSource(src camera.Source) error
	Source() (camera.Source, bool)
	Stats() (camera.Stats, error)
}

type Options struct {
	Camera Camera
	// DefaultSource gives /switch its geometry while no camera is running.
	DefaultSource camera.Source
	Stream        *stream.Broadcaster
	Answerer      web_rtc.Answerer
	Sessions      *web_rtc.Registry
	Publisher     control.Publisher
	// Relay, when set, is mounted at RelayPath.
	Relay     RelayHandler
	RelayPath string
	Logger    *slog.Logger
}

type RelayHandler interface {
	http.Handler
	Peers() int64
}

type Server struct {
	opts Options
	mux  *http.ServeMux
	log  *slog.Logger
}

func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Publisher == nil {
		opts.Publisher = control.LogPublisher{Logger: opts.Logger}
	}
	if opts.Stream == nil {
		opts.Stream = stream.New(opts.Camera, 0, 0, opts.Logger)
	}
	s := &Server{
		opts: opts,
		mux:  http.NewServeMux(),
		log:  opts.Logger.With("component", "http"),
	}
	s.PrepareEndpoints()
	return s
}

func (s *Server) PrepareEndpoints() {
	s.mux.HandleFunc("GET /{$}", s.index)
	s.mux.Handle("GET /stream", s.opts.Stream)
	s.mux.HandleFunc("GET /snapshot", s.snapshot)
	s.mux.HandleFunc("GET /health", s.health)
	s.mux.HandleFunc("GET /switch", s.switchSource)
	s.mux.HandleFunc("POST /message", s.message)
	s.mux.HandleFunc("POST /command", s.command)
	s.mux.HandleFunc("POST /rtc/offer", s.offer)
	if s.opts.Answerer != nil {
		s.mux.Handle("GET /rtc/ws", web_rtc.NewSignalingHandler(s.opts.Answerer, s.opts.Sessions, s.opts.Logger))
	}
	if s.opts.Relay != nil {
		path := s.opts.RelayPath
		if path == "" {
			path = "/p2p/frames"
		}
		s.mux.Handle("GET "+path, s.opts.Relay)
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	setCORSHeaders(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	s.mux.ServeHTTP(w, r)
}

// Start serves on addr until ctx is done, then shuts down gracefully. Open
// MJPEG streams end when their request contexts are cancelled.
func (s *Server) Start(ctx context.Context, addr string, shutdownTimeout time.Duration) error {
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info("http: listening", "addr", addr)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("http: shutdown incomplete, closing", "error", err)
		srv.Close()
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
}
