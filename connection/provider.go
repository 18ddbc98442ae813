package connection

import (
	"context"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"strzcam.com/camstream/frame"
	"strzcam.com/camstream/stream"
)

const (
	DefaultPath    = "/p2p/frames"
	DefaultBacklog = 30
	writeTimeout   = 5 * time.Second
)

// Provider pushes every new encoded frame to connected relays over a
// websocket, one binary message per frame. While Run is active it also keeps
// the last few frames so a relay that connects gets a short history first.
type Provider struct {
	frames   *stream.Broadcaster
	recent   *backlog
	upgrader websocket.Upgrader
	log      *slog.Logger

	peers atomic.Int64
	sent  atomic.Uint64
}

func NewProvider(src frame.Source, pollInterval time.Duration, backlogSize int, logger *slog.Logger) *Provider {
	if logger == nil {
		logger = slog.Default()
	}
	log := logger.With("component", "relay-provider")
	return &Provider{
		frames: stream.New(src, pollInterval, 0, logger),
		recent: newBacklog(max(backlogSize, 0)),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: log,
	}
}

// Run records frames into the backlog until ctx is done.
func (p *Provider) Run(ctx context.Context) error {
	feed := p.frames.Subscribe()
	defer feed.Close()
	defer p.recent.Clear()
	for {
		f, err := feed.Next(ctx)
		if err != nil {
			return err
		}
		p.recent.Add(f)
	}
}

func (p *Provider) Peers() int64 { return p.peers.Load() }

func (p *Provider) FramesSent() uint64 { return p.sent.Load() }

func (p *Provider) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := p.upgrader.Upgrade(w, r, nil)
	if err != nil {
		p.log.Warn("relay: upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	log := p.log.With("peer", id, "remote", r.RemoteAddr)
	p.peers.Add(1)
	defer p.peers.Add(-1)
	log.Info("relay: peer connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// the peer never sends data; reading notices when it goes away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	var n, lastSeq uint64
	send := func(f *frame.Frame) bool {
		conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteMessage(websocket.BinaryMessage, PutTimestamped(f.Captured, f.Data)); err != nil {
			log.Debug("relay: write failed", "error", err)
			return false
		}
		lastSeq = f.Seq
		n++
		p.sent.Add(1)
		return true
	}

	feed := p.frames.Subscribe()
	defer feed.Close()
	ok := true
	for _, f := range p.recent.All() {
		if ok = send(f); !ok {
			break
		}
	}
	for ok {
		f, err := feed.Next(ctx)
		if err != nil {
			break
		}
		if n > 0 && f.Seq <= lastSeq {
			continue
		}
		ok = send(f)
	}
	log.Info("relay: peer disconnected", "frames", n)
}
