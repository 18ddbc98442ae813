package web_rtc

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Session is one negotiated peer connection and the tracks feeding it.
type Session struct {
	ID      string
	Remote  string
	Created time.Time

	peer    closer
	tracks  []*Track
	cleanup []func()
	log     *slog.Logger
	once    sync.Once
}

func newSession(id, remote string, logger *slog.Logger) *Session {
	return &Session{
		ID:      id,
		Remote:  remote,
		Created: time.Now(),
		log:     logger.With("session", id),
	}
}

func (s *Session) addTrack(t *Track) { s.tracks = append(s.tracks, t) }

func (s *Session) onClose(fn func()) { s.cleanup = append(s.cleanup, fn) }

func (s *Session) startTracks() {
	for _, t := range s.tracks {
		t.Start()
	}
}

// Close stops the tracks, releases per-session resources and closes the peer
// connection. Failures are logged; Close is idempotent.
func (s *Session) Close() {
	s.once.Do(func() {
		for _, t := range s.tracks {
			t.Stop()
		}
		for _, fn := range s.cleanup {
			fn()
		}
		logClose(s.log, "peer connection", s.peer)
		s.log.Info("webrtc: session closed", "age", time.Since(s.Created).Round(time.Millisecond))
	})
}

type SessionInfo struct {
	ID      string    `json:"id"`
	Remote  string    `json:"remote,omitempty"`
	Created time.Time `json:"created"`
}

// Registry tracks live sessions so they can be torn down on disconnect or shutdown.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
	log      *slog.Logger
}

func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		sessions: make(map[string]*Session),
		log:      logger.With("component", "webrtc-registry"),
	}
}

func (r *Registry) Add(s *Session) {
	r.mu.Lock()
	prev := r.sessions[s.ID]
	r.sessions[s.ID] = s
	n := len(r.sessions)
	r.mu.Unlock()

	if prev != nil && prev != s {
		prev.Close()
	}
	r.log.Info("webrtc: session registered", "session", s.ID, "remote", s.Remote, "sessions", n)
}

// Remove unregisters and closes the session. It reports whether it was registered.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	n := len(r.sessions)
	r.mu.Unlock()

	if !ok {
		return false
	}
	s.Close()
	r.log.Info("webrtc: session removed", "session", id, "sessions", n)
	return true
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

func (r *Registry) List() []SessionInfo {
	r.mu.Lock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, SessionInfo{ID: s.ID, Remote: s.Remote, Created: s.Created})
	}
	r.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	if len(sessions) > 0 {
		r.log.Info("webrtc: closed all sessions", "count", len(sessions))
	}
}
