package web_rtc

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

type Answerer interface {
	Answer(ctx context.Context, offer Offer, remote string) (Answer, error)
}

// SignalingHandler carries offer/answer over a websocket for clients that
// prefer it to the JSON endpoint. A "bye" message closes the named session.
type SignalingHandler struct {
	answerer Answerer
	registry *Registry
	upgrader websocket.Upgrader
	log      *slog.Logger
}

func NewSignalingHandler(answerer Answerer, registry *Registry, logger *slog.Logger) *SignalingHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SignalingHandler{
		answerer: answerer,
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logger.With("component", "signaling"),
	}
}

func (h *SignalingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Info("signaling: upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	defer conn.Close()
	h.log.Debug("signaling: client connected", "remote", r.RemoteAddr)

	var writeMu sync.Mutex
	write := func(msg SignalingMessage) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := conn.WriteJSON(msg); err != nil {
			h.log.Debug("signaling: write failed", "remote", r.RemoteAddr, "error", err)
		}
	}

	var sessions []string
	defer func() {
		for _, id := range sessions {
			h.registry.Remove(id)
		}
	}()

	for {
		var msg SignalingMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Debug("signaling: read failed", "remote", r.RemoteAddr, "error", err)
			}
			return
		}
		switch msg.Type {
		case "offer":
			ans, err := h.answerer.Answer(r.Context(), Offer{SDP: msg.Sdp, Type: msg.Type}, r.RemoteAddr)
			if err != nil {
				write(SignalingMessage{Type: "error", Error: err.Error()})
				continue
			}
			sessions = append(sessions, ans.Session)
			write(SignalingMessage{Type: ans.Type, Sdp: ans.SDP, Session: ans.Session})
		case "bye":
			h.registry.Remove(msg.Session)
		default:
			write(SignalingMessage{Type: "error", Error: "unknown message type " + msg.Type})
		}
	}
}
