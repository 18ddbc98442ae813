package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"strzcam.com/camstream/control"
	"strzcam.com/camstream/frame"
	"strzcam.com/camstream/web_rtc"
)

const (
	maxBodyBytes   = 1 << 20
	publishTimeout = 2 * time.Second
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"ok": false, "error": msg})
}

// decodeBody reads a JSON object. A body that is not an object is an error.
func decodeBody(r *http.Request, v any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func (s *Server) switchSource(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("src")
	if raw == "" {
		raw = "0"
	}
	idx, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, "src must be an integer")
		return
	}

	cur, ok := s.opts.Camera.Source()
	if !ok {
		cur = s.opts.DefaultSource
	}
	if err := s.opts.Camera.SwitchSource(cur.WithDevice(strconv.Itoa(idx))); err != nil {
		s.log.Error("http: switch failed", "src", idx, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "src": idx})
}

func (s *Server) message(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	text, _ := body["text"].(string)
	text = strings.TrimSpace(text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "Missing 'text'")
		return
	}
	s.log.Info("http: client message", "text", text, "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) command(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	raw, _ := body["cmd"].(string)
	if raw == "" {
		writeError(w, http.StatusBadRequest, "Missing 'cmd'")
		return
	}
	cmd, err := control.Parse(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown cmd %q", raw))
		return
	}

	s.log.Info("http: command", "cmd", cmd, "remote", r.RemoteAddr)
	ctx, cancel := context.WithTimeout(r.Context(), publishTimeout)
	defer cancel()
	if err := s.opts.Publisher.Publish(ctx, control.NewEvent(cmd, "http")); err != nil {
		s.log.Warn("http: command not forwarded", "cmd", cmd, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "cmd": cmd})
}

func (s *Server) offer(w http.ResponseWriter, r *http.Request) {
	if s.opts.Answerer == nil {
		writeError(w, http.StatusServiceUnavailable, "webrtc disabled")
		return
	}
	var offer web_rtc.Offer
	if err := decodeBody(r, &offer); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	answer, err := s.opts.Answerer.Answer(r.Context(), offer, r.RemoteAddr)
	switch {
	case err == nil:
	case errors.Is(err, web_rtc.ErrInvalidOffer):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, web_rtc.ErrNegotiationTimeout):
		s.log.Warn("http: offer timed out", "remote", r.RemoteAddr)
		writeError(w, http.StatusGatewayTimeout, err.Error())
		return
	default:
		s.log.Error("http: offer failed", "remote", r.RemoteAddr, "error", err)
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"sdp":     answer.SDP,
		"type":    answer.Type,
		"session": answer.Session,
	})
}

func (s *Server) snapshot(w http.ResponseWriter, r *http.Request) {
	f, ok := s.opts.Camera.Read(frame.Encoded)
	if !ok {
		writeError(w, http.StatusNotFound, "no frame captured yet")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Content-Length", strconv.Itoa(len(f.Data)))
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(http.StatusOK)
	w.Write(f.Data)
}

type cameraHealth struct {
	Source       string     `json:"source"`
	State        string     `json:"state"`
	Captured     uint64     `json:"captured"`
	ReadErrors   uint64     `json:"read_errors"`
	EncodeErrors uint64     `json:"encode_errors"`
	LastFrame    *time.Time `json:"last_frame,omitempty"`
}

type health struct {
	OK       bool          `json:"ok"`
	Camera   *cameraHealth `json:"camera,omitempty"`
	Viewers  int64         `json:"viewers"`
	Served   uint64        `json:"frames_served"`
	Sessions int           `json:"sessions"`
	Relays   int64         `json:"relays"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	h := health{
		OK:      true,
		Viewers: s.opts.Stream.Viewers(),
		Served:  s.opts.Stream.FramesServed(),
	}
	if st, err := s.opts.Camera.Stats(); err == nil {
		h.Camera = &cameraHealth{
			Source:       st.Source.Device,
			State:        st.State.String(),
			Captured:     st.Captured,
			ReadErrors:   st.ReadErrors,
			EncodeErrors: st.EncodeErrors,
		}
		if !st.LastFrame.IsZero() {
			h.Camera.LastFrame = &st.LastFrame
		}
	} else {
		h.OK = false
	}
	if s.opts.Sessions != nil {
		h.Sessions = s.opts.Sessions.Len()
	}
	if s.opts.Relay != nil {
		h.Relays = s.opts.Relay.Peers()
	}
	status := http.StatusOK
	if !h.OK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Camera Stream</title>
</head>
<body>
    <h1>Live Camera Stream</h1>
    <img src="/stream" alt="live stream">
    <form id="message">
        <input name="text" placeholder="message">
        <button>Send</button>
    </form>
    <div>
        <button data-cmd="Front">Front</button>
        <button data-cmd="Back">Back</button>
        <button data-cmd="Left">Left</button>
        <button data-cmd="Right">Right</button>
        <button data-cmd="Stop">Stop</button>
    </div>
    <script>
    const post = (url, body) => fetch(url, {method: "POST", headers: {"Content-Type": "application/json"}, body: JSON.stringify(body)});
    document.getElementById("message").onsubmit = (e) => {
        e.preventDefault();
        post("/message", {text: e.target.text.value});
        e.target.text.value = "";
    };
    document.querySelectorAll("[data-cmd]").forEach((b) => b.onclick = () => post("/command", {cmd: b.dataset.cmd}));
    </script>
</body>
</html>`

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	io.WriteString(w, indexHTML)
}
