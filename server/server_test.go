package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"strzcam.com/camstream/camera"
	"strzcam.com/camstream/control"
	"strzcam.com/camstream/frame"
	"strzcam.com/camstream/web_rtc"
)

type fakeCamera struct {
	*frame.Slot

	mu       sync.Mutex
	src      camera.Source
	switches []camera.Source
	failOpen bool
	noEngine bool
}

func newFakeCamera() *fakeCamera {
	return &fakeCamera{Slot: frame.NewSlot(), src: camera.Source{Device: "0", Width: 640, Height: 480, FPS: 30}}
}

func (c *fakeCamera) SwitchSource(src camera.Source) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failOpen {
		return fmt.Errorf("%w %s: busy", camera.ErrOpen, src.Device)
	}
	c.switches = append(c.switches, src)
	c.src = src
	c.noEngine = false
	return nil
}

func (c *fakeCamera) Source() (camera.Source, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.noEngine {
		return camera.Source{}, false
	}
	return c.src, true
}

func (c *fakeCamera) Stats() (camera.Stats, error) {
	if c.noEngine {
		return camera.Stats{}, camera.ErrNoEngine
	}
	src, _ := c.Source()
	return camera.Stats{Source: src, State: camera.StateRunning, Captured: 3}, nil
}

type fakeAnswerer struct {
	err    error
	offers []web_rtc.Offer
}

func (a *fakeAnswerer) Answer(_ context.Context, offer web_rtc.Offer, _ string) (web_rtc.Answer, error) {
	a.offers = append(a.offers, offer)
	if a.err != nil {
		return web_rtc.Answer{}, a.err
	}
	if offer.SDP == "" {
		return web_rtc.Answer{}, fmt.Errorf("%w: missing sdp", web_rtc.ErrInvalidOffer)
	}
	return web_rtc.Answer{SDP: "v=0 answer", Type: "answer", Session: "s-1"}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []control.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, ev control.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func do(t *testing.T, h http.Handler, method, target, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("decode %s %s: %v (%q)", method, target, err, rec.Body.String())
		}
	}
	return rec, out
}

func TestSwitch(t *testing.T) {
	tests := []struct {
		name     string
		target   string
		failOpen bool
		status   int
		want     map[string]any
		device   string
	}{
		{name: "integer", target: "/switch?src=2", status: 200, want: map[string]any{"ok": true, "src": float64(2)}, device: "2"},
		{name: "default", target: "/switch", status: 200, want: map[string]any{"ok": true, "src": float64(0)}, device: "0"},
		{name: "not an integer", target: "/switch?src=abc", status: 400, want: map[string]any{"ok": false, "error": "src must be an integer"}},
		{name: "open fails", target: "/switch?src=5", failOpen: true, status: 500},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cam := newFakeCamera()
			cam.failOpen = tc.failOpen
			s := New(Options{Camera: cam})

			rec, body := do(t, s, http.MethodGet, tc.target, "")
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d (%s)", rec.Code, tc.status, rec.Body)
			}
			for k, v := range tc.want {
				if body[k] != v {
					t.Fatalf("%s = %v, want %v", k, body[k], v)
				}
			}
			if tc.device == "" {
				if len(cam.switches) != 0 {
					t.Fatalf("source changed: %+v", cam.switches)
				}
				if src, _ := cam.Source(); src.Device != "0" {
					t.Fatalf("device = %q", src.Device)
				}
				return
			}
			if len(cam.switches) != 1 || cam.switches[0].Device != tc.device {
				t.Fatalf("switches = %+v", cam.switches)
			}
			if cam.switches[0].Width != 640 || cam.switches[0].FPS != 30 {
				t.Fatalf("switch lost acquisition params: %+v", cam.switches[0])
			}
		})
	}
}

func TestSwitchWithoutCameraUsesDefaultSource(t *testing.T) {
	cam := newFakeCamera()
	cam.noEngine = true
	def := camera.Source{Device: "0", Width: 1280, Height: 720, FPS: 15}
	s := New(Options{Camera: cam, DefaultSource: def})

	rec, _ := do(t, s, http.MethodGet, "/switch?src=3", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body)
	}
	if want := def.WithDevice("3"); len(cam.switches) != 1 || cam.switches[0] != want {
		t.Fatalf("switches = %+v, want [%+v]", cam.switches, want)
	}
}

func TestMessage(t *testing.T) {
	tests := []struct {
		body   string
		status int
		err    string
	}{
		{body: `{"text":"hello"}`, status: 200},
		{body: `{"text":"  "}`, status: 400, err: "Missing 'text'"},
		{body: `{"text":3}`, status: 400, err: "Missing 'text'"},
		{body: `{}`, status: 400, err: "Missing 'text'"},
		{body: `{"text":`, status: 400, err: "Invalid JSON"},
		{body: `[1]`, status: 400, err: "Invalid JSON"},
	}
	s := New(Options{Camera: newFakeCamera()})
	for _, tc := range tests {
		t.Run(tc.body, func(t *testing.T) {
			rec, body := do(t, s, http.MethodPost, "/message", tc.body)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			if tc.err != "" && body["error"] != tc.err {
				t.Fatalf("error = %v, want %q", body["error"], tc.err)
			}
			if tc.err == "" && body["ok"] != true {
				t.Fatalf("body = %v", body)
			}
		})
	}
}

func TestCommand(t *testing.T) {
	tests := []struct {
		body   string
		status int
		cmd    string
	}{
		{body: `{"cmd":"Stop"}`, status: 200, cmd: "Stop"},
		{body: `{"cmd":"Handshake"}`, status: 200, cmd: "Handshake"},
		{body: `{"cmd":"Up"}`, status: 400},
		{body: `{"cmd":"stop"}`, status: 400},
		{body: `{"cmd":1}`, status: 400},
		{body: `{}`, status: 400},
		{body: `nope`, status: 400},
	}
	for _, tc := range tests {
		t.Run(tc.body, func(t *testing.T) {
			pub := &recordingPublisher{}
			s := New(Options{Camera: newFakeCamera(), Publisher: pub})
			rec, body := do(t, s, http.MethodPost, "/command", tc.body)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d", rec.Code, tc.status)
			}
			if tc.status != 200 {
				if body["ok"] != false || body["error"] == "" {
					t.Fatalf("body = %v", body)
				}
				if len(pub.events) != 0 {
					t.Fatalf("rejected command was published: %+v", pub.events)
				}
				return
			}
			if body["ok"] != true || body["cmd"] != tc.cmd {
				t.Fatalf("body = %v", body)
			}
			if len(pub.events) != 1 || string(pub.events[0].Cmd) != tc.cmd {
				t.Fatalf("events = %+v", pub.events)
			}
		})
	}
}

func TestCommandPublisherFailureStillSucceeds(t *testing.T) {
	pub := &recordingPublisher{err: errors.New("broker down")}
	s := New(Options{Camera: newFakeCamera(), Publisher: pub})
	rec, body := do(t, s, http.MethodPost, "/command", `{"cmd":"Left"}`)
	if rec.Code != 200 || body["cmd"] != "Left" {
		t.Fatalf("status = %d body = %v", rec.Code, body)
	}
}

func TestOffer(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{name: "answered", body: `{"sdp":"v=0","type":"offer"}`, status: 200},
		{name: "empty object", body: `{}`, status: 400},
		{name: "malformed", body: `{"sdp":`, status: 400},
		{name: "timeout", body: `{"sdp":"v=0","type":"offer"}`, err: web_rtc.ErrNegotiationTimeout, status: 504},
		{name: "internal", body: `{"sdp":"v=0","type":"offer"}`, err: errors.New("ice failed"), status: 500},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			a := &fakeAnswerer{err: tc.err}
			s := New(Options{Camera: newFakeCamera(), Answerer: a, Sessions: web_rtc.NewRegistry(nil)})
			rec, body := do(t, s, http.MethodPost, "/rtc/offer", tc.body)
			if rec.Code != tc.status {
				t.Fatalf("status = %d, want %d (%v)", rec.Code, tc.status, body)
			}
			if tc.status == 200 {
				if body["sdp"] != "v=0 answer" || body["type"] != "answer" || body["session"] != "s-1" {
					t.Fatalf("body = %v", body)
				}
				return
			}
			if body["ok"] != false {
				t.Fatalf("body = %v", body)
			}
		})
	}
}

func TestOfferWithoutWebRTC(t *testing.T) {
	s := New(Options{Camera: newFakeCamera()})
	rec, _ := do(t, s, http.MethodPost, "/rtc/offer", `{"sdp":"v=0","type":"offer"}`)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestSnapshot(t *testing.T) {
	cam := newFakeCamera()
	s := New(Options{Camera: cam})

	rec, body := do(t, s, http.MethodGet, "/snapshot", "")
	if rec.Code != http.StatusNotFound || body["ok"] != false {
		t.Fatalf("before first frame: %d %v", rec.Code, body)
	}

	cam.Publish(frame.Encoded, &frame.Frame{Data: []byte("jpeg"), Format: frame.FormatJPEG, Seq: 1})
	rec, _ = do(t, s, http.MethodGet, "/snapshot", "")
	if rec.Code != 200 || rec.Body.String() != "jpeg" || rec.Header().Get("Content-Type") != "image/jpeg" {
		t.Fatalf("snapshot = %d %q %q", rec.Code, rec.Header().Get("Content-Type"), rec.Body)
	}
}

func TestHealth(t *testing.T) {
	cam := newFakeCamera()
	s := New(Options{Camera: cam, Sessions: web_rtc.NewRegistry(nil)})
	rec, body := do(t, s, http.MethodGet, "/health", "")
	if rec.Code != 200 || body["ok"] != true {
		t.Fatalf("health = %d %v", rec.Code, body)
	}
	c, _ := body["camera"].(map[string]any)
	if c["state"] != "running" || c["source"] != "0" || c["captured"] != float64(3) {
		t.Fatalf("camera = %v", c)
	}

	cam.noEngine = true
	rec, body = do(t, s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable || body["ok"] != false {
		t.Fatalf("health without engine = %d %v", rec.Code, body)
	}
}

func TestCORSAndPreflight(t *testing.T) {
	s := New(Options{Camera: newFakeCamera()})
	rec, _ := do(t, s, http.MethodOptions, "/command", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header on preflight")
	}
	rec, _ = do(t, s, http.MethodPost, "/message", `{"text":"x"}`)
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header")
	}
	rec, _ = do(t, s, http.MethodPost, "/stream", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("POST /stream = %d", rec.Code)
	}
}

func TestIndex(t *testing.T) {
	s := New(Options{Camera: newFakeCamera()})
	rec, _ := do(t, s, http.MethodGet, "/", "")
	if rec.Code != 200 || !strings.Contains(rec.Body.String(), `src="/stream"`) {
		t.Fatalf("index = %d", rec.Code)
	}
	rec, _ = do(t, s, http.MethodGet, "/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown path = %d", rec.Code)
	}
}

func TestStreamEndsWithRequest(t *testing.T) {
	cam := newFakeCamera()
	cam.Publish(frame.Encoded, &frame.Frame{Data: []byte("abc"), Format: frame.FormatJPEG, Seq: 1})
	s := New(Options{Camera: cam})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		s.ServeHTTP(rec, req)
		close(done)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream handler did not return after cancel")
	}
	if !strings.Contains(rec.Body.String(), "--frame") {
		t.Fatalf("body = %q", rec.Body.String())
	}
}
