package web_rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v4"

	camaudio "strzcam.com/camstream/audio"
	"strzcam.com/camstream/frame"
)

const (
	DefaultOfferTimeout = 10 * time.Second
	ControlChannelLabel = "control"
)

var (
	ErrInvalidOffer       = errors.New("webrtc: invalid offer")
	ErrNegotiationTimeout = errors.New("webrtc: negotiation timed out")
	ErrPeerClosed         = errors.New("webrtc: peer connection closed during negotiation")
)

var DefaultICEServers = []webrtc.ICEServer{
	{URLs: []string{"stun:stun.l.google.com:19302"}},
}

type Offer struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

type Answer struct {
	SDP     string `json:"sdp"`
	Type    string `json:"type"`
	Session string `json:"session"`
}

type Config struct {
	ICEServers   []webrtc.ICEServer
	OfferTimeout time.Duration
	Video        VideoOptions
	Audio        AudioOptions
	RingCapacity int
}

// CommandFunc handles a command received on a peer's control data channel.
type CommandFunc func(cmd string) error

// Negotiator answers browser offers. Every answered offer gets its own peer
// connection with one video track over the shared frame source and one audio
// track over its own ring subscribed to the microphone fan-out.
type Negotiator struct {
	api       *webrtc.API
	cfg       Config
	video     frame.Source
	mic       *camaudio.Fanout
	registry  *Registry
	onCommand CommandFunc
	log       *slog.Logger
}

// NewNegotiator builds the WebRTC API. mic may be nil, in which case every
// peer receives silence.
func NewNegotiator(cfg Config, video frame.Source, mic *camaudio.Fanout, registry *Registry, logger *slog.Logger) (*Negotiator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OfferTimeout <= 0 {
		cfg.OfferTimeout = DefaultOfferTimeout
	}
	// nil means the defaults; an empty list gathers host candidates only
	if cfg.ICEServers == nil {
		cfg.ICEServers = DefaultICEServers
	}
	if cfg.Audio.Format.SampleRate == 0 {
		cfg.Audio.Format = camaudio.DefaultFormat()
	}

	m := &webrtc.MediaEngine{}
	if err := m.RegisterDefaultCodecs(); err != nil {
		return nil, fmt.Errorf("webrtc: register codecs: %w", err)
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(m, ir); err != nil {
		return nil, fmt.Errorf("webrtc: register interceptors: %w", err)
	}

	return &Negotiator{
		api:      webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(ir)),
		cfg:      cfg,
		video:    video,
		mic:      mic,
		registry: registry,
		log:      logger.With("component", "webrtc"),
	}, nil
}

// SetCommandHandler installs the handler for control channel commands.
// It must be called before the first Answer.
func (n *Negotiator) SetCommandHandler(fn CommandFunc) { n.onCommand = fn }

func ValidateOffer(o Offer) (webrtc.SessionDescription, error) {
	if strings.TrimSpace(o.SDP) == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: missing sdp", ErrInvalidOffer)
	}
	if o.Type == "" {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: missing type", ErrInvalidOffer)
	}
	if webrtc.NewSDPType(o.Type) != webrtc.SDPTypeOffer {
		return webrtc.SessionDescription{}, fmt.Errorf("%w: type %q is not an offer", ErrInvalidOffer, o.Type)
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: o.SDP}, nil
}

// Answer negotiates a new session, bounded by the offer timeout. On any
// failure the partially built peer connection is torn down and nothing is
// registered.
func (n *Negotiator) Answer(ctx context.Context, offer Offer, remote string) (Answer, error) {
	desc, err := ValidateOffer(offer)
	if err != nil {
		return Answer{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, n.cfg.OfferTimeout)
	defer cancel()

	id := uuid.NewString()
	sess := newSession(id, remote, n.log)
	registered := false
	defer func() {
		if !registered {
			sess.Close()
		}
	}()

	pc, err := n.api.NewPeerConnection(webrtc.Configuration{ICEServers: n.cfg.ICEServers})
	if err != nil {
		return Answer{}, fmt.Errorf("webrtc: new peer connection: %w", err)
	}
	sess.peer = pc

	if err := n.attachTracks(sess, pc); err != nil {
		return Answer{}, err
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		n.handleDataChannel(sess, dc)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		sess.log.Info("webrtc: connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			n.registry.Remove(id)
		}
	})

	if err := pc.SetRemoteDescription(desc); err != nil {
		return Answer{}, fmt.Errorf("%w: %w", ErrInvalidOffer, err)
	}
	if err := checkDeadline(ctx); err != nil {
		return Answer{}, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		return Answer{}, fmt.Errorf("webrtc: create answer: %w", err)
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		return Answer{}, fmt.Errorf("webrtc: set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return Answer{}, checkDeadline(ctx)
	}

	local := pc.LocalDescription()
	if local == nil {
		return Answer{}, errors.New("webrtc: no local description after gathering")
	}

	registered = true
	if !n.register(sess, pc.ConnectionState) {
		return Answer{}, ErrPeerClosed
	}
	sess.startTracks()

	return Answer{SDP: local.SDP, Type: local.Type.String(), Session: id}, nil
}

// register adds sess to the registry unless its connection has already ended.
// The state callback may fire before Add, when Remove has nothing to drop, so
// state is read only once sess is visible.
func (n *Negotiator) register(sess *Session, state func() webrtc.PeerConnectionState) bool {
	n.registry.Add(sess)
	switch state() {
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
		n.registry.Remove(sess.ID)
		return false
	}
	return true
}

func (n *Negotiator) attachTracks(sess *Session, pc *webrtc.PeerConnection) error {
	vt, err := NewVideoTrack(sess.ID, n.video, n.cfg.Video, sess.log)
	if err != nil {
		return fmt.Errorf("webrtc: video track: %w", err)
	}
	sess.addTrack(vt)
	sender, err := pc.AddTrack(vt.Local())
	if err != nil {
		return fmt.Errorf("webrtc: add video track: %w", err)
	}
	startRTCPReader(sender)

	var ring *camaudio.Ring
	if n.mic != nil {
		ring = n.mic.Subscribe(sess.ID, n.cfg.RingCapacity)
		sess.onClose(func() { n.mic.Unsubscribe(sess.ID) })
	}
	at, err := NewAudioTrack(sess.ID, ring, n.cfg.Audio, sess.log)
	if err != nil {
		return fmt.Errorf("webrtc: audio track: %w", err)
	}
	sess.addTrack(at)
	sender, err = pc.AddTrack(at.Local())
	if err != nil {
		return fmt.Errorf("webrtc: add audio track: %w", err)
	}
	startRTCPReader(sender)
	return nil
}

func (n *Negotiator) handleDataChannel(sess *Session, dc *webrtc.DataChannel) {
	if dc.Label() != ControlChannelLabel {
		sess.log.Debug("webrtc: ignoring data channel", "label", dc.Label())
		return
	}
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		reply := n.handleControlMessage(sess, msg.Data)
		b, err := json.Marshal(reply)
		if err != nil {
			return
		}
		if err := dc.SendText(string(b)); err != nil {
			sess.log.Debug("webrtc: control reply failed", "error", err)
		}
	})
}

func (n *Negotiator) handleControlMessage(sess *Session, data []byte) DataChannelReply {
	var msg DataChannelMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return DataChannelReply{Error: "Invalid JSON"}
	}
	switch msg.Type {
	case "command":
		if n.onCommand == nil {
			return DataChannelReply{Error: "commands disabled"}
		}
		if err := n.onCommand(msg.Cmd); err != nil {
			return DataChannelReply{Cmd: msg.Cmd, Error: err.Error()}
		}
		return DataChannelReply{OK: true, Cmd: msg.Cmd}
	case "message":
		text := strings.TrimSpace(msg.Text)
		if text == "" {
			return DataChannelReply{Error: "Missing 'text'"}
		}
		sess.log.Info("webrtc: client message", "text", text)
		return DataChannelReply{OK: true}
	}
	return DataChannelReply{Error: fmt.Sprintf("unknown message type %q", msg.Type)}
}

func checkDeadline(ctx context.Context) error {
	switch err := ctx.Err(); {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return ErrNegotiationTimeout
	default:
		return err
	}
}

// startRTCPReader drains RTCP so the interceptors keep working.
func startRTCPReader(sender *webrtc.RTPSender) {
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := sender.Read(buf); err != nil {
				return
			}
		}
	}()
}
