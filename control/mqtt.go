package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

type MQTTConfig struct {
	Broker       string `yaml:"broker"`
	ClientID     string `yaml:"client_id"`
	Topic        string `yaml:"topic"`
	ControlTopic string `yaml:"control_topic"`
	QoS          byte   `yaml:"qos"`
}

// Remote is what the control topic can drive.
type Remote struct {
	OnSwitchSource func(src string) error
	OnGetStatus    func() map[string]any
}

// RemoteCommand arrives on the control topic.
type RemoteCommand struct {
	Command string         `json:"command"`
	Params  map[string]any `json:"params,omitempty"`
}

type RemoteResponse struct {
	CommandAck string         `json:"command_ack"`
	Status     string         `json:"status"`
	Data       map[string]any `json:"data,omitempty"`
	Error      string         `json:"error,omitempty"`
	Timestamp  string         `json:"timestamp"`
}

// MQTTPublisher forwards accepted commands to a broker and optionally serves
// remote control requests from a control topic.
type MQTTPublisher struct {
	cfg    MQTTConfig
	client mqtt.Client
	log    *slog.Logger

	published atomic.Uint64
	failed    atomic.Uint64
}

func NewMQTTPublisher(cfg MQTTConfig, logger *slog.Logger) *MQTTPublisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &MQTTPublisher{cfg: cfg, log: logger.With("component", "mqtt")}
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

func (p *MQTTPublisher) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(p.cfg.Broker))
	opts.SetClientID(p.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.OnConnect = func(mqtt.Client) {
		p.log.Info("mqtt: connected", "broker", p.cfg.Broker, "client_id", p.cfg.ClientID)
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		p.log.Warn("mqtt: connection lost, reconnecting", "broker", p.cfg.Broker, "error", err)
	}

	p.client = mqtt.NewClient(opts)
	token := p.client.Connect()
	timeout := 5 * time.Second
	if dl, ok := ctx.Deadline(); ok {
		timeout = time.Until(dl)
	}
	if !token.WaitTimeout(timeout) {
		return fmt.Errorf("mqtt: connect to %s timed out", p.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: connect to %s: %w", p.cfg.Broker, err)
	}
	return nil
}

func (p *MQTTPublisher) Publish(ctx context.Context, ev Event) error {
	if p.client == nil || !p.client.IsConnected() {
		p.failed.Add(1)
		return fmt.Errorf("mqtt: not connected")
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		p.failed.Add(1)
		return err
	}
	token := p.client.Publish(p.cfg.Topic, p.cfg.QoS, false, payload)
	timeout := 2 * time.Second
	if dl, ok := ctx.Deadline(); ok && time.Until(dl) < timeout {
		timeout = time.Until(dl)
	}
	if !token.WaitTimeout(timeout) {
		p.failed.Add(1)
		return fmt.Errorf("mqtt: publish timed out")
	}
	if err := token.Error(); err != nil {
		p.failed.Add(1)
		return fmt.Errorf("mqtt: publish: %w", err)
	}
	p.published.Add(1)
	return nil
}

// Serve subscribes to the control topic and answers on <control_topic>/response.
func (p *MQTTPublisher) Serve(remote Remote) error {
	if p.cfg.ControlTopic == "" {
		return nil
	}
	token := p.client.Subscribe(p.cfg.ControlTopic, p.cfg.QoS, func(_ mqtt.Client, msg mqtt.Message) {
		resp := HandleRemote(remote, msg.Payload())
		p.log.Info("mqtt: control command", "command", resp.CommandAck, "status", resp.Status)
		b, err := json.Marshal(resp)
		if err != nil {
			return
		}
		p.client.Publish(p.cfg.ControlTopic+"/response", p.cfg.QoS, false, b)
	})
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt: subscribe %s timed out", p.cfg.ControlTopic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: subscribe %s: %w", p.cfg.ControlTopic, err)
	}
	p.log.Info("mqtt: control topic subscribed", "topic", p.cfg.ControlTopic)
	return nil
}

// HandleRemote executes one control topic payload.
func HandleRemote(remote Remote, payload []byte) RemoteResponse {
	resp := RemoteResponse{Timestamp: time.Now().UTC().Format(time.RFC3339)}

	var cmd RemoteCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		resp.CommandAck, resp.Status, resp.Error = "unknown", "error", "invalid JSON"
		return resp
	}
	resp.CommandAck = cmd.Command

	switch cmd.Command {
	case "get_status":
		if remote.OnGetStatus == nil {
			resp.Status, resp.Error = "error", "get_status not available"
			return resp
		}
		resp.Status, resp.Data = "success", remote.OnGetStatus()
	case "switch_source":
		src := fmt.Sprint(cmd.Params["src"])
		if _, ok := cmd.Params["src"]; !ok || remote.OnSwitchSource == nil {
			resp.Status, resp.Error = "error", "switch_source needs params.src"
			return resp
		}
		if err := remote.OnSwitchSource(src); err != nil {
			resp.Status, resp.Error = "error", err.Error()
			return resp
		}
		resp.Status, resp.Data = "success", map[string]any{"src": src}
	default:
		resp.Status, resp.Error = "error", fmt.Sprintf("unknown command %q", cmd.Command)
	}
	return resp
}

// Close disconnects, waiting up to 250ms for in-flight work.
func (p *MQTTPublisher) Close() {
	if p.client == nil {
		return
	}
	if p.cfg.ControlTopic != "" && p.client.IsConnected() {
		p.client.Unsubscribe(p.cfg.ControlTopic).WaitTimeout(time.Second)
	}
	p.client.Disconnect(250)
	p.log.Info("mqtt: disconnected", "published", p.published.Load(), "failed", p.failed.Load())
}
