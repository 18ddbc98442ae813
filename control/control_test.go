package control

import (
	"context"
	"errors"
	"testing"
)

func TestParse(t *testing.T) {
	for _, c := range Commands {
		got, err := Parse(string(c))
		if err != nil || got != c {
			t.Errorf("Parse(%q) = %q, %v", c, got, err)
		}
	}
	for _, bad := range []string{"", "Up", "stop", "FRONT", " Stop"} {
		if _, err := Parse(bad); !errors.Is(err, ErrUnknownCommand) {
			t.Errorf("Parse(%q) error = %v, want ErrUnknownCommand", bad, err)
		}
	}
}

func TestLogPublisher(t *testing.T) {
	if err := (LogPublisher{}).Publish(context.Background(), NewEvent(Stop, "test")); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestBrokerURL(t *testing.T) {
	tests := map[string]string{
		"localhost:1883":        "tcp://localhost:1883",
		"ssl://broker:8883":     "ssl://broker:8883",
		"ws://broker:9001/mqtt": "ws://broker:9001/mqtt",
	}
	for in, want := range tests {
		if got := brokerURL(in); got != want {
			t.Errorf("brokerURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPublishWithoutConnect(t *testing.T) {
	p := NewMQTTPublisher(MQTTConfig{Broker: "localhost:1883", Topic: "t"}, nil)
	if err := p.Publish(context.Background(), NewEvent(Front, "test")); err == nil {
		t.Fatal("Publish before Connect succeeded")
	}
	p.Close()
}

func TestHandleRemote(t *testing.T) {
	var switched string
	remote := Remote{
		OnSwitchSource: func(src string) error {
			if src == "9" {
				return errors.New("device busy")
			}
			switched = src
			return nil
		},
		OnGetStatus: func() map[string]any { return map[string]any{"state": "running"} },
	}

	tests := []struct {
		name       string
		payload    string
		wantAck    string
		wantStatus string
		wantErr    string
	}{
		{"invalid json", `nope`, "unknown", "error", "invalid JSON"},
		{"status", `{"command":"get_status"}`, "get_status", "success", ""},
		{"switch", `{"command":"switch_source","params":{"src":2}}`, "switch_source", "success", ""},
		{"switch missing src", `{"command":"switch_source"}`, "switch_source", "error", "switch_source needs params.src"},
		{"switch fails", `{"command":"switch_source","params":{"src":"9"}}`, "switch_source", "error", "device busy"},
		{"unknown", `{"command":"reboot"}`, "reboot", "error", `unknown command "reboot"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := HandleRemote(remote, []byte(tt.payload))
			if resp.CommandAck != tt.wantAck || resp.Status != tt.wantStatus || resp.Error != tt.wantErr {
				t.Errorf("HandleRemote() = %+v", resp)
			}
			if resp.Timestamp == "" {
				t.Error("missing timestamp")
			}
		})
	}
	if switched != "2" {
		t.Errorf("switched to %q, want 2", switched)
	}
}
