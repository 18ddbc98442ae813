package web_rtc

// SignalingMessage is exchanged over the websocket signaling endpoint.
type SignalingMessage struct {
	Type    string `json:"type"`
	Sdp     string `json:"sdp,omitempty"`
	Session string `json:"session,omitempty"`
	Error   string `json:"error,omitempty"`
}

// DataChannelMessage is what peers send on the "control" data channel.
type DataChannelMessage struct {
	Type string `json:"type"`
	Cmd  string `json:"cmd,omitempty"`
	Text string `json:"text,omitempty"`
}

type DataChannelReply struct {
	OK    bool   `json:"ok"`
	Cmd   string `json:"cmd,omitempty"`
	Error string `json:"error,omitempty"`
}
