package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"strzcam.com/camstream/control"
)

var ErrInvalid = errors.New("config: invalid")

type Config struct {
	Server  ServerConfig       `yaml:"server"`
	Camera  CameraConfig       `yaml:"camera"`
	Stream  StreamConfig       `yaml:"stream"`
	Audio   AudioConfig        `yaml:"audio"`
	WebRTC  WebRTCConfig       `yaml:"webrtc"`
	MQTT    control.MQTTConfig `yaml:"mqtt"`
	Relay   RelayConfig        `yaml:"relay"`
	Logging LoggingConfig      `yaml:"logging"`
}

type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

type CameraConfig struct {
	Source      string        `yaml:"source"`
	Width       int           `yaml:"width"`
	Height      int           `yaml:"height"`
	FPS         float64       `yaml:"fps"`
	JPEGQuality int           `yaml:"jpeg_quality"`
	ReadBackoff time.Duration `yaml:"read_backoff"`
	StopTimeout time.Duration `yaml:"stop_timeout"`
	Warmup      time.Duration `yaml:"warmup"`
	// ShmDir is where "shm:<name>" sources are looked up.
	ShmDir string `yaml:"shm_dir"`
}

type StreamConfig struct {
	PollInterval time.Duration `yaml:"poll_interval"`
	MaxFPS       float64       `yaml:"max_fps"`
}

// MinInterval is the shortest gap between two parts sent to one viewer.
func (s StreamConfig) MinInterval() time.Duration {
	if s.MaxFPS <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / s.MaxFPS)
}

type AudioConfig struct {
	Enabled      bool `yaml:"enabled"`
	SampleRate   int  `yaml:"sample_rate"`
	Channels     int  `yaml:"channels"`
	ChunkSamples int  `yaml:"chunk_samples"`
	BufferChunks int  `yaml:"buffer_chunks"`
}

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username,omitempty"`
	Credential string   `yaml:"credential,omitempty"`
}

type WebRTCConfig struct {
	ICEServers       []ICEServer   `yaml:"ice_servers"`
	OfferTimeout     time.Duration `yaml:"offer_timeout"`
	VideoFPS         int           `yaml:"video_fps"`
	VideoBitrate     int           `yaml:"video_bitrate"`
	KeyFrameInterval int           `yaml:"keyframe_interval"`
	AudioBitrate     int           `yaml:"audio_bitrate"`
	FillerWidth      int           `yaml:"filler_width"`
	FillerHeight     int           `yaml:"filler_height"`
}

type RelayConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	// Backlog is how many recent frames a newly connected relay receives.
	Backlog int `yaml:"backlog"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 5000, ShutdownTimeout: 5 * time.Second},
		Camera: CameraConfig{
			Source:      "0",
			Width:       640,
			Height:      480,
			FPS:         30,
			JPEGQuality: 80,
			ReadBackoff: 50 * time.Millisecond,
			StopTimeout: time.Second,
			Warmup:      2 * time.Second,
			ShmDir:      "/dev/shm",
		},
		Stream: StreamConfig{PollInterval: 10 * time.Millisecond, MaxFPS: 30},
		Audio:  AudioConfig{Enabled: true, SampleRate: 48000, Channels: 1, ChunkSamples: 960, BufferChunks: 10},
		WebRTC: WebRTCConfig{
			ICEServers:       []ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}},
			OfferTimeout:     10 * time.Second,
			VideoFPS:         30,
			VideoBitrate:     1_000_000,
			KeyFrameInterval: 60,
			AudioBitrate:     64_000,
			FillerWidth:      640,
			FillerHeight:     480,
		},
		MQTT:    control.MQTTConfig{ClientID: "camstream", Topic: "camstream/commands", ControlTopic: "camstream/control", QoS: 1},
		Relay:   RelayConfig{Enabled: true, Path: "/p2p/frames", Backlog: 30},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// LoadDotEnv loads .env style files into the process environment. Missing
// files are not an error.
func LoadDotEnv(files ...string) error {
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("config: load %s: %w", f, err)
		}
	}
	return nil
}

// Load reads the YAML file at path over the defaults, applies environment
// overrides and validates the result. An empty path means defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return nil, err
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) error {
	if v, ok := os.LookupEnv("HOST"); ok && v != "" {
		cfg.Server.Host = v
	}
	if v, ok := os.LookupEnv("PORT"); ok && v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: PORT=%q is not a number", ErrInvalid, v)
		}
		cfg.Server.Port = port
	}
	if v, ok := os.LookupEnv("CAMERA_SOURCE"); ok && v != "" {
		cfg.Camera.Source = v
	}
	if v, ok := os.LookupEnv("MQTT_BROKER"); ok {
		cfg.MQTT.Broker = v
	}
	if v, ok := os.LookupEnv("LOG_LEVEL"); ok && v != "" {
		cfg.Logging.Level = v
	}
	return nil
}
