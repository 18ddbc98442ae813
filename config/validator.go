package config

import (
	"errors"
	"fmt"
	"strings"
)

func Validate(cfg *Config) error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(cfg.Server.Port > 0 && cfg.Server.Port < 65536, "server.port %d out of range", cfg.Server.Port)
	check(cfg.Server.ShutdownTimeout > 0, "server.shutdown_timeout must be positive")

	check(strings.TrimSpace(cfg.Camera.Source) != "", "camera.source is required")
	check(cfg.Camera.Width >= 0 && cfg.Camera.Height >= 0, "camera width/height must not be negative")
	check(cfg.Camera.FPS >= 0, "camera.fps must not be negative")
	check(cfg.Camera.JPEGQuality >= 1 && cfg.Camera.JPEGQuality <= 100, "camera.jpeg_quality %d not in 1..100", cfg.Camera.JPEGQuality)
	check(cfg.Camera.ReadBackoff > 0, "camera.read_backoff must be positive")
	check(cfg.Camera.StopTimeout > 0, "camera.stop_timeout must be positive")

	check(cfg.Stream.PollInterval > 0, "stream.poll_interval must be positive")
	check(cfg.Stream.MaxFPS >= 0, "stream.max_fps must not be negative")

	if cfg.Audio.Enabled {
		check(cfg.Audio.SampleRate > 0, "audio.sample_rate must be positive")
		check(cfg.Audio.Channels == 1 || cfg.Audio.Channels == 2, "audio.channels must be 1 or 2")
		check(cfg.Audio.ChunkSamples > 0, "audio.chunk_samples must be positive")
		check(cfg.Audio.BufferChunks > 0, "audio.buffer_chunks must be positive")
	}

	check(cfg.WebRTC.OfferTimeout > 0, "webrtc.offer_timeout must be positive")
	check(cfg.WebRTC.VideoFPS > 0, "webrtc.video_fps must be positive")
	check(cfg.WebRTC.FillerWidth > 0 && cfg.WebRTC.FillerHeight > 0, "webrtc filler size must be positive")
	for i, s := range cfg.WebRTC.ICEServers {
		check(len(s.URLs) > 0, "webrtc.ice_servers[%d] has no urls", i)
	}

	if cfg.MQTT.Broker != "" {
		check(cfg.MQTT.Topic != "", "mqtt.topic is required when mqtt.broker is set")
		check(cfg.MQTT.QoS <= 2, "mqtt.qos %d not in 0..2", cfg.MQTT.QoS)
	}
	if cfg.Relay.Enabled {
		check(strings.HasPrefix(cfg.Relay.Path, "/"), "relay.path must start with /")
		check(cfg.Relay.Backlog >= 0, "relay.backlog must not be negative")
	}

	switch strings.ToLower(cfg.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level %q unknown", cfg.Logging.Level))
	}
	switch cfg.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q unknown", cfg.Logging.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}
