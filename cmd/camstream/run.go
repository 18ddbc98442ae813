package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/webrtc/v4"

	"strzcam.com/camstream/audio"
	"strzcam.com/camstream/camera"
	"strzcam.com/camstream/camera/opencv"
	"strzcam.com/camstream/config"
	"strzcam.com/camstream/connection"
	"strzcam.com/camstream/control"
	"strzcam.com/camstream/server"
	"strzcam.com/camstream/stream"
	"strzcam.com/camstream/watcher"
	"strzcam.com/camstream/web_rtc"
)

func sourceFrom(c config.CameraConfig) camera.Source {
	return camera.Source{Device: c.Source, Width: c.Width, Height: c.Height, FPS: c.FPS}
}

type sourceSwitcher interface {
	Source() (camera.Source, bool)
	SwitchSource(src camera.Source) error
}

// switchDevice moves to device keeping the running geometry, or fallback's
// when no camera is running.
func switchDevice(cams sourceSwitcher, fallback camera.Source, device string) error {
	cur, ok := cams.Source()
	if !ok {
		cur = fallback
	}
	return cams.SwitchSource(cur.WithDevice(device))
}

// applySource makes src the active source unless it already is. The running
// source is compared, not the previous file contents, so a reload also undoes
// a switch made over HTTP or MQTT.
func applySource(cams sourceSwitcher, src camera.Source) error {
	if cur, ok := cams.Source(); ok && cur == src {
		return nil
	}
	return cams.SwitchSource(src)
}

// run wires every component and blocks until ctx is done. Deferred calls
// tear down in reverse: sessions, microphone, camera.
func run(ctx context.Context, cfg *config.Config, configPath string, logger *slog.Logger) error {
	cams := camera.NewManager(
		watcher.Opener(cfg.Camera.ShmDir, opencv.Open, logger),
		camera.Options{
			Encoder:     opencv.Encoder{Quality: cfg.Camera.JPEGQuality},
			ReadBackoff: cfg.Camera.ReadBackoff,
			StopTimeout: cfg.Camera.StopTimeout,
			Logger:      logger,
		},
		cfg.Camera.Warmup,
	)
	if err := cams.Start(sourceFrom(cfg.Camera)); err != nil {
		// /switch or a config reload can still bring a camera up
		logger.Error("camera unavailable, serving without video", "source", cfg.Camera.Source, "error", err)
	}
	defer cams.Stop()

	var fan *audio.Fanout
	if cfg.Audio.Enabled {
		fan = audio.NewFanout()
		mic := audio.NewMic(audio.Format{
			SampleRate:  cfg.Audio.SampleRate,
			Channels:    cfg.Audio.Channels,
			ChunkFrames: cfg.Audio.ChunkSamples,
		}, fan, logger)
		if err := mic.Start(); err != nil {
			logger.Warn("microphone unavailable, peers get silence", "error", err)
			fan = nil
		} else {
			defer mic.Stop()
		}
	}

	registry := web_rtc.NewRegistry(logger)
	defer registry.CloseAll()

	negotiator, err := web_rtc.NewNegotiator(webRTCConfig(cfg), cams, fan, registry, logger)
	if err != nil {
		return fmt.Errorf("webrtc: %w", err)
	}

	var publisher control.Publisher = control.LogPublisher{Logger: logger}
	if cfg.MQTT.Broker != "" {
		mp := control.NewMQTTPublisher(cfg.MQTT, logger)
		if err := mp.Connect(ctx); err != nil {
			logger.Warn("mqtt unavailable, commands are only logged", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			defer mp.Close()
			publisher = mp
			remote := control.Remote{
				OnSwitchSource: func(device string) error {
					return switchDevice(cams, sourceFrom(cfg.Camera), device)
				},
				OnGetStatus: func() map[string]any { return status(cams, registry) },
			}
			if err := mp.Serve(remote); err != nil {
				logger.Warn("mqtt control topic not served", "error", err)
			}
		}
	}
	negotiator.SetCommandHandler(func(raw string) error {
		cmd, err := control.Parse(raw)
		if err != nil {
			return err
		}
		return publisher.Publish(ctx, control.NewEvent(cmd, "webrtc"))
	})

	opts := server.Options{
		Camera:        cams,
		DefaultSource: sourceFrom(cfg.Camera),
		Stream:        stream.New(cams, cfg.Stream.PollInterval, cfg.Stream.MinInterval(), logger),
		Answerer:      negotiator,
		Sessions:      registry,
		Publisher:     publisher,
		Logger:        logger,
	}
	if cfg.Relay.Enabled {
		relay := connection.NewProvider(cams, cfg.Stream.PollInterval, cfg.Relay.Backlog, logger)
		go relay.Run(ctx)
		opts.Relay = relay
		opts.RelayPath = cfg.Relay.Path
	}
	srv := server.New(opts)

	if configPath != "" {
		err := config.Watch(ctx, configPath, logger, func(next *config.Config) {
			src := sourceFrom(next.Camera)
			if err := applySource(cams, src); err != nil {
				logger.Error("config reload: camera switch failed", "source", src.String(), "error", err)
			}
		})
		if err != nil {
			logger.Warn("config watch disabled", "path", configPath, "error", err)
		}
	}

	return srv.Start(ctx, cfg.Server.Addr(), cfg.Server.ShutdownTimeout)
}

func webRTCConfig(cfg *config.Config) web_rtc.Config {
	ice := make([]webrtc.ICEServer, 0, len(cfg.WebRTC.ICEServers))
	for _, s := range cfg.WebRTC.ICEServers {
		ice = append(ice, webrtc.ICEServer{URLs: s.URLs, Username: s.Username, Credential: s.Credential})
	}
	return web_rtc.Config{
		ICEServers:   ice,
		OfferTimeout: cfg.WebRTC.OfferTimeout,
		Video: web_rtc.VideoOptions{
			FPS:              cfg.WebRTC.VideoFPS,
			BitRate:          cfg.WebRTC.VideoBitrate,
			KeyFrameInterval: cfg.WebRTC.KeyFrameInterval,
			FillerWidth:      cfg.WebRTC.FillerWidth,
			FillerHeight:     cfg.WebRTC.FillerHeight,
		},
		Audio: web_rtc.AudioOptions{
			Format: audio.Format{
				SampleRate:  cfg.Audio.SampleRate,
				Channels:    cfg.Audio.Channels,
				ChunkFrames: cfg.Audio.ChunkSamples,
			},
			BitRate: cfg.WebRTC.AudioBitrate,
		},
		RingCapacity: cfg.Audio.BufferChunks,
	}
}

func status(cams *camera.Manager, registry *web_rtc.Registry) map[string]any {
	out := map[string]any{"sessions": registry.Len()}
	st, err := cams.Stats()
	if err != nil {
		out["camera"] = err.Error()
		return out
	}
	out["camera"] = map[string]any{
		"source":      st.Source.Device,
		"state":       st.State.String(),
		"captured":    st.Captured,
		"read_errors": st.ReadErrors,
	}
	return out
}
