package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if err := Validate(&cfg); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if got := cfg.Server.Addr(); got != "0.0.0.0:5000" {
		t.Fatalf("addr = %q", got)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camstream.yaml")
	writeFile(t, path, `
server:
  port: 8080
camera:
  source: rtsp://cam/stream
  fps: 15
stream:
  max_fps: 10
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 || cfg.Server.Host != "0.0.0.0" {
		t.Fatalf("server = %+v", cfg.Server)
	}
	if cfg.Camera.Source != "rtsp://cam/stream" || cfg.Camera.FPS != 15 || cfg.Camera.Width != 640 {
		t.Fatalf("camera = %+v", cfg.Camera)
	}
	if got := cfg.Stream.MinInterval(); got != 100*time.Millisecond {
		t.Fatalf("min interval = %v", got)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("PORT", "9000")
	t.Setenv("CAMERA_SOURCE", "2")
	t.Setenv("MQTT_BROKER", "tcp://broker:1883")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Addr() != "127.0.0.1:9000" {
		t.Fatalf("addr = %q", cfg.Server.Addr())
	}
	if cfg.Camera.Source != "2" || cfg.Logging.Level != "debug" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.MQTT.Broker != "tcp://broker:1883" {
		t.Fatal("mqtt should be enabled")
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	tests := []struct {
		name    string
		body    string
		env     string
		invalid bool
	}{
		{name: "bad yaml", body: "server: [1, 2"},
		{name: "bad port env", body: "", env: "abc", invalid: true},
		{name: "port out of range", body: "server:\n  port: 70000\n", invalid: true},
		{name: "jpeg quality", body: "camera:\n  jpeg_quality: 0\n", invalid: true},
		{name: "log level", body: "logging:\n  level: loud\n", invalid: true},
		{name: "empty source", body: "camera:\n  source: \"  \"\n", invalid: true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.env != "" {
				t.Setenv("PORT", tc.env)
			}
			path := filepath.Join(dir, tc.name+".yaml")
			writeFile(t, path, tc.body)
			_, err := Load(path)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrInvalid); got != tc.invalid {
				t.Fatalf("errors.Is(ErrInvalid) = %v, err = %v", got, err)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	env := filepath.Join(dir, ".env")
	writeFile(t, env, "CAMSTREAM_TEST_VALUE=from-dotenv\n")
	t.Setenv("CAMSTREAM_TEST_VALUE", "")
	os.Unsetenv("CAMSTREAM_TEST_VALUE")

	if err := LoadDotEnv(filepath.Join(dir, "missing.env"), env); err != nil {
		t.Fatalf("LoadDotEnv: %v", err)
	}
	if got := os.Getenv("CAMSTREAM_TEST_VALUE"); got != "from-dotenv" {
		t.Fatalf("value = %q", got)
	}
}

func TestWatchReloads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camstream.yaml")
	writeFile(t, path, "camera:\n  source: \"0\"\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	if err := Watch(ctx, path, nil, func(c *Config) { got <- c }); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	writeFile(t, path, "camera:\n  source: \"1\"\n")
	select {
	case c := <-got:
		if c.Camera.Source != "1" {
			t.Fatalf("source = %q", c.Camera.Source)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload observed")
	}
}

func TestWatchSkipsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "camstream.yaml")
	writeFile(t, path, "camera:\n  source: \"0\"\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	if err := Watch(ctx, path, nil, func(c *Config) { got <- c }); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	writeFile(t, path, "camera:\n  jpeg_quality: 500\n")
	select {
	case c := <-got:
		t.Fatalf("invalid config delivered: %+v", c.Camera)
	case <-time.After(500 * time.Millisecond):
	}
}
