package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"strzcam.com/camstream/config"
)

func main() {
	configPath := flag.String("config", "", "Path to YAML configuration file")
	envFile := flag.String("env", ".env", "Path to .env file, ignored when missing")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging, *debug)
	slog.SetDefault(logger)
	logger.Info("starting camstream",
		"config", *configPath,
		"addr", cfg.Server.Addr(),
		"source", cfg.Camera.Source,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *configPath, logger); err != nil {
		logger.Error("camstream stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("camstream stopped")
}

func newLogger(cfg config.LoggingConfig, debug bool) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(cfg.Level))); err != nil {
		level = slog.LevelInfo
	}
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
