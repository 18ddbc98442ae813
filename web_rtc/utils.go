package web_rtc

import "log/slog"

type closer interface {
	Close() error
}

// logClose is for teardown paths only: the error is reported and dropped.
func logClose(logger *slog.Logger, what string, c closer) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		logger.Warn("webrtc: close failed", "what", what, "error", err)
	}
}
