package camera

import (
	"io"
	"log/slog"
)

func logClose(logger *slog.Logger, what string, c io.Closer) {
	if err := c.Close(); err != nil {
		logger.Warn("camera: release failed", "what", what, "error", err)
	}
}
