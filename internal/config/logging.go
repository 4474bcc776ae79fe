package config

import (
	"io"
	"log/slog"
)

// NewLogger builds the text logger used by every command and installs it as
// the slog default.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}
