package app

import (
	"io"
	"log/slog"
)

// NewLogger creates the kernel's logger. It does not set the global logger,
// so several apps can run side by side in tests. Unknown levels fall back to
// info and unknown formats to text.
func NewLogger(levelStr, formatStr string, outW io.Writer) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if formatStr == "json" {
		return slog.New(slog.NewJSONHandler(outW, opts))
	}
	return slog.New(slog.NewTextHandler(outW, opts))
}
