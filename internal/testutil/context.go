package testutil

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/vk/dfkernel/internal/ctxlog"
)

// Context returns a test-scoped context whose logger discards output. The
// context is cancelled when the test finishes.
func Context(t *testing.T) context.Context {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctxlog.WithLogger(ctx, logger)
}

// LoggingContext is like Context but captures debug-level text logs in the
// returned buffer.
func LoggingContext(t *testing.T) (context.Context, *SafeBuffer) {
	t.Helper()
	buf := &SafeBuffer{}
	logger := slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctxlog.WithLogger(ctx, logger), buf
}
