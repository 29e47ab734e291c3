package logctx

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	buf.Reset()

	return entry
}

func TestLoggerFromContext(t *testing.T) {
	assert.Same(t, slog.Default(), LoggerFromContext(context.Background()))

	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	assert.Same(t, logger, LoggerFromContext(WithLogger(context.Background(), logger)))
}

func TestWith(t *testing.T) {
	var buf bytes.Buffer

	ctx := WithLogger(context.Background(), slog.New(slog.NewJSONHandler(&buf, nil)))
	assert.Equal(t, ctx, With(ctx))

	ctx = With(ctx, "task_id", "t-1")
	ctx = With(ctx, "file_path", "/tmp/ep1.mp3")
	LoggerFromContext(ctx).Info("download finished")

	entry := decode(t, &buf)
	assert.Equal(t, "t-1", entry["task_id"])
	assert.Equal(t, "/tmp/ep1.mp3", entry["file_path"])
}

func TestTraceHandler(t *testing.T) {
	var buf bytes.Buffer

	logger := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, nil)))

	t.Run("no span", func(t *testing.T) {
		logger.InfoContext(context.Background(), "batch started")

		entry := decode(t, &buf)
		assert.NotContains(t, entry, "trace_id")
		assert.NotContains(t, entry, "span_id")
	})

	t.Run("recording span", func(t *testing.T) {
		tp := sdktrace.NewTracerProvider()
		defer func() { _ = tp.Shutdown(context.Background()) }()

		ctx, span := tp.Tracer("test").Start(context.Background(), "episode.download")
		defer span.End()

		logger.InfoContext(ctx, "chunk written")

		entry := decode(t, &buf)
		assert.Equal(t, span.SpanContext().TraceID().String(), entry["trace_id"])
		assert.Equal(t, span.SpanContext().SpanID().String(), entry["span_id"])
	})

	t.Run("attrs and groups survive", func(t *testing.T) {
		logger.With("podcast", "Show").WithGroup("episode").Info("queued", "number", 3)

		entry := decode(t, &buf)
		assert.Equal(t, "Show", entry["podcast"])
		assert.Equal(t, map[string]any{"number": float64(3)}, entry["episode"])
	})
}

func TestTraceHandler_Enabled(t *testing.T) {
	h := NewTraceHandler(slog.NewJSONHandler(&bytes.Buffer{}, &slog.HandlerOptions{Level: slog.LevelWarn}))

	assert.False(t, h.Enabled(context.Background(), slog.LevelInfo))
	assert.True(t, h.Enabled(context.Background(), slog.LevelError))
}

func TestNewTraceHandler_Nil(t *testing.T) {
	assert.Panics(t, func() { NewTraceHandler(nil) })
}
