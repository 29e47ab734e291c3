package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/italolelis/podcast_downloader/internal/logctx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilTelemetryIsSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotPanics(t, func() {
		tel.RecordEpisodeDownload("completed", 1024, time.Second)
		tel.RecordBatchRun("cancelled", 3)
		tel.RecordDBOperation("track_download", "success", time.Millisecond)
		tel.RecordSystemError("coordinator", "panic")
		tel.IncrementActiveDownloads()
		tel.DecrementActiveDownloads()
	})

	called := false
	err := tel.InstrumentDownload(context.Background(), func(context.Context) error {
		called = true

		return assert.AnError
	})
	assert.ErrorIs(t, err, assert.AnError)
	assert.True(t, called)

	require.NoError(t, tel.Shutdown(context.Background()))

	h := slog.NewJSONHandler(&bytes.Buffer{}, nil)
	assert.Same(t, h, tel.LogHandler(h))
}

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), Config{Enabled: false})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, tel.InstrumentBatch(context.Background(), func(context.Context) error { return nil }))
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestRequestID(t *testing.T) {
	var seen string

	h := RequestID(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	t.Run("generated", func(t *testing.T) {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/episodes", nil))

		assert.NotEmpty(t, seen)
		assert.Equal(t, seen, rec.Header().Get(RequestIDHeader))
	})

	t.Run("propagated", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/episodes", nil)
		req.Header.Set(RequestIDHeader, "abc-123")

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Equal(t, "abc-123", seen)
	})

	t.Run("oversized replaced", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/episodes", nil)
		req.Header.Set(RequestIDHeader, strings.Repeat("x", maxRequestIDLen+1))

		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		assert.Len(t, seen, 36)
	})

	assert.Empty(t, GetRequestID(context.Background()))
}

func TestHTTPLogging_InjectsRequestID(t *testing.T) {
	var buf bytes.Buffer

	base := slog.New(slog.NewJSONHandler(&buf, nil))

	h := RequestID(HTTPLogging(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logctx.LoggerFromContext(r.Context()).Info("inside handler")
		w.WriteHeader(http.StatusAccepted)
	})))

	req := httptest.NewRequest(http.MethodPost, "/batch", nil)
	req.Header.Set(RequestIDHeader, "req-1")
	req = req.WithContext(logctx.WithLogger(req.Context(), base))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	require.Equal(t, http.StatusAccepted, rec.Code)

	line, _, _ := strings.Cut(buf.String(), "\n")

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(line), &entry))
	assert.Equal(t, "inside handler", entry["msg"])
	assert.Equal(t, "req-1", entry["request_id"])
}

func TestStatusClass(t *testing.T) {
	tests := map[int]string{
		http.StatusOK:                 "2xx",
		http.StatusAccepted:           "2xx",
		http.StatusFound:              "3xx",
		http.StatusConflict:           "4xx",
		http.StatusServiceUnavailable: "5xx",
		0:                             "unknown",
		1000:                          "unknown",
	}

	for code, want := range tests {
		assert.Equal(t, want, statusClass(code), code)
	}
}

func TestHTTPMiddleware_NilTelemetryPassesThrough(t *testing.T) {
	h := NewHTTPMiddleware(nil).Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/batch", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
