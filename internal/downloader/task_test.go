package downloader

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"testing/iotest"
	"time"

	"github.com/italolelis/podcast_downloader/internal/cancel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertMonotonic(t *testing.T, updates []TaskUpdate) {
	t.Helper()

	last := -1.0

	for _, u := range updates {
		if u.Terminal() {
			continue
		}

		assert.GreaterOrEqual(t, u.Progress, last, "progress went backwards")
		last = u.Progress
	}
}

func TestDownload_CompletesWithKnownLength(t *testing.T) {
	body := payload(1000)
	srv := newEpisodeServer(t, map[string][]byte{"/ep1.mp3": body})
	dir := filepath.Join(t.TempDir(), "show")

	d := newTestDownloader(t, srv.Client())
	task := d.NewTask(descriptorFor(dir, srv.URL, "ep1.mp3", 1))
	sink := &recordingSink{}

	res := task.Download(context.Background(), nil, cancel.New(), sink)

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, int64(1000), res.Written)
	assert.Equal(t, int64(1000), res.Total)

	got, err := os.ReadFile(filepath.Join(dir, "ep1.mp3"))
	require.NoError(t, err)
	assert.Equal(t, body, got)

	updates := sink.taskUpdates(task.ID)
	require.NotEmpty(t, updates)
	assertMonotonic(t, updates)

	// the last chunk report reaches exactly 1.0
	assert.InDelta(t, 1.0, updates[len(updates)-2].Progress, 1e-9)
	require.Len(t, sink.terminals(task.ID), 1)

	assert.Equal(t, StatusCompleted, task.Status())
	assert.Equal(t, 1.0, task.Progress())
	assert.NoError(t, task.LastError())
	assert.Equal(t, []string{DefaultUserAgent}, srv.agents)
}

func TestDownload_CallerUserAgentWins(t *testing.T) {
	srv := newEpisodeServer(t, map[string][]byte{"/ep1.mp3": payload(10)})

	d := newTestDownloader(t, srv.Client())
	task := d.NewTask(descriptorFor(t.TempDir(), srv.URL, "ep1.mp3", 1))

	headers := http.Header{}
	headers.Set("User-Agent", "custom-agent")

	res := task.Download(context.Background(), headers, nil, nil)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, []string{"custom-agent"}, srv.agents)
}

func TestDownload_UnknownLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		flusher := w.(http.Flusher)

		for i := 0; i < 3; i++ {
			_, _ = w.Write(payload(50))
			flusher.Flush()
		}
	}))
	defer srv.Close()

	d := newTestDownloader(t, srv.Client())
	task := d.NewTask(descriptorFor(t.TempDir(), srv.URL, "ep1.mp3", 1))
	sink := &recordingSink{}

	res := task.Download(context.Background(), nil, nil, sink)

	require.NoError(t, res.Err)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, int64(150), res.Written)

	for _, u := range sink.taskUpdates(task.ID) {
		if !u.Terminal() {
			assert.Equal(t, -1.0, u.Progress, "no fractional progress without a length")
		}
	}

	assert.Equal(t, 1.0, task.Progress())
}

func TestDownload_AlreadyPresent(t *testing.T) {
	srv := newEpisodeServer(t, map[string][]byte{"/ep1.mp3": payload(10)})
	dir := t.TempDir()
	target := filepath.Join(dir, "ep1.mp3")
	require.NoError(t, os.WriteFile(target, []byte("existing"), 0o644))

	d := newTestDownloader(t, srv.Client())
	task := d.NewTask(descriptorFor(dir, srv.URL, "ep1.mp3", 1))
	sink := &recordingSink{}

	res := task.Download(context.Background(), nil, nil, sink)

	assert.Equal(t, OutcomeAlreadyPresent, res.Outcome)
	assert.Zero(t, srv.hitCount("/ep1.mp3"))

	got, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "existing", string(got))

	updates := sink.taskUpdates(task.ID)
	require.Len(t, updates, 1, "only the terminal report")
	assert.Equal(t, StatusCompleted, updates[0].Status)
}

func TestDownload_ShortBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Length", "1000")
		_, _ = w.Write(payload(400))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := newTestDownloader(t, srv.Client())
	task := d.NewTask(descriptorFor(dir, srv.URL, "ep1.mp3", 1))
	sink := &recordingSink{}

	res := task.Download(context.Background(), nil, nil, sink)

	assert.Equal(t, OutcomeFailed, res.Outcome)

	var incomplete *IncompleteTransferError
	require.ErrorAs(t, res.Err, &incomplete)
	assert.Equal(t, int64(1000), incomplete.Expected)
	assert.Less(t, incomplete.Written, int64(1000))

	assert.NoFileExists(t, filepath.Join(dir, "ep1.mp3"))
	assert.Equal(t, StatusFailed, task.Status())
	assert.Zero(t, task.Progress())
	assert.Error(t, task.LastError())
	require.Len(t, sink.terminals(task.ID), 1)
}

func TestDownload_EmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := newTestDownloader(t, srv.Client())
	task := d.NewTask(descriptorFor(dir, srv.URL, "ep1.mp3", 1))

	res := task.Download(context.Background(), nil, nil, nil)

	assert.Equal(t, OutcomeFailed, res.Outcome)

	var incomplete *IncompleteTransferError
	assert.ErrorAs(t, res.Err, &incomplete)
	assert.NoFileExists(t, filepath.Join(dir, "ep1.mp3"))
}

func TestDownload_HTTPError(t *testing.T) {
	srv := newEpisodeServer(t, nil)
	dir := t.TempDir()

	d := newTestDownloader(t, srv.Client())
	task := d.NewTask(descriptorFor(dir, srv.URL, "missing.mp3", 1))

	res := task.Download(context.Background(), nil, nil, nil)

	assert.Equal(t, OutcomeFailed, res.Outcome)

	var netErr *NetworkError
	require.ErrorAs(t, res.Err, &netErr)
	assert.Equal(t, http.StatusNotFound, netErr.StatusCode)
	assert.NoFileExists(t, filepath.Join(dir, "missing.mp3"))
}

func TestDownload_ConnectionRefused(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	d := newTestDownloader(t, http.DefaultClient)
	task := d.NewTask(descriptorFor(t.TempDir(), url, "ep1.mp3", 1))

	res := task.Download(context.Background(), nil, nil, nil)

	assert.Equal(t, OutcomeFailed, res.Outcome)

	var netErr *NetworkError
	require.ErrorAs(t, res.Err, &netErr)
	assert.Equal(t, "request", netErr.Operation)
}

func TestDownload_CancelledMidStream(t *testing.T) {
	srv := newEpisodeServer(t, map[string][]byte{"/ep1.mp3": payload(4096)})
	dir := t.TempDir()

	d := newTestDownloader(t, srv.Client())
	task := d.NewTask(descriptorFor(dir, srv.URL, "ep1.mp3", 1))

	sig := cancel.New()
	sink := &recordingSink{onTask: func(u TaskUpdate) {
		if u.Written > 0 {
			sig.Set()
		}
	}}

	res := task.Download(context.Background(), nil, sig, sink)

	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.NoError(t, res.Err)
	assert.Less(t, res.Written, int64(4096))
	assert.NoFileExists(t, filepath.Join(dir, "ep1.mp3"))
	assert.Equal(t, StatusCancelled, task.Status())
	assert.Zero(t, task.Progress())
	assert.True(t, sig.IsSet(), "the task never clears the signal")
	require.Len(t, sink.terminals(task.ID), 1)
}

func TestDownload_SignalSetBeforeStart(t *testing.T) {
	srv := newEpisodeServer(t, map[string][]byte{"/ep1.mp3": payload(10)})

	d := newTestDownloader(t, srv.Client())
	task := d.NewTask(descriptorFor(t.TempDir(), srv.URL, "ep1.mp3", 1))

	sig := cancel.New()
	sig.Set()

	res := task.Download(context.Background(), nil, sig, nil)

	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.Zero(t, srv.hitCount("/ep1.mp3"))
}

func TestDownload_ContextCancelled(t *testing.T) {
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		_, _ = w.Write(payload(100))
		w.(http.Flusher).Flush()

		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	dir := t.TempDir()
	d := newTestDownloader(t, srv.Client())
	task := d.NewTask(descriptorFor(dir, srv.URL, "ep1.mp3", 1))

	ctx, cancelFn := context.WithCancel(context.Background())
	defer cancelFn()

	sink := &recordingSink{onTask: func(u TaskUpdate) {
		if u.Written > 0 {
			cancelFn()
		}
	}}

	res := task.Download(ctx, nil, nil, sink)

	assert.Equal(t, OutcomeCancelled, res.Outcome)
	assert.NoFileExists(t, filepath.Join(dir, "ep1.mp3"))
}

func TestDownload_ReadTimeout(t *testing.T) {
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1000")
		_, _ = w.Write(payload(100))
		w.(http.Flusher).Flush()

		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	dir := t.TempDir()
	d := NewDownloader(Config{HTTPClient: srv.Client(), ReadTimeout: 50 * time.Millisecond}, nil)
	task := d.NewTask(descriptorFor(dir, srv.URL, "ep1.mp3", 1))

	res := task.Download(context.Background(), nil, nil, nil)

	assert.Equal(t, OutcomeFailed, res.Outcome)

	var netErr *NetworkError
	require.ErrorAs(t, res.Err, &netErr)
	assert.Equal(t, "read", netErr.Operation)
	assert.ErrorIs(t, res.Err, errReadTimeout)
	assert.NoFileExists(t, filepath.Join(dir, "ep1.mp3"))
}

func TestDownload_RejectsConcurrentSamePath(t *testing.T) {
	release := make(chan struct{})

	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)

		w.Header().Set("Content-Length", "200")
		_, _ = w.Write(payload(100))
		w.(http.Flusher).Flush()

		select {
		case <-r.Context().Done():
			return
		case <-release:
		}

		_, _ = w.Write(payload(100))
	}))
	defer srv.Close()

	dir := t.TempDir()
	d := newTestDownloader(t, srv.Client())
	desc := descriptorFor(dir, srv.URL, "ep1.mp3", 1)
	first, second := d.NewTask(desc), d.NewTask(desc)

	done := make(chan Result, 1)

	go func() {
		done <- first.Download(context.Background(), nil, nil, nil)
	}()

	require.Eventually(t, func() bool { return first.Progress() > 0 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, d.Busy(first.Path()))

	sink := &recordingSink{}

	for _, task := range []*Task{first, second} {
		res := task.Download(context.Background(), nil, nil, sink)

		assert.Equal(t, OutcomeFailed, res.Outcome)
		assert.True(t, errors.Is(res.Err, ErrDownloadInProgress))
	}

	assert.Empty(t, sink.taskUpdates(first.ID))
	assert.Empty(t, sink.taskUpdates(second.ID))
	assert.Equal(t, StatusNotStarted, second.Status())
	assert.Equal(t, StatusInProgress, first.Status())

	close(release)

	res := <-done
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.Equal(t, int32(1), hits.Load())
	assert.False(t, d.Busy(first.Path()))
}

func TestDownload_CreatesTargetDirectory(t *testing.T) {
	srv := newEpisodeServer(t, map[string][]byte{"/ep1.mp3": payload(10)})
	dir := filepath.Join(t.TempDir(), "a", "b", "c")

	d := newTestDownloader(t, srv.Client())
	task := d.NewTask(descriptorFor(dir, srv.URL, "ep1.mp3", 1))

	res := task.Download(context.Background(), nil, nil, nil)

	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.DirExists(t, dir)
	assert.FileExists(t, filepath.Join(dir, "ep1.mp3"))
}

func TestDownload_RetryAfterFailure(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)

			return
		}

		_, _ = w.Write(payload(10))
	}))
	defer srv.Close()

	d := newTestDownloader(t, srv.Client())
	task := d.NewTask(descriptorFor(t.TempDir(), srv.URL, "ep1.mp3", 1))

	res := task.Download(context.Background(), nil, nil, nil)
	assert.Equal(t, OutcomeFailed, res.Outcome)
	assert.Error(t, task.LastError())

	fail.Store(false)

	res = task.Download(context.Background(), nil, nil, nil)
	assert.Equal(t, OutcomeCompleted, res.Outcome)
	assert.NoError(t, task.LastError())
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestDownload_ResetMidStream(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode:    http.StatusOK,
			ContentLength: 1000,
			Body:          io.NopCloser(io.MultiReader(bytes.NewReader(payload(100)), iotest.ErrReader(errors.New("connection reset by peer")))),
			Request:       r,
		}, nil
	})}

	dir := t.TempDir()
	d := newTestDownloader(t, client)
	task := d.NewTask(descriptorFor(dir, "http://cdn.invalid", "ep1.mp3", 1))

	res := task.Download(context.Background(), nil, nil, nil)

	assert.Equal(t, OutcomeFailed, res.Outcome)

	var netErr *NetworkError
	require.ErrorAs(t, res.Err, &netErr)
	assert.Equal(t, "read", netErr.Operation)
	assert.ErrorContains(t, res.Err, "connection reset by peer")
	assert.NoFileExists(t, filepath.Join(dir, "ep1.mp3"))
}

func TestDownload_DirectoryAtTargetPath(t *testing.T) {
	srv := newEpisodeServer(t, map[string][]byte{"/ep1.mp3": payload(100)})
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "ep1.mp3"), 0o755))

	d := newTestDownloader(t, srv.Client())
	task := d.NewTask(descriptorFor(dir, srv.URL, "ep1.mp3", 1))

	assert.False(t, task.Exists(), "a directory is not a downloaded episode")

	res := task.Download(context.Background(), nil, nil, nil)

	assert.Equal(t, OutcomeFailed, res.Outcome)

	var fsErr *FilesystemError
	assert.ErrorAs(t, res.Err, &fsErr)
	assert.DirExists(t, filepath.Join(dir, "ep1.mp3"))
}

func TestTask_ExistsIgnoresFileBeingWritten(t *testing.T) {
	dir := t.TempDir()
	d := newTestDownloader(t, http.DefaultClient)
	task := d.NewTask(descriptorFor(dir, "http://cdn.invalid", "ep1.mp3", 1))

	require.NoError(t, os.WriteFile(task.Path(), payload(10), 0o644))
	require.True(t, d.locks.TryAcquire(task.Path()))

	assert.False(t, task.Exists())

	d.locks.Release(task.Path())
	assert.True(t, task.Exists())
}
