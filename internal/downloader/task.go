package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/podcast_downloader/internal/cancel"
	"github.com/italolelis/podcast_downloader/internal/downloader/progress"
	"github.com/italolelis/podcast_downloader/internal/episode"
	"github.com/italolelis/podcast_downloader/internal/logctx"
)

// Result is the outcome of one Download call.
type Result struct {
	Outcome Outcome
	Written int64
	Total   int64 // <= 0 when unknown
	Err     error
}

// Task downloads a single episode to its target path. A task can be
// downloaded again after it finished.
type Task struct {
	ID         string
	Descriptor episode.Descriptor

	d *Downloader

	mu       sync.RWMutex
	status   Status
	progress float64
	lastErr  error
}

// Path is the absolute file the episode is written to.
func (t *Task) Path() string {
	return t.Descriptor.Path()
}

// Exists reports whether the finished episode is on disk. A file another
// download is still writing does not count.
func (t *Task) Exists() bool {
	return !t.d.Busy(t.Path()) && fileExists(t.Path())
}

func (t *Task) Status() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.status
}

func (t *Task) Progress() float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.progress
}

// LastError is the failure of the most recent call, kept for display.
func (t *Task) LastError() error {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return t.lastErr
}

// Snapshot returns the task's current state as an update.
func (t *Task) Snapshot() TaskUpdate {
	t.mu.RLock()
	defer t.mu.RUnlock()

	return TaskUpdate{
		TaskID:   t.ID,
		Path:     t.Path(),
		Status:   t.status,
		Progress: t.progress,
		Err:      t.lastErr,
	}
}

// Download fetches the episode, honoring sig between chunks. It never
// returns without a terminal outcome and leaves no partial file behind.
// A call for a path another download is writing to is rejected with
// ErrDownloadInProgress and has no side effects.
func (t *Task) Download(ctx context.Context, headers http.Header, sig *cancel.Signal, sink ProgressSink) Result {
	if sink == nil {
		sink = NopSink{}
	}

	path := t.Path()
	if !t.d.locks.TryAcquire(path) {
		return Result{Outcome: OutcomeFailed, Err: ErrDownloadInProgress}
	}
	defer t.d.locks.Release(path)

	ctx = logctx.With(ctx, "task_id", t.ID, "file_path", path)

	var res Result

	start := time.Now()

	_ = t.d.telemetry.InstrumentDownload(ctx, func(ctx context.Context) error {
		res = t.download(ctx, path, headers, sig, sink)

		return res.Err
	})

	t.d.telemetry.RecordEpisodeDownload(res.Outcome.String(), res.Written, time.Since(start))
	t.finish(res, sink)

	return res
}

func (t *Task) download(ctx context.Context, path string, headers http.Header, sig *cancel.Signal, sink ProgressSink) Result {
	logger := logctx.LoggerFromContext(ctx)

	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return Result{Outcome: OutcomeFailed, Err: &FilesystemError{Operation: "mkdir", Path: filepath.Dir(path), Err: err}}
	}

	if fileExists(path) {
		logger.Debug("episode already downloaded")

		return Result{Outcome: OutcomeAlreadyPresent}
	}

	if sig.IsSet() || ctx.Err() != nil {
		return Result{Outcome: OutcomeCancelled}
	}

	t.setState(StatusInProgress, -1, nil)
	sink.TaskChanged(TaskUpdate{TaskID: t.ID, Path: path, Status: StatusInProgress, Progress: -1})

	url := t.Descriptor.DownloadURL

	// The read deadline is pushed forward before every chunk, so only an
	// idle connection times out.
	reqCtx, abort := context.WithCancelCause(ctx)
	defer abort(nil)

	deadline := t.startReadDeadline(abort)
	defer deadline.Stop()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: &NetworkError{Operation: "request", URL: url, Err: err}}
	}

	if headers != nil {
		req.Header = headers.Clone()
	}

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.d.userAgent)
	}

	resp, err := t.d.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return Result{Outcome: OutcomeCancelled}
		}

		return Result{Outcome: OutcomeFailed, Err: &NetworkError{Operation: "request", URL: url, Err: readErr(reqCtx, err)}}
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return Result{Outcome: OutcomeFailed, Err: &NetworkError{Operation: "request", URL: url, StatusCode: resp.StatusCode}}
	}

	total := resp.ContentLength
	if total <= 0 {
		total = -1
	}

	logger.Info("downloading episode", "url", url, "file_size", sizeLabel(total))

	out, err := os.Create(path)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Total: total, Err: &FilesystemError{Operation: "create", Path: path, Err: err}}
	}

	pw := progress.NewWriter(out, total, func(written, total int64) {
		fraction := progress.Fraction(written, total)

		t.setState(StatusInProgress, fraction, nil)
		sink.TaskChanged(TaskUpdate{
			TaskID:   t.ID,
			Path:     path,
			Status:   StatusInProgress,
			Progress: fraction,
			Written:  written,
			Total:    total,
		})
	})

	res := t.copyChunks(ctx, reqCtx, deadline, pw, resp.Body, sig)
	res.Total = total
	res.Written = pw.Written()

	if err := out.Close(); err != nil && res.Outcome == OutcomeCompleted {
		res = Result{Outcome: OutcomeFailed, Written: res.Written, Total: total, Err: &FilesystemError{Operation: "close", Path: path, Err: err}}
	}

	if res.Outcome == OutcomeCompleted && (res.Written == 0 || (total > 0 && res.Written < total)) {
		res.Outcome = OutcomeFailed
		res.Err = &IncompleteTransferError{Path: path, Written: res.Written, Expected: total}
	}

	if res.Outcome != OutcomeCompleted {
		if err := removePartial(path); err != nil {
			res.Err = errors.Join(res.Err, err)
		}
	}

	return res
}

// copyChunks streams body into w one chunk at a time. The returned result
// only carries the outcome and error.
func (t *Task) copyChunks(
	ctx, reqCtx context.Context,
	deadline *time.Timer,
	w *progress.Writer,
	body io.Reader,
	sig *cancel.Signal,
) Result {
	buf := make([]byte, t.d.chunkSize)

	for {
		t.resetReadDeadline(deadline)

		n, err := body.Read(buf)
		if n > 0 {
			if sig.IsSet() {
				return Result{Outcome: OutcomeCancelled}
			}

			if _, werr := w.Write(buf[:n]); werr != nil {
				return Result{Outcome: OutcomeFailed, Err: &FilesystemError{Operation: "write", Path: t.Path(), Err: werr}}
			}
		}

		switch {
		case err == nil:
			continue
		case errors.Is(err, io.EOF):
			return Result{Outcome: OutcomeCompleted}
		case ctx.Err() != nil:
			return Result{Outcome: OutcomeCancelled}
		case errors.Is(err, io.ErrUnexpectedEOF):
			// The server closed the stream before the declared length.
			return Result{Outcome: OutcomeFailed, Err: &IncompleteTransferError{Path: t.Path(), Written: w.Written(), Expected: w.Total}}
		default:
			return Result{Outcome: OutcomeFailed, Err: &NetworkError{Operation: "read", URL: t.Descriptor.DownloadURL, Err: readErr(reqCtx, err)}}
		}
	}
}

func (t *Task) startReadDeadline(abort context.CancelCauseFunc) *time.Timer {
	if t.d.readTimeout <= 0 {
		return time.NewTimer(time.Duration(1<<63 - 1))
	}

	return time.AfterFunc(t.d.readTimeout, func() { abort(errReadTimeout) })
}

func (t *Task) resetReadDeadline(deadline *time.Timer) {
	if t.d.readTimeout > 0 {
		deadline.Reset(t.d.readTimeout)
	}
}

func (t *Task) finish(res Result, sink ProgressSink) {
	status := res.Outcome.status()

	fraction := 0.0
	if status == StatusCompleted {
		fraction = 1
	}

	t.setState(status, fraction, res.Err)

	sink.TaskChanged(TaskUpdate{
		TaskID:   t.ID,
		Path:     t.Path(),
		Status:   status,
		Progress: fraction,
		Written:  res.Written,
		Total:    res.Total,
		Outcome:  res.Outcome,
		Err:      res.Err,
	})
}

// markScheduled queues the task for a batch run.
func (t *Task) markScheduled(sink ProgressSink) {
	t.setState(StatusScheduled, 0, nil)
	sink.TaskChanged(TaskUpdate{TaskID: t.ID, Path: t.Path(), Status: StatusScheduled})
}

// unschedule returns a queued task that the batch had to skip. A task that
// has moved on belongs to whoever moved it and is left alone.
func (t *Task) unschedule(sink ProgressSink) {
	t.mu.Lock()
	if t.status != StatusScheduled {
		t.mu.Unlock()

		return
	}
	t.status = StatusNotStarted
	t.progress = 0
	t.mu.Unlock()

	sink.TaskChanged(TaskUpdate{TaskID: t.ID, Path: t.Path(), Status: StatusNotStarted})
}

// markCancelled ends a queued task that never started.
func (t *Task) markCancelled(sink ProgressSink) {
	t.finish(Result{Outcome: OutcomeCancelled}, sink)
}

func (t *Task) setState(status Status, progress float64, err error) {
	t.mu.Lock()
	t.status = status
	t.progress = progress
	t.lastErr = err
	t.mu.Unlock()
}

// readErr prefers the read deadline over the generic cancellation error.
func readErr(reqCtx context.Context, err error) error {
	if cause := context.Cause(reqCtx); errors.Is(cause, errReadTimeout) {
		return fmt.Errorf("%w: %w", errReadTimeout, err)
	}

	return err
}

func removePartial(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return &FilesystemError{Operation: "remove", Path: path, Err: err}
	}

	return nil
}

// fileExists only accepts regular files, so a path resolving to a
// directory is never taken for a finished episode.
func fileExists(path string) bool {
	info, err := os.Stat(path)

	return err == nil && info.Mode().IsRegular()
}

func sizeLabel(total int64) string {
	if total <= 0 {
		return "unknown"
	}

	return humanize.Bytes(uint64(total))
}
