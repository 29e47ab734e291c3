package downloader

import (
	"context"
	"log/slog"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/podcast_downloader/internal/logctx"
)

// TaskUpdate describes a change in a task's displayed state.
type TaskUpdate struct {
	TaskID   string
	Path     string
	Status   Status
	Progress float64 // [0,1], or -1 while the total size is unknown
	Written  int64
	Total    int64
	Outcome  Outcome // set only on the terminal report of a call
	Err      error
}

// Terminal reports whether this update closes a Download call.
func (u TaskUpdate) Terminal() bool {
	return u.Outcome != ""
}

// BatchUpdate describes aggregate progress of a batch run.
type BatchUpdate struct {
	Completed int
	Queued    int
	Progress  float64
	Done      bool
}

// ProgressSink receives one-way progress notifications. Implementations must
// not block for long since they are called from the download loop.
type ProgressSink interface {
	TaskChanged(u TaskUpdate)
	BatchProgress(u BatchUpdate)
}

// NopSink discards every notification.
type NopSink struct{}

func (NopSink) TaskChanged(TaskUpdate) {}
func (NopSink) BatchProgress(BatchUpdate) {}

// MultiSink fans notifications out to several sinks in order.
type MultiSink []ProgressSink

func (m MultiSink) TaskChanged(u TaskUpdate) {
	for _, s := range m {
		s.TaskChanged(u)
	}
}

func (m MultiSink) BatchProgress(u BatchUpdate) {
	for _, s := range m {
		s.BatchProgress(u)
	}
}

// LogSink writes terminal task reports and batch progress to the logger found
// in the context. Intermediate chunk reports are logged at debug level.
type LogSink struct {
	logger *slog.Logger
}

func NewLogSink(ctx context.Context) *LogSink {
	return &LogSink{logger: logctx.LoggerFromContext(ctx)}
}

func (s *LogSink) TaskChanged(u TaskUpdate) {
	logger := s.logger.With("task_id", u.TaskID, "file_path", u.Path)

	switch u.Outcome {
	case "":
		if u.Status == StatusInProgress && u.Written > 0 {
			args := []any{"downloaded", humanize.Bytes(uint64(u.Written))}
			if u.Total > 0 {
				args = append(args,
					"total", humanize.Bytes(uint64(u.Total)),
					"percent", humanize.FtoaWithDigits(u.Progress*100, 2))
			}

			logger.Debug("download progress", args...)
		}
	case OutcomeFailed:
		logger.Error("episode download failed", "err", u.Err)
	default:
		logger.Info("episode download finished", "outcome", u.Outcome, "size", humanize.Bytes(uint64(u.Written)))
	}
}

func (s *LogSink) BatchProgress(u BatchUpdate) {
	msg, level := "batch progress", slog.LevelDebug
	if u.Done {
		msg, level = "batch finished", slog.LevelInfo
	}

	s.logger.Log(context.Background(), level, msg,
		"completed", u.Completed,
		"queued", u.Queued,
		"progress", humanize.FtoaWithDigits(u.Progress, 2))
}
