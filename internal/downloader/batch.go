package downloader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/italolelis/podcast_downloader/internal/cancel"
	"github.com/italolelis/podcast_downloader/internal/logctx"
	"github.com/italolelis/podcast_downloader/internal/telemetry"
)

// BatchResult summarizes one batch run.
type BatchResult struct {
	Queued         int
	Completed      int
	Cancelled      int
	Failed         int
	AlreadyPresent int
	// Busy counts tasks left to a download that was already writing them.
	Busy     int
	Progress float64
	// NothingToDo is set when every task was already on disk.
	NothingToDo bool
	// Interrupted is set when the signal or the context stopped the run.
	Interrupted bool
}

// Status is the label batch runs are recorded under.
func (r BatchResult) Status() string {
	switch {
	case r.NothingToDo:
		return "nothing_to_do"
	case r.Interrupted:
		return "cancelled"
	case r.Failed > 0:
		return "partial"
	default:
		return "completed"
	}
}

// Coordinator downloads a queue of tasks one at a time.
type Coordinator struct {
	sink      ProgressSink
	telemetry *telemetry.Telemetry
	running   atomic.Bool
}

func NewCoordinator(sink ProgressSink, tel *telemetry.Telemetry) *Coordinator {
	if sink == nil {
		sink = NopSink{}
	}

	return &Coordinator{sink: sink, telemetry: tel}
}

// Running reports whether a batch is in progress.
func (c *Coordinator) Running() bool {
	return c.running.Load()
}

// RunBatch clears sig, skips tasks whose file already exists and downloads
// the rest in order. Once sig is set the current task stops at the next
// chunk and every remaining task is cancelled without touching the network.
func (c *Coordinator) RunBatch(ctx context.Context, tasks []*Task, sig *cancel.Signal, headers http.Header) (res BatchResult, err error) {
	if !c.running.CompareAndSwap(false, true) {
		return BatchResult{}, ErrBatchRunning
	}
	defer c.running.Store(false)

	if sig == nil {
		sig = cancel.New()
	}

	logger := logctx.LoggerFromContext(ctx)

	err = c.telemetry.InstrumentBatch(ctx, func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("batch download panicked", "panic", r)

				err = &BatchError{Err: fmt.Errorf("panic: %v", r)}
			}
		}()

		res = c.run(ctx, tasks, sig, headers)

		return nil
	})
	if err != nil {
		c.telemetry.RecordSystemError("coordinator", "panic")

		return res, err
	}

	c.telemetry.RecordBatchRun(res.Status(), res.Queued)

	return res, nil
}

func (c *Coordinator) run(ctx context.Context, tasks []*Task, sig *cancel.Signal, headers http.Header) BatchResult {
	logger := logctx.LoggerFromContext(ctx)

	sig.Clear()

	var res BatchResult

	queue := make([]*Task, 0, len(tasks))

	for _, t := range tasks {
		if t.d.Busy(t.Path()) {
			res.Busy++

			continue
		}

		if t.Exists() {
			res.AlreadyPresent++

			continue
		}

		queue = append(queue, t)
	}

	res.Queued = len(queue)

	if res.Queued == 0 {
		logger.Info("no episodes to download", "already_present", res.AlreadyPresent, "busy", res.Busy)

		res.NothingToDo = true
		c.sink.BatchProgress(BatchUpdate{Done: true})

		return res
	}

	for _, t := range queue {
		t.markScheduled(c.sink)
	}

	logger.Info("starting batch download", "queued", res.Queued, "already_present", res.AlreadyPresent, "busy", res.Busy)

	finished := 0

	for i, t := range queue {
		if sig.IsSet() || ctx.Err() != nil {
			logger.Info("batch download cancelled", "remaining", len(queue)-i)

			for _, rest := range queue[i:] {
				rest.markCancelled(c.sink)
				res.Cancelled++
			}

			res.Interrupted = true

			break
		}

		tr := t.Download(ctx, headers, sig, c.sink)

		switch tr.Outcome {
		case OutcomeCompleted:
			res.Completed++
		case OutcomeAlreadyPresent:
			res.AlreadyPresent++
		case OutcomeCancelled:
			res.Cancelled++
			res.Interrupted = true
		case OutcomeFailed:
			if errors.Is(tr.Err, ErrDownloadInProgress) {
				res.Busy++
				t.unschedule(c.sink)

				break
			}

			res.Failed++
		default:
			res.Failed++
		}

		finished = i + 1
		res.Progress = float64(finished) / float64(res.Queued)
		c.sink.BatchProgress(BatchUpdate{Completed: finished, Queued: res.Queued, Progress: res.Progress})
	}

	c.sink.BatchProgress(BatchUpdate{
		Completed: finished,
		Queued:    res.Queued,
		Progress:  res.Progress,
		Done:      true,
	})

	return res
}
