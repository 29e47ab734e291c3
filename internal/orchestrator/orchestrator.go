package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/italolelis/podcast_downloader/internal/cancel"
	"github.com/italolelis/podcast_downloader/internal/downloader"
	"github.com/italolelis/podcast_downloader/internal/episode"
	"github.com/italolelis/podcast_downloader/internal/logctx"
	"github.com/italolelis/podcast_downloader/internal/storage"
	"github.com/italolelis/podcast_downloader/internal/telemetry"
)

var (
	ErrEpisodeNotFound = errors.New("episode not found")
	ErrNoPodcast       = errors.New("no podcast loaded")
	// ErrBusy is returned when the episode list is replaced while downloads run.
	ErrBusy = errors.New("downloads are running")
)

const eventBuffer = 64

// EpisodeView is the displayed state of one episode.
type EpisodeView struct {
	ID          string            `json:"id"`
	Number      int               `json:"number"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	ImageURL    string            `json:"image_url,omitempty"`
	PubDate     string            `json:"pub_date,omitempty"`
	Filename    string            `json:"filename"`
	Path        string            `json:"path"`
	Status      downloader.Status `json:"status"`
	Progress    float64           `json:"progress"`
	Downloaded  bool              `json:"downloaded"`
	Error       string            `json:"error,omitempty"`
}

// BatchState is the displayed state of the batch run.
type BatchState struct {
	Running    bool                    `json:"running"`
	Completed  int                     `json:"completed"`
	Queued     int                     `json:"queued"`
	Progress   float64                 `json:"progress"`
	LastResult *downloader.BatchResult `json:"last_result,omitempty"`
	LastError  string                  `json:"last_error,omitempty"`
}

// BatchSummary is emitted once per finished batch run.
type BatchSummary struct {
	Podcast string
	Result  downloader.BatchResult
	Err     error
}

// Message is the human readable outcome of the run.
func (s BatchSummary) Message() string {
	switch {
	case s.Err != nil:
		return fmt.Sprintf("❌ Error during download of %s: %v", s.Podcast, s.Err)
	case s.Result.NothingToDo:
		return fmt.Sprintf("ℹ️ All visible episodes of %s are already downloaded or the list is empty.", s.Podcast)
	case s.Result.Interrupted:
		return fmt.Sprintf("🛑 Batch download of %s cancelled (%d of %d done).", s.Podcast, s.Result.Completed, s.Result.Queued)
	case s.Result.Failed > 0:
		return fmt.Sprintf("⚠️ Downloads of %s finished: %d completed, %d failed.", s.Podcast, s.Result.Completed, s.Result.Failed)
	default:
		return fmt.Sprintf("✅ All downloads of %s complete! (%d episodes)", s.Podcast, s.Result.Completed)
	}
}

// EpisodeFailure is emitted when a download fails.
type EpisodeFailure struct {
	Podcast string
	Title   string
	Err     error
}

// Orchestrator owns the loaded episode list, the batch signal and one signal
// per episode, and runs downloads in the background.
type Orchestrator struct {
	ctx         context.Context
	downloader  *downloader.Downloader
	coordinator *downloader.Coordinator
	history     storage.DownloadWriteRepository
	headers     http.Header
	sink        downloader.ProgressSink

	mu       sync.RWMutex
	podcast  storage.Podcast
	tasks    []*downloader.Task
	byID     map[string]*downloader.Task
	taskSigs map[string]*cancel.Signal
	batchSig *cancel.Signal
	batch    BatchState

	// batchArmed is set once the coordinator cleared the signal for the
	// current run. A cancel arriving earlier would be wiped by that clear, so
	// it aborts the run context through batchAbort instead.
	batchArmed bool
	batchAbort context.CancelFunc

	wg sync.WaitGroup

	OnEpisodeFailed chan EpisodeFailure
	OnBatchFinished chan BatchSummary
}

// New creates an orchestrator whose background downloads stop when ctx is done.
func New(
	ctx context.Context,
	d *downloader.Downloader,
	history storage.DownloadWriteRepository,
	tel *telemetry.Telemetry,
	sink downloader.ProgressSink,
) *Orchestrator {
	if sink == nil {
		sink = downloader.NopSink{}
	}

	o := &Orchestrator{
		ctx:             ctx,
		downloader:      d,
		history:         history,
		headers:         http.Header{},
		sink:            sink,
		byID:            make(map[string]*downloader.Task),
		taskSigs:        make(map[string]*cancel.Signal),
		batchSig:        cancel.New(),
		OnEpisodeFailed: make(chan EpisodeFailure, eventBuffer),
		OnBatchFinished: make(chan BatchSummary, eventBuffer),
	}

	o.coordinator = downloader.NewCoordinator(o, tel)

	return o
}

// Podcast returns the profile whose episodes are loaded.
func (o *Orchestrator) Podcast() storage.Podcast {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return o.podcast
}

// LoadEpisodes replaces the episode list with the audio items of a feed.
func (o *Orchestrator) LoadEpisodes(podcast storage.Podcast, items []episode.Item, order episode.Order) ([]EpisodeView, error) {
	if err := podcast.Validate(); err != nil {
		return nil, err
	}

	descs := episode.Build(items, podcast.DownloadDir, order)
	tasks := o.downloader.NewTasks(descs)

	o.mu.Lock()

	if o.busyLocked() {
		o.mu.Unlock()

		return nil, ErrBusy
	}

	o.podcast = podcast
	o.tasks = tasks
	o.byID = make(map[string]*downloader.Task, len(tasks))
	o.taskSigs = make(map[string]*cancel.Signal, len(tasks))

	for _, t := range tasks {
		o.byID[t.ID] = t
		o.taskSigs[t.ID] = cancel.New()
	}

	o.batch = BatchState{}
	o.mu.Unlock()

	return o.Episodes(""), nil
}

// Episodes lists the loaded episodes matching term in display order.
func (o *Orchestrator) Episodes(term string) []EpisodeView {
	o.mu.RLock()
	defer o.mu.RUnlock()

	views := make([]EpisodeView, 0, len(o.tasks))

	for _, t := range o.tasks {
		if t.Descriptor.Matches(term) {
			views = append(views, view(t))
		}
	}

	return views
}

// Episode returns a single episode by ID.
func (o *Orchestrator) Episode(id string) (EpisodeView, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	t, ok := o.byID[id]
	if !ok {
		return EpisodeView{}, ErrEpisodeNotFound
	}

	return view(t), nil
}

// BatchState returns the current batch progress.
func (o *Orchestrator) BatchState() BatchState {
	o.mu.RLock()
	defer o.mu.RUnlock()

	return o.batch
}

// StartBatch downloads every loaded episode matching term that is not on
// disk yet. It returns once the run is scheduled.
func (o *Orchestrator) StartBatch(ctx context.Context, term string) error {
	o.mu.Lock()

	if o.podcast.Name == "" {
		o.mu.Unlock()

		return ErrNoPodcast
	}

	if o.batch.Running {
		o.mu.Unlock()

		return downloader.ErrBatchRunning
	}

	var tasks []*downloader.Task

	for _, t := range o.tasks {
		if t.Descriptor.Matches(term) {
			tasks = append(tasks, t)
		}
	}

	runCtx, stop := o.detach(ctx)

	o.batch = BatchState{Running: true}
	o.batchArmed = false
	o.batchAbort = stop
	podcast := o.podcast.Name
	sig := o.batchSig
	o.mu.Unlock()

	o.wg.Add(1)

	go func() {
		defer o.wg.Done()
		defer stop()

		logger := logctx.LoggerFromContext(runCtx).With("podcast", podcast)

		res, err := o.coordinator.RunBatch(logctx.WithLogger(runCtx, logger), tasks, sig, o.headers)
		if err != nil {
			logger.Error("batch download failed", "err", err)
		}

		o.mu.Lock()
		o.batch.Running = false
		o.batch.Progress = res.Progress
		o.batch.LastResult = &res

		if err != nil {
			o.batch.LastError = err.Error()
		}
		o.mu.Unlock()

		o.emitBatch(BatchSummary{Podcast: podcast, Result: res, Err: err})
	}()

	return nil
}

// CancelBatch asks the running batch to stop. The episode being downloaded
// stops at its next chunk. It reports whether a batch was running.
func (o *Orchestrator) CancelBatch() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if !o.batch.Running {
		return false
	}

	o.batchSig.Set()

	if !o.batchArmed {
		o.batchAbort()
	}

	return true
}

// StartEpisode downloads a single episode in the background. It is
// independent of any batch run.
func (o *Orchestrator) StartEpisode(ctx context.Context, id string) error {
	o.mu.RLock()
	t, ok := o.byID[id]
	sig := o.taskSigs[id]
	podcast := o.podcast.Name
	o.mu.RUnlock()

	if !ok {
		return ErrEpisodeNotFound
	}

	if o.downloader.Busy(t.Path()) {
		return downloader.ErrDownloadInProgress
	}

	sig.Clear()

	runCtx, stop := o.detach(ctx)

	o.wg.Add(1)

	go func() {
		defer o.wg.Done()
		defer stop()

		logger := logctx.LoggerFromContext(runCtx).With("podcast", podcast)

		res := t.Download(logctx.WithLogger(runCtx, logger), o.headers, sig, o)
		if errors.Is(res.Err, downloader.ErrDownloadInProgress) {
			logger.Warn("episode download rejected", "task_id", t.ID, "err", res.Err)
		}
	}()

	return nil
}

// CancelEpisode asks an individual download to stop at its next chunk.
func (o *Orchestrator) CancelEpisode(id string) error {
	o.mu.RLock()
	defer o.mu.RUnlock()

	sig, ok := o.taskSigs[id]
	if !ok {
		return ErrEpisodeNotFound
	}

	sig.Set()

	return nil
}

// Wait blocks until every background download returned.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// TaskChanged records terminal outcomes and forwards every update.
func (o *Orchestrator) TaskChanged(u downloader.TaskUpdate) {
	o.sink.TaskChanged(u)

	if u.Status == downloader.StatusScheduled {
		o.armBatch()
	}

	if !u.Terminal() {
		return
	}

	o.mu.RLock()
	podcast := o.podcast.Name
	t := o.byID[u.TaskID]
	o.mu.RUnlock()

	switch u.Outcome {
	case downloader.OutcomeCompleted:
		if o.history == nil {
			return
		}

		// recorded even when shutdown started after the last chunk
		if err := o.history.TrackDownload(context.WithoutCancel(o.ctx), podcast, u.Path); err != nil {
			logctx.LoggerFromContext(o.ctx).Error("failed to track download", "file_path", u.Path, "err", err)
		}
	case downloader.OutcomeFailed:
		title := u.Path
		if t != nil {
			title = t.Descriptor.Title
		}

		select {
		case o.OnEpisodeFailed <- EpisodeFailure{Podcast: podcast, Title: title, Err: u.Err}:
		default:
		}
	}
}

// BatchProgress mirrors aggregate progress into the batch state.
func (o *Orchestrator) BatchProgress(u downloader.BatchUpdate) {
	o.sink.BatchProgress(u)

	o.mu.Lock()
	o.batchArmed = true
	o.batch.Completed = u.Completed
	o.batch.Queued = u.Queued
	o.batch.Progress = u.Progress
	o.mu.Unlock()
}

// armBatch records that the coordinator cleared the batch signal. Only the
// coordinator schedules tasks, and it does so after the clear.
func (o *Orchestrator) armBatch() {
	o.mu.Lock()
	o.batchArmed = true
	o.mu.Unlock()
}

func (o *Orchestrator) emitBatch(s BatchSummary) {
	select {
	case o.OnBatchFinished <- s:
	default:
		logctx.LoggerFromContext(o.ctx).Warn("dropping batch summary, no listener")
	}
}

// busyLocked reports whether any download is running. Callers hold o.mu.
func (o *Orchestrator) busyLocked() bool {
	if o.batch.Running {
		return true
	}

	for _, t := range o.tasks {
		if t.Status() == downloader.StatusInProgress {
			return true
		}
	}

	return false
}

// detach keeps the values of ctx, such as the logger and trace, but ties
// cancellation to the orchestrator's lifetime instead of the caller's.
func (o *Orchestrator) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	runCtx, cancelRun := context.WithCancel(context.WithoutCancel(ctx))
	stopAfter := context.AfterFunc(o.ctx, cancelRun)

	return runCtx, func() {
		stopAfter()
		cancelRun()
	}
}

func view(t *downloader.Task) EpisodeView {
	snap := t.Snapshot()

	v := EpisodeView{
		ID:          t.ID,
		Number:      t.Descriptor.Number,
		Title:       t.Descriptor.Title,
		Description: t.Descriptor.Description,
		ImageURL:    t.Descriptor.ImageURL,
		PubDate:     t.Descriptor.PubDate,
		Filename:    t.Descriptor.Filename,
		Path:        snap.Path,
		Status:      snap.Status,
		Progress:    snap.Progress,
		Downloaded:  t.Exists(),
	}

	if snap.Err != nil {
		v.Error = snap.Err.Error()
	}

	return v
}
