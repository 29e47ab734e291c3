package rest

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/podcast_downloader/internal/orchestrator"
)

// EpisodeService runs and reports episode downloads.
type EpisodeService interface {
	Episodes(term string) []orchestrator.EpisodeView
	Episode(id string) (orchestrator.EpisodeView, error)
	StartEpisode(ctx context.Context, id string) error
	CancelEpisode(id string) error
	StartBatch(ctx context.Context, term string) error
	CancelBatch() bool
	BatchState() orchestrator.BatchState
}

type EpisodeHandler struct {
	svc EpisodeService
}

func NewEpisodeHandler(svc EpisodeService) *EpisodeHandler {
	return &EpisodeHandler{svc: svc}
}

// Routes serves /episodes and /batch.
func (h *EpisodeHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Route("/episodes", func(r chi.Router) {
		r.Get("/", h.List)
		r.Get("/{id}", h.Get)
		r.Post("/{id}/download", h.StartDownload)
		r.Delete("/{id}/download", h.CancelDownload)
	})

	r.Route("/batch", func(r chi.Router) {
		r.Get("/", h.BatchState)
		r.Post("/", h.StartBatch)
		r.Delete("/", h.CancelBatch)
	})

	return r
}

func (h *EpisodeHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.svc.Episodes(r.URL.Query().Get("q")))
}

func (h *EpisodeHandler) Get(w http.ResponseWriter, r *http.Request) {
	v, err := h.svc.Episode(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, statusFor(err), err)

		return
	}

	writeJSON(w, r, http.StatusOK, v)
}

func (h *EpisodeHandler) StartDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.svc.StartEpisode(r.Context(), id); err != nil {
		writeError(w, r, statusFor(err), err)

		return
	}

	v, err := h.svc.Episode(id)
	if err != nil {
		writeError(w, r, statusFor(err), err)

		return
	}

	writeJSON(w, r, http.StatusAccepted, v)
}

func (h *EpisodeHandler) CancelDownload(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.CancelEpisode(chi.URLParam(r, "id")); err != nil {
		writeError(w, r, statusFor(err), err)

		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (h *EpisodeHandler) BatchState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, h.svc.BatchState())
}

// StartBatch downloads the episodes matching the optional q search term.
func (h *EpisodeHandler) StartBatch(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.StartBatch(r.Context(), r.URL.Query().Get("q")); err != nil {
		writeError(w, r, statusFor(err), err)

		return
	}

	writeJSON(w, r, http.StatusAccepted, h.svc.BatchState())
}

func (h *EpisodeHandler) CancelBatch(w http.ResponseWriter, r *http.Request) {
	if !h.svc.CancelBatch() {
		writeJSON(w, r, http.StatusConflict, errorResponse{Error: "no batch download is running"})

		return
	}

	w.WriteHeader(http.StatusAccepted)
}
