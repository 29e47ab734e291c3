package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"github.com/italolelis/podcast_downloader/internal/downloader"
	"github.com/italolelis/podcast_downloader/internal/episode"
	"github.com/italolelis/podcast_downloader/internal/logctx"
	"github.com/italolelis/podcast_downloader/internal/orchestrator"
	"github.com/italolelis/podcast_downloader/internal/storage"
)

const maxFeedBody = 16 * 1024 * 1024

// EpisodeLoader replaces the displayed episode list.
type EpisodeLoader interface {
	LoadEpisodes(podcast storage.Podcast, items []episode.Item, order episode.Order) ([]orchestrator.EpisodeView, error)
}

type podcastResponse struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	FeedURL     string `json:"feed_url"`
	DownloadDir string `json:"download_dir"`
	Username    string `json:"username,omitempty"`
	HasPassword bool   `json:"has_password"`
}

func toPodcastResponse(p storage.Podcast) podcastResponse {
	return podcastResponse{
		ID:          p.ID,
		Name:        p.Name,
		FeedURL:     p.FeedURL,
		DownloadDir: p.DownloadDir,
		Username:    p.Username,
		HasPassword: p.Password != "",
	}
}

type PodcastHandler struct {
	repo   storage.PodcastRepository
	loader EpisodeLoader
	// profiles saved without a download dir get a folder named after them here
	rootDir string
}

func NewPodcastHandler(repo storage.PodcastRepository, loader EpisodeLoader, rootDir string) *PodcastHandler {
	return &PodcastHandler{repo: repo, loader: loader, rootDir: rootDir}
}

func (h *PodcastHandler) Routes() http.Handler {
	r := chi.NewRouter()

	r.Get("/", h.List)
	r.Route("/{name}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Put("/", h.Save)
		r.Delete("/", h.Delete)
		r.Get("/feed", h.Feed)
		r.Post("/episodes", h.LoadEpisodes)
	})

	return r
}

func (h *PodcastHandler) List(w http.ResponseWriter, r *http.Request) {
	podcasts, err := h.repo.GetPodcasts(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)

		return
	}

	out := make([]podcastResponse, 0, len(podcasts))
	for _, p := range podcasts {
		out = append(out, toPodcastResponse(p))
	}

	writeJSON(w, r, http.StatusOK, out)
}

func (h *PodcastHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.repo.GetPodcast(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, statusFor(err), err)

		return
	}

	writeJSON(w, r, http.StatusOK, toPodcastResponse(p))
}

// Save creates or replaces the profile named in the path.
func (h *PodcastHandler) Save(w http.ResponseWriter, r *http.Request) {
	var p storage.Podcast
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))

		return
	}

	p.Name = chi.URLParam(r, "name")
	if p.DownloadDir == "" && h.rootDir != "" {
		// names such as ".." get no default and fail validation
		if dir := episode.SanitizeFilename(p.Name); dir != "" {
			p.DownloadDir = filepath.Join(h.rootDir, dir)
		}
	}

	if err := p.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, err)

		return
	}

	saved, err := h.repo.SavePodcast(r.Context(), p)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, err)

		return
	}

	logctx.LoggerFromContext(r.Context()).Info("podcast saved", "podcast", saved.Name)

	writeJSON(w, r, http.StatusOK, toPodcastResponse(saved))
}

func (h *PodcastHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.DeletePodcast(r.Context(), chi.URLParam(r, "name")); err != nil {
		writeError(w, r, statusFor(err), err)

		return
	}

	w.WriteHeader(http.StatusNoContent)
}

type feedResponse struct {
	Name    string `json:"name"`
	FeedURL string `json:"feed_url"`
}

// Feed hands the feed parser the URL to fetch, credentials included.
func (h *PodcastHandler) Feed(w http.ResponseWriter, r *http.Request) {
	p, err := h.repo.GetPodcast(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, statusFor(err), err)

		return
	}

	feedURL, err := p.AuthenticatedFeedURL()
	if err != nil {
		writeError(w, r, http.StatusUnprocessableEntity, fmt.Errorf("invalid feed url: %w", err))

		return
	}

	writeJSON(w, r, http.StatusOK, feedResponse{Name: p.Name, FeedURL: feedURL})
}

// LoadEpisodes takes the items of a parsed feed and makes them the current episode list.
func (h *PodcastHandler) LoadEpisodes(w http.ResponseWriter, r *http.Request) {
	p, err := h.repo.GetPodcast(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, statusFor(err), err)

		return
	}

	order := episode.Order(r.URL.Query().Get("order"))
	switch order {
	case "":
		order = episode.OrderAsc
	case episode.OrderAsc, episode.OrderDesc:
	default:
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid order %q", order))

		return
	}

	var items []episode.Item
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxFeedBody)).Decode(&items); err != nil {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))

		return
	}

	views, err := h.loader.LoadEpisodes(p, items, order)
	if err != nil {
		writeError(w, r, statusFor(err), err)

		return
	}

	logctx.LoggerFromContext(r.Context()).Info("episodes loaded", "podcast", p.Name, "episodes", len(views))

	writeJSON(w, r, http.StatusOK, views)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, orchestrator.ErrEpisodeNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrNoPodcast):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrBusy),
		errors.Is(err, downloader.ErrBatchRunning),
		errors.Is(err, downloader.ErrDownloadInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
