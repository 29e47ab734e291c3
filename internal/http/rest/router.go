package rest

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/italolelis/podcast_downloader/internal/telemetry"
)

// Auth holds the optional basic auth credentials of the API.
type Auth struct {
	Username string
	Password string
}

// NewRouter wires the API handlers. /metrics stays outside basic auth so
// scrapers do not need credentials.
func NewRouter(podcasts *PodcastHandler, episodes *EpisodeHandler, tel *telemetry.Telemetry, auth Auth) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(telemetry.RequestID)
	r.Use(telemetry.HTTPLogging)
	r.Use(telemetry.NewHTTPMiddleware(tel).Middleware)

	r.Handle("/metrics", tel.Handler())

	protect := BasicAuth(auth.Username, auth.Password)

	r.Mount("/podcasts", protect(podcasts.Routes()))
	r.Mount("/", protect(episodes.Routes()))

	return r
}
