package rest

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"

	"github.com/italolelis/podcast_downloader/internal/logctx"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}

func writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		logctx.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
	}

	writeJSON(w, r, status, errorResponse{Error: err.Error()})
}

// BasicAuth rejects requests without the given credentials. An empty
// username disables the check.
func BasicAuth(username, password string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if username == "" {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			u, p, ok := r.BasicAuth()
			if !ok {
				w.Header().Set("WWW-Authenticate", `Basic realm="podcast_downloader"`)
				http.Error(w, "invalid authorization format", http.StatusUnauthorized)

				return
			}

			if subtle.ConstantTimeCompare([]byte(u), []byte(username)) != 1 ||
				subtle.ConstantTimeCompare([]byte(p), []byte(password)) != 1 {
				http.Error(w, "invalid username or password", http.StatusUnauthorized)

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
