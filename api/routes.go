package api

import (
	"net/http"

	"watchbridge/handlers"

	"github.com/gorilla/mux"
)

// corsMiddleware handles CORS for API routes.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handlers bundles the handler set wired by main.
type Handlers struct {
	Sync     *handlers.SyncHandler
	Scrobble *handlers.ScrobbleHandler
	Trakt    *handlers.TraktHandler
}

// NewRouter builds the HTTP route table.
func NewRouter(h Handlers) *mux.Router {
	r := mux.NewRouter()
	r.Use(corsMiddleware)

	apiRouter := r.PathPrefix("/api").Subrouter()

	apiRouter.HandleFunc("/sync/full", h.Sync.FullSync).Methods(http.MethodPost, http.MethodOptions)
	apiRouter.HandleFunc("/sync/incremental", h.Sync.IncrementalSync).Methods(http.MethodPost, http.MethodOptions)
	apiRouter.HandleFunc("/sync/status", h.Sync.Status).Methods(http.MethodGet, http.MethodOptions)

	apiRouter.HandleFunc("/scrobble", h.Scrobble.Handle).Methods(http.MethodPost, http.MethodOptions)
	apiRouter.HandleFunc("/sessions", h.Scrobble.ListSessions).Methods(http.MethodGet, http.MethodOptions)

	apiRouter.HandleFunc("/trakt/auth/url", h.Trakt.AuthURL).Methods(http.MethodGet, http.MethodOptions)
	apiRouter.HandleFunc("/trakt/auth/exchange", h.Trakt.Exchange).Methods(http.MethodPost, http.MethodOptions)
	apiRouter.HandleFunc("/trakt/user", h.Trakt.User).Methods(http.MethodGet, http.MethodOptions)
	apiRouter.HandleFunc("/trakt/stats", h.Trakt.Stats).Methods(http.MethodGet, http.MethodOptions)
	apiRouter.HandleFunc("/search", h.Trakt.Search).Methods(http.MethodGet, http.MethodOptions)
	apiRouter.HandleFunc("/history", h.Trakt.RemoveHistory).Methods(http.MethodDelete, http.MethodOptions)

	r.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	return r
}
