package handlers

import (
	"context"
	"encoding/json"
	"log"
	"net/http"

	"watchbridge/models"
	"watchbridge/services/plex"
	syncsvc "watchbridge/services/sync"
)

type scrobbleService interface {
	StartSession(ctx context.Context, session models.WatchSession) error
	UpdateProgress(ctx context.Context, session models.WatchSession) error
	EndSession(ctx context.Context, session models.WatchSession) error
}

var _ scrobbleService = (*syncsvc.Scrobbler)(nil)

type sessionLister interface {
	GetCurrentSessions(ctx context.Context) ([]models.WatchSession, error)
}

var _ sessionLister = (*plex.Client)(nil)

type ScrobbleHandler struct {
	Service  scrobbleService
	Sessions sessionLister
	Enabled  bool
}

func NewScrobbleHandler(service scrobbleService, sessions sessionLister, enabled bool) *ScrobbleHandler {
	return &ScrobbleHandler{Service: service, Sessions: sessions, Enabled: enabled}
}

type scrobbleEvent struct {
	Event   string              `json:"event"` // "start", "progress", "stop"
	Session models.WatchSession `json:"session"`
}

// Handle receives a playback event and dispatches it to the scrobbler.
// Pause is not a separate event: a progress event whose session state is
// "paused" maps to the pause operation.
func (h *ScrobbleHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if !h.Enabled {
		http.Error(w, "scrobbling is disabled", http.StatusServiceUnavailable)
		return
	}

	var event scrobbleEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	var err error
	switch event.Event {
	case "start":
		err = h.Service.StartSession(r.Context(), event.Session)
	case "progress":
		err = h.Service.UpdateProgress(r.Context(), event.Session)
	case "stop":
		err = h.Service.EndSession(r.Context(), event.Session)
	default:
		http.Error(w, "unknown event type", http.StatusBadRequest)
		return
	}
	if err != nil {
		log.Printf("[scrobble] %s event for %q failed: %v", event.Event, event.Session.Title, err)
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListSessions returns the source server's active playback sessions.
func (h *ScrobbleHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.Sessions.GetCurrentSessions(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, sessions)
}
