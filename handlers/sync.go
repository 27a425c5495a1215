package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"watchbridge/models"
	syncsvc "watchbridge/services/sync"
)

type syncService interface {
	FullSync(ctx context.Context, opts models.SyncOptions) (models.SyncResult, error)
	IncrementalSync(ctx context.Context, since time.Time, opts models.SyncOptions) (models.SyncResult, error)
	Status() models.SyncStatus
}

var _ syncService = (*syncsvc.Engine)(nil)

type SyncHandler struct {
	Service syncService
}

func NewSyncHandler(service syncService) *SyncHandler {
	return &SyncHandler{Service: service}
}

// FullSync triggers a full reconciliation run. Returns 409 when a run is
// already active.
func (h *SyncHandler) FullSync(w http.ResponseWriter, r *http.Request) {
	var opts models.SyncOptions
	if r.Body != nil {
		// An empty body means default options.
		if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	result, err := h.Service.FullSync(r.Context(), opts)
	if err != nil {
		if errors.Is(err, syncsvc.ErrSyncInProgress) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, result)
}

type incrementalSyncRequest struct {
	Since   time.Time          `json:"since"`
	Options models.SyncOptions `json:"options"`
}

// IncrementalSync triggers a run restricted to items viewed after "since".
func (h *SyncHandler) IncrementalSync(w http.ResponseWriter, r *http.Request) {
	var req incrementalSyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.Since.IsZero() {
		http.Error(w, "since timestamp is required", http.StatusBadRequest)
		return
	}

	result, err := h.Service.IncrementalSync(r.Context(), req.Since, req.Options)
	if err != nil {
		if errors.Is(err, syncsvc.ErrSyncInProgress) {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	writeJSON(w, result)
}

// Status reports whether a run is active.
func (h *SyncHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.Service.Status())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
