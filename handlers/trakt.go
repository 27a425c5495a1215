package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"watchbridge/services/trakt"

	"github.com/google/uuid"
)

type traktService interface {
	AuthorizationURL(state string) string
	ExchangeCode(ctx context.Context, code string) (*trakt.TokenResponse, error)
	CurrentUser(ctx context.Context) (*trakt.UserProfile, error)
	Stats(ctx context.Context) (*trakt.UserStats, error)
	Search(ctx context.Context, query, mediaType string, year int) ([]trakt.SearchResult, error)
	RemoveFromHistory(ctx context.Context, request trakt.SyncHistoryRequest) (*trakt.SyncRemoveResponse, error)
}

var _ traktService = (*trakt.Client)(nil)

type TraktHandler struct {
	Service traktService
}

func NewTraktHandler(service traktService) *TraktHandler {
	return &TraktHandler{Service: service}
}

// AuthURL returns the OAuth authorization URL for the user to visit.
func (h *TraktHandler) AuthURL(w http.ResponseWriter, r *http.Request) {
	state := r.URL.Query().Get("state")
	if state == "" {
		state = uuid.NewString()
	}
	writeJSON(w, map[string]string{
		"url":   h.Service.AuthorizationURL(state),
		"state": state,
	})
}

type exchangeRequest struct {
	Code string `json:"code"`
}

// Exchange completes the OAuth flow with the authorization code. The client
// persists the token pair through its refresh callback.
func (h *TraktHandler) Exchange(w http.ResponseWriter, r *http.Request) {
	var req exchangeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		http.Error(w, "authorization code is required", http.StatusBadRequest)
		return
	}

	token, err := h.Service.ExchangeCode(r.Context(), req.Code)
	if err != nil {
		if errors.Is(err, trakt.ErrNotConfigured) {
			http.Error(w, err.Error(), http.StatusPreconditionFailed)
			return
		}
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	writeJSON(w, map[string]any{
		"authorized": true,
		"expiresAt":  token.ExpiresAt(),
	})
}

// User returns the authorized Trakt profile.
func (h *TraktHandler) User(w http.ResponseWriter, r *http.Request) {
	profile, err := h.Service.CurrentUser(r.Context())
	if err != nil {
		writeTraktError(w, err)
		return
	}
	writeJSON(w, profile)
}

// Stats returns the authorized account's watch statistics.
func (h *TraktHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Service.Stats(r.Context())
	if err != nil {
		writeTraktError(w, err)
		return
	}
	writeJSON(w, stats)
}

// Search proxies a title search with optional type and year filters.
func (h *TraktHandler) Search(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}
	mediaType := r.URL.Query().Get("type")
	year := 0
	if yearParam := r.URL.Query().Get("year"); yearParam != "" {
		parsed, err := strconv.Atoi(yearParam)
		if err != nil {
			http.Error(w, "invalid year", http.StatusBadRequest)
			return
		}
		year = parsed
	}

	results, err := h.Service.Search(r.Context(), query, mediaType, year)
	if err != nil {
		writeTraktError(w, err)
		return
	}
	writeJSON(w, results)
}

// RemoveHistory deletes items from the remote watch history.
func (h *TraktHandler) RemoveHistory(w http.ResponseWriter, r *http.Request) {
	var request trakt.SyncHistoryRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	resp, err := h.Service.RemoveFromHistory(r.Context(), request)
	if err != nil {
		writeTraktError(w, err)
		return
	}
	writeJSON(w, resp)
}

func writeTraktError(w http.ResponseWriter, err error) {
	if errors.Is(err, trakt.ErrReauthRequired) {
		http.Error(w, err.Error(), http.StatusUnauthorized)
		return
	}
	http.Error(w, err.Error(), http.StatusBadGateway)
}
