package trakt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"
)

const (
	traktAPIBaseURL = "https://api.trakt.tv"
	traktAuthURL    = "https://trakt.tv/oauth/authorize"
	traktAPIVersion = "2"

	defaultBackoffMultiplier = 2.0
	defaultRetryAfter        = 1 * time.Second
	maxRequestDelay          = 5 * time.Minute
)

// Client issues authenticated calls to the Trakt API. Two behaviors wrap
// every outbound request:
//
//   - rate-limit pacing: requests are spaced by a delay that grows whenever
//     the server answers 429 with a Retry-After advisory, and never shrinks
//     for the lifetime of the client (capped at maxRequestDelay);
//   - credential refresh: a 401 on an authorized call triggers one refresh
//     exchange and one replay with the new access token.
//
// Each original call gets at most one rate-limit retry and one refresh
// retry.
type Client struct {
	httpClient *http.Client
	baseURL    string

	clientID     string
	clientSecret string
	redirectURI  string

	// mu guards the token pair and the limiter state below. The limiter
	// state is read before and written after every request.
	mu           sync.Mutex
	accessToken  string
	refreshToken string
	currentDelay time.Duration
	lastRequest  time.Time

	backoffMultiplier float64
	maxDelay          time.Duration
	sleep             func(time.Duration)

	onTokenRefresh func(accessToken, refreshToken string, expiresAt int64)
}

// NewClient creates a new Trakt API client.
func NewClient(clientID, clientSecret, redirectURI string) *Client {
	return &Client{
		httpClient:        &http.Client{Timeout: 30 * time.Second},
		baseURL:           traktAPIBaseURL,
		clientID:          clientID,
		clientSecret:      clientSecret,
		redirectURI:       redirectURI,
		backoffMultiplier: defaultBackoffMultiplier,
		maxDelay:          maxRequestDelay,
		sleep:             time.Sleep,
	}
}

// HasCredentials reports whether application credentials are configured.
func (c *Client) HasCredentials() bool {
	return c.clientID != "" && c.clientSecret != ""
}

// SetTokens installs a cached access/refresh token pair.
func (c *Client) SetTokens(accessToken, refreshToken string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accessToken = accessToken
	c.refreshToken = refreshToken
}

// OnTokenRefresh registers a callback invoked whenever the client obtains a
// new token pair, so the owner can persist it.
func (c *Client) OnTokenRefresh(fn func(accessToken, refreshToken string, expiresAt int64)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onTokenRefresh = fn
}

// CurrentDelay returns the limiter's inter-request delay.
func (c *Client) CurrentDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentDelay
}

// AuthorizationURL builds the OAuth authorization URL the user must visit.
func (c *Client) AuthorizationURL(state string) string {
	params := url.Values{}
	params.Set("response_type", "code")
	params.Set("client_id", c.clientID)
	params.Set("redirect_uri", c.redirectURI)
	params.Set("state", state)
	return traktAuthURL + "?" + params.Encode()
}

// ExchangeCode exchanges an authorization code for a token pair and caches
// the result on the client.
func (c *Client) ExchangeCode(ctx context.Context, code string) (*TokenResponse, error) {
	if !c.HasCredentials() {
		return nil, ErrNotConfigured
	}
	payload := map[string]string{
		"code":          code,
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"redirect_uri":  c.redirectURI,
		"grant_type":    "authorization_code",
	}
	var token TokenResponse
	if err := c.do(ctx, http.MethodPost, "/oauth/token", payload, false, &token); err != nil {
		return nil, fmt.Errorf("trakt code exchange: %w", err)
	}
	c.storeTokens(&token)
	return &token, nil
}

// refreshAccessToken exchanges the cached refresh token for a new pair.
// Callers hold no locks; token state is swapped under the client mutex.
func (c *Client) refreshAccessToken(ctx context.Context) error {
	c.mu.Lock()
	refreshToken := c.refreshToken
	c.mu.Unlock()

	if refreshToken == "" {
		return ErrReauthRequired
	}

	payload := map[string]string{
		"refresh_token": refreshToken,
		"client_id":     c.clientID,
		"client_secret": c.clientSecret,
		"redirect_uri":  c.redirectURI,
		"grant_type":    "refresh_token",
	}
	var token TokenResponse
	if err := c.do(ctx, http.MethodPost, "/oauth/token", payload, false, &token); err != nil {
		log.Printf("[trakt] token refresh failed: %v", err)
		return fmt.Errorf("%w: refresh failed", ErrReauthRequired)
	}
	c.storeTokens(&token)
	return nil
}

func (c *Client) storeTokens(token *TokenResponse) {
	c.mu.Lock()
	c.accessToken = token.AccessToken
	c.refreshToken = token.RefreshToken
	notify := c.onTokenRefresh
	c.mu.Unlock()

	if notify != nil {
		notify(token.AccessToken, token.RefreshToken, token.ExpiresAt())
	}
}

// CurrentUser retrieves the authenticated user's profile.
func (c *Client) CurrentUser(ctx context.Context) (*UserProfile, error) {
	var profile UserProfile
	if err := c.do(ctx, http.MethodGet, "/users/me", nil, true, &profile); err != nil {
		return nil, fmt.Errorf("trakt user profile: %w", err)
	}
	return &profile, nil
}

// Stats retrieves the authenticated user's watch statistics.
func (c *Client) Stats(ctx context.Context) (*UserStats, error) {
	var stats UserStats
	if err := c.do(ctx, http.MethodGet, "/users/me/stats", nil, true, &stats); err != nil {
		return nil, fmt.Errorf("trakt user stats: %w", err)
	}
	return &stats, nil
}

// WatchedMovies retrieves every movie the user has watched.
func (c *Client) WatchedMovies(ctx context.Context) ([]WatchedMovieItem, error) {
	var items []WatchedMovieItem
	if err := c.do(ctx, http.MethodGet, "/sync/watched/movies", nil, true, &items); err != nil {
		return nil, fmt.Errorf("trakt watched movies: %w", err)
	}
	return items, nil
}

// WatchedShows retrieves every show the user has watched, with per-season
// episode detail.
func (c *Client) WatchedShows(ctx context.Context) ([]WatchedShowItem, error) {
	var items []WatchedShowItem
	if err := c.do(ctx, http.MethodGet, "/sync/watched/shows", nil, true, &items); err != nil {
		return nil, fmt.Errorf("trakt watched shows: %w", err)
	}
	return items, nil
}

// AddToHistory adds movies, shows, and/or episodes to the user's watch
// history in one bulk call.
func (c *Client) AddToHistory(ctx context.Context, request SyncHistoryRequest) (*SyncHistoryResponse, error) {
	var syncResp SyncHistoryResponse
	if err := c.do(ctx, http.MethodPost, "/sync/history", request, true, &syncResp); err != nil {
		return nil, fmt.Errorf("trakt sync history: %w", err)
	}
	return &syncResp, nil
}

// RemoveFromHistory removes items from the user's watch history.
func (c *Client) RemoveFromHistory(ctx context.Context, request SyncHistoryRequest) (*SyncRemoveResponse, error) {
	var removeResp SyncRemoveResponse
	if err := c.do(ctx, http.MethodPost, "/sync/history/remove", request, true, &removeResp); err != nil {
		return nil, fmt.Errorf("trakt remove history: %w", err)
	}
	return &removeResp, nil
}

// ScrobbleStart reports that playback started or resumed.
func (c *Client) ScrobbleStart(ctx context.Context, request ScrobbleRequest) (*ScrobbleResponse, error) {
	return c.scrobble(ctx, "start", request)
}

// ScrobblePause reports that playback paused.
func (c *Client) ScrobblePause(ctx context.Context, request ScrobbleRequest) (*ScrobbleResponse, error) {
	return c.scrobble(ctx, "pause", request)
}

// ScrobbleStop reports that playback finished.
func (c *Client) ScrobbleStop(ctx context.Context, request ScrobbleRequest) (*ScrobbleResponse, error) {
	return c.scrobble(ctx, "stop", request)
}

func (c *Client) scrobble(ctx context.Context, action string, request ScrobbleRequest) (*ScrobbleResponse, error) {
	var scrobbleResp ScrobbleResponse
	if err := c.do(ctx, http.MethodPost, "/scrobble/"+action, request, true, &scrobbleResp); err != nil {
		return nil, fmt.Errorf("trakt scrobble %s: %w", action, err)
	}
	return &scrobbleResp, nil
}

// Search looks up movies and shows by title. mediaType may be "movie",
// "show", or empty for both; year 0 means no year filter.
func (c *Client) Search(ctx context.Context, query, mediaType string, year int) ([]SearchResult, error) {
	searchType := mediaType
	if searchType == "" {
		searchType = "movie,show"
	}
	params := url.Values{}
	params.Set("query", query)
	if year > 0 {
		params.Set("years", strconv.Itoa(year))
	}

	var results []SearchResult
	path := "/search/" + searchType + "?" + params.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, true, &results); err != nil {
		return nil, fmt.Errorf("trakt search: %w", err)
	}
	return results, nil
}

// pace suspends until the limiter's inter-request delay has elapsed since
// the previous request, then claims the current slot.
func (c *Client) pace() {
	c.mu.Lock()
	wait := c.currentDelay - time.Since(c.lastRequest)
	c.mu.Unlock()

	if wait > 0 {
		c.sleep(wait)
	}

	c.mu.Lock()
	c.lastRequest = time.Now()
	c.mu.Unlock()
}

// raiseDelay grows the inter-request delay after a 429. The new delay is
// max(currentDelay * multiplier, retryAfter), capped at maxDelay, and the
// delay never decreases for the lifetime of the client.
func (c *Client) raiseDelay(retryAfter time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := time.Duration(float64(c.currentDelay) * c.backoffMultiplier)
	if retryAfter > next {
		next = retryAfter
	}
	if next > c.maxDelay {
		next = c.maxDelay
	}
	if next > c.currentDelay {
		c.currentDelay = next
	}
}

func (c *Client) setHeaders(req *http.Request, authorized bool) {
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("trakt-api-version", traktAPIVersion)
	req.Header.Set("trakt-api-key", c.clientID)
	if authorized {
		c.mu.Lock()
		token := c.accessToken
		c.mu.Unlock()
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
}

// do performs one logical API call, applying pacing, the 429
// backoff-and-retry-once flow, and the 401 refresh-and-retry-once flow.
// payload is marshaled once; the request is rebuilt per attempt so replays
// carry a fresh body and, after a refresh, the new access token.
func (c *Client) do(ctx context.Context, method, path string, payload any, authorized bool, v any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	rateRetried := false
	authRetried := false

	for {
		c.pace()

		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		c.setHeaders(req, authorized)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("trakt api request: %w", err)
		}

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			retryAfter := parseRetryAfter(resp)
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if rateRetried {
				return &RateLimitedError{RetryAfter: retryAfter}
			}
			rateRetried = true
			c.raiseDelay(retryAfter)
			log.Printf("[trakt] rate limited on %s %s, backing off %s (delay now %s)", method, path, retryAfter, c.CurrentDelay())
			c.sleep(retryAfter)
			continue

		case resp.StatusCode == http.StatusUnauthorized && authorized:
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if authRetried {
				return ErrReauthRequired
			}
			authRetried = true
			if err := c.refreshAccessToken(ctx); err != nil {
				return err
			}
			log.Printf("[trakt] access token refreshed, replaying %s %s", method, path)
			continue

		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			defer resp.Body.Close()
			return decodeAPIError(resp)
		}

		if v == nil {
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			return nil
		}
		err = json.NewDecoder(resp.Body).Decode(v)
		resp.Body.Close()
		if err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}
}

// parseRetryAfter reads the server-advised wait from a 429 response,
// falling back to a fixed default when absent or unparseable.
func parseRetryAfter(resp *http.Response) time.Duration {
	if header := resp.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}
	return defaultRetryAfter
}

func decodeAPIError(resp *http.Response) error {
	apiErr := &APIError{StatusCode: resp.StatusCode, Status: resp.Status}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err == nil && len(respBody) > 0 {
		var payload struct {
			Error            string `json:"error"`
			ErrorDescription string `json:"error_description"`
		}
		if json.Unmarshal(respBody, &payload) == nil {
			apiErr.Code = payload.Error
			apiErr.Description = payload.ErrorDescription
		}
	}
	return apiErr
}
