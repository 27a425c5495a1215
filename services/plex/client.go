package plex

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"time"

	"watchbridge/models"

	"github.com/avast/retry-go/v4"
	"github.com/sourcegraph/conc/pool"
)

const (
	plexLibraryIdentifier = "com.plexapp.plugins.library"

	detailFetchWorkers = 10
)

// Client talks to a Plex Media Server and acts as the source collector for
// the sync engine: it produces watched movies/episodes with normalized
// identity sets and the currently active playback sessions.
type Client struct {
	httpClient *http.Client
	serverURL  string
	token      string
	clientID   string
	// accountID filters history/sessions to one server account; 0 = all.
	accountID int
}

// NewClient creates a client for one Plex Media Server.
func NewClient(serverURL, token, clientID string, accountID int) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		serverURL:  serverURL,
		token:      token,
		clientID:   clientID,
		accountID:  accountID,
	}
}

func (c *Client) setPlexHeaders(req *http.Request) {
	req.Header.Set("X-Plex-Client-Identifier", c.clientID)
	req.Header.Set("X-Plex-Product", "watchbridge")
	req.Header.Set("X-Plex-Version", "1.0.0")
	req.Header.Set("X-Plex-Token", c.token)
	req.Header.Set("Accept", "application/json")
}

// getJSON performs a GET against the server with a small transient-failure
// retry (network errors and 5xx responses only).
func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+path, nil)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}
			c.setPlexHeaders(req)

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("plex api request: %w", err)
			}
			defer resp.Body.Close()

			if resp.StatusCode >= 500 {
				io.Copy(io.Discard, resp.Body)
				return fmt.Errorf("plex server error: %s", resp.Status)
			}
			if resp.StatusCode != http.StatusOK {
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
				return retry.Unrecoverable(fmt.Errorf("plex request failed: %s - %s", resp.Status, string(body)))
			}
			if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode response: %w", err))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(500*time.Millisecond),
		retry.LastErrorOnly(true),
	)
}

var guidPatterns = map[string]*regexp.Regexp{
	"imdb": regexp.MustCompile(`imdb://?(tt\d+)`),
	"tmdb": regexp.MustCompile(`tmdb://(\d+)`),
	"tvdb": regexp.MustCompile(`tvdb://(\d+)`),
}

// ParseGUID extracts external IDs from a Plex GUID string.
// Example GUIDs: "com.plexapp.agents.imdb://tt1234567?lang=en", "tmdb://603".
func ParseGUID(guid string) models.IdentitySet {
	ids := make(models.IdentitySet)
	for namespace, pattern := range guidPatterns {
		if matches := pattern.FindStringSubmatch(guid); len(matches) > 1 {
			ids[namespace] = matches[1]
		}
	}
	return ids
}

// extractIdentity merges IDs parsed from the primary GUID with the explicit
// Guid array entries. The explicit entries win on conflict.
func extractIdentity(primaryGUID string, guids []guidRef) models.IdentitySet {
	ids := make(models.IdentitySet)
	for _, g := range guids {
		for k, v := range ParseGUID(g.ID) {
			ids[k] = v
		}
	}
	ids.Merge(ParseGUID(primaryGUID))
	return ids
}

type guidRef struct {
	ID string `json:"id"`
}

type libraryItem struct {
	RatingKey            string    `json:"ratingKey"`
	Title                string    `json:"title"`
	GrandparentTitle     string    `json:"grandparentTitle,omitempty"`
	GrandparentRatingKey string    `json:"grandparentRatingKey,omitempty"`
	GrandparentGUID      string    `json:"grandparentGuid,omitempty"`
	Type                 string    `json:"type"`
	Year                 int       `json:"year,omitempty"`
	Duration             int64     `json:"duration,omitempty"`
	ViewCount            int       `json:"viewCount,omitempty"`
	LastViewedAt         int64     `json:"lastViewedAt,omitempty"`
	Index                int       `json:"index,omitempty"`       // episode number
	ParentIndex          int       `json:"parentIndex,omitempty"` // season number
	GUID                 string    `json:"guid,omitempty"`
	Guids                []guidRef `json:"Guid,omitempty"`
}

type libraryResponse struct {
	MediaContainer struct {
		Size     int           `json:"size"`
		Metadata []libraryItem `json:"Metadata"`
	} `json:"MediaContainer"`
}

type sectionsResponse struct {
	MediaContainer struct {
		Directory []struct {
			Key   string `json:"key"`
			Type  string `json:"type"` // "movie" or "show"
			Title string `json:"title"`
		} `json:"Directory"`
	} `json:"MediaContainer"`
}

func (c *Client) sectionKeys(ctx context.Context, sectionType string) ([]string, error) {
	var sections sectionsResponse
	if err := c.getJSON(ctx, "/library/sections", &sections); err != nil {
		return nil, fmt.Errorf("list library sections: %w", err)
	}

	var keys []string
	for _, dir := range sections.MediaContainer.Directory {
		if dir.Type == sectionType {
			keys = append(keys, dir.Key)
		}
	}
	return keys, nil
}

// sectionItems fetches all items of the given Plex type (1=movie, 4=episode)
// from one library section.
func (c *Client) sectionItems(ctx context.Context, sectionKey string, plexType int) ([]libraryItem, error) {
	path := fmt.Sprintf("/library/sections/%s/all?type=%d", url.PathEscape(sectionKey), plexType)
	var library libraryResponse
	if err := c.getJSON(ctx, path, &library); err != nil {
		return nil, fmt.Errorf("fetch section %s items: %w", sectionKey, err)
	}
	return library.MediaContainer.Metadata, nil
}

// GetWatchedMovies returns every movie with at least one view, with identity
// sets parsed from its GUIDs.
func (c *Client) GetWatchedMovies(ctx context.Context) ([]models.WatchedMovie, error) {
	keys, err := c.sectionKeys(ctx, "movie")
	if err != nil {
		return nil, err
	}

	var movies []models.WatchedMovie
	for _, key := range keys {
		items, err := c.sectionItems(ctx, key, 1)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if item.ViewCount < 1 {
				continue
			}
			movies = append(movies, models.WatchedMovie{
				RatingKey:    item.RatingKey,
				Title:        item.Title,
				Year:         item.Year,
				DurationMs:   item.Duration,
				ViewCount:    item.ViewCount,
				LastViewedAt: unixTime(item.LastViewedAt),
				IDs:          extractIdentity(item.GUID, item.Guids),
			})
		}
	}

	log.Printf("[plex] collected %d watched movies from %d sections", len(movies), len(keys))
	return movies, nil
}

// GetWatchedEpisodes returns every episode with at least one view. Episode
// items do not carry their show's Guid array, so show identity sets are
// resolved with a bounded parallel detail fetch, one per distinct show.
func (c *Client) GetWatchedEpisodes(ctx context.Context) ([]models.WatchedEpisode, error) {
	keys, err := c.sectionKeys(ctx, "show")
	if err != nil {
		return nil, err
	}

	var watched []libraryItem
	for _, key := range keys {
		items, err := c.sectionItems(ctx, key, 4)
		if err != nil {
			return nil, err
		}
		for _, item := range items {
			if item.ViewCount >= 1 {
				watched = append(watched, item)
			}
		}
	}

	showIDs := c.resolveShowIdentities(ctx, watched)

	episodes := make([]models.WatchedEpisode, 0, len(watched))
	for _, item := range watched {
		show := models.Show{
			Title: item.GrandparentTitle,
			IDs:   showIDs[item.GrandparentRatingKey],
		}
		if show.IDs.IsEmpty() && item.GrandparentGUID != "" {
			show.IDs = ParseGUID(item.GrandparentGUID)
		}
		episodes = append(episodes, models.WatchedEpisode{
			RatingKey:    item.RatingKey,
			Title:        item.Title,
			Season:       item.ParentIndex,
			Episode:      item.Index,
			DurationMs:   item.Duration,
			ViewCount:    item.ViewCount,
			LastViewedAt: unixTime(item.LastViewedAt),
			IDs:          extractIdentity(item.GUID, item.Guids),
			Show:         show,
		})
	}

	log.Printf("[plex] collected %d watched episodes across %d shows", len(episodes), len(showIDs))
	return episodes, nil
}

// resolveShowIdentities fetches metadata for each distinct show referenced
// by the given episodes and returns identity sets keyed by show rating key.
// Failures are non-fatal; episodes fall back to the grandparent GUID.
func (c *Client) resolveShowIdentities(ctx context.Context, episodes []libraryItem) map[string]models.IdentitySet {
	seen := make(map[string]struct{})
	var showKeys []string
	for _, ep := range episodes {
		if ep.GrandparentRatingKey == "" {
			continue
		}
		if _, ok := seen[ep.GrandparentRatingKey]; ok {
			continue
		}
		seen[ep.GrandparentRatingKey] = struct{}{}
		showKeys = append(showKeys, ep.GrandparentRatingKey)
	}
	sort.Strings(showKeys)

	results := make([]models.IdentitySet, len(showKeys))
	p := pool.New().WithMaxGoroutines(detailFetchWorkers)
	for i, key := range showKeys {
		p.Go(func() {
			ids, err := c.itemIdentity(ctx, key)
			if err != nil {
				log.Printf("[plex] show detail fetch failed for %s: %v", key, err)
				return
			}
			results[i] = ids
		})
	}
	p.Wait()

	identities := make(map[string]models.IdentitySet, len(showKeys))
	for i, key := range showKeys {
		if len(results[i]) > 0 {
			identities[key] = results[i]
		}
	}
	return identities
}

// itemIdentity fetches one item's metadata and extracts its identity set.
func (c *Client) itemIdentity(ctx context.Context, ratingKey string) (models.IdentitySet, error) {
	var details libraryResponse
	path := "/library/metadata/" + url.PathEscape(ratingKey)
	if err := c.getJSON(ctx, path, &details); err != nil {
		return nil, err
	}
	if len(details.MediaContainer.Metadata) == 0 {
		return nil, fmt.Errorf("no metadata for rating key %s", ratingKey)
	}
	item := details.MediaContainer.Metadata[0]
	return extractIdentity(item.GUID, item.Guids), nil
}

type sessionsResponse struct {
	MediaContainer struct {
		Size     int `json:"size"`
		Metadata []struct {
			libraryItem
			SessionKey string `json:"sessionKey"`
			ViewOffset int64  `json:"viewOffset"`
			User       struct {
				ID string `json:"id"`
			} `json:"User"`
			Player struct {
				State string `json:"state"` // "playing", "paused", "buffering"
			} `json:"Player"`
		} `json:"Metadata"`
	} `json:"MediaContainer"`
}

// GetCurrentSessions returns the active playback sessions on the server.
func (c *Client) GetCurrentSessions(ctx context.Context) ([]models.WatchSession, error) {
	var sessionsResp sessionsResponse
	if err := c.getJSON(ctx, "/status/sessions", &sessionsResp); err != nil {
		return nil, fmt.Errorf("fetch sessions: %w", err)
	}

	var sessions []models.WatchSession
	for _, item := range sessionsResp.MediaContainer.Metadata {
		if c.accountID != 0 && item.User.ID != strconv.Itoa(c.accountID) {
			continue
		}

		state := item.Player.State
		if state != models.SessionStatePaused && state != models.SessionStateStopped {
			state = models.SessionStatePlaying
		}

		session := models.WatchSession{
			SessionKey: item.SessionKey,
			RatingKey:  item.RatingKey,
			MediaType:  item.Type,
			Title:      item.Title,
			Year:       item.Year,
			State:      state,
			ViewOffset: item.ViewOffset,
			DurationMs: item.Duration,
			IDs:        extractIdentity(item.GUID, item.Guids),
		}
		if item.Type == models.MediaTypeEpisode {
			session.Season = item.ParentIndex
			session.Episode = item.Index
			session.Show = models.Show{
				Title: item.GrandparentTitle,
				IDs:   ParseGUID(item.GrandparentGUID),
			}
		}
		sessions = append(sessions, session)
	}

	return sessions, nil
}

// MarkAsWatched flags an item watched on the server. Write capability only;
// the sync engine's reverse path does not drive it.
func (c *Client) MarkAsWatched(ctx context.Context, ratingKey string) error {
	params := url.Values{}
	params.Set("key", ratingKey)
	params.Set("identifier", plexLibraryIdentifier)
	return c.simpleGet(ctx, "/:/scrobble?"+params.Encode())
}

// UpdateProgress records a playback position on the server. Write capability
// only, same as MarkAsWatched.
func (c *Client) UpdateProgress(ctx context.Context, ratingKey string, timeMs int64) error {
	params := url.Values{}
	params.Set("key", ratingKey)
	params.Set("identifier", plexLibraryIdentifier)
	params.Set("time", strconv.FormatInt(timeMs, 10))
	params.Set("state", "playing")
	return c.simpleGet(ctx, "/:/progress?"+params.Encode())
}

// simpleGet issues a fire-and-forget GET used by the write endpoints, which
// return no useful body.
func (c *Client) simpleGet(ctx context.Context, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.serverURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	c.setPlexHeaders(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("plex api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("plex request failed: %s - %s", resp.Status, string(body))
	}
	return nil
}

func unixTime(seconds int64) time.Time {
	if seconds == 0 {
		return time.Time{}
	}
	return time.Unix(seconds, 0).UTC()
}
