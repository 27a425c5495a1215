package trakt

import (
	"strconv"
	"time"
)

// TokenResponse represents the response from /oauth/token.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
	CreatedAt    int64  `json:"created_at"`
}

// ExpiresAt returns the absolute expiry of the access token in unix seconds.
func (t *TokenResponse) ExpiresAt() int64 {
	return t.CreatedAt + int64(t.ExpiresIn)
}

// UserProfile represents basic Trakt user information.
type UserProfile struct {
	Username string `json:"username"`
	Name     string `json:"name,omitempty"`
	VIP      bool   `json:"vip"`
	Private  bool   `json:"private"`
	IDs      struct {
		Slug string `json:"slug"`
	} `json:"ids"`
}

// UserStats represents the /users/me/stats response.
type UserStats struct {
	Movies struct {
		Plays   int `json:"plays"`
		Watched int `json:"watched"`
		Minutes int `json:"minutes"`
	} `json:"movies"`
	Shows struct {
		Watched int `json:"watched"`
	} `json:"shows"`
	Episodes struct {
		Plays   int `json:"plays"`
		Watched int `json:"watched"`
		Minutes int `json:"minutes"`
	} `json:"episodes"`
}

// IDs holds external identifiers for a media item.
type IDs struct {
	Trakt int    `json:"trakt,omitempty"`
	Slug  string `json:"slug,omitempty"`
	IMDB  string `json:"imdb,omitempty"`
	TMDB  int    `json:"tmdb,omitempty"`
	TVDB  int    `json:"tvdb,omitempty"`
}

// ToMap converts IDs to the namespace->string form used by the sync mapper.
func (ids IDs) ToMap() map[string]string {
	result := make(map[string]string)
	if ids.IMDB != "" {
		result["imdb"] = ids.IMDB
	}
	if ids.TMDB != 0 {
		result["tmdb"] = strconv.Itoa(ids.TMDB)
	}
	if ids.TVDB != 0 {
		result["tvdb"] = strconv.Itoa(ids.TVDB)
	}
	if ids.Trakt != 0 {
		result["trakt"] = strconv.Itoa(ids.Trakt)
	}
	return result
}

// Movie represents a Trakt movie.
type Movie struct {
	Title string `json:"title"`
	Year  int    `json:"year"`
	IDs   IDs    `json:"ids"`
}

// Show represents a Trakt TV show.
type Show struct {
	Title string `json:"title"`
	Year  int    `json:"year"`
	IDs   IDs    `json:"ids"`
}

// Episode represents a Trakt episode.
type Episode struct {
	Season int    `json:"season"`
	Number int    `json:"number"`
	Title  string `json:"title"`
	IDs    IDs    `json:"ids"`
}

// WatchedMovieItem represents an entry from /sync/watched/movies.
type WatchedMovieItem struct {
	Plays         int       `json:"plays"`
	LastWatchedAt time.Time `json:"last_watched_at"`
	Movie         Movie     `json:"movie"`
}

// WatchedShowItem represents an entry from /sync/watched/shows.
type WatchedShowItem struct {
	Plays         int       `json:"plays"`
	LastWatchedAt time.Time `json:"last_watched_at"`
	Show          Show      `json:"show"`
	Seasons       []struct {
		Number   int `json:"number"`
		Episodes []struct {
			Number        int       `json:"number"`
			Plays         int       `json:"plays"`
			LastWatchedAt time.Time `json:"last_watched_at"`
		} `json:"episodes"`
	} `json:"seasons,omitempty"`
}

// SyncHistoryRequest represents the request body for /sync/history and
// /sync/history/remove, grouped by entity type.
type SyncHistoryRequest struct {
	Movies   []SyncMovie   `json:"movies,omitempty"`
	Shows    []SyncShow    `json:"shows,omitempty"`
	Episodes []SyncEpisode `json:"episodes,omitempty"`
}

// SyncMovie represents a movie to add to history.
type SyncMovie struct {
	WatchedAt string `json:"watched_at,omitempty"` // ISO 8601
	Title     string `json:"title,omitempty"`
	Year      int    `json:"year,omitempty"`
	IDs       IDs    `json:"ids"`
}

// SyncShow represents a show with nested seasons/episodes to add to history.
type SyncShow struct {
	Title   string       `json:"title,omitempty"`
	Year    int          `json:"year,omitempty"`
	IDs     IDs          `json:"ids"`
	Seasons []SyncSeason `json:"seasons,omitempty"`
}

// SyncSeason represents a season with episodes.
type SyncSeason struct {
	Number   int           `json:"number"`
	Episodes []SyncEpisode `json:"episodes,omitempty"`
}

// SyncEpisode represents an episode to add to history.
type SyncEpisode struct {
	Number    int    `json:"number,omitempty"`
	WatchedAt string `json:"watched_at,omitempty"` // ISO 8601
	IDs       *IDs   `json:"ids,omitempty"`
}

// SyncCounts holds per-type counts in a sync response section.
type SyncCounts struct {
	Movies   int `json:"movies"`
	Shows    int `json:"shows"`
	Episodes int `json:"episodes"`
}

// SyncHistoryResponse represents the response from /sync/history.
type SyncHistoryResponse struct {
	Added    SyncCounts `json:"added"`
	Updated  SyncCounts `json:"updated"`
	Existing SyncCounts `json:"existing"`
	NotFound struct {
		Movies   []SyncMovie   `json:"movies"`
		Shows    []SyncShow    `json:"shows"`
		Episodes []SyncEpisode `json:"episodes"`
	} `json:"not_found"`
}

// SyncRemoveResponse represents the response from /sync/history/remove.
type SyncRemoveResponse struct {
	Deleted  SyncCounts `json:"deleted"`
	NotFound struct {
		Movies   []SyncMovie   `json:"movies"`
		Shows    []SyncShow    `json:"shows"`
		Episodes []SyncEpisode `json:"episodes"`
	} `json:"not_found"`
}

// ScrobbleRequest represents the body for /scrobble/{start,pause,stop}.
// Exactly one of Movie or Show+Episode is set, chosen from the session's
// media type when the payload is built.
type ScrobbleRequest struct {
	Movie      *Movie   `json:"movie,omitempty"`
	Show       *Show    `json:"show,omitempty"`
	Episode    *Episode `json:"episode,omitempty"`
	Progress   float64  `json:"progress"`
	AppVersion string   `json:"app_version,omitempty"`
	AppDate    string   `json:"app_date,omitempty"`
}

// ScrobbleResponse echoes the accepted scrobble.
type ScrobbleResponse struct {
	ID       int64    `json:"id"`
	Action   string   `json:"action"`
	Progress float64  `json:"progress"`
	Movie    *Movie   `json:"movie,omitempty"`
	Show     *Show    `json:"show,omitempty"`
	Episode  *Episode `json:"episode,omitempty"`
}

// SearchResult represents one scored match from /search.
type SearchResult struct {
	Type  string  `json:"type"`
	Score float64 `json:"score"`
	Movie *Movie  `json:"movie,omitempty"`
	Show  *Show   `json:"show,omitempty"`
}
