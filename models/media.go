package models

import "time"

// Media types used across the sync and scrobble paths.
const (
	MediaTypeMovie   = "movie"
	MediaTypeEpisode = "episode"
	MediaTypeShow    = "show"
)

// IdentitySet maps an external ID namespace (imdb, tmdb, tvdb) to its opaque ID.
type IdentitySet map[string]string

// IsEmpty reports whether no external IDs are known for the entity.
func (s IdentitySet) IsEmpty() bool {
	return len(s) == 0
}

// Merge copies IDs from other into s. Existing keys in s win.
func (s IdentitySet) Merge(other IdentitySet) {
	for k, v := range other {
		if _, ok := s[k]; !ok {
			s[k] = v
		}
	}
}

// Key returns a stable grouping key for the identity set, preferring the
// namespaces in a fixed order so the same entity always groups together.
func (s IdentitySet) Key() string {
	for _, ns := range []string{"imdb", "tmdb", "tvdb"} {
		if id, ok := s[ns]; ok {
			return ns + ":" + id
		}
	}
	for ns, id := range s {
		return ns + ":" + id
	}
	return ""
}

// WatchedMovie is a movie from the source catalog's watch history.
type WatchedMovie struct {
	RatingKey    string      `json:"ratingKey"`
	Title        string      `json:"title"`
	Year         int         `json:"year,omitempty"`
	DurationMs   int64       `json:"durationMs,omitempty"`
	ViewCount    int         `json:"viewCount"`
	LastViewedAt time.Time   `json:"lastViewedAt,omitempty"`
	IDs          IdentitySet `json:"ids,omitempty"`
}

// WatchedEpisode is an episode from the source catalog's watch history. The
// parent show is carried on the episode; shows are only a grouping key.
type WatchedEpisode struct {
	RatingKey    string      `json:"ratingKey"`
	Title        string      `json:"title"`
	Season       int         `json:"season"`
	Episode      int         `json:"episode"`
	DurationMs   int64       `json:"durationMs,omitempty"`
	ViewCount    int         `json:"viewCount"`
	LastViewedAt time.Time   `json:"lastViewedAt,omitempty"`
	IDs          IdentitySet `json:"ids,omitempty"`
	Show         Show        `json:"show"`
}

// Show identifies the series an episode belongs to.
type Show struct {
	Title string      `json:"title"`
	Year  int         `json:"year,omitempty"`
	IDs   IdentitySet `json:"ids,omitempty"`
}

// Playback session states as reported by the source player.
const (
	SessionStatePlaying = "playing"
	SessionStatePaused  = "paused"
	SessionStateStopped = "stopped"
)

// WatchSession is one active playback instance. It lives only in memory; the
// session object, not the remote service, is the source of truth for state.
type WatchSession struct {
	SessionKey string      `json:"sessionKey"`
	RatingKey  string      `json:"ratingKey"`
	MediaType  string      `json:"mediaType"` // "movie" or "episode"
	Title      string      `json:"title"`
	Year       int         `json:"year,omitempty"`
	State      string      `json:"state"`
	ViewOffset int64       `json:"viewOffsetMs"`
	DurationMs int64       `json:"durationMs"`
	IDs        IdentitySet `json:"ids,omitempty"`

	// Episode fields, set when MediaType is "episode".
	Season  int  `json:"season,omitempty"`
	Episode int  `json:"episode,omitempty"`
	Show    Show `json:"show,omitempty"`
}

// Progress returns the playback position as a percentage in [0, 100].
func (s WatchSession) Progress() float64 {
	if s.DurationMs <= 0 {
		return 0
	}
	p := float64(s.ViewOffset) / float64(s.DurationMs) * 100
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// ValidationResult collects every eligibility failure for an entity rather
// than stopping at the first.
type ValidationResult struct {
	Valid   bool     `json:"valid"`
	Reasons []string `json:"reasons,omitempty"`
}

func (v *ValidationResult) fail(reason string) {
	v.Valid = false
	v.Reasons = append(v.Reasons, reason)
}

// ValidateMovie checks sync eligibility for a movie.
func ValidateMovie(m WatchedMovie) ValidationResult {
	res := ValidationResult{Valid: true}
	if m.Title == "" {
		res.fail("missing title")
	}
	if m.IDs.IsEmpty() {
		res.fail("no external IDs")
	}
	if m.Year == 0 {
		res.fail("missing year")
	}
	return res
}

// ValidateEpisode checks sync eligibility for an episode. The identity set of
// the parent show counts: episodes are synced under the show's IDs.
func ValidateEpisode(e WatchedEpisode) ValidationResult {
	res := ValidationResult{Valid: true}
	if e.Show.Title == "" && e.Title == "" {
		res.fail("missing title")
	}
	if e.IDs.IsEmpty() && e.Show.IDs.IsEmpty() {
		res.fail("no external IDs")
	}
	if e.Season == 0 && e.Episode == 0 {
		res.fail("missing season/episode numbers")
	} else if e.Episode == 0 {
		res.fail("missing episode number")
	}
	return res
}
