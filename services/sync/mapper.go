package sync

import (
	"fmt"
	"strconv"
	"time"

	"watchbridge/models"
	"watchbridge/services/trakt"
)

// appVersion is reported on scrobble calls.
const appVersion = "1.0.0"

// idsFromIdentity converts a namespace->string identity set into Trakt's
// typed ID struct. Unknown namespaces and unparseable numeric IDs are
// dropped.
func idsFromIdentity(ids models.IdentitySet) trakt.IDs {
	var out trakt.IDs
	if v, ok := ids["imdb"]; ok {
		out.IMDB = v
	}
	if v, ok := ids["tmdb"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			out.TMDB = n
		}
	}
	if v, ok := ids["tvdb"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			out.TVDB = n
		}
	}
	if v, ok := ids["trakt"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			out.Trakt = n
		}
	}
	return out
}

// MovieSyncItem converts one watched movie to its bulk-sync form.
func MovieSyncItem(m models.WatchedMovie) trakt.SyncMovie {
	item := trakt.SyncMovie{
		Title: m.Title,
		Year:  m.Year,
		IDs:   idsFromIdentity(m.IDs),
	}
	if !m.LastViewedAt.IsZero() {
		item.WatchedAt = m.LastViewedAt.UTC().Format(time.RFC3339)
	}
	return item
}

// BuildMoviesPayload builds one bulk-sync request for a batch of movies.
func BuildMoviesPayload(movies []models.WatchedMovie) trakt.SyncHistoryRequest {
	request := trakt.SyncHistoryRequest{
		Movies: make([]trakt.SyncMovie, 0, len(movies)),
	}
	for _, m := range movies {
		request.Movies = append(request.Movies, MovieSyncItem(m))
	}
	return request
}

// BuildShowsPayload groups episodes by their show's identity, then by season
// number, into one bulk-sync request. Grouping is deterministic: shows appear
// in first-seen order, seasons in first-seen order within their show, and
// episodes in input order within their season.
func BuildShowsPayload(episodes []models.WatchedEpisode) trakt.SyncHistoryRequest {
	type seasonGroup struct {
		number   int
		episodes []trakt.SyncEpisode
	}
	type showGroup struct {
		show        models.Show
		seasonOrder []int
		seasons     map[int]*seasonGroup
	}

	var showOrder []string
	shows := make(map[string]*showGroup)

	for _, ep := range episodes {
		key := ep.Show.IDs.Key()
		if key == "" {
			// Orphan episodes are grouped under their own identity set.
			key = ep.IDs.Key()
		}
		group, ok := shows[key]
		if !ok {
			group = &showGroup{show: ep.Show, seasons: make(map[int]*seasonGroup)}
			shows[key] = group
			showOrder = append(showOrder, key)
		}

		season, ok := group.seasons[ep.Season]
		if !ok {
			season = &seasonGroup{number: ep.Season}
			group.seasons[ep.Season] = season
			group.seasonOrder = append(group.seasonOrder, ep.Season)
		}

		item := trakt.SyncEpisode{Number: ep.Episode}
		if !ep.LastViewedAt.IsZero() {
			item.WatchedAt = ep.LastViewedAt.UTC().Format(time.RFC3339)
		}
		season.episodes = append(season.episodes, item)
	}

	request := trakt.SyncHistoryRequest{
		Shows: make([]trakt.SyncShow, 0, len(showOrder)),
	}
	for _, key := range showOrder {
		group := shows[key]
		syncShow := trakt.SyncShow{
			Title:   group.show.Title,
			Year:    group.show.Year,
			IDs:     idsFromIdentity(group.show.IDs),
			Seasons: make([]trakt.SyncSeason, 0, len(group.seasonOrder)),
		}
		for _, number := range group.seasonOrder {
			syncShow.Seasons = append(syncShow.Seasons, trakt.SyncSeason{
				Number:   number,
				Episodes: group.seasons[number].episodes,
			})
		}
		request.Shows = append(request.Shows, syncShow)
	}
	return request
}

// BuildScrobblePayload converts a watch session into a scrobble request.
// The payload shape is chosen once here from the session's media type:
// movie-shaped, or show+episode-shaped.
func BuildScrobblePayload(session models.WatchSession) (trakt.ScrobbleRequest, error) {
	request := trakt.ScrobbleRequest{
		Progress:   session.Progress(),
		AppVersion: appVersion,
		AppDate:    time.Now().UTC().Format("2006-01-02"),
	}

	switch session.MediaType {
	case models.MediaTypeMovie:
		request.Movie = &trakt.Movie{
			Title: session.Title,
			Year:  session.Year,
			IDs:   idsFromIdentity(session.IDs),
		}
	case models.MediaTypeEpisode:
		request.Show = &trakt.Show{
			Title: session.Show.Title,
			Year:  session.Show.Year,
			IDs:   idsFromIdentity(session.Show.IDs),
		}
		request.Episode = &trakt.Episode{
			Season: session.Season,
			Number: session.Episode,
			Title:  session.Title,
			IDs:    idsFromIdentity(session.IDs),
		}
	default:
		return trakt.ScrobbleRequest{}, fmt.Errorf("unsupported media type %q", session.MediaType)
	}

	return request, nil
}
