package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"watchbridge/models"
	"watchbridge/services/trakt"

	"github.com/stretchr/testify/require"
)

type fakeCollector struct {
	movies   []models.WatchedMovie
	episodes []models.WatchedEpisode
	err      error
}

func (f *fakeCollector) GetWatchedMovies(ctx context.Context) ([]models.WatchedMovie, error) {
	return f.movies, f.err
}

func (f *fakeCollector) GetWatchedEpisodes(ctx context.Context) ([]models.WatchedEpisode, error) {
	return f.episodes, f.err
}

type fakeTransport struct {
	addCalls     []trakt.SyncHistoryRequest
	addResponses []*trakt.SyncHistoryResponse
	addErr       error
	watchedMov   []trakt.WatchedMovieItem
	watchedShows []trakt.WatchedShowItem
	watchedErr   error

	// blockAdd, when set, is received from before each AddToHistory returns.
	blockAdd chan struct{}
	// entered, when set, is signaled once AddToHistory is called.
	entered chan struct{}
}

func (f *fakeTransport) AddToHistory(ctx context.Context, request trakt.SyncHistoryRequest) (*trakt.SyncHistoryResponse, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.blockAdd != nil {
		<-f.blockAdd
	}
	f.addCalls = append(f.addCalls, request)
	if f.addErr != nil {
		return nil, f.addErr
	}
	if len(f.addResponses) > 0 {
		resp := f.addResponses[0]
		f.addResponses = f.addResponses[1:]
		return resp, nil
	}
	resp := &trakt.SyncHistoryResponse{}
	resp.Added.Movies = len(request.Movies)
	for _, show := range request.Shows {
		for _, season := range show.Seasons {
			resp.Added.Episodes += len(season.Episodes)
		}
	}
	return resp, nil
}

func (f *fakeTransport) WatchedMovies(ctx context.Context) ([]trakt.WatchedMovieItem, error) {
	return f.watchedMov, f.watchedErr
}

func (f *fakeTransport) WatchedShows(ctx context.Context) ([]trakt.WatchedShowItem, error) {
	return f.watchedShows, f.watchedErr
}

func validMovie(title string, viewed time.Time) models.WatchedMovie {
	return models.WatchedMovie{
		Title:        title,
		Year:         2000,
		ViewCount:    1,
		LastViewedAt: viewed,
		IDs:          models.IdentitySet{"imdb": "tt0000001"},
	}
}

func validEpisode(show string, season, episode int, viewed time.Time) models.WatchedEpisode {
	return models.WatchedEpisode{
		Title:        "Episode",
		Season:       season,
		Episode:      episode,
		ViewCount:    1,
		LastViewedAt: viewed,
		Show:         models.Show{Title: show, Year: 2008, IDs: models.IdentitySet{"tvdb": "81189"}},
	}
}

func newTestEngine(collector Collector, transport Transport) *Engine {
	e := NewEngine(collector, transport, Options{BatchSize: 100, IncrementalBatchSize: 25, BatchPause: time.Second})
	e.sleep = func(time.Duration) {}
	return e
}

func TestFullSyncBatchesMovies(t *testing.T) {
	now := time.Now()
	collector := &fakeCollector{}
	for i := 0; i < 5; i++ {
		collector.movies = append(collector.movies, validMovie("Movie", now))
	}
	transport := &fakeTransport{}

	var pauses int
	engine := newTestEngine(collector, transport)
	engine.sleep = func(time.Duration) { pauses++ }

	result, err := engine.FullSync(context.Background(), models.SyncOptions{BatchSize: 2})
	require.NoError(t, err)

	// ceil(5/2) = 3 calls of sizes 2, 2, 1.
	require.Len(t, transport.addCalls, 3)
	require.Len(t, transport.addCalls[0].Movies, 2)
	require.Len(t, transport.addCalls[1].Movies, 2)
	require.Len(t, transport.addCalls[2].Movies, 1)

	require.Equal(t, 5, result.ItemsProcessed)
	require.Equal(t, 5, result.ItemsAdded)
	require.Zero(t, result.ItemsFailed)
	require.Empty(t, result.Errors)
	require.True(t, result.Success)

	// A fixed pause between batches, none after the last.
	require.Equal(t, 2, pauses)
}

func TestFullSyncExcludesInvalidItems(t *testing.T) {
	now := time.Now()
	collector := &fakeCollector{
		movies: []models.WatchedMovie{
			validMovie("Good", now),
			{Title: "No IDs", Year: 2000, LastViewedAt: now}, // empty identity set
			{Year: 2000, LastViewedAt: now, IDs: models.IdentitySet{"imdb": "tt1"}}, // no title
		},
	}
	transport := &fakeTransport{}
	engine := newTestEngine(collector, transport)

	result, err := engine.FullSync(context.Background(), models.SyncOptions{})
	require.NoError(t, err)

	require.Len(t, transport.addCalls, 1)
	require.Len(t, transport.addCalls[0].Movies, 1)
	require.Equal(t, "Good", transport.addCalls[0].Movies[0].Title)

	require.Equal(t, 1, result.ItemsProcessed)
	require.Equal(t, 2, result.ItemsFailed)
	require.Len(t, result.Errors, 2)
	require.Contains(t, result.Errors[0], "no external IDs")
	require.Contains(t, result.Errors[1], "missing title")
}

func TestFullSyncDryRun(t *testing.T) {
	now := time.Now()
	collector := &fakeCollector{
		movies: []models.WatchedMovie{
			validMovie("A", now), validMovie("B", now), validMovie("C", now),
		},
		episodes: []models.WatchedEpisode{
			validEpisode("Breaking Bad", 1, 1, now),
			validEpisode("Breaking Bad", 1, 2, now),
		},
	}
	transport := &fakeTransport{}
	engine := newTestEngine(collector, transport)

	result, err := engine.FullSync(context.Background(), models.SyncOptions{DryRun: true})
	require.NoError(t, err)

	require.Empty(t, transport.addCalls, "dry run must not issue network writes")
	require.Equal(t, 5, result.ItemsProcessed)
	require.Zero(t, result.ItemsAdded)
	require.True(t, result.Success)
}

func TestFullSyncEpisodesSingleGroupedCall(t *testing.T) {
	now := time.Now()
	collector := &fakeCollector{
		episodes: []models.WatchedEpisode{
			validEpisode("Breaking Bad", 1, 1, now),
			validEpisode("Breaking Bad", 1, 2, now),
			validEpisode("Breaking Bad", 2, 1, now),
			validEpisode("The Wire", 1, 1, now),
		},
	}
	transport := &fakeTransport{}
	engine := newTestEngine(collector, transport)

	// Tiny batch size to prove episodes are not chunked like movies.
	result, err := engine.FullSync(context.Background(), models.SyncOptions{BatchSize: 1})
	require.NoError(t, err)

	require.Len(t, transport.addCalls, 1)
	require.Len(t, transport.addCalls[0].Shows, 2)
	require.Equal(t, 4, result.ItemsProcessed)
	require.Equal(t, 4, result.ItemsAdded)
}

func TestFullSyncNotFoundItemsBecomeErrors(t *testing.T) {
	now := time.Now()
	collector := &fakeCollector{
		movies: []models.WatchedMovie{validMovie("Known", now), validMovie("Unknown", now)},
	}
	resp := &trakt.SyncHistoryResponse{}
	resp.Added.Movies = 1
	resp.NotFound.Movies = []trakt.SyncMovie{{Title: "Unknown", Year: 2000}}
	transport := &fakeTransport{addResponses: []*trakt.SyncHistoryResponse{resp}}
	engine := newTestEngine(collector, transport)

	result, err := engine.FullSync(context.Background(), models.SyncOptions{})
	require.NoError(t, err)

	require.Equal(t, 2, result.ItemsProcessed)
	require.Equal(t, 1, result.ItemsAdded)
	require.Equal(t, 1, result.ItemsFailed)
	require.Len(t, result.Errors, 1)
	require.Contains(t, result.Errors[0], "not found on trakt")
	require.True(t, result.Success, "partial failure with processed items still counts as success")
}

func TestFullSyncBatchFailureContinues(t *testing.T) {
	now := time.Now()
	collector := &fakeCollector{
		movies: []models.WatchedMovie{validMovie("A", now), validMovie("B", now), validMovie("C", now)},
	}
	transport := &fakeTransport{addErr: errors.New("boom")}
	engine := newTestEngine(collector, transport)

	result, err := engine.FullSync(context.Background(), models.SyncOptions{BatchSize: 2})
	require.NoError(t, err)

	// Both batches attempted despite the first failing.
	require.Len(t, transport.addCalls, 2)
	require.Equal(t, 3, result.ItemsFailed)
	require.Len(t, result.Errors, 2)
	require.False(t, result.Success, "no processed items and errors present")
}

func TestConcurrentRunRejected(t *testing.T) {
	now := time.Now()
	collector := &fakeCollector{movies: []models.WatchedMovie{validMovie("A", now)}}
	transport := &fakeTransport{
		blockAdd: make(chan struct{}),
		entered:  make(chan struct{}, 1),
	}
	engine := newTestEngine(collector, transport)

	done := make(chan models.SyncResult, 1)
	go func() {
		result, err := engine.FullSync(context.Background(), models.SyncOptions{})
		require.NoError(t, err)
		done <- result
	}()

	<-transport.entered // first run is mid-flight

	status := engine.Status()
	require.True(t, status.Running)
	require.NotEmpty(t, status.RunID)

	_, err := engine.FullSync(context.Background(), models.SyncOptions{})
	require.ErrorIs(t, err, ErrSyncInProgress)

	close(transport.blockAdd)
	result := <-done
	require.True(t, result.Success)

	status = engine.Status()
	require.False(t, status.Running)
	require.Empty(t, status.RunID)
	require.NotNil(t, status.LastResult)
}

func TestTraktToPlexIsReadOnly(t *testing.T) {
	collector := &fakeCollector{}
	transport := &fakeTransport{
		watchedMov:   []trakt.WatchedMovieItem{{}, {}},
		watchedShows: []trakt.WatchedShowItem{{}},
	}
	engine := newTestEngine(collector, transport)

	result, err := engine.FullSync(context.Background(), models.SyncOptions{Direction: models.DirectionTraktToPlex})
	require.NoError(t, err)
	require.Equal(t, 3, result.ItemsProcessed)
	require.Len(t, result.Errors, 1)
	require.Contains(t, result.Errors[0], "not implemented")

	// Dry run compares without the capability error.
	result, err = engine.FullSync(context.Background(), models.SyncOptions{Direction: models.DirectionTraktToPlex, DryRun: true})
	require.NoError(t, err)
	require.Empty(t, result.Errors)
}

func TestBidirectionalMergesBothPaths(t *testing.T) {
	now := time.Now()
	collector := &fakeCollector{movies: []models.WatchedMovie{validMovie("A", now)}}
	transport := &fakeTransport{watchedMov: []trakt.WatchedMovieItem{{}, {}}}
	engine := newTestEngine(collector, transport)

	result, err := engine.FullSync(context.Background(), models.SyncOptions{Direction: models.DirectionBidirectional, DryRun: true})
	require.NoError(t, err)
	require.Equal(t, 3, result.ItemsProcessed) // 1 local movie + 2 remote
}

func TestIncrementalSyncFiltersBySince(t *testing.T) {
	since := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	collector := &fakeCollector{
		movies: []models.WatchedMovie{
			validMovie("Old", since.Add(-24*time.Hour)),
			validMovie("New", since.Add(24*time.Hour)),
		},
	}
	transport := &fakeTransport{}
	engine := newTestEngine(collector, transport)

	result, err := engine.IncrementalSync(context.Background(), since, models.SyncOptions{})
	require.NoError(t, err)

	require.Len(t, transport.addCalls, 1)
	require.Len(t, transport.addCalls[0].Movies, 1)
	require.Equal(t, "New", transport.addCalls[0].Movies[0].Title)
	require.Equal(t, 1, result.ItemsProcessed)
	require.Zero(t, result.ItemsFailed, "items outside the window are skipped, not failed")
}

func TestCollectorFailureAbortsPathNotRun(t *testing.T) {
	collector := &fakeCollector{err: errors.New("plex unreachable")}
	transport := &fakeTransport{}
	engine := newTestEngine(collector, transport)

	result, err := engine.FullSync(context.Background(), models.SyncOptions{})
	require.NoError(t, err, "callers always receive a result")
	require.False(t, result.Success)
	require.NotEmpty(t, result.Errors)
	require.Empty(t, transport.addCalls)
}
