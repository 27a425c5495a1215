package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	stdsync "sync"
	"sync/atomic"
	"time"

	"watchbridge/models"
	"watchbridge/services/plex"
	"watchbridge/services/trakt"

	"github.com/google/uuid"
)

// ErrSyncInProgress is returned when a run is started while another run is
// still active on the same engine.
var ErrSyncInProgress = errors.New("sync already in progress")

// Collector is the source side of a sync run: the local catalog's watch
// history.
type Collector interface {
	GetWatchedMovies(ctx context.Context) ([]models.WatchedMovie, error)
	GetWatchedEpisodes(ctx context.Context) ([]models.WatchedEpisode, error)
}

// Transport is the remote side of a sync run.
type Transport interface {
	AddToHistory(ctx context.Context, request trakt.SyncHistoryRequest) (*trakt.SyncHistoryResponse, error)
	WatchedMovies(ctx context.Context) ([]trakt.WatchedMovieItem, error)
	WatchedShows(ctx context.Context) ([]trakt.WatchedShowItem, error)
}

var (
	_ Collector = (*plex.Client)(nil)
	_ Transport = (*trakt.Client)(nil)
)

// Options tunes engine-level pacing and batching defaults.
type Options struct {
	BatchSize            int
	IncrementalBatchSize int
	BatchPause           time.Duration
}

// Engine orchestrates watch-history reconciliation runs between the
// collector and the transport. At most one run may be active per engine;
// batches within a run are strictly sequential.
type Engine struct {
	collector Collector
	transport Transport
	opts      Options

	running atomic.Bool
	sleep   func(time.Duration)

	mu         stdsync.Mutex
	runID      string
	startedAt  time.Time
	lastResult *models.SyncResult
}

// NewEngine creates a sync engine. Zero option fields get defaults.
func NewEngine(collector Collector, transport Transport, opts Options) *Engine {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.IncrementalBatchSize <= 0 {
		opts.IncrementalBatchSize = 25
	}
	if opts.BatchPause <= 0 {
		opts.BatchPause = time.Second
	}
	return &Engine{
		collector: collector,
		transport: transport,
		opts:      opts,
		sleep:     time.Sleep,
	}
}

// FullSync runs one reconciliation pass in the requested direction. The
// returned result is complete even on partial failure; only a refused start
// (another run active) returns an error instead.
func (e *Engine) FullSync(ctx context.Context, opts models.SyncOptions) (models.SyncResult, error) {
	return e.run(ctx, nil, opts)
}

// IncrementalSync runs a sync restricted to source items viewed after
// since, using the smaller incremental batch size unless one was given.
func (e *Engine) IncrementalSync(ctx context.Context, since time.Time, opts models.SyncOptions) (models.SyncResult, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = e.opts.IncrementalBatchSize
	}
	return e.run(ctx, &since, opts)
}

// Status reports whether a run is active and its identifier. Read-only.
func (e *Engine) Status() models.SyncStatus {
	e.mu.Lock()
	defer e.mu.Unlock()
	return models.SyncStatus{
		Running:    e.running.Load(),
		RunID:      e.runID,
		StartedAt:  e.startedAt,
		LastResult: e.lastResult,
	}
}

// run executes one sync pass. result is a named return so the deferred
// cleanup can finalize it on every exit path, panics included.
func (e *Engine) run(ctx context.Context, since *time.Time, opts models.SyncOptions) (result models.SyncResult, err error) {
	// Claim run exclusivity before any work. CompareAndSwap means two
	// concurrent starts cannot both observe "not running".
	if !e.running.CompareAndSwap(false, true) {
		return models.SyncResult{}, ErrSyncInProgress
	}

	if opts.BatchSize <= 0 {
		opts.BatchSize = e.opts.BatchSize
	}
	if opts.Direction == "" {
		opts.Direction = models.DirectionPlexToTrakt
	}

	result = models.SyncResult{
		RunID:     uuid.NewString(),
		StartedAt: time.Now(),
		Conflicts: []models.Conflict{},
		Errors:    []string{},
	}

	e.mu.Lock()
	e.runID = result.RunID
	e.startedAt = result.StartedAt
	e.mu.Unlock()

	// Guaranteed cleanup: a panic or early return mid-run must not wedge
	// the engine.
	defer func() {
		result.Finalize(time.Now())
		final := result
		e.mu.Lock()
		e.runID = ""
		e.startedAt = time.Time{}
		e.lastResult = &final
		e.mu.Unlock()
		e.running.Store(false)
		log.Printf("[sync] run %s finished: processed=%d added=%d updated=%d failed=%d errors=%d duration=%s",
			result.RunID, result.ItemsProcessed, result.ItemsAdded, result.ItemsUpdated, result.ItemsFailed, len(result.Errors), result.Duration)
	}()

	log.Printf("[sync] run %s starting: direction=%s dryRun=%v batchSize=%d", result.RunID, opts.Direction, opts.DryRun, opts.BatchSize)

	switch opts.Direction {
	case models.DirectionPlexToTrakt:
		e.syncToTrakt(ctx, since, opts, &result)
	case models.DirectionTraktToPlex:
		e.syncFromTrakt(ctx, opts, &result)
	case models.DirectionBidirectional:
		e.syncToTrakt(ctx, since, opts, &result)
		e.syncFromTrakt(ctx, opts, &result)
	default:
		result.Errors = append(result.Errors, fmt.Sprintf("unknown sync direction %q", opts.Direction))
	}

	return result, nil
}

// syncToTrakt pushes the source catalog's watch history to the remote
// service: movies in fixed-size sequential batches, episodes as one call
// grouped show then season.
func (e *Engine) syncToTrakt(ctx context.Context, since *time.Time, opts models.SyncOptions, result *models.SyncResult) {
	movies, err := e.collector.GetWatchedMovies(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("fetch watched movies: %v", err))
	} else {
		validMovies := e.filterMovies(movies, since, result)
		e.pushMovies(ctx, validMovies, opts, result)
	}

	episodes, err := e.collector.GetWatchedEpisodes(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("fetch watched episodes: %v", err))
		return
	}
	validEpisodes := e.filterEpisodes(episodes, since, result)
	e.pushEpisodes(ctx, validEpisodes, opts, result)
}

// filterMovies drops items outside the incremental window and items that
// fail validation. Each invalid item records one error string and one failed
// count; the run continues.
func (e *Engine) filterMovies(movies []models.WatchedMovie, since *time.Time, result *models.SyncResult) []models.WatchedMovie {
	valid := make([]models.WatchedMovie, 0, len(movies))
	for _, m := range movies {
		if since != nil && !m.LastViewedAt.After(*since) {
			continue
		}
		if v := models.ValidateMovie(m); !v.Valid {
			result.ItemsFailed++
			result.Errors = append(result.Errors, fmt.Sprintf("movie %q: %s", m.Title, strings.Join(v.Reasons, "; ")))
			continue
		}
		valid = append(valid, m)
	}
	return valid
}

func (e *Engine) filterEpisodes(episodes []models.WatchedEpisode, since *time.Time, result *models.SyncResult) []models.WatchedEpisode {
	valid := make([]models.WatchedEpisode, 0, len(episodes))
	for _, ep := range episodes {
		if since != nil && !ep.LastViewedAt.After(*since) {
			continue
		}
		if v := models.ValidateEpisode(ep); !v.Valid {
			result.ItemsFailed++
			label := ep.Title
			if ep.Show.Title != "" {
				label = fmt.Sprintf("%s S%02dE%02d", ep.Show.Title, ep.Season, ep.Episode)
			}
			result.Errors = append(result.Errors, fmt.Sprintf("episode %q: %s", label, strings.Join(v.Reasons, "; ")))
			continue
		}
		valid = append(valid, ep)
	}
	return valid
}

// pushMovies issues ceil(N/batchSize) sequential bulk calls with a fixed
// pause between batches. This pause is engine-level pacing; the transport's
// adaptive rate limiter applies on top of it.
func (e *Engine) pushMovies(ctx context.Context, movies []models.WatchedMovie, opts models.SyncOptions, result *models.SyncResult) {
	if len(movies) == 0 {
		return
	}
	if opts.DryRun {
		result.ItemsProcessed += len(movies)
		log.Printf("[sync] dry run: %d movies would be synced", len(movies))
		return
	}

	for start := 0; start < len(movies); start += opts.BatchSize {
		end := start + opts.BatchSize
		if end > len(movies) {
			end = len(movies)
		}
		batch := movies[start:end]

		resp, err := e.transport.AddToHistory(ctx, BuildMoviesPayload(batch))
		if err != nil {
			result.ItemsFailed += len(batch)
			result.Errors = append(result.Errors, fmt.Sprintf("movie batch %d-%d: %v", start, end-1, err))
		} else {
			result.ItemsProcessed += len(batch)
			result.ItemsAdded += resp.Added.Movies
			result.ItemsUpdated += resp.Existing.Movies
			for _, missing := range resp.NotFound.Movies {
				result.ItemsFailed++
				result.Errors = append(result.Errors, fmt.Sprintf("movie not found on trakt: %s", describeSyncMovie(missing)))
			}
		}

		if end < len(movies) {
			e.sleep(e.opts.BatchPause)
		}
	}
}

// pushEpisodes sends all episodes as a single bulk call grouped by show and
// season. Unlike movies, episodes are not chunked by batch size.
func (e *Engine) pushEpisodes(ctx context.Context, episodes []models.WatchedEpisode, opts models.SyncOptions, result *models.SyncResult) {
	if len(episodes) == 0 {
		return
	}
	if opts.DryRun {
		result.ItemsProcessed += len(episodes)
		log.Printf("[sync] dry run: %d episodes would be synced", len(episodes))
		return
	}

	resp, err := e.transport.AddToHistory(ctx, BuildShowsPayload(episodes))
	if err != nil {
		result.ItemsFailed += len(episodes)
		result.Errors = append(result.Errors, fmt.Sprintf("episode sync: %v", err))
		return
	}

	result.ItemsProcessed += len(episodes)
	result.ItemsAdded += resp.Added.Episodes
	result.ItemsUpdated += resp.Existing.Episodes
	for _, missing := range resp.NotFound.Shows {
		result.ItemsFailed++
		result.Errors = append(result.Errors, fmt.Sprintf("show not found on trakt: %s", describeSyncShow(missing)))
	}
	for range resp.NotFound.Episodes {
		result.ItemsFailed++
		result.Errors = append(result.Errors, "episode not found on trakt")
	}
}

// syncFromTrakt is comparison-only: remote watched items are counted as
// processed, and a non-dry run reports that write-back to the source is not
// implemented.
func (e *Engine) syncFromTrakt(ctx context.Context, opts models.SyncOptions, result *models.SyncResult) {
	movies, err := e.transport.WatchedMovies(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("fetch trakt watched movies: %v", err))
		return
	}
	shows, err := e.transport.WatchedShows(ctx)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("fetch trakt watched shows: %v", err))
		return
	}

	result.ItemsProcessed += len(movies) + len(shows)

	if !opts.DryRun {
		result.Errors = append(result.Errors, "trakt to plex write-back is not implemented; this direction is read-only")
	}
}

func describeSyncMovie(m trakt.SyncMovie) string {
	if m.Title != "" {
		return fmt.Sprintf("%s (%d)", m.Title, m.Year)
	}
	return describeIDs(m.IDs)
}

func describeSyncShow(s trakt.SyncShow) string {
	if s.Title != "" {
		return fmt.Sprintf("%s (%d)", s.Title, s.Year)
	}
	return describeIDs(s.IDs)
}

func describeIDs(ids trakt.IDs) string {
	switch {
	case ids.IMDB != "":
		return "imdb:" + ids.IMDB
	case ids.TMDB != 0:
		return fmt.Sprintf("tmdb:%d", ids.TMDB)
	case ids.TVDB != 0:
		return fmt.Sprintf("tvdb:%d", ids.TVDB)
	default:
		return "unknown ids"
	}
}
