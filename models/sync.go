package models

import "time"

// SyncDirection selects which way a sync run moves watch state.
type SyncDirection string

const (
	DirectionPlexToTrakt   SyncDirection = "plex_to_trakt"
	DirectionTraktToPlex   SyncDirection = "trakt_to_plex"
	DirectionBidirectional SyncDirection = "bidirectional"
)

// SyncOptions controls one sync run.
type SyncOptions struct {
	Direction            SyncDirection `json:"direction"`
	DryRun               bool          `json:"dryRun"`
	BatchSize            int           `json:"batchSize"`
	IncludeProgress      bool          `json:"includeProgress"`
	AutoResolveConflicts bool          `json:"autoResolveConflicts"`
}

// Conflict records a disagreement between source and remote watch state for
// the same entity. Detection is a documented capability gap: the list is
// carried on every result but never populated.
type Conflict struct {
	MediaType  string      `json:"mediaType"`
	Title      string      `json:"title"`
	IDs        IdentitySet `json:"ids,omitempty"`
	PlexState  string      `json:"plexState"`
	TraktState string      `json:"traktState"`
}

// SyncResult aggregates the outcome of one sync run. It is mutated only by
// the engine that owns the run and is immutable once the run completes.
type SyncResult struct {
	RunID          string     `json:"runId"`
	Success        bool       `json:"success"`
	ItemsProcessed int        `json:"itemsProcessed"`
	ItemsAdded     int        `json:"itemsAdded"`
	ItemsUpdated   int        `json:"itemsUpdated"`
	ItemsFailed    int        `json:"itemsFailed"`
	Conflicts      []Conflict `json:"conflicts"`
	Errors         []string   `json:"errors"`
	StartedAt      time.Time  `json:"startedAt"`
	FinishedAt     time.Time  `json:"finishedAt"`
	Duration       string     `json:"duration"`
}

// Merge folds another result into r: counts summed, lists concatenated.
func (r *SyncResult) Merge(other SyncResult) {
	r.ItemsProcessed += other.ItemsProcessed
	r.ItemsAdded += other.ItemsAdded
	r.ItemsUpdated += other.ItemsUpdated
	r.ItemsFailed += other.ItemsFailed
	r.Conflicts = append(r.Conflicts, other.Conflicts...)
	r.Errors = append(r.Errors, other.Errors...)
}

// Finalize stamps the end of the run and applies the success policy. The
// policy is deliberately lenient: a run counts as successful when it recorded
// no errors, or when it processed at least one item despite errors. This is
// the single place that rule lives.
func (r *SyncResult) Finalize(now time.Time) {
	r.FinishedAt = now
	r.Duration = now.Sub(r.StartedAt).Round(time.Millisecond).String()
	r.Success = len(r.Errors) == 0 || r.ItemsProcessed > 0
}

// SyncStatus is a read-only snapshot of the engine's run state.
type SyncStatus struct {
	Running    bool      `json:"running"`
	RunID      string    `json:"runId,omitempty"`
	StartedAt  time.Time `json:"startedAt,omitempty"`
	LastResult *SyncResult `json:"lastResult,omitempty"`
}
