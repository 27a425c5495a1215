package sync

import (
	"context"
	"log"

	"watchbridge/models"
	"watchbridge/services/trakt"
)

// ScrobbleTransport is the remote side of scrobbling. All three calls are
// stateless from the transport's perspective.
type ScrobbleTransport interface {
	ScrobbleStart(ctx context.Context, request trakt.ScrobbleRequest) (*trakt.ScrobbleResponse, error)
	ScrobblePause(ctx context.Context, request trakt.ScrobbleRequest) (*trakt.ScrobbleResponse, error)
	ScrobbleStop(ctx context.Context, request trakt.ScrobbleRequest) (*trakt.ScrobbleResponse, error)
}

var _ ScrobbleTransport = (*trakt.Client)(nil)

// Scrobbler maps watch sessions onto scrobble calls. The session object is
// the source of truth for playback state; the only state-machine logic is
// choosing which remote operation its declared state maps to.
type Scrobbler struct {
	transport ScrobbleTransport
}

// NewScrobbler creates a scrobble dispatcher.
func NewScrobbler(transport ScrobbleTransport) *Scrobbler {
	return &Scrobbler{transport: transport}
}

// StartSession reports that playback began. Sessions without a known
// duration cannot report progress and are skipped with a warning.
func (s *Scrobbler) StartSession(ctx context.Context, session models.WatchSession) error {
	if session.DurationMs <= 0 {
		log.Printf("[scrobble] skipping start for %q: unknown duration", session.Title)
		return nil
	}
	payload, err := BuildScrobblePayload(session)
	if err != nil {
		return err
	}
	_, err = s.transport.ScrobbleStart(ctx, payload)
	return err
}

// UpdateProgress reports a progress change. A paused session maps to the
// pause operation; every other state maps to start, which doubles as the
// resume signal (there is no distinct resume verb).
func (s *Scrobbler) UpdateProgress(ctx context.Context, session models.WatchSession) error {
	if session.DurationMs <= 0 || session.ViewOffset == 0 {
		log.Printf("[scrobble] skipping progress for %q: no duration or offset", session.Title)
		return nil
	}
	payload, err := BuildScrobblePayload(session)
	if err != nil {
		return err
	}

	if session.State == models.SessionStatePaused {
		_, err = s.transport.ScrobblePause(ctx, payload)
	} else {
		_, err = s.transport.ScrobbleStart(ctx, payload)
	}
	return err
}

// EndSession reports that playback stopped.
func (s *Scrobbler) EndSession(ctx context.Context, session models.WatchSession) error {
	if session.DurationMs <= 0 {
		log.Printf("[scrobble] skipping stop for %q: unknown duration", session.Title)
		return nil
	}
	payload, err := BuildScrobblePayload(session)
	if err != nil {
		return err
	}
	_, err = s.transport.ScrobbleStop(ctx, payload)
	return err
}
