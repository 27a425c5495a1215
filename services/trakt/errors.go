package trakt

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrReauthRequired is returned when a 401 cannot be recovered: no
	// refresh token is cached, or the refresh exchange itself failed.
	ErrReauthRequired = errors.New("trakt re-authentication required")

	// ErrNotConfigured is returned when the client has no application
	// credentials.
	ErrNotConfigured = errors.New("trakt client credentials not configured")
)

// RateLimitedError is returned when a request was rate limited and the
// single local retry was rate limited again.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("trakt rate limited, retry after %s", e.RetryAfter)
}

// APIError wraps any other non-2xx response, carrying Trakt's own error
// code and description when the body provided them.
type APIError struct {
	StatusCode  int
	Status      string
	Code        string
	Description string
}

func (e *APIError) Error() string {
	if e.Code != "" || e.Description != "" {
		return fmt.Sprintf("trakt api error: %s - %s: %s", e.Status, e.Code, e.Description)
	}
	return fmt.Sprintf("trakt api error: %s", e.Status)
}
