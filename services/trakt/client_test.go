package trakt

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}

func newTestClient(rt roundTripFunc) *Client {
	c := NewClient("client-id", "client-secret", "urn:ietf:wg:oauth:2.0:oob")
	c.httpClient = &http.Client{Transport: rt}
	c.sleep = func(time.Duration) {}
	return c
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Body:       io.NopCloser(bytes.NewBufferString(body)),
		Header:     make(http.Header),
	}
}

func TestAuthorizationURL(t *testing.T) {
	c := NewClient("abc", "secret", "http://localhost/callback")

	authURL := c.AuthorizationURL("xyzzy")
	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}

	q := parsed.Query()
	if q.Get("response_type") != "code" {
		t.Fatalf("expected response_type=code, got %q", q.Get("response_type"))
	}
	if q.Get("client_id") != "abc" {
		t.Fatalf("expected client_id=abc, got %q", q.Get("client_id"))
	}
	if q.Get("redirect_uri") != "http://localhost/callback" {
		t.Fatalf("unexpected redirect_uri %q", q.Get("redirect_uri"))
	}
	if q.Get("state") != "xyzzy" {
		t.Fatalf("expected state=xyzzy, got %q", q.Get("state"))
	}
}

func TestRateLimitBackoffAndRetryOnce(t *testing.T) {
	var calls int
	var slept []time.Duration

	c := newTestClient(func(req *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			resp := jsonResponse(http.StatusTooManyRequests, `{}`)
			resp.Header.Set("Retry-After", "3")
			return resp, nil
		}
		return jsonResponse(http.StatusOK, `{"username":"ada"}`), nil
	})
	c.sleep = func(d time.Duration) { slept = append(slept, d) }
	c.SetTokens("token", "refresh")

	profile, err := c.CurrentUser(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.Username != "ada" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if calls != 2 {
		t.Fatalf("expected exactly one retry (2 calls), got %d", calls)
	}

	// The advised wait was honored and the inter-request delay grew to at
	// least the advisory.
	found := false
	for _, d := range slept {
		if d == 3*time.Second {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected a 3s sleep for the advised retry, got %v", slept)
	}
	if c.CurrentDelay() < 3*time.Second {
		t.Fatalf("expected delay >= 3s after advisory, got %s", c.CurrentDelay())
	}

	// A later successful call never shrinks the delay.
	if _, err := c.CurrentUser(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.CurrentDelay() < 3*time.Second {
		t.Fatalf("delay decreased after a successful call: %s", c.CurrentDelay())
	}
}

func TestRateLimitDelayGrowsByMultiplier(t *testing.T) {
	c := newTestClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{}`), nil
	})

	c.raiseDelay(2 * time.Second)
	if got := c.CurrentDelay(); got != 2*time.Second {
		t.Fatalf("expected 2s delay, got %s", got)
	}

	// A second advisory smaller than multiplier*current still doubles.
	c.raiseDelay(1 * time.Second)
	if got := c.CurrentDelay(); got != 4*time.Second {
		t.Fatalf("expected 4s delay, got %s", got)
	}
}

func TestRateLimitDelayCapped(t *testing.T) {
	c := newTestClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{}`), nil
	})
	c.maxDelay = 10 * time.Second

	c.raiseDelay(1 * time.Hour)
	if got := c.CurrentDelay(); got != 10*time.Second {
		t.Fatalf("expected delay capped at 10s, got %s", got)
	}
}

func TestRateLimitedTwiceSurfacesError(t *testing.T) {
	var calls int
	c := newTestClient(func(req *http.Request) (*http.Response, error) {
		calls++
		resp := jsonResponse(http.StatusTooManyRequests, `{}`)
		resp.Header.Set("Retry-After", "1")
		return resp, nil
	})
	c.SetTokens("token", "refresh")

	_, err := c.CurrentUser(context.Background())
	var rateErr *RateLimitedError
	if !errors.As(err, &rateErr) {
		t.Fatalf("expected RateLimitedError, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", calls)
	}
}

func TestUnauthorizedRefreshAndRetryOnce(t *testing.T) {
	var userCalls int
	var refreshCalls int
	var retriedAuth string

	c := newTestClient(func(req *http.Request) (*http.Response, error) {
		switch {
		case req.URL.Path == "/oauth/token":
			refreshCalls++
			body, _ := io.ReadAll(req.Body)
			if !strings.Contains(string(body), `"grant_type":"refresh_token"`) {
				t.Fatalf("expected refresh_token grant, got %s", body)
			}
			return jsonResponse(http.StatusOK, `{"access_token":"new-access","refresh_token":"new-refresh","expires_in":7200,"created_at":100}`), nil
		case req.URL.Path == "/users/me":
			userCalls++
			if userCalls == 1 {
				return jsonResponse(http.StatusUnauthorized, `{}`), nil
			}
			retriedAuth = req.Header.Get("Authorization")
			return jsonResponse(http.StatusOK, `{"username":"ada"}`), nil
		default:
			t.Fatalf("unexpected path %s", req.URL.Path)
			return nil, nil
		}
	})
	c.SetTokens("stale-access", "valid-refresh")

	var persistedAccess, persistedRefresh string
	var persistedExpiry int64
	c.OnTokenRefresh(func(access, refresh string, expiresAt int64) {
		persistedAccess, persistedRefresh, persistedExpiry = access, refresh, expiresAt
	})

	profile, err := c.CurrentUser(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if profile.Username != "ada" {
		t.Fatalf("unexpected profile: %+v", profile)
	}
	if userCalls != 2 {
		t.Fatalf("expected exactly one replay (2 user calls), got %d", userCalls)
	}
	if refreshCalls != 1 {
		t.Fatalf("expected exactly one refresh call, got %d", refreshCalls)
	}
	if retriedAuth != "Bearer new-access" {
		t.Fatalf("replay did not carry the new access token: %q", retriedAuth)
	}
	if persistedAccess != "new-access" || persistedRefresh != "new-refresh" || persistedExpiry != 7300 {
		t.Fatalf("refresh callback got %q %q %d", persistedAccess, persistedRefresh, persistedExpiry)
	}
}

func TestUnauthorizedWithoutRefreshToken(t *testing.T) {
	var calls int
	c := newTestClient(func(req *http.Request) (*http.Response, error) {
		calls++
		return jsonResponse(http.StatusUnauthorized, `{}`), nil
	})
	c.SetTokens("stale-access", "")

	_, err := c.CurrentUser(context.Background())
	if !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("expected ErrReauthRequired, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("expected no retry without a refresh token, got %d calls", calls)
	}
}

func TestUnauthorizedRefreshFailure(t *testing.T) {
	c := newTestClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path == "/oauth/token" {
			return jsonResponse(http.StatusBadRequest, `{"error":"invalid_grant","error_description":"refresh token revoked"}`), nil
		}
		return jsonResponse(http.StatusUnauthorized, `{}`), nil
	})
	c.SetTokens("stale-access", "revoked-refresh")

	_, err := c.CurrentUser(context.Background())
	if !errors.Is(err, ErrReauthRequired) {
		t.Fatalf("expected ErrReauthRequired, got %v", err)
	}
}

func TestAPIErrorCarriesRemoteDescription(t *testing.T) {
	c := newTestClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusUnprocessableEntity, `{"error":"validation_failed","error_description":"year is invalid"}`), nil
	})
	c.SetTokens("token", "refresh")

	_, err := c.Stats(context.Background())
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.Code != "validation_failed" || apiErr.Description != "year is invalid" {
		t.Fatalf("unexpected error detail: %+v", apiErr)
	}
}

func TestAddToHistorySendsGroupedPayload(t *testing.T) {
	var captured string
	c := newTestClient(func(req *http.Request) (*http.Response, error) {
		if req.URL.Path != "/sync/history" {
			t.Fatalf("unexpected path %s", req.URL.Path)
		}
		body, _ := io.ReadAll(req.Body)
		captured = string(body)
		return jsonResponse(http.StatusCreated, `{"added":{"movies":1},"not_found":{"movies":[]}}`), nil
	})
	c.SetTokens("token", "refresh")

	resp, err := c.AddToHistory(context.Background(), SyncHistoryRequest{
		Movies: []SyncMovie{{Title: "Heat", Year: 1995, IDs: IDs{IMDB: "tt0113277"}}},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Added.Movies != 1 {
		t.Fatalf("unexpected added count: %+v", resp.Added)
	}
	if !strings.Contains(captured, `"imdb":"tt0113277"`) {
		t.Fatalf("request body missing imdb id: %s", captured)
	}
	if strings.Contains(captured, `"shows"`) || strings.Contains(captured, `"episodes"`) {
		t.Fatalf("empty groups should be omitted: %s", captured)
	}
}

func TestPaceWaitsRemainingDelay(t *testing.T) {
	c := newTestClient(func(req *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{}`), nil
	})

	var slept []time.Duration
	c.sleep = func(d time.Duration) { slept = append(slept, d) }

	c.mu.Lock()
	c.currentDelay = 500 * time.Millisecond
	c.lastRequest = time.Now()
	c.mu.Unlock()

	c.pace()

	if len(slept) != 1 {
		t.Fatalf("expected one sleep, got %v", slept)
	}
	if slept[0] <= 0 || slept[0] > 500*time.Millisecond {
		t.Fatalf("expected remaining-difference sleep, got %s", slept[0])
	}
}
