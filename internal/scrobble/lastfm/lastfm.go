// Package lastfm submits scrobbles and now-playing updates to Last.fm.
package lastfm

import (
	"context"
	"errors"
	"fmt"

	"github.com/shkh/lastfm-go/lastfm"

	"github.com/llehouerou/scrobbled/internal/scrobble"
)

// ErrNotAuthenticated is returned when no session key is configured.
var ErrNotAuthenticated = errors.New("lastfm: not authenticated")

// Backend is the Last.fm delivery backend. It satisfies scrobble.Scrobbler.
type Backend struct {
	api        *lastfm.Api
	apiKey     string
	sessionKey string
}

func New(apiKey, apiSecret, sessionKey string) *Backend {
	api := lastfm.New(apiKey, apiSecret)
	if sessionKey != "" {
		api.SetSession(sessionKey)
	}
	return &Backend{
		api:        api,
		apiKey:     apiKey,
		sessionKey: sessionKey,
	}
}

func (b *Backend) Name() string { return "lastfm" }

func (b *Backend) Authenticated() bool { return b.sessionKey != "" }

// Scrobble submits one play. Errors are classified so the delivery queue
// knows whether to retry: a missing or revoked session is permanent, rate
// limits and service hiccups are not.
func (b *Backend) Scrobble(ctx context.Context, rec scrobble.Record) error {
	if !b.Authenticated() {
		return scrobble.NewPermanentError(ErrNotAuthenticated)
	}

	params := lastfm.P{
		"artist":    rec.Track.Artist,
		"track":     rec.Track.Title,
		"timestamp": rec.StartedAt.Unix(),
	}
	if rec.Track.Album != "" {
		params["album"] = rec.Track.Album
	}
	if rec.Duration > 0 {
		params["duration"] = int(rec.Duration.Seconds())
	}

	return b.call(ctx, func() error {
		_, err := b.api.Track.Scrobble(params)
		if err != nil {
			return classify(fmt.Errorf("scrobble: %w", err))
		}
		return nil
	})
}

// NowPlaying sends a transient now-playing update. Failures are not
// retried by the caller, so classification does not matter much here.
func (b *Backend) NowPlaying(ctx context.Context, track scrobble.Track) error {
	if !b.Authenticated() {
		return scrobble.NewPermanentError(ErrNotAuthenticated)
	}

	params := lastfm.P{
		"artist": track.Artist,
		"track":  track.Title,
	}
	if track.Album != "" {
		params["album"] = track.Album
	}

	return b.call(ctx, func() error {
		_, err := b.api.Track.UpdateNowPlaying(params)
		if err != nil {
			return classify(fmt.Errorf("update now playing: %w", err))
		}
		return nil
	})
}

// call runs fn off the calling goroutine so a hung request cannot outlive
// the context. The underlying client has no context support of its own.
func (b *Backend) call(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	done := make(chan error, 1)
	go func() { done <- fn() }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Last.fm API error codes that indicate a transient service problem.
// Everything else from the API (bad auth, invalid parameters) will not
// succeed on retry.
const (
	codeServiceOffline         = 11
	codeTemporarilyUnavailable = 16
	codeRateLimitExceeded      = 29
)

func classify(err error) error {
	var apiErr *lastfm.LastfmError
	if !errors.As(err, &apiErr) {
		// Transport-level failure: network is down or the host is
		// unreachable. Always worth retrying.
		return scrobble.NewRetryableError(err)
	}
	switch apiErr.Code {
	case codeServiceOffline, codeTemporarilyUnavailable, codeRateLimitExceeded:
		return scrobble.NewRetryableError(err)
	default:
		return scrobble.NewPermanentError(err)
	}
}
