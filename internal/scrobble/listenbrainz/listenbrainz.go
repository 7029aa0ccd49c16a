// Package listenbrainz submits listens to a ListenBrainz-compatible API.
// Multiple instances can run side by side (listenbrainz.org plus a
// self-hosted Maloja, for example), each with its own name and token.
package listenbrainz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/llehouerou/scrobbled/internal/scrobble"
)

const (
	DefaultBaseURL = "https://api.listenbrainz.org"

	submitPath           = "/1/submit-listens"
	listenTypeSingle     = "single"
	listenTypePlayingNow = "playing_now"
)

type submission struct {
	ListenType string    `json:"listen_type"`
	Payload    []payload `json:"payload"`
}

type payload struct {
	ListenedAt    int64         `json:"listened_at,omitempty"`
	TrackMetadata trackMetadata `json:"track_metadata"`
}

type trackMetadata struct {
	ArtistName  string          `json:"artist_name"`
	TrackName   string          `json:"track_name"`
	ReleaseName string          `json:"release_name,omitempty"`
	Additional  *additionalInfo `json:"additional_info,omitempty"`
}

type additionalInfo struct {
	DurationMS int64 `json:"duration_ms,omitempty"`
}

// Backend is one ListenBrainz-compatible delivery target. It satisfies
// scrobble.Scrobbler.
type Backend struct {
	name       string
	baseURL    string
	token      string
	httpClient *http.Client
}

func New(name, baseURL, token string) *Backend {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Backend{
		name:       name,
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// Name returns "listenbrainz" for the primary instance and
// "listenbrainz:<name>" for additional ones, so each instance keeps its own
// delivery state.
func (b *Backend) Name() string {
	if b.name == "" || strings.EqualFold(b.name, "primary") {
		return "listenbrainz"
	}
	return "listenbrainz:" + strings.ToLower(b.name)
}

func (b *Backend) Scrobble(ctx context.Context, rec scrobble.Record) error {
	p := payloadFor(rec.Track, rec.Duration)
	p.ListenedAt = rec.StartedAt.Unix()
	return b.submit(ctx, submission{
		ListenType: listenTypeSingle,
		Payload:    []payload{p},
	})
}

func (b *Backend) NowPlaying(ctx context.Context, track scrobble.Track) error {
	return b.submit(ctx, submission{
		ListenType: listenTypePlayingNow,
		Payload:    []payload{payloadFor(track, 0)},
	})
}

func payloadFor(track scrobble.Track, duration time.Duration) payload {
	p := payload{
		TrackMetadata: trackMetadata{
			ArtistName:  track.Artist,
			TrackName:   track.Title,
			ReleaseName: track.Album,
		},
	}
	if duration > 0 {
		p.TrackMetadata.Additional = &additionalInfo{DurationMS: duration.Milliseconds()}
	}
	return p
}

func (b *Backend) submit(ctx context.Context, sub submission) error {
	var body bytes.Buffer
	if err := json.NewEncoder(&body).Encode(sub); err != nil {
		return scrobble.NewPermanentError(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, b.baseURL+submitPath, &body)
	if err != nil {
		return scrobble.NewPermanentError(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Token "+b.token)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return scrobble.Retryablef("http post: %w", err)
	}
	defer resp.Body.Close()

	// 401 means a bad token, 400 a payload the server will never accept.
	// 429 and 5xx are worth another attempt later.
	switch {
	case resp.StatusCode < 400:
		return nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return scrobble.Retryablef("%s: rate limited", b.Name())
	case resp.StatusCode >= 500:
		return scrobble.Retryablef("%s: http %d", b.Name(), resp.StatusCode)
	default:
		return scrobble.Permanentf("%s: http %d: %s", b.Name(), resp.StatusCode, readError(resp))
	}
}

func readError(resp *http.Response) string {
	var apiErr struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err != nil {
		return resp.Status
	}
	if apiErr.Error == "" {
		return resp.Status
	}
	return apiErr.Error
}

var _ scrobble.Scrobbler = (*Backend)(nil)

// Validate checks the token against the instance by calling validate-token.
// Used at startup to surface a misconfigured instance early.
func (b *Backend) Validate(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.baseURL+"/1/validate-token", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Token "+b.token)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: token validation failed: http %d", b.Name(), resp.StatusCode)
	}
	var result struct {
		Valid bool `json:"valid"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return err
	}
	if !result.Valid {
		return fmt.Errorf("%s: token rejected", b.Name())
	}
	return nil
}
