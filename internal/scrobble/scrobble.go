// Package scrobble defines the durable play record handed to the delivery
// queue and the contract every backend adapter implements.
package scrobble

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// keyNamespace seeds the UUIDv5 idempotency key derivation. Changing it
// would re-deliver the whole backlog, so it never changes.
var keyNamespace = uuid.MustParse("9f3c1f6e-8a74-4f9f-9d6b-2f6f3f1c7a42")

// Track is the normalized identity of a song: the tuple that decides
// whether two samples refer to the same play.
type Track struct {
	Title  string
	Artist string
	Album  string
}

func (t Track) String() string {
	return fmt.Sprintf("%s - %s", t.Artist, t.Title)
}

// Record is the immutable unit handed to the delivery queue once a play
// session becomes eligible. StartedAt is the moment playback began, per
// scrobbling convention, not the moment eligibility was reached.
type Record struct {
	Key       string
	Track     Track
	Duration  time.Duration
	StartedAt time.Time
}

// NewRecord derives the stable idempotency key from the track identity and
// the session start time, so replaying the same session never produces a
// second logical scrobble.
func NewRecord(track Track, duration time.Duration, startedAt time.Time) Record {
	seed := fmt.Sprintf("%s\x00%s\x00%s\x00%d", track.Artist, track.Title, track.Album, startedAt.Unix())
	return Record{
		Key:       uuid.NewSHA1(keyNamespace, []byte(seed)).String(),
		Track:     track,
		Duration:  duration,
		StartedAt: startedAt,
	}
}

// Scrobbler is implemented by every backend adapter. Submissions own their
// authentication and wire format entirely; errors are classified through
// RetryableError and PermanentError.
type Scrobbler interface {
	// Name identifies the backend in the delivery queue and in logs.
	Name() string
	// Scrobble submits one play record.
	Scrobble(ctx context.Context, rec Record) error
	// NowPlaying updates the backend's transient now-playing state.
	NowPlaying(ctx context.Context, track Track) error
}
