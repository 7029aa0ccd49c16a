// Package session turns a stream of now-playing samples into play sessions
// and decides when a session qualifies as a scrobble.
package session

import (
	"time"

	"github.com/llehouerou/scrobbled/internal/scrobble"
)

// PlaybackState is the reported state of the host's media session.
type PlaybackState int

const (
	Stopped PlaybackState = iota
	Playing
	Paused
)

func (s PlaybackState) String() string {
	switch s {
	case Playing:
		return "playing"
	case Paused:
		return "paused"
	case Stopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Sample is one point-in-time observation from the poller. Track text is
// expected to be normalized before it reaches the tracker.
type Sample struct {
	Track      scrobble.Track
	Duration   time.Duration
	Position   time.Duration
	State      PlaybackState
	AppID      string
	ArtURL     string
	ObservedAt time.Time
}

// NowPlaying is the display state handed to the UI collaborator.
type NowPlaying struct {
	Track  scrobble.Track
	State  PlaybackState
	AppID  string
	ArtURL string
}

// Listener receives fire-and-forget display events. Implementations must
// not block: they are called from the polling loop.
type Listener interface {
	NowPlaying(np NowPlaying)
	Scrobbled(rec scrobble.Record)
}
