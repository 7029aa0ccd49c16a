// Package poller defines the host media-session observer.
package poller

import (
	"context"
	"errors"

	"github.com/llehouerou/scrobbled/internal/session"
)

// ErrUnsupported is returned by New on platforms without a media-session
// source.
var ErrUnsupported = errors.New("poller: no media session source on this platform")

// Poller reads the host's current now-playing state. A nil sample with a
// nil error means no media session exists right now.
type Poller interface {
	Poll(ctx context.Context) (*session.Sample, error)
	Close() error
}
