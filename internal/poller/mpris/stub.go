//go:build !linux

package mpris

import (
	"context"

	"github.com/llehouerou/scrobbled/internal/poller"
	"github.com/llehouerou/scrobbled/internal/session"
)

// Poller is unavailable off Linux: there is no D-Bus session bus to watch.
type Poller struct{}

func New() (*Poller, error) {
	return nil, poller.ErrUnsupported
}

func (p *Poller) Close() error { return nil }

func (p *Poller) Poll(_ context.Context) (*session.Sample, error) {
	return nil, poller.ErrUnsupported
}
