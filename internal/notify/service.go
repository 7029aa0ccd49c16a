package notify

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/llehouerou/scrobbled/internal/scrobble"
	"github.com/llehouerou/scrobbled/internal/session"
)

// Service turns tracker and delivery events into desktop notifications.
// Every method is fire-and-forget: callers run on hot loops and must never
// wait on the notification daemon.
type Service struct {
	notifier Notifier
	log      zerolog.Logger
	enabled  bool
	resolver func(appID string, allowed bool)

	mu           sync.Mutex
	nowPlayingID uint32
}

func NewService(notifier Notifier, enabled bool, log zerolog.Logger) *Service {
	return &Service{
		notifier: notifier,
		log:      log,
		enabled:  enabled,
	}
}

// SetResolver installs the callback that records an app decision chosen
// through a notification action. Must be set before events start flowing.
func (s *Service) SetResolver(fn func(appID string, allowed bool)) {
	s.resolver = fn
}

// NowPlaying shows the current track, replacing the previous now-playing
// bubble instead of stacking a new one per poll.
func (s *Service) NowPlaying(np session.NowPlaying) {
	if !s.enabled || np.State == session.Stopped {
		return
	}
	go func() {
		s.mu.Lock()
		replaces := s.nowPlayingID
		s.mu.Unlock()

		title := "Now playing"
		if np.State == session.Paused {
			title = "Paused"
		}
		icon := "media-playback-start"
		if np.ArtURL != "" {
			icon = np.ArtURL
		}
		id, err := s.notifier.Notify(Notification{
			Title:      title,
			Body:       np.Track.String(),
			Icon:       icon,
			Timeout:    5000,
			ReplacesID: replaces,
			Urgency:    UrgencyLow,
		})
		if err != nil {
			s.log.Debug().Err(err).Msg("now-playing notification failed")
			return
		}
		s.mu.Lock()
		s.nowPlayingID = id
		s.mu.Unlock()
	}()
}

// Scrobbled announces that a play qualified and was queued for delivery.
func (s *Service) Scrobbled(rec scrobble.Record) {
	s.send(Notification{
		Title:   "Scrobbled",
		Body:    rec.Track.String(),
		Icon:    "emblem-ok-symbolic",
		Timeout: 5000,
		Urgency: UrgencyLow,
	})
}

// Delivered is called per backend; successful deliveries are routine and
// only logged.
func (s *Service) Delivered(rec scrobble.Record, backend string) {
	s.log.Debug().Str("backend", backend).Str("track", rec.Track.String()).Msg("delivered")
}

// DeliveryFailed surfaces permanent failures, which need the user's
// attention (usually expired credentials). Transient failures stay in the
// log; the queue is already retrying them.
func (s *Service) DeliveryFailed(rec scrobble.Record, backend string, err error, permanent bool) {
	if !permanent {
		return
	}
	s.send(Notification{
		Title:   fmt.Sprintf("Scrobble rejected by %s", backend),
		Body:    fmt.Sprintf("%s\n%v", rec.Track.String(), err),
		Icon:    "dialog-error",
		Timeout: 0,
		Urgency: UrgencyCritical,
	})
}

// RequestDecision asks the user whether a newly seen app may scrobble. The
// buttons answer in place; the body names the CLI fallback for servers that
// drop actions. That app's plays are held meanwhile.
func (s *Service) RequestDecision(appID string) {
	s.send(Notification{
		Title: "New app detected",
		Body: fmt.Sprintf(
			"%q is playing media. Should its plays scrobble? You can also run 'scrobbled -allow-app %s' or 'scrobbled -ignore-app %s'.",
			appID, appID, appID,
		),
		Icon:    "dialog-question",
		Timeout: 0,
		Urgency: UrgencyNormal,
		Actions: []Action{
			{Key: "allow", Label: "Allow"},
			{Key: "ignore", Label: "Ignore"},
		},
		OnAction: func(key string) {
			if s.resolver == nil {
				return
			}
			s.resolver(appID, key == "allow")
		},
	})
}

func (s *Service) send(n Notification) {
	if !s.enabled {
		return
	}
	go func() {
		if _, err := s.notifier.Notify(n); err != nil {
			s.log.Debug().Err(err).Str("title", n.Title).Msg("notification failed")
		}
	}()
}
