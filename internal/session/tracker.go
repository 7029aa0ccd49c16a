package session

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/llehouerou/scrobbled/internal/scrobble"
)

const (
	// Tracks shorter than this never scrobble, per Last.fm rules.
	minTrackDuration = 30 * time.Second
	// Accumulated play time after which a long track scrobbles even
	// before the percentage threshold.
	scrobbleTimeCap = 4 * time.Minute
)

// playSession is one continuous attempt to play one track instance.
type playSession struct {
	track    scrobble.Track
	appID    string
	artURL   string
	duration time.Duration

	startedAt    time.Time
	lastSeen     time.Time
	lastPosition time.Duration
	state        PlaybackState

	// accumulated advances only while playing; pause freezes it.
	accumulated time.Duration

	eligible  bool
	submitted bool
	stoppedAt time.Time // zero while not stopped
}

// Tracker owns the current play session. It is driven by exactly one
// goroutine (the polling loop) and holds no locks of its own; the only
// shared boundary is the enqueue handoff, which must not block on I/O.
type Tracker struct {
	thresholdPct int
	grace        time.Duration
	slack        time.Duration

	listener Listener
	enqueue  func(scrobble.Record) error
	log      zerolog.Logger

	cur *playSession
}

// New creates a tracker. thresholdPct is the percentage of track duration
// required for eligibility (capped at 4 minutes), grace how long a stopped
// session lingers before it closes, and slack the polling interval used to
// bound accumulation error and seek detection.
func New(thresholdPct int, grace, slack time.Duration, listener Listener, enqueue func(scrobble.Record) error, log zerolog.Logger) *Tracker {
	return &Tracker{
		thresholdPct: thresholdPct,
		grace:        grace,
		slack:        slack,
		listener:     listener,
		enqueue:      enqueue,
		log:          log,
	}
}

// Observe processes one sample, advancing the session state machine.
func (t *Tracker) Observe(s Sample) {
	if !t.valid(s) {
		return
	}

	if t.cur == nil {
		t.openIfPlaying(s)
		return
	}

	if s.Track != t.cur.track {
		// A different identity replaces the session; the new sample may
		// open its own session in the same step.
		t.close()
		t.openIfPlaying(s)
		return
	}

	t.advance(s)
}

// ObserveSilence handles a poll that found no media session at all, which
// the tracker treats as an implicit stop subject to the grace period.
func (t *Tracker) ObserveSilence(now time.Time) {
	if t.cur == nil {
		return
	}
	if t.cur.stoppedAt.IsZero() {
		t.cur.stoppedAt = now
		if t.cur.state != Stopped {
			t.cur.state = Stopped
			t.emitNowPlaying()
		}
		return
	}
	if now.Sub(t.cur.stoppedAt) >= t.grace {
		t.close()
		t.listener.NowPlaying(NowPlaying{State: Stopped})
	}
}

// Shutdown discards the current session without scrobbling it. At most one
// session's progress is lost, by design.
func (t *Tracker) Shutdown() {
	t.cur = nil
}

func (t *Tracker) valid(s Sample) bool {
	switch {
	case s.ObservedAt.IsZero(),
		s.Duration < 0,
		s.Position < 0,
		s.Track.Title == "",
		s.Track.Artist == "":
		t.log.Warn().
			Str("title", s.Track.Title).
			Str("artist", s.Track.Artist).
			Msg("discarding corrupt sample")
		return false
	}
	if t.cur != nil && s.ObservedAt.Before(t.cur.lastSeen) {
		t.log.Warn().Time("observed_at", s.ObservedAt).Msg("discarding out-of-order sample")
		return false
	}
	return true
}

func (t *Tracker) openIfPlaying(s Sample) {
	if s.State != Playing {
		return
	}
	t.cur = &playSession{
		track:        s.Track,
		appID:        s.AppID,
		artURL:       s.ArtURL,
		duration:     s.Duration,
		startedAt:    s.ObservedAt,
		lastSeen:     s.ObservedAt,
		lastPosition: s.Position,
		state:        Playing,
	}
	t.log.Info().
		Str("artist", s.Track.Artist).
		Str("title", s.Track.Title).
		Dur("duration", s.Duration).
		Str("app", s.AppID).
		Msg("new play session")
	t.emitNowPlaying()
}

func (t *Tracker) advance(s Sample) {
	cur := t.cur

	if t.isRestart(s) {
		// Same track started over: the finished play stands, a fresh
		// session counts the repeat separately.
		t.close()
		t.openIfPlaying(s)
		return
	}

	// Accumulate elapsed wall-clock time only while the previous mode was
	// playing; pausing freezes the eligibility clock without resetting it.
	if cur.state == Playing {
		cur.accumulated += s.ObservedAt.Sub(cur.lastSeen)
		if cur.duration > 0 && cur.accumulated > cur.duration+t.slack {
			cur.accumulated = cur.duration + t.slack
		}
	}

	// Players often publish album art a poll or two after the track starts.
	artChanged := s.ArtURL != "" && s.ArtURL != cur.artURL
	if artChanged {
		cur.artURL = s.ArtURL
	}

	stateChanged := s.State != cur.state || artChanged
	cur.state = s.State
	cur.lastSeen = s.ObservedAt
	cur.lastPosition = s.Position

	if s.State == Stopped {
		if cur.stoppedAt.IsZero() {
			cur.stoppedAt = s.ObservedAt
		}
		if stateChanged {
			t.emitNowPlaying()
		}
		if s.ObservedAt.Sub(cur.stoppedAt) >= t.grace {
			t.close()
			t.listener.NowPlaying(NowPlaying{State: Stopped})
		}
		return
	}
	cur.stoppedAt = time.Time{}

	t.checkEligibility()

	if stateChanged {
		t.emitNowPlaying()
	}
}

// isRestart detects an implicit new play of the same identity: the position
// snapped back to the start or jumped past the track's end. Mid-play
// rewinds on a session that is not yet eligible are ordinary seeks.
func (t *Tracker) isRestart(s Sample) bool {
	cur := t.cur
	if s.State != Playing {
		return false
	}
	if !cur.eligible && cur.stoppedAt.IsZero() {
		return false
	}
	regressed := cur.lastPosition > t.slack && s.Position+t.slack < cur.lastPosition && s.Position <= t.slack
	overshot := cur.duration > 0 && s.Position > cur.duration+t.slack
	return regressed || overshot
}

func (t *Tracker) checkEligibility() {
	cur := t.cur
	if cur.eligible || cur.submitted {
		return
	}
	if cur.duration < minTrackDuration {
		return
	}

	threshold := cur.duration * time.Duration(t.thresholdPct) / 100
	if threshold > scrobbleTimeCap {
		threshold = scrobbleTimeCap
	}
	if cur.accumulated < threshold {
		return
	}

	rec := scrobble.NewRecord(cur.track, cur.duration, cur.startedAt)
	if err := t.enqueue(rec); err != nil {
		// Store briefly unavailable. Leave the session unmarked so the next
		// sample retries the handoff; the idempotency key keeps an eventual
		// double insert harmless.
		t.log.Error().Err(err).
			Str("artist", cur.track.Artist).
			Str("title", cur.track.Title).
			Msg("queueing scrobble failed, retrying next sample")
		return
	}

	cur.eligible = true
	cur.submitted = true
	t.log.Info().
		Str("artist", cur.track.Artist).
		Str("title", cur.track.Title).
		Dur("played", cur.accumulated).
		Dur("duration", cur.duration).
		Msg("scrobble ready")
	t.listener.Scrobbled(rec)
}

func (t *Tracker) close() {
	t.cur = nil
}

func (t *Tracker) emitNowPlaying() {
	cur := t.cur
	t.listener.NowPlaying(NowPlaying{
		Track:  cur.track,
		State:  cur.state,
		AppID:  cur.appID,
		ArtURL: cur.artURL,
	})
}
