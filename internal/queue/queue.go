// Package queue drives at-least-once delivery of scrobbles to every
// configured backend, with retry, backoff and durable state.
package queue

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/llehouerou/scrobbled/internal/scrobble"
	"github.com/llehouerou/scrobbled/internal/store"
)

const (
	defaultSweepInterval = time.Minute
	defaultBaseBackoff   = time.Minute
	defaultMaxBackoff    = time.Hour
	defaultMaxAttempts   = 10
	defaultRetention     = 7 * 24 * time.Hour
	submitTimeout        = 30 * time.Second
)

// Events receives delivery outcomes. Implementations must not block.
type Events interface {
	Delivered(rec scrobble.Record, backend string)
	DeliveryFailed(rec scrobble.Record, backend string, err error, permanent bool)
}

type Options struct {
	SweepInterval time.Duration
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	MaxAttempts   int
	Retention     time.Duration
}

func (o *Options) fillDefaults() {
	if o.SweepInterval <= 0 {
		o.SweepInterval = defaultSweepInterval
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = defaultBaseBackoff
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = defaultMaxBackoff
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.Retention <= 0 {
		o.Retention = defaultRetention
	}
}

// Queue owns the per-(record, backend) delivery state. Enqueue is the only
// entry point shared with the polling loop and never touches the network.
type Queue struct {
	store    *store.Manager
	backends []scrobble.Scrobbler
	events   Events
	opts     Options
	log      zerolog.Logger
}

func New(st *store.Manager, backends []scrobble.Scrobbler, events Events, opts Options, log zerolog.Logger) *Queue {
	opts.fillDefaults()
	return &Queue{
		store:    st,
		backends: backends,
		events:   events,
		opts:     opts,
		log:      log,
	}
}

// Enqueue persists a record and registers a delivery attempt per backend.
// Idempotent on the record's key, so a tracker replay cannot double-queue.
func (q *Queue) Enqueue(rec scrobble.Record) error {
	names := make([]string, len(q.backends))
	for i, b := range q.backends {
		names[i] = b.Name()
	}
	inserted, err := q.store.Enqueue(rec, names)
	if err != nil {
		return err
	}
	if inserted {
		q.log.Info().
			Str("key", rec.Key).
			Str("track", rec.Track.String()).
			Int("backends", len(names)).
			Msg("scrobble queued")
	}
	return nil
}

// Run sweeps immediately (resuming any persisted backlog), then on every
// tick until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	if n, err := q.store.BacklogCount(); err == nil && n > 0 {
		q.log.Info().Int("attempts", n).Msg("resuming delivery backlog")
	}

	ticker := time.NewTicker(q.opts.SweepInterval)
	defer ticker.Stop()

	q.Sweep(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			q.Sweep(ctx, now)
		}
	}
}

// Sweep attempts every due record once, per backend. Backends run
// independently: a hung or failing backend never delays another.
func (q *Queue) Sweep(ctx context.Context, now time.Time) {
	var wg sync.WaitGroup
	for _, b := range q.backends {
		b := b
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.sweepBackend(ctx, b, now)
		}()
	}
	wg.Wait()

	if err := q.store.PruneTerminal(q.opts.Retention); err != nil {
		q.log.Warn().Err(err).Msg("pruning delivered scrobbles failed")
	}
}

func (q *Queue) sweepBackend(ctx context.Context, backend scrobble.Scrobbler, now time.Time) {
	name := backend.Name()
	attempts, err := q.store.DueAttempts(name, now)
	if err != nil {
		q.log.Error().Str("backend", name).Err(err).Msg("loading due attempts failed")
		return
	}

	for _, a := range attempts {
		if ctx.Err() != nil {
			return
		}
		q.attempt(ctx, backend, a, now)
	}
}

func (q *Queue) attempt(ctx context.Context, backend scrobble.Scrobbler, a store.Attempt, now time.Time) {
	name := backend.Name()
	log := q.log.With().Str("backend", name).Str("track", a.Record.Track.String()).Logger()

	submitCtx, cancel := context.WithTimeout(ctx, submitTimeout)
	err := backend.Scrobble(submitCtx, a.Record)
	cancel()

	switch {
	case err == nil:
		if err := q.store.MarkDelivered(a.Record.Key, name); err != nil {
			log.Error().Err(err).Msg("recording delivery failed")
			return
		}
		log.Info().Msg("scrobble delivered")
		if q.events != nil {
			q.events.Delivered(a.Record, name)
		}

	case scrobble.Permanent(err):
		if err := q.store.MarkPermanentFailure(a.Record.Key, name, err.Error()); err != nil {
			log.Error().Err(err).Msg("recording permanent failure failed")
			return
		}
		log.Error().Err(err).Msg("scrobble rejected permanently")
		if q.events != nil {
			q.events.DeliveryFailed(a.Record, name, err, true)
		}

	default:
		count := a.Attempts + 1
		exhausted := count >= q.opts.MaxAttempts
		next := now.Add(q.backoff(count))
		if err := q.store.MarkRetry(a.Record.Key, name, count, next, err.Error(), exhausted); err != nil {
			log.Error().Err(err).Msg("recording retry failed")
			return
		}
		log.Warn().Err(err).Int("attempt", count).Time("next", next).Msg("scrobble delivery failed, will retry")
		if q.events != nil {
			q.events.DeliveryFailed(a.Record, name, err, false)
		}
	}
}

// backoff returns the wait before attempt n+1: base doubled per failed
// attempt, capped at the ceiling.
func (q *Queue) backoff(attempts int) time.Duration {
	d := q.opts.BaseBackoff
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= q.opts.MaxBackoff {
			return q.opts.MaxBackoff
		}
	}
	if d > q.opts.MaxBackoff {
		return q.opts.MaxBackoff
	}
	return d
}

// NowPlaying fans a transient now-playing update out to every backend
// without ever blocking the caller.
func (q *Queue) NowPlaying(track scrobble.Track) {
	for _, b := range q.backends {
		b := b
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
			defer cancel()
			if err := b.NowPlaying(ctx, track); err != nil {
				q.log.Debug().Str("backend", b.Name()).Err(err).Msg("now-playing update failed")
			}
		}()
	}
}
