// Package daemon wires the polling loop and the delivery sweep together.
//
// The polling loop is the sole owner of tracker and filter state; the sweep
// is the sole owner of delivery state. They share nothing but the store,
// through the enqueue handoff.
package daemon

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/llehouerou/scrobbled/internal/appfilter"
	"github.com/llehouerou/scrobbled/internal/cleanup"
	"github.com/llehouerou/scrobbled/internal/config"
	"github.com/llehouerou/scrobbled/internal/notify"
	"github.com/llehouerou/scrobbled/internal/poller"
	"github.com/llehouerou/scrobbled/internal/queue"
	"github.com/llehouerou/scrobbled/internal/scrobble"
	"github.com/llehouerou/scrobbled/internal/session"
	"github.com/llehouerou/scrobbled/internal/store"
)

type Daemon struct {
	cfg      *config.Config
	appStore *appfilter.ConfigStore
	poller   poller.Poller
	tracker  *session.Tracker
	filter   *appfilter.Filter
	queue    *queue.Queue
	cleaner  *cleanup.Cleaner
	log      zerolog.Logger
}

func New(
	cfg *config.Config,
	st *store.Manager,
	p poller.Poller,
	backends []scrobble.Scrobbler,
	ui *notify.Service,
	log zerolog.Logger,
) *Daemon {
	q := queue.New(st, backends, ui, queue.Options{}, log.With().Str("component", "queue").Logger())
	appStore := appfilter.NewConfigStore(cfg)

	d := &Daemon{
		cfg:      cfg,
		appStore: appStore,
		poller:   p,
		queue:    q,
		cleaner: cleanup.New(
			cfg.Cleanup.Enabled,
			cfg.Cleanup.Patterns,
			log.With().Str("component", "cleanup").Logger(),
		),
		filter: appfilter.New(
			appStore,
			ui,
			appfilter.Options{
				PromptForNewApps: cfg.AppFiltering.PromptForNewApps,
				ScrobbleUnknown:  cfg.AppFiltering.ScrobbleUnknown,
			},
			log.With().Str("component", "appfilter").Logger(),
		),
		log: log,
	}

	// Clicking Allow/Ignore on the new-app notification lands here.
	ui.SetResolver(func(appID string, allowed bool) {
		decision := appfilter.Ignored
		if allowed {
			decision = appfilter.Allowed
		}
		if err := d.filter.Resolve(appID, decision); err != nil {
			log.Error().Err(err).Str("app", appID).Msg("saving app decision failed")
		}
	})

	trackerLog := log.With().Str("component", "tracker").Logger()
	d.tracker = session.New(
		cfg.ScrobbleThreshold,
		cfg.Grace(),
		cfg.Refresh(),
		&fanout{ui: ui, queue: q},
		q.Enqueue,
		trackerLog,
	)
	return d
}

// Run blocks until ctx is cancelled. The current session, if any, is
// discarded on shutdown; queued scrobbles survive in the store.
func (d *Daemon) Run(ctx context.Context) error {
	go d.queue.Run(ctx)

	// Decisions recorded by another process (-allow-app, a hand edit) only
	// exist in the file; watch it so they reach this process too.
	if stop, err := d.cfg.Watch(d.onConfigChange); err != nil {
		d.log.Warn().Err(err).Msg("config watch unavailable, app decisions apply on restart")
	} else {
		defer stop()
	}

	ticker := time.NewTicker(d.cfg.Refresh())
	defer ticker.Stop()

	d.poll(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			d.tracker.Shutdown()
			d.log.Info().Msg("daemon stopped")
			return nil
		case now := <-ticker.C:
			d.poll(ctx, now)
		}
	}
}

func (d *Daemon) poll(ctx context.Context, now time.Time) {
	pollCtx, cancel := context.WithTimeout(ctx, d.cfg.Refresh())
	sample, err := d.poller.Poll(pollCtx)
	cancel()

	if err != nil {
		if ctx.Err() == nil {
			d.log.Warn().Err(err).Msg("polling media session failed")
		}
		d.tracker.ObserveSilence(now)
		return
	}
	if sample == nil {
		d.tracker.ObserveSilence(now)
		return
	}

	switch d.filter.Classify(sample.AppID) {
	case appfilter.Ignore:
		d.tracker.ObserveSilence(now)
		return
	case appfilter.NeedsDecision:
		// Held until the user decides; these plays are never scrobbled.
		d.tracker.ObserveSilence(now)
		return
	}

	sample.Track.Title = d.cleaner.Clean(sample.Track.Title)
	sample.Track.Artist = d.cleaner.Clean(sample.Track.Artist)
	sample.Track.Album = d.cleaner.Clean(sample.Track.Album)

	d.tracker.Observe(*sample)
}

// onConfigChange runs on the watch goroutine whenever the config file was
// rewritten. Only the app decision lists take effect live; interval and
// backend changes still need a restart.
func (d *Daemon) onConfigChange(cfg *config.Config, err error) {
	if err != nil {
		d.log.Warn().Err(err).Msg("config reload failed, keeping previous app decisions")
		return
	}
	d.applyConfig(cfg)
	d.log.Info().Msg("app decisions reloaded from config")
}

func (d *Daemon) applyConfig(cfg *config.Config) {
	d.appStore.Swap(cfg)
	d.filter.Reconcile()
}

// fanout forwards tracker events to the desktop UI and, for active
// playback, to the backends' now-playing endpoints.
type fanout struct {
	ui    *notify.Service
	queue *queue.Queue
}

func (f *fanout) NowPlaying(np session.NowPlaying) {
	f.ui.NowPlaying(np)
	if np.State == session.Playing {
		f.queue.NowPlaying(np.Track)
	}
}

func (f *fanout) Scrobbled(rec scrobble.Record) {
	f.ui.Scrobbled(rec)
}
