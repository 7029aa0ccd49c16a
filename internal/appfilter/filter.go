// Package appfilter decides whether samples from a given application may
// produce scrobbles.
package appfilter

import (
	"sync"

	"github.com/rs/zerolog"
)

// Decision is a sticky user choice for one application identifier.
type Decision int

const (
	Allowed Decision = iota
	Ignored
)

func (d Decision) String() string {
	if d == Ignored {
		return "ignored"
	}
	return "allowed"
}

// Verdict is the outcome of classifying a single sample's origin.
type Verdict int

const (
	Allow Verdict = iota
	Ignore
	NeedsDecision
)

// Store persists app decisions across restarts.
type Store interface {
	// Decision returns the stored decision for id, if any.
	Decision(id string) (Decision, bool)
	// SaveDecision records a sticky decision.
	SaveDecision(id string, d Decision) error
}

// Decider surfaces an asynchronous decision request to the UI collaborator.
// Implementations must not block; the filter never waits on them.
type Decider interface {
	RequestDecision(appID string)
}

// Filter classifies sample origins. Samples from an app awaiting a decision
// are dropped, not buffered; once resolved, future samples flow normally.
type Filter struct {
	store   Store
	decider Decider
	log     zerolog.Logger

	promptForNewApps bool
	scrobbleUnknown  bool

	mu      sync.Mutex
	pending map[string]struct{}
}

type Options struct {
	PromptForNewApps bool
	ScrobbleUnknown  bool
}

func New(store Store, decider Decider, opts Options, log zerolog.Logger) *Filter {
	return &Filter{
		store:            store,
		decider:          decider,
		log:              log,
		promptForNewApps: opts.PromptForNewApps,
		scrobbleUnknown:  opts.ScrobbleUnknown,
		pending:          make(map[string]struct{}),
	}
}

// Classify maps an application identifier to a verdict. An empty id follows
// the scrobble_unknown policy. With prompting disabled, unknown apps are
// allowed without a persisted decision, so a later config edit still wins.
func (f *Filter) Classify(appID string) Verdict {
	if appID == "" {
		if f.scrobbleUnknown {
			return Allow
		}
		return Ignore
	}

	if d, ok := f.store.Decision(appID); ok {
		if d == Ignored {
			return Ignore
		}
		return Allow
	}

	if !f.promptForNewApps {
		return Allow
	}

	f.mu.Lock()
	_, asked := f.pending[appID]
	if !asked {
		f.pending[appID] = struct{}{}
	}
	f.mu.Unlock()

	if !asked && f.decider != nil {
		f.log.Info().Str("app", appID).Msg("new app detected, requesting decision")
		f.decider.RequestDecision(appID)
	}
	return NeedsDecision
}

// Reconcile drops pending prompts whose decision has since landed in the
// store, typically after a config reload picked up an out-of-band edit. If
// a decision was removed instead, the app may prompt again.
func (f *Filter) Reconcile() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id := range f.pending {
		d, ok := f.store.Decision(id)
		if !ok {
			continue
		}
		delete(f.pending, id)
		f.log.Info().Str("app", id).Stringer("decision", d).Msg("app decision picked up")
	}
}

// Resolve records a genuine prompt response. Only these are persisted.
func (f *Filter) Resolve(appID string, d Decision) error {
	f.mu.Lock()
	delete(f.pending, appID)
	f.mu.Unlock()

	if err := f.store.SaveDecision(appID, d); err != nil {
		return err
	}
	f.log.Info().Str("app", appID).Stringer("decision", d).Msg("app decision recorded")
	return nil
}
