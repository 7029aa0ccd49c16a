package appfilter

import (
	"sync"

	"github.com/llehouerou/scrobbled/internal/config"
)

// ConfigStore backs app decisions with the allowed/ignored lists of the
// configuration file, so decisions survive restarts and stay editable by
// hand. The polling loop reads it while notification actions and config
// reloads write it, hence the lock.
type ConfigStore struct {
	mu  sync.RWMutex
	cfg *config.Config
}

func NewConfigStore(cfg *config.Config) *ConfigStore {
	return &ConfigStore{cfg: cfg}
}

// Swap replaces the backing config. Called when the config file changed on
// disk and was reloaded, so decisions recorded by another process take
// effect in the running daemon.
func (s *ConfigStore) Swap(cfg *config.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
}

func (s *ConfigStore) Decision(id string) (Decision, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, v := range s.cfg.AppFiltering.AllowedApps {
		if v == id {
			return Allowed, true
		}
	}
	for _, v := range s.cfg.AppFiltering.IgnoredApps {
		if v == id {
			return Ignored, true
		}
	}
	return Allowed, false
}

func (s *ConfigStore) SaveDecision(id string, d Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d == Ignored {
		return s.cfg.IgnoreApp(id)
	}
	return s.cfg.AllowApp(id)
}

var _ Store = (*ConfigStore)(nil)
