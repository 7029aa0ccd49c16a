// Package config loads, validates and persists the scrobbled configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/google/renameio/v2"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	gotoml "github.com/pelletier/go-toml/v2"
)

type Config struct {
	// Polling interval for now-playing state, in seconds.
	RefreshInterval int `toml:"refresh_interval"`

	// Scrobble after this percentage of the track has played (Last.fm
	// caps this at 4 minutes regardless).
	ScrobbleThreshold int `toml:"scrobble_threshold"`

	// Seconds a stopped session is kept before it is closed.
	// 0 means twice the refresh interval (one missed poll).
	GracePeriod int `toml:"grace_period"`

	// Desktop notifications for now-playing, scrobbles and failures.
	Notifications bool `toml:"notifications"`

	Cleanup      CleanupConfig        `toml:"cleanup"`
	AppFiltering AppFilteringConfig   `toml:"app_filtering"`
	Lastfm       LastfmConfig         `toml:"lastfm"`
	Listenbrainz []ListenbrainzConfig `toml:"listenbrainz"`

	// path the config was loaded from, kept for Save
	path string
}

// CleanupConfig controls title/artist/album text normalization.
type CleanupConfig struct {
	Enabled  bool     `toml:"enabled"`
	Patterns []string `toml:"patterns"`
}

// AppFilteringConfig controls which applications may produce scrobbles.
type AppFilteringConfig struct {
	PromptForNewApps bool     `toml:"prompt_for_new_apps"`
	ScrobbleUnknown  bool     `toml:"scrobble_unknown"`
	AllowedApps      []string `toml:"allowed_apps"`
	IgnoredApps      []string `toml:"ignored_apps"`
}

// LastfmConfig holds Last.fm credentials.
type LastfmConfig struct {
	Enabled    bool   `toml:"enabled"`
	APIKey     string `toml:"api_key"`
	APISecret  string `toml:"api_secret"`
	SessionKey string `toml:"session_key"`
}

// ListenbrainzConfig holds one ListenBrainz instance. Several instances may
// be configured, each delivering independently.
type ListenbrainzConfig struct {
	Enabled bool   `toml:"enabled"`
	Name    string `toml:"name"`
	Token   string `toml:"token"`
	APIURL  string `toml:"api_url"`
}

// Default returns the configuration written on first run.
func Default() *Config {
	return &Config{
		RefreshInterval:   5,
		ScrobbleThreshold: 50,
		Notifications:     true,
		Cleanup: CleanupConfig{
			Enabled: true,
			Patterns: []string{
				`\s*\[Explicit\]`,
				`\s*\[Clean\]`,
				`\s*\(Explicit\)`,
				`\s*\(Clean\)`,
				`\s*- Explicit`,
				`\s*- Clean`,
			},
		},
		AppFiltering: AppFilteringConfig{
			PromptForNewApps: true,
			ScrobbleUnknown:  true,
		},
		Listenbrainz: []ListenbrainzConfig{{
			Name:   "Primary",
			APIURL: "https://api.listenbrainz.org",
		}},
	}
}

// DefaultPath returns the standard config location, creating parent
// directories as needed.
func DefaultPath() (string, error) {
	return xdg.ConfigFile(filepath.Join("scrobbled", "config.toml"))
}

// Load reads the config at path, creating it with defaults when absent.
// An empty path means the default location.
func Load(path string) (*Config, error) {
	if path == "" {
		var err error
		if path, err = DefaultPath(); err != nil {
			return nil, err
		}
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		cfg.path = path
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("write default config: %w", err)
		}
		return cfg, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	cfg := Default()
	// File values replace the default lists rather than appending to them.
	cfg.Cleanup.Patterns = nil
	cfg.Listenbrainz = nil
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "toml"}); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.path = path

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the config back atomically (write-new-then-replace).
func (c *Config) Save() error {
	if c.path == "" {
		var err error
		if c.path, err = DefaultPath(); err != nil {
			return err
		}
	}
	if err := os.MkdirAll(filepath.Dir(c.path), 0o755); err != nil {
		return err
	}
	data, err := gotoml.Marshal(c)
	if err != nil {
		return fmt.Errorf("serialize config: %w", err)
	}
	return renameio.WriteFile(c.path, data, 0o600)
}

// Path returns the location the config was loaded from or will be saved to.
func (c *Config) Path() string { return c.path }

// Watch invokes onChange with a freshly loaded config (or the reload error)
// whenever the file changes on disk. This is how a running daemon picks up
// decisions recorded by `-allow-app`/`-ignore-app` or a hand edit without a
// restart. The returned stop function cancels the watch.
func (c *Config) Watch(onChange func(*Config, error)) (func(), error) {
	if c.path == "" {
		return nil, fmt.Errorf("config has no backing file to watch")
	}
	f := file.Provider(c.path)
	if err := f.Watch(func(_ interface{}, err error) {
		if err != nil {
			onChange(nil, err)
			return
		}
		onChange(Load(c.path))
	}); err != nil {
		return nil, fmt.Errorf("watch config %s: %w", c.path, err)
	}
	return func() { _ = f.Unwatch() }, nil
}

// Validate checks thresholds and credential presence. Cleanup patterns are
// deliberately not validated here: a malformed pattern is skipped with a
// warning when the cleaner compiles rules instead of failing startup.
func (c *Config) Validate() error {
	if c.RefreshInterval <= 0 {
		return fmt.Errorf("refresh_interval must be greater than 0")
	}
	if c.ScrobbleThreshold < 1 || c.ScrobbleThreshold > 100 {
		return fmt.Errorf("scrobble_threshold must be between 1 and 100")
	}
	if c.GracePeriod < 0 {
		return fmt.Errorf("grace_period must not be negative")
	}
	if c.Lastfm.Enabled {
		if c.Lastfm.APIKey == "" {
			return fmt.Errorf("lastfm.api_key is required when Last.fm is enabled")
		}
		if c.Lastfm.APISecret == "" {
			return fmt.Errorf("lastfm.api_secret is required when Last.fm is enabled")
		}
	}
	for _, lb := range c.Listenbrainz {
		if !lb.Enabled {
			continue
		}
		if lb.Token == "" {
			return fmt.Errorf("listenbrainz token is required when enabled (instance %q)", lb.Name)
		}
		if lb.APIURL == "" {
			return fmt.Errorf("listenbrainz api_url is required (instance %q)", lb.Name)
		}
	}
	for _, id := range c.AppFiltering.AllowedApps {
		for _, other := range c.AppFiltering.IgnoredApps {
			if id == other {
				return fmt.Errorf("app %q appears in both allowed_apps and ignored_apps", id)
			}
		}
	}
	return nil
}

// Refresh returns the polling interval as a duration.
func (c *Config) Refresh() time.Duration {
	return time.Duration(c.RefreshInterval) * time.Second
}

// Grace returns the stop grace period, defaulting to one missed poll cycle.
func (c *Config) Grace() time.Duration {
	if c.GracePeriod > 0 {
		return time.Duration(c.GracePeriod) * time.Second
	}
	return 2 * c.Refresh()
}

// AllowApp records a sticky allow decision and persists it.
func (c *Config) AllowApp(id string) error {
	c.AppFiltering.IgnoredApps = remove(c.AppFiltering.IgnoredApps, id)
	c.AppFiltering.AllowedApps = appendUnique(c.AppFiltering.AllowedApps, id)
	return c.Save()
}

// IgnoreApp records a sticky ignore decision and persists it.
func (c *Config) IgnoreApp(id string) error {
	c.AppFiltering.AllowedApps = remove(c.AppFiltering.AllowedApps, id)
	c.AppFiltering.IgnoredApps = appendUnique(c.AppFiltering.IgnoredApps, id)
	return c.Save()
}

func appendUnique(list []string, id string) []string {
	for _, v := range list {
		if v == id {
			return list
		}
	}
	return append(list, id)
}

func remove(list []string, id string) []string {
	out := list[:0]
	for _, v := range list {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
