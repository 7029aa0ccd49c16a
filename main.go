package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/llehouerou/scrobbled/internal/config"
	"github.com/llehouerou/scrobbled/internal/daemon"
	"github.com/llehouerou/scrobbled/internal/errmsg"
	"github.com/llehouerou/scrobbled/internal/logging"
	"github.com/llehouerou/scrobbled/internal/notify"
	"github.com/llehouerou/scrobbled/internal/poller/mpris"
	"github.com/llehouerou/scrobbled/internal/scrobble"
	"github.com/llehouerou/scrobbled/internal/scrobble/lastfm"
	"github.com/llehouerou/scrobbled/internal/scrobble/listenbrainz"
	"github.com/llehouerou/scrobbled/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "", "config file path (default: XDG config dir)")
		authLastfm = flag.Bool("auth-lastfm", false, "run the Last.fm authorization flow, save the session key and exit")
		allowApp   = flag.String("allow-app", "", "record a sticky allow decision for an app id and exit")
		ignoreApp  = flag.String("ignore-app", "", "record a sticky ignore decision for an app id and exit")
		logLevel   = flag.String("log-level", "info", "log level (trace, debug, info, warn, error)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, errmsg.Format(errmsg.OpLoadConfig, err))
		os.Exit(1)
	}

	switch {
	case *authLastfm:
		if err := runAuthLastfm(cfg); err != nil {
			fmt.Fprintln(os.Stderr, errmsg.Format(errmsg.OpAuthLastfm, err))
			os.Exit(1)
		}
		return
	case *allowApp != "":
		if err := cfg.AllowApp(*allowApp); err != nil {
			fmt.Fprintln(os.Stderr, errmsg.FormatWith(errmsg.OpAllowApp, *allowApp, err))
			os.Exit(1)
		}
		fmt.Printf("App %q will scrobble.\n", *allowApp)
		return
	case *ignoreApp != "":
		if err := cfg.IgnoreApp(*ignoreApp); err != nil {
			fmt.Fprintln(os.Stderr, errmsg.FormatWith(errmsg.OpIgnoreApp, *ignoreApp, err))
			os.Exit(1)
		}
		fmt.Printf("App %q will be ignored.\n", *ignoreApp)
		return
	}

	if err := runDaemon(cfg, *logLevel); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runAuthLastfm(cfg *config.Config) error {
	if cfg.Lastfm.APIKey == "" || cfg.Lastfm.APISecret == "" {
		return fmt.Errorf("set lastfm.api_key and lastfm.api_secret in %s first", cfg.Path())
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx, cancelTimeout := context.WithTimeout(ctx, 5*time.Minute)
	defer cancelTimeout()

	backend := lastfm.New(cfg.Lastfm.APIKey, cfg.Lastfm.APISecret, "")
	fmt.Println("Waiting for authorization in your browser...")
	sess, err := backend.Authorize(ctx)
	if err != nil {
		return err
	}

	cfg.Lastfm.SessionKey = sess.SessionKey
	cfg.Lastfm.Enabled = true
	if err := cfg.Save(); err != nil {
		return fmt.Errorf("%s: %w", errmsg.OpSaveAuth, err)
	}
	fmt.Printf("Authorized as %s. Last.fm scrobbling is enabled.\n", sess.Username)
	return nil
}

func runDaemon(cfg *config.Config, logLevel string) error {
	log := logging.New(logLevel)

	st, err := store.OpenDefault()
	if err != nil {
		return fmt.Errorf("%s: %w", errmsg.OpOpenStore, err)
	}
	defer st.Close()

	p, err := mpris.New()
	if err != nil {
		return fmt.Errorf("%s: %w", errmsg.OpStartWatch, err)
	}
	defer p.Close()

	backends := buildBackends(cfg, log)
	if len(backends) == 0 {
		log.Warn().Msg("no delivery backend is enabled; plays will be observed but not scrobbled")
	}

	notifier, err := notify.New()
	if err != nil {
		log.Warn().Err(err).Msg("desktop notifications unavailable")
	}
	ui := notify.NewService(notifier, cfg.Notifications, log.With().Str("component", "notify").Logger())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info().
		Str("config", cfg.Path()).
		Int("backends", len(backends)).
		Dur("refresh", cfg.Refresh()).
		Msg("scrobbled starting")

	return daemon.New(cfg, st, p, backends, ui, log).Run(ctx)
}

func buildBackends(cfg *config.Config, log zerolog.Logger) []scrobble.Scrobbler {
	var backends []scrobble.Scrobbler

	if cfg.Lastfm.Enabled {
		if cfg.Lastfm.SessionKey == "" {
			log.Warn().Msg("lastfm is enabled but not authorized; run scrobbled -auth-lastfm")
		} else {
			backends = append(backends, lastfm.New(cfg.Lastfm.APIKey, cfg.Lastfm.APISecret, cfg.Lastfm.SessionKey))
		}
	}

	for _, lb := range cfg.Listenbrainz {
		if !lb.Enabled {
			continue
		}
		backend := listenbrainz.New(lb.Name, lb.APIURL, lb.Token)
		backends = append(backends, backend)

		// Surface a bad token early; delivery still retries on its own.
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := backend.Validate(ctx); err != nil {
				log.Warn().Str("backend", backend.Name()).Err(err).Msg("token validation failed")
			}
		}()
	}

	return backends
}
