package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/benbjohnson/clock"

	"github.com/handoff-relay/handoff/internal/acme"
	"github.com/handoff-relay/handoff/internal/api"
	"github.com/handoff-relay/handoff/internal/config"
	"github.com/handoff-relay/handoff/internal/metrics"
	"github.com/handoff-relay/handoff/internal/pkg/logger"
	"github.com/handoff-relay/handoff/internal/relay"
	"github.com/handoff-relay/handoff/internal/storage"
	"github.com/handoff-relay/handoff/internal/turn"
)

var errNoAPIKey = errors.New("no API key configured")

// runServer wires every component and blocks until SIGINT or SIGTERM
func runServer() error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	log.Info("Starting Handoff relay",
		"domain", cfg.Domain,
		"version", version,
	)

	if cfg.API.APIKey.Hash == "" {
		log.Error("No API key configured", "config", cfgFile)
		fmt.Fprintln(os.Stderr, "")
		fmt.Fprintln(os.Stderr, "Generate an API key with:")
		fmt.Fprintf(os.Stderr, "    %s apikey generate -c %s\n", os.Args[0], cfgFile)
		fmt.Fprintln(os.Stderr, "")
		return errNoAPIKey
	}
	log.Info("API key configured", "created_at", cfg.API.APIKey.CreatedAt)

	acmeManager, err := acme.New(&cfg.ACME, cfg.Domain, cfg.Email, cfg.CertDir, log.Logger)
	if err != nil {
		return fmt.Errorf("initializing ACME manager: %w", err)
	}
	acmeManager.Start()
	defer acmeManager.Stop()

	// nil when ACME is disabled
	tlsConfig := acmeManager.GetTLSConfig()

	m := metrics.New()

	var relayOpts []relay.Option
	var apiOpts []api.Option
	apiOpts = append(apiOpts, api.WithMetrics(m.Handler()))
	if tlsConfig != nil {
		apiOpts = append(apiOpts, api.WithTLS(tlsConfig))
	}

	var turnServer *turn.Server
	var issuer *turn.Issuer
	if cfg.Turn.Enabled {
		turnServer, err = turn.New(&cfg.Turn, tlsConfig, log.Logger)
		if err != nil {
			return fmt.Errorf("initializing TURN server: %w", err)
		}
		if err := turnServer.Start(); err != nil {
			return fmt.Errorf("starting TURN server: %w", err)
		}
		defer turnServer.Stop()

		issuer = turn.NewIssuer(&cfg.Turn, cfg.Domain)
		relayOpts = append(relayOpts, relay.WithTurn(issuer))
		apiOpts = append(apiOpts, api.WithTurn(issuer, turnServer))
	} else {
		log.Info("TURN disabled")
	}

	if cfg.Storage.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		store, err := storage.NewSQLiteStorage(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("opening history database: %w", err)
		}
		if err := store.Init(); err != nil {
			return fmt.Errorf("initializing history schema: %w", err)
		}
		defer store.Close()
		log.Info("Session history enabled", "path", cfg.Storage.Path, "retention", cfg.Storage.Retention)

		recorder := storage.NewRecorder(store, cfg.Storage.Retention, log)
		recorder.Start()
		defer recorder.Stop()

		relayOpts = append(relayOpts, relay.WithHistory(recorder))
		apiOpts = append(apiOpts, api.WithHistory(store))
	}

	relayServer := relay.New(&cfg.Relay, clock.New(), m, log, relayOpts...)
	relayServer.Start()
	defer relayServer.Stop()

	apiServer := api.New(&cfg.API, relayServer, log.Logger, apiOpts...)

	errCh := make(chan error, 1)
	go func() {
		errCh <- apiServer.Start()
	}()
	defer apiServer.Stop()

	log.Info("Server initialized successfully", "port", cfg.API.Port, "tls", tlsConfig != nil)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("HTTP server: %w", err)
			}
			return nil

		case sig := <-sigChan:
			if sig != syscall.SIGHUP {
				log.Info("Received shutdown signal", "signal", sig)
				return nil
			}

			log.Info("Received SIGHUP, reloading TURN secret")
			newCfg, err := config.Load(cfgFile)
			if err != nil {
				log.Error("Failed to reload config", "error", err)
				continue
			}
			if turnServer == nil {
				log.Warn("TURN is disabled, nothing to reload")
				continue
			}
			auth := newCfg.Turn.Auth
			turnServer.UpdateSecret(auth.Secret)
			issuer.UpdateSecret(auth.Secret, auth.TTLSeconds)
			log.Info("Configuration reloaded successfully")
		}
	}
}
