package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fatih/color"

	quantum "github.com/joshuawendorf21310/fusonems-quantum-v2-sub001"
)

var (
	okColor   = color.New(color.FgGreen)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed)
	dimColor  = color.New(color.Faint)
)

// dataDir resolves the device data directory from config, defaulting to the
// config directory itself.
func dataDir(cfg *Config) (string, error) {
	if cfg.Device.DataDir != "" {
		return cfg.Device.DataDir, nil
	}
	return configDir()
}

// requireBaseURL fails fast with a helpful message when the server is not
// configured yet.
func requireBaseURL(cfg *Config) error {
	if cfg.Server.BaseURL == "" {
		return fmt.Errorf("no server configured; run 'quantum config set server.base_url https://...'")
	}
	return nil
}

// openStore opens the local mutation queue database.
func openStore(cfg *Config) (*quantum.Store, error) {
	dir, err := dataDir(cfg)
	if err != nil {
		return nil, err
	}
	return quantum.OpenStore(filepath.Join(dir, "queue.db"))
}

// newClient builds a fully wired client: credentials, mutation queue, and
// replay engine. The caller owns closing the returned store.
func newClient(cfg *Config, verbose bool) (*quantum.Client, *quantum.Store, error) {
	if err := requireBaseURL(cfg); err != nil {
		return nil, nil, err
	}
	dir, err := dataDir(cfg)
	if err != nil {
		return nil, nil, err
	}
	store, err := openStore(cfg)
	if err != nil {
		return nil, nil, err
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
	if verbose {
		log = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}

	client := quantum.NewClient(cfg.Server.BaseURL,
		quantum.WithCredentials(quantum.NewFileCredentials(dir)),
		quantum.WithQueue(quantum.NewQueue(store, log)),
		quantum.WithLogger(log),
	)
	return client, store, nil
}
