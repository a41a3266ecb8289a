package app

import (
	"fmt"
	"log/slog"

	"librarian/internal/store"
)

// Config holds runtime configuration for the core application.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Logger      *slog.Logger
}

// App wires the lending engine and catalog/membership rules to storage.
type App struct {
	store store.Store
	log   *slog.Logger
}

// New constructs the application. When no Store is injected it opens the
// Postgres store from DatabaseURL.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if cfg.DatabaseURL == "" {
			return nil, fmt.Errorf("database URL required (no store injected)")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &App{
		store: dataStore,
		log:   logger,
	}, nil
}
