// Package app wires configuration into the running services.
package app

import (
	"context"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/brandlens/visibility-bot/internal/config"
	"github.com/brandlens/visibility-bot/internal/extraction"
	"github.com/brandlens/visibility-bot/internal/monitoring"
	"github.com/brandlens/visibility-bot/internal/notifications"
	"github.com/brandlens/visibility-bot/internal/providers"
	"github.com/brandlens/visibility-bot/internal/storage"
)

// App holds the wired services
type App struct {
	Config     *config.Config
	DB         *storage.Postgres
	Archive    storage.StorageInterface
	Notifier   *notifications.Service
	Providers  []providers.Provider
	Engine     *extraction.Engine
	Monitoring *monitoring.Service
}

// SetupLogging configures logrus the same way for every binary
func SetupLogging(cfg *config.Config) {
	logrus.SetLevel(logrus.InfoLevel)
	if cfg.Debug {
		logrus.SetLevel(logrus.DebugLevel)
	}
	logrus.SetFormatter(&logrus.JSONFormatter{})
}

// New connects the database and builds every service
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	db, err := storage.NewPostgres(ctx, cfg.DatabaseURL, cfg.DBMaxConns)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}
	db.SetStaleAfter(cfg.ProcessingStaleAfter)

	// The raw response archive is optional
	var archive storage.StorageInterface
	if cfg.StorageAccount != "" {
		blob, err := storage.NewAzureStorage(ctx, cfg.StorageAccount, cfg.StorageContainer)
		if err != nil {
			logrus.Warnf("Response archive disabled: %v", err)
		} else {
			archive = blob
		}
	}

	notifier := notifications.NewService(cfg)
	provs := providers.NewFromConfig(cfg)

	var extractor extraction.Extractor
	if cfg.OpenAIAPIKey != "" {
		extractor = extraction.NewOpenAIExtractor(cfg.OpenAIAPIKey, cfg.ExtractionModel, cfg.OpenAIBaseURL)
	} else {
		extractor = unavailableExtractor{}
		logrus.Warn("OPENAI_API_KEY not set, mention extraction will fail")
	}

	engine := extraction.NewEngine(db, extractor,
		notifications.NewInvalidator(cfg.RevalidateURL, cfg.RevalidateSecret),
		extraction.OptionsFromConfig(cfg))

	return &App{
		Config:     cfg,
		DB:         db,
		Archive:    archive,
		Notifier:   notifier,
		Providers:  provs,
		Engine:     engine,
		Monitoring: monitoring.NewService(cfg, db, archive, notifier, provs, engine),
	}, nil
}

// Close releases provider clients and the database pool
func (a *App) Close() {
	for _, p := range a.Providers {
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				logrus.Warnf("Failed to close provider %s: %v", p.GetName(), err)
			}
		}
	}
	a.DB.Close()
}

type unavailableExtractor struct{}

func (unavailableExtractor) Extract(context.Context, extraction.Input) ([]extraction.Candidate, error) {
	return nil, fmt.Errorf("mention extraction requires OPENAI_API_KEY")
}
