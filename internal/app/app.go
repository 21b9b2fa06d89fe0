// Package app assembles stores and providers from configuration for the
// server and the seed tool.
package app

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/civicfix/backend/internal/ai"
	"github.com/civicfix/backend/internal/config"
	"github.com/civicfix/backend/internal/db"
	"github.com/civicfix/backend/internal/vectorindex"
)

func NewLogger(cfg config.Config, service string) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	base := log.Logger
	if cfg.Env == "dev" {
		base = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).With().Timestamp().Logger()
	}
	return base.Level(level).With().Str("service", service).Logger()
}

// Backend is the persistence side of the pipeline. Close releases the pool
// when one was opened.
type Backend struct {
	Tickets db.TicketStore
	Index   vectorindex.Index
	Close   func()
}

// OpenBackend connects to Postgres and applies migrations when DATABASE_URL
// is set; otherwise everything lives in memory for the life of the process.
func OpenBackend(ctx context.Context, cfg config.Config, logger zerolog.Logger) (Backend, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn().Msg("DATABASE_URL not set, using in-memory ticket store and vector index")
		return Backend{
			Tickets: db.NewMemoryStore(),
			Index:   vectorindex.NewMemoryIndex(),
			Close:   func() {},
		}, nil
	}

	if err := db.Migrate(cfg.DatabaseURL, logger); err != nil {
		return Backend{}, err
	}
	store, err := db.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return Backend{}, err
	}
	return Backend{
		Tickets: store,
		Index:   vectorindex.NewPGIndex(store.Pool),
		Close:   store.Close,
	}, nil
}

func NewProvider(cfg config.Config, logger zerolog.Logger) (ai.Provider, error) {
	if cfg.AnthropicAPIKey == "" {
		logger.Info().Msg("using mock AI provider")
		return ai.MockProvider{}, nil
	}
	p, err := ai.NewAnthropicProvider(cfg.AnthropicAPIKey, cfg.AnalysisModel, cfg.ProviderTimeout)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func NewEmbedder(cfg config.Config, logger zerolog.Logger) ai.Embedder {
	if cfg.EmbeddingURL == "" {
		logger.Info().Int("dimensions", cfg.EmbeddingDimensions).Msg("using hash embedder")
		return ai.HashEmbedder{Dimensions: cfg.EmbeddingDimensions}
	}
	return ai.NewHTTPEmbedder(cfg.EmbeddingURL, cfg.EmbeddingModel, cfg.EmbeddingAPIKey,
		cfg.EmbeddingDimensions, cfg.EmbeddingRPS, cfg.ProviderTimeout)
}
