package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/civicfix/backend/internal/app"
	"github.com/civicfix/backend/internal/config"
	"github.com/civicfix/backend/internal/dedup"
	"github.com/civicfix/backend/internal/geocode"
	httpapi "github.com/civicfix/backend/internal/http"
	"github.com/civicfix/backend/internal/routing"
	"github.com/civicfix/backend/internal/service"
	"github.com/civicfix/backend/internal/sla"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := app.NewLogger(cfg, "civicfix-backend")

	ctx := context.Background()
	backend, err := app.OpenBackend(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open storage")
	}
	defer backend.Close()

	provider, err := app.NewProvider(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to configure AI provider")
	}
	embedder := app.NewEmbedder(cfg, logger)

	coord := &dedup.Coordinator{
		Store:     backend.Tickets,
		Index:     backend.Index,
		Embedder:  embedder,
		Logger:    logger.With().Str("component", "dedup").Logger(),
		RadiusKm:  cfg.DuplicateRadiusKm,
		Threshold: cfg.DuplicateThreshold,
		MinChars:  cfg.DuplicateMinChars,
	}
	router := &routing.Classifier{
		Index:             backend.Index,
		Embedder:          embedder,
		Logger:            logger.With().Str("component", "routing").Logger(),
		MinChars:          cfg.RoutingMinChars,
		MinConfidence:     cfg.RoutingMinConfidence,
		DefaultDepartment: cfg.DefaultDepartment,
	}
	slaEngine := &sla.Engine{
		Index:     backend.Index,
		Embedder:  embedder,
		Estimator: provider,
		Logger:    logger.With().Str("component", "sla").Logger(),
		Threshold: cfg.SLAConfidenceThreshold,
	}

	triage := &service.TriageService{
		Store:    backend.Tickets,
		Analyzer: provider,
		Dedup:    coord,
		Router:   router,
		SLA:      slaEngine,
		Logger:   logger.With().Str("component", "triage").Logger(),
	}
	if cfg.GeocoderURL != "" {
		triage.Geocoder = &geocode.NominatimGeocoder{BaseURL: cfg.GeocoderURL, UserAgent: cfg.GeocoderUserAgent}
	}

	handler := httpapi.Router(cfg, httpapi.Deps{
		Store:  backend.Tickets,
		Triage: triage,
		Dedup:  coord,
		Router: router,
		SLA:    slaEngine,
	}, logger)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("port", cfg.Port).Msg("server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctxShutdown)
	logger.Info().Msg("server stopped")
}
