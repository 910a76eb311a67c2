package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/couchcryptid/aqhi-etl/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/aqhi-etl/internal/adapter/kafka"
	"github.com/couchcryptid/aqhi-etl/internal/adapter/mapbox"
	"github.com/couchcryptid/aqhi-etl/internal/adapter/sqlstore"
	"github.com/couchcryptid/aqhi-etl/internal/config"
	"github.com/couchcryptid/aqhi-etl/internal/domain"
	"github.com/couchcryptid/aqhi-etl/internal/ingest"
	"github.com/couchcryptid/aqhi-etl/internal/observability"
	"github.com/couchcryptid/aqhi-etl/internal/pipeline"
	"github.com/couchcryptid/aqhi-etl/internal/rules"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := sqlstore.Open(ctx, cfg.Database.Driver, cfg.Database.URL, metrics)
	if err != nil {
		logger.Error("failed to open database", "driver", cfg.Database.Driver, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	r, err := loadRules(cfg.RulesFile)
	if err != nil {
		logger.Error("failed to load rules", "path", cfg.RulesFile, "error", err)
		os.Exit(1)
	}

	// Initialize geocoder (feature-flagged via MAPBOX_ENABLED / MAPBOX_TOKEN).
	var geocoder domain.Geocoder
	if cfg.Mapbox.Enabled {
		client := mapbox.NewClient(cfg.Mapbox.Token, cfg.Mapbox.Timeout, metrics, logger)
		geocoder = mapbox.NewCachedGeocoder(client, cfg.Mapbox.CacheSize, metrics)
		metrics.GeocodeEnabled.Set(1)
		logger.Info("mapbox geocoding enabled", "cache_size", cfg.Mapbox.CacheSize, "timeout", cfg.Mapbox.Timeout)
	} else {
		logger.Info("mapbox geocoding disabled")
	}

	reader := kafkaadapter.NewReader(cfg, logger)
	writer := kafkaadapter.NewWriter(cfg, logger)

	loader := ingest.NewLoader(ingest.NewService(store, logger), writer, logger, metrics)
	if cfg.AutoRegister {
		loader.WithRegistrar(ingest.NewRegistrar(store, geocoder, logger))
	}

	p := pipeline.New(reader, pipeline.NewTransformer(r), loader, logger, metrics, cfg.BatchSize)

	srv := httpadapter.NewServer(cfg.HTTPAddr, observability.AllReady{p, store}, ingest.NewWindows(store), logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start ETL pipeline.
	go func() {
		if err := p.Run(ctx); err != nil {
			logger.Error("pipeline error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := reader.Close(); err != nil {
		logger.Error("kafka reader close error", "error", err)
	}
	if err := writer.Close(); err != nil {
		logger.Error("kafka writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}

// loadRules returns the embedded rule tables unless path names a file.
func loadRules(path string) (*rules.Rules, error) {
	if path == "" {
		return rules.Default()
	}
	return rules.Load(path)
}
