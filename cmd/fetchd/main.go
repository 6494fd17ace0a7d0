// Command fetchd runs the terrain tile service: a Kafka consumer that
// executes acquisition jobs against the USGS National Map and publishes
// outcomes and per-tile progress, with health and metrics over HTTP.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	httpadapter "github.com/couchcryptid/terrain-tile-service/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/terrain-tile-service/internal/adapter/kafka"
	"github.com/couchcryptid/terrain-tile-service/internal/adapter/usgs"
	"github.com/couchcryptid/terrain-tile-service/internal/config"
	"github.com/couchcryptid/terrain-tile-service/internal/domain"
	"github.com/couchcryptid/terrain-tile-service/internal/fetch"
	"github.com/couchcryptid/terrain-tile-service/internal/job"
	"github.com/couchcryptid/terrain-tile-service/internal/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	catalog := domain.DefaultCatalog()
	if cfg.ElevationURL != "" {
		svc := catalog["elevation"]
		svc.BaseURL = cfg.ElevationURL
		catalog["elevation"] = svc
	}
	if cfg.OrthoURL != "" {
		svc := catalog["ortho"]
		svc.BaseURL = cfg.OrthoURL
		catalog["ortho"] = svc
	}

	client := usgs.NewClient(catalog, cfg.FetchTimeout, logger)
	fetcher := fetch.New(client, clockwork.NewRealClock(), logger, metrics, fetch.Options{
		MaxConcurrency: cfg.MaxConcurrency,
		MaxRetries:     cfg.MaxRetries,
		Overwrite:      cfg.Overwrite,
	})
	runner := job.NewRunner(catalog, fetcher, logger, metrics, cfg.OutputDir)

	results := kafkaadapter.NewResultWriter(cfg, logger)
	progress := kafkaadapter.NewProgressWriter(cfg, logger)
	consumer := kafkaadapter.NewConsumer(cfg, runner, results, progress, logger, metrics)

	srv := httpadapter.NewServer(cfg.HTTPAddr, consumer, catalog, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	// Start job consumer.
	go func() {
		if err := consumer.Run(ctx); err != nil {
			logger.Error("consumer error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if err := consumer.Close(); err != nil {
		logger.Error("kafka consumer close error", "error", err)
	}
	if err := results.Close(); err != nil {
		logger.Error("result writer close error", "error", err)
	}
	if err := progress.Close(); err != nil {
		logger.Error("progress writer close error", "error", err)
	}

	logger.Info("shutdown complete")
}
