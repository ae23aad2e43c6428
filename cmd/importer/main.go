package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/score-import-etl/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/score-import-etl/internal/adapter/kafka"
	"github.com/couchcryptid/score-import-etl/internal/adapter/sqlite"
	"github.com/couchcryptid/score-import-etl/internal/catalog"
	"github.com/couchcryptid/score-import-etl/internal/config"
	"github.com/couchcryptid/score-import-etl/internal/format"
	"github.com/couchcryptid/score-import-etl/internal/format/builtin"
	"github.com/couchcryptid/score-import-etl/internal/gameconfig"
	"github.com/couchcryptid/score-import-etl/internal/observability"
	"github.com/couchcryptid/score-import-etl/internal/pipeline"
	"github.com/couchcryptid/score-import-etl/internal/scoremetric"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	slog.SetDefault(logger)
	metrics := observability.NewMetrics()

	games, err := gameconfig.Load()
	if err != nil {
		logger.Error("failed to load game config", "error", err)
		os.Exit(1)
	}

	store, closeStore, err := openCatalog(cfg, metrics, logger)
	if err != nil {
		logger.Error("failed to open catalog", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	kit := format.NewKit(catalog.NewCached(store, cfg.CatalogCacheSize, metrics), scoremetric.New(games, logger))
	registry, err := builtin.Registry(kit)
	if err != nil {
		logger.Error("failed to register formats", "error", err)
		os.Exit(1)
	}

	clock := clockwork.NewRealClock()
	var loader pipeline.ScoreLoader
	var writer *kafkaadapter.Writer
	if cfg.KafkaEnabled {
		writer = kafkaadapter.NewWriter(cfg, logger, clock)
		loader = writer
	}
	orch := pipeline.NewOrchestrator(registry, loader, logger, metrics, clock, cfg.ImportConcurrency)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var ready sharedobs.ReadinessChecker = catalogReadiness{store}
	var reader *kafkaadapter.Reader
	if cfg.KafkaEnabled {
		reader = kafkaadapter.NewReader(cfg, logger)
		p := pipeline.New(reader, orch, logger, metrics, cfg.BatchSize)
		ready = p

		// Start import pipeline.
		go func() {
			if err := p.Run(ctx); err != nil {
				logger.Error("pipeline error", "error", err)
			}
		}()
	} else {
		logger.Info("kafka disabled, serving HTTP imports only")
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, ready, orch, cfg.MaxPayloadBytes, logger)

	// Start HTTP server.
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	if reader != nil {
		if err := reader.Close(); err != nil {
			logger.Error("kafka reader close error", "error", err)
		}
	}
	if writer != nil {
		if err := writer.Close(); err != nil {
			logger.Error("kafka writer close error", "error", err)
		}
	}

	logger.Info("shutdown complete")
}

// openCatalog opens the SQLite catalog named by CATALOG_DSN, or loads the
// seed file named by CATALOG_SEED into memory. With neither set the catalog
// is empty and every lookup reports DataNotFound.
func openCatalog(cfg *config.Config, metrics *observability.Metrics, logger *slog.Logger) (catalog.Catalog, func(), error) {
	switch {
	case cfg.CatalogDSN != "":
		store, err := sqlite.Open(cfg.CatalogDSN, metrics)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("catalog opened", "backend", "sqlite", "dsn", cfg.CatalogDSN)
		return store, func() {
			if err := store.Close(); err != nil {
				logger.Error("catalog close error", "error", err)
			}
		}, nil
	case cfg.CatalogSeed != "":
		data, err := os.ReadFile(cfg.CatalogSeed)
		if err != nil {
			return nil, nil, fmt.Errorf("read catalog seed: %w", err)
		}
		mem, err := catalog.ParseSeed(data)
		if err != nil {
			return nil, nil, err
		}
		songs, charts := mem.Len()
		logger.Info("catalog loaded", "backend", "memory", "songs", songs, "charts", charts)
		return mem, func() {}, nil
	default:
		logger.Warn("no catalog configured, every record will be DataNotFound")
		return catalog.NewMemory(nil, nil), func() {}, nil
	}
}

// catalogReadiness reports ready once the catalog answers, for deployments
// that only serve HTTP imports.
type catalogReadiness struct {
	cat catalog.Catalog
}

func (c catalogReadiness) CheckReadiness(ctx context.Context) error {
	if r, ok := c.cat.(sharedobs.ReadinessChecker); ok {
		return r.CheckReadiness(ctx)
	}
	return nil
}
