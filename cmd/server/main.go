package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/sentinelai/risk-engine/internal/analytics"
	"github.com/sentinelai/risk-engine/internal/config"
	"github.com/sentinelai/risk-engine/internal/engine"
	"github.com/sentinelai/risk-engine/internal/events"
	"github.com/sentinelai/risk-engine/internal/pkg/logger"
	"github.com/sentinelai/risk-engine/internal/repository"
	"github.com/sentinelai/risk-engine/internal/repository/memory"
	"github.com/sentinelai/risk-engine/internal/repository/postgres"
	"github.com/sentinelai/risk-engine/internal/server"
	"github.com/sentinelai/risk-engine/internal/telemetry"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize Logger
	log, err := logger.New(cfg.Telemetry.ServiceName, cfg.Telemetry.Environment, cfg.Telemetry.Debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// 3. Tracing
	ctx := context.Background()
	stopTracing, err := telemetry.Init(ctx, cfg.Telemetry, log)
	if err != nil {
		log.Fatal("failed to initialize tracing", logger.ErrorField(err))
	}
	defer func() {
		if err := stopTracing(context.Background()); err != nil {
			log.Warn("trace provider shutdown failed", logger.ErrorField(err))
		}
	}()

	// 4. Storage
	var (
		caseRepo  repository.CaseRepository
		auditRepo repository.AuditRepository
		snapshots repository.SnapshotReader
	)
	switch cfg.Database.Driver {
	case "postgres":
		store, err := postgres.Connect(ctx, cfg.Database.URL(), cfg.Database.MaxConns)
		if err != nil {
			log.Fatal("failed to connect to postgres", logger.ErrorField(err))
		}
		defer store.Close()
		if err := store.Migrate(ctx); err != nil {
			log.Fatal("failed to run migrations", logger.ErrorField(err))
		}
		caseRepo, auditRepo, snapshots = store, store, store
	case "memory":
		store := memory.New()
		caseRepo, auditRepo, snapshots = store, store, store
		log.Warn("using in-memory storage, data will not survive restarts")
	default:
		log.Fatal("unknown database driver", logger.StringField("driver", cfg.Database.Driver))
	}

	// 5. Case event publisher (optional)
	var sink engine.EventSink
	if cfg.Kafka.Enabled {
		producer, err := events.NewSyncProducer(cfg.Kafka.Brokers)
		if err != nil {
			log.Fatal("failed to create kafka producer", logger.ErrorField(err))
		}
		publisher := events.NewPublisher(producer, cfg.Kafka.CaseEventTopic, log)
		defer publisher.Close()
		sink = publisher
	}

	// 6. Risk Engine
	eng := engine.New(caseRepo, auditRepo, sink, cfg.Engine, log)

	// 7. Analysis Consumer (optional)
	if cfg.Kafka.Enabled {
		consumer, err := events.NewConsumer(cfg.Kafka, eng, log)
		if err != nil {
			log.Fatal("failed to create kafka consumer", logger.ErrorField(err))
		}
		consumer.Start()
		defer func() {
			if err := consumer.Stop(); err != nil {
				log.Warn("kafka consumer shutdown failed", logger.ErrorField(err))
			}
		}()
	}

	// 8. Analytics
	aggregator := analytics.New(snapshots, cfg.Analytics, log)
	var overview analytics.OverviewProvider = aggregator
	if cfg.Redis.Enabled {
		client := analytics.NewRedisClient(cfg.Redis)
		defer client.Close()
		overview = analytics.NewCache(aggregator, client, cfg.Analytics.CacheTTL, log)
	}

	// 9. HTTP Server
	srv, err := server.New(eng, overview, cfg, log)
	if err != nil {
		log.Fatal("failed to build http server", logger.ErrorField(err))
	}

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", logger.ErrorField(err))
		}
	}()

	// 10. Wait for interrupt signal, then drain gracefully
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http server shutdown failed", logger.ErrorField(err))
	}

	log.Info("server exited")
}
