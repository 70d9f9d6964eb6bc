package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/6529-collections/xtdh-engine/internal/adapter"
	"github.com/6529-collections/xtdh-engine/internal/config"
	"github.com/6529-collections/xtdh-engine/internal/domain"
	"github.com/6529-collections/xtdh-engine/internal/engine"
	"github.com/6529-collections/xtdh-engine/internal/logger"
	"github.com/6529-collections/xtdh-engine/internal/metrics"
	"github.com/6529-collections/xtdh-engine/internal/providers/jetstream"
	"github.com/6529-collections/xtdh-engine/internal/stats"
	"github.com/6529-collections/xtdh-engine/internal/store"
)

var (
	configPath = flag.String("config", "", "Path to configuration file")
	envPath    = flag.String("env", "", "Path to directory containing .env files")
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.LoadStatsWorkerConfig(*configPath, *envPath)
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	err = logger.Initialize(logger.Config{
		Debug:     cfg.Debug,
		SentryDSN: cfg.SentryDSN,
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer logger.Flush(5 * time.Second)
	logger.Info("Starting xTDH stats worker")

	epoch, err := cfg.Epoch()
	if err != nil {
		logger.Fatal("Invalid epoch date", zap.Error(err))
	}

	// Connect to database
	db, err := gorm.Open(postgres.Open(cfg.Database.DSN()), &gorm.Config{})
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	err = store.ConfigureConnectionPool(db,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
		cfg.Database.ConnMaxLifetime,
		cfg.Database.ConnMaxIdleTime)
	if err != nil {
		logger.Fatal("Failed to configure connection pool", zap.Error(err))
	}
	logger.Info("Connected to database")

	dataStore := store.NewPGStore(db)
	clock := adapter.NewClock()

	allocator := engine.NewAllocator(cfg.Worker.PoolSize)
	defer allocator.Stop()

	materializer := stats.NewMaterializer(dataStore, allocator, clock, epoch)

	metricsServer := metrics.Serve(cfg.Metrics.Addr)
	defer func() { _ = metricsServer.Shutdown(context.Background()) }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bootstrap: serve stats from slot a if they were never built
	if _, err := materializer.ActiveSlot(ctx); errors.Is(err, domain.ErrStatsMetaMissing) {
		logger.Info("Stats never materialized, running initial rebuild")
		if err := materializer.RebuildAndActivate(ctx); err != nil {
			logger.ErrorCtx(ctx, err, zap.String("component", "bootstrap"))
		}
	} else if err != nil {
		logger.Fatal("Failed to read stats meta", zap.Error(err))
	}

	subscriber, err := jetstream.NewSubscriber(jetstream.Config{
		URL:            cfg.NATS.URL,
		StreamName:     cfg.NATS.StreamName,
		Subject:        cfg.NATS.Subject,
		ConsumerName:   cfg.NATS.ConsumerName,
		MaxReconnects:  cfg.NATS.MaxReconnects,
		ReconnectWait:  cfg.NATS.ReconnectWait,
		ConnectionName: "xtdh-stats-worker",
		AckWait:        cfg.NATS.AckWait,
		MaxDeliver:     cfg.NATS.MaxDeliver,
	}, adapter.NewJSON())
	if err != nil {
		logger.Fatal("Failed to create stats trigger subscriber", zap.Error(err))
	}
	defer subscriber.Close()

	// Setup signal handling
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		err := subscriber.SubscribeTriggers(ctx, func(ctx context.Context, trigger *domain.StatsTrigger) error {
			logger.InfoCtx(ctx, "Received stats rebuild trigger", zap.Time("cutoff", trigger.Cutoff))
			return materializer.RebuildAndActivate(ctx)
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	case err := <-errCh:
		logger.Error(err, zap.String("component", "subscriber"))
		cancel()
	}

	// Give some time for graceful shutdown
	time.Sleep(time.Second)

	logger.Info("xTDH stats worker stopped")
}
