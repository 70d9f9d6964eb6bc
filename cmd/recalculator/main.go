package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/6529-collections/xtdh-engine/internal/adapter"
	"github.com/6529-collections/xtdh-engine/internal/config"
	"github.com/6529-collections/xtdh-engine/internal/engine"
	"github.com/6529-collections/xtdh-engine/internal/grants"
	"github.com/6529-collections/xtdh-engine/internal/identities"
	"github.com/6529-collections/xtdh-engine/internal/logger"
	"github.com/6529-collections/xtdh-engine/internal/messaging"
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
	cfg, err := config.LoadRecalculatorConfig(*configPath, *envPath)
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
	logger.Info("Starting xTDH recalculator")

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The stats queue is optional; without it the stats worker only runs on
	// its own schedule
	var publisher messaging.Publisher
	if cfg.NATS.URL != "" {
		publisher, err = jetstream.NewPublisher(ctx, jetstream.Config{
			URL:            cfg.NATS.URL,
			StreamName:     cfg.NATS.StreamName,
			Subject:        cfg.NATS.Subject,
			MaxReconnects:  cfg.NATS.MaxReconnects,
			ReconnectWait:  cfg.NATS.ReconnectWait,
			ConnectionName: "xtdh-recalculator",
		}, adapter.NewJSON())
		if err != nil {
			logger.Fatal("Failed to create stats trigger publisher", zap.Error(err))
		}
		defer publisher.Close()
	}

	materializer := stats.NewMaterializer(dataStore, allocator, clock, epoch)
	recalculator := engine.NewRecalculator(
		dataStore,
		allocator,
		grants.NewReReviewer(clock),
		identities.NewMinter(),
		materializer,
		publisher,
		clock,
		epoch,
	)

	metricsServer := metrics.Serve(cfg.Metrics.Addr)
	defer func() { _ = metricsServer.Shutdown(context.Background()) }()

	run := func() {
		if err := recalculator.Handle(ctx); err != nil {
			logger.ErrorCtx(ctx, err, zap.String("component", "recalculator"))
		}
	}

	scheduler := cron.New()
	_, err = scheduler.AddFunc(cfg.Schedule, run)
	if err != nil {
		logger.Fatal("Invalid schedule", zap.Error(err), zap.String("schedule", cfg.Schedule))
	}
	scheduler.Start()
	logger.Info("Recalculation scheduled", zap.String("schedule", cfg.Schedule))

	if cfg.RunOnStart {
		go run()
	}

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))

	cancel()
	<-scheduler.Stop().Done()

	logger.Info("xTDH recalculator stopped")
}
