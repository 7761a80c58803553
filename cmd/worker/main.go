package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/showroomhq/showroom-backend/internal/generation"
	"github.com/showroomhq/showroom-backend/internal/generation/consumer"
	"github.com/showroomhq/showroom-backend/internal/ledger"
	"github.com/showroomhq/showroom-backend/internal/scenarios"
	"github.com/showroomhq/showroom-backend/pkg/config"
	"github.com/showroomhq/showroom-backend/pkg/db"
	"github.com/showroomhq/showroom-backend/pkg/generator"
	"github.com/showroomhq/showroom-backend/pkg/instance"
	"github.com/showroomhq/showroom-backend/pkg/logger"
	"github.com/showroomhq/showroom-backend/pkg/metrics"
	"github.com/showroomhq/showroom-backend/pkg/pubsub"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "generation-worker"})

	_ = godotenv.Load()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	cfg.Service.Kind = "generation-worker"

	logg = logger.New(logger.Options{
		ServiceName: "generation-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	requireResource(ctx, logg, "pubsub", err)
	defer pubsubClient.Close()

	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		TX:      dbClient,
		Repo:    ledger.NewRepository(dbClient.DB()),
		Config:  cfg.Ledger,
		Metrics: metrics.NewLedgerMetrics(prometheus.DefaultRegisterer),
	})
	requireResource(ctx, logg, "ledger service", err)

	generationService, err := generation.NewService(generation.ServiceParams{
		Repo:    generation.NewRepository(dbClient.DB()),
		Config:  cfg.Generation,
		Metrics: metrics.NewGenerationMetrics(prometheus.DefaultRegisterer),
	})
	requireResource(ctx, logg, "generation service", err)

	scenarioCache, err := scenarios.NewCache(scenarios.CacheParams{
		Repo: scenarios.NewRepository(dbClient.DB()),
		TTL:  cfg.Generation.ScenarioCacheTTL,
	})
	requireResource(ctx, logg, "scenario cache", err)

	backend, err := generator.NewClient(generator.Options{
		BaseURL:        cfg.Generation.BackendURL,
		APIKey:         cfg.Generation.BackendAPIKey,
		RequestTimeout: cfg.Generation.RequestTimeout,
	})
	requireResource(ctx, logg, "generation backend client", err)

	processor, err := consumer.NewProcessor(consumer.ProcessorParams{
		Jobs:      generationService,
		Scenarios: scenarioCache,
		Backend:   backend,
		Ledger:    ledgerService,
		Logger:    logg,
	})
	requireResource(ctx, logg, "processor", err)

	triggerConsumer, err := consumer.NewConsumer(processor, pubsubClient.GenerationSubscription(), logg)
	requireResource(ctx, logg, "generation consumer", err)

	service, err := NewService(ServiceParams{
		Config:    cfg,
		Logger:    logg,
		DB:        dbClient,
		PubSub:    pubsubClient,
		Jobs:      generationService,
		Processor: processor,
		Consumer:  triggerConsumer,
	})
	requireResource(ctx, logg, "worker service", err)

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	runCtx = logg.WithFields(runCtx, map[string]any{
		"serviceKind": cfg.Service.Kind,
		"env":         cfg.App.Env,
		"instance":    instance.GetID(),
	})
	logg.Info(runCtx, "generation worker ready")

	if err := service.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
		logg.Error(runCtx, "generation worker not working", err)
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
