package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/showroomhq/showroom-backend/api/routes"
	"github.com/showroomhq/showroom-backend/internal/generation"
	"github.com/showroomhq/showroom-backend/internal/generation/dispatch"
	"github.com/showroomhq/showroom-backend/internal/ledger"
	"github.com/showroomhq/showroom-backend/internal/scenarios"
	"github.com/showroomhq/showroom-backend/pkg/config"
	"github.com/showroomhq/showroom-backend/pkg/db"
	"github.com/showroomhq/showroom-backend/pkg/logger"
	"github.com/showroomhq/showroom-backend/pkg/metrics"
	"github.com/showroomhq/showroom-backend/pkg/migrate"
	"github.com/showroomhq/showroom-backend/pkg/pubsub"
	"github.com/showroomhq/showroom-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	pubsubClient, err := pubsub.NewClient(context.Background(), cfg.GCP, cfg.PubSub, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap pubsub", err)
		os.Exit(1)
	}
	defer func() {
		if err := pubsubClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing pubsub", err)
		}
	}()

	ledgerService, err := ledger.NewService(ledger.ServiceParams{
		TX:      dbClient,
		Repo:    ledger.NewRepository(dbClient.DB()),
		Config:  cfg.Ledger,
		Metrics: metrics.NewLedgerMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create ledger service", err)
		os.Exit(1)
	}

	generationService, err := generation.NewService(generation.ServiceParams{
		Repo:    generation.NewRepository(dbClient.DB()),
		Config:  cfg.Generation,
		Metrics: metrics.NewGenerationMetrics(prometheus.DefaultRegisterer),
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create generation service", err)
		os.Exit(1)
	}

	dispatcher := dispatch.NewDispatcher(dispatch.DispatcherParams{
		Publisher: dispatch.GCPPublisher{Publisher: pubsubClient.GenerationPublisher()},
		Config:    cfg.Dispatch,
		Logger:    logg,
	})

	scenarioCache, err := scenarios.NewCache(scenarios.CacheParams{
		Repo: scenarios.NewRepository(dbClient.DB()),
		TTL:  cfg.Generation.ScenarioCacheTTL,
	})
	if err != nil {
		logg.Error(context.Background(), "failed to create scenario cache", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"instance": id,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:        cfg,
			Logger:        logg,
			DB:            dbClient,
			Redis:         redisClient,
			Generation:    generationService,
			Ledger:        ledgerService,
			Dispatcher:    dispatcher,
			ScenarioCache: scenarioCache,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}
