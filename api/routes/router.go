package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/showroomhq/showroom-backend/api/controllers"
	"github.com/showroomhq/showroom-backend/api/middleware"
	"github.com/showroomhq/showroom-backend/internal/generation"
	"github.com/showroomhq/showroom-backend/internal/generation/dispatch"
	"github.com/showroomhq/showroom-backend/internal/ledger"
	"github.com/showroomhq/showroom-backend/internal/scenarios"
	"github.com/showroomhq/showroom-backend/pkg/config"
	"github.com/showroomhq/showroom-backend/pkg/db"
	"github.com/showroomhq/showroom-backend/pkg/logger"
	"github.com/showroomhq/showroom-backend/pkg/redis"
)

// RouterParams collects everything the public API surface needs.
type RouterParams struct {
	Config        *config.Config
	Logger        *logger.Logger
	DB            db.Pinger
	Redis         *redis.Client
	Generation    generation.Service
	Ledger        ledger.Service
	Dispatcher    dispatch.Dispatcher
	ScenarioCache *scenarios.Cache
}

// NewRouter assembles the public API.
func NewRouter(params RouterParams) http.Handler {
	cfg := params.Config
	logg := params.Logger

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
	)

	createPolicy := middleware.NewRateLimitPolicy(
		"generation-create",
		cfg.RateLimit.GenerationWindow,
		cfg.RateLimit.GenerationLimit,
	)

	var redisPinger redis.Pinger
	if params.Redis != nil {
		redisPinger = params.Redis
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, params.DB, redisPinger))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/generation", func(r chi.Router) {
			r.With(middleware.RateLimit(createPolicy, params.Redis, logg)).
				Post("/", controllers.GenerationCreate(params.Generation, params.Ledger, params.Dispatcher, logg))
			r.Get("/{jobID}", controllers.GenerationStatus(params.Generation, logg))
			r.Post("/{jobID}/confirm", controllers.GenerationConfirm(params.Generation, params.Ledger, logg))
			r.Post("/{jobID}/cancel", controllers.GenerationCancel(params.Generation, params.Ledger, logg))
		})

		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", controllers.ScenariosList(params.ScenarioCache, logg))
			r.Post("/refresh", controllers.ScenariosRefresh(params.ScenarioCache, logg))
		})
	})

	return r
}
