package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/showroomhq/showroom-backend/api/responses"
	"github.com/showroomhq/showroom-backend/api/validators"
	"github.com/showroomhq/showroom-backend/internal/generation"
	"github.com/showroomhq/showroom-backend/internal/generation/consumer"
	"github.com/showroomhq/showroom-backend/internal/generation/dispatch"
	"github.com/showroomhq/showroom-backend/pkg/config"
	"github.com/showroomhq/showroom-backend/pkg/db"
	pkgerrors "github.com/showroomhq/showroom-backend/pkg/errors"
	"github.com/showroomhq/showroom-backend/pkg/logger"
	"github.com/showroomhq/showroom-backend/pkg/pubsub"
)

type ServiceParams struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        *db.Client
	PubSub    *pubsub.Client
	Jobs      generation.Service
	Processor *consumer.Processor
	Consumer  *consumer.Consumer
}

// Service runs the generation worker: the Pub/Sub trigger consumer plus a
// small internal HTTP surface the API pokes after creating a job.
type Service struct {
	cfg       *config.Config
	logg      *logger.Logger
	db        *db.Client
	pubsub    *pubsub.Client
	jobs      generation.Service
	processor *consumer.Processor
	consumer  *consumer.Consumer
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.PubSub == nil {
		return nil, errors.New("pubsub client is required")
	}
	if params.Jobs == nil {
		return nil, errors.New("generation service is required")
	}
	if params.Processor == nil {
		return nil, errors.New("processor is required")
	}
	if params.Consumer == nil {
		return nil, errors.New("consumer is required")
	}

	return &Service{
		cfg:       params.Config,
		logg:      params.Logger,
		db:        params.DB,
		pubsub:    params.PubSub,
		jobs:      params.Jobs,
		processor: params.Processor,
		consumer:  params.Consumer,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	if err := pingDependency(ctx, s.logg, "database", s.db.Ping); err != nil {
		return err
	}
	if err := pingDependency(ctx, s.logg, "pubsub", s.pubsub.Ping); err != nil {
		return err
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

func pingDependency(ctx context.Context, logg *logger.Logger, name string, fn func(context.Context) error) error {
	if err := fn(ctx); err != nil {
		logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
		return fmt.Errorf("%s ping failed: %w", name, err)
	}
	return nil
}

// Run starts the consumer and the internal HTTP server and blocks until the
// context is canceled or either surface fails.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	server := &http.Server{
		Addr:    ":" + s.cfg.App.Port,
		Handler: s.routes(),
	}

	errCh := make(chan error, 2)
	go func() {
		errCh <- s.consumer.Run(ctx)
	}()
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		s.logg.Info(ctx, "worker context canceled")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			s.logg.Error(ctx, "internal server shutdown failed", err)
		}
		return ctx.Err()
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logg.Error(ctx, "worker surface stopped unexpectedly", err)
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
		return err
	}
}

func (s *Service) routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		responses.WriteSuccess(w, map[string]string{"status": "live"})
	})
	r.Route("/internal/v1/generation", func(r chi.Router) {
		r.Post("/process", s.handleProcess)
		r.Post("/sweep", s.handleSweep)
	})
	return r
}

// handleProcess runs a single job inline. Duplicate pokes are harmless; the
// job store's guarded transitions make the second claim a no-op.
func (s *Service) handleProcess(w http.ResponseWriter, r *http.Request) {
	var trigger dispatch.TriggerMessage
	if err := json.NewDecoder(r.Body).Decode(&trigger); err != nil {
		responses.WriteError(r.Context(), s.logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "undecodable trigger payload"))
		return
	}
	jobID, err := uuid.Parse(trigger.JobID)
	if err != nil {
		responses.WriteError(r.Context(), s.logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid job id"))
		return
	}

	if err := s.processor.Process(r.Context(), jobID); err != nil {
		responses.WriteError(r.Context(), s.logg, w, err)
		return
	}
	responses.WriteSuccess(w, map[string]string{"job_id": jobID.String()})
}

// handleSweep drains PENDING jobs whose trigger never arrived. The cron
// sweep re-dispatches through Pub/Sub; this endpoint processes inline so an
// operator can drain a backlog without a broker round trip.
func (s *Service) handleSweep(w http.ResponseWriter, r *http.Request) {
	limit, err := validators.ParseQueryInt(r, "limit", s.cfg.Cron.SweepBatchSize, 1, 1000)
	if err != nil {
		responses.WriteError(r.Context(), s.logg, w, err)
		return
	}

	olderThan := time.Now().Add(-s.cfg.Cron.PendingAge)
	jobs, err := s.jobs.ListStalePending(r.Context(), olderThan, limit)
	if err != nil {
		responses.WriteError(r.Context(), s.logg, w, err)
		return
	}

	processed := 0
	for _, job := range jobs {
		if err := s.processor.Process(r.Context(), job.ID); err != nil {
			s.logg.Error(s.logg.WithField(r.Context(), "job_id", job.ID.String()), "sweep processing failed", err)
			continue
		}
		processed++
	}
	responses.WriteSuccess(w, map[string]int{"found": len(jobs), "processed": processed})
}
