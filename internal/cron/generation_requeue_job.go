package cron

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/showroomhq/showroom-backend/pkg/db/models"
	"github.com/showroomhq/showroom-backend/pkg/logger"
)

var errProcessingTimedOut = errors.New("processing timed out")

type staleJobReader interface {
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.GenerationJob, error)
	ListStuckProcessing(ctx context.Context, startedBefore time.Time, limit int) ([]models.GenerationJob, error)
	MarkFailedAndMaybeRequeue(ctx context.Context, jobID uuid.UUID, cause error) (bool, error)
}

type jobDispatcher interface {
	Dispatch(ctx context.Context, jobID uuid.UUID)
}

type reservationReleaser interface {
	Rollback(ctx context.Context, storeID uuid.UUID, reservationID string) error
}

// GenerationRequeueJobParams configure the delivery recovery sweep.
type GenerationRequeueJobParams struct {
	Logger            *logger.Logger
	Jobs              staleJobReader
	Dispatcher        jobDispatcher
	Ledger            reservationReleaser
	PendingAge        time.Duration
	ProcessingTimeout time.Duration
	BatchSize         int
}

// NewGenerationRequeueJob builds the sweep that re-triggers PENDING jobs
// whose dispatch was lost and fails PROCESSING jobs whose worker died.
func NewGenerationRequeueJob(params GenerationRequeueJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Jobs == nil {
		return nil, fmt.Errorf("generation service required")
	}
	if params.Dispatcher == nil {
		return nil, fmt.Errorf("dispatcher required")
	}
	if params.Ledger == nil {
		return nil, fmt.Errorf("ledger service required")
	}
	pendingAge := params.PendingAge
	if pendingAge <= 0 {
		pendingAge = 2 * time.Minute
	}
	processingTimeout := params.ProcessingTimeout
	if processingTimeout <= 0 {
		processingTimeout = 10 * time.Minute
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &generationRequeueJob{
		logg:              params.Logger,
		jobs:              params.Jobs,
		dispatcher:        params.Dispatcher,
		ledger:            params.Ledger,
		pendingAge:        pendingAge,
		processingTimeout: processingTimeout,
		batchSize:         batchSize,
		now:               time.Now,
	}, nil
}

type generationRequeueJob struct {
	logg              *logger.Logger
	jobs              staleJobReader
	dispatcher        jobDispatcher
	ledger            reservationReleaser
	pendingAge        time.Duration
	processingTimeout time.Duration
	batchSize         int
	now               func() time.Time
}

func (j *generationRequeueJob) Name() string { return "generation-requeue" }

func (j *generationRequeueJob) Run(ctx context.Context) error {
	var errs []error
	if err := j.redispatchStalePending(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := j.reapStuckProcessing(ctx); err != nil {
		errs = append(errs, err)
	}
	return multierr.Combine(errs...)
}

func (j *generationRequeueJob) redispatchStalePending(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.pendingAge)
	stale, err := j.jobs.ListStalePending(ctx, cutoff, j.batchSize)
	if err != nil {
		return fmt.Errorf("list stale pending jobs: %w", err)
	}
	for _, job := range stale {
		j.dispatcher.Dispatch(ctx, job.ID)
	}
	if len(stale) > 0 {
		j.logg.Info(j.logg.WithField(ctx, "count", len(stale)), "redispatched stale pending jobs")
	}
	return nil
}

func (j *generationRequeueJob) reapStuckProcessing(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.processingTimeout)
	stuck, err := j.jobs.ListStuckProcessing(ctx, cutoff, j.batchSize)
	if err != nil {
		return fmt.Errorf("list stuck processing jobs: %w", err)
	}

	var errs []error
	for _, job := range stuck {
		jobCtx := j.logg.WithField(ctx, "job_id", job.ID.String())
		terminal, err := j.jobs.MarkFailedAndMaybeRequeue(jobCtx, job.ID, errProcessingTimedOut)
		if err != nil {
			// A worker may have finished the job between the list and
			// the transition; skip it and move on.
			j.logg.Warn(jobCtx, "could not fail stuck job")
			continue
		}
		if !terminal {
			j.dispatcher.Dispatch(jobCtx, job.ID)
			continue
		}
		if err := j.ledger.Rollback(jobCtx, job.StoreID, job.ReservationID); err != nil {
			errs = append(errs, fmt.Errorf("release reservation for job %s: %w", job.ID, err))
		}
	}
	return multierr.Combine(errs...)
}
