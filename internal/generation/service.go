package generation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/showroomhq/showroom-backend/pkg/config"
	"github.com/showroomhq/showroom-backend/pkg/db/models"
	dbtypes "github.com/showroomhq/showroom-backend/pkg/db/types"
	"github.com/showroomhq/showroom-backend/pkg/enums"
	pkgerrors "github.com/showroomhq/showroom-backend/pkg/errors"
	"github.com/showroomhq/showroom-backend/pkg/metrics"
)

// CreateJobInput carries everything needed to persist a new PENDING job. The
// reservation must already exist; the job store never talks to the ledger.
type CreateJobInput struct {
	StoreID        uuid.UUID
	CustomerID     *uuid.UUID
	ReservationID  string
	PersonImageURL string
	ProductIDs     []uuid.UUID
	Options        json.RawMessage
}

// Result is the payload recorded on a successful generation.
type Result struct {
	ImageURL      string
	CompositionID string
}

// Service owns the generation job lifecycle.
type Service interface {
	Create(ctx context.Context, input CreateJobInput) (*models.GenerationJob, error)
	Get(ctx context.Context, jobID uuid.UUID) (*models.GenerationJob, error)
	GetForStore(ctx context.Context, storeID, jobID uuid.UUID) (*models.GenerationJob, error)

	// MarkProcessing claims a PENDING job for a worker and returns it.
	MarkProcessing(ctx context.Context, jobID uuid.UUID) (*models.GenerationJob, error)
	MarkCompleted(ctx context.Context, jobID uuid.UUID, result Result) error
	// MarkFailedAndMaybeRequeue records a failure. It reports whether the
	// job is now terminally failed, in which case the caller must release
	// the job's credit reservation.
	MarkFailedAndMaybeRequeue(ctx context.Context, jobID uuid.UUID, cause error) (terminal bool, err error)
	Cancel(ctx context.Context, storeID, jobID uuid.UUID) (*models.GenerationJob, error)

	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.GenerationJob, error)
	ListStuckProcessing(ctx context.Context, startedBefore time.Time, limit int) ([]models.GenerationJob, error)
}

// ServiceParams groups dependencies for the job service.
type ServiceParams struct {
	Repo    Repository
	Config  config.GenerationConfig
	Metrics *metrics.GenerationMetrics
	Now     func() time.Time
}

type service struct {
	repo    Repository
	cfg     config.GenerationConfig
	metrics *metrics.GenerationMetrics
	now     func() time.Time
}

// NewService wires a generation job service.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, fmt.Errorf("generation repository required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		repo:    params.Repo,
		cfg:     params.Config,
		metrics: params.Metrics,
		now:     now,
	}, nil
}

func (s *service) Create(ctx context.Context, input CreateJobInput) (*models.GenerationJob, error) {
	if input.StoreID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store id is required")
	}
	if input.ReservationID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reservation id is required")
	}
	if input.PersonImageURL == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "person image url is required")
	}
	if len(input.ProductIDs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one product id is required")
	}

	maxRetries := s.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = models.DefaultMaxRetries
	}
	job := &models.GenerationJob{
		ID:             uuid.New(),
		StoreID:        input.StoreID,
		CustomerID:     input.CustomerID,
		Status:         enums.GenerationJobStatusPending,
		ReservationID:  input.ReservationID,
		PersonImageURL: input.PersonImageURL,
		ProductIDs:     dbtypes.UUIDArray(input.ProductIDs),
		Options:        input.Options,
		MaxRetries:     maxRetries,
	}
	if err := s.repo.Create(ctx, job); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create generation job")
	}
	s.metrics.IncTransition(enums.GenerationJobStatusPending.String())
	return job, nil
}

func (s *service) Get(ctx context.Context, jobID uuid.UUID) (*models.GenerationJob, error) {
	job, err := s.repo.Find(ctx, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "generation job not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load generation job")
	}
	return job, nil
}

func (s *service) GetForStore(ctx context.Context, storeID, jobID uuid.UUID) (*models.GenerationJob, error) {
	job, err := s.repo.FindForStore(ctx, storeID, jobID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "generation job not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load generation job")
	}
	return job, nil
}

func (s *service) MarkProcessing(ctx context.Context, jobID uuid.UUID) (*models.GenerationJob, error) {
	won, err := s.repo.MarkProcessing(ctx, jobID, s.now().UTC())
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "claim generation job")
	}
	if !won {
		// Either the job does not exist or another worker already holds
		// it; distinguish for the caller.
		if _, err := s.Get(ctx, jobID); err != nil {
			return nil, err
		}
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "generation job is not pending")
	}
	s.metrics.IncTransition(enums.GenerationJobStatusProcessing.String())
	return s.Get(ctx, jobID)
}

func (s *service) MarkCompleted(ctx context.Context, jobID uuid.UUID, result Result) error {
	if result.ImageURL == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "result image url is required")
	}
	now := s.now().UTC()
	won, err := s.repo.MarkCompleted(ctx, jobID, result, now)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "complete generation job")
	}
	if !won {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "generation job is not processing")
	}
	s.metrics.IncTransition(enums.GenerationJobStatusCompleted.String())
	s.observeDuration(ctx, jobID, "completed", now)
	return nil
}

func (s *service) MarkFailedAndMaybeRequeue(ctx context.Context, jobID uuid.UUID, cause error) (bool, error) {
	job, err := s.Get(ctx, jobID)
	if err != nil {
		return false, err
	}
	if job.Status != enums.GenerationJobStatusProcessing {
		return false, pkgerrors.New(pkgerrors.CodeStateConflict, "generation job is not processing")
	}

	if job.RetryCount < job.MaxRetries {
		won, err := s.repo.RequeueFailed(ctx, jobID)
		if err != nil {
			return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "requeue generation job")
		}
		if won {
			s.metrics.IncTransition(enums.GenerationJobStatusPending.String())
			return false, nil
		}
		// Lost the race to another transition; fall through to the
		// terminal path only if the guarded update below still wins.
	}

	msg := "generation failed"
	if cause != nil {
		msg = cause.Error()
	}
	now := s.now().UTC()
	won, err := s.repo.MarkFailed(ctx, jobID, msg, now)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "fail generation job")
	}
	if !won {
		return false, pkgerrors.New(pkgerrors.CodeStateConflict, "generation job is not processing")
	}
	s.metrics.IncTransition(enums.GenerationJobStatusFailed.String())
	s.observeDuration(ctx, jobID, "failed", now)
	return true, nil
}

func (s *service) Cancel(ctx context.Context, storeID, jobID uuid.UUID) (*models.GenerationJob, error) {
	job, err := s.GetForStore(ctx, storeID, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status == enums.GenerationJobStatusCancelled {
		// Cancelling twice is a no-op.
		return job, nil
	}
	if job.Terminal() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "generation job already finished")
	}
	won, err := s.repo.Cancel(ctx, jobID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancel generation job")
	}
	if !won {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "generation job already finished")
	}
	s.metrics.IncTransition(enums.GenerationJobStatusCancelled.String())
	return s.GetForStore(ctx, storeID, jobID)
}

func (s *service) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.GenerationJob, error) {
	jobs, err := s.repo.ListStalePending(ctx, olderThan, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list stale pending jobs")
	}
	return jobs, nil
}

func (s *service) ListStuckProcessing(ctx context.Context, startedBefore time.Time, limit int) ([]models.GenerationJob, error) {
	jobs, err := s.repo.ListStuckProcessing(ctx, startedBefore, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list stuck processing jobs")
	}
	return jobs, nil
}

func (s *service) observeDuration(ctx context.Context, jobID uuid.UUID, outcome string, finished time.Time) {
	if s.metrics == nil {
		return
	}
	job, err := s.repo.Find(ctx, jobID)
	if err != nil || job.StartedAt == nil {
		return
	}
	s.metrics.ObserveProcessing(outcome, finished.Sub(*job.StartedAt))
}
