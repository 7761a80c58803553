package generation

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/showroomhq/showroom-backend/internal/repo"
	"github.com/showroomhq/showroom-backend/pkg/db/models"
	"github.com/showroomhq/showroom-backend/pkg/enums"
)

// Repository persists generation jobs. Every transition method is a guarded
// update keyed on the current status and reports via its bool return whether
// this caller won the transition.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	Create(ctx context.Context, job *models.GenerationJob) error
	Find(ctx context.Context, jobID uuid.UUID) (*models.GenerationJob, error)
	FindForStore(ctx context.Context, storeID, jobID uuid.UUID) (*models.GenerationJob, error)

	MarkProcessing(ctx context.Context, jobID uuid.UUID, at time.Time) (bool, error)
	MarkCompleted(ctx context.Context, jobID uuid.UUID, result Result, at time.Time) (bool, error)
	RequeueFailed(ctx context.Context, jobID uuid.UUID) (bool, error)
	MarkFailed(ctx context.Context, jobID uuid.UUID, cause string, at time.Time) (bool, error)
	Cancel(ctx context.Context, jobID uuid.UUID) (bool, error)

	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.GenerationJob, error)
	ListStuckProcessing(ctx context.Context, startedBefore time.Time, limit int) ([]models.GenerationJob, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a gorm-backed job repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) Create(ctx context.Context, job *models.GenerationJob) error {
	return r.DB(ctx).Create(job).Error
}

func (r *repository) Find(ctx context.Context, jobID uuid.UUID) (*models.GenerationJob, error) {
	var job models.GenerationJob
	if err := r.DB(ctx).First(&job, "id = ?", jobID).Error; err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repository) FindForStore(ctx context.Context, storeID, jobID uuid.UUID) (*models.GenerationJob, error) {
	var job models.GenerationJob
	err := r.DB(ctx).
		First(&job, "id = ? AND store_id = ?", jobID, storeID).Error
	if err != nil {
		return nil, err
	}
	return &job, nil
}

func (r *repository) MarkProcessing(ctx context.Context, jobID uuid.UUID, at time.Time) (bool, error) {
	res := r.DB(ctx).
		Model(&models.GenerationJob{}).
		Where("id = ? AND status = ?", jobID, enums.GenerationJobStatusPending).
		Updates(map[string]any{
			"status":     enums.GenerationJobStatusProcessing,
			"started_at": at,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) MarkCompleted(ctx context.Context, jobID uuid.UUID, result Result, at time.Time) (bool, error) {
	updates := map[string]any{
		"status":           enums.GenerationJobStatusCompleted,
		"result_image_url": result.ImageURL,
		"completed_at":     at,
	}
	if result.CompositionID != "" {
		updates["composition_id"] = result.CompositionID
	}
	res := r.DB(ctx).
		Model(&models.GenerationJob{}).
		Where("id = ? AND status = ?", jobID, enums.GenerationJobStatusProcessing).
		Updates(updates)
	return res.RowsAffected == 1, res.Error
}

// RequeueFailed sends a PROCESSING job back to PENDING, burning one retry.
// The guard on retry_count keeps a stale sweeper from requeueing past the
// limit.
func (r *repository) RequeueFailed(ctx context.Context, jobID uuid.UUID) (bool, error) {
	res := r.DB(ctx).
		Model(&models.GenerationJob{}).
		Where("id = ? AND status = ? AND retry_count < max_retries",
			jobID, enums.GenerationJobStatusProcessing).
		Updates(map[string]any{
			"status":      enums.GenerationJobStatusPending,
			"retry_count": gorm.Expr("retry_count + 1"),
			"started_at":  nil,
		})
	return res.RowsAffected == 1, res.Error
}

func (r *repository) MarkFailed(ctx context.Context, jobID uuid.UUID, cause string, at time.Time) (bool, error) {
	res := r.DB(ctx).
		Model(&models.GenerationJob{}).
		Where("id = ? AND status = ?", jobID, enums.GenerationJobStatusProcessing).
		Updates(map[string]any{
			"status":    enums.GenerationJobStatusFailed,
			"error":     cause,
			"failed_at": at,
		})
	return res.RowsAffected == 1, res.Error
}

// Cancel moves any pre-terminal job to CANCELLED. A FAILED job with retries
// left is still pre-terminal and can be cancelled by the store.
func (r *repository) Cancel(ctx context.Context, jobID uuid.UUID) (bool, error) {
	res := r.DB(ctx).
		Model(&models.GenerationJob{}).
		Where("id = ? AND (status IN ? OR (status = ? AND retry_count < max_retries))",
			jobID,
			[]enums.GenerationJobStatus{
				enums.GenerationJobStatusPending,
				enums.GenerationJobStatusProcessing,
			},
			enums.GenerationJobStatusFailed).
		Update("status", enums.GenerationJobStatusCancelled)
	return res.RowsAffected == 1, res.Error
}

func (r *repository) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]models.GenerationJob, error) {
	var jobs []models.GenerationJob
	err := r.DB(ctx).
		Where("status = ? AND created_at < ?", enums.GenerationJobStatusPending, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}

func (r *repository) ListStuckProcessing(ctx context.Context, startedBefore time.Time, limit int) ([]models.GenerationJob, error) {
	var jobs []models.GenerationJob
	err := r.DB(ctx).
		Where("status = ? AND started_at < ?", enums.GenerationJobStatusProcessing, startedBefore).
		Order("started_at ASC").
		Limit(limit).
		Find(&jobs).Error
	return jobs, err
}
