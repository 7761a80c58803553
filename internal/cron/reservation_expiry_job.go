package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/showroomhq/showroom-backend/pkg/logger"
)

type expiredReservationDeleter interface {
	DeleteExpiredReservations(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

// ReservationExpiryJobParams configure the reservation hygiene sweep.
type ReservationExpiryJobParams struct {
	Logger *logger.Logger
	Repo   expiredReservationDeleter
	// Retention keeps expired rows around for a while before deletion so
	// late commits still get a clear conflict instead of a not-found.
	Retention time.Duration
	BatchSize int
}

// NewReservationExpiryJob builds the sweep that deletes long-expired,
// never-committed reservations.
func NewReservationExpiryJob(params ReservationExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	batchSize := params.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &reservationExpiryJob{
		logg:      params.Logger,
		repo:      params.Repo,
		retention: retention,
		batchSize: batchSize,
		now:       time.Now,
	}, nil
}

type reservationExpiryJob struct {
	logg      *logger.Logger
	repo      expiredReservationDeleter
	retention time.Duration
	batchSize int
	now       func() time.Time
}

func (j *reservationExpiryJob) Name() string { return "reservation-expiry" }

func (j *reservationExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.retention)
	deleted, err := j.repo.DeleteExpiredReservations(ctx, cutoff, j.batchSize)
	if err != nil {
		return fmt.Errorf("delete expired reservations: %w", err)
	}
	if deleted > 0 {
		j.logg.Info(j.logg.WithField(ctx, "count", deleted), "deleted expired reservations")
	}
	return nil
}
