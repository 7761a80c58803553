package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/showroomhq/showroom-backend/pkg/db/types"
	"github.com/showroomhq/showroom-backend/pkg/enums"
)

// DefaultMaxRetries bounds server-side requeues of a failed job.
const DefaultMaxRetries = 3

// GenerationJob tracks one asynchronous composition request from creation to
// a terminal status. Jobs are never deleted; each references exactly one
// credit reservation.
type GenerationJob struct {
	ID             uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	StoreID        uuid.UUID                 `gorm:"column:store_id;type:uuid;not null;index"`
	CustomerID     *uuid.UUID                `gorm:"column:customer_id;type:uuid"`
	Status         enums.GenerationJobStatus `gorm:"column:status;type:generation_job_status;not null;default:'PENDING';index"`
	ReservationID  string                    `gorm:"column:reservation_id;not null"`
	PersonImageURL string                    `gorm:"column:person_image_url;not null"`
	ProductIDs     dbtypes.UUIDArray         `gorm:"column:product_ids;type:text"`
	Options        json.RawMessage           `gorm:"column:options;type:jsonb"`
	RetryCount     int                       `gorm:"column:retry_count;not null;default:0"`
	MaxRetries     int                       `gorm:"column:max_retries;not null;default:3"`
	ResultImageURL *string                   `gorm:"column:result_image_url"`
	CompositionID  *string                   `gorm:"column:composition_id"`
	Error          *string                   `gorm:"column:error"`
	CreatedAt      time.Time                 `gorm:"column:created_at;autoCreateTime"`
	StartedAt      *time.Time                `gorm:"column:started_at"`
	CompletedAt    *time.Time                `gorm:"column:completed_at"`
	FailedAt       *time.Time                `gorm:"column:failed_at"`
}

// Terminal reports whether the job can make no further progress. FAILED is
// terminal only once retries are exhausted.
func (j GenerationJob) Terminal() bool {
	switch j.Status {
	case enums.GenerationJobStatusCompleted, enums.GenerationJobStatusCancelled:
		return true
	case enums.GenerationJobStatusFailed:
		return j.RetryCount >= j.MaxRetries
	default:
		return false
	}
}
