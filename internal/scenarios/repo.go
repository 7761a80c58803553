package scenarios

import (
	"context"

	"gorm.io/gorm"

	"github.com/showroomhq/showroom-backend/internal/repo"
	"github.com/showroomhq/showroom-backend/pkg/db/models"
)

// Repository loads curated scenario records. Only active rows are ever
// served; inactive ones are invisible to matching.
type Repository interface {
	ListActive(ctx context.Context) ([]models.Scenario, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a gorm-backed scenario repository.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) ListActive(ctx context.Context) ([]models.Scenario, error) {
	var scenarios []models.Scenario
	err := r.DB(ctx).
		Where("active = ?", true).
		Order("created_at ASC").
		Find(&scenarios).Error
	return scenarios, err
}
