package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/showroomhq/showroom-backend/internal/repo"
	"github.com/showroomhq/showroom-backend/pkg/db/models"
	"github.com/showroomhq/showroom-backend/pkg/enums"
)

// Repository handles ledger persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindFinancials(ctx context.Context, storeID uuid.UUID) (*models.StoreFinancials, error)
	DebitBalance(ctx context.Context, storeID uuid.UUID, amount int) (bool, error)
	CreateReservation(ctx context.Context, reservation *models.CreditReservation) error
	FindReservation(ctx context.Context, storeID, id uuid.UUID) (*models.CreditReservation, error)
	TransitionReservation(ctx context.Context, id uuid.UUID, from, to enums.ReservationStatus) (bool, error)
	DeleteExpiredReservations(ctx context.Context, cutoff time.Time, limit int) (int64, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) FindFinancials(ctx context.Context, storeID uuid.UUID) (*models.StoreFinancials, error) {
	var fin models.StoreFinancials
	if err := r.DB(ctx).First(&fin, "store_id = ?", storeID).Error; err != nil {
		return nil, err
	}
	return &fin, nil
}

// DebitBalance atomically decrements credits_balance, guarded so the balance
// never drops below -overdraft_limit even under concurrent commits. Returns
// false when the guard rejected the debit.
func (r *repository) DebitBalance(ctx context.Context, storeID uuid.UUID, amount int) (bool, error) {
	result := r.DB(ctx).
		Model(&models.StoreFinancials{}).
		Where("store_id = ? AND credits_balance + overdraft_limit >= ?", storeID, amount).
		UpdateColumn("credits_balance", gorm.Expr("credits_balance - ?", amount))
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) CreateReservation(ctx context.Context, reservation *models.CreditReservation) error {
	return r.DB(ctx).Create(reservation).Error
}

func (r *repository) FindReservation(ctx context.Context, storeID, id uuid.UUID) (*models.CreditReservation, error) {
	var reservation models.CreditReservation
	if err := r.DB(ctx).
		First(&reservation, "id = ? AND store_id = ?", id, storeID).Error; err != nil {
		return nil, err
	}
	return &reservation, nil
}

// TransitionReservation moves a reservation between statuses with a guard on
// the current status, so exactly one terminal transition ever succeeds.
func (r *repository) TransitionReservation(ctx context.Context, id uuid.UUID, from, to enums.ReservationStatus) (bool, error) {
	result := r.DB(ctx).
		Model(&models.CreditReservation{}).
		Where("id = ? AND status = ?", id, from).
		UpdateColumn("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

func (r *repository) DeleteExpiredReservations(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	if limit <= 0 {
		limit = 100
	}
	var ids []uuid.UUID
	if err := r.DB(ctx).
		Model(&models.CreditReservation{}).
		Where("status = ? AND expires_at < ?", enums.ReservationStatusReserved, cutoff).
		Limit(limit).
		Pluck("id", &ids).Error; err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	result := r.DB(ctx).
		Where("id IN ?", ids).
		Delete(&models.CreditReservation{})
	return result.RowsAffected, result.Error
}
