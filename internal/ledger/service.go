package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/showroomhq/showroom-backend/pkg/config"
	"github.com/showroomhq/showroom-backend/pkg/db"
	"github.com/showroomhq/showroom-backend/pkg/db/models"
	"github.com/showroomhq/showroom-backend/pkg/enums"
	pkgerrors "github.com/showroomhq/showroom-backend/pkg/errors"
	"github.com/showroomhq/showroom-backend/pkg/metrics"
)

// SandboxPrefix tags synthetic reservations that never touched the ledger.
const SandboxPrefix = "sandbox-"

// IsSandboxID reports whether a reservation id is a sandbox passthrough.
func IsSandboxID(id string) bool {
	return strings.HasPrefix(id, SandboxPrefix)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Reservation is the caller-facing view of a credit hold. Sandbox
// reservations carry a tagged id and no backing row.
type Reservation struct {
	ID        string
	StoreID   uuid.UUID
	Amount    int
	Sandbox   bool
	ExpiresAt time.Time
}

// Service owns reserve/commit/rollback over store credit balances.
type Service interface {
	Reserve(ctx context.Context, storeID uuid.UUID) (*Reservation, error)
	Commit(ctx context.Context, storeID uuid.UUID, reservationID string) error
	Rollback(ctx context.Context, storeID uuid.UUID, reservationID string) error
}

// ServiceParams groups dependencies for the ledger service.
type ServiceParams struct {
	TX      txRunner
	Repo    Repository
	Config  config.LedgerConfig
	Metrics *metrics.LedgerMetrics
	Now     func() time.Time
}

type service struct {
	tx      txRunner
	repo    Repository
	cfg     config.LedgerConfig
	metrics *metrics.LedgerMetrics
	now     func() time.Time
}

// NewService wires a ledger service with the provided repository.
func NewService(params ServiceParams) (Service, error) {
	if params.TX == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		tx:      params.TX,
		repo:    params.Repo,
		cfg:     params.Config,
		metrics: params.Metrics,
		now:     now,
	}, nil
}

// Reserve places a provisional hold of one credit. The balance itself is not
// decremented here; that happens on Commit, once value was delivered.
func (s *service) Reserve(ctx context.Context, storeID uuid.UUID) (*Reservation, error) {
	if storeID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "store id is required")
	}

	var reservation *Reservation
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		fin, err := repo.FindFinancials(ctx, storeID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				if !s.cfg.SandboxFallback {
					return pkgerrors.New(pkgerrors.CodeNotFound, "store financials not found")
				}
				reservation = s.sandboxReservation(storeID)
				return nil
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading store financials")
		}

		if fin.SandboxMode {
			reservation = s.sandboxReservation(storeID)
			return nil
		}
		if !fin.BillingStatus.IsValid() {
			if !s.cfg.SandboxFallback {
				return pkgerrors.New(pkgerrors.CodeInternal, "store financials misconfigured")
			}
			reservation = s.sandboxReservation(storeID)
			return nil
		}
		if fin.BillingStatus == enums.BillingStatusFrozen {
			return pkgerrors.New(pkgerrors.CodeBillingFrozen, "billing is frozen for this store")
		}
		if fin.Available() <= 0 {
			return pkgerrors.New(pkgerrors.CodePaymentRequired, "insufficient credits").
				WithDetails(map[string]any{"credits_balance": fin.CreditsBalance})
		}

		now := s.now()
		row := &models.CreditReservation{
			ID:        uuid.New(),
			StoreID:   storeID,
			Status:    enums.ReservationStatusReserved,
			Amount:    1,
			CreatedAt: now,
			ExpiresAt: now.Add(models.ReservationTTL),
		}
		if err := repo.CreateReservation(ctx, row); err != nil {
			if db.IsUniqueViolation(err, "") {
				return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "reservation already exists")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating reservation")
		}
		reservation = &Reservation{
			ID:        row.ID.String(),
			StoreID:   storeID,
			Amount:    row.Amount,
			ExpiresAt: row.ExpiresAt,
		}
		return nil
	})
	if err != nil {
		s.metrics.IncReserve("rejected")
		return nil, err
	}
	if reservation.Sandbox {
		s.metrics.IncReserve("sandbox")
	} else {
		s.metrics.IncReserve("reserved")
	}
	return reservation, nil
}

// Commit debits the store balance and confirms the reservation. The status
// guard makes the debit exactly-once: a second commit on the same
// reservation is rejected, not re-debited.
func (s *service) Commit(ctx context.Context, storeID uuid.UUID, reservationID string) error {
	if IsSandboxID(reservationID) {
		s.metrics.IncCommit("sandbox")
		return nil
	}
	id, err := parseReservationID(reservationID)
	if err != nil {
		return err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		row, err := repo.FindReservation(ctx, storeID, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading reservation")
		}
		if row.Status != enums.ReservationStatusReserved {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "reservation already terminal").
				WithDetails(map[string]any{"status": row.Status.String()})
		}
		if row.Expired(s.now()) {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "reservation expired")
		}

		// Concurrent commits may have drained the balance since reserve time;
		// the guarded debit fails rather than overdrawing past the limit.
		debited, err := repo.DebitBalance(ctx, storeID, row.Amount)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "debiting balance")
		}
		if !debited {
			return pkgerrors.New(pkgerrors.CodePaymentRequired, "insufficient credits at commit time")
		}

		moved, err := repo.TransitionReservation(ctx, id, enums.ReservationStatusReserved, enums.ReservationStatusConfirmed)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "confirming reservation")
		}
		if !moved {
			return pkgerrors.New(pkgerrors.CodeStateConflict, "reservation changed concurrently")
		}
		return nil
	})
	if err != nil {
		s.metrics.IncCommit("rejected")
		return err
	}
	s.metrics.IncCommit("confirmed")
	return nil
}

// Rollback cancels a reservation without any balance effect. Cancelling an
// already-cancelled reservation succeeds; undoing a confirmed one does not.
func (s *service) Rollback(ctx context.Context, storeID uuid.UUID, reservationID string) error {
	if IsSandboxID(reservationID) {
		s.metrics.IncRollback("sandbox")
		return nil
	}
	id, err := parseReservationID(reservationID)
	if err != nil {
		return err
	}

	err = s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)

		row, err := repo.FindReservation(ctx, storeID, id)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return pkgerrors.New(pkgerrors.CodeNotFound, "reservation not found")
			}
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "loading reservation")
		}
		switch row.Status {
		case enums.ReservationStatusConfirmed:
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cannot roll back a confirmed reservation")
		case enums.ReservationStatusCancelled:
			return nil
		}

		moved, err := repo.TransitionReservation(ctx, id, enums.ReservationStatusReserved, enums.ReservationStatusCancelled)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "cancelling reservation")
		}
		if !moved {
			// Lost a race with another terminal transition; re-read to decide.
			current, rerr := repo.FindReservation(ctx, storeID, id)
			if rerr != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, rerr, "re-reading reservation")
			}
			if current.Status == enums.ReservationStatusCancelled {
				return nil
			}
			return pkgerrors.New(pkgerrors.CodeStateConflict, "cannot roll back a confirmed reservation")
		}
		return nil
	})
	if err != nil {
		s.metrics.IncRollback("rejected")
		return err
	}
	s.metrics.IncRollback("cancelled")
	return nil
}

func (s *service) sandboxReservation(storeID uuid.UUID) *Reservation {
	return &Reservation{
		ID:      SandboxPrefix + uuid.NewString(),
		StoreID: storeID,
		Amount:  1,
		Sandbox: true,
	}
}

func parseReservationID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid reservation id")
	}
	return id, nil
}
