package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/showroomhq/showroom-backend/pkg/enums"
)

// ReservationTTL is how long a reservation stays committable.
const ReservationTTL = 24 * time.Hour

// CreditReservation is a provisional, reversible hold against a store's
// credit balance. The balance itself is untouched until the reservation is
// confirmed.
type CreditReservation struct {
	ID        uuid.UUID               `gorm:"column:id;type:uuid;primaryKey"`
	StoreID   uuid.UUID               `gorm:"column:store_id;type:uuid;not null;index"`
	Status    enums.ReservationStatus `gorm:"column:status;type:reservation_status;not null;default:'reserved'"`
	Amount    int                     `gorm:"column:amount;not null;default:1"`
	CreatedAt time.Time               `gorm:"column:created_at;autoCreateTime"`
	ExpiresAt time.Time               `gorm:"column:expires_at;not null"`
}

// Expired reports whether the reservation can no longer be committed.
func (r CreditReservation) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}
