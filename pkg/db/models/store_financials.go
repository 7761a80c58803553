package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/showroomhq/showroom-backend/pkg/enums"
)

// StoreFinancials holds the per-store credit balance the ledger spends
// against. Rows are provisioned out-of-band by account setup; this service
// only reads them and decrements credits_balance on reservation commit.
type StoreFinancials struct {
	StoreID        uuid.UUID           `gorm:"column:store_id;type:uuid;primaryKey"`
	CreditsBalance int                 `gorm:"column:credits_balance;not null;default:0"`
	OverdraftLimit int                 `gorm:"column:overdraft_limit;not null;default:0"`
	PlanTier       enums.PlanTier      `gorm:"column:plan_tier;type:plan_tier;not null;default:'starter'"`
	BillingStatus  enums.BillingStatus `gorm:"column:billing_status;type:billing_status;not null;default:'active'"`
	SandboxMode    bool                `gorm:"column:sandbox_mode;not null;default:false"`
	CreatedAt      time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName overrides the default pluralization.
func (StoreFinancials) TableName() string {
	return "store_financials"
}

// Available returns the spendable headroom including overdraft.
func (f StoreFinancials) Available() int {
	return f.CreditsBalance + f.OverdraftLimit
}
