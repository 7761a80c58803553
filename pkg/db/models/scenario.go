package models

import (
	"time"

	"github.com/google/uuid"

	dbtypes "github.com/showroomhq/showroom-backend/pkg/db/types"
)

// Scenario is a tagged background setting that generation composes product
// shots into. Immutable from this service's perspective; curated out-of-band.
type Scenario struct {
	ID             uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	ImageURL       string             `gorm:"column:image_url;not null"`
	LightingPrompt string             `gorm:"column:lighting_prompt"`
	Category       string             `gorm:"column:category;not null;index"`
	Tags           dbtypes.StringList `gorm:"column:tags;type:jsonb"`
	Active         bool               `gorm:"column:active;not null;default:true"`
	CreatedAt      time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
