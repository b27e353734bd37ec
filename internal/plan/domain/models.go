package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	partnerdomain "github.com/pedifacil/billing/internal/partner/domain"
	"gorm.io/datatypes"
)

var ErrPlanNotFound = errors.New("plan_not_found")

// Plan is a purchasable recurring subscription tier. Price in centavos.
type Plan struct {
	ID            snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name          string            `gorm:"type:text;not null" json:"name"`
	Price         int64             `gorm:"not null" json:"price"`
	Currency      string            `gorm:"type:text;not null;default:'BRL'" json:"currency"`
	Frequency     int               `gorm:"not null;default:1" json:"frequency"`
	FrequencyType string            `gorm:"type:text;not null;default:'months'" json:"frequency_type"`
	Features      datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"features"`
	IsActive      bool              `gorm:"not null;default:true" json:"is_active"`
	CreatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt     time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "plans" }

// DefaultPlanFeatures is the premium feature set granted by the built-in plan.
func DefaultPlanFeatures() datatypes.JSONMap {
	return partnerdomain.PremiumFeatureSet(true)
}

type Service interface {
	Get(ctx context.Context, id snowflake.ID) (*Plan, error)
	ListActive(ctx context.Context) ([]*Plan, error)
}
