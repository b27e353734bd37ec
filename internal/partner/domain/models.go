package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Premium feature keys stored on the partner record. The set is a
// projection of the partner's subscription status and manual grants.
const (
	FeatureCreateCoupons     = "create_coupons"
	FeatureUnlimitedProducts = "unlimited_products"
	FeatureProductPromotions = "product_promotions"
	FeatureReducedFee        = "reduced_fee"
	FeatureAdvancedReports   = "advanced_reports"
)

// PremiumFeatureSet returns the full feature map with every flag set to enabled.
func PremiumFeatureSet(enabled bool) datatypes.JSONMap {
	return datatypes.JSONMap{
		FeatureCreateCoupons:     enabled,
		FeatureUnlimitedProducts: enabled,
		FeatureProductPromotions: enabled,
		FeatureReducedFee:        enabled,
		FeatureAdvancedReports:   enabled,
	}
}

// Partner is a platform partner (store owner) subject to billing.
type Partner struct {
	ID                    snowflake.ID      `gorm:"primaryKey" json:"id"`
	Name                  string            `gorm:"type:text;not null" json:"name"`
	Email                 string            `gorm:"type:text;not null;index" json:"email"`
	Document              string            `gorm:"type:text" json:"document"`
	GatewayCustomerID     string            `gorm:"type:text" json:"-"`
	IsPremium             bool              `gorm:"not null;default:false" json:"is_premium"`
	PremiumFeatures       datatypes.JSONMap `gorm:"type:jsonb;not null;default:'{}'" json:"premium_features"`
	PremiumActivatedAt    *time.Time        `json:"premium_activated_at,omitempty"`
	PremiumValidUntil     *time.Time        `json:"premium_valid_until,omitempty"`
	SubscriptionID        *snowflake.ID     `gorm:"index" json:"subscription_id,omitempty"`
	SubscriptionCancelled bool              `gorm:"not null;default:false" json:"subscription_cancelled"`
	CancellationDate      *time.Time        `json:"cancellation_date,omitempty"`
	CreatedAt             time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt             time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Partner) TableName() string { return "partners" }
