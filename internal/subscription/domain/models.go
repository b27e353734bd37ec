package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// SubscriptionStatus is the local lifecycle state of a recurring card
// subscription.
type SubscriptionStatus string

const (
	SubscriptionStatusActive    SubscriptionStatus = "active"
	SubscriptionStatusPaused    SubscriptionStatus = "paused"
	SubscriptionStatusCancelled SubscriptionStatus = "cancelled"
	SubscriptionStatusFailed    SubscriptionStatus = "failed"
	SubscriptionStatusExpired   SubscriptionStatus = "expired"
)

// Subscription is one partner's recurring card subscription. At most one
// row per partner is in a non-terminal state. Amount in centavos.
//
// FailureCount counts consecutive non-approved payment events since the
// last approval; it resets to zero on any approved event.
type Subscription struct {
	ID                    snowflake.ID       `gorm:"primaryKey" json:"id"`
	PartnerID             snowflake.ID       `gorm:"not null;index" json:"partner_id"`
	PlanID                snowflake.ID       `gorm:"not null" json:"plan_id"`
	GatewayCustomerID     string             `gorm:"type:text" json:"-"`
	GatewaySubscriptionID string             `gorm:"type:text;index" json:"-"`
	CardID                string             `gorm:"type:text" json:"-"`
	Status                SubscriptionStatus `gorm:"type:text;not null;index" json:"status"`
	Amount                int64              `gorm:"not null" json:"amount"`
	Currency              string             `gorm:"type:text;not null;default:'BRL'" json:"currency"`
	Frequency             int                `gorm:"not null;default:1" json:"frequency"`
	FrequencyType         string             `gorm:"type:text;not null;default:'months'" json:"frequency_type"`
	NextPaymentDate       *time.Time         `json:"next_payment_date,omitempty"`
	FailureCount          int                `gorm:"not null;default:0" json:"failure_count"`
	LastPaymentDate       *time.Time         `json:"last_payment_date,omitempty"`
	CancelledAt           *time.Time         `json:"cancelled_at,omitempty"`
	CreatedAt             time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt             time.Time          `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Subscription) TableName() string { return "subscriptions" }
