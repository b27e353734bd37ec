package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// Payment records one gateway charge attempt (subscription card charges
// and invoice instruments alike). Amount in centavos.
type Payment struct {
	ID               snowflake.ID  `gorm:"primaryKey" json:"id"`
	PartnerID        snowflake.ID  `gorm:"not null;index" json:"partner_id"`
	PlanID           *snowflake.ID `gorm:"index" json:"plan_id,omitempty"`
	InvoiceID        *snowflake.ID `gorm:"index" json:"invoice_id,omitempty"`
	GatewayPaymentID string        `gorm:"type:text;not null;index" json:"gateway_payment_id"`
	Amount           int64         `gorm:"not null" json:"amount"`
	Status           string        `gorm:"type:text;not null" json:"status"`
	Description      string        `gorm:"type:text" json:"description"`
	IsRenewal        bool          `gorm:"not null;default:false" json:"is_renewal"`
	CreatedAt        time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TableName sets the database table name.
func (Payment) TableName() string { return "payments" }

// PaymentEvent is the webhook idempotency ledger. The unique provider
// event id makes redelivered events no-ops.
type PaymentEvent struct {
	ID              snowflake.ID   `gorm:"primaryKey" json:"id"`
	Provider        string         `gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:1" json:"provider"`
	ProviderEventID string         `gorm:"type:text;not null;uniqueIndex:ux_payment_events_provider_event,priority:2" json:"provider_event_id"`
	EventType       string         `gorm:"type:text;not null" json:"event_type"`
	Payload         datatypes.JSON `gorm:"type:jsonb" json:"payload"`
	Outcome         string         `gorm:"type:text" json:"outcome"`
	ReceivedAt      time.Time      `gorm:"not null" json:"received_at"`
	ProcessedAt     *time.Time     `json:"processed_at,omitempty"`
}

// TableName sets the database table name.
func (PaymentEvent) TableName() string { return "payment_events" }
