package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// Fee is the platform's commission recorded against one completed order.
// All monetary values are in centavos. FeePercentage is in basis points.
//
// A fee stays immutable once settled: Settled flips to true exactly once,
// atomically with the invoice that covers it. Settled and InvoiceID must
// agree; the repair pass only ever moves a row toward that invariant.
type Fee struct {
	ID               snowflake.ID  `gorm:"primaryKey" json:"id"`
	PartnerID        snowflake.ID  `gorm:"not null;index:idx_app_fees_partner_settled,priority:1" json:"partner_id"`
	OrderID          string        `gorm:"type:text;not null;uniqueIndex:ux_app_fees_order" json:"order_id"`
	StoreID          string        `gorm:"type:text;not null" json:"store_id"`
	CustomerID       string        `gorm:"type:text;not null" json:"customer_id"`
	PaymentMethod    string        `gorm:"type:text" json:"payment_method"`
	OrderBaseValue   int64         `gorm:"not null" json:"order_base_value"`
	OrderTotalPrice  int64         `gorm:"not null" json:"order_total_price"`
	OrderDeliveryFee int64         `gorm:"not null;default:0" json:"order_delivery_fee"`
	OrderCardFee     int64         `gorm:"not null;default:0" json:"order_card_fee"`
	FeePercentage    int64         `gorm:"not null" json:"fee_percentage"`
	FeeValue         int64         `gorm:"not null" json:"fee_value"`
	IsPremiumRate    bool          `gorm:"not null;default:false" json:"is_premium_rate"`
	Settled          bool          `gorm:"not null;default:false;index:idx_app_fees_partner_settled,priority:2" json:"settled"`
	InvoiceID        *snowflake.ID `gorm:"index" json:"invoice_id,omitempty"`
	OrderDate        time.Time     `gorm:"not null;index" json:"order_date"`
	CompletedAt      time.Time     `gorm:"not null" json:"completed_at"`
	CreatedAt        time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt        time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Fee) TableName() string { return "app_fees" }

// Summary aggregates a partner's fee ledger over a period.
type Summary struct {
	PartnerID        snowflake.ID `json:"partner_id"`
	TotalFees        int64        `json:"total_fees"`
	TotalFeeValue    int64        `json:"total_fee_value"`
	TotalOrderValue  int64        `json:"total_order_value"`
	UnsettledCount   int64        `json:"unsettled_count"`
	UnsettledValue   int64        `json:"unsettled_value"`
	AvgFeePercentage int64        `json:"avg_fee_percentage"`
}
