package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
)

// CreditStatus tracks a credit's lifecycle.
type CreditStatus string

const (
	CreditStatusPending CreditStatus = "pending"
	CreditStatusApplied CreditStatus = "applied"
	CreditStatusExpired CreditStatus = "expired"
)

// Credit is a partner-scoped, coupon-derived monetary credit in centavos.
//
// A pending credit always has Value > 0. Once applied it is immutable.
// Partial consumption splits the credit: the consumed row is rewritten to
// the applied amount, and a new pending row holds the leftover carrying
// the original CreatedAt so FIFO ordering is preserved.
type Credit struct {
	ID            snowflake.ID  `gorm:"primaryKey" json:"id"`
	PartnerID     snowflake.ID  `gorm:"not null;index:idx_credits_partner_status,priority:1" json:"partner_id"`
	OrderID       string        `gorm:"type:text" json:"order_id"`
	StoreID       string        `gorm:"type:text" json:"store_id"`
	CouponCode    string        `gorm:"type:text;not null" json:"coupon_code"`
	CouponIsGlobal bool         `gorm:"not null;default:false" json:"coupon_is_global"`
	Value         int64         `gorm:"not null" json:"value"`
	Status        CreditStatus  `gorm:"type:text;not null;default:'pending';index:idx_credits_partner_status,priority:2" json:"status"`
	AppliedAt     *time.Time    `json:"applied_at,omitempty"`
	InvoiceID     *snowflake.ID `gorm:"index" json:"invoice_id,omitempty"`
	CreatedAt     time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP;index" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"not null;default:CURRENT_TIMESTAMP" json:"updated_at"`
}

// TableName sets the database table name.
func (Credit) TableName() string { return "credits" }

// AppliedCredit records one credit's contribution to an invoice.
type AppliedCredit struct {
	CreditID      snowflake.ID `json:"credit_id"`
	CouponCode    string       `json:"coupon_code"`
	OriginalValue int64        `json:"original_value"`
	AppliedValue  int64        `json:"applied_value"`
}

// ApplyResult is the outcome of applying a partner's credits to an amount.
// AppliedAmount + RemainingAmount always equals the requested amount.
type ApplyResult struct {
	AppliedAmount   int64           `json:"applied_amount"`
	RemainingAmount int64           `json:"remaining_amount"`
	AppliedCredits  []AppliedCredit `json:"applied_credits"`
}

// Summary aggregates a partner's credit balance.
type Summary struct {
	PartnerID    snowflake.ID `json:"partner_id"`
	PendingCount int64        `json:"pending_count"`
	PendingValue int64        `json:"pending_value"`
	AppliedValue int64        `json:"applied_value"`
}
