package domain

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrValidation     = errors.New("credit_validation_failed")
	ErrCreditNotFound = errors.New("credit_not_found")
	ErrInvalidAmount  = errors.New("credit_invalid_amount")
)

// CreateCreditRequest grants a coupon-derived credit to a partner.
type CreateCreditRequest struct {
	PartnerID      snowflake.ID `json:"partner_id" validate:"required"`
	OrderID        string       `json:"order_id"`
	StoreID        string       `json:"store_id"`
	CouponCode     string       `json:"coupon_code" validate:"required"`
	CouponIsGlobal bool         `json:"coupon_is_global"`
	Value          int64        `json:"value" validate:"gt=0"`
}

type Service interface {
	Create(ctx context.Context, req CreateCreditRequest) (*Credit, error)
	GetAvailableCredits(ctx context.Context, partnerID snowflake.ID) ([]*Credit, error)
	Summary(ctx context.Context, partnerID snowflake.ID) (*Summary, error)

	// ApplyToInvoice consumes the partner's pending credits oldest-first
	// against amount. When tx is non-nil all mutations join the caller's
	// transaction so credit application commits atomically with the invoice.
	ApplyToInvoice(ctx context.Context, tx *gorm.DB, partnerID, invoiceID snowflake.ID, amount int64) (*ApplyResult, error)
}
