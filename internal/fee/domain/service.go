package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrValidation   = errors.New("fee_validation_failed")
	ErrFeeNotFound  = errors.New("fee_not_found")
	ErrFeeImmutable = errors.New("fee_already_settled")
	ErrDuplicateFee = errors.New("fee_already_recorded")
)

// CreateFeeRequest carries one completed order's platform fee.
// Amounts in centavos, percentage in basis points.
type CreateFeeRequest struct {
	PartnerID        snowflake.ID `json:"partner_id" validate:"required"`
	OrderID          string       `json:"order_id" validate:"required"`
	StoreID          string       `json:"store_id" validate:"required"`
	CustomerID       string       `json:"customer_id" validate:"required"`
	PaymentMethod    string       `json:"payment_method"`
	OrderBaseValue   int64        `json:"order_base_value" validate:"gte=0"`
	OrderTotalPrice  int64        `json:"order_total_price" validate:"gt=0"`
	OrderDeliveryFee int64        `json:"order_delivery_fee" validate:"gte=0"`
	OrderCardFee     int64        `json:"order_card_fee" validate:"gte=0"`
	FeePercentage    int64        `json:"fee_percentage" validate:"gte=0"`
	FeeValue         int64        `json:"fee_value" validate:"gt=0"`
	IsPremiumRate    *bool        `json:"is_premium_rate" validate:"required"`
	OrderDate        time.Time    `json:"order_date" validate:"required"`
	CompletedAt      time.Time    `json:"completed_at" validate:"required"`
}

// UpdateFeeRequest patches the mutable descriptive fields of an unsettled
// fee. Settlement fields are owned by the cycle generator and repair pass.
type UpdateFeeRequest struct {
	PaymentMethod *string `json:"payment_method"`
	CustomerID    *string `json:"customer_id"`
}

type Service interface {
	Create(ctx context.Context, req CreateFeeRequest) (*Fee, error)
	Update(ctx context.Context, id snowflake.ID, req UpdateFeeRequest) (*Fee, error)
	Get(ctx context.Context, id snowflake.ID) (*Fee, error)
	ListUnsettled(ctx context.Context, partnerID snowflake.ID) ([]*Fee, error)
	Summary(ctx context.Context, partnerID snowflake.ID, from, to time.Time) (*Summary, error)

	// RepairSettlementDrift heals rows where settled=false but an invoice
	// reference exists. It never flips a row the other direction and never
	// touches rows without an invoice reference. Returns the repaired count.
	RepairSettlementDrift(ctx context.Context) (int64, error)
}
