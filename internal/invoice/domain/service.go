package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
)

var (
	ErrInvoiceNotFound    = errors.New("invoice_not_found")
	ErrInvoiceAlreadyPaid = errors.New("invoice_already_paid")
	ErrNothingToInvoice   = errors.New("nothing_to_invoice")
	ErrCycleNotElapsed    = errors.New("billing_cycle_not_elapsed")
)

type ListInvoicesRequest struct {
	PartnerID snowflake.ID
	Status    PaymentStatus
	Limit     int
}

type Service interface {
	// GenerateForPartner runs one partner's billing cycle: it finds
	// un-invoiced fees, checks cycle eligibility, creates the invoice,
	// applies credits, and settles the fees, all in one transaction.
	// Returns ErrNothingToInvoice or ErrCycleNotElapsed when the partner
	// is skipped.
	GenerateForPartner(ctx context.Context, partnerID snowflake.ID) (*Invoice, error)

	Get(ctx context.Context, id snowflake.ID) (*Invoice, error)
	List(ctx context.Context, req ListInvoicesRequest) ([]*Invoice, error)
	ListUnpaid(ctx context.Context, partnerID snowflake.ID) ([]*Invoice, error)

	// AttachPayment stores the gateway payment instrument on a pending invoice.
	AttachPayment(ctx context.Context, id snowflake.ID, paymentID string, method PaymentMethod, data PaymentData) error

	// MarkPaid transitions pending -> paid exactly once.
	MarkPaid(ctx context.Context, id snowflake.ID, paidAt time.Time) error
}
