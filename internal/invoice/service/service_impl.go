package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pedifacil/billing/internal/clock"
	"github.com/pedifacil/billing/internal/config"
	creditdomain "github.com/pedifacil/billing/internal/credit/domain"
	feedomain "github.com/pedifacil/billing/internal/fee/domain"
	invoicedomain "github.com/pedifacil/billing/internal/invoice/domain"
	obsmetrics "github.com/pedifacil/billing/internal/observability/metrics"
	partnerdomain "github.com/pedifacil/billing/internal/partner/domain"
	"github.com/pedifacil/billing/internal/scheduler/guard"
	"github.com/pedifacil/billing/pkg/db/option"
	"github.com/pedifacil/billing/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB         *gorm.DB
	Log        *zap.Logger
	GenID      *snowflake.Node
	Clock      clock.Clock
	BillingCfg *config.BillingConfigHolder
	CreditSvc  creditdomain.Service
	Store      repository.Repository[invoicedomain.Invoice]
}

type Service struct {
	db         *gorm.DB
	log        *zap.Logger
	genID      *snowflake.Node
	clock      clock.Clock
	billingCfg *config.BillingConfigHolder
	creditSvc  creditdomain.Service
	store      repository.Repository[invoicedomain.Invoice]
}

func NewService(p Params) invoicedomain.Service {
	return &Service{
		db:         p.DB,
		log:        p.Log.Named("invoice.service"),
		genID:      p.GenID,
		clock:      p.Clock,
		billingCfg: p.BillingCfg,
		creditSvc:  p.CreditSvc,
		store:      p.Store,
	}
}

// GenerateForPartner runs one partner's billing cycle as a single
// transaction: invoice creation, credit application, and fee settlement
// commit together or not at all. A failure here never leaves fees pointing
// at an invoice that was not written.
func (s *Service) GenerateForPartner(ctx context.Context, partnerID snowflake.ID) (*invoicedomain.Invoice, error) {
	policy := s.billingCfg.Get()
	now := s.clock.Now()

	var invoice *invoicedomain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		invoice, err = s.generateLocked(ctx, tx, partnerID, now, policy)
		return err
	})
	if err != nil {
		return nil, err
	}

	obsmetrics.Billing().IncInvoiceGenerated(invoice.TotalAmount, invoice.AppliedCreditsAmount)
	s.log.Info("invoice.generated",
		zap.String("invoice_id", invoice.ID.String()),
		zap.String("partner_id", partnerID.String()),
		zap.Int64("total_amount", invoice.TotalAmount),
		zap.Int64("applied_credits", invoice.AppliedCreditsAmount),
		zap.Int("fee_count", len(invoice.Details)),
	)
	return invoice, nil
}

func (s *Service) generateLocked(ctx context.Context, tx *gorm.DB, partnerID snowflake.ID, now time.Time, policy config.BillingConfig) (*invoicedomain.Invoice, error) {
	var earliest feedomain.Fee
	err := tx.WithContext(ctx).
		Where("partner_id = ? AND settled = ? AND invoice_id IS NULL", partnerID, false).
		Order("order_date ASC").
		First(&earliest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, invoicedomain.ErrNothingToInvoice
	}
	if err != nil {
		return nil, err
	}

	// Reference date: the most recent invoice's creation time, or the
	// earliest unsettled fee's order date for a first-time partner.
	referenceDate := earliest.OrderDate
	var latest invoicedomain.Invoice
	err = tx.WithContext(ctx).
		Where("partner_id = ?", partnerID).
		Order("created_at DESC").
		First(&latest).Error
	if err == nil {
		referenceDate = latest.CreatedAt
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	cycle := guard.CycleLength{Days: policy.CycleLengthDays}
	if err := guard.EnsurePartnerEligibleForInvoice(referenceDate, now, cycle); err != nil {
		return nil, invoicedomain.ErrCycleNotElapsed
	}

	var fees []feedomain.Fee
	err = tx.WithContext(ctx).
		Where("partner_id = ? AND settled = ? AND invoice_id IS NULL AND order_date >= ?",
			partnerID, false, referenceDate).
		Order("order_date ASC, id ASC").
		Find(&fees).Error
	if err != nil {
		return nil, err
	}
	if len(fees) == 0 {
		return nil, invoicedomain.ErrNothingToInvoice
	}

	var originalAmount int64
	details := make([]invoicedomain.Detail, 0, len(fees))
	feeIDs := make([]snowflake.ID, 0, len(fees))
	for _, fee := range fees {
		originalAmount += fee.FeeValue
		details = append(details, invoicedomain.Detail{
			FeeID:   fee.ID,
			OrderID: fee.OrderID,
			Value:   fee.FeeValue,
		})
		feeIDs = append(feeIDs, fee.ID)
	}

	var partner partnerdomain.Partner
	if err := tx.WithContext(ctx).First(&partner, "id = ?", partnerID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, partnerdomain.ErrPartnerNotFound
		}
		return nil, err
	}

	invoiceID := s.genID.Generate()
	applied, err := s.creditSvc.ApplyToInvoice(ctx, tx, partnerID, invoiceID, originalAmount)
	if err != nil {
		return nil, err
	}

	invoice := invoicedomain.Invoice{
		ID:                   invoiceID,
		PartnerID:            partnerID,
		ReferenceDate:        referenceDate,
		DueDate:              now.Add(time.Duration(policy.DueDays) * 24 * time.Hour),
		TotalAmount:          originalAmount - applied.AppliedAmount,
		OriginalAmount:       originalAmount,
		AppliedCreditsAmount: applied.AppliedAmount,
		AppliedCredits:       datatypes.NewJSONSlice(applied.AppliedCredits),
		Details:              datatypes.NewJSONSlice(details),
		PartnerName:          partner.Name,
		PartnerEmail:         partner.Email,
		PartnerDocument:      partner.Document,
		PaymentStatus:        invoicedomain.PaymentStatusPending,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := tx.WithContext(ctx).Create(&invoice).Error; err != nil {
		return nil, err
	}

	result := tx.WithContext(ctx).
		Model(&feedomain.Fee{}).
		Where("id IN ? AND settled = ? AND invoice_id IS NULL", feeIDs, false).
		Updates(map[string]any{
			"settled":    true,
			"invoice_id": invoiceID,
			"updated_at": now,
		})
	if result.Error != nil {
		return nil, result.Error
	}
	if result.RowsAffected != int64(len(feeIDs)) {
		// Another writer settled one of the fees mid-flight. Roll the
		// whole partner back rather than double-bill.
		return nil, fmt.Errorf("settled %d of %d fees for partner %s", result.RowsAffected, len(feeIDs), partnerID)
	}

	return &invoice, nil
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*invoicedomain.Invoice, error) {
	invoice, err := s.store.FindOne(ctx, &invoicedomain.Invoice{ID: id})
	if err != nil {
		return nil, err
	}
	if invoice == nil {
		return nil, invoicedomain.ErrInvoiceNotFound
	}
	return invoice, nil
}

func (s *Service) List(ctx context.Context, req invoicedomain.ListInvoicesRequest) ([]*invoicedomain.Invoice, error) {
	query := invoicedomain.Invoice{PartnerID: req.PartnerID}
	opts := []option.QueryOption{option.WithOrderBy("created_at DESC")}
	if req.Status != "" {
		query.PaymentStatus = req.Status
	}
	if req.Limit > 0 {
		opts = append(opts, option.WithLimit(req.Limit))
	}
	return s.store.Find(ctx, &query, opts...)
}

func (s *Service) ListUnpaid(ctx context.Context, partnerID snowflake.ID) ([]*invoicedomain.Invoice, error) {
	return s.store.Find(ctx,
		&invoicedomain.Invoice{PartnerID: partnerID, PaymentStatus: invoicedomain.PaymentStatusPending},
		option.WithOrderBy("due_date ASC"),
	)
}

func (s *Service) AttachPayment(ctx context.Context, id snowflake.ID, paymentID string, method invoicedomain.PaymentMethod, data invoicedomain.PaymentData) error {
	invoice, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if invoice.PaymentStatus == invoicedomain.PaymentStatusPaid {
		return invoicedomain.ErrInvoiceAlreadyPaid
	}

	return s.store.Update(ctx, id.String(), map[string]any{
		"payment_id":     paymentID,
		"payment_method": method,
		"payment_data":   datatypes.NewJSONType(data),
		"updated_at":     s.clock.Now(),
	})
}

func (s *Service) MarkPaid(ctx context.Context, id snowflake.ID, paidAt time.Time) error {
	result := s.db.WithContext(ctx).
		Model(&invoicedomain.Invoice{}).
		Where("id = ? AND payment_status = ?", id, invoicedomain.PaymentStatusPending).
		Updates(map[string]any{
			"payment_status": invoicedomain.PaymentStatusPaid,
			"paid_at":        paidAt,
			"updated_at":     s.clock.Now(),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		invoice, err := s.Get(ctx, id)
		if err != nil {
			return err
		}
		if invoice.PaymentStatus == invoicedomain.PaymentStatusPaid {
			return invoicedomain.ErrInvoiceAlreadyPaid
		}
		return invoicedomain.ErrInvoiceNotFound
	}

	s.log.Info("invoice.paid",
		zap.String("invoice_id", id.String()),
		zap.Time("paid_at", paidAt),
	)
	return nil
}
