package service

import (
	"context"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/pedifacil/billing/internal/clock"
	creditdomain "github.com/pedifacil/billing/internal/credit/domain"
	"github.com/pedifacil/billing/pkg/db/option"
	"github.com/pedifacil/billing/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Store repository.Repository[creditdomain.Credit]
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	store repository.Repository[creditdomain.Credit]
}

func NewService(p Params) creditdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("credit.service"),
		genID: p.GenID,
		clock: p.Clock,
		store: p.Store,
	}
}

func (s *Service) Create(ctx context.Context, req creditdomain.CreateCreditRequest) (*creditdomain.Credit, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", creditdomain.ErrValidation, err)
	}

	now := s.clock.Now()
	credit := creditdomain.Credit{
		ID:             s.genID.Generate(),
		PartnerID:      req.PartnerID,
		OrderID:        req.OrderID,
		StoreID:        req.StoreID,
		CouponCode:     req.CouponCode,
		CouponIsGlobal: req.CouponIsGlobal,
		Value:          req.Value,
		Status:         creditdomain.CreditStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.Create(ctx, &credit); err != nil {
		return nil, err
	}

	s.log.Info("credit.created",
		zap.String("credit_id", credit.ID.String()),
		zap.String("partner_id", credit.PartnerID.String()),
		zap.String("coupon_code", credit.CouponCode),
		zap.Int64("value", credit.Value),
	)
	return &credit, nil
}

func (s *Service) GetAvailableCredits(ctx context.Context, partnerID snowflake.ID) ([]*creditdomain.Credit, error) {
	return s.store.Find(ctx,
		&creditdomain.Credit{PartnerID: partnerID, Status: creditdomain.CreditStatusPending},
		option.WithOrderBy("created_at ASC, id ASC"),
	)
}

func (s *Service) Summary(ctx context.Context, partnerID snowflake.ID) (*creditdomain.Summary, error) {
	var row struct {
		PendingCount int64
		PendingValue int64
		AppliedValue int64
	}
	err := s.db.WithContext(ctx).Raw(
		`SELECT COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0) AS pending_count,
		        COALESCE(SUM(CASE WHEN status = ? THEN value ELSE 0 END), 0) AS pending_value,
		        COALESCE(SUM(CASE WHEN status = ? THEN value ELSE 0 END), 0) AS applied_value
		 FROM credits
		 WHERE partner_id = ?`,
		creditdomain.CreditStatusPending,
		creditdomain.CreditStatusPending,
		creditdomain.CreditStatusApplied,
		partnerID,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}
	return &creditdomain.Summary{
		PartnerID:    partnerID,
		PendingCount: row.PendingCount,
		PendingValue: row.PendingValue,
		AppliedValue: row.AppliedValue,
	}, nil
}

// ApplyToInvoice walks pending credits oldest-first. Full consumption marks
// the row applied; partial consumption rewrites the row to the consumed
// amount and inserts a new pending row for the leftover, keeping the
// original CreatedAt so the remainder does not lose its place in the queue.
func (s *Service) ApplyToInvoice(ctx context.Context, tx *gorm.DB, partnerID, invoiceID snowflake.ID, amount int64) (*creditdomain.ApplyResult, error) {
	if amount < 0 {
		return nil, creditdomain.ErrInvalidAmount
	}

	run := func(tx *gorm.DB) (*creditdomain.ApplyResult, error) {
		return s.applyLocked(ctx, tx, partnerID, invoiceID, amount)
	}

	if tx != nil {
		return run(tx)
	}

	var result *creditdomain.ApplyResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = run(tx)
		return err
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Service) applyLocked(ctx context.Context, tx *gorm.DB, partnerID, invoiceID snowflake.ID, amount int64) (*creditdomain.ApplyResult, error) {
	result := &creditdomain.ApplyResult{
		RemainingAmount: amount,
		AppliedCredits:  []creditdomain.AppliedCredit{},
	}
	if amount == 0 {
		return result, nil
	}

	var credits []creditdomain.Credit
	err := tx.WithContext(ctx).
		Where("partner_id = ? AND status = ?", partnerID, creditdomain.CreditStatusPending).
		Order("created_at ASC, id ASC").
		Find(&credits).Error
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	for i := range credits {
		if result.RemainingAmount == 0 {
			break
		}
		credit := &credits[i]

		consumed := credit.Value
		if consumed > result.RemainingAmount {
			consumed = result.RemainingAmount
		}
		leftover := credit.Value - consumed

		updates := map[string]any{
			"status":     creditdomain.CreditStatusApplied,
			"value":      consumed,
			"applied_at": now,
			"invoice_id": invoiceID,
			"updated_at": now,
		}
		res := tx.WithContext(ctx).
			Model(&creditdomain.Credit{}).
			Where("id = ? AND status = ?", credit.ID, creditdomain.CreditStatusPending).
			Updates(updates)
		if res.Error != nil {
			return nil, res.Error
		}
		if res.RowsAffected == 0 {
			// A concurrent write consumed or expired this credit after the
			// read above. Leave it out of the result and move on.
			continue
		}

		if leftover > 0 {
			remainder := creditdomain.Credit{
				ID:             s.genID.Generate(),
				PartnerID:      credit.PartnerID,
				OrderID:        credit.OrderID,
				StoreID:        credit.StoreID,
				CouponCode:     credit.CouponCode,
				CouponIsGlobal: credit.CouponIsGlobal,
				Value:          leftover,
				Status:         creditdomain.CreditStatusPending,
				CreatedAt:      credit.CreatedAt,
				UpdatedAt:      now,
			}
			if err := tx.WithContext(ctx).Create(&remainder).Error; err != nil {
				return nil, err
			}
		}

		result.AppliedAmount += consumed
		result.RemainingAmount -= consumed
		result.AppliedCredits = append(result.AppliedCredits, creditdomain.AppliedCredit{
			CreditID:      credit.ID,
			CouponCode:    credit.CouponCode,
			OriginalValue: credit.Value,
			AppliedValue:  consumed,
		})
	}

	if result.AppliedAmount > 0 {
		s.log.Info("credit.applied",
			zap.String("partner_id", partnerID.String()),
			zap.String("invoice_id", invoiceID.String()),
			zap.Int64("applied_amount", result.AppliedAmount),
			zap.Int("credits_used", len(result.AppliedCredits)),
		)
	}
	return result, nil
}
