package service

import (
	"context"
	"fmt"

	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/pedifacil/billing/internal/clock"
	feedomain "github.com/pedifacil/billing/internal/fee/domain"
	obsmetrics "github.com/pedifacil/billing/internal/observability/metrics"
	"github.com/pedifacil/billing/pkg/db"
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
	Store repository.Repository[feedomain.Fee]
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	store repository.Repository[feedomain.Fee]
}

func NewService(p Params) feedomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("fee.service"),
		genID: p.GenID,
		clock: p.Clock,
		store: p.Store,
	}
}

func (s *Service) Create(ctx context.Context, req feedomain.CreateFeeRequest) (*feedomain.Fee, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", feedomain.ErrValidation, err)
	}

	now := s.clock.Now()
	fee := feedomain.Fee{
		ID:               s.genID.Generate(),
		PartnerID:        req.PartnerID,
		OrderID:          req.OrderID,
		StoreID:          req.StoreID,
		CustomerID:       req.CustomerID,
		PaymentMethod:    req.PaymentMethod,
		OrderBaseValue:   req.OrderBaseValue,
		OrderTotalPrice:  req.OrderTotalPrice,
		OrderDeliveryFee: req.OrderDeliveryFee,
		OrderCardFee:     req.OrderCardFee,
		FeePercentage:    req.FeePercentage,
		FeeValue:         req.FeeValue,
		IsPremiumRate:    *req.IsPremiumRate,
		OrderDate:        req.OrderDate,
		CompletedAt:      req.CompletedAt,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if err := s.store.Create(ctx, &fee); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return nil, feedomain.ErrDuplicateFee
		}
		return nil, err
	}

	s.log.Info("fee.created",
		zap.String("fee_id", fee.ID.String()),
		zap.String("partner_id", fee.PartnerID.String()),
		zap.String("order_id", fee.OrderID),
		zap.Int64("fee_value", fee.FeeValue),
	)
	return &fee, nil
}

func (s *Service) Update(ctx context.Context, id snowflake.ID, req feedomain.UpdateFeeRequest) (*feedomain.Fee, error) {
	fee, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if fee.Settled {
		return nil, feedomain.ErrFeeImmutable
	}

	updates := map[string]any{"updated_at": s.clock.Now()}
	if req.PaymentMethod != nil {
		updates["payment_method"] = *req.PaymentMethod
	}
	if req.CustomerID != nil {
		updates["customer_id"] = *req.CustomerID
	}
	if err := s.store.Update(ctx, id.String(), updates); err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*feedomain.Fee, error) {
	fee, err := s.store.FindOne(ctx, &feedomain.Fee{ID: id})
	if err != nil {
		return nil, err
	}
	if fee == nil {
		return nil, feedomain.ErrFeeNotFound
	}
	return fee, nil
}

func (s *Service) ListUnsettled(ctx context.Context, partnerID snowflake.ID) ([]*feedomain.Fee, error) {
	return s.store.Find(ctx, &feedomain.Fee{PartnerID: partnerID},
		option.ApplyOperator(option.Condition{Field: "settled", Operator: option.EQ, Value: false}),
		option.WithOrderBy("order_date ASC"),
	)
}

func (s *Service) Summary(ctx context.Context, partnerID snowflake.ID, from, to time.Time) (*feedomain.Summary, error) {
	var row struct {
		TotalFees       int64
		TotalFeeValue   int64
		TotalOrderValue int64
		UnsettledCount  int64
		UnsettledValue  int64
		WeightedBps     int64
	}
	err := s.db.WithContext(ctx).Raw(
		`SELECT COUNT(*) AS total_fees,
		        COALESCE(SUM(fee_value), 0) AS total_fee_value,
		        COALESCE(SUM(order_total_price), 0) AS total_order_value,
		        COALESCE(SUM(CASE WHEN settled THEN 0 ELSE 1 END), 0) AS unsettled_count,
		        COALESCE(SUM(CASE WHEN settled THEN 0 ELSE fee_value END), 0) AS unsettled_value,
		        COALESCE(SUM(fee_percentage * order_total_price), 0) AS weighted_bps
		 FROM app_fees
		 WHERE partner_id = ? AND order_date >= ? AND order_date < ?`,
		partnerID, from, to,
	).Scan(&row).Error
	if err != nil {
		return nil, err
	}

	summary := &feedomain.Summary{
		PartnerID:       partnerID,
		TotalFees:       row.TotalFees,
		TotalFeeValue:   row.TotalFeeValue,
		TotalOrderValue: row.TotalOrderValue,
		UnsettledCount:  row.UnsettledCount,
		UnsettledValue:  row.UnsettledValue,
	}
	if row.TotalOrderValue > 0 {
		summary.AvgFeePercentage = row.WeightedBps / row.TotalOrderValue
	}
	return summary, nil
}

func (s *Service) RepairSettlementDrift(ctx context.Context) (int64, error) {
	result := s.db.WithContext(ctx).Exec(
		`UPDATE app_fees
		 SET settled = ?, updated_at = ?
		 WHERE settled = ? AND invoice_id IS NOT NULL`,
		true, s.clock.Now(), false,
	)
	if result.Error != nil {
		return 0, result.Error
	}

	if result.RowsAffected > 0 {
		obsmetrics.Billing().AddDriftRepaired(result.RowsAffected)
		s.log.Warn("fee.settlement_drift.repaired",
			zap.Int64("fixed_fees_count", result.RowsAffected),
		)
	}
	return result.RowsAffected, nil
}
