package service

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pedifacil/billing/internal/clock"
	partnerdomain "github.com/pedifacil/billing/internal/partner/domain"
	"github.com/pedifacil/billing/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	GenID *snowflake.Node
	Clock clock.Clock
	Store repository.Repository[partnerdomain.Partner]
}

type Service struct {
	db    *gorm.DB
	log   *zap.Logger
	genID *snowflake.Node
	clock clock.Clock
	store repository.Repository[partnerdomain.Partner]
}

func NewService(p Params) partnerdomain.Service {
	return &Service{
		db:    p.DB,
		log:   p.Log.Named("partner.service"),
		genID: p.GenID,
		clock: p.Clock,
		store: p.Store,
	}
}

func (s *Service) Get(ctx context.Context, id snowflake.ID) (*partnerdomain.Partner, error) {
	partner, err := s.store.FindOne(ctx, &partnerdomain.Partner{ID: id})
	if err != nil {
		return nil, err
	}
	if partner == nil {
		return nil, partnerdomain.ErrPartnerNotFound
	}
	return partner, nil
}

func (s *Service) Create(ctx context.Context, partner partnerdomain.Partner) (*partnerdomain.Partner, error) {
	if partner.ID == 0 {
		partner.ID = s.genID.Generate()
	}
	if partner.PremiumFeatures == nil {
		partner.PremiumFeatures = partnerdomain.PremiumFeatureSet(false)
	}
	now := s.clock.Now()
	partner.CreatedAt = now
	partner.UpdatedAt = now
	if err := s.store.Create(ctx, &partner); err != nil {
		return nil, err
	}
	return &partner, nil
}

func (s *Service) SetPremium(ctx context.Context, tx *gorm.DB, partnerID snowflake.ID, grant partnerdomain.PremiumGrant) error {
	if tx == nil {
		tx = s.db
	}

	updates := map[string]any{
		"is_premium":             grant.Enabled,
		"premium_features":       partnerdomain.PremiumFeatureSet(grant.Enabled),
		"subscription_cancelled": grant.Cancelled,
		"updated_at":             s.clock.Now(),
	}
	if grant.ActivatedAt != nil {
		updates["premium_activated_at"] = *grant.ActivatedAt
	}
	updates["premium_valid_until"] = nullableTime(grant.ValidUntil)
	if grant.SubscriptionID != nil {
		updates["subscription_id"] = *grant.SubscriptionID
	}
	if grant.Cancelled {
		updates["cancellation_date"] = s.clock.Now()
	}

	result := tx.WithContext(ctx).
		Model(&partnerdomain.Partner{}).
		Where("id = ?", partnerID).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return partnerdomain.ErrPartnerNotFound
	}

	s.log.Info("partner.premium.updated",
		zap.String("partner_id", partnerID.String()),
		zap.Bool("is_premium", grant.Enabled),
		zap.Bool("cancelled", grant.Cancelled),
	)
	return nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return gorm.Expr("NULL")
	}
	return *t
}
