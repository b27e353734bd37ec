package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	"github.com/go-playground/validator/v10"
	"github.com/pedifacil/billing/internal/clock"
	"github.com/pedifacil/billing/internal/config"
	obsmetrics "github.com/pedifacil/billing/internal/observability/metrics"
	partnerdomain "github.com/pedifacil/billing/internal/partner/domain"
	paymentdomain "github.com/pedifacil/billing/internal/payment/domain"
	plandomain "github.com/pedifacil/billing/internal/plan/domain"
	subscriptiondomain "github.com/pedifacil/billing/internal/subscription/domain"
	"github.com/pedifacil/billing/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	GenID        *snowflake.Node
	Clock        clock.Clock
	BillingCfg   *config.BillingConfigHolder
	Gateway      paymentdomain.Gateway
	PartnerSvc   partnerdomain.Service
	PlanSvc      plandomain.Service
	PaymentStore repository.Repository[paymentdomain.Payment]
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	genID        *snowflake.Node
	clock        clock.Clock
	billingCfg   *config.BillingConfigHolder
	gateway      paymentdomain.Gateway
	partnerSvc   partnerdomain.Service
	planSvc      plandomain.Service
	paymentStore repository.Repository[paymentdomain.Payment]
}

func NewService(p Params) subscriptiondomain.Service {
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("subscription.service"),
		genID:        p.GenID,
		clock:        p.Clock,
		billingCfg:   p.BillingCfg,
		gateway:      p.Gateway,
		partnerSvc:   p.PartnerSvc,
		planSvc:      p.PlanSvc,
		paymentStore: p.PaymentStore,
	}
}

func (s *Service) Create(ctx context.Context, req subscriptiondomain.CreateSubscriptionRequest) (*subscriptiondomain.Subscription, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", subscriptiondomain.ErrValidation, err)
	}

	if existing, err := s.GetActive(ctx, req.PartnerID); err == nil && existing != nil {
		return nil, subscriptiondomain.ErrSubscriptionExists
	} else if err != nil && !errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
		return nil, err
	}

	partner, err := s.partnerSvc.Get(ctx, req.PartnerID)
	if err != nil {
		return nil, err
	}
	plan, err := s.planSvc.Get(ctx, req.PlanID)
	if err != nil {
		return nil, err
	}

	customerID, err := s.resolveGatewayCustomer(ctx, partner)
	if err != nil {
		return nil, err
	}
	card, err := s.gateway.SaveCard(ctx, customerID, req.CardToken)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	gwSub, err := s.gateway.CreateSubscription(ctx, paymentdomain.SubscriptionRequest{
		Reason:            plan.Name,
		Amount:            plan.Price,
		Currency:          plan.Currency,
		Frequency:         plan.Frequency,
		FrequencyType:     plan.FrequencyType,
		PayerEmail:        partner.Email,
		CardToken:         req.CardToken,
		ExternalReference: subscriptiondomain.BuildExternalReference(partner.ID, now),
	})
	if err != nil {
		return nil, err
	}

	subscription := subscriptiondomain.Subscription{
		ID:                    s.genID.Generate(),
		PartnerID:             partner.ID,
		PlanID:                plan.ID,
		GatewayCustomerID:     customerID,
		GatewaySubscriptionID: gwSub.ID,
		CardID:                card.ID,
		Status:                subscriptiondomain.SubscriptionStatusActive,
		Amount:                plan.Price,
		Currency:              plan.Currency,
		Frequency:             plan.Frequency,
		FrequencyType:         plan.FrequencyType,
		FailureCount:          0,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	if !gwSub.NextPaymentDate.IsZero() {
		next := gwSub.NextPaymentDate
		subscription.NextPaymentDate = &next
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&subscription).Error; err != nil {
			return err
		}
		return s.partnerSvc.SetPremium(ctx, tx, partner.ID, partnerdomain.PremiumGrant{
			Enabled:        true,
			ActivatedAt:    &now,
			SubscriptionID: &subscription.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	obsmetrics.Billing().IncPremiumTransition("active")
	s.log.Info("subscription.created",
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("partner_id", partner.ID.String()),
		zap.String("plan", plan.Name),
	)
	return &subscription, nil
}

func (s *Service) resolveGatewayCustomer(ctx context.Context, partner *partnerdomain.Partner) (string, error) {
	if partner.GatewayCustomerID != "" {
		return partner.GatewayCustomerID, nil
	}

	customer, err := s.gateway.GetCustomerByEmail(ctx, partner.Email)
	if err != nil {
		return "", err
	}
	if customer == nil {
		customer, err = s.gateway.CreateCustomer(ctx, partner.Email, partner.Name)
		if err != nil {
			return "", err
		}
	}

	err = s.db.WithContext(ctx).
		Model(&partnerdomain.Partner{}).
		Where("id = ?", partner.ID).
		Update("gateway_customer_id", customer.ID).Error
	if err != nil {
		return "", err
	}
	return customer.ID, nil
}

func (s *Service) GetActive(ctx context.Context, partnerID snowflake.ID) (*subscriptiondomain.Subscription, error) {
	var subscription subscriptiondomain.Subscription
	err := s.db.WithContext(ctx).
		Where("partner_id = ? AND status IN ?", partnerID, []subscriptiondomain.SubscriptionStatus{
			subscriptiondomain.SubscriptionStatusActive,
			subscriptiondomain.SubscriptionStatusPaused,
		}).
		Order("created_at DESC").
		First(&subscription).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &subscription, nil
}

func (s *Service) findByRef(ctx context.Context, ref subscriptiondomain.PaymentEventRef) (*subscriptiondomain.Subscription, error) {
	query := s.db.WithContext(ctx).Order("created_at DESC")
	switch {
	case ref.PreapprovalID != "":
		query = query.Where("gateway_subscription_id = ?", ref.PreapprovalID)
	case ref.PartnerID != 0:
		query = query.Where("partner_id = ?", ref.PartnerID)
	default:
		return nil, subscriptiondomain.ErrInvalidReference
	}

	var subscription subscriptiondomain.Subscription
	err := query.First(&subscription).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, subscriptiondomain.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &subscription, nil
}

// HandlePaymentEvent applies one recurring-charge webhook outcome.
func (s *Service) HandlePaymentEvent(ctx context.Context, ref subscriptiondomain.PaymentEventRef, status string) error {
	subscription, err := s.findByRef(ctx, ref)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	threshold := s.billingCfg.Get().SubscriptionFailures

	if status == paymentdomain.ChargeStatusApproved {
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Model(&subscriptiondomain.Subscription{}).
				Where("id = ?", subscription.ID).
				Updates(map[string]any{
					"failure_count":     0,
					"last_payment_date": now,
					"status":            subscriptiondomain.SubscriptionStatusActive,
					"updated_at":        now,
				}).Error; err != nil {
				return err
			}
			return s.partnerSvc.SetPremium(ctx, tx, subscription.PartnerID, partnerdomain.PremiumGrant{
				Enabled:        true,
				ActivatedAt:    &now,
				SubscriptionID: &subscription.ID,
			})
		})
		if err != nil {
			return err
		}
		obsmetrics.Billing().IncPremiumTransition("renewed")
		s.log.Info("subscription.payment.approved",
			zap.String("subscription_id", subscription.ID.String()),
			zap.String("partner_id", subscription.PartnerID.String()),
		)
		return nil
	}

	failureCount := subscription.FailureCount + 1
	updates := map[string]any{
		"failure_count": failureCount,
		"updated_at":    now,
	}
	revoke := failureCount >= threshold
	if revoke {
		updates["status"] = subscriptiondomain.SubscriptionStatusFailed
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&subscriptiondomain.Subscription{}).
			Where("id = ?", subscription.ID).
			Updates(updates).Error; err != nil {
			return err
		}
		if !revoke {
			return nil
		}
		return s.partnerSvc.SetPremium(ctx, tx, subscription.PartnerID, partnerdomain.PremiumGrant{Enabled: false})
	})
	if err != nil {
		return err
	}

	if revoke {
		obsmetrics.Billing().IncPremiumTransition("failed")
		s.log.Warn("subscription.failed",
			zap.String("subscription_id", subscription.ID.String()),
			zap.String("partner_id", subscription.PartnerID.String()),
			zap.Int("failure_count", failureCount),
		)
	} else {
		s.log.Info("subscription.payment.soft_failure",
			zap.String("subscription_id", subscription.ID.String()),
			zap.Int("failure_count", failureCount),
			zap.String("status", status),
		)
	}
	return nil
}

func (s *Service) Pause(ctx context.Context, partnerID snowflake.ID) error {
	subscription, err := s.GetActive(ctx, partnerID)
	if err != nil {
		return err
	}
	if subscription.Status != subscriptiondomain.SubscriptionStatusActive {
		return subscriptiondomain.ErrInvalidTransition
	}

	if err := s.gateway.PauseSubscription(ctx, subscription.GatewaySubscriptionID); err != nil {
		return err
	}
	return s.setStatus(ctx, subscription.ID, subscriptiondomain.SubscriptionStatusPaused)
}

func (s *Service) Resume(ctx context.Context, partnerID snowflake.ID) error {
	subscription, err := s.GetActive(ctx, partnerID)
	if err != nil {
		return err
	}
	if subscription.Status != subscriptiondomain.SubscriptionStatusPaused {
		return subscriptiondomain.ErrInvalidTransition
	}

	if err := s.gateway.ResumeSubscription(ctx, subscription.GatewaySubscriptionID); err != nil {
		return err
	}
	return s.setStatus(ctx, subscription.ID, subscriptiondomain.SubscriptionStatusActive)
}

func (s *Service) setStatus(ctx context.Context, id snowflake.ID, status subscriptiondomain.SubscriptionStatus) error {
	return s.db.WithContext(ctx).
		Model(&subscriptiondomain.Subscription{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status":     status,
			"updated_at": s.clock.Now(),
		}).Error
}

// Cancel ends the gateway subscription but does not revoke premium: the
// partner already paid for the current period, so premium stays valid
// until NextPaymentDate and lapses via EnsurePremiumLapse.
func (s *Service) Cancel(ctx context.Context, partnerID snowflake.ID) error {
	subscription, err := s.GetActive(ctx, partnerID)
	if err != nil {
		return err
	}

	if err := s.gateway.CancelSubscription(ctx, subscription.GatewaySubscriptionID); err != nil {
		return err
	}

	now := s.clock.Now()
	validUntil := now
	if subscription.NextPaymentDate != nil && subscription.NextPaymentDate.After(now) {
		validUntil = *subscription.NextPaymentDate
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&subscriptiondomain.Subscription{}).
			Where("id = ?", subscription.ID).
			Updates(map[string]any{
				"status":       subscriptiondomain.SubscriptionStatusCancelled,
				"cancelled_at": now,
				"updated_at":   now,
			}).Error; err != nil {
			return err
		}
		return s.partnerSvc.SetPremium(ctx, tx, partnerID, partnerdomain.PremiumGrant{
			Enabled:    true,
			ValidUntil: &validUntil,
			Cancelled:  true,
		})
	})
	if err != nil {
		return err
	}

	obsmetrics.Billing().IncPremiumTransition("cancelled")
	s.log.Info("subscription.cancelled",
		zap.String("subscription_id", subscription.ID.String()),
		zap.String("partner_id", partnerID.String()),
		zap.Time("premium_valid_until", validUntil),
	)
	return nil
}

func (s *Service) ProcessPayment(ctx context.Context, partnerID snowflake.ID, isRenewal bool) (*paymentdomain.Payment, error) {
	subscription, err := s.GetActive(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	partner, err := s.partnerSvc.Get(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	plan, err := s.planSvc.Get(ctx, subscription.PlanID)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	paymentID := s.genID.Generate()
	charge, err := s.gateway.CreateCardPayment(ctx, paymentdomain.CardChargeRequest{
		Amount:            subscription.Amount,
		Description:       plan.Name,
		CustomerID:        subscription.GatewayCustomerID,
		CardID:            subscription.CardID,
		PayerEmail:        partner.Email,
		ExternalReference: subscriptiondomain.BuildExternalReference(partnerID, now),
		IdempotencyKey:    "sub-" + paymentID.String(),
	})
	if err != nil {
		return nil, err
	}

	planID := plan.ID
	payment := paymentdomain.Payment{
		ID:               paymentID,
		PartnerID:        partnerID,
		PlanID:           &planID,
		GatewayPaymentID: charge.ID,
		Amount:           subscription.Amount,
		Status:           charge.Status,
		Description:      plan.Name,
		IsRenewal:        isRenewal,
		CreatedAt:        now,
	}
	if err := s.paymentStore.Create(ctx, &payment); err != nil {
		return nil, err
	}

	if charge.Status == paymentdomain.ChargeStatusApproved {
		if err := s.HandlePaymentEvent(ctx, subscriptiondomain.PaymentEventRef{PartnerID: partnerID}, charge.Status); err != nil {
			return nil, err
		}
	}
	return &payment, nil
}

// EnsurePremiumLapse revokes premium from cancelled partners whose paid
// period has ended.
func (s *Service) EnsurePremiumLapse(ctx context.Context) (int64, error) {
	now := s.clock.Now()
	result := s.db.WithContext(ctx).
		Model(&partnerdomain.Partner{}).
		Where("is_premium = ? AND subscription_cancelled = ? AND premium_valid_until IS NOT NULL AND premium_valid_until < ?",
			true, true, now).
		Updates(map[string]any{
			"is_premium":       false,
			"premium_features": partnerdomain.PremiumFeatureSet(false),
			"updated_at":       now,
		})
	if result.Error != nil {
		return 0, result.Error
	}

	if result.RowsAffected > 0 {
		obsmetrics.Billing().IncPremiumTransition("lapsed")
		s.log.Info("subscription.premium.lapsed",
			zap.Int64("partners", result.RowsAffected),
		)
	}
	return result.RowsAffected, nil
}

func (s *Service) SaveCard(ctx context.Context, partnerID snowflake.ID, cardToken string) (*paymentdomain.Card, error) {
	partner, err := s.partnerSvc.Get(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	customerID, err := s.resolveGatewayCustomer(ctx, partner)
	if err != nil {
		return nil, err
	}
	return s.gateway.SaveCard(ctx, customerID, cardToken)
}

func (s *Service) ListCards(ctx context.Context, partnerID snowflake.ID) ([]paymentdomain.Card, error) {
	partner, err := s.partnerSvc.Get(ctx, partnerID)
	if err != nil {
		return nil, err
	}
	if partner.GatewayCustomerID == "" {
		return []paymentdomain.Card{}, nil
	}
	return s.gateway.ListCards(ctx, partner.GatewayCustomerID)
}

func (s *Service) RemoveCard(ctx context.Context, partnerID snowflake.ID, cardID string) error {
	partner, err := s.partnerSvc.Get(ctx, partnerID)
	if err != nil {
		return err
	}
	if partner.GatewayCustomerID == "" {
		return subscriptiondomain.ErrSubscriptionNotFound
	}
	return s.gateway.DeleteCard(ctx, partner.GatewayCustomerID, cardID)
}
