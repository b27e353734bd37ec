package accessblock

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/pedifacil/billing/internal/clock"
	"github.com/pedifacil/billing/internal/config"
	invoicedomain "github.com/pedifacil/billing/internal/invoice/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log        *zap.Logger
	Clock      clock.Clock
	BillingCfg *config.BillingConfigHolder
	InvoiceSvc invoicedomain.Service
}

// Service is the trusted server-side block check.
type Service struct {
	log        *zap.Logger
	clock      clock.Clock
	billingCfg *config.BillingConfigHolder
	invoiceSvc invoicedomain.Service
}

func NewService(p Params) *Service {
	return &Service{
		log:        p.Log.Named("accessblock.service"),
		clock:      p.Clock,
		billingCfg: p.BillingCfg,
		invoiceSvc: p.InvoiceSvc,
	}
}

func (s *Service) Check(ctx context.Context, partnerID snowflake.ID) (Status, error) {
	invoices, err := s.invoiceSvc.ListUnpaid(ctx, partnerID)
	if err != nil {
		return Status{}, err
	}

	cfg := s.billingCfg.Get()
	status := Evaluate(invoices, s.clock.Now(), Policy{
		GraceDays:     cfg.GraceDays,
		PermanentDays: cfg.PermanentBlockDays,
	})

	if status.IsBlocked {
		s.log.Info("accessblock.blocked",
			zap.String("partner_id", partnerID.String()),
			zap.Int("days_past_due", status.DaysPastDue),
			zap.String("severity", string(status.Severity)),
		)
	}
	return status, nil
}

var Module = fx.Module("accessblock.service",
	fx.Provide(NewService),
)
