package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/pedifacil/billing/internal/clock"
	feedomain "github.com/pedifacil/billing/internal/fee/domain"
	invoicedomain "github.com/pedifacil/billing/internal/invoice/domain"
	"github.com/pedifacil/billing/internal/joblock"
	obsmetrics "github.com/pedifacil/billing/internal/observability/metrics"
	paymentdomain "github.com/pedifacil/billing/internal/payment/domain"
	subscriptiondomain "github.com/pedifacil/billing/internal/subscription/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

var ErrInvalidConfig = errors.New("scheduler_invalid_config")

// leaseKey serializes billing passes across scheduler instances.
const leaseKey = "billing:scheduler:run"

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	FeeSvc          feedomain.Service
	InvoiceSvc      invoicedomain.Service
	PaymentSvc      paymentdomain.Service
	SubscriptionSvc subscriptiondomain.Service
	Locker          *joblock.Locker `optional:"true"`
	GenID           *snowflake.Node
	Clock           clock.Clock
	Config          Config `optional:"true"`
}

type Scheduler struct {
	db              *gorm.DB
	log             *zap.Logger
	cfg             Config
	genID           *snowflake.Node
	clock           clock.Clock
	feeSvc          feedomain.Service
	invoiceSvc      invoicedomain.Service
	paymentSvc      paymentdomain.Service
	subscriptionSvc subscriptiondomain.Service
	locker          *joblock.Locker
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.FeeSvc == nil || p.InvoiceSvc == nil || p.PaymentSvc == nil || p.SubscriptionSvc == nil || p.GenID == nil || p.Clock == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:              p.DB,
		log:             p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:             p.Config.withDefaults(),
		genID:           p.GenID,
		clock:           p.Clock,
		feeSvc:          p.FeeSvc,
		invoiceSvc:      p.InvoiceSvc,
		paymentSvc:      p.PaymentSvc,
		subscriptionSvc: p.SubscriptionSvc,
		locker:          p.Locker,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(run)
	}
	metrics := obsmetrics.Billing()
	metrics.IncJobRun(name)

	err := fn(ctx)
	metrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if err != nil && run != nil && run.errorCount == 0 {
			run.IncError()
		}
		s.logJobFinish(run)
	}
	if err == nil {
		return nil
	}

	// A deadline is a soft stop: the next pass resumes where this one left off.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		metrics.IncJobTimeout(name)
	}
	metrics.IncJobError(name, err)
	if isTimeout {
		s.log.Warn("job timed out",
			zap.String("job", name),
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	err := s.locker.WithLease(parent, leaseKey, s.cfg.LeaseTTL, s.runJobs)
	if errors.Is(err, joblock.ErrNotAcquired) {
		s.log.Info("billing pass skipped; another instance holds the lease")
		return nil
	}
	return err
}

func (s *Scheduler) runJobs(parent context.Context) error {
	var err error

	jobs := []struct {
		Name string
		Run  func(context.Context) error
	}{
		{"invoice_cycle", func(ctx context.Context) error {
			return s.runJob(ctx, "invoice_cycle", s.cfg.BatchSize, s.cfg.JobTimeout, s.InvoiceCycleJob)
		}},
		{"reconcile_payments", func(ctx context.Context) error {
			return s.runJob(ctx, "reconcile_payments", s.cfg.BatchSize, s.cfg.JobTimeout, s.ReconcilePaymentsJob)
		}},
		{"premium_lapse", func(ctx context.Context) error {
			return s.runJob(ctx, "premium_lapse", s.cfg.BatchSize, s.cfg.JobTimeout, s.PremiumLapseJob)
		}},
		{"repair_settlement", func(ctx context.Context) error {
			return s.runJob(ctx, "repair_settlement", s.cfg.BatchSize, s.cfg.JobTimeout, s.RepairSettlementJob)
		}},
	}

	for _, job := range jobs {
		err = errors.Join(err, job.Run(parent))
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()

	for {
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// InvoiceCycleJob walks partners carrying uninvoiced fees and generates
// their cycle invoices. Each partner is billed in isolation; one partner's
// failure never blocks the rest of the batch.
func (s *Scheduler) InvoiceCycleJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "invoice_cycle", s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}
	var jobErr error

	for {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}

		var partnerIDs []snowflake.ID
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			var claimErr error
			partnerIDs, claimErr = s.claimPartnersWithUnsettledFees(ctx, tx, s.cfg.BatchSize)
			return claimErr
		})
		if err != nil {
			return errors.Join(jobErr, err)
		}
		if len(partnerIDs) == 0 {
			break
		}

		generated, batchErr := s.generateInvoiceBatch(ctx, run, partnerIDs)
		jobErr = errors.Join(jobErr, batchErr)

		// Partners whose cycle has not elapsed stay in the claim set, so a
		// batch that produced nothing new means the pass is done.
		if generated == 0 || len(partnerIDs) < s.cfg.BatchSize {
			break
		}
	}

	return jobErr
}

func (s *Scheduler) generateInvoiceBatch(ctx context.Context, run *jobRun, partnerIDs []snowflake.ID) (int, error) {
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.WorkerPoolSize)

	results := make([]int, len(partnerIDs))
	errs := make([]error, len(partnerIDs))
	for i, partnerID := range partnerIDs {
		group.Go(func() error {
			_, err := s.invoiceSvc.GenerateForPartner(groupCtx, partnerID)
			switch {
			case err == nil:
				results[i] = 1
			case errors.Is(err, invoicedomain.ErrNothingToInvoice),
				errors.Is(err, invoicedomain.ErrCycleNotElapsed):
				// Not ready yet; the next pass picks the partner up again.
			default:
				errs[i] = fmt.Errorf("partner %s: %w", partnerID, err)
			}
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return 0, err
	}

	generated := 0
	var batchErr error
	for i := range partnerIDs {
		generated += results[i]
		if errs[i] != nil {
			batchErr = errors.Join(batchErr, errs[i])
			s.logJobError(run, "invoice_cycle", errs[i])
		}
	}
	run.AddProcessed(generated)
	obsmetrics.Billing().AddPartnersProcessed("invoice_cycle", len(partnerIDs))
	return generated, batchErr
}

// ReconcilePaymentsJob polls the gateway for pending invoice instruments
// and settles the ones the provider reports approved.
func (s *Scheduler) ReconcilePaymentsJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "reconcile_payments", s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}
	var jobErr error

	var invoices []reconcilableInvoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var claimErr error
		invoices, claimErr = s.claimInvoicesAwaitingPayment(ctx, tx, s.cfg.BatchSize)
		return claimErr
	})
	if err != nil {
		return err
	}

	for _, invoice := range invoices {
		if ctx.Err() != nil {
			return errors.Join(jobErr, ctx.Err())
		}
		if _, err := s.paymentSvc.CheckPaymentStatus(ctx, invoice.ID); err != nil {
			jobErr = errors.Join(jobErr, fmt.Errorf("invoice %s: %w", invoice.ID, err))
			s.logJobError(run, "reconcile_payments", err,
				zap.String("invoice_id", invoice.ID.String()),
				zap.String("partner_id", invoice.PartnerID.String()),
			)
			continue
		}
		run.AddProcessed(1)
	}

	return jobErr
}

// PremiumLapseJob revokes premium from cancelled subscriptions whose paid
// period has ended.
func (s *Scheduler) PremiumLapseJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "premium_lapse", s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}

	lapsed, err := s.subscriptionSvc.EnsurePremiumLapse(ctx)
	if err != nil {
		s.logJobError(run, "premium_lapse", err)
		return err
	}
	run.AddProcessed(int(lapsed))
	return nil
}

// RepairSettlementJob heals fees left half-settled by interrupted runs.
func (s *Scheduler) RepairSettlementJob(ctx context.Context) error {
	ctx, run, owner := s.ensureJobRun(ctx, "repair_settlement", s.cfg.BatchSize)
	if owner {
		s.logJobStart(run)
		defer s.logJobFinish(run)
	}

	repaired, err := s.feeSvc.RepairSettlementDrift(ctx)
	if err != nil {
		s.logJobError(run, "repair_settlement", err)
		return err
	}
	run.AddProcessed(int(repaired))
	return nil
}
