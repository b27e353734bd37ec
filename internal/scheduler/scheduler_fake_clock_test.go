package scheduler

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/pedifacil/billing/internal/clock"
	"github.com/pedifacil/billing/internal/config"
	creditdomain "github.com/pedifacil/billing/internal/credit/domain"
	creditservice "github.com/pedifacil/billing/internal/credit/service"
	feedomain "github.com/pedifacil/billing/internal/fee/domain"
	feeservice "github.com/pedifacil/billing/internal/fee/service"
	invoicedomain "github.com/pedifacil/billing/internal/invoice/domain"
	invoiceservice "github.com/pedifacil/billing/internal/invoice/service"
	partnerdomain "github.com/pedifacil/billing/internal/partner/domain"
	partnerservice "github.com/pedifacil/billing/internal/partner/service"
	paymentdomain "github.com/pedifacil/billing/internal/payment/domain"
	"github.com/pedifacil/billing/internal/payment/mercadopago"
	paymentservice "github.com/pedifacil/billing/internal/payment/service"
	plandomain "github.com/pedifacil/billing/internal/plan/domain"
	planservice "github.com/pedifacil/billing/internal/plan/service"
	subscriptiondomain "github.com/pedifacil/billing/internal/subscription/domain"
	subscriptionservice "github.com/pedifacil/billing/internal/subscription/service"
	"github.com/pedifacil/billing/pkg/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type schedulerFixture struct {
	sched      *Scheduler
	db         *gorm.DB
	clock      *clock.FakeClock
	gateway    *mercadopago.Stub
	paymentSvc paymentdomain.Service
	node       *snowflake.Node
}

var schedulerEpoch = time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

// stripForUpdate removes locking clauses sqlite does not understand.
func stripForUpdate(db *gorm.DB) {
	rewrite := func(d *gorm.DB) {
		sql := d.Statement.SQL.String()
		if strings.Contains(sql, "FOR UPDATE") {
			newSQL := strings.ReplaceAll(sql, "FOR UPDATE SKIP LOCKED", "")
			newSQL = strings.ReplaceAll(newSQL, "FOR UPDATE", "")
			d.Statement.SQL.Reset()
			d.Statement.SQL.WriteString(newSQL)
		}
	}
	db.Callback().Query().Before("gorm:query").Register("sqlite_skip_locked", rewrite)
	db.Callback().Row().Before("gorm:row").Register("sqlite_skip_locked_row", rewrite)
}

func setupScheduler(t *testing.T) *schedulerFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	stripForUpdate(db)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(
		&partnerdomain.Partner{},
		&feedomain.Fee{},
		&creditdomain.Credit{},
		&invoicedomain.Invoice{},
		&plandomain.Plan{},
		&subscriptiondomain.Subscription{},
		&paymentdomain.Payment{},
		&paymentdomain.PaymentEvent{},
	))

	node, err := snowflake.NewNode(6)
	require.NoError(t, err)
	fake := clock.NewFakeClock(schedulerEpoch)
	log := zaptest.NewLogger(t)
	gateway := mercadopago.NewStub()
	billingCfg := config.NewStaticBillingConfigHolder(config.DefaultBillingConfig())

	feeSvc := feeservice.NewService(feeservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fake,
		Store: repository.ProvideStore[feedomain.Fee](db),
	})
	creditSvc := creditservice.NewService(creditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fake,
		Store: repository.ProvideStore[creditdomain.Credit](db),
	})
	invoiceSvc := invoiceservice.NewService(invoiceservice.Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      fake,
		BillingCfg: billingCfg,
		CreditSvc:  creditSvc,
		Store:      repository.ProvideStore[invoicedomain.Invoice](db),
	})
	partnerSvc := partnerservice.NewService(partnerservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fake,
		Store: repository.ProvideStore[partnerdomain.Partner](db),
	})
	planSvc := planservice.NewService(planservice.Params{
		Log:   log,
		Store: repository.ProvideStore[plandomain.Plan](db),
	})
	subscriptionSvc := subscriptionservice.NewService(subscriptionservice.Params{
		DB:           db,
		Log:          log,
		GenID:        node,
		Clock:        fake,
		BillingCfg:   billingCfg,
		Gateway:      gateway,
		PartnerSvc:   partnerSvc,
		PlanSvc:      planSvc,
		PaymentStore: repository.ProvideStore[paymentdomain.Payment](db),
	})
	paymentSvc := paymentservice.NewService(paymentservice.Params{
		DB:              db,
		Log:             log,
		GenID:           node,
		Clock:           fake,
		Gateway:         gateway,
		InvoiceSvc:      invoiceSvc,
		SubscriptionSvc: subscriptionSvc,
		EventStore:      repository.ProvideStore[paymentdomain.PaymentEvent](db),
	})

	sched, err := New(Params{
		DB:              db,
		Log:             log,
		FeeSvc:          feeSvc,
		InvoiceSvc:      invoiceSvc,
		PaymentSvc:      paymentSvc,
		SubscriptionSvc: subscriptionSvc,
		GenID:           node,
		Clock:           fake,
		Config:          Config{BatchSize: 10, WorkerPoolSize: 2},
	})
	require.NoError(t, err)

	return &schedulerFixture{
		sched:      sched,
		db:         db,
		clock:      fake,
		gateway:    gateway,
		paymentSvc: paymentSvc,
		node:       node,
	}
}

func (f *schedulerFixture) addPartner(t *testing.T, name string) snowflake.ID {
	t.Helper()
	partner := partnerdomain.Partner{
		ID:       f.node.Generate(),
		Name:     name,
		Email:    strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
		Document: fmt.Sprintf("%014d", f.node.Generate()%1e14),
	}
	require.NoError(t, f.db.Create(&partner).Error)
	return partner.ID
}

func (f *schedulerFixture) addFee(t *testing.T, partnerID snowflake.ID, value int64, orderDate time.Time) {
	t.Helper()
	fee := feedomain.Fee{
		ID:              f.node.Generate(),
		PartnerID:       partnerID,
		OrderID:         fmt.Sprintf("order-%s", f.node.Generate()),
		StoreID:         "store-1",
		OrderBaseValue:  value * 10,
		OrderTotalPrice: value * 10,
		FeePercentage:   1000,
		FeeValue:        value,
		OrderDate:       orderDate,
		CompletedAt:     orderDate.Add(time.Hour),
		CreatedAt:       orderDate,
		UpdatedAt:       orderDate,
	}
	require.NoError(t, f.db.Create(&fee).Error)
}

// TestRunOnceThirtyDayPass simulates a full billing month: fees accrue,
// the cycle elapses, the pass invoices the partner, the instrument is
// approved out of band, and the next pass reconciles it to paid.
func TestRunOnceThirtyDayPass(t *testing.T) {
	f := setupScheduler(t)
	ctx := context.Background()

	partnerID := f.addPartner(t, "Padaria Azul")
	f.addFee(t, partnerID, 1200, schedulerEpoch.AddDate(0, 0, 1))
	f.addFee(t, partnerID, 800, schedulerEpoch.AddDate(0, 0, 20))

	// Day 10: cycle not elapsed, nothing invoiced.
	f.clock.Advance(9 * 24 * time.Hour)
	require.NoError(t, f.sched.RunOnce(ctx))
	var count int64
	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).Count(&count).Error)
	assert.Zero(t, count)

	// Day 32: the pass bills both fees into one invoice.
	f.clock.Advance(22 * 24 * time.Hour)
	require.NoError(t, f.sched.RunOnce(ctx))

	var invoice invoicedomain.Invoice
	require.NoError(t, f.db.First(&invoice, "partner_id = ?", partnerID).Error)
	assert.Equal(t, int64(2000), invoice.TotalAmount)
	assert.Equal(t, invoicedomain.PaymentStatusPending, invoice.PaymentStatus)

	var unsettled int64
	require.NoError(t, f.db.Model(&feedomain.Fee{}).
		Where("partner_id = ? AND settled = ?", partnerID, false).
		Count(&unsettled).Error)
	assert.Zero(t, unsettled, "all fees settled into the invoice")

	// A second pass on the same day is a no-op.
	require.NoError(t, f.sched.RunOnce(ctx))
	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	// The partner picks pix; the payer completes it out of band.
	generated, err := f.paymentSvc.GeneratePayment(ctx, invoice.ID, invoicedomain.PaymentMethodPix, paymentdomain.Payer{})
	require.NoError(t, err)
	f.gateway.ApprovePayment(generated.PaymentID)

	require.NoError(t, f.sched.RunOnce(ctx))
	var settled invoicedomain.Invoice
	require.NoError(t, f.db.First(&settled, "id = ?", invoice.ID).Error)
	assert.Equal(t, invoicedomain.PaymentStatusPaid, settled.PaymentStatus)
	require.NotNil(t, settled.PaidAt)
}

func TestRunOncePartnerIsolation(t *testing.T) {
	f := setupScheduler(t)
	ctx := context.Background()

	readyPartner := f.addPartner(t, "Lanchonete Pronta")
	freshPartner := f.addPartner(t, "Acougue Novo")
	f.addFee(t, readyPartner, 500, schedulerEpoch.AddDate(0, 0, 1))

	f.clock.Advance(32 * 24 * time.Hour)
	f.addFee(t, freshPartner, 900, f.clock.Now().Add(-time.Hour))

	require.NoError(t, f.sched.RunOnce(ctx))

	var readyCount, freshCount int64
	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).Where("partner_id = ?", readyPartner).Count(&readyCount).Error)
	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).Where("partner_id = ?", freshPartner).Count(&freshCount).Error)
	assert.Equal(t, int64(1), readyCount)
	assert.Zero(t, freshCount, "a partner inside their first cycle is left alone")
}

func TestRunOnceRepairsSettlementDrift(t *testing.T) {
	f := setupScheduler(t)
	ctx := context.Background()

	partnerID := f.addPartner(t, "Farmacia Leste")
	f.addFee(t, partnerID, 300, schedulerEpoch.AddDate(0, 0, 1))

	// Simulate an interrupted run: fee points at an invoice but was never
	// flipped to settled.
	invoiceID := f.node.Generate()
	require.NoError(t, f.db.Model(&feedomain.Fee{}).
		Where("partner_id = ?", partnerID).
		Update("invoice_id", invoiceID).Error)

	require.NoError(t, f.sched.RunOnce(ctx))

	var fee feedomain.Fee
	require.NoError(t, f.db.First(&fee, "partner_id = ?", partnerID).Error)
	assert.True(t, fee.Settled)
}

func TestRunOnceLapsesCancelledPremium(t *testing.T) {
	f := setupScheduler(t)
	ctx := context.Background()

	partnerID := f.addPartner(t, "Sorveteria Sul")
	validUntil := schedulerEpoch.AddDate(0, 0, 10)
	require.NoError(t, f.db.Model(&partnerdomain.Partner{}).
		Where("id = ?", partnerID).
		Updates(map[string]any{
			"is_premium":             true,
			"premium_features":       partnerdomain.PremiumFeatureSet(true),
			"subscription_cancelled": true,
			"premium_valid_until":    validUntil,
		}).Error)

	require.NoError(t, f.sched.RunOnce(ctx))
	var partner partnerdomain.Partner
	require.NoError(t, f.db.First(&partner, "id = ?", partnerID).Error)
	assert.True(t, partner.IsPremium, "still inside the paid period")

	f.clock.Advance(11 * 24 * time.Hour)
	require.NoError(t, f.sched.RunOnce(ctx))
	require.NoError(t, f.db.First(&partner, "id = ?", partnerID).Error)
	assert.False(t, partner.IsPremium)
}
