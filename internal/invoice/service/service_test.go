package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/pedifacil/billing/internal/clock"
	"github.com/pedifacil/billing/internal/config"
	creditdomain "github.com/pedifacil/billing/internal/credit/domain"
	creditservice "github.com/pedifacil/billing/internal/credit/service"
	feedomain "github.com/pedifacil/billing/internal/fee/domain"
	invoicedomain "github.com/pedifacil/billing/internal/invoice/domain"
	partnerdomain "github.com/pedifacil/billing/internal/partner/domain"
	"github.com/pedifacil/billing/pkg/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type fixture struct {
	svc       *Service
	db        *gorm.DB
	clock     *clock.FakeClock
	node      *snowflake.Node
	partnerID snowflake.ID
}

var testEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func setup(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&partnerdomain.Partner{},
		&feedomain.Fee{},
		&creditdomain.Credit{},
		&invoicedomain.Invoice{},
	))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	fake := clock.NewFakeClock(testEpoch)
	log := zaptest.NewLogger(t)

	creditSvc := creditservice.NewService(creditservice.Params{
		DB:    db,
		Log:   log,
		GenID: node,
		Clock: fake,
		Store: repository.ProvideStore[creditdomain.Credit](db),
	})

	svc := &Service{
		db:         db,
		log:        log,
		genID:      node,
		clock:      fake,
		billingCfg: config.NewStaticBillingConfigHolder(config.DefaultBillingConfig()),
		creditSvc:  creditSvc,
		store:      repository.ProvideStore[invoicedomain.Invoice](db),
	}

	partner := partnerdomain.Partner{
		ID:       node.Generate(),
		Name:     "Padaria do Bairro",
		Email:    "padaria@example.com",
		Document: "12345678000190",
	}
	require.NoError(t, db.Create(&partner).Error)

	return &fixture{svc: svc, db: db, clock: fake, node: node, partnerID: partner.ID}
}

func (f *fixture) addFee(t *testing.T, value int64, orderDay int) feedomain.Fee {
	t.Helper()
	orderDate := testEpoch.AddDate(0, 0, orderDay-1)
	fee := feedomain.Fee{
		ID:              f.node.Generate(),
		PartnerID:       f.partnerID,
		OrderID:         fmt.Sprintf("order-%d-%d", orderDay, value),
		StoreID:         "store-1",
		CustomerID:      "customer-1",
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
	return fee
}

func (f *fixture) onDay(day int) {
	f.clock.Advance(testEpoch.AddDate(0, 0, day-1).Sub(f.clock.Now()))
}

func TestGenerateForPartnerAggregatesFees(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	feeA := f.addFee(t, 1000, 1)
	feeB := f.addFee(t, 1500, 20)
	f.onDay(32)

	invoice, err := f.svc.GenerateForPartner(ctx, f.partnerID)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), invoice.TotalAmount)
	assert.Equal(t, int64(2500), invoice.OriginalAmount)
	assert.Zero(t, invoice.AppliedCreditsAmount)
	assert.Equal(t, invoicedomain.PaymentStatusPending, invoice.PaymentStatus)
	assert.Equal(t, "Padaria do Bairro", invoice.PartnerName)
	assert.True(t, invoice.DueDate.Equal(f.clock.Now().Add(7*24*time.Hour)))
	require.Len(t, invoice.Details, 2)

	for _, feeID := range []snowflake.ID{feeA.ID, feeB.ID} {
		var stored feedomain.Fee
		require.NoError(t, f.db.First(&stored, "id = ?", feeID).Error)
		assert.True(t, stored.Settled)
		require.NotNil(t, stored.InvoiceID)
		assert.Equal(t, invoice.ID, *stored.InvoiceID)
	}
}

func TestGenerateForPartnerIdempotent(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.addFee(t, 1000, 1)
	f.onDay(32)

	_, err := f.svc.GenerateForPartner(ctx, f.partnerID)
	require.NoError(t, err)

	// No new fees since the first run: the invoice_id filter leaves
	// nothing to bill.
	_, err = f.svc.GenerateForPartner(ctx, f.partnerID)
	assert.ErrorIs(t, err, invoicedomain.ErrNothingToInvoice)

	var count int64
	require.NoError(t, f.db.Model(&invoicedomain.Invoice{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestGenerateForPartnerNotYetEligible(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.addFee(t, 1000, 1)
	f.onDay(15)

	_, err := f.svc.GenerateForPartner(ctx, f.partnerID)
	assert.ErrorIs(t, err, invoicedomain.ErrCycleNotElapsed)
}

func TestGenerateForPartnerNoFees(t *testing.T) {
	f := setup(t)

	_, err := f.svc.GenerateForPartner(context.Background(), f.partnerID)
	assert.ErrorIs(t, err, invoicedomain.ErrNothingToInvoice)
}

func TestGenerateForPartnerAppliesCredits(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.addFee(t, 2500, 1)
	credit := creditdomain.Credit{
		ID:         f.node.Generate(),
		PartnerID:  f.partnerID,
		CouponCode: "WELCOME10",
		Value:      700,
		Status:     creditdomain.CreditStatusPending,
		CreatedAt:  testEpoch,
		UpdatedAt:  testEpoch,
	}
	require.NoError(t, f.db.Create(&credit).Error)
	f.onDay(32)

	invoice, err := f.svc.GenerateForPartner(ctx, f.partnerID)
	require.NoError(t, err)
	assert.Equal(t, int64(2500), invoice.OriginalAmount)
	assert.Equal(t, int64(700), invoice.AppliedCreditsAmount)
	assert.Equal(t, int64(1800), invoice.TotalAmount)
	require.Len(t, invoice.AppliedCredits, 1)
	assert.Equal(t, credit.ID, invoice.AppliedCredits[0].CreditID)

	var stored creditdomain.Credit
	require.NoError(t, f.db.First(&stored, "id = ?", credit.ID).Error)
	assert.Equal(t, creditdomain.CreditStatusApplied, stored.Status)
	require.NotNil(t, stored.InvoiceID)
	assert.Equal(t, invoice.ID, *stored.InvoiceID)
}

func TestGenerateSecondCycleUsesLatestInvoiceAsReference(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.addFee(t, 1000, 1)
	f.onDay(32)
	first, err := f.svc.GenerateForPartner(ctx, f.partnerID)
	require.NoError(t, err)

	// New fee lands after the first invoice; the next cycle opens 30
	// days after that invoice's creation.
	f.addFee(t, 800, 40)
	f.onDay(45)
	_, err = f.svc.GenerateForPartner(ctx, f.partnerID)
	assert.ErrorIs(t, err, invoicedomain.ErrCycleNotElapsed)

	f.onDay(63)
	second, err := f.svc.GenerateForPartner(ctx, f.partnerID)
	require.NoError(t, err)
	assert.Equal(t, int64(800), second.TotalAmount)
	assert.True(t, second.ReferenceDate.Equal(first.CreatedAt))
}

func TestMarkPaid(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.addFee(t, 1000, 1)
	f.onDay(32)
	invoice, err := f.svc.GenerateForPartner(ctx, f.partnerID)
	require.NoError(t, err)

	paidAt := f.clock.Now()
	require.NoError(t, f.svc.MarkPaid(ctx, invoice.ID, paidAt))

	stored, err := f.svc.Get(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, invoicedomain.PaymentStatusPaid, stored.PaymentStatus)
	require.NotNil(t, stored.PaidAt)

	// A second transition is rejected, never silently repeated.
	err = f.svc.MarkPaid(ctx, invoice.ID, paidAt.Add(time.Hour))
	assert.ErrorIs(t, err, invoicedomain.ErrInvoiceAlreadyPaid)
}

func TestAttachPayment(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.addFee(t, 1000, 1)
	f.onDay(32)
	invoice, err := f.svc.GenerateForPartner(ctx, f.partnerID)
	require.NoError(t, err)

	err = f.svc.AttachPayment(ctx, invoice.ID, "mp-123", invoicedomain.PaymentMethodPix, invoicedomain.PaymentData{
		QRCode:       "00020126580014br.gov.bcb.pix",
		QRCodeBase64: "aGVsbG8=",
	})
	require.NoError(t, err)

	stored, err := f.svc.Get(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, "mp-123", stored.PaymentID)
	assert.Equal(t, invoicedomain.PaymentMethodPix, stored.PaymentMethod)
	assert.Equal(t, "aGVsbG8=", stored.PaymentData.Data().QRCodeBase64)
	assert.Equal(t, invoicedomain.PaymentStatusPending, stored.PaymentStatus)
}
