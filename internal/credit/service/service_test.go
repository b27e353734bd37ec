package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/pedifacil/billing/internal/clock"
	creditdomain "github.com/pedifacil/billing/internal/credit/domain"
	"github.com/pedifacil/billing/pkg/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func setupService(t *testing.T) (*Service, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&creditdomain.Credit{}))

	node, err := snowflake.NewNode(2)
	require.NoError(t, err)

	svc := &Service{
		db:    db,
		log:   zaptest.NewLogger(t),
		genID: node,
		clock: clock.NewFakeClock(time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)),
		store: repository.ProvideStore[creditdomain.Credit](db),
	}
	return svc, db
}

func grantCredit(t *testing.T, svc *Service, db *gorm.DB, partnerID snowflake.ID, value int64, createdAt time.Time) *creditdomain.Credit {
	t.Helper()
	credit, err := svc.Create(context.Background(), creditdomain.CreateCreditRequest{
		PartnerID:  partnerID,
		OrderID:    fmt.Sprintf("order-%d", value),
		StoreID:    "store-1",
		CouponCode: "WELCOME10",
		Value:      value,
	})
	require.NoError(t, err)
	require.NoError(t, db.Exec(
		`UPDATE credits SET created_at = ? WHERE id = ?`, createdAt, credit.ID,
	).Error)
	credit.CreatedAt = createdAt
	return credit
}

func totalCreditValue(t *testing.T, db *gorm.DB, partnerID snowflake.ID) int64 {
	t.Helper()
	var total int64
	require.NoError(t, db.Raw(
		`SELECT COALESCE(SUM(value), 0) FROM credits WHERE partner_id = ? AND status = ?`,
		partnerID, creditdomain.CreditStatusPending,
	).Scan(&total).Error)
	return total
}

func TestCreateCreditValidation(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.Create(ctx, creditdomain.CreateCreditRequest{
		PartnerID:  svc.genID.Generate(),
		CouponCode: "WELCOME10",
		Value:      0,
	})
	assert.ErrorIs(t, err, creditdomain.ErrValidation)

	_, err = svc.Create(ctx, creditdomain.CreateCreditRequest{
		PartnerID: svc.genID.Generate(),
		Value:     100,
	})
	assert.ErrorIs(t, err, creditdomain.ErrValidation)
}

func TestApplyNoCredits(t *testing.T) {
	svc, _ := setupService(t)
	partnerID := svc.genID.Generate()

	result, err := svc.ApplyToInvoice(context.Background(), nil, partnerID, svc.genID.Generate(), 2500)
	require.NoError(t, err)
	assert.Zero(t, result.AppliedAmount)
	assert.Equal(t, int64(2500), result.RemainingAmount)
	assert.Empty(t, result.AppliedCredits)
}

func TestApplyFullConsumption(t *testing.T) {
	svc, db := setupService(t)
	partnerID := svc.genID.Generate()
	day := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	credit := grantCredit(t, svc, db, partnerID, 500, day)

	result, err := svc.ApplyToInvoice(context.Background(), nil, partnerID, svc.genID.Generate(), 2500)
	require.NoError(t, err)
	assert.Equal(t, int64(500), result.AppliedAmount)
	assert.Equal(t, int64(2000), result.RemainingAmount)
	require.Len(t, result.AppliedCredits, 1)
	assert.Equal(t, credit.ID, result.AppliedCredits[0].CreditID)
	assert.Equal(t, int64(500), result.AppliedCredits[0].AppliedValue)

	var stored creditdomain.Credit
	require.NoError(t, db.First(&stored, "id = ?", credit.ID).Error)
	assert.Equal(t, creditdomain.CreditStatusApplied, stored.Status)
	assert.NotNil(t, stored.AppliedAt)
	assert.NotNil(t, stored.InvoiceID)
	assert.Zero(t, totalCreditValue(t, db, partnerID))
}

func TestApplyPartialConsumptionSplits(t *testing.T) {
	svc, db := setupService(t)
	partnerID := svc.genID.Generate()
	created := time.Date(2026, 1, 15, 9, 0, 0, 0, time.UTC)

	original := grantCredit(t, svc, db, partnerID, 3000, created)

	result, err := svc.ApplyToInvoice(context.Background(), nil, partnerID, svc.genID.Generate(), 1100)
	require.NoError(t, err)
	assert.Equal(t, int64(1100), result.AppliedAmount)
	assert.Zero(t, result.RemainingAmount)

	// The consumed row is rewritten to the applied amount.
	var consumed creditdomain.Credit
	require.NoError(t, db.First(&consumed, "id = ?", original.ID).Error)
	assert.Equal(t, creditdomain.CreditStatusApplied, consumed.Status)
	assert.Equal(t, int64(1100), consumed.Value)

	// Exactly one new pending credit holds the leftover, keeping the
	// original creation time so FIFO ordering is preserved.
	remainders, err := svc.GetAvailableCredits(context.Background(), partnerID)
	require.NoError(t, err)
	require.Len(t, remainders, 1)
	assert.Equal(t, int64(1900), remainders[0].Value)
	assert.True(t, remainders[0].CreatedAt.Equal(created))
	assert.NotEqual(t, original.ID, remainders[0].ID)
}

func TestApplyWalksOldestFirst(t *testing.T) {
	svc, db := setupService(t)
	partnerID := svc.genID.Generate()

	older := grantCredit(t, svc, db, partnerID, 400, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	newer := grantCredit(t, svc, db, partnerID, 400, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))

	result, err := svc.ApplyToInvoice(context.Background(), nil, partnerID, svc.genID.Generate(), 600)
	require.NoError(t, err)
	assert.Equal(t, int64(600), result.AppliedAmount)
	require.Len(t, result.AppliedCredits, 2)
	assert.Equal(t, older.ID, result.AppliedCredits[0].CreditID)
	assert.Equal(t, int64(400), result.AppliedCredits[0].AppliedValue)
	assert.Equal(t, newer.ID, result.AppliedCredits[1].CreditID)
	assert.Equal(t, int64(200), result.AppliedCredits[1].AppliedValue)
}

func TestApplyConservation(t *testing.T) {
	svc, db := setupService(t)
	partnerID := svc.genID.Generate()

	grantCredit(t, svc, db, partnerID, 700, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	grantCredit(t, svc, db, partnerID, 1300, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))
	before := totalCreditValue(t, db, partnerID)

	amount := int64(1500)
	result, err := svc.ApplyToInvoice(context.Background(), nil, partnerID, svc.genID.Generate(), amount)
	require.NoError(t, err)

	assert.Equal(t, amount, result.AppliedAmount+result.RemainingAmount)
	assert.Equal(t, before-result.AppliedAmount, totalCreditValue(t, db, partnerID))
}

func TestApplySkipsCreditConsumedConcurrently(t *testing.T) {
	svc, db := setupService(t)
	partnerID := svc.genID.Generate()

	older := grantCredit(t, svc, db, partnerID, 1000, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	newer := grantCredit(t, svc, db, partnerID, 800, time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC))

	// Flip the oldest credit to applied after the pending read but before
	// the guarded update, like a second consumer winning the race.
	stolen := false
	db.Callback().Query().After("gorm:query").Register("concurrent_consumer", func(d *gorm.DB) {
		if stolen || d.Statement.Table != "credits" {
			return
		}
		stolen = true
		_, err := d.Statement.ConnPool.ExecContext(context.Background(),
			`UPDATE credits SET status = ? WHERE id = ?`,
			creditdomain.CreditStatusApplied, older.ID,
		)
		require.NoError(t, err)
	})

	result, err := svc.ApplyToInvoice(context.Background(), nil, partnerID, svc.genID.Generate(), 2500)
	require.NoError(t, err)
	require.True(t, stolen)

	assert.Equal(t, newer.Value, result.AppliedAmount)
	assert.Equal(t, int64(2500)-newer.Value, result.RemainingAmount)
	require.Len(t, result.AppliedCredits, 1)
	assert.Equal(t, newer.ID, result.AppliedCredits[0].CreditID)

	// The stolen credit keeps its value and no remainder row was split off it.
	var lost creditdomain.Credit
	require.NoError(t, db.First(&lost, "id = ?", older.ID).Error)
	assert.Equal(t, int64(1000), lost.Value)

	var count int64
	require.NoError(t, db.Model(&creditdomain.Credit{}).Where("partner_id = ?", partnerID).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}
