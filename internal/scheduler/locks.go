package scheduler

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

// claimPartnersWithUnsettledFees returns partner ids carrying fees that are
// ready to invoice. SKIP LOCKED keeps two instances claiming at the same
// moment from returning overlapping batches; the claim transaction commits
// before invoices are generated, so billing each partner at most once rests
// on the run lease and on the guarded fee update in generateInvoiceBatch.
func (s *Scheduler) claimPartnersWithUnsettledFees(ctx context.Context, tx *gorm.DB, limit int) ([]snowflake.ID, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var partnerIDs []snowflake.ID
	err := tx.WithContext(claimCtx).Raw(
		`SELECT p.id
		 FROM partners p
		 WHERE EXISTS (
		   SELECT 1 FROM app_fees f
		   WHERE f.partner_id = p.id
		     AND f.settled = ?
		     AND f.invoice_id IS NULL
		 )
		 ORDER BY p.id
		 FOR UPDATE SKIP LOCKED
		 LIMIT ?`,
		false,
		limit,
	).Scan(&partnerIDs).Error
	if err != nil {
		return nil, err
	}
	return partnerIDs, nil
}

type reconcilableInvoice struct {
	ID        snowflake.ID
	PartnerID snowflake.ID
}

// claimInvoicesAwaitingPayment returns pending invoices that already carry a
// gateway instrument and so can be reconciled against the provider.
func (s *Scheduler) claimInvoicesAwaitingPayment(ctx context.Context, tx *gorm.DB, limit int) ([]reconcilableInvoice, error) {
	claimCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var invoices []reconcilableInvoice
	err := tx.WithContext(claimCtx).Raw(
		`SELECT id, partner_id
		 FROM invoices
		 WHERE payment_status = ?
		   AND payment_id <> ''
		 ORDER BY due_date ASC, id ASC
		 FOR UPDATE SKIP LOCKED
		 LIMIT ?`,
		"pending",
		limit,
	).Scan(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}
