package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

var (
	ErrPartnerNotFound = errors.New("partner_not_found")
)

// PremiumGrant describes a premium projection update applied alongside a
// subscription status change.
type PremiumGrant struct {
	Enabled        bool
	ActivatedAt    *time.Time
	ValidUntil     *time.Time
	SubscriptionID *snowflake.ID
	Cancelled      bool
}

type Service interface {
	Get(ctx context.Context, id snowflake.ID) (*Partner, error)
	Create(ctx context.Context, partner Partner) (*Partner, error)

	// SetPremium projects subscription state onto the partner record.
	// When tx is non-nil the update joins the caller's transaction.
	SetPremium(ctx context.Context, tx *gorm.DB, partnerID snowflake.ID, grant PremiumGrant) error
}
