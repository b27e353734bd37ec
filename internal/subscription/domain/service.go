package domain

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	paymentdomain "github.com/pedifacil/billing/internal/payment/domain"
)

var (
	ErrValidation           = errors.New("subscription_validation_failed")
	ErrSubscriptionNotFound = errors.New("subscription_not_found")
	ErrSubscriptionExists   = errors.New("subscription_already_active")
	ErrInvalidTransition    = errors.New("subscription_invalid_transition")
	ErrInvalidReference     = errors.New("subscription_invalid_reference")
)

// externalReferencePrefix tags gateway charges belonging to the premium
// subscription path.
const externalReferencePrefix = "premium"

// BuildExternalReference formats the reference stamped on gateway
// subscriptions: premium_<partnerID>_<unix>.
func BuildExternalReference(partnerID snowflake.ID, at time.Time) string {
	return fmt.Sprintf("%s_%s_%d", externalReferencePrefix, partnerID.String(), at.Unix())
}

// ParseExternalReference extracts the partner id from a premium reference.
func ParseExternalReference(ref string) (snowflake.ID, error) {
	parts := strings.Split(ref, "_")
	if len(parts) != 3 || parts[0] != externalReferencePrefix {
		return 0, ErrInvalidReference
	}
	raw, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return 0, ErrInvalidReference
	}
	return snowflake.ParseInt64(raw), nil
}

// PaymentEventRef locates the subscription a webhook event belongs to,
// either by the charge's external reference or the preapproval id.
type PaymentEventRef struct {
	PartnerID     snowflake.ID
	PreapprovalID string
}

type CreateSubscriptionRequest struct {
	PartnerID snowflake.ID `json:"partner_id" validate:"required"`
	PlanID    snowflake.ID `json:"plan_id" validate:"required"`
	CardToken string       `json:"card_token" validate:"required"`
}

type Service interface {
	// Create resolves the gateway customer and card, opens the gateway
	// subscription, persists the local record active, and grants the
	// partner's premium flags.
	Create(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error)

	GetActive(ctx context.Context, partnerID snowflake.ID) (*Subscription, error)

	// HandlePaymentEvent applies one recurring-charge outcome. Approved
	// resets the failure count; a non-approval increments it and flips
	// the subscription to failed (revoking premium) only at the
	// configured consecutive-failure threshold.
	HandlePaymentEvent(ctx context.Context, ref PaymentEventRef, status string) error

	Pause(ctx context.Context, partnerID snowflake.ID) error
	Resume(ctx context.Context, partnerID snowflake.ID) error

	// Cancel ends the gateway subscription but leaves premium in place
	// until the already-paid period lapses: the partner keeps premium
	// until NextPaymentDate, enforced by EnsurePremiumLapse.
	Cancel(ctx context.Context, partnerID snowflake.ID) error

	// ProcessPayment charges the stored card server-side and records the
	// attempt. There is no client-side charge path.
	ProcessPayment(ctx context.Context, partnerID snowflake.ID, isRenewal bool) (*paymentdomain.Payment, error)

	// EnsurePremiumLapse revokes premium from partners whose grace window
	// has passed. Returns the number of partners lapsed.
	EnsurePremiumLapse(ctx context.Context) (int64, error)

	SaveCard(ctx context.Context, partnerID snowflake.ID, cardToken string) (*paymentdomain.Card, error)
	ListCards(ctx context.Context, partnerID snowflake.ID) ([]paymentdomain.Card, error)
	RemoveCard(ctx context.Context, partnerID snowflake.ID, cardID string) error
}
