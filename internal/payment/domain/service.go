package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	invoicedomain "github.com/pedifacil/billing/internal/invoice/domain"
)

// Webhook processing outcomes, recorded on the event row and counted.
const (
	OutcomeProcessed = "processed"
	OutcomeIgnored   = "ignored"
	OutcomeDuplicate = "duplicate"
)

// WebhookEvent is one inbound gateway notification.
type WebhookEvent struct {
	Provider        string
	ProviderEventID string
	Type            string
	DataID          string
	PreapprovalID   string
	Payload         []byte
}

type Service interface {
	// GeneratePayment requests a PIX or boleto charge for the invoice's
	// total and stores the returned instrument on the invoice.
	GeneratePayment(ctx context.Context, invoiceID snowflake.ID, method invoicedomain.PaymentMethod, payer Payer) (*invoicedomain.Invoice, error)

	// CheckPaymentStatus polls the gateway for the invoice's payment and
	// marks the invoice paid on approval. It never marks paid on a
	// gateway failure.
	CheckPaymentStatus(ctx context.Context, invoiceID snowflake.ID) (*invoicedomain.Invoice, error)

	// ProcessWebhook routes a gateway notification to the invoice or
	// subscription path, at most once per provider event id.
	ProcessWebhook(ctx context.Context, event WebhookEvent) (string, error)
}
