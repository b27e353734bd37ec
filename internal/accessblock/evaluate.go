// Package accessblock derives a partner's access state from their invoices.
//
// Evaluate is the single authoritative implementation: the trusted RPC and
// any advisory caller run the same function, so the numbers can never
// disagree across the trust boundary.
package accessblock

import (
	"time"

	invoicedomain "github.com/pedifacil/billing/internal/invoice/domain"
)

// Severity labels the escalation level of an overdue state.
type Severity string

const (
	SeverityClear     Severity = "clear"
	SeverityWarning   Severity = "warning"
	SeverityBlocked   Severity = "blocked"
	SeverityPermanent Severity = "permanent"
)

// Policy holds the block thresholds in days past due.
type Policy struct {
	GraceDays     int
	PermanentDays int
}

// Status is recomputed from the invoice set on every read, never stored.
type Status struct {
	HasOverdueInvoice bool                      `json:"has_overdue_invoice"`
	OverdueInvoice    *invoicedomain.Invoice    `json:"overdue_invoice,omitempty"`
	DaysPastDue       int                       `json:"days_past_due"`
	IsBlocked         bool                      `json:"is_blocked"`
	Severity          Severity                  `json:"severity"`
	BlockingMessage   string                    `json:"blocking_message,omitempty"`
}

const (
	msgPermanent = "Sua conta foi bloqueada por falta de pagamento. Entre em contato com o suporte para regularizar."
	msgBlocked   = "Seu acesso está bloqueado. Pague a fatura em atraso para reativar sua conta."
	msgWarning   = "Você possui uma fatura vencida. Pague até o fim do período de carência para evitar o bloqueio."
)

// Evaluate computes the access state for a partner's invoice set.
// Paid invoices are ignored; for each remaining invoice past its due date,
// days past due is floor((now-DueDate)/24h) and the maximum across
// invoices wins. Blocked means strictly more than GraceDays past due.
func Evaluate(invoices []*invoicedomain.Invoice, now time.Time, policy Policy) Status {
	status := Status{Severity: SeverityClear}

	for _, invoice := range invoices {
		if invoice == nil || invoice.PaymentStatus == invoicedomain.PaymentStatusPaid {
			continue
		}
		if !invoice.DueDate.Before(now) {
			continue
		}

		days := int(now.Sub(invoice.DueDate) / (24 * time.Hour))
		if !status.HasOverdueInvoice || days > status.DaysPastDue {
			status.HasOverdueInvoice = true
			status.DaysPastDue = days
			status.OverdueInvoice = invoice
		}
	}

	if !status.HasOverdueInvoice {
		return status
	}

	status.IsBlocked = status.DaysPastDue > policy.GraceDays
	switch {
	case status.DaysPastDue >= policy.PermanentDays:
		status.Severity = SeverityPermanent
		status.BlockingMessage = msgPermanent
	case status.DaysPastDue >= policy.GraceDays:
		status.Severity = SeverityBlocked
		status.BlockingMessage = msgBlocked
	default:
		status.Severity = SeverityWarning
		status.BlockingMessage = msgWarning
	}
	return status
}
