package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrGateway marks the payment API as unreachable or answering non-2xx.
	// Callers may retry idempotent reads; creation calls carry idempotency
	// keys and are never blindly retried.
	ErrGateway = errors.New("payment_gateway_unavailable")

	ErrPaymentNotFound  = errors.New("payment_not_found")
	ErrCardDeclined     = errors.New("card_declined")
	ErrDuplicateEvent   = errors.New("payment_event_duplicate")
	ErrInvalidEvent     = errors.New("payment_event_invalid")
	ErrUnknownReference = errors.New("payment_reference_unknown")
)

// Gateway charge statuses as reported by the provider.
const (
	ChargeStatusApproved  = "approved"
	ChargeStatusPending   = "pending"
	ChargeStatusRejected  = "rejected"
	ChargeStatusCancelled = "cancelled"
)

type Payer struct {
	Email          string `json:"email"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	DocumentType   string `json:"document_type"`
	DocumentNumber string `json:"document_number"`
}

// PixCharge is the gateway's PIX instrument for an invoice.
type PixCharge struct {
	ID           string
	QRCode       string
	QRCodeBase64 string
	Status       string
}

// BoletoCharge is the gateway's boleto instrument for an invoice.
type BoletoCharge struct {
	ID        string
	TicketURL string
	Status    string
}

// ChargeStatus is the gateway's view of an existing payment.
type ChargeStatus struct {
	ID                string
	Status            string
	ExternalReference string
}

type Customer struct {
	ID    string
	Email string
}

type Card struct {
	ID       string
	LastFour string
	Brand    string
}

type CardChargeRequest struct {
	Amount            int64
	Description       string
	CustomerID        string
	CardID            string
	PayerEmail        string
	ExternalReference string
	IdempotencyKey    string
}

type CardCharge struct {
	ID     string
	Status string
}

type SubscriptionRequest struct {
	Reason            string
	Amount            int64
	Currency          string
	Frequency         int
	FrequencyType     string
	PayerEmail        string
	CardToken         string
	ExternalReference string
}

type GatewaySubscription struct {
	ID              string
	Status          string
	NextPaymentDate time.Time
}

// Gateway is the external payment provider contract. Implementations must
// apply explicit timeouts; only status reads may be retried internally.
type Gateway interface {
	CreatePixPayment(ctx context.Context, amount int64, description, payerEmail, idempotencyKey string) (*PixCharge, error)
	CreateBoletoPayment(ctx context.Context, amount int64, description string, payer Payer, idempotencyKey string) (*BoletoCharge, error)
	GetPaymentStatus(ctx context.Context, paymentID string) (*ChargeStatus, error)

	CreateCustomer(ctx context.Context, email, name string) (*Customer, error)
	GetCustomerByEmail(ctx context.Context, email string) (*Customer, error)
	SaveCard(ctx context.Context, customerID, cardToken string) (*Card, error)
	ListCards(ctx context.Context, customerID string) ([]Card, error)
	DeleteCard(ctx context.Context, customerID, cardID string) error
	CreateCardPayment(ctx context.Context, req CardChargeRequest) (*CardCharge, error)

	CreateSubscription(ctx context.Context, req SubscriptionRequest) (*GatewaySubscription, error)
	CancelSubscription(ctx context.Context, subscriptionID string) error
	PauseSubscription(ctx context.Context, subscriptionID string) error
	ResumeSubscription(ctx context.Context, subscriptionID string) error
}
