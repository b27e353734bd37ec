package mercadopago

import (
	"context"
	"fmt"
	"sync"
	"time"

	paymentdomain "github.com/pedifacil/billing/internal/payment/domain"
)

// Stub is an in-memory gateway for development and tests. Charge
// authorization stays server-side even in development; the stub simply
// approves everything it is asked to create.
type Stub struct {
	mu            sync.Mutex
	seq           int
	payments      map[string]*paymentdomain.ChargeStatus
	customers     map[string]*paymentdomain.Customer
	cards         map[string][]paymentdomain.Card
	subscriptions map[string]string

	// NowFunc overrides wall time so fake-clock tests get consistent
	// renewal dates. Nil means time.Now.
	NowFunc func() time.Time
}

func (s *Stub) now() time.Time {
	if s.NowFunc != nil {
		return s.NowFunc()
	}
	return time.Now().UTC()
}

func NewStub() *Stub {
	return &Stub{
		payments:      map[string]*paymentdomain.ChargeStatus{},
		customers:     map[string]*paymentdomain.Customer{},
		cards:         map[string][]paymentdomain.Card{},
		subscriptions: map[string]string{},
	}
}

func (s *Stub) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

// ApprovePayment flips a stub payment to approved, standing in for the
// payer completing the charge.
func (s *Stub) ApprovePayment(paymentID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if charge, ok := s.payments[paymentID]; ok {
		charge.Status = paymentdomain.ChargeStatusApproved
	}
}

func (s *Stub) CreatePixPayment(_ context.Context, amount int64, description, payerEmail, idempotencyKey string) (*paymentdomain.PixCharge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID("pix")
	s.payments[id] = &paymentdomain.ChargeStatus{ID: id, Status: paymentdomain.ChargeStatusPending, ExternalReference: idempotencyKey}
	return &paymentdomain.PixCharge{
		ID:           id,
		QRCode:       "00020126580014br.gov.bcb.pix" + id,
		QRCodeBase64: "c3R1Yi1xcg==",
		Status:       paymentdomain.ChargeStatusPending,
	}, nil
}

func (s *Stub) CreateBoletoPayment(_ context.Context, amount int64, description string, payer paymentdomain.Payer, idempotencyKey string) (*paymentdomain.BoletoCharge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID("boleto")
	s.payments[id] = &paymentdomain.ChargeStatus{ID: id, Status: paymentdomain.ChargeStatusPending, ExternalReference: idempotencyKey}
	return &paymentdomain.BoletoCharge{
		ID:        id,
		TicketURL: "https://stub.local/boleto/" + id,
		Status:    paymentdomain.ChargeStatusPending,
	}, nil
}

func (s *Stub) GetPaymentStatus(_ context.Context, paymentID string) (*paymentdomain.ChargeStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	charge, ok := s.payments[paymentID]
	if !ok {
		return nil, paymentdomain.ErrPaymentNotFound
	}
	copied := *charge
	return &copied, nil
}

// SetPaymentReference stamps an external reference on a stub payment so
// webhook tests can route it.
func (s *Stub) SetPaymentReference(paymentID, reference string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if charge, ok := s.payments[paymentID]; ok {
		charge.ExternalReference = reference
	}
}

func (s *Stub) CreateCustomer(_ context.Context, email, name string) (*paymentdomain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	customer := &paymentdomain.Customer{ID: s.nextID("cus"), Email: email}
	s.customers[email] = customer
	return customer, nil
}

func (s *Stub) GetCustomerByEmail(_ context.Context, email string) (*paymentdomain.Customer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	customer, ok := s.customers[email]
	if !ok {
		return nil, nil
	}
	return customer, nil
}

func (s *Stub) SaveCard(_ context.Context, customerID, cardToken string) (*paymentdomain.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	card := paymentdomain.Card{ID: s.nextID("card"), LastFour: "4242", Brand: "visa"}
	s.cards[customerID] = append(s.cards[customerID], card)
	return &card, nil
}

func (s *Stub) ListCards(_ context.Context, customerID string) ([]paymentdomain.Card, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]paymentdomain.Card(nil), s.cards[customerID]...), nil
}

func (s *Stub) DeleteCard(_ context.Context, customerID, cardID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cards := s.cards[customerID]
	for i, card := range cards {
		if card.ID == cardID {
			s.cards[customerID] = append(cards[:i], cards[i+1:]...)
			return nil
		}
	}
	return nil
}

func (s *Stub) CreateCardPayment(_ context.Context, req paymentdomain.CardChargeRequest) (*paymentdomain.CardCharge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID("charge")
	s.payments[id] = &paymentdomain.ChargeStatus{
		ID:                id,
		Status:            paymentdomain.ChargeStatusApproved,
		ExternalReference: req.ExternalReference,
	}
	return &paymentdomain.CardCharge{ID: id, Status: paymentdomain.ChargeStatusApproved}, nil
}

func (s *Stub) CreateSubscription(_ context.Context, req paymentdomain.SubscriptionRequest) (*paymentdomain.GatewaySubscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID("preapproval")
	s.subscriptions[id] = "authorized"
	return &paymentdomain.GatewaySubscription{
		ID:              id,
		Status:          "authorized",
		NextPaymentDate: s.now().AddDate(0, 1, 0),
	}, nil
}

func (s *Stub) CancelSubscription(_ context.Context, subscriptionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[subscriptionID] = "cancelled"
	return nil
}

func (s *Stub) PauseSubscription(_ context.Context, subscriptionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[subscriptionID] = "paused"
	return nil
}

func (s *Stub) ResumeSubscription(_ context.Context, subscriptionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subscriptions[subscriptionID] = "authorized"
	return nil
}

var _ paymentdomain.Gateway = (*Stub)(nil)
