package service

import (
	"context"
	"errors"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/pedifacil/billing/internal/clock"
	invoicedomain "github.com/pedifacil/billing/internal/invoice/domain"
	obsmetrics "github.com/pedifacil/billing/internal/observability/metrics"
	paymentdomain "github.com/pedifacil/billing/internal/payment/domain"
	subscriptiondomain "github.com/pedifacil/billing/internal/subscription/domain"
	"github.com/pedifacil/billing/pkg/db"
	"github.com/pedifacil/billing/pkg/repository"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// invoiceReferencePrefix tags gateway charges belonging to invoices, as
// opposed to the premium subscription references.
const invoiceReferencePrefix = "inv-"

type Params struct {
	fx.In

	DB              *gorm.DB
	Log             *zap.Logger
	GenID           *snowflake.Node
	Clock           clock.Clock
	Gateway         paymentdomain.Gateway
	InvoiceSvc      invoicedomain.Service
	SubscriptionSvc subscriptiondomain.Service
	EventStore      repository.Repository[paymentdomain.PaymentEvent]
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	genID           *snowflake.Node
	clock           clock.Clock
	gateway         paymentdomain.Gateway
	invoiceSvc      invoicedomain.Service
	subscriptionSvc subscriptiondomain.Service
	eventStore      repository.Repository[paymentdomain.PaymentEvent]
}

func NewService(p Params) paymentdomain.Service {
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("payment.service"),
		genID:           p.GenID,
		clock:           p.Clock,
		gateway:         p.Gateway,
		invoiceSvc:      p.InvoiceSvc,
		subscriptionSvc: p.SubscriptionSvc,
		eventStore:      p.EventStore,
	}
}

func invoiceReference(invoiceID snowflake.ID) string {
	return invoiceReferencePrefix + invoiceID.String()
}

func parseInvoiceReference(ref string) (snowflake.ID, bool) {
	raw, ok := strings.CutPrefix(ref, invoiceReferencePrefix)
	if !ok {
		return 0, false
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, false
	}
	return id, true
}

func (s *Service) GeneratePayment(ctx context.Context, invoiceID snowflake.ID, method invoicedomain.PaymentMethod, payer paymentdomain.Payer) (*invoicedomain.Invoice, error) {
	invoice, err := s.invoiceSvc.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.PaymentStatus == invoicedomain.PaymentStatusPaid {
		return nil, invoicedomain.ErrInvoiceAlreadyPaid
	}
	if invoice.PaymentID != "" {
		// An instrument already exists; hand it back rather than charging twice.
		return invoice, nil
	}

	description := "Fatura PediFacil " + invoice.ReferenceDate.Format("01/2006")
	idempotencyKey := invoiceReference(invoiceID)

	var (
		paymentID string
		data      invoicedomain.PaymentData
	)
	switch method {
	case invoicedomain.PaymentMethodPix:
		charge, err := s.gateway.CreatePixPayment(ctx, invoice.TotalAmount, description, invoice.PartnerEmail, idempotencyKey)
		if err != nil {
			return nil, err
		}
		paymentID = charge.ID
		data = invoicedomain.PaymentData{
			QRCode:       charge.QRCode,
			QRCodeBase64: charge.QRCodeBase64,
		}
	case invoicedomain.PaymentMethodBoleto:
		if payer.Email == "" {
			payer.Email = invoice.PartnerEmail
		}
		if payer.DocumentNumber == "" {
			payer.DocumentNumber = invoice.PartnerDocument
			payer.DocumentType = "CNPJ"
		}
		charge, err := s.gateway.CreateBoletoPayment(ctx, invoice.TotalAmount, description, payer, idempotencyKey)
		if err != nil {
			return nil, err
		}
		paymentID = charge.ID
		data = invoicedomain.PaymentData{TicketURL: charge.TicketURL}
	default:
		return nil, invoicedomain.ErrInvoiceNotFound
	}

	if err := s.invoiceSvc.AttachPayment(ctx, invoiceID, paymentID, method, data); err != nil {
		return nil, err
	}

	s.log.Info("payment.instrument.created",
		zap.String("invoice_id", invoiceID.String()),
		zap.String("payment_id", paymentID),
		zap.String("method", string(method)),
	)
	return s.invoiceSvc.Get(ctx, invoiceID)
}

// CheckPaymentStatus polls the gateway for the invoice's instrument and
// settles the invoice when the charge is approved. Gateway errors never
// mark an invoice paid.
func (s *Service) CheckPaymentStatus(ctx context.Context, invoiceID snowflake.ID) (*invoicedomain.Invoice, error) {
	invoice, err := s.invoiceSvc.Get(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.PaymentStatus == invoicedomain.PaymentStatusPaid {
		return invoice, nil
	}
	if invoice.PaymentID == "" {
		return invoice, nil
	}

	status, err := s.gateway.GetPaymentStatus(ctx, invoice.PaymentID)
	if err != nil {
		return nil, err
	}
	if status.Status != paymentdomain.ChargeStatusApproved {
		return invoice, nil
	}

	if err := s.markInvoicePaid(ctx, invoiceID); err != nil {
		return nil, err
	}
	return s.invoiceSvc.Get(ctx, invoiceID)
}

func (s *Service) markInvoicePaid(ctx context.Context, invoiceID snowflake.ID) error {
	err := s.invoiceSvc.MarkPaid(ctx, invoiceID, s.clock.Now())
	if errors.Is(err, invoicedomain.ErrInvoiceAlreadyPaid) {
		return nil
	}
	return err
}

// ProcessWebhook records the provider event and routes it by the charge's
// external reference. The unique (provider, event id) index makes
// redeliveries no-ops.
func (s *Service) ProcessWebhook(ctx context.Context, event paymentdomain.WebhookEvent) (string, error) {
	if event.Provider == "" || event.ProviderEventID == "" {
		return "", paymentdomain.ErrInvalidEvent
	}

	record := paymentdomain.PaymentEvent{
		ID:              s.genID.Generate(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		EventType:       event.Type,
		Payload:         event.Payload,
		ReceivedAt:      s.clock.Now(),
	}
	if err := s.eventStore.Create(ctx, &record); err != nil {
		if db.IsDuplicateKeyErr(err) {
			obsmetrics.Billing().IncWebhookEvent(event.Type, obsmetrics.WebhookOutcomeDuplicate)
			s.log.Info("payment.webhook.duplicate",
				zap.String("provider", event.Provider),
				zap.String("provider_event_id", event.ProviderEventID),
			)
			return paymentdomain.OutcomeDuplicate, nil
		}
		return "", err
	}

	outcome, err := s.routeEvent(ctx, event)
	if err != nil {
		obsmetrics.Billing().IncWebhookEvent(event.Type, obsmetrics.WebhookOutcomeFailed)
		return "", err
	}

	now := s.clock.Now()
	if updateErr := s.db.WithContext(ctx).
		Model(&paymentdomain.PaymentEvent{}).
		Where("id = ?", record.ID).
		Updates(map[string]any{
			"outcome":      outcome,
			"processed_at": now,
		}).Error; updateErr != nil {
		return "", updateErr
	}

	obsmetrics.Billing().IncWebhookEvent(event.Type, outcome)
	s.log.Info("payment.webhook.processed",
		zap.String("provider", event.Provider),
		zap.String("provider_event_id", event.ProviderEventID),
		zap.String("type", event.Type),
		zap.String("outcome", outcome),
	)
	return outcome, nil
}

func (s *Service) routeEvent(ctx context.Context, event paymentdomain.WebhookEvent) (string, error) {
	switch event.Type {
	case "payment":
		return s.routePaymentEvent(ctx, event)
	case "subscription_preapproval", "preapproval":
		// Preapproval status changes carry no charge outcome; the
		// recurring charge arrives as its own payment event.
		return paymentdomain.OutcomeIgnored, nil
	default:
		return paymentdomain.OutcomeIgnored, nil
	}
}

func (s *Service) routePaymentEvent(ctx context.Context, event paymentdomain.WebhookEvent) (string, error) {
	if event.DataID == "" {
		return paymentdomain.OutcomeIgnored, nil
	}

	status, err := s.gateway.GetPaymentStatus(ctx, event.DataID)
	if err != nil {
		if errors.Is(err, paymentdomain.ErrPaymentNotFound) {
			return paymentdomain.OutcomeIgnored, nil
		}
		return "", err
	}

	if invoiceID, ok := parseInvoiceReference(status.ExternalReference); ok {
		if status.Status != paymentdomain.ChargeStatusApproved {
			return paymentdomain.OutcomeIgnored, nil
		}
		if err := s.markInvoicePaid(ctx, invoiceID); err != nil {
			if errors.Is(err, invoicedomain.ErrInvoiceNotFound) {
				return paymentdomain.OutcomeIgnored, nil
			}
			return "", err
		}
		return paymentdomain.OutcomeProcessed, nil
	}

	if partnerID, err := subscriptiondomain.ParseExternalReference(status.ExternalReference); err == nil {
		ref := subscriptiondomain.PaymentEventRef{
			PartnerID:     partnerID,
			PreapprovalID: event.PreapprovalID,
		}
		if err := s.subscriptionSvc.HandlePaymentEvent(ctx, ref, status.Status); err != nil {
			if errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound) {
				return paymentdomain.OutcomeIgnored, nil
			}
			return "", err
		}
		return paymentdomain.OutcomeProcessed, nil
	}

	if invoice, err := s.findInvoiceByPaymentID(ctx, event.DataID); err == nil && invoice != nil {
		if status.Status != paymentdomain.ChargeStatusApproved {
			return paymentdomain.OutcomeIgnored, nil
		}
		if err := s.markInvoicePaid(ctx, invoice.ID); err != nil {
			return "", err
		}
		return paymentdomain.OutcomeProcessed, nil
	}

	s.log.Warn("payment.webhook.unknown_reference",
		zap.String("gateway_payment_id", event.DataID),
		zap.String("external_reference", status.ExternalReference),
	)
	return paymentdomain.OutcomeIgnored, nil
}

func (s *Service) findInvoiceByPaymentID(ctx context.Context, paymentID string) (*invoicedomain.Invoice, error) {
	var invoice invoicedomain.Invoice
	err := s.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		First(&invoice).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &invoice, nil
}
