// Package mercadopago implements the payment gateway contract against the
// Mercado Pago REST API.
package mercadopago

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"
	obsmetrics "github.com/pedifacil/billing/internal/observability/metrics"
	paymentdomain "github.com/pedifacil/billing/internal/payment/domain"
	"go.uber.org/zap"
)

type Config struct {
	BaseURL     string
	AccessToken string
	Timeout     time.Duration
}

type Client struct {
	cfg        Config
	httpClient *http.Client
	log        *zap.Logger
}

func NewClient(cfg Config, log *zap.Logger) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		log:        log.Named("mercadopago.client"),
	}
}

// centavosToAmount converts centavos to the decimal reais the API expects.
func centavosToAmount(v int64) float64 {
	return float64(v) / 100
}

func (c *Client) CreatePixPayment(ctx context.Context, amount int64, description, payerEmail, idempotencyKey string) (*paymentdomain.PixCharge, error) {
	body := map[string]any{
		"transaction_amount": centavosToAmount(amount),
		"description":        description,
		"external_reference": idempotencyKey,
		"payment_method_id":  "pix",
		"payer":              map[string]any{"email": payerEmail},
	}

	var resp paymentResponse
	if err := c.post(ctx, "create_pix_payment", "/v1/payments", idempotencyKey, body, &resp); err != nil {
		return nil, err
	}
	return &paymentdomain.PixCharge{
		ID:           resp.id(),
		QRCode:       resp.PointOfInteraction.TransactionData.QRCode,
		QRCodeBase64: resp.PointOfInteraction.TransactionData.QRCodeBase64,
		Status:       resp.Status,
	}, nil
}

func (c *Client) CreateBoletoPayment(ctx context.Context, amount int64, description string, payer paymentdomain.Payer, idempotencyKey string) (*paymentdomain.BoletoCharge, error) {
	body := map[string]any{
		"transaction_amount": centavosToAmount(amount),
		"description":        description,
		"external_reference": idempotencyKey,
		"payment_method_id":  "bolbradesco",
		"payer": map[string]any{
			"email":      payer.Email,
			"first_name": payer.FirstName,
			"last_name":  payer.LastName,
			"identification": map[string]any{
				"type":   payer.DocumentType,
				"number": payer.DocumentNumber,
			},
		},
	}

	var resp paymentResponse
	if err := c.post(ctx, "create_boleto_payment", "/v1/payments", idempotencyKey, body, &resp); err != nil {
		return nil, err
	}
	return &paymentdomain.BoletoCharge{
		ID:        resp.id(),
		TicketURL: resp.TransactionDetails.ExternalResourceURL,
		Status:    resp.Status,
	}, nil
}

func (c *Client) GetPaymentStatus(ctx context.Context, paymentID string) (*paymentdomain.ChargeStatus, error) {
	var resp paymentResponse
	if err := c.get(ctx, "get_payment_status", "/v1/payments/"+paymentID, &resp); err != nil {
		return nil, err
	}
	return &paymentdomain.ChargeStatus{
		ID:                resp.id(),
		Status:            resp.Status,
		ExternalReference: resp.ExternalReference,
	}, nil
}

func (c *Client) CreateCustomer(ctx context.Context, email, name string) (*paymentdomain.Customer, error) {
	body := map[string]any{"email": email, "first_name": name}

	var resp customerResponse
	if err := c.post(ctx, "create_customer", "/v1/customers", "", body, &resp); err != nil {
		return nil, err
	}
	return &paymentdomain.Customer{ID: resp.ID, Email: resp.Email}, nil
}

func (c *Client) GetCustomerByEmail(ctx context.Context, email string) (*paymentdomain.Customer, error) {
	var resp struct {
		Results []customerResponse `json:"results"`
	}
	query := url.Values{"email": {email}}
	if err := c.get(ctx, "search_customer", "/v1/customers/search?"+query.Encode(), &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) == 0 {
		return nil, nil
	}
	return &paymentdomain.Customer{ID: resp.Results[0].ID, Email: resp.Results[0].Email}, nil
}

func (c *Client) SaveCard(ctx context.Context, customerID, cardToken string) (*paymentdomain.Card, error) {
	body := map[string]any{"token": cardToken}

	var resp cardResponse
	if err := c.post(ctx, "save_card", "/v1/customers/"+customerID+"/cards", "", body, &resp); err != nil {
		return nil, err
	}
	return resp.toCard(), nil
}

func (c *Client) ListCards(ctx context.Context, customerID string) ([]paymentdomain.Card, error) {
	var resp []cardResponse
	if err := c.get(ctx, "list_cards", "/v1/customers/"+customerID+"/cards", &resp); err != nil {
		return nil, err
	}
	cards := make([]paymentdomain.Card, 0, len(resp))
	for _, card := range resp {
		cards = append(cards, *card.toCard())
	}
	return cards, nil
}

func (c *Client) DeleteCard(ctx context.Context, customerID, cardID string) error {
	return c.do(ctx, "delete_card", http.MethodDelete, "/v1/customers/"+customerID+"/cards/"+cardID, "", nil, nil)
}

func (c *Client) CreateCardPayment(ctx context.Context, req paymentdomain.CardChargeRequest) (*paymentdomain.CardCharge, error) {
	body := map[string]any{
		"transaction_amount": centavosToAmount(req.Amount),
		"description":        req.Description,
		"external_reference": req.ExternalReference,
		"payer": map[string]any{
			"type": "customer",
			"id":   req.CustomerID,
		},
		"payment_method_id": "card",
		"card_id":           req.CardID,
	}

	var resp paymentResponse
	if err := c.post(ctx, "create_card_payment", "/v1/payments", req.IdempotencyKey, body, &resp); err != nil {
		return nil, err
	}
	return &paymentdomain.CardCharge{ID: resp.id(), Status: resp.Status}, nil
}

func (c *Client) CreateSubscription(ctx context.Context, req paymentdomain.SubscriptionRequest) (*paymentdomain.GatewaySubscription, error) {
	body := map[string]any{
		"reason":             req.Reason,
		"external_reference": req.ExternalReference,
		"payer_email":        req.PayerEmail,
		"card_token_id":      req.CardToken,
		"status":             "authorized",
		"auto_recurring": map[string]any{
			"frequency":          req.Frequency,
			"frequency_type":     req.FrequencyType,
			"transaction_amount": centavosToAmount(req.Amount),
			"currency_id":        req.Currency,
		},
	}

	var resp preapprovalResponse
	if err := c.post(ctx, "create_subscription", "/preapproval", req.ExternalReference, body, &resp); err != nil {
		return nil, err
	}
	return resp.toSubscription(), nil
}

func (c *Client) CancelSubscription(ctx context.Context, subscriptionID string) error {
	return c.updateSubscription(ctx, "cancel_subscription", subscriptionID, "cancelled")
}

func (c *Client) PauseSubscription(ctx context.Context, subscriptionID string) error {
	return c.updateSubscription(ctx, "pause_subscription", subscriptionID, "paused")
}

func (c *Client) ResumeSubscription(ctx context.Context, subscriptionID string) error {
	return c.updateSubscription(ctx, "resume_subscription", subscriptionID, "authorized")
}

func (c *Client) updateSubscription(ctx context.Context, operation, subscriptionID, status string) error {
	body := map[string]any{"status": status}
	return c.do(ctx, operation, http.MethodPut, "/preapproval/"+subscriptionID, "", body, nil)
}

func (c *Client) post(ctx context.Context, operation, path, idempotencyKey string, body, out any) error {
	return c.do(ctx, operation, http.MethodPost, path, idempotencyKey, body, out)
}

// get retries transient failures with bounded exponential backoff. Only
// reads go through here; creation calls are never blindly retried.
func (c *Client) get(ctx context.Context, operation, path string, out any) error {
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3), ctx)
	return backoff.Retry(func() error {
		err := c.do(ctx, operation, http.MethodGet, path, "", nil, out)
		if err == nil {
			return nil
		}
		if retryableGatewayErr(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

func retryableGatewayErr(err error) bool {
	var apiErr *apiError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode >= http.StatusInternalServerError
	}
	// Transport-level failures (timeouts, refused connections) are retryable.
	return errors.Is(err, paymentdomain.ErrGateway)
}

type apiError struct {
	StatusCode int
	Body       string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("%v: gateway returned %d: %s", paymentdomain.ErrGateway, e.StatusCode, e.Body)
}

func (e *apiError) Unwrap() error { return paymentdomain.ErrGateway }

func (c *Client) do(ctx context.Context, operation, method, path, idempotencyKey string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	if idempotencyKey != "" {
		req.Header.Set("X-Idempotency-Key", idempotencyKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		obsmetrics.Billing().ObserveGatewayRequest(operation, obsmetrics.GatewayOutcomeError, time.Since(start))
		return fmt.Errorf("%w: %v", paymentdomain.ErrGateway, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		obsmetrics.Billing().ObserveGatewayRequest(operation, obsmetrics.GatewayOutcomeError, time.Since(start))
		return fmt.Errorf("%w: %v", paymentdomain.ErrGateway, err)
	}

	if resp.StatusCode == http.StatusNotFound {
		obsmetrics.Billing().ObserveGatewayRequest(operation, obsmetrics.GatewayOutcomeError, time.Since(start))
		return paymentdomain.ErrPaymentNotFound
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		obsmetrics.Billing().ObserveGatewayRequest(operation, obsmetrics.GatewayOutcomeError, time.Since(start))
		c.log.Warn("gateway request failed",
			zap.String("operation", operation),
			zap.Int("status", resp.StatusCode),
		)
		return &apiError{StatusCode: resp.StatusCode, Body: string(raw)}
	}
	obsmetrics.Billing().ObserveGatewayRequest(operation, obsmetrics.GatewayOutcomeOK, time.Since(start))

	if out == nil || len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}

type paymentResponse struct {
	ID                 json.Number `json:"id"`
	Status             string      `json:"status"`
	ExternalReference  string      `json:"external_reference"`
	PointOfInteraction struct {
		TransactionData struct {
			QRCode       string `json:"qr_code"`
			QRCodeBase64 string `json:"qr_code_base64"`
		} `json:"transaction_data"`
	} `json:"point_of_interaction"`
	TransactionDetails struct {
		ExternalResourceURL string `json:"external_resource_url"`
	} `json:"transaction_details"`
}

func (r paymentResponse) id() string { return r.ID.String() }

type customerResponse struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

type cardResponse struct {
	ID             json.Number `json:"id"`
	LastFourDigits string      `json:"last_four_digits"`
	PaymentMethod  struct {
		Name string `json:"name"`
	} `json:"payment_method"`
}

func (r cardResponse) toCard() *paymentdomain.Card {
	return &paymentdomain.Card{
		ID:       r.ID.String(),
		LastFour: r.LastFourDigits,
		Brand:    r.PaymentMethod.Name,
	}
}

type preapprovalResponse struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	NextPaymentDate string `json:"next_payment_date"`
}

func (r preapprovalResponse) toSubscription() *paymentdomain.GatewaySubscription {
	sub := &paymentdomain.GatewaySubscription{ID: r.ID, Status: r.Status}
	if t, err := time.Parse(time.RFC3339, r.NextPaymentDate); err == nil {
		sub.NextPaymentDate = t
	}
	return sub
}
