package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	paymentdomain "github.com/pedifacil/billing/internal/payment/domain"
)

// mercadoPagoNotification is the shape Mercado Pago posts. Older topics
// (merchant_order, payment) also arrive as bare query parameters, so every
// field is optional here and backfilled from the query string.
type mercadoPagoNotification struct {
	ID     json.Number `json:"id"`
	Type   string      `json:"type"`
	Topic  string      `json:"topic"`
	Action string      `json:"action"`
	Data   struct {
		ID string `json:"id"`
	} `json:"data"`
}

// MercadoPagoWebhook ingests gateway notifications. Anything the engine
// cannot act on is acknowledged with 200 so the gateway stops retrying;
// transient failures return 500 so it retries later.
func (s *Server) MercadoPagoWebhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil {
		AbortWithError(c, newValidationError("body", "unreadable", "could not read request body"))
		return
	}

	var notif mercadoPagoNotification
	if len(body) > 0 {
		// A malformed body is still worth routing when the query string
		// carries the identifiers, so decode errors are not fatal.
		_ = json.Unmarshal(body, &notif)
	}

	eventType := notif.Type
	if eventType == "" {
		eventType = notif.Topic
	}
	if eventType == "" {
		eventType = c.Query("topic")
	}
	if eventType == "" {
		eventType = c.Query("type")
	}

	dataID := notif.Data.ID
	if dataID == "" {
		dataID = c.Query("data.id")
	}
	if dataID == "" && eventType == "payment" {
		dataID = c.Query("id")
	}

	eventID := notif.ID.String()
	if eventID == "" {
		eventID = c.Query("id")
	}
	if eventID == "" && dataID != "" {
		// Some notification modes omit the envelope id entirely. The
		// action plus charge id still dedupes redeliveries.
		eventID = strings.TrimSpace(notif.Action + ":" + dataID)
	}

	event := paymentdomain.WebhookEvent{
		Provider:        "mercadopago",
		ProviderEventID: eventID,
		Type:            eventType,
		DataID:          dataID,
		Payload:         body,
	}
	if eventType == "subscription_preapproval" || eventType == "preapproval" {
		event.PreapprovalID = dataID
	}

	outcome, err := s.paymentSvc.ProcessWebhook(c.Request.Context(), event)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"outcome": outcome}})
}
