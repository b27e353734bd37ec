package server

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	invoicedomain "github.com/pedifacil/billing/internal/invoice/domain"
	paymentdomain "github.com/pedifacil/billing/internal/payment/domain"
)

func (s *Server) ListInvoices(c *gin.Context) {
	var req invoicedomain.ListInvoicesRequest

	if raw := strings.TrimSpace(c.Query("partner_id")); raw != "" {
		id, err := snowflake.ParseString(raw)
		if err != nil {
			AbortWithError(c, newValidationError("partner_id", "invalid_id", "invalid id"))
			return
		}
		req.PartnerID = id
	}
	if raw := c.Query("status"); raw != "" {
		req.Status = invoicedomain.PaymentStatus(raw)
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			AbortWithError(c, newValidationError("limit", "invalid_limit", "expected a non-negative integer"))
			return
		}
		req.Limit = limit
	}

	invoices, err := s.invoiceSvc.List(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoices})
}

func (s *Server) GetInvoice(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	invoice, err := s.invoiceSvc.Get(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

type generatePaymentRequest struct {
	Method string              `json:"method" binding:"required,oneof=pix boleto"`
	Payer  paymentdomain.Payer `json:"payer"`
}

func (s *Server) GenerateInvoicePayment(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	var req generatePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", err.Error()))
		return
	}

	invoice, err := s.paymentSvc.GeneratePayment(c.Request.Context(), id, invoicedomain.PaymentMethod(req.Method), req.Payer)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoice})
}

func (s *Server) CheckInvoicePaymentStatus(c *gin.Context) {
	id, ok := parseIDParam(c, "id")
	if !ok {
		return
	}

	invoice, err := s.paymentSvc.CheckPaymentStatus(c.Request.Context(), id)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": invoice})
}
