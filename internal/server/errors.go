package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/pedifacil/billing/internal/credit/domain"
	feedomain "github.com/pedifacil/billing/internal/fee/domain"
	invoicedomain "github.com/pedifacil/billing/internal/invoice/domain"
	partnerdomain "github.com/pedifacil/billing/internal/partner/domain"
	paymentdomain "github.com/pedifacil/billing/internal/payment/domain"
	plandomain "github.com/pedifacil/billing/internal/plan/domain"
	subscriptiondomain "github.com/pedifacil/billing/internal/subscription/domain"
	"gorm.io/gorm"
)

type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

func (v ValidationErrors) Error() string {
	return "validation error"
}

type errorPayload struct {
	Type    string            `json:"type"`
	Message string            `json:"message"`
	Errors  []ValidationError `json:"errors,omitempty"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}

		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.Header("Content-Type", "application/json")
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func newValidationError(field, code, message string) error {
	return &ValidationErrors{
		Errors: []ValidationError{
			{
				Field:   field,
				Code:    code,
				Message: message,
			},
		},
	}
}

func mapError(err error) (int, errorPayload) {
	if err == nil {
		return http.StatusInternalServerError, errorPayload{
			Type:    "internal_error",
			Message: "internal server error",
		}
	}

	var vErr *ValidationErrors
	if errors.As(err, &vErr) {
		return http.StatusBadRequest, errorPayload{
			Type:    "validation_error",
			Message: "validation error",
			Errors:  vErr.Errors,
		}
	}

	switch {
	case errors.Is(err, feedomain.ErrValidation),
		errors.Is(err, creditdomain.ErrValidation),
		errors.Is(err, subscriptiondomain.ErrValidation):
		return http.StatusUnprocessableEntity, errorPayload{
			Type:    "validation_error",
			Message: err.Error(),
		}

	case errors.Is(err, feedomain.ErrFeeNotFound),
		errors.Is(err, creditdomain.ErrCreditNotFound),
		errors.Is(err, invoicedomain.ErrInvoiceNotFound),
		errors.Is(err, partnerdomain.ErrPartnerNotFound),
		errors.Is(err, plandomain.ErrPlanNotFound),
		errors.Is(err, subscriptiondomain.ErrSubscriptionNotFound),
		errors.Is(err, paymentdomain.ErrPaymentNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{
			Type:    "not_found",
			Message: err.Error(),
		}

	case errors.Is(err, feedomain.ErrDuplicateFee),
		errors.Is(err, feedomain.ErrFeeImmutable),
		errors.Is(err, invoicedomain.ErrInvoiceAlreadyPaid),
		errors.Is(err, invoicedomain.ErrNothingToInvoice),
		errors.Is(err, invoicedomain.ErrCycleNotElapsed),
		errors.Is(err, subscriptiondomain.ErrSubscriptionExists),
		errors.Is(err, subscriptiondomain.ErrInvalidTransition):
		return http.StatusConflict, errorPayload{
			Type:    "conflict",
			Message: err.Error(),
		}

	case errors.Is(err, paymentdomain.ErrCardDeclined):
		return http.StatusPaymentRequired, errorPayload{
			Type:    "card_declined",
			Message: err.Error(),
		}

	case errors.Is(err, paymentdomain.ErrGateway):
		return http.StatusBadGateway, errorPayload{
			Type:    "gateway_error",
			Message: "payment gateway unavailable",
		}

	case errors.Is(err, paymentdomain.ErrInvalidEvent),
		errors.Is(err, subscriptiondomain.ErrInvalidReference):
		return http.StatusBadRequest, errorPayload{
			Type:    "invalid_request",
			Message: err.Error(),
		}
	}

	return http.StatusInternalServerError, errorPayload{
		Type:    "internal_error",
		Message: "internal server error",
	}
}
