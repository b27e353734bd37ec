package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	subscriptiondomain "github.com/pedifacil/billing/internal/subscription/domain"
)

func (s *Server) ListPlans(c *gin.Context) {
	plans, err := s.planSvc.ListActive(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": plans})
}

func (s *Server) CreateSubscription(c *gin.Context) {
	var req subscriptiondomain.CreateSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", err.Error()))
		return
	}

	sub, err := s.subscriptionSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": sub})
}

func (s *Server) GetActiveSubscription(c *gin.Context) {
	partnerID, ok := parseIDParam(c, "partner_id")
	if !ok {
		return
	}

	sub, err := s.subscriptionSvc.GetActive(c.Request.Context(), partnerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": sub})
}

func (s *Server) PauseSubscription(c *gin.Context) {
	partnerID, ok := parseIDParam(c, "partner_id")
	if !ok {
		return
	}

	if err := s.subscriptionSvc.Pause(c.Request.Context(), partnerID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"status": "paused"}})
}

func (s *Server) ResumeSubscription(c *gin.Context) {
	partnerID, ok := parseIDParam(c, "partner_id")
	if !ok {
		return
	}

	if err := s.subscriptionSvc.Resume(c.Request.Context(), partnerID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"status": "active"}})
}

func (s *Server) CancelSubscription(c *gin.Context) {
	partnerID, ok := parseIDParam(c, "partner_id")
	if !ok {
		return
	}

	if err := s.subscriptionSvc.Cancel(c.Request.Context(), partnerID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"status": "cancelled"}})
}

type saveCardRequest struct {
	CardToken string `json:"card_token" binding:"required"`
}

func (s *Server) SaveCard(c *gin.Context) {
	partnerID, ok := parseIDParam(c, "partner_id")
	if !ok {
		return
	}

	var req saveCardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("card_token", "required", "card_token is required"))
		return
	}

	card, err := s.subscriptionSvc.SaveCard(c.Request.Context(), partnerID, req.CardToken)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": card})
}

func (s *Server) ListCards(c *gin.Context) {
	partnerID, ok := parseIDParam(c, "partner_id")
	if !ok {
		return
	}

	cards, err := s.subscriptionSvc.ListCards(c.Request.Context(), partnerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": cards})
}

func (s *Server) RemoveCard(c *gin.Context) {
	partnerID, ok := parseIDParam(c, "partner_id")
	if !ok {
		return
	}
	cardID := strings.TrimSpace(c.Param("card_id"))
	if cardID == "" {
		AbortWithError(c, newValidationError("card_id", "required", "card_id is required"))
		return
	}

	if err := s.subscriptionSvc.RemoveCard(c.Request.Context(), partnerID, cardID); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"removed": true}})
}
