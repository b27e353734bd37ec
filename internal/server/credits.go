package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	creditdomain "github.com/pedifacil/billing/internal/credit/domain"
)

func (s *Server) CreateCredit(c *gin.Context) {
	var req creditdomain.CreateCreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, newValidationError("body", "invalid_json", err.Error()))
		return
	}

	credit, err := s.creditSvc.Create(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"data": credit})
}

func (s *Server) ListAvailableCredits(c *gin.Context) {
	partnerID, ok := parseIDParam(c, "partner_id")
	if !ok {
		return
	}

	credits, err := s.creditSvc.GetAvailableCredits(c.Request.Context(), partnerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	summary, err := s.creditSvc.Summary(c.Request.Context(), partnerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": credits, "summary": summary})
}
