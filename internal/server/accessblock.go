package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

// CheckAccessBlock answers whether the calling partner is behind on
// invoices. The partner app calls it on startup with its id in the
// X-Partner-ID header.
func (s *Server) CheckAccessBlock(c *gin.Context) {
	raw := strings.TrimSpace(c.GetHeader("X-Partner-ID"))
	if raw == "" {
		raw = strings.TrimSpace(c.Query("partner_id"))
	}
	partnerID, err := snowflake.ParseString(raw)
	if err != nil {
		AbortWithError(c, newValidationError("partner_id", "invalid_id", "invalid id"))
		return
	}

	status, err := s.accessBlockSvc.Check(c.Request.Context(), partnerID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": status})
}
