package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// RepairSettlement runs the fee settlement repair pass on demand. The
// scheduler runs the same pass daily; this endpoint exists for support
// tooling.
func (s *Server) RepairSettlement(c *gin.Context) {
	fixed, err := s.feeSvc.RepairSettlementDrift(c.Request.Context())
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{
		"success":          true,
		"fixed_fees_count": fixed,
	}})
}
