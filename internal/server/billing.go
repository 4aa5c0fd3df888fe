package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (s *Server) CheckEligibility(c *gin.Context) {
	result, err := s.billingSvc.CheckEligibility(c.Request.Context(), accountID(c), c.Query("operation"))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

type chargeRequest struct {
	Operation string `json:"operation"`
}

func (s *Server) Charge(c *gin.Context) {
	var req chargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.billingSvc.Charge(c.Request.Context(), accountID(c), req.Operation)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	switch {
	case result.Success:
		c.JSON(http.StatusOK, result)
	case result.Error == "account not found":
		c.JSON(http.StatusNotFound, result)
	default:
		c.JSON(http.StatusPaymentRequired, result)
	}
}

func (s *Server) GetBalance(c *gin.Context) {
	info, err := s.billingSvc.GetBalanceInfo(c.Request.Context(), accountID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) GetUsageStats(c *gin.Context) {
	stats, err := s.billingSvc.GetUsageStats(c.Request.Context(), accountID(c))
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, stats)
}
