package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	billingdomain "github.com/paperwell/metering/internal/billing/domain"
)

func (s *Server) Deposit(c *gin.Context) {
	var req billingdomain.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.billingSvc.Deposit(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) CreatePendingDeposit(c *gin.Context) {
	var req billingdomain.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.billingSvc.CreatePendingDeposit(c.Request.Context(), req)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, result)
}

type webhookRequest struct {
	PaymentID string `json:"paymentId"`
	Reason    string `json:"reason"`
}

func (s *Server) ConfirmDeposit(c *gin.Context) {
	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	result, err := s.billingSvc.CompleteDeposit(c.Request.Context(), req.PaymentID)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) FailDeposit(c *gin.Context) {
	var req webhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	if err := s.billingSvc.FailDeposit(c.Request.Context(), req.PaymentID, req.Reason); err != nil {
		AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "failed"})
}
