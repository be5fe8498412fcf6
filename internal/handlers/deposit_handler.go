package handlers

import (
	"database/sql"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/deposit-reconciler/internal/gateway"
	"github.com/akylbek/payment-system/deposit-reconciler/internal/interfaces"
	"github.com/akylbek/payment-system/deposit-reconciler/internal/models"
	"github.com/akylbek/payment-system/deposit-reconciler/internal/service"
	"github.com/akylbek/payment-system/deposit-reconciler/internal/telemetry"
)

type DepositHandler struct {
	repo    interfaces.DepositStateRepository
	service *service.DepositService
}

func NewDepositHandler(repo interfaces.DepositStateRepository, svc *service.DepositService) *DepositHandler {
	return &DepositHandler{repo: repo, service: svc}
}

type initiateDepositRequest struct {
	Amount      decimal.Decimal `json:"amount" binding:"required"`
	PhoneNumber string          `json:"phone_number" binding:"required"`
}

// InitiateDeposit sends the STK push and returns the tracking handle. The
// caller identity comes from the session layer upstream; here it is just a
// header.
func (h *DepositHandler) InitiateDeposit(c *gin.Context) {
	userID := c.GetHeader("X-User-ID")
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user id"})
		return
	}

	var req initiateDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		telemetry.Logger.Error("Error decoding deposit request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	dep, err := h.service.InitiateDeposit(c.Request.Context(), userID, req.Amount, req.PhoneNumber)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrDepositInProgress):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, service.ErrInvalidAmount), errors.Is(err, gateway.ErrInvalidPhone):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			telemetry.Logger.Error("Error initiating deposit",
				zap.String("user_id", userID),
				zap.Error(err),
			)
			c.JSON(http.StatusBadGateway, gin.H{"error": "failed to initiate deposit"})
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message":      "STK push sent; check your phone",
		"request_id":   dep.RequestID,
		"amount":       dep.Amount,
		"phone_number": dep.PhoneNumber,
		"submitted_at": dep.SubmittedAt,
	})
}

// GetDepositState returns the persisted lifecycle state of one deposit. A
// TIMED_OUT phase carries wording that the payment may still complete.
func (h *DepositHandler) GetDepositState(c *gin.Context) {
	requestID := c.Param("id")

	info, err := h.repo.GetByRequestID(c.Request.Context(), requestID)
	if err == sql.ErrNoRows {
		c.JSON(http.StatusNotFound, gin.H{"error": "Deposit not found"})
		return
	}

	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch deposit state"})
		return
	}

	resp := gin.H{
		"request_id":     info.RequestID,
		"phase":          info.Phase,
		"previous_phase": info.PreviousPhase,
		"resolved_by":    info.ResolvedBy,
		"reason":         info.Reason,
		"receipt_no":     info.ReceiptNo,
		"created_at":     info.CreatedAt,
		"updated_at":     info.UpdatedAt,
	}
	if info.Phase == string(models.PhaseTimedOut) {
		resp["guidance"] = "We could not confirm this deposit in time. It may still complete; check your wallet balance in a few minutes before retrying."
	}

	c.JSON(http.StatusOK, resp)
}

// CancelDeposit stops watching a pending deposit. Observation only; the
// payment is not reversed.
func (h *DepositHandler) CancelDeposit(c *gin.Context) {
	requestID := c.Param("id")

	if err := h.service.CancelDeposit(c.Request.Context(), requestID); err != nil {
		if errors.Is(err, service.ErrUnknownDeposit) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no active deposit for that request id"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to cancel deposit"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "canceled", "request_id": requestID})
}
