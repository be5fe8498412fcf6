package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/deposit-reconciler/internal/models"
	"github.com/akylbek/payment-system/deposit-reconciler/internal/pushstream"
	"github.com/akylbek/payment-system/deposit-reconciler/internal/telemetry"
)

// Publisher republishes callback outcomes onto the push channel. *nats.Conn
// satisfies it.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// CallbackHandler is the ingress for the provider's STK callback. It parses
// the Daraja envelope and republishes a normalized status event; the
// reconciler consumes it through the push stream.
type CallbackHandler struct {
	publisher Publisher
}

func NewCallbackHandler(publisher Publisher) *CallbackHandler {
	return &CallbackHandler{publisher: publisher}
}

// Daraja STK callback envelope.
type stkCallbackBody struct {
	Body struct {
		StkCallback struct {
			MerchantRequestID string `json:"MerchantRequestID"`
			CheckoutRequestID string `json:"CheckoutRequestID"`
			ResultCode        int    `json:"ResultCode"`
			ResultDesc        string `json:"ResultDesc"`
			CallbackMetadata  struct {
				Item []struct {
					Name  string      `json:"Name"`
					Value interface{} `json:"Value"`
				} `json:"Item"`
			} `json:"CallbackMetadata"`
		} `json:"stkCallback"`
	} `json:"Body"`
}

// HandleStkCallback always ACKs with ResultCode 0; anything else triggers
// provider-side retry storms. Malformed payloads are logged and dropped.
func (h *CallbackHandler) HandleStkCallback(c *gin.Context) {
	ack := gin.H{"ResultCode": 0, "ResultDesc": "Accepted"}

	var payload stkCallbackBody
	if err := c.ShouldBindJSON(&payload); err != nil {
		telemetry.Logger.Error("Malformed STK callback", zap.Error(err))
		c.JSON(http.StatusOK, ack)
		return
	}

	cb := payload.Body.StkCallback
	if cb.CheckoutRequestID == "" {
		telemetry.Logger.Warn("STK callback without CheckoutRequestID")
		c.JSON(http.StatusOK, ack)
		return
	}

	event := models.StatusEvent{
		CheckoutRequestID: cb.CheckoutRequestID,
		OccurredAt:        time.Now().UTC(),
	}
	if cb.ResultCode == 0 {
		event.Status = models.StatusSuccess
		for _, item := range cb.CallbackMetadata.Item {
			if item.Name == "MpesaReceiptNumber" {
				event.ReceiptNo = fmt.Sprintf("%v", item.Value)
			}
		}
	} else {
		event.Status = models.StatusFailure
		event.Reason = cb.ResultDesc
	}

	data, _ := json.Marshal(event)
	if err := h.publisher.Publish(pushstream.Subject, data); err != nil {
		// The poll channel remains the fallback for this deposit.
		telemetry.Logger.Error("Failed to republish STK callback",
			zap.String("request_id", cb.CheckoutRequestID),
			zap.Error(err),
		)
	} else {
		telemetry.Logger.Info("STK callback republished",
			zap.String("request_id", cb.CheckoutRequestID),
			zap.String("status", string(event.Status)),
		)
	}

	c.JSON(http.StatusOK, ack)
}
