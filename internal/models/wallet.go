package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Wallet is the authoritative balance snapshot returned by the gateway.
type Wallet struct {
	UserID   string          `json:"user_id"`
	Balance  decimal.Decimal `json:"balance"`
	Currency string          `json:"currency"`
}

// Transaction is one wallet ledger entry.
type Transaction struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Amount         decimal.Decimal `json:"amount"`
	Fee            decimal.Decimal `json:"fee"`
	Status         string          `json:"status"`
	Description    string          `json:"description"`
	RecipientPhone string          `json:"recipient_phone,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// StkPushResponse is the synchronous acknowledgement of an STK push
// submission. It confirms only that the prompt was sent, never the outcome.
type StkPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}
