package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Phase is the reconciliation lifecycle phase of one deposit request.
type Phase string

const (
	PhaseIdle      Phase = "IDLE"
	PhaseAwaiting  Phase = "AWAITING_CONFIRMATION"
	PhaseSucceeded Phase = "SUCCEEDED"
	PhaseFailed    Phase = "FAILED"
	PhaseTimedOut  Phase = "TIMED_OUT"
)

// Terminal reports whether the phase is a resolved end state.
func (p Phase) Terminal() bool {
	switch p {
	case PhaseSucceeded, PhaseFailed, PhaseTimedOut:
		return true
	}
	return false
}

// DepositStatus is the status reported by either confirmation channel.
type DepositStatus string

const (
	StatusPending DepositStatus = "pending"
	StatusSuccess DepositStatus = "success"
	StatusFailure DepositStatus = "failure"
)

// ResolvedBy records which channel produced the terminal signal.
type ResolvedBy string

const (
	ResolvedByPush         ResolvedBy = "push"
	ResolvedByPoll         ResolvedBy = "poll"
	ResolvedByTimeout      ResolvedBy = "timeout"
	ResolvedByBalanceDelta ResolvedBy = "balance_delta"
)

// DepositRequest is one STK push initiation. RequestID is the
// CheckoutRequestID assigned by the payment gateway at submission;
// all fields are immutable after submission.
type DepositRequest struct {
	RequestID   string          `json:"request_id"`
	UserID      string          `json:"user_id"`
	Amount      decimal.Decimal `json:"amount"`
	PhoneNumber string          `json:"phone_number"`
	SubmittedAt time.Time       `json:"submitted_at"`
}

// Resolution is the single terminal outcome emitted for a deposit.
type Resolution struct {
	RequestID  string     `json:"request_id"`
	Phase      Phase      `json:"phase"`
	ResolvedBy ResolvedBy `json:"resolved_by"`
	Reason     string     `json:"reason,omitempty"`
	ResolvedAt time.Time  `json:"resolved_at"`
}

// StatusReport is one answer from a confirmation channel.
type StatusReport struct {
	RequestID string        `json:"request_id"`
	Status    DepositStatus `json:"status"`
	Reason    string        `json:"reason,omitempty"`
	ReceiptNo string        `json:"receipt_no,omitempty"`
}

// StatusEvent is the push-channel wire message republished on NATS by the
// callback ingress.
type StatusEvent struct {
	CheckoutRequestID string        `json:"checkout_request_id"`
	Status            DepositStatus `json:"status"`
	Reason            string        `json:"reason,omitempty"`
	ReceiptNo         string        `json:"receipt_no,omitempty"`
	OccurredAt        time.Time     `json:"occurred_at"`
}

// DepositStateInfo is the persisted state row for one deposit.
type DepositStateInfo struct {
	RequestID     string
	UserID        string
	Phase         string
	PreviousPhase string
	ResolvedBy    string
	Reason        string
	ReceiptNo     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
