package interfaces

import (
	"context"

	"github.com/akylbek/payment-system/deposit-reconciler/internal/models"
)

// DepositStateRepository defines the contract for deposit state data access
type DepositStateRepository interface {
	InsertAwaiting(ctx context.Context, requestID, userID string) error
	TransitionPhase(ctx context.Context, requestID string, from, to models.Phase, resolvedBy models.ResolvedBy, reason, receiptNo string) (int64, error)
	GetByRequestID(ctx context.Context, requestID string) (*models.DepositStateInfo, error)
}
