package refresher

import (
	"context"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/deposit-reconciler/internal/models"
)

// WalletClient reads authoritative state from the source of truth.
type WalletClient interface {
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	GetTransactionHistory(ctx context.Context) ([]models.Transaction, error)
}

// Refresher re-pulls the authoritative balance and transaction history. It
// runs exactly once per deposit, after the terminal resolution, never before:
// showing a speculatively fetched balance as if it were a confirmation is how
// users get lied to. It runs after a timeout too, to catch funds that landed
// after the client stopped watching.
type Refresher struct {
	client WalletClient
	logger *zap.Logger
}

func New(client WalletClient, logger *zap.Logger) *Refresher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Refresher{client: client, logger: logger}
}

// Result is the refreshed view handed to observers. A refresh failure never
// alters the deposit resolution; it is surfaced as a warning alongside it.
type Result struct {
	Balance      decimal.Decimal
	Transactions []models.Transaction
	Warning      string
}

// Refresh fetches balance and history. Partial failures degrade to a warning
// instead of an error; the payment outcome is already final.
func (r *Refresher) Refresh(ctx context.Context, requestID string) Result {
	var res Result

	balance, err := r.client.GetBalance(ctx)
	if err != nil {
		r.logger.Warn("Balance refresh failed after resolution",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		res.Warning = "balance refresh failed; pull to refresh later"
		return res
	}
	res.Balance = balance

	txns, err := r.client.GetTransactionHistory(ctx)
	if err != nil {
		r.logger.Warn("Transaction history refresh failed after resolution",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
		res.Warning = "transaction history refresh failed"
		return res
	}
	res.Transactions = txns

	r.logger.Info("Refreshed wallet after resolution",
		zap.String("request_id", requestID),
		zap.String("balance", balance.String()),
		zap.Int("transactions", len(txns)),
	)
	return res
}
