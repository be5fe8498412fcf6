package poller

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/deposit-reconciler/internal/models"
	"github.com/akylbek/payment-system/deposit-reconciler/internal/telemetry"
)

// StatusClient is the poll primitive of the payment gateway.
type StatusClient interface {
	GetStatus(ctx context.Context, requestID string) (models.StatusReport, error)
}

// Sink receives poll-channel reports. Satisfied by the reconciler.
type Sink interface {
	ReportPoll(requestID string, report models.StatusReport)
}

// StatusPoller queries the gateway for one requestId on a fixed interval and
// forwards every result, pending included, to the sink. It stops on context
// cancellation or after the attempt budget, whichever comes first; once the
// context is canceled no further reports are delivered.
type StatusPoller struct {
	client      StatusClient
	interval    time.Duration
	maxAttempts int
	logger      *zap.Logger
}

func NewStatusPoller(client StatusClient, interval time.Duration, maxAttempts int, logger *zap.Logger) *StatusPoller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusPoller{
		client:      client,
		interval:    interval,
		maxAttempts: maxAttempts,
		logger:      logger,
	}
}

// Run blocks until the poller finishes. A failed query is logged and retried
// on the next tick; it never produces a terminal report on its own.
func (p *StatusPoller) Run(ctx context.Context, requestID string, sink Sink) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		telemetry.PollAttempts.Inc()
		report, err := p.client.GetStatus(ctx, requestID)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.logger.Warn("Status poll failed",
				zap.String("request_id", requestID),
				zap.Int("attempt", attempt+1),
				zap.Error(err),
			)
			continue
		}

		if ctx.Err() != nil {
			return
		}
		sink.ReportPoll(requestID, report)
	}
}

// BalanceClient reads the authoritative wallet balance.
type BalanceClient interface {
	GetBalance(ctx context.Context) (decimal.Decimal, error)
}

// BalanceSink receives balance snapshots. Satisfied by the reconciler.
type BalanceSink interface {
	ReportBalanceIncrease(currentBalance decimal.Decimal)
}

// BalanceWatcher probes the wallet balance on an interval while a deposit is
// unconfirmed. It feeds the corroborating balance-delta path: a ledger credit
// can outrace both confirmation channels, and the user must not keep waiting
// once the money has visibly arrived.
type BalanceWatcher struct {
	client   BalanceClient
	interval time.Duration
	logger   *zap.Logger
}

func NewBalanceWatcher(client BalanceClient, interval time.Duration, logger *zap.Logger) *BalanceWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BalanceWatcher{client: client, interval: interval, logger: logger}
}

// Run blocks until the context is canceled. Probe failures are tolerated;
// this channel is purely corroborating.
func (w *BalanceWatcher) Run(ctx context.Context, sink BalanceSink) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		bal, err := w.client.GetBalance(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Debug("Balance probe failed", zap.Error(err))
			continue
		}

		if ctx.Err() != nil {
			return
		}
		sink.ReportBalanceIncrease(bal)
	}
}
