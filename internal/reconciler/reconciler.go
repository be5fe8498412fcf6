package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/deposit-reconciler/internal/models"
	"github.com/akylbek/payment-system/deposit-reconciler/internal/telemetry"
)

var (
	// ErrAlreadyStarted is returned when Start is called while a deposit is
	// still awaiting confirmation.
	ErrAlreadyStarted = errors.New("reconciler: deposit already awaiting confirmation")
)

// Observer receives the single terminal resolution of a deposit. It fires
// exactly once per reconciler, from whichever channel won the race, and never
// fires after Cancel.
type Observer func(models.Resolution)

// Config carries the reconciliation policy for one deposit.
type Config struct {
	MaxPollAttempts int
	ConfirmTimeout  time.Duration
	Observer        Observer
	Logger          *zap.Logger
}

// Reconciler owns the lifecycle of one outstanding deposit request and
// arbitrates between the push channel, the poll channel, the balance probe
// and the wall-clock timer. All channels race; the first non-pending report
// accepted under the mutex wins, and every later report is a no-op. The
// reconciler never touches the money itself: it only observes.
type Reconciler struct {
	mu sync.Mutex

	requestID    string
	phase        models.Phase
	resolvedBy   models.ResolvedBy
	reason       string
	receiptNo    string
	startBalance decimal.Decimal
	attemptsMade int

	maxAttempts int
	timeout     time.Duration
	observer    Observer
	logger      *zap.Logger

	timer  *time.Timer
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates an idle reconciler for the given requestId.
func New(requestID string, cfg Config) *Reconciler {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		requestID:   requestID,
		phase:       models.PhaseIdle,
		maxAttempts: cfg.MaxPollAttempts,
		timeout:     cfg.ConfirmTimeout,
		observer:    cfg.Observer,
		logger:      logger,
	}
}

// Start moves the reconciler into AWAITING_CONFIRMATION, snapshots the
// pre-deposit balance and arms the wall-clock timer. The returned context is
// canceled on any terminal transition or on Cancel; channel adapters must
// stop on it.
func (r *Reconciler) Start(parent context.Context, startBalance decimal.Decimal) (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != models.PhaseIdle {
		return nil, ErrAlreadyStarted
	}

	r.phase = models.PhaseAwaiting
	r.startBalance = startBalance
	r.attemptsMade = 0
	r.ctx, r.cancel = context.WithCancel(parent)
	r.timer = time.AfterFunc(r.timeout, r.onTimeout)

	telemetry.ActiveDeposits.Inc()
	r.logger.Info("Awaiting deposit confirmation",
		zap.String("request_id", r.requestID),
		zap.String("start_balance", startBalance.String()),
		zap.Duration("timeout", r.timeout),
	)
	return r.ctx, nil
}

// ReportPush feeds one push-channel report into the state machine. Reports
// for a different requestId, pending reports, and reports arriving after
// resolution are discarded.
func (r *Reconciler) ReportPush(requestID string, report models.StatusReport) {
	r.report("push", requestID, report, models.ResolvedByPush, false)
}

// ReportPoll feeds one poll-channel report into the state machine. Every
// call counts against the attempt budget; exhausting the budget without a
// terminal status resolves the deposit as TIMED_OUT.
func (r *Reconciler) ReportPoll(requestID string, report models.StatusReport) {
	r.report("poll", requestID, report, models.ResolvedByPoll, true)
}

func (r *Reconciler) report(channel, requestID string, report models.StatusReport, by models.ResolvedBy, countAttempt bool) {
	r.mu.Lock()

	if requestID != r.requestID || r.phase != models.PhaseAwaiting {
		r.mu.Unlock()
		telemetry.StaleReportsDropped.WithLabelValues(channel).Inc()
		r.logger.Debug("Dropped stale channel report",
			zap.String("channel", channel),
			zap.String("request_id", requestID),
		)
		return
	}

	if countAttempt {
		r.attemptsMade++
	}

	switch report.Status {
	case models.StatusSuccess:
		res := r.resolveLocked(models.PhaseSucceeded, by, report.Reason, report.ReceiptNo)
		r.mu.Unlock()
		r.notify(res)
	case models.StatusFailure:
		res := r.resolveLocked(models.PhaseFailed, by, report.Reason, report.ReceiptNo)
		r.mu.Unlock()
		r.notify(res)
	default:
		// Still pending. Poll exhaustion is a timeout, not a failure: the
		// payment may yet land after we stop watching.
		if countAttempt && r.attemptsMade >= r.maxAttempts {
			res := r.resolveLocked(models.PhaseTimedOut, models.ResolvedByTimeout, "poll attempts exhausted", "")
			r.mu.Unlock()
			r.notify(res)
			return
		}
		r.mu.Unlock()
	}
}

// ReportBalanceIncrease is the corroborating signal: if the wallet balance
// grew past the submission snapshot while the deposit is still unconfirmed,
// the money has visibly arrived and the deposit is treated as succeeded. The
// inverse is never inferred; an unchanged balance proves nothing.
func (r *Reconciler) ReportBalanceIncrease(currentBalance decimal.Decimal) {
	r.mu.Lock()

	if r.phase != models.PhaseAwaiting || !currentBalance.GreaterThan(r.startBalance) {
		r.mu.Unlock()
		return
	}

	res := r.resolveLocked(models.PhaseSucceeded, models.ResolvedByBalanceDelta, "balance increased before channel confirmation", "")
	r.mu.Unlock()
	r.notify(res)
}

// onTimeout fires once from the armed timer. A deposit that times out is not
// a failed deposit; the user is told to re-check their wallet later.
func (r *Reconciler) onTimeout() {
	r.mu.Lock()

	if r.phase != models.PhaseAwaiting {
		r.mu.Unlock()
		return
	}

	res := r.resolveLocked(models.PhaseTimedOut, models.ResolvedByTimeout, "confirmation window elapsed", "")
	r.mu.Unlock()
	r.notify(res)
}

// Cancel tears down the timer and both channels without emitting a terminal
// resolution. Used when the caller abandons the wait; the underlying payment
// is neither retried nor rolled back.
func (r *Reconciler) Cancel() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.phase != models.PhaseAwaiting {
		return
	}

	r.phase = models.PhaseIdle
	r.teardownLocked()
	telemetry.ActiveDeposits.Dec()
	r.logger.Info("Deposit watch canceled", zap.String("request_id", r.requestID))
}

// resolveLocked performs the single terminal transition. Callers must hold
// the mutex and must only call it while phase is AWAITING_CONFIRMATION.
func (r *Reconciler) resolveLocked(phase models.Phase, by models.ResolvedBy, reason, receiptNo string) models.Resolution {
	r.phase = phase
	r.resolvedBy = by
	r.reason = reason
	r.receiptNo = receiptNo
	r.teardownLocked()

	telemetry.ActiveDeposits.Dec()
	telemetry.DepositsResolved.WithLabelValues(string(phase), string(by)).Inc()
	r.logger.Info("Deposit resolved",
		zap.String("request_id", r.requestID),
		zap.String("phase", string(phase)),
		zap.String("resolved_by", string(by)),
		zap.Int("poll_attempts", r.attemptsMade),
	)

	return models.Resolution{
		RequestID:  r.requestID,
		Phase:      phase,
		ResolvedBy: by,
		Reason:     reason,
		ResolvedAt: time.Now().UTC(),
	}
}

func (r *Reconciler) teardownLocked() {
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
}

// notify runs outside the mutex so observers may call back into accessors.
func (r *Reconciler) notify(res models.Resolution) {
	if r.observer != nil {
		r.observer(res)
	}
}

// RequestID returns the requestId this reconciler watches.
func (r *Reconciler) RequestID() string {
	return r.requestID
}

// Phase returns the current lifecycle phase.
func (r *Reconciler) Phase() models.Phase {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.phase
}

// ResolvedBy returns the channel that produced the terminal signal, or the
// empty value while unresolved.
func (r *Reconciler) ResolvedBy() models.ResolvedBy {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolvedBy
}

// Attempts returns the number of poll attempts consumed so far.
func (r *Reconciler) Attempts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.attemptsMade
}

// ReceiptNo returns the provider receipt number, when one was reported.
func (r *Reconciler) ReceiptNo() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.receiptNo
}
