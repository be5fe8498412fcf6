package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/deposit-reconciler/internal/gateway"
	"github.com/akylbek/payment-system/deposit-reconciler/internal/interfaces"
	"github.com/akylbek/payment-system/deposit-reconciler/internal/models"
	"github.com/akylbek/payment-system/deposit-reconciler/internal/poller"
	"github.com/akylbek/payment-system/deposit-reconciler/internal/pushstream"
	"github.com/akylbek/payment-system/deposit-reconciler/internal/reconciler"
	"github.com/akylbek/payment-system/deposit-reconciler/internal/refresher"
	"github.com/akylbek/payment-system/deposit-reconciler/internal/telemetry"
)

var (
	ErrDepositInProgress = errors.New("service: a deposit is already awaiting confirmation for this user")
	ErrInvalidAmount     = errors.New("service: amount must be between KES 1 and KES 300000")
	ErrUnknownDeposit    = errors.New("service: no active deposit for that request id")
)

// Deposit amount bounds enforced by the provider.
var (
	minDeposit = decimal.NewFromInt(1)
	maxDeposit = decimal.NewFromInt(300000)
)

// Gateway is the payment-initiation boundary consumed by the service.
type Gateway interface {
	SubmitDeposit(ctx context.Context, amount decimal.Decimal, phoneNumber, accountReference string) (models.StkPushResponse, error)
	GetStatus(ctx context.Context, requestID string) (models.StatusReport, error)
	GetBalance(ctx context.Context) (decimal.Decimal, error)
	GetTransactionHistory(ctx context.Context) ([]models.Transaction, error)
}

// EventPublisher publishes deposit state-change events. *kafka.Writer
// satisfies it.
type EventPublisher interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// SubmissionLock prevents a second concurrent deposit per user while one is
// still awaiting confirmation.
type SubmissionLock interface {
	Acquire(ctx context.Context, userID string) (bool, error)
	Release(ctx context.Context, userID string) error
}

// Policy carries the reconciliation knobs.
type Policy struct {
	PollInterval    time.Duration
	MaxPollAttempts int
	ConfirmTimeout  time.Duration
}

// DepositService ties the reconciler core to its collaborators: the gateway,
// the per-user submission lock, the poll and balance loops, the push-stream
// registry, persistence and event publishing.
type DepositService struct {
	repo      interfaces.DepositStateRepository
	gateway   Gateway
	lock      SubmissionLock
	publisher EventPublisher
	refresher *refresher.Refresher
	policy    Policy
	logger    *zap.Logger

	mu     sync.Mutex
	active map[string]*activeDeposit
}

type activeDeposit struct {
	rec    *reconciler.Reconciler
	userID string
}

func NewDepositService(
	repo interfaces.DepositStateRepository,
	gw Gateway,
	lock SubmissionLock,
	publisher EventPublisher,
	policy Policy,
	logger *zap.Logger,
) *DepositService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DepositService{
		repo:      repo,
		gateway:   gw,
		lock:      lock,
		publisher: publisher,
		refresher: refresher.New(gw, logger),
		policy:    policy,
		logger:    logger,
		active:    make(map[string]*activeDeposit),
	}
}

// InitiateDeposit submits an STK push and begins watching for its outcome.
// The synchronous return only acknowledges the prompt was sent; the outcome
// arrives later through the reconciler.
func (s *DepositService) InitiateDeposit(ctx context.Context, userID string, amount decimal.Decimal, phoneNumber string) (*models.DepositRequest, error) {
	if amount.LessThan(minDeposit) || amount.GreaterThan(maxDeposit) {
		return nil, ErrInvalidAmount
	}
	if err := gateway.ValidatePhone(phoneNumber); err != nil {
		return nil, err
	}
	phone := gateway.NormalizePhone(phoneNumber)

	acquired, err := s.lock.Acquire(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("acquire submission lock: %w", err)
	}
	if !acquired {
		return nil, ErrDepositInProgress
	}

	// Snapshot the balance before the push goes out; it anchors the
	// balance-delta corroboration. If the snapshot fails the deposit still
	// proceeds, just without that fallback channel.
	watchBalance := true
	startBalance, err := s.gateway.GetBalance(ctx)
	if err != nil {
		s.logger.Warn("Could not snapshot start balance; balance corroboration disabled",
			zap.String("user_id", userID),
			zap.Error(err),
		)
		watchBalance = false
	}

	resp, err := s.gateway.SubmitDeposit(ctx, amount, phone, userID)
	if err != nil {
		s.lock.Release(ctx, userID)
		return nil, fmt.Errorf("submit deposit: %w", err)
	}
	requestID := resp.CheckoutRequestID

	req := &models.DepositRequest{
		RequestID:   requestID,
		UserID:      userID,
		Amount:      amount,
		PhoneNumber: phone,
		SubmittedAt: time.Now().UTC(),
	}

	if err := s.repo.InsertAwaiting(ctx, requestID, userID); err != nil {
		s.logger.Error("Failed to persist awaiting deposit",
			zap.String("request_id", requestID),
			zap.Error(err),
		)
	}

	rec := reconciler.New(requestID, reconciler.Config{
		MaxPollAttempts: s.policy.MaxPollAttempts,
		ConfirmTimeout:  s.policy.ConfirmTimeout,
		Observer:        s.resolutionObserver(userID),
		Logger:          s.logger,
	})

	s.mu.Lock()
	s.active[requestID] = &activeDeposit{rec: rec, userID: userID}
	s.mu.Unlock()

	watchCtx, err := rec.Start(context.Background(), startBalance)
	if err != nil {
		// Cannot happen for a freshly created reconciler; keep the invariant
		// visible anyway.
		s.unregister(requestID)
		s.lock.Release(ctx, userID)
		return nil, err
	}

	statusPoller := poller.NewStatusPoller(s.gateway, s.policy.PollInterval, s.policy.MaxPollAttempts, s.logger)
	go statusPoller.Run(watchCtx, requestID, rec)

	if watchBalance {
		watcher := poller.NewBalanceWatcher(s.gateway, s.policy.PollInterval, s.logger)
		go watcher.Run(watchCtx, rec)
	}

	telemetry.DepositsInitiated.Inc()
	s.logger.Info("STK push submitted",
		zap.String("request_id", requestID),
		zap.String("user_id", userID),
		zap.String("amount", amount.String()),
		zap.String("customer_message", resp.CustomerMessage),
	)
	return req, nil
}

// resolutionObserver fans out the single terminal resolution: persist the
// phase transition, publish the state-change event, refresh the wallet view,
// then release the user's submission lock.
func (s *DepositService) resolutionObserver(userID string) reconciler.Observer {
	return func(res models.Resolution) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		rec := s.lookupReconciler(res.RequestID)

		rows, err := s.repo.TransitionPhase(ctx, res.RequestID, models.PhaseAwaiting, res.Phase, res.ResolvedBy, res.Reason, s.receiptNo(rec))
		if err != nil {
			s.logger.Error("Failed to persist deposit resolution",
				zap.String("request_id", res.RequestID),
				zap.Error(err),
			)
		} else if rows == 0 {
			s.logger.Warn("Deposit resolution already persisted",
				zap.String("request_id", res.RequestID),
			)
		}

		s.publishResolution(ctx, userID, res)

		result := s.refresher.Refresh(ctx, res.RequestID)
		if result.Warning != "" {
			s.logger.Warn("Post-resolution refresh degraded",
				zap.String("request_id", res.RequestID),
				zap.String("warning", result.Warning),
			)
		}

		s.unregister(res.RequestID)
		if err := s.lock.Release(ctx, userID); err != nil {
			s.logger.Error("Failed to release submission lock",
				zap.String("user_id", userID),
				zap.Error(err),
			)
		}
	}
}

func (s *DepositService) publishResolution(ctx context.Context, userID string, res models.Resolution) {
	if s.publisher == nil {
		return
	}

	event := map[string]interface{}{
		"event_id":    uuid.NewString(),
		"request_id":  res.RequestID,
		"user_id":     userID,
		"phase":       res.Phase,
		"resolved_by": res.ResolvedBy,
		"reason":      res.Reason,
		"timestamp":   res.ResolvedAt,
	}
	eventJSON, _ := json.Marshal(event)

	if err := s.publisher.WriteMessages(ctx, kafka.Message{
		Key:   []byte(res.RequestID),
		Value: eventJSON,
	}); err != nil {
		s.logger.Error("Failed to publish deposit resolution event",
			zap.String("request_id", res.RequestID),
			zap.Error(err),
		)
	}
}

// CancelDeposit abandons the watch without a terminal outcome. The payment
// itself is neither rolled back nor retried.
func (s *DepositService) CancelDeposit(ctx context.Context, requestID string) error {
	s.mu.Lock()
	dep, ok := s.active[requestID]
	if ok {
		delete(s.active, requestID)
	}
	s.mu.Unlock()

	if !ok {
		return ErrUnknownDeposit
	}

	dep.rec.Cancel()
	if err := s.lock.Release(ctx, dep.userID); err != nil {
		s.logger.Error("Failed to release submission lock on cancel",
			zap.String("user_id", dep.userID),
			zap.Error(err),
		)
	}
	return nil
}

// Lookup implements the push-stream registry: events for inactive deposits
// get no sink and are dropped upstream.
func (s *DepositService) Lookup(requestID string) (pushstream.Sink, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	dep, ok := s.active[requestID]
	if !ok {
		return nil, false
	}
	return dep.rec, true
}

// ActiveCount reports deposits currently being watched.
func (s *DepositService) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Shutdown cancels all outstanding watches. Pending deposits survive in the
// provider; their outcomes are simply no longer observed by this process.
func (s *DepositService) Shutdown(ctx context.Context) {
	s.mu.Lock()
	deps := make([]*activeDeposit, 0, len(s.active))
	ids := make([]string, 0, len(s.active))
	for id, dep := range s.active {
		deps = append(deps, dep)
		ids = append(ids, id)
	}
	s.active = make(map[string]*activeDeposit)
	s.mu.Unlock()

	for i, dep := range deps {
		dep.rec.Cancel()
		if err := s.lock.Release(ctx, dep.userID); err != nil {
			s.logger.Error("Failed to release submission lock on shutdown",
				zap.String("request_id", ids[i]),
				zap.Error(err),
			)
		}
	}
}

func (s *DepositService) lookupReconciler(requestID string) *reconciler.Reconciler {
	s.mu.Lock()
	defer s.mu.Unlock()
	if dep, ok := s.active[requestID]; ok {
		return dep.rec
	}
	return nil
}

func (s *DepositService) receiptNo(rec *reconciler.Reconciler) string {
	if rec == nil {
		return ""
	}
	return rec.ReceiptNo()
}

func (s *DepositService) unregister(requestID string) {
	s.mu.Lock()
	delete(s.active, requestID)
	s.mu.Unlock()
}
