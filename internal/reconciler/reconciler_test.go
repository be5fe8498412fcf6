package reconciler_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/akylbek/payment-system/deposit-reconciler/internal/models"
	"github.com/akylbek/payment-system/deposit-reconciler/internal/reconciler"
)

type resolutionRecorder struct {
	mu    sync.Mutex
	count int32
	last  models.Resolution
}

func (r *resolutionRecorder) observe(res models.Resolution) {
	atomic.AddInt32(&r.count, 1)
	r.mu.Lock()
	r.last = res
	r.mu.Unlock()
}

func (r *resolutionRecorder) calls() int {
	return int(atomic.LoadInt32(&r.count))
}

func (r *resolutionRecorder) resolution() models.Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func newAwaiting(t *testing.T, requestID string, rec *resolutionRecorder, cfg reconciler.Config) (*reconciler.Reconciler, context.Context) {
	t.Helper()
	if cfg.MaxPollAttempts == 0 {
		cfg.MaxPollAttempts = 10
	}
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = time.Minute
	}
	cfg.Observer = rec.observe

	r := reconciler.New(requestID, cfg)
	ctx, err := r.Start(context.Background(), decimal.NewFromInt(1000))
	require.NoError(t, err)
	require.Equal(t, models.PhaseAwaiting, r.Phase())
	return r, ctx
}

func success() models.StatusReport {
	return models.StatusReport{Status: models.StatusSuccess, ReceiptNo: "QHX12ABC34"}
}

func failure(reason string) models.StatusReport {
	return models.StatusReport{Status: models.StatusFailure, Reason: reason}
}

func pending() models.StatusReport {
	return models.StatusReport{Status: models.StatusPending}
}

func TestStart(t *testing.T) {
	t.Run("rejects a second start while awaiting", func(t *testing.T) {
		rec := &resolutionRecorder{}
		r, _ := newAwaiting(t, "ws_CO_1", rec, reconciler.Config{})

		_, err := r.Start(context.Background(), decimal.NewFromInt(500))
		assert.ErrorIs(t, err, reconciler.ErrAlreadyStarted)
	})
}

func TestPushResolution(t *testing.T) {
	t.Run("success report resolves via push", func(t *testing.T) {
		rec := &resolutionRecorder{}
		r, ctx := newAwaiting(t, "ws_CO_1", rec, reconciler.Config{})

		r.ReportPush("ws_CO_1", success())

		assert.Equal(t, models.PhaseSucceeded, r.Phase())
		assert.Equal(t, models.ResolvedByPush, r.ResolvedBy())
		assert.Equal(t, "QHX12ABC34", r.ReceiptNo())
		assert.Equal(t, 1, rec.calls())
		assert.Error(t, ctx.Err(), "channel context should be canceled on resolution")
	})

	t.Run("failure report resolves via push with reason", func(t *testing.T) {
		rec := &resolutionRecorder{}
		r, _ := newAwaiting(t, "ws_CO_1", rec, reconciler.Config{})

		r.ReportPush("ws_CO_1", failure("Request cancelled by user"))

		assert.Equal(t, models.PhaseFailed, r.Phase())
		assert.Equal(t, models.ResolvedByPush, r.ResolvedBy())
		assert.Equal(t, "Request cancelled by user", rec.resolution().Reason)
		assert.Equal(t, 1, rec.calls())
	})

	t.Run("pending push is tolerated as a no-op", func(t *testing.T) {
		rec := &resolutionRecorder{}
		r, _ := newAwaiting(t, "ws_CO_1", rec, reconciler.Config{})

		r.ReportPush("ws_CO_1", pending())

		assert.Equal(t, models.PhaseAwaiting, r.Phase())
		assert.Equal(t, 0, rec.calls())
	})

	t.Run("mismatched request id is ignored", func(t *testing.T) {
		rec := &resolutionRecorder{}
		r, _ := newAwaiting(t, "ws_CO_1", rec, reconciler.Config{})

		r.ReportPush("ws_CO_other", success())

		assert.Equal(t, models.PhaseAwaiting, r.Phase())
		assert.Equal(t, 0, rec.calls())
	})
}

func TestPollResolution(t *testing.T) {
	t.Run("pending polls accumulate attempts then success wins", func(t *testing.T) {
		rec := &resolutionRecorder{}
		r, _ := newAwaiting(t, "ws_CO_1", rec, reconciler.Config{MaxPollAttempts: 10})

		for i := 0; i < 3; i++ {
			r.ReportPoll("ws_CO_1", pending())
		}
		assert.Equal(t, models.PhaseAwaiting, r.Phase())
		assert.Equal(t, 3, r.Attempts())

		r.ReportPoll("ws_CO_1", success())

		assert.Equal(t, models.PhaseSucceeded, r.Phase())
		assert.Equal(t, models.ResolvedByPoll, r.ResolvedBy())
		assert.Equal(t, 4, r.Attempts())
		assert.Equal(t, 1, rec.calls())
	})

	t.Run("exhausted attempts resolve as timed out", func(t *testing.T) {
		rec := &resolutionRecorder{}
		r, _ := newAwaiting(t, "ws_CO_1", rec, reconciler.Config{MaxPollAttempts: 5})

		for i := 0; i < 5; i++ {
			r.ReportPoll("ws_CO_1", pending())
		}

		assert.Equal(t, models.PhaseTimedOut, r.Phase())
		assert.Equal(t, models.ResolvedByTimeout, r.ResolvedBy())
		assert.Equal(t, 5, r.Attempts())
		assert.Equal(t, 1, rec.calls())
	})

	t.Run("attempts never exceed the budget", func(t *testing.T) {
		rec := &resolutionRecorder{}
		r, _ := newAwaiting(t, "ws_CO_1", rec, reconciler.Config{MaxPollAttempts: 5})

		for i := 0; i < 20; i++ {
			r.ReportPoll("ws_CO_1", pending())
		}

		assert.Equal(t, 5, r.Attempts())
		assert.Equal(t, 1, rec.calls())
	})

	t.Run("terminal report on the final attempt beats exhaustion", func(t *testing.T) {
		rec := &resolutionRecorder{}
		r, _ := newAwaiting(t, "ws_CO_1", rec, reconciler.Config{MaxPollAttempts: 3})

		r.ReportPoll("ws_CO_1", pending())
		r.ReportPoll("ws_CO_1", pending())
		r.ReportPoll("ws_CO_1", success())

		assert.Equal(t, models.PhaseSucceeded, r.Phase())
		assert.Equal(t, models.ResolvedByPoll, r.ResolvedBy())
	})
}

func TestRaceSymmetry(t *testing.T) {
	t.Run("push then poll equals poll then push", func(t *testing.T) {
		first := &resolutionRecorder{}
		a, _ := newAwaiting(t, "ws_CO_1", first, reconciler.Config{})
		a.ReportPush("ws_CO_1", success())
		a.ReportPoll("ws_CO_1", success())

		second := &resolutionRecorder{}
		b, _ := newAwaiting(t, "ws_CO_1", second, reconciler.Config{})
		b.ReportPoll("ws_CO_1", success())
		b.ReportPush("ws_CO_1", success())

		assert.Equal(t, a.Phase(), b.Phase())
		assert.Equal(t, models.PhaseSucceeded, a.Phase())
		assert.Equal(t, 1, first.calls())
		assert.Equal(t, 1, second.calls())
		assert.Equal(t, models.ResolvedByPush, a.ResolvedBy())
		assert.Equal(t, models.ResolvedByPoll, b.ResolvedBy())
	})
}

func TestIdempotentLateDelivery(t *testing.T) {
	t.Run("late and duplicate reports are discarded after resolution", func(t *testing.T) {
		rec := &resolutionRecorder{}
		r, _ := newAwaiting(t, "ws_CO_1", rec, reconciler.Config{})

		r.ReportPush("ws_CO_1", success())
		require.Equal(t, models.PhaseSucceeded, r.Phase())

		r.ReportPush("ws_CO_1", success())
		r.ReportPush("ws_CO_1", failure("late contradiction"))
		r.ReportPoll("ws_CO_1", failure("late contradiction"))
		r.ReportBalanceIncrease(decimal.NewFromInt(99999))

		assert.Equal(t, models.PhaseSucceeded, r.Phase())
		assert.Equal(t, models.ResolvedByPush, r.ResolvedBy())
		assert.Equal(t, 1, rec.calls())
	})
}

func TestAtMostOnceResolution(t *testing.T) {
	t.Run("concurrent channels produce exactly one resolution", func(t *testing.T) {
		rec := &resolutionRecorder{}
		r, _ := newAwaiting(t, "ws_CO_1", rec, reconciler.Config{MaxPollAttempts: 1000})

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(3)
			go func() {
				defer wg.Done()
				r.ReportPush("ws_CO_1", success())
			}()
			go func() {
				defer wg.Done()
				r.ReportPoll("ws_CO_1", success())
			}()
			go func() {
				defer wg.Done()
				r.ReportBalanceIncrease(decimal.NewFromInt(2000))
			}()
		}
		wg.Wait()

		assert.Equal(t, models.PhaseSucceeded, r.Phase())
		assert.Equal(t, 1, rec.calls())
	})
}

func TestBalanceCorroboration(t *testing.T) {
	t.Run("balance increase past the snapshot implies success", func(t *testing.T) {
		rec := &resolutionRecorder{}
		r, _ := newAwaiting(t, "ws_CO_1", rec, reconciler.Config{})

		r.ReportBalanceIncrease(decimal.NewFromInt(1500))

		assert.Equal(t, models.PhaseSucceeded, r.Phase())
		assert.Equal(t, models.ResolvedByBalanceDelta, r.ResolvedBy())
		assert.Equal(t, 1, rec.calls())
	})

	t.Run("unchanged or lower balance proves nothing", func(t *testing.T) {
		rec := &resolutionRecorder{}
		r, _ := newAwaiting(t, "ws_CO_1", rec, reconciler.Config{})

		r.ReportBalanceIncrease(decimal.NewFromInt(1000))
		r.ReportBalanceIncrease(decimal.NewFromInt(900))

		assert.Equal(t, models.PhaseAwaiting, r.Phase())
		assert.Equal(t, 0, rec.calls())
	})
}

func TestWallClockTimeout(t *testing.T) {
	t.Run("timer fires before attempts are exhausted", func(t *testing.T) {
		rec := &resolutionRecorder{}
		r, _ := newAwaiting(t, "ws_CO_1", rec, reconciler.Config{
			MaxPollAttempts: 100,
			ConfirmTimeout:  20 * time.Millisecond,
		})

		require.Eventually(t, func() bool {
			return r.Phase() == models.PhaseTimedOut
		}, time.Second, 5*time.Millisecond)

		assert.Equal(t, models.ResolvedByTimeout, r.ResolvedBy())
		assert.Equal(t, 1, rec.calls())

		// No report is accepted after the timeout.
		r.ReportPush("ws_CO_1", success())
		assert.Equal(t, models.PhaseTimedOut, r.Phase())
		assert.Equal(t, 1, rec.calls())
	})

	t.Run("timer does not fire after resolution", func(t *testing.T) {
		rec := &resolutionRecorder{}
		r, _ := newAwaiting(t, "ws_CO_1", rec, reconciler.Config{
			ConfirmTimeout: 30 * time.Millisecond,
		})

		r.ReportPush("ws_CO_1", success())
		time.Sleep(60 * time.Millisecond)

		assert.Equal(t, models.PhaseSucceeded, r.Phase())
		assert.Equal(t, 1, rec.calls())
	})
}

func TestCancel(t *testing.T) {
	t.Run("silent teardown emits no resolution", func(t *testing.T) {
		rec := &resolutionRecorder{}
		r, ctx := newAwaiting(t, "ws_CO_1", rec, reconciler.Config{
			ConfirmTimeout: 20 * time.Millisecond,
		})

		r.Cancel()

		assert.Equal(t, models.PhaseIdle, r.Phase())
		assert.Error(t, ctx.Err())

		// Neither the stopped timer nor a late report resurrects the watch.
		time.Sleep(50 * time.Millisecond)
		r.ReportPush("ws_CO_1", success())
		assert.Equal(t, models.PhaseIdle, r.Phase())
		assert.Equal(t, 0, rec.calls())
	})

	t.Run("cancel after resolution is a no-op", func(t *testing.T) {
		rec := &resolutionRecorder{}
		r, _ := newAwaiting(t, "ws_CO_1", rec, reconciler.Config{})

		r.ReportPoll("ws_CO_1", success())
		r.Cancel()

		assert.Equal(t, models.PhaseSucceeded, r.Phase())
		assert.Equal(t, 1, rec.calls())
	})
}
