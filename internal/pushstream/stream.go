package pushstream

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/akylbek/payment-system/deposit-reconciler/internal/models"
	"github.com/akylbek/payment-system/deposit-reconciler/internal/telemetry"
)

// Subject carries status events republished by the provider-callback ingress.
const Subject = "deposits.status"

// Sink receives push-channel reports. Satisfied by the reconciler.
type Sink interface {
	ReportPush(requestID string, report models.StatusReport)
}

// Registry resolves the sink for a currently active requestId. Events for
// unknown or no-longer-active ids are dropped.
type Registry interface {
	Lookup(requestID string) (Sink, bool)
}

// Stream is the push channel adapter: a long-lived subscription that matches
// inbound status events against active deposits and forwards them. A NATS
// disconnect is non-fatal; the poll channel remains the fallback and the
// client reconnects on its own.
type Stream struct {
	registry Registry
	logger   *zap.Logger
	sub      *nats.Subscription
}

func New(registry Registry, logger *zap.Logger) *Stream {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Stream{registry: registry, logger: logger}
}

// Subscribe opens the long-lived subscription on the conn.
func (s *Stream) Subscribe(nc *nats.Conn) error {
	sub, err := nc.Subscribe(Subject, func(msg *nats.Msg) {
		s.handle(msg.Data)
	})
	if err != nil {
		return err
	}
	s.sub = sub
	s.logger.Info("Subscribed to deposit status events", zap.String("subject", Subject))
	return nil
}

// Close drains the subscription.
func (s *Stream) Close() {
	if s.sub != nil {
		s.sub.Unsubscribe()
		s.sub = nil
	}
}

func (s *Stream) handle(data []byte) {
	var event models.StatusEvent
	if err := json.Unmarshal(data, &event); err != nil {
		s.logger.Error("Malformed status event", zap.Error(err))
		return
	}

	sink, ok := s.registry.Lookup(event.CheckoutRequestID)
	if !ok {
		// Not ours, or already resolved. Duplicates and late deliveries land
		// here too.
		telemetry.StaleReportsDropped.WithLabelValues("push").Inc()
		s.logger.Debug("Dropped status event for inactive deposit",
			zap.String("request_id", event.CheckoutRequestID),
		)
		return
	}

	sink.ReportPush(event.CheckoutRequestID, models.StatusReport{
		RequestID: event.CheckoutRequestID,
		Status:    event.Status,
		Reason:    event.Reason,
		ReceiptNo: event.ReceiptNo,
	})
}
