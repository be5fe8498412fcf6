package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Deposit reconciliation metrics. Labels follow the resolved_by taxonomy so
// dashboards can tell push wins from poll wins from give-ups.
var (
	DepositsInitiated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deposit_reconciler_deposits_initiated_total",
		Help: "Number of STK push deposits submitted to the gateway",
	})

	DepositsResolved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deposit_reconciler_deposits_resolved_total",
		Help: "Terminal resolutions by phase and resolving channel",
	}, []string{"phase", "resolved_by"})

	StaleReportsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "deposit_reconciler_stale_reports_dropped_total",
		Help: "Late or duplicate channel reports discarded after resolution",
	}, []string{"channel"})

	ActiveDeposits = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "deposit_reconciler_active_deposits",
		Help: "Deposits currently awaiting confirmation",
	})

	PollAttempts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "deposit_reconciler_poll_attempts_total",
		Help: "Status poll attempts issued against the gateway",
	})
)
