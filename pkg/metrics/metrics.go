package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Booking metrics
	BookingAttempts *prometheus.CounterVec
	SlotConflicts   prometheus.Counter

	// Ledger metrics
	LedgerAppends       *prometheus.CounterVec
	LedgerLocks         prometheus.Counter
	LockedWriteAttempts *prometheus.CounterVec

	// Payout metrics
	PayoutTransitions *prometheus.CounterVec
	PayoutAmount      prometheus.Histogram
	PayoutBatchRuns   *prometheus.CounterVec

	// Outbox related metrics
	OutboxEventsProcessed   prometheus.Counter
	OutboxEventsFailed      prometheus.Counter
	OutboxProcessingLatency prometheus.Histogram
	OutboxRetries           *prometheus.CounterVec

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
}

// NewMetrics creates and registers all application metrics on reg.
// A nil registerer uses the prometheus default registry.
func NewMetrics(namespace, subsystem string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		BookingAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "booking_attempts_total",
			Help:      "Booking operations by operation and result",
		}, []string{"operation", "result"}),
		SlotConflicts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "slot_conflicts_total",
			Help:      "Reservations rejected because the slot was unavailable",
		}),

		LedgerAppends: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ledger_appends_total",
			Help:      "Ledger entries appended by transaction type",
		}, []string{"transaction_type"}),
		LedgerLocks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ledger_locks_total",
			Help:      "Ledger entries locked",
		}),
		LockedWriteAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ledger_locked_write_attempts_total",
			Help:      "Rejected writes against locked ledger entries",
		}, []string{"operation"}),

		PayoutTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "payout_transitions_total",
			Help:      "Payout status transitions by target status",
		}, []string{"status"}),
		PayoutAmount: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "payout_amount_rupees",
			Help:      "Net amount of created payouts in rupees",
			Buckets:   []float64{500, 1000, 5000, 10000, 25000, 50000, 100000, 250000, 500000},
		}),
		PayoutBatchRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "payout_batch_runs_total",
			Help:      "Scheduled payout batch runs by result",
		}, []string{"result"}),

		OutboxEventsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outbox_events_processed_total",
			Help:      "Total number of successfully processed outbox events",
		}),
		OutboxEventsFailed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outbox_events_failed_total",
			Help:      "Total number of failed outbox events",
		}),
		OutboxProcessingLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outbox_processing_duration_seconds",
			Help:      "Time spent processing outbox events",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		OutboxRetries: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "outbox_retry_attempts_total",
			Help:      "Total number of retry attempts for outbox events",
		}, []string{"event_type"}),

		DatabaseOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}

// NewNop builds metrics on a private registry; used where nothing scrapes them.
func NewNop() *Metrics {
	return NewMetrics("nop", "", prometheus.NewRegistry())
}
