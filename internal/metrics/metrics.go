package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ledger operations by name and outcome (ok or the error kind).
	LedgerOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_ledger_operations_total",
			Help: "Total number of ledger operations by operation and result.",
		},
		[]string{"op", "result"},
	)

	LedgerOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "escrow_ledger_operation_duration_seconds",
			Help:    "Duration of ledger operations including the store round trip.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms → ~4s
		},
		[]string{"op"},
	)

	ListingsSettled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "escrow_listings_settled_total",
			Help: "Number of listings archived by payment release.",
		},
	)

	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_events_published_total",
			Help: "Ledger events handed to the producer, by topic and result.",
		},
		[]string{"topic", "result"}, // result = "ok" | "error" | "dropped"
	)

	SettlementMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_settlement_messages_total",
			Help: "Settlement consumer messages by result.",
		},
		[]string{"result"}, // recorded | duplicate | ignored | error
	)

	StatusCacheAccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_status_cache_access_total",
			Help: "Status cache hits and misses.",
		},
		[]string{"result"}, // hit | miss
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "escrow_errors_total",
			Help: "Count of infrastructure errors by component.",
		},
		[]string{"component", "reason"},
	)
)

// ObserveOperation records one ledger call.
func ObserveOperation(op, result string, start time.Time) {
	LedgerOperations.WithLabelValues(op, result).Inc()
	LedgerOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func IncEvent(topic, result string) {
	EventsPublished.WithLabelValues(topic, result).Inc()
}

func IncSettlement(result string) {
	SettlementMessages.WithLabelValues(result).Inc()
}

func IncStatusCache(result string) {
	StatusCacheAccess.WithLabelValues(result).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}
