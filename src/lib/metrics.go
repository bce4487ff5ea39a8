package lib

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PaymentInitiations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "esm",
		Subsystem: "payments",
		Name:      "initiations_total",
		Help:      "Khalti payment initiations by family and outcome.",
	}, []string{"family", "outcome"})

	PaymentVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "esm",
		Subsystem: "payments",
		Name:      "verifications_total",
		Help:      "Payment verifications by result status.",
	}, []string{"status"})

	PaymentMismatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "esm",
		Subsystem: "payments",
		Name:      "booking_mismatches_total",
		Help:      "Completed transactions whose booking could not be marked paid.",
	}, []string{"family"})

	GatewayLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "esm",
		Subsystem: "khalti",
		Name:      "request_duration_seconds",
		Help:      "Khalti API call latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	OrphanedTransactions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "esm",
		Subsystem: "payments",
		Name:      "orphaned_pending_transactions",
		Help:      "Pending transactions that never received a pidx.",
	})
)
