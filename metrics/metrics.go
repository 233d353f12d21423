// Package metrics holds the Prometheus instruments shared across the
// service. Everything is registered via promauto on import.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CalculationsTotal counts orchestration outcomes by status
	// ("ok" or the failed stage name).
	CalculationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "encargos_calculations_total",
			Help: "Calculation runs by outcome",
		},
		[]string{"status"},
	)

	// CalculationDuration observes end-to-end orchestration latency.
	CalculationDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "encargos_calculation_duration_seconds",
			Help:    "End-to-end calculation duration",
			Buckets: prometheus.DefBuckets,
		},
	)

	// ERPSessionRetries counts refresh-and-retry cycles after a 401.
	ERPSessionRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "encargos_erp_session_retries_total",
			Help: "ERP requests retried after a session refresh",
		},
	)
)
