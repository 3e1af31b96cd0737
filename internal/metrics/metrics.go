// Package metrics exposes Prometheus collectors for deployments.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deploymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popdeploy_deployments_total",
			Help: "Deployment outcomes by network and result",
		},
		[]string{"network", "result"},
	)

	transactionsSubmitted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popdeploy_transactions_submitted_total",
			Help: "Contract-creation transactions broadcast, including rebroadcasts",
		},
		[]string{"network", "kind"},
	)

	nonceConflictsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "popdeploy_nonce_conflicts_total",
			Help: "Nonces rejected by the node",
		},
		[]string{"network"},
	)

	confirmationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "popdeploy_confirmation_duration_seconds",
			Help:    "Time from broadcast to the confirmation threshold",
			Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"network"},
	)

	gasLimit = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "popdeploy_gas_limit",
			Help:    "Gas limit of submitted creation transactions",
			Buckets: prometheus.ExponentialBuckets(100_000, 2, 8),
		},
		[]string{"network", "source"},
	)

	pendingRecords = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "popdeploy_pending_records",
			Help: "Pending records seen by the last reconciliation",
		},
		[]string{"network"},
	)
)

// Deployment results.
const (
	ResultConfirmed = "confirmed"
	ResultCached    = "cached"
	ResultReverted  = "reverted"
	ResultTimeout   = "timeout"
	ResultFailed    = "failed"
	ResultDropped   = "dropped"
)

// Gas limit sources.
const (
	GasSourceOverride = "override"
	GasSourceEstimate = "estimate"
	GasSourceDefault  = "default"
)

// RecordDeployment counts a finished deployment.
func RecordDeployment(network, result string) {
	deploymentsTotal.WithLabelValues(network, result).Inc()
}

// RecordSubmission counts a broadcast. kind is "new" or "rebroadcast".
func RecordSubmission(network, kind string) {
	transactionsSubmitted.WithLabelValues(network, kind).Inc()
}

// RecordNonceConflict counts a nonce rejected by the node.
func RecordNonceConflict(network string) {
	nonceConflictsTotal.WithLabelValues(network).Inc()
}

// ObserveConfirmation records the time a transaction took to confirm.
func ObserveConfirmation(network string, d time.Duration) {
	confirmationDuration.WithLabelValues(network).Observe(d.Seconds())
}

// ObserveGasLimit records the gas limit chosen for a transaction.
func ObserveGasLimit(network, source string, gas uint64) {
	gasLimit.WithLabelValues(network, source).Observe(float64(gas))
}

// SetPendingRecords sets the pending-record gauge for a network.
func SetPendingRecords(network string, n int) {
	pendingRecords.WithLabelValues(network).Set(float64(n))
}
