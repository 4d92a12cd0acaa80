// SPDX-License-Identifier: Apache-2.0

// Package metrics defines the Prometheus metrics of the review pipeline.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "registry_review"

// Stage run results.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultBlocked = "blocked"
)

var (
	// stageRuns counts stage executions.
	// Labels: stage, result (ok, error, blocked)
	stageRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "stage_runs_total",
		Help:      "Workflow stage executions by result",
	}, []string{"stage", "result"})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Workflow stage execution time in seconds",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
	}, []string{"stage"})

	// oracleCalls counts completion attempts.
	// Labels: transport, result (ok, transient, fatal)
	oracleCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "oracle_calls_total",
		Help:      "Oracle completion attempts by transport and result",
	}, []string{"transport", "result"})

	// verifications counts citation verification outcomes.
	// Labels: result (verified, unverified, rejected, filtered)
	verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "verifications_total",
		Help:      "Extracted field verification outcomes",
	}, []string{"result"})
)

// RecordStage records one stage execution.
func RecordStage(stage, result string, d time.Duration) {
	stageRuns.WithLabelValues(stage, result).Inc()
	if result != ResultBlocked {
		stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	}
}

// RecordOracleCall records one oracle attempt. Its signature matches
// oracle.Observer.
func RecordOracleCall(transport, result string) {
	oracleCalls.WithLabelValues(transport, result).Inc()
}

// RecordVerification records one field verification outcome.
func RecordVerification(result string) {
	verifications.WithLabelValues(result).Inc()
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
