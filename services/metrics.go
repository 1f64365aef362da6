// services/metrics.go
package services

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	settlementMetricsOnce sync.Once
	settlementRegistry    *SettlementMetrics
)

// SettlementMetrics wraps collectors tracking verification and payout health.
type SettlementMetrics struct {
	verifications *prometheus.CounterVec
	batches       *prometheus.CounterVec
	runs          *prometheus.CounterVec
	rpcRetries    *prometheus.CounterVec
}

// Metrics returns the lazily initialised, process-wide registry.
func Metrics() *SettlementMetrics {
	settlementMetricsOnce.Do(func() {
		settlementRegistry = &SettlementMetrics{
			verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "settlement",
				Subsystem: "payment",
				Name:      "verifications_total",
				Help:      "Payment verifications segmented by outcome.",
			}, []string{"outcome"}),
			batches: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "settlement",
				Subsystem: "payout",
				Name:      "batches_total",
				Help:      "Payout transactions segmented by recipient group and outcome.",
			}, []string{"group", "outcome"}),
			runs: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "settlement",
				Name:      "runs_total",
				Help:      "Tournament conclusion attempts segmented by outcome.",
			}, []string{"outcome"}),
			rpcRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "settlement",
				Subsystem: "rpc",
				Name:      "retries_total",
				Help:      "Retried chain RPC reads segmented by method.",
			}, []string{"method"}),
		}
		prometheus.MustRegister(
			settlementRegistry.verifications,
			settlementRegistry.batches,
			settlementRegistry.runs,
			settlementRegistry.rpcRetries,
		)
	})
	return settlementRegistry
}

func (m *SettlementMetrics) RecordVerification(outcome string) {
	if m == nil {
		return
	}
	m.verifications.WithLabelValues(outcome).Inc()
}

func (m *SettlementMetrics) RecordBatch(group string, succeeded bool) {
	if m == nil {
		return
	}
	outcome := "failed"
	if succeeded {
		outcome = "succeeded"
	}
	m.batches.WithLabelValues(group, outcome).Inc()
}

func (m *SettlementMetrics) RecordRun(outcome string) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(outcome).Inc()
}

// RecordRPCRetry matches chain.WithRetryHook.
func (m *SettlementMetrics) RecordRPCRetry(method string) {
	if m == nil {
		return
	}
	m.rpcRetries.WithLabelValues(method).Inc()
}
