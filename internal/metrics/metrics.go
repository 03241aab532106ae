// Package metrics 交易生命周期的 Prometheus 指标
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransactionsInitiated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psp_transactions_initiated_total",
			Help: "Transactions initiated, by method and resulting status",
		},
		[]string{"method", "status"},
	)

	TransactionsReconciled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psp_transactions_reconciled_total",
			Help: "Reconciliation attempts, by target status and outcome",
		},
		[]string{"target", "outcome"},
	)

	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "psp_provider_request_duration_seconds",
			Help:    "Latency of calls to payment providers",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "operation", "result"},
	)

	OutboxPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "psp_outbox_messages_total",
			Help: "Outbox messages handled by the sender, by result",
		},
		[]string{"result"},
	)
)

// ObserveProvider 记录一次 provider 调用耗时
func ObserveProvider(provider, operation string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	ProviderRequestDuration.WithLabelValues(provider, operation, result).Observe(time.Since(start).Seconds())
}
