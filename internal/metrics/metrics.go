// SPDX-License-Identifier: Apache-2.0

package metrics

import (
	"sync"
	"time"

	"github.com/d-gangz/glowing-braintrust/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

var (
	initOnce sync.Once

	invocationsTotalCounter  *prometheus.CounterVec
	invocationDurationMetric *prometheus.HistogramVec
	streamChunksTotalCounter *prometheus.CounterVec
	chainRunsTotalCounter    *prometheus.CounterVec
	evalRecordsTotalCounter  *prometheus.CounterVec
	toolCallsTotalCounter    *prometheus.CounterVec
	webhookDeliveriesCounter *prometheus.CounterVec
)

// Init registers metrics on the default Prometheus registry exactly once.
func Init() {
	initOnce.Do(func() {
		invocationsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prompt_invocations_total",
				Help: "Total number of remote prompt invocations by project, slug and status.",
			},
			[]string{"project", "slug", "status"},
		)

		invocationDurationMetric = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "prompt_invocation_duration_seconds",
				Help:    "Time until a remote prompt returned its result (first byte for streams).",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 40, 80},
			},
			[]string{"project"},
		)

		streamChunksTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "prompt_stream_chunks_total",
				Help: "Total number of streamed chunks received by project and slug.",
			},
			[]string{"project", "slug"},
		)

		chainRunsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chain_runs_total",
				Help: "Total number of chain executions by chain and status.",
			},
			[]string{"chain", "status"},
		)

		evalRecordsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eval_records_total",
				Help: "Total number of evaluated dataset records by status.",
			},
			[]string{"status"},
		)

		toolCallsTotalCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tool_calls_total",
				Help: "Total number of tool calls by tool and status.",
			},
			[]string{"tool", "status"},
		)

		webhookDeliveriesCounter = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "experiment_webhook_deliveries_total",
				Help: "Total number of experiment webhook deliveries by status.",
			},
			[]string{"status"},
		)

		prometheus.MustRegister(
			invocationsTotalCounter,
			invocationDurationMetric,
			streamChunksTotalCounter,
			chainRunsTotalCounter,
			evalRecordsTotalCounter,
			toolCallsTotalCounter,
			webhookDeliveriesCounter,
		)

		// Ensure counter vectors are visible at /metrics before first increment.
		for _, status := range []domain.RecordStatus{
			domain.RecordSucceeded,
			domain.RecordFailed,
		} {
			evalRecordsTotalCounter.WithLabelValues(string(status))
		}
		for _, status := range []string{StatusOK, StatusError} {
			webhookDeliveriesCounter.WithLabelValues(status)
		}
	})
}

func IncInvocation(project, slug, status string) {
	Init()
	invocationsTotalCounter.WithLabelValues(project, slug, status).Inc()
}

func ObserveInvocationDuration(project string, d time.Duration) {
	Init()
	invocationDurationMetric.WithLabelValues(project).Observe(d.Seconds())
}

func IncStreamChunk(project, slug string) {
	Init()
	streamChunksTotalCounter.WithLabelValues(project, slug).Inc()
}

func IncChainRun(chain, status string) {
	Init()
	chainRunsTotalCounter.WithLabelValues(chain, status).Inc()
}

func IncEvalRecord(status domain.RecordStatus) {
	Init()
	evalRecordsTotalCounter.WithLabelValues(string(status)).Inc()
}

func IncToolCall(tool, status string) {
	Init()
	toolCallsTotalCounter.WithLabelValues(tool, status).Inc()
}

func IncWebhookDelivery(status string) {
	Init()
	webhookDeliveriesCounter.WithLabelValues(status).Inc()
}
