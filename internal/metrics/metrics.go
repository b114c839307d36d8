// Package metrics exposes per-command Prometheus instrumentation for the
// admin HTTP surface (spec §6's "GET /metrics").
//
// Grounded on canonical-redis_exporter/exporter/exporter.go's metric
// registration idiom (prometheus.NewCounter/NewHistogram with a shared
// Namespace, registered against a dedicated Registry rather than the global
// DefaultRegisterer) generalized from scraped redis INFO fields to commands
// this process executes directly.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "redistd"

// Metrics holds every collector the Dispatcher and GC subsystems report to.
type Metrics struct {
	Registry *prometheus.Registry

	CommandsTotal    *prometheus.CounterVec
	CommandDuration  *prometheus.HistogramVec
	ConnectedClients prometheus.Gauge
	TxnRetries       prometheus.Counter
	TxnRetryExhausted prometheus.Counter

	GCTasksTotal    *prometheus.CounterVec
	GCTaskDuration  prometheus.Histogram
	GCQueueDepth    prometheus.Gauge
}

// New constructs a Metrics bundle registered against a fresh Registry (never
// the global DefaultRegisterer, so tests can construct independent
// instances without collector-already-registered panics).
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		CommandsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "commands_total",
			Help:      "Total commands executed, by command name and outcome.",
		}, []string{"command", "outcome"}),
		CommandDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "command_duration_seconds",
			Help:      "Command execution latency, by command name.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"command"}),
		ConnectedClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_clients",
			Help:      "Currently connected RESP clients.",
		}),
		TxnRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "txn_retries_total",
			Help:      "Transaction retry attempts due to conflicting writes.",
		}),
		TxnRetryExhausted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "txn_retry_exhausted_total",
			Help:      "Transactions that exhausted their retry budget.",
		}),
		GCTasksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gc_tasks_total",
			Help:      "GC tasks processed, by type and outcome.",
		}, []string{"type", "outcome"}),
		GCTaskDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "gc_task_duration_seconds",
			Help:      "GC task execution latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		GCQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "gc_queue_depth",
			Help:      "Pending GC tasks queued across all workers.",
		}),
	}

	reg.MustRegister(
		m.CommandsTotal,
		m.CommandDuration,
		m.ConnectedClients,
		m.TxnRetries,
		m.TxnRetryExhausted,
		m.GCTasksTotal,
		m.GCTaskDuration,
		m.GCQueueDepth,
	)
	return m
}

// ObserveCommand records one command's outcome and latency in seconds.
func (m *Metrics) ObserveCommand(cmd, outcome string, seconds float64) {
	m.CommandsTotal.WithLabelValues(cmd, outcome).Inc()
	m.CommandDuration.WithLabelValues(cmd).Observe(seconds)
}
