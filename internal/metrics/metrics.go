// Package metrics exposes the Prometheus surface for the connection manager,
// circuit breaker, query executor, KV operations, and transaction coordinator.
//
// All metrics follow the taxonomy couchbase_<subsystem>_<name>_<unit>.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Registry bundles every metrics family this module emits.
//
// Example:
//
//	reg := metrics.New("couchbase")
//	reg.Connection.AttemptsTotal.Inc()
type Registry struct {
	namespace string

	Connection  *ConnectionMetrics
	Breaker     *BreakerMetrics
	Retry       *RetryMetrics
	Query       *QueryMetrics
	KV          *KVMetrics
	Transaction *TransactionMetrics
}

// New builds a Registry under the given Prometheus namespace.
func New(namespace string) *Registry {
	return &Registry{
		namespace:   namespace,
		Connection:  newConnectionMetrics(namespace),
		Breaker:     newBreakerMetrics(namespace),
		Retry:       newRetryMetrics(namespace),
		Query:       newQueryMetrics(namespace),
		KV:          newKVMetrics(namespace),
		Transaction: newTransactionMetrics(namespace),
	}
}

// ConnectionMetrics tracks connection lifecycle events for the manager (C4).
type ConnectionMetrics struct {
	AttemptsTotal   prometheus.Counter
	SucceededTotal  prometheus.Counter
	FailedTotal     prometheus.Counter
	ReadyDuration   prometheus.Histogram
	HealthChecks    *prometheus.CounterVec // status: healthy|unhealthy (from HealthStatus.Healthy)
	CollectionCache prometheus.Gauge       // number of memoised collection handles
}

func newConnectionMetrics(namespace string) *ConnectionMetrics {
	return &ConnectionMetrics{
		AttemptsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "connection", Name: "attempts_total",
			Help: "Total number of cluster connect attempts.",
		}),
		SucceededTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "connection", Name: "succeeded_total",
			Help: "Total number of successful cluster connections.",
		}),
		FailedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "connection", Name: "failed_total",
			Help: "Total number of failed cluster connection attempts.",
		}),
		ReadyDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "connection", Name: "ready_duration_seconds",
			Help:    "Time from initialize() start to bucket readiness.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
		}),
		HealthChecks: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "connection", Name: "health_checks_total",
			Help: "Health probe outcomes by status.",
		}, []string{"status"}),
		CollectionCache: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "connection", Name: "collection_cache_size",
			Help: "Number of memoised bucket::scope::collection handles.",
		}),
	}
}

// BreakerMetrics tracks circuit breaker (C2) state and transitions.
type BreakerMetrics struct {
	State          prometheus.Gauge // 0=closed 1=open 2=half-open
	TransitionsTotal *prometheus.CounterVec
	OperationsTotal  prometheus.Counter
	RejectionsTotal  prometheus.Counter
}

func newBreakerMetrics(namespace string) *BreakerMetrics {
	return &BreakerMetrics{
		State: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "breaker", Name: "state",
			Help: "Current breaker state (0=closed, 1=open, 2=half-open).",
		}),
		TransitionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "breaker", Name: "transitions_total",
			Help: "State transitions by from/to state.",
		}, []string{"from", "to"}),
		OperationsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "breaker", Name: "operations_total",
			Help: "Total operations dispatched through the breaker.",
		}),
		RejectionsTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "breaker", Name: "rejections_total",
			Help: "Operations rejected with CircuitBreakerOpen.",
		}),
	}
}

// RetryMetrics tracks retry attempts for executeWithRetry / query / transaction loops.
type RetryMetrics struct {
	AttemptsTotal      *prometheus.CounterVec
	BackoffSeconds     *prometheus.HistogramVec
	FinalAttemptsTotal *prometheus.HistogramVec
}

func newRetryMetrics(namespace string) *RetryMetrics {
	return &RetryMetrics{
		AttemptsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "retry", Name: "attempts_total",
			Help: "Retry attempts by operation, outcome, and error kind.",
		}, []string{"operation", "outcome", "error_kind"}),
		BackoffSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "retry", Name: "backoff_seconds",
			Help:    "Backoff delay observed before a retry attempt.",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8},
		}, []string{"operation"}),
		FinalAttemptsTotal: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "retry", Name: "final_attempts_total",
			Help:    "Number of attempts made until final success or failure.",
			Buckets: []float64{1, 2, 3, 4, 5, 10},
		}, []string{"operation", "outcome"}),
	}
}

// RecordAttempt records one retry attempt outcome.
func (m *RetryMetrics) RecordAttempt(operation, outcome, errorKind string) {
	if m == nil {
		return
	}
	m.AttemptsTotal.WithLabelValues(operation, outcome, errorKind).Inc()
}

// RecordBackoff records the actual delay waited before a retry.
func (m *RetryMetrics) RecordBackoff(operation string, seconds float64) {
	if m == nil {
		return
	}
	m.BackoffSeconds.WithLabelValues(operation).Observe(seconds)
}

// RecordFinalAttempt records how many attempts a loop took before stopping.
func (m *RetryMetrics) RecordFinalAttempt(operation, outcome string, attempts int) {
	if m == nil {
		return
	}
	m.FinalAttemptsTotal.WithLabelValues(operation, outcome).Observe(float64(attempts))
}

// QueryMetrics tracks query executor (C5) behaviour.
type QueryMetrics struct {
	DurationSeconds *prometheus.HistogramVec
	SlowTotal       prometheus.Counter
	ResultCount     *prometheus.HistogramVec
}

func newQueryMetrics(namespace string) *QueryMetrics {
	return &QueryMetrics{
		DurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "query", Name: "duration_seconds",
			Help:    "Query execution duration.",
			Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}, []string{"status"}),
		SlowTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "query", Name: "slow_total",
			Help: "Queries exceeding the slow-query threshold (1000ms).",
		}),
		ResultCount: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "query", Name: "result_count",
			Help:    "Number of rows returned per query.",
			Buckets: []float64{0, 1, 5, 10, 50, 100, 500, 1000},
		}, []string{"status"}),
	}
}

// KVMetrics tracks KV operation (C6) behaviour.
type KVMetrics struct {
	OperationsTotal *prometheus.CounterVec
	DurationSeconds *prometheus.HistogramVec
}

func newKVMetrics(namespace string) *KVMetrics {
	return &KVMetrics{
		OperationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "kv", Name: "operations_total",
			Help: "KV operations by verb and status.",
		}, []string{"verb", "status"}),
		DurationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "kv", Name: "duration_seconds",
			Help:    "KV operation duration by verb.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"verb"}),
	}
}

// TransactionMetrics tracks transaction coordinator (C7) behaviour.
type TransactionMetrics struct {
	AttemptsTotal        *prometheus.CounterVec
	AmbiguousCommitTotal prometheus.Counter
	DurationSeconds      prometheus.Histogram
}

func newTransactionMetrics(namespace string) *TransactionMetrics {
	return &TransactionMetrics{
		AttemptsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transaction", Name: "attempts_total",
			Help: "Transaction attempts by outcome.",
		}, []string{"outcome"}),
		AmbiguousCommitTotal: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "transaction", Name: "ambiguous_commit_total",
			Help: "Transactions that ended in TransactionCommitAmbiguous.",
		}),
		DurationSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "transaction", Name: "duration_seconds",
			Help:    "Total transaction duration across all attempts.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 20},
		}),
	}
}
