// Package metrics exposes Prometheus metrics for backend calls, the
// resilience chain, the request queue and the memory subsystem.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	llmerrors "github.com/MikaelTHEoret/mastermind/pkg/errors"
)

const (
	namespace = "mastermind"
)

// LatencyBuckets defines histogram buckets for backend latency (in seconds).
var LatencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1.0, 2.0, 3.0, 5.0,
	7.5, 10.0, 15.0, 20.0, 30.0, 45.0, 60.0, 120.0,
}

// =============================================================================
// Backend Metrics
// =============================================================================

var (
	// BackendRequests counts backend calls by outcome. Status is "ok" or the error kind.
	BackendRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_requests_total",
			Help:      "Total number of backend calls",
		},
		[]string{"backend", "operation", "status"},
	)

	// BackendLatency tracks the duration of single backend calls.
	BackendLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "backend_latency_seconds",
			Help:      "Backend call latency in seconds",
			Buckets:   LatencyBuckets,
		},
		[]string{"backend", "operation"},
	)
)

// =============================================================================
// Resilience Metrics
// =============================================================================

var (
	// RetryAttempts counts re-attempts scheduled by the retry engine.
	RetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retry_attempts_total",
			Help:      "Total number of retried backend operations",
		},
		[]string{"operation"},
	)

	// FallbackInvocations counts escalations from primary to fallback.
	FallbackInvocations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_invocations_total",
			Help:      "Total number of fallback escalations",
		},
		[]string{"primary", "fallback"},
	)

	// RateLimitWait tracks time spent suspended by the rate limiter.
	RateLimitWait = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rate_limit_wait_seconds",
			Help:      "Time spent waiting for rate limit admission",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60},
		},
		[]string{"backend"},
	)

	// QueueDepth reports operations queued or running per backend.
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "queue_depth",
			Help:      "Operations queued or in flight per backend",
		},
		[]string{"backend"},
	)
)

// =============================================================================
// Memory Metrics
// =============================================================================

var (
	// MemoryOperations counts memory store operations by outcome.
	MemoryOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "memory_operations_total",
			Help:      "Total number of memory store operations",
		},
		[]string{"operation", "status"},
	)

	// CompactionFlushes counts conversation buffer flushes by result.
	CompactionFlushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "compaction_flushes_total",
			Help:      "Total number of conversation buffer flushes",
		},
		[]string{"result"},
	)
)

// Status returns the label for an operation outcome.
func Status(err error) string {
	if err == nil {
		return "ok"
	}
	return string(llmerrors.KindOf(err))
}

// RecordBackendCall records one backend call.
func RecordBackendCall(backend, operation string, elapsed time.Duration, err error) {
	BackendRequests.WithLabelValues(backend, operation, Status(err)).Inc()
	BackendLatency.WithLabelValues(backend, operation).Observe(elapsed.Seconds())
}

// RecordMemoryOperation records one memory store operation.
func RecordMemoryOperation(operation string, err error) {
	MemoryOperations.WithLabelValues(operation, Status(err)).Inc()
}

// RecordFlush records one compaction flush.
func RecordFlush(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	CompactionFlushes.WithLabelValues(result).Inc()
}
