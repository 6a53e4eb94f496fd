package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type stateMetrics struct {
	invocations *prometheus.CounterVec
	latency     *prometheus.HistogramVec
}

var (
	stateMetricsOnce sync.Once
	stateRegistry    *stateMetrics
)

// StateMetrics returns the lazily-initialised registry tracking state machine
// invocations.
func StateMetrics() *stateMetrics {
	stateMetricsOnce.Do(func() {
		stateRegistry = &stateMetrics{
			invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "chatten",
				Subsystem: "state",
				Name:      "invocations_total",
				Help:      "Total state machine invocations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "chatten",
				Subsystem: "state",
				Name:      "invocation_duration_seconds",
				Help:      "Latency distribution for state machine invocations.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
		}
		prometheus.MustRegister(stateRegistry.invocations, stateRegistry.latency)
	})
	return stateRegistry
}

// ObserveInvocation records one completed invocation with its outcome label.
func ObserveInvocation(operation, outcome string, duration time.Duration) {
	m := StateMetrics()
	if m == nil {
		return
	}
	m.invocations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(duration.Seconds())
}
