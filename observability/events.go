package observability

import (
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"chatten/core/events"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// EventMetrics returns the metrics registry tracking committed ledger events.
func EventMetrics() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "chatten",
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of committed ledger events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

func (m *eventMetrics) record(eventType string) {
	if m == nil {
		return
	}
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	if normalized == "" {
		normalized = "unknown"
	}
	m.emitted.WithLabelValues(normalized).Inc()
}

// MetricsEmitter wraps another emitter and counts every event that flows
// through it. Only events from committed invocations reach the emitter, so
// the counters reflect durable state changes.
type MetricsEmitter struct {
	next events.Emitter
}

// NewMetricsEmitter wires the counting layer in front of the supplied
// emitter; pass nil to count events and discard them.
func NewMetricsEmitter(next events.Emitter) *MetricsEmitter {
	if next == nil {
		next = events.NoopEmitter{}
	}
	return &MetricsEmitter{next: next}
}

func (m *MetricsEmitter) Emit(event events.Event) {
	EventMetrics().record(event.EventType())
	m.next.Emit(event)
}
