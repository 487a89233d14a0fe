package observability

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

func newEventMetrics(namespace string) *eventMetrics {
	return &eventMetrics{
		emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "emitted_total",
			Help:      "Application events emitted by committed transactions, by type.",
		}, []string{"type"}),
	}
}

func (m *eventMetrics) record(eventType string) {
	normalized := strings.TrimSpace(strings.ToLower(eventType))
	if normalized == "" {
		normalized = "unknown"
	}
	m.emitted.WithLabelValues(normalized).Inc()
}
