package observability

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// KernelMetrics owns the collectors describing kernel execution. It is
// constructed against an explicit registerer and handed to the engine; a nil
// *KernelMetrics records nothing.
type KernelMetrics struct {
	invocations  *prometheus.CounterVec
	substateOps  *prometheus.CounterVec
	substateSize *prometheus.CounterVec
	nodes        *prometheus.CounterVec
	callDepth    prometheus.Histogram
	costUnits    prometheus.Histogram
	transactions *prometheus.CounterVec
	commit       prometheus.Histogram
	events       *eventMetrics
}

// NewKernelMetrics creates the collectors under namespace and registers them
// with reg.
func NewKernelMetrics(reg prometheus.Registerer, namespace string) (*KernelMetrics, error) {
	if strings.TrimSpace(namespace) == "" {
		namespace = "ledger"
	}
	m := &KernelMetrics{
		invocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kernel",
			Name:      "invocations_total",
			Help:      "Blueprint invocations segmented by blueprint and outcome.",
		}, []string{"blueprint", "outcome"}),
		substateOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kernel",
			Name:      "substate_operations_total",
			Help:      "Substate reads and writes performed by the kernel.",
		}, []string{"op"}),
		substateSize: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kernel",
			Name:      "substate_bytes_total",
			Help:      "Bytes moved through substate reads and writes.",
		}, []string{"op"}),
		nodes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "kernel",
			Name:      "nodes_total",
			Help:      "Nodes created, dropped and globalized.",
		}, []string{"op"}),
		callDepth: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "kernel",
			Name:      "call_depth",
			Help:      "Frame depth at which invocations start.",
			Buckets:   prometheus.LinearBuckets(0, 1, 9),
		}),
		costUnits: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "costing",
			Name:      "cost_units",
			Help:      "Cost units consumed per transaction.",
			Buckets:   prometheus.ExponentialBuckets(1000, 4, 10),
		}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "transactions_total",
			Help:      "Executed transactions segmented by outcome.",
		}, []string{"outcome"}),
		commit: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "engine",
			Name:      "commit_duration_seconds",
			Help:      "Latency of committing a receipt into the store and state tree.",
			Buckets:   prometheus.DefBuckets,
		}),
		events: newEventMetrics(namespace),
	}
	collectors := []prometheus.Collector{
		m.invocations, m.substateOps, m.substateSize, m.nodes,
		m.callDepth, m.costUnits, m.transactions, m.commit, m.events.emitted,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func label(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return "unknown"
	}
	return v
}

// ObserveInvocation records one finished invocation.
func (m *KernelMetrics) ObserveInvocation(blueprint string, ok bool) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.invocations.WithLabelValues(label(blueprint), outcome).Inc()
}

// ObserveDepth records the depth an invocation started at.
func (m *KernelMetrics) ObserveDepth(depth int) {
	if m == nil {
		return
	}
	m.callDepth.Observe(float64(depth))
}

// ObserveSubstate records a read or write of size bytes.
func (m *KernelMetrics) ObserveSubstate(op string, size int) {
	if m == nil {
		return
	}
	m.substateOps.WithLabelValues(op).Inc()
	m.substateSize.WithLabelValues(op).Add(float64(size))
}

// ObserveNode records a node lifecycle step such as "create" or "drop".
func (m *KernelMetrics) ObserveNode(op string) {
	if m == nil {
		return
	}
	m.nodes.WithLabelValues(op).Inc()
}

// ObserveTransaction records the outcome and cost of one transaction.
func (m *KernelMetrics) ObserveTransaction(outcome string, costUnits uint64) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(label(outcome)).Inc()
	m.costUnits.Observe(float64(costUnits))
}

// ObserveCommit records how long a commit took.
func (m *KernelMetrics) ObserveCommit(d time.Duration) {
	if m == nil {
		return
	}
	m.commit.Observe(d.Seconds())
}

// RecordEvent counts an application event by type.
func (m *KernelMetrics) RecordEvent(eventType string) {
	if m == nil {
		return
	}
	m.events.record(eventType)
}
