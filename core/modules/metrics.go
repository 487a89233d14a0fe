package modules

import (
	"ledgerkernel/core/kernel"
	"ledgerkernel/observability"
)

// Metrics feeds kernel events into the kernel metrics collector.
type Metrics struct {
	metrics *observability.KernelMetrics
	calls   *callTracker[struct{}]
}

func NewMetrics(m *observability.KernelMetrics) *Metrics {
	return &Metrics{metrics: m, calls: newCallTracker[struct{}]()}
}

func (m *Metrics) failed(call openCall[struct{}]) {
	m.metrics.ObserveInvocation(call.actor.Blueprint, false)
}

func (m *Metrics) OnKernelEvent(_ kernel.Inspector, e *kernel.Event) error {
	switch e.Kind {
	case kernel.EventInvokeStart:
		m.metrics.ObserveDepth(e.Depth)
		m.calls.start(e.Stack, e.Depth, *e.Actor, struct{}{}, m.failed)
	case kernel.EventInvokeEnd:
		if call, ok := m.calls.end(e.Stack, e.Depth, m.failed); ok {
			m.metrics.ObserveInvocation(call.actor.Blueprint, true)
		}
	case kernel.EventReadSubstate:
		m.metrics.ObserveSubstate("read", e.Size)
	case kernel.EventWriteSubstate:
		m.metrics.ObserveSubstate("write", e.Size)
	case kernel.EventCreateNode:
		m.metrics.ObserveNode("create")
	case kernel.EventDropNode:
		m.metrics.ObserveNode("drop")
	case kernel.EventGlobalize:
		m.metrics.ObserveNode("globalize")
	}
	return nil
}

// Close reports calls that never returned as failed.
func (m *Metrics) Close() {
	m.calls.drain(m.failed)
}

var _ kernel.EventSink = (*Metrics)(nil)
