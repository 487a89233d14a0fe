package modules

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"ledgerkernel/core/kernel"
)

// TraceEntry is one invocation in the execution trace of a receipt.
type TraceEntry struct {
	Stack      int    `json:"stack" yaml:"stack"`
	Depth      int    `json:"depth" yaml:"depth"`
	Actor      string `json:"actor" yaml:"actor"`
	InputSize  int    `json:"inputSize" yaml:"inputSize"`
	OutputSize int    `json:"outputSize" yaml:"outputSize"`
	CostUnits  uint64 `json:"costUnits" yaml:"costUnits"`
	Failed     bool   `json:"failed,omitempty" yaml:"failed,omitempty"`
}

type traceCall struct {
	ctx   context.Context
	span  trace.Span
	entry int
	units uint64
}

// Trace records the execution trace and opens one span per invocation.
type Trace struct {
	ctx     context.Context
	tracer  trace.Tracer
	costing *Costing
	calls   *callTracker[traceCall]
	entries []TraceEntry
}

// NewTrace creates the trace module. Spans are children of the span in ctx;
// a nil tracer records entries only. costing, when set, attributes cost
// units to each entry.
func NewTrace(ctx context.Context, tracer trace.Tracer, costing *Costing) *Trace {
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("ledgerkernel")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	return &Trace{ctx: ctx, tracer: tracer, costing: costing, calls: newCallTracker[traceCall]()}
}

func (t *Trace) consumed() uint64 {
	if t.costing == nil {
		return 0
	}
	return t.costing.Consumed()
}

func (t *Trace) parent(stack int) context.Context {
	if top, ok := t.calls.top(stack); ok {
		return top.value.ctx
	}
	return t.ctx
}

func (t *Trace) fail(call openCall[traceCall]) {
	t.entries[call.value.entry].Failed = true
	t.entries[call.value.entry].CostUnits = t.consumed() - call.value.units
	call.value.span.SetStatus(codes.Error, "invocation failed")
	call.value.span.End()
}

func (t *Trace) OnKernelEvent(_ kernel.Inspector, e *kernel.Event) error {
	switch e.Kind {
	case kernel.EventInvokeStart:
		// Close failed siblings first so they do not parent the new span.
		t.calls.unwind(e.Stack, e.Depth, t.fail)
		ctx, span := t.tracer.Start(t.parent(e.Stack), e.Actor.Blueprint+"::"+e.Actor.Function,
			trace.WithAttributes(
				attribute.String("ledger.actor", e.Actor.String()),
				attribute.Int("ledger.depth", e.Depth),
				attribute.Int("ledger.stack", e.Stack),
				attribute.Int("ledger.input_size", e.Size),
			))
		t.entries = append(t.entries, TraceEntry{Stack: e.Stack, Depth: e.Depth, Actor: e.Actor.String(), InputSize: e.Size})
		t.calls.start(e.Stack, e.Depth, *e.Actor, traceCall{ctx: ctx, span: span, entry: len(t.entries) - 1, units: t.consumed()}, t.fail)
	case kernel.EventInvokeEnd:
		call, ok := t.calls.end(e.Stack, e.Depth, t.fail)
		if !ok {
			return nil
		}
		entry := &t.entries[call.value.entry]
		entry.OutputSize = e.Size
		entry.CostUnits = t.consumed() - call.value.units
		call.value.span.SetAttributes(
			attribute.Int("ledger.output_size", e.Size),
			attribute.Int64("ledger.cost_units", int64(entry.CostUnits)),
		)
		call.value.span.End()
	case kernel.EventEmitEvent:
		if top, ok := t.calls.top(e.Stack); ok {
			top.value.span.AddEvent(e.AppEvent.Type, trace.WithAttributes(attribute.String("ledger.emitter", e.AppEvent.Emitter.Short())))
		}
	case kernel.EventLockFee:
		if top, ok := t.calls.top(e.Stack); ok {
			top.value.span.AddEvent("lock_fee", trace.WithAttributes(
				attribute.String("ledger.amount", e.Amount.String()),
				attribute.Bool("ledger.contingent", e.Contingent),
			))
		}
	}
	return nil
}

// Close ends every span left open by a failed call and returns the trace.
func (t *Trace) Close(err error) []TraceEntry {
	t.calls.drain(func(call openCall[traceCall]) {
		if err != nil {
			call.value.span.RecordError(err)
		}
		t.fail(call)
	})
	return t.entries
}

var _ kernel.EventSink = (*Trace)(nil)
