package modules

import (
	"context"
	"log/slog"

	"ledgerkernel/core/kernel"
)

// KernelTrace writes every kernel event to a logger at debug level.
type KernelTrace struct {
	logger *slog.Logger
}

func NewKernelTrace(logger *slog.Logger) *KernelTrace {
	if logger == nil {
		logger = slog.Default()
	}
	return &KernelTrace{logger: logger.With("component", "kernel")}
}

func (k *KernelTrace) OnKernelEvent(_ kernel.Inspector, e *kernel.Event) error {
	ctx := context.Background()
	if !k.logger.Enabled(ctx, slog.LevelDebug) {
		return nil
	}
	attrs := []slog.Attr{
		slog.String("event", e.Kind.String()),
		slog.Int("stack", e.Stack),
		slog.Int("depth", e.Depth),
	}
	if e.Actor != nil {
		attrs = append(attrs, slog.String("actor", e.Actor.String()))
	}
	switch e.Kind {
	case kernel.EventLockSubstate, kernel.EventReadSubstate, kernel.EventWriteSubstate, kernel.EventCloseLock:
		attrs = append(attrs,
			slog.String("node", e.Node.Short()),
			slog.Int("partition", int(e.Partition)),
			slog.Int("size", e.Size),
		)
	case kernel.EventMoveNode:
		attrs = append(attrs, slog.String("node", e.Node.Short()), slog.Bool("upstream", e.Upstream))
	case kernel.EventAllocateNodeID, kernel.EventCreateNode, kernel.EventDropNode, kernel.EventGlobalize:
		attrs = append(attrs, slog.String("node", e.Node.Short()))
	case kernel.EventConsumeCostUnits:
		attrs = append(attrs, slog.Uint64("units", e.Units), slog.String("reason", e.Reason))
	case kernel.EventLockFee:
		attrs = append(attrs,
			slog.String("vault", e.Node.Short()),
			slog.String("amount", e.Amount.String()),
			slog.Bool("contingent", e.Contingent),
		)
	case kernel.EventEmitEvent:
		attrs = append(attrs, slog.String("type", e.AppEvent.Type))
	case kernel.EventLog:
		attrs = append(attrs, slog.String("level", e.Log.Level), slog.String("message", e.Log.Message))
	case kernel.EventInvokeStart, kernel.EventInvokeEnd:
		attrs = append(attrs, slog.Int("size", e.Size))
	}
	k.logger.LogAttrs(ctx, slog.LevelDebug, "kernel event", attrs...)
	return nil
}

var _ kernel.EventSink = (*KernelTrace)(nil)
