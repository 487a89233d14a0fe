package kernel

import (
	"ledgerkernel/core/resource"
	"ledgerkernel/core/types"
)

// EventKind enumerates the points at which the kernel notifies modules.
type EventKind uint8

const (
	// EventInvokeStart fires in the caller's frame before the callee frame
	// is pushed. Returning an error rejects the call.
	EventInvokeStart EventKind = iota
	// EventInvokeEnd fires in the caller's frame after the callee popped.
	EventInvokeEnd
	// EventMoveNode fires before a node changes frame.
	EventMoveNode
	EventAllocateNodeID
	EventCreateNode
	EventDropNode
	EventLockSubstate
	EventReadSubstate
	EventWriteSubstate
	EventCloseLock
	EventGlobalize
	EventConsumeCostUnits
	EventLockFee
	EventEmitEvent
	EventLog
	EventStackSwitch
)

var eventKindNames = [...]string{
	"invoke_start", "invoke_end", "move_node", "allocate_node_id", "create_node", "drop_node",
	"lock_substate", "read_substate", "write_substate", "close_lock", "globalize",
	"consume_cost_units", "lock_fee", "emit_event", "log", "stack_switch",
}

func (k EventKind) String() string {
	if int(k) < len(eventKindNames) {
		return eventKindNames[k]
	}
	return "unknown"
}

// Event describes one kernel action. Only the fields relevant to Kind are set.
type Event struct {
	Kind      EventKind
	Depth     int
	Actor     *Actor
	Node      types.NodeID
	Partition types.PartitionNumber
	Key       types.SubstateKey
	Flags     LockFlags
	Size      int
	// Upstream marks a move from callee back to caller.
	Upstream   bool
	Units      uint64
	Reason     string
	Amount     resource.Decimal
	Contingent bool
	AppEvent   *types.Event
	Log        *types.LogEntry
	Stack      int
	Err        error
}

// EventSink observes kernel events. Sinks are called in registration order;
// the first error aborts the operation that raised the event.
type EventSink interface {
	OnKernelEvent(insp Inspector, e *Event) error
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(insp Inspector, e *Event) error

func (f SinkFunc) OnKernelEvent(insp Inspector, e *Event) error { return f(insp, e) }
