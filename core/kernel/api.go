package kernel

import (
	"fmt"

	"ledgerkernel/core/resource"
	"ledgerkernel/core/types"
)

// TypeInfoKey is the field every node keeps its type information under.
var TypeInfoKey = types.FieldKey(0)

// MainKey is the conventional field holding a node's primary state.
var MainKey = types.FieldKey(0)

// LockFlags select the access mode of a substate lock.
type LockFlags uint8

const (
	LockRead    LockFlags = 0
	LockMutable LockFlags = 1 << 0
)

func (f LockFlags) Mutable() bool { return f&LockMutable != 0 }

// LockHandle names an open substate lock of the current frame.
type LockHandle uint32

// NodeSubstates is the full content of a node, partition by partition.
type NodeSubstates map[types.PartitionNumber]map[types.SubstateKey]types.Substate

// Set stores a substate, creating the partition as needed.
func (n NodeSubstates) Set(p types.PartitionNumber, key types.SubstateKey, s types.Substate) {
	part, ok := n[p]
	if !ok {
		part = make(map[types.SubstateKey]types.Substate)
		n[p] = part
	}
	part[key] = s
}

// Get returns a substate if present.
func (n NodeSubstates) Get(p types.PartitionNumber, key types.SubstateKey) (types.Substate, bool) {
	s, ok := n[p][key]
	return s, ok
}

func (n NodeSubstates) owns() []types.NodeID {
	var out []types.NodeID
	for _, part := range n {
		for _, s := range part {
			out = append(out, s.Owns...)
		}
	}
	return out
}

func (n NodeSubstates) refs() []types.NodeID {
	var out []types.NodeID
	for _, part := range n {
		for _, s := range part {
			out = append(out, s.Refs...)
		}
	}
	return out
}

// Actor identifies the code running in a call frame.
type Actor struct {
	Package   types.NodeID
	Blueprint string
	Function  string
	// Receiver is set for method calls.
	Receiver *types.NodeID
	Root     bool
}

// RootActor is the actor of every stack's bottom frame.
func RootActor(intent int) Actor {
	return Actor{Root: true, Function: fmt.Sprintf("intent_%d", intent)}
}

func (a Actor) IsMethod() bool { return a.Receiver != nil }

func (a Actor) String() string {
	switch {
	case a.Root:
		return "root:" + a.Function
	case a.Receiver != nil:
		return fmt.Sprintf("%s.%s::%s", a.Receiver.Short(), a.Blueprint, a.Function)
	default:
		return fmt.Sprintf("%s:%s::%s", a.Package.Short(), a.Blueprint, a.Function)
	}
}

// Payload is the kernel's view of invocation arguments and results. Data is
// opaque; Nodes are moved between frames; Refs are shared by reference.
type Payload struct {
	Data  []byte
	Nodes []types.NodeID
	Refs  []types.NodeID
}

func (p Payload) Size() int { return len(p.Data) + (len(p.Nodes)+len(p.Refs))*types.NodeIDLength }

// KeyedSubstate is one entry of a partition scan.
type KeyedSubstate struct {
	Key      types.SubstateKey
	Substate types.Substate
}

// API is the surface exposed to system code and blueprints. Every call acts
// on the current frame of the current call stack.
type API interface {
	AllocateNodeID(entity types.EntityType) (types.NodeID, error)
	CreateNode(id types.NodeID, substates NodeSubstates) error
	DropNode(id types.NodeID) (NodeSubstates, error)
	NodeExists(id types.NodeID) (bool, error)

	LockSubstate(node types.NodeID, partition types.PartitionNumber, key types.SubstateKey, flags LockFlags) (LockHandle, error)
	ReadSubstate(h LockHandle) (types.Substate, error)
	WriteSubstate(h LockHandle, value types.Substate) error
	CloseLock(h LockHandle) error
	// ScanSubstates lists a partition of a visible node in key order.
	ScanSubstates(node types.NodeID, partition types.PartitionNumber) ([]KeyedSubstate, error)

	Invoke(actor Actor, input Payload) (Payload, error)
	Globalize(node types.NodeID) error

	Actor() Actor
	Depth() int
	AuthZone() types.NodeID

	ConsumeCostUnits(units uint64, reason string) error
	LockFee(vault types.NodeID, amount resource.Decimal, contingent bool) error
	EmitEvent(e *types.Event) error
	Log(level, message string) error
}

// Inspector is the privileged view given to modules. It bypasses frame
// visibility and locks and must not be handed to blueprint code.
type Inspector interface {
	Depth() int
	Stack() int
	Actor() Actor
	// CallerActor returns the actor n frames below the current one.
	CallerActor(n int) (Actor, bool)
	// AuthZones lists the zones of the current stack, innermost first.
	AuthZones() []types.NodeID
	PeekSubstate(node types.NodeID, partition types.PartitionNumber, key types.SubstateKey) (types.Substate, bool, error)
	PokeSubstate(node types.NodeID, partition types.PartitionNumber, key types.SubstateKey, value types.Substate) error
	IsHeapNode(node types.NodeID) bool
}

// Callback is implemented by the system layer. The kernel calls it to run the
// code behind an actor and to dispose of nodes left in an exiting frame.
type Callback interface {
	Invoke(api API, actor Actor, input Payload) (Payload, error)
	AutoDrop(api API, node types.NodeID) error
	// NewAuthZone returns the initial substates of a frame's auth zone.
	NewAuthZone() NodeSubstates
}

// Config bounds what one transaction may do.
type Config struct {
	MaxCallDepth    int
	MaxSubstateSize int
	MaxEvents       int
	MaxLogs         int
}

// DefaultConfig mirrors the production limits.
func DefaultConfig() Config {
	return Config{
		MaxCallDepth:    8,
		MaxSubstateSize: 2 * 1024 * 1024,
		MaxEvents:       256,
		MaxLogs:         256,
	}
}
