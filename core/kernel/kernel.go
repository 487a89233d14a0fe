package kernel

import (
	"encoding/binary"
	"slices"

	"github.com/ethereum/go-ethereum/common"
	"lukechampine.com/blake3"

	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/resource"
	"ledgerkernel/core/types"
	"ledgerkernel/storage/substate"
)

// Track is the transaction-scoped view of persisted substates.
type Track interface {
	substate.Reader
	Set(node types.NodeID, partition types.PartitionNumber, key types.SubstateKey, value []byte)
}

// Kernel mediates every node and substate access of one transaction. It owns
// the heap of transient nodes, the lock table and the call stacks, and
// writes persisted state through the track. A Kernel is used by one
// transaction on one goroutine.
type Kernel struct {
	cfg      Config
	track    Track
	callback Callback
	sinks    []EventSink

	heap      map[types.NodeID]NodeSubstates
	allocated nodeSet
	nodeLocks map[types.NodeID]int
	lockTable map[substateAddr]*lockCount
	locks     map[LockHandle]*lock
	nextLock  LockHandle

	stacks  []*callStack
	current int

	seed    common.Hash
	counter uint64

	events     []types.Event
	logs       []types.LogEntry
	newGlobals []types.NodeID
}

// New creates a kernel over track. seed makes node ids unique per
// transaction and is normally the transaction hash.
func New(cfg Config, track Track, callback Callback, seed common.Hash, sinks ...EventSink) *Kernel {
	return &Kernel{
		cfg:       cfg,
		track:     track,
		callback:  callback,
		sinks:     sinks,
		heap:      make(map[types.NodeID]NodeSubstates),
		allocated: make(nodeSet),
		nodeLocks: make(map[types.NodeID]int),
		lockTable: make(map[substateAddr]*lockCount),
		locks:     make(map[LockHandle]*lock),
		seed:      seed,
	}
}

// AddStack creates a new call stack with a root frame and returns its index.
func (k *Kernel) AddStack(actor Actor) (int, error) {
	actor.Root = true
	root := newFrame(actor)
	k.stacks = append(k.stacks, &callStack{frames: []*frame{root}})
	idx := len(k.stacks) - 1
	prev := k.current
	k.current = idx
	err := k.createAuthZone(root)
	k.current = prev
	if err != nil {
		return 0, err
	}
	return idx, nil
}

// SwitchStack hands control to another stack, moving nodes from the top frame
// of the current stack to the top frame of the target.
func (k *Kernel) SwitchStack(to int, nodes []types.NodeID) error {
	if to < 0 || to >= len(k.stacks) {
		return kerrors.Kernel(kerrors.ErrStackNotFound, "stack %d", to)
	}
	from := k.frame()
	target := k.stacks[to].top()
	if err := k.checkMovable(from, nodes); err != nil {
		return err
	}
	for _, id := range nodes {
		if err := k.emit(&Event{Kind: EventMoveNode, Node: id, Actor: &target.actor}); err != nil {
			return err
		}
	}
	if err := k.emit(&Event{Kind: EventStackSwitch, Stack: to}); err != nil {
		return err
	}
	for _, id := range nodes {
		delete(from.owned, id)
		target.owned[id] = struct{}{}
	}
	k.current = to
	return nil
}

func (k *Kernel) stack() *callStack { return k.stacks[k.current] }
func (k *Kernel) frame() *frame     { return k.stack().top() }

// Stack returns the index of the active call stack.
func (k *Kernel) Stack() int { return k.current }

// Depth of the current frame; root frames are at depth 0.
func (k *Kernel) Depth() int { return len(k.stack().frames) - 1 }

func (k *Kernel) Actor() Actor { return k.frame().actor }

func (k *Kernel) CallerActor(n int) (Actor, bool) {
	f, ok := k.stack().caller(n)
	if !ok {
		return Actor{}, false
	}
	return f.actor, true
}

func (k *Kernel) AuthZone() types.NodeID { return k.frame().authZone }

func (k *Kernel) AuthZones() []types.NodeID {
	frames := k.stack().frames
	out := make([]types.NodeID, 0, len(frames))
	for i := len(frames) - 1; i >= 0; i-- {
		out = append(out, frames[i].authZone)
	}
	return out
}

// Events, Logs and NewGlobals expose what the transaction produced.
func (k *Kernel) Events() []types.Event      { return k.events }
func (k *Kernel) Logs() []types.LogEntry     { return k.logs }
func (k *Kernel) NewGlobals() []types.NodeID { return k.newGlobals }

func (k *Kernel) IsHeapNode(id types.NodeID) bool {
	_, ok := k.heap[id]
	return ok
}

func (k *Kernel) emit(e *Event) error {
	e.Depth = k.Depth()
	e.Stack = k.current
	for _, s := range k.sinks {
		if err := s.OnKernelEvent(k, e); err != nil {
			return err
		}
	}
	return nil
}

func (k *Kernel) newID(entity types.EntityType) types.NodeID {
	h := blake3.New(32, nil)
	h.Write(k.seed[:])
	var ctr [8]byte
	binary.BigEndian.PutUint64(ctr[:], k.counter)
	h.Write(ctr[:])
	k.counter++
	return types.NewNodeID(entity, h.Sum(nil)[:types.NodeIDLength-1])
}

func (k *Kernel) trackHas(id types.NodeID) (bool, error) {
	_, ok, err := k.track.Get(id, types.PartitionTypeInfo, TypeInfoKey)
	if err != nil {
		return false, kerrors.System(kerrors.ErrStoreAccess, "%v", err).WithNode(id)
	}
	return ok, nil
}

// NodeExists reports whether id names a heap node or a persisted node.
func (k *Kernel) NodeExists(id types.NodeID) (bool, error) {
	if k.IsHeapNode(id) {
		return true, nil
	}
	return k.trackHas(id)
}

// visible reports whether f may address id: it owns or references it,
// an open lock exposes it, or it is an existing global node.
func (k *Kernel) visible(f *frame, id types.NodeID) (bool, error) {
	if f.owned.has(id) || f.refs.has(id) || f.exposes(id) {
		return true, nil
	}
	if id.IsGlobal() {
		return k.trackHas(id)
	}
	return false, nil
}

func (k *Kernel) requireVisible(f *frame, id types.NodeID) error {
	ok, err := k.visible(f, id)
	if err != nil {
		return err
	}
	if !ok {
		return kerrors.Kernel(kerrors.ErrNodeNotVisible, "from %s", f.actor).WithNode(id)
	}
	return nil
}

// AllocateNodeID reserves a fresh id of the given entity type. Auth zones are
// allocated by the kernel only and worktops only by root frames.
func (k *Kernel) AllocateNodeID(entity types.EntityType) (types.NodeID, error) {
	if !entity.Valid() || entity == types.EntityInternalAuthZone {
		return types.NodeID{}, kerrors.Kernel(kerrors.ErrEntityTypeNotAllowed, "allocate %s", entity)
	}
	if entity == types.EntityInternalWorktop && k.Depth() != 0 {
		return types.NodeID{}, kerrors.Kernel(kerrors.ErrEntityTypeNotAllowed, "worktop outside root frame")
	}
	id := k.newID(entity)
	if err := k.emit(&Event{Kind: EventAllocateNodeID, Node: id}); err != nil {
		return types.NodeID{}, err
	}
	k.allocated[id] = struct{}{}
	return id, nil
}

func (k *Kernel) checkSubstates(substates NodeSubstates) error {
	for _, part := range substates {
		for key, s := range part {
			if err := key.Validate(); err != nil {
				return kerrors.Kernel(kerrors.ErrInvalidSubstateKey, "%v", err)
			}
			if s.Size() > k.cfg.MaxSubstateSize {
				return kerrors.Kernel(kerrors.ErrSubstateTooLarge, "%d bytes", s.Size())
			}
		}
	}
	return nil
}

// checkAdopt verifies that f may hand the given nodes to a new owner node.
func (k *Kernel) checkAdopt(f *frame, owns []types.NodeID) error {
	seen := make(nodeSet, len(owns))
	for _, id := range owns {
		if seen.has(id) {
			return kerrors.Kernel(kerrors.ErrInvalidSubstateWrite, "node owned twice").WithNode(id)
		}
		seen[id] = struct{}{}
		if !f.owned.has(id) {
			return kerrors.Kernel(kerrors.ErrNodeNotOwned, "adopt").WithNode(id)
		}
		if k.nodeLocks[id] > 0 {
			return kerrors.Kernel(kerrors.ErrNodeLocked, "adopt").WithNode(id)
		}
	}
	return nil
}

func (k *Kernel) checkRefs(f *frame, refs []types.NodeID) error {
	for _, id := range refs {
		if err := k.requireVisible(f, id); err != nil {
			return err
		}
	}
	return nil
}

// CreateNode registers an allocated id as a heap node owned by the current
// frame. Nodes listed as owned by the substates stop being frame roots.
func (k *Kernel) CreateNode(id types.NodeID, substates NodeSubstates) error {
	f := k.frame()
	if !k.allocated.has(id) {
		exists, err := k.NodeExists(id)
		if err != nil {
			return err
		}
		if exists {
			return kerrors.Kernel(kerrors.ErrNodeIDAlreadyUsed, "create").WithNode(id)
		}
		return kerrors.Kernel(kerrors.ErrNodeIDNotAllocated, "create").WithNode(id)
	}
	if err := k.checkSubstates(substates); err != nil {
		return err
	}
	if err := k.checkAdopt(f, substates.owns()); err != nil {
		return err
	}
	if err := k.checkRefs(f, substates.refs()); err != nil {
		return err
	}
	size := 0
	stored := make(NodeSubstates, len(substates))
	for p, part := range substates {
		for key, s := range part {
			stored.Set(p, key, s.Clone())
			size += s.Size()
		}
	}
	if err := k.emit(&Event{Kind: EventCreateNode, Node: id, Size: size}); err != nil {
		return err
	}
	delete(k.allocated, id)
	k.heap[id] = stored
	f.owned[id] = struct{}{}
	for _, child := range substates.owns() {
		delete(f.owned, child)
	}
	return nil
}

func (k *Kernel) createAuthZone(f *frame) error {
	id := k.newID(types.EntityInternalAuthZone)
	substates := k.callback.NewAuthZone()
	if err := k.emit(&Event{Kind: EventCreateNode, Node: id}); err != nil {
		return err
	}
	k.heap[id] = substates
	f.owned[id] = struct{}{}
	f.authZone = id
	return nil
}

// DropNode removes a heap node owned by the current frame and returns its
// substates. Nodes it owned become roots of the current frame.
func (k *Kernel) DropNode(id types.NodeID) (NodeSubstates, error) {
	f := k.frame()
	substates, inHeap := k.heap[id]
	if !f.owned.has(id) {
		if inHeap {
			return nil, kerrors.Kernel(kerrors.ErrInvalidDropAccess, "not owned by %s", f.actor).WithNode(id)
		}
		return nil, kerrors.Kernel(kerrors.ErrNodeNotFound, "drop").WithNode(id)
	}
	if k.nodeLocks[id] > 0 {
		return nil, kerrors.Kernel(kerrors.ErrNodeLocked, "drop").WithNode(id)
	}
	if err := k.emit(&Event{Kind: EventDropNode, Node: id}); err != nil {
		return nil, err
	}
	delete(k.heap, id)
	delete(f.owned, id)
	for _, child := range substates.owns() {
		f.owned[child] = struct{}{}
	}
	if id == f.authZone {
		f.authZone = types.NodeID{}
	}
	return substates, nil
}

// subtree lists id and every heap node it transitively owns.
func (k *Kernel) subtree(id types.NodeID) []types.NodeID {
	out := []types.NodeID{id}
	for i := 0; i < len(out); i++ {
		for _, child := range k.heap[out[i]].owns() {
			out = append(out, child)
		}
	}
	return out
}

// checkPersistable verifies a heap subtree can move into the track.
func (k *Kernel) checkPersistable(id types.NodeID) error {
	for _, n := range k.subtree(id) {
		if _, ok := k.heap[n]; !ok {
			return kerrors.System(kerrors.ErrInvalidGlobalize, "node is not on the heap").WithNode(n)
		}
		if n.EntityType().IsTransient() {
			return kerrors.System(kerrors.ErrPersistTransient, "%s", n.EntityType()).WithNode(n)
		}
		if k.nodeLocks[n] > 0 {
			return kerrors.Kernel(kerrors.ErrNodeLocked, "persist").WithNode(n)
		}
	}
	return nil
}

// persist moves a checked heap subtree into the track.
func (k *Kernel) persist(id types.NodeID) error {
	for _, n := range k.subtree(id) {
		substates := k.heap[n]
		partitions := make([]types.PartitionNumber, 0, len(substates))
		for p := range substates {
			partitions = append(partitions, p)
		}
		slices.Sort(partitions)
		for _, p := range partitions {
			for key, s := range substates[p] {
				raw, err := types.EncodeSubstate(s)
				if err != nil {
					return kerrors.System(kerrors.ErrStoreAccess, "%v", err).WithNode(n)
				}
				k.track.Set(n, p, key, raw)
			}
		}
		delete(k.heap, n)
	}
	return nil
}

// Globalize persists a global-typed heap node owned by the current frame,
// together with everything it owns.
func (k *Kernel) Globalize(id types.NodeID) error {
	f := k.frame()
	if !id.IsGlobal() {
		return kerrors.System(kerrors.ErrInvalidGlobalize, "%s is not a global entity", id.EntityType()).WithNode(id)
	}
	if !f.owned.has(id) {
		return kerrors.System(kerrors.ErrInvalidGlobalize, "not owned by %s", f.actor).WithNode(id)
	}
	if _, ok := k.heap[id][types.PartitionTypeInfo][TypeInfoKey]; !ok {
		return kerrors.System(kerrors.ErrInvalidTypeInfo, "globalize without type info").WithNode(id)
	}
	if err := k.checkPersistable(id); err != nil {
		return err
	}
	if err := k.emit(&Event{Kind: EventGlobalize, Node: id}); err != nil {
		return err
	}
	if err := k.persist(id); err != nil {
		return err
	}
	delete(f.owned, id)
	k.newGlobals = append(k.newGlobals, id)
	return nil
}

// ConsumeCostUnits reports work done outside the kernel's own accounting.
func (k *Kernel) ConsumeCostUnits(units uint64, reason string) error {
	return k.emit(&Event{Kind: EventConsumeCostUnits, Units: units, Reason: reason})
}

// LockFee asks the costing module to reserve amount from a vault the current
// frame can see. Contingent fees are only collected on success.
func (k *Kernel) LockFee(vault types.NodeID, amount resource.Decimal, contingent bool) error {
	if err := k.requireVisible(k.frame(), vault); err != nil {
		return err
	}
	if !vault.EntityType().IsVault() {
		return kerrors.Kernel(kerrors.ErrEntityTypeNotAllowed, "lock fee on %s", vault.EntityType()).WithNode(vault)
	}
	return k.emit(&Event{Kind: EventLockFee, Node: vault, Amount: amount, Contingent: contingent})
}

// EmitEvent records an application event. The emitter defaults to the
// receiver of the current call, or its package for function calls.
func (k *Kernel) EmitEvent(e *types.Event) error {
	if len(k.events) >= k.cfg.MaxEvents {
		return kerrors.Kernel(kerrors.ErrTooManyEvents, "limit %d", k.cfg.MaxEvents)
	}
	ev := *e
	if ev.Emitter.IsZero() {
		actor := k.frame().actor
		if actor.Receiver != nil {
			ev.Emitter = *actor.Receiver
		} else {
			ev.Emitter = actor.Package
		}
	}
	if err := k.emit(&Event{Kind: EventEmitEvent, AppEvent: &ev}); err != nil {
		return err
	}
	k.events = append(k.events, ev)
	return nil
}

func (k *Kernel) Log(level, message string) error {
	if len(k.logs) >= k.cfg.MaxLogs {
		return kerrors.Kernel(kerrors.ErrTooManyLogs, "limit %d", k.cfg.MaxLogs)
	}
	entry := types.LogEntry{Level: level, Message: message}
	if err := k.emit(&Event{Kind: EventLog, Log: &entry}); err != nil {
		return err
	}
	k.logs = append(k.logs, entry)
	return nil
}

var (
	_ API       = (*Kernel)(nil)
	_ Inspector = (*Kernel)(nil)
)
