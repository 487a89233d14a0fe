package kernel

import (
	"slices"

	"ledgerkernel/core/types"
)

type substateAddr struct {
	node      types.NodeID
	partition types.PartitionNumber
	key       types.SubstateKey
}

// lock is an open claim of one frame on one substate. The value mirrors the
// current content so the owned and referenced nodes it exposes stay visible
// while the lock is open.
type lock struct {
	addr   substateAddr
	flags  LockFlags
	heap   bool
	exists bool
	value  types.Substate
	frame  *frame
}

type lockCount struct {
	readers int
	writer  bool
}

type nodeSet map[types.NodeID]struct{}

func (s nodeSet) has(id types.NodeID) bool {
	_, ok := s[id]
	return ok
}

func (s nodeSet) sorted() []types.NodeID {
	out := make([]types.NodeID, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	slices.SortFunc(out, types.CompareNodeIDs)
	return out
}

// frame is one level of a call stack.
type frame struct {
	actor    Actor
	owned    nodeSet
	refs     nodeSet
	locks    map[LockHandle]*lock
	authZone types.NodeID
}

func newFrame(actor Actor) *frame {
	return &frame{
		actor: actor,
		owned: make(nodeSet),
		refs:  make(nodeSet),
		locks: make(map[LockHandle]*lock),
	}
}

func (f *frame) sortedLocks() []LockHandle {
	out := make([]LockHandle, 0, len(f.locks))
	for h := range f.locks {
		out = append(out, h)
	}
	slices.Sort(out)
	return out
}

// exposes reports whether an open lock of the frame makes id reachable.
func (f *frame) exposes(id types.NodeID) bool {
	for _, l := range f.locks {
		if slices.Contains(l.value.Owns, id) || slices.Contains(l.value.Refs, id) {
			return true
		}
	}
	return false
}

// dropOrder ranks entity types so that proofs release their containers
// before the containers themselves are checked, and the auth zone goes last.
func dropOrder(id types.NodeID) int {
	switch id.EntityType() {
	case types.EntityInternalProof:
		return 0
	case types.EntityInternalBucket:
		return 1
	case types.EntityInternalWorktop:
		return 2
	case types.EntityInternalAuthZone:
		return 4
	}
	return 3
}

func (s nodeSet) dropSequence() []types.NodeID {
	out := s.sorted()
	slices.SortStableFunc(out, func(a, b types.NodeID) int { return dropOrder(a) - dropOrder(b) })
	return out
}

// callStack is one independent thread of control. Intents each run on their
// own stack and hand control over explicitly.
type callStack struct {
	frames []*frame
}

func (s *callStack) top() *frame { return s.frames[len(s.frames)-1] }

func (s *callStack) caller(n int) (*frame, bool) {
	i := len(s.frames) - 1 - n
	if i < 0 {
		return nil, false
	}
	return s.frames[i], true
}
