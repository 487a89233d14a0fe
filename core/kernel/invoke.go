package kernel

import (
	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/types"
)

// checkMovable verifies that f may hand nodes to another frame.
func (k *Kernel) checkMovable(f *frame, nodes []types.NodeID) error {
	seen := make(nodeSet, len(nodes))
	for _, id := range nodes {
		if seen.has(id) {
			return kerrors.Kernel(kerrors.ErrNodeMoveNotAllowed, "node passed twice").WithNode(id)
		}
		seen[id] = struct{}{}
		if !f.owned.has(id) {
			return kerrors.Kernel(kerrors.ErrNodeNotOwned, "move from %s", f.actor).WithNode(id)
		}
		if !id.EntityType().IsMovable() {
			return kerrors.Kernel(kerrors.ErrNodeMoveNotAllowed, "%s cannot move", id.EntityType()).WithNode(id)
		}
		if k.nodeLocks[id] > 0 {
			return kerrors.Kernel(kerrors.ErrNodeLocked, "move").WithNode(id)
		}
	}
	return nil
}

// Invoke runs actor in a new frame. Input nodes move into the callee, input
// refs become visible to it, and the output nodes move back. Whatever the
// callee still owns when it returns is handed to the auto-drop callback.
func (k *Kernel) Invoke(actor Actor, input Payload) (Payload, error) {
	caller := k.frame()
	if len(k.stack().frames) > k.cfg.MaxCallDepth {
		return Payload{}, kerrors.Kernel(kerrors.ErrCallDepthExceeded, "depth %d", len(k.stack().frames)).WithActor(actor.String())
	}
	actor.Root = false
	if actor.Receiver != nil {
		if err := k.requireVisible(caller, *actor.Receiver); err != nil {
			return Payload{}, err
		}
	}
	if err := k.checkMovable(caller, input.Nodes); err != nil {
		return Payload{}, err
	}
	if err := k.checkRefs(caller, input.Refs); err != nil {
		return Payload{}, err
	}
	if err := k.emit(&Event{Kind: EventInvokeStart, Actor: &actor, Size: input.Size()}); err != nil {
		return Payload{}, err
	}
	for _, id := range input.Nodes {
		if err := k.emit(&Event{Kind: EventMoveNode, Actor: &actor, Node: id}); err != nil {
			return Payload{}, err
		}
	}

	callee := newFrame(actor)
	for _, id := range input.Nodes {
		delete(caller.owned, id)
		callee.owned[id] = struct{}{}
	}
	for _, id := range input.Refs {
		callee.refs[id] = struct{}{}
	}
	if actor.Receiver != nil {
		callee.refs[*actor.Receiver] = struct{}{}
	}
	s := k.stack()
	s.frames = append(s.frames, callee)

	output, err := k.run(callee, actor, input)
	if err != nil {
		k.unwind(s, callee)
		return Payload{}, err
	}
	s.frames = s.frames[:len(s.frames)-1]
	for _, id := range output.Nodes {
		caller.owned[id] = struct{}{}
	}
	if err := k.emit(&Event{Kind: EventInvokeEnd, Actor: &actor, Size: output.Size()}); err != nil {
		return Payload{}, err
	}
	return output, nil
}

// run executes the callee and settles its frame. On success the frame is
// empty and the output nodes are detached from it.
func (k *Kernel) run(callee *frame, actor Actor, input Payload) (Payload, error) {
	if err := k.createAuthZone(callee); err != nil {
		return Payload{}, err
	}
	output, err := k.callback.Invoke(k, actor, input)
	if err != nil {
		return Payload{}, err
	}
	if err := k.checkMovable(callee, output.Nodes); err != nil {
		return Payload{}, err
	}
	for _, id := range output.Refs {
		if !id.IsGlobal() {
			return Payload{}, kerrors.Kernel(kerrors.ErrNodeNotVisible, "returned reference must be global").WithNode(id)
		}
		ok, err := k.trackHas(id)
		if err != nil {
			return Payload{}, err
		}
		if !ok {
			return Payload{}, kerrors.System(kerrors.ErrGlobalAddressNotFound, "returned reference").WithNode(id)
		}
	}
	for _, id := range output.Nodes {
		if err := k.emit(&Event{Kind: EventMoveNode, Actor: &actor, Node: id, Upstream: true}); err != nil {
			return Payload{}, err
		}
		delete(callee.owned, id)
	}
	if err := k.settle(callee); err != nil {
		return Payload{}, err
	}
	return output, nil
}

// settle closes the frame's remaining locks and auto-drops every node it
// still owns, proofs first and the auth zone last.
func (k *Kernel) settle(f *frame) error {
	for _, h := range f.sortedLocks() {
		if err := k.CloseLock(h); err != nil {
			return err
		}
	}
	for len(f.owned) > 0 {
		id := f.owned.dropSequence()[0]
		if err := k.callback.AutoDrop(k, id); err != nil {
			return err
		}
		if f.owned.has(id) {
			return kerrors.Kernel(kerrors.ErrOrphanedNode, "left in %s", f.actor).WithNode(id)
		}
	}
	return nil
}

// unwind pops frames down to and including f after a failure. Nothing is
// dropped: the transaction is aborted and the heap discarded.
func (k *Kernel) unwind(s *callStack, f *frame) {
	for len(s.frames) > 0 {
		top := s.top()
		for h, l := range top.locks {
			k.release(h, l)
		}
		s.frames = s.frames[:len(s.frames)-1]
		if top == f {
			return
		}
	}
}

// Finish settles the root frame of every stack. Any node left on the heap
// afterwards has no owner and fails the transaction.
func (k *Kernel) Finish() error {
	for i, s := range k.stacks {
		if len(s.frames) != 1 {
			return kerrors.Kernel(kerrors.ErrOrphanedNode, "stack %d finished at depth %d", i, len(s.frames)-1)
		}
		k.current = i
		if err := k.settle(s.top()); err != nil {
			return err
		}
	}
	left := make(nodeSet, len(k.heap))
	for id := range k.heap {
		left[id] = struct{}{}
	}
	if ids := left.sorted(); len(ids) > 0 {
		return kerrors.Kernel(kerrors.ErrOrphanedNode, "%d nodes left on heap", len(ids)).WithNode(ids[0])
	}
	return nil
}
