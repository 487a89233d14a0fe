package modules

import (
	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/kernel"
	"ledgerkernel/core/resource"
	"ledgerkernel/core/system"
	"ledgerkernel/core/types"
)

// NodeMove enforces the resource rules the kernel cannot see. A bucket
// backing a live proof stays where it is. A proof that crossed into another
// package becomes restricted and may then only move within that package.
// Calls into the resource package, such as pushing to an auth zone or
// dropping a proof, are always allowed.
type NodeMove struct{}

func NewNodeMove() *NodeMove { return &NodeMove{} }

func (NodeMove) OnKernelEvent(insp kernel.Inspector, e *kernel.Event) error {
	if e.Kind != kernel.EventMoveNode {
		return nil
	}
	switch e.Node.EntityType() {
	case types.EntityInternalBucket:
		return checkBucketMove(insp, e.Node)
	case types.EntityInternalProof:
		from, to := insp.Actor(), *e.Actor
		if e.Upstream {
			to, _ = insp.CallerActor(1)
		}
		return checkProofMove(insp, e.Node, from, to)
	}
	return nil
}

func checkBucketMove(insp kernel.Inspector, bucket types.NodeID) error {
	s, ok, err := insp.PeekSubstate(bucket, types.PartitionMain, kernel.MainKey)
	if err != nil || !ok {
		return err
	}
	container, err := resource.DecodeContainer(s.Data)
	if err != nil {
		return kerrors.System(kerrors.ErrTypeMismatch, "%v", err).WithNode(bucket)
	}
	if container.IsLocked() {
		return kerrors.Kernel(kerrors.ErrNodeMoveNotAllowed, "bucket backs a live proof").WithNode(bucket)
	}
	return nil
}

func checkProofMove(insp kernel.Inspector, proof types.NodeID, from, to kernel.Actor) error {
	if from.Package == system.ResourcePackage || to.Package == system.ResourcePackage {
		return nil
	}
	if from.Package == to.Package {
		return nil
	}
	s, ok, err := insp.PeekSubstate(proof, types.PartitionMain, kernel.MainKey)
	if err != nil || !ok {
		return err
	}
	state, err := resource.DecodeProof(s.Data)
	if err != nil {
		return kerrors.System(kerrors.ErrTypeMismatch, "%v", err).WithNode(proof)
	}
	if state.Restricted {
		return kerrors.Kernel(kerrors.ErrNodeMoveNotAllowed, "restricted proof from %s to %s", from, to).WithNode(proof)
	}
	state.Restricted = true
	raw, err := state.Encode()
	if err != nil {
		return err
	}
	s.Data = raw
	return insp.PokeSubstate(proof, types.PartitionMain, kernel.MainKey, s)
}

var _ kernel.EventSink = NodeMove{}
