package modules

import (
	"ledgerkernel/core/auth"
	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/kernel"
	"ledgerkernel/core/resource"
	"ledgerkernel/core/system"
	"ledgerkernel/core/types"
)

// Resolver finds the definition and access rule behind an actor.
type Resolver interface {
	Resolve(insp kernel.Inspector, actor kernel.Actor) (*system.Invocation, error)
}

// Auth checks the access rule of every invocation before its frame is
// pushed. The caller's zone is consulted, and for resource package calls
// the zone one frame further out as well.
type Auth struct {
	resolver Resolver
}

func NewAuth(resolver Resolver) *Auth {
	return &Auth{resolver: resolver}
}

func (a *Auth) OnKernelEvent(insp kernel.Inspector, e *kernel.Event) error {
	if e.Kind != kernel.EventInvokeStart {
		return nil
	}
	inv, err := a.resolver.Resolve(insp, *e.Actor)
	if err != nil {
		return err
	}
	if inv.Rule.Kind == auth.RuleAllowAll {
		return nil
	}
	ids := insp.AuthZones()
	consulted := 1
	if inv.ResourceOp {
		consulted = 2
	}
	var zones []auth.Zone
	for _, id := range ids[:min(consulted, len(ids))] {
		if id.IsZero() {
			continue
		}
		zone, err := ZoneView(insp, id)
		if err != nil {
			return err
		}
		zones = append(zones, zone)
	}
	return auth.Authorize(inv.Rule, e.Actor.String(), zones...)
}

// ZoneView snapshots an auth zone together with the proofs pushed to it.
func ZoneView(insp kernel.Inspector, zone types.NodeID) (auth.Zone, error) {
	s, ok, err := insp.PeekSubstate(zone, types.PartitionMain, kernel.MainKey)
	if err != nil {
		return auth.Zone{}, err
	}
	if !ok {
		return auth.Zone{}, kerrors.Kernel(kerrors.ErrNodeNotFound, "auth zone").WithNode(zone)
	}
	state, err := auth.DecodeZoneState(s.Data)
	if err != nil {
		return auth.Zone{}, kerrors.System(kerrors.ErrTypeMismatch, "%v", err).WithNode(zone)
	}
	out := auth.Zone{Virtual: state.Virtual}
	for _, id := range s.Owns {
		p, ok, err := insp.PeekSubstate(id, types.PartitionMain, kernel.MainKey)
		if err != nil {
			return auth.Zone{}, err
		}
		if !ok {
			continue
		}
		proof, err := resource.DecodeProof(p.Data)
		if err != nil {
			return auth.Zone{}, kerrors.System(kerrors.ErrTypeMismatch, "%v", err).WithNode(id)
		}
		out.Proofs = append(out.Proofs, auth.ProofView{Resource: proof.Resource, Amount: proof.Amount, IDs: proof.IDs})
	}
	return out, nil
}

var _ kernel.EventSink = (*Auth)(nil)
