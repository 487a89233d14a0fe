package modules

import "ledgerkernel/core/kernel"

// Royalty charges the per-function royalty of a package into the fee
// reserve when the function is invoked.
type Royalty struct {
	resolver Resolver
	costing  *Costing
}

func NewRoyalty(resolver Resolver, costing *Costing) *Royalty {
	return &Royalty{resolver: resolver, costing: costing}
}

func (r *Royalty) OnKernelEvent(insp kernel.Inspector, e *kernel.Event) error {
	if e.Kind != kernel.EventInvokeStart {
		return nil
	}
	inv, err := r.resolver.Resolve(insp, *e.Actor)
	if err != nil {
		return err
	}
	if !inv.Royalty.IsPositive() {
		return nil
	}
	return r.costing.ChargeRoyalty(inv.Package, inv.Royalty)
}

var _ kernel.EventSink = (*Royalty)(nil)
