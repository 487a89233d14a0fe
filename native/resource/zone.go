package resource

import (
	"slices"

	"ledgerkernel/core/auth"
	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/kernel"
	kresource "ledgerkernel/core/resource"
	"ledgerkernel/core/system"
	"ledgerkernel/core/types"
	"ledgerkernel/core/vm"
)

var zoneHandlers = map[string]handler{
	"push":                          pushProof,
	"pop":                           popProof,
	"create_proof_of_amount":        zoneProofOfAmount,
	"create_proof_of_non_fungibles": zoneProofOfNonFungibles,
	"create_proof_of_all":           zoneProofOfAll,
	"drop_proofs":                   dropZoneProofs,
	"assert_access_rule":            assertAccessRule,
}

func pushProof(env *system.Env, args vm.Args) (vm.Value, error) {
	zone, err := env.Receiver()
	if err != nil {
		return vm.Value{}, err
	}
	proof, err := args.Proof(0)
	if err != nil {
		return vm.Value{}, err
	}
	err = env.Update(zone, types.PartitionMain, kernel.MainKey, func(s *types.Substate) error {
		s.Owns = append(s.Owns, proof)
		return nil
	})
	return vm.Unit(), err
}

func popProof(env *system.Env, _ vm.Args) (vm.Value, error) {
	zone, err := env.Receiver()
	if err != nil {
		return vm.Value{}, err
	}
	var proof types.NodeID
	err = env.Update(zone, types.PartitionMain, kernel.MainKey, func(s *types.Substate) error {
		if len(s.Owns) == 0 {
			return kerrors.Application(kerrors.ErrAuthZoneEmpty, "pop").WithNode(zone)
		}
		proof = s.Owns[len(s.Owns)-1]
		s.Owns = s.Owns[:len(s.Owns)-1]
		return nil
	})
	if err != nil {
		return vm.Value{}, err
	}
	return vm.Proof(proof), nil
}

// dropZoneProofs releases every pushed proof to the current frame, which
// drops them on exit.
func dropZoneProofs(env *system.Env, _ vm.Args) (vm.Value, error) {
	zone, err := env.Receiver()
	if err != nil {
		return vm.Value{}, err
	}
	err = env.Update(zone, types.PartitionMain, kernel.MainKey, func(s *types.Substate) error {
		s.Owns = nil
		return nil
	})
	return vm.Unit(), err
}

// openZone is a zone read-locked together with every proof pushed to it.
// The handles keep the proofs' containers reachable until closed.
type openZone struct {
	handles []kernel.LockHandle
	state   *auth.ZoneState
	proofs  []*kresource.ProofState
}

func lockZone(env *system.Env, zone types.NodeID) (*openZone, error) {
	h, err := env.LockSubstate(zone, types.PartitionMain, kernel.MainKey, kernel.LockRead)
	if err != nil {
		return nil, err
	}
	out := &openZone{handles: []kernel.LockHandle{h}}
	s, err := env.ReadSubstate(h)
	if err != nil {
		return nil, err
	}
	if out.state, err = auth.DecodeZoneState(s.Data); err != nil {
		return nil, kerrors.System(kerrors.ErrTypeMismatch, "%v", err).WithNode(zone)
	}
	for _, proof := range s.Owns {
		ph, state, err := openProof(env, proof)
		if err != nil {
			return nil, err
		}
		out.handles = append(out.handles, ph)
		out.proofs = append(out.proofs, state)
	}
	return out, nil
}

func (z *openZone) close(env *system.Env) error {
	for i := len(z.handles) - 1; i >= 0; i-- {
		if err := env.CloseLock(z.handles[i]); err != nil {
			return err
		}
	}
	return nil
}

func (z *openZone) view() auth.Zone {
	out := auth.Zone{Virtual: z.state.Virtual}
	for _, p := range z.proofs {
		out.Proofs = append(out.Proofs, auth.ProofView{Resource: p.Resource, Amount: p.Amount, IDs: p.IDs})
	}
	return out
}

// sources merges the evidence of every pushed proof of res, one entry per
// container showing the most any proof shows of it, in container order.
func (z *openZone) sources(res types.NodeID) (kresource.Kind, []kresource.Evidence, bool) {
	byContainer := make(map[types.NodeID]*kresource.Evidence)
	kind, found := kresource.Fungible, false
	for _, p := range z.proofs {
		if p.Resource != res {
			continue
		}
		kind, found = p.Kind, true
		for _, ev := range p.Evidence {
			cur, ok := byContainer[ev.Container]
			if !ok {
				cp := ev
				byContainer[ev.Container] = &cp
				continue
			}
			cur.Amount = kresource.Max(cur.Amount, ev.Amount)
			cur.IDs = cur.IDs.Union(ev.IDs)
		}
	}
	out := make([]kresource.Evidence, 0, len(byContainer))
	for _, ev := range byContainer {
		out = append(out, *ev)
	}
	slices.SortFunc(out, func(a, b kresource.Evidence) int { return types.CompareNodeIDs(a.Container, b.Container) })
	return kind, out, found
}

// selectEvidence picks what a composite proof locks. A nil amount and nil
// ids select everything.
func selectEvidence(kind kresource.Kind, sources []kresource.Evidence, amount *kresource.Decimal, ids kresource.IDSet) ([]kresource.Evidence, error) {
	if amount == nil && ids == nil {
		if kind == kresource.NonFungible {
			for i := range sources {
				sources[i].Amount = kresource.NewDecimal(int64(len(sources[i].IDs)))
			}
		}
		return sources, nil
	}
	var out []kresource.Evidence
	if ids != nil {
		if kind != kresource.NonFungible {
			return nil, kerrors.Application(kerrors.ErrNonFungibleOperationNotSupported, "proof of ids from fungible proofs")
		}
		missing := ids
		for _, src := range sources {
			held := kresource.IDSet{}
			for _, id := range missing {
				if src.IDs.Contains(id) {
					held = append(held, id)
				}
			}
			if len(held) == 0 {
				continue
			}
			out = append(out, kresource.Evidence{Container: src.Container, Amount: kresource.NewDecimal(int64(len(held))), IDs: held})
			missing = missing.Difference(held)
		}
		if len(missing) > 0 {
			return nil, kerrors.Application(kerrors.ErrInsufficientBalance, "ids %v not in auth zone", missing)
		}
		return out, nil
	}

	remaining := *amount
	for _, src := range sources {
		if !remaining.IsPositive() {
			break
		}
		if kind == kresource.NonFungible {
			n := min(len(src.IDs), int(remaining.Attos().Quo(remaining.Attos(), kresource.NewDecimal(1).Attos()).Int64()))
			if n == 0 {
				continue
			}
			picked := kresource.NewIDSet(src.IDs[:n]...)
			out = append(out, kresource.Evidence{Container: src.Container, Amount: kresource.NewDecimal(int64(n)), IDs: picked})
			remaining = remaining.Sub(kresource.NewDecimal(int64(n)))
			continue
		}
		part := src.Amount
		if remaining.LessThan(part) {
			part = remaining
		}
		out = append(out, kresource.Evidence{Container: src.Container, Amount: part})
		remaining = remaining.Sub(part)
	}
	if remaining.IsPositive() {
		return nil, kerrors.Application(kerrors.ErrInsufficientBalance, "auth zone short by %s", remaining)
	}
	return out, nil
}

// composite builds a new proof out of the proofs already in the zone.
func composite(env *system.Env, res types.NodeID, amount *kresource.Decimal, ids kresource.IDSet) (vm.Value, error) {
	zone, err := env.Receiver()
	if err != nil {
		return vm.Value{}, err
	}
	z, err := lockZone(env, zone)
	if err != nil {
		return vm.Value{}, err
	}
	kind, sources, found := z.sources(res)
	if !found {
		return vm.Value{}, kerrors.Application(kerrors.ErrInsufficientBalance, "no proof of %s in auth zone", res.Short())
	}
	evidence, err := selectEvidence(kind, sources, amount, ids)
	if err != nil {
		return vm.Value{}, err
	}
	state := &kresource.ProofState{Resource: res, Kind: kind, Evidence: evidence}
	for _, ev := range evidence {
		if err := lockEvidence(env, kind, ev); err != nil {
			return vm.Value{}, err
		}
		state.Amount = state.Amount.Add(ev.Amount)
		state.IDs = state.IDs.Union(ev.IDs)
	}
	proof, err := newProof(env, state)
	if err != nil {
		return vm.Value{}, err
	}
	if err := z.close(env); err != nil {
		return vm.Value{}, err
	}
	return vm.Proof(proof), nil
}

func zoneProofOfAmount(env *system.Env, args vm.Args) (vm.Value, error) {
	amount, err := args.Decimal(0)
	if err != nil {
		return vm.Value{}, err
	}
	if amount.IsNegative() {
		return vm.Value{}, kerrors.Application(kerrors.ErrInvalidAmount, "negative amount %s", amount)
	}
	res, err := args.Address(1)
	if err != nil {
		return vm.Value{}, err
	}
	return composite(env, res, &amount, nil)
}

func zoneProofOfNonFungibles(env *system.Env, args vm.Args) (vm.Value, error) {
	ids, err := args.IDs(0)
	if err != nil {
		return vm.Value{}, err
	}
	res, err := args.Address(1)
	if err != nil {
		return vm.Value{}, err
	}
	return composite(env, res, nil, ids)
}

func zoneProofOfAll(env *system.Env, args vm.Args) (vm.Value, error) {
	res, err := args.Address(0)
	if err != nil {
		return vm.Value{}, err
	}
	return composite(env, res, nil, nil)
}

// assertAccessRule fails unless the zone satisfies the encoded rule.
func assertAccessRule(env *system.Env, args vm.Args) (vm.Value, error) {
	zone, err := env.Receiver()
	if err != nil {
		return vm.Value{}, err
	}
	raw, err := args.Bytes(0)
	if err != nil {
		return vm.Value{}, err
	}
	rule, err := auth.DecodeRule(raw)
	if err != nil {
		return vm.Value{}, kerrors.Interpreter(kerrors.ErrMalformedInput, "%v", err)
	}
	z, err := lockZone(env, zone)
	if err != nil {
		return vm.Value{}, err
	}
	view := z.view()
	if err := z.close(env); err != nil {
		return vm.Value{}, err
	}
	if err := auth.Authorize(rule, "assert_access_rule", view); err != nil {
		return vm.Value{}, err
	}
	return vm.Unit(), nil
}
