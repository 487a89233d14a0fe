package resource

import (
	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/kernel"
	kresource "ledgerkernel/core/resource"
	"ledgerkernel/core/system"
	"ledgerkernel/core/types"
	"ledgerkernel/core/vm"
)

var proofHandlers = map[string]handler{
	"amount":           proofAmount,
	"resource_address": proofResource,
	"non_fungible_ids": proofIDs,
	"clone":            cloneProof,
	"drop":             dropProof,
}

// openProof read-locks a proof. While the lock is open the proof's
// containers are reachable from the current frame.
func openProof(env *system.Env, proof types.NodeID) (kernel.LockHandle, *kresource.ProofState, error) {
	h, err := env.LockSubstate(proof, types.PartitionMain, kernel.MainKey, kernel.LockRead)
	if err != nil {
		return 0, nil, err
	}
	s, err := env.ReadSubstate(h)
	if err != nil {
		return 0, nil, err
	}
	state, err := kresource.DecodeProof(s.Data)
	if err != nil {
		return 0, nil, kerrors.System(kerrors.ErrTypeMismatch, "%v", err).WithNode(proof)
	}
	return h, state, nil
}

func readProof(env *system.Env, proof types.NodeID) (*kresource.ProofState, error) {
	h, state, err := openProof(env, proof)
	if err != nil {
		return nil, err
	}
	return state, env.CloseLock(h)
}

func receiverProof(env *system.Env) (*kresource.ProofState, error) {
	receiver, err := env.Receiver()
	if err != nil {
		return nil, err
	}
	return readProof(env, receiver)
}

func proofAmount(env *system.Env, _ vm.Args) (vm.Value, error) {
	state, err := receiverProof(env)
	if err != nil {
		return vm.Value{}, err
	}
	return vm.Dec(state.Amount), nil
}

func proofResource(env *system.Env, _ vm.Args) (vm.Value, error) {
	state, err := receiverProof(env)
	if err != nil {
		return vm.Value{}, err
	}
	return vm.Address(state.Resource), nil
}

func proofIDs(env *system.Env, _ vm.Args) (vm.Value, error) {
	state, err := receiverProof(env)
	if err != nil {
		return vm.Value{}, err
	}
	if state.Kind != kresource.NonFungible {
		return vm.Value{}, kerrors.Application(kerrors.ErrNonFungibleOperationNotSupported, "ids of a fungible proof")
	}
	return vm.IDs(state.IDs), nil
}

// cloneProof locks the same evidence once more and returns an independent
// proof of it.
func cloneProof(env *system.Env, _ vm.Args) (vm.Value, error) {
	receiver, err := env.Receiver()
	if err != nil {
		return vm.Value{}, err
	}
	h, state, err := openProof(env, receiver)
	if err != nil {
		return vm.Value{}, err
	}
	for _, ev := range state.Evidence {
		if err := lockEvidence(env, state.Kind, ev); err != nil {
			return vm.Value{}, err
		}
	}
	id, err := newProof(env, state)
	if err != nil {
		return vm.Value{}, err
	}
	if err := env.CloseLock(h); err != nil {
		return vm.Value{}, err
	}
	return vm.Proof(id), nil
}

// dropProof releases every lock the proof holds and destroys it.
func dropProof(env *system.Env, args vm.Args) (vm.Value, error) {
	proof, err := args.Proof(0)
	if err != nil {
		return vm.Value{}, err
	}
	h, state, err := openProof(env, proof)
	if err != nil {
		return vm.Value{}, err
	}
	for _, ev := range state.Evidence {
		if err := unlockEvidence(env, state.Kind, ev); err != nil {
			return vm.Value{}, err
		}
	}
	if err := env.CloseLock(h); err != nil {
		return vm.Value{}, err
	}
	if _, err := env.DropNode(proof); err != nil {
		return vm.Value{}, err
	}
	return vm.Unit(), nil
}
