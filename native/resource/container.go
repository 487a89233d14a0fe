package resource

import (
	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/kernel"
	kresource "ledgerkernel/core/resource"
	"ledgerkernel/core/system"
	"ledgerkernel/core/types"
)

func readContainer(env *system.Env, node types.NodeID) (*kresource.Container, error) {
	s, err := env.Read(node, types.PartitionMain, kernel.MainKey)
	if err != nil {
		return nil, err
	}
	c, err := kresource.DecodeContainer(s.Data)
	if err != nil {
		return nil, kerrors.System(kerrors.ErrTypeMismatch, "%v", err).WithNode(node)
	}
	return c, nil
}

func updateContainer(env *system.Env, node types.NodeID, fn func(c *kresource.Container) error) error {
	return env.Update(node, types.PartitionMain, kernel.MainKey, func(s *types.Substate) error {
		c, err := kresource.DecodeContainer(s.Data)
		if err != nil {
			return kerrors.System(kerrors.ErrTypeMismatch, "%v", err).WithNode(node)
		}
		if err := fn(c); err != nil {
			return err
		}
		raw, err := c.Encode()
		if err != nil {
			return err
		}
		s.Data = raw
		return nil
	})
}

func containerSubstates(c *kresource.Container) (kernel.NodeSubstates, error) {
	raw, err := c.Encode()
	if err != nil {
		return nil, err
	}
	substates := make(kernel.NodeSubstates)
	substates.Set(types.PartitionMain, kernel.MainKey, types.NewSubstate(raw))
	return substates, nil
}

// newBucket creates a bucket holding c in the current frame.
func newBucket(env *system.Env, c *kresource.Container) (types.NodeID, error) {
	substates, err := containerSubstates(c)
	if err != nil {
		return types.NodeID{}, err
	}
	return env.NewObject(types.NodeID{}, types.EntityInternalBucket, system.BlueprintBucket, c.Resource, substates)
}

// NewVault creates an empty vault of res owned by the calling frame. Vaults
// never move, so they are created where they will live rather than inside
// the resource package.
func NewVault(env *system.Env, res types.NodeID) (types.NodeID, error) {
	m, err := readManager(env, res)
	if err != nil {
		return types.NodeID{}, err
	}
	c, entity := kresource.NewNonFungible(res), types.EntityInternalNonFungibleVault
	if m.Kind == kresource.Fungible {
		entity = types.EntityInternalFungibleVault
		if c, err = kresource.NewFungible(res, m.Divisibility); err != nil {
			return types.NodeID{}, err
		}
	}
	substates, err := containerSubstates(c)
	if err != nil {
		return types.NodeID{}, err
	}
	substates, err = system.ObjectSubstates(system.TypeInfo{
		Package:   system.ResourcePackage,
		Blueprint: system.BlueprintVault,
		Outer:     res,
	}, substates)
	if err != nil {
		return types.NodeID{}, err
	}
	id, err := env.AllocateNodeID(entity)
	if err != nil {
		return types.NodeID{}, err
	}
	if err := env.CreateNode(id, substates); err != nil {
		return types.NodeID{}, err
	}
	return id, nil
}

// lockEvidence and unlockEvidence hold and release the units a proof
// shows in one container.
func lockEvidence(env *system.Env, kind kresource.Kind, ev kresource.Evidence) error {
	return updateContainer(env, ev.Container, func(c *kresource.Container) error {
		if kind == kresource.NonFungible {
			return c.LockIDs(ev.IDs)
		}
		_, err := c.LockAmount(ev.Amount)
		return err
	})
}

func unlockEvidence(env *system.Env, kind kresource.Kind, ev kresource.Evidence) error {
	return updateContainer(env, ev.Container, func(c *kresource.Container) error {
		if kind == kresource.NonFungible {
			return c.UnlockIDs(ev.IDs)
		}
		return c.UnlockAmount(ev.Amount)
	})
}

// newProof creates a proof in the current frame. The proof references its
// containers so that whoever holds it can release them.
func newProof(env *system.Env, state *kresource.ProofState) (types.NodeID, error) {
	raw, err := state.Encode()
	if err != nil {
		return types.NodeID{}, err
	}
	substates := make(kernel.NodeSubstates)
	substates.Set(types.PartitionMain, kernel.MainKey, types.Substate{Data: raw, Refs: state.Containers()})
	return env.NewObject(types.NodeID{}, types.EntityInternalProof, system.BlueprintProof, state.Resource, substates)
}

// proofOfContainer locks units of a bucket or vault and returns a proof of
// them. A nil amount and nil ids lock everything held.
func proofOfContainer(env *system.Env, node types.NodeID, amount *kresource.Decimal, ids kresource.IDSet) (types.NodeID, error) {
	state := &kresource.ProofState{}
	err := updateContainer(env, node, func(c *kresource.Container) error {
		state.Resource, state.Kind = c.Resource, c.Kind
		switch {
		case ids != nil:
			if err := c.LockIDs(ids); err != nil {
				return err
			}
			state.IDs = ids
			state.Amount = kresource.NewDecimal(int64(len(ids)))
		case c.Kind == kresource.NonFungible:
			if amount == nil {
				state.IDs = c.IDs()
				state.Amount = kresource.NewDecimal(int64(len(state.IDs)))
				return c.LockIDs(state.IDs)
			}
			locked, err := c.LockAmount(*amount)
			if err != nil {
				return err
			}
			state.IDs, state.Amount = locked, *amount
		default:
			state.Amount = c.Amount()
			if amount != nil {
				state.Amount = *amount
			}
			if _, err := c.LockAmount(state.Amount); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return types.NodeID{}, err
	}
	state.Evidence = []kresource.Evidence{{Container: node, Amount: state.Amount, IDs: state.IDs}}
	return newProof(env, state)
}
