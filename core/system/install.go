package system

import (
	"slices"

	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/kernel"
	"ledgerkernel/core/resource"
	"ledgerkernel/core/types"
)

// WriteNode stores a complete node straight into track. It is used to
// bootstrap state at genesis, before any kernel runs.
func WriteNode(track kernel.Track, id types.NodeID, substates kernel.NodeSubstates) error {
	partitions := make([]types.PartitionNumber, 0, len(substates))
	for p := range substates {
		partitions = append(partitions, p)
	}
	slices.Sort(partitions)
	for _, p := range partitions {
		for key, s := range substates[p] {
			raw, err := types.EncodeSubstate(s)
			if err != nil {
				return kerrors.System(kerrors.ErrStoreAccess, "%v", err).WithNode(id)
			}
			track.Set(id, p, key, raw)
		}
	}
	return nil
}

// ObjectSubstates returns substates with the type info field filled in.
func ObjectSubstates(info TypeInfo, substates kernel.NodeSubstates) (kernel.NodeSubstates, error) {
	raw, err := info.Encode()
	if err != nil {
		return nil, err
	}
	if substates == nil {
		substates = make(kernel.NodeSubstates)
	}
	substates.Set(types.PartitionTypeInfo, kernel.TypeInfoKey, types.NewSubstate(raw))
	return substates, nil
}

// InstallNatives persists the package node of every registered native
// package.
func InstallNatives(track kernel.Track, registry *Registry) error {
	for _, native := range registry.Packages() {
		state, err := (&PackageState{
			Definition: native.Definition,
			Code:       PackageCode{Kind: CodeNative, Native: native.Name},
		}).Encode()
		if err != nil {
			return err
		}
		royalty, err := EncodeRoyalty(resource.Decimal{})
		if err != nil {
			return err
		}
		substates := make(kernel.NodeSubstates)
		substates.Set(types.PartitionMain, kernel.MainKey, types.NewSubstate(state))
		substates.Set(types.PartitionRoyalty, RoyaltyKey, types.NewSubstate(royalty))
		substates, err = ObjectSubstates(TypeInfo{Package: PackagePackage, Blueprint: BlueprintPackage}, substates)
		if err != nil {
			return err
		}
		if err := WriteNode(track, native.Address, substates); err != nil {
			return err
		}
	}
	return nil
}
