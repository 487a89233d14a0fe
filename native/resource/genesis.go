package resource

import (
	"ledgerkernel/core/auth"
	"ledgerkernel/core/kernel"
	kresource "ledgerkernel/core/resource"
	"ledgerkernel/core/system"
	"ledgerkernel/core/types"
)

// ManagerSubstates builds a complete resource manager node for bootstrap
// code that writes state before any kernel runs. supply is recorded as
// already issued; the caller places it in vaults.
func ManagerSubstates(kind kresource.Kind, divisibility uint8, symbol string, supply kresource.Decimal, roles map[string]auth.AccessRule) (kernel.NodeSubstates, error) {
	state, err := (&kresource.ManagerState{Kind: kind, Divisibility: divisibility, TotalSupply: supply, Symbol: symbol}).Encode()
	if err != nil {
		return nil, err
	}
	substates := make(kernel.NodeSubstates)
	substates.Set(types.PartitionMain, kernel.MainKey, types.NewSubstate(state))
	if len(roles) > 0 {
		assigned, err := system.RoleAssignment(roles)
		if err != nil {
			return nil, err
		}
		substates[types.PartitionRoleAssignment] = assigned
	}
	blueprint := system.BlueprintFungibleResourceManager
	if kind == kresource.NonFungible {
		blueprint = system.BlueprintNonFungibleResourceManager
	}
	return system.ObjectSubstates(system.TypeInfo{Package: system.ResourcePackage, Blueprint: blueprint}, substates)
}

// FungibleVaultSubstates builds a vault node holding amount of res.
func FungibleVaultSubstates(res types.NodeID, divisibility uint8, amount kresource.Decimal) (kernel.NodeSubstates, error) {
	c, err := kresource.NewFungible(res, divisibility)
	if err != nil {
		return nil, err
	}
	c.Liquid = amount
	substates, err := containerSubstates(c)
	if err != nil {
		return nil, err
	}
	return system.ObjectSubstates(system.TypeInfo{
		Package:   system.ResourcePackage,
		Blueprint: system.BlueprintVault,
		Outer:     res,
	}, substates)
}
