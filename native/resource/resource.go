// Package resource implements the native resource package: resource
// managers, buckets, vaults, proofs and auth zones.
package resource

import (
	"ledgerkernel/core/auth"
	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/system"
	"ledgerkernel/core/vm"
)

type handler func(env *system.Env, args vm.Args) (vm.Value, error)

var handlers = map[string]map[string]handler{
	system.BlueprintFungibleResourceManager:    managerHandlers,
	system.BlueprintNonFungibleResourceManager: managerHandlers,
	system.BlueprintBucket:                     bucketHandlers,
	system.BlueprintVault:                      vaultHandlers,
	system.BlueprintProof:                      proofHandlers,
	system.BlueprintAuthZone:                   zoneHandlers,
}

// Package returns the native package definition.
func Package() *system.NativePackage {
	return &system.NativePackage{
		Address:    system.ResourcePackage,
		Name:       "resource",
		Definition: definition(),
		Handler:    handle,
	}
}

func handle(env *system.Env, blueprint, function string, args vm.Args) (vm.Value, error) {
	fn, ok := handlers[blueprint][function]
	if !ok {
		return vm.Value{}, kerrors.Application(kerrors.ErrUnknownMethod, "%s::%s", blueprint, function)
	}
	return fn(env, args)
}

func definition() system.PackageDefinition {
	return system.PackageDefinition{Blueprints: []system.BlueprintDef{
		{
			Name: system.BlueprintFungibleResourceManager,
			Functions: append(managerCommon(),
				system.Function("create", vm.KindAddress, vm.KindU64, vm.KindString, vm.KindBytes, vm.KindBytes),
				system.Function("create_with_initial_supply", vm.KindList, vm.KindU64, vm.KindString, vm.KindBytes, vm.KindDecimal),
				system.Method("mint", vm.KindBucket, vm.KindDecimal).WithRole(system.RoleMinter),
			),
			Roles: managerRoles(),
		},
		{
			Name: system.BlueprintNonFungibleResourceManager,
			Functions: append(managerCommon(),
				system.Function("create", vm.KindAddress, vm.KindString, vm.KindBytes, vm.KindBytes),
				system.Function("create_with_initial_supply", vm.KindList, vm.KindString, vm.KindBytes, vm.KindIDs),
				system.Method("mint", vm.KindBucket, vm.KindIDs).WithRole(system.RoleMinter),
				system.Method("non_fungible_exists", vm.KindBool, vm.KindIDs),
			),
			Roles: managerRoles(),
		},
		{
			Name: system.BlueprintBucket,
			Functions: append(containerCommon(""),
				system.Method("put", vm.KindUnit, vm.KindBucket),
				system.Function("drop_empty", vm.KindUnit, vm.KindBucket),
			),
		},
		{
			Name: system.BlueprintVault,
			Functions: append(containerCommon(system.RoleWithdrawer),
				system.Method("take_advanced", vm.KindBucket, vm.KindDecimal, vm.KindU64).WithRole(system.RoleWithdrawer),
				system.Method("put", vm.KindUnit, vm.KindBucket).WithRole(system.RoleDepositor),
				system.Method("lock_fee", vm.KindUnit, vm.KindDecimal).WithRole(system.RoleWithdrawer),
				system.Method("lock_contingent_fee", vm.KindUnit, vm.KindDecimal).WithRole(system.RoleWithdrawer),
			),
			Roles: []system.RoleDef{
				{Name: system.RoleWithdrawer, Rule: auth.AllowAll()},
				{Name: system.RoleDepositor, Rule: auth.AllowAll()},
			},
		},
		{
			Name: system.BlueprintProof,
			Functions: []system.FunctionDef{
				system.Method("amount", vm.KindDecimal),
				system.Method("resource_address", vm.KindAddress),
				system.Method("non_fungible_ids", vm.KindIDs),
				system.Method("clone", vm.KindProof),
				system.Function("drop", vm.KindUnit, vm.KindProof),
			},
		},
		{
			Name: system.BlueprintAuthZone,
			Functions: []system.FunctionDef{
				system.Method("push", vm.KindUnit, vm.KindProof),
				system.Method("pop", vm.KindProof),
				system.Method("create_proof_of_amount", vm.KindProof, vm.KindDecimal, vm.KindAddress),
				system.Method("create_proof_of_non_fungibles", vm.KindProof, vm.KindIDs, vm.KindAddress),
				system.Method("create_proof_of_all", vm.KindProof, vm.KindAddress),
				system.Method("drop_proofs", vm.KindUnit),
				system.Method("assert_access_rule", vm.KindUnit, vm.KindBytes),
			},
		},
	}}
}

func managerCommon() []system.FunctionDef {
	return []system.FunctionDef{
		system.Method("burn", vm.KindUnit, vm.KindBucket).WithRole(system.RoleBurner),
		system.Method("create_empty_bucket", vm.KindBucket),
		system.Method("total_supply", vm.KindDecimal),
	}
}

// managerRoles leaves supply fixed unless the creator assigns minters and
// burners.
func managerRoles() []system.RoleDef {
	return []system.RoleDef{
		{Name: system.RoleMinter, Rule: auth.DenyAll()},
		{Name: system.RoleBurner, Rule: auth.DenyAll()},
	}
}

// containerCommon lists the methods buckets and vaults share. Takes from a
// vault are guarded by withdraw; a bucket is guarded by whoever holds it.
func containerCommon(withdraw string) []system.FunctionDef {
	return []system.FunctionDef{
		system.Method("take", vm.KindBucket, vm.KindDecimal).WithRole(withdraw),
		system.Method("take_non_fungibles", vm.KindBucket, vm.KindIDs).WithRole(withdraw),
		system.Method("amount", vm.KindDecimal),
		system.Method("non_fungible_ids", vm.KindIDs),
		system.Method("resource_address", vm.KindAddress),
		system.Method("create_proof_of_amount", vm.KindProof, vm.KindDecimal),
		system.Method("create_proof_of_non_fungibles", vm.KindProof, vm.KindIDs),
		system.Method("create_proof_of_all", vm.KindProof),
	}
}
