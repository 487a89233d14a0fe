// Package account implements the native account blueprint: a global
// component holding one vault per resource, guarded by an owner role.
package account

import (
	"github.com/ethereum/go-ethereum/crypto"

	"ledgerkernel/core/auth"
	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/events"
	"ledgerkernel/core/kernel"
	kresource "ledgerkernel/core/resource"
	"ledgerkernel/core/system"
	"ledgerkernel/core/types"
	"ledgerkernel/core/vm"
	"ledgerkernel/native/resource"
)

type handler func(env *system.Env, args vm.Args) (vm.Value, error)

var handlers = map[string]handler{
	"create":                        create,
	"create_advanced":               createAdvanced,
	"deposit":                       deposit,
	"deposit_batch":                 depositBatch,
	"withdraw":                      withdraw,
	"withdraw_non_fungibles":        withdrawNonFungibles,
	"lock_fee":                      lockFee(false),
	"lock_contingent_fee":           lockFee(true),
	"create_proof_of_amount":        createProofOfAmount,
	"create_proof_of_non_fungibles": createProofOfNonFungibles,
	"balance":                       balance,
}

func Package() *system.NativePackage {
	return &system.NativePackage{
		Address:    system.AccountPackage,
		Name:       "account",
		Definition: definition(),
		Handler:    handle,
	}
}

func handle(env *system.Env, blueprint, function string, args vm.Args) (vm.Value, error) {
	fn, ok := handlers[function]
	if !ok || blueprint != system.BlueprintAccount {
		return vm.Value{}, kerrors.Application(kerrors.ErrUnknownMethod, "%s::%s", blueprint, function)
	}
	return fn(env, args)
}

func definition() system.PackageDefinition {
	owner := system.RoleOwner
	return system.PackageDefinition{Blueprints: []system.BlueprintDef{{
		Name: system.BlueprintAccount,
		Functions: []system.FunctionDef{
			system.Function("create", vm.KindAddress, vm.KindBytes, vm.KindBytes),
			system.Function("create_advanced", vm.KindAddress, vm.KindBytes, vm.KindBytes),
			system.Method("deposit", vm.KindUnit, vm.KindBucket),
			system.Method("deposit_batch", vm.KindUnit, vm.KindList),
			system.Method("withdraw", vm.KindBucket, vm.KindAddress, vm.KindDecimal).WithRole(owner),
			system.Method("withdraw_non_fungibles", vm.KindBucket, vm.KindAddress, vm.KindIDs).WithRole(owner),
			system.Method("lock_fee", vm.KindUnit, vm.KindDecimal).WithRole(owner),
			system.Method("lock_contingent_fee", vm.KindUnit, vm.KindDecimal).WithRole(owner),
			system.Method("create_proof_of_amount", vm.KindProof, vm.KindAddress, vm.KindDecimal).WithRole(owner),
			system.Method("create_proof_of_non_fungibles", vm.KindProof, vm.KindAddress, vm.KindIDs).WithRole(owner),
			system.Method("balance", vm.KindDecimal, vm.KindAddress),
		},
		Roles: []system.RoleDef{{Name: owner, Rule: auth.DenyAll()}},
	}}}
}

// OwnerRule is the owner role of an account controlled by a single key.
func OwnerRule(pubkey []byte) auth.AccessRule {
	return auth.RequireNonFungible(system.SignatureBadge, system.SignerID(pubkey))
}

// Address is the deterministic address of the key-controlled account that
// genesis creates for pubkey.
func Address(pubkey []byte) types.NodeID {
	h := crypto.Keccak256(pubkey)
	return types.NewNodeID(types.EntityGlobalAccount, h[len(h)-types.NodeIDLength+1:])
}

// VaultKey is the collection key of the account's vault for res.
func VaultKey(res types.NodeID) types.SubstateKey { return types.MapKey(res.Bytes()) }

// InitialSubstates builds a persisted account owning the given vaults,
// keyed by resource.
func InitialSubstates(owner auth.AccessRule, vaults map[types.NodeID]types.NodeID) (kernel.NodeSubstates, error) {
	roles, err := system.RoleAssignment(map[string]auth.AccessRule{system.RoleOwner: owner})
	if err != nil {
		return nil, err
	}
	substates := kernel.NodeSubstates{types.PartitionRoleAssignment: roles}
	for res, vault := range vaults {
		substates.Set(types.PartitionCollection, VaultKey(res), types.Substate{Data: vault.Bytes(), Owns: []types.NodeID{vault}})
	}
	return system.ObjectSubstates(system.TypeInfo{Package: system.AccountPackage, Blueprint: system.BlueprintAccount}, substates)
}

func create(env *system.Env, args vm.Args) (vm.Value, error) {
	pubkey, err := args.Bytes(0)
	if err != nil {
		return vm.Value{}, err
	}
	if len(pubkey) == 0 {
		return vm.Value{}, kerrors.Application(kerrors.ErrInvalidArguments, "empty public key")
	}
	reservation, err := system.ParseReservation(args, 1)
	if err != nil {
		return vm.Value{}, err
	}
	return newAccount(env, reservation, OwnerRule(pubkey), string(system.SignerID(pubkey)))
}

func createAdvanced(env *system.Env, args vm.Args) (vm.Value, error) {
	raw, err := args.Bytes(0)
	if err != nil {
		return vm.Value{}, err
	}
	if len(raw) == 0 {
		return vm.Value{}, kerrors.Application(kerrors.ErrInvalidArguments, "empty owner rule")
	}
	owner, err := auth.DecodeRule(raw)
	if err != nil {
		return vm.Value{}, kerrors.Application(kerrors.ErrInvalidArguments, "owner rule: %v", err)
	}
	reservation, err := system.ParseReservation(args, 1)
	if err != nil {
		return vm.Value{}, err
	}
	return newAccount(env, reservation, owner, "")
}

func newAccount(env *system.Env, reservation types.NodeID, owner auth.AccessRule, label string) (vm.Value, error) {
	roles, err := system.RoleAssignment(map[string]auth.AccessRule{system.RoleOwner: owner})
	if err != nil {
		return vm.Value{}, err
	}
	substates := kernel.NodeSubstates{types.PartitionRoleAssignment: roles}
	id, err := env.NewObject(reservation, types.EntityGlobalAccount, system.BlueprintAccount, types.NodeID{}, substates)
	if err != nil {
		return vm.Value{}, err
	}
	if err := env.Globalize(id); err != nil {
		return vm.Value{}, err
	}
	if err := env.EmitEvent(events.AccountCreated{Account: id, Owner: label}.Event()); err != nil {
		return vm.Value{}, err
	}
	return vm.Address(id), nil
}

// withVault runs fn while the account's vault for res is visible. A missing
// vault is created when create is set; otherwise fn gets a zero id.
func withVault(env *system.Env, res types.NodeID, create bool, fn func(vault types.NodeID) error) error {
	account, err := env.Receiver()
	if err != nil {
		return err
	}
	flags := kernel.LockRead
	if create {
		flags = kernel.LockMutable
	}
	h, err := env.LockSubstate(account, types.PartitionCollection, VaultKey(res), flags)
	if err != nil {
		return err
	}
	err = func() error {
		s, err := env.ReadSubstate(h)
		if err != nil {
			return err
		}
		var vault types.NodeID
		switch {
		case len(s.Owns) > 0:
			vault = s.Owns[0]
		case create:
			if vault, err = resource.NewVault(env, res); err != nil {
				return err
			}
			if err := env.WriteSubstate(h, types.Substate{Data: vault.Bytes(), Owns: []types.NodeID{vault}}); err != nil {
				return err
			}
		}
		return fn(vault)
	}()
	if cerr := env.CloseLock(h); err == nil {
		err = cerr
	}
	return err
}

// existingVault is withVault for operations that need funds already held.
func existingVault(env *system.Env, res types.NodeID, fn func(vault types.NodeID) error) error {
	return withVault(env, res, false, func(vault types.NodeID) error {
		if vault.IsZero() {
			return kerrors.Application(kerrors.ErrAccountVaultNotFound, "resource %s", res.Short())
		}
		return fn(vault)
	})
}

func depositBucket(env *system.Env, bucket types.NodeID) error {
	out, err := env.CallMethod(bucket, "resource_address")
	if err != nil {
		return err
	}
	return withVault(env, out.Node, true, func(vault types.NodeID) error {
		_, err := env.CallMethod(vault, "put", vm.Bucket(bucket))
		return err
	})
}

func deposit(env *system.Env, args vm.Args) (vm.Value, error) {
	bucket, err := args.Bucket(0)
	if err != nil {
		return vm.Value{}, err
	}
	return vm.Unit(), depositBucket(env, bucket)
}

func depositBatch(env *system.Env, args vm.Args) (vm.Value, error) {
	items, err := args.List(0)
	if err != nil {
		return vm.Value{}, err
	}
	for i, item := range items {
		if item.Kind != vm.KindBucket {
			return vm.Value{}, kerrors.Application(kerrors.ErrInvalidArguments, "item %d is a %s", i, item.Kind)
		}
	}
	for _, item := range items {
		if err := depositBucket(env, item.Node); err != nil {
			return vm.Value{}, err
		}
	}
	return vm.Unit(), nil
}

// callVault forwards a call to the vault for the resource in args[0].
func callVault(env *system.Env, args vm.Args, method string, rest ...vm.Value) (vm.Value, error) {
	res, err := args.Address(0)
	if err != nil {
		return vm.Value{}, err
	}
	var out vm.Value
	err = existingVault(env, res, func(vault types.NodeID) error {
		out, err = env.CallMethod(vault, method, rest...)
		return err
	})
	return out, err
}

func withdraw(env *system.Env, args vm.Args) (vm.Value, error) {
	amount, err := args.Decimal(1)
	if err != nil {
		return vm.Value{}, err
	}
	return callVault(env, args, "take", vm.Dec(amount))
}

func withdrawNonFungibles(env *system.Env, args vm.Args) (vm.Value, error) {
	ids, err := args.IDs(1)
	if err != nil {
		return vm.Value{}, err
	}
	return callVault(env, args, "take_non_fungibles", vm.IDs(ids))
}

func createProofOfAmount(env *system.Env, args vm.Args) (vm.Value, error) {
	amount, err := args.Decimal(1)
	if err != nil {
		return vm.Value{}, err
	}
	return callVault(env, args, "create_proof_of_amount", vm.Dec(amount))
}

func createProofOfNonFungibles(env *system.Env, args vm.Args) (vm.Value, error) {
	ids, err := args.IDs(1)
	if err != nil {
		return vm.Value{}, err
	}
	return callVault(env, args, "create_proof_of_non_fungibles", vm.IDs(ids))
}

// lockFee reserves fees from the account's fee resource vault.
func lockFee(contingent bool) handler {
	method := "lock_fee"
	if contingent {
		method = "lock_contingent_fee"
	}
	return func(env *system.Env, args vm.Args) (vm.Value, error) {
		amount, err := args.Decimal(0)
		if err != nil {
			return vm.Value{}, err
		}
		err = existingVault(env, system.FeeResource, func(vault types.NodeID) error {
			_, err := env.CallMethod(vault, method, vm.Dec(amount))
			return err
		})
		if err != nil {
			return vm.Value{}, err
		}
		return vm.Unit(), nil
	}
}

func balance(env *system.Env, args vm.Args) (vm.Value, error) {
	res, err := args.Address(0)
	if err != nil {
		return vm.Value{}, err
	}
	total := kresource.NewDecimal(0)
	err = withVault(env, res, false, func(vault types.NodeID) error {
		if vault.IsZero() {
			return nil
		}
		out, err := env.CallMethod(vault, "amount")
		total = out.Dec
		return err
	})
	if err != nil {
		return vm.Value{}, err
	}
	return vm.Dec(total), nil
}
