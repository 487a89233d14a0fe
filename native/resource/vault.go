package resource

import (
	kerrors "ledgerkernel/core/errors"
	kresource "ledgerkernel/core/resource"
	"ledgerkernel/core/system"
	"ledgerkernel/core/vm"
)

var vaultHandlers = map[string]handler{
	"take":                          take,
	"take_advanced":                 takeAdvanced,
	"take_non_fungibles":            takeNonFungibles,
	"put":                           put,
	"amount":                        amount,
	"non_fungible_ids":              nonFungibleIDs,
	"resource_address":              resourceAddress,
	"create_proof_of_amount":        createProofOfAmount,
	"create_proof_of_non_fungibles": createProofOfNonFungibles,
	"create_proof_of_all":           createProofOfAll,
	"lock_fee":                      lockFee(false),
	"lock_contingent_fee":           lockFee(true),
}

// takeAdvanced rounds the amount with the given rounding mode before
// taking it.
func takeAdvanced(env *system.Env, args vm.Args) (vm.Value, error) {
	receiver, err := env.Receiver()
	if err != nil {
		return vm.Value{}, err
	}
	amount, err := args.Decimal(0)
	if err != nil {
		return vm.Value{}, err
	}
	mode, err := args.U64(1)
	if err != nil {
		return vm.Value{}, err
	}
	if mode > uint64(kresource.ToNearestMidpointToEven) {
		return vm.Value{}, kerrors.Application(kerrors.ErrInvalidArguments, "rounding mode %d", mode)
	}
	strategy := kresource.Rounded(kresource.RoundingMode(mode))
	var out *kresource.Container
	err = updateContainer(env, receiver, func(c *kresource.Container) (err error) {
		out, err = c.TakeAdvanced(amount, strategy)
		return err
	})
	if err != nil {
		return vm.Value{}, err
	}
	return withdrawn(env, receiver, out)
}

// lockFee hands the fee lock to the costing module, which takes the units
// straight out of the vault.
func lockFee(contingent bool) handler {
	return func(env *system.Env, args vm.Args) (vm.Value, error) {
		receiver, err := env.Receiver()
		if err != nil {
			return vm.Value{}, err
		}
		amount, err := args.Decimal(0)
		if err != nil {
			return vm.Value{}, err
		}
		return vm.Unit(), env.LockFee(receiver, amount, contingent)
	}
}
