package resource

import (
	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/events"
	kresource "ledgerkernel/core/resource"
	"ledgerkernel/core/system"
	"ledgerkernel/core/types"
	"ledgerkernel/core/vm"
)

var bucketHandlers = map[string]handler{
	"take":                          take,
	"take_non_fungibles":            takeNonFungibles,
	"put":                           put,
	"amount":                        amount,
	"non_fungible_ids":              nonFungibleIDs,
	"resource_address":              resourceAddress,
	"create_proof_of_amount":        createProofOfAmount,
	"create_proof_of_non_fungibles": createProofOfNonFungibles,
	"create_proof_of_all":           createProofOfAll,
	"drop_empty":                    dropEmpty,
}

// withdrawn moves taken units into a new bucket and records vault
// withdrawals.
func withdrawn(env *system.Env, from types.NodeID, out *kresource.Container) (vm.Value, error) {
	if from.EntityType().IsVault() {
		change := events.VaultChange{Vault: from, Resource: out.Resource, Amount: out.Amount(), IDs: out.LiquidIDs, Withdraw: true}
		if err := env.EmitEvent(change.Event()); err != nil {
			return vm.Value{}, err
		}
	}
	bucket, err := newBucket(env, out)
	if err != nil {
		return vm.Value{}, err
	}
	return vm.Bucket(bucket), nil
}

func take(env *system.Env, args vm.Args) (vm.Value, error) {
	receiver, err := env.Receiver()
	if err != nil {
		return vm.Value{}, err
	}
	amount, err := args.Decimal(0)
	if err != nil {
		return vm.Value{}, err
	}
	var out *kresource.Container
	err = updateContainer(env, receiver, func(c *kresource.Container) (err error) {
		out, err = c.Take(amount)
		return err
	})
	if err != nil {
		return vm.Value{}, err
	}
	return withdrawn(env, receiver, out)
}

func takeNonFungibles(env *system.Env, args vm.Args) (vm.Value, error) {
	receiver, err := env.Receiver()
	if err != nil {
		return vm.Value{}, err
	}
	ids, err := args.IDs(0)
	if err != nil {
		return vm.Value{}, err
	}
	var out *kresource.Container
	err = updateContainer(env, receiver, func(c *kresource.Container) (err error) {
		out, err = c.TakeIDs(ids)
		return err
	})
	if err != nil {
		return vm.Value{}, err
	}
	return withdrawn(env, receiver, out)
}

// put merges a bucket into the receiver and drops the emptied bucket.
func put(env *system.Env, args vm.Args) (vm.Value, error) {
	receiver, err := env.Receiver()
	if err != nil {
		return vm.Value{}, err
	}
	bucket, err := args.Bucket(0)
	if err != nil {
		return vm.Value{}, err
	}
	in, err := readContainer(env, bucket)
	if err != nil {
		return vm.Value{}, err
	}
	if err := updateContainer(env, receiver, func(c *kresource.Container) error { return c.Put(in) }); err != nil {
		return vm.Value{}, err
	}
	if _, err := env.DropNode(bucket); err != nil {
		return vm.Value{}, err
	}
	if receiver.EntityType().IsVault() {
		change := events.VaultChange{Vault: receiver, Resource: in.Resource, Amount: in.Amount(), IDs: in.LiquidIDs}
		if err := env.EmitEvent(change.Event()); err != nil {
			return vm.Value{}, err
		}
	}
	return vm.Unit(), nil
}

func amount(env *system.Env, _ vm.Args) (vm.Value, error) {
	c, err := receiverContainer(env)
	if err != nil {
		return vm.Value{}, err
	}
	return vm.Dec(c.Amount()), nil
}

func nonFungibleIDs(env *system.Env, _ vm.Args) (vm.Value, error) {
	c, err := receiverContainer(env)
	if err != nil {
		return vm.Value{}, err
	}
	if c.Kind != kresource.NonFungible {
		return vm.Value{}, kerrors.Application(kerrors.ErrNonFungibleOperationNotSupported, "ids of a fungible container")
	}
	return vm.IDs(c.IDs()), nil
}

func resourceAddress(env *system.Env, _ vm.Args) (vm.Value, error) {
	c, err := receiverContainer(env)
	if err != nil {
		return vm.Value{}, err
	}
	return vm.Address(c.Resource), nil
}

func receiverContainer(env *system.Env) (*kresource.Container, error) {
	receiver, err := env.Receiver()
	if err != nil {
		return nil, err
	}
	return readContainer(env, receiver)
}

func createProofOfAmount(env *system.Env, args vm.Args) (vm.Value, error) {
	receiver, err := env.Receiver()
	if err != nil {
		return vm.Value{}, err
	}
	amount, err := args.Decimal(0)
	if err != nil {
		return vm.Value{}, err
	}
	proof, err := proofOfContainer(env, receiver, &amount, nil)
	if err != nil {
		return vm.Value{}, err
	}
	return vm.Proof(proof), nil
}

func createProofOfNonFungibles(env *system.Env, args vm.Args) (vm.Value, error) {
	receiver, err := env.Receiver()
	if err != nil {
		return vm.Value{}, err
	}
	ids, err := args.IDs(0)
	if err != nil {
		return vm.Value{}, err
	}
	proof, err := proofOfContainer(env, receiver, nil, ids)
	if err != nil {
		return vm.Value{}, err
	}
	return vm.Proof(proof), nil
}

func createProofOfAll(env *system.Env, _ vm.Args) (vm.Value, error) {
	receiver, err := env.Receiver()
	if err != nil {
		return vm.Value{}, err
	}
	proof, err := proofOfContainer(env, receiver, nil, nil)
	if err != nil {
		return vm.Value{}, err
	}
	return vm.Proof(proof), nil
}

// dropEmpty disposes of a bucket that holds nothing.
func dropEmpty(env *system.Env, args vm.Args) (vm.Value, error) {
	bucket, err := args.Bucket(0)
	if err != nil {
		return vm.Value{}, err
	}
	c, err := readContainer(env, bucket)
	if err != nil {
		return vm.Value{}, err
	}
	if c.IsLocked() {
		return vm.Value{}, kerrors.Application(kerrors.ErrContainerLocked, "drop").WithNode(bucket)
	}
	if !c.IsEmpty() {
		return vm.Value{}, kerrors.Application(kerrors.ErrBucketNotEmpty, "holds %s", c.Amount()).WithNode(bucket)
	}
	if _, err := env.DropNode(bucket); err != nil {
		return vm.Value{}, err
	}
	return vm.Unit(), nil
}
