package resource

import (
	"ledgerkernel/core/auth"
	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/events"
	"ledgerkernel/core/kernel"
	kresource "ledgerkernel/core/resource"
	"ledgerkernel/core/system"
	"ledgerkernel/core/types"
	"ledgerkernel/core/vm"
)

var managerHandlers = map[string]handler{
	"create":                     createManager,
	"create_with_initial_supply": createWithSupply,
	"mint":                       mint,
	"burn":                       burn,
	"create_empty_bucket":        createEmptyBucket,
	"total_supply":               totalSupply,
	"non_fungible_exists":        nonFungibleExists,
}

var (
	issuedMarker = []byte{1}
	burnedMarker = []byte{0}
)

func readManager(env *system.Env, res types.NodeID) (*kresource.ManagerState, error) {
	if !res.EntityType().IsResourceManager() {
		return nil, kerrors.System(kerrors.ErrTypeMismatch, "%s is not a resource manager", res.EntityType()).WithNode(res)
	}
	s, err := env.Read(res, types.PartitionMain, kernel.MainKey)
	if err != nil {
		return nil, err
	}
	m, err := kresource.DecodeManager(s.Data)
	if err != nil {
		return nil, kerrors.System(kerrors.ErrTypeMismatch, "%v", err).WithNode(res)
	}
	return m, nil
}

func updateManager(env *system.Env, res types.NodeID, fn func(m *kresource.ManagerState) error) error {
	return env.Update(res, types.PartitionMain, kernel.MainKey, func(s *types.Substate) error {
		m, err := kresource.DecodeManager(s.Data)
		if err != nil {
			return kerrors.System(kerrors.ErrTypeMismatch, "%v", err).WithNode(res)
		}
		if err := fn(m); err != nil {
			return err
		}
		raw, err := m.Encode()
		if err != nil {
			return err
		}
		s.Data = raw
		return nil
	})
}

// managerArgs are the creation parameters shared by both manager kinds.
type managerArgs struct {
	kind         kresource.Kind
	divisibility uint8
	symbol       string
	roles        map[string]auth.AccessRule
	reservation  types.NodeID
}

// parseManagerArgs reads (divisibility, symbol, roles) for fungible
// managers and (symbol, roles) for non-fungible ones.
func parseManagerArgs(env *system.Env, args vm.Args) (*managerArgs, int, error) {
	out := &managerArgs{kind: kresource.NonFungible}
	i := 0
	if env.Actor().Blueprint == system.BlueprintFungibleResourceManager {
		out.kind = kresource.Fungible
		d, err := args.U64(0)
		if err != nil {
			return nil, 0, err
		}
		if d > kresource.MaxDivisibility {
			return nil, 0, kerrors.Application(kerrors.ErrInvalidDivisibility, "divisibility %d", d)
		}
		out.divisibility = uint8(d)
		i = 1
	}
	symbol, err := args.String(i)
	if err != nil {
		return nil, 0, err
	}
	rawRoles, err := args.Bytes(i + 1)
	if err != nil {
		return nil, 0, err
	}
	if out.roles, err = system.DecodeRoles(rawRoles); err != nil {
		return nil, 0, err
	}
	out.symbol = symbol
	return out, i + 2, nil
}

func newManager(env *system.Env, a *managerArgs) (types.NodeID, error) {
	state, err := (&kresource.ManagerState{Kind: a.kind, Divisibility: a.divisibility, Symbol: a.symbol}).Encode()
	if err != nil {
		return types.NodeID{}, err
	}
	roles, err := system.RoleAssignment(a.roles)
	if err != nil {
		return types.NodeID{}, err
	}
	substates := make(kernel.NodeSubstates)
	substates.Set(types.PartitionMain, kernel.MainKey, types.NewSubstate(state))
	if len(roles) > 0 {
		substates[types.PartitionRoleAssignment] = roles
	}
	entity, blueprint := types.EntityGlobalFungibleResourceManager, system.BlueprintFungibleResourceManager
	if a.kind == kresource.NonFungible {
		entity, blueprint = types.EntityGlobalNonFungibleResourceManager, system.BlueprintNonFungibleResourceManager
	}
	id, err := env.NewObject(a.reservation, entity, blueprint, types.NodeID{}, substates)
	if err != nil {
		return types.NodeID{}, err
	}
	if err := env.Globalize(id); err != nil {
		return types.NodeID{}, err
	}
	created := events.ResourceCreated{Resource: id, Kind: a.kind, Divisibility: a.divisibility, Symbol: a.symbol}
	if err := env.EmitEvent(created.Event()); err != nil {
		return types.NodeID{}, err
	}
	return id, nil
}

func createManager(env *system.Env, args vm.Args) (vm.Value, error) {
	a, next, err := parseManagerArgs(env, args)
	if err != nil {
		return vm.Value{}, err
	}
	if a.reservation, err = system.ParseReservation(args, next); err != nil {
		return vm.Value{}, err
	}
	id, err := newManager(env, a)
	if err != nil {
		return vm.Value{}, err
	}
	return vm.Address(id), nil
}

func createWithSupply(env *system.Env, args vm.Args) (vm.Value, error) {
	a, next, err := parseManagerArgs(env, args)
	if err != nil {
		return vm.Value{}, err
	}
	id, err := newManager(env, a)
	if err != nil {
		return vm.Value{}, err
	}
	var bucket types.NodeID
	if a.kind == kresource.Fungible {
		amount, err := args.Decimal(next)
		if err != nil {
			return vm.Value{}, err
		}
		bucket, err = mintFungible(env, id, amount)
		if err != nil {
			return vm.Value{}, err
		}
	} else {
		ids, err := args.IDs(next)
		if err != nil {
			return vm.Value{}, err
		}
		bucket, err = mintNonFungible(env, id, ids)
		if err != nil {
			return vm.Value{}, err
		}
	}
	return vm.List(vm.Address(id), vm.Bucket(bucket)), nil
}

func mintFungible(env *system.Env, res types.NodeID, amount kresource.Decimal) (types.NodeID, error) {
	var c *kresource.Container
	err := updateManager(env, res, func(m *kresource.ManagerState) error {
		if amount.IsNegative() || !amount.FitsDivisibility(m.Divisibility) {
			return kerrors.Application(kerrors.ErrInvalidAmount, "mint %s at divisibility %d", amount, m.Divisibility)
		}
		var err error
		if c, err = kresource.NewFungible(res, m.Divisibility); err != nil {
			return err
		}
		c.Liquid = amount
		m.TotalSupply = m.TotalSupply.Add(amount)
		return nil
	})
	if err != nil {
		return types.NodeID{}, err
	}
	if err := env.EmitEvent(events.SupplyChange{Resource: res, Amount: amount}.Event()); err != nil {
		return types.NodeID{}, err
	}
	return newBucket(env, c)
}

func mintNonFungible(env *system.Env, res types.NodeID, ids kresource.IDSet) (types.NodeID, error) {
	if len(ids) == 0 {
		return types.NodeID{}, kerrors.Application(kerrors.ErrInvalidAmount, "mint without ids")
	}
	for _, id := range ids {
		if err := id.Validate(); err != nil {
			return types.NodeID{}, kerrors.Application(kerrors.ErrInvalidArguments, "%v", err)
		}
		err := env.Update(res, types.PartitionCollection, types.MapKey([]byte(id)), func(s *types.Substate) error {
			if len(s.Data) > 0 {
				return kerrors.Application(kerrors.ErrNonFungibleAlreadyExists, "id %s", id).WithNode(res)
			}
			s.Data = issuedMarker
			return nil
		})
		if err != nil {
			return types.NodeID{}, err
		}
	}
	amount := kresource.NewDecimal(int64(len(ids)))
	err := updateManager(env, res, func(m *kresource.ManagerState) error {
		if m.Kind != kresource.NonFungible {
			return kerrors.Application(kerrors.ErrNonFungibleOperationNotSupported, "mint ids").WithNode(res)
		}
		m.TotalSupply = m.TotalSupply.Add(amount)
		return nil
	})
	if err != nil {
		return types.NodeID{}, err
	}
	if err := env.EmitEvent(events.SupplyChange{Resource: res, Amount: amount, IDs: ids}.Event()); err != nil {
		return types.NodeID{}, err
	}
	c := kresource.NewNonFungible(res)
	c.LiquidIDs = ids
	return newBucket(env, c)
}

func mint(env *system.Env, args vm.Args) (vm.Value, error) {
	res, err := env.Receiver()
	if err != nil {
		return vm.Value{}, err
	}
	var bucket types.NodeID
	if env.Actor().Blueprint == system.BlueprintFungibleResourceManager {
		amount, err := args.Decimal(0)
		if err != nil {
			return vm.Value{}, err
		}
		bucket, err = mintFungible(env, res, amount)
		if err != nil {
			return vm.Value{}, err
		}
	} else {
		ids, err := args.IDs(0)
		if err != nil {
			return vm.Value{}, err
		}
		bucket, err = mintNonFungible(env, res, ids)
		if err != nil {
			return vm.Value{}, err
		}
	}
	return vm.Bucket(bucket), nil
}

func burn(env *system.Env, args vm.Args) (vm.Value, error) {
	res, err := env.Receiver()
	if err != nil {
		return vm.Value{}, err
	}
	bucket, err := args.Bucket(0)
	if err != nil {
		return vm.Value{}, err
	}
	c, err := readContainer(env, bucket)
	if err != nil {
		return vm.Value{}, err
	}
	if c.Resource != res {
		return vm.Value{}, kerrors.Application(kerrors.ErrResourceMismatch, "burn %s via %s", c.Resource.Short(), res.Short())
	}
	if c.IsLocked() {
		return vm.Value{}, kerrors.Application(kerrors.ErrContainerLocked, "burn").WithNode(bucket)
	}
	if _, err := env.DropNode(bucket); err != nil {
		return vm.Value{}, err
	}
	for _, id := range c.LiquidIDs {
		err := env.Update(res, types.PartitionCollection, types.MapKey([]byte(id)), func(s *types.Substate) error {
			s.Data = burnedMarker
			return nil
		})
		if err != nil {
			return vm.Value{}, err
		}
	}
	amount := c.Amount()
	err = updateManager(env, res, func(m *kresource.ManagerState) error {
		m.TotalSupply = m.TotalSupply.Sub(amount)
		return nil
	})
	if err != nil {
		return vm.Value{}, err
	}
	burned := events.SupplyChange{Resource: res, Amount: amount, IDs: c.LiquidIDs, Burn: true}
	return vm.Unit(), env.EmitEvent(burned.Event())
}

func createEmptyBucket(env *system.Env, _ vm.Args) (vm.Value, error) {
	res, err := env.Receiver()
	if err != nil {
		return vm.Value{}, err
	}
	m, err := readManager(env, res)
	if err != nil {
		return vm.Value{}, err
	}
	c := kresource.NewNonFungible(res)
	if m.Kind == kresource.Fungible {
		if c, err = kresource.NewFungible(res, m.Divisibility); err != nil {
			return vm.Value{}, err
		}
	}
	bucket, err := newBucket(env, c)
	if err != nil {
		return vm.Value{}, err
	}
	return vm.Bucket(bucket), nil
}

func totalSupply(env *system.Env, _ vm.Args) (vm.Value, error) {
	res, err := env.Receiver()
	if err != nil {
		return vm.Value{}, err
	}
	m, err := readManager(env, res)
	if err != nil {
		return vm.Value{}, err
	}
	return vm.Dec(m.TotalSupply), nil
}

// nonFungibleExists reports whether every id is currently in circulation.
func nonFungibleExists(env *system.Env, args vm.Args) (vm.Value, error) {
	res, err := env.Receiver()
	if err != nil {
		return vm.Value{}, err
	}
	ids, err := args.IDs(0)
	if err != nil {
		return vm.Value{}, err
	}
	for _, id := range ids {
		s, err := env.Read(res, types.PartitionCollection, types.MapKey([]byte(id)))
		if err != nil {
			return vm.Value{}, err
		}
		if len(s.Data) == 0 || s.Data[0] != issuedMarker[0] {
			return vm.Bool(false), nil
		}
	}
	return vm.Bool(true), nil
}
