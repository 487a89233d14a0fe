package system

import (
	"slices"

	"ledgerkernel/core/auth"
	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/kernel"
	"ledgerkernel/core/types"
	"ledgerkernel/core/vm"
)

// Env is the runtime blueprint code sees: the kernel API of the current frame
// plus typed helpers built on it.
type Env struct {
	kernel.API
	sys *System
}

// NewEnv wraps api for code running outside a blueprint, such as the
// transaction processor.
func NewEnv(api kernel.API, sys *System) *Env {
	return &Env{API: api, sys: sys}
}

// Receiver returns the node a method was called on.
func (e *Env) Receiver() (types.NodeID, error) {
	actor := e.Actor()
	if actor.Receiver == nil {
		return types.NodeID{}, kerrors.Interpreter(kerrors.ErrMalformedInput, "%s is not a method", actor)
	}
	return *actor.Receiver, nil
}

// Read returns one substate under a short-lived read lock.
func (e *Env) Read(node types.NodeID, partition types.PartitionNumber, key types.SubstateKey) (types.Substate, error) {
	h, err := e.LockSubstate(node, partition, key, kernel.LockRead)
	if err != nil {
		return types.Substate{}, err
	}
	s, err := e.ReadSubstate(h)
	if err != nil {
		return types.Substate{}, err
	}
	return s, e.CloseLock(h)
}

// Update applies fn to a substate under a mutable lock.
func (e *Env) Update(node types.NodeID, partition types.PartitionNumber, key types.SubstateKey, fn func(s *types.Substate) error) error {
	h, err := e.LockSubstate(node, partition, key, kernel.LockMutable)
	if err != nil {
		return err
	}
	s, err := e.ReadSubstate(h)
	if err == nil {
		err = fn(&s)
	}
	if err == nil {
		err = e.WriteSubstate(h, s)
	}
	if err != nil {
		_ = e.CloseLock(h)
		return err
	}
	return e.CloseLock(h)
}

// TypeInfo reads the type information of a visible node.
func (e *Env) TypeInfo(node types.NodeID) (*TypeInfo, error) {
	s, err := e.Read(node, types.PartitionTypeInfo, kernel.TypeInfoKey)
	if err != nil {
		return nil, err
	}
	return DecodeTypeInfo(s.Data)
}

// NewObject allocates and creates an object of the current package. The
// id may be a reservation made earlier; a zero id allocates a fresh one.
func (e *Env) NewObject(id types.NodeID, entity types.EntityType, blueprint string, outer types.NodeID, substates kernel.NodeSubstates) (types.NodeID, error) {
	if id.IsZero() {
		var err error
		if id, err = e.AllocateNodeID(entity); err != nil {
			return types.NodeID{}, err
		}
	} else if id.EntityType() != entity {
		return types.NodeID{}, kerrors.System(kerrors.ErrReservationNotFound, "reservation is a %s, want %s", id.EntityType(), entity).WithNode(id)
	}
	info, err := (&TypeInfo{Package: e.Actor().Package, Blueprint: blueprint, Outer: outer}).Encode()
	if err != nil {
		return types.NodeID{}, err
	}
	if substates == nil {
		substates = make(kernel.NodeSubstates)
	}
	prev, _ := substates.Get(types.PartitionTypeInfo, kernel.TypeInfoKey)
	substates.Set(types.PartitionTypeInfo, kernel.TypeInfoKey, types.Substate{Data: info, Owns: prev.Owns})
	if err := e.CreateNode(id, substates); err != nil {
		return types.NodeID{}, err
	}
	return id, nil
}

func (e *Env) invoke(actor kernel.Actor, args []vm.Value) (vm.Value, error) {
	input, err := vm.ToPayload(vm.List(args...))
	if err != nil {
		return vm.Value{}, err
	}
	output, err := e.Invoke(actor, input)
	if err != nil {
		return vm.Value{}, err
	}
	out, err := vm.FromPayload(output)
	if err != nil {
		return vm.Value{}, kerrors.Interpreter(kerrors.ErrMalformedOutput, "%v", err).WithActor(actor.String())
	}
	return out, nil
}

// CallMethod invokes a method on receiver, resolving its blueprint from
// type info.
func (e *Env) CallMethod(receiver types.NodeID, method string, args ...vm.Value) (vm.Value, error) {
	info, err := e.TypeInfo(receiver)
	if err != nil {
		return vm.Value{}, err
	}
	return e.invoke(kernel.Actor{Package: info.Package, Blueprint: info.Blueprint, Function: method, Receiver: &receiver}, args)
}

func (e *Env) CallFunction(pkg types.NodeID, blueprint, function string, args ...vm.Value) (vm.Value, error) {
	return e.invoke(kernel.Actor{Package: pkg, Blueprint: blueprint, Function: function}, args)
}

// RoleAssignment builds the role partition of a new global object.
func RoleAssignment(rules map[string]auth.AccessRule) (map[types.SubstateKey]types.Substate, error) {
	names := make([]string, 0, len(rules))
	for name := range rules {
		names = append(names, name)
	}
	slices.Sort(names)
	out := make(map[types.SubstateKey]types.Substate, len(rules))
	for _, name := range names {
		raw, err := auth.EncodeRule(rules[name])
		if err != nil {
			return nil, err
		}
		out[RoleKey(name)] = types.NewSubstate(raw)
	}
	return out, nil
}

// RoleKey addresses one role in the role assignment partition.
func RoleKey(role string) types.SubstateKey { return types.MapKey([]byte(role)) }

var _ vm.Runtime = (*Env)(nil)
