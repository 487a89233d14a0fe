package system

import (
	"fmt"

	"ledgerkernel/core/auth"
	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/kernel"
	"ledgerkernel/core/types"
	"ledgerkernel/core/vm"
)

// System dispatches kernel invocations to native or external blueprint
// code. One System serves one transaction.
type System struct {
	registry *Registry
	executor vm.Executor
	packages map[types.NodeID]*PackageState
	// owners caches the package named by each node's type info.
	owners map[types.NodeID]types.NodeID
}

func New(registry *Registry, executor vm.Executor) *System {
	return &System{
		registry: registry,
		executor: executor,
		packages: make(map[types.NodeID]*PackageState),
		owners:   make(map[types.NodeID]types.NodeID),
	}
}

// loader reads one substate; ok is false when it does not exist.
type loader func(node types.NodeID, partition types.PartitionNumber, key types.SubstateKey) (types.Substate, bool, error)

func apiLoader(api kernel.API) loader {
	return func(node types.NodeID, partition types.PartitionNumber, key types.SubstateKey) (types.Substate, bool, error) {
		h, err := api.LockSubstate(node, partition, key, kernel.LockRead)
		if kerrors.Is(err, kerrors.ErrSubstateNotFound) || kerrors.Is(err, kerrors.ErrNodeNotVisible) {
			return types.Substate{}, false, nil
		}
		if err != nil {
			return types.Substate{}, false, err
		}
		s, err := api.ReadSubstate(h)
		if err != nil {
			return types.Substate{}, false, err
		}
		return s, true, api.CloseLock(h)
	}
}

func inspectorLoader(insp kernel.Inspector) loader {
	return insp.PeekSubstate
}

func (s *System) loadPackage(load loader, pkg types.NodeID) (*PackageState, error) {
	if p, ok := s.packages[pkg]; ok {
		return p, nil
	}
	if pkg.EntityType() != types.EntityGlobalPackage {
		return nil, kerrors.System(kerrors.ErrPackageNotFound, "not a package").WithNode(pkg)
	}
	raw, ok, err := load(pkg, types.PartitionMain, kernel.MainKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, kerrors.System(kerrors.ErrPackageNotFound, "no package state").WithNode(pkg)
	}
	p, err := DecodePackageState(raw.Data)
	if err != nil {
		return nil, kerrors.System(kerrors.ErrInvalidPackage, "%v", err).WithNode(pkg)
	}
	s.packages[pkg] = p
	return p, nil
}

func (s *System) lookup(load loader, actor kernel.Actor) (*PackageState, *BlueprintDef, FunctionDef, error) {
	pkg, err := s.loadPackage(load, actor.Package)
	if err != nil {
		return nil, nil, FunctionDef{}, err
	}
	bp, ok := pkg.Definition.Blueprint(actor.Blueprint)
	if !ok {
		return nil, nil, FunctionDef{}, kerrors.System(kerrors.ErrBlueprintNotFound, "%s", actor.Blueprint).WithNode(actor.Package)
	}
	fn, ok := bp.Function(actor.Function)
	if !ok {
		return nil, nil, FunctionDef{}, kerrors.Interpreter(kerrors.ErrExportNotFound, "%s::%s", actor.Blueprint, actor.Function).WithNode(actor.Package)
	}
	if fn.Method != actor.IsMethod() {
		return nil, nil, FunctionDef{}, kerrors.Interpreter(kerrors.ErrMalformedInput, "%s::%s called as method=%t", actor.Blueprint, actor.Function, actor.IsMethod())
	}
	return pkg, bp, fn, nil
}

// Invoke implements kernel.Callback.
func (s *System) Invoke(api kernel.API, actor kernel.Actor, input kernel.Payload) (kernel.Payload, error) {
	pkg, _, fn, err := s.lookup(apiLoader(api), actor)
	if err != nil {
		return kernel.Payload{}, err
	}
	in, err := vm.FromPayload(input)
	if err != nil {
		return kernel.Payload{}, err
	}
	if in.Kind != vm.KindList {
		return kernel.Payload{}, kerrors.Interpreter(kerrors.ErrMalformedInput, "arguments must be a list").WithActor(actor.String())
	}
	if err := vm.CheckKinds(in.Items, fn.Inputs); err != nil {
		return kernel.Payload{}, kerrors.Interpreter(kerrors.ErrMalformedInput, "%v", err).WithActor(actor.String())
	}

	env := &Env{API: &guard{API: api, sys: s}, sys: s}
	var out vm.Value
	switch pkg.Code.Kind {
	case CodeNative:
		native, ok := s.registry.Native(pkg.Code.Native)
		if !ok {
			return kernel.Payload{}, kerrors.Interpreter(kerrors.ErrCodeNotFound, "native %q", pkg.Code.Native)
		}
		out, err = callNative(native.Handler, env, actor, in.Items)
	case CodeExternal:
		out, err = s.callExternal(env, pkg, actor, input.Data)
	default:
		err = kerrors.System(kerrors.ErrInvalidPackage, "code kind %d", pkg.Code.Kind).WithNode(actor.Package)
	}
	if err != nil {
		return kernel.Payload{}, err
	}
	if fn.Output != vm.KindAny && out.Kind != fn.Output {
		return kernel.Payload{}, kerrors.Interpreter(kerrors.ErrMalformedOutput, "want %s, got %s", fn.Output, out.Kind).WithActor(actor.String())
	}
	return vm.ToPayload(out)
}

func callNative(handler Native, env *Env, actor kernel.Actor, args []vm.Value) (out vm.Value, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = kerrors.Application(kerrors.ErrBlueprintPanic, "%v", r).WithActor(actor.String())
		}
	}()
	return handler(env, actor.Blueprint, actor.Function, args)
}

// ExportName is the export an external package provides for a blueprint
// function.
func ExportName(blueprint, function string) string {
	return fmt.Sprintf("%s_%s", blueprint, function)
}

func (s *System) callExternal(env *Env, pkg *PackageState, actor kernel.Actor, input []byte) (vm.Value, error) {
	if s.executor == nil {
		return vm.Value{}, kerrors.Interpreter(kerrors.ErrCodeNotFound, "no executor configured")
	}
	code, err := env.Read(actor.Package, types.PartitionPackageCode, kernel.MainKey)
	if err != nil {
		return vm.Value{}, err
	}
	inst, err := s.executor.Instantiate(pkg.Code.Hash, code.Data)
	if err != nil {
		return vm.Value{}, err
	}
	raw, err := inst.InvokeExport(env, ExportName(actor.Blueprint, actor.Function), input)
	if err != nil {
		return vm.Value{}, err
	}
	out, err := vm.DecodeValue(raw)
	if err != nil {
		return vm.Value{}, kerrors.Interpreter(kerrors.ErrMalformedOutput, "%v", err).WithActor(actor.String())
	}
	return out, nil
}

// AutoDrop implements kernel.Callback. Proofs and empty buckets are dropped
// through their blueprints; auth zones and empty worktops directly. Anything
// else is left for the kernel to report.
func (s *System) AutoDrop(api kernel.API, node types.NodeID) error {
	env := &Env{API: api, sys: s}
	switch node.EntityType() {
	case types.EntityInternalProof:
		_, err := env.CallFunction(ResourcePackage, BlueprintProof, "drop", vm.Proof(node))
		return err
	case types.EntityInternalBucket:
		_, err := env.CallFunction(ResourcePackage, BlueprintBucket, "drop_empty", vm.Bucket(node))
		return err
	case types.EntityInternalWorktop:
		state, err := env.Read(node, types.PartitionMain, kernel.MainKey)
		if err != nil {
			return err
		}
		if len(state.Owns) > 0 {
			return kerrors.Application(kerrors.ErrWorktopNotEmpty, "%d buckets", len(state.Owns)).WithNode(node)
		}
		_, err = api.DropNode(node)
		return err
	case types.EntityInternalAuthZone:
		_, err := api.DropNode(node)
		return err
	}
	return nil
}

// NewAuthZone implements kernel.Callback.
func (s *System) NewAuthZone() kernel.NodeSubstates {
	info, err := (&TypeInfo{Package: ResourcePackage, Blueprint: BlueprintAuthZone}).Encode()
	if err != nil {
		panic(fmt.Sprintf("encode auth zone type info: %v", err))
	}
	zone, err := (&auth.ZoneState{}).Encode()
	if err != nil {
		panic(fmt.Sprintf("encode empty auth zone: %v", err))
	}
	out := make(kernel.NodeSubstates)
	out.Set(types.PartitionTypeInfo, kernel.TypeInfoKey, types.NewSubstate(info))
	out.Set(types.PartitionMain, kernel.MainKey, types.NewSubstate(zone))
	return out
}

var _ kernel.Callback = (*System)(nil)
