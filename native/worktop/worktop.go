// Package worktop implements the transaction worktop: the transient holding
// area for buckets between manifest instructions. It keeps at most one
// bucket per resource and never holds an empty bucket.
package worktop

import (
	"github.com/ethereum/go-ethereum/rlp"

	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/kernel"
	kresource "ledgerkernel/core/resource"
	"ledgerkernel/core/system"
	"ledgerkernel/core/types"
	"ledgerkernel/core/vm"
)

type handler func(w *worktop, args vm.Args) (vm.Value, error)

var handlers = map[string]handler{
	"put":                           put,
	"take":                          take,
	"take_all":                      takeAll,
	"take_non_fungibles":            takeNonFungibles,
	"drain":                         drain,
	"assert_contains":               assertContains,
	"assert_contains_any":           assertContainsAny,
	"assert_contains_non_fungibles": assertContainsNonFungibles,
	"assert_is_empty":               assertIsEmpty,
	"is_empty":                      isEmpty,
}

func Package() *system.NativePackage {
	return &system.NativePackage{
		Address:    system.WorktopPackage,
		Name:       "worktop",
		Definition: definition(),
		Handler:    handle,
	}
}

func definition() system.PackageDefinition {
	return system.PackageDefinition{Blueprints: []system.BlueprintDef{{
		Name: system.BlueprintWorktop,
		Functions: []system.FunctionDef{
			system.Method("put", vm.KindUnit, vm.KindBucket),
			system.Method("take", vm.KindBucket, vm.KindAddress, vm.KindDecimal),
			system.Method("take_all", vm.KindBucket, vm.KindAddress),
			system.Method("take_non_fungibles", vm.KindBucket, vm.KindAddress, vm.KindIDs),
			system.Method("drain", vm.KindList),
			system.Method("assert_contains", vm.KindUnit, vm.KindAddress, vm.KindDecimal),
			system.Method("assert_contains_any", vm.KindUnit, vm.KindAddress),
			system.Method("assert_contains_non_fungibles", vm.KindUnit, vm.KindAddress, vm.KindIDs),
			system.Method("assert_is_empty", vm.KindUnit),
			system.Method("is_empty", vm.KindBool),
		},
	}}}
}

// state lists the resource of each owned bucket, in Owns order.
type state struct {
	Resources []types.NodeID
}

// New creates an empty worktop owned by the root frame.
func New(env *system.Env) (types.NodeID, error) {
	id, err := env.AllocateNodeID(types.EntityInternalWorktop)
	if err != nil {
		return types.NodeID{}, err
	}
	raw, err := rlp.EncodeToBytes(&state{})
	if err != nil {
		return types.NodeID{}, err
	}
	substates := make(kernel.NodeSubstates)
	substates.Set(types.PartitionMain, kernel.MainKey, types.NewSubstate(raw))
	substates, err = system.ObjectSubstates(system.TypeInfo{Package: system.WorktopPackage, Blueprint: system.BlueprintWorktop}, substates)
	if err != nil {
		return types.NodeID{}, err
	}
	if err := env.CreateNode(id, substates); err != nil {
		return types.NodeID{}, err
	}
	return id, nil
}

// worktop is the receiver's bucket list under a mutable lock. Buckets are
// visible to the frame while it is open.
type worktop struct {
	env       *system.Env
	node      types.NodeID
	handle    kernel.LockHandle
	buckets   []types.NodeID
	resources []types.NodeID
	dirty     bool
}

func handle(env *system.Env, blueprint, function string, args vm.Args) (vm.Value, error) {
	fn, ok := handlers[function]
	if !ok || blueprint != system.BlueprintWorktop {
		return vm.Value{}, kerrors.Application(kerrors.ErrUnknownMethod, "%s::%s", blueprint, function)
	}
	w, err := open(env)
	if err != nil {
		return vm.Value{}, err
	}
	out, err := fn(w, args)
	if cerr := w.close(err == nil); err == nil {
		err = cerr
	}
	if err != nil {
		return vm.Value{}, err
	}
	return out, nil
}

func open(env *system.Env) (*worktop, error) {
	node, err := env.Receiver()
	if err != nil {
		return nil, err
	}
	h, err := env.LockSubstate(node, types.PartitionMain, kernel.MainKey, kernel.LockMutable)
	if err != nil {
		return nil, err
	}
	s, err := env.ReadSubstate(h)
	if err != nil {
		_ = env.CloseLock(h)
		return nil, err
	}
	var st state
	if err := rlp.DecodeBytes(s.Data, &st); err != nil || len(st.Resources) != len(s.Owns) {
		_ = env.CloseLock(h)
		return nil, kerrors.System(kerrors.ErrTypeMismatch, "worktop state").WithNode(node)
	}
	return &worktop{env: env, node: node, handle: h, buckets: s.Owns, resources: st.Resources}, nil
}

func (w *worktop) flush() error {
	if !w.dirty {
		return nil
	}
	raw, err := rlp.EncodeToBytes(&state{Resources: w.resources})
	if err != nil {
		return err
	}
	if err := w.env.WriteSubstate(w.handle, types.Substate{Data: raw, Owns: w.buckets}); err != nil {
		return err
	}
	w.dirty = false
	return nil
}

func (w *worktop) close(write bool) error {
	var err error
	if write {
		err = w.flush()
	}
	if cerr := w.env.CloseLock(w.handle); err == nil {
		err = cerr
	}
	return err
}

func (w *worktop) find(res types.NodeID) int {
	for i, r := range w.resources {
		if r == res {
			return i
		}
	}
	return -1
}

// detach hands the bucket at i back to the current frame.
func (w *worktop) detach(i int) types.NodeID {
	bucket := w.buckets[i]
	w.buckets = append(w.buckets[:i:i], w.buckets[i+1:]...)
	w.resources = append(w.resources[:i:i], w.resources[i+1:]...)
	w.dirty = true
	return bucket
}

func (w *worktop) amount(res types.NodeID) (kresource.Decimal, error) {
	i := w.find(res)
	if i < 0 {
		return kresource.NewDecimal(0), nil
	}
	out, err := w.env.CallMethod(w.buckets[i], "amount")
	return out.Dec, err
}

func (w *worktop) emptyBucket(res types.NodeID) (vm.Value, error) {
	return w.env.CallMethod(res, "create_empty_bucket")
}

// takeFrom withdraws from the bucket at i and drops it once emptied.
func (w *worktop) takeFrom(i int, method string, arg vm.Value) (vm.Value, error) {
	out, err := w.env.CallMethod(w.buckets[i], method, arg)
	if err != nil {
		return vm.Value{}, err
	}
	left, err := w.env.CallMethod(w.buckets[i], "amount")
	if err != nil {
		return vm.Value{}, err
	}
	if left.Dec.IsZero() {
		if err := w.dropEmpty(w.detach(i)); err != nil {
			return vm.Value{}, err
		}
	}
	return out, nil
}

// dropEmpty drops a bucket that is already owned by the current frame or
// was just detached.
func (w *worktop) dropEmpty(bucket types.NodeID) error {
	if err := w.flush(); err != nil {
		return err
	}
	_, err := w.env.CallFunction(system.ResourcePackage, system.BlueprintBucket, "drop_empty", vm.Bucket(bucket))
	return err
}

func put(w *worktop, args vm.Args) (vm.Value, error) {
	bucket, err := args.Bucket(0)
	if err != nil {
		return vm.Value{}, err
	}
	out, err := w.env.CallMethod(bucket, "resource_address")
	if err != nil {
		return vm.Value{}, err
	}
	res := out.Node
	amount, err := w.env.CallMethod(bucket, "amount")
	if err != nil {
		return vm.Value{}, err
	}
	if amount.Dec.IsZero() {
		return vm.Unit(), w.dropEmpty(bucket)
	}
	if i := w.find(res); i >= 0 {
		if _, err := w.env.CallMethod(w.buckets[i], "put", vm.Bucket(bucket)); err != nil {
			return vm.Value{}, err
		}
		return vm.Unit(), nil
	}
	w.buckets = append(w.buckets, bucket)
	w.resources = append(w.resources, res)
	w.dirty = true
	return vm.Unit(), nil
}

func take(w *worktop, args vm.Args) (vm.Value, error) {
	res, err := args.Address(0)
	if err != nil {
		return vm.Value{}, err
	}
	amount, err := args.Decimal(1)
	if err != nil {
		return vm.Value{}, err
	}
	i := w.find(res)
	if i < 0 {
		if amount.IsZero() {
			return w.emptyBucket(res)
		}
		return vm.Value{}, kerrors.Application(kerrors.ErrInsufficientBalance, "worktop holds no %s", res.Short())
	}
	return w.takeFrom(i, "take", vm.Dec(amount))
}

func takeAll(w *worktop, args vm.Args) (vm.Value, error) {
	res, err := args.Address(0)
	if err != nil {
		return vm.Value{}, err
	}
	i := w.find(res)
	if i < 0 {
		return w.emptyBucket(res)
	}
	return vm.Bucket(w.detach(i)), nil
}

func takeNonFungibles(w *worktop, args vm.Args) (vm.Value, error) {
	res, err := args.Address(0)
	if err != nil {
		return vm.Value{}, err
	}
	ids, err := args.IDs(1)
	if err != nil {
		return vm.Value{}, err
	}
	i := w.find(res)
	if i < 0 {
		if len(ids) == 0 {
			return w.emptyBucket(res)
		}
		return vm.Value{}, kerrors.Application(kerrors.ErrNonFungibleNotFound, "worktop holds no %s", res.Short())
	}
	return w.takeFrom(i, "take_non_fungibles", vm.IDs(ids))
}

func drain(w *worktop, _ vm.Args) (vm.Value, error) {
	out := make([]vm.Value, 0, len(w.buckets))
	for len(w.buckets) > 0 {
		out = append(out, vm.Bucket(w.detach(0)))
	}
	return vm.List(out...), nil
}

func assertContains(w *worktop, args vm.Args) (vm.Value, error) {
	res, err := args.Address(0)
	if err != nil {
		return vm.Value{}, err
	}
	want, err := args.Decimal(1)
	if err != nil {
		return vm.Value{}, err
	}
	have, err := w.amount(res)
	if err != nil {
		return vm.Value{}, err
	}
	if have.LessThan(want) {
		return vm.Value{}, kerrors.Application(kerrors.ErrWorktopAssertionFailed, "%s: have %s, want %s", res.Short(), have, want)
	}
	return vm.Unit(), nil
}

func assertContainsAny(w *worktop, args vm.Args) (vm.Value, error) {
	res, err := args.Address(0)
	if err != nil {
		return vm.Value{}, err
	}
	have, err := w.amount(res)
	if err != nil {
		return vm.Value{}, err
	}
	if !have.IsPositive() {
		return vm.Value{}, kerrors.Application(kerrors.ErrWorktopAssertionFailed, "%s: none on worktop", res.Short())
	}
	return vm.Unit(), nil
}

func assertContainsNonFungibles(w *worktop, args vm.Args) (vm.Value, error) {
	res, err := args.Address(0)
	if err != nil {
		return vm.Value{}, err
	}
	want, err := args.IDs(1)
	if err != nil {
		return vm.Value{}, err
	}
	var have kresource.IDSet
	if i := w.find(res); i >= 0 {
		out, err := w.env.CallMethod(w.buckets[i], "non_fungible_ids")
		if err != nil {
			return vm.Value{}, err
		}
		have = out.IDs
	}
	if !have.ContainsAll(want) {
		return vm.Value{}, kerrors.Application(kerrors.ErrWorktopAssertionFailed, "%s: missing %v", res.Short(), want.Difference(have))
	}
	return vm.Unit(), nil
}

func assertIsEmpty(w *worktop, _ vm.Args) (vm.Value, error) {
	if len(w.buckets) > 0 {
		return vm.Value{}, kerrors.Application(kerrors.ErrWorktopAssertionFailed, "%d buckets on worktop", len(w.buckets))
	}
	return vm.Unit(), nil
}

func isEmpty(w *worktop, _ vm.Args) (vm.Value, error) {
	return vm.Bool(len(w.buckets) == 0), nil
}
