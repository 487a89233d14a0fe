package worktop_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/kernel"
	kresource "ledgerkernel/core/resource"
	"ledgerkernel/core/system"
	"ledgerkernel/core/types"
	"ledgerkernel/core/vm"
	"ledgerkernel/native/resource"
	"ledgerkernel/native/worktop"
	"ledgerkernel/storage"
	"ledgerkernel/storage/substate"
)

type harness struct {
	env     *system.Env
	k       *kernel.Kernel
	worktop types.NodeID
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	registry := system.NewRegistry()
	require.NoError(t, registry.Register(resource.Package()))
	require.NoError(t, registry.Register(worktop.Package()))
	track := substate.NewOverlay(substate.NewStore(storage.NewMemDB()))
	require.NoError(t, system.InstallNatives(track, registry))

	sys := system.New(registry, nil)
	k := kernel.New(kernel.DefaultConfig(), track, sys, common.HexToHash("0x03"))
	_, err := k.AddStack(kernel.RootActor(0))
	require.NoError(t, err)
	env := system.NewEnv(k, sys)
	w, err := worktop.New(env)
	require.NoError(t, err)
	return &harness{env: env, k: k, worktop: w}
}

func dec(s string) vm.Value { return vm.Dec(kresource.MustParseDecimal(s)) }

func (h *harness) token(t *testing.T, supply string) (types.NodeID, types.NodeID) {
	t.Helper()
	out, err := h.env.CallFunction(system.ResourcePackage, system.BlueprintFungibleResourceManager, "create_with_initial_supply",
		vm.U64(18), vm.Str("TKN"), vm.Bytes(nil), dec(supply))
	require.NoError(t, err)
	return out.Items[0].Node, out.Items[1].Node
}

func (h *harness) call(method string, args ...vm.Value) (vm.Value, error) {
	return h.env.CallMethod(h.worktop, method, args...)
}

func TestWorktopMergesAndTakes(t *testing.T) {
	h := newHarness(t)
	res, bucket := h.token(t, "10")
	out, err := h.env.CallMethod(bucket, "take", dec("4"))
	require.NoError(t, err)
	part := out.Node

	_, err = h.call("put", vm.Bucket(bucket))
	require.NoError(t, err)
	_, err = h.call("put", vm.Bucket(part))
	require.NoError(t, err)
	_, err = h.call("assert_contains", vm.Address(res), dec("10"))
	require.NoError(t, err)
	_, err = h.call("assert_contains", vm.Address(res), dec("10.1"))
	require.True(t, kerrors.Is(err, kerrors.ErrWorktopAssertionFailed), "got %v", err)

	out, err = h.call("take", vm.Address(res), dec("3"))
	require.NoError(t, err)
	taken := out.Node
	amt, err := h.env.CallMethod(taken, "amount")
	require.NoError(t, err)
	require.Equal(t, "3", amt.Dec.String())

	_, err = h.call("take", vm.Address(res), dec("8"))
	require.True(t, kerrors.Is(err, kerrors.ErrInsufficientBalance), "got %v", err)

	_, err = h.call("put", vm.Bucket(taken))
	require.NoError(t, err)
	out, err = h.call("take_all", vm.Address(res))
	require.NoError(t, err)
	amt, err = h.env.CallMethod(out.Node, "amount")
	require.NoError(t, err)
	require.Equal(t, "10", amt.Dec.String())

	_, err = h.call("assert_is_empty")
	require.NoError(t, err)
	_, err = h.call("assert_contains_any", vm.Address(res))
	require.True(t, kerrors.Is(err, kerrors.ErrWorktopAssertionFailed), "got %v", err)

}

func TestWorktopSettlesCleanly(t *testing.T) {
	h := newHarness(t)
	res, bucket := h.token(t, "5")
	_, err := h.call("put", vm.Bucket(bucket))
	require.NoError(t, err)
	out, err := h.call("take_all", vm.Address(res))
	require.NoError(t, err)
	_, err = h.env.CallMethod(res, "burn", vm.Bucket(out.Node))
	require.NoError(t, err)

	require.NoError(t, h.k.Finish())
}

func TestTakingEverythingLeavesWorktopEmpty(t *testing.T) {
	h := newHarness(t)
	res, bucket := h.token(t, "2")
	_, err := h.call("put", vm.Bucket(bucket))
	require.NoError(t, err)

	out, err := h.call("take", vm.Address(res), dec("2"))
	require.NoError(t, err)
	empty, err := h.call("is_empty")
	require.NoError(t, err)
	require.Equal(t, uint64(1), empty.Num)

	_, err = h.call("put", vm.Bucket(out.Node))
	require.NoError(t, err)
	empty, err = h.call("is_empty")
	require.NoError(t, err)
	require.Zero(t, empty.Num)
}

func TestDrainReturnsEveryBucket(t *testing.T) {
	h := newHarness(t)
	_, a := h.token(t, "1")
	_, b := h.token(t, "2")
	_, err := h.call("put", vm.Bucket(a))
	require.NoError(t, err)
	_, err = h.call("put", vm.Bucket(b))
	require.NoError(t, err)

	out, err := h.call("drain")
	require.NoError(t, err)
	require.Len(t, out.Items, 2)
	require.ElementsMatch(t, []types.NodeID{a, b}, []types.NodeID{out.Items[0].Node, out.Items[1].Node})

	_, err = h.call("assert_is_empty")
	require.NoError(t, err)
}

func TestNonEmptyWorktopFailsFinish(t *testing.T) {
	h := newHarness(t)
	_, bucket := h.token(t, "1")
	_, err := h.call("put", vm.Bucket(bucket))
	require.NoError(t, err)

	err = h.k.Finish()
	require.True(t, kerrors.Is(err, kerrors.ErrWorktopNotEmpty), "got %v", err)
}

func TestWorktopCannotBeMoved(t *testing.T) {
	h := newHarness(t)
	_, err := h.env.CallFunction(system.ResourcePackage, system.BlueprintBucket, "drop_empty", vm.Bucket(h.worktop))
	require.True(t, kerrors.Is(err, kerrors.ErrNodeMoveNotAllowed), "got %v", err)
}
