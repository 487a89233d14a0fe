package modules

import (
	"testing"

	"github.com/stretchr/testify/require"

	"ledgerkernel/core/auth"
	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/kernel"
	kresource "ledgerkernel/core/resource"
	"ledgerkernel/core/system"
	"ledgerkernel/core/types"
	"ledgerkernel/core/vm"
)

func TestWithdrawRequiresSignerProof(t *testing.T) {
	h := newHarness(t, testCostingConfig())

	_, err := h.env.CallMethod(h.alice, "withdraw", vm.Address(system.FeeResource), dec("1"))
	require.True(t, kerrors.Is(err, kerrors.ErrUnauthorized), "got %v", err)
	require.Equal(t, kerrors.KindModule, kerrors.KindOf(err))

	h.sign(t, alicePub)
	out, err := h.env.CallMethod(h.alice, "withdraw", vm.Address(system.FeeResource), dec("1"))
	require.NoError(t, err)
	_, err = h.env.CallMethod(h.alice, "deposit", vm.Bucket(out.Node))
	require.NoError(t, err)
	require.NoError(t, h.k.Finish())
}

func TestPushedProofSatisfiesRequire(t *testing.T) {
	h := newHarness(t, testCostingConfig())
	badge, badgeBucket := createToken(t, h.env, "1", nil)
	gated, gatedBucket := createToken(t, h.env, "10", map[string]auth.AccessRule{
		system.RoleMinter: auth.Require(badge),
		system.RoleBurner: auth.DenyAll(),
	})

	_, err := h.env.CallMethod(gated, "mint", dec("5"))
	require.True(t, kerrors.Is(err, kerrors.ErrUnauthorized), "got %v", err)

	proof, err := h.env.CallMethod(badgeBucket, "create_proof_of_all")
	require.NoError(t, err)
	_, err = h.env.CallMethod(h.k.AuthZone(), "push", vm.Proof(proof.Node))
	require.NoError(t, err)

	minted, err := h.env.CallMethod(gated, "mint", dec("5"))
	require.NoError(t, err)
	_, err = h.env.CallMethod(gatedBucket, "put", vm.Bucket(minted.Node))
	require.NoError(t, err)
	amount, err := h.env.CallMethod(gatedBucket, "amount")
	require.NoError(t, err)
	require.Equal(t, "15", amount.Dec.String())
}

func zoneWith(t *testing.T, insp *fakeInspector, id types.NodeID, virtual ...auth.ProofView) {
	t.Helper()
	raw, err := (&auth.ZoneState{Virtual: virtual}).Encode()
	require.NoError(t, err)
	insp.setMain(t, id, raw)
}

func TestResourceCallsConsultOuterZone(t *testing.T) {
	badge := types.NewNodeID(types.EntityGlobalFungibleResourceManager, []byte("badge"))
	inner := types.NewNodeID(types.EntityInternalAuthZone, []byte("inner"))
	outer := types.NewNodeID(types.EntityInternalAuthZone, []byte("outer"))

	insp := newFakeInspector()
	insp.zones = []types.NodeID{inner, outer}
	zoneWith(t, insp, inner)
	zoneWith(t, insp, outer, auth.ProofView{Resource: badge, Amount: kresource.NewDecimal(1)})

	actor := kernel.Actor{Package: system.ResourcePackage, Blueprint: system.BlueprintVault, Function: "take"}
	start := &kernel.Event{Kind: kernel.EventInvokeStart, Actor: &actor}

	plain := NewAuth(stubResolver{inv: &system.Invocation{Rule: auth.Require(badge)}})
	err := plain.OnKernelEvent(insp, start)
	require.True(t, kerrors.Is(err, kerrors.ErrUnauthorized), "got %v", err)

	resourceOp := NewAuth(stubResolver{inv: &system.Invocation{Rule: auth.Require(badge), ResourceOp: true}})
	require.NoError(t, resourceOp.OnKernelEvent(insp, start))

	open := NewAuth(stubResolver{inv: &system.Invocation{Rule: auth.AllowAll()}})
	insp.zones = nil
	require.NoError(t, open.OnKernelEvent(insp, start))
}

func TestZoneViewIncludesPushedProofs(t *testing.T) {
	badge := types.NewNodeID(types.EntityGlobalFungibleResourceManager, []byte("badge"))
	zone := types.NewNodeID(types.EntityInternalAuthZone, []byte("zone"))
	proof := types.NewNodeID(types.EntityInternalProof, []byte("proof"))

	insp := newFakeInspector()
	raw, err := (&auth.ZoneState{}).Encode()
	require.NoError(t, err)
	insp.substates[zone] = kernel.NodeSubstates{}
	insp.substates[zone].Set(types.PartitionMain, kernel.MainKey, types.Substate{Data: raw, Owns: []types.NodeID{proof}})
	state, err := (&kresource.ProofState{Resource: badge, Kind: kresource.Fungible, Amount: kresource.NewDecimal(2)}).Encode()
	require.NoError(t, err)
	insp.setMain(t, proof, state)

	view, err := ZoneView(insp, zone)
	require.NoError(t, err)
	require.Len(t, view.Proofs, 1)
	require.Equal(t, badge, view.Proofs[0].Resource)
	require.True(t, auth.Check(auth.RequireAmount(kresource.NewDecimal(2), badge), view))

	_, err = ZoneView(insp, types.NewNodeID(types.EntityInternalAuthZone, []byte("missing")))
	require.True(t, kerrors.Is(err, kerrors.ErrNodeNotFound), "got %v", err)
}
