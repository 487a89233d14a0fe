package modules

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"ledgerkernel/core/auth"
	"ledgerkernel/core/genesis"
	"ledgerkernel/core/kernel"
	kresource "ledgerkernel/core/resource"
	"ledgerkernel/core/system"
	"ledgerkernel/core/types"
	"ledgerkernel/core/vm"
	"ledgerkernel/native/account"
	"ledgerkernel/storage"
	"ledgerkernel/storage/substate"
)

var alicePub = common.FromHex("02aa00000000000000000000000000000000000000000000000000000000000001")

func testCostingConfig() CostingConfig {
	return CostingConfig{
		CostUnitLimit: 10_000_000,
		CostUnitPrice: kresource.MustParseDecimal("0.00001"),
		SystemLoan:    100_000,
	}
}

type harness struct {
	pre     *substate.Overlay
	track   *substate.Overlay
	sys     *system.System
	k       *kernel.Kernel
	env     *system.Env
	costing *Costing
	alice   types.NodeID
}

// newHarness funds alice with 1000 of the fee resource at genesis and opens
// a kernel over a transaction track layered on top of that state.
func newHarness(t *testing.T, cfg CostingConfig, sinks ...kernel.EventSink) *harness {
	t.Helper()
	spec := &genesis.GenesisSpec{
		GenesisTime: "2024-01-01T00:00:00Z",
		FeeToken:    genesis.NativeTokenSpec{Symbol: "XRD", Name: "Radix"},
		Alloc:       map[string]string{common.Bytes2Hex(alicePub): "1000"},
	}
	require.NoError(t, spec.Validate())
	registry, err := genesis.NewRegistry()
	require.NoError(t, err)
	pre := substate.NewOverlay(substate.NewStore(storage.NewMemDB()))
	_, err = genesis.Build(pre, registry, spec)
	require.NoError(t, err)

	h := &harness{pre: pre, track: substate.NewOverlay(pre), sys: system.New(registry, nil), alice: account.Address(alicePub)}
	h.costing, err = NewCosting(cfg)
	require.NoError(t, err)
	all := append([]kernel.EventSink{h.costing, NewRoyalty(h.sys, h.costing), NewAuth(h.sys), NewNodeMove()}, sinks...)
	h.k = kernel.New(kernel.DefaultConfig(), h.track, h.sys, common.HexToHash("0x0a"), all...)
	_, err = h.k.AddStack(kernel.RootActor(0))
	require.NoError(t, err)
	h.env = system.NewEnv(h.k, h.sys)
	return h
}

// sign grants the root zone the virtual signature proof of pubkey.
func (h *harness) sign(t *testing.T, pubkey []byte) {
	t.Helper()
	state := &auth.ZoneState{Virtual: []auth.ProofView{{
		Resource: system.SignatureBadge,
		Amount:   kresource.NewDecimal(1),
		IDs:      kresource.NewIDSet(system.SignerID(pubkey)),
	}}}
	raw, err := state.Encode()
	require.NoError(t, err)
	require.NoError(t, h.k.PokeSubstate(h.k.AuthZone(), types.PartitionMain, kernel.MainKey, types.NewSubstate(raw)))
}

func (h *harness) mainOf(t *testing.T, track kernel.Track, node types.NodeID) []byte {
	t.Helper()
	raw, ok, err := track.Get(node, types.PartitionMain, kernel.MainKey)
	require.NoError(t, err)
	require.True(t, ok, "no main substate for %s", node)
	s, err := types.DecodeSubstate(raw)
	require.NoError(t, err)
	return s.Data
}

func (h *harness) vaultAmount(t *testing.T, track kernel.Track, vault types.NodeID) string {
	t.Helper()
	c, err := kresource.DecodeContainer(h.mainOf(t, track, vault))
	require.NoError(t, err)
	return c.Amount().String()
}

func (h *harness) feeSupply(t *testing.T, track kernel.Track) string {
	t.Helper()
	m, err := kresource.DecodeManager(h.mainOf(t, track, system.FeeResource))
	require.NoError(t, err)
	return m.TotalSupply.String()
}

func dec(s string) vm.Value { return vm.Dec(kresource.MustParseDecimal(s)) }

func encodeRoles(t *testing.T, roles map[string]auth.AccessRule) vm.Value {
	t.Helper()
	raw, err := system.EncodeRoles(roles)
	require.NoError(t, err)
	return vm.Bytes(raw)
}

func createToken(t *testing.T, env *system.Env, supply string, roles map[string]auth.AccessRule) (types.NodeID, types.NodeID) {
	t.Helper()
	out, err := env.CallFunction(system.ResourcePackage, system.BlueprintFungibleResourceManager, "create_with_initial_supply",
		vm.U64(18), vm.Str("TKN"), encodeRoles(t, roles), dec(supply))
	require.NoError(t, err)
	require.Len(t, out.Items, 2)
	return out.Items[0].Node, out.Items[1].Node
}

// fakeInspector serves substates from memory for sink unit tests.
type fakeInspector struct {
	depth, stack int
	actor        kernel.Actor
	callers      []kernel.Actor
	zones        []types.NodeID
	substates    map[types.NodeID]kernel.NodeSubstates
	heap         map[types.NodeID]bool
}

func newFakeInspector() *fakeInspector {
	return &fakeInspector{substates: make(map[types.NodeID]kernel.NodeSubstates), heap: make(map[types.NodeID]bool)}
}

func (f *fakeInspector) Depth() int          { return f.depth }
func (f *fakeInspector) Stack() int          { return f.stack }
func (f *fakeInspector) Actor() kernel.Actor { return f.actor }
func (f *fakeInspector) CallerActor(n int) (kernel.Actor, bool) {
	if n < 1 || n > len(f.callers) {
		return kernel.Actor{}, false
	}
	return f.callers[n-1], true
}
func (f *fakeInspector) AuthZones() []types.NodeID { return f.zones }
func (f *fakeInspector) IsHeapNode(node types.NodeID) bool {
	return f.heap[node]
}

func (f *fakeInspector) PeekSubstate(node types.NodeID, p types.PartitionNumber, key types.SubstateKey) (types.Substate, bool, error) {
	s, ok := f.substates[node].Get(p, key)
	return s.Clone(), ok, nil
}

func (f *fakeInspector) PokeSubstate(node types.NodeID, p types.PartitionNumber, key types.SubstateKey, value types.Substate) error {
	if f.substates[node] == nil {
		f.substates[node] = make(kernel.NodeSubstates)
	}
	prev, _ := f.substates[node].Get(p, key)
	f.substates[node].Set(p, key, types.Substate{Data: value.Data, Owns: prev.Owns, Refs: prev.Refs})
	return nil
}

func (f *fakeInspector) setMain(t *testing.T, node types.NodeID, data []byte) {
	t.Helper()
	require.NoError(t, f.PokeSubstate(node, types.PartitionMain, kernel.MainKey, types.NewSubstate(data)))
}

var _ kernel.Inspector = (*fakeInspector)(nil)
