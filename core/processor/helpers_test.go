package processor

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"ledgerkernel/core/genesis"
	"ledgerkernel/core/kernel"
	"ledgerkernel/core/modules"
	kresource "ledgerkernel/core/resource"
	"ledgerkernel/core/system"
	"ledgerkernel/core/types"
	"ledgerkernel/core/vm"
	"ledgerkernel/native/account"
	"ledgerkernel/storage"
	"ledgerkernel/storage/substate"
)

var (
	alicePub = common.FromHex("02aa00000000000000000000000000000000000000000000000000000000000001")
	bobPub   = common.FromHex("02bb00000000000000000000000000000000000000000000000000000000000002")
	alice    = account.Address(alicePub)
	bob      = account.Address(bobPub)
)

type fixture struct {
	track *substate.Overlay
	sys   *system.System
	k     *kernel.Kernel
}

// newFixture funds alice with 1000 and bob with 50 of the fee resource and
// runs transactions without fees.
func newFixture(t *testing.T, exec vm.Executor) *fixture {
	t.Helper()
	spec := &genesis.GenesisSpec{
		GenesisTime: "2024-01-01T00:00:00Z",
		FeeToken:    genesis.NativeTokenSpec{Symbol: "XRD", Name: "Radix"},
		Alloc: map[string]string{
			common.Bytes2Hex(alicePub): "1000",
			common.Bytes2Hex(bobPub):   "50",
		},
	}
	require.NoError(t, spec.Validate())
	registry, err := genesis.NewRegistry()
	require.NoError(t, err)
	track := substate.NewOverlay(substate.NewStore(storage.NewMemDB()))
	_, err = genesis.Build(track, registry, spec)
	require.NoError(t, err)
	return &fixture{track: track, sys: system.New(registry, exec)}
}

func (f *fixture) run(t *testing.T, tx *Transaction) ([]Output, error) {
	t.Helper()
	if err := tx.Validate(); err != nil {
		return nil, err
	}
	hash, err := tx.Hash()
	require.NoError(t, err)
	costing, err := modules.NewCosting(modules.CostingConfig{
		CostUnitLimit: 100_000_000,
		SystemLoan:    100_000_000,
	})
	require.NoError(t, err)
	f.k = kernel.New(kernel.DefaultConfig(), f.track, f.sys, hash,
		costing, modules.NewRoyalty(f.sys, costing), modules.NewAuth(f.sys), modules.NewNodeMove())
	p, err := New(f.k, f.sys, tx, nil)
	require.NoError(t, err)
	return p.Run()
}

func (f *fixture) balance(t *testing.T, pub []byte) string {
	t.Helper()
	raw, ok, err := f.track.Get(genesis.FeeVault(pub), types.PartitionMain, kernel.MainKey)
	require.NoError(t, err)
	require.True(t, ok)
	s, err := types.DecodeSubstate(raw)
	require.NoError(t, err)
	c, err := kresource.DecodeContainer(s.Data)
	require.NoError(t, err)
	return c.Amount().String()
}

func dec(s string) kresource.Decimal { return kresource.MustParseDecimal(s) }

func decArg(s string) Arg { return Value(vm.Dec(dec(s))) }

func xrdArg() Arg { return Value(vm.Address(system.FeeResource)) }

func single(signer []byte, instructions ...Instruction) *Transaction {
	intent := Intent{Instructions: instructions}
	if signer != nil {
		intent.Signers = [][]byte{signer}
	}
	return &Transaction{Intents: []Intent{intent}}
}
