package modules

import (
	"testing"

	"github.com/stretchr/testify/require"

	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/genesis"
	"ledgerkernel/core/kernel"
	kresource "ledgerkernel/core/resource"
	"ledgerkernel/core/system"
	"ledgerkernel/core/types"
	"ledgerkernel/native/account"
	"ledgerkernel/native/resource"
	"ledgerkernel/storage/substate"
)

func TestConsumeEnforcesLimit(t *testing.T) {
	c, err := NewCosting(CostingConfig{CostUnitLimit: 1000, SystemLoan: 10_000})
	require.NoError(t, err)

	require.NoError(t, c.Consume(600, "a"))
	err = c.Consume(500, "b")
	require.True(t, kerrors.Is(err, kerrors.ErrCostUnitLimitExceeded), "got %v", err)
	require.Equal(t, uint64(1000), c.Consumed())
	require.Equal(t, uint64(600), c.Breakdown()["a"])
}

func TestSystemLoanMustBeRepaid(t *testing.T) {
	cfg := CostingConfig{CostUnitLimit: 1_000_000, CostUnitPrice: kresource.NewDecimal(1), SystemLoan: 100}
	c, err := NewCosting(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Consume(100, "within loan"))
	err = c.Consume(1, "past loan")
	require.True(t, kerrors.Is(err, kerrors.ErrSystemLoanNotRepaid), "got %v", err)

	c, err = NewCosting(cfg)
	require.NoError(t, err)
	require.NoError(t, c.Consume(50, "within loan"))
	err = c.RepayLoan()
	require.True(t, kerrors.Is(err, kerrors.ErrSystemLoanNotRepaid), "got %v", err)
	require.False(t, c.LoanRepaid())
}

func TestNegativePriceRejected(t *testing.T) {
	_, err := NewCosting(CostingConfig{CostUnitPrice: kresource.NewDecimal(-1)})
	require.True(t, kerrors.Is(err, kerrors.ErrInvalidAmount), "got %v", err)
}

func TestSettleComputesTip(t *testing.T) {
	c, err := NewCosting(CostingConfig{
		CostUnitLimit: 1_000_000,
		CostUnitPrice: kresource.NewDecimal(1),
		SystemLoan:    1_000_000,
		TipPercentage: 10,
	})
	require.NoError(t, err)
	require.NoError(t, c.Consume(100, "work"))

	summary, err := c.Settle(nil, false)
	require.NoError(t, err)
	require.Equal(t, "100", summary.Execution.String())
	require.Equal(t, "10", summary.Tip.String())
	require.True(t, summary.Collected.IsZero())
	require.Equal(t, uint64(100), summary.CostUnits)
}

func TestLockFeeAndSettleSuccess(t *testing.T) {
	h := newHarness(t, testCostingConfig())
	h.sign(t, alicePub)
	vault := genesis.FeeVault(alicePub)

	_, err := h.env.CallMethod(h.alice, "lock_fee", dec("10"))
	require.NoError(t, err)
	require.Len(t, h.costing.Payments(), 1)
	require.Equal(t, "990", h.vaultAmount(t, h.track, vault))

	require.NoError(t, h.costing.RepayLoan())
	require.NoError(t, h.k.Finish())

	summary, err := h.costing.Settle(h.track, true)
	require.NoError(t, err)
	require.True(t, summary.Execution.IsPositive())
	require.True(t, summary.Collected.Equal(summary.Execution), "collected %s, execution %s", summary.Collected, summary.Execution)
	require.True(t, summary.Refund.Equal(kresource.NewDecimal(10).Sub(summary.Collected)))
	require.True(t, summary.Burned.Equal(summary.Collected))
	require.Equal(t, "10", summary.Locked.String())
	require.Positive(t, summary.Breakdown[kernel.EventInvokeStart.String()])

	left := kresource.NewDecimal(1000).Sub(summary.Collected).String()
	require.Equal(t, left, h.vaultAmount(t, h.track, vault))
	require.Equal(t, left, h.feeSupply(t, h.track))

	ev := summary.Event()
	require.NotEmpty(t, ev.Type)
}

func TestSettleFailureChargesOnlyNonContingent(t *testing.T) {
	h := newHarness(t, testCostingConfig())
	h.sign(t, alicePub)
	vault := genesis.FeeVault(alicePub)

	_, err := h.env.CallMethod(h.alice, "lock_fee", dec("5"))
	require.NoError(t, err)
	_, err = h.env.CallMethod(h.alice, "lock_contingent_fee", dec("3"))
	require.NoError(t, err)
	require.Len(t, h.costing.Payments(), 2)
	require.Equal(t, "992", h.vaultAmount(t, h.track, vault))

	// The transaction's writes are thrown away; fees apply to the state it
	// started from.
	fresh := substate.NewOverlay(h.pre)
	summary, err := h.costing.Settle(fresh, false)
	require.NoError(t, err)
	require.False(t, summary.ContingentUsed)
	require.True(t, summary.Royalty.IsZero())
	require.True(t, summary.Collected.Equal(summary.Execution))
	require.True(t, summary.Locked.Equal(summary.Collected))
	require.True(t, summary.Refund.IsZero())

	left := kresource.NewDecimal(1000).Sub(summary.Collected).String()
	require.Equal(t, left, h.vaultAmount(t, fresh, vault))
	require.Equal(t, left, h.feeSupply(t, fresh))
}

func TestContingentFeeCannotRepayLoan(t *testing.T) {
	h := newHarness(t, testCostingConfig())
	h.sign(t, alicePub)

	_, err := h.env.CallMethod(h.alice, "lock_contingent_fee", dec("10"))
	require.NoError(t, err)
	err = h.costing.RepayLoan()
	require.True(t, kerrors.Is(err, kerrors.ErrSystemLoanNotRepaid), "got %v", err)
}

func TestLockFeeRejectsHeapVault(t *testing.T) {
	h := newHarness(t, testCostingConfig())
	vault, err := resource.NewVault(h.env, system.FeeResource)
	require.NoError(t, err)

	err = h.k.LockFee(vault, kresource.NewDecimal(1), false)
	require.True(t, kerrors.Is(err, kerrors.ErrLockFeeNotPersisted), "got %v", err)
	require.Empty(t, h.costing.Payments())
}

func TestLockFeeRejectsOtherResource(t *testing.T) {
	h := newHarness(t, testCostingConfig())
	token := types.NewNodeID(types.EntityGlobalFungibleResourceManager, []byte("tkn"))
	tokenVault := types.NewNodeID(types.EntityInternalFungibleVault, []byte("tkn-vault"))

	manager, err := resource.ManagerSubstates(kresource.Fungible, 18, "TKN", kresource.NewDecimal(50), nil)
	require.NoError(t, err)
	require.NoError(t, system.WriteNode(h.track, token, manager))
	vaultState, err := resource.FungibleVaultSubstates(token, 18, kresource.NewDecimal(50))
	require.NoError(t, err)
	require.NoError(t, system.WriteNode(h.track, tokenVault, vaultState))
	acct, err := account.InitialSubstates(account.OwnerRule(alicePub), map[types.NodeID]types.NodeID{
		system.FeeResource: genesis.FeeVault(alicePub),
		token:              tokenVault,
	})
	require.NoError(t, err)
	require.NoError(t, system.WriteNode(h.track, h.alice, acct))

	lock, err := h.k.LockSubstate(h.alice, types.PartitionCollection, account.VaultKey(token), kernel.LockRead)
	require.NoError(t, err)
	err = h.k.LockFee(tokenVault, kresource.NewDecimal(1), false)
	require.True(t, kerrors.Is(err, kerrors.ErrLockFeeNotXRD), "got %v", err)
	require.NoError(t, h.k.CloseLock(lock))
	require.Equal(t, "50", h.vaultAmount(t, h.track, tokenVault))
}

func TestRoyaltyCreditedOnSuccess(t *testing.T) {
	h := newHarness(t, testCostingConfig())
	h.sign(t, alicePub)

	_, err := h.env.CallMethod(h.alice, "lock_fee", dec("10"))
	require.NoError(t, err)
	require.NoError(t, h.costing.ChargeRoyalty(system.AccountPackage, kresource.NewDecimal(2)))
	require.NoError(t, h.k.Finish())

	summary, err := h.costing.Settle(h.track, true)
	require.NoError(t, err)
	require.Equal(t, "2", summary.Royalty.String())
	require.True(t, summary.Collected.Equal(summary.Execution.Add(summary.Royalty)))
	require.True(t, summary.Burned.Equal(summary.Execution))

	raw, ok, err := h.track.Get(system.AccountPackage, types.PartitionRoyalty, system.RoyaltyKey)
	require.NoError(t, err)
	require.True(t, ok)
	s, err := types.DecodeSubstate(raw)
	require.NoError(t, err)
	accrued, err := system.DecodeRoyalty(s.Data)
	require.NoError(t, err)
	require.Equal(t, "2", accrued.String())
	require.Equal(t, kresource.NewDecimal(1000).Sub(summary.Execution).String(), h.feeSupply(t, h.track))
}

type stubResolver struct {
	inv *system.Invocation
}

func (r stubResolver) Resolve(kernel.Inspector, kernel.Actor) (*system.Invocation, error) {
	return r.inv, nil
}

func TestRoyaltyModuleChargesOnInvoke(t *testing.T) {
	c, err := NewCosting(CostingConfig{CostUnitLimit: 1000, SystemLoan: 1000})
	require.NoError(t, err)
	pkg := types.NewNodeID(types.EntityGlobalPackage, []byte("dex"))
	r := NewRoyalty(stubResolver{inv: &system.Invocation{Package: pkg, Royalty: kresource.MustParseDecimal("0.5")}}, c)

	actor := kernel.Actor{Package: pkg, Blueprint: "Pool", Function: "swap"}
	insp := newFakeInspector()
	require.NoError(t, r.OnKernelEvent(insp, &kernel.Event{Kind: kernel.EventInvokeStart, Actor: &actor}))
	require.NoError(t, r.OnKernelEvent(insp, &kernel.Event{Kind: kernel.EventInvokeStart, Actor: &actor}))
	require.NoError(t, r.OnKernelEvent(insp, &kernel.Event{Kind: kernel.EventInvokeEnd, Actor: &actor}))

	require.Equal(t, "1", fromAttos(c.royalties[pkg]).String())
}

func TestLockFeeRepaysLoanEarly(t *testing.T) {
	h := newHarness(t, testCostingConfig())
	h.sign(t, alicePub)
	require.False(t, h.costing.LoanRepaid())

	_, err := h.env.CallMethod(h.alice, "lock_fee", dec("10"))
	require.NoError(t, err)
	require.True(t, h.costing.LoanRepaid())
}
