// Package modules holds the kernel event sinks that run alongside every
// transaction: costing, authorization, node-move rules, royalties, execution
// tracing, kernel-trace logging and metrics. The engine registers them with the
// kernel in a fixed order.
package modules

import (
	"maps"
	"slices"

	"github.com/holiman/uint256"

	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/events"
	"ledgerkernel/core/kernel"
	"ledgerkernel/core/resource"
	"ledgerkernel/core/system"
	"ledgerkernel/core/types"
)

// CostingConfig prices execution.
type CostingConfig struct {
	CostUnitLimit uint64
	// CostUnitPrice is the fee resource charged per cost unit.
	CostUnitPrice resource.Decimal
	// SystemLoan is the number of cost units a transaction may consume
	// before locked fees must cover everything consumed so far.
	SystemLoan    uint64
	TipPercentage uint16
}

// FeePayment is one lock_fee or lock_contingent_fee call.
type FeePayment struct {
	Vault      types.NodeID
	Amount     resource.Decimal
	Contingent bool
}

// FeeSummary is the fee outcome of one transaction.
type FeeSummary struct {
	CostUnits uint64           `json:"costUnits" yaml:"costUnits"`
	Execution resource.Decimal `json:"execution" yaml:"execution"`
	Tip       resource.Decimal `json:"tip" yaml:"tip"`
	Royalty   resource.Decimal `json:"royalty" yaml:"royalty"`
	// Locked is everything taken out of vaults by fee locks.
	Locked    resource.Decimal `json:"locked" yaml:"locked"`
	Collected resource.Decimal `json:"collected" yaml:"collected"`
	Refund    resource.Decimal `json:"refund" yaml:"refund"`
	// Burned is the part of Collected removed from the fee resource supply.
	Burned         resource.Decimal  `json:"burned" yaml:"burned"`
	ContingentUsed bool              `json:"contingentUsed" yaml:"contingentUsed"`
	Breakdown      map[string]uint64 `json:"breakdown,omitempty" yaml:"breakdown,omitempty"`
}

// Event converts the summary into the settlement event of the receipt.
func (s *FeeSummary) Event() *types.Event {
	return events.FeeSettled{
		CostUnits:     s.CostUnits,
		Execution:     s.Execution,
		Royalty:       s.Royalty,
		Tip:           s.Tip,
		Refund:        s.Refund,
		ContingentUse: s.ContingentUsed,
	}.Event()
}

// Costing meters cost units against the limit and keeps the fee reserve.
// Vault units move into the reserve when a fee is locked; Settle charges the
// reserve and refunds the remainder.
type Costing struct {
	cfg        CostingConfig
	price      *uint256.Int
	consumed   uint64
	breakdown  map[string]uint64
	reserve    *uint256.Int
	royalty    *uint256.Int
	royalties  map[types.NodeID]*uint256.Int
	payments   []FeePayment
	loanRepaid bool
}

func NewCosting(cfg CostingConfig) (*Costing, error) {
	price, err := toAttos(cfg.CostUnitPrice)
	if err != nil {
		return nil, err
	}
	return &Costing{
		cfg:       cfg,
		price:     price,
		breakdown: make(map[string]uint64),
		reserve:   new(uint256.Int),
		royalty:   new(uint256.Int),
		royalties: make(map[types.NodeID]*uint256.Int),
	}, nil
}

func toAttos(d resource.Decimal) (*uint256.Int, error) {
	if d.IsNegative() {
		return nil, kerrors.Application(kerrors.ErrInvalidAmount, "negative fee amount %s", d)
	}
	v, overflow := uint256.FromBig(d.Attos())
	if overflow {
		return nil, kerrors.Module(kerrors.ErrRoyaltyOverflow, "amount %s does not fit 256 bits", d)
	}
	return v, nil
}

func fromAttos(v *uint256.Int) resource.Decimal {
	return resource.DecimalFromAttos(v.ToBig())
}

// Consumed returns the cost units used so far.
func (c *Costing) Consumed() uint64 { return c.consumed }

// LoanRepaid reports whether locked fees have covered the system loan. A
// transaction failing before that is rejected rather than committed.
func (c *Costing) LoanRepaid() bool { return c.loanRepaid }

// Payments lists the fee locks in the order they were made.
func (c *Costing) Payments() []FeePayment { return c.payments }

// Breakdown reports consumed units by reason.
func (c *Costing) Breakdown() map[string]uint64 { return maps.Clone(c.breakdown) }

// execution returns the execution fee and tip for the consumed units.
func (c *Costing) execution() (*uint256.Int, *uint256.Int, bool) {
	exec, overflow := new(uint256.Int).MulOverflow(c.price, uint256.NewInt(c.consumed))
	if overflow {
		return nil, nil, true
	}
	tip, overflow := new(uint256.Int).MulOverflow(exec, uint256.NewInt(uint64(c.cfg.TipPercentage)))
	if overflow {
		return nil, nil, true
	}
	tip.Div(tip, uint256.NewInt(100))
	return exec, tip, false
}

func (c *Costing) owed() (*uint256.Int, error) {
	exec, tip, overflow := c.execution()
	if overflow {
		return nil, kerrors.Module(kerrors.ErrFeeReserveInsufficient, "fee overflows at %d units", c.consumed)
	}
	total, overflow := new(uint256.Int).AddOverflow(exec, tip)
	if !overflow {
		total, overflow = total.AddOverflow(total, c.royalty)
	}
	if overflow {
		return nil, kerrors.Module(kerrors.ErrFeeReserveInsufficient, "fee overflows at %d units", c.consumed)
	}
	return total, nil
}

// check verifies the reserve still covers what is owed. Within the system
// loan nothing needs to be covered yet.
func (c *Costing) check() error {
	owed, err := c.owed()
	if err != nil {
		return err
	}
	if !c.loanRepaid {
		if c.consumed <= c.cfg.SystemLoan {
			return nil
		}
		if c.reserve.Lt(owed) {
			return kerrors.Module(kerrors.ErrSystemLoanNotRepaid, "%d units consumed, loan of %d", c.consumed, c.cfg.SystemLoan)
		}
		c.loanRepaid = true
		return nil
	}
	if c.reserve.Lt(owed) {
		return kerrors.Module(kerrors.ErrFeeReserveInsufficient, "owed %s, reserve %s", fromAttos(owed), fromAttos(c.reserve))
	}
	return nil
}

// Consume charges units for reason.
func (c *Costing) Consume(units uint64, reason string) error {
	if units > c.cfg.CostUnitLimit-min(c.consumed, c.cfg.CostUnitLimit) {
		c.consumed = c.cfg.CostUnitLimit
		return kerrors.Module(kerrors.ErrCostUnitLimitExceeded, "%s needs %d units, limit %d", reason, units, c.cfg.CostUnitLimit)
	}
	c.consumed += units
	c.breakdown[reason] += units
	return c.check()
}

// ChargeRoyalty adds a package royalty to what the transaction owes.
func (c *Costing) ChargeRoyalty(pkg types.NodeID, amount resource.Decimal) error {
	v, err := toAttos(amount)
	if err != nil {
		return err
	}
	total, overflow := new(uint256.Int).AddOverflow(c.royalty, v)
	if overflow {
		return kerrors.Module(kerrors.ErrRoyaltyOverflow, "royalty total").WithNode(pkg)
	}
	acc, ok := c.royalties[pkg]
	if !ok {
		acc = new(uint256.Int)
		c.royalties[pkg] = acc
	}
	if _, overflow := acc.AddOverflow(acc, v); overflow {
		return kerrors.Module(kerrors.ErrRoyaltyOverflow, "package royalty").WithNode(pkg)
	}
	c.royalty = total
	return c.check()
}

// RepayLoan is called once execution succeeded; a transaction that never
// covered its loan is rejected.
func (c *Costing) RepayLoan() error {
	if c.loanRepaid {
		return nil
	}
	owed, err := c.owed()
	if err != nil {
		return err
	}
	if c.reserve.Lt(owed) {
		return kerrors.Module(kerrors.ErrSystemLoanNotRepaid, "owed %s, reserve %s", fromAttos(owed), fromAttos(c.reserve))
	}
	c.loanRepaid = true
	return nil
}

// OnKernelEvent implements kernel.EventSink.
func (c *Costing) OnKernelEvent(insp kernel.Inspector, e *kernel.Event) error {
	if e.Kind == kernel.EventLockFee {
		return c.lockFee(insp, e)
	}
	units := costOf(e)
	if units == 0 {
		return nil
	}
	reason := e.Kind.String()
	if e.Kind == kernel.EventConsumeCostUnits && e.Reason != "" {
		reason = e.Reason
	}
	return c.Consume(units, reason)
}

// costOf prices one kernel event.
func costOf(e *kernel.Event) uint64 {
	size := uint64(max(e.Size, 0))
	switch e.Kind {
	case kernel.EventInvokeStart:
		return 1000 + size/4
	case kernel.EventInvokeEnd:
		return 100 + size/4
	case kernel.EventMoveNode:
		return 50
	case kernel.EventAllocateNodeID:
		return 100
	case kernel.EventCreateNode:
		return 500 + size/2
	case kernel.EventDropNode:
		return 200
	case kernel.EventLockSubstate:
		return 100 + size/16
	case kernel.EventReadSubstate:
		return 50 + size/16
	case kernel.EventWriteSubstate:
		return 200 + size/2
	case kernel.EventCloseLock:
		return 50
	case kernel.EventGlobalize:
		return 1000
	case kernel.EventConsumeCostUnits:
		return e.Units
	case kernel.EventEmitEvent:
		return 300
	case kernel.EventLog:
		return 100
	}
	return 0
}

// lockFee moves units out of a persisted fee-resource vault into the
// reserve. Contingent locks only count once the transaction succeeds.
func (c *Costing) lockFee(insp kernel.Inspector, e *kernel.Event) error {
	if insp.IsHeapNode(e.Node) {
		return kerrors.Module(kerrors.ErrLockFeeNotPersisted, "lock fee").WithNode(e.Node)
	}
	amount, err := toAttos(e.Amount)
	if err != nil {
		return err
	}
	s, ok, err := insp.PeekSubstate(e.Node, types.PartitionMain, kernel.MainKey)
	if err != nil {
		return err
	}
	if !ok {
		return kerrors.System(kerrors.ErrGlobalAddressNotFound, "fee vault").WithNode(e.Node)
	}
	container, err := resource.DecodeContainer(s.Data)
	if err != nil {
		return kerrors.System(kerrors.ErrTypeMismatch, "%v", err).WithNode(e.Node)
	}
	if container.Resource != system.FeeResource {
		return kerrors.Module(kerrors.ErrLockFeeNotXRD, "vault holds %s", container.Resource.Short()).WithNode(e.Node)
	}
	if _, err := container.Take(e.Amount); err != nil {
		return err
	}
	raw, err := container.Encode()
	if err != nil {
		return err
	}
	s.Data = raw
	if err := insp.PokeSubstate(e.Node, types.PartitionMain, kernel.MainKey, s); err != nil {
		return err
	}
	c.payments = append(c.payments, FeePayment{Vault: e.Node, Amount: e.Amount, Contingent: e.Contingent})
	if e.Contingent {
		return nil
	}
	if _, overflow := c.reserve.AddOverflow(c.reserve, amount); overflow {
		return kerrors.Module(kerrors.ErrFeeReserveInsufficient, "reserve overflow")
	}
	if !c.loanRepaid {
		owed, err := c.owed()
		if err != nil {
			return err
		}
		// A reserve covering the consumption so far repays the loan early.
		c.loanRepaid = !c.reserve.Lt(owed)
	}
	return c.check()
}

// Settle applies the fee outcome to track. On success track is the
// transaction's own track: the reserve pays what is owed in lock order and
// the rest returns to the vaults. On failure track is a fresh view of the
// pre-transaction state and only non-contingent locks are charged, without
// royalties.
func (c *Costing) Settle(track kernel.Track, success bool) (*FeeSummary, error) {
	exec, tip, overflow := c.execution()
	if overflow {
		return nil, kerrors.Module(kerrors.ErrFeeReserveInsufficient, "fee overflows at %d units", c.consumed)
	}
	royalty := new(uint256.Int)
	if success {
		royalty.Set(c.royalty)
	}
	owed := new(uint256.Int).Add(exec, tip)
	owed.Add(owed, royalty)

	summary := &FeeSummary{
		CostUnits: c.consumed,
		Execution: fromAttos(exec),
		Tip:       fromAttos(tip),
		Royalty:   fromAttos(royalty),
		Breakdown: c.Breakdown(),
	}
	remaining := new(uint256.Int).Set(owed)
	locked, collected, refunded := new(uint256.Int), new(uint256.Int), new(uint256.Int)
	for _, p := range c.payments {
		if p.Contingent && !success {
			continue
		}
		amount, err := toAttos(p.Amount)
		if err != nil {
			return nil, err
		}
		charge := new(uint256.Int).Set(amount)
		if remaining.Lt(charge) {
			charge.Set(remaining)
		}
		if success {
			if p.Contingent && !charge.IsZero() {
				summary.ContingentUsed = true
			}
			refund := new(uint256.Int).Sub(amount, charge)
			if !refund.IsZero() {
				if _, err := adjustVault(track, p.Vault, refund, true); err != nil {
					return nil, err
				}
				refunded.Add(refunded, refund)
			}
		} else if !charge.IsZero() {
			taken, err := adjustVault(track, p.Vault, charge, false)
			if err != nil {
				return nil, err
			}
			charge = taken
		}
		locked.Add(locked, amount)
		collected.Add(collected, charge)
		remaining.Sub(remaining, charge)
	}
	if !success {
		locked.Set(collected)
	}
	burned := new(uint256.Int).Set(collected)
	if success {
		burned.Sub(burned, royalty)
		if err := c.creditRoyalties(track); err != nil {
			return nil, err
		}
	}
	if err := burnFees(track, burned); err != nil {
		return nil, err
	}
	summary.Locked = fromAttos(locked)
	summary.Collected = fromAttos(collected)
	summary.Refund = fromAttos(refunded)
	summary.Burned = fromAttos(burned)
	return summary, nil
}

func readTrack(track kernel.Track, node types.NodeID, p types.PartitionNumber, key types.SubstateKey) (types.Substate, error) {
	raw, ok, err := track.Get(node, p, key)
	if err != nil {
		return types.Substate{}, kerrors.System(kerrors.ErrStoreAccess, "%v", err).WithNode(node)
	}
	if !ok {
		return types.Substate{}, kerrors.System(kerrors.ErrGlobalAddressNotFound, "settle").WithNode(node)
	}
	s, err := types.DecodeSubstate(raw)
	if err != nil {
		return types.Substate{}, kerrors.System(kerrors.ErrStoreAccess, "%v", err).WithNode(node)
	}
	return s, nil
}

func writeTrack(track kernel.Track, node types.NodeID, p types.PartitionNumber, key types.SubstateKey, s types.Substate) error {
	raw, err := types.EncodeSubstate(s)
	if err != nil {
		return kerrors.System(kerrors.ErrStoreAccess, "%v", err).WithNode(node)
	}
	track.Set(node, p, key, raw)
	return nil
}

// adjustVault puts amount into, or takes up to amount out of, a vault's
// liquid balance and returns what moved.
func adjustVault(track kernel.Track, vault types.NodeID, amount *uint256.Int, put bool) (*uint256.Int, error) {
	s, err := readTrack(track, vault, types.PartitionMain, kernel.MainKey)
	if err != nil {
		return nil, err
	}
	container, err := resource.DecodeContainer(s.Data)
	if err != nil {
		return nil, kerrors.System(kerrors.ErrTypeMismatch, "%v", err).WithNode(vault)
	}
	moved := new(uint256.Int).Set(amount)
	if put {
		container.Liquid = container.Liquid.Add(fromAttos(moved))
	} else {
		liquid, err := toAttos(container.LiquidAmount())
		if err != nil {
			return nil, err
		}
		if liquid.Lt(moved) {
			moved.Set(liquid)
		}
		container.Liquid = container.Liquid.Sub(fromAttos(moved))
	}
	if s.Data, err = container.Encode(); err != nil {
		return nil, err
	}
	return moved, writeTrack(track, vault, types.PartitionMain, kernel.MainKey, s)
}

func burnFees(track kernel.Track, amount *uint256.Int) error {
	if amount.IsZero() {
		return nil
	}
	s, err := readTrack(track, system.FeeResource, types.PartitionMain, kernel.MainKey)
	if err != nil {
		return err
	}
	manager, err := resource.DecodeManager(s.Data)
	if err != nil {
		return kerrors.System(kerrors.ErrTypeMismatch, "%v", err).WithNode(system.FeeResource)
	}
	manager.TotalSupply = manager.TotalSupply.Sub(fromAttos(amount))
	if s.Data, err = manager.Encode(); err != nil {
		return err
	}
	return writeTrack(track, system.FeeResource, types.PartitionMain, kernel.MainKey, s)
}

func (c *Costing) creditRoyalties(track kernel.Track) error {
	pkgs := slices.SortedFunc(maps.Keys(c.royalties), types.CompareNodeIDs)
	for _, pkg := range pkgs {
		s, err := readTrack(track, pkg, types.PartitionRoyalty, system.RoyaltyKey)
		if err != nil {
			return err
		}
		accrued, err := system.DecodeRoyalty(s.Data)
		if err != nil {
			return err
		}
		if s.Data, err = system.EncodeRoyalty(accrued.Add(fromAttos(c.royalties[pkg]))); err != nil {
			return err
		}
		if err := writeTrack(track, pkg, types.PartitionRoyalty, system.RoyaltyKey, s); err != nil {
			return err
		}
	}
	return nil
}

var _ kernel.EventSink = (*Costing)(nil)
