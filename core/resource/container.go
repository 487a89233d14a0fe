package resource

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/types"
)

// MaxDivisibility is the finest divisibility a fungible resource may declare.
const MaxDivisibility = 18

// Kind distinguishes fungible from non-fungible resources.
type Kind uint8

const (
	Fungible Kind = iota
	NonFungible
)

func (k Kind) String() string {
	if k == NonFungible {
		return "non_fungible"
	}
	return "fungible"
}

// WithdrawStrategy controls how a requested amount is adjusted before a take.
type WithdrawStrategy struct {
	Rounded bool
	Mode    RoundingMode
}

// Exact takes exactly the requested amount.
var Exact = WithdrawStrategy{}

// Rounded rounds the amount to the resource divisibility first.
func Rounded(mode RoundingMode) WithdrawStrategy {
	return WithdrawStrategy{Rounded: true, Mode: mode}
}

// LockedAmount records one outstanding fungible lock of a given size. Locks
// of equal size share an entry.
type LockedAmount struct {
	Amount Decimal
	Count  uint32
}

// LockedID records how many proofs hold one non-fungible id.
type LockedID struct {
	ID    NonFungibleLocalID
	Count uint32
}

// Container is the resource payload of buckets and vaults. Locked units stay
// inside the container but cannot be taken until every lock is released.
// Fungible locks overlap: the locked total is the largest outstanding lock.
type Container struct {
	Resource     types.NodeID
	Kind         Kind
	Divisibility uint8
	Liquid       Decimal
	LockedAmts   []LockedAmount
	LiquidIDs    IDSet
	LockedIDs    []LockedID
}

// NewFungible returns an empty fungible container.
func NewFungible(resource types.NodeID, divisibility uint8) (*Container, error) {
	if divisibility > MaxDivisibility {
		return nil, kerrors.Application(kerrors.ErrInvalidDivisibility, "divisibility %d", divisibility)
	}
	return &Container{Resource: resource, Kind: Fungible, Divisibility: divisibility}, nil
}

// NewNonFungible returns an empty non-fungible container.
func NewNonFungible(resource types.NodeID) *Container {
	return &Container{Resource: resource, Kind: NonFungible}
}

// Clone returns a deep copy.
func (c *Container) Clone() *Container {
	out := *c
	out.LockedAmts = append([]LockedAmount(nil), c.LockedAmts...)
	out.LiquidIDs = append(IDSet(nil), c.LiquidIDs...)
	out.LockedIDs = append([]LockedID(nil), c.LockedIDs...)
	return &out
}

func (c *Container) lockedMax() Decimal {
	top := Decimal{}
	for _, l := range c.LockedAmts {
		top = Max(top, l.Amount)
	}
	return top
}

// LiquidAmount is what can be taken right now.
func (c *Container) LiquidAmount() Decimal {
	if c.Kind == NonFungible {
		return NewDecimal(int64(len(c.LiquidIDs)))
	}
	return c.Liquid
}

// LockedAmount is what is currently held back by proofs.
func (c *Container) LockedAmount() Decimal {
	if c.Kind == NonFungible {
		return NewDecimal(int64(len(c.LockedIDs)))
	}
	return c.lockedMax()
}

// Amount is the total held, liquid plus locked.
func (c *Container) Amount() Decimal {
	return c.LiquidAmount().Add(c.LockedAmount())
}

// IDs returns every id held, liquid and locked.
func (c *Container) IDs() IDSet {
	ids := append(IDSet(nil), c.LiquidIDs...)
	for _, l := range c.LockedIDs {
		ids = append(ids, l.ID)
	}
	return NewIDSet(ids...)
}

// IsEmpty reports whether nothing at all is held.
func (c *Container) IsEmpty() bool {
	return c.Amount().IsZero()
}

// IsLocked reports whether any proof holds units of the container.
func (c *Container) IsLocked() bool {
	return len(c.LockedAmts) > 0 || len(c.LockedIDs) > 0
}

func (c *Container) checkAmount(amount Decimal) error {
	if amount.IsNegative() {
		return kerrors.Application(kerrors.ErrInvalidAmount, "negative amount %s", amount)
	}
	divisibility := c.Divisibility
	if c.Kind == NonFungible {
		divisibility = 0
	}
	if !amount.FitsDivisibility(divisibility) {
		return kerrors.Application(kerrors.ErrInvalidAmount, "amount %s exceeds divisibility %d", amount, divisibility)
	}
	return nil
}

// Put merges other into c. The source must carry no locks.
func (c *Container) Put(other *Container) error {
	if other.Resource != c.Resource || other.Kind != c.Kind {
		return kerrors.Application(kerrors.ErrResourceMismatch, "put %s into %s", other.Resource.Short(), c.Resource.Short())
	}
	if other.IsLocked() {
		return kerrors.Application(kerrors.ErrContainerLocked, "cannot put a locked container")
	}
	if c.Kind == NonFungible {
		held := c.IDs()
		for _, id := range other.LiquidIDs {
			if held.Contains(id) {
				return kerrors.Application(kerrors.ErrNonFungibleAlreadyExists, "id %s", id)
			}
		}
		c.LiquidIDs = c.LiquidIDs.Union(other.LiquidIDs)
		return nil
	}
	c.Liquid = c.Liquid.Add(other.Liquid)
	return nil
}

// Take removes exactly amount of liquid units.
func (c *Container) Take(amount Decimal) (*Container, error) {
	if err := c.checkAmount(amount); err != nil {
		return nil, err
	}
	if c.LiquidAmount().LessThan(amount) {
		return nil, kerrors.Application(kerrors.ErrInsufficientBalance, "requested %s, available %s", amount, c.LiquidAmount())
	}
	out := &Container{Resource: c.Resource, Kind: c.Kind, Divisibility: c.Divisibility}
	if c.Kind == NonFungible {
		n := int(amount.Attos().Quo(amount.Attos(), decimalOne).Int64())
		out.LiquidIDs = append(IDSet(nil), c.LiquidIDs[:n]...)
		c.LiquidIDs = append(IDSet(nil), c.LiquidIDs[n:]...)
		return out, nil
	}
	c.Liquid = c.Liquid.Sub(amount)
	out.Liquid = amount
	return out, nil
}

// TakeAdvanced applies the withdraw strategy before taking.
func (c *Container) TakeAdvanced(amount Decimal, strategy WithdrawStrategy) (*Container, error) {
	if strategy.Rounded {
		divisibility := c.Divisibility
		if c.Kind == NonFungible {
			divisibility = 0
		}
		amount = amount.Round(divisibility, strategy.Mode)
	}
	return c.Take(amount)
}

// TakeIDs removes the given non-fungible ids.
func (c *Container) TakeIDs(ids IDSet) (*Container, error) {
	if c.Kind != NonFungible {
		return nil, kerrors.Application(kerrors.ErrNonFungibleOperationNotSupported, "take ids from fungible container")
	}
	if !c.LiquidIDs.ContainsAll(ids) {
		return nil, kerrors.Application(kerrors.ErrInsufficientBalance, "ids %v not all liquid", ids)
	}
	c.LiquidIDs = c.LiquidIDs.Difference(ids)
	return &Container{Resource: c.Resource, Kind: NonFungible, LiquidIDs: NewIDSet(ids...)}, nil
}

// TakeAll removes every liquid unit.
func (c *Container) TakeAll() *Container {
	out := &Container{Resource: c.Resource, Kind: c.Kind, Divisibility: c.Divisibility}
	if c.Kind == NonFungible {
		out.LiquidIDs, c.LiquidIDs = c.LiquidIDs, IDSet{}
		return out
	}
	out.Liquid, c.Liquid = c.Liquid, Decimal{}
	return out
}

// LockAmount holds back amount for a proof. Overlapping fungible locks share
// units. For non-fungible containers the chosen ids are returned; ids already
// locked are reused before liquid ones.
func (c *Container) LockAmount(amount Decimal) (IDSet, error) {
	if err := c.checkAmount(amount); err != nil {
		return nil, err
	}
	if c.Kind == NonFungible {
		n := int(amount.Attos().Quo(amount.Attos(), decimalOne).Int64())
		ids := append(IDSet(nil), c.LockedIDSet()...)
		if len(ids) < n {
			need := n - len(ids)
			if len(c.LiquidIDs) < need {
				return nil, kerrors.Application(kerrors.ErrInsufficientBalance, "lock %s of non-fungible", amount)
			}
			ids = append(ids, c.LiquidIDs[:need]...)
		}
		chosen := NewIDSet(ids[:n]...)
		return chosen, c.LockIDs(chosen)
	}
	current := c.lockedMax()
	if amount.Cmp(current) > 0 {
		extra := amount.Sub(current)
		if c.Liquid.LessThan(extra) {
			return nil, kerrors.Application(kerrors.ErrInsufficientBalance, "lock %s, liquid %s", amount, c.Liquid)
		}
		c.Liquid = c.Liquid.Sub(extra)
	}
	for i := range c.LockedAmts {
		if c.LockedAmts[i].Amount.Equal(amount) {
			c.LockedAmts[i].Count++
			return nil, nil
		}
	}
	c.LockedAmts = append(c.LockedAmts, LockedAmount{Amount: amount, Count: 1})
	return nil, nil
}

// UnlockAmount releases one lock of the given size.
func (c *Container) UnlockAmount(amount Decimal) error {
	if c.Kind == NonFungible {
		return kerrors.Application(kerrors.ErrFungibleOperationNotSupported, "unlock amount on non-fungible container")
	}
	before := c.lockedMax()
	idx := -1
	for i := range c.LockedAmts {
		if c.LockedAmts[i].Amount.Equal(amount) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return kerrors.Application(kerrors.ErrInvalidAmount, "no lock of %s", amount)
	}
	c.LockedAmts[idx].Count--
	if c.LockedAmts[idx].Count == 0 {
		c.LockedAmts = append(c.LockedAmts[:idx], c.LockedAmts[idx+1:]...)
	}
	c.Liquid = c.Liquid.Add(before.Sub(c.lockedMax()))
	return nil
}

// LockedIDSet lists ids held by at least one proof.
func (c *Container) LockedIDSet() IDSet {
	ids := make([]NonFungibleLocalID, 0, len(c.LockedIDs))
	for _, l := range c.LockedIDs {
		ids = append(ids, l.ID)
	}
	return NewIDSet(ids...)
}

// LockIDs holds back specific non-fungible ids.
func (c *Container) LockIDs(ids IDSet) error {
	if c.Kind != NonFungible {
		return kerrors.Application(kerrors.ErrNonFungibleOperationNotSupported, "lock ids on fungible container")
	}
	locked := c.LockedIDSet()
	for _, id := range ids {
		if !locked.Contains(id) && !c.LiquidIDs.Contains(id) {
			return kerrors.Application(kerrors.ErrNonFungibleNotFound, "id %s", id)
		}
	}
	for _, id := range ids {
		found := false
		for i := range c.LockedIDs {
			if c.LockedIDs[i].ID == id {
				c.LockedIDs[i].Count++
				found = true
				break
			}
		}
		if !found {
			c.LockedIDs = append(c.LockedIDs, LockedID{ID: id, Count: 1})
			c.LiquidIDs = c.LiquidIDs.Difference(IDSet{id})
		}
	}
	return nil
}

// UnlockIDs releases one lock on each of the given ids.
func (c *Container) UnlockIDs(ids IDSet) error {
	if c.Kind != NonFungible {
		return kerrors.Application(kerrors.ErrNonFungibleOperationNotSupported, "unlock ids on fungible container")
	}
	for _, id := range ids {
		idx := -1
		for i := range c.LockedIDs {
			if c.LockedIDs[i].ID == id {
				idx = i
				break
			}
		}
		if idx < 0 {
			return kerrors.Application(kerrors.ErrNonFungibleNotFound, "id %s is not locked", id)
		}
		c.LockedIDs[idx].Count--
		if c.LockedIDs[idx].Count == 0 {
			c.LockedIDs = append(c.LockedIDs[:idx], c.LockedIDs[idx+1:]...)
			c.LiquidIDs = c.LiquidIDs.Union(IDSet{id})
		}
	}
	return nil
}

// Encode serialises the container for a substate.
func (c *Container) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(c)
}

// DecodeContainer parses a container substate.
func DecodeContainer(b []byte) (*Container, error) {
	var c Container
	if err := rlp.DecodeBytes(b, &c); err != nil {
		return nil, fmt.Errorf("decode container: %w", err)
	}
	return &c, nil
}
