package events

import (
	"strconv"

	"ledgerkernel/core/resource"
	"ledgerkernel/core/types"
)

const (
	TypeResourceCreated = "resource.created"
	TypeResourceMinted  = "resource.minted"
	TypeResourceBurned  = "resource.burned"
	TypeVaultDeposit    = "vault.deposit"
	TypeVaultWithdraw   = "vault.withdraw"
)

// ResourceCreated is emitted when a resource manager is instantiated.
type ResourceCreated struct {
	Resource     types.NodeID
	Kind         resource.Kind
	Divisibility uint8
	Symbol       string
}

func (ResourceCreated) EventType() string { return TypeResourceCreated }

func (e ResourceCreated) Event() *types.Event {
	attrs := map[string]string{
		"resource":     e.Resource.String(),
		"kind":         e.Kind.String(),
		"divisibility": strconv.Itoa(int(e.Divisibility)),
	}
	setIfPresent(attrs, "symbol", e.Symbol)
	return &types.Event{Type: TypeResourceCreated, Emitter: e.Resource, Attributes: attrs}
}

// SupplyChange covers mints and burns.
type SupplyChange struct {
	Resource types.NodeID
	Amount   resource.Decimal
	IDs      resource.IDSet
	Burn     bool
}

func (e SupplyChange) EventType() string {
	if e.Burn {
		return TypeResourceBurned
	}
	return TypeResourceMinted
}

func (e SupplyChange) Event() *types.Event {
	attrs := map[string]string{
		"resource": e.Resource.String(),
		"amount":   formatAmount(e.Amount),
	}
	setIfPresent(attrs, "ids", formatIDs(e.IDs))
	return &types.Event{Type: e.EventType(), Emitter: e.Resource, Attributes: attrs}
}

// VaultChange covers deposits into and withdrawals from a vault.
type VaultChange struct {
	Vault    types.NodeID
	Resource types.NodeID
	Amount   resource.Decimal
	IDs      resource.IDSet
	Withdraw bool
}

func (e VaultChange) EventType() string {
	if e.Withdraw {
		return TypeVaultWithdraw
	}
	return TypeVaultDeposit
}

func (e VaultChange) Event() *types.Event {
	attrs := map[string]string{
		"vault":    e.Vault.String(),
		"resource": e.Resource.String(),
		"amount":   formatAmount(e.Amount),
	}
	setIfPresent(attrs, "ids", formatIDs(e.IDs))
	return &types.Event{Type: e.EventType(), Emitter: e.Vault, Attributes: attrs}
}
