package events

import (
	"strconv"

	"ledgerkernel/core/resource"
	"ledgerkernel/core/types"
)

const (
	// TypeFeeLocked is emitted when a vault locks XRD into the fee reserve.
	TypeFeeLocked = "fees.locked"
	// TypeFeeSettled summarises the fee charged for one transaction.
	TypeFeeSettled = "fees.settled"
)

// FeeLocked records a lock_fee or lock_contingent_fee call.
type FeeLocked struct {
	Vault      types.NodeID
	Amount     resource.Decimal
	Contingent bool
}

// EventType satisfies the events.Event interface.
func (FeeLocked) EventType() string { return TypeFeeLocked }

// Event converts the structured payload into a ledger event.
func (e FeeLocked) Event() *types.Event {
	return &types.Event{
		Type:    TypeFeeLocked,
		Emitter: e.Vault,
		Attributes: map[string]string{
			"vault":      e.Vault.String(),
			"amount":     formatAmount(e.Amount),
			"contingent": strconv.FormatBool(e.Contingent),
		},
	}
}

// FeeSettled is produced by fee settlement once a transaction commits.
type FeeSettled struct {
	CostUnits     uint64
	Execution     resource.Decimal
	Royalty       resource.Decimal
	Tip           resource.Decimal
	Refund        resource.Decimal
	ContingentUse bool
}

// EventType satisfies the events.Event interface.
func (FeeSettled) EventType() string { return TypeFeeSettled }

// Event converts the structured payload into a ledger event.
func (e FeeSettled) Event() *types.Event {
	attrs := map[string]string{
		"costUnits": strconv.FormatUint(e.CostUnits, 10),
		"execution": formatAmount(e.Execution),
		"royalty":   formatAmount(e.Royalty),
		"tip":       formatAmount(e.Tip),
		"refund":    formatAmount(e.Refund),
	}
	if e.ContingentUse {
		attrs["contingent"] = "true"
	}
	return &types.Event{Type: TypeFeeSettled, Attributes: attrs}
}
