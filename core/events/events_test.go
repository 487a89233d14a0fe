package events

import (
	"testing"

	"ledgerkernel/core/resource"
	"ledgerkernel/core/types"
)

func TestVaultChangeEvent(t *testing.T) {
	vault := types.NewNodeID(types.EntityInternalFungibleVault, []byte("vault"))
	res := types.NewNodeID(types.EntityGlobalFungibleResourceManager, []byte("xrd"))
	evt := VaultChange{Vault: vault, Resource: res, Amount: resource.MustParseDecimal("12.5"), Withdraw: true}.Event()
	if evt.Type != TypeVaultWithdraw {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Emitter != vault {
		t.Fatalf("unexpected emitter: %s", evt.Emitter)
	}
	if evt.Attributes["amount"] != "12.5" {
		t.Fatalf("unexpected amount: %s", evt.Attributes["amount"])
	}
	if _, ok := evt.Attributes["ids"]; ok {
		t.Fatalf("fungible change must not carry ids: %+v", evt.Attributes)
	}
}

func TestSupplyChangeEvent(t *testing.T) {
	res := types.NewNodeID(types.EntityGlobalNonFungibleResourceManager, []byte("nft"))
	evt := SupplyChange{Resource: res, Amount: resource.NewDecimal(2), IDs: resource.NewIDSet("#1#", "#2#")}.Event()
	if evt.Type != TypeResourceMinted {
		t.Fatalf("unexpected type: %s", evt.Type)
	}
	if evt.Attributes["ids"] != "#1#,#2#" {
		t.Fatalf("unexpected ids: %s", evt.Attributes["ids"])
	}
}

func TestCollector(t *testing.T) {
	var c Collector
	c.Emit(FeeLocked{Amount: resource.NewDecimal(1)})
	c.Emit(Record{Event: &types.Event{Type: "custom"}})
	got := c.Events()
	if len(got) != 2 || got[0].EventType() != TypeFeeLocked || got[1].EventType() != "custom" {
		t.Fatalf("unexpected events: %+v", got)
	}
	NoopEmitter{}.Emit(got[0])
}
