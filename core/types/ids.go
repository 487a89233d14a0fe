package types

import (
	"encoding/hex"
	"fmt"
)

// NodeIDLength is the fixed width of every node identifier.
const NodeIDLength = 27

// EntityType tags the first byte of a NodeID and fixes what the node may hold.
type EntityType byte

const (
	EntityGlobalPackage                    EntityType = 0x0d
	EntityGlobalFungibleResourceManager    EntityType = 0x5d
	EntityGlobalNonFungibleResourceManager EntityType = 0x9a
	EntityGlobalAccount                    EntityType = 0xc1
	EntityGlobalGenericComponent           EntityType = 0xc0
	EntityGlobalVirtualSignatureBadge      EntityType = 0x9b
	EntityInternalFungibleVault            EntityType = 0x58
	EntityInternalNonFungibleVault         EntityType = 0x98
	EntityInternalGenericComponent         EntityType = 0xf8
	EntityInternalKeyValueStore            EntityType = 0xb0
	EntityInternalBucket                   EntityType = 0xe0
	EntityInternalProof                    EntityType = 0xe1
	EntityInternalWorktop                  EntityType = 0xe2
	EntityInternalAuthZone                 EntityType = 0xe3
)

var entityNames = map[EntityType]string{
	EntityGlobalPackage:                    "package",
	EntityGlobalFungibleResourceManager:    "fungible_resource",
	EntityGlobalNonFungibleResourceManager: "non_fungible_resource",
	EntityGlobalAccount:                    "account",
	EntityGlobalGenericComponent:           "component",
	EntityGlobalVirtualSignatureBadge:      "signature_badge",
	EntityInternalFungibleVault:            "internal_fungible_vault",
	EntityInternalNonFungibleVault:         "internal_non_fungible_vault",
	EntityInternalGenericComponent:         "internal_component",
	EntityInternalKeyValueStore:            "internal_kv_store",
	EntityInternalBucket:                   "bucket",
	EntityInternalProof:                    "proof",
	EntityInternalWorktop:                  "worktop",
	EntityInternalAuthZone:                 "auth_zone",
}

// Valid reports whether the entity type is one the engine knows about.
func (e EntityType) Valid() bool {
	_, ok := entityNames[e]
	return ok
}

func (e EntityType) String() string {
	if name, ok := entityNames[e]; ok {
		return name
	}
	return fmt.Sprintf("entity(0x%02x)", byte(e))
}

// IsGlobal reports whether nodes of this type are globally addressable.
func (e EntityType) IsGlobal() bool {
	switch e {
	case EntityGlobalPackage, EntityGlobalFungibleResourceManager, EntityGlobalNonFungibleResourceManager,
		EntityGlobalAccount, EntityGlobalGenericComponent, EntityGlobalVirtualSignatureBadge:
		return true
	}
	return false
}

// IsMovable reports whether a node of this type may change frames across an
// invocation boundary. Vaults, components and stores stay with their owner.
func (e EntityType) IsMovable() bool {
	return e == EntityInternalBucket || e == EntityInternalProof
}

// IsTransient reports whether nodes of this type may never be persisted.
func (e EntityType) IsTransient() bool {
	switch e {
	case EntityInternalBucket, EntityInternalProof, EntityInternalWorktop, EntityInternalAuthZone:
		return true
	}
	return false
}

// IsVault reports whether the type is a fungible or non-fungible vault.
func (e EntityType) IsVault() bool {
	return e == EntityInternalFungibleVault || e == EntityInternalNonFungibleVault
}

// IsResourceManager reports whether the type is a resource manager.
func (e EntityType) IsResourceManager() bool {
	return e == EntityGlobalFungibleResourceManager || e == EntityGlobalNonFungibleResourceManager
}

// NodeID identifies a heap-resident or persisted node.
type NodeID [NodeIDLength]byte

// NewNodeID builds an id from an entity tag and the remaining random bytes.
func NewNodeID(entity EntityType, body []byte) NodeID {
	var id NodeID
	id[0] = byte(entity)
	copy(id[1:], body)
	return id
}

// NodeIDFromBytes validates and copies a raw node id.
func NodeIDFromBytes(b []byte) (NodeID, error) {
	var id NodeID
	if len(b) != NodeIDLength {
		return id, fmt.Errorf("node id: invalid length %d", len(b))
	}
	copy(id[:], b)
	if !id.EntityType().Valid() {
		return id, fmt.Errorf("node id: unknown entity type 0x%02x", b[0])
	}
	return id, nil
}

// ParseNodeID decodes the hex form produced by String.
func ParseNodeID(s string) (NodeID, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return NodeID{}, fmt.Errorf("node id: %w", err)
	}
	return NodeIDFromBytes(raw)
}

func (id NodeID) EntityType() EntityType { return EntityType(id[0]) }
func (id NodeID) IsGlobal() bool         { return id.EntityType().IsGlobal() }
func (id NodeID) IsZero() bool           { return id == NodeID{} }
func (id NodeID) Bytes() []byte          { return append([]byte(nil), id[:]...) }
func (id NodeID) String() string         { return hex.EncodeToString(id[:]) }

// Short renders the entity tag and the leading body bytes for log lines.
func (id NodeID) Short() string {
	return fmt.Sprintf("%s:%s", id.EntityType(), hex.EncodeToString(id[1:7]))
}

// MarshalText lets ids appear as map keys and strings in JSON and YAML.
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *NodeID) UnmarshalText(text []byte) error {
	parsed, err := ParseNodeID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// CompareNodeIDs orders ids bytewise.
func CompareNodeIDs(a, b NodeID) int {
	for i := range a {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}
