package types

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"
)

// PartitionNumber groups the substates of a node.
type PartitionNumber uint8

const (
	PartitionTypeInfo       PartitionNumber = 0
	PartitionRoleAssignment PartitionNumber = 1
	PartitionRoyalty        PartitionNumber = 2
	PartitionMetadata       PartitionNumber = 3
	PartitionMain           PartitionNumber = 64
	PartitionCollection     PartitionNumber = 65
	PartitionPackageCode    PartitionNumber = 66
)

// MaxSubstateKeyLength bounds the encoded key body.
const MaxSubstateKeyLength = 128

// SubstateKeyKind selects how the key body is interpreted.
type SubstateKeyKind uint8

const (
	KeyKindField  SubstateKeyKind = 0
	KeyKindMap    SubstateKeyKind = 1
	KeyKindSorted SubstateKeyKind = 2
)

// SubstateKey addresses one substate inside a partition. The body is held as
// a string so keys are comparable and usable as map keys.
type SubstateKey struct {
	Kind SubstateKeyKind
	Body string
}

// FieldKey addresses a numbered field.
func FieldKey(field uint8) SubstateKey {
	return SubstateKey{Kind: KeyKindField, Body: string([]byte{field})}
}

// MapKey addresses a collection entry by its raw key bytes.
func MapKey(key []byte) SubstateKey {
	return SubstateKey{Kind: KeyKindMap, Body: string(key)}
}

// SortedKey addresses a collection entry ordered by a 16-bit prefix.
func SortedKey(prefix uint16, key []byte) SubstateKey {
	body := make([]byte, 2+len(key))
	binary.BigEndian.PutUint16(body, prefix)
	copy(body[2:], key)
	return SubstateKey{Kind: KeyKindSorted, Body: string(body)}
}

// Validate checks the body shape and length.
func (k SubstateKey) Validate() error {
	switch k.Kind {
	case KeyKindField:
		if len(k.Body) != 1 {
			return fmt.Errorf("substate key: field body must be 1 byte, got %d", len(k.Body))
		}
	case KeyKindMap:
	case KeyKindSorted:
		if len(k.Body) < 2 {
			return fmt.Errorf("substate key: sorted body must carry a 2 byte prefix")
		}
	default:
		return fmt.Errorf("substate key: unknown kind %d", k.Kind)
	}
	if len(k.Body) > MaxSubstateKeyLength {
		return fmt.Errorf("substate key: body of %d bytes exceeds %d", len(k.Body), MaxSubstateKeyLength)
	}
	return nil
}

// Encoded returns kind || body, the key's sort key inside a partition.
func (k SubstateKey) Encoded() []byte {
	out := make([]byte, 0, 1+len(k.Body))
	out = append(out, byte(k.Kind))
	return append(out, k.Body...)
}

// DecodeSubstateKey parses the output of Encoded.
func DecodeSubstateKey(b []byte) (SubstateKey, error) {
	if len(b) == 0 {
		return SubstateKey{}, fmt.Errorf("substate key: empty encoding")
	}
	key := SubstateKey{Kind: SubstateKeyKind(b[0]), Body: string(b[1:])}
	if err := key.Validate(); err != nil {
		return SubstateKey{}, err
	}
	return key, nil
}

// Field returns the field number of a field key.
func (k SubstateKey) Field() (uint8, bool) {
	if k.Kind != KeyKindField || len(k.Body) != 1 {
		return 0, false
	}
	return k.Body[0], true
}

func (k SubstateKey) String() string {
	switch k.Kind {
	case KeyKindField:
		if f, ok := k.Field(); ok {
			return fmt.Sprintf("field(%d)", f)
		}
	case KeyKindSorted:
		if len(k.Body) >= 2 {
			return fmt.Sprintf("sorted(%d,%s)", binary.BigEndian.Uint16([]byte(k.Body[:2])), hex.EncodeToString([]byte(k.Body[2:])))
		}
	}
	return fmt.Sprintf("map(%s)", hex.EncodeToString([]byte(k.Body)))
}

// CompareSubstateKeys orders keys by their encoded form.
func CompareSubstateKeys(a, b SubstateKey) int {
	return bytes.Compare(a.Encoded(), b.Encoded())
}

// Substate is the value stored under one key: opaque data plus the child
// nodes it owns and the nodes it references.
type Substate struct {
	Data []byte
	Owns []NodeID
	Refs []NodeID
}

// NewSubstate wraps data with no owned or referenced nodes.
func NewSubstate(data []byte) Substate {
	return Substate{Data: data}
}

// IsEmpty reports whether the substate carries nothing at all.
func (s Substate) IsEmpty() bool {
	return len(s.Data) == 0 && len(s.Owns) == 0 && len(s.Refs) == 0
}

// Size approximates the encoded footprint used for costing and limits.
func (s Substate) Size() int {
	return len(s.Data) + NodeIDLength*(len(s.Owns)+len(s.Refs))
}

// Clone returns a deep copy.
func (s Substate) Clone() Substate {
	out := Substate{Data: append([]byte(nil), s.Data...)}
	if len(s.Owns) > 0 {
		out.Owns = append([]NodeID(nil), s.Owns...)
	}
	if len(s.Refs) > 0 {
		out.Refs = append([]NodeID(nil), s.Refs...)
	}
	return out
}

// EncodeSubstate serialises a substate for the store.
func EncodeSubstate(s Substate) ([]byte, error) {
	return rlp.EncodeToBytes(&s)
}

// DecodeSubstate parses a stored substate.
func DecodeSubstate(b []byte) (Substate, error) {
	var s Substate
	if err := rlp.DecodeBytes(b, &s); err != nil {
		return Substate{}, fmt.Errorf("decode substate: %w", err)
	}
	return s, nil
}
