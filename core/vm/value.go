package vm

import (
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/rlp"

	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/kernel"
	"ledgerkernel/core/resource"
	"ledgerkernel/core/types"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindUnit Kind = iota
	KindBool
	KindU64
	KindDecimal
	KindString
	KindBytes
	// KindAddress references a global node.
	KindAddress
	// KindBucket and KindProof own a transient node that moves with the value.
	KindBucket
	KindProof
	KindIDs
	KindList
	// KindAny matches every kind in a signature.
	KindAny Kind = 0xff
)

var kindNames = map[Kind]string{
	KindUnit:    "unit",
	KindBool:    "bool",
	KindU64:     "u64",
	KindDecimal: "decimal",
	KindString:  "string",
	KindBytes:   "bytes",
	KindAddress: "address",
	KindBucket:  "bucket",
	KindProof:   "proof",
	KindIDs:     "ids",
	KindList:    "list",
	KindAny:     "any",
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	_, ok := kindNames[k]
	return ok
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is the argument and return value format shared by native and
// external blueprints. Only the fields of its kind are set.
type Value struct {
	Kind  Kind
	Num   uint64
	Dec   resource.Decimal
	Str   string
	Raw   []byte
	Node  types.NodeID
	IDs   resource.IDSet
	Items []Value
}

func Unit() Value                   { return Value{Kind: KindUnit} }
func U64(n uint64) Value            { return Value{Kind: KindU64, Num: n} }
func Dec(d resource.Decimal) Value  { return Value{Kind: KindDecimal, Dec: d} }
func Str(s string) Value            { return Value{Kind: KindString, Str: s} }
func Bytes(b []byte) Value          { return Value{Kind: KindBytes, Raw: b} }
func Address(id types.NodeID) Value { return Value{Kind: KindAddress, Node: id} }
func Bucket(id types.NodeID) Value  { return Value{Kind: KindBucket, Node: id} }
func Proof(id types.NodeID) Value   { return Value{Kind: KindProof, Node: id} }
func IDs(ids resource.IDSet) Value  { return Value{Kind: KindIDs, IDs: ids} }
func List(items ...Value) Value     { return Value{Kind: KindList, Items: items} }

func Bool(b bool) Value {
	v := Value{Kind: KindBool}
	if b {
		v.Num = 1
	}
	return v
}

func (v Value) String() string {
	switch v.Kind {
	case KindUnit:
		return "()"
	case KindBool:
		return fmt.Sprintf("%t", v.Num != 0)
	case KindU64:
		return fmt.Sprintf("%du64", v.Num)
	case KindDecimal:
		return v.Dec.String()
	case KindString:
		return fmt.Sprintf("%q", v.Str)
	case KindBytes:
		return fmt.Sprintf("0x%x", v.Raw)
	case KindAddress, KindBucket, KindProof:
		return fmt.Sprintf("%s(%s)", v.Kind, v.Node.Short())
	case KindIDs:
		return fmt.Sprintf("%v", []resource.NonFungibleLocalID(v.IDs))
	case KindList:
		return fmt.Sprintf("%v", v.Items)
	}
	return v.Kind.String()
}

// walk visits v and every nested list item.
func (v Value) walk(fn func(Value)) {
	fn(v)
	for _, item := range v.Items {
		item.walk(fn)
	}
}

// Nodes lists the buckets and proofs carried by v in order of appearance.
func (v Value) Nodes() []types.NodeID {
	var out []types.NodeID
	v.walk(func(x Value) {
		if x.Kind == KindBucket || x.Kind == KindProof {
			out = append(out, x.Node)
		}
	})
	return out
}

// Refs lists the distinct addresses referenced by v.
func (v Value) Refs() []types.NodeID {
	var out []types.NodeID
	v.walk(func(x Value) {
		if x.Kind == KindAddress && !slices.Contains(out, x.Node) {
			out = append(out, x.Node)
		}
	})
	return out
}

// EncodeValue serialises v.
func EncodeValue(v Value) ([]byte, error) {
	return rlp.EncodeToBytes(&v)
}

// DecodeValue parses the output of EncodeValue.
func DecodeValue(b []byte) (Value, error) {
	var v Value
	if err := rlp.DecodeBytes(b, &v); err != nil {
		return Value{}, fmt.Errorf("decode value: %w", err)
	}
	return v, nil
}

// ToPayload converts v into the kernel's invocation payload: the encoded
// value plus the nodes it moves and the addresses it references.
func ToPayload(v Value) (kernel.Payload, error) {
	data, err := EncodeValue(v)
	if err != nil {
		return kernel.Payload{}, err
	}
	return kernel.Payload{Data: data, Nodes: v.Nodes(), Refs: v.Refs()}, nil
}

// FromPayload decodes a payload and checks that the value carries exactly
// the nodes the kernel moved.
func FromPayload(p kernel.Payload) (Value, error) {
	v, err := DecodeValue(p.Data)
	if err != nil {
		return Value{}, kerrors.Interpreter(kerrors.ErrMalformedInput, "%v", err)
	}
	nodes := v.Nodes()
	if len(nodes) != len(p.Nodes) {
		return Value{}, kerrors.Interpreter(kerrors.ErrMalformedInput, "value carries %d nodes, payload moved %d", len(nodes), len(p.Nodes))
	}
	for _, id := range nodes {
		if !slices.Contains(p.Nodes, id) {
			return Value{}, kerrors.Interpreter(kerrors.ErrMalformedInput, "node not moved with payload").WithNode(id)
		}
	}
	for _, id := range v.Refs() {
		if !slices.Contains(p.Refs, id) {
			return Value{}, kerrors.Interpreter(kerrors.ErrMalformedInput, "address not referenced by payload").WithNode(id)
		}
	}
	return v, nil
}

// Args is a decoded argument list with typed accessors.
type Args []Value

func (a Args) at(i int, kind Kind) (Value, error) {
	if i >= len(a) {
		return Value{}, kerrors.Interpreter(kerrors.ErrMalformedInput, "missing argument %d", i)
	}
	if a[i].Kind != kind {
		return Value{}, kerrors.Interpreter(kerrors.ErrMalformedInput, "argument %d: want %s, got %s", i, kind, a[i].Kind)
	}
	return a[i], nil
}

func (a Args) U64(i int) (uint64, error) {
	v, err := a.at(i, KindU64)
	return v.Num, err
}

func (a Args) Bool(i int) (bool, error) {
	v, err := a.at(i, KindBool)
	return v.Num != 0, err
}

func (a Args) Decimal(i int) (resource.Decimal, error) {
	v, err := a.at(i, KindDecimal)
	return v.Dec, err
}

func (a Args) String(i int) (string, error) {
	v, err := a.at(i, KindString)
	return v.Str, err
}

func (a Args) Bytes(i int) ([]byte, error) {
	v, err := a.at(i, KindBytes)
	return v.Raw, err
}

func (a Args) Address(i int) (types.NodeID, error) {
	v, err := a.at(i, KindAddress)
	return v.Node, err
}

func (a Args) Bucket(i int) (types.NodeID, error) {
	v, err := a.at(i, KindBucket)
	return v.Node, err
}

func (a Args) Proof(i int) (types.NodeID, error) {
	v, err := a.at(i, KindProof)
	return v.Node, err
}

func (a Args) IDs(i int) (resource.IDSet, error) {
	v, err := a.at(i, KindIDs)
	return resource.NewIDSet(v.IDs...), err
}

func (a Args) List(i int) ([]Value, error) {
	v, err := a.at(i, KindList)
	return v.Items, err
}

// CheckKinds validates values against a declared signature.
func CheckKinds(values []Value, kinds []Kind) error {
	if len(values) != len(kinds) {
		return fmt.Errorf("want %d values, got %d", len(kinds), len(values))
	}
	for i, k := range kinds {
		if k != KindAny && values[i].Kind != k {
			return fmt.Errorf("value %d: want %s, got %s", i, k, values[i].Kind)
		}
	}
	return nil
}
