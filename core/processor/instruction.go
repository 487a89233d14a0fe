// Package processor runs transaction manifests against the kernel. It owns
// the worktop of every intent, binds the buckets and proofs instructions
// name, and hands control between parent and child intents.
package processor

import (
	"fmt"

	kresource "ledgerkernel/core/resource"
	"ledgerkernel/core/types"
	"ledgerkernel/core/vm"
)

// Op selects what an instruction does.
type Op uint8

const (
	OpTakeAllFromWorktop Op = iota + 1
	OpTakeFromWorktop
	OpTakeNonFungiblesFromWorktop
	OpReturnToWorktop
	OpAssertWorktopContains
	OpAssertWorktopContainsAny
	OpAssertWorktopContainsNonFungibles
	OpAssertWorktopIsEmpty
	OpPopFromAuthZone
	OpPushToAuthZone
	OpCreateProofFromAuthZoneOfAmount
	OpCreateProofFromAuthZoneOfNonFungibles
	OpCreateProofFromAuthZoneOfAll
	OpDropAuthZoneProofs
	OpCreateProofFromBucketOfAmount
	OpCreateProofFromBucketOfNonFungibles
	OpCreateProofFromBucketOfAll
	OpCloneProof
	OpDropProof
	OpDropAllProofs
	OpBurnResource
	OpCallFunction
	OpCallMethod
	OpPublishPackage
	OpAllocateGlobalAddress
	OpYieldToChild
	OpYieldToParent
)

var opNames = map[Op]string{
	OpTakeAllFromWorktop:                    "TakeAllFromWorktop",
	OpTakeFromWorktop:                       "TakeFromWorktop",
	OpTakeNonFungiblesFromWorktop:           "TakeNonFungiblesFromWorktop",
	OpReturnToWorktop:                       "ReturnToWorktop",
	OpAssertWorktopContains:                 "AssertWorktopContains",
	OpAssertWorktopContainsAny:              "AssertWorktopContainsAny",
	OpAssertWorktopContainsNonFungibles:     "AssertWorktopContainsNonFungibles",
	OpAssertWorktopIsEmpty:                  "AssertWorktopIsEmpty",
	OpPopFromAuthZone:                       "PopFromAuthZone",
	OpPushToAuthZone:                        "PushToAuthZone",
	OpCreateProofFromAuthZoneOfAmount:       "CreateProofFromAuthZoneOfAmount",
	OpCreateProofFromAuthZoneOfNonFungibles: "CreateProofFromAuthZoneOfNonFungibles",
	OpCreateProofFromAuthZoneOfAll:          "CreateProofFromAuthZoneOfAll",
	OpDropAuthZoneProofs:                    "DropAuthZoneProofs",
	OpCreateProofFromBucketOfAmount:         "CreateProofFromBucketOfAmount",
	OpCreateProofFromBucketOfNonFungibles:   "CreateProofFromBucketOfNonFungibles",
	OpCreateProofFromBucketOfAll:            "CreateProofFromBucketOfAll",
	OpCloneProof:                            "CloneProof",
	OpDropProof:                             "DropProof",
	OpDropAllProofs:                         "DropAllProofs",
	OpBurnResource:                          "BurnResource",
	OpCallFunction:                          "CallFunction",
	OpCallMethod:                            "CallMethod",
	OpPublishPackage:                        "PublishPackage",
	OpAllocateGlobalAddress:                 "AllocateGlobalAddress",
	OpYieldToChild:                          "YieldToChild",
	OpYieldToParent:                         "YieldToParent",
}

func (o Op) Valid() bool {
	_, ok := opNames[o]
	return ok
}

func (o Op) String() string {
	if name, ok := opNames[o]; ok {
		return name
	}
	return fmt.Sprintf("op(%d)", uint8(o))
}

// ParseOp is the inverse of Op.String.
func ParseOp(name string) (Op, error) {
	for op, n := range opNames {
		if n == name {
			return op, nil
		}
	}
	return 0, fmt.Errorf("processor: unknown instruction %q", name)
}

// ArgKind tags how a manifest argument turns into a value.
type ArgKind uint8

const (
	// ArgValue is a literal value.
	ArgValue ArgKind = iota
	// ArgBucket and ArgProof move a named bucket or proof into the call.
	ArgBucket
	ArgProof
	// ArgNamedAddress passes an address allocated earlier in the manifest.
	ArgNamedAddress
	// ArgEntireWorktop drains the worktop into a list of buckets.
	ArgEntireWorktop
	ArgList
)

// Arg is one manifest argument.
type Arg struct {
	Kind  ArgKind
	Value vm.Value
	Name  string
	Items []Arg
}

func Value(v vm.Value) Arg         { return Arg{Kind: ArgValue, Value: v} }
func NamedBucket(name string) Arg  { return Arg{Kind: ArgBucket, Name: name} }
func NamedProof(name string) Arg   { return Arg{Kind: ArgProof, Name: name} }
func NamedAddress(name string) Arg { return Arg{Kind: ArgNamedAddress, Name: name} }
func EntireWorktop() Arg           { return Arg{Kind: ArgEntireWorktop} }
func ListOf(items ...Arg) Arg      { return Arg{Kind: ArgList, Items: items} }

// Instruction is one manifest step. Only the fields its Op uses are set.
type Instruction struct {
	Op        Op
	Address   types.NodeID
	Resource  types.NodeID
	Blueprint string
	Function  string
	Amount    kresource.Decimal
	IDs       kresource.IDSet
	// Bucket and Proof name an existing binding; Name is the binding the
	// instruction creates.
	Bucket string
	Proof  string
	Name   string
	Entity types.EntityType
	Child  uint32
	Args   []Arg

	Code        []byte
	Definition  []byte
	Owner       []byte
	Reservation string
}

func (i Instruction) String() string {
	switch i.Op {
	case OpCallMethod:
		return fmt.Sprintf("%s %s::%s", i.Op, i.Address.Short(), i.Function)
	case OpCallFunction:
		return fmt.Sprintf("%s %s:%s::%s", i.Op, i.Address.Short(), i.Blueprint, i.Function)
	}
	return i.Op.String()
}

func TakeAllFromWorktop(res types.NodeID, name string) Instruction {
	return Instruction{Op: OpTakeAllFromWorktop, Resource: res, Name: name}
}

func TakeFromWorktop(res types.NodeID, amount kresource.Decimal, name string) Instruction {
	return Instruction{Op: OpTakeFromWorktop, Resource: res, Amount: amount, Name: name}
}

func TakeNonFungiblesFromWorktop(res types.NodeID, ids kresource.IDSet, name string) Instruction {
	return Instruction{Op: OpTakeNonFungiblesFromWorktop, Resource: res, IDs: ids, Name: name}
}

func ReturnToWorktop(bucket string) Instruction {
	return Instruction{Op: OpReturnToWorktop, Bucket: bucket}
}

func AssertWorktopContains(res types.NodeID, amount kresource.Decimal) Instruction {
	return Instruction{Op: OpAssertWorktopContains, Resource: res, Amount: amount}
}

func AssertWorktopContainsAny(res types.NodeID) Instruction {
	return Instruction{Op: OpAssertWorktopContainsAny, Resource: res}
}

func AssertWorktopContainsNonFungibles(res types.NodeID, ids kresource.IDSet) Instruction {
	return Instruction{Op: OpAssertWorktopContainsNonFungibles, Resource: res, IDs: ids}
}

func AssertWorktopIsEmpty() Instruction { return Instruction{Op: OpAssertWorktopIsEmpty} }

func PopFromAuthZone(name string) Instruction {
	return Instruction{Op: OpPopFromAuthZone, Name: name}
}

func PushToAuthZone(proof string) Instruction {
	return Instruction{Op: OpPushToAuthZone, Proof: proof}
}

func CreateProofFromAuthZoneOfAmount(res types.NodeID, amount kresource.Decimal, name string) Instruction {
	return Instruction{Op: OpCreateProofFromAuthZoneOfAmount, Resource: res, Amount: amount, Name: name}
}

func CreateProofFromAuthZoneOfNonFungibles(res types.NodeID, ids kresource.IDSet, name string) Instruction {
	return Instruction{Op: OpCreateProofFromAuthZoneOfNonFungibles, Resource: res, IDs: ids, Name: name}
}

func CreateProofFromAuthZoneOfAll(res types.NodeID, name string) Instruction {
	return Instruction{Op: OpCreateProofFromAuthZoneOfAll, Resource: res, Name: name}
}

func DropAuthZoneProofs() Instruction { return Instruction{Op: OpDropAuthZoneProofs} }

func CreateProofFromBucketOfAmount(bucket string, amount kresource.Decimal, name string) Instruction {
	return Instruction{Op: OpCreateProofFromBucketOfAmount, Bucket: bucket, Amount: amount, Name: name}
}

func CreateProofFromBucketOfNonFungibles(bucket string, ids kresource.IDSet, name string) Instruction {
	return Instruction{Op: OpCreateProofFromBucketOfNonFungibles, Bucket: bucket, IDs: ids, Name: name}
}

func CreateProofFromBucketOfAll(bucket, name string) Instruction {
	return Instruction{Op: OpCreateProofFromBucketOfAll, Bucket: bucket, Name: name}
}

func CloneProof(proof, name string) Instruction {
	return Instruction{Op: OpCloneProof, Proof: proof, Name: name}
}

func DropProof(proof string) Instruction { return Instruction{Op: OpDropProof, Proof: proof} }

func DropAllProofs() Instruction { return Instruction{Op: OpDropAllProofs} }

func BurnResource(bucket string) Instruction {
	return Instruction{Op: OpBurnResource, Bucket: bucket}
}

func CallFunction(pkg types.NodeID, blueprint, function string, args ...Arg) Instruction {
	return Instruction{Op: OpCallFunction, Address: pkg, Blueprint: blueprint, Function: function, Args: args}
}

func CallMethod(receiver types.NodeID, method string, args ...Arg) Instruction {
	return Instruction{Op: OpCallMethod, Address: receiver, Function: method, Args: args}
}

// PublishPackage publishes code under an optional named reservation.
func PublishPackage(code, definition, owner []byte, reservation string) Instruction {
	return Instruction{Op: OpPublishPackage, Code: code, Definition: definition, Owner: owner, Reservation: reservation}
}

func AllocateGlobalAddress(entity types.EntityType, name string) Instruction {
	return Instruction{Op: OpAllocateGlobalAddress, Entity: entity, Name: name}
}

// YieldToChild hands control to the child'th child of the running intent.
func YieldToChild(child uint32, args ...Arg) Instruction {
	return Instruction{Op: OpYieldToChild, Child: child, Args: args}
}

func YieldToParent(args ...Arg) Instruction {
	return Instruction{Op: OpYieldToParent, Args: args}
}
