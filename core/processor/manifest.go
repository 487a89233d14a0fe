package processor

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	kerrors "ledgerkernel/core/errors"
)

// Intent is the manifest of one party. Children index into
// Transaction.Intents; a child intent runs only when its parent yields to it
// and must end by yielding back.
type Intent struct {
	Instructions []Instruction
	Children     []uint32
	// Signers are the public keys whose signature badges are virtual proofs
	// in the intent's root auth zone.
	Signers [][]byte
}

// Transaction is the whole intent tree; Intents[0] is the root.
type Transaction struct {
	Intents []Intent
	Nonce   uint64
}

// EncodeTransaction is the canonical binary form of tx.
func EncodeTransaction(tx *Transaction) ([]byte, error) {
	return rlp.EncodeToBytes(tx)
}

func DecodeTransaction(b []byte) (*Transaction, error) {
	var tx Transaction
	if err := rlp.DecodeBytes(b, &tx); err != nil {
		return nil, kerrors.Application(kerrors.ErrInvalidManifest, "decode: %v", err)
	}
	return &tx, nil
}

// Hash identifies tx and seeds the node ids it allocates.
func (tx *Transaction) Hash() (common.Hash, error) {
	raw, err := EncodeTransaction(tx)
	if err != nil {
		return common.Hash{}, err
	}
	return crypto.Keccak256Hash(raw), nil
}

func invalid(format string, args ...any) error {
	return kerrors.Application(kerrors.ErrInvalidManifest, format, args...)
}

// Validate checks the intent tree shape and every instruction's fields.
func (tx *Transaction) Validate() error {
	if len(tx.Intents) == 0 {
		return invalid("no intents")
	}
	parent := make([]int, len(tx.Intents))
	for i := range parent {
		parent[i] = -1
	}
	for i, intent := range tx.Intents {
		for _, c := range intent.Children {
			child := int(c)
			if child <= 0 || child >= len(tx.Intents) {
				return invalid("intent %d: child %d out of range", i, child)
			}
			if parent[child] >= 0 {
				return invalid("intent %d has two parents", child)
			}
			parent[child] = i
		}
	}
	for i := 1; i < len(tx.Intents); i++ {
		if err := reachesRoot(parent, i); err != nil {
			return err
		}
	}
	for i, intent := range tx.Intents {
		if err := validateIntent(i, &intent); err != nil {
			return err
		}
	}
	return nil
}

func reachesRoot(parent []int, i int) error {
	seen := make(map[int]struct{})
	for cur := i; cur != 0; cur = parent[cur] {
		if cur < 0 {
			return invalid("intent %d is not reachable from the root", i)
		}
		if _, loop := seen[cur]; loop {
			return invalid("intent %d is part of a cycle", i)
		}
		seen[cur] = struct{}{}
	}
	return nil
}

func validateIntent(idx int, intent *Intent) error {
	root := idx == 0
	if !root {
		n := len(intent.Instructions)
		if n == 0 || intent.Instructions[n-1].Op != OpYieldToParent {
			return kerrors.Application(kerrors.ErrIntentNotYielded, "intent %d", idx)
		}
	}
	for pc, ins := range intent.Instructions {
		if err := validateInstruction(&ins, len(intent.Children)); err != nil {
			if kerrors.KindOf(err) != kerrors.KindUnknown {
				return err
			}
			return invalid("intent %d instruction %d (%s): %v", idx, pc, ins.Op, err)
		}
		if root && ins.Op == OpYieldToParent {
			return kerrors.Application(kerrors.ErrYieldFromRoot, "instruction %d", pc)
		}
	}
	return nil
}

func validateInstruction(ins *Instruction, children int) error {
	if !ins.Op.Valid() {
		return fmt.Errorf("unknown op %d", ins.Op)
	}
	switch ins.Op {
	case OpTakeAllFromWorktop, OpTakeFromWorktop, OpTakeNonFungiblesFromWorktop,
		OpCreateProofFromAuthZoneOfAmount, OpCreateProofFromAuthZoneOfNonFungibles, OpCreateProofFromAuthZoneOfAll,
		OpAssertWorktopContains, OpAssertWorktopContainsAny, OpAssertWorktopContainsNonFungibles:
		if ins.Resource.IsZero() {
			return fmt.Errorf("missing resource")
		}
	case OpReturnToWorktop, OpBurnResource, OpCreateProofFromBucketOfAmount,
		OpCreateProofFromBucketOfNonFungibles, OpCreateProofFromBucketOfAll:
		if ins.Bucket == "" {
			return fmt.Errorf("missing bucket")
		}
	case OpPushToAuthZone, OpCloneProof, OpDropProof:
		if ins.Proof == "" {
			return fmt.Errorf("missing proof")
		}
	case OpCallFunction:
		if ins.Address.IsZero() || ins.Blueprint == "" || ins.Function == "" {
			return fmt.Errorf("incomplete function call")
		}
	case OpCallMethod:
		if ins.Address.IsZero() || ins.Function == "" {
			return fmt.Errorf("incomplete method call")
		}
	case OpAllocateGlobalAddress:
		if !ins.Entity.IsGlobal() {
			return fmt.Errorf("%s is not a global entity", ins.Entity)
		}
	case OpYieldToChild:
		if int(ins.Child) >= children {
			return kerrors.Application(kerrors.ErrIntentNotFound, "child %d of %d", ins.Child, children)
		}
	}
	if binds(ins.Op) && ins.Name == "" {
		return fmt.Errorf("missing name")
	}
	if (ins.Op == OpTakeFromWorktop || ins.Op == OpAssertWorktopContains ||
		ins.Op == OpCreateProofFromAuthZoneOfAmount || ins.Op == OpCreateProofFromBucketOfAmount) && ins.Amount.IsNegative() {
		return kerrors.Application(kerrors.ErrInvalidAmount, "%s", ins.Amount)
	}
	return nil
}

// binds reports whether op creates a named bucket, proof or address.
func binds(op Op) bool {
	switch op {
	case OpTakeAllFromWorktop, OpTakeFromWorktop, OpTakeNonFungiblesFromWorktop, OpPopFromAuthZone,
		OpCreateProofFromAuthZoneOfAmount, OpCreateProofFromAuthZoneOfNonFungibles, OpCreateProofFromAuthZoneOfAll,
		OpCreateProofFromBucketOfAmount, OpCreateProofFromBucketOfNonFungibles, OpCreateProofFromBucketOfAll,
		OpCloneProof, OpAllocateGlobalAddress:
		return true
	}
	return false
}
