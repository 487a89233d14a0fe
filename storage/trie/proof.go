package trie

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"ledgerkernel/core/types"
)

// ErrInvalidProof reports a proof that does not fold to the expected root.
var ErrInvalidProof = errors.New("trie: invalid proof")

// Proof is an inclusion proof of one leaf in a single tier: the sibling
// hashes from the root down to the leaf.
type Proof struct {
	Siblings []common.Hash
}

// RootFor folds the proof over a leaf and returns the implied root hash.
func (p Proof) RootFor(key, valueHash common.Hash) (common.Hash, error) {
	if len(p.Siblings) > 256 {
		return common.Hash{}, fmt.Errorf("%w: %d siblings", ErrInvalidProof, len(p.Siblings))
	}
	h := LeafHash(key, valueHash)
	for i := len(p.Siblings) - 1; i >= 0; i-- {
		if bit(key, i) == 1 {
			h = hashPair(p.Siblings[i], h)
		} else {
			h = hashPair(h, p.Siblings[i])
		}
	}
	return h, nil
}

// SubstateProof proves one substate value against a state root through all
// three tiers.
type SubstateProof struct {
	Substate  Proof
	Partition Proof
	Entity    Proof
}

// Prove returns the value hash of a substate at version and the proof tying
// it to that version's root.
func (t *StateTree) Prove(version uint64, node types.NodeID, partition types.PartitionNumber, key types.SubstateKey) (common.Hash, *SubstateProof, error) {
	root, err := t.rootRef(version)
	if err != nil {
		return common.Hash{}, nil, err
	}
	missing := fmt.Errorf("%w: %s/%d/%s at version %d", ErrSubstateMissing, node.Short(), partition, key, version)

	entities := &reader{db: t.db, ns: entityNS()}
	entityLeaf, entitySiblings, err := entities.lookup(root, EntityKey(node))
	if err != nil {
		return common.Hash{}, nil, err
	}
	if entityLeaf == nil {
		return common.Hash{}, nil, missing
	}

	partitions := &reader{db: t.db, ns: partitionNS(node)}
	partitionRef := Ref{Hash: entityLeaf.ValueHash, Version: entityLeaf.Payload}
	partitionLeaf, partitionSiblings, err := partitions.lookup(partitionRef, PartitionKey(partition))
	if err != nil {
		return common.Hash{}, nil, err
	}
	if partitionLeaf == nil {
		return common.Hash{}, nil, missing
	}

	substates := &reader{db: t.db, ns: substateNS(node, partition)}
	substateRef := Ref{Hash: partitionLeaf.ValueHash, Version: partitionLeaf.Payload}
	leaf, siblings, err := substates.lookup(substateRef, SubstateKeyHash(key))
	if err != nil {
		return common.Hash{}, nil, err
	}
	if leaf == nil {
		return common.Hash{}, nil, missing
	}
	return leaf.ValueHash, &SubstateProof{
		Substate:  Proof{Siblings: siblings},
		Partition: Proof{Siblings: partitionSiblings},
		Entity:    Proof{Siblings: entitySiblings},
	}, nil
}

// Verify checks that value is stored under (node, partition, key) in the
// state whose root is root.
func (p *SubstateProof) Verify(root common.Hash, node types.NodeID, partition types.PartitionNumber, key types.SubstateKey, value []byte) error {
	substateRoot, err := p.Substate.RootFor(SubstateKeyHash(key), ValueHash(value))
	if err != nil {
		return err
	}
	partitionRoot, err := p.Partition.RootFor(PartitionKey(partition), substateRoot)
	if err != nil {
		return err
	}
	got, err := p.Entity.RootFor(EntityKey(node), partitionRoot)
	if err != nil {
		return err
	}
	if got != root {
		return fmt.Errorf("%w: computed %s, want %s", ErrInvalidProof, got.Hex(), root.Hex())
	}
	return nil
}
