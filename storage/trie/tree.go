package trie

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"ledgerkernel/core/types"
	"ledgerkernel/storage"
	"ledgerkernel/storage/substate"
)

var (
	ErrMissingNode     = errors.New("trie: missing node")
	ErrVersionOrder    = errors.New("trie: versions must be applied in order")
	ErrUnknownVersion  = errors.New("trie: unknown version")
	ErrVersionPruned   = errors.New("trie: version pruned")
	ErrSubstateMissing = errors.New("trie: substate not in tree")

	versionKey = []byte("m/version")
	prunedKey  = []byte("m/pruned")
	rootPrefix = []byte("m/root/")
)

const (
	tierEntity    byte = 0x01
	tierPartition byte = 0x02
	tierSubstate  byte = 0x03
)

func entityNS() []byte { return []byte{tierEntity} }

func partitionNS(node types.NodeID) []byte {
	return append([]byte{tierPartition}, node.Bytes()...)
}

func substateNS(node types.NodeID, partition types.PartitionNumber) []byte {
	return append(append([]byte{tierSubstate}, node.Bytes()...), byte(partition))
}

// EntityKey, PartitionKey and SubstateKeyHash are the leaf keys of the three
// tiers.
func EntityKey(node types.NodeID) common.Hash           { return HashBytes(node.Bytes()) }
func PartitionKey(p types.PartitionNumber) common.Hash  { return HashBytes([]byte{byte(p)}) }
func SubstateKeyHash(key types.SubstateKey) common.Hash { return HashBytes(key.Encoded()) }

// ValueHash is the leaf value hash of a stored substate.
func ValueHash(value []byte) common.Hash { return HashBytes(value) }

func rootDBKey(version uint64) []byte {
	return binary.BigEndian.AppendUint64(append([]byte{}, rootPrefix...), version)
}

// StateTree is the three-tier hash tree over entities, their partitions and
// the substates inside each partition. Each tier is a versioned Jellyfish
// Merkle tree; a leaf one tier up carries the root hash of the tree below as
// its value hash and that root's version as its payload.
//
// StateTree is not safe for concurrent use.
type StateTree struct {
	db storage.Database
}

// ApplyResult summarises one applied version.
type ApplyResult struct {
	Version      uint64
	Root         common.Hash
	NodesWritten int
	NodesStaled  int
}

func NewStateTree(db storage.Database) *StateTree {
	return &StateTree{db: db}
}

func (t *StateTree) readUint(key []byte) (uint64, error) {
	raw, err := t.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("trie: malformed meta value %q", key)
	}
	return binary.BigEndian.Uint64(raw), nil
}

// Version returns the latest applied version, 0 for a fresh tree.
func (t *StateTree) Version() (uint64, error) {
	return t.readUint(versionKey)
}

// PrunedBefore returns the lowest version still readable.
func (t *StateTree) PrunedBefore() (uint64, error) {
	return t.readUint(prunedKey)
}

func (t *StateTree) rootRef(version uint64) (Ref, error) {
	if version == 0 {
		return Ref{}, nil
	}
	current, err := t.Version()
	if err != nil {
		return Ref{}, err
	}
	if version > current {
		return Ref{}, fmt.Errorf("%w: %d (latest %d)", ErrUnknownVersion, version, current)
	}
	pruned, err := t.PrunedBefore()
	if err != nil {
		return Ref{}, err
	}
	if version < pruned {
		return Ref{}, fmt.Errorf("%w: %d", ErrVersionPruned, version)
	}
	raw, err := t.db.Get(rootDBKey(version))
	if err != nil {
		return Ref{}, fmt.Errorf("trie: root of version %d: %w", version, err)
	}
	var ref Ref
	if err := rlp.DecodeBytes(raw, &ref); err != nil {
		return Ref{}, fmt.Errorf("trie: decode root: %w", err)
	}
	return ref, nil
}

// Root returns the state root hash at version. Version 0 is the empty tree.
func (t *StateTree) Root(version uint64) (common.Hash, error) {
	ref, err := t.rootRef(version)
	if err != nil {
		return common.Hash{}, err
	}
	return ref.Hash, nil
}

// childRef reads the leaf for key in the tree at ref and turns it into a
// reference to the tree one tier down.
func childRef(r *reader, ref Ref, key common.Hash) (Ref, error) {
	leaf, _, err := r.lookup(ref, key)
	if err != nil || leaf == nil {
		return Ref{}, err
	}
	return Ref{Hash: leaf.ValueHash, Version: leaf.Payload}, nil
}

func parentUpdate(key common.Hash, child Ref) kv {
	if child.IsEmpty() {
		return kv{key: key, delete: true}
	}
	return kv{key: key, value: child.Hash, payload: child.Version}
}

// ApplyUpdates folds one committed write-set into the tree as version, which
// must directly follow the latest applied version. Nothing is written when
// an error is returned.
func (t *StateTree) ApplyUpdates(version uint64, updates *substate.DatabaseUpdates) (*ApplyResult, error) {
	batch := t.db.NewBatch()
	res, err := t.StageUpdates(version, updates, batch)
	if err != nil {
		return nil, err
	}
	if err := batch.Write(); err != nil {
		return nil, fmt.Errorf("trie: write version %d: %w", version, err)
	}
	return res, nil
}

// StageUpdates is ApplyUpdates without the write: the nodes, root and
// version marker of version go into batch, which the caller writes together
// with the substates so both land or neither does.
func (t *StateTree) StageUpdates(version uint64, updates *substate.DatabaseUpdates, batch storage.Batch) (*ApplyResult, error) {
	current, err := t.Version()
	if err != nil {
		return nil, err
	}
	if version != current+1 {
		return nil, fmt.Errorf("%w: next must be %d, got %d", ErrVersionOrder, current+1, version)
	}
	root, err := t.rootRef(current)
	if err != nil {
		return nil, err
	}

	res := &ApplyResult{Version: version}
	entities := &writer{reader: reader{db: t.db, ns: entityNS()}, version: version, batch: batch}

	var entityKVs []kv
	for _, node := range updates.SortedNodes() {
		nu := updates.Nodes[node]
		partitions := &writer{reader: reader{db: t.db, ns: partitionNS(node)}, version: version, batch: batch}
		partitionRoot, err := childRef(&entities.reader, root, EntityKey(node))
		if err != nil {
			return nil, err
		}

		var partitionKVs []kv
		for _, p := range nu.SortedPartitions() {
			pu := nu.Partitions[p]
			substates := &writer{reader: reader{db: t.db, ns: substateNS(node, p)}, version: version, batch: batch}
			substateRoot, err := childRef(&partitions.reader, partitionRoot, PartitionKey(p))
			if err != nil {
				return nil, err
			}

			keys := pu.SortedKeys()
			kvs := make([]kv, 0, len(keys))
			for _, k := range keys {
				if pu.Reset {
					kvs = append(kvs, kv{key: SubstateKeyHash(k), value: ValueHash(pu.Values[k])})
					continue
				}
				d := pu.Delta[k]
				if d.Delete {
					kvs = append(kvs, kv{key: SubstateKeyHash(k), delete: true})
				} else {
					kvs = append(kvs, kv{key: SubstateKeyHash(k), value: ValueHash(d.Value)})
				}
			}
			var next Ref
			if pu.Reset {
				next, err = substates.resetTo(substateRoot, kvs)
			} else {
				next, err = substates.apply(substateRoot, kvs)
			}
			if err != nil {
				return nil, err
			}
			res.NodesWritten += substates.written
			res.NodesStaled += substates.staled
			if next != substateRoot {
				partitionKVs = append(partitionKVs, parentUpdate(PartitionKey(p), next))
			}
		}

		next, err := partitions.apply(partitionRoot, partitionKVs)
		if err != nil {
			return nil, err
		}
		res.NodesWritten += partitions.written
		res.NodesStaled += partitions.staled
		if next != partitionRoot {
			entityKVs = append(entityKVs, parentUpdate(EntityKey(node), next))
		}
	}

	newRoot, err := entities.apply(root, entityKVs)
	if err != nil {
		return nil, err
	}
	res.NodesWritten += entities.written
	res.NodesStaled += entities.staled
	res.Root = newRoot.Hash

	rawRoot, err := rlp.EncodeToBytes(&newRoot)
	if err != nil {
		return nil, fmt.Errorf("trie: encode root: %w", err)
	}
	batch.Put(rootDBKey(version), rawRoot)
	batch.Put(versionKey, binary.BigEndian.AppendUint64(nil, version))
	return res, nil
}

// Prune deletes tree nodes that stopped being part of the tree at or before
// upTo, together with the roots of versions below upTo. Versions upTo and
// later remain readable.
func (t *StateTree) Prune(upTo uint64) (int, error) {
	current, err := t.Version()
	if err != nil {
		return 0, err
	}
	if upTo > current {
		return 0, fmt.Errorf("%w: cannot prune up to %d (latest %d)", ErrUnknownVersion, upTo, current)
	}
	pruned, err := t.PrunedBefore()
	if err != nil {
		return 0, err
	}
	if upTo <= pruned {
		return 0, nil
	}

	batch := t.db.NewBatch()
	removed := 0
	err = t.db.Iterate(stalePrefix, func(key, _ []byte) bool {
		since := binary.BigEndian.Uint64(key[len(stalePrefix):])
		if since > upTo {
			return false
		}
		batch.Delete(append([]byte{}, key[len(stalePrefix)+8:]...))
		batch.Delete(append([]byte{}, key...))
		removed++
		return true
	})
	if err != nil {
		return 0, fmt.Errorf("trie: scan stale index: %w", err)
	}
	for v := pruned; v < upTo; v++ {
		if v > 0 {
			batch.Delete(rootDBKey(v))
		}
	}
	batch.Put(prunedKey, binary.BigEndian.AppendUint64(nil, upTo))
	if err := batch.Write(); err != nil {
		return 0, fmt.Errorf("trie: prune: %w", err)
	}
	return removed, nil
}
