package substate

import (
	"errors"
	"fmt"

	"ledgerkernel/core/types"
	"ledgerkernel/storage"
)

// Entry is one substate of a partition listing.
type Entry struct {
	Key   types.SubstateKey
	Value []byte
}

// Reader is a read view of substates.
type Reader interface {
	Get(node types.NodeID, partition types.PartitionNumber, key types.SubstateKey) ([]byte, bool, error)
	// List returns every substate of a partition ordered by encoded key.
	List(node types.NodeID, partition types.PartitionNumber) ([]Entry, error)
}

// Committer durably applies a write-set.
type Committer interface {
	Commit(updates *DatabaseUpdates) error
}

var substatePrefix = []byte("s/")

func substateKey(node types.NodeID, partition types.PartitionNumber, key types.SubstateKey) []byte {
	return append(append([]byte{}, substatePrefix...), types.EncodeSubstateID(node, partition, key)...)
}

func partitionKey(node types.NodeID, partition types.PartitionNumber) []byte {
	return append(append([]byte{}, substatePrefix...), types.EncodePartitionPrefix(node, partition)...)
}

// Store keeps committed substates in a key-value database.
type Store struct {
	db storage.Database
}

func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

// Database exposes the backing database.
func (s *Store) Database() storage.Database { return s.db }

func (s *Store) Get(node types.NodeID, partition types.PartitionNumber, key types.SubstateKey) ([]byte, bool, error) {
	value, err := s.db.Get(substateKey(node, partition, key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("substate get: %w", err)
	}
	return value, true, nil
}

func (s *Store) List(node types.NodeID, partition types.PartitionNumber) ([]Entry, error) {
	prefix := partitionKey(node, partition)
	var (
		entries []Entry
		decErr  error
	)
	err := s.db.Iterate(prefix, func(k, v []byte) bool {
		key, err := types.DecodeSubstateKey(k[len(prefix):])
		if err != nil {
			decErr = err
			return false
		}
		entries = append(entries, Entry{Key: key, Value: v})
		return true
	})
	if err == nil {
		err = decErr
	}
	if err != nil {
		return nil, fmt.Errorf("substate list: %w", err)
	}
	return entries, nil
}

// Commit applies the write-set in one batch. Either every write lands or none.
func (s *Store) Commit(updates *DatabaseUpdates) error {
	batch := s.db.NewBatch()
	if err := s.Stage(updates, batch); err != nil {
		return err
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("substate commit: %w", err)
	}
	return nil
}

// Stage adds the writes of updates to batch without writing it.
func (s *Store) Stage(updates *DatabaseUpdates, batch storage.Batch) error {
	for _, node := range updates.SortedNodes() {
		nu := updates.Nodes[node]
		for _, partition := range nu.SortedPartitions() {
			pu := nu.Partitions[partition]
			if pu.Reset {
				existing, err := s.List(node, partition)
				if err != nil {
					return err
				}
				for _, e := range existing {
					if _, keep := pu.Values[e.Key]; !keep {
						batch.Delete(substateKey(node, partition, e.Key))
					}
				}
				for _, key := range pu.SortedKeys() {
					batch.Put(substateKey(node, partition, key), pu.Values[key])
				}
				continue
			}
			for _, key := range pu.SortedKeys() {
				d := pu.Delta[key]
				if d.Delete {
					batch.Delete(substateKey(node, partition, key))
				} else {
					batch.Put(substateKey(node, partition, key), d.Value)
				}
			}
		}
	}
	return nil
}
