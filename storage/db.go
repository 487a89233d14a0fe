package storage

import (
	"bytes"
	"errors"
	"sort"
	"sync"
)

// ErrNotFound is returned by Get when the key is absent.
var ErrNotFound = errors.New("storage: key not found")

// Database is a generic interface for a key-value store.
// Every substate, tree node and metadata record goes through it, so the engine
// can run on any backend (in-memory or persistent).
type Database interface {
	Get(key []byte) ([]byte, error)
	Has(key []byte) (bool, error)
	Put(key []byte, value []byte) error
	Delete(key []byte) error
	// Iterate visits keys with the given prefix in ascending order until fn
	// returns false.
	Iterate(prefix []byte, fn func(key, value []byte) bool) error
	NewBatch() Batch
	Close() error
}

// Batch collects writes that are applied atomically by Write.
type Batch interface {
	Put(key []byte, value []byte)
	Delete(key []byte)
	Len() int
	Write() error
}

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

// opBatch records operations for backends without a native batch type.
type opBatch struct {
	ops   []batchOp
	apply func([]batchOp) error
}

func (b *opBatch) Put(key []byte, value []byte) {
	b.ops = append(b.ops, batchOp{key: clone(key), value: clone(value)})
}

func (b *opBatch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: clone(key), delete: true})
}

func (b *opBatch) Len() int     { return len(b.ops) }
func (b *opBatch) Write() error { return b.apply(b.ops) }

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte{}, b...)
}

// --- In-Memory DB (for tests, previews and benchmarks) ---

type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{
		data: make(map[string][]byte),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[string(key)] = clone(value)
	return nil
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(value), nil
}

func (db *MemDB) Has(key []byte) (bool, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	_, ok := db.data[string(key)]
	return ok, nil
}

func (db *MemDB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.data, string(key))
	return nil
}

func (db *MemDB) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	db.mu.RLock()
	keys := make([]string, 0)
	for k := range db.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	values := make([][]byte, len(keys))
	for i, k := range keys {
		values[i] = clone(db.data[k])
	}
	db.mu.RUnlock()

	for i, k := range keys {
		if !fn([]byte(k), values[i]) {
			return nil
		}
	}
	return nil
}

func (db *MemDB) NewBatch() Batch {
	return &opBatch{apply: func(ops []batchOp) error {
		db.mu.Lock()
		defer db.mu.Unlock()
		for _, op := range ops {
			if op.delete {
				delete(db.data, string(op.key))
			} else {
				db.data[string(op.key)] = op.value
			}
		}
		return nil
	}}
}

// Len reports the number of stored keys.
func (db *MemDB) Len() int {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.data)
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() error {
	// Nothing to close for an in-memory database.
	return nil
}
