package storage

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// PebbleDB stores keys in a Pebble LSM tree.
type PebbleDB struct {
	db *pebble.DB
}

// NewPebbleDB opens (or creates) a Pebble database at path.
func NewPebbleDB(path string) (*PebbleDB, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleDB{db: db}, nil
}

func (p *PebbleDB) Get(key []byte) ([]byte, error) {
	val, closer, err := p.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer closer.Close()
	return clone(val), nil
}

func (p *PebbleDB) Has(key []byte) (bool, error) {
	_, err := p.Get(key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (p *PebbleDB) Put(key []byte, value []byte) error {
	return p.db.Set(key, value, pebble.Sync)
}

func (p *PebbleDB) Delete(key []byte) error {
	return p.db.Delete(key, pebble.Sync)
}

func (p *PebbleDB) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	iter, err := p.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		if !fn(clone(iter.Key()), clone(iter.Value())) {
			break
		}
	}
	return iter.Error()
}

func (p *PebbleDB) NewBatch() Batch {
	return &pebbleBatch{batch: p.db.NewBatch()}
}

func (p *PebbleDB) Close() error {
	return p.db.Close()
}

// pebbleBatch keeps the first staging error and reports it from Write.
type pebbleBatch struct {
	batch *pebble.Batch
	n     int
	err   error
}

func (b *pebbleBatch) Put(key []byte, value []byte) {
	b.record(b.batch.Set(key, value, pebble.NoSync))
}

func (b *pebbleBatch) Delete(key []byte) {
	b.record(b.batch.Delete(key, pebble.NoSync))
}

func (b *pebbleBatch) record(err error) {
	if err != nil && b.err == nil {
		b.err = err
	}
	b.n++
}

func (b *pebbleBatch) Len() int { return b.n }

func (b *pebbleBatch) Write() error {
	if b.err != nil {
		_ = b.batch.Close()
		return fmt.Errorf("pebble batch: %w", b.err)
	}
	return b.batch.Commit(pebble.Sync)
}

// prefixUpperBound returns the smallest key greater than every key with the
// prefix, or nil when no such bound exists.
func prefixUpperBound(prefix []byte) []byte {
	end := clone(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
