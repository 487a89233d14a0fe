package storage

import (
	"bytes"
	"time"

	bolt "go.etcd.io/bbolt"
)

var boltBucket = []byte("ledger")

// BoltDB keeps all keys in a single bbolt bucket.
type BoltDB struct {
	db *bolt.DB
}

// NewBoltDB opens (or creates) a bbolt file at path.
func NewBoltDB(path string, options *bolt.Options) (*BoltDB, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(boltBucket)
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &BoltDB{db: db}, nil
}

func (b *BoltDB) Get(key []byte) ([]byte, error) {
	var out []byte
	err := b.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltBucket).Get(key)
		if v == nil {
			return ErrNotFound
		}
		out = clone(v)
		return nil
	})
	return out, err
}

func (b *BoltDB) Has(key []byte) (bool, error) {
	found := false
	err := b.db.View(func(tx *bolt.Tx) error {
		found = tx.Bucket(boltBucket).Get(key) != nil
		return nil
	})
	return found, err
}

func (b *BoltDB) Put(key []byte, value []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Put(key, nonNil(value))
	})
}

func (b *BoltDB) Delete(key []byte) error {
	return b.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(boltBucket).Delete(key)
	})
}

func (b *BoltDB) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	type kv struct{ k, v []byte }
	var entries []kv
	err := b.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(boltBucket).Cursor()
		for k, v := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, v = c.Next() {
			entries = append(entries, kv{clone(k), clone(v)})
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !fn(e.k, e.v) {
			break
		}
	}
	return nil
}

func (b *BoltDB) NewBatch() Batch {
	return &opBatch{apply: func(ops []batchOp) error {
		return b.db.Update(func(tx *bolt.Tx) error {
			bucket := tx.Bucket(boltBucket)
			for _, op := range ops {
				var err error
				if op.delete {
					err = bucket.Delete(op.key)
				} else {
					err = bucket.Put(op.key, nonNil(op.value))
				}
				if err != nil {
					return err
				}
			}
			return nil
		})
	}}
}

func (b *BoltDB) Close() error {
	return b.db.Close()
}

// bbolt rejects nil values.
func nonNil(v []byte) []byte {
	if v == nil {
		return []byte{}
	}
	return v
}
