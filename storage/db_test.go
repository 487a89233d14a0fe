package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func backends(t *testing.T) map[string]Database {
	t.Helper()
	dir := t.TempDir()

	level, err := NewLevelDB(filepath.Join(dir, "level"))
	require.NoError(t, err)
	memLevel, err := NewMemLevelDB()
	require.NoError(t, err)
	pebbleDB, err := NewPebbleDB(filepath.Join(dir, "pebble"))
	require.NoError(t, err)
	boltDB, err := NewBoltDB(filepath.Join(dir, "bolt.db"), nil)
	require.NoError(t, err)

	dbs := map[string]Database{
		"memory":    NewMemDB(),
		"leveldb":   level,
		"mem-level": memLevel,
		"pebble":    pebbleDB,
		"bolt":      boltDB,
	}
	t.Cleanup(func() {
		for _, db := range dbs {
			db.Close()
		}
	})
	return dbs
}

func TestDatabaseConformance(t *testing.T) {
	for name, db := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := db.Get([]byte("missing"))
			require.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, db.Put([]byte("a/1"), []byte("one")))
			require.NoError(t, db.Put([]byte("a/2"), []byte("two")))
			require.NoError(t, db.Put([]byte("b/1"), []byte("other")))

			got, err := db.Get([]byte("a/1"))
			require.NoError(t, err)
			require.Equal(t, []byte("one"), got)

			ok, err := db.Has([]byte("a/2"))
			require.NoError(t, err)
			require.True(t, ok)

			var keys []string
			require.NoError(t, db.Iterate([]byte("a/"), func(k, v []byte) bool {
				keys = append(keys, string(k))
				return true
			}))
			require.Equal(t, []string{"a/1", "a/2"}, keys)

			batch := db.NewBatch()
			batch.Delete([]byte("a/1"))
			batch.Put([]byte("a/3"), []byte("three"))
			require.Equal(t, 2, batch.Len())
			require.NoError(t, batch.Write())

			ok, err = db.Has([]byte("a/1"))
			require.NoError(t, err)
			require.False(t, ok)

			keys = keys[:0]
			require.NoError(t, db.Iterate([]byte("a/"), func(k, v []byte) bool {
				keys = append(keys, string(k))
				return len(keys) < 1
			}))
			require.Equal(t, []string{"a/2"}, keys)

			require.NoError(t, db.Delete([]byte("b/1")))
			_, err = db.Get([]byte("b/1"))
			require.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestLevelDBPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	db1, err := NewLevelDB(dir)
	require.NoError(t, err)
	require.NoError(t, db1.Put([]byte("key"), []byte("value")))
	require.NoError(t, db1.Close())

	db2, err := NewLevelDB(dir)
	require.NoError(t, err)
	defer db2.Close()

	got, err := db2.Get([]byte("key"))
	require.NoError(t, err)
	require.Equal(t, []byte("value"), got)
}

func TestPrefixUpperBound(t *testing.T) {
	require.Equal(t, []byte("b"), prefixUpperBound([]byte("a")))
	require.Equal(t, []byte{0x01}, prefixUpperBound([]byte{0x00, 0xff}))
	require.Nil(t, prefixUpperBound([]byte{0xff, 0xff}))
}

func TestPebbleBatchReportsStagingError(t *testing.T) {
	db, err := NewPebbleDB(filepath.Join(t.TempDir(), "pebble"))
	require.NoError(t, err)
	defer db.Close()

	b := db.NewBatch().(*pebbleBatch)
	b.Put([]byte("k"), []byte("v"))
	b.record(errors.New("staging failed"))
	b.Put([]byte("k2"), []byte("v2"))
	require.Equal(t, 3, b.Len())
	require.ErrorContains(t, b.Write(), "staging failed")

	_, err = db.Get([]byte("k"))
	require.ErrorIs(t, err, ErrNotFound)
}
