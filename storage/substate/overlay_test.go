package substate

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"ledgerkernel/core/types"
	"ledgerkernel/storage"
)

var (
	nodeA = types.NewNodeID(types.EntityGlobalAccount, []byte("node-a"))
	nodeB = types.NewNodeID(types.EntityGlobalGenericComponent, []byte("node-b"))
)

func mustGet(t *testing.T, r Reader, node types.NodeID, p types.PartitionNumber, key types.SubstateKey) []byte {
	t.Helper()
	v, ok, err := r.Get(node, p, key)
	require.NoError(t, err)
	if !ok {
		return nil
	}
	return v
}

func seededStore(t *testing.T) *Store {
	t.Helper()
	store := NewStore(storage.NewMemDB())
	u := NewDatabaseUpdates()
	u.Set(nodeA, types.PartitionMain, types.FieldKey(0), []byte("a0"))
	u.Set(nodeA, types.PartitionCollection, types.MapKey([]byte("x")), []byte("x1"))
	u.Set(nodeA, types.PartitionCollection, types.MapKey([]byte("y")), []byte("y1"))
	require.NoError(t, store.Commit(u))
	return store
}

func TestReadYourWrites(t *testing.T) {
	store := seededStore(t)
	overlay := NewOverlay(store)

	overlay.Set(nodeA, types.PartitionMain, types.FieldKey(0), []byte("a0-new"))
	for i := 0; i < 50; i++ {
		overlay.Set(nodeB, types.PartitionCollection, types.MapKey([]byte(fmt.Sprintf("k%d", i))), []byte{byte(i)})
	}
	require.Equal(t, []byte("a0-new"), mustGet(t, overlay, nodeA, types.PartitionMain, types.FieldKey(0)))
	require.Equal(t, []byte("a0"), mustGet(t, store, nodeA, types.PartitionMain, types.FieldKey(0)))

	overlay.Delete(nodeA, types.PartitionCollection, types.MapKey([]byte("x")))
	require.Nil(t, mustGet(t, overlay, nodeA, types.PartitionCollection, types.MapKey([]byte("x"))))

	entries, err := overlay.List(nodeA, types.PartitionCollection)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, types.MapKey([]byte("y")), entries[0].Key)
}

func TestResetPartition(t *testing.T) {
	store := seededStore(t)
	overlay := NewOverlay(store)
	overlay.ResetPartition(nodeA, types.PartitionCollection, map[types.SubstateKey][]byte{
		types.MapKey([]byte("z")): []byte("z1"),
	})
	overlay.Set(nodeA, types.PartitionCollection, types.MapKey([]byte("w")), []byte("w1"))

	require.Nil(t, mustGet(t, overlay, nodeA, types.PartitionCollection, types.MapKey([]byte("y"))))
	entries, err := overlay.List(nodeA, types.PartitionCollection)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	require.NoError(t, store.Commit(overlay.Updates()))
	stored, err := store.List(nodeA, types.PartitionCollection)
	require.NoError(t, err)
	require.Equal(t, []Entry{
		{Key: types.MapKey([]byte("w")), Value: []byte("w1")},
		{Key: types.MapKey([]byte("z")), Value: []byte("z1")},
	}, stored)
}

func TestDiscardedOverlayLeavesStoreUntouched(t *testing.T) {
	store := seededStore(t)
	overlay := NewOverlay(store)
	overlay.Set(nodeB, types.PartitionMain, types.FieldKey(1), []byte("b"))
	overlay.Discard()
	require.True(t, overlay.Updates().IsEmpty())
	require.NoError(t, store.Commit(overlay.Updates()))
	require.Nil(t, mustGet(t, store, nodeB, types.PartitionMain, types.FieldKey(1)))
}

func TestStagingTreeMerge(t *testing.T) {
	store := seededStore(t)
	tree := NewStagingTree(store)

	parent, err := tree.NewStage(RootStage)
	require.NoError(t, err)
	childA, err := tree.NewStage(parent)
	require.NoError(t, err)
	childB, err := tree.NewStage(parent)
	require.NoError(t, err)
	grandchild, err := tree.NewStage(childA)
	require.NoError(t, err)

	u := NewDatabaseUpdates()
	u.Set(nodeA, types.PartitionMain, types.FieldKey(0), []byte("parent"))
	require.NoError(t, tree.Record(parent, u))

	u = NewDatabaseUpdates()
	u.Set(nodeB, types.PartitionMain, types.FieldKey(0), []byte("child-a"))
	require.NoError(t, tree.Record(childA, u))

	u = NewDatabaseUpdates()
	u.Set(nodeB, types.PartitionMain, types.FieldKey(0), []byte("child-b"))
	require.NoError(t, tree.Record(childB, u))

	readerA, err := tree.Reader(grandchild)
	require.NoError(t, err)
	require.Equal(t, []byte("parent"), mustGet(t, readerA, nodeA, types.PartitionMain, types.FieldKey(0)))
	require.Equal(t, []byte("child-a"), mustGet(t, readerA, nodeB, types.PartitionMain, types.FieldKey(0)))

	readerB, err := tree.Reader(childB)
	require.NoError(t, err)
	require.Equal(t, []byte("child-b"), mustGet(t, readerB, nodeB, types.PartitionMain, types.FieldKey(0)))

	require.NoError(t, tree.MergeIntoParent(childA))
	_, err = tree.Reader(childB)
	require.Error(t, err, "sibling must be removed")
	readerG, err := tree.Reader(grandchild)
	require.NoError(t, err)
	require.Equal(t, []byte("child-a"), mustGet(t, readerG, nodeB, types.PartitionMain, types.FieldKey(0)))

	merged, err := tree.Commit(grandchild, store)
	require.NoError(t, err)
	require.Equal(t, 2, merged.Len())
	require.Equal(t, 0, tree.Len())
	require.Equal(t, []byte("parent"), mustGet(t, store, nodeA, types.PartitionMain, types.FieldKey(0)))
	require.Equal(t, []byte("child-a"), mustGet(t, store, nodeB, types.PartitionMain, types.FieldKey(0)))
}

func TestStagingTreeDiscard(t *testing.T) {
	tree := NewStagingTree(seededStore(t))
	a, err := tree.NewStage(RootStage)
	require.NoError(t, err)
	_, err = tree.NewStage(a)
	require.NoError(t, err)
	require.Equal(t, 2, tree.Len())
	tree.Discard(a)
	require.Equal(t, 0, tree.Len())
}

func TestSchemaVersion(t *testing.T) {
	db := storage.NewMemDB()
	require.NoError(t, EnsureSchemaVersion(db, false))
	v, ok, err := StoredSchemaVersion(db)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, SchemaVersion, v)

	require.NoError(t, SetSchemaVersion(db, SchemaVersion+1))
	require.ErrorIs(t, EnsureSchemaVersion(db, false), ErrSchemaVersionMismatch)
	require.NoError(t, EnsureSchemaVersion(db, true))
}
