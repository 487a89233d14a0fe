package trie

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"ledgerkernel/core/types"
	"ledgerkernel/storage"
	"ledgerkernel/storage/substate"
)

func testNode(i int) types.NodeID {
	return types.NewNodeID(types.EntityGlobalGenericComponent, []byte(fmt.Sprintf("component-%d", i)))
}

type write struct {
	node      types.NodeID
	partition types.PartitionNumber
	key       types.SubstateKey
	value     []byte
}

func fullState(entities, keys int) []write {
	var out []write
	for e := 0; e < entities; e++ {
		for _, p := range []types.PartitionNumber{types.PartitionMain, types.PartitionCollection} {
			for k := 0; k < keys; k++ {
				out = append(out, write{
					node:      testNode(e),
					partition: p,
					key:       types.MapKey([]byte(fmt.Sprintf("key-%d", k))),
					value:     []byte(fmt.Sprintf("value-%d-%d-%d", e, p, k)),
				})
			}
		}
	}
	return out
}

func updatesOf(writes []write) *substate.DatabaseUpdates {
	u := substate.NewDatabaseUpdates()
	for _, w := range writes {
		if w.value == nil {
			u.Delete(w.node, w.partition, w.key)
		} else {
			u.Set(w.node, w.partition, w.key, w.value)
		}
	}
	return u
}

func apply(t *testing.T, tree *StateTree, version uint64, u *substate.DatabaseUpdates) *ApplyResult {
	t.Helper()
	res, err := tree.ApplyUpdates(version, u)
	require.NoError(t, err)
	return res
}

func TestEmptyTree(t *testing.T) {
	tree := NewStateTree(storage.NewMemDB())
	v, err := tree.Version()
	require.NoError(t, err)
	require.Zero(t, v)
	root, err := tree.Root(0)
	require.NoError(t, err)
	require.Equal(t, EmptyHash, root)

	res := apply(t, tree, 1, substate.NewDatabaseUpdates())
	require.Equal(t, EmptyHash, res.Root)
}

func TestVersionsMustBeSequential(t *testing.T) {
	tree := NewStateTree(storage.NewMemDB())
	_, err := tree.ApplyUpdates(2, substate.NewDatabaseUpdates())
	require.ErrorIs(t, err, ErrVersionOrder)
	apply(t, tree, 1, substate.NewDatabaseUpdates())
	_, err = tree.ApplyUpdates(1, substate.NewDatabaseUpdates())
	require.ErrorIs(t, err, ErrVersionOrder)
	_, err = tree.Root(5)
	require.ErrorIs(t, err, ErrUnknownVersion)
}

func TestRootIsIndependentOfHistory(t *testing.T) {
	state := fullState(6, 40)

	oneShot := NewStateTree(storage.NewMemDB())
	want := apply(t, oneShot, 1, updatesOf(state)).Root
	require.NotEqual(t, EmptyHash, want)

	// same final state reached through overwrites, deletes and reordering
	stepped := NewStateTree(storage.NewMemDB())
	var noise []write
	for i, w := range state {
		if i%3 == 0 {
			noise = append(noise, write{node: w.node, partition: w.partition, key: w.key, value: []byte("stale")})
		}
	}
	noise = append(noise, write{node: testNode(99), partition: types.PartitionMain, key: types.FieldKey(0), value: []byte("gone soon")})
	apply(t, stepped, 1, updatesOf(noise))

	reversed := make([]write, 0, len(state))
	for i := len(state) - 1; i >= 0; i-- {
		reversed = append(reversed, state[i])
	}
	apply(t, stepped, 2, updatesOf(reversed[:len(reversed)/2]))
	rest := append([]write{}, reversed[len(reversed)/2:]...)
	rest = append(rest, write{node: testNode(99), partition: types.PartitionMain, key: types.FieldKey(0)})
	got := apply(t, stepped, 3, updatesOf(rest)).Root
	require.Equal(t, want, got)
}

func TestIdenticalRootSequencesAcrossStores(t *testing.T) {
	dir := t.TempDir()
	level, err := storage.NewLevelDB(filepath.Join(dir, "level"))
	require.NoError(t, err)
	defer level.Close()
	pebbleDB, err := storage.NewPebbleDB(filepath.Join(dir, "pebble"))
	require.NoError(t, err)
	defer pebbleDB.Close()

	trees := []*StateTree{NewStateTree(storage.NewMemDB()), NewStateTree(level), NewStateTree(pebbleDB)}
	state := fullState(4, 25)
	batches := [][]write{state[:60], state[60:130], state[130:]}
	batches = append(batches, []write{{node: testNode(0), partition: types.PartitionMain, key: types.MapKey([]byte("key-3"))}})

	roots := make([][]string, len(trees))
	for i, tree := range trees {
		for v, b := range batches {
			res := apply(t, tree, uint64(v+1), updatesOf(b))
			roots[i] = append(roots[i], res.Root.Hex())
		}
	}
	require.Equal(t, roots[0], roots[1])
	require.Equal(t, roots[0], roots[2])
	for v := 1; v < len(roots[0]); v++ {
		if roots[0][v] == roots[0][v-1] {
			t.Fatalf("root did not change between versions %d and %d", v, v+1)
		}
	}
}

func TestProofs(t *testing.T) {
	tree := NewStateTree(storage.NewMemDB())
	state := fullState(5, 30)
	root := apply(t, tree, 1, updatesOf(state)).Root

	for _, w := range state {
		valueHash, proof, err := tree.Prove(1, w.node, w.partition, w.key)
		require.NoError(t, err)
		require.Equal(t, ValueHash(w.value), valueHash)
		require.NoError(t, proof.Verify(root, w.node, w.partition, w.key, w.value))
	}

	w := state[7]
	_, proof, err := tree.Prove(1, w.node, w.partition, w.key)
	require.NoError(t, err)
	require.ErrorIs(t, proof.Verify(root, w.node, w.partition, w.key, []byte("forged")), ErrInvalidProof)
	require.ErrorIs(t, proof.Verify(root, w.node, w.partition, types.MapKey([]byte("other")), w.value), ErrInvalidProof)

	_, _, err = tree.Prove(1, w.node, w.partition, types.MapKey([]byte("absent")))
	require.ErrorIs(t, err, ErrSubstateMissing)
	_, _, err = tree.Prove(1, testNode(77), w.partition, w.key)
	require.ErrorIs(t, err, ErrSubstateMissing)
}

func TestSingleLeafTree(t *testing.T) {
	tree := NewStateTree(storage.NewMemDB())
	w := write{node: testNode(1), partition: types.PartitionMain, key: types.FieldKey(0), value: []byte("only")}
	root := apply(t, tree, 1, updatesOf([]write{w})).Root
	_, proof, err := tree.Prove(1, w.node, w.partition, w.key)
	require.NoError(t, err)
	require.Empty(t, proof.Entity.Siblings)
	require.NoError(t, proof.Verify(root, w.node, w.partition, w.key, w.value))
}

func TestResetPartition(t *testing.T) {
	node := testNode(1)
	tree := NewStateTree(storage.NewMemDB())
	apply(t, tree, 1, updatesOf(fullState(2, 20)))

	u := substate.NewDatabaseUpdates()
	u.ResetPartition(node, types.PartitionCollection, map[types.SubstateKey][]byte{
		types.MapKey([]byte("fresh")): []byte("v"),
	})
	got := apply(t, tree, 2, u)
	require.Positive(t, got.NodesStaled)

	var expected []write
	for _, w := range fullState(2, 20) {
		if w.node == node && w.partition == types.PartitionCollection {
			continue
		}
		expected = append(expected, w)
	}
	expected = append(expected, write{node: node, partition: types.PartitionCollection, key: types.MapKey([]byte("fresh")), value: []byte("v")})
	want := apply(t, NewStateTree(storage.NewMemDB()), 1, updatesOf(expected)).Root
	require.Equal(t, want, got.Root)
}

func TestDeletingEverythingEmptiesTheTree(t *testing.T) {
	state := fullState(3, 10)
	tree := NewStateTree(storage.NewMemDB())
	apply(t, tree, 1, updatesOf(state))

	var deletes []write
	for _, w := range state {
		deletes = append(deletes, write{node: w.node, partition: w.partition, key: w.key})
	}
	res := apply(t, tree, 2, updatesOf(deletes))
	require.Equal(t, EmptyHash, res.Root)
}

func TestPrune(t *testing.T) {
	db := storage.NewMemDB()
	tree := NewStateTree(db)
	state := fullState(3, 15)
	apply(t, tree, 1, updatesOf(state))
	for v := uint64(2); v <= 4; v++ {
		var changed []write
		for i, w := range state {
			if i%4 == int(v)%4 {
				changed = append(changed, write{node: w.node, partition: w.partition, key: w.key, value: []byte(fmt.Sprintf("v%d", v))})
			}
		}
		apply(t, tree, v, updatesOf(changed))
	}
	before := db.Len()
	latest, err := tree.Root(4)
	require.NoError(t, err)

	removed, err := tree.Prune(4)
	require.NoError(t, err)
	require.Positive(t, removed)
	require.Less(t, db.Len(), before)

	_, err = tree.Root(2)
	require.ErrorIs(t, err, ErrVersionPruned)
	root, err := tree.Root(4)
	require.NoError(t, err)
	require.Equal(t, latest, root)

	for i, w := range state {
		value := w.value
		for v := 2; v <= 4; v++ {
			if i%4 == v%4 {
				value = []byte(fmt.Sprintf("v%d", v))
			}
		}
		_, proof, err := tree.Prove(4, w.node, w.partition, w.key)
		require.NoError(t, err)
		require.NoError(t, proof.Verify(root, w.node, w.partition, w.key, value))
	}

	again, err := tree.Prune(4)
	require.NoError(t, err)
	require.Zero(t, again)
	_, err = tree.Prune(9)
	require.ErrorIs(t, err, ErrUnknownVersion)

	apply(t, tree, 5, updatesOf([]write{{node: testNode(0), partition: types.PartitionMain, key: types.FieldKey(3), value: []byte("x")}}))
}
