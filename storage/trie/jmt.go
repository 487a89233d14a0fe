package trie

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	"github.com/ethereum/go-ethereum/common"

	"ledgerkernel/storage"
)

var (
	nodePrefix  = []byte("t/")
	stalePrefix = []byte("x/")
)

// Ref locates the root node of one tree. The zero Ref is the empty tree;
// versions start at 1 so a stored root never has Version 0.
type Ref struct {
	Hash    common.Hash
	Version uint64
}

func (r Ref) IsEmpty() bool { return r.Version == 0 }

// kv is one leaf update inside a tree batch.
type kv struct {
	key     common.Hash
	value   common.Hash
	payload uint64
	delete  bool
}

func sortKVs(kvs []kv) []kv {
	slices.SortStableFunc(kvs, func(a, b kv) int { return bytes.Compare(a.key[:], b.key[:]) })
	// the last update of a key wins
	out := kvs[:0]
	for i, e := range kvs {
		if i+1 < len(kvs) && kvs[i+1].key == e.key {
			continue
		}
		out = append(out, e)
	}
	return out
}

// nodeDBKey encodes the storage key of a node: namespace, version and the
// nibble path, one byte per nibble.
func nodeDBKey(ns []byte, version uint64, path []byte) []byte {
	out := make([]byte, 0, len(nodePrefix)+len(ns)+8+len(path))
	out = append(out, nodePrefix...)
	out = append(out, ns...)
	out = binary.BigEndian.AppendUint64(out, version)
	return append(out, path...)
}

func staleDBKey(since uint64, nodeKey []byte) []byte {
	out := make([]byte, 0, len(stalePrefix)+8+len(nodeKey))
	out = append(out, stalePrefix...)
	out = binary.BigEndian.AppendUint64(out, since)
	return append(out, nodeKey...)
}

func extend(path []byte, n byte) []byte {
	out := make([]byte, len(path)+1)
	copy(out, path)
	out[len(path)] = n
	return out
}

// reader loads nodes of one tree namespace.
type reader struct {
	db storage.Database
	ns []byte
}

func (r *reader) load(version uint64, path []byte) (*Node, error) {
	raw, err := r.db.Get(nodeDBKey(r.ns, version, path))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: version %d path %x", ErrMissingNode, version, path)
	}
	if err != nil {
		return nil, fmt.Errorf("trie: load node: %w", err)
	}
	return decodeNode(raw)
}

func (r *reader) root(ref Ref) (*Node, error) {
	if ref.IsEmpty() {
		return nil, nil
	}
	return r.load(ref.Version, nil)
}

// lookup walks from ref towards key. It returns the matching leaf, or nil,
// along with the sibling hashes collected on the way, top first.
func (r *reader) lookup(ref Ref, key common.Hash) (*Node, []common.Hash, error) {
	node, err := r.root(ref)
	if err != nil || node == nil {
		return nil, nil, err
	}
	var siblings []common.Hash
	var path []byte
	for {
		if node.IsLeaf() {
			if node.KeyHash == key {
				return node, siblings, nil
			}
			return nil, siblings, nil
		}
		child, sibs := node.childWithSiblings(nibble(key, len(path)))
		siblings = append(siblings, sibs...)
		if child == nil {
			return nil, siblings, nil
		}
		path = extend(path, child.Index)
		if node, err = r.load(child.Version, path); err != nil {
			return nil, nil, err
		}
	}
}

// walk visits every node reachable from ref.
func (r *reader) walk(ref Ref, fn func(version uint64, path []byte, n *Node) error) error {
	if ref.IsEmpty() {
		return nil
	}
	var visit func(version uint64, path []byte) error
	visit = func(version uint64, path []byte) error {
		n, err := r.load(version, path)
		if err != nil {
			return err
		}
		if err := fn(version, path, n); err != nil {
			return err
		}
		for _, c := range n.Children {
			if err := visit(c.Version, extend(path, c.Index)); err != nil {
				return err
			}
		}
		return nil
	}
	return visit(ref.Version, nil)
}

// writer applies a batch of leaf updates to one tree at a new version.
// New nodes and stale markers go to the shared storage batch.
type writer struct {
	reader
	version uint64
	batch   storage.Batch
	written int
	staled  int
}

func (w *writer) put(path []byte, n *Node) error {
	raw, err := encodeNode(n)
	if err != nil {
		return fmt.Errorf("trie: encode node: %w", err)
	}
	w.batch.Put(nodeDBKey(w.ns, w.version, path), raw)
	w.written++
	return nil
}

func (w *writer) stale(version uint64, path []byte) {
	w.batch.Put(staleDBKey(w.version, nodeDBKey(w.ns, version, path)), []byte{1})
	w.staled++
}

// apply updates the tree rooted at ref and returns the new root reference.
func (w *writer) apply(ref Ref, kvs []kv) (Ref, error) {
	old, err := w.root(ref)
	if err != nil {
		return Ref{}, err
	}
	n, changed, err := w.update(old, ref.Version, nil, sortKVs(kvs))
	if err != nil {
		return Ref{}, err
	}
	if !changed {
		return ref, nil
	}
	if n == nil {
		return Ref{}, nil
	}
	if err := w.put(nil, n); err != nil {
		return Ref{}, err
	}
	return Ref{Hash: n.Hash(), Version: w.version}, nil
}

// resetTo replaces the whole tree at ref with the given entries, marking
// every old node stale.
func (w *writer) resetTo(ref Ref, kvs []kv) (Ref, error) {
	if err := w.walk(ref, func(version uint64, path []byte, _ *Node) error {
		w.stale(version, path)
		return nil
	}); err != nil {
		return Ref{}, err
	}
	return w.apply(Ref{}, kvs)
}

// update applies kvs (sorted, unique) to the subtree whose root old is
// stored at (oldVersion, path). The returned node is not yet written; the
// caller decides where it lands.
func (w *writer) update(old *Node, oldVersion uint64, path []byte, kvs []kv) (*Node, bool, error) {
	if old == nil {
		n, err := w.build(path, inserts(kvs))
		return n, n != nil, err
	}
	if old.IsLeaf() {
		merged := mergeLeaf(old, kvs)
		if len(merged) == 1 && merged[0].key == old.KeyHash && merged[0].value == old.ValueHash && merged[0].payload == old.Payload {
			return old, false, nil
		}
		w.stale(oldVersion, path)
		n, err := w.build(path, merged)
		return n, true, err
	}

	children := old.childArray()
	fresh := make(map[byte]*Node)
	changed := false
	depth := len(path)
	for start := 0; start < len(kvs); {
		idx := nibble(kvs[start].key, depth)
		end := start + 1
		for end < len(kvs) && nibble(kvs[end].key, depth) == idx {
			end++
		}
		group := kvs[start:end]
		start = end

		childPath := extend(path, idx)
		var child *Node
		var childVersion uint64
		if c := children[idx]; c != nil {
			var err error
			if child, err = w.load(c.Version, childPath); err != nil {
				return nil, false, err
			}
			childVersion = c.Version
		}
		n, ch, err := w.update(child, childVersion, childPath, group)
		if err != nil {
			return nil, false, err
		}
		if !ch {
			continue
		}
		changed = true
		if n == nil {
			children[idx] = nil
			delete(fresh, idx)
			continue
		}
		fresh[idx] = n
		children[idx] = &Child{Index: idx, Hash: n.Hash(), Version: w.version, Leaf: n.IsLeaf()}
	}
	if !changed {
		return old, false, nil
	}
	w.stale(oldVersion, path)

	var only *Child
	count := 0
	for _, c := range children {
		if c != nil {
			count++
			only = c
		}
	}
	if count == 0 {
		return nil, true, nil
	}
	if count == 1 && only.Leaf {
		if n, ok := fresh[only.Index]; ok {
			return n, true, nil
		}
		leafPath := extend(path, only.Index)
		leaf, err := w.load(only.Version, leafPath)
		if err != nil {
			return nil, false, err
		}
		w.stale(only.Version, leafPath)
		return leaf, true, nil
	}
	for idx := byte(0); idx < 16; idx++ {
		if n, ok := fresh[idx]; ok {
			if err := w.put(extend(path, idx), n); err != nil {
				return nil, false, err
			}
		}
	}
	return newInternal(children), true, nil
}

// build creates a fresh subtree at path holding entries (sorted, unique,
// no deletes). Children are written; the returned root is not.
func (w *writer) build(path []byte, entries []kv) (*Node, error) {
	switch len(entries) {
	case 0:
		return nil, nil
	case 1:
		return newLeaf(entries[0].key, entries[0].value, entries[0].payload), nil
	}
	var children [16]*Child
	depth := len(path)
	for start := 0; start < len(entries); {
		idx := nibble(entries[start].key, depth)
		end := start + 1
		for end < len(entries) && nibble(entries[end].key, depth) == idx {
			end++
		}
		childPath := extend(path, idx)
		n, err := w.build(childPath, entries[start:end])
		if err != nil {
			return nil, err
		}
		if err := w.put(childPath, n); err != nil {
			return nil, err
		}
		children[idx] = &Child{Index: idx, Hash: n.Hash(), Version: w.version, Leaf: n.IsLeaf()}
		start = end
	}
	return newInternal(children), nil
}

func inserts(kvs []kv) []kv {
	out := make([]kv, 0, len(kvs))
	for _, e := range kvs {
		if !e.delete {
			out = append(out, e)
		}
	}
	return out
}

func containsKey(kvs []kv, key common.Hash) bool {
	for _, e := range kvs {
		if e.key == key {
			return true
		}
	}
	return false
}

// mergeLeaf combines an existing leaf with a batch: the batch wins for its
// own keys and the old leaf survives otherwise.
func mergeLeaf(old *Node, kvs []kv) []kv {
	out := inserts(kvs)
	if containsKey(kvs, old.KeyHash) {
		return out
	}
	out = append(out, kv{key: old.KeyHash, value: old.ValueHash, payload: old.Payload})
	slices.SortFunc(out, func(a, b kv) int { return bytes.Compare(a.key[:], b.key[:]) })
	return out
}
