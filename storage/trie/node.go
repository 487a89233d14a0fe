package trie

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"
)

// EmptyHash is the hash of an empty tree or an empty subtree range.
var EmptyHash = common.Hash{}

// HashBytes returns the BLAKE3-256 digest used for keys, values and nodes.
func HashBytes(parts ...[]byte) common.Hash {
	h := blake3.New(32, nil)
	for _, p := range parts {
		h.Write(p)
	}
	var out common.Hash
	h.Sum(out[:0])
	return out
}

func hashPair(left, right common.Hash) common.Hash {
	return HashBytes(left[:], right[:])
}

// LeafHash commits to a leaf's key and value hash. The payload is not part
// of the commitment.
func LeafHash(key, value common.Hash) common.Hash {
	return HashBytes([]byte{0x00}, key[:], value[:])
}

// nibble returns the nibble of key at position i, high half first.
func nibble(key common.Hash, i int) byte {
	b := key[i/2]
	if i%2 == 0 {
		return b >> 4
	}
	return b & 0x0f
}

// bit returns bit i of key, most significant bit first.
func bit(key common.Hash, i int) byte {
	return (key[i/8] >> (7 - uint(i%8))) & 1
}

// NodeKind distinguishes internal nodes from leaves.
type NodeKind uint8

const (
	KindInternal NodeKind = 1
	KindLeaf     NodeKind = 2
)

// Child references a node one nibble below an internal node. The child is
// stored under the parent's path extended by Index at Version.
type Child struct {
	Index   uint8
	Hash    common.Hash
	Version uint64
	Leaf    bool
}

// Node is a persisted tree node. Internal nodes carry up to sixteen children
// ordered by index; leaves carry the hashed key, the value hash and a payload
// that nested tiers use to locate the root of the tree one tier down.
type Node struct {
	Kind      NodeKind
	Children  []Child
	KeyHash   common.Hash
	ValueHash common.Hash
	Payload   uint64
}

func newLeaf(key, value common.Hash, payload uint64) *Node {
	return &Node{Kind: KindLeaf, KeyHash: key, ValueHash: value, Payload: payload}
}

func newInternal(children [16]*Child) *Node {
	n := &Node{Kind: KindInternal}
	for _, c := range children {
		if c != nil {
			n.Children = append(n.Children, *c)
		}
	}
	return n
}

func (n *Node) IsLeaf() bool { return n.Kind == KindLeaf }

func (n *Node) childArray() [16]*Child {
	var out [16]*Child
	for i := range n.Children {
		c := n.Children[i]
		out[c.Index] = &c
	}
	return out
}

// Hash returns the node's merkle hash.
func (n *Node) Hash() common.Hash {
	if n.IsLeaf() {
		return LeafHash(n.KeyHash, n.ValueHash)
	}
	children := n.childArray()
	return merkle(&children, 0, 16)
}

// merkle hashes the children in [start, start+width) as a binary tree. An
// empty range hashes to EmptyHash and a range holding a single leaf takes
// that leaf's hash, so leaves float up to the shortest unique prefix.
func merkle(children *[16]*Child, start, width int) common.Hash {
	var only *Child
	count := 0
	for i := start; i < start+width; i++ {
		if children[i] != nil {
			count++
			only = children[i]
		}
	}
	switch {
	case count == 0:
		return EmptyHash
	case width == 1 || (count == 1 && only.Leaf):
		return only.Hash
	}
	half := width / 2
	return hashPair(merkle(children, start, half), merkle(children, start+half, half))
}

// childWithSiblings descends towards index n, returning the child whose
// subtree would hold n together with the sibling hashes passed on the way,
// top first. A nil child means no key with that nibble exists.
func (n *Node) childWithSiblings(index byte) (*Child, []common.Hash) {
	children := n.childArray()
	siblings := make([]common.Hash, 0, 4)
	for h := 3; h >= 0; h-- {
		width := 1 << h
		childStart := int(index) &^ (width - 1)
		siblingStart := childStart ^ width
		siblings = append(siblings, merkle(&children, siblingStart, width))

		var only *Child
		count := 0
		for i := childStart; i < childStart+width; i++ {
			if children[i] != nil {
				count++
				only = children[i]
			}
		}
		if count == 0 {
			return nil, siblings
		}
		if width == 1 || (count == 1 && only.Leaf) {
			return only, siblings
		}
	}
	return nil, siblings
}

func encodeNode(n *Node) ([]byte, error) {
	return rlp.EncodeToBytes(n)
}

func decodeNode(b []byte) (*Node, error) {
	var n Node
	if err := rlp.DecodeBytes(b, &n); err != nil {
		return nil, fmt.Errorf("trie: decode node: %w", err)
	}
	if n.Kind != KindInternal && n.Kind != KindLeaf {
		return nil, fmt.Errorf("trie: unknown node kind %d", n.Kind)
	}
	return &n, nil
}
