package types

import "fmt"

// EncodeSubstateID lays out node_id || partition || key_kind || key_body.
func EncodeSubstateID(node NodeID, partition PartitionNumber, key SubstateKey) []byte {
	out := make([]byte, 0, NodeIDLength+2+len(key.Body))
	out = append(out, node[:]...)
	out = append(out, byte(partition))
	return append(out, key.Encoded()...)
}

// EncodePartitionPrefix returns the shared prefix of every substate in a
// partition.
func EncodePartitionPrefix(node NodeID, partition PartitionNumber) []byte {
	out := make([]byte, 0, NodeIDLength+1)
	out = append(out, node[:]...)
	return append(out, byte(partition))
}

// DecodeSubstateID is the exact inverse of EncodeSubstateID.
func DecodeSubstateID(b []byte) (NodeID, PartitionNumber, SubstateKey, error) {
	if len(b) < NodeIDLength+2 {
		return NodeID{}, 0, SubstateKey{}, fmt.Errorf("substate id: too short (%d bytes)", len(b))
	}
	node, err := NodeIDFromBytes(b[:NodeIDLength])
	if err != nil {
		return NodeID{}, 0, SubstateKey{}, fmt.Errorf("substate id: %w", err)
	}
	partition := PartitionNumber(b[NodeIDLength])
	key, err := DecodeSubstateKey(b[NodeIDLength+1:])
	if err != nil {
		return NodeID{}, 0, SubstateKey{}, fmt.Errorf("substate id: %w", err)
	}
	return node, partition, key, nil
}
