package substate

import (
	"slices"

	"ledgerkernel/core/types"
)

// DatabaseUpdate is a single set or delete of one substate value.
type DatabaseUpdate struct {
	Delete bool
	Value  []byte
}

// PartitionUpdates describes the change to one partition: either a delta of
// individual keys or a reset that replaces the partition contents entirely.
type PartitionUpdates struct {
	Reset  bool
	Values map[types.SubstateKey][]byte
	Delta  map[types.SubstateKey]DatabaseUpdate
}

// SortedKeys lists the touched keys in encoded order.
func (p *PartitionUpdates) SortedKeys() []types.SubstateKey {
	var keys []types.SubstateKey
	if p.Reset {
		keys = make([]types.SubstateKey, 0, len(p.Values))
		for k := range p.Values {
			keys = append(keys, k)
		}
	} else {
		keys = make([]types.SubstateKey, 0, len(p.Delta))
		for k := range p.Delta {
			keys = append(keys, k)
		}
	}
	slices.SortFunc(keys, types.CompareSubstateKeys)
	return keys
}

func (p *PartitionUpdates) clone() *PartitionUpdates {
	out := &PartitionUpdates{Reset: p.Reset}
	if p.Reset {
		out.Values = make(map[types.SubstateKey][]byte, len(p.Values))
		for k, v := range p.Values {
			out.Values[k] = v
		}
		return out
	}
	out.Delta = make(map[types.SubstateKey]DatabaseUpdate, len(p.Delta))
	for k, v := range p.Delta {
		out.Delta[k] = v
	}
	return out
}

// NodeUpdates groups partition updates of one node.
type NodeUpdates struct {
	Partitions map[types.PartitionNumber]*PartitionUpdates
}

// SortedPartitions lists the touched partitions in ascending order.
func (n *NodeUpdates) SortedPartitions() []types.PartitionNumber {
	out := make([]types.PartitionNumber, 0, len(n.Partitions))
	for p := range n.Partitions {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// DatabaseUpdates is the canonical write-set of a transaction: per node, per
// partition, a delta or a reset.
type DatabaseUpdates struct {
	Nodes map[types.NodeID]*NodeUpdates
}

func NewDatabaseUpdates() *DatabaseUpdates {
	return &DatabaseUpdates{Nodes: make(map[types.NodeID]*NodeUpdates)}
}

func (u *DatabaseUpdates) partition(node types.NodeID, partition types.PartitionNumber) *PartitionUpdates {
	nu, ok := u.Nodes[node]
	if !ok {
		nu = &NodeUpdates{Partitions: make(map[types.PartitionNumber]*PartitionUpdates)}
		u.Nodes[node] = nu
	}
	pu, ok := nu.Partitions[partition]
	if !ok {
		pu = &PartitionUpdates{Delta: make(map[types.SubstateKey]DatabaseUpdate)}
		nu.Partitions[partition] = pu
	}
	return pu
}

// Set records a new value for a substate.
func (u *DatabaseUpdates) Set(node types.NodeID, partition types.PartitionNumber, key types.SubstateKey, value []byte) {
	pu := u.partition(node, partition)
	if pu.Reset {
		pu.Values[key] = value
		return
	}
	pu.Delta[key] = DatabaseUpdate{Value: value}
}

// Delete records the removal of a substate.
func (u *DatabaseUpdates) Delete(node types.NodeID, partition types.PartitionNumber, key types.SubstateKey) {
	pu := u.partition(node, partition)
	if pu.Reset {
		delete(pu.Values, key)
		return
	}
	pu.Delta[key] = DatabaseUpdate{Delete: true}
}

// ResetPartition replaces the whole partition with values.
func (u *DatabaseUpdates) ResetPartition(node types.NodeID, partition types.PartitionNumber, values map[types.SubstateKey][]byte) {
	pu := u.partition(node, partition)
	pu.Reset = true
	pu.Delta = nil
	pu.Values = make(map[types.SubstateKey][]byte, len(values))
	for k, v := range values {
		pu.Values[k] = v
	}
}

// lookup reports the value this write-set decides for a key. decided is
// false when the key is untouched and the caller must consult the layer below.
func (u *DatabaseUpdates) lookup(node types.NodeID, partition types.PartitionNumber, key types.SubstateKey) (value []byte, found, decided bool) {
	nu, ok := u.Nodes[node]
	if !ok {
		return nil, false, false
	}
	pu, ok := nu.Partitions[partition]
	if !ok {
		return nil, false, false
	}
	if pu.Reset {
		v, ok := pu.Values[key]
		return v, ok, true
	}
	d, ok := pu.Delta[key]
	if !ok {
		return nil, false, false
	}
	if d.Delete {
		return nil, false, true
	}
	return d.Value, true, true
}

// Merge applies other on top of u.
func (u *DatabaseUpdates) Merge(other *DatabaseUpdates) {
	for node, nu := range other.Nodes {
		for partition, pu := range nu.Partitions {
			if pu.Reset {
				u.ResetPartition(node, partition, pu.Values)
				continue
			}
			for key, d := range pu.Delta {
				if d.Delete {
					u.Delete(node, partition, key)
				} else {
					u.Set(node, partition, key, d.Value)
				}
			}
		}
	}
}

// Clone returns an independent copy.
func (u *DatabaseUpdates) Clone() *DatabaseUpdates {
	out := NewDatabaseUpdates()
	for node, nu := range u.Nodes {
		cp := &NodeUpdates{Partitions: make(map[types.PartitionNumber]*PartitionUpdates, len(nu.Partitions))}
		for p, pu := range nu.Partitions {
			cp.Partitions[p] = pu.clone()
		}
		out.Nodes[node] = cp
	}
	return out
}

// SortedNodes lists touched nodes in byte order.
func (u *DatabaseUpdates) SortedNodes() []types.NodeID {
	out := make([]types.NodeID, 0, len(u.Nodes))
	for id := range u.Nodes {
		out = append(out, id)
	}
	slices.SortFunc(out, types.CompareNodeIDs)
	return out
}

// Len counts the individual substate writes, resets counting their values.
func (u *DatabaseUpdates) Len() int {
	n := 0
	for _, nu := range u.Nodes {
		for _, pu := range nu.Partitions {
			if pu.Reset {
				n += len(pu.Values) + 1
			} else {
				n += len(pu.Delta)
			}
		}
	}
	return n
}

func (u *DatabaseUpdates) IsEmpty() bool { return len(u.Nodes) == 0 }
