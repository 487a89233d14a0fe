package substate

import (
	"slices"

	"ledgerkernel/core/types"
)

// Overlay stages writes over a base reader. Reads observe the overlay's own
// writes first; nothing reaches the base until the updates are committed.
type Overlay struct {
	base    Reader
	updates *DatabaseUpdates
}

func NewOverlay(base Reader) *Overlay {
	return &Overlay{base: base, updates: NewDatabaseUpdates()}
}

func (o *Overlay) Get(node types.NodeID, partition types.PartitionNumber, key types.SubstateKey) ([]byte, bool, error) {
	return resolve(o.base, []*DatabaseUpdates{o.updates}, node, partition, key)
}

func (o *Overlay) List(node types.NodeID, partition types.PartitionNumber) ([]Entry, error) {
	return list(o.base, []*DatabaseUpdates{o.updates}, node, partition)
}

func (o *Overlay) Set(node types.NodeID, partition types.PartitionNumber, key types.SubstateKey, value []byte) {
	o.updates.Set(node, partition, key, value)
}

func (o *Overlay) Delete(node types.NodeID, partition types.PartitionNumber, key types.SubstateKey) {
	o.updates.Delete(node, partition, key)
}

func (o *Overlay) ResetPartition(node types.NodeID, partition types.PartitionNumber, values map[types.SubstateKey][]byte) {
	o.updates.ResetPartition(node, partition, values)
}

// Updates returns the staged write-set.
func (o *Overlay) Updates() *DatabaseUpdates { return o.updates }

// Discard drops every staged write.
func (o *Overlay) Discard() { o.updates = NewDatabaseUpdates() }

// resolve walks layers from the top (last) down to base.
func resolve(base Reader, layers []*DatabaseUpdates, node types.NodeID, partition types.PartitionNumber, key types.SubstateKey) ([]byte, bool, error) {
	for i := len(layers) - 1; i >= 0; i-- {
		if v, found, decided := layers[i].lookup(node, partition, key); decided {
			return v, found, nil
		}
	}
	return base.Get(node, partition, key)
}

func list(base Reader, layers []*DatabaseUpdates, node types.NodeID, partition types.PartitionNumber) ([]Entry, error) {
	start, reset := 0, false
	for i := len(layers) - 1; i >= 0; i-- {
		if pu := layers[i].partitionUpdates(node, partition); pu != nil && pu.Reset {
			start, reset = i, true
			break
		}
	}
	values := map[types.SubstateKey][]byte{}
	if !reset {
		entries, err := base.List(node, partition)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			values[e.Key] = e.Value
		}
	}
	for i := start; i < len(layers); i++ {
		pu := layers[i].partitionUpdates(node, partition)
		if pu == nil {
			continue
		}
		if pu.Reset {
			values = make(map[types.SubstateKey][]byte, len(pu.Values))
			for k, v := range pu.Values {
				values[k] = v
			}
			continue
		}
		for k, d := range pu.Delta {
			if d.Delete {
				delete(values, k)
			} else {
				values[k] = d.Value
			}
		}
	}
	out := make([]Entry, 0, len(values))
	for k, v := range values {
		out = append(out, Entry{Key: k, Value: v})
	}
	slices.SortFunc(out, func(a, b Entry) int { return types.CompareSubstateKeys(a.Key, b.Key) })
	return out, nil
}

func (u *DatabaseUpdates) partitionUpdates(node types.NodeID, partition types.PartitionNumber) *PartitionUpdates {
	nu, ok := u.Nodes[node]
	if !ok {
		return nil
	}
	return nu.Partitions[partition]
}
