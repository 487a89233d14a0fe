package kernel

import (
	"slices"

	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/types"
)

func (k *Kernel) readTrack(node types.NodeID, partition types.PartitionNumber, key types.SubstateKey) (types.Substate, bool, error) {
	raw, ok, err := k.track.Get(node, partition, key)
	if err != nil {
		return types.Substate{}, false, kerrors.System(kerrors.ErrStoreAccess, "%v", err).WithNode(node)
	}
	if !ok {
		return types.Substate{}, false, nil
	}
	s, err := types.DecodeSubstate(raw)
	if err != nil {
		return types.Substate{}, false, kerrors.System(kerrors.ErrStoreAccess, "%v", err).WithNode(node)
	}
	return s, true, nil
}

func (k *Kernel) writeTrack(node types.NodeID, partition types.PartitionNumber, key types.SubstateKey, s types.Substate) error {
	raw, err := types.EncodeSubstate(s)
	if err != nil {
		return kerrors.System(kerrors.ErrStoreAccess, "%v", err).WithNode(node)
	}
	k.track.Set(node, partition, key, raw)
	return nil
}

// LockSubstate opens a lock on a substate of a visible node. Any number of
// read locks may coexist; a mutable lock is exclusive. A missing field is an
// error while a missing collection entry locks as empty.
func (k *Kernel) LockSubstate(node types.NodeID, partition types.PartitionNumber, key types.SubstateKey, flags LockFlags) (LockHandle, error) {
	f := k.frame()
	if err := k.requireVisible(f, node); err != nil {
		return 0, err
	}
	if err := key.Validate(); err != nil {
		return 0, kerrors.Kernel(kerrors.ErrInvalidSubstateKey, "%v", err).WithNode(node)
	}
	addr := substateAddr{node: node, partition: partition, key: key}
	if c := k.lockTable[addr]; c != nil && (c.writer || (flags.Mutable() && c.readers > 0)) {
		return 0, kerrors.Kernel(kerrors.ErrLockConflict, "%d/%s", partition, key).WithNode(node)
	}

	var (
		value  types.Substate
		exists bool
	)
	substates, heap := k.heap[node]
	if heap {
		value, exists = substates.Get(partition, key)
	} else {
		var err error
		if value, exists, err = k.readTrack(node, partition, key); err != nil {
			return 0, err
		}
	}
	if !exists && key.Kind == types.KeyKindField {
		return 0, kerrors.Kernel(kerrors.ErrSubstateNotFound, "%d/%s", partition, key).WithNode(node)
	}
	if err := k.emit(&Event{Kind: EventLockSubstate, Node: node, Partition: partition, Key: key, Flags: flags, Size: value.Size()}); err != nil {
		return 0, err
	}

	k.nextLock++
	h := k.nextLock
	l := &lock{addr: addr, flags: flags, heap: heap, exists: exists, value: value.Clone(), frame: f}
	k.locks[h] = l
	f.locks[h] = l
	c := k.lockTable[addr]
	if c == nil {
		c = &lockCount{}
		k.lockTable[addr] = c
	}
	if flags.Mutable() {
		c.writer = true
	} else {
		c.readers++
	}
	k.nodeLocks[node]++
	return h, nil
}

func (k *Kernel) frameLock(h LockHandle) (*lock, error) {
	l, ok := k.frame().locks[h]
	if !ok {
		return nil, kerrors.Kernel(kerrors.ErrLockNotFound, "handle %d", h)
	}
	return l, nil
}

func (k *Kernel) ReadSubstate(h LockHandle) (types.Substate, error) {
	l, err := k.frameLock(h)
	if err != nil {
		return types.Substate{}, err
	}
	if err := k.emit(&Event{Kind: EventReadSubstate, Node: l.addr.node, Partition: l.addr.partition, Key: l.addr.key, Size: l.value.Size()}); err != nil {
		return types.Substate{}, err
	}
	return l.value.Clone(), nil
}

func diff(next, prev []types.NodeID) []types.NodeID {
	var out []types.NodeID
	for _, id := range next {
		if !slices.Contains(prev, id) {
			out = append(out, id)
		}
	}
	return out
}

// WriteSubstate replaces the locked value. Nodes newly listed in Owns are
// taken from the frame's roots, and when the substate is persisted they are
// persisted with it. Nodes no longer listed return to the frame.
func (k *Kernel) WriteSubstate(h LockHandle, value types.Substate) error {
	f := k.frame()
	l, err := k.frameLock(h)
	if err != nil {
		return err
	}
	node := l.addr.node
	if !l.flags.Mutable() {
		return kerrors.Kernel(kerrors.ErrLockNotMutable, "handle %d", h).WithNode(node)
	}
	if value.Size() > k.cfg.MaxSubstateSize {
		return kerrors.Kernel(kerrors.ErrSubstateTooLarge, "%d bytes", value.Size()).WithNode(node)
	}

	added := diff(value.Owns, l.value.Owns)
	removed := diff(l.value.Owns, value.Owns)
	if err := k.checkAdopt(f, added); err != nil {
		return err
	}
	if !l.heap {
		if len(removed) > 0 {
			return kerrors.Kernel(kerrors.ErrInvalidSubstateWrite, "persisted substate cannot release owned nodes").WithNode(node)
		}
		for _, id := range added {
			if err := k.checkPersistable(id); err != nil {
				return err
			}
		}
	}
	for _, id := range diff(value.Refs, l.value.Refs) {
		if err := k.requireVisible(f, id); err != nil {
			return err
		}
		if !l.heap && !id.IsGlobal() {
			return kerrors.Kernel(kerrors.ErrInvalidSubstateWrite, "persisted substate references internal node").WithNode(id)
		}
	}
	if err := k.emit(&Event{Kind: EventWriteSubstate, Node: node, Partition: l.addr.partition, Key: l.addr.key, Size: value.Size()}); err != nil {
		return err
	}

	stored := value.Clone()
	if l.heap {
		k.heap[node].Set(l.addr.partition, l.addr.key, stored)
	} else {
		for _, id := range added {
			if err := k.persist(id); err != nil {
				return err
			}
		}
		if err := k.writeTrack(node, l.addr.partition, l.addr.key, stored); err != nil {
			return err
		}
	}
	for _, id := range added {
		delete(f.owned, id)
	}
	for _, id := range removed {
		f.owned[id] = struct{}{}
	}
	l.value = stored.Clone()
	l.exists = true
	return nil
}

func (k *Kernel) release(h LockHandle, l *lock) {
	delete(k.locks, h)
	delete(l.frame.locks, h)
	if c := k.lockTable[l.addr]; c != nil {
		if l.flags.Mutable() {
			c.writer = false
		} else {
			c.readers--
		}
		if !c.writer && c.readers == 0 {
			delete(k.lockTable, l.addr)
		}
	}
	k.nodeLocks[l.addr.node]--
	if k.nodeLocks[l.addr.node] <= 0 {
		delete(k.nodeLocks, l.addr.node)
	}
}

func (k *Kernel) CloseLock(h LockHandle) error {
	l, err := k.frameLock(h)
	if err != nil {
		return err
	}
	if err := k.emit(&Event{Kind: EventCloseLock, Node: l.addr.node, Partition: l.addr.partition, Key: l.addr.key}); err != nil {
		return err
	}
	k.release(h, l)
	return nil
}

// ScanSubstates lists one partition of a visible node without locking it.
func (k *Kernel) ScanSubstates(node types.NodeID, partition types.PartitionNumber) ([]KeyedSubstate, error) {
	if err := k.requireVisible(k.frame(), node); err != nil {
		return nil, err
	}
	var out []KeyedSubstate
	if substates, ok := k.heap[node]; ok {
		for key, s := range substates[partition] {
			out = append(out, KeyedSubstate{Key: key, Substate: s.Clone()})
		}
		slices.SortFunc(out, func(a, b KeyedSubstate) int { return types.CompareSubstateKeys(a.Key, b.Key) })
	} else {
		entries, err := k.track.List(node, partition)
		if err != nil {
			return nil, kerrors.System(kerrors.ErrStoreAccess, "%v", err).WithNode(node)
		}
		for _, e := range entries {
			s, err := types.DecodeSubstate(e.Value)
			if err != nil {
				return nil, kerrors.System(kerrors.ErrStoreAccess, "%v", err).WithNode(node)
			}
			out = append(out, KeyedSubstate{Key: e.Key, Substate: s})
		}
	}
	size := 0
	for _, e := range out {
		size += e.Substate.Size()
	}
	if err := k.emit(&Event{Kind: EventReadSubstate, Node: node, Partition: partition, Size: size}); err != nil {
		return nil, err
	}
	return out, nil
}

// PeekSubstate reads any substate, ignoring visibility and locks.
func (k *Kernel) PeekSubstate(node types.NodeID, partition types.PartitionNumber, key types.SubstateKey) (types.Substate, bool, error) {
	if substates, ok := k.heap[node]; ok {
		s, ok := substates.Get(partition, key)
		return s.Clone(), ok, nil
	}
	return k.readTrack(node, partition, key)
}

// PokeSubstate replaces the data of a substate, ignoring visibility and
// locks. Ownership and references are left unchanged.
func (k *Kernel) PokeSubstate(node types.NodeID, partition types.PartitionNumber, key types.SubstateKey, value types.Substate) error {
	prev, _, err := k.PeekSubstate(node, partition, key)
	if err != nil {
		return err
	}
	next := types.Substate{Data: append([]byte(nil), value.Data...), Owns: prev.Owns, Refs: prev.Refs}
	if substates, ok := k.heap[node]; ok {
		substates.Set(partition, key, next)
	} else if err := k.writeTrack(node, partition, key, next); err != nil {
		return err
	}
	addr := substateAddr{node: node, partition: partition, key: key}
	for _, l := range k.locks {
		if l.addr == addr {
			l.value = next.Clone()
			l.exists = true
		}
	}
	return nil
}
