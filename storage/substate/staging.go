package substate

import (
	"fmt"
	"slices"

	"ledgerkernel/core/types"
)

// StageID names a node of the staging tree. Zero is the committed base.
type StageID uint32

// RootStage is the committed base every stage descends from.
const RootStage StageID = 0

type stage struct {
	parent   StageID
	updates  *DatabaseUpdates
	children []StageID
}

// StagingTree holds speculative write-sets layered over a committed base,
// e.g. for transaction preview. Each stage sees its ancestors' writes.
type StagingTree struct {
	base   Reader
	stages map[StageID]*stage
	next   StageID
}

func NewStagingTree(base Reader) *StagingTree {
	return &StagingTree{base: base, stages: make(map[StageID]*stage), next: 1}
}

// NewStage creates a child of parent.
func (t *StagingTree) NewStage(parent StageID) (StageID, error) {
	if parent != RootStage {
		if _, ok := t.stages[parent]; !ok {
			return 0, fmt.Errorf("staging: unknown parent stage %d", parent)
		}
	}
	id := t.next
	t.next++
	t.stages[id] = &stage{parent: parent, updates: NewDatabaseUpdates()}
	if parent != RootStage {
		t.stages[parent].children = append(t.stages[parent].children, id)
	}
	return id, nil
}

// Record merges updates into the stage.
func (t *StagingTree) Record(id StageID, updates *DatabaseUpdates) error {
	s, ok := t.stages[id]
	if !ok {
		return fmt.Errorf("staging: unknown stage %d", id)
	}
	s.updates.Merge(updates)
	return nil
}

// chain returns the write-sets from the oldest ancestor down to id.
func (t *StagingTree) chain(id StageID) ([]*DatabaseUpdates, error) {
	var layers []*DatabaseUpdates
	for cur := id; cur != RootStage; {
		s, ok := t.stages[cur]
		if !ok {
			return nil, fmt.Errorf("staging: unknown stage %d", cur)
		}
		layers = append(layers, s.updates)
		cur = s.parent
	}
	slices.Reverse(layers)
	return layers, nil
}

// Reader returns a view of the base with every write from the root down to id.
func (t *StagingTree) Reader(id StageID) (Reader, error) {
	if id == RootStage {
		return t.base, nil
	}
	if _, err := t.chain(id); err != nil {
		return nil, err
	}
	return &stageReader{tree: t, id: id}, nil
}

// Updates folds the chain root..id into one write-set.
func (t *StagingTree) Updates(id StageID) (*DatabaseUpdates, error) {
	layers, err := t.chain(id)
	if err != nil {
		return nil, err
	}
	out := NewDatabaseUpdates()
	for _, l := range layers {
		out.Merge(l)
	}
	return out, nil
}

// MergeIntoParent folds id into its parent. Siblings of id were built on the
// parent's old contents and are removed; id's children are re-parented.
func (t *StagingTree) MergeIntoParent(id StageID) error {
	s, ok := t.stages[id]
	if !ok {
		return fmt.Errorf("staging: unknown stage %d", id)
	}
	if s.parent == RootStage {
		return fmt.Errorf("staging: stage %d has no parent stage; commit it instead", id)
	}
	parent := t.stages[s.parent]
	for _, sibling := range parent.children {
		if sibling != id {
			t.remove(sibling)
		}
	}
	parent.updates.Merge(s.updates)
	parent.children = s.children
	for _, child := range s.children {
		t.stages[child].parent = s.parent
	}
	delete(t.stages, id)
	return nil
}

// Commit merges id recursively into its ancestors, hands the folded
// write-set to the committer and clears the tree, since every other stage was
// built on the old base. If the committer fails the merged stage is kept.
func (t *StagingTree) Commit(id StageID, committer Committer) (*DatabaseUpdates, error) {
	s, ok := t.stages[id]
	if !ok {
		return nil, fmt.Errorf("staging: unknown stage %d", id)
	}
	for s.parent != RootStage {
		parent := s.parent
		if err := t.MergeIntoParent(id); err != nil {
			return nil, err
		}
		id, s = parent, t.stages[parent]
	}
	if err := committer.Commit(s.updates); err != nil {
		return nil, err
	}
	t.stages = make(map[StageID]*stage)
	return s.updates, nil
}

// Discard removes id and its descendants.
func (t *StagingTree) Discard(id StageID) {
	s, ok := t.stages[id]
	if !ok {
		return
	}
	if s.parent != RootStage {
		if parent, ok := t.stages[s.parent]; ok {
			parent.children = slices.DeleteFunc(parent.children, func(c StageID) bool { return c == id })
		}
	}
	t.remove(id)
}

// Len reports the number of live stages.
func (t *StagingTree) Len() int { return len(t.stages) }

func (t *StagingTree) remove(id StageID) {
	s, ok := t.stages[id]
	if !ok {
		return
	}
	for _, c := range s.children {
		t.remove(c)
	}
	delete(t.stages, id)
}

type stageReader struct {
	tree *StagingTree
	id   StageID
}

func (r *stageReader) Get(node types.NodeID, partition types.PartitionNumber, key types.SubstateKey) ([]byte, bool, error) {
	layers, err := r.tree.chain(r.id)
	if err != nil {
		return nil, false, err
	}
	return resolve(r.tree.base, layers, node, partition, key)
}

func (r *stageReader) List(node types.NodeID, partition types.PartitionNumber) ([]Entry, error) {
	layers, err := r.tree.chain(r.id)
	if err != nil {
		return nil, err
	}
	return list(r.tree.base, layers, node, partition)
}
