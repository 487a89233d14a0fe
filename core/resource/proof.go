package resource

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"ledgerkernel/core/types"
)

// Evidence is the part of a proof backed by one container.
type Evidence struct {
	Container types.NodeID
	Amount    Decimal
	IDs       IDSet
}

// ProofState is the substate of a proof node. A proof never owns resource; it
// records what it locked so the lock can be released on drop.
type ProofState struct {
	Resource   types.NodeID
	Kind       Kind
	Amount     Decimal
	IDs        IDSet
	Evidence   []Evidence
	Restricted bool
}

// Containers lists the nodes backing the proof.
func (p *ProofState) Containers() []types.NodeID {
	out := make([]types.NodeID, 0, len(p.Evidence))
	for _, ev := range p.Evidence {
		out = append(out, ev.Container)
	}
	return out
}

func (p *ProofState) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(p)
}

// DecodeProof parses a proof substate.
func DecodeProof(b []byte) (*ProofState, error) {
	var p ProofState
	if err := rlp.DecodeBytes(b, &p); err != nil {
		return nil, fmt.Errorf("decode proof: %w", err)
	}
	return &p, nil
}

// ManagerState is the main field of a resource manager.
type ManagerState struct {
	Kind         Kind
	Divisibility uint8
	TotalSupply  Decimal
	Symbol       string
}

func (m *ManagerState) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(m)
}

// DecodeManager parses a resource manager substate.
func DecodeManager(b []byte) (*ManagerState, error) {
	var m ManagerState
	if err := rlp.DecodeBytes(b, &m); err != nil {
		return nil, fmt.Errorf("decode resource manager: %w", err)
	}
	return &m, nil
}
