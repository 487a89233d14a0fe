package auth

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/resource"
	"ledgerkernel/core/types"
)

// ProofView is the part of a proof that rule evaluation looks at.
type ProofView struct {
	Resource types.NodeID
	Amount   resource.Decimal
	IDs      resource.IDSet
}

// Zone is a snapshot of one frame's auth zone: the proofs pushed to it plus
// the virtual proofs granted by transaction signers.
type Zone struct {
	Proofs  []ProofView
	Virtual []ProofView
}

func (z Zone) views() []ProofView {
	out := make([]ProofView, 0, len(z.Proofs)+len(z.Virtual))
	out = append(out, z.Proofs...)
	return append(out, z.Virtual...)
}

// ZoneState is the main field of an auth zone node. Pushed proofs are the
// node's owned children; only the virtual proofs live in the data.
type ZoneState struct {
	Virtual []ProofView
}

func (s *ZoneState) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(s)
}

// DecodeZoneState parses an auth zone substate.
func DecodeZoneState(b []byte) (*ZoneState, error) {
	var s ZoneState
	if err := rlp.DecodeBytes(b, &s); err != nil {
		return nil, fmt.Errorf("decode auth zone: %w", err)
	}
	return &s, nil
}

// Check evaluates rule against the union of the given zones.
func Check(rule AccessRule, zones ...Zone) bool {
	var proofs []ProofView
	for _, z := range zones {
		proofs = append(proofs, z.views()...)
	}
	return eval(rule, proofs)
}

func eval(rule AccessRule, proofs []ProofView) bool {
	switch rule.Kind {
	case RuleAllowAll:
		return true
	case RuleDenyAll:
		return false
	case RuleRequire:
		for _, p := range proofs {
			if p.Resource == rule.Resource && (p.Amount.IsPositive() || len(p.IDs) > 0) {
				return true
			}
		}
	case RuleRequireAmount:
		for _, p := range proofs {
			if p.Resource == rule.Resource && p.Amount.Cmp(rule.Amount) >= 0 {
				return true
			}
		}
	case RuleRequireNonFungible:
		for _, p := range proofs {
			if p.Resource == rule.Resource && p.IDs.Contains(rule.ID) {
				return true
			}
		}
	case RuleAnyOf:
		for _, sub := range rule.Rules {
			if eval(sub, proofs) {
				return true
			}
		}
	case RuleAllOf:
		for _, sub := range rule.Rules {
			if !eval(sub, proofs) {
				return false
			}
		}
		return true
	}
	return false
}

// Authorize returns an unauthorized module error naming the denied rule and
// the invocation when the zones do not satisfy rule.
func Authorize(rule AccessRule, identity string, zones ...Zone) error {
	if Check(rule, zones...) {
		return nil
	}
	return kerrors.Module(kerrors.ErrUnauthorized, "rule %s", rule).WithActor(identity)
}
