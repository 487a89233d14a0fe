package auth

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/rlp"

	"ledgerkernel/core/resource"
	"ledgerkernel/core/types"
)

// RuleKind is the node type of an access rule expression.
type RuleKind uint8

const (
	RuleAllowAll RuleKind = iota
	RuleDenyAll
	RuleRequire
	RuleRequireAmount
	RuleRequireNonFungible
	RuleAnyOf
	RuleAllOf
)

// AccessRule is a boolean expression over proof predicates.
type AccessRule struct {
	Kind     RuleKind
	Resource types.NodeID
	Amount   resource.Decimal
	ID       resource.NonFungibleLocalID
	Rules    []AccessRule
}

func AllowAll() AccessRule { return AccessRule{Kind: RuleAllowAll} }
func DenyAll() AccessRule  { return AccessRule{Kind: RuleDenyAll} }

// Require is satisfied by any proof of the resource.
func Require(res types.NodeID) AccessRule {
	return AccessRule{Kind: RuleRequire, Resource: res}
}

// RequireAmount is satisfied by a proof of at least amount of the resource.
func RequireAmount(amount resource.Decimal, res types.NodeID) AccessRule {
	return AccessRule{Kind: RuleRequireAmount, Resource: res, Amount: amount}
}

// RequireNonFungible is satisfied by a proof containing the given id.
func RequireNonFungible(res types.NodeID, id resource.NonFungibleLocalID) AccessRule {
	return AccessRule{Kind: RuleRequireNonFungible, Resource: res, ID: id}
}

func AnyOf(rules ...AccessRule) AccessRule { return AccessRule{Kind: RuleAnyOf, Rules: rules} }
func AllOf(rules ...AccessRule) AccessRule { return AccessRule{Kind: RuleAllOf, Rules: rules} }

func (r AccessRule) String() string {
	switch r.Kind {
	case RuleAllowAll:
		return "allow_all"
	case RuleDenyAll:
		return "deny_all"
	case RuleRequire:
		return fmt.Sprintf("require(%s)", r.Resource.Short())
	case RuleRequireAmount:
		return fmt.Sprintf("require_amount(%s,%s)", r.Amount, r.Resource.Short())
	case RuleRequireNonFungible:
		return fmt.Sprintf("require_nft(%s,%s)", r.Resource.Short(), r.ID)
	case RuleAnyOf, RuleAllOf:
		parts := make([]string, len(r.Rules))
		for i, sub := range r.Rules {
			parts[i] = sub.String()
		}
		name := "any_of"
		if r.Kind == RuleAllOf {
			name = "all_of"
		}
		return name + "(" + strings.Join(parts, ",") + ")"
	}
	return fmt.Sprintf("rule(%d)", r.Kind)
}

// EncodeRule serialises a rule for role-assignment substates.
func EncodeRule(r AccessRule) ([]byte, error) {
	return rlp.EncodeToBytes(&r)
}

// DecodeRule parses a stored rule.
func DecodeRule(b []byte) (AccessRule, error) {
	var r AccessRule
	if err := rlp.DecodeBytes(b, &r); err != nil {
		return AccessRule{}, fmt.Errorf("decode access rule: %w", err)
	}
	return r, nil
}
