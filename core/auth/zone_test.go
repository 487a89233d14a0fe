package auth

import (
	"testing"

	"github.com/stretchr/testify/require"

	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/resource"
	"ledgerkernel/core/types"
)

var (
	badge = types.NewNodeID(types.EntityGlobalFungibleResourceManager, []byte("badge"))
	xrd   = types.NewNodeID(types.EntityGlobalFungibleResourceManager, []byte("xrd"))
	nft   = types.NewNodeID(types.EntityGlobalNonFungibleResourceManager, []byte("nft"))
)

func TestRuleEvaluation(t *testing.T) {
	zone := Zone{Proofs: []ProofView{
		{Resource: badge, Amount: resource.NewDecimal(1)},
		{Resource: xrd, Amount: resource.NewDecimal(50)},
	}}
	virtual := Zone{Virtual: []ProofView{{Resource: nft, Amount: resource.NewDecimal(1), IDs: resource.NewIDSet("<alice>")}}}

	cases := []struct {
		name string
		rule AccessRule
		want bool
	}{
		{"allow", AllowAll(), true},
		{"deny", DenyAll(), false},
		{"require badge", Require(badge), true},
		{"require missing", Require(types.NewNodeID(types.EntityGlobalFungibleResourceManager, []byte("other"))), false},
		{"amount ok", RequireAmount(resource.NewDecimal(50), xrd), true},
		{"amount short", RequireAmount(resource.NewDecimal(51), xrd), false},
		{"nft virtual", RequireNonFungible(nft, "<alice>"), true},
		{"nft wrong id", RequireNonFungible(nft, "<bob>"), false},
		{"any of", AnyOf(DenyAll(), Require(badge)), true},
		{"all of", AllOf(Require(badge), RequireNonFungible(nft, "<bob>")), false},
		{"empty any", AnyOf(), false},
		{"empty all", AllOf(), true},
	}
	for _, tc := range cases {
		if got := Check(tc.rule, zone, virtual); got != tc.want {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestAuthorizeError(t *testing.T) {
	err := Authorize(Require(badge), "component.withdraw", Zone{})
	require.ErrorIs(t, err, kerrors.ErrUnauthorized)
	require.Equal(t, kerrors.KindModule, kerrors.KindOf(err))
	require.NoError(t, Authorize(Require(badge), "component.withdraw", Zone{Proofs: []ProofView{{Resource: badge, Amount: resource.NewDecimal(1)}}}))
}

func TestRuleEncoding(t *testing.T) {
	rule := AnyOf(RequireAmount(resource.MustParseDecimal("2.5"), xrd), AllOf(Require(badge), RequireNonFungible(nft, "#1#")))
	raw, err := EncodeRule(rule)
	require.NoError(t, err)
	back, err := DecodeRule(raw)
	require.NoError(t, err)
	require.Equal(t, rule.String(), back.String())
	require.True(t, Check(back, Zone{Proofs: []ProofView{{Resource: badge, Amount: resource.NewDecimal(1)}, {Resource: nft, Amount: resource.NewDecimal(1), IDs: resource.NewIDSet("#1#")}}}))
}
