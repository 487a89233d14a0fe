package processor

import (
	"encoding/hex"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	kerrors "ledgerkernel/core/errors"
	kresource "ledgerkernel/core/resource"
	"ledgerkernel/core/system"
	"ledgerkernel/core/types"
	"ledgerkernel/core/vm"
)

func TestValidateIntentTree(t *testing.T) {
	yieldBack := Intent{Instructions: []Instruction{YieldToParent()}}
	cases := []struct {
		name string
		tx   *Transaction
		want error
	}{
		{"no intents", &Transaction{}, kerrors.ErrInvalidManifest},
		{"child out of range", &Transaction{Intents: []Intent{{Children: []uint32{3}}}}, kerrors.ErrInvalidManifest},
		{"root as child", &Transaction{Intents: []Intent{{Children: []uint32{0}}}}, kerrors.ErrInvalidManifest},
		{"two parents", &Transaction{Intents: []Intent{
			{Children: []uint32{1, 2}}, {Children: []uint32{2}, Instructions: yieldBack.Instructions}, yieldBack,
		}}, kerrors.ErrInvalidManifest},
		{"orphan", &Transaction{Intents: []Intent{{}, yieldBack}}, kerrors.ErrInvalidManifest},
		{"child without final yield", &Transaction{Intents: []Intent{
			{Children: []uint32{1}}, {Instructions: []Instruction{AssertWorktopIsEmpty()}},
		}}, kerrors.ErrIntentNotYielded},
		{"yield from root", single(nil, YieldToParent()), kerrors.ErrYieldFromRoot},
		{"unknown child", single(nil, YieldToChild(0)), kerrors.ErrIntentNotFound},
		{"missing name", single(nil, TakeAllFromWorktop(system.FeeResource, "")), kerrors.ErrInvalidManifest},
		{"missing resource", single(nil, TakeAllFromWorktop(types.NodeID{}, "b")), kerrors.ErrInvalidManifest},
		{"negative amount", single(nil, TakeFromWorktop(system.FeeResource, kresource.NewDecimal(-1), "b")), kerrors.ErrInvalidAmount},
		{"internal entity", single(nil, AllocateGlobalAddress(types.EntityInternalBucket, "a")), kerrors.ErrInvalidManifest},
		{"unknown op", single(nil, Instruction{Op: 200}), kerrors.ErrInvalidManifest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.tx.Validate()
			require.True(t, kerrors.Is(err, tc.want), "got %v", err)
		})
	}

	valid := &Transaction{Intents: []Intent{
		{Children: []uint32{1}, Instructions: []Instruction{YieldToChild(0)}},
		yieldBack,
	}}
	require.NoError(t, valid.Validate())
}

func sampleTransaction() *Transaction {
	return &Transaction{
		Nonce: 7,
		Intents: []Intent{
			{
				Signers:  [][]byte{alicePub},
				Children: []uint32{1},
				Instructions: []Instruction{
					CallMethod(alice, "withdraw", Value(vm.Address(system.FeeResource)), Value(vm.Dec(dec("12.5")))),
					TakeNonFungiblesFromWorktop(system.SignatureBadge, kresource.NewIDSet("a", "b"), "nft"),
					YieldToChild(0, NamedBucket("nft"), ListOf(EntireWorktop())),
				},
			},
			{
				Instructions: []Instruction{
					AllocateGlobalAddress(types.EntityGlobalPackage, "pkg"),
					CallFunction(system.AccountPackage, system.BlueprintAccount, "create", Value(vm.Unit())),
					YieldToParent(),
				},
			},
		},
	}
}

func TestTransactionEncoding(t *testing.T) {
	tx := sampleTransaction()
	raw, err := EncodeTransaction(tx)
	require.NoError(t, err)

	decoded, err := DecodeTransaction(raw)
	require.NoError(t, err)
	again, err := EncodeTransaction(decoded)
	require.NoError(t, err)
	require.Equal(t, raw, again)
	require.Equal(t, "12.5", decoded.Intents[0].Instructions[0].Args[1].Value.Dec.String())

	h1, err := tx.Hash()
	require.NoError(t, err)
	h2, err := decoded.Hash()
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	tx.Nonce++
	h3, err := tx.Hash()
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)

	_, err = DecodeTransaction([]byte{0xff, 0x01})
	require.True(t, kerrors.Is(err, kerrors.ErrInvalidManifest), "got %v", err)
}

func TestDecodeYAML(t *testing.T) {
	doc := fmt.Sprintf(`
nonce: 7
intents:
  - signers: ["0x%s"]
    children: [1]
    instructions:
      - op: CallMethod
        address: "%s"
        function: withdraw
        args:
          - address: xrd
          - decimal: "12.5"
      - op: TakeNonFungiblesFromWorktop
        resource: signature
        ids: [b, a]
        name: nft
      - op: YieldToChild
        child: 0
        args:
          - bucket: nft
          - list:
              - entire_worktop: true
  - instructions:
      - op: AllocateGlobalAddress
        entity: package
        name: pkg
      - op: CallFunction
        address: account_package
        blueprint: %s
        function: create
        args:
          - unit: true
      - op: YieldToParent
`, hex.EncodeToString(alicePub), alice, system.BlueprintAccount)

	tx, err := DecodeYAML([]byte(doc))
	require.NoError(t, err)
	require.NoError(t, tx.Validate())

	want, err := EncodeTransaction(sampleTransaction())
	require.NoError(t, err)
	got, err := EncodeTransaction(tx)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestDecodeYAMLRejects(t *testing.T) {
	cases := map[string]string{
		"unknown field":   "nonce: 1\nbogus: true\n",
		"unknown op":      "intents:\n  - instructions:\n      - op: Teleport\n",
		"bad address":     "intents:\n  - instructions:\n      - op: AssertWorktopContainsAny\n        resource: zz\n",
		"two arg fields":  "intents:\n  - instructions:\n      - op: YieldToParent\n        args:\n          - u64: 1\n            string: x\n",
		"no arg field":    "intents:\n  - instructions:\n      - op: YieldToParent\n        args:\n          - {}\n",
		"bad signer":      "intents:\n  - signers: [\"0xz1\"]\n    instructions: []\n",
		"unknown entity":  "intents:\n  - instructions:\n      - op: AllocateGlobalAddress\n        entity: bucket\n        name: a\n",
		"bad decimal arg": "intents:\n  - instructions:\n      - op: YieldToParent\n        args:\n          - decimal: one\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeYAML([]byte(doc))
			require.True(t, kerrors.Is(err, kerrors.ErrInvalidManifest), "got %v", err)
		})
	}
}

func TestParseOp(t *testing.T) {
	for op := OpTakeAllFromWorktop; op <= OpYieldToParent; op++ {
		parsed, err := ParseOp(op.String())
		require.NoError(t, err)
		require.Equal(t, op, parsed)
	}
	require.False(t, Op(0).Valid())
	require.Equal(t, "op(0)", Op(0).String())
}
