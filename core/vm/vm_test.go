package vm

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/resource"
	"ledgerkernel/core/types"
)

var (
	bucketID = types.NewNodeID(types.EntityInternalBucket, []byte("b1"))
	proofID  = types.NewNodeID(types.EntityInternalProof, []byte("p1"))
	account  = types.NewNodeID(types.EntityGlobalAccount, []byte("acc"))
)

func TestPayloadCarriesNodesAndRefs(t *testing.T) {
	v := List(Address(account), Bucket(bucketID), List(Proof(proofID), Address(account)), Dec(resource.NewDecimal(5)))
	p, err := ToPayload(v)
	require.NoError(t, err)
	require.Equal(t, []types.NodeID{bucketID, proofID}, p.Nodes)
	require.Equal(t, []types.NodeID{account}, p.Refs)

	back, err := FromPayload(p)
	require.NoError(t, err)
	args := Args(back.Items)
	amount, err := args.Decimal(3)
	require.NoError(t, err)
	require.True(t, amount.Equal(resource.NewDecimal(5)))

	_, err = args.Bucket(0)
	require.ErrorIs(t, err, kerrors.ErrMalformedInput)
	_, err = args.U64(9)
	require.ErrorIs(t, err, kerrors.ErrMalformedInput)
}

func TestFromPayloadRejectsSmuggledNodes(t *testing.T) {
	p, err := ToPayload(List(Bucket(bucketID)))
	require.NoError(t, err)
	p.Nodes = nil
	_, err = FromPayload(p)
	require.ErrorIs(t, err, kerrors.ErrMalformedInput)

	p, err = ToPayload(List(Address(account)))
	require.NoError(t, err)
	p.Refs = nil
	_, err = FromPayload(p)
	require.ErrorIs(t, err, kerrors.ErrMalformedInput)
}

func TestCheckKinds(t *testing.T) {
	require.NoError(t, CheckKinds([]Value{U64(1), Str("x")}, []Kind{KindU64, KindAny}))
	require.Error(t, CheckKinds([]Value{U64(1)}, []Kind{KindString}))
	require.Error(t, CheckKinds(nil, []Kind{KindString}))
}

type countingExecutor struct {
	inner *FuncExecutor
	calls int
}

func (c *countingExecutor) Instantiate(hash common.Hash, code []byte) (Instance, error) {
	c.calls++
	return c.inner.Instantiate(hash, code)
}

func TestFuncExecutor(t *testing.T) {
	exec := NewFuncExecutor()
	code := []byte("go:counter")
	hash := exec.Register(code, Program{
		"double": func(_ Runtime, args Args) (Value, error) {
			n, err := args.U64(0)
			if err != nil {
				return Value{}, err
			}
			return U64(2 * n), nil
		},
		"boom": func(Runtime, Args) (Value, error) { panic("boom") },
	})

	_, err := exec.Instantiate(hash, []byte("other"))
	require.ErrorIs(t, err, kerrors.ErrInstantiation)
	_, err = exec.Instantiate(CodeHash([]byte("unknown")), []byte("unknown"))
	require.ErrorIs(t, err, kerrors.ErrCodeNotFound)

	counting := &countingExecutor{inner: exec}
	cache := NewCachingExecutor(counting, 2)
	inst, err := cache.Instantiate(hash, code)
	require.NoError(t, err)
	_, err = cache.Instantiate(hash, code)
	require.NoError(t, err)
	require.Equal(t, 1, counting.calls)
	require.Equal(t, 1, cache.Len())

	input, err := EncodeValue(List(U64(21)))
	require.NoError(t, err)
	out, err := inst.InvokeExport(nil, "double", input)
	require.NoError(t, err)
	v, err := DecodeValue(out)
	require.NoError(t, err)
	require.Equal(t, uint64(42), v.Num)

	_, err = inst.InvokeExport(nil, "missing", input)
	require.ErrorIs(t, err, kerrors.ErrExportNotFound)
	_, err = inst.InvokeExport(nil, "boom", input)
	require.ErrorIs(t, err, kerrors.ErrBlueprintPanic)

	scalar, err := EncodeValue(U64(1))
	require.NoError(t, err)
	_, err = inst.InvokeExport(nil, "double", scalar)
	require.ErrorIs(t, err, kerrors.ErrMalformedInput)
}
