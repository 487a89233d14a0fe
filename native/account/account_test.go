package account_test

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"ledgerkernel/core/auth"
	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/kernel"
	kresource "ledgerkernel/core/resource"
	"ledgerkernel/core/system"
	"ledgerkernel/core/types"
	"ledgerkernel/core/vm"
	"ledgerkernel/native/account"
	"ledgerkernel/native/resource"
	"ledgerkernel/storage"
	"ledgerkernel/storage/substate"
)

func newTestEnv(t *testing.T) (*system.Env, *kernel.Kernel) {
	t.Helper()
	registry := system.NewRegistry()
	require.NoError(t, registry.Register(resource.Package()))
	require.NoError(t, registry.Register(account.Package()))
	track := substate.NewOverlay(substate.NewStore(storage.NewMemDB()))
	require.NoError(t, system.InstallNatives(track, registry))

	sys := system.New(registry, nil)
	k := kernel.New(kernel.DefaultConfig(), track, sys, common.HexToHash("0x02"))
	_, err := k.AddStack(kernel.RootActor(0))
	require.NoError(t, err)
	return system.NewEnv(k, sys), k
}

func dec(s string) vm.Value { return vm.Dec(kresource.MustParseDecimal(s)) }

func newToken(t *testing.T, env *system.Env, supply string) (types.NodeID, types.NodeID) {
	t.Helper()
	out, err := env.CallFunction(system.ResourcePackage, system.BlueprintFungibleResourceManager, "create_with_initial_supply",
		vm.U64(18), vm.Str("TKN"), vm.Bytes(nil), dec(supply))
	require.NoError(t, err)
	return out.Items[0].Node, out.Items[1].Node
}

func newAccount(t *testing.T, env *system.Env) types.NodeID {
	t.Helper()
	out, err := env.CallFunction(system.AccountPackage, system.BlueprintAccount, "create", vm.Bytes([]byte("alice")), vm.Bytes(nil))
	require.NoError(t, err)
	require.Equal(t, types.EntityGlobalAccount, out.Node.EntityType())
	return out.Node
}

func balanceOf(t *testing.T, env *system.Env, acct, res types.NodeID) string {
	t.Helper()
	out, err := env.CallMethod(acct, "balance", vm.Address(res))
	require.NoError(t, err)
	return out.Dec.String()
}

func TestDepositAndWithdraw(t *testing.T) {
	env, _ := newTestEnv(t)
	res, bucket := newToken(t, env, "100")
	acct := newAccount(t, env)
	require.Equal(t, "0", balanceOf(t, env, acct, res))

	_, err := env.CallMethod(acct, "deposit", vm.Bucket(bucket))
	require.NoError(t, err)
	require.Equal(t, "100", balanceOf(t, env, acct, res))

	out, err := env.CallMethod(acct, "withdraw", vm.Address(res), dec("40"))
	require.NoError(t, err)
	require.Equal(t, "60", balanceOf(t, env, acct, res))

	amt, err := env.CallMethod(out.Node, "amount")
	require.NoError(t, err)
	require.Equal(t, "40", amt.Dec.String())

	_, err = env.CallMethod(acct, "withdraw", vm.Address(res), dec("61"))
	require.True(t, kerrors.Is(err, kerrors.ErrInsufficientBalance), "got %v", err)
}

func TestWithdrawWithoutVault(t *testing.T) {
	env, _ := newTestEnv(t)
	res, _ := newToken(t, env, "1")
	acct := newAccount(t, env)

	_, err := env.CallMethod(acct, "withdraw", vm.Address(res), dec("1"))
	require.True(t, kerrors.Is(err, kerrors.ErrAccountVaultNotFound), "got %v", err)

	_, err = env.CallMethod(acct, "lock_fee", dec("1"))
	require.True(t, kerrors.Is(err, kerrors.ErrAccountVaultNotFound), "got %v", err)
}

func TestDepositBatchSettlesCleanly(t *testing.T) {
	env, k := newTestEnv(t)
	first, a := newToken(t, env, "5")
	second, b := newToken(t, env, "7")
	acct := newAccount(t, env)

	_, err := env.CallMethod(acct, "deposit_batch", vm.List(vm.Bucket(a), vm.Bucket(b)))
	require.NoError(t, err)
	require.Equal(t, "5", balanceOf(t, env, acct, first))
	require.Equal(t, "7", balanceOf(t, env, acct, second))

	require.NoError(t, k.Finish())
}

func TestDepositBatchRejectsNonBuckets(t *testing.T) {
	env, _ := newTestEnv(t)
	acct := newAccount(t, env)

	_, err := env.CallMethod(acct, "deposit_batch", vm.List(vm.U64(1)))
	require.True(t, kerrors.Is(err, kerrors.ErrInvalidArguments), "got %v", err)
}

func TestProofFromAccountVault(t *testing.T) {
	env, k := newTestEnv(t)
	res, bucket := newToken(t, env, "10")
	acct := newAccount(t, env)
	_, err := env.CallMethod(acct, "deposit", vm.Bucket(bucket))
	require.NoError(t, err)

	out, err := env.CallMethod(acct, "create_proof_of_amount", vm.Address(res), dec("4"))
	require.NoError(t, err)
	proof := out.Node
	amt, err := env.CallMethod(proof, "amount")
	require.NoError(t, err)
	require.Equal(t, "4", amt.Dec.String())

	_, err = env.CallMethod(acct, "withdraw", vm.Address(res), dec("7"))
	require.True(t, kerrors.Is(err, kerrors.ErrInsufficientBalance), "got %v", err)

	_, err = env.CallMethod(k.AuthZone(), "push", vm.Proof(proof))
	require.NoError(t, err)
	rule, err := auth.EncodeRule(auth.RequireAmount(kresource.MustParseDecimal("4"), res))
	require.NoError(t, err)
	_, err = env.CallMethod(k.AuthZone(), "assert_access_rule", vm.Bytes(rule))
	require.NoError(t, err)
}

func TestAddressIsDeterministic(t *testing.T) {
	a := account.Address([]byte("key"))
	require.Equal(t, a, account.Address([]byte("key")))
	require.NotEqual(t, a, account.Address([]byte("other")))
	require.Equal(t, types.EntityGlobalAccount, a.EntityType())
}
