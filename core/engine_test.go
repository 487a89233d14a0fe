package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"ledgerkernel/config"
	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/events"
	"ledgerkernel/core/genesis"
	"ledgerkernel/core/kernel"
	"ledgerkernel/core/processor"
	kresource "ledgerkernel/core/resource"
	"ledgerkernel/core/system"
	"ledgerkernel/core/types"
	"ledgerkernel/core/vm"
	"ledgerkernel/native/account"
	"ledgerkernel/observability"
	"ledgerkernel/storage"
	"ledgerkernel/storage/trie"
)

var (
	alicePub = common.FromHex("02aa00000000000000000000000000000000000000000000000000000000000001")
	bobPub   = common.FromHex("02bb00000000000000000000000000000000000000000000000000000000000002")
	alice    = account.Address(alicePub)
	bob      = account.Address(bobPub)
)

func testSpec(aliceFunds string) *genesis.GenesisSpec {
	return &genesis.GenesisSpec{
		GenesisTime: "2024-01-01T00:00:00Z",
		FeeToken:    genesis.NativeTokenSpec{Symbol: "XRD", Name: "Radix"},
		Alloc: map[string]string{
			common.Bytes2Hex(alicePub): aliceFunds,
			common.Bytes2Hex(bobPub):   "50",
		},
	}
}

func quietLogger() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

// newTestEngine returns an engine at version 1 where alice holds 1000 and
// bob 50 of the fee resource.
func newTestEngine(t *testing.T, opts ...EngineOption) *Engine {
	t.Helper()
	e, err := NewEngine(storage.NewMemDB(), append([]EngineOption{WithLogger(quietLogger())}, opts...)...)
	require.NoError(t, err)
	_, err = e.Genesis(testSpec("1000"))
	require.NoError(t, err)
	return e
}

func balance(t *testing.T, e *Engine, pub []byte) kresource.Decimal {
	t.Helper()
	raw, ok, err := e.Store().Get(genesis.FeeVault(pub), types.PartitionMain, kernel.MainKey)
	require.NoError(t, err)
	require.True(t, ok)
	s, err := types.DecodeSubstate(raw)
	require.NoError(t, err)
	c, err := kresource.DecodeContainer(s.Data)
	require.NoError(t, err)
	return c.Amount()
}

func decArg(s string) processor.Arg {
	return processor.Value(vm.Dec(kresource.MustParseDecimal(s)))
}

func xrdArg() processor.Arg { return processor.Value(vm.Address(system.FeeResource)) }

func signed(signer []byte, instructions ...processor.Instruction) *processor.Transaction {
	return &processor.Transaction{Intents: []processor.Intent{{
		Signers:      [][]byte{signer},
		Instructions: instructions,
	}}}
}

func transfer(from []byte, to types.NodeID, amount, fee string) *processor.Transaction {
	sender := account.Address(from)
	return signed(from,
		processor.CallMethod(sender, "lock_fee", decArg(fee)),
		processor.CallMethod(sender, "withdraw", xrdArg(), decArg(amount)),
		processor.TakeAllFromWorktop(system.FeeResource, "xrd"),
		processor.CallMethod(to, "deposit", processor.NamedBucket("xrd")),
	)
}

func TestGenesisCommitsFirstVersion(t *testing.T) {
	e, err := NewEngine(storage.NewMemDB(), WithLogger(quietLogger()))
	require.NoError(t, err)
	v, err := e.Version()
	require.NoError(t, err)
	require.Zero(t, v)

	r, err := e.Genesis(testSpec("1000"))
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, r.Outcome)
	require.Equal(t, uint64(1), r.Version)
	require.Len(t, r.NewGlobals, 2)
	root, err := e.Root(1)
	require.NoError(t, err)
	require.Equal(t, r.Root, root)
	require.NotEqual(t, common.Hash{}, root)
	require.Equal(t, "1000", balance(t, e, alicePub).String())

	_, err = e.Genesis(testSpec("1000"))
	require.ErrorIs(t, err, ErrAlreadyInitialised)
}

func TestGenesisRootIsDeterministic(t *testing.T) {
	a := newTestEngine(t)
	b := newTestEngine(t)
	ra, err := a.Root(1)
	require.NoError(t, err)
	rb, err := b.Root(1)
	require.NoError(t, err)
	require.Equal(t, ra, rb)
}

func TestExecuteCommitsTransferAndFees(t *testing.T) {
	e := newTestEngine(t)
	r, err := e.Execute(context.Background(), transfer(alicePub, bob, "25", "10"), config.DefaultExecution())
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, r.Outcome, "error: %v", r.Err())
	require.Nil(t, r.Error)
	require.Len(t, r.Outputs, 4)
	require.NotEmpty(t, r.Trace)

	fee := r.Fee
	require.True(t, fee.Collected.IsPositive())
	require.True(t, fee.Collected.Equal(fee.Execution))
	require.Equal(t, "10", fee.Locked.String())
	require.True(t, fee.Refund.Equal(kresource.NewDecimal(10).Sub(fee.Collected)))
	require.Equal(t, fee.Event().Type, r.Events[len(r.Events)-1].Type)

	require.Equal(t, uint64(2), r.Version)
	root, err := e.Root(2)
	require.NoError(t, err)
	require.Equal(t, r.Root, root)
	genesisRoot, err := e.Root(1)
	require.NoError(t, err)
	require.NotEqual(t, genesisRoot, root)

	want := kresource.NewDecimal(975).Sub(fee.Collected)
	require.True(t, want.Equal(balance(t, e, alicePub)), "alice holds %s", balance(t, e, alicePub))
	require.Equal(t, "75", balance(t, e, bobPub).String())
}

func TestExecuteFailureCommitsOnlyFees(t *testing.T) {
	e := newTestEngine(t)
	tx := signed(alicePub,
		processor.CallMethod(alice, "lock_fee", decArg("10")),
		processor.CallMethod(alice, "withdraw", xrdArg(), decArg("5")),
	)
	r, err := e.Execute(context.Background(), tx, config.DefaultExecution())
	require.NoError(t, err)
	require.Equal(t, OutcomeFailure, r.Outcome, "error: %v", r.Err())
	require.True(t, kerrors.Is(r.Err(), kerrors.ErrWorktopNotEmpty), "got %v", r.Err())
	require.NotNil(t, r.Error)
	require.NotEmpty(t, r.Error.Kind)
	require.Len(t, r.Events, 1)
	require.Empty(t, r.NewGlobals)

	fee := r.Fee
	require.True(t, fee.Collected.IsPositive())
	require.True(t, fee.Refund.IsZero())
	require.Equal(t, uint64(2), r.Version)

	want := kresource.NewDecimal(1000).Sub(fee.Collected)
	require.True(t, want.Equal(balance(t, e, alicePub)), "alice holds %s", balance(t, e, alicePub))
	require.Equal(t, "50", balance(t, e, bobPub).String())
}

func TestExecuteRejectsUnpaidTransaction(t *testing.T) {
	e := newTestEngine(t)
	tx := signed(alicePub,
		processor.CallMethod(alice, "withdraw", xrdArg(), decArg("25")),
		processor.CallMethod(bob, "deposit_batch", processor.EntireWorktop()),
	)
	r, err := e.Execute(context.Background(), tx, config.DefaultExecution())
	require.NoError(t, err)
	require.Equal(t, OutcomeRejection, r.Outcome)
	require.True(t, kerrors.Is(r.Err(), kerrors.ErrSystemLoanNotRepaid), "got %v", r.Err())
	require.Nil(t, r.Fee)
	require.Zero(t, r.Version)

	v, err := e.Version()
	require.NoError(t, err)
	require.Equal(t, uint64(1), v)
	require.Equal(t, "1000", balance(t, e, alicePub).String())
	require.Equal(t, "50", balance(t, e, bobPub).String())
}

func TestExecuteRejectsMalformedTransaction(t *testing.T) {
	e := newTestEngine(t)
	r, err := e.Execute(context.Background(), &processor.Transaction{}, config.DefaultExecution())
	require.NoError(t, err)
	require.Equal(t, OutcomeRejection, r.Outcome)
	require.NotNil(t, r.Error)

	v, err := e.Version()
	require.NoError(t, err)
	require.Equal(t, uint64(1), v)
}

func TestExecuteRejectsInvalidConfig(t *testing.T) {
	e := newTestEngine(t)
	cfg := config.DefaultExecution()
	cfg.SystemLoan = cfg.CostUnitLimit + 1
	_, err := e.Execute(context.Background(), transfer(alicePub, bob, "1", "1"), cfg)
	require.Error(t, err)
}

func TestPreviewChainsWithoutCommitting(t *testing.T) {
	e := newTestEngine(t)
	// bob only affords the second transfer after receiving the first.
	first := transfer(alicePub, bob, "25", "10")
	second := transfer(bobPub, alice, "70", "1")
	receipts, err := e.Preview(context.Background(), config.DefaultExecution(), first, second)
	require.NoError(t, err)
	require.Len(t, receipts, 2)
	for i, r := range receipts {
		require.Equal(t, OutcomeSuccess, r.Outcome, "receipt %d: %v", i, r.Err())
		require.Zero(t, r.Version)
	}

	v, err := e.Version()
	require.NoError(t, err)
	require.Equal(t, uint64(1), v)
	require.Equal(t, "1000", balance(t, e, alicePub).String())
	require.Equal(t, "50", balance(t, e, bobPub).String())

	// Alone, the second transfer overdraws bob.
	alone, err := e.Preview(context.Background(), config.DefaultExecution(), second)
	require.NoError(t, err)
	require.NotEqual(t, OutcomeSuccess, alone[0].Outcome)
}

func TestProveCommittedBalance(t *testing.T) {
	e := newTestEngine(t)
	r, err := e.Execute(context.Background(), transfer(alicePub, bob, "25", "10"), config.DefaultExecution())
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, r.Outcome, "error: %v", r.Err())

	vault := genesis.FeeVault(bobPub)
	root, proof, err := e.Prove(r.Version, vault, types.PartitionMain, kernel.MainKey)
	require.NoError(t, err)
	require.Equal(t, r.Root, root)
	value, ok, err := e.Store().Get(vault, types.PartitionMain, kernel.MainKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, proof.Verify(root, vault, types.PartitionMain, kernel.MainKey, value))
	require.Error(t, proof.Verify(root, vault, types.PartitionMain, kernel.MainKey, []byte("forged")))
}

func TestPruneKeepsRecentVersions(t *testing.T) {
	e := newTestEngine(t)
	for range 3 {
		r, err := e.Execute(context.Background(), transfer(alicePub, bob, "1", "10"), config.DefaultExecution())
		require.NoError(t, err)
		require.Equal(t, OutcomeSuccess, r.Outcome, "error: %v", r.Err())
	}
	v, err := e.Version()
	require.NoError(t, err)
	require.Equal(t, uint64(4), v)

	removed, err := e.Prune(2)
	require.NoError(t, err)
	require.Positive(t, removed)

	_, err = e.Root(2)
	require.ErrorIs(t, err, trie.ErrVersionPruned)
	for _, version := range []uint64{3, 4} {
		_, err := e.Root(version)
		require.NoError(t, err, "version %d", version)
	}
	_, _, err = e.Prove(4, genesis.FeeVault(alicePub), types.PartitionMain, kernel.MainKey)
	require.NoError(t, err)

	removed, err = e.Prune(10)
	require.NoError(t, err)
	require.Zero(t, removed)
}

func TestEngineRecordsMetricsAndSpans(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := observability.NewKernelMetrics(reg, "ledger")
	require.NoError(t, err)
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	e := newTestEngine(t, WithMetrics(metrics), WithTracer(provider.Tracer("test")))
	_, err = e.Execute(context.Background(), transfer(alicePub, bob, "25", "10"), config.DefaultExecution())
	require.NoError(t, err)
	_, err = e.Execute(context.Background(), &processor.Transaction{}, config.DefaultExecution())
	require.NoError(t, err)

	// One series per outcome.
	require.Equal(t, 2, testutil.CollectAndCount(reg, "ledger_engine_transactions_total"))
	require.Equal(t, 1, testutil.CollectAndCount(reg, "ledger_engine_commit_duration_seconds"))
	require.Positive(t, testutil.CollectAndCount(reg, "ledger_kernel_invocations_total"))
	require.Positive(t, testutil.CollectAndCount(reg, "ledger_events_emitted_total"))

	var names []string
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
	}
	require.Contains(t, names, "transaction")
	require.Greater(t, len(names), 1)
}

// failingDB refuses batch writes while failing is set.
type failingDB struct {
	storage.Database
	failing bool
}

func (db *failingDB) NewBatch() storage.Batch {
	return &failingBatch{Batch: db.Database.NewBatch(), db: db}
}

type failingBatch struct {
	storage.Batch
	db *failingDB
}

func (b *failingBatch) Write() error {
	if b.db.failing {
		return errors.New("disk full")
	}
	return b.Batch.Write()
}

func TestCommitIsAtomic(t *testing.T) {
	db := &failingDB{Database: storage.NewMemDB()}
	e, err := NewEngine(db, WithLogger(quietLogger()))
	require.NoError(t, err)
	_, err = e.Genesis(testSpec("1000"))
	require.NoError(t, err)
	genesisRoot, err := e.Root(1)
	require.NoError(t, err)

	db.failing = true
	_, err = e.Execute(context.Background(), transfer(alicePub, bob, "25", "10"), config.DefaultExecution())
	require.ErrorContains(t, err, "disk full")

	version, err := e.Version()
	require.NoError(t, err)
	require.Equal(t, uint64(1), version)
	_, err = e.Root(2)
	require.ErrorIs(t, err, trie.ErrUnknownVersion)
	require.Equal(t, "1000", balance(t, e, alicePub).String())
	require.Equal(t, "50", balance(t, e, bobPub).String())

	db.failing = false
	r, err := e.Execute(context.Background(), transfer(alicePub, bob, "25", "10"), config.DefaultExecution())
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, r.Outcome, "error: %v", r.Err())
	require.Equal(t, uint64(2), r.Version)
	require.NotEqual(t, genesisRoot, r.Root)
	require.Equal(t, "75", balance(t, e, bobPub).String())
}

func TestEmitterReceivesCommittedEvents(t *testing.T) {
	var collected events.Collector
	e := newTestEngine(t, WithEmitter(&collected))

	r, err := e.Execute(context.Background(), transfer(alicePub, bob, "25", "10"), config.DefaultExecution())
	require.NoError(t, err)
	require.Equal(t, OutcomeSuccess, r.Outcome, "error: %v", r.Err())
	got := collected.Events()
	require.Len(t, got, len(r.Events))
	for i, ev := range got {
		require.Equal(t, r.Events[i].Type, ev.EventType())
	}

	_, err = e.Preview(context.Background(), config.DefaultExecution(), transfer(alicePub, bob, "1", "10"))
	require.NoError(t, err)
	r, err = e.Execute(context.Background(), signed(alicePub, processor.CallMethod(alice, "withdraw", xrdArg(), decArg("1"))), config.DefaultExecution())
	require.NoError(t, err)
	require.Equal(t, OutcomeRejection, r.Outcome)
	require.Len(t, collected.Events(), len(got))
}
