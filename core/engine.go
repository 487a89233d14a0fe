// Package core ties the kernel, the transaction processor and the storage
// layers together: it executes transactions, settles their fees, commits
// their write-sets into the substate store and the state tree, and reports
// everything in a Receipt.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"ledgerkernel/config"
	kerrors "ledgerkernel/core/errors"
	"ledgerkernel/core/events"
	"ledgerkernel/core/genesis"
	"ledgerkernel/core/kernel"
	"ledgerkernel/core/modules"
	"ledgerkernel/core/processor"
	"ledgerkernel/core/system"
	"ledgerkernel/core/types"
	"ledgerkernel/core/vm"
	"ledgerkernel/observability"
	"ledgerkernel/storage"
	"ledgerkernel/storage/substate"
	"ledgerkernel/storage/trie"
)

// ErrAlreadyInitialised is returned by Genesis on a non-empty ledger.
var ErrAlreadyInitialised = errors.New("core: ledger already initialised")

// Engine executes transactions one at a time against a single database.
type Engine struct {
	mu sync.Mutex

	db       storage.Database
	store    *substate.Store
	tree     *trie.StateTree
	registry *system.Registry
	executor vm.Executor
	logger   *slog.Logger
	metrics  *observability.KernelMetrics
	tracer   trace.Tracer
	emitter  events.Emitter

	allowMigrate bool
}

// EngineOption customises the engine instance.
type EngineOption func(*Engine)

// WithRegistry replaces the native package registry.
func WithRegistry(r *system.Registry) EngineOption {
	return func(e *Engine) { e.registry = r }
}

// WithExecutor supplies the executor for published code.
func WithExecutor(x vm.Executor) EngineOption {
	return func(e *Engine) { e.executor = x }
}

func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records kernel and engine metrics into m.
func WithMetrics(m *observability.KernelMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer opens a span per transaction and per invocation.
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) { e.tracer = t }
}

// WithEmitter re-broadcasts the events of every committed receipt.
func WithEmitter(em events.Emitter) EngineOption {
	return func(e *Engine) { e.emitter = em }
}

// WithSchemaMigration tolerates a stored schema version that differs from
// the binary's.
func WithSchemaMigration(allow bool) EngineOption {
	return func(e *Engine) { e.allowMigrate = allow }
}

// NewEngine opens the ledger stored in db, stamping the schema version of an
// empty database.
func NewEngine(db storage.Database, opts ...EngineOption) (*Engine, error) {
	e := &Engine{
		db:     db,
		store:  substate.NewStore(db),
		tree:   trie.NewStateTree(db),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.registry == nil {
		registry, err := genesis.NewRegistry()
		if err != nil {
			return nil, err
		}
		e.registry = registry
	}
	if e.tracer == nil {
		e.tracer = noop.NewTracerProvider().Tracer("ledgerkernel")
	}
	if e.emitter == nil {
		e.emitter = events.NoopEmitter{}
	}
	if err := substate.EnsureSchemaVersion(db, e.allowMigrate); err != nil {
		return nil, err
	}
	return e, nil
}

// Store exposes the committed substates for queries.
func (e *Engine) Store() substate.Reader { return e.store }

func (e *Engine) Registry() *system.Registry { return e.registry }

// Version is the latest committed state version; zero before genesis.
func (e *Engine) Version() (uint64, error) { return e.tree.Version() }

func (e *Engine) Root(version uint64) (common.Hash, error) { return e.tree.Root(version) }

// Prove returns the root of version and a proof of the substate under it.
func (e *Engine) Prove(version uint64, node types.NodeID, partition types.PartitionNumber, key types.SubstateKey) (common.Hash, *trie.SubstateProof, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tree.Prove(version, node, partition, key)
}

// Prune drops tree history so that only the latest retain versions stay
// provable.
func (e *Engine) Prune(retain uint64) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	current, err := e.tree.Version()
	if err != nil {
		return 0, err
	}
	if retain == 0 || current <= retain {
		return 0, nil
	}
	return e.tree.Prune(current - retain + 1)
}

// Genesis writes the initial state as version 1.
func (e *Engine) Genesis(spec *genesis.GenesisSpec) (*Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	current, err := e.tree.Version()
	if err != nil {
		return nil, err
	}
	if current != 0 {
		return nil, fmt.Errorf("%w at version %d", ErrAlreadyInitialised, current)
	}
	track := substate.NewOverlay(e.store)
	accounts, err := genesis.Build(track, e.registry, spec)
	if err != nil {
		return nil, err
	}
	r := &Receipt{Outcome: OutcomeSuccess, NewGlobals: accounts, Updates: track.Updates()}
	if err := e.commit(r); err != nil {
		return nil, err
	}
	e.logger.Info("genesis committed", "accounts", len(accounts), "version", r.Version, "root", r.Root.Hex())
	return r, nil
}

// Execute runs tx and commits its outcome. The returned error reports
// infrastructure failures only; transaction failures are in the receipt.
func (e *Engine) Execute(ctx context.Context, tx *processor.Transaction, cfg config.Execution) (*Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, err := e.execute(ctx, e.store, tx, cfg)
	if err != nil {
		return nil, err
	}
	if r.Outcome.Committed() {
		if err := e.commit(r); err != nil {
			return nil, err
		}
		for i := range r.Events {
			e.emitter.Emit(events.Record{Event: &r.Events[i]})
		}
	}
	e.observe(r, false)
	return r, nil
}

// Preview runs txs in order without committing anything. Each transaction
// sees the writes of the ones before it through a chain of staging stages.
func (e *Engine) Preview(ctx context.Context, cfg config.Execution, txs ...*processor.Transaction) ([]*Receipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	staging := substate.NewStagingTree(e.store)
	parent := substate.RootStage
	receipts := make([]*Receipt, 0, len(txs))
	for _, tx := range txs {
		stage, err := staging.NewStage(parent)
		if err != nil {
			return nil, err
		}
		reader, err := staging.Reader(stage)
		if err != nil {
			return nil, err
		}
		r, err := e.execute(ctx, reader, tx, cfg)
		if err != nil {
			return nil, err
		}
		if r.Outcome.Committed() {
			if err := staging.Record(stage, r.Updates); err != nil {
				return nil, err
			}
		}
		e.observe(r, true)
		receipts = append(receipts, r)
		parent = stage
	}
	return receipts, nil
}

func (e *Engine) execute(ctx context.Context, base substate.Reader, tx *processor.Transaction, cfg config.Execution) (*Receipt, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	hash, err := tx.Hash()
	if err != nil {
		return nil, fmt.Errorf("hash transaction: %w", err)
	}
	r := &Receipt{TxHash: hash}
	if err := tx.Validate(); err != nil {
		return reject(r, err), nil
	}
	costing, err := modules.NewCosting(cfg.Costing())
	if err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "transaction", trace.WithAttributes(attribute.String("ledger.tx", hash.Hex())))
	defer span.End()

	sys := system.New(e.registry, e.executor)
	tracing := modules.NewTrace(ctx, e.tracer, costing)
	sinks := []kernel.EventSink{
		costing,
		modules.NewRoyalty(sys, costing),
		modules.NewAuth(sys),
		modules.NewNodeMove(),
		tracing,
	}
	var metrics *modules.Metrics
	if e.metrics != nil {
		metrics = modules.NewMetrics(e.metrics)
		sinks = append(sinks, metrics)
	}
	if cfg.KernelTrace {
		sinks = append(sinks, modules.NewKernelTrace(e.logger))
	}

	track := substate.NewOverlay(base)
	k := kernel.New(cfg.Kernel(), track, sys, hash, sinks...)
	outputs, err := e.run(k, sys, tx)
	if err == nil {
		err = costing.RepayLoan()
	}
	r.Trace = tracing.Close(err)
	if metrics != nil {
		metrics.Close()
	}

	if err == nil {
		fee, serr := costing.Settle(track, true)
		if serr == nil {
			r.Outcome = OutcomeSuccess
			r.Fee = fee
			r.Events = append(slices.Clone(k.Events()), *fee.Event())
			r.Logs = k.Logs()
			r.NewGlobals = k.NewGlobals()
			r.Outputs = outputs
			r.Updates = track.Updates()
			return r, nil
		}
		err = serr
	}

	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	if !costing.LoanRepaid() {
		return reject(r, err), nil
	}
	// Only fee payments survive a failure; they are replayed on a clean
	// view of the pre-transaction state.
	fresh := substate.NewOverlay(base)
	fee, serr := costing.Settle(fresh, false)
	if serr != nil {
		return reject(r, serr), nil
	}
	r.Outcome = OutcomeFailure
	r.setError(err)
	r.Fee = fee
	r.Events = []types.Event{*fee.Event()}
	r.Logs = k.Logs()
	r.Updates = fresh.Updates()
	return r, nil
}

func (e *Engine) run(k *kernel.Kernel, sys *system.System, tx *processor.Transaction) (outputs []processor.Output, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = kerrors.Interpreter(kerrors.ErrPanic, "%v", p)
		}
	}()
	p, err := processor.New(k, sys, tx, e.logger)
	if err != nil {
		return nil, err
	}
	return p.Run()
}

func reject(r *Receipt, err error) *Receipt {
	r.Outcome = OutcomeRejection
	r.setError(err)
	r.Fee = nil
	r.Updates = nil
	return r
}

// commit writes the receipt's updates and the tree of the next version in
// a single batch.
func (e *Engine) commit(r *Receipt) error {
	start := time.Now()
	current, err := e.tree.Version()
	if err != nil {
		return err
	}
	updates := r.Updates
	if updates == nil {
		updates = substate.NewDatabaseUpdates()
	}
	batch := e.db.NewBatch()
	res, err := e.tree.StageUpdates(current+1, updates, batch)
	if err != nil {
		return fmt.Errorf("apply version %d: %w", current+1, err)
	}
	if err := e.store.Stage(updates, batch); err != nil {
		return fmt.Errorf("stage substates: %w", err)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("commit version %d: %w", current+1, err)
	}
	r.Version, r.Root = res.Version, res.Root
	e.metrics.ObserveCommit(time.Since(start))
	return nil
}

func (e *Engine) observe(r *Receipt, preview bool) {
	var units uint64
	if r.Fee != nil {
		units = r.Fee.CostUnits
	}
	attrs := []any{"tx", r.TxHash.Hex(), "outcome", r.Outcome.String(), "cost_units", units}
	if preview {
		attrs = append(attrs, "preview", true)
	} else {
		e.metrics.ObserveTransaction(r.Outcome.String(), units)
		for _, ev := range r.Events {
			e.metrics.RecordEvent(ev.Type)
		}
		if r.Outcome.Committed() {
			attrs = append(attrs, "version", r.Version, "root", r.Root.Hex())
		}
	}
	if r.Error != nil {
		attrs = append(attrs, "error", r.Error.Message)
	}
	e.logger.Info("transaction executed", attrs...)
}
