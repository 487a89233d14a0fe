package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	goruntime "runtime"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"ledgerkernel/config"
	"ledgerkernel/core"
	"ledgerkernel/core/genesis"
	"ledgerkernel/core/processor"
	kresource "ledgerkernel/core/resource"
	"ledgerkernel/core/system"
	"ledgerkernel/core/types"
	"ledgerkernel/core/vm"
	"ledgerkernel/native/account"
	"ledgerkernel/storage"
)

type benchOptions struct {
	txs      int
	accounts int
	workers  int
}

func benchCommand(rt *runtime) *cli.Command {
	opts := benchOptions{}
	return &cli.Command{
		Name:  "bench",
		Usage: "Run synthetic transfers against a throwaway in-memory ledger",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "txs", Usage: "Number of transfers", Value: 1000, Destination: &opts.txs},
			&cli.IntFlag{Name: "accounts", Usage: "Number of funded accounts", Value: 16, Destination: &opts.accounts},
			&cli.IntFlag{Name: "workers", Usage: "Goroutines preparing manifests", Value: goruntime.NumCPU(), Destination: &opts.workers},
		},
		Action: func(c *cli.Context) error {
			engine, err := core.NewEngine(storage.NewMemDB(), rt.engineOptions()...)
			if err != nil {
				return err
			}
			return runBench(c.Context, engine, rt.cfg.Execution, opts, c.App.Writer)
		},
	}
}

type benchResult struct {
	run      uuid.UUID
	outcomes map[core.Outcome]int
	units    uint64
	elapsed  time.Duration
}

func runBench(ctx context.Context, engine *core.Engine, cfg config.Execution, opts benchOptions, w io.Writer) error {
	if opts.txs <= 0 || opts.accounts < 2 {
		return fmt.Errorf("bench needs at least one transfer and two accounts")
	}
	res := benchResult{run: uuid.New(), outcomes: make(map[core.Outcome]int)}

	keys := make([][]byte, opts.accounts)
	spec := &genesis.GenesisSpec{
		GenesisTime: time.Now().UTC().Format(time.RFC3339),
		FeeToken:    genesis.NativeTokenSpec{Symbol: "XRD", Name: "Bench"},
		Alloc:       make(map[string]string, opts.accounts),
	}
	for i := range keys {
		id := uuid.New()
		keys[i] = id[:]
		spec.Alloc[hex.EncodeToString(keys[i])] = "1000000"
	}
	if err := spec.Validate(); err != nil {
		return err
	}
	if _, err := engine.Genesis(spec); err != nil {
		return err
	}

	txs := make([]*processor.Transaction, opts.txs)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(opts.workers, 1))
	for i := range txs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			from, to := keys[i%len(keys)], keys[(i+1)%len(keys)]
			tx := benchTransfer(from, account.Address(to), uint64(i))
			if _, err := tx.Hash(); err != nil {
				return err
			}
			txs[i] = tx
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	start := time.Now()
	for _, tx := range txs {
		r, err := engine.Execute(ctx, tx, cfg)
		if err != nil {
			return err
		}
		res.outcomes[r.Outcome]++
		if r.Fee != nil {
			res.units += r.Fee.CostUnits
		}
	}
	res.elapsed = time.Since(start)
	return res.write(w, opts.txs)
}

func benchTransfer(from []byte, to types.NodeID, nonce uint64) *processor.Transaction {
	sender := account.Address(from)
	one := processor.Value(vm.Dec(kresource.NewDecimal(1)))
	return &processor.Transaction{
		Nonce: nonce,
		Intents: []processor.Intent{{
			Signers: [][]byte{from},
			Instructions: []processor.Instruction{
				processor.CallMethod(sender, "lock_fee", one),
				processor.CallMethod(sender, "withdraw", processor.Value(vm.Address(system.FeeResource)), one),
				processor.CallMethod(to, "deposit_batch", processor.EntireWorktop()),
			},
		}},
	}
}

func (r benchResult) write(w io.Writer, txs int) error {
	perSec := float64(txs) / r.elapsed.Seconds()
	_, err := fmt.Fprintf(w, "run %s\n  transactions  %s (success %d, failure %d, rejection %d)\n  cost units    %s\n  elapsed       %s\n  throughput    %s tx/s\n",
		r.run,
		humanize.Comma(int64(txs)),
		r.outcomes[core.OutcomeSuccess], r.outcomes[core.OutcomeFailure], r.outcomes[core.OutcomeRejection],
		humanize.Comma(int64(r.units)),
		r.elapsed.Round(time.Millisecond),
		humanize.CommafWithDigits(perSec, 1),
	)
	return err
}
