package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"gopkg.in/yaml.v3"

	"ledgerkernel/core"
	"ledgerkernel/core/genesis"
	"ledgerkernel/core/processor"
	"ledgerkernel/observability/logging"
)

var outputFlag = &cli.StringFlag{
	Name:  "output",
	Usage: "Receipt format: json or yaml",
	Value: "json",
}

func genesisCommand(rt *runtime) *cli.Command {
	var path string
	return &cli.Command{
		Name:  "genesis",
		Usage: "Write the initial state described by a genesis file",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "genesis",
				Usage:       "Genesis JSON file (defaults to GenesisFile from the config)",
				Destination: &path,
			},
			outputFlag,
		},
		Action: func(c *cli.Context) error {
			if strings.TrimSpace(path) == "" {
				path = rt.cfg.GenesisFile
			}
			spec, err := genesis.LoadGenesisSpec(path)
			if err != nil {
				return err
			}
			r, err := rt.engine.Genesis(spec)
			if err != nil {
				return err
			}
			return writeReceipts(c.App.Writer, c.String("output"), r)
		},
	}
}

func executeCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "execute",
		Usage:     "Execute manifests in order and commit their receipts",
		ArgsUsage: "MANIFEST...",
		Flags:     []cli.Flag{outputFlag},
		Action: func(c *cli.Context) error {
			txs, err := rt.loadManifests(c.Args().Slice())
			if err != nil {
				return err
			}
			receipts := make([]*core.Receipt, 0, len(txs))
			for _, tx := range txs {
				r, err := rt.engine.Execute(c.Context, tx, rt.cfg.Execution)
				if err != nil {
					return err
				}
				rt.count(c.Context, r, false)
				receipts = append(receipts, r)
			}
			return writeReceipts(c.App.Writer, c.String("output"), receipts...)
		},
	}
}

func previewCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:      "preview",
		Usage:     "Execute manifests against the latest state without committing",
		ArgsUsage: "MANIFEST...",
		Flags:     []cli.Flag{outputFlag},
		Action: func(c *cli.Context) error {
			txs, err := rt.loadManifests(c.Args().Slice())
			if err != nil {
				return err
			}
			receipts, err := rt.engine.Preview(c.Context, rt.cfg.Execution, txs...)
			if err != nil {
				return err
			}
			for _, r := range receipts {
				rt.count(c.Context, r, true)
			}
			return writeReceipts(c.App.Writer, c.String("output"), receipts...)
		},
	}
}

func rootCommand(rt *runtime) *cli.Command {
	var version uint64
	return &cli.Command{
		Name:  "root",
		Usage: "Print the state root of a version",
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:        "version",
				Usage:       "State version (defaults to the latest)",
				Destination: &version,
			},
		},
		Action: func(c *cli.Context) error {
			if version == 0 {
				latest, err := rt.engine.Version()
				if err != nil {
					return err
				}
				version = latest
			}
			root, err := rt.engine.Root(version)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(c.App.Writer, "%d %s\n", version, root.Hex())
			return err
		},
	}
}

func pruneCommand(rt *runtime) *cli.Command {
	return &cli.Command{
		Name:  "prune",
		Usage: "Drop state tree history older than the retention window",
		Flags: []cli.Flag{
			&cli.Uint64Flag{
				Name:  "retain",
				Usage: "Number of recent versions kept (defaults to Tree.PruneRetention)",
			},
		},
		Action: func(c *cli.Context) error {
			retain := rt.cfg.Tree.PruneRetention
			if c.IsSet("retain") {
				retain = c.Uint64("retain")
			}
			removed, err := rt.engine.Prune(retain)
			if err != nil {
				return err
			}
			rt.logger.Info("pruned state tree", "retain", retain, "nodes", removed)
			_, err = fmt.Fprintf(c.App.Writer, "removed %d nodes\n", removed)
			return err
		},
	}
}

func (rt *runtime) loadManifests(paths []string) ([]*processor.Transaction, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("at least one manifest is required")
	}
	txs := make([]*processor.Transaction, 0, len(paths))
	for _, path := range paths {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		tx, err := processor.DecodeYAML(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		attrs := []any{"manifest", path, "intents", len(tx.Intents)}
		for _, intent := range tx.Intents {
			for _, signer := range intent.Signers {
				attrs = append(attrs, logging.KeyFingerprint("signer", signer))
			}
		}
		rt.logger.Debug("manifest loaded", attrs...)
		txs = append(txs, tx)
	}
	return txs, nil
}

func (rt *runtime) count(ctx context.Context, r *core.Receipt, preview bool) {
	rt.executed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", r.Outcome.String()),
		attribute.Bool("preview", preview),
	))
}

func writeReceipts(w io.Writer, format string, receipts ...*core.Receipt) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		for _, r := range receipts {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	case "yaml":
		enc := yaml.NewEncoder(w)
		defer enc.Close()
		for _, r := range receipts {
			if err := enc.Encode(r); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("unknown output format %q", format)
}
