// Command ledgerd runs ledger transactions against a local data directory.
package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	var rt runtime
	return &cli.App{
		Name:  "ledgerd",
		Usage: "Execute manifests against a versioned substate ledger",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Usage:       "Path to the configuration file",
				Value:       "./ledger.toml",
				EnvVars:     []string{"LEDGER_CONFIG"},
				Destination: &rt.configPath,
			},
			&cli.StringFlag{
				Name:        "env",
				Usage:       "Deployment environment attached to logs and telemetry",
				EnvVars:     []string{"LEDGER_ENV"},
				Destination: &rt.env,
			},
			&cli.BoolFlag{
				Name:        "allow-migrate",
				Usage:       "Open a data directory written with another schema version",
				Destination: &rt.allowMigrate,
			},
		},
		Before: func(c *cli.Context) error { return rt.open(c.Context) },
		After:  func(c *cli.Context) error { return rt.close(c.Context) },
		Commands: []*cli.Command{
			genesisCommand(&rt),
			executeCommand(&rt),
			previewCommand(&rt),
			rootCommand(&rt),
			pruneCommand(&rt),
			benchCommand(&rt),
		},
	}
}
