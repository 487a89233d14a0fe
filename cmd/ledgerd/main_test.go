package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"ledgerkernel/config"
	"ledgerkernel/core"
	"ledgerkernel/core/events"
	"ledgerkernel/core/types"
	"ledgerkernel/native/account"
	"ledgerkernel/storage"
)

var operatorPub = bytes.Repeat([]byte{0x0a}, 32)

func quietLogger() *slog.Logger { return slog.New(slog.NewJSONHandler(io.Discard, nil)) }

func TestOpenDatabaseBackends(t *testing.T) {
	for _, backend := range []config.Backend{config.BackendMemory, config.BackendLevelDB, config.BackendPebble, config.BackendBolt} {
		t.Run(string(backend), func(t *testing.T) {
			db, err := openDatabase(backend, t.TempDir())
			require.NoError(t, err)
			require.NoError(t, db.Put([]byte("k"), []byte("v")))
			got, err := db.Get([]byte("k"))
			require.NoError(t, err)
			require.Equal(t, []byte("v"), got)
			require.NoError(t, db.Close())
		})
	}

	_, err := openDatabase("rocks", t.TempDir())
	require.Error(t, err)
}

func writeFixture(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	app := newApp()
	app.Writer = &out
	require.NoError(t, app.Run(append([]string{"ledgerd"}, args...)))
	return out.String()
}

func TestCommandsAgainstPersistentLedger(t *testing.T) {
	dir := t.TempDir()
	genesisPath := writeFixture(t, dir, "genesis.json", fmt.Sprintf(
		`{"genesisTime":"2024-01-01T00:00:00Z","feeToken":{"symbol":"XRD","name":"Radix"},"alloc":{"%s":"1000"}}`,
		hex.EncodeToString(operatorPub)))
	configPath := writeFixture(t, dir, "ledger.toml", fmt.Sprintf(`DataDir = "%s"
Backend = "leveldb"
GenesisFile = "%s"

[Log]
Level = "error"
`, filepath.Join(dir, "data"), genesisPath))

	operator := account.Address(operatorPub)
	manifest := writeFixture(t, dir, "lock.yaml", fmt.Sprintf(`
nonce: 1
intents:
  - signers: ["0x%s"]
    instructions:
      - op: CallMethod
        address: "%s"
        function: lock_fee
        args:
          - decimal: "5"
`, hex.EncodeToString(operatorPub), operator))

	out := run(t, "--config", configPath, "genesis")
	require.Contains(t, out, `"outcome": "success"`)

	out = run(t, "--config", configPath, "preview", "--output", "yaml", manifest)
	require.Contains(t, out, "outcome: success")
	require.True(t, strings.HasPrefix(run(t, "--config", configPath, "root"), "1 0x"))

	out = run(t, "--config", configPath, "execute", manifest)
	require.Contains(t, out, `"outcome": "success"`)
	require.True(t, strings.HasPrefix(run(t, "--config", configPath, "root"), "2 0x"))
	require.True(t, strings.HasPrefix(run(t, "--config", configPath, "root", "--version", "1"), "1 0x"))

	require.Contains(t, run(t, "--config", configPath, "prune", "--retain", "1"), "removed")

	app := newApp()
	app.Writer = &bytes.Buffer{}
	err := app.Run([]string{"ledgerd", "--config", configPath, "genesis"})
	require.ErrorIs(t, err, core.ErrAlreadyInitialised)
}

func TestLoadManifestsRequiresPaths(t *testing.T) {
	rt := &runtime{logger: quietLogger()}
	_, err := rt.loadManifests(nil)
	require.Error(t, err)

	bad := writeFixture(t, t.TempDir(), "bad.yaml", "intents:\n  - instructions:\n      - op: Teleport\n")
	_, err = rt.loadManifests([]string{bad})
	require.ErrorContains(t, err, "bad.yaml")
}

func TestWriteReceiptsRejectsUnknownFormat(t *testing.T) {
	require.Error(t, writeReceipts(&bytes.Buffer{}, "xml", &core.Receipt{}))
}

func TestRunBench(t *testing.T) {
	engine, err := core.NewEngine(storage.NewMemDB(), core.WithLogger(quietLogger()))
	require.NoError(t, err)

	var out bytes.Buffer
	opts := benchOptions{txs: 20, accounts: 4, workers: 2}
	require.NoError(t, runBench(context.Background(), engine, config.DefaultExecution(), opts, &out))
	require.Contains(t, out.String(), "run ")
	require.Contains(t, out.String(), "(success 20, failure 0, rejection 0)")

	version, err := engine.Version()
	require.NoError(t, err)
	require.Equal(t, uint64(21), version)

	require.Error(t, runBench(context.Background(), engine, config.DefaultExecution(), benchOptions{txs: 1, accounts: 1}, &out))
}

func TestLogEmitterWritesDebugLines(t *testing.T) {
	var buf bytes.Buffer
	emitter := logEmitter{logger: slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}
	emitter.Emit(events.Record{Event: &types.Event{Type: "fees.settled", Emitter: account.Address(operatorPub)}})
	require.Contains(t, buf.String(), `"type":"fees.settled"`)
	require.Contains(t, buf.String(), `"emitter":"`)
}
