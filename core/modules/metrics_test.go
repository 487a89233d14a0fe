package modules

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"

	"ledgerkernel/core/kernel"
	kresource "ledgerkernel/core/resource"
	"ledgerkernel/core/types"
	"ledgerkernel/observability"
)

func TestMetricsCountsInvocationOutcomes(t *testing.T) {
	reg := prometheus.NewRegistry()
	km, err := observability.NewKernelMetrics(reg, "ledger")
	require.NoError(t, err)
	m := NewMetrics(km)
	insp := newFakeInspector()

	swap := &kernel.Actor{Blueprint: "Pool", Function: "swap"}
	take := &kernel.Actor{Blueprint: "Vault", Function: "take"}
	quote := &kernel.Actor{Blueprint: "Pool", Function: "quote"}
	node := types.NewNodeID(types.EntityInternalBucket, []byte("b"))
	for _, e := range []*kernel.Event{
		call(0, 0, swap, false),
		call(0, 1, take, false),
		{Kind: kernel.EventReadSubstate, Node: node, Size: 10},
		{Kind: kernel.EventWriteSubstate, Node: node, Size: 20},
		call(0, 1, take, true),
		call(0, 0, swap, true),
		call(0, 0, quote, false),
		{Kind: kernel.EventCreateNode, Node: node},
		{Kind: kernel.EventDropNode, Node: node},
		{Kind: kernel.EventGlobalize, Node: node},
	} {
		require.NoError(t, m.OnKernelEvent(insp, e))
	}
	m.Close()

	expected := `
# HELP ledger_kernel_invocations_total Blueprint invocations segmented by blueprint and outcome.
# TYPE ledger_kernel_invocations_total counter
ledger_kernel_invocations_total{blueprint="Pool",outcome="failure"} 1
ledger_kernel_invocations_total{blueprint="Pool",outcome="success"} 1
ledger_kernel_invocations_total{blueprint="Vault",outcome="success"} 1
# HELP ledger_kernel_nodes_total Nodes created, dropped and globalized.
# TYPE ledger_kernel_nodes_total counter
ledger_kernel_nodes_total{op="create"} 1
ledger_kernel_nodes_total{op="drop"} 1
ledger_kernel_nodes_total{op="globalize"} 1
# HELP ledger_kernel_substate_bytes_total Bytes moved through substate reads and writes.
# TYPE ledger_kernel_substate_bytes_total counter
ledger_kernel_substate_bytes_total{op="read"} 10
ledger_kernel_substate_bytes_total{op="write"} 20
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"ledger_kernel_invocations_total", "ledger_kernel_nodes_total", "ledger_kernel_substate_bytes_total"))

	count, err := testutil.GatherAndCount(reg, "ledger_kernel_call_depth")
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestMetricsSinkWithoutCollector(t *testing.T) {
	m := NewMetrics(nil)
	actor := &kernel.Actor{Blueprint: "Pool", Function: "swap"}
	require.NoError(t, m.OnKernelEvent(newFakeInspector(), call(0, 0, actor, false)))
	m.Close()
}

func TestKernelTraceLogsAtDebug(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	kt := NewKernelTrace(logger)
	vault := types.NewNodeID(types.EntityInternalFungibleVault, []byte("v"))

	require.NoError(t, kt.OnKernelEvent(newFakeInspector(), &kernel.Event{
		Kind:   kernel.EventLockFee,
		Node:   vault,
		Amount: kresource.NewDecimal(5),
	}))
	out := buf.String()
	require.Contains(t, out, `"event":"lock_fee"`)
	require.Contains(t, out, `"component":"kernel"`)
	require.Contains(t, out, `"amount":"5"`)

	buf.Reset()
	quiet := NewKernelTrace(slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})))
	require.NoError(t, quiet.OnKernelEvent(newFakeInspector(), &kernel.Event{Kind: kernel.EventLog, Log: &types.LogEntry{Level: "info", Message: "hi"}}))
	require.Empty(t, buf.String())
}
