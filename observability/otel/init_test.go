package otel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders(" api-key = secret ,broken, =x,tenant=ledger,")
	require.Equal(t, map[string]string{"api-key": "secret", "tenant": "ledger"}, got)
}

func TestInitWithoutExporters(t *testing.T) {
	_, err := Init(context.Background(), Config{})
	require.Error(t, err)

	tel, err := Init(context.Background(), Config{ServiceName: "ledgerd"})
	require.NoError(t, err)
	require.NotNil(t, tel.Tracer)
	require.NotNil(t, tel.Meter)
	require.NoError(t, tel.Shutdown(context.Background()))
}

func TestSamplerRatio(t *testing.T) {
	require.Contains(t, Sampler(0).Description(), "root:AlwaysOnSampler")
	require.Contains(t, Sampler(1.5).Description(), "root:AlwaysOnSampler")
	require.Contains(t, Sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
}

func TestInitTracesWithSchemaVersion(t *testing.T) {
	tel, err := Init(context.Background(), Config{
		ServiceName:   "ledgerd",
		SchemaVersion: 1,
		Endpoint:      "127.0.0.1:1",
		Insecure:      true,
		SampleRatio:   0.5,
		Traces:        true,
	})
	require.NoError(t, err)
	_, span := tel.Tracer.Start(context.Background(), "sampled")
	require.True(t, span.SpanContext().IsValid())
	span.End()
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = tel.Shutdown(ctx)
}
