package stategraph

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/codes"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/randalmurphal/stategraph/pkg/stategraph/observability"
	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

func TestObservability_Spans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	compiled, err := linearGraph().Compile()
	require.NoError(t, err)

	_, err = compiled.Invoke(context.Background(), state.Map{"value": state.Int(0)},
		WithSpanManager(observability.NewSpanManagerWithProvider(tp)))
	require.NoError(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 3)
	assert.Equal(t, "stategraph.node.a", spans[0].Name)
	assert.Equal(t, "stategraph.node.b", spans[1].Name)
	assert.Equal(t, "stategraph.run", spans[2].Name)
	assert.Equal(t, spans[2].SpanContext.SpanID(), spans[0].Parent.SpanID())
}

func TestObservability_SpanErrorStatus(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	compiled, err := NewGraph().
		AddNode("bad", failing(errors.New("nope"))).
		AddEdge("bad", END).
		SetEntryPoint("bad").
		Compile()
	require.NoError(t, err)

	_, err = compiled.Invoke(context.Background(), state.Map{},
		WithSpanManager(observability.NewSpanManagerWithProvider(tp)))
	require.Error(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)
	assert.Equal(t, codes.Error, spans[0].Status.Code)
	assert.Equal(t, codes.Error, spans[1].Status.Code)
}

func TestObservability_OtelMetrics(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	compiled, err := loopGraph().Compile(WithMaxIterations(3))
	require.NoError(t, err)

	_, err = compiled.Invoke(context.Background(), state.Map{"i": state.Int(0)},
		WithMetrics(observability.NewMetricsRecorderWithProvider(provider)))
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(3), sums["stategraph.node.executions"])
	assert.Equal(t, int64(1), sums["stategraph.graph.runs"])
	assert.Equal(t, int64(1), sums["stategraph.graph.truncations"])
}

func TestObservability_PrometheusRecorder(t *testing.T) {
	rec := observability.NewPrometheusRecorder()
	compiled, err := linearGraph().
		SetInterrupt([]string{"b"}, nil).
		Compile()
	require.NoError(t, err)

	_, err = compiled.Invoke(context.Background(), state.Map{"value": state.Int(0)},
		WithMetrics(rec),
		WithInterruptHandler(func(Context, Interrupt) {}))
	require.NoError(t, err)

	count, err := testutil.GatherAndCount(rec.Registry(), "stategraph_node_executions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = testutil.GatherAndCount(rec.Registry(), "stategraph_interrupts_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}
