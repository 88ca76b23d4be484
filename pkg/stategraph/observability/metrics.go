package observability

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records graph run metrics.
// Use NewMetricsRecorder() for OTel metrics, NewPrometheusRecorder() for a
// Prometheus registry, or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordNodeExecution records a node execution with its duration and error status.
	RecordNodeExecution(ctx context.Context, node string, duration time.Duration, err error)

	// RecordGraphRun records a graph run completion.
	RecordGraphRun(ctx context.Context, success bool, duration time.Duration, steps int)

	// RecordTruncation records a run that hit its iteration limit.
	RecordTruncation(ctx context.Context, nextNode string)

	// RecordInterrupt records an interrupt point firing.
	RecordInterrupt(ctx context.Context, node, point string)

	// RecordCheckpoint records a checkpoint save attempt.
	RecordCheckpoint(ctx context.Context, node string, err error)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	nodeExecutions metric.Int64Counter
	nodeLatency    metric.Float64Histogram
	nodeErrors     metric.Int64Counter
	graphRuns      metric.Int64Counter
	graphLatency   metric.Float64Histogram
	graphSteps     metric.Int64Histogram
	truncations    metric.Int64Counter
	interrupts     metric.Int64Counter
	checkpoints    metric.Int64Counter
}

// newOtelMetrics creates instruments on the given meter provider.
func newOtelMetrics(provider metric.MeterProvider) (*otelMetrics, error) {
	meter := provider.Meter("stategraph")
	m := &otelMetrics{}
	var err error

	if m.nodeExecutions, err = meter.Int64Counter("stategraph.node.executions",
		metric.WithDescription("Number of node executions"),
	); err != nil {
		return nil, err
	}

	if m.nodeLatency, err = meter.Float64Histogram("stategraph.node.latency_ms",
		metric.WithDescription("Node execution latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.nodeErrors, err = meter.Int64Counter("stategraph.node.errors",
		metric.WithDescription("Number of node execution errors"),
	); err != nil {
		return nil, err
	}

	if m.graphRuns, err = meter.Int64Counter("stategraph.graph.runs",
		metric.WithDescription("Number of graph runs"),
	); err != nil {
		return nil, err
	}

	if m.graphLatency, err = meter.Float64Histogram("stategraph.graph.latency_ms",
		metric.WithDescription("Graph run latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}

	if m.graphSteps, err = meter.Int64Histogram("stategraph.graph.steps",
		metric.WithDescription("Node executions per graph run"),
	); err != nil {
		return nil, err
	}

	if m.truncations, err = meter.Int64Counter("stategraph.graph.truncations",
		metric.WithDescription("Number of runs stopped at the iteration limit"),
	); err != nil {
		return nil, err
	}

	if m.interrupts, err = meter.Int64Counter("stategraph.interrupts",
		metric.WithDescription("Number of interrupt points fired"),
	); err != nil {
		return nil, err
	}

	if m.checkpoints, err = meter.Int64Counter("stategraph.checkpoint.saves",
		metric.WithDescription("Number of checkpoint saves"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder on the global OTel meter
// provider. If metrics initialization fails, returns a no-op recorder.
//
// Configure the provider before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	return NewMetricsRecorderWithProvider(otel.GetMeterProvider())
}

// NewMetricsRecorderWithProvider returns a MetricsRecorder using the given
// meter provider.
func NewMetricsRecorderWithProvider(provider metric.MeterProvider) MetricsRecorder {
	m, err := newOtelMetrics(provider)
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordNodeExecution records a node execution.
func (m *otelMetrics) RecordNodeExecution(ctx context.Context, node string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("node_id", node))

	m.nodeExecutions.Add(ctx, 1, attrs)
	m.nodeLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)

	if err != nil {
		m.nodeErrors.Add(ctx, 1, attrs)
	}
}

// RecordGraphRun records a graph run.
func (m *otelMetrics) RecordGraphRun(ctx context.Context, success bool, duration time.Duration, steps int) {
	attrs := metric.WithAttributes(attribute.Bool("success", success))
	m.graphRuns.Add(ctx, 1, attrs)
	m.graphLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	m.graphSteps.Record(ctx, int64(steps), attrs)
}

// RecordTruncation records a truncated run.
func (m *otelMetrics) RecordTruncation(ctx context.Context, nextNode string) {
	m.truncations.Add(ctx, 1, metric.WithAttributes(attribute.String("next_node", nextNode)))
}

// RecordInterrupt records an interrupt point.
func (m *otelMetrics) RecordInterrupt(ctx context.Context, node, point string) {
	m.interrupts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("node_id", node),
		attribute.String("point", point),
	))
}

// RecordCheckpoint records a checkpoint save.
func (m *otelMetrics) RecordCheckpoint(ctx context.Context, node string, err error) {
	m.checkpoints.Add(ctx, 1, metric.WithAttributes(
		attribute.String("node_id", node),
		attribute.Bool("success", err == nil),
	))
}
