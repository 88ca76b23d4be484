package observability

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusRecorder is a MetricsRecorder backed by a Prometheus registry.
type PrometheusRecorder struct {
	registry     *prometheus.Registry
	nodeVisits   *prometheus.CounterVec
	nodeErrors   *prometheus.CounterVec
	nodeDuration *prometheus.HistogramVec
	runs         *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	truncations  prometheus.Counter
	interrupts   *prometheus.CounterVec
	checkpoints  *prometheus.CounterVec
}

var _ MetricsRecorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder creates a recorder with its own registry.
func NewPrometheusRecorder() *PrometheusRecorder {
	p := &PrometheusRecorder{
		registry: prometheus.NewRegistry(),
		nodeVisits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stategraph_node_executions_total",
			Help: "Number of node executions.",
		}, []string{"node_id"}),
		nodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stategraph_node_errors_total",
			Help: "Number of failed node executions.",
		}, []string{"node_id"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stategraph_node_duration_seconds",
			Help:    "Node execution latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"node_id"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stategraph_runs_total",
			Help: "Number of graph runs.",
		}, []string{"success"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stategraph_run_duration_seconds",
			Help:    "Graph run latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"success"}),
		truncations: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stategraph_truncations_total",
			Help: "Number of runs stopped at the iteration limit.",
		}),
		interrupts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stategraph_interrupts_total",
			Help: "Number of interrupt points fired.",
		}, []string{"node_id", "point"}),
		checkpoints: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stategraph_checkpoints_total",
			Help: "Number of checkpoint saves.",
		}, []string{"success"}),
	}

	p.registry.MustRegister(
		p.nodeVisits, p.nodeErrors, p.nodeDuration,
		p.runs, p.runDuration, p.truncations,
		p.interrupts, p.checkpoints,
	)
	return p
}

// Registry exposes the underlying registry for extra collectors.
func (p *PrometheusRecorder) Registry() *prometheus.Registry {
	return p.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (p *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// RecordNodeExecution implements MetricsRecorder.
func (p *PrometheusRecorder) RecordNodeExecution(_ context.Context, node string, duration time.Duration, err error) {
	p.nodeVisits.WithLabelValues(node).Inc()
	p.nodeDuration.WithLabelValues(node).Observe(duration.Seconds())
	if err != nil {
		p.nodeErrors.WithLabelValues(node).Inc()
	}
}

// RecordGraphRun implements MetricsRecorder.
func (p *PrometheusRecorder) RecordGraphRun(_ context.Context, success bool, duration time.Duration, _ int) {
	label := strconv.FormatBool(success)
	p.runs.WithLabelValues(label).Inc()
	p.runDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordTruncation implements MetricsRecorder.
func (p *PrometheusRecorder) RecordTruncation(_ context.Context, _ string) {
	p.truncations.Inc()
}

// RecordInterrupt implements MetricsRecorder.
func (p *PrometheusRecorder) RecordInterrupt(_ context.Context, node, point string) {
	p.interrupts.WithLabelValues(node, point).Inc()
}

// RecordCheckpoint implements MetricsRecorder.
func (p *PrometheusRecorder) RecordCheckpoint(_ context.Context, _ string, err error) {
	p.checkpoints.WithLabelValues(strconv.FormatBool(err == nil)).Inc()
}
