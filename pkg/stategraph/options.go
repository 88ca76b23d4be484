package stategraph

import (
	"fmt"
	"log/slog"

	"github.com/randalmurphal/stategraph/pkg/stategraph/config"
	"github.com/randalmurphal/stategraph/pkg/stategraph/observability"
	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

// runSettings holds configuration for one Invoke or Stream call.
type runSettings struct {
	runID      string
	threadID   string
	resumeFrom *ResumePoint
	values     map[string]any

	interruptHandler InterruptHandler
	stepCallback     func(Snapshot)

	logger         *slog.Logger
	metrics        observability.MetricsRecorder
	spans          observability.SpanManager
	tracingEnabled bool
}

// defaultRunSettings returns the execution configuration before options.
func (cg *CompiledGraph) defaultRunSettings() runSettings {
	return runSettings{
		logger:  cg.logger,
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
	}
}

// RunOption configures execution behavior.
type RunOption func(*runSettings)

// WithThreadID scopes checkpoints to a thread. With a checkpointer set on
// the graph, every step is saved under this id and a later run with the same
// id resumes after the latest checkpoint.
func WithThreadID(id string) RunOption {
	return func(c *runSettings) {
		c.threadID = id
	}
}

// WithResumeFrom starts the run at node with st, ignoring the entry point
// and any checkpoint. node may be END, which returns st unchanged.
func WithResumeFrom(node string, st state.Map) RunOption {
	return func(c *runSettings) {
		c.resumeFrom = &ResumePoint{Node: node, State: st}
	}
}

// WithConfigValues hands free-form values to handlers via RunConfig.Values.
func WithConfigValues(values map[string]any) RunOption {
	return func(c *runSettings) {
		c.values = values
	}
}

// WithInterruptHandler sets the observer called at interrupt points.
// Without one, interrupts are logged and the run continues.
func WithInterruptHandler(h InterruptHandler) RunOption {
	return func(c *runSettings) {
		c.interruptHandler = h
	}
}

// WithStepCallback is called synchronously with every snapshot, after the
// node's update is merged and before its checkpoint is saved.
func WithStepCallback(fn func(Snapshot)) RunOption {
	return func(c *runSettings) {
		c.stepCallback = fn
	}
}

// WithRunLogger overrides the compile-time logger for this run.
func WithRunLogger(logger *slog.Logger) RunOption {
	return func(c *runSettings) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records node and run metrics with the given recorder.
//
// Example:
//
//	result, err := compiled.Invoke(ctx, st,
//	    stategraph.WithMetrics(observability.NewMetricsRecorder()))
func WithMetrics(m observability.MetricsRecorder) RunOption {
	return func(c *runSettings) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithTracing enables OpenTelemetry spans using the global tracer provider.
func WithTracing(enabled bool) RunOption {
	return func(c *runSettings) {
		c.tracingEnabled = enabled
		if enabled {
			if _, noop := c.spans.(observability.NoopSpanManager); noop {
				c.spans = observability.NewSpanManager()
			}
		}
	}
}

// WithSpanManager enables tracing with a specific span manager.
func WithSpanManager(sm observability.SpanManager) RunOption {
	return func(c *runSettings) {
		if sm != nil {
			c.spans = sm
			c.tracingEnabled = true
		}
	}
}

// WithRunID sets the run identifier used in logs and spans.
// If not set, a UUID is generated.
func WithRunID(id string) RunOption {
	return func(c *runSettings) {
		c.runID = id
	}
}

// RunOptionsFromConfig converts a decoded run configuration map into run
// options.
//
// Example:
//
//	rc, err := config.DecodeRunConfig(map[string]any{
//	    "thread_id": "t1",
//	    "model":     "fast",
//	})
//	opts, err := stategraph.RunOptionsFromConfig(rc)
func RunOptionsFromConfig(rc config.RunConfig) ([]RunOption, error) {
	var opts []RunOption
	if rc.ThreadID != "" {
		opts = append(opts, WithThreadID(rc.ThreadID))
	}
	if rc.ResumeFrom != nil {
		st, err := state.FromMap(rc.ResumeFrom.State)
		if err != nil {
			return nil, fmt.Errorf("resume_from state: %w", err)
		}
		opts = append(opts, WithResumeFrom(rc.ResumeFrom.Node, st))
	}
	if len(rc.Values) > 0 {
		opts = append(opts, WithConfigValues(rc.Values))
	}
	return opts, nil
}
