package stategraph

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Context provides execution context to handlers and conditions.
// It extends context.Context with run metadata and an enriched logger.
//
// The engine derives a fresh Context for every node; a Context is never
// mutated after creation.
type Context interface {
	context.Context

	// Logger returns the run logger enriched with run, thread and node
	// fields. Never returns nil.
	Logger() *slog.Logger

	// RunID returns the unique identifier for this execution run.
	RunID() string

	// ThreadID returns the checkpoint thread, or empty when the run has none.
	ThreadID() string

	// NodeID returns the node being executed or routed from.
	NodeID() string

	// Step returns the 1-based index of the current step: the first node
	// executed in a run is step 1. Interrupts, snapshots and conditions for
	// a node see the same index as its handler.
	Step() int
}

// executionContext is the internal implementation of Context.
type executionContext struct {
	context.Context

	logger   *slog.Logger
	runID    string
	threadID string
	nodeID   string
	step     int
}

func (c *executionContext) Logger() *slog.Logger { return c.logger }
func (c *executionContext) RunID() string        { return c.runID }
func (c *executionContext) ThreadID() string     { return c.threadID }
func (c *executionContext) NodeID() string       { return c.nodeID }
func (c *executionContext) Step() int            { return c.step }

// ContextOption configures a Context built with NewContext.
type ContextOption func(*executionContext)

// WithLogger sets the logger for the context.
func WithLogger(logger *slog.Logger) ContextOption {
	return func(c *executionContext) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithContextRunID sets the run identifier. If not set, a UUID is generated.
func WithContextRunID(id string) ContextOption {
	return func(c *executionContext) {
		c.runID = id
	}
}

// WithContextThreadID sets the thread identifier.
func WithContextThreadID(id string) ContextOption {
	return func(c *executionContext) {
		c.threadID = id
	}
}

// WithContextNodeID sets the node identifier.
func WithContextNodeID(id string) ContextOption {
	return func(c *executionContext) {
		c.nodeID = id
	}
}

// NewContext creates an execution context from a standard context. The
// engine builds its own; this is for calling handlers directly, e.g. in
// tests.
//
// Example:
//
//	ctx := stategraph.NewContext(context.Background(),
//	    stategraph.WithLogger(myLogger),
//	    stategraph.WithContextRunID("run-123"))
//	update, err := handler.Invoke(ctx, st, stategraph.RunConfig{})
func NewContext(ctx context.Context, opts ...ContextOption) Context {
	ec := &executionContext{
		Context: ctx,
		logger:  slog.Default(),
		runID:   uuid.New().String(),
	}
	for _, opt := range opts {
		opt(ec)
	}
	return ec
}

// forNode returns a derived context for one node execution.
func (c *executionContext) forNode(ctx context.Context, nodeID string, step int) *executionContext {
	return &executionContext{
		Context:  ctx,
		logger:   c.logger.With("node_id", nodeID, "step", step),
		runID:    c.runID,
		threadID: c.threadID,
		nodeID:   nodeID,
		step:     step,
	}
}
