package stategraph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/randalmurphal/stategraph/pkg/stategraph/checkpoint"
	"github.com/randalmurphal/stategraph/pkg/stategraph/observability"
	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

// Invoke executes the graph with the given initial state.
// Returns the final state and any error encountered.
//
// On success, returns the state after the last node executed before END.
// A run that hits the iteration limit returns its state with the
// "truncated" field set to true and a nil error.
// On error, returns the state at the point of failure (useful for debugging).
//
// Execution flow:
//  1. Start at the entry point, the explicit resume node, or the successor
//     of the thread's latest checkpoint
//  2. Check for cancellation and fire interrupt-before
//  3. Execute the current node and merge its update
//  4. Checkpoint and fire interrupt-after
//  5. Determine the next node (via conditional or fixed edge)
//  6. Repeat until END, the iteration limit, or an error
//
// Example:
//
//	result, err := compiled.Invoke(ctx, state.Map{"value": state.Int(0)},
//	    stategraph.WithThreadID("thread-1"))
//	if err != nil {
//	    // result contains state at point of failure
//	}
func (cg *CompiledGraph) Invoke(ctx context.Context, st state.Map, opts ...RunOption) (state.Map, error) {
	return cg.run(ctx, st, &snapshotRecorder{}, opts)
}

// Stream executes the graph like Invoke and returns one Snapshot per
// executed node, in order. When the run is truncated, the last snapshot's
// state carries the truncated marker. On error, the snapshots recorded so
// far are returned with it.
func (cg *CompiledGraph) Stream(ctx context.Context, st state.Map, opts ...RunOption) ([]Snapshot, error) {
	rec := &snapshotRecorder{keep: true}
	_, err := cg.run(ctx, st, rec, opts)
	return rec.snapshots, err
}

// runner carries the per-run collaborators through the step loop.
type runner struct {
	cg        *CompiledGraph
	cfg       *runSettings
	ec        *executionContext
	logger    *slog.Logger
	rec       *snapshotRecorder
	runConfig RunConfig
}

func (cg *CompiledGraph) run(ctx context.Context, input state.Map, rec *snapshotRecorder, opts []RunOption) (result state.Map, runErr error) {
	if ctx == nil {
		return input, ErrNilContext
	}

	cfg := cg.defaultRunSettings()
	for _, opt := range opts {
		opt(&cfg)
	}
	rec.callback = cfg.stepCallback

	if cfg.threadID != "" {
		if err := checkpoint.ValidateThreadID(cfg.threadID); err != nil {
			return input, err
		}
	}
	if cfg.runID == "" {
		cfg.runID = uuid.New().String()
	}

	var runSpan trace.Span
	if cfg.tracingEnabled {
		ctx, runSpan = cfg.spans.StartRunSpan(ctx, cfg.runID, cfg.threadID)
		defer func() {
			cfg.spans.EndSpanWithError(runSpan, runErr)
		}()
	}

	logger := observability.EnrichLogger(cfg.logger, cfg.runID, cfg.threadID)
	r := &runner{
		cg:     cg,
		cfg:    &cfg,
		logger: logger,
		rec:    rec,
		ec: &executionContext{
			Context:  ctx,
			logger:   logger,
			runID:    cfg.runID,
			threadID: cfg.threadID,
		},
		runConfig: RunConfig{
			ThreadID:   cfg.threadID,
			ResumeFrom: cfg.resumeFrom,
			Values:     cfg.values,
		},
	}

	start, st, err := r.resolveStart(input)
	if err != nil {
		observability.LogRunError(cfg.logger, cfg.runID, err, 0, "")
		return input, err
	}

	startTime := time.Now()
	observability.LogRunStart(cfg.logger, cfg.runID, start)

	result, steps, runErr := r.loop(start, st)

	duration := time.Since(startTime)
	durationMs := float64(duration.Microseconds()) / 1000
	cfg.metrics.RecordGraphRun(ctx, runErr == nil, duration, steps)

	if runErr != nil {
		observability.LogRunError(cfg.logger, cfg.runID, runErr, durationMs, lastNode(runErr))
	} else {
		observability.LogRunComplete(cfg.logger, cfg.runID, durationMs, steps)
	}

	return result, runErr
}

// resolveStart picks the first node and state of the run. An explicit
// resume point wins over the checkpoint, which wins over the entry point.
func (r *runner) resolveStart(input state.Map) (string, state.Map, error) {
	cg := r.cg

	if rp := r.cfg.resumeFrom; rp != nil {
		if rp.Node != END && !cg.HasNode(rp.Node) {
			return "", nil, fmt.Errorf("%w: %q", ErrInvalidResumeNode, rp.Node)
		}
		return rp.Node, cloneOrEmpty(rp.State), nil
	}

	if cg.checkpointer != nil && r.cfg.threadID != "" {
		cp, err := cg.checkpointer.Load(r.ec, r.cfg.threadID)
		switch {
		case errors.Is(err, checkpoint.ErrNotFound):
		case err != nil:
			observability.LogCheckpointError(r.logger, "", "load", err)
			return "", nil, &CheckpointError{Op: "load", Err: err}
		default:
			if !cg.HasNode(cp.Node) {
				return "", nil, fmt.Errorf("%w: checkpoint names %q", ErrInvalidResumeNode, cp.Node)
			}
			st := cloneOrEmpty(cp.State)
			next, err := r.nextNode(cp.Node, st, 0)
			if err != nil {
				return "", nil, err
			}
			r.logger.Info("resuming from checkpoint",
				slog.String("checkpoint_node", cp.Node),
				slog.Int("sequence", cp.Sequence),
				slog.String("next_node", next),
			)
			return next, st, nil
		}
	}

	return cg.entryPoint, cloneOrEmpty(input), nil
}

// loop runs steps until END, the iteration limit, or an error.
// Returns the state, the number of executed nodes, and the error.
func (r *runner) loop(current string, st state.Map) (state.Map, int, error) {
	cg := r.cg
	step := 0

	for current != END {
		if err := r.ec.Err(); err != nil {
			return st, step, &CancellationError{Node: current, State: st, Cause: err}
		}

		// index is the 1-based position of this node in the run; every
		// observer of this node sees the same value.
		index := step + 1

		if cg.interruptBefore[current] {
			r.interrupt(current, st, index, InterruptBefore)
		}

		update, err := r.executeNode(current, st, index)
		if err != nil {
			return st, step, err
		}

		merged, err := state.Merge(st, update, cg.schema)
		if err != nil {
			err = &NodeError{Node: current, Op: "merge", Err: err}
			observability.LogNodeError(r.logger, current, err)
			return st, step, err
		}
		st = merged
		step++

		if r.rec.active() {
			r.rec.record(Snapshot{State: st.Clone(), Node: current, Step: step})
		}

		if err := r.saveCheckpoint(current, st, step); err != nil {
			return st, step, err
		}

		if cg.interruptAfter[current] {
			r.interrupt(current, st, step, InterruptAfter)
		}

		next, err := r.nextNode(current, st, step)
		if err != nil {
			return st, step, err
		}

		if step >= cg.maxIterations && next != END {
			observability.LogRunTruncated(r.logger, cg.maxIterations, next)
			r.cfg.metrics.RecordTruncation(r.ec, next)
			r.rec.markTruncated()
			out := st.Clone()
			out[state.TruncatedField] = state.Bool(true)
			return out, step, nil
		}

		current = next
	}

	return st, step, nil
}

// executeNode runs a single handler with panic recovery.
// step is the 1-based index of the node in the run.
func (r *runner) executeNode(node string, st state.Map, step int) (update state.Map, err error) {
	handler, ok := r.cg.nodes[node]
	if !ok {
		return nil, &NodeError{Node: node, Op: "execute", Err: fmt.Errorf("%w: %q", ErrNodeNotFound, node)}
	}

	var nodeSpan trace.Span
	spanCtx := r.ec.Context
	if r.cfg.tracingEnabled {
		spanCtx, nodeSpan = r.cfg.spans.StartNodeSpan(spanCtx, node, step)
	}
	nodeCtx := r.ec.forNode(spanCtx, node, step)

	observability.LogNodeStart(r.logger, node, step, r.cg.verbose)
	done := observability.TimedOperation()
	start := time.Now()

	defer func() {
		if rec := recover(); rec != nil {
			update = nil
			err = &PanicError{
				Node:  node,
				Value: rec,
				Stack: string(debug.Stack()),
			}
		}

		r.cfg.metrics.RecordNodeExecution(spanCtx, node, time.Since(start), err)
		if r.cfg.tracingEnabled {
			r.cfg.spans.EndSpanWithError(nodeSpan, err)
		}
		if err != nil {
			observability.LogNodeError(r.logger, node, err)
			return
		}
		observability.LogNodeComplete(r.logger, node, done(), r.cg.verbose)
	}()

	update, err = handler.Invoke(nodeCtx, st.Clone(), r.runConfig)
	if err != nil {
		return nil, &NodeError{Node: node, Op: "execute", Err: err}
	}
	if update == nil {
		return nil, &NodeError{Node: node, Op: "execute", Err: ErrNotStateUpdate}
	}
	return update, nil
}

// nextNode determines the next node to execute.
// Checks conditional edges first, then fixed edges.
func (r *runner) nextNode(current string, st state.Map, step int) (next string, err error) {
	ce, ok := r.cg.conditional[current]
	if !ok {
		if to, ok := r.cg.edges[current]; ok {
			return to, nil
		}
		return "", &NodeError{
			Node: current,
			Op:   "route",
			Err:  fmt.Errorf("%w: no outgoing edge from node %q", ErrDeadEnd, current),
		}
	}

	defer func() {
		if rec := recover(); rec != nil {
			next = ""
			if cerr, ok := rec.(*ConditionError); ok {
				err = &RouterError{From: current, Err: cerr}
				return
			}
			err = &PanicError{
				Node:  current,
				Value: rec,
				Stack: string(debug.Stack()),
			}
		}
	}()

	key := ce.condition(r.ec.forNode(r.ec.Context, current, step), st.Clone())
	if key == "" {
		return "", &RouterError{From: current, Key: key, Err: ErrInvalidConditionKey}
	}
	target, ok := ce.mapping[key]
	if !ok {
		return "", &RouterError{From: current, Key: key, Err: ErrUnmappedKey}
	}
	return target, nil
}

// saveCheckpoint persists the post-merge state when the run has a thread.
// A failed save stops the run.
func (r *runner) saveCheckpoint(node string, st state.Map, step int) error {
	cp := r.cg.checkpointer
	if cp == nil || r.cfg.threadID == "" {
		return nil
	}

	err := cp.Save(r.ec, r.cfg.threadID, node, st)
	r.cfg.metrics.RecordCheckpoint(r.ec, node, err)
	if err != nil {
		observability.LogCheckpointError(r.logger, node, "save", err)
		return &CheckpointError{Node: node, Op: "save", Err: err}
	}
	observability.LogCheckpoint(r.logger, node, step)
	return nil
}

// interrupt delivers an interrupt to the handler, or logs it.
func (r *runner) interrupt(node string, st state.Map, step int, point InterruptPoint) {
	intr := newInterrupt(st, node, step, point)
	r.cfg.metrics.RecordInterrupt(r.ec, node, string(point))
	if r.cfg.tracingEnabled {
		r.cfg.spans.AddSpanEvent(r.ec, "interrupt",
			attribute.String("node.id", node),
			attribute.String("interrupt.point", string(point)),
		)
	}

	if r.cfg.interruptHandler == nil {
		observability.LogInterrupt(r.logger, intr.Message, node, step)
		return
	}
	r.cfg.interruptHandler(r.ec.forNode(r.ec.Context, node, step), intr)
}

// lastNode extracts the failing node from a run error, if it names one.
func lastNode(err error) string {
	var (
		nodeErr   *NodeError
		panicErr  *PanicError
		routerErr *RouterError
		cancelErr *CancellationError
		cpErr     *CheckpointError
	)
	switch {
	case errors.As(err, &nodeErr):
		return nodeErr.Node
	case errors.As(err, &panicErr):
		return panicErr.Node
	case errors.As(err, &routerErr):
		return routerErr.From
	case errors.As(err, &cancelErr):
		return cancelErr.Node
	case errors.As(err, &cpErr):
		return cpErr.Node
	}
	return ""
}

func cloneOrEmpty(m state.Map) state.Map {
	if m == nil {
		return state.Map{}
	}
	return m.Clone()
}
