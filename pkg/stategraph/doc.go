/*
Package stategraph provides graph-based orchestration for LLM agent
workflows.

# Overview

A graph is a set of named nodes joined by fixed or conditional edges. Each
node receives the current state and returns a partial update; the engine
merges the update into the state and follows an edge to the next node until
it reaches END. Features include schema-governed merges, per-step
checkpointing with resume, interrupt observation points and streaming
snapshots.

# Basic Usage

Create a graph with nodes and edges, then compile and invoke:

	double := stategraph.HandlerFunc(func(ctx stategraph.Context, st state.Map, _ stategraph.RunConfig) (state.Map, error) {
	    n, _ := st["value"].AsNumber()
	    return state.Map{"value": state.Number(n * 2)}, nil
	})

	graph := stategraph.NewGraph().
	    AddNode("double", double).
	    AddEdge("double", stategraph.END).
	    SetEntryPoint("double")

	compiled, err := graph.Compile()
	if err != nil {
	    log.Fatal(err)
	}

	result, err := compiled.Invoke(context.Background(), state.Map{"value": state.Int(21)})
	// result["value"] == 42

# Conditional Branching

A conditional edge runs a condition after the node and looks its key up in
a mapping:

	graph.AddConditionalEdge("review", func(ctx stategraph.Context, st state.Map) string {
	    if ok, _ := st["approved"].AsBool(); ok {
	        return "yes"
	    }
	    return "no"
	}, map[string]string{"yes": "publish", "no": "revise"})

An empty key or a key missing from the mapping fails the run with a
*RouterError.

# Loops and Truncation

Edges may point back to earlier nodes. Every run is capped at the compile
time iteration limit (default 25, see WithMaxIterations). A run that hits
the cap without reaching END is not an error: Invoke returns the state with
the "truncated" field set to true, and a warning is logged.

# State and Schemas

State is a state.Map of JSON-like values. Without a schema, updates
overwrite fields. With SetSchema, updates are validated against declared
field types and each field merges with its reducer:

	schema := state.MustSchema(map[string]state.Field{
	    "messages": {Type: state.TypeList, Reducer: state.Append},
	    "answer":   {Type: state.TypeString},
	}, state.WithMaxAppend(50))

# Checkpointing

With a checkpointer set and a thread id on the run, the state is saved after
every node. Invoking again with the same thread id continues after the
latest checkpoint:

	store := checkpoint.NewMemoryStore()
	graph.SetCheckpointer(store)
	result, err := compiled.Invoke(ctx, input, stategraph.WithThreadID("ticket-42"))

WithResumeFrom starts at an explicit node with caller-chosen state and takes
precedence over both the entry point and the checkpoint.

# Interrupts

Nodes listed with SetInterrupt fire an Interrupt before or after they run.
Interrupts are observations; the run continues after the handler returns.
Cancel the run's context from the handler to stop before the next node.

# Error Handling

Builder methods panic with a *BuildError for programmer mistakes. Compile
joins every topology problem it finds. Run errors are typed:

  - *NodeError: handler failure, bad update, merge failure or dead end
  - *PanicError: handler or condition panicked
  - *RouterError: condition returned an empty or unmapped key
  - *CheckpointError: checkpoint load or save failed
  - *CancellationError: the context was done before a node ran

All support errors.Is and errors.As against the sentinels in this package.

# Observability

Runs log through slog (WithRunLogger, WithVerbose), record metrics through
an observability.MetricsRecorder (WithMetrics) and emit OpenTelemetry spans
(WithTracing, WithSpanManager).
*/
package stategraph
