package stategraph

import (
	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

// END is the terminal node identifier.
// Use this as an edge target to indicate the graph should terminate.
const END = "__end__"

// RunConfig is the per-run configuration handed to every handler.
type RunConfig struct {
	// ThreadID scopes checkpoints; empty disables checkpointing.
	ThreadID string
	// ResumeFrom, when set, overrides the starting node and state.
	ResumeFrom *ResumePoint
	// Values carries caller-supplied settings through to handlers.
	Values map[string]any
}

// ResumePoint starts a run at Node with State, bypassing entry and checkpoint.
type ResumePoint struct {
	Node  string
	State state.Map
}

// NodeHandler does a node's work. It receives the current state and returns
// a partial update that the engine merges into the state.
//
// A nil map means the handler produced no state-update mapping and fails the
// run with ErrNotStateUpdate. Return an empty map for a no-op update.
type NodeHandler interface {
	Invoke(ctx Context, st state.Map, cfg RunConfig) (state.Map, error)
}

// HandlerFunc adapts a function to NodeHandler.
//
// Example:
//
//	increment := stategraph.HandlerFunc(func(ctx stategraph.Context, st state.Map, _ stategraph.RunConfig) (state.Map, error) {
//	    n, _ := st["value"].AsNumber()
//	    return state.Map{"value": state.Number(n + 1)}, nil
//	})
type HandlerFunc func(ctx Context, st state.Map, cfg RunConfig) (state.Map, error)

// Invoke implements NodeHandler.
func (f HandlerFunc) Invoke(ctx Context, st state.Map, cfg RunConfig) (state.Map, error) {
	return f(ctx, st, cfg)
}

// ConditionFunc picks a routing key from the state after a node ran. The
// key is looked up in the conditional edge's mapping.
//
// Conditions may read fields the schema does not declare; only handler
// updates are schema-checked.
type ConditionFunc func(ctx Context, st state.Map) string

func isNilHandler(h NodeHandler) bool {
	if h == nil {
		return true
	}
	if f, ok := h.(HandlerFunc); ok && f == nil {
		return true
	}
	return false
}
