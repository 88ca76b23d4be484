package stategraph

import (
	"log/slog"
	"sort"

	"github.com/randalmurphal/stategraph/pkg/stategraph/checkpoint"
	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

// CompiledGraph is an immutable, executable graph.
// It is created by calling Compile() on a Graph builder.
//
// CompiledGraph is safe for concurrent Invoke() and Stream() calls. The
// graph structure cannot be modified after compilation.
type CompiledGraph struct {
	nodes       map[string]NodeHandler
	order       []string
	edges       map[string]string
	conditional map[string]conditionalEdge
	entryPoint  string
	schema      *state.Schema

	interruptBefore map[string]bool
	interruptAfter  map[string]bool

	checkpointer  checkpoint.Checkpointer
	maxIterations int
	verbose       bool
	logger        *slog.Logger
}

// Edge describes one possible transition, for introspection and diagrams.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
	// Label is the mapping key of a conditional edge, empty for fixed edges.
	Label       string `json:"label,omitempty"`
	Conditional bool   `json:"conditional"`
}

// EntryPoint returns the entry node name.
func (cg *CompiledGraph) EntryPoint() string {
	return cg.entryPoint
}

// Nodes returns node names in registration order.
func (cg *CompiledGraph) Nodes() []string {
	return append([]string(nil), cg.order...)
}

// Edges returns every transition, grouped by source in registration order
// and sorted by label within a conditional group.
func (cg *CompiledGraph) Edges() []Edge {
	var out []Edge
	for _, from := range cg.order {
		if to, ok := cg.edges[from]; ok {
			out = append(out, Edge{From: from, To: to})
			continue
		}
		ce, ok := cg.conditional[from]
		if !ok {
			continue
		}
		for _, key := range sortedKeys(ce.mapping) {
			out = append(out, Edge{From: from, To: ce.mapping[key], Label: key, Conditional: true})
		}
	}
	return out
}

// HasNode checks if a node exists in the graph.
func (cg *CompiledGraph) HasNode(name string) bool {
	_, exists := cg.nodes[name]
	return exists
}

// IsConditional returns true if the node routes through a conditional edge.
func (cg *CompiledGraph) IsConditional(name string) bool {
	_, exists := cg.conditional[name]
	return exists
}

// Schema returns the merge schema, or nil for shallow overwrite.
func (cg *CompiledGraph) Schema() *state.Schema {
	return cg.schema
}

// MaxIterations returns the per-run node execution limit.
func (cg *CompiledGraph) MaxIterations() int {
	return cg.maxIterations
}

// Checkpointer returns the configured checkpointer, or nil.
func (cg *CompiledGraph) Checkpointer() checkpoint.Checkpointer {
	return cg.checkpointer
}

// InterruptBefore returns the interrupt-before node names, sorted.
func (cg *CompiledGraph) InterruptBefore() []string {
	return setNames(cg.interruptBefore)
}

// InterruptAfter returns the interrupt-after node names, sorted.
func (cg *CompiledGraph) InterruptAfter() []string {
	return setNames(cg.interruptAfter)
}

func setNames(set map[string]bool) []string {
	names := make([]string, 0, len(set))
	for n := range set {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
