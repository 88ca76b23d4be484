package stategraph

import (
	"strings"
	"sync"

	"github.com/randalmurphal/stategraph/pkg/stategraph/checkpoint"
	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

// conditionalEdge is a routing group: a condition whose key selects a target.
type conditionalEdge struct {
	condition ConditionFunc
	mapping   map[string]string
}

// Graph is a mutable builder for creating execution graphs.
// Use NewGraph to create a new graph, then chain AddNode, AddEdge,
// and SetEntryPoint calls to define the workflow.
//
// Programmer errors (duplicate names, conflicting edges, nil handlers)
// panic with a *BuildError. Topology errors are reported by Compile.
//
// Graph is NOT meant to be built from several goroutines. Build it in one,
// then call Compile() to create an immutable CompiledGraph that can be
// shared.
//
// Example:
//
//	graph := stategraph.NewGraph().
//	    AddNode("fetch", fetchNode).
//	    AddNode("process", processNode).
//	    AddEdge("fetch", "process").
//	    AddEdge("process", stategraph.END).
//	    SetEntryPoint("fetch")
//
//	compiled, err := graph.Compile()
type Graph struct {
	mu           sync.RWMutex
	nodes        map[string]NodeHandler
	order        []string
	edges        map[string]string
	conditional  map[string]conditionalEdge
	sources      []string
	entryPoint   string
	before       []string
	after        []string
	checkpointer checkpoint.Checkpointer
	schema       *state.Schema
}

// NewGraph creates a new graph builder.
func NewGraph() *Graph {
	return &Graph{
		nodes:       make(map[string]NodeHandler),
		edges:       make(map[string]string),
		conditional: make(map[string]conditionalEdge),
	}
}

// AddNode adds a named node to the graph.
// Returns the graph for method chaining.
//
// Panics if:
//   - name is empty
//   - name is END or "end" (case-insensitive)
//   - name contains whitespace
//   - handler is nil
//   - name already exists in the graph
func (g *Graph) AddNode(name string, handler NodeHandler) *Graph {
	const op = "add node"
	if name == "" {
		buildPanic(op, name, ErrEmptyNodeName)
	}
	if lower := strings.ToLower(name); lower == "end" || lower == END {
		buildPanic(op, name, ErrReservedNodeName)
	}
	if strings.ContainsAny(name, " \t\n\r") {
		buildPanic(op, name, ErrInvalidNodeName)
	}
	if isNilHandler(handler) {
		buildPanic(op, name, ErrNilHandler)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[name]; exists {
		buildPanic(op, name, ErrDuplicateNode)
	}

	g.nodes[name] = handler
	g.order = append(g.order, name)
	return g
}

// AddEdge adds a fixed edge from one node to another.
// The target can be a node name or END.
// Returns the graph for method chaining.
//
// Existence of both ends is checked at Compile() time, so edges can be
// added in any order. Panics if from already has an edge.
func (g *Graph) AddEdge(from, to string) *Graph {
	const op = "add edge"

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.conditional[from]; exists {
		buildPanic(op, from, ErrConflictingEdges)
	}
	if _, exists := g.edges[from]; exists {
		buildPanic(op, from, ErrDuplicateEdge)
	}

	g.edges[from] = to
	g.sources = append(g.sources, from)
	return g
}

// AddConditionalEdge adds a routing group from a node. After the node runs,
// cond picks a key and mapping[key] (a node name or END) runs next.
// The mapping is copied.
// Returns the graph for method chaining.
//
// Panics if cond is nil, mapping is empty or has an empty key, or from
// already has an edge.
func (g *Graph) AddConditionalEdge(from string, cond ConditionFunc, mapping map[string]string) *Graph {
	const op = "add conditional edge"
	if cond == nil {
		buildPanic(op, from, ErrNilCondition)
	}
	if len(mapping) == 0 {
		buildPanic(op, from, ErrEmptyMapping)
	}

	copied := make(map[string]string, len(mapping))
	for key, target := range mapping {
		if key == "" {
			buildPanic(op, from, ErrEmptyMapping)
		}
		copied[key] = target
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.edges[from]; exists {
		buildPanic(op, from, ErrConflictingEdges)
	}
	if _, exists := g.conditional[from]; exists {
		buildPanic(op, from, ErrDuplicateEdge)
	}

	g.conditional[from] = conditionalEdge{condition: cond, mapping: copied}
	g.sources = append(g.sources, from)
	return g
}

// SetEntryPoint designates the entry node. Validated at Compile() time.
// Returns the graph for method chaining.
func (g *Graph) SetEntryPoint(name string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.entryPoint = name
	return g
}

// SetInterrupt replaces the interrupt-before and interrupt-after node sets.
// Names are validated at Compile() time.
// Returns the graph for method chaining.
func (g *Graph) SetInterrupt(before, after []string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.before = append([]string(nil), before...)
	g.after = append([]string(nil), after...)
	return g
}

// SetCheckpointer sets the checkpoint collaborator used whenever a run has a
// thread id. Panics if cp is nil.
// Returns the graph for method chaining.
func (g *Graph) SetCheckpointer(cp checkpoint.Checkpointer) *Graph {
	if cp == nil {
		buildPanic("set checkpointer", "", ErrNilCheckpointer)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.checkpointer = cp
	return g
}

// SetSchema sets the schema governing state merges. A nil schema means
// updates shallowly overwrite the state.
// Returns the graph for method chaining.
func (g *Graph) SetSchema(schema *state.Schema) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.schema = schema
	return g
}
