package stategraph

import (
	"errors"
	"fmt"
	"log/slog"
)

// DefaultMaxIterations caps node executions per run unless overridden.
const DefaultMaxIterations = 25

// compileConfig holds Compile options.
type compileConfig struct {
	maxIterations int
	verbose       bool
	logger        *slog.Logger
}

// CompileOption configures compilation.
type CompileOption func(*compileConfig)

// WithMaxIterations sets the maximum number of node executions per run.
// Default: 25. A run that reaches the limit without reaching END returns
// its state tagged as truncated. n must be positive.
func WithMaxIterations(n int) CompileOption {
	return func(c *compileConfig) {
		c.maxIterations = n
	}
}

// WithVerbose logs per-node progress at info level instead of debug.
func WithVerbose(verbose bool) CompileOption {
	return func(c *compileConfig) {
		c.verbose = verbose
	}
}

// WithCompileLogger sets the logger for compile warnings and the default
// logger of runs. Default: slog.Default().
func WithCompileLogger(logger *slog.Logger) CompileOption {
	return func(c *compileConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// Compile validates the graph and creates an executable CompiledGraph.
// Returns an error if validation fails. All failures are joined together,
// each naming the node or edge it concerns.
//
// Validation checks:
//  1. Max iterations must be positive
//  2. Entry point must be set and reference an existing node
//  3. Every edge source and target must be a node (targets may be END)
//  4. Every node must have an outgoing edge
//  5. Interrupt sets must reference existing nodes
//
// Nodes unreachable from the entry and an entry with no path to END are
// logged as warnings but do not fail compilation.
func (g *Graph) Compile(opts ...CompileOption) (*CompiledGraph, error) {
	cfg := compileConfig{
		maxIterations: DefaultMaxIterations,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	var errs []error

	if cfg.maxIterations <= 0 {
		errs = append(errs, fmt.Errorf("%w: %d", ErrInvalidMaxIterations, cfg.maxIterations))
	}

	if g.entryPoint == "" {
		errs = append(errs, ErrNoEntryPoint)
	} else if !g.hasNode(g.entryPoint) {
		errs = append(errs, fmt.Errorf("%w: %q", ErrEntryNotFound, g.entryPoint))
	}

	for _, from := range g.sources {
		if !g.hasNode(from) {
			errs = append(errs, fmt.Errorf("%w: edge source %q does not exist", ErrNodeNotFound, from))
		}
		if to, ok := g.edges[from]; ok {
			if to != END && !g.hasNode(to) {
				errs = append(errs, fmt.Errorf("%w: edge %q -> %q: target does not exist", ErrNodeNotFound, from, to))
			}
			continue
		}
		ce := g.conditional[from]
		for _, key := range sortedKeys(ce.mapping) {
			if to := ce.mapping[key]; to != END && !g.hasNode(to) {
				errs = append(errs, fmt.Errorf("%w: conditional edge %q [%s] -> %q: target does not exist", ErrNodeNotFound, from, key, to))
			}
		}
	}

	for _, name := range g.order {
		_, fixed := g.edges[name]
		_, cond := g.conditional[name]
		if !fixed && !cond {
			errs = append(errs, fmt.Errorf("%w: node %q has no outgoing edge", ErrDeadEnd, name))
		}
	}

	for _, set := range [][]string{g.before, g.after} {
		for _, name := range set {
			if !g.hasNode(name) {
				errs = append(errs, fmt.Errorf("%w: %q", ErrUnknownInterruptNode, name))
			}
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	g.warnUnreachableNodes(cfg.logger)
	if !g.hasPathToEnd() {
		cfg.logger.Warn("no path to END from entry", "entry", g.entryPoint)
	}

	return g.buildCompiledGraph(cfg), nil
}

func (g *Graph) hasNode(name string) bool {
	_, ok := g.nodes[name]
	return ok
}

// targets returns every node a source can hand control to.
func (g *Graph) targets(from string) []string {
	if to, ok := g.edges[from]; ok {
		return []string{to}
	}
	ce, ok := g.conditional[from]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(ce.mapping))
	for _, key := range sortedKeys(ce.mapping) {
		out = append(out, ce.mapping[key])
	}
	return out
}

// warnUnreachableNodes logs a warning for each node BFS from the entry
// never visits.
func (g *Graph) warnUnreachableNodes(logger *slog.Logger) {
	reachable := map[string]bool{g.entryPoint: true}
	queue := []string{g.entryPoint}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, target := range g.targets(current) {
			if target != END && !reachable[target] {
				reachable[target] = true
				queue = append(queue, target)
			}
		}
	}

	for _, name := range g.order {
		if !reachable[name] {
			logger.Warn("node is unreachable from entry", "node_id", name)
		}
	}
}

// hasPathToEnd reports whether END is reachable from the entry point,
// propagating backwards until no node changes.
func (g *Graph) hasPathToEnd() bool {
	canReachEnd := map[string]bool{END: true}

	changed := true
	for changed {
		changed = false
		for _, from := range g.sources {
			if canReachEnd[from] {
				continue
			}
			for _, to := range g.targets(from) {
				if canReachEnd[to] {
					canReachEnd[from] = true
					changed = true
					break
				}
			}
		}
	}

	return canReachEnd[g.entryPoint]
}

// buildCompiledGraph copies the builder state into an immutable CompiledGraph.
func (g *Graph) buildCompiledGraph(cfg compileConfig) *CompiledGraph {
	nodes := make(map[string]NodeHandler, len(g.nodes))
	for name, h := range g.nodes {
		nodes[name] = h
	}

	edges := make(map[string]string, len(g.edges))
	for from, to := range g.edges {
		edges[from] = to
	}

	conditional := make(map[string]conditionalEdge, len(g.conditional))
	for from, ce := range g.conditional {
		mapping := make(map[string]string, len(ce.mapping))
		for k, v := range ce.mapping {
			mapping[k] = v
		}
		conditional[from] = conditionalEdge{condition: ce.condition, mapping: mapping}
	}

	return &CompiledGraph{
		nodes:           nodes,
		order:           append([]string(nil), g.order...),
		edges:           edges,
		conditional:     conditional,
		entryPoint:      g.entryPoint,
		schema:          g.schema,
		interruptBefore: toSet(g.before),
		interruptAfter:  toSet(g.after),
		checkpointer:    g.checkpointer,
		maxIterations:   cfg.maxIterations,
		verbose:         cfg.verbose,
		logger:          cfg.logger,
	}
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
