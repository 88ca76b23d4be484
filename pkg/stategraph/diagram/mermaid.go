// Package diagram renders compiled graphs as Mermaid flowcharts.
package diagram

import (
	"fmt"
	"strings"

	"github.com/randalmurphal/stategraph/pkg/stategraph"
)

// Start is the pseudo-node drawn before the entry point.
const Start = "__start__"

// Graph is the topology a diagram is drawn from. *stategraph.CompiledGraph
// satisfies it.
type Graph interface {
	EntryPoint() string
	Nodes() []string
	Edges() []stategraph.Edge
}

type options struct {
	direction string
	visited   []string
	current   string
}

// Option configures rendering.
type Option func(*options)

// WithDirection sets the flowchart direction ("TD", "LR", ...). Default: TD.
func WithDirection(dir string) Option {
	return func(o *options) { o.direction = dir }
}

// WithVisited highlights nodes a run has passed through.
func WithVisited(nodes ...string) Option {
	return func(o *options) { o.visited = append(o.visited, nodes...) }
}

// WithCurrent highlights the node a run stopped at.
func WithCurrent(node string) Option {
	return func(o *options) { o.current = node }
}

// Mermaid renders g as a Mermaid flowchart. Output is deterministic: nodes
// in registration order, edges grouped by source and sorted by label.
//
// Example output for a -> b with a conditional exit:
//
//	graph TD
//	    __start__((start))
//	    a[a]
//	    b[b]
//	    __end__((end))
//	    __start__ --> a
//	    a --> b
//	    b -- "done" --> __end__
func Mermaid(g Graph, opts ...Option) string {
	o := options{direction: "TD"}
	for _, opt := range opts {
		opt(&o)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "graph %s\n", o.direction)

	fmt.Fprintf(&sb, "    %s((start))\n", Start)
	for _, name := range g.Nodes() {
		fmt.Fprintf(&sb, "    %s\n", nodeShape(name))
	}
	fmt.Fprintf(&sb, "    %s((end))\n", stategraph.END)

	fmt.Fprintf(&sb, "    %s --> %s\n", Start, SanitizeID(g.EntryPoint()))
	for _, e := range g.Edges() {
		from, to := SanitizeID(e.From), SanitizeID(e.To)
		if e.Label == "" {
			fmt.Fprintf(&sb, "    %s --> %s\n", from, to)
			continue
		}
		fmt.Fprintf(&sb, "    %s -- \"%s\" --> %s\n", from, escapeLabel(e.Label), to)
	}

	writeOverlay(&sb, o)
	return sb.String()
}

func writeOverlay(sb *strings.Builder, o options) {
	if len(o.visited) == 0 && o.current == "" {
		return
	}

	sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000;\n")
	sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000;\n")

	seen := make(map[string]bool, len(o.visited))
	for _, name := range o.visited {
		id := SanitizeID(name)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		fmt.Fprintf(sb, "    class %s visited;\n", id)
	}
	if o.current != "" {
		fmt.Fprintf(sb, "    class %s current;\n", SanitizeID(o.current))
	}
}

// nodeShape draws a rectangle. The label is quoted when sanitizing changed
// the id.
func nodeShape(name string) string {
	id := SanitizeID(name)
	if id == name {
		return fmt.Sprintf("%s[%s]", id, name)
	}
	return fmt.Sprintf("%s[\"%s\"]", id, escapeLabel(name))
}

// SanitizeID maps a node name to a Mermaid-safe identifier.
func SanitizeID(name string) string {
	return idReplacer.Replace(name)
}

var idReplacer = strings.NewReplacer(
	".", "_",
	"-", "_",
	"/", "_",
	"\\", "_",
	" ", "_",
)

func escapeLabel(s string) string {
	return strings.ReplaceAll(s, "\"", "'")
}
