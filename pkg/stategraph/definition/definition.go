// Package definition loads graphs written in HCL.
//
// A definition declares nodes, edges and an optional schema:
//
//	entry          = "start"
//	max_iterations = 10
//
//	schema {
//	  max_append = 3
//	  field "items" {
//	    type    = "list"
//	    reducer = "append"
//	  }
//	}
//
//	node "start" {
//	  update = { parity = state.value % 2 == 0 ? "even" : "odd" }
//	}
//
//	node "greet" {
//	  handler = "echo"
//	  args    = { field = "input" }
//	}
//
//	edge {
//	  from = "greet"
//	  to   = END
//	}
//
//	conditional_edge "start" {
//	  condition = state.parity
//	  mapping   = { even = "greet", odd = END }
//	}
//
// Inline update and condition expressions see the current state as "state"
// and may call upper, lower, length, concat, format, max, min and
// jsonencode. Named handlers come from a Registry.
package definition

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/randalmurphal/stategraph/pkg/stategraph"
	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

// fileRoot is the decoded top level of a definition file.
type fileRoot struct {
	Entry         string              `hcl:"entry"`
	MaxIterations *int                `hcl:"max_iterations,optional"`
	Checkpoint    string              `hcl:"checkpoint,optional"`
	Schema        *schemaBlock        `hcl:"schema,block"`
	Nodes         []*nodeBlock        `hcl:"node,block"`
	Edges         []*edgeBlock        `hcl:"edge,block"`
	Conditionals  []*conditionalBlock `hcl:"conditional_edge,block"`
	Interrupt     *interruptBlock     `hcl:"interrupt,block"`
}

type schemaBlock struct {
	MaxAppend *int          `hcl:"max_append,optional"`
	Fields    []*fieldBlock `hcl:"field,block"`
}

type fieldBlock struct {
	Name    string `hcl:"name,label"`
	Type    string `hcl:"type,optional"`
	Reducer string `hcl:"reducer,optional"`
}

type nodeBlock struct {
	Name    string         `hcl:"name,label"`
	Handler string         `hcl:"handler,optional"`
	Args    hcl.Expression `hcl:"args,optional"`
	Update  hcl.Expression `hcl:"update,optional"`
}

type edgeBlock struct {
	From string `hcl:"from"`
	To   string `hcl:"to"`
}

type conditionalBlock struct {
	From      string            `hcl:"from,label"`
	Condition hcl.Expression    `hcl:"condition"`
	Mapping   map[string]string `hcl:"mapping"`
}

type interruptBlock struct {
	Before []string `hcl:"before,optional"`
	After  []string `hcl:"after,optional"`
}

// Definition is a parsed graph definition. Build may be called any number
// of times; handlers are shared between the built graphs.
type Definition struct {
	// Filename is the name diagnostics refer to.
	Filename string
	// Entry is the entry node.
	Entry string
	// MaxIterations is the declared iteration cap, 0 when not declared.
	MaxIterations int
	// Checkpoint is the declared checkpoint store URI, if any.
	Checkpoint string
	// Schema is nil when the definition declares none.
	Schema *state.Schema

	InterruptBefore []string
	InterruptAfter  []string

	nodes        []nodeDef
	edges        []edgeBlock
	conditionals []conditionalDef
}

type nodeDef struct {
	name    string
	handler stategraph.NodeHandler
}

type conditionalDef struct {
	from    string
	cond    stategraph.ConditionFunc
	mapping map[string]string
}

// Load reads and parses a definition file.
func Load(path string, reg *Registry) (*Definition, error) {
	file, diags := hclparse.NewParser().ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse %s: %w", path, diags)
	}
	return decode(file.Body, path, reg)
}

// Parse parses a definition from source. filename is used in diagnostics.
func Parse(src []byte, filename string, reg *Registry) (*Definition, error) {
	file, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parse %s: %w", filename, diags)
	}
	return decode(file.Body, filename, reg)
}

func decode(body hcl.Body, filename string, reg *Registry) (*Definition, error) {
	if reg == nil {
		reg = NewRegistry()
	}

	var root fileRoot
	if diags := gohcl.DecodeBody(body, staticContext(), &root); diags.HasErrors() {
		return nil, fmt.Errorf("decode %s: %w", filename, diags)
	}

	d := &Definition{
		Filename:   filename,
		Entry:      root.Entry,
		Checkpoint: root.Checkpoint,
	}
	if root.MaxIterations != nil {
		if *root.MaxIterations <= 0 {
			return nil, fmt.Errorf("%s: %w, got %d", filename, stategraph.ErrInvalidMaxIterations, *root.MaxIterations)
		}
		d.MaxIterations = *root.MaxIterations
	}
	if root.Interrupt != nil {
		d.InterruptBefore = root.Interrupt.Before
		d.InterruptAfter = root.Interrupt.After
	}

	schema, err := decodeSchema(root.Schema)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	d.Schema = schema

	for _, nb := range root.Nodes {
		handler, err := decodeNode(nb, reg)
		if err != nil {
			return nil, fmt.Errorf("%s: node %q: %w", filename, nb.Name, err)
		}
		d.nodes = append(d.nodes, nodeDef{name: nb.Name, handler: handler})
	}
	for _, eb := range root.Edges {
		d.edges = append(d.edges, *eb)
	}
	for _, cb := range root.Conditionals {
		d.conditionals = append(d.conditionals, conditionalDef{
			from:    cb.From,
			cond:    conditionFunc(cb.Condition),
			mapping: cb.Mapping,
		})
	}
	return d, nil
}

func decodeSchema(sb *schemaBlock) (*state.Schema, error) {
	if sb == nil {
		return nil, nil
	}

	fields := make(map[string]state.Field, len(sb.Fields))
	for _, fb := range sb.Fields {
		typ, err := state.ParseType(fb.Type)
		if err != nil {
			return nil, fmt.Errorf("schema field %q: %w", fb.Name, err)
		}
		reducer, err := state.ParseReducer(fb.Reducer)
		if err != nil {
			return nil, fmt.Errorf("schema field %q: %w", fb.Name, err)
		}
		if _, dup := fields[fb.Name]; dup {
			return nil, fmt.Errorf("schema field %q declared twice", fb.Name)
		}
		fields[fb.Name] = state.Field{Type: typ, Reducer: reducer}
	}

	var opts []state.SchemaOption
	if sb.MaxAppend != nil {
		opts = append(opts, state.WithMaxAppend(*sb.MaxAppend))
	}
	schema, err := state.NewSchema(fields, opts...)
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	return schema, nil
}

func decodeNode(nb *nodeBlock, reg *Registry) (stategraph.NodeHandler, error) {
	hasUpdate := !isAbsent(nb.Update)
	switch {
	case nb.Handler != "" && hasUpdate:
		return nil, fmt.Errorf("set handler or update, not both")
	case hasUpdate:
		return &exprNode{expr: nb.Update}, nil
	case nb.Handler == "":
		return nil, fmt.Errorf("one of handler or update is required")
	}

	factory, ok := reg.Lookup(nb.Handler)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownHandler, nb.Handler)
	}

	args := state.Map{}
	if !isAbsent(nb.Args) {
		v, diags := nb.Args.Value(staticContext())
		if diags.HasErrors() {
			return nil, fmt.Errorf("args: %w", diags)
		}
		m, err := mapFromCty(v)
		if err != nil {
			return nil, fmt.Errorf("args: %w", err)
		}
		args = m
	}

	handler, err := factory(args)
	if err != nil {
		return nil, fmt.Errorf("handler %q: %w", nb.Handler, err)
	}
	return handler, nil
}

// Build assembles a graph. Builder violations such as duplicate nodes are
// returned as *stategraph.BuildError.
func (d *Definition) Build() (g *stategraph.Graph, err error) {
	defer func() {
		if r := recover(); r != nil {
			be, ok := r.(*stategraph.BuildError)
			if !ok {
				panic(r)
			}
			g, err = nil, fmt.Errorf("%s: %w", d.Filename, be)
		}
	}()

	g = stategraph.NewGraph()
	for _, n := range d.nodes {
		g.AddNode(n.name, n.handler)
	}
	for _, e := range d.edges {
		g.AddEdge(e.From, e.To)
	}
	for _, c := range d.conditionals {
		g.AddConditionalEdge(c.from, c.cond, c.mapping)
	}
	if d.Entry != "" {
		g.SetEntryPoint(d.Entry)
	}
	if d.Schema != nil {
		g.SetSchema(d.Schema)
	}
	if len(d.InterruptBefore) > 0 || len(d.InterruptAfter) > 0 {
		g.SetInterrupt(d.InterruptBefore, d.InterruptAfter)
	}
	return g, nil
}

// Compile builds and compiles the graph. A declared max_iterations applies
// unless opts override it.
func (d *Definition) Compile(opts ...stategraph.CompileOption) (*stategraph.CompiledGraph, error) {
	g, err := d.Build()
	if err != nil {
		return nil, err
	}
	if d.MaxIterations > 0 {
		opts = append([]stategraph.CompileOption{stategraph.WithMaxIterations(d.MaxIterations)}, opts...)
	}
	return g.Compile(opts...)
}

// exprNode evaluates an update expression against the state.
type exprNode struct {
	expr hcl.Expression
}

func (n *exprNode) Invoke(_ stategraph.Context, st state.Map, _ stategraph.RunConfig) (state.Map, error) {
	v, diags := n.expr.Value(stateContext(st))
	if diags.HasErrors() {
		return nil, fmt.Errorf("evaluate update: %w", diags)
	}
	update, err := mapFromCty(v)
	if err != nil {
		return nil, fmt.Errorf("update: %w", err)
	}
	return update, nil
}

// conditionFunc evaluates expr to a routing key. A failed evaluation or a
// value that is not a key fails the run with the HCL diagnostics.
func conditionFunc(expr hcl.Expression) stategraph.ConditionFunc {
	return func(_ stategraph.Context, st state.Map) string {
		v, diags := expr.Value(stateContext(st))
		if diags.HasErrors() {
			stategraph.FailCondition(diags)
		}
		if !v.IsKnown() || v.IsNull() {
			stategraph.FailCondition(fmt.Errorf("%s: condition evaluated to null", expr.Range()))
		}
		key, err := convert.Convert(v, cty.String)
		if err != nil {
			stategraph.FailCondition(fmt.Errorf("%s: condition of type %s is not a key", expr.Range(), v.Type().FriendlyName()))
		}
		return key.AsString()
	}
}

// staticContext evaluates attributes at load time.
func staticContext() *hcl.EvalContext {
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{"END": cty.StringVal(stategraph.END)},
		Functions: Functions(),
	}
}

func stateContext(st state.Map) *hcl.EvalContext {
	ctx := staticContext()
	ctx.Variables["state"] = StateToCty(st)
	return ctx
}

// isAbsent reports whether an optional expression attribute was omitted.
// gohcl fills omitted expressions with a static null.
func isAbsent(expr hcl.Expression) bool {
	if expr == nil {
		return true
	}
	if len(expr.Variables()) > 0 {
		return false
	}
	v, diags := expr.Value(nil)
	return !diags.HasErrors() && v.IsNull()
}
