package prebuilt

import (
	"github.com/randalmurphal/stategraph/pkg/stategraph"
)

// Default state fields.
const (
	FieldInput  = "input"
	FieldOutput = "output"
)

type options struct {
	inputField      string
	outputField     string
	instructions    string
	maxObservations int
	toolOpts        []ToolNodeOption
}

func defaultOptions() options {
	return options{
		inputField:  FieldInput,
		outputField: FieldOutput,
	}
}

// Option configures a prebuilt graph.
type Option func(*options)

// WithInputField reads the task from field. Default: "input".
func WithInputField(field string) Option {
	return func(o *options) { o.inputField = field }
}

// WithOutputField writes the answer to field. Default: "output".
func WithOutputField(field string) Option {
	return func(o *options) { o.outputField = field }
}

// WithInstructions replaces the built-in instructions the model receives on
// its first turn.
func WithInstructions(text string) Option {
	return func(o *options) { o.instructions = text }
}

// WithMaxObservations keeps only the newest n tool results in state.
func WithMaxObservations(n int) Option {
	return func(o *options) { o.maxObservations = n }
}

// WithToolNodeOptions configures the tool node of a ReAct graph.
func WithToolNodeOptions(opts ...ToolNodeOption) Option {
	return func(o *options) { o.toolOpts = append(o.toolOpts, opts...) }
}

func applyOptions(opts []Option) options {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// build runs fn on a fresh graph and turns builder panics into errors.
func build(fn func(g *stategraph.Graph)) (g *stategraph.Graph, err error) {
	defer func() {
		if r := recover(); r != nil {
			be, ok := r.(*stategraph.BuildError)
			if !ok {
				panic(r)
			}
			g, err = nil, be
		}
	}()
	g = stategraph.NewGraph()
	fn(g)
	return g, nil
}
