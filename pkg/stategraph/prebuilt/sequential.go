package prebuilt

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/stategraph/pkg/stategraph"
	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

// ErrNoSteps indicates NewSequential was called without steps.
var ErrNoSteps = errors.New("at least one step is required")

// Step is one stage of a sequential pipeline.
type Step struct {
	// Name is the node name.
	Name string
	// Chat answers the step's prompt.
	Chat stategraph.Chatter
	// Instruction is prepended to the text the step receives.
	Instruction string
}

// NewSequential chains agent nodes in order. The first step reads "input";
// every step writes "output", which the next step reads.
func NewSequential(steps []Step, opts ...Option) (*stategraph.Graph, error) {
	if len(steps) == 0 {
		return nil, ErrNoSteps
	}
	o := applyOptions(opts)

	return build(func(g *stategraph.Graph) {
		for i, step := range steps {
			if step.Chat == nil {
				panic(&stategraph.BuildError{Op: "add step", Subject: step.Name, Err: stategraph.ErrNilHandler})
			}
			source := o.outputField
			if i == 0 {
				source = o.inputField
			}
			g.AddNode(step.Name, stategraph.NewAgentNode(step.Chat,
				stategraph.WithPromptFunc(stepPrompt(step.Instruction, source)),
				stategraph.WithOutputField(o.outputField)))
			if i > 0 {
				g.AddEdge(steps[i-1].Name, step.Name)
			}
		}
		g.AddEdge(steps[len(steps)-1].Name, stategraph.END)
		g.SetEntryPoint(steps[0].Name)
	})
}

func stepPrompt(instruction, field string) func(state.Map) (string, error) {
	return func(st state.Map) (string, error) {
		v, ok := st[field]
		if !ok {
			return "", fmt.Errorf("field %q not set", field)
		}
		text, isString := v.AsString()
		if !isString {
			text = v.String()
		}
		if instruction == "" {
			return text, nil
		}
		return instruction + "\n\n" + text, nil
	}
}
