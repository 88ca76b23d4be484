package prebuilt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/randalmurphal/stategraph/pkg/stategraph"
	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

// FieldObservation holds the rendered results of the latest tool step until
// the agent has read them.
const FieldObservation = "observation"

// ErrInvalidTool indicates a tool with an empty name, a nil function or a
// name used twice.
var ErrInvalidTool = errors.New("invalid tool")

// ReAct line markers.
const (
	markerAction      = "Action:"
	markerActionInput = "Action Input:"
	markerObservation = "Observation:"
	markerFinalAnswer = "Final Answer:"
)

// ParseToolCall extracts the tool call from a ReAct reply. It reports false
// when the reply has a final answer or no "Action:" line.
//
// A JSON object after "Action Input:" becomes the arguments; any other input
// is passed as {"input": text}.
func ParseToolCall(reply string) (ToolCall, bool) {
	if _, ok := ParseFinalAnswer(reply); ok {
		return ToolCall{}, false
	}

	lines := strings.Split(reply, "\n")
	name := ""
	var input []string
	inInput := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, markerActionInput):
			inInput = true
			input = append(input[:0], strings.TrimSpace(strings.TrimPrefix(trimmed, markerActionInput)))
		case strings.HasPrefix(trimmed, markerAction):
			if name != "" {
				// Only the first action of a reply runs.
				inInput = false
				continue
			}
			name = strings.TrimSpace(strings.TrimPrefix(trimmed, markerAction))
		case strings.HasPrefix(trimmed, markerObservation):
			inInput = false
		case inInput:
			input = append(input, line)
		}
	}
	if name == "" {
		return ToolCall{}, false
	}

	return ToolCall{Name: name, Args: parseActionInput(strings.TrimSpace(strings.Join(input, "\n")))}, true
}

// ParseFinalAnswer returns the text after "Final Answer:".
func ParseFinalAnswer(reply string) (string, bool) {
	i := strings.LastIndex(reply, markerFinalAnswer)
	if i < 0 {
		return "", false
	}
	return strings.TrimSpace(reply[i+len(markerFinalAnswer):]), true
}

func parseActionInput(text string) state.Map {
	if strings.HasPrefix(text, "{") {
		var v state.Value
		if err := v.UnmarshalJSON([]byte(text)); err == nil {
			if m, ok := v.AsMap(); ok {
				return state.Map(m)
			}
		}
	}
	return state.Map{"input": state.String(strings.Trim(text, `"`))}
}

// NewReAct builds a reasoning and acting loop: an "agent" node asks chat
// what to do and a "tools" node runs the requested tool, feeding the result
// back as an observation, until the model gives a final answer.
//
// Reads the task from "input" and writes the answer to "output". The engine's
// iteration limit bounds the loop.
func NewReAct(chat stategraph.Chatter, tools []Tool, opts ...Option) (*stategraph.Graph, error) {
	if chat == nil {
		return nil, fmt.Errorf("react: %w", stategraph.ErrNilHandler)
	}
	if len(tools) == 0 {
		return nil, ErrNoTools
	}

	funcs := make(map[string]ToolFunc, len(tools))
	for _, t := range tools {
		if t.Name == "" || t.Fn == nil {
			return nil, fmt.Errorf("%w: %q", ErrInvalidTool, t.Name)
		}
		if _, dup := funcs[t.Name]; dup {
			return nil, fmt.Errorf("%w: %q registered twice", ErrInvalidTool, t.Name)
		}
		funcs[t.Name] = t.Fn
	}

	o := applyOptions(opts)
	var schemaOpts []state.SchemaOption
	if o.maxObservations > 0 {
		schemaOpts = append(schemaOpts, state.WithMaxAppend(o.maxObservations))
	}
	schema, err := state.NewSchema(map[string]state.Field{
		o.inputField:     {Type: state.TypeAny},
		o.outputField:    {Type: state.TypeString},
		FieldToolCalls:   {Type: state.TypeList},
		FieldToolResults: {Type: state.TypeList, Reducer: state.Append},
		FieldObservation: {Type: state.TypeString},
	}, schemaOpts...)
	if err != nil {
		return nil, fmt.Errorf("react schema: %w", err)
	}

	agent := &reactAgent{chat: chat, tools: tools, opts: o}
	toolStep := &reactTools{node: NewToolNode(funcs, o.toolOpts...)}

	return build(func(g *stategraph.Graph) {
		g.AddNode("agent", agent).
			AddNode("tools", toolStep).
			AddConditionalEdge("agent", hasToolCalls, map[string]string{
				"tools": "tools",
				"end":   stategraph.END,
			}).
			AddEdge("tools", "agent").
			SetEntryPoint("agent").
			SetSchema(schema)
	})
}

func hasToolCalls(_ stategraph.Context, st state.Map) string {
	if st[FieldToolCalls].Len() > 0 {
		return "tools"
	}
	return "end"
}

type reactAgent struct {
	chat  stategraph.Chatter
	tools []Tool
	opts  options
}

func (a *reactAgent) Invoke(ctx stategraph.Context, st state.Map, _ stategraph.RunConfig) (state.Map, error) {
	prompt, err := a.prompt(st)
	if err != nil {
		return nil, err
	}

	reply, err := a.chat.Chat(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("chat: %w", err)
	}

	update := state.Map{FieldObservation: state.String("")}
	if call, ok := ParseToolCall(reply); ok {
		ctx.Logger().Debug("agent requested tool", "tool", call.Name)
		update[FieldToolCalls] = state.List(call.Value())
		return update, nil
	}

	answer := strings.TrimSpace(reply)
	if final, ok := ParseFinalAnswer(reply); ok {
		answer = final
	}
	update[FieldToolCalls] = state.List()
	update[a.opts.outputField] = state.String(answer)
	return update, nil
}

// prompt is the task on the first turn and the pending observation after.
func (a *reactAgent) prompt(st state.Map) (string, error) {
	if obs, _ := st[FieldObservation].AsString(); obs != "" {
		return markerObservation + " " + obs, nil
	}

	v, ok := st[a.opts.inputField]
	task, _ := v.AsString()
	if ok && task == "" && !v.IsNull() {
		task = v.String()
	}
	if task == "" {
		return "", fmt.Errorf("%w: field %q", stategraph.ErrEmptyPrompt, a.opts.inputField)
	}

	var sb strings.Builder
	if a.opts.instructions != "" {
		sb.WriteString(a.opts.instructions)
	} else {
		sb.WriteString("Answer the question. You can use these tools:\n")
		for _, t := range a.tools {
			fmt.Fprintf(&sb, "- %s: %s\n", t.Name, t.Description)
		}
		sb.WriteString("\nTo use a tool, reply with:\n")
		sb.WriteString("Thought: your reasoning\n")
		sb.WriteString(markerAction + " the tool name\n")
		sb.WriteString(markerActionInput + " the input, as a JSON object when the tool takes several arguments\n")
		sb.WriteString("\nYou will receive the result as an Observation. When you know the answer, reply with:\n")
		sb.WriteString(markerFinalAnswer + " the answer")
	}
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(task)
	return sb.String(), nil
}

// reactTools runs the tool node and renders its results as the observation
// for the next agent turn.
type reactTools struct {
	node *ToolNode
}

func (t *reactTools) Invoke(ctx stategraph.Context, st state.Map, cfg stategraph.RunConfig) (state.Map, error) {
	calls, err := ReadToolCalls(st, t.node.callsField)
	if err != nil {
		return nil, err
	}

	update, err := t.node.Invoke(ctx, st, cfg)
	if err != nil {
		return nil, err
	}

	results, _ := update[t.node.resultsField].AsList()
	update[FieldObservation] = state.String(t.observation(calls, results))
	return update, nil
}

func (t *reactTools) observation(calls []ToolCall, results []state.Value) string {
	if len(results) == 0 {
		names := make([]string, 0, len(calls))
		for _, c := range calls {
			names = append(names, c.Name)
		}
		return fmt.Sprintf("unknown tool %s. Available tools: %s",
			strings.Join(names, ", "), strings.Join(t.node.Names(), ", "))
	}

	parts := make([]string, 0, len(results))
	for _, r := range results {
		name, _ := r.Field("name")
		out, _ := r.Field("result")
		n, _ := name.AsString()
		text, ok := out.AsString()
		if !ok {
			text = out.String()
		}
		if len(results) == 1 {
			parts = append(parts, text)
			continue
		}
		parts = append(parts, n+": "+text)
	}
	return strings.Join(parts, "\n")
}
