package prebuilt

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/randalmurphal/stategraph/pkg/stategraph"
	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

// State fields used by the tool node and the ReAct graph.
const (
	FieldToolCalls   = "tool_calls"
	FieldToolResults = "tool_results"
)

// ErrNoTools indicates a tool-using graph was built without tools.
var ErrNoTools = errors.New("at least one tool is required")

// ToolFunc runs one tool call.
type ToolFunc func(ctx context.Context, args state.Map) (state.Value, error)

// Tool describes a callable tool for a model.
type Tool struct {
	Name        string
	Description string
	Fn          ToolFunc
}

// ToolCall is one requested invocation.
type ToolCall struct {
	Name string
	Args state.Map
}

// Value encodes the call as a {name, args} object.
func (c ToolCall) Value() state.Value {
	args := make(map[string]state.Value, len(c.Args))
	for k, v := range c.Args {
		args[k] = v
	}
	return state.Object(map[string]state.Value{
		"name": state.String(c.Name),
		"args": state.Object(args),
	})
}

// ErrorPolicy decides what a tool failure does to the run.
type ErrorPolicy string

const (
	// ErrorPolicyFail fails the node. It is the default.
	ErrorPolicyFail ErrorPolicy = "fail"
	// ErrorPolicyRecord writes the failure as the tool's result so the
	// model can observe it.
	ErrorPolicyRecord ErrorPolicy = "record"
)

// ToolNode runs the calls listed in FieldToolCalls.
type ToolNode struct {
	tools        map[string]ToolFunc
	callsField   string
	resultsField string
	timeout      time.Duration
	onError      ErrorPolicy
}

// ToolNodeOption configures a ToolNode.
type ToolNodeOption func(*ToolNode)

// WithCallsField reads calls from field instead of FieldToolCalls.
func WithCallsField(field string) ToolNodeOption {
	return func(n *ToolNode) { n.callsField = field }
}

// WithResultsField writes results to field instead of FieldToolResults.
func WithResultsField(field string) ToolNodeOption {
	return func(n *ToolNode) { n.resultsField = field }
}

// WithToolTimeout bounds each tool call. Zero means no bound.
func WithToolTimeout(d time.Duration) ToolNodeOption {
	return func(n *ToolNode) { n.timeout = d }
}

// WithErrorPolicy sets how tool failures are handled.
func WithErrorPolicy(p ErrorPolicy) ToolNodeOption {
	return func(n *ToolNode) { n.onError = p }
}

// NewToolNode creates a node that runs requested tools.
//
// Each call is a {name, args} object. Calls to unknown tools are skipped with
// a warning. Results are emitted as {name, result} objects, only the ones
// produced by this step, so declare the results field with the append
// reducer to keep earlier observations. The calls field is cleared.
func NewToolNode(tools map[string]ToolFunc, opts ...ToolNodeOption) *ToolNode {
	n := &ToolNode{
		tools:        make(map[string]ToolFunc, len(tools)),
		callsField:   FieldToolCalls,
		resultsField: FieldToolResults,
		onError:      ErrorPolicyFail,
	}
	for name, fn := range tools {
		n.tools[name] = fn
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Names returns the registered tool names, sorted.
func (n *ToolNode) Names() []string {
	names := make([]string, 0, len(n.tools))
	for name := range n.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Invoke implements stategraph.NodeHandler.
func (n *ToolNode) Invoke(ctx stategraph.Context, st state.Map, _ stategraph.RunConfig) (state.Map, error) {
	calls, err := ReadToolCalls(st, n.callsField)
	if err != nil {
		return nil, err
	}

	results := make([]state.Value, 0, len(calls))
	for _, call := range calls {
		fn, ok := n.tools[call.Name]
		if !ok || fn == nil {
			ctx.Logger().Warn("skipping unknown tool", "tool", call.Name)
			continue
		}

		out, err := n.call(ctx, fn, call)
		if err != nil {
			if n.onError != ErrorPolicyRecord {
				return nil, fmt.Errorf("tool %q: %w", call.Name, err)
			}
			ctx.Logger().Warn("tool failed", "tool", call.Name, "error", err)
			out = state.String("error: " + err.Error())
		}

		results = append(results, state.Object(map[string]state.Value{
			"name":   state.String(call.Name),
			"result": out,
		}))
	}

	return state.Map{
		n.callsField:   state.List(),
		n.resultsField: state.List(results...),
	}, nil
}

func (n *ToolNode) call(ctx context.Context, fn ToolFunc, call ToolCall) (state.Value, error) {
	if n.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.timeout)
		defer cancel()
	}
	args := call.Args
	if args == nil {
		args = state.Map{}
	}
	return fn(ctx, args)
}

// ReadToolCalls decodes the {name, args} objects held in field. A missing or
// null field holds no calls.
func ReadToolCalls(st state.Map, field string) ([]ToolCall, error) {
	v, ok := st[field]
	if !ok || v.IsNull() {
		return nil, nil
	}
	items, ok := v.AsList()
	if !ok {
		return nil, fmt.Errorf("field %q: expected list of tool calls, got %s", field, v.Kind())
	}

	calls := make([]ToolCall, 0, len(items))
	for i, item := range items {
		obj, ok := item.AsMap()
		if !ok {
			return nil, fmt.Errorf("field %q[%d]: expected map, got %s", field, i, item.Kind())
		}
		name, _ := obj["name"].AsString()
		if name == "" {
			return nil, fmt.Errorf("field %q[%d]: tool name is empty", field, i)
		}
		call := ToolCall{Name: name, Args: state.Map{}}
		if args, ok := obj["args"].AsMap(); ok {
			for k, a := range args {
				call.Args[k] = a
			}
		}
		calls = append(calls, call)
	}
	return calls, nil
}
