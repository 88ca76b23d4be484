package prebuilt_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/stategraph/pkg/stategraph"
	"github.com/randalmurphal/stategraph/pkg/stategraph/llm"
	"github.com/randalmurphal/stategraph/pkg/stategraph/prebuilt"
	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

func TestParseToolCall(t *testing.T) {
	tests := []struct {
		name     string
		reply    string
		wantOK   bool
		wantName string
		wantArgs state.Map
	}{
		{
			name:     "json input",
			reply:    "Thought: add them\nAction: add\nAction Input: {\"a\": 1, \"b\": 2}",
			wantOK:   true,
			wantName: "add",
			wantArgs: state.Map{"a": state.Int(1), "b": state.Int(2)},
		},
		{
			name:     "plain input",
			reply:    "Action: search\nAction Input: \"golang generics\"",
			wantOK:   true,
			wantName: "search",
			wantArgs: state.Map{"input": state.String("golang generics")},
		},
		{
			name:     "multiline json input",
			reply:    "Action: add\nAction Input: {\n  \"a\": 4,\n  \"b\": 5\n}\nObservation: ignored",
			wantOK:   true,
			wantName: "add",
			wantArgs: state.Map{"a": state.Int(4), "b": state.Int(5)},
		},
		{
			name:     "missing input",
			reply:    "Action: now",
			wantOK:   true,
			wantName: "now",
			wantArgs: state.Map{"input": state.String("")},
		},
		{
			name:  "final answer wins",
			reply: "Action: add\nAction Input: {}\nFinal Answer: 3",
		},
		{
			name:  "plain text",
			reply: "The answer is 42.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, ok := prebuilt.ParseToolCall(tt.reply)
			require.Equal(t, tt.wantOK, ok)
			if !ok {
				return
			}
			assert.Equal(t, tt.wantName, call.Name)
			assert.True(t, tt.wantArgs.Equal(call.Args), "args: %v", call.Args)
		})
	}
}

func TestParseFinalAnswer(t *testing.T) {
	answer, ok := prebuilt.ParseFinalAnswer("Thought: done\nFinal Answer:  Paris \n")
	require.True(t, ok)
	assert.Equal(t, "Paris", answer)

	_, ok = prebuilt.ParseFinalAnswer("Action: search")
	assert.False(t, ok)
}

func TestReAct_ToolLoop(t *testing.T) {
	mock := llm.NewMockClient("").WithResponses(
		"Thought: I should add.\nAction: add\nAction Input: {\"a\": 2, \"b\": 3}",
		"Thought: I know it.\nFinal Answer: 5",
	)
	chat := llm.NewChat(mock)

	g, err := prebuilt.NewReAct(chat, []prebuilt.Tool{
		{Name: "add", Description: "adds a and b", Fn: addTool},
	})
	require.NoError(t, err)
	compiled, err := g.Compile()
	require.NoError(t, err)

	snapshots, err := compiled.Stream(context.Background(), state.Map{"input": state.String("What is 2+3?")})
	require.NoError(t, err)

	nodes := make([]string, 0, len(snapshots))
	for _, s := range snapshots {
		nodes = append(nodes, s.Node)
	}
	assert.Equal(t, []string{"agent", "tools", "agent"}, nodes)

	final := snapshots[len(snapshots)-1].State
	assert.True(t, final["output"].Equal(state.String("5")))
	assert.Equal(t, 1, final[prebuilt.FieldToolResults].Len())
	assert.Equal(t, 0, final[prebuilt.FieldToolCalls].Len())

	require.Equal(t, 2, mock.CallCount())
	first := mock.Calls[0].Messages[0].Content
	assert.Contains(t, first, "- add: adds a and b")
	assert.Contains(t, first, "Question: What is 2+3?")

	second := mock.LastCall().Messages
	assert.Equal(t, "Observation: 5", second[len(second)-1].Content)
}

func TestReAct_UnknownToolIsObserved(t *testing.T) {
	mock := llm.NewMockClient("").WithResponses(
		"Action: divide\nAction Input: {}",
		"Final Answer: cannot",
	)
	g, err := prebuilt.NewReAct(llm.NewChat(mock), []prebuilt.Tool{{Name: "add", Fn: addTool}})
	require.NoError(t, err)
	compiled, err := g.Compile()
	require.NoError(t, err)

	out, err := compiled.Invoke(context.Background(), state.Map{"input": state.String("6/2?")})
	require.NoError(t, err)
	assert.True(t, out["output"].Equal(state.String("cannot")))

	observed := mock.LastCall().Messages
	assert.Contains(t, observed[len(observed)-1].Content, "unknown tool divide. Available tools: add")
}

func TestReAct_PlainReplyIsAnswer(t *testing.T) {
	g, err := prebuilt.NewReAct(llm.NewChat(llm.NewMockClient("just 4")), []prebuilt.Tool{{Name: "add", Fn: addTool}},
		prebuilt.WithOutputField("answer"))
	require.NoError(t, err)
	compiled, err := g.Compile()
	require.NoError(t, err)

	out, err := compiled.Invoke(context.Background(), state.Map{"input": state.String("2+2")})
	require.NoError(t, err)
	assert.True(t, out["answer"].Equal(state.String("just 4")))
}

func TestReAct_BoundedByIterations(t *testing.T) {
	mock := llm.NewMockClient("Action: add\nAction Input: {\"a\": 1, \"b\": 1}")
	g, err := prebuilt.NewReAct(llm.NewChat(mock), []prebuilt.Tool{{Name: "add", Fn: addTool}},
		prebuilt.WithMaxObservations(2))
	require.NoError(t, err)
	compiled, err := g.Compile(stategraph.WithMaxIterations(6))
	require.NoError(t, err)

	out, err := compiled.Invoke(context.Background(), state.Map{"input": state.String("loop")})
	require.NoError(t, err)
	assert.True(t, out.Truncated())
	assert.Equal(t, 2, out[prebuilt.FieldToolResults].Len())
}

func TestReAct_Errors(t *testing.T) {
	chat := llm.NewChat(llm.NewMockClient("x"))

	_, err := prebuilt.NewReAct(chat, nil)
	assert.ErrorIs(t, err, prebuilt.ErrNoTools)

	_, err = prebuilt.NewReAct(chat, []prebuilt.Tool{{Name: "add"}})
	assert.ErrorIs(t, err, prebuilt.ErrInvalidTool)

	_, err = prebuilt.NewReAct(chat, []prebuilt.Tool{{Name: "add", Fn: addTool}, {Name: "add", Fn: addTool}})
	assert.ErrorIs(t, err, prebuilt.ErrInvalidTool)

	_, err = prebuilt.NewReAct(nil, []prebuilt.Tool{{Name: "add", Fn: addTool}})
	assert.ErrorIs(t, err, stategraph.ErrNilHandler)
}

func TestReAct_ChatFailure(t *testing.T) {
	down := errors.New("model down")
	g, err := prebuilt.NewReAct(llm.NewChat(llm.NewMockClient("").WithError(down)), []prebuilt.Tool{{Name: "add", Fn: addTool}})
	require.NoError(t, err)
	compiled, err := g.Compile()
	require.NoError(t, err)

	_, err = compiled.Invoke(context.Background(), state.Map{"input": state.String("hi")})
	assert.ErrorIs(t, err, down)

	var nodeErr *stategraph.NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "agent", nodeErr.Node)
}
