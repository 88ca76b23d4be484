package prebuilt_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/stategraph/pkg/stategraph"
	"github.com/randalmurphal/stategraph/pkg/stategraph/prebuilt"
	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

func addTool(_ context.Context, args state.Map) (state.Value, error) {
	a, _ := args["a"].AsNumber()
	b, _ := args["b"].AsNumber()
	return state.Number(a + b), nil
}

func echoTool(_ context.Context, args state.Map) (state.Value, error) {
	return args["input"], nil
}

func calls(cs ...prebuilt.ToolCall) state.Value {
	items := make([]state.Value, 0, len(cs))
	for _, c := range cs {
		items = append(items, c.Value())
	}
	return state.List(items...)
}

func TestToolNode_RunsKnownTools(t *testing.T) {
	node := prebuilt.NewToolNode(map[string]prebuilt.ToolFunc{"add": addTool, "echo": echoTool})

	var logs bytes.Buffer
	ctx := stategraph.NewContext(context.Background(),
		stategraph.WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	update, err := node.Invoke(ctx, state.Map{
		prebuilt.FieldToolCalls: calls(
			prebuilt.ToolCall{Name: "add", Args: state.Map{"a": state.Int(2), "b": state.Int(3)}},
			prebuilt.ToolCall{Name: "missing"},
			prebuilt.ToolCall{Name: "echo", Args: state.Map{"input": state.String("hi")}},
		),
	}, stategraph.RunConfig{})
	require.NoError(t, err)

	assert.Equal(t, 0, update[prebuilt.FieldToolCalls].Len())

	results, ok := update[prebuilt.FieldToolResults].AsList()
	require.True(t, ok)
	require.Len(t, results, 2)

	name, _ := results[0].Field("name")
	out, _ := results[0].Field("result")
	assert.True(t, name.Equal(state.String("add")))
	assert.True(t, out.Equal(state.Number(5)))

	name, _ = results[1].Field("name")
	assert.True(t, name.Equal(state.String("echo")))

	assert.Contains(t, logs.String(), "skipping unknown tool")
	assert.Contains(t, logs.String(), "tool=missing")
}

func TestToolNode_NoCalls(t *testing.T) {
	node := prebuilt.NewToolNode(map[string]prebuilt.ToolFunc{"echo": echoTool})

	update, err := node.Invoke(stategraph.NewContext(context.Background()), state.Map{}, stategraph.RunConfig{})
	require.NoError(t, err)
	assert.Equal(t, 0, update[prebuilt.FieldToolResults].Len())
}

func TestToolNode_MalformedCalls(t *testing.T) {
	node := prebuilt.NewToolNode(map[string]prebuilt.ToolFunc{"echo": echoTool})
	ctx := stategraph.NewContext(context.Background())

	_, err := node.Invoke(ctx, state.Map{prebuilt.FieldToolCalls: state.String("echo")}, stategraph.RunConfig{})
	assert.ErrorContains(t, err, "expected list")

	_, err = node.Invoke(ctx, state.Map{
		prebuilt.FieldToolCalls: state.List(state.Object(map[string]state.Value{"args": state.Object(nil)})),
	}, stategraph.RunConfig{})
	assert.ErrorContains(t, err, "tool name is empty")
}

func TestToolNode_ErrorPolicy(t *testing.T) {
	boom := errors.New("boom")
	tools := map[string]prebuilt.ToolFunc{
		"fail": func(context.Context, state.Map) (state.Value, error) { return state.Null(), boom },
	}
	st := state.Map{prebuilt.FieldToolCalls: calls(prebuilt.ToolCall{Name: "fail"})}
	ctx := stategraph.NewContext(context.Background())

	t.Run("fail", func(t *testing.T) {
		_, err := prebuilt.NewToolNode(tools).Invoke(ctx, st, stategraph.RunConfig{})
		assert.ErrorIs(t, err, boom)
	})

	t.Run("record", func(t *testing.T) {
		update, err := prebuilt.NewToolNode(tools, prebuilt.WithErrorPolicy(prebuilt.ErrorPolicyRecord)).
			Invoke(ctx, st, stategraph.RunConfig{})
		require.NoError(t, err)
		first, _ := update[prebuilt.FieldToolResults].Index(0)
		out, _ := first.Field("result")
		assert.True(t, out.Equal(state.String("error: boom")))
	})
}

func TestToolNode_Timeout(t *testing.T) {
	slow := func(ctx context.Context, _ state.Map) (state.Value, error) {
		select {
		case <-ctx.Done():
			return state.Null(), ctx.Err()
		case <-time.After(time.Second):
			return state.String("late"), nil
		}
	}
	node := prebuilt.NewToolNode(map[string]prebuilt.ToolFunc{"slow": slow},
		prebuilt.WithToolTimeout(10*time.Millisecond))

	_, err := node.Invoke(stategraph.NewContext(context.Background()),
		state.Map{prebuilt.FieldToolCalls: calls(prebuilt.ToolCall{Name: "slow"})}, stategraph.RunConfig{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestToolNode_CustomFields(t *testing.T) {
	node := prebuilt.NewToolNode(map[string]prebuilt.ToolFunc{"echo": echoTool},
		prebuilt.WithCallsField("todo"), prebuilt.WithResultsField("done"))

	update, err := node.Invoke(stategraph.NewContext(context.Background()), state.Map{
		"todo": calls(prebuilt.ToolCall{Name: "echo", Args: state.Map{"input": state.String("x")}}),
	}, stategraph.RunConfig{})
	require.NoError(t, err)
	assert.Equal(t, 1, update["done"].Len())
	assert.Equal(t, 0, update["todo"].Len())
	assert.Equal(t, []string{"echo"}, node.Names())
}
