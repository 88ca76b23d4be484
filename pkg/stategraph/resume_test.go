package stategraph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/stategraph/pkg/stategraph/checkpoint"
	"github.com/randalmurphal/stategraph/pkg/stategraph/config"
	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

func TestCheckpoint_SavedEveryStep(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	compiled, err := linearGraph().SetCheckpointer(store).Compile()
	require.NoError(t, err)

	result, err := compiled.Invoke(context.Background(), state.Map{"value": state.Int(0)},
		WithThreadID("t1"))
	require.NoError(t, err)

	history, err := store.History(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "a", history[0].Node)
	assert.Equal(t, float64(1), num(history[0].State["value"]))
	assert.Equal(t, "b", history[1].Node)
	assert.True(t, history[1].State.Equal(result))

	latest, err := store.Load(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, "b", latest.Node)
}

func TestCheckpoint_NoThreadNoSave(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	compiled, err := linearGraph().SetCheckpointer(store).Compile()
	require.NoError(t, err)

	_, err = compiled.Invoke(context.Background(), state.Map{"value": state.Int(0)})
	require.NoError(t, err)
	assert.Equal(t, 0, store.Len())
}

func TestCheckpoint_SaveFailureIsFatal(t *testing.T) {
	diskFull := errors.New("disk full")
	var trace []string
	compiled, err := NewGraph().
		AddNode("a", tracking("a", &trace)).
		AddNode("b", tracking("b", &trace)).
		AddEdge("a", "b").
		AddEdge("b", END).
		SetEntryPoint("a").
		SetCheckpointer(failingCheckpointer{err: diskFull}).
		Compile()
	require.NoError(t, err)

	_, err = compiled.Invoke(context.Background(), state.Map{},
		WithResumeFrom("a", state.Map{}), WithThreadID("t1"))
	require.ErrorIs(t, err, diskFull)

	var cpErr *CheckpointError
	require.ErrorAs(t, err, &cpErr)
	assert.Equal(t, "a", cpErr.Node)
	assert.Equal(t, "save", cpErr.Op)
	assert.Equal(t, []string{"a"}, trace)
}

func TestCheckpoint_LoadFailure(t *testing.T) {
	broken := errors.New("connection refused")
	compiled, err := linearGraph().SetCheckpointer(failingCheckpointer{err: broken}).Compile()
	require.NoError(t, err)

	_, err = compiled.Invoke(context.Background(), state.Map{}, WithThreadID("t1"))
	require.ErrorIs(t, err, broken)

	var cpErr *CheckpointError
	require.ErrorAs(t, err, &cpErr)
	assert.Equal(t, "load", cpErr.Op)
}

func TestResume_FromCheckpoint(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	var trace []string

	build := func(failB bool) *CompiledGraph {
		b := tracking("b", &trace)
		if failB {
			b = failing(errors.New("crash"))
		}
		compiled, err := NewGraph().
			AddNode("a", tracking("a", &trace)).
			AddNode("b", b).
			AddNode("c", tracking("c", &trace)).
			AddEdge("a", "b").
			AddEdge("b", "c").
			AddEdge("c", END).
			SetEntryPoint("a").
			SetCheckpointer(store).
			Compile()
		require.NoError(t, err)
		return compiled
	}

	_, err := build(true).Invoke(context.Background(), state.Map{"x": state.Int(1)}, WithThreadID("job"))
	require.Error(t, err)
	assert.Equal(t, []string{"a"}, trace)

	trace = nil
	result, err := build(false).Invoke(context.Background(), state.Map{}, WithThreadID("job"))
	require.NoError(t, err)

	assert.Equal(t, []string{"b", "c"}, trace)
	assert.Equal(t, float64(1), num(result["x"]))
}

func TestResume_CheckpointAtLastNode(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	compiled, err := linearGraph().SetCheckpointer(store).Compile()
	require.NoError(t, err)

	first, err := compiled.Invoke(context.Background(), state.Map{"value": state.Int(0)}, WithThreadID("done"))
	require.NoError(t, err)

	again, err := compiled.Invoke(context.Background(), state.Map{"value": state.Int(100)}, WithThreadID("done"))
	require.NoError(t, err)
	assert.True(t, first.Equal(again))
}

func TestResume_CheckpointResolvesConditionWithSavedState(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), "route", "start", state.Map{"value": state.Int(3)}))

	compiled, err := NewGraph().
		AddNode("start", noop()).
		AddNode("even", setField("result", state.String("even"))).
		AddNode("odd", setField("result", state.String("odd"))).
		AddConditionalEdge("start", parity, map[string]string{"even": "even", "odd": "odd"}).
		AddEdge("even", END).
		AddEdge("odd", END).
		SetEntryPoint("start").
		SetCheckpointer(store).
		Compile()
	require.NoError(t, err)

	result, err := compiled.Invoke(context.Background(), state.Map{"value": state.Int(4)}, WithThreadID("route"))
	require.NoError(t, err)
	assert.Equal(t, state.String("odd"), result["result"])
}

func TestResumeFrom_Explicit(t *testing.T) {
	var trace []string
	compiled, err := NewGraph().
		AddNode("a", tracking("a", &trace)).
		AddNode("b", addTo("value", 5)).
		AddEdge("a", "b").
		AddEdge("b", END).
		SetEntryPoint("a").
		Compile()
	require.NoError(t, err)

	result, err := compiled.Invoke(context.Background(), state.Map{"value": state.Int(0)},
		WithResumeFrom("b", state.Map{"value": state.Int(10)}))
	require.NoError(t, err)

	assert.Empty(t, trace)
	assert.Equal(t, float64(15), num(result["value"]))
}

func TestResumeFrom_WinsOverCheckpoint(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	require.NoError(t, store.Save(context.Background(), "t", "a", state.Map{"value": state.Int(50)}))

	compiled, err := linearGraph().SetCheckpointer(store).Compile()
	require.NoError(t, err)

	result, err := compiled.Invoke(context.Background(), state.Map{},
		WithThreadID("t"),
		WithResumeFrom("a", state.Map{"value": state.Int(0)}))
	require.NoError(t, err)
	assert.Equal(t, float64(2), num(result["value"]))
}

func TestResumeFrom_End(t *testing.T) {
	compiled, err := linearGraph().Compile()
	require.NoError(t, err)

	result, err := compiled.Invoke(context.Background(), state.Map{},
		WithResumeFrom(END, state.Map{"value": state.Int(9)}))
	require.NoError(t, err)
	assert.Equal(t, float64(9), num(result["value"]))
}

func TestResumeFrom_UnknownNode(t *testing.T) {
	compiled, err := linearGraph().Compile()
	require.NoError(t, err)

	_, err = compiled.Invoke(context.Background(), state.Map{},
		WithResumeFrom("ghost", state.Map{}))
	assert.ErrorIs(t, err, ErrInvalidResumeNode)
}

func TestRunOptionsFromConfig(t *testing.T) {
	rc, err := config.DecodeRunConfig(map[string]any{
		"thread_id": "cfg-thread",
		"resume_from": map[string]any{
			"node":  "b",
			"state": map[string]any{"value": 4},
		},
		"model": "fast",
	})
	require.NoError(t, err)

	opts, err := RunOptionsFromConfig(rc)
	require.NoError(t, err)

	var gotValues map[string]any
	var gotThread string
	compiled, err := NewGraph().
		AddNode("a", noop()).
		AddNode("b", HandlerFunc(func(ctx Context, st state.Map, cfg RunConfig) (state.Map, error) {
			gotValues = cfg.Values
			gotThread = cfg.ThreadID
			n, _ := st["value"].AsNumber()
			return state.Map{"value": state.Number(n * 2)}, nil
		})).
		AddEdge("a", "b").
		AddEdge("b", END).
		SetEntryPoint("a").
		Compile()
	require.NoError(t, err)

	result, err := compiled.Invoke(context.Background(), state.Map{}, opts...)
	require.NoError(t, err)
	assert.Equal(t, float64(8), num(result["value"]))
	assert.Equal(t, "cfg-thread", gotThread)
	assert.Equal(t, "fast", gotValues["model"])
}

func TestRunOptionsFromConfig_BadState(t *testing.T) {
	_, err := RunOptionsFromConfig(config.RunConfig{
		ResumeFrom: &config.ResumePoint{Node: "a", State: map[string]any{"ch": make(chan int)}},
	})
	assert.ErrorIs(t, err, state.ErrUnsupportedValue)
}
