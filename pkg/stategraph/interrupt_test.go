package stategraph

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/stategraph/pkg/stategraph/checkpoint"
	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

func TestInterrupt_BeforeAndAfter(t *testing.T) {
	compiled, err := linearGraph().
		SetInterrupt([]string{"b"}, []string{"a"}).
		Compile()
	require.NoError(t, err)

	var got []Interrupt
	result, err := compiled.Invoke(context.Background(), state.Map{"value": state.Int(0)},
		WithInterruptHandler(func(ctx Context, intr Interrupt) {
			assert.Equal(t, intr.Node, ctx.NodeID())
			got = append(got, intr)
		}))
	require.NoError(t, err)
	assert.Equal(t, float64(2), num(result["value"]))

	require.Len(t, got, 2)

	assert.Equal(t, InterruptAfter, got[0].Point)
	assert.Equal(t, "a", got[0].Node)
	assert.Equal(t, 1, got[0].Step)
	assert.Equal(t, float64(1), num(got[0].State["value"]))
	assert.Equal(t, `interrupt after node "a"`, got[0].Message)

	assert.Equal(t, InterruptBefore, got[1].Point)
	assert.Equal(t, "b", got[1].Node)
	assert.Equal(t, 2, got[1].Step)
	assert.Equal(t, float64(1), num(got[1].State["value"]))
	assert.Equal(t, `interrupt before node "b"`, got[1].Message)
}

func TestStepIndexAgreesAcrossObservers(t *testing.T) {
	seen := map[string][]int{}
	record := func(kind string, step int) { seen[kind] = append(seen[kind], step) }

	handler := HandlerFunc(func(ctx Context, _ state.Map, _ RunConfig) (state.Map, error) {
		record("handler", ctx.Step())
		return state.Map{}, nil
	})
	compiled, err := NewGraph().
		AddNode("a", handler).
		AddNode("b", handler).
		AddEdge("a", "b").
		AddConditionalEdge("b", func(ctx Context, _ state.Map) string {
			record("condition", ctx.Step())
			return "done"
		}, map[string]string{"done": END}).
		SetEntryPoint("a").
		SetInterrupt([]string{"a", "b"}, []string{"a", "b"}).
		Compile()
	require.NoError(t, err)

	snapshots, err := compiled.Stream(context.Background(), state.Map{},
		WithInterruptHandler(func(ctx Context, intr Interrupt) {
			assert.Equal(t, intr.Step, ctx.Step())
			record(string(intr.Point), intr.Step)
		}))
	require.NoError(t, err)
	for _, s := range snapshots {
		record("snapshot", s.Step)
	}

	assert.Equal(t, []int{1, 2}, seen["handler"])
	assert.Equal(t, []int{1, 2}, seen[string(InterruptBefore)])
	assert.Equal(t, []int{1, 2}, seen[string(InterruptAfter)])
	assert.Equal(t, []int{1, 2}, seen["snapshot"])
	assert.Equal(t, []int{2}, seen["condition"])
}

func TestInterrupt_AfterSeesCheckpointedState(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	compiled, err := linearGraph().
		SetCheckpointer(store).
		SetInterrupt(nil, []string{"a"}).
		Compile()
	require.NoError(t, err)

	var saved int
	_, err = compiled.Invoke(context.Background(), state.Map{"value": state.Int(0)},
		WithThreadID("hitl"),
		WithInterruptHandler(func(ctx Context, intr Interrupt) {
			history, err := store.History(ctx, "hitl")
			require.NoError(t, err)
			saved = len(history)
		}))
	require.NoError(t, err)
	assert.Equal(t, 1, saved)
}

func TestInterrupt_UncaughtIsLogged(t *testing.T) {
	h := newTestLogHandler()
	compiled, err := linearGraph().
		SetInterrupt([]string{"a"}, nil).
		Compile()
	require.NoError(t, err)

	result, err := compiled.Invoke(context.Background(), state.Map{"value": state.Int(0)},
		WithRunLogger(slog.New(h)))
	require.NoError(t, err)
	assert.Equal(t, float64(2), num(result["value"]))

	logged := h.withMessage(`interrupt before node "a"`)
	require.Len(t, logged, 1)
	assert.Equal(t, "INFO", logged[0]["level"])
}

func TestInterrupt_HandlerCannotMutateState(t *testing.T) {
	compiled, err := linearGraph().
		SetInterrupt([]string{"b"}, nil).
		Compile()
	require.NoError(t, err)

	result, err := compiled.Invoke(context.Background(), state.Map{"value": state.Int(0)},
		WithInterruptHandler(func(_ Context, intr Interrupt) {
			intr.State["value"] = state.Int(1000)
		}))
	require.NoError(t, err)
	assert.Equal(t, float64(2), num(result["value"]))
}

func TestInterrupt_CancelStopsRun(t *testing.T) {
	var trace []string
	compiled, err := NewGraph().
		AddNode("draft", tracking("draft", &trace)).
		AddNode("publish", tracking("publish", &trace)).
		AddEdge("draft", "publish").
		AddEdge("publish", END).
		SetEntryPoint("draft").
		SetInterrupt(nil, []string{"draft"}).
		Compile()
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err = compiled.Invoke(ctx, state.Map{},
		WithInterruptHandler(func(Context, Interrupt) { cancel() }))

	var cancelErr *CancellationError
	require.ErrorAs(t, err, &cancelErr)
	assert.Equal(t, "publish", cancelErr.Node)
	assert.Equal(t, []string{"draft"}, trace)
}
