package schedule_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/stategraph/pkg/stategraph"
	"github.com/randalmurphal/stategraph/pkg/stategraph/checkpoint"
	"github.com/randalmurphal/stategraph/pkg/stategraph/schedule"
	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

func counterGraph(t *testing.T, cp checkpoint.Checkpointer) *stategraph.CompiledGraph {
	t.Helper()
	g := stategraph.NewGraph().
		AddNode("inc", stategraph.HandlerFunc(func(_ stategraph.Context, st state.Map, _ stategraph.RunConfig) (state.Map, error) {
			n, _ := st["count"].AsNumber()
			return state.Map{"count": state.Number(n + 1)}, nil
		})).
		AddEdge("inc", stategraph.END).
		SetEntryPoint("inc")
	if cp != nil {
		g.SetCheckpointer(cp)
	}
	compiled, err := g.Compile()
	require.NoError(t, err)
	return compiled
}

func TestParse(t *testing.T) {
	for _, expr := range []string{"*/5 * * * *", "0 9 * * MON-FRI", "@hourly", "@every 30s"} {
		_, err := schedule.Parse(expr)
		assert.NoError(t, err, expr)
	}

	for _, expr := range []string{"", "   ", "* * *", "CRON_TZ=UTC * * * * *", "TZ=Europe/Paris 0 * * * *", "61 * * * *"} {
		_, err := schedule.Parse(expr)
		assert.ErrorIs(t, err, schedule.ErrInvalidExpression, expr)
	}
}

func TestNext(t *testing.T) {
	now := time.Date(2026, 3, 1, 10, 2, 0, 0, time.UTC)
	next, err := schedule.Next("*/5 * * * *", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 3, 1, 10, 5, 0, 0, time.UTC), next)
}

func TestAdd_RejectsBadExpression(t *testing.T) {
	s := schedule.New(counterGraph(t, nil))
	_, err := s.Add("not a cron", nil)
	assert.ErrorIs(t, err, schedule.ErrInvalidExpression)
	assert.Empty(t, s.Entries())
}

func TestRunOnce_FreshThreadPerRun(t *testing.T) {
	store := checkpoint.NewMemoryStore()
	s := schedule.New(counterGraph(t, store))

	first := s.RunOnce(context.Background(), "@hourly", state.Map{"count": state.Int(0)})
	second := s.RunOnce(context.Background(), "@hourly", state.Map{"count": state.Int(0)})

	require.NoError(t, first.Err)
	require.NoError(t, second.Err)
	assert.NotEqual(t, first.ThreadID, second.ThreadID)

	n, _ := second.State["count"].AsNumber()
	assert.Equal(t, 1.0, n)

	history, err := store.History(context.Background(), first.ThreadID)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestRunOnce_ReportsFailure(t *testing.T) {
	g := stategraph.NewGraph().
		AddNode("boom", stategraph.HandlerFunc(func(stategraph.Context, state.Map, stategraph.RunConfig) (state.Map, error) {
			return nil, assert.AnError
		})).
		AddEdge("boom", stategraph.END).
		SetEntryPoint("boom")
	compiled, err := g.Compile()
	require.NoError(t, err)

	var got []schedule.Result
	s := schedule.New(compiled, schedule.WithResultHandler(func(r schedule.Result) { got = append(got, r) }))

	res := s.RunOnce(context.Background(), "@daily", state.Map{})
	assert.ErrorIs(t, res.Err, assert.AnError)
	require.Len(t, got, 1)
	assert.Equal(t, "@daily", got[0].Expr)
}

func TestScheduler_RunsEntries(t *testing.T) {
	var (
		mu      sync.Mutex
		results []schedule.Result
	)
	s := schedule.New(counterGraph(t, nil), schedule.WithResultHandler(func(r schedule.Result) {
		mu.Lock()
		results = append(results, r)
		mu.Unlock()
	}))

	_, err := s.Add("@every 1s", func() state.Map { return state.Map{"count": state.Int(41)} })
	require.NoError(t, err)
	require.Len(t, s.Entries(), 1)

	s.Start()
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(results) > 0
	}, 3*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))

	mu.Lock()
	defer mu.Unlock()
	require.NoError(t, results[0].Err)
	n, _ := results[0].State["count"].AsNumber()
	assert.Equal(t, 42.0, n)
}

func TestScheduler_Remove(t *testing.T) {
	s := schedule.New(counterGraph(t, nil))
	id, err := s.Add("@hourly", nil)
	require.NoError(t, err)

	s.Remove(id)
	assert.Empty(t, s.Entries())
}
