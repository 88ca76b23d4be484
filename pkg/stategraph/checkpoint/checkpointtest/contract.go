// Package checkpointtest provides a behavioral suite every checkpoint
// store must pass.
package checkpointtest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/stategraph/pkg/stategraph/checkpoint"
	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

// RunContract verifies that a store honors the checkpoint contract.
// Thread ids are prefixed with t.Name() so shared backends stay isolated.
func RunContract(t *testing.T, store checkpoint.Store) {
	t.Helper()
	ctx := context.Background()
	thread := func(suffix string) string {
		return strings.ReplaceAll(t.Name(), "/", "_") + "-" + suffix
	}

	t.Run("Save and Load", func(t *testing.T) {
		id := thread("save-load")
		st := state.Map{
			"count": state.Int(2),
			"items": state.Strings("a", "b"),
			"meta":  state.Object(map[string]state.Value{"ok": state.Bool(true)}),
		}

		require.NoError(t, store.Save(ctx, id, "worker", st))

		cp, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, id, cp.ThreadID)
		assert.Equal(t, "worker", cp.Node)
		assert.Equal(t, 1, cp.Sequence)
		assert.Equal(t, checkpoint.Version, cp.Version)
		assert.True(t, st.Equal(cp.State), "state round trip: %v", cp.State)
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, thread("missing"))
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)
	})

	t.Run("Latest Wins", func(t *testing.T) {
		id := thread("latest")
		for i := 1; i <= 3; i++ {
			require.NoError(t, store.Save(ctx, id, fmt.Sprintf("n%d", i), state.Map{"i": state.Int(i)}))
		}

		cp, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "n3", cp.Node)
		assert.Equal(t, 3, cp.Sequence)
		assert.True(t, cp.State["i"].Equal(state.Int(3)))
	})

	t.Run("History Order", func(t *testing.T) {
		id := thread("history")
		nodes := []string{"a", "b", "a", "c"}
		for _, n := range nodes {
			require.NoError(t, store.Save(ctx, id, n, state.Map{"at": state.String(n)}))
		}

		history, err := store.History(ctx, id)
		require.NoError(t, err)
		require.Len(t, history, len(nodes))
		for i, cp := range history {
			assert.Equal(t, nodes[i], cp.Node)
			assert.Equal(t, i+1, cp.Sequence)
		}
	})

	t.Run("History Empty", func(t *testing.T) {
		history, err := store.History(ctx, thread("empty"))
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("Threads Isolated", func(t *testing.T) {
		a, b := thread("iso-a"), thread("iso-b")
		require.NoError(t, store.Save(ctx, a, "x", state.Map{"v": state.String("a")}))
		require.NoError(t, store.Save(ctx, b, "y", state.Map{"v": state.String("b")}))

		cpA, err := store.Load(ctx, a)
		require.NoError(t, err)
		cpB, err := store.Load(ctx, b)
		require.NoError(t, err)
		assert.True(t, cpA.State["v"].Equal(state.String("a")))
		assert.True(t, cpB.State["v"].Equal(state.String("b")))
		assert.Equal(t, 1, cpA.Sequence)
		assert.Equal(t, 1, cpB.Sequence)
	})

	t.Run("Thread IDs Resembling Store Keys", func(t *testing.T) {
		for _, id := range []string{"threads", "x", "x:seq", "seq:x", "index"} {
			require.NoError(t, store.Delete(ctx, id))
		}
		require.NoError(t, store.Save(ctx, "x", "first", state.Map{}))

		for _, id := range []string{"threads", "x:seq", "seq:x", "index"} {
			require.NoError(t, store.Save(ctx, id, "n", state.Map{"id": state.String(id)}), id)

			cp, err := store.Load(ctx, id)
			require.NoError(t, err, id)
			assert.Equal(t, 1, cp.Sequence, id)
			assert.True(t, cp.State["id"].Equal(state.String(id)), id)

			history, err := store.History(ctx, id)
			require.NoError(t, err, id)
			assert.Len(t, history, 1, id)
		}

		history, err := store.History(ctx, "x")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "first", history[0].Node)
	})

	t.Run("Saved State Is Copied", func(t *testing.T) {
		id := thread("copy")
		st := state.Map{"v": state.Int(1)}
		require.NoError(t, store.Save(ctx, id, "n", st))
		st["v"] = state.Int(99)

		cp, err := store.Load(ctx, id)
		require.NoError(t, err)
		assert.True(t, cp.State["v"].Equal(state.Int(1)))
	})

	t.Run("Delete", func(t *testing.T) {
		id := thread("delete")
		require.NoError(t, store.Save(ctx, id, "n", state.Map{}))
		require.NoError(t, store.Delete(ctx, id))

		_, err := store.Load(ctx, id)
		assert.ErrorIs(t, err, checkpoint.ErrNotFound)

		// deleting twice is fine
		assert.NoError(t, store.Delete(ctx, id))
	})

	t.Run("Invalid Thread ID", func(t *testing.T) {
		err := store.Save(ctx, "", "n", state.Map{})
		assert.ErrorIs(t, err, checkpoint.ErrInvalidThreadID)

		_, err = store.Load(ctx, strings.Repeat("x", checkpoint.MaxThreadIDLength+1))
		assert.ErrorIs(t, err, checkpoint.ErrInvalidThreadID)
	})

	t.Run("Concurrent Saves", func(t *testing.T) {
		id := thread("concurrent")
		const writers = 8

		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, store.Save(ctx, id, fmt.Sprintf("w%d", i), state.Map{"w": state.Int(i)}))
			}(i)
		}
		wg.Wait()

		history, err := store.History(ctx, id)
		require.NoError(t, err)
		require.Len(t, history, writers)
		seen := make(map[int]bool)
		for _, cp := range history {
			seen[cp.Sequence] = true
		}
		assert.Len(t, seen, writers, "sequences must be unique")
	})
}
