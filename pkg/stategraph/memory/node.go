package memory

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/stategraph/pkg/stategraph"
	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

// Recall returns a node that copies the value stored under key into field.
// A missing key leaves the state unchanged.
func Recall(store Store, key, field string) stategraph.HandlerFunc {
	return func(ctx stategraph.Context, _ state.Map, _ stategraph.RunConfig) (state.Map, error) {
		v, err := store.Get(ctx, key)
		if errors.Is(err, ErrNotFound) {
			ctx.Logger().Debug("nothing to recall", "key", key)
			return state.Map{}, nil
		}
		if err != nil {
			return nil, fmt.Errorf("recall %q: %w", key, err)
		}
		return state.Map{field: v}, nil
	}
}

// Remember returns a node that stores field under key. An unset field is
// skipped.
func Remember(store Store, field, key string) stategraph.HandlerFunc {
	return func(ctx stategraph.Context, st state.Map, _ stategraph.RunConfig) (state.Map, error) {
		v, ok := st[field]
		if !ok {
			ctx.Logger().Debug("nothing to remember", "field", field)
			return state.Map{}, nil
		}
		if err := store.Set(ctx, key, v); err != nil {
			return nil, fmt.Errorf("remember %q: %w", key, err)
		}
		return state.Map{}, nil
	}
}
