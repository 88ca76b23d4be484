package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"

	backend "github.com/redis/go-redis/v9"

	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

// DefaultRedisKey is the hash holding memory entries.
const DefaultRedisKey = "stategraph:memory"

// RedisStore keeps entries as JSON fields of one Redis hash.
type RedisStore struct {
	client *backend.Client
	key    string
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore creates a store on client. An empty hashKey uses
// DefaultRedisKey.
func NewRedisStore(client *backend.Client, hashKey string) *RedisStore {
	if hashKey == "" {
		hashKey = DefaultRedisKey
	}
	return &RedisStore{client: client, key: hashKey}
}

// Get implements Store.
func (r *RedisStore) Get(ctx context.Context, key string) (state.Value, error) {
	if key == "" {
		return state.Null(), ErrEmptyKey
	}
	raw, err := r.client.HGet(ctx, r.key, key).Bytes()
	if errors.Is(err, backend.Nil) {
		return state.Null(), ErrNotFound
	}
	if err != nil {
		return state.Null(), fmt.Errorf("redis hget: %w", err)
	}

	var v state.Value
	if err := v.UnmarshalJSON(raw); err != nil {
		return state.Null(), fmt.Errorf("decode %q: %w", key, err)
	}
	return v, nil
}

// Set implements Store.
func (r *RedisStore) Set(ctx context.Context, key string, value state.Value) error {
	if key == "" {
		return ErrEmptyKey
	}
	raw, err := value.MarshalJSON()
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	if err := r.client.HSet(ctx, r.key, key, raw).Err(); err != nil {
		return fmt.Errorf("redis hset: %w", err)
	}
	return nil
}

// Delete implements Store.
func (r *RedisStore) Delete(ctx context.Context, key string) error {
	if err := r.client.HDel(ctx, r.key, key).Err(); err != nil {
		return fmt.Errorf("redis hdel: %w", err)
	}
	return nil
}

// Keys implements Store.
func (r *RedisStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := r.client.HKeys(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("redis hkeys: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}
