package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

// DefaultRedisPrefix namespaces checkpoint keys.
const DefaultRedisPrefix = "stategraph:checkpoint:"

// RedisStore persists checkpoints in Redis lists, one list per thread.
// Sequence numbers come from a per-thread INCR counter so concurrent
// writers never collide.
type RedisStore struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
	owned  bool
}

var _ Store = (*RedisStore)(nil)

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithRedisTTL sets the expiration applied to a thread's keys on every save.
func WithRedisTTL(ttl time.Duration) RedisOption {
	return func(s *RedisStore) {
		s.ttl = ttl
	}
}

// WithRedisPrefix sets the key prefix.
func WithRedisPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

// NewRedisStore dials addr and creates a store that owns the client.
func NewRedisStore(addr, password string, db int, opts ...RedisOption) *RedisStore {
	client := backend.NewClient(&backend.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	s := NewRedisStoreFromClient(client, opts...)
	s.owned = true
	return s
}

// NewRedisStoreFromClient creates a store on an existing client.
// Close does not close a client it was given.
func NewRedisStoreFromClient(client *backend.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: DefaultRedisPrefix,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Each key kind has its own segment after the prefix, so no thread id can
// name another thread's key or the index.
func (s *RedisStore) listKey(threadID string) string {
	return s.prefix + "thread:" + threadID
}

func (s *RedisStore) seqKey(threadID string) string {
	return s.prefix + "seq:" + threadID
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "index"
}

// Save implements Checkpointer.
func (s *RedisStore) Save(ctx context.Context, threadID, node string, st state.Map) error {
	if err := ValidateThreadID(threadID); err != nil {
		return err
	}

	seq, err := s.client.Incr(ctx, s.seqKey(threadID)).Result()
	if err != nil {
		return fmt.Errorf("redis incr sequence: %w", err)
	}

	data, err := New(threadID, node, int(seq), st).Marshal()
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, s.listKey(threadID), data)
	pipe.SAdd(ctx, s.indexKey(), threadID)
	if s.ttl > 0 {
		pipe.Expire(ctx, s.listKey(threadID), s.ttl)
		pipe.Expire(ctx, s.seqKey(threadID), s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis save checkpoint: %w", err)
	}
	return nil
}

// Load implements Checkpointer.
func (s *RedisStore) Load(ctx context.Context, threadID string) (*Checkpoint, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}

	data, err := s.client.LIndex(ctx, s.listKey(threadID), -1).Bytes()
	if err == backend.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis load checkpoint: %w", err)
	}

	cp, err := Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}
	return cp, nil
}

// History implements Checkpointer.
func (s *RedisStore) History(ctx context.Context, threadID string) ([]Checkpoint, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}

	items, err := s.client.LRange(ctx, s.listKey(threadID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list checkpoints: %w", err)
	}

	cps := make([]Checkpoint, 0, len(items))
	for i, item := range items {
		var cp Checkpoint
		if err := json.Unmarshal([]byte(item), &cp); err != nil {
			return nil, fmt.Errorf("decode checkpoint %d: %w", i+1, err)
		}
		if cp.State == nil {
			cp.State = state.Map{}
		}
		cps = append(cps, cp)
	}
	return cps, nil
}

// Delete implements Store.
func (s *RedisStore) Delete(ctx context.Context, threadID string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, s.listKey(threadID), s.seqKey(threadID))
	pipe.SRem(ctx, s.indexKey(), threadID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete thread: %w", err)
	}
	return nil
}

// Threads returns the ids of every thread that has been saved, in no
// particular order.
func (s *RedisStore) Threads(ctx context.Context) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.indexKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list threads: %w", err)
	}
	return ids, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}
