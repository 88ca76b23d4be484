// Package memory provides key-value stores that outlive a single run, plus
// nodes that read and write them.
//
// Checkpoints hold one thread's state; a memory Store holds facts shared
// across threads, such as user preferences an agent should recall.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

var (
	// ErrNotFound indicates a key with no stored value.
	ErrNotFound = errors.New("memory key not found")

	// ErrEmptyKey indicates an operation on the empty key.
	ErrEmptyKey = errors.New("memory key cannot be empty")
)

// Store is a key-value store of state values.
// Implementations are safe for concurrent use.
type Store interface {
	// Get returns the value for key, or ErrNotFound.
	Get(ctx context.Context, key string) (state.Value, error)
	// Set stores value under key, replacing any previous value.
	Set(ctx context.Context, key string, value state.Value) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys returns all stored keys, sorted.
	Keys(ctx context.Context) ([]string, error)
}

// InMemory is a Store backed by a map.
type InMemory struct {
	mu   sync.RWMutex
	data map[string]state.Value
}

var _ Store = (*InMemory)(nil)

// NewInMemory creates an empty in-memory store.
func NewInMemory() *InMemory {
	return &InMemory{data: make(map[string]state.Value)}
}

// Get implements Store.
func (m *InMemory) Get(_ context.Context, key string) (state.Value, error) {
	if key == "" {
		return state.Null(), ErrEmptyKey
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	v, ok := m.data[key]
	if !ok {
		return state.Null(), ErrNotFound
	}
	return v, nil
}

// Set implements Store.
func (m *InMemory) Set(_ context.Context, key string, value state.Value) error {
	if key == "" {
		return ErrEmptyKey
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = value
	return nil
}

// Delete implements Store.
func (m *InMemory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data, key)
	return nil
}

// Keys implements Store.
func (m *InMemory) Keys(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return sortedKeys(m.data), nil
}

func sortedKeys(m map[string]state.Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
