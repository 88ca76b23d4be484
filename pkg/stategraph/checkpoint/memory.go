package checkpoint

import (
	"context"
	"sort"
	"sync"

	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

// MemoryStore is an in-memory checkpoint store for testing.
// Data is lost when the process exits.
type MemoryStore struct {
	mu      sync.RWMutex
	threads map[string][]Checkpoint
	closed  bool
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		threads: make(map[string][]Checkpoint),
	}
}

// Save implements Checkpointer.
func (m *MemoryStore) Save(_ context.Context, threadID, node string, st state.Map) error {
	if err := ValidateThreadID(threadID); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	seq := len(m.threads[threadID]) + 1
	m.threads[threadID] = append(m.threads[threadID], *New(threadID, node, seq, st))
	return nil
}

// Load implements Checkpointer.
func (m *MemoryStore) Load(_ context.Context, threadID string) (*Checkpoint, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	cps := m.threads[threadID]
	if len(cps) == 0 {
		return nil, ErrNotFound
	}
	latest := cps[len(cps)-1]
	latest.State = latest.State.Clone()
	return &latest, nil
}

// History implements Checkpointer.
func (m *MemoryStore) History(_ context.Context, threadID string) ([]Checkpoint, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	cps := m.threads[threadID]
	out := make([]Checkpoint, len(cps))
	for i, cp := range cps {
		cp.State = cp.State.Clone()
		out[i] = cp
	}
	return out, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, threadID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.threads, threadID)
	return nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.threads = nil
	return nil
}

// Threads returns the ids of all threads with checkpoints, sorted.
func (m *MemoryStore) Threads() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.threads))
	for id := range m.threads {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the total number of checkpoints across all threads.
// Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, cps := range m.threads {
		count += len(cps)
	}
	return count
}
