// Package checkpoint provides the persistence contract the engine uses for
// per-step checkpoints, plus memory, JSONL file, SQLite, Redis and Postgres
// strategies.
package checkpoint

import (
	"context"
	"errors"
	"fmt"

	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

// MaxThreadIDLength bounds thread identifiers.
const MaxThreadIDLength = 200

// Checkpointer is the collaborator consumed by the engine.
// Implementations must be safe for concurrent use.
type Checkpointer interface {
	// Save appends a checkpoint for the thread. The newest save is what
	// Load returns.
	Save(ctx context.Context, threadID, node string, st state.Map) error

	// Load returns the most recent checkpoint of a thread.
	// Returns ErrNotFound if the thread has none.
	Load(ctx context.Context, threadID string) (*Checkpoint, error)

	// History returns every checkpoint of a thread in save order.
	// Returns an empty slice (not an error) if the thread has none.
	History(ctx context.Context, threadID string) ([]Checkpoint, error)
}

// Store is a Checkpointer that owns resources and supports cleanup.
type Store interface {
	Checkpointer

	// Delete removes all checkpoints of a thread.
	// Returns nil if the thread has none.
	Delete(ctx context.Context, threadID string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Sentinel errors for checkpoint operations.
var (
	// ErrNotFound indicates a thread has no checkpoint.
	ErrNotFound = errors.New("checkpoint not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("checkpoint store closed")

	// ErrInvalidThreadID indicates an empty or overlong thread id.
	ErrInvalidThreadID = errors.New("invalid thread id")

	// ErrUnsupportedScheme indicates Open was given an unknown URI scheme.
	ErrUnsupportedScheme = errors.New("unsupported checkpoint scheme")
)

// ValidateThreadID checks that id is non-empty and at most
// MaxThreadIDLength characters.
func ValidateThreadID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: must not be empty", ErrInvalidThreadID)
	}
	if n := len([]rune(id)); n > MaxThreadIDLength {
		return fmt.Errorf("%w: %d characters exceeds %d", ErrInvalidThreadID, n, MaxThreadIDLength)
	}
	return nil
}
