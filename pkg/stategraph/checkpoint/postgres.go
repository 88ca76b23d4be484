package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/randalmurphal/stategraph/pkg/stategraph/state"
)

const postgresSchemaSQL = `
CREATE TABLE IF NOT EXISTS stategraph_checkpoints (
    id         BIGSERIAL PRIMARY KEY,
    thread_id  TEXT NOT NULL,
    node       TEXT NOT NULL,
    sequence   INTEGER NOT NULL,
    state      JSONB NOT NULL DEFAULT '{}',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE (thread_id, sequence)
);

CREATE INDEX IF NOT EXISTS idx_stategraph_checkpoints_thread ON stategraph_checkpoints(thread_id, sequence);
`

// PostgresStore persists checkpoints to PostgreSQL via pgx.
type PostgresStore struct {
	db    *pgxpool.Pool
	owned bool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a store backed by the given pool.
// Call CreateSchema once before use.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgresStore connects to dsn and creates the schema.
// The returned store closes the pool on Close.
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &PostgresStore{db: pool, owned: true}
	if err := s.CreateSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return s, nil
}

// CreateSchema creates the checkpoint table if it doesn't exist.
func (s *PostgresStore) CreateSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, postgresSchemaSQL)
	return err
}

// DropSchema drops the checkpoint table.
func (s *PostgresStore) DropSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DROP TABLE IF EXISTS stategraph_checkpoints;`)
	return err
}

// Save implements Checkpointer.
func (s *PostgresStore) Save(ctx context.Context, threadID, node string, st state.Map) error {
	if err := ValidateThreadID(threadID); err != nil {
		return err
	}

	data, err := json.Marshal(st.Clone())
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialize sequence allocation per thread.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, threadID); err != nil {
		return fmt.Errorf("lock thread: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO stategraph_checkpoints (thread_id, node, sequence, state)
		VALUES ($1, $2,
			COALESCE((SELECT MAX(sequence) FROM stategraph_checkpoints WHERE thread_id = $1), 0) + 1,
			$3)`,
		threadID, node, data,
	)
	if err != nil {
		return fmt.Errorf("insert checkpoint: %w", err)
	}

	return tx.Commit(ctx)
}

// Load implements Checkpointer.
func (s *PostgresStore) Load(ctx context.Context, threadID string) (*Checkpoint, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}

	row := s.db.QueryRow(ctx, `
		SELECT node, sequence, state, created_at FROM stategraph_checkpoints
		WHERE thread_id = $1
		ORDER BY sequence DESC
		LIMIT 1`, threadID)

	cp, err := scanPostgresCheckpoint(threadID, row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	return cp, nil
}

// History implements Checkpointer.
func (s *PostgresStore) History(ctx context.Context, threadID string) ([]Checkpoint, error) {
	if err := ValidateThreadID(threadID); err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
		SELECT node, sequence, state, created_at FROM stategraph_checkpoints
		WHERE thread_id = $1
		ORDER BY sequence`, threadID)
	if err != nil {
		return nil, fmt.Errorf("list checkpoints: %w", err)
	}
	defer rows.Close()

	cps := []Checkpoint{}
	for rows.Next() {
		cp, err := scanPostgresCheckpoint(threadID, rows)
		if err != nil {
			return nil, fmt.Errorf("scan checkpoint: %w", err)
		}
		cps = append(cps, *cp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate checkpoints: %w", err)
	}
	return cps, nil
}

// Delete implements Store.
func (s *PostgresStore) Delete(ctx context.Context, threadID string) error {
	_, err := s.db.Exec(ctx, `DELETE FROM stategraph_checkpoints WHERE thread_id = $1`, threadID)
	if err != nil {
		return fmt.Errorf("delete checkpoints: %w", err)
	}
	return nil
}

// Close implements Store.
func (s *PostgresStore) Close() error {
	if s.owned {
		s.db.Close()
	}
	return nil
}

func scanPostgresCheckpoint(threadID string, row pgx.Row) (*Checkpoint, error) {
	var (
		cp   Checkpoint
		data []byte
	)
	if err := row.Scan(&cp.Node, &cp.Sequence, &data, &cp.Timestamp); err != nil {
		return nil, err
	}
	cp.Version = Version
	cp.ThreadID = threadID
	if err := json.Unmarshal(data, &cp.State); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	if cp.State == nil {
		cp.State = state.Map{}
	}
	return &cp, nil
}
