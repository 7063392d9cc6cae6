// Package checkpoint persists terminal run snapshots to Postgres so
// finished research is queryable after the worker restarts.
package checkpoint

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/quillworks/quill/internal/state"
)

// ErrNotFound is returned when no snapshot exists for a run.
var ErrNotFound = errors.New("run not found")

// Snapshot wraps a FinalState for JSONB storage.
type Snapshot struct {
	*state.FinalState
}

// Value implements driver.Valuer.
func (s Snapshot) Value() (driver.Value, error) {
	return json.Marshal(s.FinalState)
}

// Scan implements sql.Scanner.
func (s *Snapshot) Scan(src interface{}) error {
	if src == nil {
		return nil
	}
	b, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("snapshot: unexpected type %T", src)
	}
	s.FinalState = &state.FinalState{}
	return json.Unmarshal(b, s.FinalState)
}

// RunRecord is one persisted run.
type RunRecord struct {
	RunID       string    `db:"run_id"`
	Topic       string    `db:"topic"`
	Status      string    `db:"status"`
	Document    string    `db:"document"`
	SourceCount int       `db:"source_count"`
	DurationMS  int64     `db:"duration_ms"`
	FailedStage string    `db:"failed_stage"`
	FailReason  string    `db:"fail_reason"`
	Snapshot    Snapshot  `db:"snapshot"`
	CreatedAt   time.Time `db:"created_at"`
}

// Store reads and writes run snapshots.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open connects to Postgres and verifies the connection.
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)
	return NewStore(db, logger), nil
}

// DB exposes the underlying pool for health checks.
func (s *Store) DB() *sqlx.DB { return s.db }

// NewStore wraps an existing connection pool.
func NewStore(db *sqlx.DB, logger *zap.Logger) *Store {
	return &Store{db: db, logger: logger}
}

// Close releases the pool.
func (s *Store) Close() error { return s.db.Close() }

const saveQuery = `
INSERT INTO research_runs
    (run_id, topic, status, document, source_count, duration_ms, failed_stage, fail_reason, snapshot, created_at)
VALUES
    ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (run_id) DO UPDATE SET
    status = EXCLUDED.status,
    document = EXCLUDED.document,
    source_count = EXCLUDED.source_count,
    duration_ms = EXCLUDED.duration_ms,
    failed_stage = EXCLUDED.failed_stage,
    fail_reason = EXCLUDED.fail_reason,
    snapshot = EXCLUDED.snapshot`

// SaveFinal upserts the terminal snapshot for a run.
func (s *Store) SaveFinal(ctx context.Context, fs *state.FinalState) error {
	_, err := s.db.ExecContext(ctx, saveQuery,
		fs.RunID,
		fs.Topic,
		string(fs.Status),
		fs.Document,
		fs.SourceCount,
		fs.Duration.Milliseconds(),
		string(fs.FailedStage),
		fs.FailReason,
		Snapshot{FinalState: fs},
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("save run %s: %w", fs.RunID, err)
	}
	s.logger.Info("run snapshot saved",
		zap.String("run_id", fs.RunID),
		zap.String("status", string(fs.Status)),
	)
	return nil
}

const getQuery = `
SELECT run_id, topic, status, document, source_count, duration_ms, failed_stage, fail_reason, snapshot, created_at
FROM research_runs WHERE run_id = $1`

// Get loads one run's snapshot.
func (s *Store) Get(ctx context.Context, runID string) (*RunRecord, error) {
	var rec RunRecord
	if err := s.db.GetContext(ctx, &rec, getQuery, runID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return &rec, nil
}

const listQuery = `
SELECT run_id, topic, status, document, source_count, duration_ms, failed_stage, fail_reason, snapshot, created_at
FROM research_runs ORDER BY created_at DESC LIMIT $1`

// List returns the most recent runs.
func (s *Store) List(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var recs []RunRecord
	if err := s.db.SelectContext(ctx, &recs, listQuery, limit); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return recs, nil
}
