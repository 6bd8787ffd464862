// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/screencrawl/internal/store"
)

// Schema creates the tables RunStore writes to.
const Schema = `
CREATE TABLE IF NOT EXISTS capture_runs (
	job_id        UUID PRIMARY KEY,
	started_at    TIMESTAMPTZ NOT NULL,
	finished_at   TIMESTAMPTZ,
	status        TEXT NOT NULL,
	pages         INTEGER NOT NULL DEFAULT 0,
	artifacts     INTEGER NOT NULL DEFAULT 0,
	document_url  TEXT,
	error_message TEXT
);
CREATE TABLE IF NOT EXISTS capture_artifacts (
	job_id       UUID NOT NULL REFERENCES capture_runs (job_id) ON DELETE CASCADE,
	source_url   TEXT NOT NULL,
	sequence     INTEGER NOT NULL,
	format       TEXT NOT NULL,
	artifact_url TEXT NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);`

// RunStoreConfig controls the Postgres connection pool.
type RunStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Ping(context.Context) error
	Close()
}

// RunStore implements store.RunRepository on Postgres.
type RunStore struct {
	pool dbPool
}

var _ store.RunRepository = (*RunStore)(nil)

// NewRunStore connects a pool using cfg.
func NewRunStore(ctx context.Context, cfg RunStoreConfig) (*RunStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &RunStore{pool: pool}, nil
}

// NewRunStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewRunStoreWithPool(pool dbPool) (*RunStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	return &RunStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *RunStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies the database is reachable.
func (s *RunStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping run store: %w", err)
	}
	return nil
}

// EnsureSchema creates the run tables when they are missing.
func (s *RunStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// StartRun inserts a running row for jobID.
func (s *RunStore) StartRun(ctx context.Context, jobID uuid.UUID, startedAt time.Time) error {
	const query = `
INSERT INTO capture_runs (job_id, started_at, status)
VALUES ($1, $2, $3)
ON CONFLICT (job_id) DO NOTHING`
	if _, err := s.pool.Exec(ctx, query, jobID, startedAt, string(store.RunRunning)); err != nil {
		return fmt.Errorf("insert capture run: %w", err)
	}
	return nil
}

// RecordArtifacts inserts all records in one transaction.
func (s *RunStore) RecordArtifacts(ctx context.Context, records []store.ArtifactRecord) (err error) {
	if len(records) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin artifact tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()
	const query = `
INSERT INTO capture_artifacts (job_id, source_url, sequence, format, artifact_url, created_at)
VALUES ($1, $2, $3, $4, $5, $6)`
	for _, rec := range records {
		if _, err = tx.Exec(ctx, query,
			rec.JobID, rec.SourceURL, rec.Sequence, rec.Format, rec.ArtifactURL, rec.CreatedAt,
		); err != nil {
			return fmt.Errorf("insert capture artifact: %w", err)
		}
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit artifact tx: %w", err)
	}
	return nil
}

// CompleteRun records the terminal state of jobID.
func (s *RunStore) CompleteRun(ctx context.Context, jobID uuid.UUID, done store.RunCompletion) error {
	const query = `
UPDATE capture_runs
SET finished_at = $1, status = $2, pages = $3, artifacts = $4, document_url = $5, error_message = $6
WHERE job_id = $7`
	_, err := s.pool.Exec(ctx, query,
		done.FinishedAt, string(done.Status), done.Pages, done.Artifacts, done.DocumentURL, done.ErrorMessage, jobID,
	)
	if err != nil {
		return fmt.Errorf("complete capture run: %w", err)
	}
	return nil
}

// GetRun loads a run by job ID.
func (s *RunStore) GetRun(ctx context.Context, jobID uuid.UUID) (store.Run, error) {
	const query = `
SELECT job_id, started_at, finished_at, status, pages, artifacts, document_url, error_message
FROM capture_runs
WHERE job_id = $1`
	var (
		run    store.Run
		status string
	)
	err := s.pool.QueryRow(ctx, query, jobID).Scan(
		&run.JobID,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.Pages,
		&run.Artifacts,
		&run.DocumentURL,
		&run.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Run{}, store.ErrNotFound
		}
		return store.Run{}, fmt.Errorf("get capture run: %w", err)
	}
	run.Status = store.RunStatus(status)
	return run, nil
}
