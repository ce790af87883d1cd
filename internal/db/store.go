package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reqstat/backend/internal/models"
)

const (
	RunStatusRunning = "RUNNING"
	RunStatusSuccess = "SUCCESS"
	RunStatusFailed  = "FAILED"
)

const schema = `
CREATE TABLE IF NOT EXISTS aggregation_runs (
	id           UUID PRIMARY KEY,
	source       TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	status       TEXT NOT NULL,
	started_at   TIMESTAMPTZ NOT NULL,
	finished_at  TIMESTAMPTZ,
	summary      JSONB
);
CREATE INDEX IF NOT EXISTS aggregation_runs_started_at_idx ON aggregation_runs (started_at DESC);
`

type Store struct {
	Pool *pgxpool.Pool
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{Pool: pool}, nil
}

func (s *Store) Close() {
	s.Pool.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.Pool.Ping(ctx)
}

// Migrate creates the run history table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	return s.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, schema)
		return err
	})
}

func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) CreateRun(ctx context.Context, source, contentHash string) (string, error) {
	id := uuid.NewString()
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO aggregation_runs (id, source, content_hash, status, started_at)
		VALUES ($1, $2, $3, $4, NOW())
	`, id, source, contentHash, RunStatusRunning)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) FinishRun(ctx context.Context, runID string, status string, summary []byte) error {
	_, err := s.Pool.Exec(ctx, `UPDATE aggregation_runs SET status = $1, summary = $2, finished_at = NOW() WHERE id = $3`, status, summary, runID)
	return err
}

func (s *Store) GetLatestRun(ctx context.Context) (models.Run, error) {
	runs, err := s.ListRuns(ctx, 1)
	if err != nil {
		return models.Run{}, err
	}
	if len(runs) == 0 {
		return models.Run{}, pgx.ErrNoRows
	}
	return runs[0], nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]models.Run, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT id::text, source, content_hash, status, started_at, finished_at, summary
		FROM aggregation_runs
		ORDER BY started_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []models.Run{}
	for rows.Next() {
		var (
			r        models.Run
			finished *time.Time
			summary  []byte
		)
		if err := rows.Scan(&r.ID, &r.Source, &r.ContentHash, &r.Status, &r.StartedAt, &finished, &summary); err != nil {
			return nil, err
		}
		r.FinishedAt = finished
		if len(summary) > 0 {
			r.Summary = json.RawMessage(summary)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
