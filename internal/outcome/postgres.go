package outcome

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema is the SQL DDL for the interview_outcomes table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS interview_outcomes (
    id             UUID PRIMARY KEY,
    correlation_id TEXT NOT NULL DEFAULT '',
    started_at     TIMESTAMPTZ NOT NULL,
    ended_at       TIMESTAMPTZ NOT NULL,
    outcome        TEXT NOT NULL,
    answer         TEXT NOT NULL DEFAULT '',
    phases         JSONB NOT NULL DEFAULT '[]',
    prompts        INTEGER NOT NULL DEFAULT 0,
    utterances     JSONB NOT NULL DEFAULT '[]',
    error          TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_interview_outcomes_started ON interview_outcomes(started_at DESC);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy it.
type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore is a [Store] backed by PostgreSQL.
type PostgresStore struct {
	db DB
}

var (
	_ Store  = (*PostgresStore)(nil)
	_ Pinger = (*PostgresStore)(nil)
)

// NewPostgresStore returns a store using db. Call [PostgresStore.Migrate]
// before the first save.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// OpenPostgres connects a pool to dsn, pings it and applies [Schema]. The
// returned close function releases the pool.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, func(), error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("outcome: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("outcome: ping: %w", err)
	}
	s := NewPostgresStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return s, pool.Close, nil
}

// Migrate executes [Schema].
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("outcome: migrate: %w", err)
	}
	return nil
}

// Save inserts rec. Saving the same ID twice is a no-op.
func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	phases, err := json.Marshal(emptySlice(rec.Phases))
	if err != nil {
		return fmt.Errorf("outcome: marshal phases: %w", err)
	}
	utterances, err := json.Marshal(emptySlice(rec.Utterances))
	if err != nil {
		return fmt.Errorf("outcome: marshal utterances: %w", err)
	}

	const query = `
		INSERT INTO interview_outcomes (
			id, correlation_id, started_at, ended_at, outcome,
			answer, phases, prompts, utterances, error
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (id) DO NOTHING`

	_, err = s.db.Exec(ctx, query,
		rec.ID, rec.CorrelationID, rec.StartedAt, rec.EndedAt, rec.Outcome,
		rec.Answer, phases, rec.Prompts, utterances, rec.Error,
	)
	if err != nil {
		return fmt.Errorf("outcome: save %s: %w", rec.ID, err)
	}
	return nil
}

// Recent returns up to limit records, newest first.
func (s *PostgresStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	const query = `
		SELECT id::text, correlation_id, started_at, ended_at, outcome,
		       answer, phases, prompts, utterances, error
		FROM interview_outcomes
		ORDER BY started_at DESC
		LIMIT $1`

	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("outcome: recent: %w", err)
	}
	defer rows.Close()

	var recs []Record
	for rows.Next() {
		var rec Record
		var phases, utterances []byte
		if err := rows.Scan(
			&rec.ID, &rec.CorrelationID, &rec.StartedAt, &rec.EndedAt, &rec.Outcome,
			&rec.Answer, &phases, &rec.Prompts, &utterances, &rec.Error,
		); err != nil {
			return nil, fmt.Errorf("outcome: scan: %w", err)
		}
		if err := json.Unmarshal(phases, &rec.Phases); err != nil {
			return nil, fmt.Errorf("outcome: unmarshal phases: %w", err)
		}
		if err := json.Unmarshal(utterances, &rec.Utterances); err != nil {
			return nil, fmt.Errorf("outcome: unmarshal utterances: %w", err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("outcome: recent: %w", err)
	}
	return recs, nil
}

func emptySlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// Ping runs a trivial statement to confirm the database answers.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, "SELECT 1"); err != nil {
		return fmt.Errorf("outcome: ping: %w", err)
	}
	return nil
}
