package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ddlCaptureSessions creates the session ledger table.
const ddlCaptureSessions = `
CREATE TABLE IF NOT EXISTS capture_sessions (
    id          TEXT         PRIMARY KEY,
    location    TEXT         NOT NULL DEFAULT '',
    started_at  TIMESTAMPTZ  NOT NULL,
    ended_at    TIMESTAMPTZ  NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_capture_sessions_started_at
    ON capture_sessions (started_at DESC);`

// PostgresLedger is a [Ledger] backed by a PostgreSQL capture_sessions table.
// All methods are safe for concurrent use.
type PostgresLedger struct {
	pool *pgxpool.Pool
}

var _ Ledger = (*PostgresLedger)(nil)

// NewPostgres establishes a connection pool to the database at dsn, verifies
// connectivity, and ensures the ledger schema exists.
func NewPostgres(ctx context.Context, dsn string) (*PostgresLedger, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}

	if _, err := pool.Exec(ctx, ddlCaptureSessions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ledger: migrate: %w", err)
	}

	return &PostgresLedger{pool: pool}, nil
}

// Append implements [Ledger].
func (l *PostgresLedger) Append(ctx context.Context, rec Record) error {
	const q = `
		INSERT INTO capture_sessions (id, location, started_at, ended_at)
		VALUES ($1, $2, $3, $4)`

	_, err := l.pool.Exec(ctx, q, rec.ID, rec.Location, rec.StartedAt, rec.EndedAt)
	if err != nil {
		return fmt.Errorf("ledger: append: %w", err)
	}
	return nil
}

// Recent implements [Ledger].
func (l *PostgresLedger) Recent(ctx context.Context, limit int) ([]Record, error) {
	const q = `
		SELECT id, location, started_at, ended_at
		FROM   capture_sessions
		ORDER  BY started_at DESC
		LIMIT  $1`

	rows, err := l.pool.Query(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: recent: %w", err)
	}

	recs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var r Record
		err := row.Scan(&r.ID, &r.Location, &r.StartedAt, &r.EndedAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("ledger: scan rows: %w", err)
	}
	if recs == nil {
		recs = []Record{}
	}
	return recs, nil
}

// Ping verifies database connectivity, for health checks.
func (l *PostgresLedger) Ping(ctx context.Context) error {
	return l.pool.Ping(ctx)
}

// Close releases all connections held by the underlying pool.
func (l *PostgresLedger) Close() {
	l.pool.Close()
}
