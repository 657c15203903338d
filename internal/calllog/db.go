// Package calllog persists call outcomes to Postgres. It is optional: the
// signaling core works without it, and the runtime only records history
// when a database is configured.
package calllog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Common database errors
var (
	ErrNotFound = errors.New("record not found")
)

// DB wraps the connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// New creates a new database connection pool
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = time.Hour
	config.MaxConnIdleTime = 30 * time.Minute
	config.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// EnsureSchema creates the call history table if it does not exist
func (db *DB) EnsureSchema(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS call_history (
			id               UUID PRIMARY KEY,
			call_id          TEXT NOT NULL,
			caller_id        TEXT NOT NULL,
			callee_id        TEXT NOT NULL,
			call_type        TEXT NOT NULL,
			outcome          TEXT NOT NULL,
			started_at       TIMESTAMPTZ,
			ended_at         TIMESTAMPTZ,
			duration_seconds INTEGER NOT NULL DEFAULT 0,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_call_history_caller ON call_history (caller_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_call_history_callee ON call_history (callee_id, created_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("ensure call history schema: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// Health checks if database is reachable
func (db *DB) Health(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
