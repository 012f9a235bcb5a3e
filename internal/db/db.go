package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Schema holds the submission records mirrored from the result log, one row
// per accepted transaction, grouped by load run.
const Schema = `
CREATE SCHEMA IF NOT EXISTS relayload;

CREATE TABLE IF NOT EXISTS relayload.submissions (
	run_id    TEXT        NOT NULL,
	job_id    BIGINT      NOT NULL,
	file_name TEXT        NOT NULL,
	created   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (run_id, job_id)
);

CREATE INDEX IF NOT EXISTS submissions_created_idx ON relayload.submissions (created);
`

type execer interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
}

// Connect opens a small pool for the record mirror and verifies it with a ping
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	// a single consumer writes; a few extra conns serve /healthz pings
	cfg.MaxConns = 4
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	ctxPing, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctxPing); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the relayload schema and tables if they are missing
func EnsureSchema(ctx context.Context, db execer) error {
	if _, err := db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
