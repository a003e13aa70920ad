package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver

	"costwatch/internal/adapters/config"
)

// CostEventsDDL creates the append-only cost event log.
// seq preserves insertion order for events sharing a timestamp.
const CostEventsDDL = `
	CREATE TABLE IF NOT EXISTS cost_events (
		seq          BIGSERIAL PRIMARY KEY,
		id           TEXT NOT NULL UNIQUE,
		work_unit_id TEXT NOT NULL,
		owner_id     TEXT NOT NULL,
		cost_type    TEXT NOT NULL,
		amount       NUMERIC(20, 8) NOT NULL CHECK (amount >= 0),
		operation    TEXT NOT NULL DEFAULT '',
		occurred_at  TIMESTAMPTZ NOT NULL,
		metadata     JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS idx_cost_events_owner_time ON cost_events (owner_id, occurred_at);
	CREATE INDEX IF NOT EXISTS idx_cost_events_unit ON cost_events (work_unit_id, occurred_at);
`

// Client wraps sqlx.DB for PostgreSQL operations
type Client struct {
	db *sqlx.DB
}

// NewClient creates a new PostgreSQL client with connection pooling
func NewClient(ctx context.Context, cfg config.PostgresConfig) (*Client, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MaxConns / 2)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	return &Client{db: db}, nil
}

// DB returns the underlying sqlx.DB instance
func (c *Client) DB() *sqlx.DB {
	return c.db
}

// Close closes the database connection
func (c *Client) Close() error {
	return c.db.Close()
}

// Health checks database connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// Migrate creates the cost event schema
func (c *Client) Migrate(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, CostEventsDDL); err != nil {
		return fmt.Errorf("failed to create cost_events: %w", err)
	}
	return nil
}
