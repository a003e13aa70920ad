package clickhouse

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"costwatch/internal/adapters/config"
)

// CostEventsDDL creates the cost event log. ReplacingMergeTree on id makes
// re-sent batches idempotent after merges.
const CostEventsDDL = `
	CREATE TABLE IF NOT EXISTS cost_events (
		id           String,
		work_unit_id String,
		owner_id     String,
		cost_type    LowCardinality(String),
		amount       Decimal(20, 8),
		operation    String,
		occurred_at  DateTime64(6, 'UTC'),
		metadata     Map(String, String),
		inserted_at  DateTime64(9, 'UTC') DEFAULT now64(9)
	) ENGINE = ReplacingMergeTree
	ORDER BY (owner_id, occurred_at, id)
`

// Client wraps ClickHouse connection
type Client struct {
	conn driver.Conn
}

// NewClient creates a new ClickHouse client
func NewClient(ctx context.Context, cfg config.ClickHouseConfig) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	// Verify connection
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	return &Client{conn: conn}, nil
}

// Conn returns the underlying ClickHouse connection
func (c *Client) Conn() driver.Conn {
	return c.conn
}

// Close closes the ClickHouse connection
func (c *Client) Close() error {
	return c.conn.Close()
}

// Health checks ClickHouse connectivity
func (c *Client) Health(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

// Exec executes a query without returning rows
func (c *Client) Exec(ctx context.Context, query string, args ...interface{}) error {
	return c.conn.Exec(ctx, query, args...)
}

// Migrate creates the tables the cost event repository writes to
func (c *Client) Migrate(ctx context.Context) error {
	if err := c.conn.Exec(ctx, CostEventsDDL); err != nil {
		return fmt.Errorf("failed to create cost_events: %w", err)
	}
	return nil
}
