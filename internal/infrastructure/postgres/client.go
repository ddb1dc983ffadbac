package postgres

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ClientConfig holds configuration for the PostgreSQL client.
type ClientConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// ApplicationName shows up in pg_stat_activity.
	ApplicationName string
	// StatementTimeout bounds a single UPDATE of the rewriter. Zero leaves
	// the server default.
	StatementTimeout time.Duration
	// LockTimeout bounds waiting on row locks held by the platform.
	LockTimeout time.Duration
}

// DefaultClientConfig returns settings for a maintenance worker: a few
// connections, short-lived, with bounded statements.
func DefaultClientConfig(dsn string) ClientConfig {
	return ClientConfig{
		DSN:              dsn,
		MaxConns:         4,
		MinConns:         0,
		MaxConnLifetime:  30 * time.Minute,
		MaxConnIdleTime:  5 * time.Minute,
		ApplicationName:  "vidmaint",
		StatementTimeout: 2 * time.Minute,
		LockTimeout:      10 * time.Second,
	}
}

// Client wraps the connection pool used by the catalog and the rewriter.
type Client struct {
	pool *pgxpool.Pool
}

// NewClient connects and pings the database.
func NewClient(ctx context.Context, cfg ClientConfig) (*Client, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DSN: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	for k, v := range runtimeParams(cfg) {
		poolConfig.ConnConfig.RuntimeParams[k] = v
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{pool: pool}, nil
}

// runtimeParams maps the config to session settings sent at connect time.
func runtimeParams(cfg ClientConfig) map[string]string {
	params := make(map[string]string)
	if cfg.ApplicationName != "" {
		params["application_name"] = cfg.ApplicationName
	}
	if cfg.StatementTimeout > 0 {
		params["statement_timeout"] = strconv.FormatInt(cfg.StatementTimeout.Milliseconds(), 10)
	}
	if cfg.LockTimeout > 0 {
		params["lock_timeout"] = strconv.FormatInt(cfg.LockTimeout.Milliseconds(), 10)
	}
	return params
}

// Pool returns the underlying connection pool. It satisfies both DBTX and
// TxBeginner.
func (c *Client) Pool() *pgxpool.Pool {
	return c.pool
}

// Ping verifies the database connection is alive.
func (c *Client) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// Close closes all connections in the pool.
func (c *Client) Close() {
	c.pool.Close()
}
