package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/UnknownOlympus/themis/internal/config"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	connectTimeout    = 5 * time.Second
	maxConnIdleTime   = 30 * time.Second
	healthCheckPeriod = 30 * time.Second
	defaultMinConns   = 3
)

// Database is the subset of pgxpool.Pool the stores use, so tests can swap in pgxmock.
type Database interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PoolOptions tunes a connection pool.
type PoolOptions struct {
	AppName  string // reported as application_name in pg_stat_activity
	ReadOnly bool   // every transaction is read only, for the CRM replica
	MinConns int32  // zero means defaultMinConns
}

// NewDatabase opens a PostgreSQL pool for cfg and checks it with a ping.
// The ticket database and the directory replica both go through here.
func NewDatabase(ctx context.Context, cfg config.PostgresConfig, opts PoolOptions) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL("postgres"))
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}

	poolConfig.MinConns = defaultMinConns
	if opts.MinConns > 0 {
		poolConfig.MinConns = opts.MinConns
	}
	poolConfig.MaxConnIdleTime = maxConnIdleTime
	poolConfig.HealthCheckPeriod = healthCheckPeriod

	params := poolConfig.ConnConfig.RuntimeParams
	if opts.AppName != "" {
		params["application_name"] = opts.AppName
	}
	if opts.ReadOnly {
		params["default_transaction_read_only"] = "on"
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	dbpool, err := pgxpool.NewWithConfig(connectCtx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection to PostgreSQL: %w", err)
	}

	if err = dbpool.Ping(connectCtx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL DB %s: %w", cfg.Name, err)
	}

	return dbpool, nil
}
