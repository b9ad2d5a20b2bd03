// Package database owns the PostgreSQL pool and the embedded schema.
package database

import (
	"context"
	"fmt"
	"time"

	"github.com/bloodnet/platform/internal/shared/config"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	connectAttempts = 3
	connectBackoff  = time.Second
)

// DB wraps the pgx pool
type DB struct {
	Pool *pgxpool.Pool
}

// New opens the pool and pings it, retrying briefly while the server is
// still coming up.
func New(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	if poolConfig.MaxConns <= 0 {
		poolConfig.MaxConns = 25
	}
	poolConfig.MinConns = min(2, poolConfig.MaxConns)
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	for attempt := 1; ; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = pool.Ping(pingCtx)
		cancel()
		if err == nil {
			return &DB{Pool: pool}, nil
		}
		if attempt == connectAttempts {
			break
		}
		select {
		case <-time.After(connectBackoff * time.Duration(attempt)):
		case <-ctx.Done():
			pool.Close()
			return nil, ctx.Err()
		}
	}
	pool.Close()
	return nil, fmt.Errorf("failed to reach %s:%d after %d attempts: %w", cfg.Host, cfg.Port, connectAttempts, err)
}

// Close closes the pool
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
	}
}

// Health pings the server
func (db *DB) Health(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}

// Connections is the number of connections the pool currently holds
func (db *DB) Connections() int {
	return int(db.Pool.Stat().TotalConns())
}
