// Package db opens the PostgreSQL pool backing story view and audit storage.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

// RequiredTables are the tables created by migrations/ that the service reads and writes.
var RequiredTables = []string{"story_views", "audit_logs"}

// ErrSchemaMissing is returned when a required table has not been migrated.
var ErrSchemaMissing = errors.New("database schema missing")

// PoolConfig tunes the connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	PingTimeout     time.Duration
}

// DefaultPoolConfig returns the pool settings used by cmd/api.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 30 * time.Minute,
		PingTimeout:     5 * time.Second,
	}
}

// Open connects to url, applies the pool settings, and pings the server.
func Open(ctx context.Context, url string, cfg PoolConfig) (*sql.DB, error) {
	if url == "" {
		return nil, errors.New("database url is empty")
	}
	conn, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	timeout := cfg.PingTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return conn, nil
}

// VerifySchema checks that every table in RequiredTables exists.
func VerifySchema(ctx context.Context, conn *sql.DB) error {
	for _, table := range RequiredTables {
		var name sql.NullString
		if err := conn.QueryRowContext(ctx, "SELECT to_regclass($1)::text", "public."+table).Scan(&name); err != nil {
			return fmt.Errorf("check table %s: %w", table, err)
		}
		if !name.Valid {
			return fmt.Errorf("%w: table %s not found (run migrations)", ErrSchemaMissing, table)
		}
	}
	return nil
}
