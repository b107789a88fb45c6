package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"price-divergence/internal/config"
	"price-divergence/internal/sample"
)

// ObservationWriter appends paired observations.
type ObservationWriter interface {
	// AppendObservation stores exactly one record per call; identical observations are not deduplicated.
	AppendObservation(ctx context.Context, obs sample.PairedObservation) (StoredRecord, error)
}

// WindowReader computes per-asset mean prices over a trade-time range.
type WindowReader interface {
	// AverageOverWindow averages each asset over its own trade-time column within [from, to].
	AverageOverWindow(ctx context.Context, from, to time.Time) (WindowAverage, error)
}

// Session is the storage handle for one tracking attempt.
type Session interface {
	ObservationWriter
	WindowReader
	Close()
}

// SessionOpener hands out fresh sessions.
type SessionOpener interface {
	OpenSession(ctx context.Context) (Session, error)
}

// Backend is a process-wide storage backend.
type Backend interface {
	SessionOpener
	Close()
}

// NewPool configures a PostgreSQL connection pool from runtime settings.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database.dsn is required")
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse database dsn: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		poolConfig.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolConfig.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.ConnMaxLifetime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pgx pool: %w", err)
	}

	return pool, nil
}
