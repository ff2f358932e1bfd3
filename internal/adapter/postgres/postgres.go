// Package postgres provides the pgx connection pool, the goose migration
// runner, and the durable Store behind task claims, negotiations, and the
// prediction ledger.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib" // database/sql driver for goose
	"github.com/pressly/goose/v3"

	"github.com/signaldesk/signaldesk/internal/config"
)

// Schema migrations ship inside the binary so a deploy can never run
// against a database it does not know how to shape.
//
//go:embed migrations/*.sql
var schemaFS embed.FS

const migrationsDir = "migrations"

// NewPool opens a pgx pool with the configured sizing and verifies the
// database is reachable before handing it to callers.
func NewPool(ctx context.Context, cfg config.Postgres) (*pgxpool.Pool, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	pc.MaxConns = cfg.MaxConns
	pc.MinConns = cfg.MinConns
	pc.MaxConnLifetime = cfg.MaxConnLifetime
	pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	pc.HealthCheckPeriod = cfg.HealthCheck

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return pool, nil
}

// withGoose opens a database/sql handle for goose, points it at the
// embedded migration files, and closes the handle when fn returns.
func withGoose(dsn string, fn func(db *sql.DB) error) error {
	goose.SetBaseFS(schemaFS)

	db, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer func() { _ = db.Close() }()

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	return fn(db)
}

// RunMigrations brings the schema up to the latest embedded version.
func RunMigrations(ctx context.Context, dsn string) error {
	return withGoose(dsn, func(db *sql.DB) error {
		if err := goose.UpContext(ctx, db, migrationsDir); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		return nil
	})
}

// RollbackMigrations steps the schema back by the given number of versions.
func RollbackMigrations(ctx context.Context, dsn string, steps int) error {
	return withGoose(dsn, func(db *sql.DB) error {
		for range steps {
			if err := goose.DownContext(ctx, db, migrationsDir); err != nil {
				return fmt.Errorf("migrate down: %w", err)
			}
		}
		return nil
	})
}

// MigrationVersion reports the schema version recorded in the database.
func MigrationVersion(ctx context.Context, dsn string) (int64, error) {
	var version int64
	err := withGoose(dsn, func(db *sql.DB) error {
		v, err := goose.GetDBVersionContext(ctx, db)
		if err != nil {
			return fmt.Errorf("read version: %w", err)
		}
		version = v
		return nil
	})
	return version, err
}
