// Package postgres stores snapshots in PostgreSQL. It reuses the portable
// schema and queries of the sqlite package over the pgx database/sql driver.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"github.com/example/resource-scheduler/internal/persistence"
	"github.com/example/resource-scheduler/internal/persistence/sqlite"
	"github.com/example/resource-scheduler/internal/persistence/sqlite/migration"
)

const (
	defaultDriver = "pgx"
	defaultDSN    = "postgres://localhost/scheduler?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Open connects to dsn (defaultDSN when empty), verifies the connection and
// migrates the snapshot schema.
func Open(ctx context.Context, dsn string, logger *slog.Logger) (*sqlite.ConnectionPool, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	pool := sqlite.WrapDB(db, migration.DialectPostgres, MapError)
	if err := pool.Migrate(ctx, logger); err != nil {
		db.Close()
		return nil, err
	}
	return pool, nil
}

// MapError translates PostgreSQL errors into persistence errors. Serialization
// failures and lock timeouts map to sqlite.ErrDatabaseLocked so that the
// repository retries them.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %v", persistence.ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505": // unique_violation
		return errors.Join(persistence.ErrDuplicate, err)
	case "23503", "23514": // foreign_key_violation, check_violation
		return errors.Join(persistence.ErrCorrupt, err)
	case "40001", "40P01", "55P03": // serialization_failure, deadlock_detected, lock_not_available
		return errors.Join(sqlite.ErrDatabaseLocked, err)
	}
	return err
}

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
