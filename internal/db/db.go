// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

// package db provides the tenant-scoped data access layer for Keyless.
// It abstracts the underlying database (SQLite, PostgreSQL, MySQL) behind a
// single Bun-backed Store so the rest of the application interacts with the
// database in a uniform way.
package db // import "github.com/toeirei/keyless/internal/db"

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	// SQL drivers for the optional server backends.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Supported database types.
const (
	TypeSQLite   = "sqlite"
	TypePostgres = "postgres"
	TypeMySQL    = "mysql"
)

// driverName maps a database type onto the registered database/sql driver.
// The pgx stdlib registers driver name "pgx".
func driverName(dbType string) (string, error) {
	switch dbType {
	case TypeSQLite:
		return "sqlite", nil
	case TypePostgres:
		return "pgx", nil
	case TypeMySQL:
		return "mysql", nil
	default:
		return "", fmt.Errorf("unsupported database type: '%s'", dbType)
	}
}

// NewStoreFromDSN opens a sql.DB for the given DSN, brings the schema up to
// date and returns a Store backed by a long-lived *bun.DB.
func NewStoreFromDSN(dbType, dsn string) (*Store, error) {
	driver, err := driverName(dbType)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	configurePool(sqlDB, dbType, dsn)
	dbLogf("db: opened %s driver in %s", driver, time.Since(start))

	migStart := time.Now()
	if err := UpgradeSchema(context.Background(), sqlDB, dbType); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("failed to upgrade schema: %w", err)
	}
	dbLogf("db: schema for %s ready in %s", dbType, time.Since(migStart))

	return &Store{bun: createBunDB(sqlDB, dbType), dbType: dbType}, nil
}

// configurePool applies conservative pool defaults. Values can be overridden
// via environment variables for CI or production tuning.
func configurePool(sqlDB *sql.DB, dbType, dsn string) {
	const (
		defaultMaxOpenConns    = 25
		defaultMaxIdleConns    = 25
		defaultConnMaxLifetime = 5 * time.Minute
		defaultConnMaxIdle     = 60 * time.Second
	)

	maxOpen := envInt("KEYLESS_DB_MAX_OPEN_CONNS", defaultMaxOpenConns)
	maxIdle := envInt("KEYLESS_DB_MAX_IDLE_CONNS", defaultMaxIdleConns)
	connMax := defaultConnMaxLifetime
	if n := envInt("KEYLESS_DB_CONN_MAX_LIFETIME_SECONDS", -1); n >= 0 {
		connMax = time.Duration(n) * time.Second
	}
	connIdle := defaultConnMaxIdle
	if n := envInt("KEYLESS_DB_CONN_MAX_IDLE_SECONDS", -1); n >= 0 {
		connIdle = time.Duration(n) * time.Second
	}

	// A private ":memory:" SQLite database exists per connection; pin the pool
	// to one connection so every query sees the same schema.
	if dbType == TypeSQLite && dsn == ":memory:" {
		maxOpen, maxIdle = 1, 1
	}
	// SQLite serialises writers anyway; a single writer connection avoids
	// "database is locked" under interleaved bulk operations.
	if dbType == TypeSQLite && maxOpen > 1 {
		maxOpen, maxIdle = 1, 1
	}

	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	sqlDB.SetConnMaxLifetime(connMax)
	sqlDB.SetConnMaxIdleTime(connIdle)
}

func envInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			return n
		}
	}
	return def
}

// createBunDB constructs a *bun.DB for the provided *sql.DB and dbType.
func createBunDB(sqlDB *sql.DB, dbType string) *bun.DB {
	switch dbType {
	case TypePostgres:
		return bun.NewDB(sqlDB, pgdialect.New())
	case TypeMySQL:
		return bun.NewDB(sqlDB, mysqldialect.New())
	default:
		return bun.NewDB(sqlDB, sqlitedialect.New())
	}
}

// RunDBMaintenance performs engine-specific maintenance tasks for the given
// database DSN. For SQLite this runs PRAGMA optimize, VACUUM, a WAL
// checkpoint and an integrity check. For Postgres it runs VACUUM ANALYZE.
// For MySQL it runs OPTIMIZE TABLE for all tables.
func RunDBMaintenance(dbType, dsn string) error {
	driver, err := driverName(dbType)
	if err != nil {
		return err
	}
	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return fmt.Errorf("failed to open database for maintenance: %w", err)
	}
	defer func() { _ = sqlDB.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	switch dbType {
	case TypeSQLite:
		// PRAGMA optimize is not useful everywhere (e.g. in-memory); ignore failures.
		if _, err := sqlDB.ExecContext(ctx, "PRAGMA optimize;"); err != nil {
			dbLogf("db: sqlite optimize failed (ignored): %v", err)
		}
		if _, err := sqlDB.ExecContext(ctx, "VACUUM;"); err != nil {
			return fmt.Errorf("sqlite vacuum failed: %w", err)
		}
		_, _ = sqlDB.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE);")
		var res string
		if err := sqlDB.QueryRowContext(ctx, "PRAGMA integrity_check;").Scan(&res); err == nil && res != "ok" {
			return fmt.Errorf("sqlite integrity_check failed: %s", res)
		}
	case TypePostgres:
		if _, err := sqlDB.ExecContext(ctx, "VACUUM ANALYZE;"); err != nil {
			return fmt.Errorf("postgres vacuum failed: %w", err)
		}
	case TypeMySQL:
		rows, err := sqlDB.QueryContext(ctx, "SHOW TABLES")
		if err != nil {
			return fmt.Errorf("mysql show tables failed: %w", err)
		}
		var tables []string
		for rows.Next() {
			var table string
			if err := rows.Scan(&table); err != nil {
				_ = rows.Close()
				return fmt.Errorf("mysql read table name failed: %w", err)
			}
			tables = append(tables, table)
		}
		_ = rows.Close()
		var lastErr error
		for _, table := range tables {
			if _, err := sqlDB.ExecContext(ctx, fmt.Sprintf("OPTIMIZE TABLE `%s`", table)); err != nil {
				dbLogf("db: mysql optimize table %s failed: %v", table, err)
				lastErr = err
			}
		}
		if lastErr != nil {
			return fmt.Errorf("mysql optimize encountered errors: %w", lastErr)
		}
	}
	return nil
}
