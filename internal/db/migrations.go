// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

//go:embed migrations
var migrationsFS embed.FS

// catalogColumn is a column that older on-disk instances may lack. The DDL
// fragment is indexed by database type.
type catalogColumn struct {
	table  string
	column string
	ddl    map[string]string
}

func ddlAll(sqlite, postgres, mysql string) map[string]string {
	return map[string]string{TypeSQLite: sqlite, TypePostgres: postgres, TypeMySQL: mysql}
}

// columnCatalog lists every column added after the first release of each
// table. Entries are only ever appended.
var columnCatalog = []catalogColumn{
	{"vehicles", "tenant_db", ddlAll("TEXT DEFAULT 'default'", "TEXT DEFAULT 'default'", "VARCHAR(191) DEFAULT 'default'")},
	{"vehicles", "description", ddlAll("TEXT", "TEXT", "TEXT")},
	{"vehicles", "faulty", ddlAll("INTEGER DEFAULT 0", "BOOLEAN DEFAULT FALSE", "TINYINT(1) DEFAULT 0")},
	{"virtual_keys", "user_ref", ddlAll("TEXT", "TEXT", "TEXT")},
	{"virtual_keys", "expires_at", ddlAll("INTEGER", "BIGINT", "BIGINT")},
	{"vk_templates", "user_ref", ddlAll("TEXT", "TEXT", "TEXT")},
	{"vk_templates", "duration_months", ddlAll("INTEGER DEFAULT 12", "INTEGER DEFAULT 12", "INT DEFAULT 12")},
	{"vk_templates", "previous_version_id", ddlAll("TEXT", "TEXT", "VARCHAR(64)")},
	{"vk_templates", "is_active", ddlAll("INTEGER DEFAULT 1", "BOOLEAN DEFAULT TRUE", "TINYINT(1) DEFAULT 1")},
	{"vk_templates", "created_by", ddlAll("TEXT", "TEXT", "VARCHAR(191)")},
	{"logs", "tenant_db", ddlAll("TEXT DEFAULT 'default'", "TEXT DEFAULT 'default'", "VARCHAR(191) DEFAULT 'default'")},
	{"logs", "parameters", ddlAll("TEXT", "TEXT", "TEXT")},
}

// UpgradeSchema brings an existing or empty database to the current schema.
// Missing catalog columns are added to tables that already exist, then the
// embedded versioned migrations are applied.
func UpgradeSchema(ctx context.Context, sqlDB *sql.DB, dbType string) error {
	if err := EnsureColumns(ctx, sqlDB, dbType); err != nil {
		return err
	}
	return RunMigrations(sqlDB, dbType)
}

// EnsureColumns adds every catalog column missing from an existing table.
// Tables that do not exist yet are skipped; migrations create them whole.
func EnsureColumns(ctx context.Context, sqlDB *sql.DB, dbType string) error {
	existing := map[string]map[string]bool{}
	for _, c := range columnCatalog {
		cols, ok := existing[c.table]
		if !ok {
			var err error
			cols, err = tableColumns(ctx, sqlDB, dbType, c.table)
			if err != nil {
				return fmt.Errorf("inspect table %s: %w", c.table, err)
			}
			existing[c.table] = cols
		}
		if len(cols) == 0 || cols[c.column] {
			continue
		}
		ddl, ok := c.ddl[dbType]
		if !ok {
			return fmt.Errorf("unsupported database type: '%s'", dbType)
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", c.table, c.column, ddl)
		if _, err := sqlDB.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("add column %s.%s: %w", c.table, c.column, err)
		}
		cols[c.column] = true
		dbLogf("db: added missing column %s.%s", c.table, c.column)
	}
	return nil
}

// tableColumns returns the set of column names of table, or an empty set
// when the table does not exist.
func tableColumns(ctx context.Context, sqlDB *sql.DB, dbType, table string) (map[string]bool, error) {
	var q string
	switch dbType {
	case TypeSQLite:
		q = "SELECT name FROM pragma_table_info(?)"
	case TypePostgres:
		q = "SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1"
	case TypeMySQL:
		q = "SELECT column_name FROM information_schema.columns WHERE table_schema = DATABASE() AND table_name = ?"
	default:
		return nil, fmt.Errorf("unsupported database type: '%s'", dbType)
	}
	rows, err := sqlDB.QueryContext(ctx, q, table)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	cols := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		cols[strings.ToLower(name)] = true
	}
	return cols, rows.Err()
}

// RunMigrations applies all embedded migrations for dbType that are not yet
// recorded in schema_migrations. Each migration runs in its own transaction.
func RunMigrations(sqlDB *sql.DB, dbType string) error {
	if _, err := driverName(dbType); err != nil {
		return err
	}
	ctx := context.Background()
	if err := ensureSchemaMigrationsTable(ctx, sqlDB, dbType); err != nil {
		return err
	}
	applied, err := appliedMigrations(ctx, sqlDB)
	if err != nil {
		return err
	}

	dir := path.Join("migrations", dbType)
	entries, err := fs.ReadDir(migrationsFS, dir)
	if err != nil {
		return fmt.Errorf("read migrations for %s: %w", dbType, err)
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		version := strings.TrimSuffix(name, ".up.sql")
		if applied[version] {
			continue
		}
		body, err := migrationsFS.ReadFile(path.Join(dir, name))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if err := applyMigration(ctx, sqlDB, dbType, version, string(body)); err != nil {
			return fmt.Errorf("migration %s: %w", version, err)
		}
		dbLogf("db: applied migration %s", version)
	}
	return nil
}

func ensureSchemaMigrationsTable(ctx context.Context, sqlDB *sql.DB, dbType string) error {
	stmt := "CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY, applied_at TEXT NOT NULL)"
	if dbType == TypeMySQL {
		stmt = "CREATE TABLE IF NOT EXISTS schema_migrations (version VARCHAR(191) PRIMARY KEY, applied_at VARCHAR(64) NOT NULL)"
	}
	if _, err := sqlDB.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}
	return nil
}

func appliedMigrations(ctx context.Context, sqlDB *sql.DB) (map[string]bool, error) {
	rows, err := sqlDB.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer func() { _ = rows.Close() }()
	applied := map[string]bool{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func applyMigration(ctx context.Context, sqlDB *sql.DB, dbType, version, body string) error {
	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, stmt := range splitStatements(body) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	insert := "INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)"
	if dbType == TypePostgres {
		insert = "INSERT INTO schema_migrations (version, applied_at) VALUES ($1, $2)"
	}
	if _, err := tx.ExecContext(ctx, insert, version, time.Now().UTC().Format(time.RFC3339)); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// splitStatements breaks a migration file into single statements. Drivers
// differ in multi-statement support, so each one is executed on its own.
func splitStatements(body string) []string {
	var lines []string
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		lines = append(lines, line)
	}
	var out []string
	for _, part := range strings.Split(strings.Join(lines, "\n"), ";") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}
