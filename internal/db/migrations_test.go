// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/toeirei/keyless/internal/model"
)

func TestRunMigrationsSqlite(t *testing.T) {
	dbConn := openRaw(t, memoryDSN(t))

	if err := RunMigrations(dbConn, TypeSQLite); err != nil {
		t.Fatalf("RunMigrations failed: %v", err)
	}
	// A second run must be a no-op.
	if err := RunMigrations(dbConn, TypeSQLite); err != nil {
		t.Fatalf("second RunMigrations failed: %v", err)
	}

	rows, err := dbConn.Query("SELECT version FROM schema_migrations ORDER BY version")
	if err != nil {
		t.Fatalf("query schema_migrations failed: %v", err)
	}
	defer func() { _ = rows.Close() }()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			t.Fatalf("scan version failed: %v", err)
		}
		versions = append(versions, v)
	}
	want := []string{
		"000001_create_initial_tables",
		"000002_create_indexes",
		"000003_import_legacy_settings",
	}
	if !reflect.DeepEqual(versions, want) {
		t.Fatalf("applied migrations = %v; want %v", versions, want)
	}
}

func TestRunMigrations_UnsupportedType(t *testing.T) {
	dbConn := openRaw(t, memoryDSN(t))
	if err := RunMigrations(dbConn, "oracle"); err == nil {
		t.Fatalf("expected error for unsupported database type")
	}
}

// TestUpgradeSchema_LegacyDatabase seeds the schema of the first release,
// which lacked tenant_db, faulty and expires_at, and checks that opening it
// adds the columns without losing rows.
func TestUpgradeSchema_LegacyDatabase(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "vehicles.db")
	raw := openRaw(t, dsn)
	for _, stmt := range []string{
		"CREATE TABLE vehicles (serial_number TEXT PRIMARY KEY, description TEXT)",
		"CREATE TABLE virtual_keys (vk_id TEXT PRIMARY KEY, serial_number TEXT, tenant_db TEXT, user_ref TEXT)",
		"CREATE TABLE settings (key TEXT PRIMARY KEY, value TEXT)",
		"CREATE TABLE logs (id INTEGER PRIMARY KEY AUTOINCREMENT, timestamp TEXT, user TEXT, action TEXT, serial TEXT, parameters TEXT)",
		"INSERT INTO vehicles (serial_number, description) VALUES ('G9C3E41234', 'van 12')",
		"INSERT INTO virtual_keys (vk_id, serial_number, tenant_db, user_ref) VALUES ('vk-1', 'G9C3E41234', 'default', 'driver')",
		"INSERT INTO settings (key, value) VALUES ('db_name', 'fleet_a')",
		"INSERT INTO logs (timestamp, user, action, serial, parameters) VALUES ('2024-01-01 10:00:00', 'ana', 'SYNC', 'G9C3E41234', '{}')",
	} {
		if _, err := raw.Exec(stmt); err != nil {
			t.Fatalf("seed %q: %v", stmt, err)
		}
	}

	s, err := NewStoreFromDSN(TypeSQLite, dsn)
	if err != nil {
		t.Fatalf("NewStoreFromDSN on legacy database failed: %v", err)
	}
	defer func() { _ = s.Close() }()
	ctx := context.Background()

	dev, err := s.GetDevice(ctx, "default", "G9C3E41234")
	if err != nil {
		t.Fatalf("GetDevice after upgrade: %v", err)
	}
	if dev.Description != "van 12" || dev.Faulty {
		t.Fatalf("unexpected device after upgrade: %+v", dev)
	}
	keys, err := s.ListKeys(ctx, "default", "G9C3E41234")
	if err != nil {
		t.Fatalf("ListKeys after upgrade: %v", err)
	}
	if len(keys) != 1 || keys[0].ExpiresAt != nil {
		t.Fatalf("unexpected keys after upgrade: %+v", keys)
	}
	settings, err := s.GetSettings(ctx, "default")
	if err != nil {
		t.Fatalf("GetSettings after upgrade: %v", err)
	}
	if settings["db_name"] != "fleet_a" {
		t.Fatalf("legacy setting not imported: %v", settings)
	}
	entries, err := s.ListAuditEntries(ctx, "default", 0)
	if err != nil {
		t.Fatalf("ListAuditEntries after upgrade: %v", err)
	}
	if len(entries) != 1 || entries[0].Action != "SYNC" {
		t.Fatalf("legacy audit entries lost: %+v", entries)
	}
	// Legacy rows belong to tenant default only; another tenant neither sees
	// nor clears them.
	if _, err := s.ResetAuditLog(ctx, "fleet_a", model.AuditLogEntry{User: "ana", Action: "RESET_LOGS", Subject: "ALL"}); err != nil {
		t.Fatalf("ResetAuditLog fleet_a: %v", err)
	}
	other, err := s.ListAuditEntries(ctx, "fleet_a", 0)
	if err != nil {
		t.Fatalf("ListAuditEntries fleet_a: %v", err)
	}
	if len(other) != 1 || other[0].Action != "RESET_LOGS" {
		t.Fatalf("fleet_a should only hold its reset entry: %+v", other)
	}
	if entries, err = s.ListAuditEntries(ctx, "default", 0); err != nil || len(entries) != 1 {
		t.Fatalf("legacy entries touched by another tenant's reset: %+v err=%v", entries, err)
	}

	// Opening again must not fail or add anything.
	if err := UpgradeSchema(ctx, raw, TypeSQLite); err != nil {
		t.Fatalf("second UpgradeSchema failed: %v", err)
	}
}

func TestSplitStatements(t *testing.T) {
	body := "-- header\nCREATE TABLE a (x INT);\n\nCREATE INDEX i ON a (x);\n"
	got := splitStatements(body)
	want := []string{"CREATE TABLE a (x INT)", "CREATE INDEX i ON a (x)"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("splitStatements = %q; want %q", got, want)
	}
}
