// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"database/sql"
	"strings"
	"testing"
)

// newTestStore opens an in-memory sqlite Store private to the test.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStoreFromDSN(TypeSQLite, memoryDSN(t))
	if err != nil {
		t.Fatalf("NewStoreFromDSN failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func memoryDSN(t *testing.T) string {
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	return "file:" + name + "?mode=memory&cache=shared"
}

// openRaw opens a plain sql.DB on dsn for seeding legacy schemas.
func openRaw(t *testing.T, dsn string) *sql.DB {
	t.Helper()
	dbConn, err := sql.Open("sqlite", dsn)
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = dbConn.Close() })
	return dbConn
}

func strPtr(s string) *string { return &s }

func int64Ptr(n int64) *int64 { return &n }
