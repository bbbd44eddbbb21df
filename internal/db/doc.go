// Package db contains the tenant-scoped data-access layer used by Keyless.
//
// Layout
//   - `db.go` opens a Bun-backed Store for sqlite, postgres or mysql and
//     tunes the connection pool.
//   - `migrations.go` upgrades the schema at startup: the column catalog adds
//     columns missing from older databases, then the embedded versioned SQL
//     files under `migrations/<dialect>/` are applied once each.
//   - `bun_adapter.go` holds the Bun models and the mapping helpers to the
//     domain types in `internal/model`.
//   - `store.go`, `templates.go` and `audit.go` implement the Store methods.
//
// Every Store method takes the tenant explicitly. Operations that touch more
// than one row for a single logical change (key replacement, template
// supersede, audit reset, device delete) run inside one transaction via
// `WithTx`.
//
// Testing notes
//   - Use `testutil.NewStore(t)` or `newTestStore(t)` in this package; both
//     open a private shared-cache in-memory sqlite database per test.
package db
