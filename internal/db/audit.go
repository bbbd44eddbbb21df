// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"

	"github.com/toeirei/keyless/internal/model"
	"github.com/uptrace/bun"
)

// AppendAuditEntry inserts one audit row and returns its sequence number.
func (s *Store) AppendAuditEntry(ctx context.Context, e model.AuditLogEntry) (int64, error) {
	if err := requireTenant(e.Tenant); err != nil {
		return 0, err
	}
	return appendAuditBun(ctx, s.bun, e)
}

func appendAuditBun(ctx context.Context, idb bun.IDB, e model.AuditLogEntry) (int64, error) {
	m := auditEntryToModel(e)
	if _, err := idb.NewInsert().Model(&m).Exec(ctx); err != nil {
		return 0, err
	}
	return m.ID, nil
}

// ListAuditEntries returns up to limit entries of the tenant, newest first.
// A limit of zero or less returns every entry.
func (s *Store) ListAuditEntries(ctx context.Context, tenant string, limit int) ([]model.AuditLogEntry, error) {
	var rows []AuditLogModel
	q := s.bun.NewSelect().Model(&rows).Where("tenant_db = ?", tenant).OrderExpr("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.AuditLogEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, auditLogModelToModel(r))
	}
	return out, nil
}

// ResetAuditLog deletes the tenant's entries and appends first as the new
// log's opening entry, in one transaction. It returns how many entries were
// removed.
func (s *Store) ResetAuditLog(ctx context.Context, tenant string, first model.AuditLogEntry) (int64, error) {
	if err := requireTenant(tenant); err != nil {
		return 0, err
	}
	var removed int64
	err := WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().Model((*AuditLogModel)(nil)).
			Where("tenant_db = ?", tenant).
			Exec(ctx)
		if err != nil {
			return err
		}
		removed, _ = res.RowsAffected()
		first.Tenant = tenant
		_, err = appendAuditBun(ctx, tx, first)
		return err
	})
	return removed, err
}
