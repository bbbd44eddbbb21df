// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/toeirei/keyless/internal/errs"
	"github.com/toeirei/keyless/internal/model"
	"github.com/uptrace/bun"
)

// InsertTemplate stores a new template row. A (tenant, name, version)
// collision fails with ErrDuplicate.
func (s *Store) InsertTemplate(ctx context.Context, t model.Template) error {
	if err := requireTenant(t.Tenant); err != nil {
		return err
	}
	return insertTemplateBun(ctx, s.bun, t)
}

func insertTemplateBun(ctx context.Context, idb bun.IDB, t model.Template) error {
	m, err := templateToModel(t)
	if err != nil {
		return fmt.Errorf("encode template %s: %w", t.Name, err)
	}
	if _, err := idb.NewInsert().Model(&m).Exec(ctx); err != nil {
		return fmt.Errorf("insert template %s v%d: %w", t.Name, t.Version, MapDBError(err))
	}
	return nil
}

// GetTemplate returns one template row or errs.ErrNotFound.
func (s *Store) GetTemplate(ctx context.Context, tenant, id string) (model.Template, error) {
	var m TemplateModel
	err := s.bun.NewSelect().Model(&m).
		Where("tenant_db = ?", tenant).Where("id = ?", id).
		Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Template{}, errs.NotFoundf("template %s", id)
	}
	if err != nil {
		return model.Template{}, err
	}
	return templateModelToModel(m), nil
}

// ListTemplates returns the active rows ordered by name, or with
// includeArchived every row ordered by name then version descending.
func (s *Store) ListTemplates(ctx context.Context, tenant string, includeArchived bool) ([]model.Template, error) {
	var rows []TemplateModel
	q := s.bun.NewSelect().Model(&rows).Where("tenant_db = ?", tenant)
	if includeArchived {
		q = q.OrderExpr("name ASC, version DESC")
	} else {
		q = q.Where("is_active = ?", true).OrderExpr("name ASC")
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return templateModelsToModels(rows), nil
}

// TemplatesByName returns every version of a name, newest first.
func (s *Store) TemplatesByName(ctx context.Context, tenant, name string) ([]model.Template, error) {
	var rows []TemplateModel
	if err := s.bun.NewSelect().Model(&rows).
		Where("tenant_db = ?", tenant).Where("name = ?", name).
		OrderExpr("version DESC").
		Scan(ctx); err != nil {
		return nil, err
	}
	return templateModelsToModels(rows), nil
}

func templateModelsToModels(rows []TemplateModel) []model.Template {
	out := make([]model.Template, 0, len(rows))
	for _, r := range rows {
		out = append(out, templateModelToModel(r))
	}
	return out
}

// SupersedeTemplate deactivates the row foundID and inserts next in one
// transaction.
func (s *Store) SupersedeTemplate(ctx context.Context, tenant, foundID string, next model.Template) error {
	return WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		exists, err := tx.NewSelect().Model((*TemplateModel)(nil)).
			Where("tenant_db = ?", tenant).Where("id = ?", foundID).Exists(ctx)
		if err != nil {
			return err
		}
		if !exists {
			return errs.NotFoundf("template %s", foundID)
		}
		if _, err := tx.NewUpdate().Model((*TemplateModel)(nil)).
			Set("is_active = ?", false).
			Where("tenant_db = ?", tenant).Where("id = ?", foundID).
			Exec(ctx); err != nil {
			return err
		}
		return insertTemplateBun(ctx, tx, next)
	})
}

// ArchiveTemplate clears is_active on exactly one row.
func (s *Store) ArchiveTemplate(ctx context.Context, tenant, id string) error {
	res, err := s.bun.NewUpdate().Model((*TemplateModel)(nil)).
		Set("is_active = ?", false).
		Where("tenant_db = ?", tenant).Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return s.templateMissing(ctx, tenant, id)
	}
	return nil
}

// DeleteTemplate physically removes exactly one row.
func (s *Store) DeleteTemplate(ctx context.Context, tenant, id string) error {
	res, err := s.bun.NewDelete().Model((*TemplateModel)(nil)).
		Where("tenant_db = ?", tenant).Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return errs.NotFoundf("template %s", id)
	}
	return nil
}

// templateMissing distinguishes an absent row from a no-op update. MySQL
// reports zero affected rows when the value did not change.
func (s *Store) templateMissing(ctx context.Context, tenant, id string) error {
	exists, err := s.bun.NewSelect().Model((*TemplateModel)(nil)).
		Where("tenant_db = ?", tenant).Where("id = ?", id).Exists(ctx)
	if err != nil {
		return err
	}
	if !exists {
		return errs.NotFoundf("template %s", id)
	}
	return nil
}
