// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/toeirei/keyless/internal/errs"
	"github.com/toeirei/keyless/internal/model"
	"github.com/uptrace/bun"
)

// Store is the tenant-scoped persistence layer. Every method takes the
// tenant explicitly and never reads or writes rows outside it.
type Store struct {
	bun    *bun.DB
	dbType string
}

// BunDB exposes the underlying *bun.DB for maintenance and tests.
func (s *Store) BunDB() *bun.DB { return s.bun }

// DBType returns the configured backend type.
func (s *Store) DBType() string { return s.dbType }

// Close releases the connection pool.
func (s *Store) Close() error { return s.bun.Close() }

func requireTenant(tenant string) error {
	if strings.TrimSpace(tenant) == "" {
		return errs.Validationf("tenant is required")
	}
	return nil
}

// --- Devices ---

// UpsertDevice adds a device or replaces the description of an existing one.
// The faulty flag and the device's keys are left untouched on re-add.
func (s *Store) UpsertDevice(ctx context.Context, tenant, serial, description string) (created bool, err error) {
	if err := requireTenant(tenant); err != nil {
		return false, err
	}
	err = WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		var e error
		created, e = upsertDeviceBun(ctx, tx, tenant, serial, description)
		return e
	})
	return created, err
}

func upsertDeviceBun(ctx context.Context, idb bun.IDB, tenant, serial, description string) (bool, error) {
	exists, err := idb.NewSelect().Model((*DeviceModel)(nil)).
		Where("tenant_db = ?", tenant).Where("serial_number = ?", serial).Exists(ctx)
	if err != nil {
		return false, err
	}
	if exists {
		_, err = idb.NewUpdate().Model((*DeviceModel)(nil)).
			Set("description = ?", description).
			Where("tenant_db = ?", tenant).Where("serial_number = ?", serial).
			Exec(ctx)
		return false, err
	}
	_, err = idb.NewInsert().Model(&DeviceModel{
		SerialNumber: serial,
		TenantDB:     tenant,
		Description:  sql.NullString{String: description, Valid: true},
		Faulty:       sql.NullBool{Bool: false, Valid: true},
	}).Exec(ctx)
	return true, MapDBError(err)
}

// GetDevice returns one device or errs.ErrNotFound.
func (s *Store) GetDevice(ctx context.Context, tenant, serial string) (model.Device, error) {
	var d DeviceModel
	err := s.bun.NewSelect().Model(&d).
		Where("tenant_db = ?", tenant).Where("serial_number = ?", serial).
		Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Device{}, errs.NotFoundf("device %s", serial)
	}
	if err != nil {
		return model.Device{}, err
	}
	return deviceModelToModel(d), nil
}

// ListDevices returns the tenant's devices ordered by serial.
func (s *Store) ListDevices(ctx context.Context, tenant string) ([]model.Device, error) {
	var rows []DeviceModel
	if err := s.bun.NewSelect().Model(&rows).
		Where("tenant_db = ?", tenant).
		OrderExpr("serial_number ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	out := make([]model.Device, 0, len(rows))
	for _, r := range rows {
		out = append(out, deviceModelToModel(r))
	}
	return out, nil
}

// DeleteDevice removes a device and all of its virtual keys in one
// transaction. It reports whether the device existed.
func (s *Store) DeleteDevice(ctx context.Context, tenant, serial string) (existed bool, err error) {
	err = WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*VirtualKeyModel)(nil)).
			Where("tenant_db = ?", tenant).Where("serial_number = ?", serial).
			Exec(ctx); err != nil {
			return fmt.Errorf("delete keys of %s: %w", serial, err)
		}
		res, err := tx.NewDelete().Model((*DeviceModel)(nil)).
			Where("tenant_db = ?", tenant).Where("serial_number = ?", serial).
			Exec(ctx)
		if err != nil {
			return err
		}
		n, _ := res.RowsAffected()
		existed = n > 0
		return nil
	})
	return existed, err
}

// SetDeviceFaulty sets or clears the faulty flag of one device.
func (s *Store) SetDeviceFaulty(ctx context.Context, tenant, serial string, faulty bool) error {
	return setFaultyBun(ctx, s.bun, tenant, serial, faulty)
}

func setFaultyBun(ctx context.Context, idb bun.IDB, tenant, serial string, faulty bool) error {
	_, err := idb.NewUpdate().Model((*DeviceModel)(nil)).
		Set("faulty = ?", faulty).
		Where("tenant_db = ?", tenant).Where("serial_number = ?", serial).
		Exec(ctx)
	return err
}

// --- Virtual keys ---

// ListKeys returns the keys mirrored for one device.
func (s *Store) ListKeys(ctx context.Context, tenant, serial string) ([]model.VirtualKey, error) {
	var rows []VirtualKeyModel
	if err := s.bun.NewSelect().Model(&rows).
		Where("tenant_db = ?", tenant).Where("serial_number = ?", serial).
		OrderExpr("vk_id ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	return keyModelsToModels(rows), nil
}

// ListTenantKeys returns every key mirrored in the tenant.
func (s *Store) ListTenantKeys(ctx context.Context, tenant string) ([]model.VirtualKey, error) {
	var rows []VirtualKeyModel
	if err := s.bun.NewSelect().Model(&rows).
		Where("tenant_db = ?", tenant).
		OrderExpr("serial_number ASC, vk_id ASC").
		Scan(ctx); err != nil {
		return nil, err
	}
	return keyModelsToModels(rows), nil
}

func keyModelsToModels(rows []VirtualKeyModel) []model.VirtualKey {
	out := make([]model.VirtualKey, 0, len(rows))
	for _, r := range rows {
		out = append(out, virtualKeyModelToModel(r))
	}
	return out
}

// GetKey returns one key or errs.ErrNotFound.
func (s *Store) GetKey(ctx context.Context, tenant, vkID string) (model.VirtualKey, error) {
	var k VirtualKeyModel
	err := s.bun.NewSelect().Model(&k).
		Where("tenant_db = ?", tenant).Where("vk_id = ?", vkID).
		Limit(1).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return model.VirtualKey{}, errs.NotFoundf("virtual key %s", vkID)
	}
	if err != nil {
		return model.VirtualKey{}, err
	}
	return virtualKeyModelToModel(k), nil
}

// ReplaceDeviceKeys swaps the device's whole key set for keys and clears the
// faulty flag, all in one transaction.
func (s *Store) ReplaceDeviceKeys(ctx context.Context, tenant, serial string, keys []model.VirtualKey) error {
	return WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewDelete().Model((*VirtualKeyModel)(nil)).
			Where("tenant_db = ?", tenant).Where("serial_number = ?", serial).
			Exec(ctx); err != nil {
			return fmt.Errorf("clear keys of %s: %w", serial, err)
		}
		for _, k := range keys {
			k.Tenant, k.SerialNumber = tenant, serial
			if err := putKeyBun(ctx, tx, k); err != nil {
				return err
			}
		}
		return setFaultyBun(ctx, tx, tenant, serial, false)
	})
}

// RecordKey stores one newly issued key and clears the device's faulty flag
// in one transaction. An existing row with the same id is replaced.
func (s *Store) RecordKey(ctx context.Context, key model.VirtualKey) error {
	return WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		if err := putKeyBun(ctx, tx, key); err != nil {
			return err
		}
		return setFaultyBun(ctx, tx, key.Tenant, key.SerialNumber, false)
	})
}

// putKeyBun replaces any row with the key's id inside the same tenant.
func putKeyBun(ctx context.Context, idb bun.IDB, k model.VirtualKey) error {
	if _, err := idb.NewDelete().Model((*VirtualKeyModel)(nil)).
		Where("tenant_db = ?", k.Tenant).Where("vk_id = ?", k.ID).
		Exec(ctx); err != nil {
		return err
	}
	m := virtualKeyToModel(k)
	if _, err := idb.NewInsert().Model(&m).Exec(ctx); err != nil {
		return fmt.Errorf("insert key %s: %w", k.ID, MapDBError(err))
	}
	return nil
}

// DeleteKey removes one key row of the device. It reports whether the row
// existed.
func (s *Store) DeleteKey(ctx context.Context, tenant, serial, vkID string) (bool, error) {
	res, err := s.bun.NewDelete().Model((*VirtualKeyModel)(nil)).
		Where("tenant_db = ?", tenant).Where("serial_number = ?", serial).Where("vk_id = ?", vkID).
		Exec(ctx)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// --- Settings ---

// GetSettings returns the tenant's key/value settings.
func (s *Store) GetSettings(ctx context.Context, tenant string) (map[string]string, error) {
	var rows []SettingModel
	if err := s.bun.NewSelect().Model(&rows).Where("tenant_db = ?", tenant).Scan(ctx); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(rows))
	for _, r := range rows {
		out[r.Key] = r.Value.String
	}
	return out, nil
}

// SaveSettings replaces the given keys of the tenant's settings. Keys not
// present in values are kept.
func (s *Store) SaveSettings(ctx context.Context, tenant string, values map[string]string) error {
	if err := requireTenant(tenant); err != nil {
		return err
	}
	return WithTx(ctx, s.bun, func(ctx context.Context, tx bun.Tx) error {
		for k, v := range values {
			if _, err := tx.NewDelete().Model((*SettingModel)(nil)).
				Where("tenant_db = ?", tenant).Where("setting_key = ?", k).
				Exec(ctx); err != nil {
				return err
			}
			if _, err := tx.NewInsert().Model(&SettingModel{
				TenantDB: tenant,
				Key:      k,
				Value:    sql.NullString{String: v, Valid: true},
			}).Exec(ctx); err != nil {
				return MapDBError(err)
			}
		}
		return nil
	})
}
