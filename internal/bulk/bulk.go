// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Package bulk runs single-device operations over a list of serials and
// folds the outcomes into a Summary. A failed item never stops the batch:
// items are processed one at a time, in order, to completion.
package bulk

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/toeirei/keyless/internal/audit"
	"github.com/toeirei/keyless/internal/errs"
	"github.com/toeirei/keyless/internal/logging"
	"github.com/toeirei/keyless/internal/model"
	"github.com/toeirei/keyless/internal/reconcile"
)

// Reconciler is the single-device engine a batch drives.
type Reconciler interface {
	SyncDevice(ctx context.Context, s model.Session, serial string) ([]model.VirtualKey, error)
	CreateKey(ctx context.Context, s model.Session, serial string, req model.KeyRequest) (model.VirtualKey, error)
	DeleteAllKeys(ctx context.Context, s model.Session, serial string) (reconcile.DeleteAllResult, error)
}

// Store is the local state used by the local-only operations.
type Store interface {
	UpsertDevice(ctx context.Context, tenant, serial, description string) (bool, error)
	DeleteDevice(ctx context.Context, tenant, serial string) (bool, error)
}

// ItemError names one failed item.
type ItemError struct {
	Subject string
	Detail  string
}

// Summary is the outcome of a batch. Affected counts the rows the batch
// touched: keys found, created or deleted, devices removed or imported.
type Summary struct {
	Processed int
	Succeeded int
	Errors    []ItemError
	Affected  int
}

// Failed reports whether any item failed.
func (s Summary) Failed() bool { return len(s.Errors) > 0 }

func (s *Summary) fail(subject string, err error) {
	s.Errors = append(s.Errors, ItemError{Subject: subject, Detail: errs.DetailOf(err)})
}

// Orchestrator runs batches for all tenants.
type Orchestrator struct {
	rec   Reconciler
	store Store
	audit audit.Recorder
}

// New returns an Orchestrator.
func New(rec Reconciler, store Store, ar audit.Recorder) *Orchestrator {
	return &Orchestrator{rec: rec, store: store, audit: ar}
}

// task is one pass over a serial list; run returns the per-item affected
// count.
type task struct {
	remote bool
	run    func(ctx context.Context, serial string) (int, error)
}

func (o *Orchestrator) each(ctx context.Context, s model.Session, serials []string, t task) (Summary, error) {
	var sum Summary
	if len(serials) == 0 {
		return sum, errs.Validationf("no devices selected")
	}
	if t.remote && strings.TrimSpace(s.Token) == "" {
		return sum, errs.ErrNoSession
	}
	for _, serial := range serials {
		sum.Processed++
		n, err := t.run(ctx, serial)
		sum.Affected += n
		if err != nil {
			logging.Debugf("bulk item %s@%s failed: %v", serial, s.Tenant, err)
			sum.fail(serial, err)
			continue
		}
		sum.Succeeded++
	}
	return sum, nil
}

// SyncDevices syncs every serial. Affected is the number of keys found.
func (o *Orchestrator) SyncDevices(ctx context.Context, s model.Session, serials []string) (Summary, error) {
	sum, err := o.each(ctx, s, serials, task{remote: true, run: func(ctx context.Context, serial string) (int, error) {
		keys, err := o.rec.SyncDevice(ctx, s, serial)
		return len(keys), err
	}})
	if err != nil {
		return sum, err
	}
	o.record(ctx, s, audit.BulkSync, serials, audit.Params{
		"devices": sum.Processed, "succeeded": sum.Succeeded, "errors": len(sum.Errors), "keys_found": sum.Affected,
	})
	return sum, nil
}

// CreateKeys issues the same configuration on every serial. Affected is the
// number of keys created.
func (o *Orchestrator) CreateKeys(ctx context.Context, s model.Session, serials []string, req model.KeyRequest) (Summary, error) {
	if len(req.Config) > 0 && !json.Valid(req.Config) {
		return Summary{}, errs.Validationf("key configuration is not valid JSON")
	}
	sum, err := o.each(ctx, s, serials, task{remote: true, run: func(ctx context.Context, serial string) (int, error) {
		if _, err := o.rec.CreateKey(ctx, s, serial, req); err != nil {
			return 0, err
		}
		return 1, nil
	}})
	if err != nil {
		return sum, err
	}
	params := audit.Params{"devices": sum.Processed, "created": sum.Affected, "errors": len(sum.Errors)}
	if t := req.Template; t != nil {
		params["template_id"] = t.ID
		params["template_name"] = t.Name
		params["template_version"] = t.Version
	}
	o.record(ctx, s, audit.BulkCreateKey, serials, params)
	return sum, nil
}

// DeleteKeys deletes every local key of every serial remotely. A device
// with at least one undeleted key is one error entry; its deleted keys still
// count towards Affected.
func (o *Orchestrator) DeleteKeys(ctx context.Context, s model.Session, serials []string) (Summary, error) {
	sum, err := o.each(ctx, s, serials, task{remote: true, run: func(ctx context.Context, serial string) (int, error) {
		res, err := o.rec.DeleteAllKeys(ctx, s, serial)
		if err != nil {
			return 0, err
		}
		return res.Deleted, res.Err()
	}})
	if err != nil {
		return sum, err
	}
	if sum.Affected > 0 {
		o.record(ctx, s, audit.BulkDeleteKeys, serials, audit.Params{"deleted": sum.Affected, "devices": len(serials)})
	}
	return sum, nil
}

// DeleteDevicesLocal removes devices and their keys from the local store
// without contacting the remote service. An unknown serial is a no-op
// success; Affected counts the devices that existed.
func (o *Orchestrator) DeleteDevicesLocal(ctx context.Context, s model.Session, serials []string) (Summary, error) {
	sum, err := o.each(ctx, s, serials, task{run: func(ctx context.Context, serial string) (int, error) {
		existed, err := o.store.DeleteDevice(ctx, s.Tenant, serial)
		if err != nil || !existed {
			return 0, err
		}
		return 1, nil
	}})
	if err != nil {
		return sum, err
	}
	o.record(ctx, s, audit.BulkDeleteDevices, serials, audit.Params{"count": sum.Processed})
	return sum, nil
}

// ImportDevices upserts many devices. Rows without a serial are reported as
// errors; Affected counts newly created devices.
func (o *Orchestrator) ImportDevices(ctx context.Context, s model.Session, rows []model.DeviceInput) (Summary, error) {
	var sum Summary
	if len(rows) == 0 {
		return sum, errs.Validationf("no devices to import")
	}
	for i, row := range rows {
		sum.Processed++
		serial := strings.TrimSpace(row.SerialNumber)
		if serial == "" {
			sum.fail(fmt.Sprintf("row %d", i+1), errs.Validationf("serial number is required"))
			continue
		}
		created, err := o.store.UpsertDevice(ctx, s.Tenant, serial, strings.TrimSpace(row.Description))
		if err != nil {
			sum.fail(serial, err)
			continue
		}
		if created {
			sum.Affected++
		}
		sum.Succeeded++
	}
	if sum.Succeeded > 0 {
		o.recordSubject(ctx, s, audit.ImportDevices, fmt.Sprintf("%d devices", sum.Succeeded),
			audit.Params{"count": sum.Succeeded, "created": sum.Affected, "errors": len(sum.Errors)})
	}
	return sum, nil
}

func (o *Orchestrator) record(ctx context.Context, s model.Session, action audit.Action, serials []string, params audit.Params) {
	o.recordSubject(ctx, s, action, strings.Join(serials, ","), params)
}

func (o *Orchestrator) recordSubject(ctx context.Context, s model.Session, action audit.Action, subject string, params audit.Params) {
	if o.audit == nil {
		return
	}
	if err := o.audit.Record(ctx, s.Tenant, s.User, action, subject, params); err != nil {
		logging.Warnf("audit %s: %v", action, err)
	}
}
