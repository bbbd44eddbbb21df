// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Package reconcile keeps one device's local key set in line with the remote
// service and maintains the device's faulty flag from call outcomes.
//
// Reads trust the remote service: a successful sync replaces the local set
// wholesale. Writes trust local state optimistically: a created key is
// recorded immediately and a key row is only removed once the remote service
// confirms the delete.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/toeirei/keyless/internal/audit"
	"github.com/toeirei/keyless/internal/errs"
	"github.com/toeirei/keyless/internal/logging"
	"github.com/toeirei/keyless/internal/model"
)

// Store is the local state the reconciler reads and writes.
type Store interface {
	GetDevice(ctx context.Context, tenant, serial string) (model.Device, error)
	ListKeys(ctx context.Context, tenant, serial string) ([]model.VirtualKey, error)
	ReplaceDeviceKeys(ctx context.Context, tenant, serial string, keys []model.VirtualKey) error
	RecordKey(ctx context.Context, key model.VirtualKey) error
	DeleteKey(ctx context.Context, tenant, serial, vkID string) (bool, error)
	SetDeviceFaulty(ctx context.Context, tenant, serial string, faulty bool) error
}

// Remote is the keyless-access service.
type Remote interface {
	ListStoredKeys(ctx context.Context, tenant, serial, token string) ([]model.KeyRecord, error)
	CreateKey(ctx context.Context, tenant, serial, token string, config json.RawMessage) (model.KeyRecord, error)
	DeleteKey(ctx context.Context, tenant, serial, vkID, token string) error
}

// Reconciler drives single-device remote operations.
type Reconciler struct {
	store  Store
	remote Remote
	audit  audit.Recorder
}

// New returns a Reconciler.
func New(store Store, remote Remote, rec audit.Recorder) *Reconciler {
	return &Reconciler{store: store, remote: remote, audit: rec}
}

// KeyFailure is one key whose remote delete failed.
type KeyFailure struct {
	VKID string
	Err  error
}

// DeleteAllResult reports a per-device delete of every key.
type DeleteAllResult struct {
	Deleted int
	Failed  []KeyFailure
}

// Err summarises the failed keys, or nil when every delete succeeded.
func (r DeleteAllResult) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	parts := make([]string, 0, len(r.Failed))
	for _, f := range r.Failed {
		parts = append(parts, f.VKID+": "+errs.DetailOf(f.Err))
	}
	return fmt.Errorf("%d of %d keys not deleted (%s): %w",
		len(r.Failed), len(r.Failed)+r.Deleted, strings.Join(parts, "; "), errs.ErrRemoteRejected)
}

// preflight rejects a call before any side effect: serial, then session,
// then local device existence.
func (r *Reconciler) preflight(ctx context.Context, s model.Session, serial string) error {
	if strings.TrimSpace(serial) == "" {
		return errs.Validationf("serial number is required")
	}
	if strings.TrimSpace(s.Token) == "" {
		return errs.ErrNoSession
	}
	if _, err := r.store.GetDevice(ctx, s.Tenant, serial); err != nil {
		return err
	}
	return nil
}

// SyncDevice replaces the device's local keys with the remote set and clears
// faulty. On a failed call the device is marked faulty and its local keys
// stay as they were.
func (r *Reconciler) SyncDevice(ctx context.Context, s model.Session, serial string) ([]model.VirtualKey, error) {
	if err := r.preflight(ctx, s, serial); err != nil {
		return nil, err
	}

	records, err := r.remote.ListStoredKeys(ctx, s.Tenant, serial, s.Token)
	if err != nil {
		if errors.Is(err, errs.ErrRemoteRejected) {
			r.markFaulty(ctx, s, serial)
			r.record(ctx, s, audit.SyncError, serial, failureParams(err, nil))
		}
		return nil, fmt.Errorf("sync %s: %w", serial, err)
	}

	keys := make([]model.VirtualKey, 0, len(records))
	for _, rec := range records {
		keys = append(keys, rec.ToVirtualKey(s.Tenant, serial))
	}
	if err := r.store.ReplaceDeviceKeys(ctx, s.Tenant, serial, keys); err != nil {
		return nil, fmt.Errorf("sync %s: store keys: %w", serial, err)
	}
	logging.Debugf("sync %s@%s: %d keys", serial, s.Tenant, len(keys))
	r.record(ctx, s, audit.Sync, serial, audit.Params{"keys_found": len(keys)})
	return keys, nil
}

// CreateKey issues one key on the device. On success the key is recorded and
// faulty cleared; on a failed call the device is marked faulty and nothing
// is recorded.
func (r *Reconciler) CreateKey(ctx context.Context, s model.Session, serial string, req model.KeyRequest) (model.VirtualKey, error) {
	if err := r.preflight(ctx, s, serial); err != nil {
		return model.VirtualKey{}, err
	}

	rec, err := r.remote.CreateKey(ctx, s.Tenant, serial, s.Token, req.Config)
	if err != nil {
		if errors.Is(err, errs.ErrRemoteRejected) {
			r.markFaulty(ctx, s, serial)
			r.record(ctx, s, audit.CreateKeyError, serial, failureParams(err, nil))
		}
		return model.VirtualKey{}, fmt.Errorf("create key on %s: %w", serial, err)
	}

	key := rec.ToVirtualKey(s.Tenant, serial)
	if err := r.store.RecordKey(ctx, key); err != nil {
		return model.VirtualKey{}, fmt.Errorf("create key on %s: store key %s: %w", serial, key.ID, err)
	}

	params := audit.Params{"userRef": nil}
	if ref := gjson.GetBytes(req.Config, "userReference"); ref.Exists() && ref.Type != gjson.Null {
		params["userRef"] = ref.String()
	}
	if t := req.Template; t != nil {
		params["template_id"] = t.ID
		params["template_name"] = t.Name
		params["template_version"] = t.Version
	}
	r.record(ctx, s, audit.CreateKey, serial, params)
	return key, nil
}

// DeleteKey removes one key remotely and, once confirmed, locally. A failed
// call leaves the row and does not mark the device faulty.
func (r *Reconciler) DeleteKey(ctx context.Context, s model.Session, serial, vkID string) error {
	if err := r.preflight(ctx, s, serial); err != nil {
		return err
	}
	if strings.TrimSpace(vkID) == "" {
		return errs.Validationf("virtual key id is required")
	}

	if err := r.remote.DeleteKey(ctx, s.Tenant, serial, vkID, s.Token); err != nil {
		if errors.Is(err, errs.ErrRemoteRejected) {
			r.record(ctx, s, audit.DeleteKeyError, serial, failureParams(err, audit.Params{"vk_id": vkID}))
		}
		return fmt.Errorf("delete key %s on %s: %w", vkID, serial, err)
	}
	if _, err := r.store.DeleteKey(ctx, s.Tenant, serial, vkID); err != nil {
		return fmt.Errorf("delete key %s on %s: remove local row: %w", vkID, serial, err)
	}
	r.record(ctx, s, audit.DeleteKey, serial, audit.Params{"vk_id": vkID})
	return nil
}

// DeleteAllKeys deletes every locally known key of the device, one remote
// call per key. Failed keys are reported in the result and stay local.
func (r *Reconciler) DeleteAllKeys(ctx context.Context, s model.Session, serial string) (DeleteAllResult, error) {
	var res DeleteAllResult
	if err := r.preflight(ctx, s, serial); err != nil {
		return res, err
	}
	keys, err := r.store.ListKeys(ctx, s.Tenant, serial)
	if err != nil {
		return res, fmt.Errorf("delete all keys on %s: %w", serial, err)
	}

	for _, k := range keys {
		if err := r.remote.DeleteKey(ctx, s.Tenant, serial, k.ID, s.Token); err != nil {
			res.Failed = append(res.Failed, KeyFailure{VKID: k.ID, Err: err})
			continue
		}
		if _, err := r.store.DeleteKey(ctx, s.Tenant, serial, k.ID); err != nil {
			res.Failed = append(res.Failed, KeyFailure{VKID: k.ID, Err: err})
			continue
		}
		res.Deleted++
	}

	if res.Deleted > 0 {
		r.record(ctx, s, audit.DeleteAllKeys, serial, audit.Params{"deleted": res.Deleted, "errors": len(res.Failed)})
	}
	return res, nil
}

func (r *Reconciler) markFaulty(ctx context.Context, s model.Session, serial string) {
	if err := r.store.SetDeviceFaulty(ctx, s.Tenant, serial, true); err != nil {
		logging.Errorf("mark %s@%s faulty: %v", serial, s.Tenant, err)
	}
}

// record writes an audit entry. Audit failures never change the outcome of
// the operation they describe.
func (r *Reconciler) record(ctx context.Context, s model.Session, action audit.Action, subject string, params audit.Params) {
	if r.audit == nil {
		return
	}
	if err := r.audit.Record(ctx, s.Tenant, s.User, action, subject, params); err != nil {
		logging.Warnf("audit %s for %s: %v", action, subject, err)
	}
}

func failureParams(err error, extra audit.Params) audit.Params {
	p := audit.Params{"status": errs.StatusOf(err), "error": errs.DetailOf(err)}
	for k, v := range extra {
		p[k] = v
	}
	return p
}
