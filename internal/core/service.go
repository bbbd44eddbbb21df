// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/toeirei/keyless/internal/audit"
	"github.com/toeirei/keyless/internal/bulk"
	"github.com/toeirei/keyless/internal/clock"
	"github.com/toeirei/keyless/internal/errs"
	"github.com/toeirei/keyless/internal/logging"
	"github.com/toeirei/keyless/internal/model"
	"github.com/toeirei/keyless/internal/reconcile"
	"github.com/toeirei/keyless/internal/templates"
)

// Service wires the components over one store and one remote client.
type Service struct {
	store     Store
	remote    Remote
	clock     clock.Clock
	audit     *audit.Log
	rec       *reconcile.Reconciler
	bulk      *bulk.Orchestrator
	templates *templates.Chain
	closer    io.Closer
}

// New returns a Service. A nil clock means wall time.
func New(store Store, remote Remote, clk clock.Clock) *Service {
	clk = clock.OrSystem(clk)
	log := audit.New(store, clk)
	rec := reconcile.New(store, remote, log)
	return &Service{
		store:     store,
		remote:    remote,
		clock:     clk,
		audit:     log,
		rec:       rec,
		bulk:      bulk.New(rec, store, log),
		templates: templates.New(store, log, clk),
	}
}

// Close releases the store when the Service was built by Open.
func (s *Service) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// --- session ---------------------------------------------------------------

// Login exchanges credentials for a token and returns the session for
// tenant. Both outcomes of the remote call are audited under username.
func (s *Service) Login(ctx context.Context, tenant, username, password string) (model.Session, error) {
	token, err := s.remote.Authenticate(ctx, tenant, username, password)
	if err != nil {
		if errors.Is(err, errs.ErrRemoteRejected) {
			s.record(ctx, tenant, username, audit.LoginFailed, tenant, audit.Params{"status": errs.StatusOf(err)})
		}
		return model.Session{}, fmt.Errorf("login %s@%s: %w", username, tenant, err)
	}
	logging.Infof("login ok: %s -> %s", username, tenant)
	s.record(ctx, tenant, username, audit.Login, tenant, audit.Params{"status": "success"})
	return model.Session{Tenant: tenant, User: username, Token: token}, nil
}

// Logout audits the end of a session. The token itself is discarded by the
// caller.
func (s *Service) Logout(ctx context.Context, sess model.Session) {
	subject := sess.Tenant
	if subject == "" {
		subject = "N/A"
	}
	s.record(ctx, sess.Tenant, sess.User, audit.Logout, subject, nil)
}

// --- devices ---------------------------------------------------------------

// AddDevice registers serial or replaces its description. Keys and the
// faulty flag of an existing device are left alone.
func (s *Service) AddDevice(ctx context.Context, sess model.Session, serial, description string) (bool, error) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return false, errs.Validationf("serial number is required")
	}
	description = strings.TrimSpace(description)
	created, err := s.store.UpsertDevice(ctx, sess.Tenant, serial, description)
	if err != nil {
		return false, fmt.Errorf("add device %s: %w", serial, err)
	}
	s.record(ctx, sess.Tenant, sess.User, audit.AddDevice, serial, audit.Params{"desc": description})
	return created, nil
}

// ImportDevices upserts many devices.
func (s *Service) ImportDevices(ctx context.Context, sess model.Session, rows []model.DeviceInput) (bulk.Summary, error) {
	return s.bulk.ImportDevices(ctx, sess, rows)
}

// ListDevices returns the tenant's devices with their local keys.
func (s *Service) ListDevices(ctx context.Context, tenant string) ([]model.DeviceWithKeys, error) {
	devices, err := s.store.ListDevices(ctx, tenant)
	if err != nil {
		return nil, err
	}
	keys, err := s.store.ListTenantKeys(ctx, tenant)
	if err != nil {
		return nil, err
	}
	bySerial := make(map[string][]model.VirtualKey, len(devices))
	for _, k := range keys {
		bySerial[k.SerialNumber] = append(bySerial[k.SerialNumber], k)
	}
	out := make([]model.DeviceWithKeys, 0, len(devices))
	for _, d := range devices {
		ks := bySerial[d.SerialNumber]
		if ks == nil {
			ks = []model.VirtualKey{}
		}
		out = append(out, model.DeviceWithKeys{Device: d, Keys: ks})
	}
	return out, nil
}

// DeleteDevice removes a device and its keys locally. The remote service is
// not contacted.
func (s *Service) DeleteDevice(ctx context.Context, sess model.Session, serial string) (bool, error) {
	serial = strings.TrimSpace(serial)
	if serial == "" {
		return false, errs.Validationf("serial number is required")
	}
	existed, err := s.store.DeleteDevice(ctx, sess.Tenant, serial)
	if err != nil {
		return false, fmt.Errorf("delete device %s: %w", serial, err)
	}
	s.record(ctx, sess.Tenant, sess.User, audit.DeleteDevice, serial, nil)
	return existed, nil
}

// DeleteDevices removes many devices locally.
func (s *Service) DeleteDevices(ctx context.Context, sess model.Session, serials []string) (bulk.Summary, error) {
	return s.bulk.DeleteDevicesLocal(ctx, sess, serials)
}

// --- keys ------------------------------------------------------------------

// SyncDevice replaces the local keys of serial with the remote set.
func (s *Service) SyncDevice(ctx context.Context, sess model.Session, serial string) ([]model.VirtualKey, error) {
	return s.rec.SyncDevice(ctx, sess, serial)
}

// SyncDevices syncs many devices.
func (s *Service) SyncDevices(ctx context.Context, sess model.Session, serials []string) (bulk.Summary, error) {
	return s.bulk.SyncDevices(ctx, sess, serials)
}

// CreateKey issues a key with a raw configuration object.
func (s *Service) CreateKey(ctx context.Context, sess model.Session, serial string, config json.RawMessage) (model.VirtualKey, error) {
	return s.rec.CreateKey(ctx, sess, serial, model.KeyRequest{Config: config})
}

// CreateKeys issues the same raw configuration on many devices.
func (s *Service) CreateKeys(ctx context.Context, sess model.Session, serials []string, config json.RawMessage) (bulk.Summary, error) {
	return s.bulk.CreateKeys(ctx, sess, serials, model.KeyRequest{Config: config})
}

// CreateKeyFromTemplate issues a key built from template id on serial.
func (s *Service) CreateKeyFromTemplate(ctx context.Context, sess model.Session, serial, templateID string) (model.VirtualKey, error) {
	req, err := s.templateRequest(ctx, sess.Tenant, templateID)
	if err != nil {
		return model.VirtualKey{}, err
	}
	return s.rec.CreateKey(ctx, sess, serial, req)
}

// CreateKeysFromTemplate issues keys built from template id on many devices.
// The expiry is computed once for the whole batch.
func (s *Service) CreateKeysFromTemplate(ctx context.Context, sess model.Session, serials []string, templateID string) (bulk.Summary, error) {
	req, err := s.templateRequest(ctx, sess.Tenant, templateID)
	if err != nil {
		return bulk.Summary{}, err
	}
	return s.bulk.CreateKeys(ctx, sess, serials, req)
}

// templateRequest resolves an active template into a create-key request.
func (s *Service) templateRequest(ctx context.Context, tenant, templateID string) (model.KeyRequest, error) {
	t, err := s.templates.Get(ctx, tenant, templateID)
	if err != nil {
		return model.KeyRequest{}, err
	}
	if !t.IsActive {
		return model.KeyRequest{}, errs.Validationf("template %s v%d is archived", t.Name, t.Version)
	}
	cfg, err := templates.BuildKeyConfig(t, s.clock.Now())
	if err != nil {
		return model.KeyRequest{}, err
	}
	ref := t.Ref()
	return model.KeyRequest{Config: cfg, Template: &ref}, nil
}

// DeleteKey deletes one key remotely, then locally.
func (s *Service) DeleteKey(ctx context.Context, sess model.Session, serial, vkID string) error {
	return s.rec.DeleteKey(ctx, sess, serial, vkID)
}

// DeleteAllKeys deletes every local key of serial.
func (s *Service) DeleteAllKeys(ctx context.Context, sess model.Session, serial string) (reconcile.DeleteAllResult, error) {
	return s.rec.DeleteAllKeys(ctx, sess, serial)
}

// DeleteKeysBulk deletes every local key of many devices.
func (s *Service) DeleteKeysBulk(ctx context.Context, sess model.Session, serials []string) (bulk.Summary, error) {
	return s.bulk.DeleteKeys(ctx, sess, serials)
}

// --- templates -------------------------------------------------------------

// CreateTemplate stores version 1 of a new template.
func (s *Service) CreateTemplate(ctx context.Context, sess model.Session, d templates.Draft) (model.Template, error) {
	return s.templates.Create(ctx, sess, d)
}

// UpdateTemplate derives a new version from template id.
func (s *Service) UpdateTemplate(ctx context.Context, sess model.Session, id string, p templates.Patch) (model.Template, error) {
	return s.templates.Update(ctx, sess, id, p)
}

// ArchiveTemplate deactivates template id.
func (s *Service) ArchiveTemplate(ctx context.Context, sess model.Session, id string) error {
	return s.templates.Archive(ctx, sess, id)
}

// DeleteTemplate removes template id permanently.
func (s *Service) DeleteTemplate(ctx context.Context, sess model.Session, id string) error {
	return s.templates.HardDelete(ctx, sess, id)
}

// ListTemplates lists the tenant's templates.
func (s *Service) ListTemplates(ctx context.Context, tenant string, includeArchived bool) ([]model.Template, error) {
	return s.templates.List(ctx, tenant, includeArchived)
}

// GetTemplate returns template id.
func (s *Service) GetTemplate(ctx context.Context, tenant, id string) (model.Template, error) {
	return s.templates.Get(ctx, tenant, id)
}

// TemplateHistory returns every version sharing the name of template id.
func (s *Service) TemplateHistory(ctx context.Context, tenant, id string) ([]model.Template, error) {
	return s.templates.History(ctx, tenant, id)
}

// --- audit -----------------------------------------------------------------

// AuditLog returns the newest entries of the tenant's log.
func (s *Service) AuditLog(ctx context.Context, tenant string, limit int) ([]model.AuditLogEntry, error) {
	return s.audit.List(ctx, tenant, limit)
}

// ResetAuditLog clears the tenant's log, leaving the reset entry.
func (s *Service) ResetAuditLog(ctx context.Context, sess model.Session) (int64, error) {
	return s.audit.Reset(ctx, sess.Tenant, sess.User)
}

// ExportAuditLog writes the tenant's log as a text report.
func (s *Service) ExportAuditLog(ctx context.Context, tenant string, w io.Writer, compress bool) error {
	return s.audit.Export(ctx, tenant, w, compress)
}

// --- settings --------------------------------------------------------------

// Settings returns the tenant's stored settings.
func (s *Service) Settings(ctx context.Context, tenant string) (map[string]string, error) {
	return s.store.GetSettings(ctx, tenant)
}

// SaveSettings stores values, replacing existing keys.
func (s *Service) SaveSettings(ctx context.Context, sess model.Session, values map[string]string) error {
	if len(values) == 0 {
		return errs.Validationf("no settings given")
	}
	keys := make([]string, 0, len(values))
	for k := range values {
		if strings.TrimSpace(k) == "" {
			return errs.Validationf("setting key is required")
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if err := s.store.SaveSettings(ctx, sess.Tenant, values); err != nil {
		return fmt.Errorf("save settings: %w", err)
	}
	s.record(ctx, sess.Tenant, sess.User, audit.SaveSettings, "settings", audit.Params{"keys": keys})
	return nil
}

func (s *Service) record(ctx context.Context, tenant, user string, action audit.Action, subject string, params audit.Params) {
	if err := s.audit.Record(ctx, tenant, user, action, subject, params); err != nil {
		logging.Warnf("audit %s for %s: %v", action, subject, err)
	}
}
