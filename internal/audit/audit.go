// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Package audit records every mutating action in the tenant's append-only log.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/toeirei/keyless/internal/clock"
	"github.com/toeirei/keyless/internal/model"
)

// Action is the enumerated tag of an audit entry.
type Action string

// Audit actions. The string values are what older databases already hold.
const (
	Login             Action = "LOGIN"
	LoginFailed       Action = "LOGIN_FAILED"
	Logout            Action = "LOGOUT"
	AddDevice         Action = "ADD_DEVICE"
	ImportDevices     Action = "IMPORT_DEVICES"
	DeleteDevice      Action = "DELETE_DEVICE"
	BulkDeleteDevices Action = "BULK_DELETE_DEVICES"
	Sync              Action = "SYNC"
	SyncError         Action = "SYNC_ERROR"
	BulkSync          Action = "BULK_SYNC"
	CreateKey         Action = "CREATE_VK"
	CreateKeyError    Action = "CREATE_VK_ERROR"
	BulkCreateKey     Action = "BULK_CREATE_VK"
	DeleteKey         Action = "DELETE_VK"
	DeleteKeyError    Action = "DELETE_VK_ERROR"
	DeleteAllKeys     Action = "DELETE_ALL_VK"
	BulkDeleteKeys    Action = "BULK_DELETE_VK"
	CreateTemplate    Action = "CREATE_TEMPLATE"
	UpdateTemplate    Action = "UPDATE_TEMPLATE"
	ArchiveTemplate   Action = "ARCHIVE_TEMPLATE"
	DeleteTemplate    Action = "DELETE_TEMPLATE_HARD"
	ResetLogs         Action = "RESET_LOGS"
	SaveSettings      Action = "SAVE_SETTINGS"
)

// TimestampLayout is the on-disk format of entry timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

// DefaultListLimit is how many entries List returns when no limit is given.
const DefaultListLimit = 50

// Params is the structured payload of an entry.
type Params map[string]any

// Store is the persistence the log needs.
type Store interface {
	AppendAuditEntry(ctx context.Context, e model.AuditLogEntry) (int64, error)
	ListAuditEntries(ctx context.Context, tenant string, limit int) ([]model.AuditLogEntry, error)
	ResetAuditLog(ctx context.Context, tenant string, first model.AuditLogEntry) (int64, error)
}

// Recorder appends entries. Components that only write to the log depend on
// this rather than on *Log.
type Recorder interface {
	Record(ctx context.Context, tenant, user string, action Action, subject string, params Params) error
}

// Log is the tenant-partitioned audit log.
type Log struct {
	store Store
	clock clock.Clock
}

// New returns a Log writing through store. A nil clock means wall time.
func New(store Store, c clock.Clock) *Log {
	return &Log{store: store, clock: clock.OrSystem(c)}
}

// Record appends one entry stamped with the current time.
func (l *Log) Record(ctx context.Context, tenant, user string, action Action, subject string, params Params) error {
	e, err := l.entry(tenant, user, action, subject, params)
	if err != nil {
		return err
	}
	if _, err := l.store.AppendAuditEntry(ctx, e); err != nil {
		return fmt.Errorf("audit %s %s: %w", action, subject, err)
	}
	return nil
}

func (l *Log) entry(tenant, user string, action Action, subject string, params Params) (model.AuditLogEntry, error) {
	if params == nil {
		params = Params{}
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return model.AuditLogEntry{}, fmt.Errorf("audit %s: encode parameters: %w", action, err)
	}
	return model.AuditLogEntry{
		Tenant:     tenant,
		Timestamp:  l.clock.Now().Format(TimestampLayout),
		User:       user,
		Action:     string(action),
		Subject:    subject,
		Parameters: raw,
	}, nil
}

// List returns up to limit entries of the tenant, newest first. A limit of
// zero or less means DefaultListLimit.
func (l *Log) List(ctx context.Context, tenant string, limit int) ([]model.AuditLogEntry, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	return l.store.ListAuditEntries(ctx, tenant, limit)
}

// Reset clears the tenant's log. The RESET_LOGS entry is the first entry of
// the new log.
func (l *Log) Reset(ctx context.Context, tenant, user string) (int64, error) {
	e, err := l.entry(tenant, user, ResetLogs, "ALL", nil)
	if err != nil {
		return 0, err
	}
	return l.store.ResetAuditLog(ctx, tenant, e)
}

// Export writes every entry of the tenant as a plain text report, newest
// first. With compress the report is zstd-compressed.
func (l *Log) Export(ctx context.Context, tenant string, w io.Writer, compress bool) (err error) {
	entries, err := l.store.ListAuditEntries(ctx, tenant, 0)
	if err != nil {
		return err
	}
	if compress {
		enc, encErr := zstd.NewWriter(w)
		if encErr != nil {
			return fmt.Errorf("audit export: %w", encErr)
		}
		defer func() {
			if cerr := enc.Close(); err == nil {
				err = cerr
			}
		}()
		w = enc
	}
	return writeReport(w, tenant, l.clock.Now().Format(TimestampLayout), entries)
}

func writeReport(w io.Writer, tenant, generated string, entries []model.AuditLogEntry) error {
	var b strings.Builder
	rule := strings.Repeat("=", 80)
	fmt.Fprintf(&b, "%s\nKEYLESS FLEET MANAGER - LOG EXPORT\nTenant: %s\nGenerated: %s\n%s\n\n", rule, tenant, generated, rule)
	for _, e := range entries {
		user := e.User
		if user == "" {
			user = "N/A"
		}
		fmt.Fprintf(&b, "[%s] %s\n  User: %s\n  Subject: %s\n", e.Timestamp, e.Action, user, e.Subject)
		if len(e.Parameters) > 0 && string(e.Parameters) != "{}" {
			fmt.Fprintf(&b, "  Params: %s\n", e.Parameters)
		}
		b.WriteString(strings.Repeat("-", 40) + "\n")
	}
	_, err := io.WriteString(w, b.String())
	return err
}
