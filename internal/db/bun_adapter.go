// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

package db

import (
	"database/sql"
	"encoding/json"

	"github.com/toeirei/keyless/internal/model"
	"github.com/uptrace/bun"
)

// DeviceModel maps the `vehicles` table for Bun queries.
type DeviceModel struct {
	bun.BaseModel `bun:"table:vehicles"`
	SerialNumber  string         `bun:"serial_number,pk"`
	TenantDB      string         `bun:"tenant_db,pk"`
	Description   sql.NullString `bun:"description"`
	Faulty        sql.NullBool   `bun:"faulty"`
}

// VirtualKeyModel maps the `virtual_keys` table.
type VirtualKeyModel struct {
	bun.BaseModel `bun:"table:virtual_keys"`
	VKID          string         `bun:"vk_id,pk"`
	SerialNumber  string         `bun:"serial_number"`
	TenantDB      string         `bun:"tenant_db"`
	UserRef       sql.NullString `bun:"user_ref"`
	ExpiresAt     sql.NullInt64  `bun:"expires_at"`
}

// TemplateModel maps the `vk_templates` table. vk_config and nfc_tags are
// stored as JSON text.
type TemplateModel struct {
	bun.BaseModel     `bun:"table:vk_templates"`
	ID                string         `bun:"id,pk"`
	TenantDB          string         `bun:"tenant_db"`
	Name              string         `bun:"name"`
	UserRef           sql.NullString `bun:"user_ref"`
	VKConfig          string         `bun:"vk_config"`
	NFCTags           string         `bun:"nfc_tags"`
	DurationMonths    sql.NullInt64  `bun:"duration_months"`
	Version           int            `bun:"version"`
	PreviousVersionID sql.NullString `bun:"previous_version_id"`
	IsActive          sql.NullBool   `bun:"is_active"`
	CreatedAt         string         `bun:"created_at"`
	CreatedBy         sql.NullString `bun:"created_by"`
}

// AuditLogModel maps the `logs` table. The legacy `serial` column carries
// the entry's subject.
type AuditLogModel struct {
	bun.BaseModel `bun:"table:logs"`
	ID            int64          `bun:"id,pk,autoincrement"`
	TenantDB      string         `bun:"tenant_db"`
	Timestamp     sql.NullString `bun:"timestamp"`
	User          sql.NullString `bun:"user"`
	Action        sql.NullString `bun:"action"`
	Serial        sql.NullString `bun:"serial"`
	Parameters    sql.NullString `bun:"parameters"`
}

// SettingModel maps the `tenant_settings` table.
type SettingModel struct {
	bun.BaseModel `bun:"table:tenant_settings"`
	TenantDB      string         `bun:"tenant_db,pk"`
	Key           string         `bun:"setting_key,pk"`
	Value         sql.NullString `bun:"setting_value"`
}

// Mapping helpers convert between Bun models and domain models.

func deviceModelToModel(d DeviceModel) model.Device {
	return model.Device{
		SerialNumber: d.SerialNumber,
		Tenant:       d.TenantDB,
		Description:  d.Description.String,
		Faulty:       d.Faulty.Valid && d.Faulty.Bool,
	}
}

func virtualKeyModelToModel(k VirtualKeyModel) model.VirtualKey {
	return model.VirtualKey{
		ID:           k.VKID,
		SerialNumber: k.SerialNumber,
		Tenant:       k.TenantDB,
		UserRef:      ptrString(k.UserRef),
		ExpiresAt:    ptrInt64(k.ExpiresAt),
	}
}

func virtualKeyToModel(k model.VirtualKey) VirtualKeyModel {
	return VirtualKeyModel{
		VKID:         k.ID,
		SerialNumber: k.SerialNumber,
		TenantDB:     k.Tenant,
		UserRef:      nullString(k.UserRef),
		ExpiresAt:    nullInt64(k.ExpiresAt),
	}
}

func templateModelToModel(t TemplateModel) model.Template {
	out := model.Template{
		ID:                t.ID,
		Tenant:            t.TenantDB,
		Name:              t.Name,
		UserRef:           ptrString(t.UserRef),
		DurationMonths:    12,
		Version:           t.Version,
		PreviousVersionID: ptrString(t.PreviousVersionID),
		IsActive:          !t.IsActive.Valid || t.IsActive.Bool,
		CreatedAt:         t.CreatedAt,
		CreatedBy:         t.CreatedBy.String,
	}
	if t.DurationMonths.Valid {
		out.DurationMonths = int(t.DurationMonths.Int64)
	}
	if t.VKConfig != "" {
		out.VKConfig = json.RawMessage(t.VKConfig)
	}
	// Malformed tag lists from hand-edited rows decode as empty.
	_ = json.Unmarshal([]byte(t.NFCTags), &out.NFCTags)
	if out.NFCTags == nil {
		out.NFCTags = []string{}
	}
	return out
}

func templateToModel(t model.Template) (TemplateModel, error) {
	cfg := string(t.VKConfig)
	if cfg == "" {
		cfg = "{}"
	}
	tags := t.NFCTags
	if tags == nil {
		tags = []string{}
	}
	rawTags, err := json.Marshal(tags)
	if err != nil {
		return TemplateModel{}, err
	}
	return TemplateModel{
		ID:                t.ID,
		TenantDB:          t.Tenant,
		Name:              t.Name,
		UserRef:           nullString(t.UserRef),
		VKConfig:          cfg,
		NFCTags:           string(rawTags),
		DurationMonths:    sql.NullInt64{Int64: int64(t.DurationMonths), Valid: true},
		Version:           t.Version,
		PreviousVersionID: nullString(t.PreviousVersionID),
		IsActive:          sql.NullBool{Bool: t.IsActive, Valid: true},
		CreatedAt:         t.CreatedAt,
		CreatedBy:         sql.NullString{String: t.CreatedBy, Valid: t.CreatedBy != ""},
	}, nil
}

func auditLogModelToModel(a AuditLogModel) model.AuditLogEntry {
	e := model.AuditLogEntry{
		ID:        a.ID,
		Tenant:    a.TenantDB,
		Timestamp: a.Timestamp.String,
		User:      a.User.String,
		Action:    a.Action.String,
		Subject:   a.Serial.String,
	}
	if a.Parameters.Valid && json.Valid([]byte(a.Parameters.String)) {
		e.Parameters = json.RawMessage(a.Parameters.String)
	}
	return e
}

func auditEntryToModel(e model.AuditLogEntry) AuditLogModel {
	params := "{}"
	if len(e.Parameters) > 0 {
		params = string(e.Parameters)
	}
	return AuditLogModel{
		TenantDB:   e.Tenant,
		Timestamp:  sql.NullString{String: e.Timestamp, Valid: true},
		User:       sql.NullString{String: e.User, Valid: true},
		Action:     sql.NullString{String: e.Action, Valid: true},
		Serial:     sql.NullString{String: e.Subject, Valid: true},
		Parameters: sql.NullString{String: params, Valid: true},
	}
}

func ptrString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func ptrInt64(ni sql.NullInt64) *int64 {
	if !ni.Valid {
		return nil
	}
	n := ni.Int64
	return &n
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func nullInt64(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}
