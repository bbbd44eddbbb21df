// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

// package model defines the core data structures shared by the store, the
// remote client and the reconciliation engine.
package model // import "github.com/toeirei/keyless/internal/model"

import (
	"encoding/json"
	"fmt"
	"time"
)

// Session is the identity an inbound call carries: the tenant it acts on,
// the user recorded in the audit log and the bearer token for remote calls.
type Session struct {
	Tenant string
	User   string
	Token  string
}

// Device is a vehicle's keyless-access unit, identified by serial within a tenant.
type Device struct {
	SerialNumber string
	Tenant       string
	Description  string
	Faulty       bool
}

// String returns the serial@tenant representation.
func (d Device) String() string {
	return fmt.Sprintf("%s@%s", d.SerialNumber, d.Tenant)
}

// DeviceInput is one row of a local device import.
type DeviceInput struct {
	SerialNumber string
	Description  string
}

// DeviceWithKeys is a device together with its locally mirrored keys.
type DeviceWithKeys struct {
	Device
	Keys []VirtualKey
}

// VirtualKey is the local mirror of a remotely issued access credential.
type VirtualKey struct {
	ID           string
	SerialNumber string
	Tenant       string
	UserRef      *string
	ExpiresAt    *int64 // epoch milliseconds
}

// Expires returns the expiry as a time, or the zero time when unbounded.
func (k VirtualKey) Expires() time.Time {
	if k.ExpiresAt == nil {
		return time.Time{}
	}
	return time.UnixMilli(*k.ExpiresAt)
}

// KeyRecord is a key as reported by the remote service.
type KeyRecord struct {
	VirtualKeyID    string
	UserReference   *string
	EndingTimestamp *int64
}

// ToVirtualKey binds a remote record to a local device.
func (r KeyRecord) ToVirtualKey(tenant, serial string) VirtualKey {
	return VirtualKey{
		ID:           r.VirtualKeyID,
		SerialNumber: serial,
		Tenant:       tenant,
		UserRef:      r.UserReference,
		ExpiresAt:    r.EndingTimestamp,
	}
}

// TemplateRef identifies the template a key was issued from, for auditing.
type TemplateRef struct {
	ID      string
	Name    string
	Version int
}

// KeyRequest is the body sent to the remote service when creating a key.
type KeyRequest struct {
	Config   json.RawMessage
	Template *TemplateRef
}

// Template is one immutable version of a named key configuration.
type Template struct {
	ID                string
	Tenant            string
	Name              string
	UserRef           *string
	VKConfig          json.RawMessage
	NFCTags           []string
	DurationMonths    int
	Version           int
	PreviousVersionID *string
	IsActive          bool
	CreatedAt         string
	CreatedBy         string
}

// Ref returns the audit reference for t.
func (t Template) Ref() TemplateRef {
	return TemplateRef{ID: t.ID, Name: t.Name, Version: t.Version}
}

// AuditLogEntry is one append-only row of the audit log.
type AuditLogEntry struct {
	ID         int64
	Tenant     string
	Timestamp  string
	User       string
	Action     string
	Subject    string
	Parameters json.RawMessage
}
