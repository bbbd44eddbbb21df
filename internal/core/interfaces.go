// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Package core is the inbound facade used by the CLI. Every method takes the
// caller's model.Session and delegates to the reconciler, bulk orchestrator,
// template chain and audit log, which all share one Store.
package core

import (
	"context"

	"github.com/toeirei/keyless/internal/audit"
	"github.com/toeirei/keyless/internal/bulk"
	"github.com/toeirei/keyless/internal/model"
	"github.com/toeirei/keyless/internal/reconcile"
	"github.com/toeirei/keyless/internal/templates"
)

// Store is every local operation the facade and the components it wires
// need. *db.Store implements it.
type Store interface {
	reconcile.Store
	bulk.Store
	templates.Store
	audit.Store

	ListDevices(ctx context.Context, tenant string) ([]model.Device, error)
	ListTenantKeys(ctx context.Context, tenant string) ([]model.VirtualKey, error)
	GetSettings(ctx context.Context, tenant string) (map[string]string, error)
	SaveSettings(ctx context.Context, tenant string, values map[string]string) error
}

// Remote is the keyless-access service as seen by the facade.
type Remote interface {
	reconcile.Remote
	Authenticate(ctx context.Context, database, username, password string) (string, error)
}
