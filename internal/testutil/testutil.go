// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

// Package testutil holds test doubles shared by package tests: an isolated
// in-memory store and a fake remote keyless-access service.
package testutil

import (
	"strings"
	"testing"
	"time"

	"github.com/toeirei/keyless/internal/clock"
	"github.com/toeirei/keyless/internal/db"
	"github.com/toeirei/keyless/internal/model"
)

// Epoch is the instant fixed clocks in tests start at.
var Epoch = time.Date(2026, time.March, 1, 9, 30, 0, 0, time.UTC)

// NewStore opens an in-memory sqlite store private to t.
func NewStore(t testing.TB) *db.Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	s, err := db.NewStoreFromDSN(db.TypeSQLite, "file:"+name+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("NewStoreFromDSN failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// NewClock returns a fixed clock pinned at Epoch.
func NewClock() *clock.Fixed { return clock.NewFixed(Epoch) }

// Session returns a logged-in session for tenant.
func Session(tenant string) model.Session {
	return model.Session{Tenant: tenant, User: "ana@example.com", Token: "token-" + tenant}
}
