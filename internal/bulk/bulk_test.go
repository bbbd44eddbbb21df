// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

package bulk

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toeirei/keyless/internal/audit"
	"github.com/toeirei/keyless/internal/db"
	"github.com/toeirei/keyless/internal/errs"
	"github.com/toeirei/keyless/internal/keyless"
	"github.com/toeirei/keyless/internal/model"
	"github.com/toeirei/keyless/internal/reconcile"
	"github.com/toeirei/keyless/internal/testutil"
)

type fixture struct {
	store  *db.Store
	remote *testutil.FakeRemote
	log    *audit.Log
	bulk   *Orchestrator
	sess   model.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewStore(t)
	remote := testutil.NewFakeRemote(t)
	client, err := keyless.New(keyless.Config{BaseURL: remote.URL()})
	require.NoError(t, err)
	log := audit.New(store, testutil.NewClock())
	return &fixture{
		store:  store,
		remote: remote,
		log:    log,
		bulk:   New(reconcile.New(store, client, log), store, log),
		sess:   testutil.Session("fleet_a"),
	}
}

func (f *fixture) device(t *testing.T, serial string, keyIDs ...string) {
	t.Helper()
	ctx := context.Background()
	_, err := f.store.UpsertDevice(ctx, f.sess.Tenant, serial, "")
	require.NoError(t, err)
	for _, id := range keyIDs {
		require.NoError(t, f.store.RecordKey(ctx, model.VirtualKey{ID: id, SerialNumber: serial, Tenant: f.sess.Tenant}))
	}
}

func (f *fixture) keyCount(t *testing.T, serial string) int {
	t.Helper()
	keys, err := f.store.ListKeys(context.Background(), f.sess.Tenant, serial)
	require.NoError(t, err)
	return len(keys)
}

func (f *fixture) entries(t *testing.T, action audit.Action) []model.AuditLogEntry {
	t.Helper()
	all, err := f.log.List(context.Background(), f.sess.Tenant, 1000)
	require.NoError(t, err)
	var out []model.AuditLogEntry
	for _, e := range all {
		if e.Action == string(action) {
			out = append(out, e)
		}
	}
	return out
}

func TestDeleteKeys_MixedOutcome(t *testing.T) {
	f := newFixture(t)
	f.device(t, "A", "a-1", "a-2")
	f.device(t, "B", "b-1")
	f.device(t, "C", "c-1")
	f.remote.Fail(http.MethodDelete, "B", http.StatusInternalServerError, "device offline")

	sum, err := f.bulk.DeleteKeys(context.Background(), f.sess, []string{"A", "B", "C"})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, 2, sum.Succeeded)
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, "B", sum.Errors[0].Subject)
	assert.Contains(t, sum.Errors[0].Detail, "device offline")
	assert.Equal(t, 3, sum.Affected)

	assert.Zero(t, f.keyCount(t, "A"))
	assert.Equal(t, 1, f.keyCount(t, "B"))
	assert.Zero(t, f.keyCount(t, "C"))

	bulkEntries := f.entries(t, audit.BulkDeleteKeys)
	require.Len(t, bulkEntries, 1)
	assert.Equal(t, "A,B,C", bulkEntries[0].Subject)
	assert.JSONEq(t, `{"deleted":3,"devices":3}`, string(bulkEntries[0].Parameters))
}

func TestDeleteKeys_NothingDeletedNoBulkEntry(t *testing.T) {
	f := newFixture(t)
	f.device(t, "A")

	sum, err := f.bulk.DeleteKeys(context.Background(), f.sess, []string{"A", "MISSING"})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Processed)
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, "MISSING", sum.Errors[0].Subject)
	assert.Empty(t, f.entries(t, audit.BulkDeleteKeys))
}

func TestSyncDevices_ContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	f.device(t, "A")
	f.device(t, "B", "b-old")
	f.device(t, "C")
	f.remote.SetKeys("fleet_a", "A", testutil.RemoteKey{VirtualKeyID: "a-1"})
	f.remote.SetKeys("fleet_a", "C", testutil.RemoteKey{VirtualKeyID: "c-1"}, testutil.RemoteKey{VirtualKeyID: "c-2"})
	f.remote.Fail(http.MethodGet, "B", http.StatusNotFound, "unknown device")

	sum, err := f.bulk.SyncDevices(context.Background(), f.sess, []string{"A", "B", "C"})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 3, sum.Affected)
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, "B", sum.Errors[0].Subject)

	b, err := f.store.GetDevice(context.Background(), "fleet_a", "B")
	require.NoError(t, err)
	assert.True(t, b.Faulty)
	assert.Equal(t, 1, f.keyCount(t, "B"))
	assert.Equal(t, 2, f.keyCount(t, "C"))

	entries := f.entries(t, audit.BulkSync)
	require.Len(t, entries, 1)
	assert.JSONEq(t, `{"devices":3,"succeeded":2,"errors":1,"keys_found":3}`, string(entries[0].Parameters))
}

func TestCreateKeys_SameConfigEveryDevice(t *testing.T) {
	f := newFixture(t)
	f.device(t, "A")
	f.device(t, "FULL", "f-1", "f-2", "f-3", "f-4")
	f.remote.SetKeys("fleet_a", "FULL",
		testutil.RemoteKey{VirtualKeyID: "f-1"}, testutil.RemoteKey{VirtualKeyID: "f-2"},
		testutil.RemoteKey{VirtualKeyID: "f-3"}, testutil.RemoteKey{VirtualKeyID: "f-4"})

	req := model.KeyRequest{
		Config:   json.RawMessage(`{"userReference":"driver"}`),
		Template: &model.TemplateRef{ID: "tpl_1", Name: "Standard", Version: 1},
	}
	sum, err := f.bulk.CreateKeys(context.Background(), f.sess, []string{"A", "FULL"}, req)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Succeeded)
	assert.Equal(t, 1, sum.Affected)
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, "FULL", sum.Errors[0].Subject)
	assert.Equal(t, 1, f.keyCount(t, "A"))
	assert.Equal(t, 4, f.keyCount(t, "FULL"))

	for _, body := range f.remote.CreateBodies() {
		assert.JSONEq(t, `{"userReference":"driver"}`, string(body))
	}
	entries := f.entries(t, audit.BulkCreateKey)
	require.Len(t, entries, 1)
	assert.Contains(t, string(entries[0].Parameters), `"template_name":"Standard"`)
}

func TestRemoteBatch_Preconditions(t *testing.T) {
	f := newFixture(t)
	f.device(t, "A", "a-1")
	ctx := context.Background()

	_, err := f.bulk.SyncDevices(ctx, f.sess, nil)
	assert.ErrorIs(t, err, errs.ErrValidation)

	noToken := f.sess
	noToken.Token = ""
	_, err = f.bulk.DeleteKeys(ctx, noToken, []string{"A"})
	assert.ErrorIs(t, err, errs.ErrNoSession)

	_, err = f.bulk.CreateKeys(ctx, f.sess, []string{"A"}, model.KeyRequest{Config: json.RawMessage(`{`)})
	assert.ErrorIs(t, err, errs.ErrValidation)

	assert.Zero(t, f.remote.Calls())
	assert.Equal(t, 1, f.keyCount(t, "A"))
}

func TestDeleteDevicesLocal(t *testing.T) {
	f := newFixture(t)
	f.device(t, "A", "a-1")
	f.device(t, "B")
	noToken := f.sess
	noToken.Token = ""

	sum, err := f.bulk.DeleteDevicesLocal(context.Background(), noToken, []string{"A", "B", "GHOST"})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, 3, sum.Succeeded)
	assert.Equal(t, 2, sum.Affected)
	assert.False(t, sum.Failed())
	assert.Zero(t, f.remote.Calls())

	devices, err := f.store.ListDevices(context.Background(), "fleet_a")
	require.NoError(t, err)
	assert.Empty(t, devices)
	assert.Zero(t, f.keyCount(t, "A"))

	entries := f.entries(t, audit.BulkDeleteDevices)
	require.Len(t, entries, 1)
	assert.Equal(t, "A,B,GHOST", entries[0].Subject)
	assert.JSONEq(t, `{"count":3}`, string(entries[0].Parameters))
}

func TestImportDevices(t *testing.T) {
	f := newFixture(t)
	f.device(t, "A")

	sum, err := f.bulk.ImportDevices(context.Background(), f.sess, []model.DeviceInput{
		{SerialNumber: "A", Description: "renamed"},
		{SerialNumber: " B ", Description: "van"},
		{SerialNumber: ""},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Processed)
	assert.Equal(t, 2, sum.Succeeded)
	assert.Equal(t, 1, sum.Affected)
	require.Len(t, sum.Errors, 1)
	assert.Equal(t, "row 3", sum.Errors[0].Subject)

	a, err := f.store.GetDevice(context.Background(), "fleet_a", "A")
	require.NoError(t, err)
	assert.Equal(t, "renamed", a.Description)
	b, err := f.store.GetDevice(context.Background(), "fleet_a", "B")
	require.NoError(t, err)
	assert.Equal(t, "van", b.Description)

	entries := f.entries(t, audit.ImportDevices)
	require.Len(t, entries, 1)
	assert.Equal(t, "2 devices", entries[0].Subject)

	_, err = f.bulk.ImportDevices(context.Background(), f.sess, nil)
	assert.ErrorIs(t, err, errs.ErrValidation)
}
