// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

package core

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/toeirei/keyless/internal/audit"
	"github.com/toeirei/keyless/internal/clock"
	"github.com/toeirei/keyless/internal/db"
	"github.com/toeirei/keyless/internal/errs"
	"github.com/toeirei/keyless/internal/keyless"
	"github.com/toeirei/keyless/internal/model"
	"github.com/toeirei/keyless/internal/templates"
	"github.com/toeirei/keyless/internal/testutil"
)

type fixture struct {
	svc    *Service
	store  *db.Store
	remote *testutil.FakeRemote
	clock  *clock.Fixed
	sess   model.Session
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := testutil.NewStore(t)
	remote := testutil.NewFakeRemote(t)
	client, err := keyless.New(keyless.Config{BaseURL: remote.URL()})
	require.NoError(t, err)
	clk := testutil.NewClock()
	return &fixture{
		svc:    New(store, client, clk),
		store:  store,
		remote: remote,
		clock:  clk,
		sess:   testutil.Session("fleet_a"),
	}
}

func (f *fixture) lastAction(t *testing.T) model.AuditLogEntry {
	t.Helper()
	entries, err := f.svc.AuditLog(context.Background(), f.sess.Tenant, 1)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	return entries[0]
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.Login(ctx, "fleet_a", "ana@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, model.Session{Tenant: "fleet_a", User: "ana@example.com", Token: "token-fleet_a"}, sess)
	e := f.lastAction(t)
	assert.Equal(t, string(audit.Login), e.Action)
	assert.Equal(t, "fleet_a", e.Subject)

	_, err = f.svc.Login(ctx, "fleet_a", "ana@example.com", "")
	assert.ErrorIs(t, err, errs.ErrRemoteRejected)
	e = f.lastAction(t)
	assert.Equal(t, string(audit.LoginFailed), e.Action)
	assert.JSONEq(t, `{"status":401}`, string(e.Parameters))

	f.svc.Logout(ctx, sess)
	assert.Equal(t, string(audit.Logout), f.lastAction(t).Action)
}

func TestDevices_AddListDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.svc.AddDevice(ctx, f.sess, " G1 ", " van ")
	require.NoError(t, err)
	assert.True(t, created)
	created, err = f.svc.AddDevice(ctx, f.sess, "G1", "truck")
	require.NoError(t, err)
	assert.False(t, created, "re-add replaces the description")
	_, err = f.svc.AddDevice(ctx, f.sess, "G2", "")
	require.NoError(t, err)

	f.remote.SetKeys("fleet_a", "G1", testutil.RemoteKey{VirtualKeyID: "vk-1"})
	_, err = f.svc.SyncDevice(ctx, f.sess, "G1")
	require.NoError(t, err)

	devices, err := f.svc.ListDevices(ctx, "fleet_a")
	require.NoError(t, err)
	require.Len(t, devices, 2)
	assert.Equal(t, "G1", devices[0].SerialNumber)
	assert.Equal(t, "truck", devices[0].Description)
	require.Len(t, devices[0].Keys, 1)
	assert.Equal(t, "vk-1", devices[0].Keys[0].ID)
	assert.NotNil(t, devices[1].Keys)
	assert.Empty(t, devices[1].Keys)

	other, err := f.svc.ListDevices(ctx, "fleet_b")
	require.NoError(t, err)
	assert.Empty(t, other)

	existed, err := f.svc.DeleteDevice(ctx, f.sess, "G1")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.Equal(t, string(audit.DeleteDevice), f.lastAction(t).Action)
	_, err = f.store.GetKey(ctx, "fleet_a", "vk-1")
	assert.ErrorIs(t, err, errs.ErrNotFound)

	_, err = f.svc.AddDevice(ctx, f.sess, "", "x")
	assert.ErrorIs(t, err, errs.ErrValidation)
}

func TestCreateKeyFromTemplate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.AddDevice(ctx, f.sess, "G1", "")
	require.NoError(t, err)

	ref := "pool"
	tpl, err := f.svc.CreateTemplate(ctx, f.sess, templates.Draft{
		Name:           "Standard",
		UserRef:        &ref,
		VKConfig:       json.RawMessage(`{"accessType":"Full"}`),
		DurationMonths: 6,
	})
	require.NoError(t, err)

	key, err := f.svc.CreateKeyFromTemplate(ctx, f.sess, "G1", tpl.ID)
	require.NoError(t, err)
	require.NotNil(t, key.ExpiresAt)
	assert.Equal(t, testutil.Epoch.AddDate(0, 6, 0).UnixMilli(), *key.ExpiresAt)
	require.NotNil(t, key.UserRef)
	assert.Equal(t, "pool", *key.UserRef)

	bodies := f.remote.CreateBodies()
	require.Len(t, bodies, 1)
	assert.Equal(t, "Full", gjson.GetBytes(bodies[0], "accessType").String())
	assert.False(t, gjson.GetBytes(bodies[0], "template_id").Exists(), "template metadata stays local")

	e := f.lastAction(t)
	assert.Equal(t, string(audit.CreateKey), e.Action)
	assert.Equal(t, tpl.ID, gjson.GetBytes(e.Parameters, "template_id").String())
	assert.Equal(t, int64(1), gjson.GetBytes(e.Parameters, "template_version").Int())

	require.NoError(t, f.svc.ArchiveTemplate(ctx, f.sess, tpl.ID))
	_, err = f.svc.CreateKeyFromTemplate(ctx, f.sess, "G1", tpl.ID)
	assert.ErrorIs(t, err, errs.ErrValidation)
	_, err = f.svc.CreateKeysFromTemplate(ctx, f.sess, []string{"G1"}, "tpl_missing")
	assert.ErrorIs(t, err, errs.ErrNotFound)
	assert.Len(t, f.remote.CreateBodies(), 1)
}

func TestKeys_RoundTrip(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, serial := range []string{"G1", "G2"} {
		_, err := f.svc.AddDevice(ctx, f.sess, serial, "")
		require.NoError(t, err)
	}

	sum, err := f.svc.CreateKeys(ctx, f.sess, []string{"G1", "G2"}, json.RawMessage(`{"userReference":"x"}`))
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Succeeded)

	k, err := f.svc.CreateKey(ctx, f.sess, "G1", nil)
	require.NoError(t, err)
	require.NoError(t, f.svc.DeleteKey(ctx, f.sess, "G1", k.ID))

	res, err := f.svc.DeleteAllKeys(ctx, f.sess, "G1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Deleted)

	sum, err = f.svc.DeleteKeysBulk(ctx, f.sess, []string{"G1", "G2"})
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Affected)

	sum, err = f.svc.SyncDevices(ctx, f.sess, []string{"G1", "G2"})
	require.NoError(t, err)
	assert.Zero(t, sum.Affected)
	assert.Empty(t, f.remote.Keys("fleet_a", "G1"))
	assert.Empty(t, f.remote.Keys("fleet_a", "G2"))
}

func TestDeviceImportAndBulkDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sum, err := f.svc.ImportDevices(ctx, f.sess, []model.DeviceInput{{SerialNumber: "A"}, {SerialNumber: "B"}})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Affected)

	sum, err = f.svc.DeleteDevices(ctx, f.sess, []string{"A", "B"})
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Affected)
	devices, err := f.svc.ListDevices(ctx, "fleet_a")
	require.NoError(t, err)
	assert.Empty(t, devices)
}

func TestTemplates_Facade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	v1, err := f.svc.CreateTemplate(ctx, f.sess, templates.Draft{Name: "Standard"})
	require.NoError(t, err)
	six := 6
	v2, err := f.svc.UpdateTemplate(ctx, f.sess, v1.ID, templates.Patch{DurationMonths: &six})
	require.NoError(t, err)

	history, err := f.svc.TemplateHistory(ctx, "fleet_a", v1.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, v2.ID, history[0].ID)

	got, err := f.svc.GetTemplate(ctx, "fleet_a", v2.ID)
	require.NoError(t, err)
	assert.Equal(t, 6, got.DurationMonths)

	require.NoError(t, f.svc.DeleteTemplate(ctx, f.sess, v1.ID))
	all, err := f.svc.ListTemplates(ctx, "fleet_a", true)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestAuditFacade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.AddDevice(ctx, f.sess, "G1", "")
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.svc.ExportAuditLog(ctx, "fleet_a", &buf, false))
	assert.Contains(t, buf.String(), "ADD_DEVICE")

	removed, err := f.svc.ResetAuditLog(ctx, f.sess)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)
	assert.Equal(t, string(audit.ResetLogs), f.lastAction(t).Action)
}

func TestSettings(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.SaveSettings(ctx, f.sess, map[string]string{"theme": "dark", "lang": "es"}))
	require.NoError(t, f.svc.SaveSettings(ctx, f.sess, map[string]string{"theme": "light"}))

	got, err := f.svc.Settings(ctx, "fleet_a")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"theme": "light", "lang": "es"}, got)

	other, err := f.svc.Settings(ctx, "fleet_b")
	require.NoError(t, err)
	assert.Empty(t, other)

	e := f.lastAction(t)
	assert.Equal(t, string(audit.SaveSettings), e.Action)
	assert.JSONEq(t, `{"keys":["theme"]}`, string(e.Parameters))

	assert.ErrorIs(t, f.svc.SaveSettings(ctx, f.sess, nil), errs.ErrValidation)
}

func TestOpen(t *testing.T) {
	remote := testutil.NewFakeRemote(t)
	svc, err := Open(Options{
		DBType:  db.TypeSQLite,
		DSN:     filepath.Join(t.TempDir(), "vehicles.db"),
		BaseURL: remote.URL(),
	})
	require.NoError(t, err)
	defer func() { _ = svc.Close() }()

	_, err = svc.AddDevice(context.Background(), testutil.Session("fleet_a"), "G1", "")
	require.NoError(t, err)

	_, err = Open(Options{DBType: "oracle", DSN: "x", BaseURL: remote.URL()})
	assert.Error(t, err)
	_, err = Open(Options{DBType: db.TypeSQLite, DSN: "x"})
	assert.Error(t, err)

}
