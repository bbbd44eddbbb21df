// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

package keyless

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/toeirei/keyless/internal/errs"
	"github.com/toeirei/keyless/internal/testutil"
)

func newClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: baseURL})
	require.NoError(t, err)
	return c
}

func TestNew_ValidatesBaseURL(t *testing.T) {
	for _, bad := range []string{"", "   ", "not a url", "ftp://host/api", "https://user:pw@host/api"} {
		_, err := New(Config{BaseURL: bad})
		assert.Error(t, err, "base url %q", bad)
	}
	c, err := New(Config{BaseURL: "https://keyless.example.com/api/"})
	require.NoError(t, err)
	assert.Equal(t, "https://keyless.example.com/api", c.BaseURL())
}

func TestListStoredKeys(t *testing.T) {
	remote := testutil.NewFakeRemote(t)
	remote.SetKeys("fleet_a", "G1",
		testutil.RemoteKey{VirtualKeyID: "vk-1", UserReference: "ana", EndingTimestamp: 1767225600000},
		testutil.RemoteKey{VirtualKeyID: "vk-2"},
	)
	c := newClient(t, remote.URL())

	recs, err := c.ListStoredKeys(context.Background(), "fleet_a", "G1", "tok")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "vk-1", recs[0].VirtualKeyID)
	require.NotNil(t, recs[0].UserReference)
	assert.Equal(t, "ana", *recs[0].UserReference)
	require.NotNil(t, recs[0].EndingTimestamp)
	assert.Equal(t, int64(1767225600000), *recs[0].EndingTimestamp)
	assert.Nil(t, recs[1].UserReference)
	assert.Nil(t, recs[1].EndingTimestamp)
}

func TestListStoredKeys_RequestShape(t *testing.T) {
	var gotPath, gotQuery, gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotQuery, gotAuth = r.URL.EscapedPath(), r.URL.RawQuery, r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{"virtualKeys":[]}`))
	}))
	defer srv.Close()

	recs, err := newClient(t, srv.URL+"/api").ListStoredKeys(context.Background(), "fleet a", "G/1", "tok")
	require.NoError(t, err)
	assert.Empty(t, recs)
	assert.Equal(t, "/api/tenants/fleet%20a/devices/G%2F1/virtual-keys", gotPath)
	assert.Equal(t, "virtualKeysFilter=Stored", gotQuery)
	assert.Equal(t, "Bearer tok", gotAuth)
}

func TestNoSession_NoNetworkCall(t *testing.T) {
	remote := testutil.NewFakeRemote(t)
	c := newClient(t, remote.URL())
	ctx := context.Background()

	_, err := c.ListStoredKeys(ctx, "fleet_a", "G1", "")
	assert.ErrorIs(t, err, errs.ErrNoSession)
	_, err = c.CreateKey(ctx, "fleet_a", "G1", " ", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, errs.ErrNoSession)
	err = c.DeleteKey(ctx, "fleet_a", "G1", "vk-1", "")
	assert.ErrorIs(t, err, errs.ErrNoSession)

	assert.Zero(t, remote.Calls())
}

func TestRemoteFailure_CarriesStatusAndBody(t *testing.T) {
	remote := testutil.NewFakeRemote(t)
	remote.Fail(http.MethodGet, "G1", http.StatusNotFound, `{"error":"device not found"}`)
	c := newClient(t, remote.URL())

	_, err := c.ListStoredKeys(context.Background(), "fleet_a", "G1", "tok")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrRemoteRejected)
	var re *errs.RemoteError
	require.True(t, errors.As(err, &re))
	assert.Equal(t, http.StatusNotFound, re.StatusCode)
	assert.Equal(t, `{"error":"device not found"}`, re.Body)
}

func TestCreateKey(t *testing.T) {
	remote := testutil.NewFakeRemote(t)
	c := newClient(t, remote.URL())

	rec, err := c.CreateKey(context.Background(), "fleet_a", "G1", "tok",
		json.RawMessage(`{"userReference":"ana","endingTimestamp":1767225600000}`))
	require.NoError(t, err)
	assert.NotEmpty(t, rec.VirtualKeyID)
	require.NotNil(t, rec.UserReference)
	assert.Equal(t, "ana", *rec.UserReference)

	bodies := remote.CreateBodies()
	require.Len(t, bodies, 1)
	assert.JSONEq(t, `{"userReference":"ana","endingTimestamp":1767225600000}`, string(bodies[0]))
}

func TestCreateKey_RejectsInvalidConfig(t *testing.T) {
	remote := testutil.NewFakeRemote(t)
	_, err := newClient(t, remote.URL()).CreateKey(context.Background(), "fleet_a", "G1", "tok", json.RawMessage(`{`))
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.Zero(t, remote.Calls())
}

func TestCreateKey_MissingIDIsFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	_, err := newClient(t, srv.URL).CreateKey(context.Background(), "fleet_a", "G1", "tok", nil)
	assert.ErrorIs(t, err, errs.ErrRemoteRejected)
}

func TestDeleteKey_SuccessStatuses(t *testing.T) {
	for _, status := range []int{http.StatusOK, http.StatusAccepted, http.StatusNoContent} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodDelete, r.Method)
			assert.True(t, strings.HasSuffix(r.URL.Path, "/virtual-keys/vk-1"))
			w.WriteHeader(status)
		}))
		err := newClient(t, srv.URL).DeleteKey(context.Background(), "fleet_a", "G1", "vk-1", "tok")
		assert.NoError(t, err, "status %d", status)
		srv.Close()
	}

	// 201 is a 2xx but not an accepted delete outcome.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()
	err := newClient(t, srv.URL).DeleteKey(context.Background(), "fleet_a", "G1", "vk-1", "tok")
	assert.Equal(t, http.StatusCreated, errs.StatusOf(err))
}

func TestTransportError_IsStatusZero(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := newClient(t, url).ListStoredKeys(context.Background(), "fleet_a", "G1", "tok")
	require.Error(t, err)
	assert.ErrorIs(t, err, errs.ErrRemoteRejected)
	assert.Equal(t, 0, errs.StatusOf(err))
}

func TestAuthenticate(t *testing.T) {
	remote := testutil.NewFakeRemote(t)
	c := newClient(t, remote.URL())

	token, err := c.Authenticate(context.Background(), "fleet_a", "ana", "secret")
	require.NoError(t, err)
	assert.Equal(t, "token-fleet_a", token)

	_, err = c.Authenticate(context.Background(), "fleet_a", "ana", "")
	assert.Equal(t, http.StatusUnauthorized, errs.StatusOf(err))

	_, err = c.Authenticate(context.Background(), "", "ana", "secret")
	assert.ErrorIs(t, err, errs.ErrValidation)
}
