// Copyright (c) 2026 Keymaster Team
// Keyless - virtual key fleet manager
// This source code is licensed under the MIT license found in the LICENSE file.

package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// RemoteKey is one key held by FakeRemote.
type RemoteKey struct {
	VirtualKeyID    string `json:"virtualKeyId"`
	UserReference   string `json:"userReference,omitempty"`
	EndingTimestamp int64  `json:"endingTimestamp,omitempty"`
}

type failure struct {
	status int
	body   string
}

// FakeRemote is an in-memory stand-in for the keyless-access service.
// Failures can be programmed per method and serial (or per key id for
// deletes).
type FakeRemote struct {
	Server *httptest.Server

	mu       sync.Mutex
	keys     map[string][]RemoteKey // tenant/serial -> keys
	failures map[string]failure     // METHOD serial[/vkID]
	calls    int
	seq      int
	bodies   []json.RawMessage
}

// NewFakeRemote starts a fake service that is closed with the test.
func NewFakeRemote(t testing.TB) *FakeRemote {
	t.Helper()
	f := &FakeRemote{keys: map[string][]RemoteKey{}, failures: map[string]failure{}}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /auth", f.handleAuth)
	mux.HandleFunc("GET /tenants/{tenant}/devices/{serial}/virtual-keys", f.handleList)
	mux.HandleFunc("POST /tenants/{tenant}/devices/{serial}/virtual-keys", f.handleCreate)
	mux.HandleFunc("DELETE /tenants/{tenant}/devices/{serial}/virtual-keys/{vk}", f.handleDelete)

	f.Server = httptest.NewServer(mux)
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the service root.
func (f *FakeRemote) URL() string { return f.Server.URL }

// SetKeys replaces the keys stored for a device.
func (f *FakeRemote) SetKeys(tenant, serial string, keys ...RemoteKey) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.keys[tenant+"/"+serial] = append([]RemoteKey(nil), keys...)
}

// Keys returns the keys currently stored for a device.
func (f *FakeRemote) Keys(tenant, serial string) []RemoteKey {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RemoteKey(nil), f.keys[tenant+"/"+serial]...)
}

// Fail makes every request matching method and target answer status/body.
// target is a serial, or serial/vkID for deletes of one key.
func (f *FakeRemote) Fail(method, target string, status int, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[method+" "+target] = failure{status: status, body: body}
}

// Calls returns how many requests reached the fake.
func (f *FakeRemote) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// CreateBodies returns the raw bodies received by create calls, in order.
func (f *FakeRemote) CreateBodies() []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]json.RawMessage(nil), f.bodies...)
}

func (f *FakeRemote) begin(w http.ResponseWriter, r *http.Request, targets ...string) bool {
	f.mu.Lock()
	f.calls++
	var hit *failure
	for _, tgt := range targets {
		if fl, ok := f.failures[r.Method+" "+tgt]; ok {
			hit = &fl
			break
		}
	}
	f.mu.Unlock()

	if r.URL.Path != "/auth" && !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return false
	}
	if hit != nil {
		w.WriteHeader(hit.status)
		_, _ = io.WriteString(w, hit.body)
		return false
	}
	return true
}

func (f *FakeRemote) handleAuth(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Database string `json:"database"`
		Username string `json:"username"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&creds)
	if !f.begin(w, r, creds.Username) {
		return
	}
	if creds.Password == "" {
		http.Error(w, `{"error":"invalid credentials"}`, http.StatusUnauthorized)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"accessToken": "token-" + creds.Database})
}

func (f *FakeRemote) handleList(w http.ResponseWriter, r *http.Request) {
	serial := r.PathValue("serial")
	if !f.begin(w, r, serial) {
		return
	}
	keys := f.Keys(r.PathValue("tenant"), serial)
	if keys == nil {
		keys = []RemoteKey{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"virtualKeys": keys})
}

func (f *FakeRemote) handleCreate(w http.ResponseWriter, r *http.Request) {
	tenant, serial := r.PathValue("tenant"), r.PathValue("serial")
	raw, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.bodies = append(f.bodies, json.RawMessage(raw))
	f.mu.Unlock()
	if !f.begin(w, r, serial) {
		return
	}

	var req struct {
		UserReference   string `json:"userReference"`
		EndingTimestamp int64  `json:"endingTimestamp"`
	}
	_ = json.Unmarshal(raw, &req)

	f.mu.Lock()
	dev := tenant + "/" + serial
	if len(f.keys[dev]) >= 4 {
		f.mu.Unlock()
		http.Error(w, `{"error":"maximum number of virtual keys reached"}`, http.StatusBadRequest)
		return
	}
	f.seq++
	k := RemoteKey{
		VirtualKeyID:    fmt.Sprintf("vk-%s-%d", serial, f.seq),
		UserReference:   req.UserReference,
		EndingTimestamp: req.EndingTimestamp,
	}
	f.keys[dev] = append(f.keys[dev], k)
	f.mu.Unlock()
	writeJSON(w, http.StatusOK, k)
}

func (f *FakeRemote) handleDelete(w http.ResponseWriter, r *http.Request) {
	tenant, serial, vk := r.PathValue("tenant"), r.PathValue("serial"), r.PathValue("vk")
	if !f.begin(w, r, serial+"/"+vk, serial) {
		return
	}
	f.mu.Lock()
	dev := tenant + "/" + serial
	kept := f.keys[dev][:0]
	for _, k := range f.keys[dev] {
		if k.VirtualKeyID != vk {
			kept = append(kept, k)
		}
	}
	f.keys[dev] = kept
	f.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
