// Copyright 2026 The Keyring Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package system exercises the whole stack in process: sqlite storage,
// the trust service, the HTTP API, and the keyserver-backed refresher.
package system

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/keyring/internal/core"
	"github.com/opentrusty/keyring/internal/pgp"
	"github.com/opentrusty/keyring/internal/pgp/pgptest"
	"github.com/opentrusty/keyring/internal/refresher"
	"github.com/opentrusty/keyring/internal/storage"
	"github.com/opentrusty/keyring/internal/transport/hkp"
	transportHTTP "github.com/opentrusty/keyring/internal/transport/http"
	"github.com/opentrusty/keyring/internal/trust"
)

type stack struct {
	db     storage.Config
	svc    *trust.Service
	server *httptest.Server
}

// newStack builds the full service over a sqlite file and serves the
// API from an httptest listener.
func newStack(t *testing.T, dir string, policy core.NetworkPolicy) *stack {
	t.Helper()
	dbCfg := storage.Config{Driver: "sqlite", DSN: filepath.Join(dir, "keyring.db")}
	db, err := storage.Open(dbCfg)
	require.NoError(t, err)
	require.NoError(t, storage.Migrate(db))

	c, err := core.NewContext("org.example.mua",
		core.WithHome(dir),
		core.WithNetworkPolicy(policy),
	)
	require.NoError(t, err)
	svc, err := trust.NewService(context.Background(), c, storage.Repositories(db))
	require.NoError(t, err)

	handler := transportHTTP.NewHandler(svc, nil)
	router := transportHTTP.NewRouter(handler, transportHTTP.NewRateLimiter(1000, 1000), "")
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &stack{db: dbCfg, svc: svc, server: server}
}

func (s *stack) put(t *testing.T, path string, tpk *pgp.TPK) *http.Response {
	t.Helper()
	armored, err := tpk.Armor()
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPut, s.server.URL+path, strings.NewReader(armored))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/pgp-keys")
	resp, err := s.server.Client().Do(req)
	require.NoError(t, err)
	return resp
}

func (s *stack) postJSON(t *testing.T, path, payload string) *http.Response {
	t.Helper()
	resp, err := s.server.Client().Post(s.server.URL+path, "application/json",
		strings.NewReader(payload))
	require.NoError(t, err)
	return resp
}

func (s *stack) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := s.server.Client().Get(s.server.URL + path)
	require.NoError(t, err)
	return resp
}

// TestPurpose: Validates the complete lifecycle over the API: store
// creation, first-use import, merge, conflict, forced rotation, and
// the audit trail, all persisted through a process restart.
// Scope: System Test
func TestSystem_FullLifecycle(t *testing.T) {
	dir := t.TempDir()
	s := newStack(t, dir, core.PolicyOffline)

	aliceEntity := pgptest.GenerateEntity(t, "Alice", "alice@example.org")
	alice := pgptest.Public(t, aliceEntity)
	mallory := pgptest.Public(t, pgptest.GenerateEntity(t, "Mallory", "mallory@example.org"))

	resp := s.postJSON(t, "/v1/stores", `{"name":"contacts"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()

	resp = s.put(t, "/v1/stores/contacts/bindings/alice", alice)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Merge: added subkey arrives through a second import.
	grown := pgptest.WithExtraSubkey(t, aliceEntity)
	resp = s.put(t, "/v1/stores/contacts/bindings/alice", grown)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Conflict: a stranger's key is rejected.
	resp = s.put(t, "/v1/stores/contacts/bindings/alice", mallory)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// The operator overrides.
	armored, err := mallory.Armor()
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost,
		s.server.URL+"/v1/stores/contacts/bindings/alice/rotate", strings.NewReader(armored))
	require.NoError(t, err)
	resp, err = s.server.Client().Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Restart: a fresh service over the same database sees the rotated
	// binding and the full log.
	db, err := storage.Open(s.db)
	require.NoError(t, err)
	c, err := core.NewContext("org.example.mua",
		core.WithHome(dir),
		core.WithNetworkPolicy(core.PolicyOffline),
	)
	require.NoError(t, err)
	svc, err := trust.NewService(context.Background(), c, storage.Repositories(db))
	require.NoError(t, err)

	st, err := svc.OpenStore(context.Background(), "contacts")
	require.NoError(t, err)
	b, err := st.Lookup("alice")
	require.NoError(t, err)
	assert.Equal(t, mallory.Fingerprint(), b.Fingerprint())

	cur, err := svc.ServerLog(context.Background())
	require.NoError(t, err)
	entries, err := trust.Collect(cur)
	require.NoError(t, err)
	statuses := make([]string, 0, len(entries))
	for _, e := range entries {
		statuses = append(statuses, e.Status)
	}
	assert.Contains(t, statuses, "bound new key")
	assert.Contains(t, statuses, "merged")
	assert.Contains(t, statuses, "import rejected")
	assert.Contains(t, statuses, "rotated (forced)")
	for i := 1; i < len(entries); i++ {
		assert.Greater(t, entries[i].Seq, entries[i-1].Seq)
	}
}

// TestPurpose: Validates the refresher fed by a real HKP endpoint
// merges upstream subkey additions into a bound key.
// Scope: System Test
func TestSystem_RefresherAgainstKeyserver(t *testing.T) {
	dir := t.TempDir()
	s := newStack(t, dir, core.PolicyInsecure)

	aliceEntity := pgptest.GenerateEntity(t, "Alice", "alice@example.org")
	alice := pgptest.Public(t, aliceEntity)
	grown := pgptest.WithExtraSubkey(t, aliceEntity)

	// The keyserver already has the grown key.
	keyserver := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/pks/lookup" {
			http.NotFound(w, r)
			return
		}
		armored, err := grown.Armor()
		require.NoError(t, err)
		_, _ = w.Write([]byte(armored))
	}))
	defer keyserver.Close()

	resp := s.postJSON(t, "/v1/stores", `{"name":"contacts"}`)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	resp.Body.Close()
	resp = s.put(t, "/v1/stores/contacts/bindings/alice", alice)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	fetcher, err := hkp.NewClient(hkp.Config{
		ServerURL: keyserver.URL,
		Policy:    core.PolicyInsecure,
	})
	require.NoError(t, err)

	manager := refresher.NewManager(s.svc, fetcher, refresher.Config{
		Interval: 5 * time.Millisecond,
		Timeout:  time.Second,
	}, nil)
	st, err := s.svc.OpenStore(context.Background(), "contacts")
	require.NoError(t, err)
	manager.Start(st)
	defer manager.StopAll()

	want := len(grown.SubkeyIDs())
	require.Eventually(t, func() bool {
		resp := s.get(t, "/v1/stores/contacts/bindings/alice")
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return false
		}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return false
		}
		tpk, err := pgp.ParseArmored(strings.NewReader(string(data)))
		if err != nil {
			return false
		}
		return len(tpk.SubkeyIDs()) == want
	}, 5*time.Second, 20*time.Millisecond)
}

// TestPurpose: Validates that two stores sharing one key observe each
// other's merges through the pool, end to end over the API.
// Scope: System Test
func TestSystem_PoolSharingAcrossStores(t *testing.T) {
	dir := t.TempDir()
	s := newStack(t, dir, core.PolicyOffline)

	aliceEntity := pgptest.GenerateEntity(t, "Alice", "alice@example.org")
	alice := pgptest.Public(t, aliceEntity)
	grown := pgptest.WithExtraSubkey(t, aliceEntity)

	for _, name := range []string{"contacts", "work"} {
		resp := s.postJSON(t, "/v1/stores", `{"name":"`+name+`"}`)
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		resp.Body.Close()
	}
	resp := s.put(t, "/v1/stores/contacts/bindings/alice", alice)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
	resp = s.put(t, "/v1/stores/work/bindings/alice-work", alice)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// One pooled key, not two.
	resp = s.get(t, "/v1/keys")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var keys []struct {
		Fingerprint string `json:"fingerprint"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&keys))
	resp.Body.Close()
	require.Len(t, keys, 1)

	// A merge through one store is visible from the other.
	resp = s.put(t, "/v1/stores/contacts/bindings/alice", grown)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = s.get(t, "/v1/stores/work/bindings/alice-work")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	tpk, err := pgp.ParseArmored(strings.NewReader(string(data)))
	require.NoError(t, err)
	assert.Len(t, tpk.SubkeyIDs(), len(grown.SubkeyIDs()))
}
