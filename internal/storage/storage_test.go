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

package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/opentrusty/keyring/internal/core"
	"github.com/opentrusty/keyring/internal/pgp/pgptest"
	"github.com/opentrusty/keyring/internal/trust"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := Open(Config{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "keyring.db"),
	})
	require.NoError(t, err)
	require.NoError(t, Migrate(db))
	return db
}

// TestPurpose: Validates the key repository round trip, including upsert
// semantics on the fingerprint primary key and subkey id re-splitting.
// Scope: Integration Test (SQLite)
// Expected: A second Save with the same fingerprint updates in place.
func TestStorage_KeyRepository(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewKeyRepository(db)

	now := time.Now().UTC().Truncate(time.Second)
	state := &trust.KeyState{
		Fingerprint: "0123456789ABCDEF0123456789ABCDEF01234567",
		KeyID:       "89ABCDEF01234567",
		SubkeyIDs:   []string{"AAAAAAAAAAAAAAAA", "BBBBBBBBBBBBBBBB"},
		Material:    []byte{0x99, 0x01},
		Stats:       trust.Stats{Created: now, Updated: now},
	}
	require.NoError(t, repo.Save(ctx, state))

	state.Material = []byte{0x99, 0x01, 0x02}
	state.Stats.Encryption = trust.Stamps{Count: 3, First: now, Last: now}
	require.NoError(t, repo.Save(ctx, state))

	states, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, states, 1)
	got := states[0]
	assert.Equal(t, state.Fingerprint, got.Fingerprint)
	assert.Equal(t, state.SubkeyIDs, got.SubkeyIDs)
	assert.Equal(t, state.Material, got.Material)
	assert.Equal(t, uint64(3), got.Stats.Encryption.Count)

	require.NoError(t, repo.Delete(ctx, state.Fingerprint))
	states, err = repo.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, states)
}

// TestPurpose: Validates store lookup by domain and name, the not-found
// error contract, and prefix listing with LIKE metacharacters escaped.
// Scope: Integration Test (SQLite)
// Expected: trust.ErrNotFound for a missing store; no row leaks through
// a prefix containing a literal underscore.
func TestStorage_StoreRepository(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewStoreRepository(db)

	_, err := repo.Get(ctx, "org.example", "missing")
	assert.ErrorIs(t, err, trust.ErrNotFound)

	states := []*trust.StoreState{
		{ID: "s1", Domain: "org.example.mua", Name: "contacts", Policy: core.PolicyEncrypted, CreatedAt: time.Now()},
		{ID: "s2", Domain: "org.example.mua", Name: "lists", Policy: core.PolicyOffline, CreatedAt: time.Now()},
		{ID: "s3", Domain: "org_other.app", Name: "contacts", Policy: core.PolicyOffline, CreatedAt: time.Now()},
	}
	for _, st := range states {
		require.NoError(t, repo.Save(ctx, st))
	}

	got, err := repo.Get(ctx, "org.example.mua", "contacts")
	require.NoError(t, err)
	assert.Equal(t, "s1", got.ID)
	assert.Equal(t, core.PolicyEncrypted, got.Policy)

	list, err := repo.List(ctx, "org.example")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	// The underscore is a literal, not a single-character wildcard.
	list, err = repo.List(ctx, "org_other")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "s3", list[0].ID)

	require.NoError(t, repo.Delete(ctx, "s1"))
	_, err = repo.Get(ctx, "org.example.mua", "contacts")
	assert.ErrorIs(t, err, trust.ErrNotFound)
}

// TestPurpose: Validates binding persistence: per-store listing and the
// cross-store reference count that drives orphan collection.
// Scope: Integration Test (SQLite)
// Expected: Counts reflect deletions; unbound bindings keep an empty
// fingerprint.
func TestStorage_BindingRepository(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewBindingRepository(db)

	fp := "0123456789ABCDEF0123456789ABCDEF01234567"
	now := time.Now()
	bindings := []*trust.BindingState{
		{ID: "b1", StoreID: "s1", Label: "alice", Fingerprint: fp, Stats: trust.Stats{Created: now, Updated: now}},
		{ID: "b2", StoreID: "s2", Label: "alice@chat", Fingerprint: fp, Stats: trust.Stats{Created: now, Updated: now}},
		{ID: "b3", StoreID: "s1", Label: "pending", Stats: trust.Stats{Created: now, Updated: now}},
	}
	for _, b := range bindings {
		require.NoError(t, repo.Save(ctx, b))
	}

	s1, err := repo.ListByStore(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, s1, 2)
	assert.Equal(t, "alice", s1[0].Label)
	assert.Equal(t, "", s1[1].Fingerprint)

	n, err := repo.CountByFingerprint(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, repo.Delete(ctx, "b2"))
	n, err = repo.CountByFingerprint(ctx, fp)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

// TestPurpose: Validates the append-only log: sequence continuation
// after restart and filtered, ordered streaming through the cursor.
// Scope: Integration Test (SQLite)
// Expected: LastSeq reports the highest sequence; queries stream oldest
// first and honor the filter.
func TestStorage_LogRepository(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	repo := NewLogRepository(db)

	seq, err := repo.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0), seq)

	base := time.Now().UTC().Truncate(time.Second)
	entries := []trust.LogEntry{
		{ID: "e1", Seq: 1, Timestamp: base, StoreID: "s1", Slug: "store d/n", Status: "created store"},
		{ID: "e2", Seq: 2, Timestamp: base.Add(time.Second), StoreID: "s1", BindingID: "b1", Fingerprint: "FP1", Slug: "binding d/n/alice", Status: "bound new key"},
		{ID: "e3", Seq: 3, Timestamp: base.Add(2 * time.Second), StoreID: "s2", Slug: "store d/m", Status: "created store"},
	}
	for i := range entries {
		require.NoError(t, repo.Append(ctx, &entries[i]))
	}

	seq, err = repo.LastSeq(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)

	cur, err := repo.Query(ctx, trust.LogFilter{StoreID: "s1"})
	require.NoError(t, err)
	got, err := trust.Collect(cur)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, uint64(1), got[0].Seq)
	assert.Equal(t, "bound new key", got[1].Status)
	assert.Equal(t, "FP1", got[1].Fingerprint)

	cur, err = repo.Query(ctx, trust.LogFilter{Fingerprint: "FP1"})
	require.NoError(t, err)
	got, err = trust.Collect(cur)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "e2", got[0].ID)

	// Early close releases the result set without error.
	cur, err = repo.Query(ctx, trust.LogFilter{})
	require.NoError(t, err)
	require.True(t, cur.Next())
	require.NoError(t, cur.Close())
}

// TestPurpose: Validates the full stack: a trust service over SQLite
// imports a key, and a second service over the same file sees identical
// material and a continued audit sequence.
// Scope: Integration Test (SQLite)
// Expected: Fingerprint and material survive the restart byte for byte.
func TestStorage_ServiceRoundTrip(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "keyring.db")

	open := func() trust.Repositories {
		db, err := Open(Config{Driver: "sqlite", DSN: dsn})
		require.NoError(t, err)
		require.NoError(t, Migrate(db))
		return Repositories(db)
	}

	c, err := core.NewContext("org.example.mua",
		core.WithHome(t.TempDir()),
		core.WithNetworkPolicy(core.PolicyOffline),
	)
	require.NoError(t, err)

	pub := pgptest.Public(t, pgptest.GenerateEntity(t, "Alice", "alice@example.org"))

	svc, err := trust.NewService(ctx, c, open())
	require.NoError(t, err)
	st, err := svc.OpenStore(ctx, "contacts")
	require.NoError(t, err)
	stored, err := st.Import(ctx, "alice", pub)
	require.NoError(t, err)
	wantBytes, err := stored.Serialize()
	require.NoError(t, err)

	// Fresh service over the same database file.
	svc2, err := trust.NewService(ctx, c, open())
	require.NoError(t, err)
	st2, err := svc2.OpenStore(ctx, "contacts")
	require.NoError(t, err)
	b, err := st2.Lookup("alice")
	require.NoError(t, err)
	assert.Equal(t, pub.Fingerprint(), b.Fingerprint())

	tpk, err := b.TPK()
	require.NoError(t, err)
	gotBytes, err := tpk.Serialize()
	require.NoError(t, err)
	assert.Equal(t, wantBytes, gotBytes)

	log, err := svc2.ServerLog(ctx)
	require.NoError(t, err)
	entries, err := trust.Collect(log)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	for i := 1; i < len(entries); i++ {
		assert.Equal(t, entries[i-1].Seq+1, entries[i].Seq)
	}
}
