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

package trust_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opentrusty/keyring/internal/core"
	"github.com/opentrusty/keyring/internal/pgp/pgptest"
	"github.com/opentrusty/keyring/internal/trust"
)

// TestPurpose: Validates store lifecycle: creation on first open, handle
// reuse on reopen, listing, and the policy pinning that rejects reopening
// under a different network policy.
// Scope: Unit Test
// Expected: Same handle on reopen; trust.ErrPolicyMismatch from a client whose
// context carries a different policy.
func TestTrust_Service_OpenStore(t *testing.T) {
	ctx := context.Background()
	svc, repos := newTestService(t, core.PolicyEncrypted)

	st, err := svc.OpenStore(ctx, "contacts")
	require.NoError(t, err)
	assert.Equal(t, "org.example.mua", st.Domain())
	assert.Equal(t, "contacts", st.Name())
	assert.Equal(t, core.PolicyEncrypted, st.Policy())

	again, err := svc.OpenStore(ctx, "contacts")
	require.NoError(t, err)
	assert.Same(t, st, again)

	infos, err := svc.ListStores(ctx, "org.example")
	require.NoError(t, err)
	list, err := trust.Collect(infos)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "contacts", list[0].Name)

	// A client with a different policy must not silently change the
	// store's exposure level.
	offline := newTestServiceWith(t, repos, core.PolicyOffline)
	_, err = offline.OpenStore(ctx, "contacts")
	assert.ErrorIs(t, err, trust.ErrPolicyMismatch)
}

// TestPurpose: Validates trust on first use: importing into an unbound
// binding adopts the candidate, returns the stored material, and records
// the adoption in the audit log.
// Scope: Unit Test
// Expected: Returned material carries the candidate's fingerprint; the
// binding log shows exactly one "bound new key" entry.
func TestTrust_Binding_ImportFirstUse(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, core.PolicyOffline)
	st, err := svc.OpenStore(ctx, "contacts")
	require.NoError(t, err)

	alice := pgptest.GenerateEntity(t, "Alice", "alice@example.org")
	pub := pgptest.Public(t, alice)

	stored, err := st.Import(ctx, "alice", pub)
	require.NoError(t, err)
	assert.Equal(t, pub.Fingerprint(), stored.Fingerprint())

	b, err := st.Lookup("alice")
	require.NoError(t, err)
	assert.Equal(t, pub.Fingerprint(), b.Fingerprint())

	log, err := b.Log(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bound new key"}, logStatuses(t, log))

	// The key is now reachable through the pool indices.
	key, err := svc.LookupByFingerprint(pub.Fingerprint())
	require.NoError(t, err)
	assert.Equal(t, pub.Fingerprint(), key.Fingerprint())
	assert.Len(t, svc.LookupByKeyID(pub.KeyID()), 1)
}

// TestPurpose: Validates that importing an updated copy of the bound key
// merges rather than replaces: packets are unioned, nothing is lost, and
// new subkeys become queryable.
// Scope: Unit Test
// Expected: The merged material carries the extra subkey; the pool
// resolves the new subkey id; the binding log records a merge.
func TestTrust_Binding_ImportMerge(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, core.PolicyOffline)
	st, err := svc.OpenStore(ctx, "contacts")
	require.NoError(t, err)

	alice := pgptest.GenerateEntity(t, "Alice", "alice@example.org")
	base := pgptest.Public(t, alice)
	extended := pgptest.WithExtraSubkey(t, alice)

	_, err = st.Import(ctx, "alice", base)
	require.NoError(t, err)

	merged, err := st.Import(ctx, "alice", extended)
	require.NoError(t, err)
	assert.Equal(t, base.Fingerprint(), merged.Fingerprint())

	known := make(map[uint64]bool)
	for _, id := range base.SubkeyIDs() {
		known[id] = true
	}
	var extra []uint64
	for _, id := range extended.SubkeyIDs() {
		if !known[id] {
			extra = append(extra, id)
		}
	}
	require.NotEmpty(t, extra)
	assert.ElementsMatch(t, extended.SubkeyIDs(), merged.SubkeyIDs())

	for _, id := range extra {
		keys := svc.LookupBySubkeyID(id)
		require.Len(t, keys, 1, "subkey %016X", id)
		assert.Equal(t, base.Fingerprint(), keys[0].Fingerprint())
	}

	b, err := st.Lookup("alice")
	require.NoError(t, err)
	log, err := b.Log(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"bound new key", "merged"}, logStatuses(t, log))
}

// TestPurpose: Validates the trust boundary: an unrelated key imported
// under a bound label is rejected, the binding keeps its key, and the
// rejection is audited.
// Scope: Unit Test
// Security: Substitution attack detection (trust on first use).
// Expected: trust.ErrConflict; the binding still resolves to the original key;
// an "import rejected" entry with a failure message appears in the log.
func TestTrust_Binding_ImportConflict(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, core.PolicyOffline)
	st, err := svc.OpenStore(ctx, "contacts")
	require.NoError(t, err)

	alice := pgptest.GenerateEntity(t, "Alice", "alice@example.org")
	mallory := pgptest.GenerateEntity(t, "Mallory", "mallory@example.org")
	alicePub := pgptest.Public(t, alice)

	_, err = st.Import(ctx, "alice", alicePub)
	require.NoError(t, err)

	_, err = st.Import(ctx, "alice", pgptest.Public(t, mallory))
	assert.ErrorIs(t, err, trust.ErrConflict)

	b, err := st.Lookup("alice")
	require.NoError(t, err)
	assert.Equal(t, alicePub.Fingerprint(), b.Fingerprint())

	entries, err := trust.Collect(mustLog(t, b, ctx))
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	last := entries[len(entries)-1]
	assert.Equal(t, "import rejected", last.Status)
	assert.NotEmpty(t, last.Error)
}

// TestPurpose: Validates signed rotation: a successor key certified by
// the incumbent replaces it without caller intervention, while an
// uncertified successor still conflicts.
// Scope: Unit Test
// Expected: The certified candidate is adopted and "rotated (signed)" is
// logged; the plain candidate fails with trust.ErrConflict first.
func TestTrust_Binding_SignedRotation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, core.PolicyOffline)
	st, err := svc.OpenStore(ctx, "contacts")
	require.NoError(t, err)

	incumbent := pgptest.GenerateEntity(t, "Alice", "alice@example.org")
	successor := pgptest.GenerateEntity(t, "Alice", "alice@example.org")

	_, err = st.Import(ctx, "alice", pgptest.Public(t, incumbent))
	require.NoError(t, err)

	_, err = st.Import(ctx, "alice", pgptest.Public(t, successor))
	require.ErrorIs(t, err, trust.ErrConflict)

	endorsed := pgptest.SignedRotation(t, successor, incumbent)
	rotated, err := st.Import(ctx, "alice", endorsed)
	require.NoError(t, err)
	assert.Equal(t, endorsed.Fingerprint(), rotated.Fingerprint())

	b, err := st.Lookup("alice")
	require.NoError(t, err)
	assert.Equal(t, endorsed.Fingerprint(), b.Fingerprint())

	statuses := logStatuses(t, mustLog(t, b, ctx))
	assert.Contains(t, statuses, "rotated (signed)")
}

// TestPurpose: Validates forced rotation: after a conflict the caller
// can override the protocol once the new key has been authenticated out
// of band, and the old key stays in the pool.
// Scope: Unit Test
// Expected: Rotate succeeds where Import conflicted; both fingerprints
// remain resolvable in the pool; "rotated (forced)" is logged.
func TestTrust_Binding_ForcedRotate(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, core.PolicyOffline)
	st, err := svc.OpenStore(ctx, "contacts")
	require.NoError(t, err)

	old := pgptest.Public(t, pgptest.GenerateEntity(t, "Alice", "alice@example.org"))
	next := pgptest.Public(t, pgptest.GenerateEntity(t, "Alice", "alice@example.org"))

	_, err = st.Import(ctx, "alice", old)
	require.NoError(t, err)

	b, err := st.Lookup("alice")
	require.NoError(t, err)

	_, err = b.Import(ctx, next)
	require.ErrorIs(t, err, trust.ErrConflict)

	rotated, err := b.Rotate(ctx, next)
	require.NoError(t, err)
	assert.Equal(t, next.Fingerprint(), rotated.Fingerprint())
	assert.Equal(t, next.Fingerprint(), b.Fingerprint())

	// Rotation rebinds, it does not destroy.
	_, err = svc.LookupByFingerprint(old.Fingerprint())
	assert.NoError(t, err)

	statuses := logStatuses(t, mustLog(t, b, ctx))
	assert.Contains(t, statuses, "rotated (forced)")
}

// TestPurpose: Validates pool deduplication: the same fingerprint bound
// in two stores resolves to one canonical key, and usage recorded through
// one binding is visible through the other.
// Scope: Unit Test
// Expected: Pointer-identical keys across stores; shared key statistics.
func TestTrust_Pool_Deduplication(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, core.PolicyOffline)

	mail, err := svc.OpenStore(ctx, "mail")
	require.NoError(t, err)
	chat, err := svc.OpenStore(ctx, "chat")
	require.NoError(t, err)

	pub := pgptest.Public(t, pgptest.GenerateEntity(t, "Alice", "alice@example.org"))

	_, err = mail.Import(ctx, "alice", pub)
	require.NoError(t, err)
	_, err = chat.Import(ctx, "alice@chat", pub)
	require.NoError(t, err)

	b1, err := mail.Lookup("alice")
	require.NoError(t, err)
	b2, err := chat.Lookup("alice@chat")
	require.NoError(t, err)

	k1, err := b1.Key()
	require.NoError(t, err)
	k2, err := b2.Key()
	require.NoError(t, err)
	assert.Same(t, k1, k2)

	keys, err := trust.Collect(svc.ListKeys())
	require.NoError(t, err)
	assert.Len(t, keys, 1)

	require.NoError(t, b1.RecordEncryption(ctx))
	require.NoError(t, b1.RecordEncryption(ctx))
	require.NoError(t, b2.RecordVerification(ctx))

	stats := k2.Stats()
	assert.Equal(t, uint64(2), stats.Encryption.Count)
	assert.Equal(t, uint64(1), stats.Verification.Count)

	s1, err := b1.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), s1.Encryption.Count)
	s2, err := b2.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), s2.Encryption.Count)
	assert.Equal(t, uint64(1), s2.Verification.Count)
}

// TestPurpose: Validates fingerprint-only bindings: Add binds without
// material, repeats idempotently, refuses a different fingerprint, and
// material arrives later through Import.
// Scope: Unit Test
// Expected: No material until Import supplies some; trust.ErrConflict on a
// second Add with a different fingerprint.
func TestTrust_Store_AddByFingerprint(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, core.PolicyOffline)
	st, err := svc.OpenStore(ctx, "contacts")
	require.NoError(t, err)

	pub := pgptest.Public(t, pgptest.GenerateEntity(t, "Alice", "alice@example.org"))
	other := pgptest.Public(t, pgptest.GenerateEntity(t, "Bob", "bob@example.org"))

	b, err := st.Add(ctx, "alice", pub.Fingerprint())
	require.NoError(t, err)
	assert.Equal(t, pub.Fingerprint(), b.Fingerprint())

	_, err = b.TPK()
	assert.ErrorIs(t, err, trust.ErrNotFound)

	again, err := st.Add(ctx, "alice", pub.Fingerprint())
	require.NoError(t, err)
	assert.Same(t, b, again)

	_, err = st.Add(ctx, "alice", other.Fingerprint())
	assert.ErrorIs(t, err, trust.ErrConflict)

	// Material with the pinned fingerprint completes the key.
	_, err = st.Import(ctx, "alice", pub)
	require.NoError(t, err)
	tpk, err := b.TPK()
	require.NoError(t, err)
	assert.Equal(t, pub.Fingerprint(), tpk.Fingerprint())

	_, err = st.Add(ctx, "nobody", "not a fingerprint")
	assert.Error(t, err)
}

// TestPurpose: Validates store deletion and orphan collection: deleting
// a store removes its bindings but keeps the keys, and PurgeOrphans then
// removes only keys no surviving binding references.
// Scope: Unit Test
// Expected: The shared key survives the purge, the orphaned one does
// not, and the audit history of both remains queryable.
func TestTrust_Service_DeleteAndPurge(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, core.PolicyOffline)

	keep, err := svc.OpenStore(ctx, "keep")
	require.NoError(t, err)
	drop, err := svc.OpenStore(ctx, "drop")
	require.NoError(t, err)

	shared := pgptest.Public(t, pgptest.GenerateEntity(t, "Alice", "alice@example.org"))
	orphan := pgptest.Public(t, pgptest.GenerateEntity(t, "Bob", "bob@example.org"))

	_, err = keep.Import(ctx, "alice", shared)
	require.NoError(t, err)
	_, err = drop.Import(ctx, "alice", shared)
	require.NoError(t, err)
	_, err = drop.Import(ctx, "bob", orphan)
	require.NoError(t, err)

	require.NoError(t, drop.Delete(ctx))

	_, err = svc.OpenStore(ctx, "keep")
	require.NoError(t, err)
	infos, err := trust.Collect(mustListStores(t, svc, ctx))
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "keep", infos[0].Name)

	// Deletion is not destruction: both keys are still pooled.
	_, err = svc.LookupByFingerprint(shared.Fingerprint())
	require.NoError(t, err)
	_, err = svc.LookupByFingerprint(orphan.Fingerprint())
	require.NoError(t, err)

	purged, err := svc.PurgeOrphans(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	_, err = svc.LookupByFingerprint(shared.Fingerprint())
	assert.NoError(t, err)
	_, err = svc.LookupByFingerprint(orphan.Fingerprint())
	assert.ErrorIs(t, err, trust.ErrNotFound)

	// The audit trail outlives every object it mentions.
	log, err := svc.Audit().Query(ctx, trust.LogFilter{Fingerprint: orphan.Fingerprint()})
	require.NoError(t, err)
	entries, err := trust.Collect(log)
	require.NoError(t, err)
	assert.NotEmpty(t, entries)
	assert.Equal(t, "purged orphaned key", entries[len(entries)-1].Status)
}

// TestPurpose: Validates persistence: a fresh service over the same
// backend sees the same stores, bindings, material and statistics.
// Scope: Unit Test
// Expected: Fingerprint, serialized material and usage counts survive a
// restart; the audit sequence continues instead of restarting.
func TestTrust_Service_Rehydrate(t *testing.T) {
	ctx := context.Background()
	svc, repos := newTestService(t, core.PolicyOffline)

	st, err := svc.OpenStore(ctx, "contacts")
	require.NoError(t, err)
	pub := pgptest.Public(t, pgptest.GenerateEntity(t, "Alice", "alice@example.org"))
	_, err = st.Import(ctx, "alice", pub)
	require.NoError(t, err)
	b, err := st.Lookup("alice")
	require.NoError(t, err)
	require.NoError(t, b.RecordEncryption(ctx))

	wantMaterial, err := b.TPK()
	require.NoError(t, err)
	wantBytes, err := wantMaterial.Serialize()
	require.NoError(t, err)

	entries, err := trust.Collect(mustServerLog(t, svc, ctx))
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	lastSeq := entries[len(entries)-1].Seq

	// Second process over the same backend.
	svc2 := newTestServiceWith(t, repos, core.PolicyOffline)
	st2, err := svc2.OpenStore(ctx, "contacts")
	require.NoError(t, err)
	b2, err := st2.Lookup("alice")
	require.NoError(t, err)
	assert.Equal(t, pub.Fingerprint(), b2.Fingerprint())

	tpk2, err := b2.TPK()
	require.NoError(t, err)
	gotBytes, err := tpk2.Serialize()
	require.NoError(t, err)
	assert.Equal(t, wantBytes, gotBytes)

	stats, err := b2.Stats()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.Encryption.Count)

	require.NoError(t, svc2.Audit().Append(ctx, trust.LogEntry{Slug: "test", Status: "restart"}))
	entries2, err := trust.Collect(mustServerLog(t, svc2, ctx))
	require.NoError(t, err)
	assert.Equal(t, lastSeq+1, entries2[len(entries2)-1].Seq)
}

// TestPurpose: Validates audit log ordering under concurrent appends:
// sequence numbers are strictly increasing and timestamps never move
// backwards.
// Scope: Unit Test
// Expected: A gap-free, monotonic log regardless of interleaving.
func TestTrust_AuditLog_Ordering(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, core.PolicyOffline)

	const writers = 8
	const perWriter = 25
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				_ = svc.Audit().Append(ctx, trust.LogEntry{Slug: "test", Status: "tick"})
			}
		}()
	}
	wg.Wait()

	entries, err := trust.Collect(mustServerLog(t, svc, ctx))
	require.NoError(t, err)
	require.Len(t, entries, writers*perWriter)

	for i := 1; i < len(entries); i++ {
		assert.Equal(t, entries[i-1].Seq+1, entries[i].Seq)
		assert.False(t, entries[i].Timestamp.Before(entries[i-1].Timestamp),
			"timestamp regressed at seq %d", entries[i].Seq)
	}
}

// TestPurpose: Validates concurrent imports of the same key under one
// label: binding operations serialize, the pool stays deduplicated, and
// no import fails.
// Scope: Unit Test
// Expected: One pool key, no errors, a coherent audit trail.
func TestTrust_Binding_ConcurrentImports(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, core.PolicyOffline)
	st, err := svc.OpenStore(ctx, "contacts")
	require.NoError(t, err)

	pub := pgptest.Public(t, pgptest.GenerateEntity(t, "Alice", "alice@example.org"))

	const importers = 8
	errs := make(chan error, importers)
	var wg sync.WaitGroup
	for i := 0; i < importers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.Import(ctx, "alice", pub)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	keys, err := trust.Collect(svc.ListKeys())
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, pub.Fingerprint(), keys[0].Fingerprint())
}

// TestPurpose: Validates binding deletion: the binding disappears from
// the store while its key and audit history survive.
// Scope: Unit Test
// Expected: Lookup fails after deletion, a second Delete fails, the key
// stays in the pool.
func TestTrust_Binding_Delete(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, core.PolicyOffline)
	st, err := svc.OpenStore(ctx, "contacts")
	require.NoError(t, err)

	pub := pgptest.Public(t, pgptest.GenerateEntity(t, "Alice", "alice@example.org"))
	_, err = st.Import(ctx, "alice", pub)
	require.NoError(t, err)
	b, err := st.Lookup("alice")
	require.NoError(t, err)

	require.NoError(t, b.Delete(ctx))
	assert.ErrorIs(t, b.Delete(ctx), trust.ErrNotFound)

	_, err = st.Lookup("alice")
	assert.ErrorIs(t, err, trust.ErrNotFound)

	_, err = svc.LookupByFingerprint(pub.Fingerprint())
	assert.NoError(t, err)
}

// TestPurpose: Validates that imports racing a concurrent Delete never
// re-persist the deleted binding: once Delete wins, no importer may
// write the row back, and the label stays free for re-creation.
// Scope: Unit Test
// Expected: After every round the repository holds no binding for the
// store, the handle fails with NotFound, and the label can be re-bound.
func TestTrust_Binding_DeleteImportRace(t *testing.T) {
	ctx := context.Background()
	svc, repos := newTestService(t, core.PolicyOffline)
	st, err := svc.OpenStore(ctx, "contacts")
	require.NoError(t, err)

	pub := pgptest.Public(t, pgptest.GenerateEntity(t, "Alice", "alice@example.org"))

	const rounds = 200
	for i := 0; i < rounds; i++ {
		b, err := st.Add(ctx, "alice", pub.Fingerprint())
		require.NoError(t, err)

		var wg sync.WaitGroup
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := b.Import(ctx, pub)
				if err != nil {
					assert.ErrorIs(t, err, trust.ErrNotFound)
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, b.Delete(ctx))
		}()
		wg.Wait()

		_, err = b.Import(ctx, pub)
		assert.ErrorIs(t, err, trust.ErrNotFound)
		assert.ErrorIs(t, b.RecordEncryption(ctx), trust.ErrNotFound)

		states, err := repos.Bindings.ListByStore(ctx, st.ID())
		require.NoError(t, err)
		assert.Empty(t, states, "round %d left a deleted binding persisted", i)
	}

	// The label is free again.
	_, err = st.Import(ctx, "alice", pub)
	require.NoError(t, err)
}

func mustLog(t *testing.T, b *trust.Binding, ctx context.Context) *trust.Cursor[trust.LogEntry] {
	t.Helper()
	cur, err := b.Log(ctx)
	require.NoError(t, err)
	return cur
}

func mustServerLog(t *testing.T, svc *trust.Service, ctx context.Context) *trust.Cursor[trust.LogEntry] {
	t.Helper()
	cur, err := svc.ServerLog(ctx)
	require.NoError(t, err)
	return cur
}

func mustListStores(t *testing.T, svc *trust.Service, ctx context.Context) *trust.Cursor[trust.StoreInfo] {
	t.Helper()
	cur, err := svc.ListStores(ctx, "")
	require.NoError(t, err)
	return cur
}
