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

package trust

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opentrusty/keyring/internal/pgp"
)

// Binding associates a caller-chosen label with a key inside one store.
// It is the unit of trust decision-making: Import runs the
// conflict-resolution protocol, Rotate overrides it.
//
// Operations on one binding serialize on mu, so concurrent imports on
// the same label observe a strict before/after order.  The lock is
// never held across network I/O.
type Binding struct {
	store *Store
	id    string
	label string

	deleted atomic.Bool

	mu    sync.Mutex
	key   *Key
	stats Stats
}

// Label returns the binding's label.
func (b *Binding) Label() string { return b.label }

// ID returns the binding's persistent identifier.
func (b *Binding) ID() string { return b.id }

// Fingerprint returns the fingerprint of the currently bound key, or
// the empty string for a binding not yet bound.
func (b *Binding) Fingerprint() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.key == nil {
		return ""
	}
	return b.key.fingerprint
}

// Key returns the bound pool key.
func (b *Binding) Key() (*Key, error) {
	if b.deleted.Load() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, b.slug())
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.key == nil {
		return nil, fmt.Errorf("%w: %s is not bound", ErrNotFound, b.slug())
	}
	return b.key, nil
}

// TPK returns a copy of the bound key's material.
func (b *Binding) TPK() (*pgp.TPK, error) {
	key, err := b.Key()
	if err != nil {
		return nil, err
	}
	return key.TPK()
}

// Stats returns a copy of the binding's usage statistics.
func (b *Binding) Stats() (Stats, error) {
	if b.deleted.Load() {
		return Stats{}, fmt.Errorf("%w: %s", ErrNotFound, b.slug())
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats, nil
}

// Log returns the audit entries for this binding, oldest first.
func (b *Binding) Log(ctx context.Context) (*Cursor[LogEntry], error) {
	return b.store.svc.audit.Query(ctx, LogFilter{BindingID: b.id})
}

// Import updates the binding with candidate according to the
// conflict-resolution protocol:
//
//  1. An unbound binding adopts the candidate (trust on first use).
//  2. A candidate with the bound fingerprint is merged into the stored
//     key.
//  3. A candidate carrying a valid certification from the bound key
//     replaces it: natural rotation, no caller intervention.
//  4. Anything else fails with ErrConflict and changes nothing; the
//     caller must decide, typically by ignoring the candidate or by
//     calling Rotate after out-of-band authentication.
//
// On success the merged or adopted material is returned and should be
// used in place of candidate.
func (b *Binding) Import(ctx context.Context, candidate *pgp.TPK) (*pgp.TPK, error) {
	if candidate == nil {
		return nil, fmt.Errorf("%w: nil candidate", ErrInvalidKeyMaterial)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	// Checked under b.mu: Delete flips the flag before taking the
	// lock, so a waiter that loses the race must not persist a row
	// Delete just removed.
	if b.deleted.Load() || b.store.deleted.Load() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, b.slug())
	}

	fingerprint := candidate.Fingerprint()

	// Step 1: trust on first use.
	if b.key == nil {
		key, err := b.store.svc.pool.GetOrCreate(ctx, fingerprint, candidate)
		if err != nil {
			return nil, err
		}
		b.key = key
		b.stats.Updated = time.Now()
		if err := b.persistLocked(ctx); err != nil {
			return nil, err
		}
		b.appendLog(ctx, "bound new key", "")
		return key.TPK()
	}

	// Step 2: same fingerprint, merge in place.
	if b.key.fingerprint == fingerprint {
		if err := b.key.merge(ctx, candidate); err != nil {
			return nil, err
		}
		b.stats.Updated = time.Now()
		if err := b.persistLocked(ctx); err != nil {
			return nil, err
		}
		b.appendLog(ctx, "merged", "")
		return b.key.TPK()
	}

	// Step 3: signed rotation.  The incumbent's material is needed to
	// verify the delegation; a fingerprint-only binding cannot vouch
	// for anyone.
	if incumbent, err := b.key.TPK(); err == nil && candidate.SignedBy(incumbent) {
		key, err := b.store.svc.pool.GetOrCreate(ctx, fingerprint, candidate)
		if err != nil {
			return nil, err
		}
		b.key = key
		b.stats.Updated = time.Now()
		if err := b.persistLocked(ctx); err != nil {
			return nil, err
		}
		b.appendLog(ctx, "rotated (signed)", "")
		return key.TPK()
	}

	// Step 4: the trust-on-first-use boundary.  Nothing changes.
	conflict := fmt.Errorf("%w: candidate %s does not succeed %s",
		ErrConflict, fingerprint, b.key.fingerprint)
	b.appendLog(ctx, "import rejected", conflict.Error())
	return nil, conflict
}

// Rotate unconditionally replaces the bound key with candidate, merging
// with pool material if the fingerprint is already known.  Callers must
// have authenticated candidate out of band; Rotate deliberately infers
// nothing.
func (b *Binding) Rotate(ctx context.Context, candidate *pgp.TPK) (*pgp.TPK, error) {
	if candidate == nil {
		return nil, fmt.Errorf("%w: nil candidate", ErrInvalidKeyMaterial)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.deleted.Load() || b.store.deleted.Load() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, b.slug())
	}

	key, err := b.store.svc.pool.GetOrCreate(ctx, candidate.Fingerprint(), candidate)
	if err != nil {
		return nil, err
	}
	b.key = key
	b.stats.Updated = time.Now()
	if err := b.persistLocked(ctx); err != nil {
		return nil, err
	}
	b.appendLog(ctx, "rotated (forced)", "")
	return key.TPK()
}

// Delete removes the binding.  The key stays in the pool; other
// bindings may reference it, and the audit trail keeps its history
// either way.
func (b *Binding) Delete(ctx context.Context) error {
	if !b.deleted.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s", ErrNotFound, b.slug())
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.store.svc.bindings.Delete(ctx, b.id); err != nil {
		return wrapStorage(err)
	}
	b.store.forget(b.label)
	b.appendLog(ctx, "deleted binding", "")
	return nil
}

// RecordEncryption notes an encryption to this binding's key.
func (b *Binding) RecordEncryption(ctx context.Context) error {
	return b.record(ctx, func(s *Stats, now time.Time) { s.Encryption.touch(now) },
		(*Key).RecordEncryption)
}

// RecordVerification notes a verification against this binding's key.
func (b *Binding) RecordVerification(ctx context.Context) error {
	return b.record(ctx, func(s *Stats, now time.Time) { s.Verification.touch(now) },
		(*Key).RecordVerification)
}

func (b *Binding) record(ctx context.Context, touch func(*Stats, time.Time), keyRecord func(*Key, context.Context) error) error {
	b.mu.Lock()
	if b.deleted.Load() || b.store.deleted.Load() {
		b.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, b.slug())
	}
	now := time.Now()
	touch(&b.stats, now)
	b.stats.Updated = now
	key := b.key
	err := b.persistLocked(ctx)
	b.mu.Unlock()
	if err != nil {
		return err
	}
	if key != nil {
		return keyRecord(key, ctx)
	}
	return nil
}

// persistLocked saves the binding state.  Callers hold b.mu.
func (b *Binding) persistLocked(ctx context.Context) error {
	state := &BindingState{
		ID:      b.id,
		StoreID: b.store.id,
		Label:   b.label,
		Stats:   b.stats,
	}
	if b.key != nil {
		state.Fingerprint = b.key.fingerprint
	}
	return wrapStorage(b.store.svc.bindings.Save(ctx, state))
}

// appendLog writes an audit entry for this binding.  Append failures
// are already logged by the audit log; mutations do not roll back over
// them.
func (b *Binding) appendLog(ctx context.Context, status, errMsg string) {
	entry := LogEntry{
		StoreID:   b.store.id,
		BindingID: b.id,
		Slug:      b.slug(),
		Status:    status,
		Error:     errMsg,
	}
	if b.key != nil {
		entry.Fingerprint = b.key.fingerprint
	}
	_ = b.store.svc.audit.Append(ctx, entry)
}

func (b *Binding) slug() string {
	return fmt.Sprintf("binding %s/%s/%s", b.store.domain, b.store.name, b.label)
}
