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
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opentrusty/keyring/internal/core"
	"github.com/opentrusty/keyring/internal/id"
	"github.com/opentrusty/keyring/internal/pgp"
)

// Store is a named namespace of bindings.  Its network policy is fixed
// at creation; reopening under a different policy fails rather than
// silently changing the store's exposure.
type Store struct {
	svc    *Service
	id     string
	domain string
	name   string
	policy core.NetworkPolicy

	deleted atomic.Bool

	mu       sync.Mutex
	bindings map[string]*Binding

	refreshMu     sync.Mutex
	refreshCancel context.CancelFunc
	refreshDone   <-chan struct{}
}

// Domain returns the application domain the store belongs to.
func (st *Store) Domain() string { return st.domain }

// Name returns the store's name.
func (st *Store) Name() string { return st.name }

// ID returns the store's persistent identifier.
func (st *Store) ID() string { return st.id }

// Policy returns the network policy the store was created with.
func (st *Store) Policy() core.NetworkPolicy { return st.policy }

// Add binds label to the key with the given fingerprint.  The key need
// not have material yet; the refresher may supply some later.  Adding
// the same fingerprint under the same label is idempotent; adding a
// different fingerprint to an existing binding fails with ErrConflict.
func (st *Store) Add(ctx context.Context, label, fingerprint string) (*Binding, error) {
	if st.deleted.Load() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, st.slug())
	}
	fingerprint, err := NormalizeFingerprint(fingerprint)
	if err != nil {
		return nil, err
	}

	b, created, err := st.lookupOrCreate(label)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.key != nil {
		if b.key.fingerprint == fingerprint {
			return b, nil
		}
		return nil, fmt.Errorf("%w: %s is bound to %s", ErrConflict, b.slug(), b.key.fingerprint)
	}

	key, err := st.svc.pool.GetOrCreate(ctx, fingerprint, nil)
	if err != nil {
		if created {
			st.forget(label)
		}
		return nil, err
	}
	b.key = key
	b.stats.Updated = time.Now()
	if err := b.persistLocked(ctx); err != nil {
		return nil, err
	}
	b.appendLog(ctx, "bound new key", "")
	return b, nil
}

// Import binds label to candidate, creating the binding if necessary
// and running the conflict-resolution protocol otherwise.  The stored
// material is returned and should be used instead of candidate.
func (st *Store) Import(ctx context.Context, label string, candidate *pgp.TPK) (*pgp.TPK, error) {
	if st.deleted.Load() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, st.slug())
	}
	if candidate == nil {
		return nil, fmt.Errorf("%w: nil candidate", ErrInvalidKeyMaterial)
	}

	b, _, err := st.lookupOrCreate(label)
	if err != nil {
		return nil, err
	}
	return b.Import(ctx, candidate)
}

// Lookup returns the binding for label.
func (st *Store) Lookup(label string) (*Binding, error) {
	if st.deleted.Load() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, st.slug())
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	b, ok := st.bindings[label]
	if !ok {
		return nil, fmt.Errorf("%w: no binding %q in %s", ErrNotFound, label, st.slug())
	}
	return b, nil
}

// Bindings returns the store's bindings ordered by label.
func (st *Store) Bindings() *Cursor[*Binding] {
	st.mu.Lock()
	bindings := make([]*Binding, 0, len(st.bindings))
	for _, b := range st.bindings {
		bindings = append(bindings, b)
	}
	st.mu.Unlock()
	sort.Slice(bindings, func(i, j int) bool { return bindings[i].label < bindings[j].label })
	return CursorFromSlice(bindings)
}

// Log returns the audit entries for this store, oldest first.
func (st *Store) Log(ctx context.Context) (*Cursor[LogEntry], error) {
	return st.svc.audit.Query(ctx, LogFilter{StoreID: st.id})
}

// Delete removes the store and all its bindings.  Any running
// refresher for the store is cancelled and awaited first, so no refresh
// cycle mutates a half-deleted store.  Irreversible; the audit history
// survives.
func (st *Store) Delete(ctx context.Context) error {
	if !st.deleted.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: %s", ErrNotFound, st.slug())
	}

	st.stopRefresher()

	st.mu.Lock()
	bindings := make([]*Binding, 0, len(st.bindings))
	for _, b := range st.bindings {
		bindings = append(bindings, b)
	}
	st.mu.Unlock()

	for _, b := range bindings {
		if err := b.Delete(ctx); err != nil {
			return err
		}
	}

	if err := st.svc.stores.Delete(ctx, st.id); err != nil {
		return wrapStorage(err)
	}
	st.svc.forgetStore(st)
	_ = st.svc.audit.Append(ctx, LogEntry{
		StoreID: st.id,
		Slug:    st.slug(),
		Status:  "deleted store",
	})
	return nil
}

// AttachRefresher registers the cancellation handle of the refresher
// driving this store.  Delete uses it to stop background refresh before
// tearing the store down.
func (st *Store) AttachRefresher(cancel context.CancelFunc, done <-chan struct{}) {
	st.refreshMu.Lock()
	defer st.refreshMu.Unlock()
	st.refreshCancel = cancel
	st.refreshDone = done
}

func (st *Store) stopRefresher() {
	st.refreshMu.Lock()
	cancel, done := st.refreshCancel, st.refreshDone
	st.refreshCancel, st.refreshDone = nil, nil
	st.refreshMu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// lookupOrCreate returns the binding for label, creating an unbound one
// if absent.  The caller drives the binding through Import or Add,
// which persist it.
func (st *Store) lookupOrCreate(label string) (b *Binding, created bool, err error) {
	if label == "" {
		return nil, false, fmt.Errorf("%w: empty label", ErrNotFound)
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.deleted.Load() {
		return nil, false, fmt.Errorf("%w: %s", ErrNotFound, st.slug())
	}
	b, ok := st.bindings[label]
	if ok {
		return b, false, nil
	}
	b = &Binding{store: st, id: id.NewUUIDv7(), label: label, stats: newStats(time.Now())}
	st.bindings[label] = b
	return b, true, nil
}

// forget drops a binding from the in-memory map.
func (st *Store) forget(label string) {
	st.mu.Lock()
	delete(st.bindings, label)
	st.mu.Unlock()
}

func (st *Store) slug() string {
	return fmt.Sprintf("store %s/%s", st.domain, st.name)
}
