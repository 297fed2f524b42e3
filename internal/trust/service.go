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

// Package trust implements the key trust store: the deduplicated key
// pool, named stores of label-to-key bindings, the import/rotate
// conflict-resolution protocol, usage statistics and the append-only
// audit log.
package trust

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/opentrusty/keyring/internal/core"
	"github.com/opentrusty/keyring/internal/id"
)

// StoreInfo describes a store without opening it.
type StoreInfo struct {
	Domain string
	Name   string
	Policy core.NetworkPolicy
}

// Service is the trust store.  It owns the key pool and the open
// stores; all client surfaces (HTTP transport, CLI, refresher) go
// through it.
type Service struct {
	context  *core.Context
	pool     *Pool
	stores   StoreRepository
	bindings BindingRepository
	audit    *AuditLog

	mu     sync.Mutex
	open   map[string]*Store
	onOpen func(*Store)
}

// NewService builds a Service over the given repositories and loads the
// persisted key pool.
func NewService(ctx context.Context, c *core.Context, repos Repositories) (*Service, error) {
	lastSeq, err := repos.Log.LastSeq(ctx)
	if err != nil {
		return nil, wrapStorage(err)
	}
	audit := NewAuditLog(repos.Log, lastSeq)

	svc := &Service{
		context:  c,
		pool:     NewPool(repos.Keys, audit),
		stores:   repos.Stores,
		bindings: repos.Bindings,
		audit:    audit,
		open:     make(map[string]*Store),
	}
	if err := svc.pool.load(ctx); err != nil {
		return nil, err
	}
	return svc, nil
}

// Context returns the process context the service was built with.
func (s *Service) Context() *core.Context { return s.context }

// Pool returns the global key pool.
func (s *Service) Pool() *Pool { return s.pool }

// Audit returns the audit log.
func (s *Service) Audit() *AuditLog { return s.audit }

// OnStoreOpen registers fn to run each time a store becomes open in
// this process, whether loaded from storage or freshly created.  This
// is how the refresher learns about stores created at runtime.  fn runs
// with the service lock held and must not call back into the service.
func (s *Service) OnStoreOpen(fn func(*Store)) {
	s.mu.Lock()
	s.onOpen = fn
	s.mu.Unlock()
}

// OpenStore opens the store with the given name in the context's
// domain, creating it under the context's network policy if absent.
// Reopening an existing store fails with ErrPolicyMismatch when the
// context now specifies a different policy: the store's exposure level
// is fixed at creation and silent downgrades (or upgrades) are attacks,
// not conveniences.
func (s *Service) OpenStore(ctx context.Context, name string) (*Store, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty store name", ErrNotFound)
	}
	domain := s.context.Domain()

	s.mu.Lock()
	defer s.mu.Unlock()

	mapKey := domain + "/" + name
	if st, ok := s.open[mapKey]; ok {
		if st.policy != s.context.NetworkPolicy() {
			return nil, fmt.Errorf("%w: store %s/%s was created with policy %s, context wants %s",
				ErrPolicyMismatch, domain, name, st.policy, s.context.NetworkPolicy())
		}
		return st, nil
	}

	state, err := s.stores.Get(ctx, domain, name)
	switch {
	case err == nil:
		if state.Policy != s.context.NetworkPolicy() {
			return nil, fmt.Errorf("%w: store %s/%s was created with policy %s, context wants %s",
				ErrPolicyMismatch, domain, name, state.Policy, s.context.NetworkPolicy())
		}
		st, err := s.loadStore(ctx, state)
		if err != nil {
			return nil, err
		}
		s.open[mapKey] = st
		if s.onOpen != nil {
			s.onOpen(st)
		}
		return st, nil

	case errors.Is(err, ErrNotFound):
		state = &StoreState{
			ID:        id.NewUUIDv7(),
			Domain:    domain,
			Name:      name,
			Policy:    s.context.NetworkPolicy(),
			CreatedAt: time.Now(),
		}
		if err := s.stores.Save(ctx, state); err != nil {
			return nil, wrapStorage(err)
		}
		st := s.newStore(state)
		s.open[mapKey] = st
		_ = s.audit.Append(ctx, LogEntry{
			StoreID: st.id,
			Slug:    st.slug(),
			Status:  "created store (policy " + st.policy.String() + ")",
		})
		if s.onOpen != nil {
			s.onOpen(st)
		}
		return st, nil

	default:
		return nil, wrapStorage(err)
	}
}

// LookupStore opens the store with the given name only if it already
// exists.  Unlike OpenStore it never creates.
func (s *Service) LookupStore(ctx context.Context, name string) (*Store, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: empty store name", ErrNotFound)
	}
	domain := s.context.Domain()

	s.mu.Lock()
	if st, ok := s.open[domain+"/"+name]; ok {
		s.mu.Unlock()
		if st.policy != s.context.NetworkPolicy() {
			return nil, fmt.Errorf("%w: store %s/%s was created with policy %s, context wants %s",
				ErrPolicyMismatch, domain, name, st.policy, s.context.NetworkPolicy())
		}
		return st, nil
	}
	s.mu.Unlock()

	if _, err := s.stores.Get(ctx, domain, name); err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, wrapStorage(err)
	}
	return s.OpenStore(ctx, name)
}

// ListStores lists persisted stores whose domain starts with
// domainPrefix, without opening them.
func (s *Service) ListStores(ctx context.Context, domainPrefix string) (*Cursor[StoreInfo], error) {
	states, err := s.stores.List(ctx, domainPrefix)
	if err != nil {
		return nil, wrapStorage(err)
	}
	infos := make([]StoreInfo, 0, len(states))
	for _, st := range states {
		infos = append(infos, StoreInfo{Domain: st.Domain, Name: st.Name, Policy: st.Policy})
	}
	return CursorFromSlice(infos), nil
}

// OpenStores returns the stores currently open in this process.
func (s *Service) OpenStores() []*Store {
	s.mu.Lock()
	defer s.mu.Unlock()
	stores := make([]*Store, 0, len(s.open))
	for _, st := range s.open {
		stores = append(stores, st)
	}
	return stores
}

// ListKeys lists all keys in the common pool.
func (s *Service) ListKeys() *Cursor[*Key] {
	return s.pool.List()
}

// LookupByFingerprint looks a key up in the common pool.
func (s *Service) LookupByFingerprint(fingerprint string) (*Key, error) {
	return s.pool.LookupByFingerprint(fingerprint)
}

// LookupByKeyID looks keys up in the common pool by primary key id.
func (s *Service) LookupByKeyID(keyID uint64) []*Key {
	return s.pool.LookupByKeyID(keyID)
}

// LookupBySubkeyID looks keys up in the common pool by subkey id.
func (s *Service) LookupBySubkeyID(keyID uint64) []*Key {
	return s.pool.LookupBySubkeyID(keyID)
}

// ServerLog returns the process-wide audit log, oldest first.
func (s *Service) ServerLog(ctx context.Context) (*Cursor[LogEntry], error) {
	return s.audit.Query(ctx, LogFilter{})
}

// PurgeOrphans removes pool keys referenced by no binding in any
// store.  Their audit history survives.  Returns the number of keys
// removed.
func (s *Service) PurgeOrphans(ctx context.Context) (int, error) {
	keys, err := Collect(s.pool.List())
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, key := range keys {
		n, err := s.bindings.CountByFingerprint(ctx, key.fingerprint)
		if err != nil {
			return purged, wrapStorage(err)
		}
		if n > 0 {
			continue
		}
		if err := s.pool.remove(ctx, key); err != nil {
			return purged, err
		}
		_ = s.audit.Append(ctx, LogEntry{
			Fingerprint: key.fingerprint,
			Slug:        keySlug(key.fingerprint),
			Status:      "purged orphaned key",
		})
		purged++
	}
	return purged, nil
}

// newStore wraps a store state in a live handle.
func (s *Service) newStore(state *StoreState) *Store {
	return &Store{
		svc:      s,
		id:       state.ID,
		domain:   state.Domain,
		name:     state.Name,
		policy:   state.Policy,
		bindings: make(map[string]*Binding),
	}
}

// loadStore materializes a persisted store and its bindings.
func (s *Service) loadStore(ctx context.Context, state *StoreState) (*Store, error) {
	st := s.newStore(state)
	bindings, err := s.bindings.ListByStore(ctx, state.ID)
	if err != nil {
		return nil, wrapStorage(err)
	}
	for _, bs := range bindings {
		b := &Binding{store: st, id: bs.ID, label: bs.Label, stats: bs.Stats}
		if bs.Fingerprint != "" {
			key, err := s.pool.GetOrCreate(ctx, bs.Fingerprint, nil)
			if err != nil {
				return nil, err
			}
			b.key = key
		}
		st.bindings[bs.Label] = b
	}
	return st, nil
}

// forgetStore drops a deleted store from the open map.
func (s *Service) forgetStore(st *Store) {
	s.mu.Lock()
	delete(s.open, st.domain+"/"+st.name)
	s.mu.Unlock()
}
