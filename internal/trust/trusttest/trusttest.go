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

// Package trusttest provides in-memory repositories for tests.
package trusttest

import (
	"context"
	"strings"
	"sync"

	"github.com/opentrusty/keyring/internal/trust"
)

// NewRepositories returns a fresh in-memory repository bundle.
func NewRepositories() trust.Repositories {
	return trust.Repositories{
		Keys:     &KeyRepository{keys: make(map[string]*trust.KeyState)},
		Stores:   &StoreRepository{stores: make(map[string]*trust.StoreState)},
		Bindings: &BindingRepository{bindings: make(map[string]*trust.BindingState)},
		Log:      &LogRepository{},
	}
}

// KeyRepository is an in-memory trust.KeyRepository.
type KeyRepository struct {
	mu   sync.Mutex
	keys map[string]*trust.KeyState
}

func (m *KeyRepository) Save(ctx context.Context, key *trust.KeyState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *key
	m.keys[key.Fingerprint] = &cp
	return nil
}

func (m *KeyRepository) List(ctx context.Context) ([]*trust.KeyState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	states := make([]*trust.KeyState, 0, len(m.keys))
	for _, k := range m.keys {
		cp := *k
		states = append(states, &cp)
	}
	return states, nil
}

func (m *KeyRepository) Delete(ctx context.Context, fingerprint string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.keys, fingerprint)
	return nil
}

// StoreRepository is an in-memory trust.StoreRepository.
type StoreRepository struct {
	mu     sync.Mutex
	stores map[string]*trust.StoreState
}

func (m *StoreRepository) Save(ctx context.Context, store *trust.StoreState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *store
	m.stores[store.Domain+"/"+store.Name] = &cp
	return nil
}

func (m *StoreRepository) Get(ctx context.Context, domain, name string) (*trust.StoreState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stores[domain+"/"+name]
	if !ok {
		return nil, trust.ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (m *StoreRepository) List(ctx context.Context, domainPrefix string) ([]*trust.StoreState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	states := make([]*trust.StoreState, 0, len(m.stores))
	for _, st := range m.stores {
		if strings.HasPrefix(st.Domain, domainPrefix) {
			cp := *st
			states = append(states, &cp)
		}
	}
	return states, nil
}

func (m *StoreRepository) Delete(ctx context.Context, storeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, st := range m.stores {
		if st.ID == storeID {
			delete(m.stores, key)
		}
	}
	return nil
}

// BindingRepository is an in-memory trust.BindingRepository.
type BindingRepository struct {
	mu       sync.Mutex
	bindings map[string]*trust.BindingState
}

func (m *BindingRepository) Save(ctx context.Context, binding *trust.BindingState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *binding
	m.bindings[binding.ID] = &cp
	return nil
}

func (m *BindingRepository) ListByStore(ctx context.Context, storeID string) ([]*trust.BindingState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	states := make([]*trust.BindingState, 0)
	for _, b := range m.bindings {
		if b.StoreID == storeID {
			cp := *b
			states = append(states, &cp)
		}
	}
	return states, nil
}

func (m *BindingRepository) Delete(ctx context.Context, bindingID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.bindings, bindingID)
	return nil
}

func (m *BindingRepository) CountByFingerprint(ctx context.Context, fingerprint string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, b := range m.bindings {
		if b.Fingerprint == fingerprint {
			n++
		}
	}
	return n, nil
}

// LogRepository is an in-memory append-only trust.LogRepository.
type LogRepository struct {
	mu      sync.Mutex
	entries []trust.LogEntry
}

func (m *LogRepository) Append(ctx context.Context, entry *trust.LogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *LogRepository) LastSeq(ctx context.Context) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var last uint64
	for _, e := range m.entries {
		if e.Seq > last {
			last = e.Seq
		}
	}
	return last, nil
}

func (m *LogRepository) Query(ctx context.Context, filter trust.LogFilter) (*trust.Cursor[trust.LogEntry], error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	matched := make([]trust.LogEntry, 0)
	for _, e := range m.entries {
		if filter.StoreID != "" && e.StoreID != filter.StoreID {
			continue
		}
		if filter.BindingID != "" && e.BindingID != filter.BindingID {
			continue
		}
		if filter.Fingerprint != "" && e.Fingerprint != filter.Fingerprint {
			continue
		}
		matched = append(matched, e)
	}
	return trust.CursorFromSlice(matched), nil
}
