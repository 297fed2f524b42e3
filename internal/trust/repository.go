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
	"time"

	"github.com/opentrusty/keyring/internal/core"
)

// KeyState is the persisted form of a pool key.
type KeyState struct {
	Fingerprint string
	KeyID       string
	SubkeyIDs   []string
	Material    []byte // empty when only the fingerprint is known
	Stats       Stats
}

// StoreState is the persisted form of a store.
type StoreState struct {
	ID        string
	Domain    string
	Name      string
	Policy    core.NetworkPolicy
	CreatedAt time.Time
}

// BindingState is the persisted form of a binding.
type BindingState struct {
	ID          string
	StoreID     string
	Label       string
	Fingerprint string
	Stats       Stats
}

// KeyRepository persists pool keys.
type KeyRepository interface {
	Save(ctx context.Context, key *KeyState) error
	List(ctx context.Context) ([]*KeyState, error)
	Delete(ctx context.Context, fingerprint string) error
}

// StoreRepository persists stores.  Get returns ErrNotFound when no
// store matches.
type StoreRepository interface {
	Save(ctx context.Context, store *StoreState) error
	Get(ctx context.Context, domain, name string) (*StoreState, error)
	List(ctx context.Context, domainPrefix string) ([]*StoreState, error)
	Delete(ctx context.Context, storeID string) error
}

// BindingRepository persists bindings.
type BindingRepository interface {
	Save(ctx context.Context, binding *BindingState) error
	ListByStore(ctx context.Context, storeID string) ([]*BindingState, error)
	Delete(ctx context.Context, bindingID string) error
	CountByFingerprint(ctx context.Context, fingerprint string) (int64, error)
}

// LogRepository persists the append-only audit log.
type LogRepository interface {
	Append(ctx context.Context, entry *LogEntry) error
	LastSeq(ctx context.Context) (uint64, error)
	Query(ctx context.Context, filter LogFilter) (*Cursor[LogEntry], error)
}

// Repositories bundles the persistence dependencies of a Service.
type Repositories struct {
	Keys     KeyRepository
	Stores   StoreRepository
	Bindings BindingRepository
	Log      LogRepository
}
