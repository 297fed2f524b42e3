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
	"time"

	"github.com/opentrusty/keyring/internal/pgp"
)

// Key is the canonical pool entry for one fingerprint.  Many bindings
// across many stores may share a Key; the pool owns it.  The
// fingerprint never changes; material only evolves through merges.
// A key bound by fingerprint alone carries no material until the first
// import or refresh supplies some.
type Key struct {
	pool        *Pool
	fingerprint string

	// mu serializes merges and stat updates.  It is never held across
	// network I/O.
	mu    sync.Mutex
	tpk   *pgp.TPK
	stats Stats
}

// Fingerprint returns the immutable fingerprint.
func (k *Key) Fingerprint() string { return k.fingerprint }

// TPK returns an independent copy of the stored material, or
// ErrNotFound when only the fingerprint is known so far.
func (k *Key) TPK() (*pgp.TPK, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.tpkLocked()
}

func (k *Key) tpkLocked() (*pgp.TPK, error) {
	if k.tpk == nil {
		return nil, fmt.Errorf("%w: no material for key %s", ErrNotFound, k.fingerprint)
	}
	return k.tpk.Clone()
}

// Stats returns a copy of the usage statistics.
func (k *Key) Stats() Stats {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.stats
}

// Import merges candidate into this key.  Unlike Binding.Import it can
// never rotate: a fingerprint mismatch fails with ErrConflict.
func (k *Key) Import(ctx context.Context, candidate *pgp.TPK) (*pgp.TPK, error) {
	if candidate == nil {
		return nil, fmt.Errorf("%w: nil candidate", ErrInvalidKeyMaterial)
	}
	if candidate.Fingerprint() != k.fingerprint {
		return nil, fmt.Errorf("%w: candidate %s does not match key %s",
			ErrConflict, candidate.Fingerprint(), k.fingerprint)
	}
	if err := k.merge(ctx, candidate); err != nil {
		return nil, err
	}
	return k.TPK()
}

// Log returns the audit entries mentioning this key, oldest first.
func (k *Key) Log(ctx context.Context) (*Cursor[LogEntry], error) {
	return k.pool.audit.Query(ctx, LogFilter{Fingerprint: k.fingerprint})
}

// RecordEncryption notes that this key encrypted a message.
func (k *Key) RecordEncryption(ctx context.Context) error {
	return k.record(ctx, func(s *Stats, now time.Time) { s.Encryption.touch(now) })
}

// RecordVerification notes that a signature by this key verified.
func (k *Key) RecordVerification(ctx context.Context) error {
	return k.record(ctx, func(s *Stats, now time.Time) { s.Verification.touch(now) })
}

func (k *Key) record(ctx context.Context, touch func(*Stats, time.Time)) error {
	k.mu.Lock()
	now := time.Now()
	touch(&k.stats, now)
	k.stats.Updated = now
	k.mu.Unlock()
	return k.persist(ctx)
}

// merge folds candidate into the stored material under the
// per-fingerprint lock and persists the result.
func (k *Key) merge(ctx context.Context, candidate *pgp.TPK) error {
	k.mu.Lock()
	if k.tpk == nil {
		adopted, err := candidate.Clone()
		if err != nil {
			k.mu.Unlock()
			return fmt.Errorf("%w: %v", ErrInvalidKeyMaterial, err)
		}
		adopted.Normalize()
		k.tpk = adopted
	} else {
		if err := k.tpk.Merge(candidate); err != nil {
			k.mu.Unlock()
			return fmt.Errorf("%w: %v", ErrConflict, err)
		}
	}
	k.stats.Updated = time.Now()
	k.mu.Unlock()

	k.pool.reindex(k)
	return k.persist(ctx)
}

// persist writes the key's durable record.
func (k *Key) persist(ctx context.Context) error {
	k.mu.Lock()
	state := &KeyState{
		Fingerprint: k.fingerprint,
		KeyID:       keyIDFromFingerprint(k.fingerprint),
		Stats:       k.stats,
	}
	if k.tpk != nil {
		material, err := k.tpk.Serialize()
		if err != nil {
			k.mu.Unlock()
			return fmt.Errorf("%w: %v", ErrStorage, err)
		}
		state.Material = material
		for _, sk := range k.tpk.SubkeyIDs() {
			state.SubkeyIDs = append(state.SubkeyIDs, fmt.Sprintf("%016X", sk))
		}
	}
	k.mu.Unlock()

	return wrapStorage(k.pool.repo.Save(ctx, state))
}
