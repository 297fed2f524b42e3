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
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/opentrusty/keyring/internal/pgp"
)

var fingerprintRx = regexp.MustCompile(`^[0-9A-F]{40}$`)

// NormalizeFingerprint canonicalizes a fingerprint to uppercase hex
// without separators.
func NormalizeFingerprint(fp string) (string, error) {
	fp = strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(fp), " ", ""))
	if !fingerprintRx.MatchString(fp) {
		return "", fmt.Errorf("%w: malformed fingerprint %q", ErrInvalidKeyMaterial, fp)
	}
	return fp, nil
}

// keyIDFromFingerprint derives the 64-bit key id of a v4 key from its
// fingerprint: the low 8 octets.
func keyIDFromFingerprint(fp string) string {
	return fp[len(fp)-16:]
}

// Pool is the process-wide key repository.  Every fingerprint maps to
// exactly one Key, no matter how many bindings across how many stores
// reference it.  The maps are guarded by mu; merges into an individual
// key serialize on that key's own lock, so unrelated fingerprints never
// contend.
type Pool struct {
	repo  KeyRepository
	audit *AuditLog

	mu            sync.RWMutex
	byFingerprint map[string]*Key
	byKeyID       map[string]map[string]struct{}
	bySubkeyID    map[string]map[string]struct{}
}

// NewPool creates an empty pool.
func NewPool(repo KeyRepository, audit *AuditLog) *Pool {
	return &Pool{
		repo:          repo,
		audit:         audit,
		byFingerprint: make(map[string]*Key),
		byKeyID:       make(map[string]map[string]struct{}),
		bySubkeyID:    make(map[string]map[string]struct{}),
	}
}

// load rebuilds the pool from persisted state.
func (p *Pool) load(ctx context.Context) error {
	states, err := p.repo.List(ctx)
	if err != nil {
		return wrapStorage(err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, state := range states {
		key := &Key{pool: p, fingerprint: state.Fingerprint, stats: state.Stats}
		if len(state.Material) > 0 {
			tpk, err := pgp.Parse(state.Material)
			if err != nil {
				return fmt.Errorf("%w: key %s: %v", ErrStorage, state.Fingerprint, err)
			}
			key.tpk = tpk
		}
		p.byFingerprint[state.Fingerprint] = key
		p.indexLocked(key)
	}
	return nil
}

// GetOrCreate returns the canonical Key for fingerprint, creating it if
// unseen.  When tpk is non-nil its material is merged into the key;
// repeated calls with the same material are idempotent.
func (p *Pool) GetOrCreate(ctx context.Context, fingerprint string, tpk *pgp.TPK) (*Key, error) {
	fingerprint, err := NormalizeFingerprint(fingerprint)
	if err != nil {
		return nil, err
	}
	if tpk != nil && tpk.Fingerprint() != fingerprint {
		return nil, fmt.Errorf("%w: material fingerprint %s does not match %s",
			ErrInvalidKeyMaterial, tpk.Fingerprint(), fingerprint)
	}

	p.mu.RLock()
	key, ok := p.byFingerprint[fingerprint]
	p.mu.RUnlock()

	if !ok {
		p.mu.Lock()
		key, ok = p.byFingerprint[fingerprint]
		if !ok {
			key = &Key{pool: p, fingerprint: fingerprint, stats: newStats(time.Now())}
			p.byFingerprint[fingerprint] = key
			p.indexLocked(key)
		}
		p.mu.Unlock()
		if !ok {
			if err := key.persist(ctx); err != nil {
				return nil, err
			}
			p.audit.Append(ctx, LogEntry{
				Fingerprint: fingerprint,
				Slug:        keySlug(fingerprint),
				Status:      "key created",
			})
		}
	}

	if tpk != nil {
		if err := key.merge(ctx, tpk); err != nil {
			return nil, err
		}
	}
	return key, nil
}

// LookupByFingerprint returns the key with the given fingerprint.
func (p *Pool) LookupByFingerprint(fingerprint string) (*Key, error) {
	fingerprint, err := NormalizeFingerprint(fingerprint)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	key, ok := p.byFingerprint[fingerprint]
	if !ok {
		return nil, fmt.Errorf("%w: key %s", ErrNotFound, fingerprint)
	}
	return key, nil
}

// LookupByKeyID returns the keys whose primary key id matches.  Key ids
// are short and may collide; zero or more keys match.
func (p *Pool) LookupByKeyID(keyID uint64) []*Key {
	return p.lookupIndex(p.byKeyID, keyID)
}

// LookupBySubkeyID returns the keys carrying a subkey with the given
// id.
func (p *Pool) LookupBySubkeyID(keyID uint64) []*Key {
	return p.lookupIndex(p.bySubkeyID, keyID)
}

func (p *Pool) lookupIndex(index map[string]map[string]struct{}, keyID uint64) []*Key {
	id := fmt.Sprintf("%016X", keyID)
	p.mu.RLock()
	defer p.mu.RUnlock()
	fps := make([]string, 0, len(index[id]))
	for fp := range index[id] {
		fps = append(fps, fp)
	}
	sort.Strings(fps)
	keys := make([]*Key, 0, len(fps))
	for _, fp := range fps {
		keys = append(keys, p.byFingerprint[fp])
	}
	return keys
}

// List returns all pool keys, ordered by fingerprint.
func (p *Pool) List() *Cursor[*Key] {
	p.mu.RLock()
	keys := make([]*Key, 0, len(p.byFingerprint))
	for _, key := range p.byFingerprint {
		keys = append(keys, key)
	}
	p.mu.RUnlock()
	sort.Slice(keys, func(i, j int) bool { return keys[i].fingerprint < keys[j].fingerprint })
	return CursorFromSlice(keys)
}

// remove drops a key from the pool and its durable record.  Callers
// must have established that no binding references it.
func (p *Pool) remove(ctx context.Context, key *Key) error {
	if err := p.repo.Delete(ctx, key.fingerprint); err != nil {
		return wrapStorage(err)
	}
	p.mu.Lock()
	delete(p.byFingerprint, key.fingerprint)
	for _, set := range p.byKeyID {
		delete(set, key.fingerprint)
	}
	for _, set := range p.bySubkeyID {
		delete(set, key.fingerprint)
	}
	p.mu.Unlock()
	return nil
}

// indexLocked records key in the secondary indices.  Callers hold mu.
func (p *Pool) indexLocked(key *Key) {
	addTo := func(index map[string]map[string]struct{}, id string) {
		set, ok := index[id]
		if !ok {
			set = make(map[string]struct{})
			index[id] = set
		}
		set[key.fingerprint] = struct{}{}
	}

	addTo(p.byKeyID, keyIDFromFingerprint(key.fingerprint))
	if key.tpk != nil {
		for _, sk := range key.tpk.SubkeyIDs() {
			addTo(p.bySubkeyID, fmt.Sprintf("%016X", sk))
		}
	}
}

// reindex refreshes the secondary indices after a merge changed key's
// subkey set.
func (p *Pool) reindex(key *Key) {
	p.mu.Lock()
	p.indexLocked(key)
	p.mu.Unlock()
}

func keySlug(fingerprint string) string {
	return "key " + keyIDFromFingerprint(fingerprint)
}
