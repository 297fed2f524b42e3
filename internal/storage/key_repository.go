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
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/opentrusty/keyring/internal/trust"
)

// KeyRepository implements trust.KeyRepository.
type KeyRepository struct {
	db *gorm.DB
}

// NewKeyRepository creates a new key repository.
func NewKeyRepository(db *gorm.DB) *KeyRepository {
	return &KeyRepository{db: db}
}

// Save upserts the key row keyed by fingerprint.
func (r *KeyRepository) Save(ctx context.Context, key *trust.KeyState) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "fingerprint"}},
			UpdateAll: true,
		}).
		Create(keyRecord(key)).Error
	if err != nil {
		return fmt.Errorf("failed to save key %s: %w", key.Fingerprint, err)
	}
	return nil
}

// List returns all persisted keys.
func (r *KeyRepository) List(ctx context.Context) ([]*trust.KeyState, error) {
	var records []KeyRecord
	if err := r.db.WithContext(ctx).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	states := make([]*trust.KeyState, 0, len(records))
	for i := range records {
		states = append(states, records[i].state())
	}
	return states, nil
}

// Delete removes the key row.
func (r *KeyRepository) Delete(ctx context.Context, fingerprint string) error {
	err := r.db.WithContext(ctx).
		Delete(&KeyRecord{}, "fingerprint = ?", fingerprint).Error
	if err != nil {
		return fmt.Errorf("failed to delete key %s: %w", fingerprint, err)
	}
	return nil
}
