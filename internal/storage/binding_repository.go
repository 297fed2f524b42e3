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

// BindingRepository implements trust.BindingRepository.
type BindingRepository struct {
	db *gorm.DB
}

// NewBindingRepository creates a new binding repository.
func NewBindingRepository(db *gorm.DB) *BindingRepository {
	return &BindingRepository{db: db}
}

// Save upserts the binding row.
func (r *BindingRepository) Save(ctx context.Context, binding *trust.BindingState) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(bindingRecord(binding)).Error
	if err != nil {
		return fmt.Errorf("failed to save binding %s: %w", binding.ID, err)
	}
	return nil
}

// ListByStore returns the bindings of one store.
func (r *BindingRepository) ListByStore(ctx context.Context, storeID string) ([]*trust.BindingState, error) {
	var records []BindingRecord
	err := r.db.WithContext(ctx).
		Where("store_id = ?", storeID).
		Order("label").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list bindings of store %s: %w", storeID, err)
	}
	states := make([]*trust.BindingState, 0, len(records))
	for i := range records {
		states = append(states, records[i].state())
	}
	return states, nil
}

// Delete removes the binding row.
func (r *BindingRepository) Delete(ctx context.Context, bindingID string) error {
	err := r.db.WithContext(ctx).
		Delete(&BindingRecord{}, "id = ?", bindingID).Error
	if err != nil {
		return fmt.Errorf("failed to delete binding %s: %w", bindingID, err)
	}
	return nil
}

// CountByFingerprint counts bindings referencing a key across all
// stores.  Orphan collection uses it to decide what may go.
func (r *BindingRepository) CountByFingerprint(ctx context.Context, fingerprint string) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&BindingRecord{}).
		Where("fingerprint = ?", fingerprint).
		Count(&count).Error
	if err != nil {
		return 0, fmt.Errorf("failed to count bindings of key %s: %w", fingerprint, err)
	}
	return count, nil
}
