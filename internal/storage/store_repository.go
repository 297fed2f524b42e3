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
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/opentrusty/keyring/internal/trust"
)

// StoreRepository implements trust.StoreRepository.
type StoreRepository struct {
	db *gorm.DB
}

// NewStoreRepository creates a new store repository.
func NewStoreRepository(db *gorm.DB) *StoreRepository {
	return &StoreRepository{db: db}
}

// Save upserts the store row.
func (r *StoreRepository) Save(ctx context.Context, store *trust.StoreState) error {
	err := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			UpdateAll: true,
		}).
		Create(storeRecord(store)).Error
	if err != nil {
		return fmt.Errorf("failed to save store %s/%s: %w", store.Domain, store.Name, err)
	}
	return nil
}

// Get returns the store with the given domain and name, or
// trust.ErrNotFound.
func (r *StoreRepository) Get(ctx context.Context, domain, name string) (*trust.StoreState, error) {
	var record StoreRecord
	err := r.db.WithContext(ctx).
		Where("domain = ? AND name = ?", domain, name).
		First(&record).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: store %s/%s", trust.ErrNotFound, domain, name)
		}
		return nil, fmt.Errorf("failed to get store %s/%s: %w", domain, name, err)
	}
	return record.state(), nil
}

// List returns stores whose domain starts with domainPrefix.
func (r *StoreRepository) List(ctx context.Context, domainPrefix string) ([]*trust.StoreState, error) {
	var records []StoreRecord
	q := r.db.WithContext(ctx).Order("domain, name")
	if domainPrefix != "" {
		q = q.Where("domain LIKE ?", likePrefix(domainPrefix))
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}
	states := make([]*trust.StoreState, 0, len(records))
	for i := range records {
		states = append(states, records[i].state())
	}
	return states, nil
}

// Delete removes the store row.  Binding rows are removed separately by
// the domain layer, which walks them for auditing.
func (r *StoreRepository) Delete(ctx context.Context, storeID string) error {
	err := r.db.WithContext(ctx).
		Delete(&StoreRecord{}, "id = ?", storeID).Error
	if err != nil {
		return fmt.Errorf("failed to delete store %s: %w", storeID, err)
	}
	return nil
}

// likePrefix escapes the LIKE metacharacters of a literal prefix.
func likePrefix(prefix string) string {
	escaped := make([]byte, 0, len(prefix)+4)
	for i := 0; i < len(prefix); i++ {
		switch prefix[i] {
		case '%', '_', '\\':
			escaped = append(escaped, '\\')
		}
		escaped = append(escaped, prefix[i])
	}
	return string(escaped) + "%"
}
