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

	"github.com/opentrusty/keyring/internal/trust"
)

// LogRepository implements trust.LogRepository.  The audit log is
// append-only; nothing here updates or deletes.
type LogRepository struct {
	db *gorm.DB
}

// NewLogRepository creates a new log repository.
func NewLogRepository(db *gorm.DB) *LogRepository {
	return &LogRepository{db: db}
}

// Append inserts one entry.
func (r *LogRepository) Append(ctx context.Context, entry *trust.LogEntry) error {
	if err := r.db.WithContext(ctx).Create(logRecord(entry)).Error; err != nil {
		return fmt.Errorf("failed to append log entry %d: %w", entry.Seq, err)
	}
	return nil
}

// LastSeq returns the highest persisted sequence number, zero for an
// empty log.
func (r *LogRepository) LastSeq(ctx context.Context) (uint64, error) {
	var seq *uint64
	err := r.db.WithContext(ctx).
		Model(&LogRecord{}).
		Select("MAX(seq)").
		Scan(&seq).Error
	if err != nil {
		return 0, fmt.Errorf("failed to read last log sequence: %w", err)
	}
	if seq == nil {
		return 0, nil
	}
	return *seq, nil
}

// Query streams matching entries ordered by sequence number.  The
// cursor holds a live result set; callers must drain or close it.
func (r *LogRepository) Query(ctx context.Context, filter trust.LogFilter) (*trust.Cursor[trust.LogEntry], error) {
	q := r.db.WithContext(ctx).Model(&LogRecord{}).Order("seq")
	if filter.StoreID != "" {
		q = q.Where("store_id = ?", filter.StoreID)
	}
	if filter.BindingID != "" {
		q = q.Where("binding_id = ?", filter.BindingID)
	}
	if filter.Fingerprint != "" {
		q = q.Where("fingerprint = ?", filter.Fingerprint)
	}

	rows, err := q.Rows()
	if err != nil {
		return nil, fmt.Errorf("failed to query log: %w", err)
	}

	next := func() (trust.LogEntry, bool, error) {
		if !rows.Next() {
			return trust.LogEntry{}, false, rows.Err()
		}
		var record LogRecord
		if err := r.db.ScanRows(rows, &record); err != nil {
			return trust.LogEntry{}, false, fmt.Errorf("failed to scan log entry: %w", err)
		}
		return record.entry(), true, nil
	}
	return trust.NewCursor(next, rows.Close), nil
}
