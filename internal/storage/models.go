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
	"strings"
	"time"

	"github.com/opentrusty/keyring/internal/core"
	"github.com/opentrusty/keyring/internal/trust"
)

// KeyRecord is the gorm model for a pool key.
type KeyRecord struct {
	Fingerprint string `gorm:"type:char(40);primaryKey"`
	KeyID       string `gorm:"type:char(16);not null;index:idx_keys_key_id"`
	// SubkeyIDs holds the comma-joined subkey ids; relational
	// normalization buys nothing for a column only ever read whole.
	SubkeyIDs string `gorm:"type:text"`
	Material  []byte `gorm:"type:blob"`

	StatsColumns
}

func (KeyRecord) TableName() string { return "pool_keys" }

// StoreRecord is the gorm model for a store.
type StoreRecord struct {
	ID        string    `gorm:"type:char(36);primaryKey"`
	Domain    string    `gorm:"type:varchar(255);not null;uniqueIndex:uk_stores_domain_name;index:idx_stores_domain"`
	Name      string    `gorm:"type:varchar(255);not null;uniqueIndex:uk_stores_domain_name"`
	Policy    uint8     `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
}

func (StoreRecord) TableName() string { return "stores" }

// BindingRecord is the gorm model for a binding.
type BindingRecord struct {
	ID      string `gorm:"type:char(36);primaryKey"`
	StoreID string `gorm:"type:char(36);not null;uniqueIndex:uk_bindings_store_label"`
	Label   string `gorm:"type:varchar(255);not null;uniqueIndex:uk_bindings_store_label"`
	// Fingerprint is empty for bindings not yet bound to a key.
	Fingerprint string `gorm:"type:char(40);index:idx_bindings_fingerprint"`

	StatsColumns
}

func (BindingRecord) TableName() string { return "bindings" }

// LogRecord is the gorm model for one audit entry.
type LogRecord struct {
	ID          string    `gorm:"type:char(36);primaryKey"`
	Seq         uint64    `gorm:"not null;uniqueIndex:uk_log_seq"`
	Timestamp   time.Time `gorm:"not null"`
	StoreID     string    `gorm:"type:char(36);index:idx_log_store"`
	BindingID   string    `gorm:"type:char(36);index:idx_log_binding"`
	Fingerprint string    `gorm:"type:char(40);index:idx_log_fingerprint"`
	Slug        string    `gorm:"type:varchar(512);not null"`
	Status      string    `gorm:"type:varchar(512);not null"`
	Error       string    `gorm:"type:text"`
}

func (LogRecord) TableName() string { return "audit_log" }

// StatsColumns flattens usage statistics into the owning row.  The
// timestamps are domain data, not row bookkeeping, so gorm's automatic
// time tracking is switched off.
type StatsColumns struct {
	CreatedAt   time.Time `gorm:"not null;autoCreateTime:false"`
	UpdatedAt   time.Time `gorm:"not null;autoUpdateTime:false"`
	EncCount    uint64    `gorm:"not null;default:0"`
	EncFirst    *time.Time
	EncLast     *time.Time
	VerifyCount uint64 `gorm:"not null;default:0"`
	VerifyFirst *time.Time
	VerifyLast  *time.Time
}

func statsColumns(s trust.Stats) StatsColumns {
	return StatsColumns{
		CreatedAt:   s.Created,
		UpdatedAt:   s.Updated,
		EncCount:    s.Encryption.Count,
		EncFirst:    optionalTime(s.Encryption.First),
		EncLast:     optionalTime(s.Encryption.Last),
		VerifyCount: s.Verification.Count,
		VerifyFirst: optionalTime(s.Verification.First),
		VerifyLast:  optionalTime(s.Verification.Last),
	}
}

func (c StatsColumns) stats() trust.Stats {
	return trust.Stats{
		Created: c.CreatedAt,
		Updated: c.UpdatedAt,
		Encryption: trust.Stamps{
			Count: c.EncCount,
			First: timeValue(c.EncFirst),
			Last:  timeValue(c.EncLast),
		},
		Verification: trust.Stamps{
			Count: c.VerifyCount,
			First: timeValue(c.VerifyFirst),
			Last:  timeValue(c.VerifyLast),
		},
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeValue(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

func keyRecord(state *trust.KeyState) *KeyRecord {
	return &KeyRecord{
		Fingerprint:  state.Fingerprint,
		KeyID:        state.KeyID,
		SubkeyIDs:    strings.Join(state.SubkeyIDs, ","),
		Material:     state.Material,
		StatsColumns: statsColumns(state.Stats),
	}
}

func (r *KeyRecord) state() *trust.KeyState {
	state := &trust.KeyState{
		Fingerprint: r.Fingerprint,
		KeyID:       r.KeyID,
		Material:    r.Material,
		Stats:       r.stats(),
	}
	if r.SubkeyIDs != "" {
		state.SubkeyIDs = strings.Split(r.SubkeyIDs, ",")
	}
	return state
}

func storeRecord(state *trust.StoreState) *StoreRecord {
	return &StoreRecord{
		ID:        state.ID,
		Domain:    state.Domain,
		Name:      state.Name,
		Policy:    uint8(state.Policy),
		CreatedAt: state.CreatedAt,
	}
}

func (r *StoreRecord) state() *trust.StoreState {
	return &trust.StoreState{
		ID:        r.ID,
		Domain:    r.Domain,
		Name:      r.Name,
		Policy:    core.NetworkPolicy(r.Policy),
		CreatedAt: r.CreatedAt,
	}
}

func bindingRecord(state *trust.BindingState) *BindingRecord {
	return &BindingRecord{
		ID:           state.ID,
		StoreID:      state.StoreID,
		Label:        state.Label,
		Fingerprint:  state.Fingerprint,
		StatsColumns: statsColumns(state.Stats),
	}
}

func (r *BindingRecord) state() *trust.BindingState {
	return &trust.BindingState{
		ID:          r.ID,
		StoreID:     r.StoreID,
		Label:       r.Label,
		Fingerprint: r.Fingerprint,
		Stats:       r.stats(),
	}
}

func logRecord(entry *trust.LogEntry) *LogRecord {
	return &LogRecord{
		ID:          entry.ID,
		Seq:         entry.Seq,
		Timestamp:   entry.Timestamp,
		StoreID:     entry.StoreID,
		BindingID:   entry.BindingID,
		Fingerprint: entry.Fingerprint,
		Slug:        entry.Slug,
		Status:      entry.Status,
		Error:       entry.Error,
	}
}

func (r *LogRecord) entry() trust.LogEntry {
	return trust.LogEntry{
		ID:          r.ID,
		Seq:         r.Seq,
		Timestamp:   r.Timestamp,
		StoreID:     r.StoreID,
		BindingID:   r.BindingID,
		Fingerprint: r.Fingerprint,
		Slug:        r.Slug,
		Status:      r.Status,
		Error:       r.Error,
	}
}
