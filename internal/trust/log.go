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
	"log/slog"
	"sync"
	"time"

	"github.com/opentrusty/keyring/internal/id"
)

// LogEntry is one audit record.  The store, binding and key references
// are identifiers, not handles: an entry outlives the object it
// mentions.  An empty reference or error means absent.
type LogEntry struct {
	ID        string
	Seq       uint64
	Timestamp time.Time

	StoreID     string
	BindingID   string
	Fingerprint string

	// Slug is a human-readable description of the entry's subject,
	// e.g. "binding org.example.mua/contacts/alice".
	Slug string

	// Status holds the log message.
	Status string

	// Error holds the failure message for entries recording a failed
	// operation.
	Error string
}

// LogFilter scopes a log query.  Zero fields do not constrain.
type LogFilter struct {
	StoreID     string
	BindingID   string
	Fingerprint string
}

// AuditLog is the append-only event record.  Appends are serialized so
// that sequence numbers and timestamps are monotonic per process; every
// append is mirrored to slog for operators following along live.
type AuditLog struct {
	repo LogRepository

	mu     sync.Mutex
	seq    uint64
	lastTS time.Time
	clock  func() time.Time
}

// NewAuditLog creates the audit log, continuing the sequence after
// lastSeq (the highest sequence number already persisted).
func NewAuditLog(repo LogRepository, lastSeq uint64) *AuditLog {
	return &AuditLog{repo: repo, seq: lastSeq, clock: time.Now}
}

// Append assigns identity, sequence and a monotonic timestamp to e and
// persists it.  It fails only on unrecoverable storage failure.
func (l *AuditLog) Append(ctx context.Context, e LogEntry) error {
	l.mu.Lock()
	now := l.clock()
	if now.Before(l.lastTS) {
		now = l.lastTS
	}
	l.lastTS = now
	l.seq++
	e.Seq = l.seq
	e.Timestamp = now
	e.ID = id.NewUUIDv7()
	l.mu.Unlock()

	l.mirror(ctx, e)

	if err := l.repo.Append(ctx, &e); err != nil {
		slog.ErrorContext(ctx, "audit append failed",
			slog.String("slug", e.Slug), slog.String("error", err.Error()))
		return wrapStorage(err)
	}
	return nil
}

// Query returns entries matching filter, oldest first.
func (l *AuditLog) Query(ctx context.Context, filter LogFilter) (*Cursor[LogEntry], error) {
	cur, err := l.repo.Query(ctx, filter)
	if err != nil {
		return nil, wrapStorage(err)
	}
	return cur, nil
}

// mirror emits the entry as a structured log event.
func (l *AuditLog) mirror(ctx context.Context, e LogEntry) {
	attrs := []any{
		slog.String("component", "audit"),
		slog.Uint64("seq", e.Seq),
		slog.String("slug", e.Slug),
		slog.String("status", e.Status),
	}
	if e.StoreID != "" {
		attrs = append(attrs, slog.String("store_id", e.StoreID))
	}
	if e.BindingID != "" {
		attrs = append(attrs, slog.String("binding_id", e.BindingID))
	}
	if e.Fingerprint != "" {
		attrs = append(attrs, slog.String("fingerprint", e.Fingerprint))
	}
	if e.Error != "" {
		attrs = append(attrs, slog.String("error", e.Error))
		slog.WarnContext(ctx, "AUDIT_EVENT", attrs...)
		return
	}
	slog.InfoContext(ctx, "AUDIT_EVENT", attrs...)
}
