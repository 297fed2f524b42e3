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

package http

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/opentrusty/keyring/internal/observability/logger"
	"github.com/opentrusty/keyring/internal/trust"
)

// KeyResponse describes one pooled key.
type KeyResponse struct {
	Fingerprint string `json:"fingerprint"`
}

// StampsResponse reports usage counts for one operation kind.
type StampsResponse struct {
	Count uint64     `json:"count"`
	First *time.Time `json:"first,omitempty"`
	Last  *time.Time `json:"last,omitempty"`
}

// StatsResponse reports a key's or binding's usage record.
type StatsResponse struct {
	Created      time.Time      `json:"created"`
	Updated      time.Time      `json:"updated"`
	Encryption   StampsResponse `json:"encryption"`
	Verification StampsResponse `json:"verification"`
}

// LogEntryResponse is one audit log line.
type LogEntryResponse struct {
	Seq         uint64    `json:"seq"`
	Timestamp   time.Time `json:"timestamp"`
	Slug        string    `json:"slug"`
	Status      string    `json:"status"`
	Error       string    `json:"error,omitempty"`
	Fingerprint string    `json:"fingerprint,omitempty"`
}

// ListKeys handles GET /v1/keys.  The keyid and subkeyid query
// parameters narrow the listing; key ids are 16 hex digits and may
// match several keys.
func (h *Handler) ListKeys(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var keys []*trust.Key
	switch {
	case q.Get("keyid") != "":
		id, err := parseKeyID(q.Get("keyid"))
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid keyid")
			return
		}
		keys = h.svc.LookupByKeyID(id)
	case q.Get("subkeyid") != "":
		id, err := parseKeyID(q.Get("subkeyid"))
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid subkeyid")
			return
		}
		keys = h.svc.LookupBySubkeyID(id)
	default:
		var err error
		keys, err = trust.Collect(h.svc.ListKeys())
		if err != nil {
			slog.ErrorContext(r.Context(), "list keys failed", logger.Error(err))
			respondTrustError(w, err)
			return
		}
	}

	out := make([]KeyResponse, 0, len(keys))
	for _, k := range keys {
		out = append(out, KeyResponse{Fingerprint: k.Fingerprint()})
	}
	respondJSON(w, http.StatusOK, out)
}

// ExportKey handles GET /v1/keys/{fingerprint}
func (h *Handler) ExportKey(w http.ResponseWriter, r *http.Request) {
	k, ok := h.lookupKey(w, r)
	if !ok {
		return
	}
	tpk, err := k.TPK()
	if err != nil {
		respondTrustError(w, err)
		return
	}
	armored, err := tpk.Armor()
	if err != nil {
		slog.ErrorContext(r.Context(), "armor failed",
			logger.Fingerprint(k.Fingerprint()), logger.Error(err))
		respondTrustError(w, err)
		return
	}
	respondArmor(w, armored)
}

// ImportKey handles PUT /v1/keys/{fingerprint}.  The armored body must
// carry the fingerprint named in the path; material merges into the
// pool without touching any binding.
func (h *Handler) ImportKey(w http.ResponseWriter, r *http.Request) {
	fingerprint, err := trust.NormalizeFingerprint(chi.URLParam(r, "fingerprint"))
	if err != nil {
		respondTrustError(w, err)
		return
	}

	candidate, err := readArmoredKey(r)
	if err != nil {
		respondTrustError(w, err)
		return
	}
	if candidate.Fingerprint() != fingerprint {
		respondTrustError(w, fmt.Errorf("%w: candidate %s does not match key %s",
			trust.ErrConflict, candidate.Fingerprint(), fingerprint))
		return
	}

	h.ins.AddImport(r.Context())
	k, err := h.svc.Pool().GetOrCreate(r.Context(), fingerprint, nil)
	if err != nil {
		respondTrustError(w, err)
		return
	}
	if _, err := k.Import(r.Context(), candidate); err != nil {
		respondTrustError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, KeyResponse{Fingerprint: k.Fingerprint()})
}

// PurgeOrphans handles POST /v1/keys/purge.  It removes pooled keys no
// binding references anymore.
func (h *Handler) PurgeOrphans(w http.ResponseWriter, r *http.Request) {
	purged, err := h.svc.PurgeOrphans(r.Context())
	if err != nil {
		slog.ErrorContext(r.Context(), "purge failed", logger.Error(err))
		respondTrustError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]int{"purged": purged})
}

// KeyStats handles GET /v1/keys/{fingerprint}/stats
func (h *Handler) KeyStats(w http.ResponseWriter, r *http.Request) {
	k, ok := h.lookupKey(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, statsResponse(k.Stats()))
}

// KeyLog handles GET /v1/keys/{fingerprint}/log
func (h *Handler) KeyLog(w http.ResponseWriter, r *http.Request) {
	k, ok := h.lookupKey(w, r)
	if !ok {
		return
	}
	cur, err := k.Log(r.Context())
	if err != nil {
		respondTrustError(w, err)
		return
	}
	h.respondLog(w, r, cur)
}

// ServerLog handles GET /v1/log
func (h *Handler) ServerLog(w http.ResponseWriter, r *http.Request) {
	cur, err := h.svc.ServerLog(r.Context())
	if err != nil {
		respondTrustError(w, err)
		return
	}
	h.respondLog(w, r, cur)
}

func (h *Handler) lookupKey(w http.ResponseWriter, r *http.Request) (*trust.Key, bool) {
	k, err := h.svc.LookupByFingerprint(chi.URLParam(r, "fingerprint"))
	if err != nil {
		respondTrustError(w, err)
		return nil, false
	}
	return k, true
}

func (h *Handler) respondLog(w http.ResponseWriter, r *http.Request, cur *trust.Cursor[trust.LogEntry]) {
	entries, err := trust.Collect(cur)
	if err != nil {
		slog.ErrorContext(r.Context(), "log query failed", logger.Error(err))
		respondTrustError(w, err)
		return
	}
	out := make([]LogEntryResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, LogEntryResponse{
			Seq:         e.Seq,
			Timestamp:   e.Timestamp,
			Slug:        e.Slug,
			Status:      e.Status,
			Error:       e.Error,
			Fingerprint: e.Fingerprint,
		})
	}
	respondJSON(w, http.StatusOK, out)
}

func statsResponse(s trust.Stats) StatsResponse {
	return StatsResponse{
		Created:      s.Created,
		Updated:      s.Updated,
		Encryption:   stampsResponse(s.Encryption),
		Verification: stampsResponse(s.Verification),
	}
}

func stampsResponse(s trust.Stamps) StampsResponse {
	out := StampsResponse{Count: s.Count}
	if !s.First.IsZero() {
		first := s.First
		out.First = &first
	}
	if !s.Last.IsZero() {
		last := s.Last
		out.Last = &last
	}
	return out
}

// parseKeyID accepts a 16 digit hex key id, with or without a leading
// "0x".
func parseKeyID(s string) (uint64, error) {
	s = strings.TrimPrefix(strings.ToLower(s), "0x")
	if s == "" {
		return 0, errors.New("empty key id")
	}
	return strconv.ParseUint(s, 16, 64)
}
