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
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opentrusty/keyring/internal/observability/logger"
	"github.com/opentrusty/keyring/internal/trust"
)

// BindingResponse describes a label to key assignment.
type BindingResponse struct {
	Label string `json:"label"`
	// Fingerprint is empty for a binding created by fingerprint whose
	// key has no material yet.
	Fingerprint string `json:"fingerprint,omitempty"`
}

// AddBindingRequest binds a label to a fingerprint without material.
type AddBindingRequest struct {
	Fingerprint string `json:"fingerprint"`
}

// ListBindings handles GET /v1/stores/{store}/bindings
func (h *Handler) ListBindings(w http.ResponseWriter, r *http.Request) {
	st, err := h.openStore(w, r)
	if err != nil {
		return
	}
	bindings, err := trust.Collect(st.Bindings())
	if err != nil {
		slog.ErrorContext(r.Context(), "list bindings failed",
			logger.StoreName(st.Name()), logger.Error(err))
		respondTrustError(w, err)
		return
	}

	out := make([]BindingResponse, 0, len(bindings))
	for _, b := range bindings {
		out = append(out, BindingResponse{Label: b.Label(), Fingerprint: b.Fingerprint()})
	}
	respondJSON(w, http.StatusOK, out)
}

// ExportBinding handles GET /v1/stores/{store}/bindings/{label}
func (h *Handler) ExportBinding(w http.ResponseWriter, r *http.Request) {
	b, ok := h.lookupBinding(w, r)
	if !ok {
		return
	}
	tpk, err := b.TPK()
	if err != nil {
		respondTrustError(w, err)
		return
	}
	armored, err := tpk.Armor()
	if err != nil {
		slog.ErrorContext(r.Context(), "armor failed",
			logger.Fingerprint(tpk.Fingerprint()), logger.Error(err))
		respondTrustError(w, err)
		return
	}
	respondArmor(w, armored)
}

// ImportBinding handles PUT /v1/stores/{store}/bindings/{label}.
// The body is an armored key; the binding's conflict rules decide
// whether it is adopted, merged, or rejected.
func (h *Handler) ImportBinding(w http.ResponseWriter, r *http.Request) {
	st, err := h.openStore(w, r)
	if err != nil {
		return
	}
	label := chi.URLParam(r, "label")

	candidate, err := readArmoredKey(r)
	if err != nil {
		respondTrustError(w, err)
		return
	}

	h.ins.AddImport(r.Context())
	accepted, err := st.Import(r.Context(), label, candidate)
	if err != nil {
		if errors.Is(err, trust.ErrConflict) {
			h.ins.AddConflict(r.Context())
		}
		respondTrustError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, BindingResponse{
		Label:       label,
		Fingerprint: accepted.Fingerprint(),
	})
}

// AddBinding handles POST /v1/stores/{store}/bindings/{label}.  It
// assigns a fingerprint to the label without supplying material.
func (h *Handler) AddBinding(w http.ResponseWriter, r *http.Request) {
	st, err := h.openStore(w, r)
	if err != nil {
		return
	}
	label := chi.URLParam(r, "label")

	var req AddBindingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Fingerprint == "" {
		respondError(w, http.StatusBadRequest, "fingerprint is required")
		return
	}

	b, err := st.Add(r.Context(), label, req.Fingerprint)
	if err != nil {
		respondTrustError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, BindingResponse{
		Label:       b.Label(),
		Fingerprint: b.Fingerprint(),
	})
}

// RotateBinding handles POST /v1/stores/{store}/bindings/{label}/rotate.
// Unlike import, rotation replaces the bound key without demanding a
// signature from the incumbent.  The caller has decided; the audit log
// remembers.
func (h *Handler) RotateBinding(w http.ResponseWriter, r *http.Request) {
	b, ok := h.lookupBinding(w, r)
	if !ok {
		return
	}
	candidate, err := readArmoredKey(r)
	if err != nil {
		respondTrustError(w, err)
		return
	}

	accepted, err := b.Rotate(r.Context(), candidate)
	if err != nil {
		respondTrustError(w, err)
		return
	}
	h.ins.AddRotation(r.Context())
	respondJSON(w, http.StatusOK, BindingResponse{
		Label:       b.Label(),
		Fingerprint: accepted.Fingerprint(),
	})
}

// DeleteBinding handles DELETE /v1/stores/{store}/bindings/{label}
func (h *Handler) DeleteBinding(w http.ResponseWriter, r *http.Request) {
	b, ok := h.lookupBinding(w, r)
	if !ok {
		return
	}
	if err := b.Delete(r.Context()); err != nil {
		slog.ErrorContext(r.Context(), "delete binding failed",
			logger.Label(b.Label()), logger.Error(err))
		respondTrustError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// BindingStats handles GET /v1/stores/{store}/bindings/{label}/stats
func (h *Handler) BindingStats(w http.ResponseWriter, r *http.Request) {
	b, ok := h.lookupBinding(w, r)
	if !ok {
		return
	}
	stats, err := b.Stats()
	if err != nil {
		respondTrustError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, statsResponse(stats))
}

// BindingLog handles GET /v1/stores/{store}/bindings/{label}/log
func (h *Handler) BindingLog(w http.ResponseWriter, r *http.Request) {
	b, ok := h.lookupBinding(w, r)
	if !ok {
		return
	}
	cur, err := b.Log(r.Context())
	if err != nil {
		respondTrustError(w, err)
		return
	}
	h.respondLog(w, r, cur)
}

// lookupBinding resolves {store} and {label}, writing the error
// response on failure.
func (h *Handler) lookupBinding(w http.ResponseWriter, r *http.Request) (*trust.Binding, bool) {
	st, err := h.openStore(w, r)
	if err != nil {
		return nil, false
	}
	b, err := st.Lookup(chi.URLParam(r, "label"))
	if err != nil {
		respondTrustError(w, err)
		return nil, false
	}
	return b, true
}
