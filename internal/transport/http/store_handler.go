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
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opentrusty/keyring/internal/observability/logger"
	"github.com/opentrusty/keyring/internal/trust"
)

// StoreResponse describes one named store.
type StoreResponse struct {
	Domain string `json:"domain"`
	Name   string `json:"name"`
	Policy string `json:"policy"`
}

// CreateStoreRequest asks for a store to be created or opened.
type CreateStoreRequest struct {
	Name string `json:"name"`
	// Policy is optional; when set it must match the server's
	// configured network policy.
	Policy string `json:"policy,omitempty"`
}

// ListStores handles GET /v1/stores
func (h *Handler) ListStores(w http.ResponseWriter, r *http.Request) {
	cur, err := h.svc.ListStores(r.Context(), r.URL.Query().Get("prefix"))
	if err != nil {
		slog.ErrorContext(r.Context(), "list stores failed", logger.Error(err))
		respondTrustError(w, err)
		return
	}
	infos, err := trust.Collect(cur)
	if err != nil {
		slog.ErrorContext(r.Context(), "list stores failed", logger.Error(err))
		respondTrustError(w, err)
		return
	}

	out := make([]StoreResponse, 0, len(infos))
	for _, info := range infos {
		out = append(out, StoreResponse{
			Domain: info.Domain,
			Name:   info.Name,
			Policy: info.Policy.String(),
		})
	}
	respondJSON(w, http.StatusOK, out)
}

// CreateStore handles POST /v1/stores
func (h *Handler) CreateStore(w http.ResponseWriter, r *http.Request) {
	var req CreateStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Policy != "" && req.Policy != h.svc.Context().NetworkPolicy().String() {
		respondError(w, http.StatusConflict, "requested policy does not match the server policy "+
			h.svc.Context().NetworkPolicy().String())
		return
	}

	st, err := h.svc.OpenStore(r.Context(), req.Name)
	if err != nil {
		slog.ErrorContext(r.Context(), "open store failed",
			logger.StoreName(req.Name), logger.Error(err))
		respondTrustError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, StoreResponse{
		Domain: st.Domain(),
		Name:   st.Name(),
		Policy: st.Policy().String(),
	})
}

// DeleteStore handles DELETE /v1/stores/{store}
func (h *Handler) DeleteStore(w http.ResponseWriter, r *http.Request) {
	st, err := h.openStore(w, r)
	if err != nil {
		return
	}
	if err := st.Delete(r.Context()); err != nil {
		slog.ErrorContext(r.Context(), "delete store failed",
			logger.StoreName(st.Name()), logger.Error(err))
		respondTrustError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// openStore resolves the {store} URL parameter.  Only POST /v1/stores
// creates; everything else wants an existing store.  The helper writes
// the error response itself so handlers can simply return on failure.
func (h *Handler) openStore(w http.ResponseWriter, r *http.Request) (*trust.Store, error) {
	name := chi.URLParam(r, "store")
	st, err := h.svc.LookupStore(r.Context(), name)
	if err != nil {
		respondTrustError(w, err)
		return nil, err
	}
	return st, nil
}
