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

// Package http exposes the trust store over a local REST API.  Key
// material travels as armored OpenPGP blocks; everything else is JSON.
package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/opentrusty/keyring/internal/observability/metrics"
	"github.com/opentrusty/keyring/internal/pgp"
	"github.com/opentrusty/keyring/internal/trust"
)

// maxKeyBody bounds armored uploads.
const maxKeyBody = 1 << 22

// Handler holds HTTP handlers and dependencies
type Handler struct {
	svc *trust.Service
	ins *metrics.Instruments
}

// NewHandler creates a new HTTP handler
func NewHandler(svc *trust.Service, ins *metrics.Instruments) *Handler {
	return &Handler{svc: svc, ins: ins}
}

// NewRouter creates a new HTTP router.  An empty authToken leaves the
// API unauthenticated, which is the expected setup for a loopback-only
// listener.
func NewRouter(h *Handler, rateLimiter *RateLimiter, authToken string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(RateLimitMiddleware(rateLimiter))
	r.Use(func(handler http.Handler) http.Handler {
		return otelhttp.NewHandler(handler, "http_request",
			otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		)
	})
	r.Use(LoggingMiddleware())
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check
	r.Get("/health", h.HealthCheck)

	r.Route("/v1", func(r chi.Router) {
		if authToken != "" {
			r.Use(BearerAuthMiddleware(authToken))
		}

		r.Route("/stores", func(r chi.Router) {
			r.Get("/", h.ListStores)
			r.Post("/", h.CreateStore)

			r.Route("/{store}", func(r chi.Router) {
				r.Delete("/", h.DeleteStore)

				r.Route("/bindings", func(r chi.Router) {
					r.Get("/", h.ListBindings)

					r.Route("/{label}", func(r chi.Router) {
						r.Get("/", h.ExportBinding)
						r.Put("/", h.ImportBinding)
						r.Post("/", h.AddBinding)
						r.Delete("/", h.DeleteBinding)
						r.Post("/rotate", h.RotateBinding)
						r.Get("/stats", h.BindingStats)
						r.Get("/log", h.BindingLog)
					})
				})
			})
		})

		r.Route("/keys", func(r chi.Router) {
			r.Get("/", h.ListKeys)
			r.Post("/purge", h.PurgeOrphans)

			r.Route("/{fingerprint}", func(r chi.Router) {
				r.Get("/", h.ExportKey)
				r.Put("/", h.ImportKey)
				r.Get("/stats", h.KeyStats)
				r.Get("/log", h.KeyLog)
			})
		})

		r.Get("/log", h.ServerLog)
	})

	return r
}

// HealthCheck handles health check requests
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"domain": h.svc.Context().Domain(),
		"policy": h.svc.Context().NetworkPolicy().String(),
	})
}

// respondJSON writes a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// respondError writes an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondArmor writes an armored OpenPGP block.
func respondArmor(w http.ResponseWriter, armored string) {
	w.Header().Set("Content-Type", "application/pgp-keys")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(armored))
}

// readArmoredKey parses an armored key block from a request body.
func readArmoredKey(r *http.Request) (*pgp.TPK, error) {
	tpk, err := pgp.ParseArmored(io.LimitReader(r.Body, maxKeyBody))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", trust.ErrInvalidKeyMaterial, err)
	}
	return tpk, nil
}

// respondTrustError maps domain errors onto HTTP status codes.
func respondTrustError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, trust.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, trust.ErrConflict):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, trust.ErrPolicyMismatch):
		respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, trust.ErrInvalidKeyMaterial):
		respondError(w, http.StatusBadRequest, err.Error())
	default:
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}
